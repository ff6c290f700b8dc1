package db

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	models "github.com/glkeru/loyalty/fuel/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Документ правила в Mongo. Дробные значения храним строками, чтобы не терять точность.
type ruleDocument struct {
	ID                     string    `bson:"id"`
	Name                   string    `bson:"rule_name"`
	LitersPerPoint         string    `bson:"liters_per_point"`
	PointsPerRupeeDiscount string    `bson:"points_per_rupee_discount"`
	MaxDiscountPercentage  string    `bson:"max_discount_percentage"`
	MinPointsForRedemption int64     `bson:"min_points_for_redemption"`
	Active                 bool      `bson:"is_active"`
	CreatedAt              time.Time `bson:"created_at"`
	UpdatedAt              time.Time `bson:"updated_at"`
}

func toDocument(r models.LoyaltyRule) ruleDocument {
	return ruleDocument{
		ID:                     r.ID.String(),
		Name:                   r.Name,
		LitersPerPoint:         r.LitersPerPoint.String(),
		PointsPerRupeeDiscount: r.PointsPerRupeeDiscount.String(),
		MaxDiscountPercentage:  r.MaxDiscountPercentage.String(),
		MinPointsForRedemption: r.MinPointsForRedemption,
		Active:                 r.Active,
		CreatedAt:              r.CreatedAt,
		UpdatedAt:              r.UpdatedAt,
	}
}

func (d ruleDocument) toRule() (rule models.LoyaltyRule, err error) {
	rule.ID, err = uuid.Parse(d.ID)
	if err != nil {
		return rule, errors.Wrapf(models.ErrInvalidRule, "rule id %q", d.ID)
	}
	rule.LitersPerPoint, err = decimal.NewFromString(d.LitersPerPoint)
	if err != nil {
		return rule, errors.Wrapf(models.ErrInvalidRule, "liters_per_point %q", d.LitersPerPoint)
	}
	rule.PointsPerRupeeDiscount, err = decimal.NewFromString(d.PointsPerRupeeDiscount)
	if err != nil {
		return rule, errors.Wrapf(models.ErrInvalidRule, "points_per_rupee_discount %q", d.PointsPerRupeeDiscount)
	}
	rule.MaxDiscountPercentage, err = decimal.NewFromString(d.MaxDiscountPercentage)
	if err != nil {
		return rule, errors.Wrapf(models.ErrInvalidRule, "max_discount_percentage %q", d.MaxDiscountPercentage)
	}
	rule.Name = d.Name
	rule.MinPointsForRedemption = d.MinPointsForRedemption
	rule.Active = d.Active
	rule.CreatedAt = d.CreatedAt
	rule.UpdatedAt = d.UpdatedAt
	return rule, nil
}

// Правила лояльности в Mongo
type RulesDB struct {
	mgo  *mongo.Client
	coll *mongo.Collection
}

func NewRulesDB(ctx context.Context, uri string, database string) (*RulesDB, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	err = client.Ping(ctx, nil)
	if err != nil {
		return nil, err
	}
	coll := client.Database(database).Collection("loyalty_rules")

	return &RulesDB{client, coll}, nil
}

func (r *RulesDB) Close(ctx context.Context) error {
	return r.mgo.Disconnect(ctx)
}

// Активное правило. Если активных несколько (гонка при сохранении) - последнее измененное.
func (r *RulesDB) GetActiveRule(ctx context.Context) (models.LoyaltyRule, error) {
	var doc ruleDocument
	opts := options.FindOne().SetSort(bson.D{{Key: "updated_at", Value: -1}})
	err := r.coll.FindOne(ctx, bson.M{"is_active": true}, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.LoyaltyRule{}, models.ErrRuleNotConfigured
		}
		return models.LoyaltyRule{}, models.Persistence(err, "get active rule")
	}
	return doc.toRule()
}

func (r *RulesDB) GetAllRules(ctx context.Context) ([]models.LoyaltyRule, error) {
	var rules []models.LoyaltyRule
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	result, err := r.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, models.Persistence(err, "get rules")
	}
	defer result.Close(ctx)

	for result.Next(ctx) {
		var doc ruleDocument
		err := result.Decode(&doc)
		if err != nil {
			return nil, models.Persistence(err, "decode rule")
		}
		rule, err := doc.toRule()
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, result.Err()
}

func (r *RulesDB) GetRule(ctx context.Context, ruleId uuid.UUID) (models.LoyaltyRule, error) {
	var doc ruleDocument
	err := r.coll.FindOne(ctx, bson.M{"id": ruleId.String()}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.LoyaltyRule{}, errors.Wrapf(models.ErrNotFound, "rule %s", ruleId)
		}
		return models.LoyaltyRule{}, models.Persistence(err, "get rule")
	}
	return doc.toRule()
}

// SaveRule - создание (пустой ID) или обновление. Активное правило снимает флаг с остальных.
func (r *RulesDB) SaveRule(ctx context.Context, rule models.LoyaltyRule) (models.LoyaltyRule, error) {
	now := time.Now().UTC()
	rule.UpdatedAt = now
	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
		rule.CreatedAt = now
		_, err := r.coll.InsertOne(ctx, toDocument(rule))
		if err != nil {
			return rule, models.Persistence(err, "insert rule")
		}
	} else {
		doc := toDocument(rule)
		update := bson.M{
			"$set": bson.M{
				"rule_name":                 doc.Name,
				"liters_per_point":          doc.LitersPerPoint,
				"points_per_rupee_discount": doc.PointsPerRupeeDiscount,
				"max_discount_percentage":   doc.MaxDiscountPercentage,
				"min_points_for_redemption": doc.MinPointsForRedemption,
				"is_active":                 doc.Active,
				"updated_at":                doc.UpdatedAt,
			},
			"$setOnInsert": bson.M{"created_at": now},
		}
		// сохраненный документ: created_at мог не прийти от клиента
		opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
		var saved ruleDocument
		err := r.coll.FindOneAndUpdate(ctx, bson.M{"id": doc.ID}, update, opts).Decode(&saved)
		if err != nil {
			return rule, models.Persistence(err, "update rule")
		}
		rule, err = saved.toRule()
		if err != nil {
			return rule, err
		}
	}

	if rule.Active {
		_, err := r.coll.UpdateMany(ctx,
			bson.M{"id": bson.M{"$ne": rule.ID.String()}, "is_active": true},
			bson.M{"$set": bson.M{"is_active": false, "updated_at": now}})
		if err != nil {
			return rule, models.Persistence(err, "deactivate rules")
		}
	}
	return rule, nil
}
