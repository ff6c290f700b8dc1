package services

import (
	"context"

	"github.com/cockroachdb/errors"
	interf "github.com/glkeru/loyalty/fuel/internal/interfaces"
	models "github.com/glkeru/loyalty/fuel/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type RuleService struct {
	db     interf.RuleStorage
	logger *zap.Logger
}

func NewRuleService(db interf.RuleStorage, logger *zap.Logger) *RuleService {
	return &RuleService{db, logger}
}

// Active - активный набор правил. Читается один раз на расчет.
func (s *RuleService) Active(ctx context.Context) (*models.LoyaltyRule, error) {
	rule, err := s.db.GetActiveRule(ctx)
	if err != nil {
		return nil, err
	}
	err = rule.Validate()
	if err != nil {
		s.logger.Error("Active rule is invalid",
			zap.String("service", "Active"),
			zap.String("rule", rule.ID.String()),
			zap.Error(err),
		)
		return nil, err
	}
	return &rule, nil
}

func (s *RuleService) All(ctx context.Context) ([]models.LoyaltyRule, error) {
	return s.db.GetAllRules(ctx)
}

func (s *RuleService) Get(ctx context.Context, id uuid.UUID) (models.LoyaltyRule, error) {
	return s.db.GetRule(ctx, id)
}

// Save - создать/обновить правило. Сохраненное активным становится единственным активным.
func (s *RuleService) Save(ctx context.Context, rule models.LoyaltyRule) (models.LoyaltyRule, error) {
	err := rule.Validate()
	if err != nil {
		return rule, err
	}
	if rule.Name == "" {
		return rule, errors.Wrap(models.ErrInvalidRule, "rule_name is required")
	}
	saved, err := s.db.SaveRule(ctx, rule)
	if err != nil {
		return rule, err
	}
	s.logger.Info("Rule saved",
		zap.String("rule", saved.ID.String()),
		zap.Bool("active", saved.Active),
	)
	return saved, nil
}
