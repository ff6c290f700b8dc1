package models

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Набор правил программы лояльности. Активен ровно один.
type LoyaltyRule struct {
	ID                     uuid.UUID       `json:"id"`
	Name                   string          `json:"rule_name"`
	LitersPerPoint         decimal.Decimal `json:"liters_per_point"`          // литров за 1 балл
	PointsPerRupeeDiscount decimal.Decimal `json:"points_per_rupee_discount"` // баллов за 1 рупию скидки
	MaxDiscountPercentage  decimal.Decimal `json:"max_discount_percentage"`   // потолок скидки, % от суммы
	MinPointsForRedemption int64           `json:"min_points_for_redemption"` // минимум для списания
	Active                 bool            `json:"is_active"`
	CreatedAt              time.Time       `json:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at"`
}

// Validate проверяет ограничения набора правил
func (r LoyaltyRule) Validate() error {
	switch {
	case !r.LitersPerPoint.IsPositive():
		return errors.Wrapf(ErrInvalidRule, "liters_per_point must be positive, got %s", r.LitersPerPoint)
	case !r.PointsPerRupeeDiscount.IsPositive():
		return errors.Wrapf(ErrInvalidRule, "points_per_rupee_discount must be positive, got %s", r.PointsPerRupeeDiscount)
	case r.MaxDiscountPercentage.IsNegative() || r.MaxDiscountPercentage.GreaterThan(hundred):
		return errors.Wrapf(ErrInvalidRule, "max_discount_percentage must be within [0,100], got %s", r.MaxDiscountPercentage)
	case r.MinPointsForRedemption < 0:
		return errors.Wrapf(ErrInvalidRule, "min_points_for_redemption must not be negative, got %d", r.MinPointsForRedemption)
	}
	return nil
}
