package services

import (
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	models "github.com/glkeru/loyalty/fuel/internal/models"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ParsePoints - баллы к списанию из свободного ввода кассы.
// Берется целое в начале строки ("60.5" и "60abc" - 60), без цифр - 0 (списания нет).
func ParsePoints(input string) int64 {
	input = strings.TrimSpace(input)
	end := 0
	if end < len(input) && (input[end] == '-' || input[end] == '+') {
		end++
	}
	digits := end
	for end < len(input) && input[end] >= '0' && input[end] <= '9' {
		end++
	}
	if end == digits {
		return 0
	}
	points, err := strconv.ParseInt(input[:end], 10, 64)
	if err != nil {
		return 0
	}
	return points
}

// ValidatePurchase проверяет покупку до расчета
func ValidatePurchase(p models.Purchase) error {
	switch {
	case !p.FuelType.Valid():
		return errors.Wrapf(models.ErrInvalidPurchase, "unknown fuel type %q", p.FuelType)
	case !p.Liters.IsPositive():
		return errors.Wrapf(models.ErrInvalidPurchase, "liters must be positive, got %s", p.Liters)
	case p.AmountPaid.IsNegative():
		return errors.Wrapf(models.ErrInvalidPurchase, "amount paid must not be negative, got %s", p.AmountPaid)
	case p.PointsToRedeem < 0:
		return errors.Wrapf(models.ErrInvalidPurchase, "points to redeem must not be negative, got %d", p.PointsToRedeem)
	}
	return nil
}

// PointsEarned - целое число порогов litersPerPoint в объеме покупки
func PointsEarned(rule models.LoyaltyRule, liters decimal.Decimal) int64 {
	if !rule.LitersPerPoint.IsPositive() || !liters.IsPositive() {
		return 0
	}
	return liters.Div(rule.LitersPerPoint).Floor().IntPart()
}

// Discount - скидка за списание: не больше, чем дают баллы, и не больше процента от суммы
func Discount(rule models.LoyaltyRule, points int64, amountPaid decimal.Decimal) decimal.Decimal {
	if points <= 0 || !rule.PointsPerRupeeDiscount.IsPositive() {
		return decimal.Zero
	}
	byPoints := decimal.NewFromInt(points).Div(rule.PointsPerRupeeDiscount)
	maxDiscount := amountPaid.Mul(rule.MaxDiscountPercentage).Div(hundred)
	return decimal.Min(byPoints, maxDiscount)
}

// Settle - расчет покупки по активным правилам.
// rule == nil: правила не настроены, продажа проводится без баллов, списание запрещено.
// Функция чистая, без ввода-вывода.
func Settle(rule *models.LoyaltyRule, purchase models.Purchase, availablePoints int64) (models.Settlement, error) {
	if err := ValidatePurchase(purchase); err != nil {
		return models.Settlement{}, err
	}
	redeem := purchase.PointsToRedeem

	if rule == nil {
		if redeem > 0 {
			return models.Settlement{}, errors.Wrap(models.ErrRuleNotConfigured, "points cannot be redeemed")
		}
		return models.Settlement{
			Discount:      decimal.Zero,
			FinalAmount:   purchase.AmountPaid,
			BalanceBefore: availablePoints,
			BalanceAfter:  availablePoints,
		}, nil
	}

	// начисление
	earned := PointsEarned(*rule, purchase.Liters)

	// проверка списания: сначала остаток, потом минимум
	if redeem > availablePoints {
		return models.Settlement{}, errors.Wrapf(models.ErrInsufficientPoints,
			"requested %d, available %d", redeem, availablePoints)
	}
	if redeem > 0 && redeem < rule.MinPointsForRedemption {
		return models.Settlement{}, errors.Wrapf(models.ErrRedemptionBelowMinimum,
			"minimum %d points required for redemption, requested %d", rule.MinPointsForRedemption, redeem)
	}

	// скидка
	discount := Discount(*rule, redeem, purchase.AmountPaid)
	final := purchase.AmountPaid.Sub(discount)
	if final.IsNegative() {
		return models.Settlement{}, errors.Wrapf(models.ErrNegativeFinalAmount,
			"amount %s, discount %s", purchase.AmountPaid, discount)
	}

	return models.Settlement{
		PointsEarned:   earned,
		PointsRedeemed: redeem,
		Discount:       discount,
		FinalAmount:    final,
		BalanceBefore:  availablePoints,
		BalanceAfter:   availablePoints - redeem + earned,
		RulesApplied:   true,
	}, nil
}
