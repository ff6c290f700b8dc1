package services

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	interf "github.com/glkeru/loyalty/fuel/internal/interfaces"
	models "github.com/glkeru/loyalty/fuel/internal/models"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// metrics
var (
	settlementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fuel_settlements_total",
			Help: "Number of settlement attempts by outcome",
		},
		[]string{"outcome"},
	)
	pointsEarnedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fuel_points_earned_total",
			Help: "Loyalty points earned by recorded transactions",
		},
	)
	pointsRedeemedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fuel_points_redeemed_total",
			Help: "Loyalty points redeemed by recorded transactions",
		},
	)
	ledgerConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fuel_ledger_conflicts_total",
			Help: "Conditional ledger updates that matched no row",
		},
	)
)

var tracer = otel.Tracer("github.com/glkeru/loyalty/fuel/internal/services")

type TransactionService struct {
	rules    *RuleService
	accounts *AccountService
	ledger   interf.LedgerStorage
	reports  *ReportService
	notifier interf.ChangeNotifier
	logger   *zap.Logger
}

// notifier может быть nil: уведомления не влияют на проведение
func NewTransactionService(rules *RuleService, accounts *AccountService, ledger interf.LedgerStorage,
	reports *ReportService, notifier interf.ChangeNotifier, logger *zap.Logger) *TransactionService {
	return &TransactionService{rules, accounts, ledger, reports, notifier, logger}
}

// log
func (s *TransactionService) Log(service string, err error, fields ...zap.Field) {
	fields = append(fields, zap.String("service", service), zap.Error(err))
	if models.IsUserError(err) {
		s.logger.Info("Settlement rejected", fields...)
		return
	}
	s.logger.Error("Settlement failed", fields...)
}

// активное правило, nil - правила не настроены
func (s *TransactionService) activeRule(ctx context.Context) (*models.LoyaltyRule, error) {
	rule, err := s.rules.Active(ctx)
	if err != nil {
		if errors.Is(err, models.ErrRuleNotConfigured) {
			return nil, nil
		}
		return nil, err
	}
	return rule, nil
}

func purchaseOf(req models.SettleRequest) models.Purchase {
	return models.Purchase{
		FuelType:       req.FuelType,
		Liters:         req.Liters,
		AmountPaid:     req.AmountPaid,
		PointsToRedeem: ParsePoints(req.PointsToRedeem),
	}
}

// Quote - расчет без проведения (итог покупки на экране кассы)
func (s *TransactionService) Quote(ctx context.Context, req models.SettleRequest) (models.Receipt, error) {
	purchase := purchaseOf(req)
	if err := ValidatePurchase(purchase); err != nil {
		return models.Receipt{}, err
	}
	rule, err := s.activeRule(ctx)
	if err != nil {
		return models.Receipt{}, err
	}
	account, err := s.accounts.Locate(ctx, req.Mobile, req.VehicleNumber)
	if err != nil {
		return models.Receipt{}, err
	}
	settlement, err := Settle(rule, purchase, account.AvailablePoints)
	if err != nil {
		return models.Receipt{Account: account}, err
	}
	return models.Receipt{Account: account, Settlement: settlement}, nil
}

// Settle - расчет и проведение покупки.
// Конфликт записи счета повторяется один раз с перечитанным из базы балансом.
// Повтор SettlementID возвращает чек уже записанной транзакции.
func (s *TransactionService) Settle(ctx context.Context, req models.SettleRequest) (receipt models.Receipt, err error) {
	ctx, span := tracer.Start(ctx, "TransactionService.Settle",
		trace.WithAttributes(attribute.String("settlement.id", req.SettlementID)))
	replayed := false
	defer func() {
		outcome := "recorded"
		if replayed {
			outcome = "replayed"
		}
		if err != nil {
			outcome = outcomeOf(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
		settlementsTotal.WithLabelValues(outcome).Inc()
		span.End()
	}()

	if req.StaffID == uuid.Nil {
		return receipt, errors.Wrap(models.ErrInvalidPurchase, "staff id is required")
	}
	purchase := purchaseOf(req)
	if err = ValidatePurchase(purchase); err != nil {
		return receipt, err
	}

	// правило читается один раз на расчет
	rule, err := s.activeRule(ctx)
	if err != nil {
		s.Log("Settle", err)
		return receipt, err
	}
	account, err := s.accounts.Locate(ctx, req.Mobile, req.VehicleNumber)
	if err != nil {
		return receipt, err
	}
	receipt.Account = account
	span.SetAttributes(
		attribute.String("customer.id", account.CustomerID.String()),
		attribute.String("vehicle.id", account.VehicleID.String()),
		attribute.Int64("points.redeem", purchase.PointsToRedeem),
	)

	var (
		settlement models.Settlement
		stored     models.Transaction
		entry      models.LedgerEntry
	)
	for attempt := 1; ; attempt++ {
		// повторная доставка расчета
		if req.SettlementID != "" {
			stored, err = s.ledger.FindSettlement(ctx, req.SettlementID)
			if err == nil {
				replayed = true
				return s.replay(receipt, stored, rule), nil
			}
			if !errors.Is(err, models.ErrNotFound) {
				s.Log("Settle", err)
				return receipt, err
			}
		}
		// баланс всегда из базы, кэш только для поиска
		entry, err = s.ledger.GetLedger(ctx, account.CustomerID, account.VehicleID)
		if err != nil {
			s.Log("Settle", err)
			return receipt, err
		}
		settlement, err = Settle(rule, purchase, entry.Available())
		if err != nil {
			if errors.Is(err, models.ErrNegativeFinalAmount) {
				s.Log("Settle", err, zap.String("customer", account.CustomerID.String()))
			}
			return receipt, err
		}

		tnx := models.Transaction{
			SettlementID:    req.SettlementID,
			CustomerID:      account.CustomerID,
			VehicleID:       account.VehicleID,
			StaffID:         req.StaffID,
			FuelType:        purchase.FuelType,
			Liters:          purchase.Liters,
			AmountPaid:      purchase.AmountPaid,
			PointsEarned:    settlement.PointsEarned,
			PointsRedeemed:  settlement.PointsRedeemed,
			DiscountApplied: settlement.Discount,
		}
		stored, entry, err = s.ledger.Record(ctx, tnx)
		if err == nil {
			break
		}
		if errors.Is(err, models.ErrSettlementReplayed) {
			replayed = true
			return s.replay(receipt, stored, rule), nil
		}
		if errors.Is(err, models.ErrLedgerWriteConflict) {
			ledgerConflictsTotal.Inc()
			if attempt == 1 {
				s.logger.Warn("Ledger write conflict, retrying",
					zap.String("customer", account.CustomerID.String()),
					zap.String("vehicle", account.VehicleID.String()),
				)
				continue
			}
		}
		s.Log("Settle", err, zap.Int("attempt", attempt))
		return receipt, err
	}

	// после фиксации
	settlement.BalanceAfter = entry.Available()
	receipt.TransactionID = stored.ID
	receipt.Settlement = settlement
	receipt.Account.AvailablePoints = settlement.BalanceAfter
	pointsEarnedTotal.Add(float64(settlement.PointsEarned))
	pointsRedeemedTotal.Add(float64(settlement.PointsRedeemed))

	s.accounts.Invalidate(ctx, account)
	if s.reports != nil {
		if err := s.reports.Invalidate(ctx); err != nil {
			s.logger.Warn("Cache invalidate analytics", zap.Error(err))
		}
	}
	s.notify(ctx, stored)
	return receipt, nil
}

// чек по уже записанной транзакции, счет не меняется
func (s *TransactionService) replay(receipt models.Receipt, stored models.Transaction, rule *models.LoyaltyRule) models.Receipt {
	s.logger.Info("Settlement replayed",
		zap.String("settlement", stored.SettlementID),
		zap.String("transaction", stored.ID.String()),
	)
	receipt.TransactionID = stored.ID
	receipt.Settlement = models.Settlement{
		PointsEarned:   stored.PointsEarned,
		PointsRedeemed: stored.PointsRedeemed,
		Discount:       stored.DiscountApplied,
		FinalAmount:    stored.AmountPaid.Sub(stored.DiscountApplied),
		BalanceBefore:  stored.BalanceAfter - stored.PointsEarned + stored.PointsRedeemed,
		BalanceAfter:   stored.BalanceAfter,
		RulesApplied:   rule != nil,
	}
	receipt.Account.AvailablePoints = stored.BalanceAfter
	return receipt
}

// уведомление об изменении, ошибка только логируется
func (s *TransactionService) notify(ctx context.Context, tnx models.Transaction) {
	if s.notifier == nil {
		return
	}
	event := models.ChangeEvent{
		Type:          models.TransactionRecorded,
		TransactionID: tnx.ID,
		CustomerID:    tnx.CustomerID,
		VehicleID:     tnx.VehicleID,
		PointsEarned:  tnx.PointsEarned,
		PointsRedeem:  tnx.PointsRedeemed,
		At:            tnx.CreatedAt,
	}
	err := s.notifier.Publish(ctx, event)
	if err != nil {
		s.logger.Error("Change notification failed",
			zap.String("transaction", tnx.ID.String()),
			zap.Error(err),
		)
	}
}

// History - транзакции одного счета за период
func (s *TransactionService) History(ctx context.Context, mobile string, vehicleNumber string, from time.Time, to time.Time) ([]models.Transaction, error) {
	account, err := s.accounts.Locate(ctx, mobile, vehicleNumber)
	if err != nil {
		return nil, err
	}
	if to.IsZero() {
		to = time.Now()
	}
	if from.After(to) {
		return nil, errors.Wrapf(models.ErrInvalidPurchase, "date from %s is after date to %s",
			from.Format(time.DateOnly), to.Format(time.DateOnly))
	}
	return s.reports.db.AccountTransactions(ctx, account.CustomerID, account.VehicleID, from, to)
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, models.ErrInsufficientPoints):
		return "insufficient_points"
	case errors.Is(err, models.ErrRedemptionBelowMinimum):
		return "below_minimum"
	case errors.Is(err, models.ErrAccountNotFound):
		return "account_not_found"
	case errors.Is(err, models.ErrLedgerWriteConflict):
		return "conflict"
	case errors.Is(err, models.ErrRuleNotConfigured):
		return "rule_not_configured"
	case errors.Is(err, models.ErrNegativeFinalAmount):
		return "negative_amount"
	case models.IsUserError(err):
		return "invalid"
	}
	return "error"
}
