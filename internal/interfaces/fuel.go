package interfaces

import (
	"context"
	"time"

	models "github.com/glkeru/loyalty/fuel/internal/models"
	"github.com/google/uuid"
)

//go:generate mockgen -destination=./../services/mock_fuel_test.go -package=services . RuleStorage,AccountStorage,LedgerStorage,ReportStorage,CacheStorage,ChangeNotifier

// Хранилище правил лояльности
type RuleStorage interface {
	GetActiveRule(ctx context.Context) (models.LoyaltyRule, error)
	GetAllRules(ctx context.Context) ([]models.LoyaltyRule, error)
	GetRule(ctx context.Context, ruleId uuid.UUID) (models.LoyaltyRule, error)
	SaveRule(ctx context.Context, rule models.LoyaltyRule) (models.LoyaltyRule, error)
}

// Клиенты и автомобили
type AccountStorage interface {
	FindAccount(ctx context.Context, mobile string, vehicleNumber string) (models.Account, error)
	Register(ctx context.Context, reg models.Registration) (models.RegistrationResult, error)
}

// Счета баллов и транзакции.
// Record с уже записанным SettlementID счет не меняет: возвращает
// сохраненную транзакцию и ErrSettlementReplayed.
type LedgerStorage interface {
	GetLedger(ctx context.Context, customerId uuid.UUID, vehicleId uuid.UUID) (models.LedgerEntry, error)
	Record(ctx context.Context, tnx models.Transaction) (models.Transaction, models.LedgerEntry, error)
	FindSettlement(ctx context.Context, settlementId string) (models.Transaction, error)
}

// Данные для отчетов
type ReportStorage interface {
	ListTransactions(ctx context.Context, filter models.TransactionFilter) ([]models.TransactionView, error)
	ListCustomers(ctx context.Context) ([]models.CustomerSummary, error)
	CountCustomers(ctx context.Context) (int, error)
	OutstandingPoints(ctx context.Context) (int64, error)
	AccountTransactions(ctx context.Context, customerId uuid.UUID, vehicleId uuid.UUID, from time.Time, to time.Time) ([]models.Transaction, error)
}

// Кэш найденных счетов (с балансом) и аналитики
type CacheStorage interface {
	GetAccount(ctx context.Context, mobile string, vehicleNumber string) (models.Account, error)
	SetAccount(ctx context.Context, account models.Account) error
	InvalidateAccount(ctx context.Context, mobile string, vehicleNumber string) error
	GetAnalytics(ctx context.Context) (models.Analytics, error)
	SetAnalytics(ctx context.Context, analytics models.Analytics) error
	InvalidateAnalytics(ctx context.Context) error
}

// Уведомления об изменениях (realtime), не влияют на расчет
type ChangeNotifier interface {
	Publish(ctx context.Context, event models.ChangeEvent) error
}
