package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/glkeru/loyalty/fuel/internal/db"
	models "github.com/glkeru/loyalty/fuel/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
)

type memoryFixture struct {
	mem     *db.MemoryDB
	service *TransactionService
	account models.Account
}

// клиент с автомобилем и начальным балансом
func newMemoryFixture(t *testing.T, points int64, withRule bool) memoryFixture {
	t.Helper()
	ctx := context.Background()
	mem := db.NewMemoryDB()
	logger := zap.NewNop()
	rules := NewRuleService(mem, logger)
	if withRule {
		_, err := rules.Save(ctx, testRule())
		require.NoError(t, err)
	}
	accounts := NewAccountService(mem, nil, logger)
	reg, err := accounts.Register(ctx, models.Registration{Mobile: "9876543210", Name: "Ravi", VehicleNumber: "KA01AB1234"})
	require.NoError(t, err)
	if points > 0 {
		_, _, err = mem.Record(ctx, models.Transaction{
			CustomerID:   reg.CustomerID,
			VehicleID:    reg.VehicleID,
			StaffID:      uuid.New(),
			FuelType:     models.Diesel,
			Liters:       dec("500"),
			AmountPaid:   dec("45000"),
			PointsEarned: points,
		})
		require.NoError(t, err)
	}
	account, err := accounts.Locate(ctx, "9876543210", "KA01AB1234")
	require.NoError(t, err)
	return memoryFixture{
		mem:     mem,
		service: NewTransactionService(rules, accounts, mem, NewReportService(mem, nil, logger), nil, logger),
		account: account,
	}
}

func settleRequest(liters, amount, redeem string) models.SettleRequest {
	return models.SettleRequest{
		Mobile:         "9876543210",
		VehicleNumber:  "ka01ab1234",
		StaffID:        uuid.New(),
		FuelType:       models.Petrol,
		Liters:         dec(liters),
		AmountPaid:     dec(amount),
		PointsToRedeem: redeem,
	}
}

func transactionsOf(t *testing.T, f memoryFixture) []models.TransactionView {
	t.Helper()
	tnxs, err := f.mem.ListTransactions(context.Background(), models.TransactionFilter{})
	require.NoError(t, err)
	return tnxs
}

func ledgerOf(t *testing.T, f memoryFixture) models.LedgerEntry {
	t.Helper()
	entry, err := f.mem.GetLedger(context.Background(), f.account.CustomerID, f.account.VehicleID)
	require.NoError(t, err)
	return entry
}

func TestSettleAndRecord(t *testing.T) {
	f := newMemoryFixture(t, 100, true)

	receipt, err := f.service.Settle(context.Background(), settleRequest("20", "2000", "100"))
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, receipt.TransactionID)
	require.Equal(t, int64(4), receipt.Settlement.PointsEarned)
	require.Equal(t, int64(100), receipt.Settlement.PointsRedeemed)
	require.True(t, receipt.Settlement.Discount.Equal(dec("10")))
	require.True(t, receipt.Settlement.FinalAmount.Equal(dec("1990")))
	require.Equal(t, int64(100), receipt.Settlement.BalanceBefore)
	require.Equal(t, int64(4), receipt.Settlement.BalanceAfter)
	require.Equal(t, int64(4), receipt.Account.AvailablePoints)

	entry := ledgerOf(t, f)
	require.Equal(t, int64(104), entry.TotalPoints)
	require.Equal(t, int64(100), entry.RedeemedPoints)

	tnxs := transactionsOf(t, f)
	require.Len(t, tnxs, 2)
	recorded := tnxs[0]
	for _, tnx := range tnxs {
		if tnx.ID == receipt.TransactionID {
			recorded = tnx
		}
	}
	require.Equal(t, receipt.TransactionID, recorded.ID)
	require.True(t, recorded.DiscountApplied.Equal(dec("10")))
	require.True(t, recorded.AmountPaid.Equal(dec("2000")))
}

func TestSettleFreeTextRedemption(t *testing.T) {
	f := newMemoryFixture(t, 100, true)

	// нечисловой ввод - списания нет
	receipt, err := f.service.Settle(context.Background(), settleRequest("12", "1200", "abc"))
	require.NoError(t, err)
	require.Zero(t, receipt.Settlement.PointsRedeemed)
	require.True(t, receipt.Settlement.Discount.IsZero())
	require.Equal(t, int64(102), receipt.Settlement.BalanceAfter)
}

func TestSettleRejectedWritesNothing(t *testing.T) {
	tests := []struct {
		name   string
		req    models.SettleRequest
		target error
	}{
		{"недостаточно баллов", settleRequest("20", "2000", "150"), models.ErrInsufficientPoints},
		{"меньше минимума", settleRequest("20", "2000", "30"), models.ErrRedemptionBelowMinimum},
		{"нулевой объем", settleRequest("0", "2000", ""), models.ErrInvalidPurchase},
		{"неизвестный клиент", func() models.SettleRequest {
			r := settleRequest("20", "2000", "")
			r.Mobile = "9000000000"
			return r
		}(), models.ErrAccountNotFound},
		{"без кассира", func() models.SettleRequest {
			r := settleRequest("20", "2000", "")
			r.StaffID = uuid.Nil
			return r
		}(), models.ErrInvalidPurchase},
	}

	for _, ts := range tests {
		t.Run(ts.name, func(t *testing.T) {
			f := newMemoryFixture(t, 100, true)
			_, err := f.service.Settle(context.Background(), ts.req)
			require.True(t, errors.Is(err, ts.target), "got %v", err)
			require.Len(t, transactionsOf(t, f), 1)
			require.Equal(t, int64(100), ledgerOf(t, f).Available())
		})
	}
}

func TestSettleWithoutRule(t *testing.T) {
	f := newMemoryFixture(t, 100, false)

	receipt, err := f.service.Settle(context.Background(), settleRequest("20", "2000", ""))
	require.NoError(t, err)
	require.False(t, receipt.Settlement.RulesApplied)
	require.Zero(t, receipt.Settlement.PointsEarned)
	require.True(t, receipt.Settlement.FinalAmount.Equal(dec("2000")))
	require.Equal(t, int64(100), receipt.Settlement.BalanceAfter)

	_, err = f.service.Settle(context.Background(), settleRequest("20", "2000", "60"))
	require.True(t, errors.Is(err, models.ErrRuleNotConfigured))
	require.Len(t, transactionsOf(t, f), 2)
}

func TestSettleConcurrentRedemptions(t *testing.T) {
	f := newMemoryFixture(t, 100, true)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.service.Settle(context.Background(), settleRequest("1", "1000", "60"))
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.True(t, errors.IsAny(err, models.ErrInsufficientPoints, models.ErrLedgerWriteConflict), "got %v", err)
	}
	require.Equal(t, 1, succeeded)
	require.Equal(t, int64(40), ledgerOf(t, f).Available())
	require.Len(t, transactionsOf(t, f), 2)
}

func TestSettleRollback(t *testing.T) {
	f := newMemoryFixture(t, 100, true)
	f.mem.BeforeCommit(func(tnx models.Transaction) error {
		return errors.New("disk full")
	})

	_, err := f.service.Settle(context.Background(), settleRequest("20", "2000", "60"))
	require.True(t, errors.Is(err, models.ErrPersistence))
	require.False(t, models.IsUserError(err))

	entry := ledgerOf(t, f)
	require.Equal(t, int64(100), entry.TotalPoints)
	require.Zero(t, entry.RedeemedPoints)
	require.Len(t, transactionsOf(t, f), 1)
}

func TestSettleReplayedSettlement(t *testing.T) {
	// баланс ровно на одно списание: повтор не должен ни списать, ни отказать
	f := newMemoryFixture(t, 60, true)
	req := settleRequest("20", "2000", "60")
	req.SettlementID = "pump-7-000123"

	first, err := f.service.Settle(context.Background(), req)
	require.NoError(t, err)
	again, err := f.service.Settle(context.Background(), req)
	require.NoError(t, err)

	require.Equal(t, first.TransactionID, again.TransactionID)
	require.Equal(t, first.Settlement.PointsEarned, again.Settlement.PointsEarned)
	require.Equal(t, first.Settlement.PointsRedeemed, again.Settlement.PointsRedeemed)
	require.True(t, again.Settlement.Discount.Equal(dec("6")))
	require.True(t, again.Settlement.FinalAmount.Equal(dec("1994")))
	require.Equal(t, int64(60), again.Settlement.BalanceBefore)
	require.Equal(t, int64(4), again.Settlement.BalanceAfter)
	require.True(t, again.Settlement.RulesApplied)

	entry := ledgerOf(t, f)
	require.Equal(t, int64(64), entry.TotalPoints)
	require.Equal(t, int64(60), entry.RedeemedPoints)
	require.Len(t, transactionsOf(t, f), 2)

	// другой ключ - новая продажа
	req.SettlementID = "pump-7-000124"
	req.PointsToRedeem = ""
	_, err = f.service.Settle(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, transactionsOf(t, f), 3)
}

func TestSettleInvalidatesAnalytics(t *testing.T) {
	ctrl := gomock.NewController(t)
	cache := NewMockCacheStorage(ctrl)
	f := newMemoryFixture(t, 100, true)
	logger := zap.NewNop()
	rules := NewRuleService(f.mem, logger)
	accounts := NewAccountService(f.mem, nil, logger)
	service := NewTransactionService(rules, accounts, f.mem, NewReportService(f.mem, cache, logger), nil, logger)

	cache.EXPECT().InvalidateAnalytics(gomock.Any()).Return(nil).Times(1)

	req := settleRequest("20", "2000", "")
	req.SettlementID = "pump-7-000123"
	_, err := service.Settle(context.Background(), req)
	require.NoError(t, err)
	// повтор ничего не записал, сбрасывать нечего
	_, err = service.Settle(context.Background(), req)
	require.NoError(t, err)
}

// сервис на моках хранилищ
func mockService(t *testing.T) (*TransactionService, *MockLedgerStorage, *MockChangeNotifier, models.Account) {
	t.Helper()
	ctrl := gomock.NewController(t)
	rules := NewMockRuleStorage(ctrl)
	accounts := NewMockAccountStorage(ctrl)
	ledger := NewMockLedgerStorage(ctrl)
	notifier := NewMockChangeNotifier(ctrl)
	account := models.Account{
		CustomerID:    uuid.New(),
		VehicleID:     uuid.New(),
		Mobile:        "9876543210",
		VehicleNumber: "KA01AB1234",
	}
	rules.EXPECT().GetActiveRule(gomock.Any()).Return(testRule(), nil).AnyTimes()
	accounts.EXPECT().FindAccount(gomock.Any(), "9876543210", "KA01AB1234").Return(account, nil).AnyTimes()

	logger := zap.NewNop()
	service := NewTransactionService(
		NewRuleService(rules, logger),
		NewAccountService(accounts, nil, logger),
		ledger, nil, notifier, logger)
	return service, ledger, notifier, account
}

func TestSettleConflictRetriedOnce(t *testing.T) {
	service, ledger, _, account := mockService(t)
	entry := models.LedgerEntry{CustomerID: account.CustomerID, VehicleID: account.VehicleID, TotalPoints: 100}

	ledger.EXPECT().GetLedger(gomock.Any(), account.CustomerID, account.VehicleID).Return(entry, nil).Times(2)
	ledger.EXPECT().Record(gomock.Any(), gomock.Any()).
		Return(models.Transaction{}, models.LedgerEntry{}, models.ErrLedgerWriteConflict).Times(2)

	_, err := service.Settle(context.Background(), settleRequest("20", "2000", "60"))
	require.True(t, errors.Is(err, models.ErrLedgerWriteConflict))
}

func TestSettleConflictRevalidates(t *testing.T) {
	service, ledger, _, account := mockService(t)
	before := models.LedgerEntry{CustomerID: account.CustomerID, VehicleID: account.VehicleID, TotalPoints: 100}
	after := before
	after.RedeemedPoints = 60

	gomock.InOrder(
		ledger.EXPECT().GetLedger(gomock.Any(), account.CustomerID, account.VehicleID).Return(before, nil),
		ledger.EXPECT().Record(gomock.Any(), gomock.Any()).
			Return(models.Transaction{}, models.LedgerEntry{}, models.ErrLedgerWriteConflict),
		// перечитанный баланс уже не позволяет списание
		ledger.EXPECT().GetLedger(gomock.Any(), account.CustomerID, account.VehicleID).Return(after, nil),
	)

	_, err := service.Settle(context.Background(), settleRequest("20", "2000", "60"))
	require.True(t, errors.Is(err, models.ErrInsufficientPoints))
}

func TestSettleNotificationFailure(t *testing.T) {
	service, ledger, notifier, account := mockService(t)
	entry := models.LedgerEntry{CustomerID: account.CustomerID, VehicleID: account.VehicleID, TotalPoints: 100}
	stored := models.Transaction{ID: uuid.New(), CustomerID: account.CustomerID, VehicleID: account.VehicleID, CreatedAt: time.Now()}
	updated := entry
	updated.TotalPoints = 104
	updated.RedeemedPoints = 60

	ledger.EXPECT().GetLedger(gomock.Any(), account.CustomerID, account.VehicleID).Return(entry, nil)
	ledger.EXPECT().Record(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, tnx models.Transaction) (models.Transaction, models.LedgerEntry, error) {
			require.Equal(t, int64(4), tnx.PointsEarned)
			require.Equal(t, int64(60), tnx.PointsRedeemed)
			require.True(t, tnx.DiscountApplied.Equal(dec("6")))
			return stored, updated, nil
		})
	notifier.EXPECT().Publish(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, event models.ChangeEvent) error {
			require.Equal(t, models.TransactionRecorded, event.Type)
			require.Equal(t, stored.ID, event.TransactionID)
			return errors.New("broker unavailable")
		})

	receipt, err := service.Settle(context.Background(), settleRequest("20", "2000", "60"))
	require.NoError(t, err)
	require.Equal(t, stored.ID, receipt.TransactionID)
	require.Equal(t, int64(44), receipt.Settlement.BalanceAfter)
}

func TestSettleReplayedOnRecord(t *testing.T) {
	service, ledger, _, account := mockService(t)
	entry := models.LedgerEntry{CustomerID: account.CustomerID, VehicleID: account.VehicleID, TotalPoints: 100}
	stored := models.Transaction{
		ID:              uuid.New(),
		SettlementID:    "pump-7-000123",
		CustomerID:      account.CustomerID,
		VehicleID:       account.VehicleID,
		AmountPaid:      dec("2000"),
		PointsEarned:    4,
		PointsRedeemed:  60,
		DiscountApplied: dec("6"),
		BalanceAfter:    44,
	}

	// параллельная доставка успела записать расчет раньше
	ledger.EXPECT().FindSettlement(gomock.Any(), "pump-7-000123").Return(models.Transaction{}, models.ErrNotFound)
	ledger.EXPECT().GetLedger(gomock.Any(), account.CustomerID, account.VehicleID).Return(entry, nil)
	ledger.EXPECT().Record(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, tnx models.Transaction) (models.Transaction, models.LedgerEntry, error) {
			require.Equal(t, "pump-7-000123", tnx.SettlementID)
			return stored, models.LedgerEntry{}, errors.Wrap(models.ErrSettlementReplayed, "settlement pump-7-000123")
		})

	req := settleRequest("20", "2000", "60")
	req.SettlementID = "pump-7-000123"
	receipt, err := service.Settle(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, stored.ID, receipt.TransactionID)
	require.Equal(t, int64(44), receipt.Settlement.BalanceAfter)
	require.True(t, receipt.Settlement.FinalAmount.Equal(dec("1994")))
}

func TestSettlePersistenceNotRetried(t *testing.T) {
	service, ledger, _, account := mockService(t)
	entry := models.LedgerEntry{CustomerID: account.CustomerID, VehicleID: account.VehicleID, TotalPoints: 100}

	ledger.EXPECT().GetLedger(gomock.Any(), gomock.Any(), gomock.Any()).Return(entry, nil)
	ledger.EXPECT().Record(gomock.Any(), gomock.Any()).
		Return(models.Transaction{}, models.LedgerEntry{}, models.Persistence(errors.New("connection reset"), "insert transaction"))

	_, err := service.Settle(context.Background(), settleRequest("20", "2000", ""))
	require.True(t, errors.Is(err, models.ErrPersistence))
}

func TestQuote(t *testing.T) {
	f := newMemoryFixture(t, 100, true)

	receipt, err := f.service.Quote(context.Background(), settleRequest("20", "2000", "100"))
	require.NoError(t, err)
	require.Equal(t, uuid.Nil, receipt.TransactionID)
	require.True(t, receipt.Settlement.FinalAmount.Equal(dec("1990")))
	require.Equal(t, int64(4), receipt.Settlement.BalanceAfter)

	// расчет ничего не записывает
	require.Len(t, transactionsOf(t, f), 1)
	require.Equal(t, int64(100), ledgerOf(t, f).Available())
}

func TestHistory(t *testing.T) {
	f := newMemoryFixture(t, 0, true)
	ctx := context.Background()
	_, err := f.service.Settle(ctx, settleRequest("20", "2000", ""))
	require.NoError(t, err)

	tnxs, err := f.service.History(ctx, "9876543210", "KA01AB1234", time.Now().Add(-time.Hour), time.Time{})
	require.NoError(t, err)
	require.Len(t, tnxs, 1)
	require.Equal(t, int64(4), tnxs[0].PointsEarned)

	tnxs, err = f.service.History(ctx, "9876543210", "KA01AB1234", time.Now().Add(-48*time.Hour), time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	require.Empty(t, tnxs)
}
