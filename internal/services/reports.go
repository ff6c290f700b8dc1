package services

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	interf "github.com/glkeru/loyalty/fuel/internal/interfaces"
	models "github.com/glkeru/loyalty/fuel/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	revenueDays  = 7
	topCustomers = 10
)

type ReportService struct {
	db     interf.ReportStorage
	cache  interf.CacheStorage
	logger *zap.Logger
}

// cache может быть nil
func NewReportService(db interf.ReportStorage, cache interf.CacheStorage, logger *zap.Logger) *ReportService {
	return &ReportService{db, cache, logger}
}

// Analytics - сводка для администратора. Снимок кэшируется до следующей транзакции.
func (s *ReportService) Analytics(ctx context.Context, now time.Time) (models.Analytics, error) {
	if s.cache != nil {
		analytics, err := s.cache.GetAnalytics(ctx)
		if err == nil {
			return analytics, nil
		}
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.Warn("Cache get analytics", zap.Error(err))
		}
	}

	var (
		tnxs        []models.TransactionView
		customers   int
		outstanding int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		tnxs, err = s.db.ListTransactions(gctx, models.TransactionFilter{})
		return err
	})
	g.Go(func() (err error) {
		customers, err = s.db.CountCustomers(gctx)
		return err
	})
	g.Go(func() (err error) {
		outstanding, err = s.db.OutstandingPoints(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		s.logger.Error("Analytics", zap.String("service", "Analytics"), zap.Error(err))
		return models.Analytics{}, err
	}

	analytics := BuildAnalytics(tnxs, now)
	analytics.TotalCustomers = customers
	analytics.TotalLoyaltyPoints = outstanding

	if s.cache != nil {
		if err := s.cache.SetAnalytics(ctx, analytics); err != nil {
			s.logger.Warn("Cache set analytics", zap.Error(err))
		}
	}
	return analytics, nil
}

// BuildAnalytics - показатели по списку транзакций
func BuildAnalytics(tnxs []models.TransactionView, now time.Time) models.Analytics {
	analytics := models.Analytics{
		TotalTransactions:        len(tnxs),
		TotalRevenue:             decimal.Zero,
		AverageTransactionAmount: decimal.Zero,
		FuelTypeDistribution:     []models.FuelTypeShare{},
		DailyRevenue:             make([]models.DailyRevenue, 0, revenueDays),
		TopCustomers:             []models.TopCustomer{},
		GeneratedAt:              now,
	}

	byFuel := make(map[models.FuelType]int)
	top := make(map[uuid.UUID]*models.TopCustomer)
	for _, t := range tnxs {
		analytics.TotalRevenue = analytics.TotalRevenue.Add(t.AmountPaid)
		byFuel[t.FuelType]++
		c, ok := top[t.CustomerID]
		if !ok {
			c = &models.TopCustomer{CustomerID: t.CustomerID, Name: t.CustomerName, Mobile: t.Mobile, TotalSpent: decimal.Zero}
			top[t.CustomerID] = c
		}
		c.TotalSpent = c.TotalSpent.Add(t.AmountPaid)
		c.Transactions++
	}
	if len(tnxs) > 0 {
		analytics.AverageTransactionAmount = analytics.TotalRevenue.Div(decimal.NewFromInt(int64(len(tnxs)))).Round(2)
	}

	// доли видов топлива
	for _, fuel := range models.FuelTypes {
		count := byFuel[fuel]
		if count == 0 {
			continue
		}
		analytics.FuelTypeDistribution = append(analytics.FuelTypeDistribution, models.FuelTypeShare{
			Name:       strings.ToUpper(string(fuel)),
			Value:      count,
			Percentage: float64(count) * 100 / float64(len(tnxs)),
		})
	}

	// выручка за последние дни, UTC, от старых к новым
	today := now.UTC().Truncate(24 * time.Hour)
	for i := revenueDays - 1; i >= 0; i-- {
		day := today.AddDate(0, 0, -i)
		next := day.AddDate(0, 0, 1)
		daily := models.DailyRevenue{Date: day.Format("Jan 2"), Revenue: decimal.Zero}
		for _, t := range tnxs {
			at := t.CreatedAt.UTC()
			if !at.Before(day) && at.Before(next) {
				daily.Revenue = daily.Revenue.Add(t.AmountPaid)
				daily.Transactions++
			}
		}
		analytics.DailyRevenue = append(analytics.DailyRevenue, daily)
	}

	// лучшие клиенты по сумме покупок
	for _, c := range top {
		analytics.TopCustomers = append(analytics.TopCustomers, *c)
	}
	sort.Slice(analytics.TopCustomers, func(i, j int) bool {
		a, b := analytics.TopCustomers[i], analytics.TopCustomers[j]
		if !a.TotalSpent.Equal(b.TotalSpent) {
			return a.TotalSpent.GreaterThan(b.TotalSpent)
		}
		return a.Mobile < b.Mobile
	})
	if len(analytics.TopCustomers) > topCustomers {
		analytics.TopCustomers = analytics.TopCustomers[:topCustomers]
	}
	return analytics
}

// Invalidate - сбросить снимок аналитики (по событию об изменении)
func (s *ReportService) Invalidate(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.InvalidateAnalytics(ctx)
}

// Transactions - список транзакций с итогами по отобранным
func (s *ReportService) Transactions(ctx context.Context, filter models.TransactionFilter) (models.TransactionsReport, error) {
	if filter.FuelType != "" && !filter.FuelType.Valid() {
		return models.TransactionsReport{}, errors.Wrapf(models.ErrInvalidPurchase, "unknown fuel type %q", filter.FuelType)
	}
	tnxs, err := s.db.ListTransactions(ctx, filter)
	if err != nil {
		return models.TransactionsReport{}, err
	}
	report := models.TransactionsReport{
		Transactions:      tnxs,
		TotalTransactions: len(tnxs),
		TotalRevenue:      decimal.Zero,
		TotalLiters:       decimal.Zero,
	}
	if report.Transactions == nil {
		report.Transactions = []models.TransactionView{}
	}
	for _, t := range tnxs {
		report.TotalRevenue = report.TotalRevenue.Add(t.AmountPaid)
		report.TotalLiters = report.TotalLiters.Add(t.Liters)
		report.TotalPointsEarned += t.PointsEarned
	}
	return report, nil
}

// Customers - клиенты с поиском по имени, телефону и почте. Итоги по всем клиентам.
func (s *ReportService) Customers(ctx context.Context, search string) (models.CustomersReport, error) {
	all, err := s.db.ListCustomers(ctx)
	if err != nil {
		return models.CustomersReport{}, err
	}
	report := models.CustomersReport{
		Customers:      []models.CustomerSummary{},
		TotalCustomers: len(all),
	}
	search = strings.ToLower(strings.TrimSpace(search))
	for _, c := range all {
		if c.TotalTransactions > 0 {
			report.ActiveCustomers++
		}
		report.TotalLoyaltyPoints += c.TotalPoints
		if search != "" &&
			!strings.Contains(strings.ToLower(c.Name), search) &&
			!strings.Contains(c.Mobile, search) &&
			!strings.Contains(strings.ToLower(c.Email), search) {
			continue
		}
		report.Customers = append(report.Customers, c)
	}
	return report, nil
}
