package db

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	models "github.com/glkeru/loyalty/fuel/internal/models"
	"github.com/google/uuid"
)

type ledgerKey struct {
	customer uuid.UUID
	vehicle  uuid.UUID
}

// MemoryDB - хранилище в памяти с теми же гарантиями, что и PointsDB:
// условное списание и атомарная запись транзакции вместе со счетом.
// Используется в тестах и при запуске без базы (FUEL_STORAGE=memory).
type MemoryDB struct {
	mu           sync.Mutex
	rules        []models.LoyaltyRule
	customers    map[uuid.UUID]models.Customer
	vehicles     map[uuid.UUID]models.Vehicle
	ledger       map[ledgerKey]models.LedgerEntry
	transactions []models.Transaction
	beforeCommit func(tnx models.Transaction) error
	now          func() time.Time
}

func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		customers: make(map[uuid.UUID]models.Customer),
		vehicles:  make(map[uuid.UUID]models.Vehicle),
		ledger:    make(map[ledgerKey]models.LedgerEntry),
		now:       time.Now,
	}
}

// BeforeCommit - хук между подготовкой записи и ее применением (для проверки отката)
func (m *MemoryDB) BeforeCommit(hook func(tnx models.Transaction) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.beforeCommit = hook
}

// SetClock - источник времени для создаваемых записей
func (m *MemoryDB) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Правила

func (m *MemoryDB) GetActiveRule(ctx context.Context) (models.LoyaltyRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rules {
		if r.Active {
			return r, nil
		}
	}
	return models.LoyaltyRule{}, models.ErrRuleNotConfigured
}

func (m *MemoryDB) GetAllRules(ctx context.Context) ([]models.LoyaltyRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.rules), nil
}

func (m *MemoryDB) GetRule(ctx context.Context, ruleId uuid.UUID) (models.LoyaltyRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rules {
		if r.ID == ruleId {
			return r, nil
		}
	}
	return models.LoyaltyRule{}, errors.Wrapf(models.ErrNotFound, "rule %s", ruleId)
}

func (m *MemoryDB) SaveRule(ctx context.Context, rule models.LoyaltyRule) (models.LoyaltyRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now
	found := false
	for i, r := range m.rules {
		if r.ID == rule.ID {
			if rule.CreatedAt.IsZero() {
				rule.CreatedAt = r.CreatedAt
			}
			m.rules[i] = rule
			found = true
			continue
		}
		if rule.Active {
			m.rules[i].Active = false
		}
	}
	if !found {
		m.rules = append(m.rules, rule)
	}
	return rule, nil
}

// Клиенты

func (m *MemoryDB) customerByMobile(mobile string) (models.Customer, bool) {
	for _, c := range m.customers {
		if c.Mobile == mobile {
			return c, true
		}
	}
	return models.Customer{}, false
}

func (m *MemoryDB) vehicleOf(customerId uuid.UUID, number string) (models.Vehicle, bool) {
	for _, v := range m.vehicles {
		if v.CustomerID == customerId && v.VehicleNumber == number {
			return v, true
		}
	}
	return models.Vehicle{}, false
}

func (m *MemoryDB) FindAccount(ctx context.Context, mobile string, vehicleNumber string) (models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	customer, ok := m.customerByMobile(mobile)
	if !ok {
		return models.Account{}, models.ErrAccountNotFound
	}
	vehicle, ok := m.vehicleOf(customer.ID, vehicleNumber)
	if !ok {
		return models.Account{}, models.ErrAccountNotFound
	}
	entry := m.ledger[ledgerKey{customer.ID, vehicle.ID}]
	return models.Account{
		CustomerID:      customer.ID,
		VehicleID:       vehicle.ID,
		Name:            customer.Name,
		Mobile:          customer.Mobile,
		VehicleNumber:   vehicle.VehicleNumber,
		VehicleType:     vehicle.VehicleType,
		AvailablePoints: entry.Available(),
	}, nil
}

func (m *MemoryDB) Register(ctx context.Context, reg models.Registration) (models.RegistrationResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	customer, exists := m.customerByMobile(reg.Mobile)
	if exists {
		if _, dup := m.vehicleOf(customer.ID, reg.VehicleNumber); dup {
			return models.RegistrationResult{}, errors.Wrapf(models.ErrDuplicateVehicle, "vehicle %s", reg.VehicleNumber)
		}
	} else {
		customer = models.Customer{
			ID:        uuid.New(),
			Mobile:    reg.Mobile,
			Name:      reg.Name,
			Email:     reg.Email,
			CreatedAt: now,
		}
		m.customers[customer.ID] = customer
	}
	vehicle := models.Vehicle{
		ID:            uuid.New(),
		CustomerID:    customer.ID,
		VehicleNumber: reg.VehicleNumber,
		VehicleType:   reg.VehicleType,
		CreatedAt:     now,
	}
	m.vehicles[vehicle.ID] = vehicle
	m.ledger[ledgerKey{customer.ID, vehicle.ID}] = models.LedgerEntry{
		CustomerID:  customer.ID,
		VehicleID:   vehicle.ID,
		LastUpdated: now,
	}
	return models.RegistrationResult{CustomerID: customer.ID, VehicleID: vehicle.ID, NewCustomer: !exists}, nil
}

// Счета и транзакции

func (m *MemoryDB) GetLedger(ctx context.Context, customerId uuid.UUID, vehicleId uuid.UUID) (models.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.ledger[ledgerKey{customerId, vehicleId}]
	if !ok {
		return models.LedgerEntry{CustomerID: customerId, VehicleID: vehicleId}, nil
	}
	return entry, nil
}

func (m *MemoryDB) Record(ctx context.Context, tnx models.Transaction) (models.Transaction, models.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if stored, ok := m.settlement(tnx.SettlementID); ok {
		return stored, m.ledger[ledgerKey{stored.CustomerID, stored.VehicleID}],
			errors.Wrapf(models.ErrSettlementReplayed, "settlement %s", tnx.SettlementID)
	}

	key := ledgerKey{tnx.CustomerID, tnx.VehicleID}
	entry, ok := m.ledger[key]
	if !ok {
		entry = models.LedgerEntry{CustomerID: tnx.CustomerID, VehicleID: tnx.VehicleID}
	}
	// условное списание
	if entry.Available() < tnx.PointsRedeemed {
		return models.Transaction{}, models.LedgerEntry{}, errors.Wrapf(models.ErrLedgerWriteConflict,
			"available %d, redeem %d", entry.Available(), tnx.PointsRedeemed)
	}

	now := m.now()
	tnx.ID = uuid.New()
	tnx.CreatedAt = now
	entry.TotalPoints += tnx.PointsEarned
	entry.RedeemedPoints += tnx.PointsRedeemed
	entry.LastUpdated = now
	tnx.BalanceAfter = entry.Available()

	if m.beforeCommit != nil {
		if err := m.beforeCommit(tnx); err != nil {
			return models.Transaction{}, models.LedgerEntry{}, models.Persistence(err, "record transaction")
		}
	}
	m.ledger[key] = entry
	m.transactions = append(m.transactions, tnx)
	return tnx, entry, nil
}

func (m *MemoryDB) FindSettlement(ctx context.Context, settlementId string) (models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.settlement(settlementId)
	if !ok {
		return models.Transaction{}, errors.Wrapf(models.ErrNotFound, "settlement %s", settlementId)
	}
	return stored, nil
}

// под блокировкой
func (m *MemoryDB) settlement(settlementId string) (models.Transaction, bool) {
	if settlementId == "" {
		return models.Transaction{}, false
	}
	i := slices.IndexFunc(m.transactions, func(t models.Transaction) bool {
		return t.SettlementID == settlementId
	})
	if i < 0 {
		return models.Transaction{}, false
	}
	return m.transactions[i], true
}

// Отчеты

func (m *MemoryDB) ListTransactions(ctx context.Context, filter models.TransactionFilter) ([]models.TransactionView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	search := strings.ToLower(strings.TrimSpace(filter.Search))
	var views []models.TransactionView
	for _, t := range m.transactions {
		if filter.FuelType != "" && t.FuelType != filter.FuelType {
			continue
		}
		if !filter.From.IsZero() && t.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && t.CreatedAt.After(filter.To) {
			continue
		}
		c := m.customers[t.CustomerID]
		v := m.vehicles[t.VehicleID]
		if search != "" &&
			!strings.Contains(c.Mobile, search) &&
			!strings.Contains(strings.ToLower(c.Name), search) &&
			!strings.Contains(strings.ToLower(v.VehicleNumber), search) {
			continue
		}
		views = append(views, models.TransactionView{
			Transaction:   t,
			CustomerName:  c.Name,
			Mobile:        c.Mobile,
			VehicleNumber: v.VehicleNumber,
			VehicleType:   v.VehicleType,
		})
	}
	sort.SliceStable(views, func(i, j int) bool {
		return views[i].CreatedAt.After(views[j].CreatedAt)
	})
	return views, nil
}

func (m *MemoryDB) ListCustomers(ctx context.Context) ([]models.CustomerSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	summaries := make(map[uuid.UUID]*models.CustomerSummary, len(m.customers))
	for id, c := range m.customers {
		summaries[id] = &models.CustomerSummary{Customer: c}
	}
	for _, e := range m.ledger {
		if s, ok := summaries[e.CustomerID]; ok {
			s.TotalPoints += e.Available()
		}
	}
	for _, t := range m.transactions {
		if s, ok := summaries[t.CustomerID]; ok {
			s.TotalTransactions++
		}
	}
	result := make([]models.CustomerSummary, 0, len(summaries))
	for _, s := range summaries {
		result = append(result, *s)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (m *MemoryDB) CountCustomers(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.customers), nil
}

func (m *MemoryDB) OutstandingPoints(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total int64
	for _, e := range m.ledger {
		total += e.Available()
	}
	return total, nil
}

func (m *MemoryDB) AccountTransactions(ctx context.Context, customerId uuid.UUID, vehicleId uuid.UUID, from time.Time, to time.Time) ([]models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var tnxs []models.Transaction
	for _, t := range m.transactions {
		if t.CustomerID != customerId || t.VehicleID != vehicleId {
			continue
		}
		if t.CreatedAt.Before(from) || t.CreatedAt.After(to) {
			continue
		}
		tnxs = append(tnxs, t)
	}
	return tnxs, nil
}
