package models

import (
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type FuelType string

const (
	Petrol FuelType = "petrol"
	Diesel FuelType = "diesel"
	CNG    FuelType = "cng"
)

var FuelTypes = []FuelType{Petrol, Diesel, CNG}

func (f FuelType) Valid() bool {
	return slices.Contains(FuelTypes, f)
}

// Транзакция заправки. Создается один раз, не изменяется.
// SettlementID - ключ идемпотентности от терминала, пустой для продаж без него.
type Transaction struct {
	ID              uuid.UUID       `json:"id"`
	SettlementID    string          `json:"settlement_id,omitempty"`
	CustomerID      uuid.UUID       `json:"customer_id"`
	VehicleID       uuid.UUID       `json:"vehicle_id"`
	StaffID         uuid.UUID       `json:"fuel_staff_id"`
	FuelType        FuelType        `json:"fuel_type"`
	Liters          decimal.Decimal `json:"liters"`
	AmountPaid      decimal.Decimal `json:"amount_paid"`
	PointsEarned    int64           `json:"points_earned"`
	PointsRedeemed  int64           `json:"points_redeemed"`
	DiscountApplied decimal.Decimal `json:"discount_applied"`
	BalanceAfter    int64           `json:"balance_after"`
	CreatedAt       time.Time       `json:"transaction_date"`
}

// Покупка - вход расчета
type Purchase struct {
	FuelType       FuelType
	Liters         decimal.Decimal
	AmountPaid     decimal.Decimal
	PointsToRedeem int64
}

// Результат расчета по одной покупке
type Settlement struct {
	PointsEarned   int64           `json:"points_earned"`
	PointsRedeemed int64           `json:"points_redeemed"`
	Discount       decimal.Decimal `json:"discount"`
	FinalAmount    decimal.Decimal `json:"final_amount"`
	BalanceBefore  int64           `json:"balance_before"`
	BalanceAfter   int64           `json:"balance_after"`
	RulesApplied   bool            `json:"rules_applied"` // false - правила не настроены, баллы не считались
}

// Запрос на расчет/проведение от кассы или терминала
type SettleRequest struct {
	SettlementID   string          `json:"settlement_id,omitempty"`
	Mobile         string          `json:"mobile"`
	VehicleNumber  string          `json:"vehicle_number"`
	StaffID        uuid.UUID       `json:"staff_id"`
	FuelType       FuelType        `json:"fuel_type"`
	Liters         decimal.Decimal `json:"liters"`
	AmountPaid     decimal.Decimal `json:"amount_paid"`
	PointsToRedeem string          `json:"points_to_redeem"` // свободный ввод, как в форме кассы
}

// Итог проведенной транзакции
type Receipt struct {
	TransactionID uuid.UUID  `json:"transaction_id"`
	Account       Account    `json:"account"`
	Settlement    Settlement `json:"settlement"`
}

// Событие об изменении транзакций (для обновления отчетов)
type ChangeEvent struct {
	Type          string    `json:"type"`
	TransactionID uuid.UUID `json:"transaction_id"`
	CustomerID    uuid.UUID `json:"customer_id"`
	VehicleID     uuid.UUID `json:"vehicle_id"`
	PointsEarned  int64     `json:"points_earned"`
	PointsRedeem  int64     `json:"points_redeemed"`
	At            time.Time `json:"at"`
}

const TransactionRecorded = "transaction.recorded"
