package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Транзакция с данными клиента и автомобиля
type TransactionView struct {
	Transaction
	CustomerName  string      `json:"customer_name,omitempty"`
	Mobile        string      `json:"mobile"`
	VehicleNumber string      `json:"vehicle_number"`
	VehicleType   VehicleType `json:"vehicle_type"`
}

type TransactionFilter struct {
	Search   string
	FuelType FuelType
	From     time.Time
	To       time.Time
}

type TransactionsReport struct {
	Transactions      []TransactionView `json:"transactions"`
	TotalTransactions int               `json:"total_transactions"`
	TotalRevenue      decimal.Decimal   `json:"total_revenue"`
	TotalLiters       decimal.Decimal   `json:"total_liters"`
	TotalPointsEarned int64             `json:"total_points_earned"`
}

// Клиент с баллами и количеством транзакций
type CustomerSummary struct {
	Customer
	TotalPoints       int64 `json:"total_points"`
	TotalTransactions int   `json:"total_transactions"`
}

type CustomersReport struct {
	Customers         []CustomerSummary `json:"customers"`
	TotalCustomers    int               `json:"total_customers"`
	ActiveCustomers   int               `json:"active_customers"`
	TotalLoyaltyPoints int64            `json:"total_loyalty_points"`
}

type FuelTypeShare struct {
	Name       string  `json:"name"`
	Value      int     `json:"value"`
	Percentage float64 `json:"percentage"`
}

type DailyRevenue struct {
	Date         string          `json:"date"`
	Revenue      decimal.Decimal `json:"revenue"`
	Transactions int             `json:"transactions"`
}

type TopCustomer struct {
	CustomerID   uuid.UUID       `json:"customer_id"`
	Name         string          `json:"name"`
	Mobile       string          `json:"mobile"`
	TotalSpent   decimal.Decimal `json:"total_spent"`
	Transactions int             `json:"transactions"`
}

// Сводная аналитика для администратора
type Analytics struct {
	TotalCustomers           int             `json:"total_customers"`
	TotalTransactions        int             `json:"total_transactions"`
	TotalRevenue             decimal.Decimal `json:"total_revenue"`
	TotalLoyaltyPoints       int64           `json:"total_loyalty_points"`
	AverageTransactionAmount decimal.Decimal `json:"average_transaction_amount"`
	FuelTypeDistribution     []FuelTypeShare `json:"fuel_type_distribution"`
	DailyRevenue             []DailyRevenue  `json:"daily_revenue"`
	TopCustomers             []TopCustomer   `json:"top_customers"`
	GeneratedAt              time.Time       `json:"generated_at"`
}
