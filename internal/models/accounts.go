package models

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

type VehicleType string

const (
	Car          VehicleType = "car"
	Motorcycle   VehicleType = "motorcycle"
	Truck        VehicleType = "truck"
	AutoRickshaw VehicleType = "auto_rickshaw"
	OtherVehicle VehicleType = "other"
)

var vehicleTypes = []VehicleType{Car, Motorcycle, Truck, AutoRickshaw, OtherVehicle}

func (v VehicleType) Valid() bool {
	return slices.Contains(vehicleTypes, v)
}

// Клиент, естественный ключ - номер телефона
type Customer struct {
	ID        uuid.UUID `json:"id"`
	Mobile    string    `json:"mobile"`
	Name      string    `json:"name,omitempty"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Автомобиль клиента, уникален в паре (клиент, номер)
type Vehicle struct {
	ID            uuid.UUID   `json:"id"`
	CustomerID    uuid.UUID   `json:"customer_id"`
	VehicleNumber string      `json:"vehicle_number"`
	VehicleType   VehicleType `json:"vehicle_type"`
	CreatedAt     time.Time   `json:"created_at"`
}

// Счет баллов по паре клиент+автомобиль
type LedgerEntry struct {
	CustomerID     uuid.UUID `json:"customer_id"`
	VehicleID      uuid.UUID `json:"vehicle_id"`
	TotalPoints    int64     `json:"total_points"`
	RedeemedPoints int64     `json:"redeemed_points"`
	LastUpdated    time.Time `json:"last_updated"`
}

func (l LedgerEntry) Available() int64 {
	return l.TotalPoints - l.RedeemedPoints
}

// Результат поиска клиента по телефону и номеру автомобиля
type Account struct {
	CustomerID      uuid.UUID   `json:"customer_id"`
	VehicleID       uuid.UUID   `json:"vehicle_id"`
	Name            string      `json:"name,omitempty"`
	Mobile          string      `json:"mobile"`
	VehicleNumber   string      `json:"vehicle_number"`
	VehicleType     VehicleType `json:"vehicle_type"`
	AvailablePoints int64       `json:"available_points"`
}

// Регистрация клиента и автомобиля
type Registration struct {
	Mobile        string      `json:"mobile"`
	Name          string      `json:"name"`
	Email         string      `json:"email"`
	VehicleNumber string      `json:"vehicle_number"`
	VehicleType   VehicleType `json:"vehicle_type"`
}

type RegistrationResult struct {
	CustomerID  uuid.UUID `json:"customer_id"`
	VehicleID   uuid.UUID `json:"vehicle_id"`
	NewCustomer bool      `json:"new_customer"`
}

// NormalizeMobile - телефон без пробелов по краям
func NormalizeMobile(mobile string) string {
	return strings.TrimSpace(mobile)
}

// NormalizeVehicleNumber - номер автомобиля хранится в верхнем регистре
func NormalizeVehicleNumber(number string) string {
	return strings.ToUpper(strings.TrimSpace(number))
}
