package models

import (
	"github.com/cockroachdb/errors"
)

// Ошибки, которые можно исправить вводом пользователя
var (
	ErrAccountNotFound        = errors.New("customer or vehicle not found")
	ErrInsufficientPoints     = errors.New("insufficient loyalty points")
	ErrRedemptionBelowMinimum = errors.New("redemption below minimum")
	ErrDuplicateVehicle       = errors.New("vehicle already registered for this customer")
	ErrInvalidPurchase        = errors.New("invalid purchase")
	ErrInvalidRegistration    = errors.New("invalid registration")
)

// Ошибки правил и хранилища
var (
	ErrRuleNotConfigured   = errors.New("loyalty rules not configured")
	ErrInvalidRule         = errors.New("invalid loyalty rule")
	ErrLedgerWriteConflict = errors.New("ledger write conflict")
	ErrPersistence         = errors.New("persistence failure")
	ErrNegativeFinalAmount = errors.New("final amount is negative")
	ErrNotFound            = errors.New("not found")
	ErrSettlementReplayed  = errors.New("settlement already recorded")
)

// IsUserError - ошибка ввода, сообщение можно показать кассиру как есть
func IsUserError(err error) bool {
	return errors.IsAny(err,
		ErrAccountNotFound,
		ErrInsufficientPoints,
		ErrRedemptionBelowMinimum,
		ErrDuplicateVehicle,
		ErrInvalidPurchase,
		ErrInvalidRegistration,
	)
}

// Persistence помечает ошибку хранилища, сохраняя исходную причину
func Persistence(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.IsAny(err, ErrLedgerWriteConflict, ErrDuplicateVehicle, ErrNotFound, ErrAccountNotFound, ErrSettlementReplayed) {
		return err
	}
	return errors.Mark(errors.Wrap(err, op), ErrPersistence)
}
