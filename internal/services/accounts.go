package services

import (
	"context"

	"github.com/cockroachdb/errors"
	interf "github.com/glkeru/loyalty/fuel/internal/interfaces"
	models "github.com/glkeru/loyalty/fuel/internal/models"
	"go.uber.org/zap"
)

type AccountService struct {
	db     interf.AccountStorage
	cache  interf.CacheStorage
	logger *zap.Logger
}

// cache может быть nil
func NewAccountService(db interf.AccountStorage, cache interf.CacheStorage, logger *zap.Logger) *AccountService {
	return &AccountService{db, cache, logger}
}

// Locate - клиент по телефону и его автомобиль по номеру.
// Автомобиль другого клиента - не найден.
func (s *AccountService) Locate(ctx context.Context, mobile string, vehicleNumber string) (models.Account, error) {
	mobile = models.NormalizeMobile(mobile)
	vehicleNumber = models.NormalizeVehicleNumber(vehicleNumber)
	if mobile == "" || vehicleNumber == "" {
		return models.Account{}, errors.Wrap(models.ErrAccountNotFound, "mobile number and vehicle number are required")
	}

	// cache
	if s.cache != nil {
		account, err := s.cache.GetAccount(ctx, mobile, vehicleNumber)
		if err == nil {
			return account, nil
		}
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.Warn("Cache get account", zap.Error(err))
		}
	}

	// database
	account, err := s.db.FindAccount(ctx, mobile, vehicleNumber)
	if err != nil {
		return models.Account{}, err
	}
	if s.cache != nil {
		_ = s.cache.SetAccount(ctx, account)
	}
	return account, nil
}

// Invalidate - сбросить кэш счета после изменения баланса
func (s *AccountService) Invalidate(ctx context.Context, account models.Account) {
	if s.cache == nil {
		return
	}
	err := s.cache.InvalidateAccount(ctx, account.Mobile, account.VehicleNumber)
	if err != nil {
		s.logger.Error("Cache invalidate account",
			zap.String("customer", account.CustomerID.String()),
			zap.String("vehicle", account.VehicleID.String()),
			zap.Error(err),
		)
	}
}

// Register - клиент по телефону (существующий или новый) и новый автомобиль.
// Дубликат автомобиля проверяется только в рамках этого клиента.
func (s *AccountService) Register(ctx context.Context, reg models.Registration) (models.RegistrationResult, error) {
	reg.Mobile = models.NormalizeMobile(reg.Mobile)
	reg.VehicleNumber = models.NormalizeVehicleNumber(reg.VehicleNumber)
	if reg.VehicleType == "" {
		reg.VehicleType = models.Car
	}
	switch {
	case reg.Mobile == "":
		return models.RegistrationResult{}, errors.Wrap(models.ErrInvalidRegistration, "mobile number is required")
	case reg.VehicleNumber == "":
		return models.RegistrationResult{}, errors.Wrap(models.ErrInvalidRegistration, "vehicle number is required")
	case !reg.VehicleType.Valid():
		return models.RegistrationResult{}, errors.Wrapf(models.ErrInvalidRegistration, "unknown vehicle type %q", reg.VehicleType)
	}

	result, err := s.db.Register(ctx, reg)
	if err != nil {
		return result, err
	}
	s.logger.Info("Vehicle registered",
		zap.String("customer", result.CustomerID.String()),
		zap.String("vehicle", result.VehicleID.String()),
		zap.Bool("new_customer", result.NewCustomer),
	)
	return result, nil
}
