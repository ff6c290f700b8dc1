package db

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	models "github.com/glkeru/loyalty/fuel/internal/models"
	redis "github.com/redis/go-redis/v9"
)

const (
	accountTTL   = 5 * time.Minute
	analyticsTTL = 10 * time.Minute
	analyticsKey = "fuel:analytics"
)

// Кэш счетов и аналитики в Redis
type CacheService struct {
	client *redis.Client
}

type CacheOptions struct {
	Addr     string
	Username string
	Password string
	DB       int
}

func NewCacheService(ctx context.Context, opt CacheOptions) (serv *CacheService, err error) {
	db := redis.NewClient(&redis.Options{
		Addr:        opt.Addr,
		Password:    opt.Password,
		Username:    opt.Username,
		DB:          opt.DB,
		MaxRetries:  5,
		DialTimeout: 10 * time.Second,
	})
	err = db.Ping(ctx).Err()
	if err != nil {
		return nil, err
	}

	return &CacheService{db}, nil
}

func (c *CacheService) Close() error {
	return c.client.Close()
}

func accountKey(mobile string, vehicleNumber string) string {
	return "fuel:account:" + mobile + ":" + vehicleNumber
}

func (c *CacheService) GetAccount(ctx context.Context, mobile string, vehicleNumber string) (account models.Account, err error) {
	val, err := c.client.Get(ctx, accountKey(mobile, vehicleNumber)).Bytes()
	if err == redis.Nil {
		return account, models.ErrNotFound
	} else if err != nil {
		return account, err
	}
	err = json.Unmarshal(val, &account)
	if err != nil {
		return account, errors.Wrap(err, "decode cached account")
	}
	return account, nil
}

func (c *CacheService) SetAccount(ctx context.Context, account models.Account) error {
	val, err := json.Marshal(account)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, accountKey(account.Mobile, account.VehicleNumber), val, accountTTL).Err()
}

func (c *CacheService) InvalidateAccount(ctx context.Context, mobile string, vehicleNumber string) error {
	return c.client.Del(ctx, accountKey(mobile, vehicleNumber)).Err()
}

func (c *CacheService) GetAnalytics(ctx context.Context) (analytics models.Analytics, err error) {
	val, err := c.client.Get(ctx, analyticsKey).Bytes()
	if err == redis.Nil {
		return analytics, models.ErrNotFound
	} else if err != nil {
		return analytics, err
	}
	err = json.Unmarshal(val, &analytics)
	if err != nil {
		return analytics, errors.Wrap(err, "decode cached analytics")
	}
	return analytics, nil
}

func (c *CacheService) SetAnalytics(ctx context.Context, analytics models.Analytics) error {
	val, err := json.Marshal(analytics)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, analyticsKey, val, analyticsTTL).Err()
}

func (c *CacheService) InvalidateAnalytics(ctx context.Context) error {
	return c.client.Del(ctx, analyticsKey).Err()
}
