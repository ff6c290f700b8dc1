// Job - лента изменений транзакций (Kafka): сброс снимка аналитики
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/glkeru/loyalty/fuel/internal/config"
	db "github.com/glkeru/loyalty/fuel/internal/db"
	kafka "github.com/glkeru/loyalty/fuel/internal/external/kafka"
	models "github.com/glkeru/loyalty/fuel/internal/models"
	services "github.com/glkeru/loyalty/fuel/internal/services"
	"go.uber.org/zap"
)

func main() {
	// log
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// config
	cfg, err := config.LoadReports()
	if err != nil {
		logger.Fatal("Config", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// cache
	cache, closeCache := db.OpenCache(ctx, cfg.Cache, logger)
	defer closeCache()
	if cache == nil {
		logger.Fatal("Cache is required")
	}
	reports := services.NewReportService(nil, cache, logger)

	// kafka
	reader := kafka.GetNewReader(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.Group)
	defer reader.CloseReader()

	// os signals
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-interrupt
		cancel()
	}()

	for {
		event, err := reader.GetNewMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			logger.Error("Change feed", zap.Error(err))
			continue
		}
		if event.Type != models.TransactionRecorded {
			continue
		}
		err = reports.Invalidate(ctx)
		if err != nil {
			logger.Error("Analytics invalidate", zap.String("transaction", event.TransactionID.String()), zap.Error(err))
			continue
		}
		logger.Debug("Analytics invalidated", zap.String("transaction", event.TransactionID.String()))
	}
}
