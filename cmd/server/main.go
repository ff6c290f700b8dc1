// HTTP API - касса (регистрация, поиск, расчет, проведение) и администратор (правила, отчеты)
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	rest "github.com/glkeru/loyalty/fuel/internal/api/rest"
	"github.com/glkeru/loyalty/fuel/internal/config"
	db "github.com/glkeru/loyalty/fuel/internal/db"
	kafka "github.com/glkeru/loyalty/fuel/internal/external/kafka"
	interf "github.com/glkeru/loyalty/fuel/internal/interfaces"
	services "github.com/glkeru/loyalty/fuel/internal/services"
	observability "github.com/glkeru/loyalty/fuel/observability/otel"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
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
	cfg, err := config.LoadServer()
	if err != nil {
		logger.Fatal("Config", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// tracing
	shutdown, err := observability.InitTracer(ctx, cfg.Tracing.Endpoint, cfg.Tracing.Service, logger)
	if err != nil {
		logger.Fatal("Tracer", zap.Error(err))
	}
	defer shutdown()

	// database
	stores, closeStores, err := db.Open(ctx, cfg.Storage, logger)
	if err != nil {
		logger.Fatal("Storage", zap.Error(err))
	}
	defer closeStores()

	// cache
	cache, closeCache := db.OpenCache(ctx, cfg.Cache, logger)
	defer closeCache()

	// change feed
	var notifier interf.ChangeNotifier
	if len(cfg.Kafka.Brokers) > 0 {
		writer := kafka.NewChangeWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer writer.Close()
		notifier = writer
	}

	// services
	rules := services.NewRuleService(stores.Rules, logger)
	accounts := services.NewAccountService(stores.Accounts, cache, logger)
	reports := services.NewReportService(stores.Reports, cache, logger)
	tnxs := services.NewTransactionService(rules, accounts, stores.Ledger, reports, notifier, logger)

	// api handlers
	r := rest.NewHandler(rest.Services{
		Rules:        rules,
		Accounts:     accounts,
		Transactions: tnxs,
		Reports:      reports,
	}, logger)
	srv := &http.Server{
		Handler:      otelhttp.NewHandler(r, "fuel-api"),
		Addr:         cfg.Addr(),
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
	}
	go func() {
		logger.Info("HTTP server started", zap.String("addr", srv.Addr))
		err := srv.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", zap.Error(err))
			cancel()
		}
	}()

	// shutdown
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	select {
	case <-interrupt:
	case <-ctx.Done():
	}
	timeout, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	err = srv.Shutdown(timeout)
	if err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
}
