// Job - проведение покупок с терминалов колонок (RabbitMQ)
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/glkeru/loyalty/fuel/internal/config"
	db "github.com/glkeru/loyalty/fuel/internal/db"
	kafka "github.com/glkeru/loyalty/fuel/internal/external/kafka"
	rabbit "github.com/glkeru/loyalty/fuel/internal/external/rabbitmq"
	interf "github.com/glkeru/loyalty/fuel/internal/interfaces"
	services "github.com/glkeru/loyalty/fuel/internal/services"
	observability "github.com/glkeru/loyalty/fuel/observability/otel"
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
	cfg, err := config.LoadSettlements()
	if err != nil {
		logger.Fatal("Config", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// tracing
	shutdown, err := observability.InitTracer(ctx, cfg.Tracing.Endpoint, cfg.Tracing.Service+"-settlements", logger)
	if err != nil {
		logger.Fatal("Tracer", zap.Error(err))
	}
	defer shutdown()

	// rabbitmq
	reader, err := rabbit.NewSettlementConsumer(cfg.Rabbit.URL(), cfg.Rabbit.Queue, cfg.Rabbit.ConfirmQueue, cfg.Workers)
	if err != nil {
		logger.Fatal("RabbitMQ", zap.Error(err))
	}
	defer reader.Close()

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
	serv := services.NewTransactionService(rules, accounts, stores.Ledger, reports, notifier, logger)

	// os signals
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-interrupt
		cancel()
	}()

	// workers
	wg := &sync.WaitGroup{}
	wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go worker(ctx, serv, wg, logger, reader)
	}
	wg.Wait()
}

// worker for rabbitmq messages
func worker(ctx context.Context, serv *services.TransactionService, wg *sync.WaitGroup, logger *zap.Logger, reader *rabbit.SettlementConsumer) {
	defer wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-reader.Msg:
			if !ok {
				return
			}
			req, err := rabbit.DecodeRequest(msg.Body)
			if err != nil {
				logger.Error("Settlement request", zap.Error(err))
				_ = msg.Reject(false)
				continue
			}
			if req.SettlementID == "" {
				req.SettlementID = msg.CorrelationId
			}
			receipt, err := serv.Settle(ctx, req)
			confirm := rabbit.NewConfirm(req.SettlementID, receipt, err)
			err = reader.Processed(ctx, confirm)
			if err != nil {
				// подтверждение не отправлено: сообщение вернется в очередь
				logger.Error("Settlement confirm", zap.String("settlement", req.SettlementID), zap.Error(err))
				_ = msg.Nack(false, true)
				continue
			}
			_ = msg.Ack(false)
		}
	}
}
