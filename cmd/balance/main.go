// gRPC server - баланс и история транзакций счета
package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"

	serv "github.com/glkeru/loyalty/fuel/internal/api/grpc"
	"github.com/glkeru/loyalty/fuel/internal/config"
	db "github.com/glkeru/loyalty/fuel/internal/db"
	services "github.com/glkeru/loyalty/fuel/internal/services"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

func main() {
	// log
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// config
	cfg, err := config.LoadBalance()
	if err != nil {
		logger.Fatal("Config", zap.Error(err))
	}
	ctx := context.Background()

	// database
	stores, closeStores, err := db.Open(ctx, cfg.Storage, logger)
	if err != nil {
		logger.Fatal("Storage", zap.Error(err))
	}
	defer closeStores()

	// cache
	cache, closeCache := db.OpenCache(ctx, cfg.Cache, logger)
	defer closeCache()

	rules := services.NewRuleService(stores.Rules, logger)
	accounts := services.NewAccountService(stores.Accounts, cache, logger)
	reports := services.NewReportService(stores.Reports, cache, logger)
	tnxs := services.NewTransactionService(rules, accounts, stores.Ledger, reports, nil, logger)

	lis, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		logger.Fatal("Listen", zap.Error(err))
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	grpcServer := grpc.NewServer()
	serv.RegisterBalanceServer(grpcServer, serv.NewBalanceService(accounts, tnxs, logger))

	go func() {
		err := grpcServer.Serve(lis)
		if err != nil {
			logger.Error("gRPC server failed", zap.Error(err))
			interrupt <- syscall.SIGTERM
		}
	}()

	<-interrupt
	grpcServer.GracefulStop()
}
