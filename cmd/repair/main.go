// Command repair restores the one-active-rate rule for one pair or for every
// pair. It is safe to run repeatedly.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"pos/internal/config"
	"pos/internal/db"
	"pos/internal/logx"
	"pos/internal/models"
	"pos/internal/services"
	"pos/internal/store"

	"go.uber.org/zap"
)

func main() {
	from := flag.String("from", "", "source currency of the pair to repair")
	to := flag.String("to", "", "target currency of the pair to repair")
	all := flag.Bool("all", false, "repair every pair")
	timeout := flag.Duration("timeout", time.Minute, "overall timeout")
	flag.Parse()

	cfg := config.Load()
	if err := logx.Init(cfg.LogLevel); err != nil {
		panic(err)
	}
	defer logx.Sync()
	logger := logx.L()

	if *all == (*from != "" || *to != "") {
		logger.Error("pass either -all or -from and -to")
		flag.Usage()
		os.Exit(2)
	}

	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect database", zap.Error(err))
	}
	defer database.Close()

	defaultPair := models.NewCurrencyPair(cfg.DefaultFromCurrency, cfg.DefaultToCurrency)
	service := services.NewRateService(db.NewTxRunner(database), store.NewRateStore(database), store.NewAuditStore(database), nil, defaultPair, cfg.HistoryLimit)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if *all {
		changed, err := service.RepairAll(ctx)
		if err != nil {
			logger.Error("repair failed", zap.Error(err))
			os.Exit(1)
		}
		logger.Info("repair finished", zap.Int64("changed_rows", changed))
		return
	}

	pair, err := service.ResolvePair(*from, *to)
	if err != nil {
		logger.Error("invalid pair", zap.Error(err))
		os.Exit(2)
	}
	corrected, err := service.RepairInvariant(ctx, pair)
	if err != nil {
		logger.Error("repair failed", zap.String("pair", pair.String()), zap.Error(err))
		os.Exit(1)
	}
	logger.Info("repair finished", zap.String("pair", pair.String()), zap.Bool("corrected", corrected))
}
