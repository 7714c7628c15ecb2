// Package main is the entry point for the Helmsman automated trading system.
// The application runs three loops with minimal human intervention:
// - A daily trade cycle that rebalances the portfolio from model signals
// - An on-demand backtest simulator exposed over the HTTP API
// - A crypto triangular arbitrage scanner driven by broker fill events
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aristath/helmsman/internal/clients/alpaca"
	"github.com/aristath/helmsman/internal/clients/yahoo"
	"github.com/aristath/helmsman/internal/config"
	"github.com/aristath/helmsman/internal/database"
	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/modules/allocation"
	"github.com/aristath/helmsman/internal/modules/arbitrage"
	"github.com/aristath/helmsman/internal/modules/backtest"
	"github.com/aristath/helmsman/internal/modules/rebalancing"
	"github.com/aristath/helmsman/internal/modules/trading"
	"github.com/aristath/helmsman/internal/predictor"
	"github.com/aristath/helmsman/internal/reliability"
	"github.com/aristath/helmsman/internal/scheduler"
	"github.com/aristath/helmsman/internal/server"
	"github.com/aristath/helmsman/internal/telemetry"
	"github.com/aristath/helmsman/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().Msg("Starting Helmsman")

	// Two databases with different durability profiles: the trade ledger is
	// the audit trail for real money, backtest runs are rerunnable.
	ledgerDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "ledger.db"),
		Profile: database.ProfileLedger,
		Name:    "ledger",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open ledger database")
	}
	defer ledgerDB.Close()

	cacheDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "cache.db"),
		Profile: database.ProfileCache,
		Name:    "cache",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open cache database")
	}
	defer cacheDB.Close()

	tradeRepo, err := trading.NewTradeRepository(ledgerDB, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize trade repository")
	}

	runStore, err := backtest.NewRunStore(cacheDB, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize backtest run store")
	}

	webhook := telemetry.NewWebhook(cfg.TelemetryWebhookURL, log)

	marketData := yahoo.NewClient(cfg.MarketDataBaseURL, log)

	// Remote model when the prediction service is configured, otherwise the
	// built-in momentum estimator keeps backtests usable.
	var pred domain.Predictor
	if cfg.PredictorServiceURL != "" {
		pred = predictor.NewClient(cfg.PredictorServiceURL, log)
	} else {
		log.Warn().Msg("No prediction service configured, using momentum estimator")
		pred = predictor.NewMomentum(log)
	}

	planner := allocation.NewPlanner(log)
	rebalancer := rebalancing.New(log)
	simulator := backtest.NewSimulator(planner, rebalancer, log)
	backtestService := backtest.NewService(marketData, pred, simulator, runStore, log)

	// Live trading and arbitrage need broker credentials; without them the
	// system still serves backtests and the trade history API.
	var (
		broker           *alpaca.Client
		tradingService   *trading.Service
		arbitrageService *arbitrage.Service
		orderStream      *alpaca.OrderStream
	)

	if cfg.AlpacaAPIKey != "" && cfg.AlpacaAPISecret != "" {
		alpacaCfg := alpaca.Config{
			KeyID:       cfg.AlpacaAPIKey,
			SecretKey:   cfg.AlpacaAPISecret,
			BaseURL:     cfg.AlpacaBaseURL,
			DataBaseURL: cfg.AlpacaDataBaseURL,
		}
		broker = alpaca.NewClient(alpacaCfg, log)

		tradingService = trading.NewService(broker, marketData, pred, planner, tradeRepo, webhook, trading.Config{
			Symbols:           cfg.Symbols,
			HistoryDays:       cfg.HistoryDays,
			MinOrderValue:     cfg.MinOrderValue,
			SellSettleDelay:   cfg.SellSettleDelay,
			PredictionWorkers: cfg.PredictionWorkers,
		}, log)

		if len(cfg.CryptoCurrencies) > 1 {
			arbitrageService = arbitrage.NewService(broker, webhook, arbitrage.Config{
				Pairs:        cyclePairs(cfg.CryptoCurrencies),
				ScanInterval: cfg.ArbitrageScanInterval,
			}, log)

			orderStream = alpaca.NewOrderStream(cfg.AlpacaStreamURL, alpacaCfg, arbitrageService.HandleOrderUpdate, log)
		}
	} else {
		log.Warn().Msg("Alpaca credentials not configured, running in backtest-only mode")
	}

	sched := scheduler.New(log)

	if tradingService != nil {
		job := scheduler.NewDailyTradeJob(tradingService, time.Hour)
		if err := sched.AddJob(cfg.TradeSchedule, job); err != nil {
			log.Fatal().Err(err).Str("schedule", cfg.TradeSchedule).Msg("Failed to register daily trade job")
		}
	}

	if cfg.Backup != nil && cfg.Backup.Bucket != "" {
		backupService, err := reliability.NewBackupService(context.Background(), ledgerDB, reliability.Config{
			Endpoint:  cfg.Backup.Endpoint,
			Region:    cfg.Backup.Region,
			Bucket:    cfg.Backup.Bucket,
			AccessKey: cfg.Backup.AccessKey,
			SecretKey: cfg.Backup.SecretKey,
		}, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize backup service")
		}
		job := scheduler.NewBackupJob(backupService, 15*time.Minute)
		if err := sched.AddJob(cfg.BackupSchedule, job); err != nil {
			log.Fatal().Err(err).Str("schedule", cfg.BackupSchedule).Msg("Failed to register backup job")
		}
	}

	// Interface fields stay nil unless the concrete services exist
	var cycleReporter server.CycleReporter
	var streamStatus server.StreamStatus
	if arbitrageService != nil {
		cycleReporter = arbitrageService
	}
	if orderStream != nil {
		streamStatus = orderStream
	}

	handlers := server.NewHandlers(tradeRepo, backtestService, runStore, cycleReporter, streamStatus, log)
	srv := server.New(server.Config{
		Log:      log,
		Port:     cfg.Port,
		DevMode:  cfg.DevMode,
		Handlers: handlers,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched.Start()

	if orderStream != nil {
		if err := orderStream.Start(); err != nil {
			log.Error().Err(err).Msg("Failed to start order stream, arbitrage fills will not chain")
		}
	}

	if arbitrageService != nil {
		go func() {
			if err := arbitrageService.Run(ctx); err != nil && err != context.Canceled {
				log.Error().Err(err).Msg("Arbitrage loop stopped")
			}
		}()
	}

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	webhook.Log("Helmsman started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down")
	cancel()

	sched.Stop()

	if orderStream != nil {
		if err := orderStream.Stop(); err != nil {
			log.Warn().Err(err).Msg("Order stream did not stop cleanly")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	webhook.Log("Helmsman stopped")
	log.Info().Msg("Shutdown complete")
}

// cyclePairs expands the configured currency list into the cycle map the
// arbitrage scanner prices: every currency can pair with every other one.
func cyclePairs(currencies []string) map[string][]string {
	pairs := make(map[string][]string, len(currencies))
	for _, first := range currencies {
		for _, second := range currencies {
			if first == second {
				continue
			}
			pairs[first] = append(pairs[first], second)
		}
	}
	return pairs
}
