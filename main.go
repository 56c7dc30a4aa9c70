package main

import (
	"context"
	"errors"
	"net/http"
	"options-market/config"
	"options-market/controllers"
	"options-market/database"
	"options-market/interfaces"
	"options-market/services"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	level, _ := logrus.ParseLevel(cfg.Log.Level)
	logger.SetLevel(level)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("Server exited with error")
	}
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	ctx := context.Background()

	storage, err := database.NewLocalStorage(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer storage.Close()

	tokens := services.NewLedgerTokens(storage)
	for _, address := range cfg.Market.AllTokens() {
		if _, err := tokens.Register(ctx, address); err != nil {
			return err
		}
	}

	engine := cfg.Market.EngineAddress
	if engine == "" {
		engine = services.DeriveAddress(cfg.Market.EngineLabel)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := services.NewMarketMetrics(registry)
	if err != nil {
		return err
	}

	market, err := services.NewOptionsMarket(ctx, services.MarketConfig{
		EngineAddress:      engine,
		TradeCurrency:      cfg.Market.TradeCurrency,
		Treasury:           cfg.Market.Treasury,
		FeePercent:         cfg.Market.FeePercent,
		TokenAmountPerUnit: decimal.NewFromInt(cfg.Market.TokenAmountPerUnit),
		UnitsPerOption:     decimal.NewFromInt(cfg.Market.UnitsPerOption),
	}, tokens.Custodian(engine), storage, metrics)
	if err != nil {
		return err
	}
	market.SetLogger(logger)
	defer market.Close()

	handlers := &controllers.Handlers{
		Options: controllers.NewOptionController(market),
		Trades:  controllers.NewTradeController(market),
		Tokens:  controllers.NewTokenController(tokens, engine, cfg.Market.Faucet),
		Market:  controllers.NewMarketController(market),
		Metrics: registry,
	}

	if cfg.Journal.Enabled {
		journal, err := services.NewEventJournal(cfg.Journal.Dir)
		if err != nil {
			return err
		}
		market.AddPublisher(journal)
		handlers.Journal = controllers.NewJournalController(journal)
	}

	if cfg.Kafka.Enabled {
		producer, err := services.NewKafkaPublisher(services.KafkaConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			MaxRetries:   cfg.Kafka.MaxRetries,
			RetryBackoff: cfg.Kafka.RetryBackoff,
		})
		if err != nil {
			return err
		}
		defer producer.Close()
		market.AddPublisher(producer)
	}

	if cfg.Environment != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      controllers.NewRouter(handlers),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
	monitor := services.NewExpiryMonitor(market, cfg.Market.SweepInterval)

	logger.WithFields(logrus.Fields{
		"addr":           cfg.HTTP.Addr,
		"engine":         engine,
		"trade_currency": interfaces.NormalizeAccount(cfg.Market.TradeCurrency),
		"tokens":         tokens.Addresses(),
		"fee_percent":    cfg.Market.FeePercent,
		"events":         market.EventHead(),
	}).Info("Options market starting")

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return monitor.Run(gctx)
	})

	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case <-quit:
			logger.Info("Shutting down server...")
		case <-gctx.Done():
			logger.Info("Context cancelled, shutting down...")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		// a non-nil error cancels gctx, which stops the monitor
		return errShutdown
	})

	err = g.Wait()
	// drain queued events before the publishers close
	market.Close()
	if err != nil && !errors.Is(err, errShutdown) {
		return err
	}
	logger.Info("Server stopped")
	return nil
}

var errShutdown = errors.New("shutdown requested")
