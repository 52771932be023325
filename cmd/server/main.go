package main

import (
	"context"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/shopspring/decimal"
	"github.com/trogers1052/trading-engine/internal/api"
	"github.com/trogers1052/trading-engine/internal/config"
	"github.com/trogers1052/trading-engine/internal/database"
	"github.com/trogers1052/trading-engine/internal/engine"
	"github.com/trogers1052/trading-engine/internal/exchange"
	"github.com/trogers1052/trading-engine/internal/intake"
	"github.com/trogers1052/trading-engine/internal/kafka"
	"github.com/trogers1052/trading-engine/internal/models"
	"github.com/trogers1052/trading-engine/internal/observability"
	"github.com/trogers1052/trading-engine/internal/orders"
	"github.com/trogers1052/trading-engine/internal/performance"
	"github.com/trogers1052/trading-engine/internal/portfolio"
	"github.com/trogers1052/trading-engine/internal/redis"
	"github.com/trogers1052/trading-engine/internal/riskconfig"
	"github.com/trogers1052/trading-engine/internal/riskevents"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Keep recent log lines in memory for the dashboard's log tail
	logBuffer := observability.NewLogBuffer(1000)
	log.SetOutput(io.MultiWriter(os.Stderr, logBuffer))

	startedAt := time.Now().UTC()

	// Connect to database
	db, err := database.New(cfg.Database.ConnectionString())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Run migrations
	if err := runMigrations(cfg.Database.ConnectionString()); err != nil {
		log.Fatalf("Failed to run database migrations: %v", err)
	}
	log.Println("Connected to PostgreSQL database")

	// Connect to Redis
	redisClient, err := redis.New(cfg.Redis)
	if err != nil {
		log.Printf("Warning: Failed to connect to Redis: %v (continuing without cache)", err)
		redisClient = nil
	} else {
		defer redisClient.Close()
		log.Println("Connected to Redis cache")
	}

	// Kafka producers: lifecycle/risk events and simulated execution reports
	eventsProducer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.EventsTopic)
	defer eventsProducer.Close()
	executionsProducer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.ExecutionsTopic)
	defer executionsProducer.Close()
	log.Printf("Kafka producers initialized (brokers: %v)", cfg.Kafka.Brokers)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Restore the balance ledger
	var valuations portfolio.ValuationCache
	if redisClient != nil {
		valuations = redisClient
	}
	ledger := portfolio.NewLedger(db, valuations, db)
	if err := ledger.Load(ctx); err != nil {
		log.Fatalf("Failed to load portfolio balances: %v", err)
	}
	if cfg.Engine.Testnet && len(ledger.Snapshot()) == 0 {
		seed := decimal.NewFromFloat(cfg.Engine.PaperSeedBalance)
		if err := ledger.Deposit(ctx, cfg.Engine.QuoteAsset, seed); err != nil {
			log.Fatalf("Failed to seed paper balance: %v", err)
		}
		log.Printf("Seeded paper balance: %s %s", seed, cfg.Engine.QuoteAsset)
	}

	// Versioned risk limits, seeded from env defaults on first start
	riskService, err := riskconfig.NewService(ctx, db, models.RiskConfigVersion{
		MaxTradesPerDay:    cfg.Risk.MaxTradesPerDay,
		CooldownSec:        cfg.Risk.CooldownSec,
		DailyMaxLoss:       decimal.NewFromFloat(cfg.Risk.DailyMaxLoss),
		DailyTrailDrawdown: cfg.Risk.DailyTrailDrawdown,
		AdvisorThreshold:   cfg.Risk.AdvisorThreshold,
	})
	if err != nil {
		log.Fatalf("Failed to load risk config: %v", err)
	}

	recorder := riskevents.NewRecorder(db, eventsProducer)
	aggregator := performance.NewAggregator(db, cfg.Engine.SharpeWindowDays)
	if err := aggregator.Load(ctx, db); err != nil {
		log.Fatalf("Failed to restore performance metrics: %v", err)
	}

	// Paper exchange fills orders by publishing execution reports, which
	// flow back through the executions consumer like real venue fills.
	paper := exchange.NewPaper(executionsProducer, cfg.Engine.QuoteAsset, cfg.Engine.PaperFillLatency)

	manager := orders.NewManager(paper, db, ledger, aggregator, recorder, eventsProducer, orders.Options{
		QuoteAsset:        cfg.Engine.QuoteAsset,
		ExchangeTimeout:   cfg.Engine.ExchangeTimeout,
		ReconcileAttempts: cfg.Engine.ReconcileAttempts,
		ReconcileBackoff:  cfg.Engine.ReconcileBackoff,
	})

	signalIntake := intake.New(db, cfg.Engine.Account)

	riskEngine := engine.New(riskService, ledger, db, aggregator, recorder, manager, db,
		cfg.Engine.QuoteAsset, cfg.Engine.MaxPositionFraction)
	go riskEngine.Run(ctx, signalIntake.Unprocessed(), cfg.Engine.IntakePollInterval)
	log.Printf("Signal engine started (account: %s, poll: %s)", cfg.Engine.Account, cfg.Engine.IntakePollInterval)

	// Create and start Kafka consumer for execution reports
	consumer := kafka.NewExecutionsConsumer(
		cfg.Kafka.Brokers,
		cfg.Kafka.ExecutionsTopic,
		cfg.Kafka.ConsumerGroup,
		manager,
	)
	go func() {
		log.Printf("Starting Kafka executions consumer for topic: %s (group: %s-executions)",
			cfg.Kafka.ExecutionsTopic, cfg.Kafka.ConsumerGroup)
		if err := consumer.Start(ctx); err != nil {
			log.Printf("Kafka executions consumer error: %v", err)
		}
	}()

	// Heartbeat so the dashboard can tell a wedged engine from a healthy one
	if redisClient != nil {
		go func() {
			ticker := time.NewTicker(15 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case now := <-ticker.C:
					if err := redisClient.SetHeartbeat(ctx, now.UTC()); err != nil {
						log.Printf("Warning: failed to write heartbeat: %v", err)
					}
				}
			}
		}()
	}

	// Set up HTTP handler and routes
	mode := "paper"
	if !cfg.Engine.Testnet {
		mode = "live"
	}
	var heartbeat api.Heartbeat
	if redisClient != nil {
		heartbeat = redisClient
	}
	handler := api.NewHandler(db, riskService, recorder, aggregator, ledger, signalIntake, heartbeat, logBuffer, db, api.StatusInfo{
		Mode:        mode,
		Testnet:     cfg.Engine.Testnet,
		Version:     cfg.Server.Version,
		Environment: cfg.Server.Environment,
		StartedAt:   startedAt,
	})
	router := api.SetupRoutes(handler)

	// Create HTTP server
	addr := cfg.Server.Host + ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Starting server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Cancel context to stop the engine loop and Kafka consumer
	cancel()

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	// Close Kafka consumer and wait for in-flight reconciliations
	if err := consumer.Close(); err != nil {
		log.Printf("Error closing Kafka executions consumer: %v", err)
	}
	manager.Drain()

	log.Println("Server stopped")
}

func runMigrations(databaseUrl string) error {
	// The "file://" prefix tells the migrate library to use the file driver
	m, err := migrate.New(
		"file://./db/migrations",
		databaseUrl)
	if err != nil {
		return err
	}

	// Apply all available migrations up to the latest version
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}

	return nil
}