package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"verifychain/anomaly"
	"verifychain/config"
	"verifychain/db"
	"verifychain/dispute"
	"verifychain/events"
	"verifychain/handlers"
	"verifychain/identity"
	"verifychain/ledger"
	"verifychain/logger"
	"verifychain/metrics"
	"verifychain/oracle"
	"verifychain/ratelimit"
	"verifychain/repository"
	"verifychain/routers"
)

func main() {
	// Optional .env for local runs
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Println("Failed to load .env:", err)
		os.Exit(1)
	}

	defaultPath := os.Getenv("VERIFYCHAIN_CONFIG")
	if defaultPath == "" {
		defaultPath = "config/config.yaml"
	}
	configPath := flag.String("config", defaultPath, "path to the YAML configuration file")
	flag.Parse()

	// Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Println("Config file error:", err)
		os.Exit(1)
	}

	if err := logger.InitLogger(cfg.Log.AppLogFile, cfg.Log.Level); err != nil {
		fmt.Println("Failed to initialize logger:", err)
		os.Exit(1)
	}
	defer logger.Logger.Sync()

	logger.Logger.Info("Starting verification server...", zap.String("environment", cfg.Server.Environment))

	// Connect to LevelDB
	ldb, err := db.NewLevelDB(cfg.LevelDB.Path)
	if err != nil {
		logger.Logger.Fatal("Failed to open leveldb", zap.Error(err))
	}
	defer ldb.Close()

	// Initialize repository; engines see it through the ledger timeout
	repo := repository.NewLedgerRepository(ldb)
	l := ledger.WithTimeout(repo, cfg.Ledger.Timeout)

	// Event sinks
	m := metrics.New()
	sinks := events.Multi{events.NewLogSink(logger.Logger), events.NewMetricsSink(m)}
	if cfg.Events.AMQP.Enabled {
		amqpSink, err := events.DialAMQP(events.AMQPConfig{
			URL:        cfg.Events.AMQP.URL,
			Exchange:   cfg.Events.AMQP.Exchange,
			RoutingKey: cfg.Events.AMQP.RoutingKey,
		})
		if err != nil {
			logger.Logger.Fatal("Failed to connect to AMQP broker", zap.Error(err))
		}
		defer amqpSink.Close()
		sinks = append(sinks, amqpSink)
		logger.Logger.Info("Publishing events to AMQP", zap.String("exchange", cfg.Events.AMQP.Exchange))
	}

	// Rate limiter store
	var (
		store       ratelimit.Store
		memoryStore *ratelimit.MemoryStore
	)
	switch cfg.RateLimit.Backend {
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RateLimit.Redis.Addr,
			Password: cfg.RateLimit.Redis.Password,
			DB:       cfg.RateLimit.Redis.DB,
		})
		defer client.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := client.Ping(ctx).Err()
		cancel()
		if err != nil {
			logger.Logger.Fatal("Failed to connect to redis", zap.String("addr", cfg.RateLimit.Redis.Addr), zap.Error(err))
		}
		store = ratelimit.NewRedisStore(client, cfg.RateLimit.KeyPrefix)
	default:
		memoryStore = ratelimit.NewMemoryStore()
		store = memoryStore
		logger.Logger.Warn("In-memory rate limiting: limits apply per instance")
	}
	limiter, err := ratelimit.New(store, cfg.RateLimit.Limit, cfg.RateLimit.Window)
	if err != nil {
		logger.Logger.Fatal("Failed to build rate limiter", zap.Error(err))
	}

	// Engines
	detector := anomaly.NewDetector(cfg.AnomalyConfig())
	o := oracle.New(l, detector, cfg.OracleConfig())
	engine := dispute.NewEngine(l, cfg.DisputeConfig())

	// Expiry sweeper
	sweeper := dispute.NewSweeper(engine, sinks, cfg.Dispute.SweepSchedule)
	if memoryStore != nil {
		sweeper.AddHook(func(now time.Time) {
			if n := memoryStore.Sweep(now); n > 0 {
				logger.Logger.Debug("Dropped expired rate-limit windows", zap.Int("count", n))
			}
		})
	}
	if err := sweeper.Start(); err != nil {
		logger.Logger.Fatal("Failed to start sweeper", zap.Error(err))
	}
	defer sweeper.Stop()

	resolver, err := identity.NewResolver(cfg.Server.TrustedProxies)
	if err != nil {
		logger.Logger.Fatal("Invalid trusted proxies", zap.Error(err))
	}

	// Initialize HTTP handlers
	h := handlers.NewHandler(o, engine, repo, resolver, handlers.Options{
		Sink:       sinks,
		Metrics:    m,
		Production: cfg.Server.IsProduction(),
	})

	// Setup router
	r := mux.NewRouter()
	if cfg.Server.OperatorToken == "" {
		logger.Logger.Warn("No operator token configured: ledger write routes are disabled")
	}
	routers.RegisterRoutes(r, h, routers.NewAdmission(limiter, resolver, h), routers.NewOperator(cfg.Server.OperatorToken))
	r.Handle("/metrics", m.Handler()).Methods("GET")

	// HTTP Server
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Logger.Error("Server stopped", zap.Error(err))
		}
	}()

	logger.Logger.Info("Server running on port", zap.Int("port", cfg.Server.Port))

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	logger.Logger.Info("Shutdown signal received, exiting...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Logger.Error("Graceful shutdown failed", zap.Error(err))
	}
}
