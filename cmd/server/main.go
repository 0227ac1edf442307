package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/irfndi/neuratrade-intraday/internal/alpaca"
	"github.com/irfndi/neuratrade-intraday/internal/api"
	"github.com/irfndi/neuratrade-intraday/internal/config"
	"github.com/irfndi/neuratrade-intraday/internal/database"
	"github.com/irfndi/neuratrade-intraday/internal/engine"
	"github.com/irfndi/neuratrade-intraday/internal/logging"
	"github.com/irfndi/neuratrade-intraday/internal/marketdata"
	"github.com/irfndi/neuratrade-intraday/internal/middleware"
	"github.com/irfndi/neuratrade-intraday/internal/observability"
	"github.com/irfndi/neuratrade-intraday/internal/position"
	"github.com/irfndi/neuratrade-intraday/internal/ratelimit"
	"github.com/irfndi/neuratrade-intraday/internal/risk"
	"github.com/irfndi/neuratrade-intraday/internal/scanner"
	"github.com/irfndi/neuratrade-intraday/internal/strategy"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const serviceName = "intraday-engine"

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Application failed: %v\n", err)
		os.Exit(1)
	}
}

// run loads configuration, wires the engine and serves the control API until
// SIGINT or SIGTERM.
func run() error {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := observability.Init(cfg.Sentry, cfg.Environment, version); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize Sentry: %v\n", err)
	}
	defer observability.Flush(2 * time.Second)

	stdLogger := logging.NewStandardLogger(cfg.LogLevel, cfg.Environment)
	defer func() { _ = stdLogger.Sync() }()
	logger := stdLogger.Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	redisClient := connectRedis(ctx, cfg.Redis, stdLogger.WithComponent("redis"))
	if redisClient != nil {
		defer redisClient.Close()
	}

	sched, broker, err := buildEngine(cfg, redisClient, stdLogger)
	if err != nil {
		return err
	}

	connectCtx, connectCancel := context.WithTimeout(ctx, 10*time.Second)
	if _, err := broker.Connect(connectCtx); err != nil {
		// The keepalive loop keeps retrying; the API stays up meanwhile.
		logger.Warn("Broker unavailable at startup", zap.Error(err))
		observability.CaptureException(ctx, err, map[string]string{"stage": "startup"})
	}
	connectCancel()

	if sched.Config().Enabled {
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("failed to resume engine: %w", err)
		}
		logger.Info("Engine resumed from persisted state")
	}

	var throttleStore *redis.Client
	if redisClient != nil {
		throttleStore = redisClient.Client
	}
	throttle := middleware.NewThrottle(
		middleware.DefaultThrottleConfig(cfg.Server.ControlRequestsPerMinute),
		throttleStore,
		stdLogger.WithComponent("throttle"))

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	api.SetupRoutes(router, api.RouteDeps{
		Engine:   sched,
		Broker:   broker,
		Redis:    redisClient,
		Throttle: throttle,
		Version:  version,
		Logger:   stdLogger.WithComponent("api"),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       15 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		stdLogger.LogStartup(serviceName, version, cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	reason := "signal received"
	select {
	case sig := <-quit:
		reason = sig.String()
	case err := <-serveErr:
		logger.Error("HTTP server failed", zap.Error(err))
		reason = "server error"
	}
	stdLogger.LogShutdown(serviceName, reason)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.Seconds(cfg.Server.ShutdownTimeoutSeconds))
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server forced to shutdown", zap.Error(err))
	}
	if err := sched.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Engine loops did not stop in time", zap.Error(err))
	}

	logger.Info("Server exited gracefully")
	return nil
}

// connectRedis returns nil when Redis is disabled or unreachable; the engine
// then keeps its state in memory.
func connectRedis(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) *database.RedisClient {
	if !cfg.Enabled {
		logger.Info("Redis disabled, using in-memory stores")
		return nil
	}
	client, err := database.NewRedisConnectionWithRetry(ctx, cfg, database.DefaultRetryPolicy(), logger)
	if err != nil {
		logger.Error("Failed to connect to Redis - continuing with in-memory stores", zap.Error(err))
		return nil
	}
	return client
}

// buildEngine wires every engine collaborator from configuration.
func buildEngine(cfg *config.Config, redisClient *database.RedisClient, stdLogger *logging.StandardLogger) (*engine.Scheduler, *alpaca.Broker, error) {
	loc := cfg.Engine.Location()

	trading, data := alpaca.NewClients(cfg.Broker)
	broker := alpaca.NewBroker(trading, config.Seconds(cfg.Broker.ProbeTTLSeconds), stdLogger.WithComponent("broker"))
	feed := alpaca.NewFeed(data, cfg.Broker.DataFeed, cfg.Broker.Watchlist)

	var (
		riskStore risk.StateStore
		planStore position.PlanStore
		locker    engine.OrderLocker
	)
	if redisClient != nil {
		riskStore = risk.NewRedisStateStore(redisClient.Client)
		planStore = position.NewRedisPlanStore(redisClient.Client)
		locker = redisClient
	} else {
		riskStore = risk.NewMemoryStateStore()
		planStore = position.NewMemoryPlanStore()
	}

	limiter := ratelimit.NewLimiter(ratelimit.ConfigFromSettings(cfg.RateLimit), stdLogger.WithComponent("ratelimit"))

	sched, err := engine.New(engine.Dependencies{
		MarketData: marketdata.NewGateway(feed, limiter, cfg.Engine.FetchConcurrency, stdLogger.WithComponent("marketdata")),
		Broker:     broker,
		Aggregator: strategy.NewAggregator(strategy.DefaultRegistry(), stdLogger.WithComponent("strategy")),
		Scanner:    scanner.NewScanner(scanner.ConfigFromSettings(cfg.Scanner, cfg.Position.ATRPeriod), loc),
		Gate:       risk.NewGate(risk.ConfigFromSettings(cfg.Risk), broker, stdLogger.WithComponent("risk_gate")),
		Discipline: risk.NewDiscipline(risk.DisciplineConfigFromSettings(cfg.Risk, cfg.Discipline, loc), riskStore, stdLogger.WithComponent("discipline")),
		Positions: position.NewManager(
			position.LadderConfigFromSettings(cfg.Position),
			decimal.NewFromFloat(cfg.Position.TrailMultiplier),
			planStore,
			stdLogger.WithComponent("positions")),
		Store:  engine.NewConfigStore(cfg.Engine.StateFile, engine.ConfigFromSettings(cfg.Engine), stdLogger.WithComponent("config_store")),
		Locker: locker,
	}, engine.SettingsFromConfig(cfg), stdLogger.Logger())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build engine: %w", err)
	}
	return sched, broker, nil
}
