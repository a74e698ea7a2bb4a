package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gantryd/gantry/internal/application/scheduler"
	"github.com/gantryd/gantry/internal/application/work"
	"github.com/gantryd/gantry/internal/config"
	eventsmemory "github.com/gantryd/gantry/pkg/adapters/events/memory"
	eventsredis "github.com/gantryd/gantry/pkg/adapters/events/redis"
	"github.com/gantryd/gantry/pkg/adapters/metrics/prometheus"
	resultsmemory "github.com/gantryd/gantry/pkg/adapters/results/memory"
	resultsredis "github.com/gantryd/gantry/pkg/adapters/results/redis"
	"github.com/gantryd/gantry/pkg/api/grpc"
	"github.com/gantryd/gantry/pkg/api/http"
	"github.com/gantryd/gantry/pkg/api/websocket"
	"github.com/gantryd/gantry/pkg/ports"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Version is set by build flags
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := initLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("starting Gantry scheduler",
		zap.String("version", Version),
		zap.String("build_time", BuildTime))

	// Initialize adapters: Redis-backed when enabled, in-memory otherwise
	var (
		sink        ports.ResultSink
		eventBus    ports.EventBus
		redisClient *goredis.Client
	)

	if cfg.Redis.Enabled {
		redisClient = goredis.NewClient(&goredis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			MaxRetries:   cfg.Redis.MaxRetries,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})

		// Test Redis connection
		ctx := context.Background()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("failed to connect to Redis", zap.Error(err))
		}
		logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))

		bus, err := eventsredis.NewStreamsEventBus(
			redisClient,
			"gantry-observers",
			fmt.Sprintf("gantry-%d", os.Getpid()),
			logger,
		)
		if err != nil {
			logger.Fatal("failed to create event bus", zap.Error(err))
		}
		eventBus = bus
		sink = resultsredis.NewSink(redisClient, cfg.Scheduler.ResultTTL, logger)
	} else {
		logger.Info("Redis disabled, using in-memory adapters")
		eventBus = eventsmemory.NewBus()
		sink = resultsmemory.NewSink()
	}

	metricsCollector := prometheus.NewCollector()

	// Initialize application components
	handlers := work.NewRegistry()
	engine := scheduler.NewEngine(sink, eventBus, metricsCollector, logger)

	// Initialize API servers
	httpServer := http.NewServer(&http.Config{
		Port:               cfg.HTTPPort,
		Engine:             engine,
		Sink:               sink,
		Handlers:           handlers,
		Logger:             logger,
		DefaultDeadline:    cfg.Scheduler.DefaultDeadline,
		DefaultConcurrency: cfg.Scheduler.MaxConcurrency,
	})

	// Add WebSocket handler to HTTP server
	wsHandler := websocket.NewHandler(eventBus, logger)
	httpServer.SetupWebSocket(wsHandler)

	grpcServer, err := grpc.NewServer(&grpc.Config{
		Port:   cfg.GRPCPort,
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("failed to create gRPC server", zap.Error(err))
	}

	// Start servers
	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	go func() {
		if err := grpcServer.Start(); err != nil {
			logger.Fatal("gRPC server failed", zap.Error(err))
		}
	}()

	logger.Info("Gantry scheduler started",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("grpc_port", cfg.GRPCPort),
		zap.Int("max_concurrency", cfg.Scheduler.MaxConcurrency))

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.ShutdownTimeout)
	defer cancel()

	// Shutdown components
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if err := grpcServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("gRPC server shutdown error", zap.Error(err))
	}

	if err := engine.Shutdown(shutdownCtx); err != nil {
		logger.Error("engine shutdown error", zap.Error(err))
	}

	if err := eventBus.Close(); err != nil {
		logger.Error("event bus close error", zap.Error(err))
	}

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error("Redis close error", zap.Error(err))
		}
	}

	logger.Info("Gantry scheduler shut down complete")
}

// initLogger initializes the logger based on log level
func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}

	return logger
}
