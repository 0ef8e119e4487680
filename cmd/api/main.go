package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/intent-curator/backend/internal/api"
	"github.com/intent-curator/backend/internal/cache/redis"
	"github.com/intent-curator/backend/internal/events"
	"github.com/intent-curator/backend/internal/judge"
	"github.com/intent-curator/backend/internal/kg/neo4j"
	"github.com/intent-curator/backend/internal/llm"
	"github.com/intent-curator/backend/internal/metrics"
	"github.com/intent-curator/backend/internal/middleware/ratelimit"
	"github.com/intent-curator/backend/internal/middleware/security"
	"github.com/intent-curator/backend/internal/runner"
	"github.com/intent-curator/backend/internal/segment"
	"github.com/intent-curator/backend/internal/storage/sqlite"
	"github.com/intent-curator/backend/pkg/config"
	appLogger "github.com/intent-curator/backend/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to curator.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := appLogger.New(appLogger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	})
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting intent curator API server")

	if err := os.MkdirAll(cfg.Server.DataDir, 0o755); err != nil {
		logger.Fatal("Failed to create data directory", zap.Error(err))
	}

	m := metrics.New()
	hub := events.NewHub(logger.Named("hub"))
	sinks := []events.Sink{m, hub}
	deps := api.Deps{Hub: hub, Metrics: m.Handler(), DataDir: cfg.Server.DataDir, Logger: logger}

	var store runner.Store
	if cfg.SQLite.Enabled {
		sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path, logger.Named("sqlite"))
		if err != nil {
			logger.Fatal("Failed to create SQLite client", zap.Error(err))
		}
		defer sqliteClient.Close()

		if err := sqliteClient.InitSchema(); err != nil {
			logger.Fatal("Failed to initialize schema", zap.Error(err))
		}
		store = sqliteClient
		deps.History = sqliteClient
		sinks = append(sinks, sqliteClient)
	}

	if cfg.Redis.Enabled {
		redisClient, err := redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB, logger.Named("redis"))
		if err != nil {
			logger.Fatal("Failed to create Redis client", zap.Error(err))
		}
		defer redisClient.Close()

		deps.Progress = redisClient
		sinks = append(sinks, redisClient)
	}

	if cfg.Neo4j.Enabled {
		neo4jClient, err := neo4j.NewClient(
			cfg.Neo4j.URI,
			cfg.Neo4j.Username,
			cfg.Neo4j.Password,
			cfg.Neo4j.Database,
			logger.Named("neo4j"),
		)
		if err != nil {
			logger.Fatal("Failed to create Neo4j client", zap.Error(err))
		}
		defer neo4jClient.Close(context.Background())

		deps.Lineage = neo4jClient
		sinks = append(sinks, neo4jClient)
	}

	llmClient := llm.NewClient(cfg.LLM, logger.Named("llm"),
		llm.WithBreakerObserver(m.ObserveBreaker),
		llm.WithUsageObserver(m.ObserveUsage),
	)

	judgeOpts := judge.OptionsFromConfig(cfg.Judge)
	judgeOpts.OnAttempt = m.ObserveJudgeAttempt
	scorer := judge.New(llmClient, judgeOpts, logger.Named("judge"))

	seg, err := segment.ByName(cfg.Novelty.Segmenter)
	if err != nil {
		logger.Fatal("Failed to create segmenter", zap.Error(err))
	}

	serverCtx, stopServer := context.WithCancel(context.Background())
	defer stopServer()

	runs := runner.New(runner.Deps{
		Config:      cfg,
		Scorer:      scorer,
		Generator:   llmClient,
		Segmenter:   seg,
		Store:       store,
		Sink:        events.Multi(sinks...),
		BaseContext: serverCtx,
	}, logger.Named("runner"))
	deps.Runs = runs

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequests:    10,
		WindowDuration: time.Minute,
		Logger:         logger.Named("ratelimit"),
	})
	defer limiter.Stop()
	deps.RunLimiter = limiter

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		IsDevelopment: cfg.Logging.Level == "debug",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, X-Client-ID",
		AllowMethods: "GET, POST, DELETE, OPTIONS",
	}))

	api.Register(app, deps)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	logger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			logger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Server shutting down gracefully...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.Warn("HTTP shutdown incomplete", zap.Error(err))
	}
	if err := runs.Shutdown(ctx); err != nil {
		logger.Warn("Runs still active at shutdown", zap.Error(err))
	}
	logger.Info("Server stopped")
}
