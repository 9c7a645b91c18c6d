package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/sheet-agent/backend/internal/api/handlers"
	"github.com/sheet-agent/backend/internal/cache/redis"
	"github.com/sheet-agent/backend/internal/exec"
	"github.com/sheet-agent/backend/internal/knowledge"
	"github.com/sheet-agent/backend/internal/llm"
	"github.com/sheet-agent/backend/internal/metrics"
	"github.com/sheet-agent/backend/internal/middleware/ratelimit"
	"github.com/sheet-agent/backend/internal/middleware/security"
	"github.com/sheet-agent/backend/internal/middleware/validation"
	"github.com/sheet-agent/backend/internal/pipeline"
	"github.com/sheet-agent/backend/internal/recon"
	"github.com/sheet-agent/backend/internal/selector"
	"github.com/sheet-agent/backend/internal/sheets"
	"github.com/sheet-agent/backend/internal/storage/sqlite"
	"github.com/sheet-agent/backend/pkg/config"
	appLogger "github.com/sheet-agent/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting Sheet Agent API Server")

	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	err = sqliteClient.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = redis.NewClient(
			cfg.Redis.Host,
			cfg.Redis.Port,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.TTLSec,
		)
		if err != nil {
			appLogger.Warn("Redis unavailable, analysis cache disabled", zap.Error(err))
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	llmClient := llm.NewClient(
		cfg.LLM.APIKey,
		cfg.LLM.BaseURL,
		cfg.LLM.Model,
		cfg.LLM.Temperature,
		cfg.LLM.MaxTokens,
		cfg.LLM.TimeoutSec,
	)

	scanner := sheets.NewScanner(cfg.Sheets.Dir)
	base := knowledge.NewBase(sqliteClient, llmClient)
	if err := base.Load(); err != nil {
		appLogger.Fatal("Failed to load knowledge base", zap.Error(err))
	}

	tables := recon.NewCache(sqliteClient, llmClient)
	fileSelector := selector.New(base, llmClient)
	runner := exec.NewSandboxClient(cfg.Runner.Endpoint, cfg.Runner.TimeoutSec)
	orchestrator := pipeline.NewOrchestrator(fileSelector, scanner, tables, llmClient, runner, sqliteClient)

	// Bring summaries up to date before accepting traffic so the first
	// request does not pay for a full knowledge base refresh.
	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 5*time.Minute)
	if files, err := scanner.ListFiles(); err != nil {
		appLogger.Warn("Failed to scan spreadsheet directory", zap.Error(err))
	} else if err := base.EnsureUpToDate(startupCtx, files); err != nil {
		appLogger.Warn("Knowledge base refresh incomplete", zap.Error(err))
	}
	cancelStartup()

	pruneStop := make(chan struct{})
	go pruneLoop(tables, scanner, time.Duration(cfg.Sheets.RetentionDays)*24*time.Hour, pruneStop)

	limiter := ratelimit.New(ratelimit.Config{
		TokensPerMinute: 60,
		Logger:          appLogger.GetLogger(),
	})
	defer limiter.Stop()

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, OPTIONS",
	}))
	app.Use(security.Middleware(security.HeadersConfig{}))

	filesHandler := handlers.NewFilesHandler(scanner, sqliteClient)
	analyzeHandler := handlers.NewAnalyzeHandler(orchestrator, redisClient, sqliteClient, cfg.Sheets.MinQuestionLen)
	voiceHandler := handlers.NewVoiceHandler(orchestrator, cfg.Sheets.MinQuestionLen)
	artifactsHandler := handlers.NewArtifactsHandler(cfg.Sheets.OutputDir)

	validate := validation.Middleware(validation.Config{})

	api := app.Group("/api/v1")

	api.Get("/files", limiter.Middleware(1), filesHandler.ListFiles)
	api.Post("/analyze", limiter.Middleware(10), validate, analyzeHandler.Analyze)
	api.Get("/analyze/stream", limiter.Middleware(10), validate, analyzeHandler.StreamAnalyze)
	api.Get("/analyze/history", limiter.Middleware(1), analyzeHandler.History)
	api.Get("/artifacts", limiter.Middleware(1), artifactsHandler.List)

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

	app.Get("/metrics", metrics.MetricsHandler())

	app.Static("/output", cfg.Sheets.OutputDir)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/voice", websocket.New(voiceHandler.Handle))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	close(pruneStop)
	app.Shutdown()
	appLogger.Info("Server stopped")
}

// pruneLoop evicts cached tables whose source file changed or vanished,
// and any entry older than maxAge.
func pruneLoop(tables *recon.Cache, scanner *sheets.Scanner, maxAge time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if n := tables.PruneStale(scanner, maxAge); n > 0 {
				appLogger.Info("Pruned stale reconstructions", zap.Int("count", n))
			}
		}
	}
}
