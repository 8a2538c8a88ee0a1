package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/swagger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"sandbox-runner-server/config"
	"sandbox-runner-server/handlers"
	"sandbox-runner-server/middleware"
	"sandbox-runner-server/models"
	"sandbox-runner-server/services"

	_ "sandbox-runner-server/docs"
)

const shutdownTimeout = 30 * time.Second

// @title Sandbox Runner API
// @version 1.0
// @description Isolated, network-less execution of shell, Python and Node.js code in single-use containers
// @host localhost:8080
// @BasePath /api
func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	setupLogging(cfg)

	// Container runtime
	runtime, err := services.NewDockerRuntime(context.Background(), cfg.DockerHost)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to container runtime")
	}
	defer runtime.Close()

	workspaces, err := services.NewWorkspaceStore(cfg.WorkspaceRoot, cfg.HostWorkspaceRoot)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize workspace root")
	}

	gate, err := services.NewSafetyGate(cfg.DenyPatterns)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid deny pattern")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := services.NewMetrics(registry)

	// Redis backs the result cache and mirrors live output to pub/sub
	var (
		redisService *services.RedisService
		sink         services.RelaySink
		store        services.ResultStore
	)
	if cfg.CacheEnabled() {
		redisService, err = services.NewRedisService(cfg.RedisURL, cfg.XRayEnabled)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid Redis configuration")
		}
		defer redisService.Close()
		if err := redisService.Ping(context.Background()); err != nil {
			log.Warn().Err(err).Msg("Redis unreachable, cache will retry")
		}
		sink, store = redisService, redisService
		log.Info().Str("redis", redactURL(cfg.RedisURL)).Msg("Result cache enabled")
	} else {
		log.Info().Msg("Result cache disabled")
	}
	relay := services.NewOutputRelay(sink, metrics.RelayDropped.Inc)
	defer relay.Close()

	// Optional execution history
	var history services.ExecutionHistory
	if cfg.HistoryEnabled() {
		historyService, err := services.NewHistoryService(cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer historyService.Close()

		if err := historyService.InitSchema(context.Background()); err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize database schema")
		}
		history = historyService
		log.Info().Str("db", cfg.DBHost).Msg("Execution history enabled")
	}

	// Optional output archive
	archive, err := services.NewStorageService(cfg.ArchiveType, cfg.ArchivePath, cfg.XRayEnabled)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize output archive")
	}
	if archive != nil {
		log.Info().Str("type", cfg.ArchiveType).Str("path", cfg.ArchivePath).Msg("Output archive enabled")
	}

	manager := services.NewSandboxManager(services.ManagerConfig{
		Images: map[models.Language]string{
			models.LanguageShell:  cfg.Image,
			models.LanguagePython: cfg.PythonImage,
			models.LanguageNode:   cfg.NodeImage,
		},
		Limits: models.ResourceLimits{
			MemoryBytes: cfg.MemoryBytes,
			NanoCPUs:    cfg.NanoCPUs(),
			PidsLimit:   cfg.PidsLimit,
		},
		DefaultTimeout:   cfg.DefaultTimeout,
		MaxTimeout:       cfg.MaxTimeout,
		CacheTTL:         cfg.CacheTTL,
		MaxOutputBytes:   cfg.MaxOutputBytes,
		SafetyCheckShell: cfg.SafetyCheckShell,
	}, services.ManagerDeps{
		Runtime:    runtime,
		Cache:      services.NewResultCache(store),
		Workspaces: workspaces,
		Gate:       gate,
		Relay:      relay,
		History:    history,
		Archive:    archive,
		Metrics:    metrics,
	})

	reaper := services.NewSessionReaper(manager, cfg.SessionIdleTTL, cfg.ReapInterval)
	reaper.Start()

	sandboxHandler := handlers.NewSandboxHandler(manager)

	// Fiber App
	app := fiber.New(fiber.Config{
		AppName: "Sandbox Runner",
		// Executions may run up to MaxTimeout
		ReadTimeout:  cfg.MaxTimeout + time.Minute,
		WriteTimeout: 0,
	})

	// Middleware
	app.Use(logger.New())
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))
	if cfg.XRayEnabled {
		app.Use(middleware.XRayMiddleware())
	}

	// Swagger
	app.Get("/swagger/*", swagger.HandlerDefault)

	// Health and metrics
	app.Get("/health", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if err := runtime.Ping(ctx); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "DOWN", "error": err.Error()})
		}
		return c.JSON(fiber.Map{"status": "UP"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	// API routes
	api := app.Group("/api")

	execute := api.Group("/execute", middleware.ConcurrencyLimiter(cfg.MaxSessions))
	execute.Post("/", sandboxHandler.ExecuteShell)
	execute.Post("/python", sandboxHandler.ExecutePython)
	execute.Post("/node", sandboxHandler.ExecuteNode)

	api.Post("/sessions", sandboxHandler.CreateSession)
	api.Delete("/sessions/:sessionId", sandboxHandler.CleanupSession)
	api.Post("/sessions/:sessionId/files", sandboxHandler.WriteFile)
	api.Get("/sessions/:sessionId/files", sandboxHandler.ListFiles)
	api.Get("/sessions/:sessionId/files/content", sandboxHandler.ReadFile)
	api.Get("/sessions/:sessionId/stream", sandboxHandler.StreamOutput)
	api.Get("/sessions/:sessionId/executions", sandboxHandler.ListExecutions)
	api.Get("/sessions/:sessionId/executions/:executionId/log", sandboxHandler.GetExecutionLog)
	api.Get("/executions/:executionId", sandboxHandler.GetExecution)

	api.Post("/processes/:processId/kill", sandboxHandler.KillProcess)
	api.Get("/stats", sandboxHandler.GetStats)

	go func() {
		log.Info().
			Str("port", cfg.ServerPort).
			Str("image", cfg.Image).
			Str("workspace_root", workspaces.Root()).
			Int("max_sessions", cfg.MaxSessions).
			Msg("Sandbox Runner starting")
		if err := app.Listen(":" + cfg.ServerPort); err != nil {
			log.Fatal().Err(err).Msg("Server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Error().Err(err).Msg("HTTP shutdown")
	}
	reaper.Stop()
	if err := manager.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Sandbox shutdown")
	}
}

func setupLogging(cfg *config.Config) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if cfg.LogFormat == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

// redactURL hides the password of a connection string for logging
func redactURL(raw string) string {
	at := strings.LastIndex(raw, "@")
	scheme := strings.Index(raw, "://")
	if at < 0 || scheme < 0 {
		return raw
	}
	creds := raw[scheme+3 : at]
	if i := strings.Index(creds, ":"); i >= 0 {
		creds = creds[:i] + ":***"
	}
	return raw[:scheme+3] + creds + raw[at:]
}
