package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/taskflow/telegram-bridge/internal/api"
	"github.com/taskflow/telegram-bridge/internal/config"
	"github.com/taskflow/telegram-bridge/internal/linktoken"
	"github.com/taskflow/telegram-bridge/internal/notification"
	"github.com/taskflow/telegram-bridge/internal/queue"
	"github.com/taskflow/telegram-bridge/internal/repository"
	"github.com/taskflow/telegram-bridge/internal/taskaction"
	"github.com/taskflow/telegram-bridge/internal/telegram"
	"github.com/taskflow/telegram-bridge/internal/webhook"
	"github.com/taskflow/telegram-bridge/internal/workflow"
	"github.com/taskflow/telegram-bridge/pkg/database"
	"github.com/taskflow/telegram-bridge/pkg/utils"
)

func main() {
	// Load configuration
	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting Telegram bridge",
		zap.String("version", "1.0.0"),
		zap.Int("port", cfg.Server.Port))

	if !telegram.ValidateToken(cfg.Telegram.BotToken) {
		logger.Fatal("Bot token has an unexpected format")
	}

	// Initialize database
	db, err := database.New(database.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	// Run migrations
	migrator := database.NewMigrator(db, logger)
	if err := migrator.RunMigrations(cfg.Database.MigrationsDir); err != nil {
		logger.Fatal("Failed to run database migrations", zap.Error(err))
	}

	// Initialize repositories
	accountRepo := repository.NewAccountRepository(db, logger)
	taskRepo := repository.NewTaskRepository(db, logger)

	// Initialize Bot API client
	bot := telegram.NewClient(telegram.Config{
		Token:       cfg.Telegram.BotToken,
		BaseURL:     cfg.Telegram.APIBaseURL,
		Timeout:     cfg.Telegram.APITimeout,
		MaxAttempts: cfg.Telegram.RetryAttempts,
	}, logger)

	// Initialize workflow engine client
	engine := workflow.NewClient(workflow.Config{
		BaseURL: cfg.Workflow.BaseURL,
		APIKey:  cfg.Workflow.APIKey,
		Timeout: cfg.Workflow.Timeout,
	}, logger)

	// Initialize background queue and services
	jobQueue := queue.New(cfg.Telegram.Workers, cfg.Telegram.QueueCapacity, logger)

	linker := linktoken.NewService(accountRepo, cfg.Telegram.TokenTTL, logger)
	executor := taskaction.NewExecutor(taskRepo, accountRepo, engine, bot, jobQueue, logger)

	builder := notification.NewBuilder(cfg.Telegram.Templates, cfg.Telegram.NotificationsEnabled)
	dispatcher := notification.NewDispatcher(builder, bot, jobQueue, logger)

	// Initialize HTTP handlers
	verifier := webhook.NewVerifier(cfg.Telegram.WebhookSecret, cfg.Telegram.AllowedIPs)
	handler := webhook.NewHandler(verifier, accountRepo, linker, executor, bot, cfg.Telegram.BotUsername, cfg.Telegram.NotificationsEnabled, logger)
	apiHandler := api.NewHandler(accountRepo, taskRepo, dispatcher, linker, cfg.Server.APIKey, logger)

	// Set Gin mode based on logger level
	if cfg.Logger.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize HTTP router
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(loggingMiddleware(logger))

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "telegram-bridge",
			"time":    time.Now().Format(time.RFC3339),
		})
	})

	// Webhook and internal API endpoints
	handler.RegisterRoutes(router, cfg.Telegram.WebhookPath)
	apiHandler.RegisterRoutes(router)

	// Start background workers
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	jobQueue.Start(workerCtx)

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	jobQueue.Stop()
	stopWorkers()

	logger.Info("Server exited successfully")
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		)
	}
}
