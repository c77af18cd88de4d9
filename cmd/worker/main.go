package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/hugh/dashtenant/internal/database"
	"github.com/hugh/dashtenant/internal/directory"
	"github.com/hugh/dashtenant/internal/tasks"
	"github.com/hugh/dashtenant/pkg/config"
	"github.com/hugh/dashtenant/pkg/queue"
	"github.com/hugh/dashtenant/pkg/util"
	"github.com/joho/godotenv"
)

func main() {
	// Load .env file
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := util.NewLogger(cfg.Server.Env)
	slog.SetDefault(logger)

	logger.Info("starting dashtenant worker")

	// Connect to database
	db, err := database.Connect(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	// The worker mutates through the same gateway so change notifications
	// reach live sessions. No redis client here: sweeps run on the store
	// directly, sessions catch up on their next resolution.
	gateway := directory.NewStore(db, nil, logger)

	// Create Asynq server
	srv := queue.NewServer(&cfg.Redis, 10)

	// Register task handlers
	handler := tasks.NewHandler(db, gateway, logger)
	mux := asynq.NewServeMux()
	handler.RegisterHandlers(mux)

	// Periodic entries
	scheduler := queue.NewScheduler(&cfg.Redis)

	expiryTask, err := tasks.NewInvitationExpiryTask(tasks.InvitationExpiryPayload{BatchNote: "scheduled"})
	if err != nil {
		logger.Error("failed to build expiry task", "error", err)
		os.Exit(1)
	}
	if _, err := scheduler.Register("@every 1h", expiryTask); err != nil {
		logger.Error("failed to schedule expiry task", "error", err)
		os.Exit(1)
	}

	auditTask, err := tasks.NewDirectoryAuditTask(tasks.DirectoryAuditPayload{})
	if err != nil {
		logger.Error("failed to build audit task", "error", err)
		os.Exit(1)
	}
	if _, err := scheduler.Register("@every 6h", auditTask); err != nil {
		logger.Error("failed to schedule audit task", "error", err)
		os.Exit(1)
	}

	go func() {
		if err := scheduler.Run(); err != nil {
			logger.Error("scheduler error", "error", err)
		}
	}()

	// Handle shutdown
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		logger.Info("shutting down worker...")
		scheduler.Shutdown()
		srv.Shutdown()
	}()

	logger.Info("worker started, waiting for tasks...")

	// Start the server
	if err := srv.Run(mux); err != nil {
		logger.Error("worker error", "error", err)
		os.Exit(1)
	}
}
