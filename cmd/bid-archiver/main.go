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

	"rooster-auction/internal/api/handlers"
	"rooster-auction/internal/config"
	"rooster-auction/internal/infrastructure/mysql"
	natsbus "rooster-auction/internal/infrastructure/nats"
	"rooster-auction/internal/services"
	"rooster-auction/pkg/logger"
	"rooster-auction/pkg/utils"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// The bid archiver copies accepted bids from NATS into the MySQL ledger and
// serves the ledger read-only.
func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New().Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.NewWithLevel(cfg.Log.Level)
	defer log.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	db, err := utils.InitializeMysql(ctx, cfg.MySQL)
	if err != nil {
		log.Error("Failed to connect to MySQL", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if cfg.MySQL.EnsureSchema {
		if err := mysql.EnsureSchema(ctx, db); err != nil {
			log.Error("Failed to ensure schema", "error", err)
			os.Exit(1)
		}
	}

	nc, err := utils.InitializeNATS(cfg.NATS, "bid-archiver", log)
	if err != nil {
		log.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer nc.Drain()

	ledger := mysql.NewMySQLBidRepository(db)
	archiver := services.NewBidArchiver(natsbus.NewBidEventConsumer(nc, log), ledger, log)

	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()

	go func() {
		if err := archiver.Start(runCtx); err != nil {
			log.Error("Bid archiver stopped", "error", err)
			os.Exit(1)
		}
	}()

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.RequestID())
	e.Use(middleware.Recover())

	handlers.NewHistoryHandler(ledger, log).RegisterRoutes(e.Group("/api/v1"))
	e.GET("/health", handlers.NewHealthHandler("bid-archiver", "1.0.0").Health)

	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	go func() {
		log.Info("Starting bid archiver server", "address", serverAddr)
		if err := e.Start(serverAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down bid archiver...")
	stopRun()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	log.Info("Bid archiver stopped")
}
