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
	"rooster-auction/internal/domain"
	"rooster-auction/internal/infrastructure/leader"
	"rooster-auction/internal/infrastructure/mysql"
	natsbus "rooster-auction/internal/infrastructure/nats"
	"rooster-auction/internal/infrastructure/redis"
	"rooster-auction/internal/metrics"
	"rooster-auction/internal/services"
	"rooster-auction/pkg/logger"
	"rooster-auction/pkg/utils"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const version = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New().Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.NewWithLevel(cfg.Log.Level)
	defer log.Sync()
	log.Info("Starting auction service", "config", cfg.GetConfigString())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rdb, err := utils.InitializeRedis(ctx, cfg.Redis)
	if err != nil {
		log.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()
	log.Info("Connected to Redis", "address", cfg.Redis.Address)

	db, err := utils.InitializeMysql(ctx, cfg.MySQL)
	if err != nil {
		log.Error("Failed to connect to MySQL", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Failed to close MySQL connection", "error", err)
		}
	}()
	log.Info("Connected to MySQL")

	if cfg.MySQL.EnsureSchema {
		if err := mysql.EnsureSchema(ctx, db); err != nil {
			log.Error("Failed to ensure schema", "error", err)
			os.Exit(1)
		}
	}

	m := metrics.New()

	auctionRepo := mysql.NewMySQLAuctionRepository(db)
	retryRepo := mysql.NewMySQLRetryJobRepository(db)
	settlement := redis.NewRedisSettlement(rdb, log)

	biddingRuleDao := services.NewBiddingRuleDao(rdb)
	if err := biddingRuleDao.LoadRules(ctx); err != nil {
		log.Error("Failed to load bidding rules", "error", err)
		os.Exit(1)
	}

	leaderElection := leader.NewRedisLeaderElection(rdb, cfg.Leader.Key, cfg.Leader.TTL, log)

	auctionManager := services.NewAuctionManager(auctionRepo, settlement, biddingRuleDao, log)

	var publishers []domain.BidEventPublisher
	if cfg.NATS.Enabled {
		nc, err := utils.InitializeNATS(cfg.NATS, "auction-service", log)
		if err != nil {
			log.Error("Failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer nc.Drain()

		publisher := natsbus.NewBidEventPublisher(nc, log)
		publishers = append(publishers, publisher)
		auctionManager.NotifyEnds(publisher)
		auctionManager.NotifyExtensions(publisher)
		log.Info("Publishing bid events to NATS", "url", cfg.NATS.URL)
	}

	coordinator := services.NewAuctionCoordinator(redis.NewRedisBidStreamFactory(rdb, log), settlement, m, log)
	worker := services.NewPaymentFallbackWorker(coordinator, cfg.BackoffPolicy(), m, log)
	retryScheduler := services.NewCronRetryScheduler(retryRepo, worker, leaderElection, cfg.Instance.ID,
		services.RetrySchedulerConfig{
			PollInterval: cfg.Retry.PollInterval,
			BatchSize:    cfg.Retry.BatchSize,
			LeaseTimeout: cfg.Retry.LeaseTimeout,
			InitialDelay: cfg.Retry.InitialDelay,
		}, log)
	bidService := services.NewBidService(coordinator, retryScheduler, log, publishers...)
	bidService.ExtendOnAccept(auctionManager)
	auctionScheduler := services.NewCronAuctionScheduler(auctionRepo, auctionManager, leaderElection,
		cfg.Instance.ID, cfg.Auction.PollInterval, log)

	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.RequestID())
	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: `{"time":"${time_rfc3339}","id":"${id}","remote_ip":"${remote_ip}","method":"${method}","uri":"${uri}","status":${status},"error":"${error}","latency_human":"${latency_human}"}` + "\n",
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{echo.GET, echo.HEAD, echo.POST, echo.OPTIONS},
		AllowHeaders: []string{
			echo.HeaderOrigin,
			echo.HeaderContentType,
			echo.HeaderAccept,
			echo.HeaderAuthorization,
		},
		MaxAge: 86400,
	}))

	api := e.Group("/api/v1")
	handlers.NewAuctionHandler(auctionManager, log).RegisterRoutes(api)
	handlers.NewBidHandler(bidService, retryScheduler, log).RegisterRoutes(api)

	e.GET("/health", handlers.NewHealthHandler("auction-service", version).Health)
	e.GET("/metrics", echo.WrapHandler(m.Handler()))

	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()

	if err := retryScheduler.Start(runCtx); err != nil {
		log.Error("Failed to start retry scheduler", "error", err)
		os.Exit(1)
	}
	if err := auctionScheduler.Start(runCtx); err != nil {
		log.Error("Failed to start auction scheduler", "error", err)
		os.Exit(1)
	}
	go leaderElection.Campaign(runCtx, cfg.Instance.ID, cfg.Leader.TTL/3)

	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	go func() {
		log.Info("Starting auction service server", "address", serverAddr)
		if err := e.Start(serverAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down auction service...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}
	if err := retryScheduler.Stop(); err != nil {
		log.Error("Failed to stop retry scheduler", "error", err)
	}
	if err := auctionScheduler.Stop(); err != nil {
		log.Error("Failed to stop auction scheduler", "error", err)
	}
	stopRun()
	if err := leaderElection.ReleaseLeadership(shutdownCtx, cfg.Instance.ID); err != nil {
		log.Error("Failed to release leadership", "error", err)
	}

	log.Info("Auction service stopped")
}
