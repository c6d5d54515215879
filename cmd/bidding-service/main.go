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

	"rooster-auction/internal/api/middleware"
	"rooster-auction/internal/config"
	"rooster-auction/internal/domain"
	"rooster-auction/internal/infrastructure/leader"
	"rooster-auction/internal/infrastructure/mysql"
	natsbus "rooster-auction/internal/infrastructure/nats"
	"rooster-auction/internal/infrastructure/redis"
	"rooster-auction/internal/infrastructure/streamsource"
	"rooster-auction/internal/infrastructure/websocket"
	"rooster-auction/internal/metrics"
	"rooster-auction/internal/services"
	"rooster-auction/pkg/logger"
	"rooster-auction/pkg/utils"

	"github.com/gorilla/mux"
	"github.com/nats-io/nats.go"
)

// The bidding service serves the live feed. It observes bids through the
// configured stream driver and places bids interactively; failed
// settlements are queued for the auction service's retry scheduler.
func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New().Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.NewWithLevel(cfg.Log.Level)
	defer log.Sync()
	log.Info("Starting bidding service", "config", cfg.GetConfigString())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rdb, err := utils.InitializeRedis(ctx, cfg.Redis)
	if err != nil {
		log.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()

	db, err := utils.InitializeMysql(ctx, cfg.MySQL)
	if err != nil {
		log.Error("Failed to connect to MySQL", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	var nc *nats.Conn
	if cfg.NATS.Enabled || cfg.Stream.Driver == config.StreamDriverNATS {
		nc, err = utils.InitializeNATS(cfg.NATS, "bidding-service", log)
		if err != nil {
			log.Error("Failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer nc.Drain()
	}

	streams, err := streamsource.NewFactory(cfg.Stream, streamsource.Backends{Redis: rdb, NATS: nc}, log)
	if err != nil {
		log.Error("Failed to configure bid stream", "error", err)
		os.Exit(1)
	}

	m := metrics.New()

	auctionRepo := mysql.NewMySQLAuctionRepository(db)
	retryRepo := mysql.NewMySQLRetryJobRepository(db)
	settlement := redis.NewRedisSettlement(rdb, log)
	leaderElection := leader.NewRedisLeaderElection(rdb, cfg.Leader.Key, cfg.Leader.TTL, log)

	coordinator := services.NewAuctionCoordinator(streams, settlement, m, log)
	worker := services.NewPaymentFallbackWorker(coordinator, cfg.BackoffPolicy(), m, log)
	// Only enqueues here. The auction service polls the queue.
	retryQueue := services.NewCronRetryScheduler(retryRepo, worker, leaderElection, cfg.Instance.ID,
		services.RetrySchedulerConfig{InitialDelay: cfg.Retry.InitialDelay}, log)

	// Extension only reads the auction record and the order book, so the
	// default increment tiers are enough here.
	auctionManager := services.NewAuctionManager(auctionRepo, settlement, services.NewBiddingRuleDao(rdb), log)

	var publishers []domain.BidEventPublisher
	if cfg.NATS.Enabled {
		publisher := natsbus.NewBidEventPublisher(nc, log)
		publishers = append(publishers, publisher)
		auctionManager.NotifyExtensions(publisher)
	}
	bidService := services.NewBidService(coordinator, retryQueue, log, publishers...)
	bidService.ExtendOnAccept(auctionManager)

	connManager := websocket.NewConnectionManager(log)
	feed := websocket.NewFeedHandler(coordinator, bidService, auctionRepo, connManager, m,
		websocket.FeedConfig{BidRate: cfg.Feed.BidRate, BidBurst: cfg.Feed.BidBurst}, log)
	auctionManager.NotifyExtensions(feed)

	router := mux.NewRouter()
	router.Use(middleware.RequestLogger(log), middleware.CORS(log))

	feed.RegisterRoutes(router)
	router.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods(http.MethodGet)

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Info("Starting bidding service server", "address", server.Addr, "stream_driver", cfg.Stream.Driver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down bidding service...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	// Hijacked websocket connections are not closed by Shutdown.
	if err := connManager.CloseAll(); err != nil {
		log.Warn("Failed to close some feed connections", "error", err)
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	log.Info("Bidding service stopped")
}
