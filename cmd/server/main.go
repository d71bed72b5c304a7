package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/courtbook/relay/internal/admin"
	"github.com/courtbook/relay/internal/background"
	"github.com/courtbook/relay/internal/broker"
	"github.com/courtbook/relay/internal/config"
	"github.com/courtbook/relay/internal/db"
	"github.com/courtbook/relay/internal/domain"
	"github.com/courtbook/relay/internal/express"
	"github.com/courtbook/relay/internal/handler"
	"github.com/courtbook/relay/internal/jobstore"
	"github.com/courtbook/relay/internal/metrics"
	"github.com/courtbook/relay/internal/notify"
	"github.com/courtbook/relay/internal/queue"
	"github.com/courtbook/relay/internal/ratelimit"
	"github.com/courtbook/relay/internal/worker"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	// ---- configuration ----
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	// ---- database ----
	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err := db.Migrate(cfg.DatabaseURL, cfg.MigrationsPath); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}
	logger.Info("database migrations applied")

	// ---- redis broker ----
	redisClient, err := broker.Connect(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer redisClient.Close() //nolint:errcheck
	b := broker.New(redisClient, cfg.LeaseTimeout)

	// ---- core dependencies ----
	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)
	runner := background.NewRunner(logger)

	store := jobstore.NewPgStore(pool)
	registry := queue.NewRegistry(b, store, logger)

	registry.Register(queue.Config{
		Name:        domain.QueueMediaMove,
		Concurrency: cfg.MediaMoveWorkers,
		MaxAttempts: cfg.DefaultAttempts,
		BackoffBase: cfg.BackoffBase,
		BackoffCap:  cfg.BackoffCap,
	})
	registry.Register(queue.Config{
		Name:        domain.QueueThumbnail,
		Concurrency: cfg.ThumbnailWorkers,
		MaxAttempts: cfg.DefaultAttempts,
		BackoffBase: cfg.BackoffBase,
		BackoffCap:  cfg.BackoffCap,
	})
	registry.Register(queue.Config{
		Name:        domain.QueuePayoutBank,
		Concurrency: cfg.PayoutWorkers,
		MaxAttempts: cfg.DefaultAttempts,
		BackoffBase: cfg.BackoffBase,
		BackoffCap:  cfg.BackoffCap,
	})
	for _, ch := range domain.AllChannels {
		registry.Register(queue.Config{
			Name:        domain.DeliveryQueue(ch),
			Concurrency: cfg.DeliveryWorkers,
			MaxAttempts: cfg.DefaultAttempts,
			BackoffBase: cfg.BackoffBase,
			BackoffCap:  cfg.BackoffCap,
		})
	}

	// ---- job handlers ----
	objectStore, err := handler.NewS3Store(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to create object store client", zap.Error(err))
	}
	mediaMover := handler.NewMediaMover(objectStore, logger)
	thumbnailer := handler.NewThumbnailGenerator(objectStore, cfg.ThumbWidth, cfg.ThumbHeight, logger)

	payoutAccounts := handler.NewPgPayoutAccounts(pool)
	payoutAPI := handler.NewHTTPPayoutAPI(cfg.PayoutAPIBaseURL, cfg.PayoutAPITimeout)
	payoutUpdater := handler.NewPayoutUpdater(payoutAccounts, payoutAPI, logger)

	limiter := ratelimit.New(cfg.SendRatePerSec)
	senders := make(map[domain.Channel]handler.ChannelSender, len(domain.AllChannels))
	for _, ch := range domain.AllChannels {
		senders[ch] = handler.NewHTTPSender(cfg.SenderBaseURL, cfg.SenderTimeout)
	}
	deliveryHandler := handler.NewDeliveryHandler(senders, limiter, logger)

	// ---- worker pool ----
	events := worker.NewEvents(runner)
	events.SubscribeFailed(domain.QueuePayoutBank, payoutUpdater.RollbackOnFailure)

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	workerPool := worker.NewPool(registry, b, store, events, logger, m.WorkerHooks(), worker.Options{
		LeaseTimeout:  cfg.LeaseTimeout,
		PollInterval:  cfg.PollInterval,
		SweepInterval: cfg.SweepInterval,
	})
	workerPool.RegisterHandler(domain.QueueMediaMove, mediaMover.Handle)
	workerPool.RegisterHandler(domain.QueueThumbnail, thumbnailer.Handle)
	workerPool.RegisterHandler(domain.QueuePayoutBank, payoutUpdater.Handle)
	for _, ch := range domain.AllChannels {
		workerPool.RegisterHandler(domain.DeliveryQueue(ch), deliveryHandler.Handle)
	}
	workerPool.Start(workerCtx)

	// ---- notification dispatcher ----
	dispatcher := notify.NewDispatcher(
		notify.NewPgDirectory(pool),
		notify.NewPgStore(pool),
		registry,
		logger,
		m.DispatcherHooks(),
	)

	// ---- express fast path ----
	expressQueue := express.NewQueue(cfg.ExpressHighBuf, cfg.ExpressMedBuf, cfg.ExpressLowBuf)
	drainer := express.NewDrainer(expressQueue,
		handler.NewExpressSender(cfg.SenderBaseURL, cfg.SenderTimeout), logger, m.ExpressHooks())
	runner.Go(workerCtx, "express-drainer", drainer.Run)

	// ---- HTTP server ----
	adminSvc := admin.NewService(registry, b, store, logger)
	router := admin.NewRouter(adminSvc, dispatcher, expressQueue, promReg, logger)
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	// Start server in a goroutine so it does not block the shutdown listener.
	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// ---- graceful shutdown ----
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutdown signal received")

	// 1. Stop accepting new HTTP requests.
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// 2. Signal workers and the drainer to stop taking new work.
	cancelWorkers()

	// 3. Wait for in-flight jobs, then for background tasks.
	workerPool.Wait()
	if err := runner.Wait(shutdownCtx); err != nil {
		logger.Warn("background tasks did not drain in time", zap.Error(err))
	}

	logger.Info("server stopped cleanly")
}
