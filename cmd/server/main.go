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

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"pathway-backend/internal/bootstrap"
	"pathway-backend/internal/catalog"
	"pathway-backend/internal/clock"
	"pathway-backend/internal/config"
	"pathway-backend/internal/database"
	"pathway-backend/internal/handlers"
	"pathway-backend/internal/logger"
	"pathway-backend/internal/middleware"
	"pathway-backend/internal/router"
	"pathway-backend/internal/services"
	"pathway-backend/internal/websocket"
	"pathway-backend/internal/worker"
)

func main() {
	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", "error", err)
	}
	log.Info("starting Pathway engagement backend", "env", cfg.Env, "store", cfg.StoreBackend)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ──── Step 2: Open the Store ────
	stores, err := bootstrap.OpenStores(ctx, cfg, true, log)
	if err != nil {
		log.Fatal("store initialization failed", "backend", cfg.StoreBackend, "error", err)
	}
	defer stores.Close()
	log.Info("store ready", "backend", stores.Backend)

	// ──── Step 3: Initialize Redis Clients (optional) ────
	var redisClients *database.RedisClients
	if cfg.RedisURL != "" {
		redisClients, err = database.NewRedisClients(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatal("redis connection failed", "error", err)
		}
		defer redisClients.Close()
		log.Info("redis connected")
	} else {
		log.Warn("REDIS_URL not set; events are applied inline and realtime updates reach this instance only")
	}

	// ──── Step 4: Load the Step Catalog ────
	steps := catalog.Empty()
	if cfg.CatalogPath != "" {
		steps, err = catalog.Load(cfg.CatalogPath)
		if err != nil {
			log.Fatal("catalog load failed", "path", cfg.CatalogPath, "error", err)
		}
	}
	log.Info("step catalog loaded", "steps", steps.Len())

	// ──── Step 5: Initialize Services ────
	clk := clock.SystemClock{Location: cfg.Location()}
	tracker := services.NewTracker(stores.Progress, steps, clk, log.With("component", "tracker"))
	if redisClients != nil {
		tracker.SetPublisher(services.NewRedisPublisher(redisClients.PubSub))
	}
	jwtAuth := middleware.NewJWTAuth(cfg.JWTSecret)

	// ──── Step 6: Initialize Handlers ────
	engagementHandler := handlers.NewEngagementHandler(tracker, log.With("component", "http"))
	if stores.Reminders != nil {
		engagementHandler.WithReminderSettings(stores.Reminders)
	}

	// ──── Step 7: Start Event Worker Pool ────
	var workerPool *worker.Pool
	if redisClients != nil {
		queue := worker.NewRedisQueue(redisClients.Queue)
		engagementHandler.WithQueue(queue)
		workerPool = worker.NewPool(queue, worker.NewRedisLocker(redisClients.Queue), tracker, log.With("component", "worker"), cfg.EventWorkers)
		workerPool.Start()
		log.Info("worker pool started", "workers", cfg.EventWorkers)
	}

	// ──── Step 8: Start Reminder Scheduler ────
	var reminders *services.ReminderScheduler
	if cfg.RemindersEnabled && stores.Reminders != nil {
		emailService := services.NewEmailService(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPFrom, cfg.FrontendURL, log.With("component", "email"))
		reminders = services.NewReminderScheduler(stores.Reminders, emailService, clk, log.With("component", "reminders"))
		reminders.Start()
		log.Info("streak reminder scheduler started")
	}

	// ──── Step 9: Start WebSocket Hub ────
	var pubsub *redis.Client
	if redisClients != nil {
		pubsub = redisClients.PubSub
	}
	wsHub := websocket.NewHub(pubsub, jwtAuth, tracker, cfg.FrontendURL, log.With("component", "ws"))
	if redisClients == nil {
		tracker.SetPublisher(wsHub)
	}

	// ──── Step 10: Start HTTP Server ────
	eventLimiter := middleware.NewRateLimiter(cfg.EventRateLimit, time.Minute)
	defer eventLimiter.Stop()

	r := router.New(jwtAuth, engagementHandler, wsHub.HandleWebSocket, eventLimiter, cfg.FrontendURL)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server listening", "addr", server.Addr, "api", "/api/v1/engagement", "ws", "/api/v1/ws")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		err := server.Shutdown(shutdownCtx)

		if workerPool != nil {
			workerPool.Stop()
		}
		if reminders != nil {
			reminders.Stop()
		}
		wsHub.Close()
		return err
	})

	if err := g.Wait(); err != nil {
		log.Error("server stopped with error", "error", err)
		return
	}
	log.Info("server stopped")
}
