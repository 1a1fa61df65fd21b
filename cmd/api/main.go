package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"

	"github.com/harborfresh/orderflow/internal/cache"
	"github.com/harborfresh/orderflow/internal/config"
	"github.com/harborfresh/orderflow/internal/database"
	"github.com/harborfresh/orderflow/internal/lifecycle"
	"github.com/harborfresh/orderflow/internal/logger"
	"github.com/harborfresh/orderflow/internal/service"
	"github.com/harborfresh/orderflow/internal/store"
	"github.com/harborfresh/orderflow/internal/tracking"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(logger.Options{
		Service: "orderflow-api",
		Level:   os.Getenv("LOG_LEVEL"),
	})

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		log.Error("connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	defer redisClient.Close()

	hub := tracking.NewHub(cfg.Tracking.SubscriberBuffer)
	relay := tracking.NewRedisRelay(redisClient, hub)

	orders := store.NewOrderStore(db, cfg.Orders.NumberPrefix)
	drivers := store.NewDriverStore(db)
	catalog := store.NewCatalogStore(db)
	snapshots := cache.NewOrderCache(redisClient, cfg.Redis.CacheTTL)
	engine := lifecycle.NewEngine(cfg.Orders.DeliveryLead)

	svc := service.NewOrderService(
		orders, drivers, catalog, snapshots,
		engine, relay, hub,
		service.NewRoleAuthorizer(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := relay.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("tracking relay stopped", "error", err)
		}
	}()

	h := newHandler(svc)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(actorFromHeaders)

	r.Post("/orders", h.createOrder)
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{id}", h.getOrder)
	r.Post("/orders/{id}/status", h.transitionOrder)
	r.Post("/orders/{id}/driver", h.assignDriver)
	r.Post("/orders/{id}/location", h.pushLocation)
	r.Get("/orders/{id}/tracking", h.streamTracking)
	r.Post("/drivers/{id}/availability", h.setDriverAvailability)
	r.Get("/admin/orders", h.listAllOrders)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown", "error", err)
		}
	}()

	log.Info("server starting", "port", cfg.Server.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
