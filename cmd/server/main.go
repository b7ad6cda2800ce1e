package main

import (
	"context"
	"database/sql"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/mailtrace/internal/api"
	"github.com/ignite/mailtrace/internal/config"
	"github.com/ignite/mailtrace/internal/dispatch"
	"github.com/ignite/mailtrace/internal/repository/memory"
	"github.com/ignite/mailtrace/internal/repository/postgres"
	trackingsvc "github.com/ignite/mailtrace/internal/service/tracking"
	smtpx "github.com/ignite/mailtrace/internal/smtp"
	"github.com/ignite/mailtrace/internal/tracking"
	"github.com/ignite/mailtrace/internal/worker"

	_ "github.com/lib/pq" // PostgreSQL driver
)

func main() {
	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	// A canceled root context is the dispatch engine's stop signal: claimed
	// jobs finish, unclaimed ones are abandoned.
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var repo trackingsvc.Repository
	if cfg.Database.URL != "" {
		db, err := sql.Open("postgres", cfg.Database.URL)
		if err != nil {
			log.Fatalf("open database: %v", err)
		}
		defer db.Close()
		if err := db.Ping(); err != nil {
			log.Fatalf("ping database: %v", err)
		}
		if err := postgres.Migrate(db); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		repo = postgres.NewTrackingRepo(db)
		log.Println("tracking store: postgres")
	} else {
		repo = memory.NewTrackingRepo()
		log.Println("tracking store: in-memory (nothing persists across restarts)")
	}
	store := trackingsvc.NewService(repo)

	var redisClient *redis.Client
	engineOpts := []dispatch.Option{dispatch.WithWorkers(cfg.Dispatch.Workers)}
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatalf("parse redis URL: %v", err)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
		limiter := worker.NewSendRateLimiter(redisClient, cfg.Dispatch.SendsPerMinute)
		engineOpts = append(engineOpts, dispatch.WithLimiter(limiter))
		log.Printf("redis enabled: rate limiting at %d sends/min per domain", cfg.Dispatch.SendsPerMinute)
	}

	dialer := &smtpx.NetDialer{Timeout: cfg.Dispatch.ConnectTimeout()}
	engine := dispatch.NewEngine(dialer, store, engineOpts...)

	apiHandler := api.NewHandler(engine, store, redisClient, cfg.Tracking.BaseURL)
	pixelHandler := tracking.NewHandler(store)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))
	r.Mount("/", pixelHandler.Routes())
	r.Mount("/api", apiHandler.Routes())

	srv := &http.Server{
		Addr:    cfg.Server.Addr(),
		Handler: r,
		// Dispatch requests inherit rootCtx, so SIGINT/SIGTERM doubles as the
		// engine's cooperative stop signal.
		BaseContext: func(net.Listener) context.Context { return rootCtx },
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		log.Printf("server listening on %s", cfg.Server.Addr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-rootCtx.Done()
	log.Println("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
