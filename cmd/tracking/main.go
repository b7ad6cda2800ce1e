// Standalone tracking pixel service. Deployed separately from the API server
// so open tracking keeps working while the dispatch side is down or
// redeploying.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/mailtrace/internal/config"
	"github.com/ignite/mailtrace/internal/repository/postgres"
	trackingsvc "github.com/ignite/mailtrace/internal/service/tracking"
	"github.com/ignite/mailtrace/internal/tracking"

	_ "github.com/lib/pq" // PostgreSQL driver
)

func main() {
	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.Database.URL == "" {
		log.Fatal("DATABASE_URL is required: the standalone tracking service only makes sense with shared persistence")
	}

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

	store := trackingsvc.NewService(postgres.NewTrackingRepo(db))
	handler := tracking.NewHandler(store)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Tracking.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler.Routes(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("tracking service listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	log.Println("shutting down tracking service...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
}
