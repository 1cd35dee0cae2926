// Package main runs the habit tracking API server.
package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	app "github.com/habitquest/service/internal/app"
	"github.com/habitquest/service/internal/app/httpapi"
	"github.com/habitquest/service/internal/app/storage"
	"github.com/habitquest/service/internal/app/storage/memory"
	"github.com/habitquest/service/internal/app/storage/postgres"
	"github.com/habitquest/service/internal/config"
	"github.com/habitquest/service/internal/platform/migrations"
	"github.com/habitquest/service/pkg/logger"
)

func main() {
	log := logger.NewDefault("server")

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	store, cleanup, err := openStore(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("failed to open storage")
	}
	defer cleanup()

	application := app.New(app.Options{
		Store:     store,
		JWTSecret: cfg.JWTSecret,
		JWTTTL:    cfg.JWTTTL,
	}, log.WithField("component", "app"))

	stop := make(chan struct{})
	router := httpapi.NewRouter(application, log.WithField("component", "http"), httpapi.RouterOptions{
		RateLimitPerSecond: cfg.RateLimitPerSecond,
		RateLimitBurst:     cfg.RateLimitBurst,
		AllowedOrigins:     cfg.AllowedOrigins,
		Stop:               stop,
	})

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.ListenAddr).Info("server listening")
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.WithError(err).Fatal("server error")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	close(stop)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server shutdown error")
	}
	log.Info("server stopped")
}

// openStore picks the storage backend from the configuration. With a database
// URL it connects to PostgreSQL and applies migrations; otherwise it falls
// back to the in-memory store.
func openStore(cfg config.Config, log *logger.Logger) (storage.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		log.Warn("DATABASE_URL not set; using in-memory storage")
		return memory.New(), func() {}, nil
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	if err := migrations.Apply(ctx, db); err != nil {
		db.Close()
		return nil, nil, err
	}

	log.Info("connected to postgres")
	return postgres.New(db), func() { db.Close() }, nil
}
