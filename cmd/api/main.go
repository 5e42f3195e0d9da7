package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"negotiatex/config"
	"negotiatex/db"
	"negotiatex/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "negotiatex: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger.Init(&logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool := openPool(ctx, cfg)
	if pool != nil {
		defer pool.Close()
	}

	if cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = randomSecret()
		logger.Warn(ctx, "jwt secret not configured, tokens will not survive a restart")
	}

	app := newApp(cfg, pool)
	defer app.close()
	go app.dispatcher.Run(context.WithoutCancel(ctx))
	go app.sessions.RunJanitor(ctx, cfg.Sessions.SweepInterval, cfg.Sessions.Retention)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           app.server.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.Mediator.Timeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "server starting",
			"port", cfg.Server.Port,
			"persistence", pool != nil,
			"mediator", cfg.MediatorEnabled())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info(context.Background(), "shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info(context.Background(), "server exited")
	return nil
}

// openPool returns nil when no database is configured or reachable. The
// service keeps running without persistence in that case.
func openPool(ctx context.Context, cfg *config.Config) *pgxpool.Pool {
	if !cfg.PersistenceEnabled() {
		logger.Warn(ctx, "database url not set, running without persistence")
		return nil
	}

	pool, err := db.NewPool(ctx, cfg.Database.URL)
	if err != nil {
		logger.Error(ctx, "database pool unavailable", "error", err)
		return nil
	}
	if err := db.Ping(ctx, pool, cfg.Database.Timeout); err != nil {
		logger.Error(ctx, "database unreachable, running without persistence", "error", err)
		pool.Close()
		return nil
	}
	return pool
}

func randomSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}
