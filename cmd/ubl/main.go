// Command ubl runs the UBL CORE server: the REST+SSE surface and the
// JSON-RPC tool server on one listener, backed by a Postgres index
// store. There is no subcommand surface in this core; the process
// always serves.
package main

import (
	"context"
	"database/sql"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	_ "github.com/lib/pq"

	"github.com/ubl-core/ubl/pkg/app"
	"github.com/ubl-core/ubl/pkg/config"
	"github.com/ubl-core/ubl/pkg/httpapi"
	"github.com/ubl-core/ubl/pkg/identity"
	"github.com/ubl-core/ubl/pkg/mcpserver"
	"github.com/ubl-core/ubl/pkg/observability"
	"github.com/ubl-core/ubl/pkg/store"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx := context.Background()
	cfg := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	tracerProvider := observability.NewTracerProvider("ubl-core", logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		_ = tracerProvider.Shutdown(shutdownCtx)
	}()

	var idxStore *store.Store
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("ubl: failed to open database: %v", err)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			log.Fatalf("ubl: database ping failed: %v", err)
		}
		idxStore = store.New(db)
		if err := idxStore.Init(ctx); err != nil {
			log.Fatalf("ubl: failed to init index store: %v", err)
		}
		logger.Info("ubl: index store ready")
	} else {
		logger.Warn("ubl: DATABASE_URL not set; running with no index store mirror")
	}

	if cfg.JWTSecret == "" {
		logger.Warn("ubl: JWT_SECRET not set; tokens cannot be verified in this configuration")
	}
	keyFunc := identity.HMACKeyFunc([]byte(cfg.JWTSecret))

	a := app.New(cfg, idxStore)

	root := chi.NewRouter()
	apiRouter := httpapi.NewRouter(a, cfg, keyFunc, logger)
	mcpserver.Mount(apiRouter, a, cfg, keyFunc, logger)
	root.Mount("/", apiRouter)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("ubl: listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("ubl: server error", "err", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("ubl: shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("ubl: shutdown error", "err", err)
		return 1
	}
	return 0
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
