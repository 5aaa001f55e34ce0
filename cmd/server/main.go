/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the leave engine HTTP server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration from the environment, apply flag overrides
  2. Build the zerolog logger
  3. Open the document store selected by STORE_DRIVER
  4. Wrap the users file in a cached directory
  5. Wire service, authenticator, handler and router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides PORT)
  -db      SQLite/Bolt database path (overrides DB_PATH)
           Use ":memory:" for an in-memory SQLite database
  -store   Store driver: sqlite, bolt, postgres, memory (overrides STORE_DRIVER)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (SHUTDOWN_TIMEOUT)
  3. Close the store
  4. Exit

EXAMPLES:
  # Run with file database
  JWT_SECRET=dev ./server -db="./data/leave.db"

  # Run with bolt
  JWT_SECRET=dev ./server -store=bolt -db="./data/leave.bolt"

  # Run against postgres
  JWT_SECRET=dev STORE_DRIVER=postgres DATABASE_URL=postgres://... ./server

SEE ALSO:
  - config/config.go: Environment keys
  - api/server.go: Router configuration
  - cmd/devtoken: Signs tokens for local testing
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/warp/leave-engine/api"
	"github.com/warp/leave-engine/config"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/generic/store"
	"github.com/warp/leave-engine/store/bolt"
	"github.com/warp/leave-engine/store/postgres"
	"github.com/warp/leave-engine/store/sqlite"
	"github.com/warp/leave-engine/timeoff"
)

func main() {
	cfg := config.Load()

	// Flags
	port := flag.Int("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DBPath, "SQLite or Bolt database path")
	driver := flag.String("store", cfg.StoreDriver, "Store driver: sqlite, bolt, postgres, memory")
	flag.Parse()
	cfg.Port = *port
	cfg.DBPath = *dbPath
	cfg.StoreDriver = *driver

	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()
	st, ping, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("failed to open store")
	}
	defer closeStore()

	dir := timeoff.NewCachedDirectory(timeoff.FileDirectory{Path: cfg.UsersFile}, cfg.DirectoryCacheTTL)
	if people, err := dir.List(ctx); err != nil {
		logger.Warn().Err(err).Str("path", cfg.UsersFile).Msg("users file not readable yet")
	} else {
		logger.Info().Int("people", len(people)).Str("path", cfg.UsersFile).Msg("directory loaded")
	}

	svc := timeoff.NewService(st, dir, timeoff.WithDefaultAnnualDays(cfg.DefaultAnnualDays))
	handler := api.NewHandler(svc)
	handler.Ping = ping

	auth := &api.Authenticator{
		Secret:        cfg.JWTSecret,
		AllowedDomain: cfg.AllowedDomain,
		Directory:     dir,
	}
	router := api.NewRouter(handler, auth, api.RouterOptions{
		Logger:         logger,
		AllowedOrigins: cfg.CORSAllowedOrigins,
	})

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", server.Addr).Str("driver", cfg.StoreDriver).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}

func newLogger(cfg config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if cfg.LogFormat == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Str("service", "leave-engine").Logger()
}

// openStore returns the store for cfg.StoreDriver, a health probe and a
// close function.
func openStore(ctx context.Context, cfg config.Config) (generic.TxStore, func(context.Context) error, func(), error) {
	switch cfg.StoreDriver {
	case config.DriverMemory:
		return store.NewTxMemory(), nil, func() {}, nil
	case config.DriverSQLite:
		s, err := sqlite.New(cfg.DBPath)
		if err != nil {
			return nil, nil, nil, err
		}
		return s, nil, func() { _ = s.Close() }, nil
	case config.DriverBolt:
		s, err := bolt.New(cfg.DBPath)
		if err != nil {
			return nil, nil, nil, err
		}
		return s, nil, func() { _ = s.Close() }, nil
	case config.DriverPostgres:
		s, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := s.Ping(ctx); err != nil {
			s.Close()
			return nil, nil, nil, fmt.Errorf("ping postgres: %w", err)
		}
		return s, s.Ping, s.Close, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
