package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	gfshutdown "github.com/gelmium/graceful-shutdown"

	"github.com/Tyrowin/chatrelay/internal/auth"
	"github.com/Tyrowin/chatrelay/internal/config"
	"github.com/Tyrowin/chatrelay/internal/logger"
	"github.com/Tyrowin/chatrelay/internal/realtime"
	"github.com/Tyrowin/chatrelay/internal/server"
	"github.com/Tyrowin/chatrelay/internal/store"
	"github.com/Tyrowin/chatrelay/internal/store/pgstore"
	"github.com/Tyrowin/chatrelay/internal/store/sqlstore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

type closableStore interface {
	store.Store
	io.Closer
}

func run() error {
	cfg, err := config.Load(".env")
	if err != nil {
		return err
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)
	log.Info("Starting chat relay", "port", cfg.Port, "db_driver", cfg.DBDriver)

	st, err := openStore(cfg)
	if err != nil {
		return err
	}

	writer := realtime.NewWriter(log, cfg.PersistQueueSize, cfg.PersistTimeout)
	hub := server.NewHub(st, writer, log)
	handlers := server.NewHandlers(
		hub,
		auth.NewJWTVerifier(cfg.JWTSecret),
		st,
		server.NewOriginPolicy(cfg.Origins(), log),
		server.ClientConfig{MaxMessageSize: cfg.MaxMessageSize, LookupTimeout: cfg.PersistTimeout},
		log,
	)
	httpServer := server.CreateServer(cfg.Port, server.SetupRoutes(handlers))

	server.StartHub(hub)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.StartServer(httpServer, log)
	}()

	// Order matters: stop accepting connections, close clients (which
	// persists their offline transitions), drain queued writes, then close
	// the database.
	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"chatrelay": func(ctx context.Context) error {
				return errors.Join(
					server.ShutdownServer(ctx, httpServer, log),
					hub.Shutdown(cfg.ShutdownTimeout),
					writer.Close(ctx),
					st.Close(),
				)
			},
		},
	)

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case code := <-wait:
		log.Info("Application exited", "code", code)
		if code != 0 {
			return fmt.Errorf("shutdown finished with code %d", code)
		}
	}
	return nil
}

func openStore(cfg config.Config) (closableStore, error) {
	switch cfg.DBDriver {
	case config.DriverPostgres:
		ctx, cancel := context.WithTimeout(context.Background(), cfg.PersistTimeout)
		defer cancel()
		st, err := pgstore.Open(ctx, cfg.DBDSN)
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("migrating postgres schema: %w", err)
		}
		return st, nil
	default:
		return sqlstore.Open(cfg.DBDSN)
	}
}
