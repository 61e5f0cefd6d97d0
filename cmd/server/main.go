package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"noteot/internal/audit"
	"noteot/internal/broadcast"
	"noteot/internal/config"
	"noteot/internal/presence"
	"noteot/internal/room"
	"noteot/internal/transport"
)

func main() {
	if err := run(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts := []room.Option{}
	var subscriber room.Subscriber

	slog.Info("connecting to redis", "addr", cfg.RedisAddr)
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		slog.Warn("redis unavailable, cross-instance broadcast disabled", "err", err)
	} else {
		relay := broadcast.NewRelay(rdb)
		opts = append(opts, room.WithBroadcaster(relay))
		subscriber = relay
	}

	slog.Info("connecting to postgres", "url", cfg.PostgresURL)
	pgPool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		slog.Warn("postgres unavailable, activity audit log disabled", "err", err)
	} else if auditLog := newAuditLogOrWarn(ctx, pgPool); auditLog != nil {
		defer auditLog.Close()
		opts = append(opts, room.WithActivityLogger(auditLog))
	}

	presenceCounter := presence.NewCounter()
	opts = append(opts, room.WithPresenceNotifier(presenceCounter))

	registry := room.NewRegistry(subscriber, opts...)
	server := transport.NewServer(registry)

	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: server.Handler()}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("noteot server listening", "addr", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-exit:
		slog.Info("signal caught, shutting down", "sig", sig)
	case err := <-errCh:
		return err
	}

	cancel()
	return httpServer.Close()
}

func newAuditLogOrWarn(ctx context.Context, pool *pgxpool.Pool) *audit.Log {
	l := audit.NewLog(pool)
	if err := l.Init(ctx); err != nil {
		slog.Warn("postgres reachable but activity table init failed, audit log disabled", "err", err)
		l.Close()
		return nil
	}
	return l
}
