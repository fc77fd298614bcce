// Package process holds the start-up plumbing shared by the role binaries.
package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/splax/conveyor/internal/bus"
	"github.com/splax/conveyor/pkg/config"
)

const shutdownTimeout = 10 * time.Second

// Bus bundles a broker with the client and signer built on it.
type Bus struct {
	Broker bus.Broker
	Signer bus.Signer
	Client *bus.Client
	ping   func(context.Context) error
}

// Ping reports broker health. Process-local brokers are always healthy.
func (b *Bus) Ping(ctx context.Context) error {
	if b.ping == nil {
		return nil
	}
	return b.ping(ctx)
}

// Close releases the broker.
func (b *Bus) Close() error {
	return b.Broker.Close()
}

// OpenBus connects the broker selected by cfg.Backend.
func OpenBus(ctx context.Context, cfg config.BusConfig, log *slog.Logger) (*Bus, error) {
	out := &Bus{Signer: bus.NewSigner(cfg.ContextSecret, cfg.ContextTTL)}
	switch cfg.Backend {
	case "redis":
		broker, err := bus.NewRedisBroker(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.KeyPrefix)
		if err != nil {
			return nil, err
		}
		out.Broker = broker
		out.ping = broker.Ping
	case "memory":
		log.Warn("memory bus only reaches consumers in this process")
		out.Broker = bus.NewMemoryBroker()
	default:
		return nil, fmt.Errorf("unknown bus backend %q", cfg.Backend)
	}
	if cfg.ContextSecret == "" {
		log.Warn("bus request contexts are not signed")
	}
	out.Client = bus.NewClient(out.Broker, out.Signer, cfg.CallTimeout, log)
	return out, nil
}

// Server returns a bus server for topic configured from cfg. Its handler metrics
// go to the default registry served on /metrics.
func (b *Bus) Server(cfg config.BusConfig, topic string, d *bus.Dispatcher, log *slog.Logger) *bus.Server {
	return bus.NewServer(b.Broker, topic, d, b.Signer, log,
		bus.WithConsumers(cfg.Consumers),
		bus.WithRegisterer(prometheus.DefaultRegisterer))
}

// OpenPool connects to PostgreSQL and verifies the connection.
func OpenPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Run serves handler on addr and every bus server until ctx is cancelled,
// then shuts the HTTP server down and waits for in-flight bus handlers.
func Run(ctx context.Context, log *slog.Logger, addr string, handler http.Handler, servers ...*bus.Server) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	var wg sync.WaitGroup
	for _, s := range servers {
		wg.Add(1)
		go func(s *bus.Server) {
			defer wg.Done()
			_ = s.Serve(ctx)
		}(s)
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("http server starting", "addr", addr)
		errorCh <- srv.ListenAndServe()
	}()

	var runErr error
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}
	if runErr == nil {
		wg.Wait()
	}
	log.Info("process stopped")
	return runErr
}
