package process

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/splax/conveyor/internal/bus"
	httpx "github.com/splax/conveyor/internal/http"
	"github.com/splax/conveyor/pkg/config"
)

func TestOpenBusMemory(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	b, err := OpenBus(context.Background(), config.BusConfig{Backend: "memory", CallTimeout: time.Second}, log)
	if err != nil {
		t.Fatalf("open bus: %v", err)
	}
	defer b.Close()
	if b.Client == nil {
		t.Fatalf("expected a bus client")
	}
	if err := b.Ping(context.Background()); err != nil {
		t.Fatalf("memory bus should always be healthy: %v", err)
	}
}

func TestOpenBusRejectsUnknownBackend(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := OpenBus(context.Background(), config.BusConfig{Backend: "kafka"}, log); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}

func TestBusServerMetricsReachMetricsEndpoint(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.BusConfig{Backend: "memory", CallTimeout: 5 * time.Second, Consumers: 1}
	b, err := OpenBus(context.Background(), cfg, log)
	if err != nil {
		t.Fatalf("open bus: %v", err)
	}
	defer b.Close()

	d := bus.NewDispatcher()
	d.Handle("ping", func(context.Context, bus.RequestContext, []byte) (any, error) {
		return "pong", nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	srv := b.Server(cfg, "metrics-test", d, log)
	done := make(chan struct{})
	go func() {
		_ = srv.Serve(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	var reply string
	if err := b.Client.Call(ctx, bus.RequestContext{}, "metrics-test", "ping", "hello", &reply); err != nil {
		t.Fatalf("call: %v", err)
	}

	router := httpx.New(log, httpx.Options{})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	if !strings.Contains(body, "conveyor_bus_messages_handled_total") || !strings.Contains(body, `topic="metrics-test"`) {
		t.Fatalf("bus metrics missing from /metrics output")
	}
}
