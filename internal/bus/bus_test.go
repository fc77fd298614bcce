package bus

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type echoPayload struct {
	Text string `cbor:"text"`
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func startServer(t *testing.T, broker Broker, signer Signer, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	srv := NewServer(broker, "worker", d, signer, newTestLogger(), WithConsumers(2), WithRegisterer(prometheus.NewRegistry()))
	done := make(chan struct{})
	go func() {
		_ = srv.Serve(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestCallReturnsHandlerResult(t *testing.T) {
	broker := NewMemoryBroker()
	signer := NewSigner("secret", time.Minute)
	d := NewDispatcher()
	var seen RequestContext
	d.Handle("echo", func(ctx context.Context, rc RequestContext, raw []byte) (any, error) {
		var p echoPayload
		if err := Decode(raw, &p); err != nil {
			return nil, err
		}
		seen = rc
		return echoPayload{Text: "echo: " + p.Text}, nil
	})
	startServer(t, broker, signer, d)

	client := NewClient(broker, signer, 5*time.Second, newTestLogger())
	rc := RequestContext{UserID: "u1", ProjectID: "p1", Roles: []string{"member"}}
	var out echoPayload
	if err := client.Call(context.Background(), rc, "worker", "echo", echoPayload{Text: "hi"}, &out); err != nil {
		t.Fatalf("call: %v", err)
	}
	if out.Text != "echo: hi" {
		t.Fatalf("unexpected reply %q", out.Text)
	}
	if seen.UserID != "u1" || seen.ProjectID != "p1" || seen.TraceID == "" {
		t.Fatalf("request context not re-established: %+v", seen)
	}
}

func TestCallPropagatesHandlerError(t *testing.T) {
	broker := NewMemoryBroker()
	d := NewDispatcher()
	d.Handle("fail", func(ctx context.Context, rc RequestContext, raw []byte) (any, error) {
		return nil, errors.New("boom")
	})
	startServer(t, broker, Signer{}, d)

	client := NewClient(broker, Signer{}, 5*time.Second, newTestLogger())
	err := client.Call(context.Background(), RequestContext{}, "worker", "fail", nil, nil)
	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("expected RemoteError, got %v", err)
	}
	if remote.Message != "boom" {
		t.Fatalf("unexpected remote message %q", remote.Message)
	}
}

func TestCallUnknownMethod(t *testing.T) {
	broker := NewMemoryBroker()
	startServer(t, broker, Signer{}, NewDispatcher())

	client := NewClient(broker, Signer{}, 5*time.Second, newTestLogger())
	err := client.Call(context.Background(), RequestContext{}, "worker", "missing", nil, nil)
	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("expected RemoteError, got %v", err)
	}
}

func TestCastDoesNotReportHandlerErrors(t *testing.T) {
	broker := NewMemoryBroker()
	var calls atomic.Int32
	handled := make(chan struct{}, 1)
	d := NewDispatcher()
	d.Handle("build", func(ctx context.Context, rc RequestContext, raw []byte) (any, error) {
		calls.Add(1)
		handled <- struct{}{}
		return nil, errors.New("ignored")
	})
	startServer(t, broker, Signer{}, d)

	client := NewClient(broker, Signer{}, time.Second, newTestLogger())
	if err := client.Cast(context.Background(), RequestContext{}, "worker", "build", echoPayload{Text: "x"}); err != nil {
		t.Fatalf("cast: %v", err)
	}
	select {
	case <-handled:
	case <-time.After(3 * time.Second):
		t.Fatalf("handler not invoked")
	}
	if calls.Load() != 1 {
		t.Fatalf("expected one delivery, got %d", calls.Load())
	}
}

func TestServerRejectsTamperedContext(t *testing.T) {
	broker := NewMemoryBroker()
	d := NewDispatcher()
	d.Handle("echo", func(ctx context.Context, rc RequestContext, raw []byte) (any, error) {
		return "ok", nil
	})
	startServer(t, broker, NewSigner("server-secret", time.Minute), d)

	client := NewClient(broker, NewSigner("other-secret", time.Minute), 5*time.Second, newTestLogger())
	err := client.Call(context.Background(), RequestContext{UserID: "u1"}, "worker", "echo", nil, nil)
	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("expected rejection, got %v", err)
	}
}

func TestCallTimesOutWithoutConsumer(t *testing.T) {
	broker := NewMemoryBroker()
	client := NewClient(broker, Signer{}, 50*time.Millisecond, newTestLogger())
	err := client.Call(context.Background(), RequestContext{}, "nobody", "echo", nil, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestDispatcherDuplicatePanics(t *testing.T) {
	d := NewDispatcher()
	noop := func(ctx context.Context, rc RequestContext, raw []byte) (any, error) { return nil, nil }
	d.Handle("echo", noop)
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on duplicate registration")
		}
	}()
	d.Handle("echo", noop)
}

func TestEnvelopeEncodingIsDeterministic(t *testing.T) {
	env := Envelope{ID: "1", Topic: "worker", Method: "build", Context: RequestContext{UserID: "u", ProjectID: "p"}, SentAt: time.Unix(10, 0).UTC()}
	a, err := Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	b, _ := Marshal(env)
	if string(a) != string(b) {
		t.Fatalf("encoding differs between runs")
	}
}
