package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/splax/conveyor/internal/bus"
	"github.com/splax/conveyor/internal/frontend"
	"github.com/splax/conveyor/pkg/jwt"
)

type fakeTriggerer struct {
	contexts []bus.RequestContext
	requests []frontend.BuildRequest
	err      error
}

func (f *fakeTriggerer) Trigger(_ context.Context, rc bus.RequestContext, req frontend.BuildRequest) (*frontend.BuildResult, error) {
	f.contexts = append(f.contexts, rc)
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &frontend.BuildResult{AssemblyID: "asm-1", ImageID: "img-1", Status: "QUEUED"}, nil
}

func newTestRouter(opts Options) *Router {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)), opts)
}

func TestHealthReportsComponents(t *testing.T) {
	router := newTestRouter(Options{Checks: map[string]HealthCheck{
		"bus":   func(context.Context) error { return nil },
		"store": func(context.Context) error { return errors.New("connection refused") },
	}})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var body struct {
		Status     string                    `json:"status"`
		Components map[string]map[string]any `json:"components"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "degraded" || body.Components["bus"]["status"] != "up" || body.Components["store"]["status"] != "down" {
		t.Fatalf("unexpected health body %+v", body)
	}
}

func TestBuildsRouteAbsentWithoutTriggerer(t *testing.T) {
	router := newTestRouter(Options{})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/builds", strings.NewReader("{}")))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestPostBuildAccepted(t *testing.T) {
	builds := &fakeTriggerer{}
	router := newTestRouter(Options{Builds: builds})
	body := bytes.NewBufferString(`{"name":"web","source_uri":"git://app","test_cmd":"make test"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/builds", body)
	req.Header.Set("X-Trace-ID", "trace-9")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(builds.requests) != 1 || builds.requests[0].SourceURI != "git://app" {
		t.Fatalf("unexpected requests %+v", builds.requests)
	}
	if builds.contexts[0].TraceID != "trace-9" {
		t.Fatalf("expected trace header to propagate, got %+v", builds.contexts[0])
	}
}

func TestPostBuildMapsErrors(t *testing.T) {
	cases := map[error]int{
		fmt.Errorf("%w: source_uri is required", frontend.ErrInvalidRequest): http.StatusBadRequest,
		errors.New("broker down"): http.StatusInternalServerError,
	}
	for err, want := range cases {
		router := newTestRouter(Options{Builds: &fakeTriggerer{err: err}})
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/builds", strings.NewReader(`{}`)))
		if rec.Code != want {
			t.Fatalf("%v: expected %d, got %d", err, want, rec.Code)
		}
	}

	router := newTestRouter(Options{Builds: &fakeTriggerer{}})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/builds", strings.NewReader(`{not json`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/builds", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestPostBuildRequiresTokenWhenSecretSet(t *testing.T) {
	builds := &fakeTriggerer{}
	router := newTestRouter(Options{Builds: builds, AuthSecret: "s3cret"})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/builds", strings.NewReader(`{}`)))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	token, err := jwt.GenerateToken("user-1", "proj-1", "", []string{"admin"}, "s3cret", time.Minute)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/builds", strings.NewReader(`{"source_uri":"git://app"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if rc := builds.contexts[0]; rc.UserID != "user-1" || rc.ProjectID != "proj-1" {
		t.Fatalf("unexpected request context %+v", rc)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	router := newTestRouter(Options{})
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "conveyor_http_requests_total") {
		t.Fatalf("expected request counter in metrics output")
	}
}
