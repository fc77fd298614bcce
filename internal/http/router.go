package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/splax/conveyor/internal/bus"
	"github.com/splax/conveyor/internal/frontend"
)

const (
	healthCheckTimeout = 2 * time.Second
	maxBodyBytes       = 1 << 20
)

// Triggerer starts builds.
type Triggerer interface {
	Trigger(ctx context.Context, rc bus.RequestContext, req frontend.BuildRequest) (*frontend.BuildResult, error)
}

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

// Options configure a Router. Builds is nil for roles that only expose health and metrics.
type Options struct {
	Builds     Triggerer
	Checks     map[string]HealthCheck
	AuthSecret string
}

// Router exposes the HTTP endpoints of a conveyor process.
type Router struct {
	mux                *http.ServeMux
	logger             *slog.Logger
	opts               Options
	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	buildResults       *prometheus.CounterVec
}

// New creates and registers handlers.
func New(logger *slog.Logger, opts Options) *Router {
	r := &Router{
		mux:    http.NewServeMux(),
		logger: logger,
		opts:   opts,
	}
	r.initMetrics()
	r.routes()
	return r
}

// ServeHTTP satisfies http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func (r *Router) routes() {
	r.mux.HandleFunc("/metrics", promhttp.Handler().ServeHTTP)
	r.mux.HandleFunc("/healthz", r.instrument("/healthz", r.handleHealth))
	if r.opts.Builds != nil {
		r.mux.HandleFunc("/v1/builds", r.instrument("/v1/builds", r.requireContext(r.handleBuild)))
	}
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
	defer cancel()

	names := make([]string, 0, len(r.opts.Checks))
	for name := range r.opts.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := "ok"
	components := make(map[string]any, len(names))
	for _, name := range names {
		component := map[string]any{"status": "up"}
		if err := r.opts.Checks[name](ctx); err != nil {
			status = "degraded"
			component = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		}
		components[name] = component
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	r.writeJSON(w, code, payload)
}

func (r *Router) handleBuild(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var payload frontend.BuildRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxBodyBytes)).Decode(&payload); err != nil {
		r.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	rc, _ := requestContextFrom(req.Context())
	result, err := r.opts.Builds.Trigger(req.Context(), rc, payload)
	if err != nil {
		if errors.Is(err, frontend.ErrInvalidRequest) {
			r.recordBuildResult("rejected")
			r.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		r.recordBuildResult("failure")
		r.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	r.recordBuildResult("success")
	r.writeJSON(w, http.StatusAccepted, result)
}

func (r *Router) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		r.logger.Error("failed to encode response", "error", err)
	}
}

func (r *Router) writeError(w http.ResponseWriter, status int, msg string) {
	r.writeJSON(w, status, map[string]string{"error": msg})
}
