package httpx

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/splax/conveyor/internal/bus"
	"github.com/splax/conveyor/pkg/jwt"
)

type contextKey string

const contextKeyRequest contextKey = "conveyor-request-context"

// requireContext resolves the caller's request context from a bearer token.
// Without an auth secret every caller is anonymous.
func (r *Router) requireContext(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		rc := bus.RequestContext{}
		if r.opts.AuthSecret != "" {
			token, err := bearerToken(req.Header.Get("Authorization"))
			if err != nil {
				r.logger.Warn("authorization header invalid", "error", err, "path", req.URL.Path)
				r.writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}
			claims, err := jwt.Parse(token, r.opts.AuthSecret)
			if err != nil {
				r.logger.Warn("token validation failed", "error", err, "path", req.URL.Path)
				r.writeError(w, http.StatusUnauthorized, "authentication failed")
				return
			}
			rc = bus.RequestContext{
				UserID:    claims.UserID,
				ProjectID: claims.ProjectID,
				TraceID:   claims.TraceID,
				Roles:     claims.Roles,
			}
		}
		if trace := req.Header.Get("X-Trace-ID"); trace != "" && rc.TraceID == "" {
			rc.TraceID = trace
		}
		ctx := context.WithValue(req.Context(), contextKeyRequest, rc)
		next(w, req.WithContext(ctx))
	}
}

func requestContextFrom(ctx context.Context) (bus.RequestContext, bool) {
	rc, ok := ctx.Value(contextKeyRequest).(bus.RequestContext)
	return rc, ok
}

func bearerToken(header string) (string, error) {
	if strings.TrimSpace(header) == "" {
		return "", errors.New("missing authorization header")
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header format")
	}
	return parts[1], nil
}
