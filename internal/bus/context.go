package bus

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/splax/conveyor/pkg/jwt"
)

// ErrInvalidContext is returned when a received request context fails verification.
var ErrInvalidContext = errors.New("bus: invalid request context")

// RequestContext is the caller identity and scope carried with every message.
// Receivers act on behalf of this identity without re-authenticating.
type RequestContext struct {
	UserID    string   `cbor:"user_id"`
	ProjectID string   `cbor:"project_id"`
	TraceID   string   `cbor:"trace_id,omitempty"`
	Roles     []string `cbor:"roles,omitempty"`
}

// WithTrace returns a copy of rc carrying a trace id, generating one when absent.
func (rc RequestContext) WithTrace() RequestContext {
	if rc.TraceID == "" {
		rc.TraceID = uuid.NewString()
	}
	return rc
}

// Signer seals and opens request contexts. A Signer with no secret passes
// contexts through unsigned.
type Signer struct {
	secret string
	ttl    time.Duration
}

// NewSigner constructs a Signer. ttl bounds how long a sealed context stays valid.
func NewSigner(secret string, ttl time.Duration) Signer {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return Signer{secret: secret, ttl: ttl}
}

// Seal returns the token to attach to an envelope, or "" when signing is disabled.
func (s Signer) Seal(rc RequestContext) (string, error) {
	if s.secret == "" {
		return "", nil
	}
	token, err := jwt.GenerateToken(rc.UserID, rc.ProjectID, rc.TraceID, rc.Roles, s.secret, s.ttl)
	if err != nil {
		return "", fmt.Errorf("seal request context: %w", err)
	}
	return token, nil
}

// Open reconstructs the request context of env. With signing enabled the
// context comes from the verified token alone.
func (s Signer) Open(env Envelope) (RequestContext, error) {
	if s.secret == "" {
		return env.Context, nil
	}
	if env.Token == "" {
		return RequestContext{}, fmt.Errorf("%w: missing token", ErrInvalidContext)
	}
	claims, err := jwt.Parse(env.Token, s.secret)
	if err != nil {
		return RequestContext{}, fmt.Errorf("%w: %v", ErrInvalidContext, err)
	}
	return RequestContext{
		UserID:    claims.UserID,
		ProjectID: claims.ProjectID,
		TraceID:   claims.TraceID,
		Roles:     claims.Roles,
	}, nil
}
