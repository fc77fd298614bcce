package worker

import (
	"context"
	"log/slog"

	"github.com/splax/conveyor/internal/bus"
)

// Noop logs each call and does nothing else.
type Noop struct {
	logger *slog.Logger
}

// NewNoop constructs a Noop backend.
func NewNoop(logger *slog.Logger) *Noop {
	return &Noop{logger: logger}
}

// Build logs the request.
func (n *Noop) Build(_ context.Context, rc bus.RequestContext, req BuildRequest) error {
	n.logger.Info("noop build", "build_id", req.BuildID, "assembly_id", req.AssemblyID, "trace_id", rc.TraceID)
	return nil
}

// UnitTest logs the request.
func (n *Noop) UnitTest(_ context.Context, rc bus.RequestContext, req BuildRequest) error {
	n.logger.Info("noop unittest", "assembly_id", req.AssemblyID, "trace_id", rc.TraceID)
	return nil
}

// Echo logs and returns message.
func (n *Noop) Echo(_ context.Context, rc bus.RequestContext, message string) (string, error) {
	n.logger.Info("echo", "message", message, "trace_id", rc.TraceID)
	return message, nil
}
