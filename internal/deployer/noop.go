package deployer

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

func (n *Noop) Deploy(_ context.Context, rc bus.RequestContext, req DeployRequest) error {
	n.logger.Info("noop deploy", "assembly_id", req.AssemblyID, "image_ref", req.ImageRef, "trace_id", rc.TraceID)
	return nil
}

func (n *Noop) Scale(_ context.Context, rc bus.RequestContext, req ScaleRequest) error {
	n.logger.Info("noop scale", "assembly_id", req.AssemblyID, "count", req.Count, "trace_id", rc.TraceID)
	return nil
}

func (n *Noop) DestroyAssembly(_ context.Context, rc bus.RequestContext, assemblyID string) error {
	n.logger.Info("noop destroy assembly", "assembly_id", assemblyID, "trace_id", rc.TraceID)
	return nil
}

func (n *Noop) DestroyApp(_ context.Context, rc bus.RequestContext, planID string) error {
	n.logger.Info("noop destroy app", "plan_id", planID, "trace_id", rc.TraceID)
	return nil
}
