// Package deployer brings built images up as running assemblies and tears them down.
package deployer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/splax/conveyor/internal/bus"
	"github.com/splax/conveyor/internal/conductor"
	"github.com/splax/conveyor/internal/repository"
)

// Handler names accepted by New.
const (
	HandlerNoop   = "noop"
	HandlerHeat   = "heat"
	HandlerDocker = "docker"
)

// Backend executes deployer capabilities.
type Backend interface {
	Deploy(ctx context.Context, rc bus.RequestContext, req DeployRequest) error
	Scale(ctx context.Context, rc bus.RequestContext, req ScaleRequest) error
	DestroyAssembly(ctx context.Context, rc bus.RequestContext, assemblyID string) error
	DestroyApp(ctx context.Context, rc bus.RequestContext, planID string) error
}

// Deps are the collaborators handed to a backend. Each backend uses the subset it needs.
type Deps struct {
	Reporter conductor.Reporter
	Reader   repository.AssemblyReader
	Heat     *HeatOptions
	Docker   *DockerOptions
	Logger   *slog.Logger
}

// New selects the backend named by kind.
func New(kind string, deps Deps) (Backend, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	switch kind {
	case HandlerNoop:
		return NewNoop(deps.Logger), nil
	case HandlerHeat:
		if deps.Heat == nil {
			return nil, fmt.Errorf("heat deployer requires heat options")
		}
		return NewHeat(*deps.Heat, deps.Reader, deps.Reporter, deps.Logger)
	case HandlerDocker:
		if deps.Docker == nil {
			return nil, fmt.Errorf("docker deployer requires docker options")
		}
		return NewDocker(*deps.Docker, deps.Reader, deps.Reporter, deps.Logger)
	default:
		return nil, fmt.Errorf("unknown deployer handler %q", kind)
	}
}

// followAssembly orders the reporter's next updates for assemblyID after the
// sequence already stored for it.
func followAssembly(ctx context.Context, reader repository.AssemblyReader, reporter conductor.Reporter, assemblyID string) {
	if assembly, err := reader.GetAssembly(ctx, assemblyID); err == nil {
		conductor.ObserveSeq(reporter, assembly.Seq)
	}
}

// Register installs the deployer methods backed by b on d.
func Register(d *bus.Dispatcher, b Backend) {
	d.Handle(MethodDeploy, func(ctx context.Context, rc bus.RequestContext, raw []byte) (any, error) {
		var req DeployRequest
		if err := bus.Decode(raw, &req); err != nil {
			return nil, err
		}
		return nil, b.Deploy(ctx, rc, req)
	})
	d.Handle(MethodScale, func(ctx context.Context, rc bus.RequestContext, raw []byte) (any, error) {
		var req ScaleRequest
		if err := bus.Decode(raw, &req); err != nil {
			return nil, err
		}
		return nil, b.Scale(ctx, rc, req)
	})
	d.Handle(MethodDestroyAssembly, func(ctx context.Context, rc bus.RequestContext, raw []byte) (any, error) {
		var req DestroyAssemblyRequest
		if err := bus.Decode(raw, &req); err != nil {
			return nil, err
		}
		return nil, b.DestroyAssembly(ctx, rc, req.AssemblyID)
	})
	d.Handle(MethodDestroyApp, func(ctx context.Context, rc bus.RequestContext, raw []byte) (any, error) {
		var req DestroyAppRequest
		if err := bus.Decode(raw, &req); err != nil {
			return nil, err
		}
		return nil, b.DestroyApp(ctx, rc, req.PlanID)
	})
}
