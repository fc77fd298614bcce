// Package worker runs builds and unit tests for assemblies and reports their
// progress to the conductor.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/splax/conveyor/internal/bus"
	"github.com/splax/conveyor/internal/conductor"
	"github.com/splax/conveyor/internal/deployer"
	"github.com/splax/conveyor/internal/domain"
	"github.com/splax/conveyor/internal/userlog"
	"github.com/splax/conveyor/internal/workspace"
)

// Handler names accepted by New.
const (
	HandlerNoop         = "noop"
	HandlerShell        = "shell"
	HandlerShellNoBuild = "shell-no-build"
)

// Backend executes worker capabilities.
type Backend interface {
	Build(ctx context.Context, rc bus.RequestContext, req BuildRequest) error
	UnitTest(ctx context.Context, rc bus.RequestContext, req BuildRequest) error
	Echo(ctx context.Context, rc bus.RequestContext, message string) (string, error)
}

// DeployCaster hands a ready assembly to the deployer.
type DeployCaster interface {
	Deploy(ctx context.Context, rc bus.RequestContext, req deployer.DeployRequest) error
}

// DirectAssemblyWriter writes assembly state without going through the conductor.
// Only the shell-no-build backend holds one.
type DirectAssemblyWriter interface {
	ApplyAssemblyUpdate(ctx context.Context, update domain.AssemblyUpdate) error
}

// Options configure the shell backends.
type Options struct {
	ScriptDir     string
	BuildTimeout  time.Duration
	LogRetryDelay time.Duration
}

// Deps are the collaborators handed to a backend.
type Deps struct {
	Reporter  conductor.Reporter
	Deployer  DeployCaster
	Uploader  userlog.Uploader
	Workspace *workspace.Manager
	Direct    DirectAssemblyWriter
	Sequencer *domain.Sequencer
	Sleep     userlog.Sleeper
	Logger    *slog.Logger
}

// New selects the backend named by kind.
func New(kind string, opts Options, deps Deps) (Backend, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	switch kind {
	case HandlerNoop:
		return NewNoop(deps.Logger), nil
	case HandlerShell:
		return NewShell(opts, deps)
	case HandlerShellNoBuild:
		return NewShellNoBuild(opts, deps)
	default:
		return nil, fmt.Errorf("unknown worker handler %q", kind)
	}
}

// Register installs the worker methods backed by b on d.
func Register(d *bus.Dispatcher, b Backend) {
	d.Handle(MethodBuild, func(ctx context.Context, rc bus.RequestContext, raw []byte) (any, error) {
		var req BuildRequest
		if err := bus.Decode(raw, &req); err != nil {
			return nil, err
		}
		return nil, b.Build(ctx, rc, req)
	})
	d.Handle(MethodUnitTest, func(ctx context.Context, rc bus.RequestContext, raw []byte) (any, error) {
		var req BuildRequest
		if err := bus.Decode(raw, &req); err != nil {
			return nil, err
		}
		return nil, b.UnitTest(ctx, rc, req)
	})
	d.Handle(MethodEcho, func(ctx context.Context, rc bus.RequestContext, raw []byte) (any, error) {
		var req EchoRequest
		if err := bus.Decode(raw, &req); err != nil {
			return nil, err
		}
		msg, err := b.Echo(ctx, rc, req.Message)
		if err != nil {
			return nil, err
		}
		return EchoReply{Message: msg}, nil
	})
}
