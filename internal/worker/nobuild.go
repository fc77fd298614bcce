package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/splax/conveyor/internal/bus"
	"github.com/splax/conveyor/internal/conductor"
	"github.com/splax/conveyor/internal/domain"
	"github.com/splax/conveyor/internal/userlog"
	"github.com/splax/conveyor/internal/workspace"
)

// ShellNoBuild runs only the unit-test stage, for pipelines that build images
// elsewhere. A passing run writes READY straight to the store; every other
// transition goes through the conductor.
type ShellNoBuild struct {
	opts      Options
	reporter  conductor.Reporter
	direct    DirectAssemblyWriter
	seq       *domain.Sequencer
	uploader  userlog.Uploader
	workspace *workspace.Manager
	sleep     userlog.Sleeper
	logger    *slog.Logger
}

// NewShellNoBuild constructs the shell-no-build backend.
func NewShellNoBuild(opts Options, deps Deps) (*ShellNoBuild, error) {
	if deps.Reporter == nil {
		return nil, errors.New("shell-no-build backend requires a conductor reporter")
	}
	if deps.Direct == nil {
		return nil, errors.New("shell-no-build backend requires a direct assembly writer")
	}
	if deps.Workspace == nil {
		return nil, errors.New("shell-no-build backend requires a workspace")
	}
	if opts.BuildTimeout <= 0 {
		opts.BuildTimeout = 30 * time.Minute
	}
	if deps.Sequencer == nil {
		deps.Sequencer = domain.NewSequencer()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &ShellNoBuild{
		opts:      opts,
		reporter:  deps.Reporter,
		direct:    deps.Direct,
		seq:       deps.Sequencer,
		uploader:  deps.Uploader,
		workspace: deps.Workspace,
		sleep:     deps.Sleep,
		logger:    deps.Logger,
	}, nil
}

// Build runs the unit-test stage for an already built image. Without a test
// command the assembly goes straight to READY.
func (s *ShellNoBuild) Build(ctx context.Context, rc bus.RequestContext, req BuildRequest) error {
	if req.AssemblyID == "" {
		return errors.New("assembly_id is required")
	}
	return s.run(ctx, rc, req, req.TestCmd != "")
}

// UnitTest runs the test script. Exit zero marks the assembly READY directly.
func (s *ShellNoBuild) UnitTest(ctx context.Context, rc bus.RequestContext, req BuildRequest) error {
	if req.AssemblyID == "" || req.TestCmd == "" {
		return errors.New("assembly_id and test_cmd are required")
	}
	return s.run(ctx, rc, req, true)
}

func (s *ShellNoBuild) run(ctx context.Context, rc bus.RequestContext, req BuildRequest, withTests bool) error {
	if req.BuildID == "" {
		req.BuildID = req.AssemblyID
	}
	log := s.logger.With("assembly_id", req.AssemblyID, "build_id", req.BuildID, "trace_id", rc.TraceID)

	if withTests && !s.unitTest(ctx, rc, log, req) {
		return nil
	}

	log.Info("marking assembly ready", "direct_write", true)
	err := s.direct.ApplyAssemblyUpdate(ctx, domain.AssemblyUpdate{
		AssemblyID: req.AssemblyID,
		Status:     domain.AssemblyReady,
		Seq:        s.seq.Next(),
	})
	if err != nil {
		log.Error("direct assembly write failed", "direct_write", true, "error", err)
		return err
	}
	return nil
}

func (s *ShellNoBuild) unitTest(ctx context.Context, rc bus.RequestContext, log *slog.Logger, req BuildRequest) bool {
	dir, err := s.workspace.Prepare(req.BuildID)
	if err != nil {
		log.Error("workspace prepare failed", "error", err)
		s.report(ctx, rc, log, req.AssemblyID, domain.AssemblyUnitTestingFailed)
		return false
	}
	defer func() {
		if err := s.workspace.Cleanup(dir); err != nil {
			log.Warn("workspace cleanup failed", "error", err)
		}
	}()

	s.report(ctx, rc, log, req.AssemblyID, domain.AssemblyUnitTesting)
	env := []string{
		"BUILD_ID=" + req.BuildID,
		"ASSEMBLY_ID=" + req.AssemblyID,
		"PROJECT_ID=" + rc.ProjectID,
		"TASK_DIR=" + dir,
		"TEST_CMD=" + req.TestCmd,
	}
	passed := runUnitTests(ctx, s.opts, rc, log, req, dir, env, func(path string) {
		uploadLog(ctx, s.uploader, s.opts.LogRetryDelay, s.sleep, rc, log, req, stageUnitTest, path)
	})
	if !passed {
		s.report(ctx, rc, log, req.AssemblyID, domain.AssemblyUnitTestingFailed)
	}
	return passed
}

func (s *ShellNoBuild) report(ctx context.Context, rc bus.RequestContext, log *slog.Logger, assemblyID string, status domain.AssemblyStatus) {
	if err := s.reporter.UpdateAssembly(ctx, rc, assemblyID, status, ""); err != nil {
		log.Error("report to conductor failed", "status", status, "error", err)
	}
}

// Echo returns message.
func (s *ShellNoBuild) Echo(_ context.Context, rc bus.RequestContext, message string) (string, error) {
	s.logger.Info("echo", "message", message, "trace_id", rc.TraceID)
	return message, nil
}
