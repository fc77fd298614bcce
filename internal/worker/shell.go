package worker

import (
	"context"
	"errors"
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

const (
	stageBuild    = "build"
	stageUnitTest = "unittest"

	reasonImageNotCreated = "image not created"
)

// Shell builds images by invoking the build scripts of a language pack.
type Shell struct {
	opts      Options
	reporter  conductor.Reporter
	deployer  DeployCaster
	uploader  userlog.Uploader
	workspace *workspace.Manager
	sleep     userlog.Sleeper
	logger    *slog.Logger
}

// NewShell constructs the shell backend.
func NewShell(opts Options, deps Deps) (*Shell, error) {
	if deps.Reporter == nil {
		return nil, errors.New("shell backend requires a conductor reporter")
	}
	if deps.Workspace == nil {
		return nil, errors.New("shell backend requires a workspace")
	}
	if opts.ScriptDir == "" {
		return nil, errors.New("shell backend requires a script directory")
	}
	if opts.BuildTimeout <= 0 {
		opts.BuildTimeout = 30 * time.Minute
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Shell{
		opts:      opts,
		reporter:  deps.Reporter,
		deployer:  deps.Deployer,
		uploader:  deps.Uploader,
		workspace: deps.Workspace,
		sleep:     deps.Sleep,
		logger:    deps.Logger,
	}, nil
}

// Build runs the build script, reports the outcome, runs unit tests when the
// artifact has a test command and hands a READY assembly to the deployer.
func (s *Shell) Build(ctx context.Context, rc bus.RequestContext, req BuildRequest) error {
	if req.BuildID == "" || req.AssemblyID == "" {
		return errors.New("build_id and assembly_id are required")
	}
	log := s.logger.With("build_id", req.BuildID, "assembly_id", req.AssemblyID, "trace_id", rc.TraceID)
	log.Info("build received", "source_uri", req.SourceURI, "source_format", req.SourceFormat, "image_format", req.ImageFormat)

	s.report(log, s.reporter.UpdateAssembly(ctx, rc, req.AssemblyID, domain.AssemblyBuilding, ""))
	s.report(log, s.reporter.UpdateImage(ctx, rc, conductor.ImageUpdate{ImageID: req.BuildID, Status: string(domain.ImageBuilding)}))

	dir, err := s.workspace.Prepare(req.BuildID)
	if err != nil {
		s.fail(ctx, rc, log, req, stageBuild, err.Error())
		return nil
	}
	defer func() {
		if err := s.workspace.Cleanup(dir); err != nil {
			log.Warn("workspace cleanup failed", "error", err)
		}
	}()

	outcome := s.build(ctx, rc, log, req, dir)
	s.report(log, s.reporter.BuildJobUpdate(ctx, rc, outcome))
	if outcome.Status != string(domain.ImageComplete) {
		s.report(log, s.reporter.UpdateAssembly(ctx, rc, req.AssemblyID, domain.AssemblyError, ""))
		return nil
	}

	if req.TestCmd != "" {
		if !s.unitTest(ctx, rc, log, req, dir) {
			return nil
		}
	}
	s.report(log, s.reporter.UpdateAssembly(ctx, rc, req.AssemblyID, domain.AssemblyReady, ""))

	if s.deployer == nil {
		log.Warn("no deployer configured; assembly left READY")
		return nil
	}
	ref := outcome.ExternalRef
	if err := s.deployer.Deploy(ctx, rc, deployer.DeployRequest{
		AssemblyID: req.AssemblyID,
		ImageID:    req.BuildID,
		ImageRef:   ref,
		Ports:      req.Ports,
		RunCmd:     req.RunCmd,
	}); err != nil {
		log.Error("deploy request failed", "error", err)
		return fmt.Errorf("request deploy: %w", err)
	}
	log.Info("deploy requested", "image_ref", ref)
	return nil
}

// UnitTest runs only the unit-test stage and reports the result through the conductor.
func (s *Shell) UnitTest(ctx context.Context, rc bus.RequestContext, req BuildRequest) error {
	if req.AssemblyID == "" || req.TestCmd == "" {
		return errors.New("assembly_id and test_cmd are required")
	}
	if req.BuildID == "" {
		req.BuildID = req.AssemblyID
	}
	log := s.logger.With("assembly_id", req.AssemblyID, "trace_id", rc.TraceID)
	dir, err := s.workspace.Prepare(req.BuildID)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.workspace.Cleanup(dir); err != nil {
			log.Warn("workspace cleanup failed", "error", err)
		}
	}()
	if s.unitTest(ctx, rc, log, req, dir) {
		s.report(log, s.reporter.UpdateAssembly(ctx, rc, req.AssemblyID, domain.AssemblyReady, ""))
	}
	return nil
}

// Echo returns message.
func (s *Shell) Echo(_ context.Context, rc bus.RequestContext, message string) (string, error) {
	s.logger.Info("echo", "message", message, "trace_id", rc.TraceID)
	return message, nil
}

func (s *Shell) build(ctx context.Context, rc bus.RequestContext, log *slog.Logger, req BuildRequest, dir string) conductor.BuildJobUpdate {
	outcome := conductor.BuildJobUpdate{BuildID: req.BuildID, AssemblyID: req.AssemblyID, Status: string(domain.ImageError)}

	script, err := scriptPath(s.opts.ScriptDir, req.SourceFormat, req.ImageFormat, buildScript)
	if err != nil {
		log.Error("build stage failed", "stage", stageBuild, "error", err)
		outcome.Reason = err.Error()
		return outcome
	}

	logPath := workspace.StageLog(dir, stageBuild)
	capture, err := userlog.NewCapture(logPath, stageBuild, req.BuildID)
	if err != nil {
		outcome.Reason = err.Error()
		return outcome
	}
	capture.Note("running %s for %s", buildScript, req.SourceURI)

	runCtx, cancel := context.WithTimeout(ctx, s.opts.BuildTimeout)
	args := []string{script, req.SourceURI, req.Name, rc.ProjectID, req.BaseImageID}
	res := runScript(runCtx, args, s.env(rc, req, dir), dir, capture)
	cancel()

	switch {
	case res.startErr != nil:
		outcome.Reason = res.startErr.Error()
	case res.exitErr != nil:
		outcome.Reason = res.exitErr.Error()
	default:
		imageID, dockerName := parseMarkers(res.output)
		if imageID == "" {
			outcome.Reason = reasonImageNotCreated
			break
		}
		outcome.Status = string(domain.ImageComplete)
		outcome.CreatedImageID = imageID
		outcome.DockerImageName = dockerName
		outcome.ExternalRef = imageID
		if dockerName != "" {
			outcome.ExternalRef = dockerName
		}
	}
	if outcome.Reason != "" {
		capture.Note("build failed: %s", outcome.Reason)
		log.Error("build stage failed", "stage", stageBuild, "error", outcome.Reason)
	} else {
		capture.Note("build complete: %s", outcome.CreatedImageID)
		log.Info("build complete", "created_image_id", outcome.CreatedImageID)
	}
	if err := capture.Close(); err != nil {
		log.Warn("close build log", "error", err)
	}
	s.uploadLog(ctx, rc, log, req, stageBuild, logPath)
	return outcome
}

// unitTest reports UNIT_TESTING, runs the test script and reports
// UNIT_TESTING_FAILED on failure. It returns whether the tests passed.
func (s *Shell) unitTest(ctx context.Context, rc bus.RequestContext, log *slog.Logger, req BuildRequest, dir string) bool {
	s.report(log, s.reporter.UpdateAssembly(ctx, rc, req.AssemblyID, domain.AssemblyUnitTesting, ""))
	if runUnitTests(ctx, s.opts, rc, log, req, dir, s.env(rc, req, dir), func(path string) {
		s.uploadLog(ctx, rc, log, req, stageUnitTest, path)
	}) {
		return true
	}
	s.report(log, s.reporter.UpdateAssembly(ctx, rc, req.AssemblyID, domain.AssemblyUnitTestingFailed, ""))
	return false
}

func (s *Shell) fail(ctx context.Context, rc bus.RequestContext, log *slog.Logger, req BuildRequest, stage, reason string) {
	log.Error("build stage failed", "stage", stage, "error", reason)
	s.report(log, s.reporter.BuildJobUpdate(ctx, rc, conductor.BuildJobUpdate{
		BuildID:    req.BuildID,
		AssemblyID: req.AssemblyID,
		Status:     string(domain.ImageError),
		Reason:     reason,
	}))
	s.report(log, s.reporter.UpdateAssembly(ctx, rc, req.AssemblyID, domain.AssemblyError, ""))
}

func (s *Shell) env(rc bus.RequestContext, req BuildRequest, dir string) []string {
	return []string{
		"BUILD_ID=" + req.BuildID,
		"ASSEMBLY_ID=" + req.AssemblyID,
		"PROJECT_ID=" + rc.ProjectID,
		"TASK_DIR=" + dir,
		"RUN_CMD=" + req.RunCmd,
		"TEST_CMD=" + req.TestCmd,
	}
}

func (s *Shell) uploadLog(ctx context.Context, rc bus.RequestContext, log *slog.Logger, req BuildRequest, stage, path string) {
	uploadLog(ctx, s.uploader, s.opts.LogRetryDelay, s.sleep, rc, log, req, stage, path)
}

func (s *Shell) report(log *slog.Logger, err error) {
	if err != nil {
		log.Error("report to conductor failed", "error", err)
	}
}

func uploadLog(ctx context.Context, up userlog.Uploader, delay time.Duration, sleep userlog.Sleeper, rc bus.RequestContext, log *slog.Logger, req BuildRequest, stage, path string) {
	if up == nil {
		return
	}
	err := userlog.UploadWithRetry(ctx, up, userlog.Request{
		ResourceType: "assembly",
		ResourceName: req.Name,
		ResourceID:   req.AssemblyID,
		ProjectID:    rc.ProjectID,
		Stage:        stage,
		BuildID:      req.BuildID,
		Path:         path,
	}, delay, sleep, log)
	if err != nil {
		log.Error("stage log not stored", "stage", stage, "error", err)
	}
}

// runUnitTests executes the unit-test script and returns whether it exited zero.
func runUnitTests(ctx context.Context, opts Options, rc bus.RequestContext, log *slog.Logger, req BuildRequest, dir string, env []string, upload func(path string)) bool {
	script, err := scriptPath(opts.ScriptDir, req.SourceFormat, req.ImageFormat, unitTestScript)
	if err != nil {
		log.Error("unit test stage failed", "stage", stageUnitTest, "error", err)
		return false
	}
	logPath := workspace.StageLog(dir, stageUnitTest)
	capture, err := userlog.NewCapture(logPath, stageUnitTest, req.BuildID)
	if err != nil {
		log.Error("unit test stage failed", "stage", stageUnitTest, "error", err)
		return false
	}
	capture.Note("running %s: %s", unitTestScript, req.TestCmd)

	runCtx, cancel := context.WithTimeout(ctx, opts.BuildTimeout)
	args := []string{script, req.SourceURI, req.Revision, rc.ProjectID, req.CredentialsRef, req.TestCmd}
	res := runScript(runCtx, args, env, dir, capture)
	cancel()

	passed := res.ok()
	switch {
	case res.startErr != nil:
		capture.Note("unit tests could not start: %v", res.startErr)
		log.Error("unit test stage failed", "stage", stageUnitTest, "error", res.startErr)
	case res.exitErr != nil:
		capture.Note("unit tests failed: %v", res.exitErr)
		log.Warn("unit tests failed", "error", res.exitErr)
	default:
		capture.Note("unit tests passed")
		log.Info("unit tests passed")
	}
	if err := capture.Close(); err != nil {
		log.Warn("close unit test log", "error", err)
	}
	upload(logPath)
	return passed
}
