// Package frontend turns build requests into records and hands them to the workers.
package frontend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/splax/conveyor/internal/bus"
	"github.com/splax/conveyor/internal/domain"
	"github.com/splax/conveyor/internal/repository"
	"github.com/splax/conveyor/internal/worker"
)

// ErrInvalidRequest marks build requests rejected before any record is written.
var ErrInvalidRequest = errors.New("invalid build request")

// Store is the persistence the trigger needs.
type Store interface {
	repository.PlanReader
	repository.Provisioner
}

// Builder casts build work to the worker pool.
type Builder interface {
	Build(ctx context.Context, rc bus.RequestContext, req worker.BuildRequest) error
}

// BuildRequest is the body of POST /v1/builds.
type BuildRequest struct {
	AssemblyID     string            `json:"assembly_id,omitempty"`
	PlanID         string            `json:"plan_id,omitempty"`
	Name           string            `json:"name"`
	Artifacts      []domain.Artifact `json:"artifacts,omitempty"`
	SourceURI      string            `json:"source_uri,omitempty"`
	Revision       string            `json:"revision,omitempty"`
	CredentialsRef string            `json:"credentials_ref,omitempty"`
	TestCmd        string            `json:"test_cmd,omitempty"`
	RunCmd         string            `json:"run_cmd,omitempty"`
	Ports          []int             `json:"ports,omitempty"`
	BaseImageID    string            `json:"base_image_id,omitempty"`
	SourceFormat   string            `json:"source_format,omitempty"`
	ImageFormat    string            `json:"image_format,omitempty"`
}

// BuildResult identifies the records a triggered build fills in.
type BuildResult struct {
	PlanID     string `json:"plan_id,omitempty"`
	AssemblyID string `json:"assembly_id"`
	ImageID    string `json:"image_id"`
	Status     string `json:"status"`
}

// Service creates plan, image and assembly records and casts the build.
type Service struct {
	store   Store
	builder Builder
	logger  *slog.Logger
}

// New returns a trigger service.
func New(store Store, builder Builder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, builder: builder, logger: logger}
}

// Trigger records a PENDING image and a QUEUED assembly for req and casts a
// build for them. The records stay QUEUED when the cast fails.
func (s *Service) Trigger(ctx context.Context, rc bus.RequestContext, req BuildRequest) (*BuildResult, error) {
	rc = rc.WithTrace()
	plan, err := s.resolvePlan(ctx, rc, req)
	if err != nil {
		return nil, err
	}
	if plan != nil && req.SourceURI == "" && len(plan.Artifacts) > 0 {
		req = withArtifact(req, plan.Artifacts[0])
	}
	if strings.TrimSpace(req.SourceURI) == "" {
		return nil, fmt.Errorf("%w: source_uri is required", ErrInvalidRequest)
	}
	sourceFormat, imageFormat, ok := domain.NormalizeFormats(req.SourceFormat, req.ImageFormat)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported format %s/%s", ErrInvalidRequest, sourceFormat, imageFormat)
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "app"
	}

	image := &domain.Image{
		ID:           uuid.NewString(),
		ProjectID:    rc.ProjectID,
		Name:         name,
		SourceURI:    req.SourceURI,
		SourceFormat: sourceFormat,
		ImageFormat:  imageFormat,
		BaseImageID:  req.BaseImageID,
		Status:       domain.ImagePending,
	}
	if err := s.store.CreateImage(ctx, image); err != nil {
		return nil, fmt.Errorf("create image: %w", err)
	}

	assembly := &domain.Assembly{
		ID:        req.AssemblyID,
		ProjectID: rc.ProjectID,
		UserID:    rc.UserID,
		Name:      name,
		Status:    domain.AssemblyQueued,
		ImageID:   image.ID,
	}
	if assembly.ID == "" {
		assembly.ID = uuid.NewString()
	}
	if plan != nil {
		assembly.PlanID = plan.ID
	}
	if err := s.store.CreateAssembly(ctx, assembly); err != nil {
		return nil, fmt.Errorf("create assembly: %w", err)
	}

	log := s.logger.With("assembly_id", assembly.ID, "build_id", image.ID, "trace_id", rc.TraceID)
	err = s.builder.Build(ctx, rc, worker.BuildRequest{
		BuildID:        image.ID,
		AssemblyID:     assembly.ID,
		Name:           name,
		SourceURI:      req.SourceURI,
		Revision:       req.Revision,
		CredentialsRef: req.CredentialsRef,
		SourceFormat:   sourceFormat,
		ImageFormat:    imageFormat,
		BaseImageID:    req.BaseImageID,
		TestCmd:        req.TestCmd,
		RunCmd:         req.RunCmd,
		Ports:          req.Ports,
	})
	if err != nil {
		log.Error("build cast failed", "error", err)
		return nil, fmt.Errorf("queue build: %w", err)
	}
	log.Info("build queued", "source_uri", req.SourceURI, "format", sourceFormat+"/"+imageFormat)

	return &BuildResult{
		PlanID:     assembly.PlanID,
		AssemblyID: assembly.ID,
		ImageID:    image.ID,
		Status:     string(assembly.Status),
	}, nil
}

func (s *Service) resolvePlan(ctx context.Context, rc bus.RequestContext, req BuildRequest) (*domain.Plan, error) {
	if req.PlanID != "" {
		plan, err := s.store.GetPlan(ctx, req.PlanID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, fmt.Errorf("%w: plan %s not found", ErrInvalidRequest, req.PlanID)
			}
			return nil, fmt.Errorf("load plan: %w", err)
		}
		return plan, nil
	}
	if len(req.Artifacts) == 0 {
		return nil, nil
	}
	plan := &domain.Plan{
		ID:        uuid.NewString(),
		ProjectID: rc.ProjectID,
		UserID:    rc.UserID,
		Name:      req.Name,
		Artifacts: req.Artifacts,
	}
	if err := s.store.CreatePlan(ctx, plan); err != nil {
		return nil, fmt.Errorf("create plan: %w", err)
	}
	return plan, nil
}

func withArtifact(req BuildRequest, a domain.Artifact) BuildRequest {
	req.SourceURI = a.SourceURI
	if req.Revision == "" {
		req.Revision = a.Revision
	}
	if req.CredentialsRef == "" {
		req.CredentialsRef = a.CredentialsRef
	}
	if req.TestCmd == "" {
		req.TestCmd = a.TestCmd
	}
	if req.RunCmd == "" {
		req.RunCmd = a.RunCmd
	}
	if len(req.Ports) == 0 {
		req.Ports = a.Ports
	}
	if req.Name == "" {
		req.Name = a.Name
	}
	return req
}
