package frontend

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/splax/conveyor/internal/bus"
	"github.com/splax/conveyor/internal/domain"
	"github.com/splax/conveyor/internal/repository/memory"
	"github.com/splax/conveyor/internal/worker"
)

type fakeBuilder struct {
	requests []worker.BuildRequest
	err      error
}

func (f *fakeBuilder) Build(_ context.Context, _ bus.RequestContext, req worker.BuildRequest) error {
	f.requests = append(f.requests, req)
	return f.err
}

func newTestService() (*Service, *memory.Store, *fakeBuilder) {
	store := memory.New()
	builder := &fakeBuilder{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(store, builder, logger), store, builder
}

func TestTriggerCreatesRecordsAndCastsBuild(t *testing.T) {
	svc, store, builder := newTestService()
	ctx := context.Background()
	rc := bus.RequestContext{UserID: "u1", ProjectID: "p1"}

	res, err := svc.Trigger(ctx, rc, BuildRequest{Name: "web", SourceURI: "https://git/app.git", TestCmd: "make test"})
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	image, err := store.GetImage(ctx, res.ImageID)
	if err != nil {
		t.Fatalf("image: %v", err)
	}
	if image.Status != domain.ImagePending || image.SourceFormat != domain.SourceHeroku || image.ImageFormat != domain.ImageDocker {
		t.Fatalf("unexpected image %+v", image)
	}
	assembly, err := store.GetAssembly(ctx, res.AssemblyID)
	if err != nil {
		t.Fatalf("assembly: %v", err)
	}
	if assembly.Status != domain.AssemblyQueued || assembly.ImageID != image.ID || assembly.ProjectID != "p1" {
		t.Fatalf("unexpected assembly %+v", assembly)
	}
	if len(builder.requests) != 1 {
		t.Fatalf("expected one build cast, got %d", len(builder.requests))
	}
	got := builder.requests[0]
	if got.BuildID != image.ID || got.AssemblyID != assembly.ID || got.TestCmd != "make test" {
		t.Fatalf("unexpected build request %+v", got)
	}
}

func TestTriggerUsesPlanArtifact(t *testing.T) {
	svc, store, builder := newTestService()
	ctx := context.Background()
	res, err := svc.Trigger(ctx, bus.RequestContext{}, BuildRequest{
		AssemblyID: "asm-1",
		Artifacts:  []domain.Artifact{{Name: "api", SourceURI: "git://api", RunCmd: "./run", Ports: []int{9000}, CredentialsRef: "secret/api-deploy-key"}},
	})
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if res.AssemblyID != "asm-1" || res.PlanID == "" {
		t.Fatalf("unexpected result %+v", res)
	}
	if _, err := store.GetPlan(ctx, res.PlanID); err != nil {
		t.Fatalf("plan not stored: %v", err)
	}
	got := builder.requests[0]
	if got.SourceURI != "git://api" || got.RunCmd != "./run" || got.Name != "api" || len(got.Ports) != 1 {
		t.Fatalf("artifact fields not applied: %+v", got)
	}
	if got.CredentialsRef != "secret/api-deploy-key" {
		t.Fatalf("credentials ref not forwarded: %q", got.CredentialsRef)
	}
}

func TestTriggerRejectsInvalidRequests(t *testing.T) {
	svc, _, builder := newTestService()
	cases := []BuildRequest{
		{Name: "no-source"},
		{Name: "bad-format", SourceURI: "git://x", SourceFormat: domain.SourceDIB, ImageFormat: domain.ImageDocker},
		{Name: "missing-plan", PlanID: "nope"},
	}
	for _, req := range cases {
		if _, err := svc.Trigger(context.Background(), bus.RequestContext{}, req); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("%s: expected ErrInvalidRequest, got %v", req.Name, err)
		}
	}
	if len(builder.requests) != 0 {
		t.Fatalf("no build should be cast, got %d", len(builder.requests))
	}
}

func TestTriggerReportsCastFailure(t *testing.T) {
	svc, _, builder := newTestService()
	builder.err = errors.New("broker down")
	if _, err := svc.Trigger(context.Background(), bus.RequestContext{}, BuildRequest{SourceURI: "git://x"}); err == nil {
		t.Fatalf("expected cast failure to surface")
	}
}
