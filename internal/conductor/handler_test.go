package conductor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/splax/conveyor/internal/bus"
	"github.com/splax/conveyor/internal/domain"
	"github.com/splax/conveyor/internal/repository"
	"github.com/splax/conveyor/internal/repository/memory"
)

func newTestHandler(t *testing.T) (*Handler, *memory.Store, *domain.Assembly, *domain.Image) {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	image := &domain.Image{Name: "web", Status: domain.ImagePending}
	if err := store.CreateImage(ctx, image); err != nil {
		t.Fatalf("create image: %v", err)
	}
	assembly := &domain.Assembly{Name: "web", PlanID: "plan-1", ProjectID: "proj-1", Status: domain.AssemblyQueued, ImageID: image.ID}
	if err := store.CreateAssembly(ctx, assembly); err != nil {
		t.Fatalf("create assembly: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewHandler(store, logger), store, assembly, image
}

func TestBuildJobUpdateCreatesSingleImageBuildComponent(t *testing.T) {
	h, store, assembly, image := newTestHandler(t)
	ctx := context.Background()
	rc := bus.RequestContext{ProjectID: "proj-1"}

	for seq := uint64(1); seq <= 3; seq++ {
		_, err := h.BuildJobUpdate(ctx, rc, BuildJobUpdate{
			BuildID:        image.ID,
			Status:         "COMPLETE",
			CreatedImageID: "img-123",
			AssemblyID:     assembly.ID,
			Seq:            seq,
		})
		if err != nil {
			t.Fatalf("update %d: %v", seq, err)
		}
	}

	components, err := store.ListComponents(ctx, assembly.ID)
	if err != nil {
		t.Fatalf("list components: %v", err)
	}
	if len(components) != 1 {
		t.Fatalf("expected one component, got %d", len(components))
	}
	if components[0].Description != domain.ComponentImageBuild || components[0].ResourceURI != "img-123" {
		t.Fatalf("unexpected component %+v", components[0])
	}
	stored, _ := store.GetImage(ctx, image.ID)
	if stored.Status != domain.ImageComplete || stored.CreatedImageID != "img-123" {
		t.Fatalf("unexpected image %+v", stored)
	}
}

func TestBuildJobUpdateErrorSkipsComponent(t *testing.T) {
	h, store, assembly, image := newTestHandler(t)
	ctx := context.Background()
	_, err := h.BuildJobUpdate(ctx, bus.RequestContext{}, BuildJobUpdate{
		BuildID: image.ID, Status: "ERROR", Reason: "image not created", AssemblyID: assembly.ID, Seq: 1,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	components, _ := store.ListComponents(ctx, assembly.ID)
	if len(components) != 0 {
		t.Fatalf("expected no components, got %d", len(components))
	}
	stored, _ := store.GetImage(ctx, image.ID)
	if stored.Reason != "image not created" {
		t.Fatalf("reason not stored: %+v", stored)
	}
}

func TestUpdateAssemblyRejectsUndeclaredStatus(t *testing.T) {
	h, store, assembly, _ := newTestHandler(t)
	ctx := context.Background()
	if _, err := h.UpdateAssembly(ctx, bus.RequestContext{}, AssemblyUpdate{AssemblyID: assembly.ID, Status: "DONE", Seq: 1}); err == nil {
		t.Fatalf("expected undeclared status to be rejected")
	}
	stored, _ := store.GetAssembly(ctx, assembly.ID)
	if stored.Status != domain.AssemblyQueued {
		t.Fatalf("status changed to %s", stored.Status)
	}
}

func TestUpdateAssemblyRejectsStaleAndMissingSequence(t *testing.T) {
	h, store, assembly, _ := newTestHandler(t)
	ctx := context.Background()
	rc := bus.RequestContext{}

	if _, err := h.UpdateAssembly(ctx, rc, AssemblyUpdate{AssemblyID: assembly.ID, Status: "READY", Seq: 10}); err != nil {
		t.Fatalf("update: %v", err)
	}
	_, err := h.UpdateAssembly(ctx, rc, AssemblyUpdate{AssemblyID: assembly.ID, Status: "BUILDING", Seq: 9})
	if !errors.Is(err, repository.ErrStaleSequence) {
		t.Fatalf("expected stale sequence, got %v", err)
	}
	_, err = h.UpdateAssembly(ctx, rc, AssemblyUpdate{AssemblyID: assembly.ID, Status: "DEPLOYING"})
	if !errors.Is(err, repository.ErrStaleSequence) {
		t.Fatalf("expected missing sequence rejection, got %v", err)
	}
	stored, _ := store.GetAssembly(ctx, assembly.ID)
	if stored.Status != domain.AssemblyReady {
		t.Fatalf("expected READY, got %s", stored.Status)
	}
}

func TestRegisterComponentAndDeleteAssembly(t *testing.T) {
	h, store, assembly, _ := newTestHandler(t)
	ctx := context.Background()
	rc := bus.RequestContext{}

	msg := ComponentRegistration{AssemblyID: assembly.ID, Description: domain.ComponentHeatStack, Name: "web", ResourceURI: "stack-1"}
	ack, err := h.RegisterComponent(ctx, rc, msg)
	if err != nil || !ack.Applied {
		t.Fatalf("first registration: %+v %v", ack, err)
	}
	ack, err = h.RegisterComponent(ctx, rc, msg)
	if err != nil || ack.Applied {
		t.Fatalf("second registration should be a no-op: %+v %v", ack, err)
	}
	component, err := store.FindComponent(ctx, assembly.ID, domain.ComponentHeatStack)
	if err != nil || component.ResourceURI != "stack-1" || component.PlanID != "plan-1" {
		t.Fatalf("unexpected component %+v %v", component, err)
	}

	if _, err := h.DeleteAssembly(ctx, rc, AssemblyDeletion{AssemblyID: assembly.ID}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := h.DeleteAssembly(ctx, rc, AssemblyDeletion{AssemblyID: assembly.ID}); err != nil {
		t.Fatalf("second delete should be tolerated: %v", err)
	}
	if _, err := store.GetAssembly(ctx, assembly.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("assembly still present: %v", err)
	}
}

func TestClientRoundTripOverBus(t *testing.T) {
	h, store, assembly, image := newTestHandler(t)
	broker := bus.NewMemoryBroker()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	d := bus.NewDispatcher()
	h.Register(d)

	ctx, cancel := context.WithCancel(context.Background())
	srv := bus.NewServer(broker, Topic, d, bus.Signer{}, logger)
	done := make(chan struct{})
	go func() {
		_ = srv.Serve(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	client := NewClient(bus.NewClient(broker, bus.Signer{}, time.Second, logger), nil)
	rc := bus.RequestContext{ProjectID: "proj-1"}
	if err := client.UpdateImage(ctx, rc, ImageUpdate{ImageID: image.ID, Status: "BUILDING"}); err != nil {
		t.Fatalf("cast image update: %v", err)
	}
	if err := client.UpdateAssembly(ctx, rc, assembly.ID, domain.AssemblyBuilding, ""); err != nil {
		t.Fatalf("cast assembly update: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		a, _ := store.GetAssembly(ctx, assembly.ID)
		i, _ := store.GetImage(ctx, image.ID)
		if a.Status == domain.AssemblyBuilding && i.Status == domain.ImageBuilding {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("updates not applied in time")
}

func TestDuplicateUpdatesAreAcknowledged(t *testing.T) {
	h, store, assembly, image := newTestHandler(t)
	ctx := context.Background()
	rc := bus.RequestContext{}

	msg := BuildJobUpdate{BuildID: image.ID, Status: "COMPLETE", CreatedImageID: "img-1", AssemblyID: assembly.ID, Seq: 7}
	first, err := h.BuildJobUpdate(ctx, rc, msg)
	if err != nil || !first.Applied {
		t.Fatalf("first delivery: %+v %v", first, err)
	}
	second, err := h.BuildJobUpdate(ctx, rc, msg)
	if err != nil {
		t.Fatalf("redelivery should not fail: %v", err)
	}
	if second.Applied {
		t.Fatalf("redelivery reported as applied")
	}
	components, _ := store.ListComponents(ctx, assembly.ID)
	if len(components) != 1 {
		t.Fatalf("expected one component, got %d", len(components))
	}

	update := AssemblyUpdate{AssemblyID: assembly.ID, Status: "READY", Seq: 4}
	if _, err := h.UpdateAssembly(ctx, rc, update); err != nil {
		t.Fatalf("assembly update: %v", err)
	}
	if ack, err := h.UpdateAssembly(ctx, rc, update); err != nil || ack.Applied {
		t.Fatalf("assembly redelivery: %+v %v", ack, err)
	}
	// Same sequence with a different status is still a conflict.
	if _, err := h.UpdateAssembly(ctx, rc, AssemblyUpdate{AssemblyID: assembly.ID, Status: "ERROR", Seq: 4}); !errors.Is(err, repository.ErrStaleSequence) {
		t.Fatalf("expected stale sequence, got %v", err)
	}

	imageUpdate := ImageUpdate{ImageID: image.ID, Status: "COMPLETE", Seq: 8}
	if _, err := h.UpdateImage(ctx, rc, imageUpdate); err != nil {
		t.Fatalf("image update: %v", err)
	}
	if ack, err := h.UpdateImage(ctx, rc, imageUpdate); err != nil || ack.Applied {
		t.Fatalf("image redelivery: %+v %v", ack, err)
	}
}

// flakyComponentStore fails the first component creation.
type flakyComponentStore struct {
	*memory.Store
	failed bool
}

func (s *flakyComponentStore) CreateComponentOnce(ctx context.Context, c *domain.Component) (bool, error) {
	if !s.failed {
		s.failed = true
		return false, errors.New("connection reset")
	}
	return s.Store.CreateComponentOnce(ctx, c)
}

func TestBuildJobUpdateRedeliveryCreatesMissingComponent(t *testing.T) {
	_, mem, assembly, image := newTestHandler(t)
	store := &flakyComponentStore{Store: mem}
	h := NewHandler(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	msg := BuildJobUpdate{BuildID: image.ID, Status: "COMPLETE", ExternalRef: "registry/web:1", AssemblyID: assembly.ID, Seq: 3}
	if _, err := h.BuildJobUpdate(ctx, bus.RequestContext{}, msg); err == nil {
		t.Fatalf("expected component failure to surface")
	}
	stored, _ := mem.GetImage(ctx, image.ID)
	if stored.Status != domain.ImageComplete {
		t.Fatalf("image update not applied: %+v", stored)
	}

	ack, err := h.BuildJobUpdate(ctx, bus.RequestContext{}, msg)
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if !ack.Applied {
		t.Fatalf("expected redelivery to report the component creation")
	}
	component, err := mem.FindComponent(ctx, assembly.ID, domain.ComponentImageBuild)
	if err != nil || component.ResourceURI != "registry/web:1" {
		t.Fatalf("component not created on redelivery: %+v %v", component, err)
	}
}
