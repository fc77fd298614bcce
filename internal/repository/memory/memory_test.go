package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/splax/conveyor/internal/domain"
	"github.com/splax/conveyor/internal/repository"
)

func TestApplyAssemblyUpdateRejectsStaleSequence(t *testing.T) {
	ctx := context.Background()
	store := New()
	assembly := &domain.Assembly{Name: "app", Status: domain.AssemblyQueued}
	if err := store.CreateAssembly(ctx, assembly); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := store.ApplyAssemblyUpdate(ctx, domain.AssemblyUpdate{AssemblyID: assembly.ID, Status: domain.AssemblyReady, Seq: 5}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	err := store.ApplyAssemblyUpdate(ctx, domain.AssemblyUpdate{AssemblyID: assembly.ID, Status: domain.AssemblyBuilding, Seq: 3})
	if !errors.Is(err, repository.ErrStaleSequence) {
		t.Fatalf("expected stale sequence, got %v", err)
	}
	err = store.ApplyAssemblyUpdate(ctx, domain.AssemblyUpdate{AssemblyID: assembly.ID, Status: domain.AssemblyBuilding, Seq: 5})
	if !errors.Is(err, repository.ErrStaleSequence) {
		t.Fatalf("equal sequence must be rejected, got %v", err)
	}

	got, err := store.GetAssembly(ctx, assembly.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.AssemblyReady || got.Seq != 5 {
		t.Fatalf("unexpected assembly %+v", got)
	}
}

func TestApplyImageUpdateRejectsUndeclaredStatus(t *testing.T) {
	ctx := context.Background()
	store := New()
	image := &domain.Image{Name: "img", Status: domain.ImagePending}
	if err := store.CreateImage(ctx, image); err != nil {
		t.Fatalf("create: %v", err)
	}
	err := store.ApplyImageUpdate(ctx, domain.ImageUpdate{ImageID: image.ID, Status: "DONE", Seq: 1})
	if !errors.Is(err, repository.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if err := store.ApplyImageUpdate(ctx, domain.ImageUpdate{ImageID: "missing", Status: domain.ImageError, Seq: 1}); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCreateComponentOnceConcurrent(t *testing.T) {
	ctx := context.Background()
	store := New()
	var wg sync.WaitGroup
	created := make(chan bool, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.CreateComponentOnce(ctx, &domain.Component{AssemblyID: "a1", Description: domain.ComponentImageBuild})
			if err != nil {
				t.Errorf("create: %v", err)
			}
			created <- ok
		}()
	}
	wg.Wait()
	close(created)
	count := 0
	for ok := range created {
		if ok {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one creation, got %d", count)
	}
	components, _ := store.ListComponents(ctx, "a1")
	if len(components) != 1 {
		t.Fatalf("expected one stored component, got %d", len(components))
	}
}

func TestDeleteAssemblyRemovesComponents(t *testing.T) {
	ctx := context.Background()
	store := New()
	assembly := &domain.Assembly{Status: domain.AssemblyActive}
	_ = store.CreateAssembly(ctx, assembly)
	_, _ = store.CreateComponentOnce(ctx, &domain.Component{AssemblyID: assembly.ID, Description: domain.ComponentHeatStack})
	if err := store.DeleteAssembly(ctx, assembly.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.FindComponent(ctx, assembly.ID, domain.ComponentHeatStack); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected component gone, got %v", err)
	}
	if err := store.DeleteAssembly(ctx, assembly.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}
