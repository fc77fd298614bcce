package worker

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/splax/conveyor/internal/bus"
	"github.com/splax/conveyor/internal/conductor"
	"github.com/splax/conveyor/internal/domain"
	"github.com/splax/conveyor/internal/repository/memory"
	"github.com/splax/conveyor/internal/userlog"
	"github.com/splax/conveyor/internal/workspace"
)

func TestBuildPipelineThroughConductor(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	logger := newTestLogger()
	store := memory.New()

	image := &domain.Image{Name: "web", Status: domain.ImagePending}
	if err := store.CreateImage(ctx, image); err != nil {
		t.Fatalf("create image: %v", err)
	}
	assembly := &domain.Assembly{Name: "web", PlanID: "plan-1", Status: domain.AssemblyQueued, ImageID: image.ID}
	if err := store.CreateAssembly(ctx, assembly); err != nil {
		t.Fatalf("create assembly: %v", err)
	}

	broker := bus.NewMemoryBroker()
	signer := bus.NewSigner("pipeline-secret", time.Minute)
	client := bus.NewClient(broker, signer, 5*time.Second, logger)

	conductorDispatch := bus.NewDispatcher()
	conductor.NewHandler(store, logger).Register(conductorDispatch)

	scripts := t.TempDir()
	writeScript(t, scripts, "lp-cedarish/docker", buildScript, `echo "created_image_id=built-1"`)
	ws, err := workspace.New(t.TempDir())
	if err != nil {
		t.Fatalf("workspace: %v", err)
	}
	uploader, err := userlog.NewLocalUploader(t.TempDir(), store, logger)
	if err != nil {
		t.Fatalf("uploader: %v", err)
	}
	deploys := &fakeDeployer{}
	backend, err := New(HandlerShell, Options{ScriptDir: scripts, BuildTimeout: 10 * time.Second}, Deps{
		Reporter:  conductor.NewClient(client, domain.NewSequencer()),
		Deployer:  deploys,
		Uploader:  uploader,
		Workspace: ws,
		Logger:    logger,
	})
	if err != nil {
		t.Fatalf("backend: %v", err)
	}
	workerDispatch := bus.NewDispatcher()
	Register(workerDispatch, backend)

	servers := []*bus.Server{
		bus.NewServer(broker, conductor.Topic, conductorDispatch, signer, logger),
		bus.NewServer(broker, Topic, workerDispatch, signer, logger),
	}
	done := make(chan struct{}, len(servers))
	for _, srv := range servers {
		go func(s *bus.Server) {
			_ = s.Serve(ctx)
			done <- struct{}{}
		}(srv)
	}
	defer func() {
		cancel()
		for range servers {
			<-done
		}
	}()

	workers := NewClient(client)
	if reply, err := workers.Echo(ctx, bus.RequestContext{}, "ping"); err != nil || reply != "ping" {
		t.Fatalf("echo: %q %v", reply, err)
	}
	rc := bus.RequestContext{UserID: "user-1", ProjectID: "proj-1"}
	if err := workers.Build(ctx, rc, BuildRequest{BuildID: image.ID, AssemblyID: assembly.ID, Name: "web", SourceURI: "git://app"}); err != nil {
		t.Fatalf("cast build: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		a, _ := store.GetAssembly(ctx, assembly.ID)
		i, _ := store.GetImage(ctx, image.ID)
		components, _ := store.ListComponents(ctx, assembly.ID)
		if a.Status == domain.AssemblyReady && i.Status == domain.ImageComplete && len(components) == 1 {
			if i.CreatedImageID != "built-1" {
				t.Fatalf("unexpected created image id %q", i.CreatedImageID)
			}
			if components[0].Description != domain.ComponentImageBuild {
				t.Fatalf("unexpected component %+v", components[0])
			}
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	a, _ := store.GetAssembly(ctx, assembly.ID)
	i, _ := store.GetImage(ctx, image.ID)
	t.Fatalf("pipeline did not settle: assembly=%s image=%s", a.Status, i.Status)
}
