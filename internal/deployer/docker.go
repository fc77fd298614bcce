package deployer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/splax/conveyor/internal/bus"
	"github.com/splax/conveyor/internal/conductor"
	"github.com/splax/conveyor/internal/docker"
	"github.com/splax/conveyor/internal/domain"
	"github.com/splax/conveyor/internal/repository"
)

// ContainerRuntime starts and removes application containers.
type ContainerRuntime interface {
	RunContainer(ctx context.Context, spec docker.RunSpec) (docker.ContainerInfo, error)
	RemoveContainer(ctx context.Context, name string) error
}

// DockerOptions configure the docker backend.
type DockerOptions struct {
	Runtime ContainerRuntime
	// PublicIP is the address application URIs are built from.
	PublicIP string
}

// Docker runs each assembly as a single container on one daemon.
type Docker struct {
	opts     DockerOptions
	reader   repository.AssemblyReader
	reporter conductor.Reporter
	logger   *slog.Logger
}

// NewDocker constructs a Docker backend.
func NewDocker(opts DockerOptions, reader repository.AssemblyReader, reporter conductor.Reporter, logger *slog.Logger) (*Docker, error) {
	if opts.Runtime == nil {
		return nil, errors.New("docker deployer requires a container runtime")
	}
	if reader == nil || reporter == nil {
		return nil, errors.New("docker deployer requires a reader and a reporter")
	}
	if opts.PublicIP == "" {
		opts.PublicIP = "127.0.0.1"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Docker{opts: opts, reader: reader, reporter: reporter, logger: logger}, nil
}

func containerName(assemblyID string) string {
	return "conveyor-" + assemblyID
}

// Deploy replaces the assembly's container with one running req.ImageRef.
func (d *Docker) Deploy(ctx context.Context, rc bus.RequestContext, req DeployRequest) error {
	log := d.logger.With("assembly_id", req.AssemblyID, "trace_id", rc.TraceID)
	assembly, err := d.reader.GetAssembly(ctx, req.AssemblyID)
	if err != nil {
		return fmt.Errorf("load assembly %s: %w", req.AssemblyID, err)
	}
	conductor.ObserveSeq(d.reporter, assembly.Seq)
	if err := d.reporter.UpdateAssembly(ctx, rc, assembly.ID, domain.AssemblyDeploying, ""); err != nil {
		return fmt.Errorf("report deploying: %w", err)
	}

	spec := docker.RunSpec{
		Name:       containerName(assembly.ID),
		Image:      req.ImageRef,
		Ports:      req.Ports,
		AssemblyID: assembly.ID,
	}
	if req.RunCmd != "" {
		spec.Cmd = []string{"/bin/sh", "-c", req.RunCmd}
	}
	info, err := d.opts.Runtime.RunContainer(ctx, spec)
	if err != nil {
		log.Error("container start failed", "image_ref", req.ImageRef, "error", err)
		if rerr := d.reporter.UpdateAssembly(ctx, rc, assembly.ID, domain.AssemblyError, ""); rerr != nil {
			log.Warn("failed to report assembly error", "error", rerr)
		}
		return fmt.Errorf("run container: %w", err)
	}

	uri := ""
	if port := info.HostPort(); port != "" {
		uri = "http://" + net.JoinHostPort(d.opts.PublicIP, port)
	}
	if err := d.reporter.RegisterComponent(ctx, rc, conductor.ComponentRegistration{
		AssemblyID:    assembly.ID,
		Description:   domain.ComponentDockerContainer,
		Name:          spec.Name,
		ResourceURI:   info.ID,
		ComponentType: "docker_container",
	}); err != nil {
		return fmt.Errorf("register container component: %w", err)
	}
	log.Info("container started", "container_id", info.ID, "application_uri", uri)
	return d.reporter.UpdateAssembly(ctx, rc, assembly.ID, domain.AssemblyActive, uri)
}

// Scale is not supported by a single-daemon runtime.
func (d *Docker) Scale(_ context.Context, rc bus.RequestContext, req ScaleRequest) error {
	d.logger.Warn("scale unsupported by docker deployer", "assembly_id", req.AssemblyID, "count", req.Count, "trace_id", rc.TraceID)
	return nil
}

// DestroyAssembly removes the assembly's container and asks the conductor to drop the record.
func (d *Docker) DestroyAssembly(ctx context.Context, rc bus.RequestContext, assemblyID string) error {
	log := d.logger.With("assembly_id", assemblyID, "trace_id", rc.TraceID)
	followAssembly(ctx, d.reader, d.reporter, assemblyID)
	if err := d.reporter.UpdateAssembly(ctx, rc, assemblyID, domain.AssemblyDeleting, ""); err != nil {
		return fmt.Errorf("report deleting: %w", err)
	}
	name := containerName(assemblyID)
	if comp, err := d.reader.FindComponent(ctx, assemblyID, domain.ComponentDockerContainer); err == nil && comp.Name != "" {
		name = comp.Name
	}
	if err := d.opts.Runtime.RemoveContainer(ctx, name); err != nil {
		log.Error("container removal failed", "container", name, "error", err)
		if rerr := d.reporter.UpdateAssembly(ctx, rc, assemblyID, domain.AssemblyError, ""); rerr != nil {
			log.Warn("failed to report assembly error", "error", rerr)
		}
		return err
	}
	log.Info("container removed", "container", name)
	return d.reporter.DeleteAssembly(ctx, rc, assemblyID)
}

// DestroyApp destroys every assembly of planID.
func (d *Docker) DestroyApp(ctx context.Context, rc bus.RequestContext, planID string) error {
	return destroyPlan(ctx, rc, d.reader, planID, d.DestroyAssembly)
}
