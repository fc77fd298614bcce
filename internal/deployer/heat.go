package deployer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/gophercloud/gophercloud"
	"github.com/gophercloud/gophercloud/openstack/networking/v2/networks"
	"github.com/gophercloud/gophercloud/openstack/orchestration/v1/stacks"

	"github.com/splax/conveyor/internal/bus"
	"github.com/splax/conveyor/internal/conductor"
	"github.com/splax/conveyor/internal/domain"
	"github.com/splax/conveyor/internal/openstack"
	"github.com/splax/conveyor/internal/repository"
)

const defaultAppPort = 80

// HeatOptions configure the heat backend.
type HeatOptions struct {
	Orchestration  *gophercloud.ServiceClient
	Network        *gophercloud.ServiceClient
	TemplateDir    string
	Template       string
	PublicNetwork  string
	PrivateNetwork string
	StackTimeout   time.Duration
}

// Heat deploys assemblies as orchestration stacks.
type Heat struct {
	opts     HeatOptions
	reader   repository.AssemblyReader
	reporter conductor.Reporter
	logger   *slog.Logger
}

// NewHeat constructs a Heat backend.
func NewHeat(opts HeatOptions, reader repository.AssemblyReader, reporter conductor.Reporter, logger *slog.Logger) (*Heat, error) {
	if opts.Orchestration == nil {
		return nil, errors.New("heat deployer requires an orchestration client")
	}
	if opts.Template == "" {
		return nil, errors.New("heat deployer requires a template name")
	}
	if reader == nil || reporter == nil {
		return nil, errors.New("heat deployer requires a reader and a reporter")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Heat{opts: opts, reader: reader, reporter: reporter, logger: logger}, nil
}

// Deploy creates the assembly's stack, or updates it when one is already registered.
// The assembly is marked ACTIVE once the orchestration service accepts the request.
func (h *Heat) Deploy(ctx context.Context, rc bus.RequestContext, req DeployRequest) error {
	log := h.logger.With("assembly_id", req.AssemblyID, "trace_id", rc.TraceID)
	assembly, err := h.reader.GetAssembly(ctx, req.AssemblyID)
	if err != nil {
		return fmt.Errorf("load assembly %s: %w", req.AssemblyID, err)
	}
	conductor.ObserveSeq(h.reporter, assembly.Seq)
	if err := h.reporter.UpdateAssembly(ctx, rc, assembly.ID, domain.AssemblyDeploying, ""); err != nil {
		return fmt.Errorf("report deploying: %w", err)
	}
	if err := h.deploy(ctx, rc, assembly, req, log); err != nil {
		log.Error("heat deploy failed", "error", err)
		h.reportError(ctx, rc, assembly.ID, log)
		return err
	}
	if err := h.reporter.UpdateAssembly(ctx, rc, assembly.ID, domain.AssemblyActive, ""); err != nil {
		return fmt.Errorf("report active: %w", err)
	}
	return nil
}

func (h *Heat) deploy(ctx context.Context, rc bus.RequestContext, assembly *domain.Assembly, req DeployRequest, log *slog.Logger) error {
	tmpl, err := h.loadTemplate()
	if err != nil {
		return err
	}
	params, err := h.parameters(assembly, req)
	if err != nil {
		return err
	}

	existing, err := h.reader.FindComponent(ctx, assembly.ID, domain.ComponentHeatStack)
	switch {
	case err == nil:
		opts := stacks.UpdateOpts{
			TemplateOpts: &stacks.Template{TE: stacks.TE{Bin: tmpl}},
			Parameters:   params,
		}
		if err := stacks.Update(h.opts.Orchestration, existing.Name, existing.ResourceURI, opts).ExtractErr(); err != nil {
			return fmt.Errorf("update stack %s: %w", existing.Name, err)
		}
		log.Info("heat stack updated", "stack_name", existing.Name, "stack_id", existing.ResourceURI)
		return nil
	case !errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("find heat stack component: %w", err)
	}

	name := stackName(assembly)
	created, err := stacks.Create(h.opts.Orchestration, stacks.CreateOpts{
		Name:         name,
		TemplateOpts: &stacks.Template{TE: stacks.TE{Bin: tmpl}},
		Parameters:   params,
		Timeout:      int(h.opts.StackTimeout / time.Minute),
	}).Extract()
	if err != nil {
		return fmt.Errorf("create stack %s: %w", name, err)
	}
	log.Info("heat stack created", "stack_name", name, "stack_id", created.ID)

	return h.reporter.RegisterComponent(ctx, rc, conductor.ComponentRegistration{
		AssemblyID:    assembly.ID,
		Description:   domain.ComponentHeatStack,
		Name:          name,
		ResourceURI:   created.ID,
		ComponentType: "heat_stack",
	})
}

// Scale updates the instance count of an existing stack.
func (h *Heat) Scale(ctx context.Context, rc bus.RequestContext, req ScaleRequest) error {
	if req.Count < 1 {
		return fmt.Errorf("scale count must be positive, got %d", req.Count)
	}
	comp, err := h.reader.FindComponent(ctx, req.AssemblyID, domain.ComponentHeatStack)
	if err != nil {
		return fmt.Errorf("find heat stack for %s: %w", req.AssemblyID, err)
	}
	opts := stacks.UpdateOpts{Parameters: map[string]any{"count": req.Count}}
	if err := stacks.UpdatePatch(h.opts.Orchestration, comp.Name, comp.ResourceURI, opts).ExtractErr(); err != nil {
		return fmt.Errorf("scale stack %s: %w", comp.Name, err)
	}
	h.logger.Info("heat stack scaled", "assembly_id", req.AssemblyID, "stack_name", comp.Name, "count", req.Count, "trace_id", rc.TraceID)
	return nil
}

// DestroyAssembly deletes the assembly's stack and asks the conductor to drop the record.
func (h *Heat) DestroyAssembly(ctx context.Context, rc bus.RequestContext, assemblyID string) error {
	log := h.logger.With("assembly_id", assemblyID, "trace_id", rc.TraceID)
	followAssembly(ctx, h.reader, h.reporter, assemblyID)
	if err := h.reporter.UpdateAssembly(ctx, rc, assemblyID, domain.AssemblyDeleting, ""); err != nil {
		return fmt.Errorf("report deleting: %w", err)
	}

	comp, err := h.reader.FindComponent(ctx, assemblyID, domain.ComponentHeatStack)
	switch {
	case err == nil:
		err = stacks.Delete(h.opts.Orchestration, comp.Name, comp.ResourceURI).ExtractErr()
		if err != nil && !openstack.IsNotFound(err) {
			log.Error("heat stack delete failed", "stack_name", comp.Name, "error", err)
			h.reportError(ctx, rc, assemblyID, log)
			return fmt.Errorf("delete stack %s: %w", comp.Name, err)
		}
		log.Info("heat stack deleted", "stack_name", comp.Name, "stack_id", comp.ResourceURI)
	case errors.Is(err, repository.ErrNotFound):
		log.Info("no heat stack registered")
	default:
		return fmt.Errorf("find heat stack component: %w", err)
	}

	return h.reporter.DeleteAssembly(ctx, rc, assemblyID)
}

// DestroyApp destroys every assembly of planID.
func (h *Heat) DestroyApp(ctx context.Context, rc bus.RequestContext, planID string) error {
	return destroyPlan(ctx, rc, h.reader, planID, h.DestroyAssembly)
}

func (h *Heat) reportError(ctx context.Context, rc bus.RequestContext, assemblyID string, log *slog.Logger) {
	if err := h.reporter.UpdateAssembly(ctx, rc, assemblyID, domain.AssemblyError, ""); err != nil {
		log.Warn("failed to report assembly error", "error", err)
	}
}

func (h *Heat) loadTemplate() ([]byte, error) {
	path := filepath.Join(h.opts.TemplateDir, h.opts.Template)
	tmpl, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read heat template: %w", err)
	}
	return tmpl, nil
}

func (h *Heat) parameters(assembly *domain.Assembly, req DeployRequest) (map[string]any, error) {
	port := defaultAppPort
	if len(req.Ports) > 0 {
		port = req.Ports[0]
	}
	params := map[string]any{
		"name":  assembly.Name,
		"image": req.ImageRef,
		"port":  port,
		"count": 1,
	}
	for key, name := range map[string]string{
		"public_net":  h.opts.PublicNetwork,
		"private_net": h.opts.PrivateNetwork,
	} {
		if name == "" {
			continue
		}
		id, err := h.networkID(name)
		if err != nil {
			return nil, err
		}
		params[key] = id
	}
	return params, nil
}

func (h *Heat) networkID(name string) (string, error) {
	if h.opts.Network == nil {
		return "", errors.New("network client not configured")
	}
	pages, err := networks.List(h.opts.Network, networks.ListOpts{Name: name}).AllPages()
	if err != nil {
		return "", fmt.Errorf("list networks: %w", err)
	}
	found, err := networks.ExtractNetworks(pages)
	if err != nil {
		return "", fmt.Errorf("extract networks: %w", err)
	}
	for _, n := range found {
		if n.Name == name {
			return n.ID, nil
		}
	}
	return "", fmt.Errorf("network %q not found", name)
}

var stackNameUnsafe = regexp.MustCompile(`[^a-zA-Z0-9_.-]+`)

// stackName derives a stable stack name from the assembly. Heat names must start with a letter.
func stackName(a *domain.Assembly) string {
	base := strings.Trim(stackNameUnsafe.ReplaceAllString(a.Name, "-"), "-")
	if base == "" || !isLetter(base[0]) {
		base = "app-" + base
	}
	id := strings.ReplaceAll(a.ID, "-", "")
	if len(id) > 8 {
		id = id[:8]
	}
	return strings.TrimSuffix(base, "-") + "-" + id
}

func isLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func destroyPlan(ctx context.Context, rc bus.RequestContext, reader repository.AssemblyReader, planID string, destroy func(context.Context, bus.RequestContext, string) error) error {
	assemblies, err := reader.ListAssembliesByPlan(ctx, planID)
	if err != nil {
		return fmt.Errorf("list assemblies for plan %s: %w", planID, err)
	}
	var errs []error
	for _, a := range assemblies {
		if err := destroy(ctx, rc, a.ID); err != nil {
			errs = append(errs, fmt.Errorf("assembly %s: %w", a.ID, err))
		}
	}
	return errors.Join(errs...)
}
