// Package conductor is the only writer of assembly, image and component state.
// Workers and deployers report progress to it over the bus.
package conductor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/splax/conveyor/internal/bus"
	"github.com/splax/conveyor/internal/domain"
	"github.com/splax/conveyor/internal/repository"
)

// Store is the persistence the conductor needs.
type Store interface {
	repository.AssemblyReader
	repository.ImageReader
	repository.StateWriter
}

// Handler applies status messages to the store.
type Handler struct {
	store  Store
	logger *slog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(store Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{store: store, logger: logger}
}

// Register installs the conductor methods on d.
func (h *Handler) Register(d *bus.Dispatcher) {
	d.Handle(MethodBuildJobUpdate, h.handleBuildJobUpdate)
	d.Handle(MethodUpdateAssembly, h.handleUpdateAssembly)
	d.Handle(MethodUpdateImage, h.handleUpdateImage)
	d.Handle(MethodRegisterComponent, h.handleRegisterComponent)
	d.Handle(MethodDeleteAssembly, h.handleDeleteAssembly)
}

func (h *Handler) handleBuildJobUpdate(ctx context.Context, rc bus.RequestContext, raw []byte) (any, error) {
	var msg BuildJobUpdate
	if err := bus.Decode(raw, &msg); err != nil {
		return nil, err
	}
	return h.BuildJobUpdate(ctx, rc, msg)
}

func (h *Handler) handleUpdateAssembly(ctx context.Context, rc bus.RequestContext, raw []byte) (any, error) {
	var msg AssemblyUpdate
	if err := bus.Decode(raw, &msg); err != nil {
		return nil, err
	}
	return h.UpdateAssembly(ctx, rc, msg)
}

func (h *Handler) handleUpdateImage(ctx context.Context, rc bus.RequestContext, raw []byte) (any, error) {
	var msg ImageUpdate
	if err := bus.Decode(raw, &msg); err != nil {
		return nil, err
	}
	return h.UpdateImage(ctx, rc, msg)
}

func (h *Handler) handleRegisterComponent(ctx context.Context, rc bus.RequestContext, raw []byte) (any, error) {
	var msg ComponentRegistration
	if err := bus.Decode(raw, &msg); err != nil {
		return nil, err
	}
	return h.RegisterComponent(ctx, rc, msg)
}

func (h *Handler) handleDeleteAssembly(ctx context.Context, rc bus.RequestContext, raw []byte) (any, error) {
	var msg AssemblyDeletion
	if err := bus.Decode(raw, &msg); err != nil {
		return nil, err
	}
	return h.DeleteAssembly(ctx, rc, msg)
}

// BuildJobUpdate records a build outcome on the image. A COMPLETE update tied to
// an assembly also attaches a single "Image Build" component to that assembly.
func (h *Handler) BuildJobUpdate(ctx context.Context, rc bus.RequestContext, msg BuildJobUpdate) (Ack, error) {
	status, err := domain.ParseImageStatus(msg.Status)
	if err != nil {
		return Ack{}, err
	}
	if msg.BuildID == "" {
		return Ack{}, errors.New("build_id is required")
	}
	log := h.logger.With("build_id", msg.BuildID, "assembly_id", msg.AssemblyID, "status", status, "seq", msg.Seq, "trace_id", rc.TraceID)

	update := domain.ImageUpdate{
		ImageID:         msg.BuildID,
		Status:          status,
		Reason:          msg.Reason,
		ExternalRef:     msg.ExternalRef,
		DockerImageName: msg.DockerImageName,
		CreatedImageID:  msg.CreatedImageID,
		Seq:             msg.Seq,
	}
	image, applied, err := h.applyImage(ctx, log, update)
	if err != nil {
		return Ack{}, err
	}

	// A redelivered COMPLETE still reaches the component step so that a
	// registration lost on the first delivery is retried.
	if status != domain.ImageComplete || msg.AssemblyID == "" {
		return Ack{Applied: applied}, nil
	}
	assembly, err := h.store.GetAssembly(ctx, msg.AssemblyID)
	if err != nil {
		return Ack{Applied: applied}, fmt.Errorf("load assembly %s: %w", msg.AssemblyID, err)
	}
	resource := msg.ExternalRef
	if resource == "" {
		resource = msg.CreatedImageID
	}
	created, err := h.store.CreateComponentOnce(ctx, &domain.Component{
		AssemblyID:    assembly.ID,
		PlanID:        assembly.PlanID,
		ProjectID:     assembly.ProjectID,
		Name:          image.Name,
		Description:   domain.ComponentImageBuild,
		ResourceURI:   resource,
		ComponentType: "build",
	})
	if err != nil {
		return Ack{Applied: applied}, fmt.Errorf("create image build component: %w", err)
	}
	if created {
		log.Info("image build component created")
	} else {
		log.Debug("image build component already present")
	}
	return Ack{Applied: applied || created}, nil
}

// UpdateAssembly applies a sequenced assembly status change.
func (h *Handler) UpdateAssembly(ctx context.Context, rc bus.RequestContext, msg AssemblyUpdate) (Ack, error) {
	status, err := domain.ParseAssemblyStatus(msg.Status)
	if err != nil {
		return Ack{}, err
	}
	if msg.AssemblyID == "" {
		return Ack{}, errors.New("assembly_id is required")
	}
	if msg.Seq == 0 {
		return Ack{}, fmt.Errorf("assembly %s: %w: missing sequence", msg.AssemblyID, repository.ErrStaleSequence)
	}
	log := h.logger.With("assembly_id", msg.AssemblyID, "status", status, "seq", msg.Seq, "trace_id", rc.TraceID)

	if current, err := h.store.GetAssembly(ctx, msg.AssemblyID); err == nil {
		if current.Status != status && !current.Status.CanTransition(status) {
			log.Warn("assembly status regression", "from", current.Status)
		}
	}
	err = h.store.ApplyAssemblyUpdate(ctx, domain.AssemblyUpdate{
		AssemblyID:     msg.AssemblyID,
		Status:         status,
		ApplicationURI: msg.ApplicationURI,
		Seq:            msg.Seq,
	})
	if err != nil {
		if errors.Is(err, repository.ErrStaleSequence) {
			if latest, lerr := h.store.GetAssembly(ctx, msg.AssemblyID); lerr == nil && latest.Seq == msg.Seq && latest.Status == status {
				log.Debug("duplicate assembly update ignored")
				return Ack{}, nil
			}
			log.Warn("discarding stale assembly update")
		}
		return Ack{}, fmt.Errorf("update assembly %s: %w", msg.AssemblyID, err)
	}
	log.Info("assembly status updated")
	return Ack{Applied: true}, nil
}

// UpdateImage applies a sequenced image status change.
func (h *Handler) UpdateImage(ctx context.Context, rc bus.RequestContext, msg ImageUpdate) (Ack, error) {
	status, err := domain.ParseImageStatus(msg.Status)
	if err != nil {
		return Ack{}, err
	}
	if msg.ImageID == "" {
		return Ack{}, errors.New("image_id is required")
	}
	log := h.logger.With("image_id", msg.ImageID, "status", status, "seq", msg.Seq, "trace_id", rc.TraceID)
	_, applied, err := h.applyImage(ctx, log, domain.ImageUpdate{
		ImageID:         msg.ImageID,
		Status:          status,
		ExternalRef:     msg.ExternalRef,
		DockerImageName: msg.DockerImageName,
		Seq:             msg.Seq,
	})
	if err != nil {
		return Ack{}, err
	}
	return Ack{Applied: applied}, nil
}

// RegisterComponent attaches a component unless one with the same description exists.
func (h *Handler) RegisterComponent(ctx context.Context, rc bus.RequestContext, msg ComponentRegistration) (Ack, error) {
	if msg.AssemblyID == "" || msg.Description == "" {
		return Ack{}, errors.New("assembly_id and description are required")
	}
	assembly, err := h.store.GetAssembly(ctx, msg.AssemblyID)
	if err != nil {
		return Ack{}, fmt.Errorf("load assembly %s: %w", msg.AssemblyID, err)
	}
	created, err := h.store.CreateComponentOnce(ctx, &domain.Component{
		AssemblyID:    assembly.ID,
		PlanID:        assembly.PlanID,
		ProjectID:     assembly.ProjectID,
		Name:          msg.Name,
		Description:   msg.Description,
		ResourceURI:   msg.ResourceURI,
		ComponentType: msg.ComponentType,
	})
	if err != nil {
		return Ack{}, fmt.Errorf("register component: %w", err)
	}
	h.logger.Info("component registration", "assembly_id", msg.AssemblyID, "description", msg.Description, "created", created, "trace_id", rc.TraceID)
	return Ack{Applied: created}, nil
}

// DeleteAssembly removes the assembly record. A missing assembly is not an error.
func (h *Handler) DeleteAssembly(ctx context.Context, rc bus.RequestContext, msg AssemblyDeletion) (Ack, error) {
	if msg.AssemblyID == "" {
		return Ack{}, errors.New("assembly_id is required")
	}
	if err := h.store.DeleteAssembly(ctx, msg.AssemblyID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return Ack{}, nil
		}
		return Ack{}, fmt.Errorf("delete assembly %s: %w", msg.AssemblyID, err)
	}
	h.logger.Info("assembly deleted", "assembly_id", msg.AssemblyID, "trace_id", rc.TraceID)
	return Ack{Applied: true}, nil
}

// applyImage reports applied=false with a nil error when the store already holds
// this exact update, which is how a redelivered message looks.
func (h *Handler) applyImage(ctx context.Context, log *slog.Logger, update domain.ImageUpdate) (*domain.Image, bool, error) {
	if update.Seq == 0 {
		return nil, false, fmt.Errorf("image %s: %w: missing sequence", update.ImageID, repository.ErrStaleSequence)
	}
	current, err := h.store.GetImage(ctx, update.ImageID)
	if err != nil {
		return nil, false, fmt.Errorf("load image %s: %w", update.ImageID, err)
	}
	if current.Status != update.Status && !current.Status.CanTransition(update.Status) {
		log.Warn("image status regression", "from", current.Status)
	}
	if err := h.store.ApplyImageUpdate(ctx, update); err != nil {
		if errors.Is(err, repository.ErrStaleSequence) {
			if latest, lerr := h.store.GetImage(ctx, update.ImageID); lerr == nil && latest.Seq == update.Seq && latest.Status == update.Status {
				log.Debug("duplicate image update ignored")
				return latest, false, nil
			}
			log.Warn("discarding stale image update")
		}
		return nil, false, fmt.Errorf("update image %s: %w", update.ImageID, err)
	}
	log.Info("image status updated")
	current.Status = update.Status
	return current, true, nil
}
