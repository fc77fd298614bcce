package repository

import (
	"context"

	"github.com/splax/conveyor/internal/domain"
)

// PlanReader reads plans.
type PlanReader interface {
	GetPlan(ctx context.Context, id string) (*domain.Plan, error)
}

// AssemblyReader reads assemblies and their components.
type AssemblyReader interface {
	GetAssembly(ctx context.Context, id string) (*domain.Assembly, error)
	ListAssembliesByPlan(ctx context.Context, planID string) ([]domain.Assembly, error)
	ListComponents(ctx context.Context, assemblyID string) ([]domain.Component, error)
	FindComponent(ctx context.Context, assemblyID, description string) (*domain.Component, error)
}

// ImageReader reads images.
type ImageReader interface {
	GetImage(ctx context.Context, id string) (*domain.Image, error)
}

// Reader is the read-only view handed to the worker and deployer.
type Reader interface {
	PlanReader
	AssemblyReader
	ImageReader
}

// StateWriter mutates assembly, image and component state. Only the conductor holds one.
type StateWriter interface {
	// ApplyImageUpdate writes update when its sequence exceeds the stored one.
	// It returns ErrStaleSequence otherwise and ErrNotFound for unknown images.
	ApplyImageUpdate(ctx context.Context, update domain.ImageUpdate) error
	// ApplyAssemblyUpdate follows the same sequencing rules as ApplyImageUpdate.
	ApplyAssemblyUpdate(ctx context.Context, update domain.AssemblyUpdate) error
	// CreateComponentOnce inserts component unless the assembly already has one with
	// the same description. It reports whether a row was created.
	CreateComponentOnce(ctx context.Context, component *domain.Component) (bool, error)
	DeleteAssembly(ctx context.Context, id string) error
}

// Provisioner creates the records a build starts from.
type Provisioner interface {
	CreatePlan(ctx context.Context, plan *domain.Plan) error
	CreateAssembly(ctx context.Context, assembly *domain.Assembly) error
	CreateImage(ctx context.Context, image *domain.Image) error
}

// UserlogRepository persists log entries. Entries are never updated.
type UserlogRepository interface {
	CreateUserlog(ctx context.Context, entry *domain.Userlog) error
	ListUserlogs(ctx context.Context, resourceUUID string) ([]domain.Userlog, error)
}

// Store is everything a single backing database provides.
type Store interface {
	Reader
	StateWriter
	Provisioner
	UserlogRepository
}
