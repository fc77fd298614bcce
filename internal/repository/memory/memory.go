// Package memory is an in-process store used by tests and single-node setups.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/splax/conveyor/internal/domain"
	"github.com/splax/conveyor/internal/repository"
)

// Store keeps every record in maps guarded by one mutex.
type Store struct {
	mu         sync.Mutex
	plans      map[string]domain.Plan
	assemblies map[string]domain.Assembly
	images     map[string]domain.Image
	components map[string][]domain.Component
	userlogs   []domain.Userlog
	now        func() time.Time
}

var _ repository.Store = (*Store)(nil)

// New constructs an empty Store.
func New() *Store {
	return &Store{
		plans:      make(map[string]domain.Plan),
		assemblies: make(map[string]domain.Assembly),
		images:     make(map[string]domain.Image),
		components: make(map[string][]domain.Component),
		now:        time.Now,
	}
}

// CreatePlan stores plan, assigning an id when empty.
func (s *Store) CreatePlan(_ context.Context, plan *domain.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if plan.ID == "" {
		plan.ID = uuid.NewString()
	}
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = s.now()
	}
	cp := *plan
	cp.Artifacts = append([]domain.Artifact(nil), plan.Artifacts...)
	s.plans[plan.ID] = cp
	return nil
}

// GetPlan returns a copy of the plan.
func (s *Store) GetPlan(_ context.Context, id string) (*domain.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	plan, ok := s.plans[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	plan.Artifacts = append([]domain.Artifact(nil), plan.Artifacts...)
	return &plan, nil
}

// CreateAssembly stores assembly, assigning an id when empty.
func (s *Store) CreateAssembly(_ context.Context, assembly *domain.Assembly) error {
	if !assembly.Status.Valid() {
		return repository.ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if assembly.ID == "" {
		assembly.ID = uuid.NewString()
	}
	now := s.now()
	if assembly.CreatedAt.IsZero() {
		assembly.CreatedAt = now
	}
	assembly.UpdatedAt = now
	s.assemblies[assembly.ID] = *assembly
	return nil
}

// GetAssembly returns a copy of the assembly.
func (s *Store) GetAssembly(_ context.Context, id string) (*domain.Assembly, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	assembly, ok := s.assemblies[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &assembly, nil
}

// ListAssembliesByPlan returns the plan's assemblies ordered by creation time.
func (s *Store) ListAssembliesByPlan(_ context.Context, planID string) ([]domain.Assembly, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Assembly
	for _, a := range s.assemblies {
		if a.PlanID == planID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ApplyAssemblyUpdate writes update if its sequence is newer than the stored one.
func (s *Store) ApplyAssemblyUpdate(_ context.Context, update domain.AssemblyUpdate) error {
	if update.Status != "" && !update.Status.Valid() {
		return repository.ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	assembly, ok := s.assemblies[update.AssemblyID]
	if !ok {
		return repository.ErrNotFound
	}
	if update.Seq <= assembly.Seq {
		return repository.ErrStaleSequence
	}
	if update.Status != "" {
		assembly.Status = update.Status
	}
	if update.ImageID != "" {
		assembly.ImageID = update.ImageID
	}
	if update.ApplicationURI != "" {
		assembly.ApplicationURI = update.ApplicationURI
	}
	assembly.Seq = update.Seq
	assembly.UpdatedAt = s.now()
	s.assemblies[assembly.ID] = assembly
	return nil
}

// DeleteAssembly removes the assembly and its components.
func (s *Store) DeleteAssembly(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.assemblies[id]; !ok {
		return repository.ErrNotFound
	}
	delete(s.assemblies, id)
	delete(s.components, id)
	return nil
}

// CreateImage stores image, assigning an id when empty.
func (s *Store) CreateImage(_ context.Context, image *domain.Image) error {
	if !image.Status.Valid() {
		return repository.ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if image.ID == "" {
		image.ID = uuid.NewString()
	}
	now := s.now()
	if image.CreatedAt.IsZero() {
		image.CreatedAt = now
	}
	image.UpdatedAt = now
	s.images[image.ID] = *image
	return nil
}

// GetImage returns a copy of the image.
func (s *Store) GetImage(_ context.Context, id string) (*domain.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	image, ok := s.images[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &image, nil
}

// ApplyImageUpdate writes update if its sequence is newer than the stored one.
func (s *Store) ApplyImageUpdate(_ context.Context, update domain.ImageUpdate) error {
	if update.Status != "" && !update.Status.Valid() {
		return repository.ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	image, ok := s.images[update.ImageID]
	if !ok {
		return repository.ErrNotFound
	}
	if update.Seq <= image.Seq {
		return repository.ErrStaleSequence
	}
	if update.Status != "" {
		image.Status = update.Status
	}
	if update.Reason != "" {
		image.Reason = update.Reason
	}
	if update.ExternalRef != "" {
		image.ExternalRef = update.ExternalRef
	}
	if update.DockerImageName != "" {
		image.DockerImageName = update.DockerImageName
	}
	if update.CreatedImageID != "" {
		image.CreatedImageID = update.CreatedImageID
	}
	image.Seq = update.Seq
	image.UpdatedAt = s.now()
	s.images[image.ID] = image
	return nil
}

// ListComponents returns the components attached to an assembly.
func (s *Store) ListComponents(_ context.Context, assemblyID string) ([]domain.Component, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Component(nil), s.components[assemblyID]...), nil
}

// FindComponent returns the assembly's component with the given description.
func (s *Store) FindComponent(_ context.Context, assemblyID, description string) (*domain.Component, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.components[assemblyID] {
		if c.Description == description {
			found := c
			return &found, nil
		}
	}
	return nil, repository.ErrNotFound
}

// CreateComponentOnce inserts component unless its description already exists on the assembly.
func (s *Store) CreateComponentOnce(_ context.Context, component *domain.Component) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.components[component.AssemblyID] {
		if c.Description == component.Description {
			return false, nil
		}
	}
	if component.ID == "" {
		component.ID = uuid.NewString()
	}
	if component.CreatedAt.IsZero() {
		component.CreatedAt = s.now()
	}
	s.components[component.AssemblyID] = append(s.components[component.AssemblyID], *component)
	return true, nil
}

// CreateUserlog appends a log entry.
func (s *Store) CreateUserlog(_ context.Context, entry *domain.Userlog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	cp := *entry
	cp.StrategyInfo = make(map[string]string, len(entry.StrategyInfo))
	for k, v := range entry.StrategyInfo {
		cp.StrategyInfo[k] = v
	}
	s.userlogs = append(s.userlogs, cp)
	return nil
}

// ListUserlogs returns entries recorded for a resource in insertion order.
func (s *Store) ListUserlogs(_ context.Context, resourceUUID string) ([]domain.Userlog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Userlog
	for _, entry := range s.userlogs {
		if entry.ResourceUUID == resourceUUID {
			out = append(out, entry)
		}
	}
	return out, nil
}
