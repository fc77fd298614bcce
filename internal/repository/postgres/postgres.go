package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splax/conveyor/internal/domain"
	"github.com/splax/conveyor/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.Reader            = (*Repository)(nil)
	_ repository.StateWriter       = (*Repository)(nil)
	_ repository.Provisioner       = (*Repository)(nil)
	_ repository.UserlogRepository = (*Repository)(nil)
	_ repository.Store             = (*Repository)(nil)
)

// CreatePlan inserts a plan.
func (r *Repository) CreatePlan(ctx context.Context, plan *domain.Plan) error {
	if plan.ID == "" {
		plan.ID = uuid.NewString()
	}
	artifacts, err := json.Marshal(plan.Artifacts)
	if err != nil {
		return fmt.Errorf("encode artifacts: %w", err)
	}
	const query = `INSERT INTO plans (id, project_id, user_id, name, description, artifacts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW()) RETURNING created_at`
	return translate(r.pool.QueryRow(ctx, query,
		plan.ID, plan.ProjectID, plan.UserID, plan.Name, plan.Description, artifacts,
	).Scan(&plan.CreatedAt))
}

// GetPlan fetches a plan by id.
func (r *Repository) GetPlan(ctx context.Context, id string) (*domain.Plan, error) {
	const query = `SELECT id, project_id, user_id, name, description, artifacts, created_at FROM plans WHERE id = $1`
	var (
		p   domain.Plan
		raw []byte
	)
	if err := r.pool.QueryRow(ctx, query, id).Scan(&p.ID, &p.ProjectID, &p.UserID, &p.Name, &p.Description, &raw, &p.CreatedAt); err != nil {
		return nil, translate(err)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p.Artifacts); err != nil {
			return nil, fmt.Errorf("decode artifacts: %w", err)
		}
	}
	return &p, nil
}

// CreateAssembly inserts an assembly.
func (r *Repository) CreateAssembly(ctx context.Context, assembly *domain.Assembly) error {
	if assembly.ID == "" {
		assembly.ID = uuid.NewString()
	}
	const query = `INSERT INTO assemblies (id, plan_id, project_id, user_id, name, description, status, image_id, application_uri, seq, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW()) RETURNING created_at, updated_at`
	return translate(r.pool.QueryRow(ctx, query,
		assembly.ID, assembly.PlanID, assembly.ProjectID, assembly.UserID, assembly.Name, assembly.Description,
		string(assembly.Status), assembly.ImageID, assembly.ApplicationURI, int64(assembly.Seq),
	).Scan(&assembly.CreatedAt, &assembly.UpdatedAt))
}

const assemblyColumns = `id, plan_id, project_id, user_id, name, description, status, image_id, application_uri, seq, created_at, updated_at`

// GetAssembly fetches an assembly by id.
func (r *Repository) GetAssembly(ctx context.Context, id string) (*domain.Assembly, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+assemblyColumns+` FROM assemblies WHERE id = $1`, id)
	a, err := scanAssembly(row)
	if err != nil {
		return nil, translate(err)
	}
	return &a, nil
}

// ListAssembliesByPlan fetches every assembly built from a plan.
func (r *Repository) ListAssembliesByPlan(ctx context.Context, planID string) ([]domain.Assembly, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+assemblyColumns+` FROM assemblies WHERE plan_id = $1 ORDER BY created_at`, planID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Assembly
	for rows.Next() {
		a, err := scanAssembly(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ApplyAssemblyUpdate writes the non-empty fields of update when its sequence is newer.
func (r *Repository) ApplyAssemblyUpdate(ctx context.Context, update domain.AssemblyUpdate) error {
	const query = `UPDATE assemblies
		SET status = COALESCE($2, status),
			image_id = COALESCE($3, image_id),
			application_uri = COALESCE($4, application_uri),
			seq = $5,
			updated_at = NOW()
		WHERE id = $1 AND seq < $5`
	tag, err := r.pool.Exec(ctx, query,
		update.AssemblyID,
		emptyToNil(string(update.Status)),
		emptyToNil(update.ImageID),
		emptyToNil(update.ApplicationURI),
		int64(update.Seq),
	)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return r.missingOrStale(ctx, "assemblies", update.AssemblyID)
	}
	return nil
}

// DeleteAssembly removes an assembly; components cascade.
func (r *Repository) DeleteAssembly(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM assemblies WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// CreateImage inserts an image.
func (r *Repository) CreateImage(ctx context.Context, image *domain.Image) error {
	if image.ID == "" {
		image.ID = uuid.NewString()
	}
	const query = `INSERT INTO images (id, project_id, name, source_uri, source_format, image_format, base_image_id, status,
			external_ref, docker_image_name, created_image_id, reason, seq, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW(), NOW()) RETURNING created_at, updated_at`
	return translate(r.pool.QueryRow(ctx, query,
		image.ID, image.ProjectID, image.Name, image.SourceURI, image.SourceFormat, image.ImageFormat, image.BaseImageID,
		string(image.Status), image.ExternalRef, image.DockerImageName, image.CreatedImageID, image.Reason, int64(image.Seq),
	).Scan(&image.CreatedAt, &image.UpdatedAt))
}

// GetImage fetches an image by id.
func (r *Repository) GetImage(ctx context.Context, id string) (*domain.Image, error) {
	const query = `SELECT id, project_id, name, source_uri, source_format, image_format, base_image_id, status,
			external_ref, docker_image_name, created_image_id, reason, seq, created_at, updated_at
		FROM images WHERE id = $1`
	var (
		img    domain.Image
		status string
		seq    int64
	)
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&img.ID, &img.ProjectID, &img.Name, &img.SourceURI, &img.SourceFormat, &img.ImageFormat, &img.BaseImageID, &status,
		&img.ExternalRef, &img.DockerImageName, &img.CreatedImageID, &img.Reason, &seq, &img.CreatedAt, &img.UpdatedAt,
	)
	if err != nil {
		return nil, translate(err)
	}
	img.Status = domain.ImageStatus(status)
	img.Seq = uint64(seq)
	return &img, nil
}

// ApplyImageUpdate writes the non-empty fields of update when its sequence is newer.
func (r *Repository) ApplyImageUpdate(ctx context.Context, update domain.ImageUpdate) error {
	const query = `UPDATE images
		SET status = COALESCE($2, status),
			reason = COALESCE($3, reason),
			external_ref = COALESCE($4, external_ref),
			docker_image_name = COALESCE($5, docker_image_name),
			created_image_id = COALESCE($6, created_image_id),
			seq = $7,
			updated_at = NOW()
		WHERE id = $1 AND seq < $7`
	tag, err := r.pool.Exec(ctx, query,
		update.ImageID,
		emptyToNil(string(update.Status)),
		emptyToNil(update.Reason),
		emptyToNil(update.ExternalRef),
		emptyToNil(update.DockerImageName),
		emptyToNil(update.CreatedImageID),
		int64(update.Seq),
	)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return r.missingOrStale(ctx, "images", update.ImageID)
	}
	return nil
}

const componentColumns = `id, assembly_id, plan_id, project_id, name, description, resource_uri, component_type, created_at`

// ListComponents fetches the components attached to an assembly.
func (r *Repository) ListComponents(ctx context.Context, assemblyID string) ([]domain.Component, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+componentColumns+` FROM components WHERE assembly_id = $1 ORDER BY created_at`, assemblyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Component
	for rows.Next() {
		var c domain.Component
		if err := rows.Scan(&c.ID, &c.AssemblyID, &c.PlanID, &c.ProjectID, &c.Name, &c.Description, &c.ResourceURI, &c.ComponentType, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// FindComponent fetches the assembly's component with the given description.
func (r *Repository) FindComponent(ctx context.Context, assemblyID, description string) (*domain.Component, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+componentColumns+` FROM components WHERE assembly_id = $1 AND description = $2`, assemblyID, description)
	var c domain.Component
	if err := row.Scan(&c.ID, &c.AssemblyID, &c.PlanID, &c.ProjectID, &c.Name, &c.Description, &c.ResourceURI, &c.ComponentType, &c.CreatedAt); err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

// CreateComponentOnce relies on the (assembly_id, description) unique index.
func (r *Repository) CreateComponentOnce(ctx context.Context, component *domain.Component) (bool, error) {
	if component.ID == "" {
		component.ID = uuid.NewString()
	}
	const query = `INSERT INTO components (id, assembly_id, plan_id, project_id, name, description, resource_uri, component_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (assembly_id, description) DO NOTHING`
	tag, err := r.pool.Exec(ctx, query,
		component.ID, component.AssemblyID, component.PlanID, component.ProjectID, component.Name,
		component.Description, component.ResourceURI, component.ComponentType,
	)
	if err != nil {
		return false, translate(err)
	}
	return tag.RowsAffected() == 1, nil
}

// CreateUserlog inserts an immutable log entry.
func (r *Repository) CreateUserlog(ctx context.Context, entry *domain.Userlog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	info, err := json.Marshal(entry.StrategyInfo)
	if err != nil {
		return fmt.Errorf("encode strategy info: %w", err)
	}
	const query = `INSERT INTO userlogs (id, resource_type, resource_uuid, project_id, location, strategy, strategy_info, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW()) RETURNING created_at`
	return translate(r.pool.QueryRow(ctx, query,
		entry.ID, entry.ResourceType, entry.ResourceUUID, entry.ProjectID, entry.Location, entry.Strategy, info,
	).Scan(&entry.CreatedAt))
}

// ListUserlogs fetches entries recorded for a resource.
func (r *Repository) ListUserlogs(ctx context.Context, resourceUUID string) ([]domain.Userlog, error) {
	const query = `SELECT id, resource_type, resource_uuid, project_id, location, strategy, strategy_info, created_at
		FROM userlogs WHERE resource_uuid = $1 ORDER BY created_at`
	rows, err := r.pool.Query(ctx, query, resourceUUID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Userlog
	for rows.Next() {
		var (
			entry domain.Userlog
			raw   []byte
		)
		if err := rows.Scan(&entry.ID, &entry.ResourceType, &entry.ResourceUUID, &entry.ProjectID, &entry.Location, &entry.Strategy, &raw, &entry.CreatedAt); err != nil {
			return nil, err
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &entry.StrategyInfo); err != nil {
				return nil, fmt.Errorf("decode strategy info: %w", err)
			}
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// Ping checks connectivity with a short deadline.
func (r *Repository) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return r.pool.Ping(ctx)
}

func (r *Repository) missingOrStale(ctx context.Context, table, id string) error {
	var exists bool
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)`, table)
	if err := r.pool.QueryRow(ctx, query, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return repository.ErrNotFound
	}
	return repository.ErrStaleSequence
}

func scanAssembly(row pgx.Row) (domain.Assembly, error) {
	var (
		a      domain.Assembly
		status string
		seq    int64
	)
	err := row.Scan(&a.ID, &a.PlanID, &a.ProjectID, &a.UserID, &a.Name, &a.Description, &status,
		&a.ImageID, &a.ApplicationURI, &seq, &a.CreatedAt, &a.UpdatedAt)
	a.Status = domain.AssemblyStatus(status)
	a.Seq = uint64(seq)
	return a, err
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23503":
			return repository.ErrNotFound
		case "23514", "22P02", "23505":
			return repository.ErrInvalidArgument
		}
	}
	return err
}

func emptyToNil(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}
