package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Kind enumerates the resource kinds a Bot wires together, grounded on
// backend/services/bot.py's Ghost/Model/Shell/Skill reference validation.
type Kind string

const (
	KindGhost Kind = "ghost"
	KindModel Kind = "model"
	KindShell Kind = "shell"
	KindBot   Kind = "bot"
	KindTeam  Kind = "team"
	KindSkill Kind = "skill"
)

// ErrResourceNotFound is returned for a missing kind/namespace/name.
var ErrResourceNotFound = errors.New("resource not found")

// ErrReferenceNotFound is returned when a Bot or Team references a kind that
// does not exist (or is soft-deleted) in its namespace.
var ErrReferenceNotFound = errors.New("referenced resource not found")

// Ref names one resource by kind/namespace/name, the CRD-style reference
// shape a Bot's spec carries for its Ghost/Model/Shell/Skill dependencies.
type Ref struct {
	Kind      Kind
	Name      string
	Namespace string
}

// Resource is one row of the polymorphic resource store: every kind shares
// the same table, distinguished by Kind and a free-form JSONB spec.
type Resource struct {
	ID        string    `db:"id"`
	Kind      Kind      `db:"kind"`
	Name      string    `db:"name"`
	Namespace string    `db:"namespace"`
	Spec      JSONB     `db:"spec"`
	CreatedBy *string   `db:"created_by"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
	DeletedAt *time.Time `db:"deleted_at"`
}

// ResourceStore is a CRD-style CRUD store over Ghost/Model/Shell/Bot/Team/
// Skill resources, grounded on backend/services/base.py's CRDService and
// bot.py's reference-validation pattern.
type ResourceStore struct {
	pool *Pool
}

// NewResourceStore wraps pool in a ResourceStore.
func NewResourceStore(pool *Pool) *ResourceStore {
	return &ResourceStore{pool: pool}
}

// Get fetches one non-deleted resource by kind/namespace/name.
func (s *ResourceStore) Get(ctx context.Context, ref Ref) (*Resource, error) {
	var r Resource
	err := s.pool.exec(func() error {
		return s.pool.db.GetContext(ctx, &r, `
			SELECT id, kind, name, namespace, spec, created_by, created_at, updated_at, deleted_at
			FROM resources
			WHERE kind = $1 AND name = $2 AND namespace = $3 AND deleted_at IS NULL
		`, ref.Kind, ref.Name, ref.Namespace)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrResourceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get resource: %w", err)
	}
	return &r, nil
}

// Exists reports whether ref resolves to a live (non-deleted) resource,
// used by validateRefs below.
func (s *ResourceStore) Exists(ctx context.Context, ref Ref) (bool, error) {
	_, err := s.Get(ctx, ref)
	if errors.Is(err, ErrResourceNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Create inserts a resource. For Bot and Team kinds, refs names the
// dependent resources (ghost/model/shell/skills for a Bot; its member bots
// for a Team) that must already exist — mirroring bot.py's create(), which
// validates every reference before the row is written.
func (s *ResourceStore) Create(ctx context.Context, id string, kind Kind, name, namespace string, spec JSONB, createdBy string, refs []Ref) (*Resource, error) {
	if err := s.validateRefs(ctx, refs); err != nil {
		return nil, err
	}

	r := &Resource{
		ID: id, Kind: kind, Name: name, Namespace: namespace, Spec: spec,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	if createdBy != "" {
		r.CreatedBy = &createdBy
	}

	err := s.pool.exec(func() error {
		_, err := s.pool.db.ExecContext(ctx, `
			INSERT INTO resources (id, kind, name, namespace, spec, created_by, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, r.ID, r.Kind, r.Name, r.Namespace, r.Spec, r.CreatedBy, r.CreatedAt, r.UpdatedAt)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}
	return r, nil
}

func (s *ResourceStore) validateRefs(ctx context.Context, refs []Ref) error {
	for _, ref := range refs {
		ok, err := s.Exists(ctx, ref)
		if err != nil {
			return fmt.Errorf("validate reference %s/%s/%s: %w", ref.Kind, ref.Namespace, ref.Name, err)
		}
		if !ok {
			return fmt.Errorf("%w: %s/%s/%s", ErrReferenceNotFound, ref.Kind, ref.Namespace, ref.Name)
		}
	}
	return nil
}

// List returns non-deleted resources of kind within namespace.
func (s *ResourceStore) List(ctx context.Context, kind Kind, namespace string) ([]Resource, error) {
	var out []Resource
	err := s.pool.exec(func() error {
		return s.pool.db.SelectContext(ctx, &out, `
			SELECT id, kind, name, namespace, spec, created_by, created_at, updated_at, deleted_at
			FROM resources
			WHERE kind = $1 AND namespace = $2 AND deleted_at IS NULL
			ORDER BY name ASC
		`, kind, namespace)
	})
	if err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}
	return out, nil
}

// Update replaces spec for an existing resource.
func (s *ResourceStore) Update(ctx context.Context, ref Ref, spec JSONB) error {
	err := s.pool.exec(func() error {
		res, err := s.pool.db.ExecContext(ctx, `
			UPDATE resources SET spec = $1, updated_at = now()
			WHERE kind = $2 AND name = $3 AND namespace = $4 AND deleted_at IS NULL
		`, spec, ref.Kind, ref.Name, ref.Namespace)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrResourceNotFound
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("update resource: %w", err)
	}
	return nil
}

// SoftDelete marks a resource deleted without removing its row.
func (s *ResourceStore) SoftDelete(ctx context.Context, ref Ref) error {
	err := s.pool.exec(func() error {
		res, err := s.pool.db.ExecContext(ctx, `
			UPDATE resources SET deleted_at = now()
			WHERE kind = $1 AND name = $2 AND namespace = $3 AND deleted_at IS NULL
		`, ref.Kind, ref.Name, ref.Namespace)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrResourceNotFound
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("soft delete resource: %w", err)
	}
	return nil
}
