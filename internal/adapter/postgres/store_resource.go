package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/hostwarden/hostwarden/internal/domain"
	"github.com/hostwarden/hostwarden/internal/domain/resource"
)

const resourceCols = `kind, id, COALESCE(parent_kind, ''), COALESCE(parent_id, ''), tenant_id, COALESCE(host_id, ''), COALESCE(suspension_id::text, ''), canceled_at, created_at, updated_at`

func scanResource(row pgx.Row) (*resource.Resource, error) {
	var r resource.Resource
	var parent resource.Ref
	err := row.Scan(&r.Ref.Kind, &r.Ref.ID, &parent.Kind, &parent.ID, &r.TenantID, &r.HostID,
		&r.SuspensionID, &r.CanceledAt, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if parent.Kind != "" {
		r.Parent = &parent
	}
	return &r, nil
}

func (s *Store) GetResource(ctx context.Context, ref resource.Ref) (*resource.Resource, error) {
	r, err := scanResource(s.pool.QueryRow(ctx,
		`SELECT `+resourceCols+` FROM resources WHERE kind = $1 AND id = $2`,
		ref.Kind, ref.ID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get resource %s: %w", ref, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get resource %s: %w", ref, err)
	}
	return r, nil
}

func (s *Store) ListResources(ctx context.Context, kind resource.Kind, tenantID string) ([]resource.Resource, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+resourceCols+` FROM resources
		 WHERE kind = $1 AND tenant_id = $2 ORDER BY created_at ASC`,
		kind, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list resources %s: %w", kind, err)
	}
	defer rows.Close()

	var resources []resource.Resource
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan resource: %w", err)
		}
		resources = append(resources, *r)
	}
	return resources, rows.Err()
}

func (s *Store) CreateResource(ctx context.Context, r *resource.Resource) error {
	var parentKind, parentID string
	if r.Parent != nil {
		parentKind, parentID = string(r.Parent.Kind), r.Parent.ID
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO resources (kind, id, parent_kind, parent_id, tenant_id, host_id)
		 VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, NULLIF($6, ''))
		 RETURNING created_at, updated_at`,
		r.Ref.Kind, r.Ref.ID, parentKind, parentID, r.TenantID, r.HostID,
	).Scan(&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create resource %s: %w", r.Ref, err)
	}
	return nil
}

func (s *Store) UpdateResource(ctx context.Context, r *resource.Resource) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE resources SET suspension_id = NULLIF($3, '')::uuid,
		        canceled_at = $4, updated_at = now()
		 WHERE kind = $1 AND id = $2`,
		r.Ref.Kind, r.Ref.ID, r.SuspensionID, r.CanceledAt)
	if err != nil {
		return fmt.Errorf("update resource %s: %w", r.Ref, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update resource %s: %w", r.Ref, domain.ErrNotFound)
	}
	return nil
}

// ListChildren returns the resources whose parent is the given ref. Kind
// handlers derive dependent and reference sets from this, freshly at check
// time, never from the cache.
func (s *Store) ListChildren(ctx context.Context, parent resource.Ref) ([]resource.Resource, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+resourceCols+` FROM resources
		 WHERE parent_kind = $1 AND parent_id = $2 ORDER BY created_at ASC`,
		parent.Kind, parent.ID)
	if err != nil {
		return nil, fmt.Errorf("list children of %s: %w", parent, err)
	}
	defer rows.Close()

	var resources []resource.Resource
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan resource: %w", err)
		}
		resources = append(resources, *r)
	}
	return resources, rows.Err()
}

func (s *Store) DeleteResource(ctx context.Context, ref resource.Ref) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM resources WHERE kind = $1 AND id = $2`, ref.Kind, ref.ID)
	if err != nil {
		return fmt.Errorf("delete resource %s: %w", ref, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete resource %s: %w", ref, domain.ErrNotFound)
	}
	return nil
}
