package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/hostwarden/hostwarden/internal/domain"
	"github.com/hostwarden/hostwarden/internal/domain/tenant"
)

const tenantCols = `id, name, COALESCE(parent_id, ''), capabilities, COALESCE(suspension_id::text, ''), canceled_at, bill_parent, settings, created_at, updated_at`

func scanTenant(row pgx.Row) (*tenant.Tenant, error) {
	var t tenant.Tenant
	var capsJSON, settingsJSON []byte
	err := row.Scan(&t.ID, &t.Name, &t.ParentID, &capsJSON, &t.SuspensionID,
		&t.CanceledAt, &t.BillParent, &settingsJSON, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if capsJSON != nil {
		_ = json.Unmarshal(capsJSON, &t.Capabilities)
	}
	if settingsJSON != nil {
		_ = json.Unmarshal(settingsJSON, &t.Settings)
	}
	return &t, nil
}

func (s *Store) ListTenants(ctx context.Context) ([]tenant.Tenant, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tenantCols+` FROM tenants ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []tenant.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		tenants = append(tenants, *t)
	}
	return tenants, rows.Err()
}

func (s *Store) GetTenant(ctx context.Context, id string) (*tenant.Tenant, error) {
	t, err := scanTenant(s.pool.QueryRow(ctx,
		`SELECT `+tenantCols+` FROM tenants WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get tenant %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get tenant %s: %w", id, err)
	}
	return t, nil
}

func (s *Store) CreateTenant(ctx context.Context, t *tenant.Tenant) error {
	capsJSON, err := json.Marshal(t.Capabilities)
	if err != nil {
		return fmt.Errorf("marshal capabilities: %w", err)
	}
	settingsJSON, err := json.Marshal(t.Settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	err = s.pool.QueryRow(ctx,
		`INSERT INTO tenants (id, name, parent_id, capabilities, bill_parent, settings)
		 VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6)
		 RETURNING created_at, updated_at`,
		t.ID, t.Name, t.ParentID, capsJSON, t.BillParent, settingsJSON,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create tenant %s: %w", t.ID, err)
	}
	return nil
}

func (s *Store) UpdateTenant(ctx context.Context, t *tenant.Tenant) error {
	capsJSON, err := json.Marshal(t.Capabilities)
	if err != nil {
		return fmt.Errorf("marshal capabilities: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE tenants SET name = $2, capabilities = $3,
		        suspension_id = NULLIF($4, '')::uuid, canceled_at = $5,
		        bill_parent = $6, updated_at = now()
		 WHERE id = $1`,
		t.ID, t.Name, capsJSON, t.SuspensionID, t.CanceledAt, t.BillParent)
	if err != nil {
		return fmt.Errorf("update tenant %s: %w", t.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update tenant %s: %w", t.ID, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteTenant(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM tenants WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete tenant %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete tenant %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// CountTenantResources counts surviving resources owned by the tenant across
// every resource table. The check is exhaustive on purpose: a missed table
// here is a dangling reference in the platform's data.
func (s *Store) CountTenantResources(ctx context.Context, id string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT (SELECT count(*) FROM resources WHERE tenant_id = $1)
		      + (SELECT count(*) FROM principals WHERE tenant_id = $1)
		      + (SELECT count(*) FROM tenant_host_grants WHERE tenant_id = $1)
		      + (SELECT count(*) FROM tenants WHERE parent_id = $1)`,
		id,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count tenant resources %s: %w", id, err)
	}
	return n, nil
}
