package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/hostwarden/hostwarden/internal/domain"
	"github.com/hostwarden/hostwarden/internal/domain/host"
)

func (s *Store) ListHosts(ctx context.Context) ([]host.Host, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, hostname, enabled, created_at, updated_at FROM hosts ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list hosts: %w", err)
	}
	defer rows.Close()

	var hosts []host.Host
	for rows.Next() {
		var h host.Host
		if err := rows.Scan(&h.ID, &h.Hostname, &h.Enabled, &h.CreatedAt, &h.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan host: %w", err)
		}
		hosts = append(hosts, h)
	}
	return hosts, rows.Err()
}

func (s *Store) GetHost(ctx context.Context, id string) (*host.Host, error) {
	var h host.Host
	err := s.pool.QueryRow(ctx,
		`SELECT id, hostname, enabled, created_at, updated_at FROM hosts WHERE id = $1`, id,
	).Scan(&h.ID, &h.Hostname, &h.Enabled, &h.CreatedAt, &h.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get host %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get host %s: %w", id, err)
	}
	return &h, nil
}

func (s *Store) CreateHost(ctx context.Context, h *host.Host) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO hosts (id, hostname, enabled) VALUES ($1, $2, $3)
		 RETURNING created_at, updated_at`,
		h.ID, h.Hostname, h.Enabled,
	).Scan(&h.CreatedAt, &h.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create host %s: %w", h.ID, err)
	}
	return nil
}

func (s *Store) CreateGrant(ctx context.Context, g *host.Grant) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO tenant_host_grants (tenant_id, host_id) VALUES ($1, $2)
		 ON CONFLICT (tenant_id, host_id) DO UPDATE SET tenant_id = EXCLUDED.tenant_id
		 RETURNING created_at`,
		g.TenantID, g.HostID,
	).Scan(&g.CreatedAt)
	if err != nil {
		return fmt.Errorf("create grant %s/%s: %w", g.TenantID, g.HostID, err)
	}
	return nil
}

func (s *Store) DeleteGrant(ctx context.Context, tenantID, hostID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM tenant_host_grants WHERE tenant_id = $1 AND host_id = $2`,
		tenantID, hostID)
	if err != nil {
		return fmt.Errorf("delete grant %s/%s: %w", tenantID, hostID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete grant %s/%s: %w", tenantID, hostID, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) TenantsOnHosts(ctx context.Context, hostIDs []string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT tenant_id FROM tenant_host_grants WHERE host_id = ANY($1)`,
		hostIDs)
	if err != nil {
		return nil, fmt.Errorf("tenants on hosts: %w", err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

func (s *Store) GrantsForTenant(ctx context.Context, tenantID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT host_id FROM tenant_host_grants WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("grants for tenant %s: %w", tenantID, err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

// VisibilityGrants resolves the tenants the given tenant can directly see:
// every tenant sharing a host with it.
func (s *Store) VisibilityGrants(ctx context.Context, tenantID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT other.tenant_id
		 FROM tenant_host_grants own
		 JOIN tenant_host_grants other ON other.host_id = own.host_id
		 WHERE own.tenant_id = $1 AND other.tenant_id <> $1`,
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("visibility grants %s: %w", tenantID, err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

func scanStrings(rows pgx.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
