package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/hostwarden/hostwarden/internal/domain"
	"github.com/hostwarden/hostwarden/internal/domain/suspension"
)

func (s *Store) GetSuspension(ctx context.Context, id string) (*suspension.Record, error) {
	var r suspension.Record
	err := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, principal_id, reason, created_at
		 FROM suspensions WHERE id = $1`, id,
	).Scan(&r.ID, &r.TenantID, &r.PrincipalID, &r.Reason, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get suspension %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get suspension %s: %w", id, err)
	}
	return &r, nil
}

// CreateSuspension inserts an immutable record. There is no update or delete:
// enabling a resource detaches the pointer only.
func (s *Store) CreateSuspension(ctx context.Context, r *suspension.Record) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO suspensions (id, tenant_id, principal_id, reason)
		 VALUES ($1, $2, $3, $4)
		 RETURNING created_at`,
		r.ID, r.TenantID, r.PrincipalID, r.Reason,
	).Scan(&r.CreatedAt)
	if err != nil {
		return fmt.Errorf("create suspension %s: %w", r.ID, err)
	}
	return nil
}
