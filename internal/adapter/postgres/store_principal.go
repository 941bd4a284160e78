package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/hostwarden/hostwarden/internal/domain"
	"github.com/hostwarden/hostwarden/internal/domain/principal"
)

const principalCols = `id, tenant_id, name, key_hash, COALESCE(password_hash, ''), operator, COALESCE(suspension_id::text, ''), can_switch, created_at, updated_at`

func scanPrincipal(row pgx.Row) (*principal.Principal, error) {
	var p principal.Principal
	var operatorJSON []byte
	err := row.Scan(&p.ID, &p.TenantID, &p.Name, &p.KeyHash, &p.PasswordHash, &operatorJSON,
		&p.SuspensionID, &p.CanSwitch, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if operatorJSON != nil {
		var op principal.Operator
		if err := json.Unmarshal(operatorJSON, &op); err == nil {
			p.Operator = &op
		}
	}
	return &p, nil
}

func (s *Store) ListPrincipals(ctx context.Context, tenantID string) ([]principal.Principal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+principalCols+` FROM principals WHERE tenant_id = $1 ORDER BY created_at ASC`,
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("list principals: %w", err)
	}
	defer rows.Close()

	var principals []principal.Principal
	for rows.Next() {
		p, err := scanPrincipal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan principal: %w", err)
		}
		principals = append(principals, *p)
	}
	return principals, rows.Err()
}

func (s *Store) GetPrincipal(ctx context.Context, id string) (*principal.Principal, error) {
	p, err := scanPrincipal(s.pool.QueryRow(ctx,
		`SELECT `+principalCols+` FROM principals WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get principal %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get principal %s: %w", id, err)
	}
	return p, nil
}

func (s *Store) GetPrincipalByKeyPrefix(ctx context.Context, prefix string) (*principal.Principal, error) {
	p, err := scanPrincipal(s.pool.QueryRow(ctx,
		`SELECT `+principalCols+` FROM principals WHERE key_prefix = $1`, prefix))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("principal by key prefix: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("principal by key prefix: %w", err)
	}
	return p, nil
}

func (s *Store) CreatePrincipal(ctx context.Context, p *principal.Principal, keyPrefix string) error {
	var operatorJSON []byte
	if p.Operator != nil {
		var err error
		operatorJSON, err = json.Marshal(p.Operator)
		if err != nil {
			return fmt.Errorf("marshal operator: %w", err)
		}
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO principals (id, tenant_id, name, key_prefix, key_hash, operator, can_switch)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING created_at, updated_at`,
		p.ID, p.TenantID, p.Name, keyPrefix, p.KeyHash, operatorJSON, p.CanSwitch,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create principal %s: %w", p.ID, err)
	}
	return nil
}

func (s *Store) UpdatePrincipal(ctx context.Context, p *principal.Principal) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE principals SET name = $2, suspension_id = NULLIF($3, '')::uuid,
		        can_switch = $4, password_hash = NULLIF($5, ''), updated_at = now()
		 WHERE id = $1`,
		p.ID, p.Name, p.SuspensionID, p.CanSwitch, p.PasswordHash)
	if err != nil {
		return fmt.Errorf("update principal %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update principal %s: %w", p.ID, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) DeletePrincipal(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM principals WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete principal %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete principal %s: %w", id, domain.ErrNotFound)
	}
	return nil
}
