package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hostwarden/hostwarden/internal/domain"
	"github.com/hostwarden/hostwarden/internal/domain/invalidation"
	"github.com/hostwarden/hostwarden/internal/domain/principal"
	"github.com/hostwarden/hostwarden/internal/domain/resource"
	"github.com/hostwarden/hostwarden/internal/domain/suspension"
	"github.com/hostwarden/hostwarden/internal/port/database"
)

// KindPrincipal registers principals with the lifecycle engine. Principals
// have no dependents and nothing references them; suspension simply locks
// the identity out.
const KindPrincipal resource.Kind = "principal"

// PrincipalService manages acting identities within tenants.
type PrincipalService struct {
	store  database.Store
	gate   *Gate
	engine *Engine
	bcast  *Broadcaster
	auth   *AuthService
}

// NewPrincipalService creates the principal service and registers the
// principal kind with the engine.
func NewPrincipalService(store database.Store, gate *Gate, engine *Engine, bcast *Broadcaster, auth *AuthService) (*PrincipalService, error) {
	s := &PrincipalService{store: store, gate: gate, engine: engine, bcast: bcast, auth: auth}
	if err := engine.Register(s.descriptor()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PrincipalService) descriptor() *KindDescriptor {
	return &KindDescriptor{
		Kind:  KindPrincipal,
		Table: invalidation.TablePrincipals,
		Load: func(ctx context.Context, id string) (*resource.Resource, error) {
			p, err := s.store.GetPrincipal(ctx, id)
			if err != nil {
				return nil, err
			}
			return &resource.Resource{
				Ref:          resource.Ref{Kind: KindPrincipal, ID: p.ID},
				TenantID:     p.TenantID,
				SuspensionID: p.SuspensionID,
				CreatedAt:    p.CreatedAt,
				UpdatedAt:    p.UpdatedAt,
			}, nil
		},
		Save: func(ctx context.Context, r *resource.Resource) error {
			p, err := s.store.GetPrincipal(ctx, r.Ref.ID)
			if err != nil {
				return err
			}
			p.SuspensionID = r.SuspensionID
			return s.store.UpdatePrincipal(ctx, p)
		},
		Delete: func(ctx context.Context, id string) error {
			return s.store.DeletePrincipal(ctx, id)
		},
		Ancestors: func(ctx context.Context, id string) ([]resource.Ref, error) {
			p, err := s.store.GetPrincipal(ctx, id)
			if err != nil {
				return nil, err
			}
			return []resource.Ref{{Kind: KindTenant, ID: p.TenantID}}, nil
		},
	}
}

// Get returns a principal the actor can see.
func (s *PrincipalService) Get(ctx context.Context, actor *principal.Principal, id string) (*principal.Principal, error) {
	p, err := s.store.GetPrincipal(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.gate.CheckAccess(ctx, actor, p.TenantID, "get principal "+id); err != nil {
		return nil, err
	}
	return p, nil
}

// List returns the principals of a tenant the actor can see.
func (s *PrincipalService) List(ctx context.Context, actor *principal.Principal, tenantID string) ([]principal.Principal, error) {
	if err := s.gate.CheckAccess(ctx, actor, tenantID, "list principals"); err != nil {
		return nil, err
	}
	return s.store.ListPrincipals(ctx, tenantID)
}

// Create adds a principal to a tenant the actor controls and mints its API
// key. The clear-text key is returned exactly once; only its hash is
// stored. Operator principals can be created by operators only.
func (s *PrincipalService) Create(ctx context.Context, actor *principal.Principal, req principal.CreateRequest) (*principal.Principal, string, error) {
	if err := req.Validate(); err != nil {
		return nil, "", err
	}
	if err := s.gate.CheckAccess(ctx, actor, req.TenantID, "create principal"); err != nil {
		return nil, "", err
	}
	if req.Operator != nil && !actor.GlobalOperator() {
		return nil, "", s.gate.deny(ctx, actor, req.TenantID, "create principal", "operator grants require a global operator")
	}

	key, hash, prefix, err := s.auth.MintKey()
	if err != nil {
		return nil, "", err
	}
	now := time.Now().UTC()
	p := &principal.Principal{
		ID:        uuid.NewString(),
		TenantID:  req.TenantID,
		Name:      req.Name,
		KeyHash:   hash,
		Operator:  req.Operator,
		CanSwitch: req.CanSwitch,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if req.Password != "" {
		p.PasswordHash, err = s.auth.HashPassword(req.Password)
		if err != nil {
			return nil, "", err
		}
	}
	if err := s.store.CreatePrincipal(ctx, p, prefix); err != nil {
		return nil, "", err
	}
	slog.Info("principal created", "principal", p.ID, "tenant", p.TenantID, "by", actor.ID)
	s.bcast.Publish(ctx, invalidation.Tenants(invalidation.TablePrincipals, p.TenantID))
	return p, key, nil
}

// Suspend locks the principal out via the lifecycle engine.
func (s *PrincipalService) Suspend(ctx context.Context, actor *principal.Principal, id, reason string) (*suspension.Record, error) {
	return s.engine.Suspend(ctx, actor, resource.Ref{Kind: KindPrincipal, ID: id}, reason)
}

// Resume lifts the principal's suspension.
func (s *PrincipalService) Resume(ctx context.Context, actor *principal.Principal, id string) error {
	return s.engine.Resume(ctx, actor, resource.Ref{Kind: KindPrincipal, ID: id})
}

// Remove deletes the principal. A principal cannot remove itself.
func (s *PrincipalService) Remove(ctx context.Context, actor *principal.Principal, id string) error {
	if actor.ID == id {
		return fmt.Errorf("%w: a principal cannot remove itself", domain.ErrValidation)
	}
	return s.engine.Remove(ctx, actor, resource.Ref{Kind: KindPrincipal, ID: id})
}
