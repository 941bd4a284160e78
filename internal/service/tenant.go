package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hostwarden/hostwarden/internal/domain"
	"github.com/hostwarden/hostwarden/internal/domain/invalidation"
	"github.com/hostwarden/hostwarden/internal/domain/principal"
	"github.com/hostwarden/hostwarden/internal/domain/resource"
	"github.com/hostwarden/hostwarden/internal/domain/tenant"
	"github.com/hostwarden/hostwarden/internal/port/database"
)

// KindTenant registers tenants with the lifecycle engine so they run
// through the same suspend/resume machinery as every hosted resource.
const KindTenant resource.Kind = "tenant"

// TenantService manages the tenant tree. Structural operations (create,
// cancel, remove) live here; suspend and resume go through the lifecycle
// engine via the tenant kind descriptor.
type TenantService struct {
	store  database.Store
	gate   *Gate
	engine *Engine
	bcast  *Broadcaster
	depth  int
}

// NewTenantService creates the tenant service and registers the tenant kind
// with the engine.
func NewTenantService(store database.Store, gate *Gate, engine *Engine, bcast *Broadcaster, maxDepth int) (*TenantService, error) {
	s := &TenantService{store: store, gate: gate, engine: engine, bcast: bcast, depth: maxDepth}
	if err := engine.Register(s.descriptor()); err != nil {
		return nil, err
	}
	return s, nil
}

// descriptor projects tenants into the generic lifecycle resource. Child
// tenants are the dependents for suspension and the parent chain the
// ancestors for resumption.
func (s *TenantService) descriptor() *KindDescriptor {
	return &KindDescriptor{
		Kind:  KindTenant,
		Table: invalidation.TableTenants,
		Load: func(ctx context.Context, id string) (*resource.Resource, error) {
			t, err := s.store.GetTenant(ctx, id)
			if err != nil {
				return nil, err
			}
			return tenantResource(t), nil
		},
		Save: func(ctx context.Context, r *resource.Resource) error {
			t, err := s.store.GetTenant(ctx, r.Ref.ID)
			if err != nil {
				return err
			}
			t.SuspensionID = r.SuspensionID
			t.CanceledAt = r.CanceledAt
			return s.store.UpdateTenant(ctx, t)
		},
		Delete: func(ctx context.Context, id string) error {
			return s.store.DeleteTenant(ctx, id)
		},
		Dependents: func(ctx context.Context, id string) ([]resource.Ref, error) {
			tree, err := s.gate.loadTree(ctx)
			if err != nil {
				return nil, err
			}
			var refs []resource.Ref
			for _, child := range tree.Children(id) {
				refs = append(refs, resource.Ref{Kind: KindTenant, ID: child})
			}
			return refs, nil
		},
		References: func(ctx context.Context, id string) ([]resource.Ref, error) {
			tree, err := s.gate.loadTree(ctx)
			if err != nil {
				return nil, err
			}
			var refs []resource.Ref
			for _, child := range tree.Children(id) {
				refs = append(refs, resource.Ref{Kind: KindTenant, ID: child})
			}
			if len(refs) > 0 {
				return refs, nil
			}
			n, err := s.store.CountTenantResources(ctx, id)
			if err != nil {
				return nil, err
			}
			if n > 0 {
				// Removal reports the first blocker only; the owned-resource
				// count has no single ref to name, so point back at the
				// tenant itself.
				return []resource.Ref{{Kind: KindTenant, ID: id}}, nil
			}
			return nil, nil
		},
		Ancestors: func(ctx context.Context, id string) ([]resource.Ref, error) {
			tree, err := s.gate.loadTree(ctx)
			if err != nil {
				return nil, err
			}
			chain, err := tree.Ancestry(id)
			if err != nil {
				return nil, err
			}
			var refs []resource.Ref
			for _, a := range chain {
				if a == id {
					continue
				}
				refs = append(refs, resource.Ref{Kind: KindTenant, ID: a})
			}
			return refs, nil
		},
	}
}

func tenantResource(t *tenant.Tenant) *resource.Resource {
	r := &resource.Resource{
		Ref:          resource.Ref{Kind: KindTenant, ID: t.ID},
		TenantID:     t.ID,
		SuspensionID: t.SuspensionID,
		CanceledAt:   t.CanceledAt,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}
	if t.ParentID != "" {
		r.Parent = &resource.Ref{Kind: KindTenant, ID: t.ParentID}
	}
	return r
}

// Get returns a tenant the actor can see.
func (s *TenantService) Get(ctx context.Context, actor *principal.Principal, id string) (*tenant.Tenant, error) {
	if err := s.gate.CheckAccess(ctx, actor, id, "get tenant"); err != nil {
		return nil, err
	}
	return s.store.GetTenant(ctx, id)
}

// List returns every tenant in the actor's accessible set.
func (s *TenantService) List(ctx context.Context, actor *principal.Principal) ([]tenant.Tenant, error) {
	accessible, err := s.gate.AccessibleTenants(ctx, actor)
	if err != nil {
		return nil, err
	}
	all, err := s.store.ListTenants(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]tenant.Tenant, 0, len(accessible))
	for _, t := range all {
		if accessible[t.ID] {
			out = append(out, t)
		}
	}
	return out, nil
}

// Create adds a child tenant under a parent the actor controls. The parent
// must be active, carry the create-children capability unless the actor is
// an operator, and sit above the depth ceiling.
func (s *TenantService) Create(ctx context.Context, actor *principal.Principal, req tenant.CreateRequest) (*tenant.Tenant, error) {
	if err := tenant.ValidateID(req.ID); err != nil {
		return nil, err
	}
	if req.Name == "" {
		return nil, fmt.Errorf("%w: tenant name is required", domain.ErrValidation)
	}
	if err := s.gate.CheckAccess(ctx, actor, req.ParentID, "create tenant "+req.ID); err != nil {
		return nil, err
	}
	parent, err := s.store.GetTenant(ctx, req.ParentID)
	if err != nil {
		return nil, err
	}
	if !actor.IsOperator() && !parent.Can(tenant.CapCreateChildren) {
		return s.denyCreate(ctx, actor, req, "parent lacks create_children capability")
	}
	tree, err := s.gate.loadTree(ctx)
	if err != nil {
		return nil, err
	}
	if err := tree.ValidateNewChild(req.ParentID); err != nil {
		return nil, err
	}
	if _, err := s.store.GetTenant(ctx, req.ID); err == nil {
		return nil, fmt.Errorf("tenant %s: %w", req.ID, domain.ErrConflict)
	}

	now := time.Now().UTC()
	t := &tenant.Tenant{
		ID:        req.ID,
		Name:      req.Name,
		ParentID:  req.ParentID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateTenant(ctx, t); err != nil {
		return nil, err
	}
	slog.Info("tenant created", "tenant", t.ID, "parent", t.ParentID, "by", actor.ID)
	s.bcast.Publish(ctx, invalidation.Tenants(invalidation.TableTenants, t.ID, t.ParentID))
	return t, nil
}

func (s *TenantService) denyCreate(ctx context.Context, actor *principal.Principal, req tenant.CreateRequest, why string) (*tenant.Tenant, error) {
	return nil, s.gate.deny(ctx, actor, req.ParentID, "create tenant "+req.ID, why)
}

// Suspend runs the tenant through the lifecycle engine. Child tenants must
// already be suspended.
func (s *TenantService) Suspend(ctx context.Context, actor *principal.Principal, id, reason string) error {
	_, err := s.engine.Suspend(ctx, actor, resource.Ref{Kind: KindTenant, ID: id}, reason)
	return err
}

// Resume lifts the tenant's suspension, subject to the engine's creator-or-
// operator authority rule and an active parent chain.
func (s *TenantService) Resume(ctx context.Context, actor *principal.Principal, id string) error {
	return s.engine.Resume(ctx, actor, resource.Ref{Kind: KindTenant, ID: id})
}

// Cancel marks the tenant terminally canceled. Operators only. The tenant
// must already be suspended; cancellation is not reversible and the row
// survives for billing history.
func (s *TenantService) Cancel(ctx context.Context, actor *principal.Principal, id string) error {
	if !actor.IsOperator() {
		return s.gate.deny(ctx, actor, id, "cancel tenant", "operator required")
	}
	if err := s.gate.CheckAccess(ctx, actor, id, "cancel tenant"); err != nil {
		return err
	}
	t, err := s.store.GetTenant(ctx, id)
	if err != nil {
		return err
	}
	if t.Canceled() {
		return fmt.Errorf("cancel tenant %s: already canceled: %w", id, domain.ErrInvalidState)
	}
	if !t.Suspended() {
		return fmt.Errorf("cancel tenant %s: must be suspended first: %w", id, domain.ErrInvalidState)
	}
	now := time.Now().UTC()
	t.CanceledAt = &now
	if err := s.store.UpdateTenant(ctx, t); err != nil {
		return err
	}
	slog.Info("tenant canceled", "tenant", id, "by", actor.ID)
	s.bcast.Publish(ctx, invalidation.Tenants(invalidation.TableTenants, id))
	return nil
}

// Remove deletes the tenant through the lifecycle engine. Surviving child
// tenants or owned resources block removal.
func (s *TenantService) Remove(ctx context.Context, actor *principal.Principal, id string) error {
	if id == tenant.RootID {
		return fmt.Errorf("%w: the root tenant cannot be removed", domain.ErrValidation)
	}
	return s.engine.Remove(ctx, actor, resource.Ref{Kind: KindTenant, ID: id})
}
