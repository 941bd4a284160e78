// Package kinds registers the hosted resource kinds with the lifecycle
// engine. Each kind is a thin descriptor over the generic resource store:
// sites carry bindings and mailboxes as dependents, bindings and mailboxes
// reference a shared address that is cascade-removed when the last user of
// it goes away.
package kinds

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hostwarden/hostwarden/internal/domain"
	"github.com/hostwarden/hostwarden/internal/domain/invalidation"
	"github.com/hostwarden/hostwarden/internal/domain/principal"
	"github.com/hostwarden/hostwarden/internal/domain/resource"
	"github.com/hostwarden/hostwarden/internal/domain/suspension"
	"github.com/hostwarden/hostwarden/internal/port/database"
	"github.com/hostwarden/hostwarden/internal/port/nodeagent"
	"github.com/hostwarden/hostwarden/internal/service"
)

// Registered resource kinds.
const (
	KindSite    resource.Kind = "site"
	KindBinding resource.Kind = "binding"
	KindMailbox resource.Kind = "mailbox"
	KindAddress resource.Kind = "address"
)

// Registry owns the kind descriptors and the create path for hosted
// resources. Lifecycle transitions go through the engine; creation lives
// here because it is kind-specific.
type Registry struct {
	store  database.Store
	engine *service.Engine
	gate   *service.Gate
	bcast  *service.Broadcaster
	agent  nodeagent.Connector
}

// New registers all hosted kinds with the engine.
func New(store database.Store, engine *service.Engine, gate *service.Gate, bcast *service.Broadcaster, agent nodeagent.Connector) (*Registry, error) {
	r := &Registry{store: store, engine: engine, gate: gate, bcast: bcast, agent: agent}
	for _, d := range []*service.KindDescriptor{
		r.site(), r.binding(), r.mailbox(), r.address(),
	} {
		if err := engine.Register(d); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) base(kind resource.Kind) *service.KindDescriptor {
	return &service.KindDescriptor{
		Kind:  kind,
		Table: invalidation.TableResources,
		Load: func(ctx context.Context, id string) (*resource.Resource, error) {
			return r.store.GetResource(ctx, resource.Ref{Kind: kind, ID: id})
		},
		Save: func(ctx context.Context, res *resource.Resource) error {
			return r.store.UpdateResource(ctx, res)
		},
		Delete: func(ctx context.Context, id string) error {
			return r.store.DeleteResource(ctx, resource.Ref{Kind: kind, ID: id})
		},
	}
}

// site: a hosted web presence. Its bindings and mailboxes are children in
// the resource store and must be suspended before the site is.
func (r *Registry) site() *service.KindDescriptor {
	d := r.base(KindSite)
	d.Dependents = func(ctx context.Context, id string) ([]resource.Ref, error) {
		return r.childRefs(ctx, resource.Ref{Kind: KindSite, ID: id})
	}
	d.References = func(ctx context.Context, id string) ([]resource.Ref, error) {
		return r.childRefs(ctx, resource.Ref{Kind: KindSite, ID: id})
	}
	d.Ancestors = r.tenantAncestor(KindSite)
	return d
}

// binding: a domain binding on a site, referencing a shared address record.
func (r *Registry) binding() *service.KindDescriptor {
	d := r.base(KindBinding)
	d.Ancestors = r.parentAndTenantAncestors(KindBinding)
	d.Cascade = r.parentAddressCascade(KindBinding)
	return d
}

// mailbox: a mail endpoint, also referencing a shared address record.
func (r *Registry) mailbox() *service.KindDescriptor {
	d := r.base(KindMailbox)
	d.Ancestors = r.parentAndTenantAncestors(KindMailbox)
	d.Cascade = r.parentAddressCascade(KindMailbox)
	return d
}

// address: a shared support record. It is never removed directly while a
// binding or mailbox still points at it, and it is cascade-removed with the
// last of them.
func (r *Registry) address() *service.KindDescriptor {
	d := r.base(KindAddress)
	d.References = func(ctx context.Context, id string) ([]resource.Ref, error) {
		return r.childRefs(ctx, resource.Ref{Kind: KindAddress, ID: id})
	}
	d.Ancestors = r.tenantAncestor(KindAddress)
	return d
}

func (r *Registry) childRefs(ctx context.Context, parent resource.Ref) ([]resource.Ref, error) {
	children, err := r.store.ListChildren(ctx, parent)
	if err != nil {
		return nil, err
	}
	refs := make([]resource.Ref, 0, len(children))
	for _, c := range children {
		refs = append(refs, c.Ref)
	}
	return refs, nil
}

func (r *Registry) tenantAncestor(kind resource.Kind) func(context.Context, string) ([]resource.Ref, error) {
	return func(ctx context.Context, id string) ([]resource.Ref, error) {
		res, err := r.store.GetResource(ctx, resource.Ref{Kind: kind, ID: id})
		if err != nil {
			return nil, err
		}
		return []resource.Ref{{Kind: service.KindTenant, ID: res.TenantID}}, nil
	}
}

// parentAndTenantAncestors requires both the owning tenant and the parent
// resource (the site, or the shared address) to be active on resume.
func (r *Registry) parentAndTenantAncestors(kind resource.Kind) func(context.Context, string) ([]resource.Ref, error) {
	return func(ctx context.Context, id string) ([]resource.Ref, error) {
		res, err := r.store.GetResource(ctx, resource.Ref{Kind: kind, ID: id})
		if err != nil {
			return nil, err
		}
		refs := []resource.Ref{{Kind: service.KindTenant, ID: res.TenantID}}
		if res.Parent != nil {
			refs = append(refs, *res.Parent)
		}
		return refs, nil
	}
}

// parentAddressCascade nominates the parent address for removal along with
// the binding or mailbox. The engine re-checks the address's remaining
// references before actually deleting it.
func (r *Registry) parentAddressCascade(kind resource.Kind) func(context.Context, string) ([]resource.Ref, error) {
	return func(ctx context.Context, id string) ([]resource.Ref, error) {
		res, err := r.store.GetResource(ctx, resource.Ref{Kind: kind, ID: id})
		if err != nil {
			return nil, err
		}
		if res.Parent == nil || res.Parent.Kind != KindAddress {
			return nil, nil
		}
		return []resource.Ref{*res.Parent}, nil
	}
}

// CreateRequest is the input for creating a hosted resource.
type CreateRequest struct {
	Kind     resource.Kind `json:"kind"`
	TenantID string        `json:"tenant_id"`
	HostID   string        `json:"host_id,omitempty"`
	Parent   *resource.Ref `json:"parent,omitempty"`
}

// Create provisions a hosted resource. The tenant must be accessible and
// active, the parent (when given) active, and the host granted to the
// tenant. The node agent call happens after the record is committed; an
// unreachable host degrades to a pending provision rather than failing the
// create.
func (r *Registry) Create(ctx context.Context, actor *principal.Principal, req CreateRequest) (*resource.Resource, error) {
	switch req.Kind {
	case KindSite, KindBinding, KindMailbox, KindAddress:
	default:
		return nil, fmt.Errorf("%w: unknown resource kind %q", domain.ErrValidation, req.Kind)
	}
	if err := r.gate.CheckAccess(ctx, actor, req.TenantID, "create "+string(req.Kind)); err != nil {
		return nil, err
	}
	suspended, err := r.gate.TenantSuspended(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}
	if suspended {
		return nil, fmt.Errorf("tenant %s is suspended: %w", req.TenantID, domain.ErrInvalidState)
	}
	if req.Parent != nil {
		parent, err := r.engine.Load(ctx, *req.Parent)
		if err != nil {
			return nil, err
		}
		if parent.State() != resource.StateActive {
			return nil, fmt.Errorf("parent %s is %s: %w", req.Parent, parent.State(), domain.ErrInvalidState)
		}
		if parent.TenantID != req.TenantID {
			return nil, fmt.Errorf("%w: parent belongs to tenant %s", domain.ErrValidation, parent.TenantID)
		}
	}
	if req.HostID != "" {
		if err := r.checkHostGrant(ctx, req.TenantID, req.HostID); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	res := &resource.Resource{
		Ref:       resource.Ref{Kind: req.Kind, ID: uuid.NewString()},
		Parent:    req.Parent,
		TenantID:  req.TenantID,
		HostID:    req.HostID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.store.CreateResource(ctx, res); err != nil {
		return nil, err
	}
	r.bcast.Publish(ctx, r.message(res))

	if req.HostID != "" {
		if err := r.provision(ctx, res); err != nil {
			return res, err
		}
	}
	return res, nil
}

// provision asks the host's node agent to materialize the resource. A
// *domain.HostUnreachableError is swallowed: the record stands and the host
// converges when it comes back.
func (r *Registry) provision(ctx context.Context, res *resource.Resource) error {
	_, err := r.agent.Invoke(ctx, res.HostID, "provision."+string(res.Ref.Kind), map[string]any{
		"id":     res.Ref.ID,
		"tenant": res.TenantID,
	})
	var unreachable *domain.HostUnreachableError
	if errors.As(err, &unreachable) {
		return nil
	}
	return err
}

func (r *Registry) checkHostGrant(ctx context.Context, tenantID, hostID string) error {
	granted, err := r.store.GrantsForTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	for _, id := range granted {
		if id == hostID {
			return nil
		}
	}
	return fmt.Errorf("%w: tenant %s has no grant on host %s", domain.ErrValidation, tenantID, hostID)
}

func (r *Registry) message(res *resource.Resource) invalidation.Message {
	msg := invalidation.Tenants(invalidation.TableResources, res.TenantID)
	if res.HostID != "" {
		msg.HostIDs = []string{res.HostID}
	}
	return msg
}

// Get returns a resource the actor can see.
func (r *Registry) Get(ctx context.Context, actor *principal.Principal, ref resource.Ref) (*resource.Resource, error) {
	res, err := r.store.GetResource(ctx, ref)
	if err != nil {
		return nil, err
	}
	if err := r.gate.CheckAccess(ctx, actor, res.TenantID, "get "+ref.String()); err != nil {
		return nil, err
	}
	return res, nil
}

// List returns a tenant's resources of one kind.
func (r *Registry) List(ctx context.Context, actor *principal.Principal, kind resource.Kind, tenantID string) ([]resource.Resource, error) {
	if err := r.gate.CheckAccess(ctx, actor, tenantID, "list "+string(kind)); err != nil {
		return nil, err
	}
	return r.store.ListResources(ctx, kind, tenantID)
}

// Suspend runs the resource through the lifecycle engine.
func (r *Registry) Suspend(ctx context.Context, actor *principal.Principal, ref resource.Ref, reason string) (*suspension.Record, error) {
	return r.engine.Suspend(ctx, actor, ref, reason)
}

// Resume lifts the resource's suspension.
func (r *Registry) Resume(ctx context.Context, actor *principal.Principal, ref resource.Ref) error {
	return r.engine.Resume(ctx, actor, ref)
}

// Remove deletes the resource and deprovisions it on its host. An
// unreachable host does not fail the removal.
func (r *Registry) Remove(ctx context.Context, actor *principal.Principal, ref resource.Ref) error {
	res, err := r.store.GetResource(ctx, ref)
	if err != nil {
		return err
	}
	if err := r.engine.Remove(ctx, actor, ref); err != nil {
		return err
	}
	if res.HostID != "" {
		_, err := r.agent.Invoke(ctx, res.HostID, "deprovision."+string(ref.Kind), map[string]any{"id": ref.ID})
		var unreachable *domain.HostUnreachableError
		if err != nil && !errors.As(err, &unreachable) {
			return err
		}
	}
	return nil
}
