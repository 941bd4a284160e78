package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/hostwarden/hostwarden/internal/domain"
	"github.com/hostwarden/hostwarden/internal/domain/invalidation"
	"github.com/hostwarden/hostwarden/internal/domain/principal"
	"github.com/hostwarden/hostwarden/internal/domain/resource"
	"github.com/hostwarden/hostwarden/internal/domain/suspension"
	"github.com/hostwarden/hostwarden/internal/port/database"
)

// KindDescriptor is what a resource kind registers with the lifecycle
// engine. The engine has no compiled-in knowledge of kinds: persistence and
// the dependency/reference callbacks all come from the descriptor. Dependent
// and reference sets are computed fresh at transition time, never cached.
type KindDescriptor struct {
	Kind  resource.Kind
	Table string // resource-table identifier carried in invalidations

	// Load returns the lifecycle projection of the resource.
	Load func(ctx context.Context, id string) (*resource.Resource, error)
	// Save persists the projection's suspension and cancellation markers.
	Save func(ctx context.Context, r *resource.Resource) error
	// Delete removes the resource. Called only after References is empty.
	Delete func(ctx context.Context, id string) error

	// Dependents lists resources that must already be suspended before this
	// one may be suspended (bottom-up order, leaves first).
	Dependents func(ctx context.Context, id string) ([]resource.Ref, error)
	// References lists resources that block removal while they survive.
	// The set must be exhaustive: a missed reference is a dangling pointer
	// in the platform's data.
	References func(ctx context.Context, id string) ([]resource.Ref, error)
	// Cascade lists support resources to remove opportunistically with this
	// one, subject to a fresh reference re-check each.
	Cascade func(ctx context.Context, id string) ([]resource.Ref, error)
	// Ancestors lists structurally-required resources that must be active
	// for this one to resume (owning tenant, owning plan).
	Ancestors func(ctx context.Context, id string) ([]resource.Ref, error)
}

// Engine is the generic suspend/resume/remove state machine every resource
// kind runs through. Preconditions are evaluated fully before the first
// mutation: the store has no rollback story for a half-applied cascade.
type Engine struct {
	store database.Store
	gate  *Gate
	bcast *Broadcaster

	mu    sync.RWMutex
	kinds map[resource.Kind]*KindDescriptor

	onTransition func(kind, op string) // metrics hook, may be nil
}

// NewEngine creates the lifecycle engine. The broadcaster is wired
// afterwards with SetBroadcaster once the cache it evicts exists.
func NewEngine(store database.Store, gate *Gate) *Engine {
	return &Engine{
		store: store,
		gate:  gate,
		kinds: make(map[resource.Kind]*KindDescriptor),
	}
}

// SetBroadcaster wires the invalidation broadcaster.
func (e *Engine) SetBroadcaster(b *Broadcaster) { e.bcast = b }

// OnTransition installs a hook invoked once per successful transition.
func (e *Engine) OnTransition(fn func(kind, op string)) { e.onTransition = fn }

// Register adds a kind descriptor. Kinds register once at startup.
func (e *Engine) Register(d *KindDescriptor) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, dup := e.kinds[d.Kind]; dup {
		return fmt.Errorf("kind %s already registered", d.Kind)
	}
	e.kinds[d.Kind] = d
	return nil
}

func (e *Engine) descriptor(kind resource.Kind) (*KindDescriptor, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	d, ok := e.kinds[kind]
	if !ok {
		return nil, fmt.Errorf("kind %s: %w", kind, domain.ErrNotFound)
	}
	return d, nil
}

// Load returns the lifecycle projection of any registered resource.
func (e *Engine) Load(ctx context.Context, ref resource.Ref) (*resource.Resource, error) {
	d, err := e.descriptor(ref.Kind)
	if err != nil {
		return nil, err
	}
	return d.Load(ctx, ref.ID)
}

// Suspend attaches a new suspension record to the resource. Every declared
// dependent must already be suspended; the check runs before any mutation.
func (e *Engine) Suspend(ctx context.Context, actor *principal.Principal, ref resource.Ref, reason string) (*suspension.Record, error) {
	d, err := e.descriptor(ref.Kind)
	if err != nil {
		return nil, err
	}
	r, err := d.Load(ctx, ref.ID)
	if err != nil {
		return nil, err
	}
	if err := e.gate.CheckAccess(ctx, actor, r.TenantID, "suspend "+ref.String()); err != nil {
		return nil, err
	}
	if r.State() != resource.StateActive {
		return nil, fmt.Errorf("suspend %s from %s: %w", ref, r.State(), domain.ErrInvalidState)
	}
	if reason == "" {
		return nil, fmt.Errorf("%w: suspension reason is required", domain.ErrValidation)
	}

	if err := e.checkDependentsSuspended(ctx, d, ref); err != nil {
		return nil, err
	}

	rec := &suspension.Record{
		ID:          uuid.NewString(),
		TenantID:    r.TenantID,
		PrincipalID: actor.ID,
		Reason:      reason,
	}
	if err := e.store.CreateSuspension(ctx, rec); err != nil {
		return nil, err
	}
	r.SuspensionID = rec.ID
	if err := d.Save(ctx, r); err != nil {
		return nil, err
	}

	slog.Info("resource suspended", "ref", ref.String(), "tenant", r.TenantID, "by", actor.ID)
	e.transition(ctx, d, "suspend", r)
	return rec, nil
}

// Resume detaches the resource's suspension record. Only the record's
// creator, or an operator whose tenant is an ancestor of the record's
// tenant, may resume: suspension authority is deliberately asymmetric.
func (e *Engine) Resume(ctx context.Context, actor *principal.Principal, ref resource.Ref) error {
	d, err := e.descriptor(ref.Kind)
	if err != nil {
		return err
	}
	r, err := d.Load(ctx, ref.ID)
	if err != nil {
		return err
	}
	if r.State() != resource.StateSuspended {
		return fmt.Errorf("resume %s from %s: %w", ref, r.State(), domain.ErrInvalidState)
	}
	rec, err := e.store.GetSuspension(ctx, r.SuspensionID)
	if err != nil {
		return err
	}
	if err := e.checkResumeAuthority(ctx, actor, ref, rec); err != nil {
		return err
	}
	if err := e.checkAncestorsActive(ctx, d, ref); err != nil {
		return err
	}

	// Detach only. The record itself is immutable and stays for the audit
	// history.
	r.SuspensionID = ""
	if err := d.Save(ctx, r); err != nil {
		return err
	}

	slog.Info("resource resumed", "ref", ref.String(), "tenant", r.TenantID, "by", actor.ID)
	e.transition(ctx, d, "resume", r)
	return nil
}

// Remove deletes the resource and opportunistically removes support
// resources nothing else references. Canceled resources are terminal and
// cannot be removed.
func (e *Engine) Remove(ctx context.Context, actor *principal.Principal, ref resource.Ref) error {
	d, err := e.descriptor(ref.Kind)
	if err != nil {
		return err
	}
	r, err := d.Load(ctx, ref.ID)
	if err != nil {
		return err
	}
	if err := e.gate.CheckAccess(ctx, actor, r.TenantID, "remove "+ref.String()); err != nil {
		return err
	}
	if r.State() == resource.StateCanceled {
		return fmt.Errorf("remove %s: canceled is terminal: %w", ref, domain.ErrInvalidState)
	}

	// Exhaustive reference check, fully evaluated before the first delete.
	if d.References != nil {
		refs, err := d.References(ctx, ref.ID)
		if err != nil {
			return err
		}
		if len(refs) > 0 {
			return &domain.StillReferencedError{Kind: string(refs[0].Kind), ID: refs[0].ID}
		}
	}

	var cascade []resource.Ref
	if d.Cascade != nil {
		if cascade, err = d.Cascade(ctx, ref.ID); err != nil {
			return err
		}
	}

	if err := d.Delete(ctx, ref.ID); err != nil {
		return err
	}
	msgs := []invalidation.Message{e.message(d, r)}

	// Reference counts for cascade candidates are computed fresh now that
	// the primary resource is gone, never from a cache.
	for _, cref := range cascade {
		cd, err := e.descriptor(cref.Kind)
		if err != nil {
			return err
		}
		if cd.References != nil {
			remaining, err := cd.References(ctx, cref.ID)
			if err != nil {
				return err
			}
			if len(remaining) > 0 {
				continue
			}
		}
		cr, err := cd.Load(ctx, cref.ID)
		if err != nil {
			return err
		}
		if err := cd.Delete(ctx, cref.ID); err != nil {
			return err
		}
		slog.Info("resource cascade-removed", "ref", cref.String(), "root", ref.String())
		msgs = append(msgs, e.message(cd, cr))
	}

	slog.Info("resource removed", "ref", ref.String(), "tenant", r.TenantID, "by", actor.ID)
	if e.bcast != nil {
		e.bcast.Publish(ctx, msgs...)
	}
	if e.onTransition != nil {
		e.onTransition(string(ref.Kind), "remove")
	}
	return nil
}

// checkDependentsSuspended fails with DependentNotSuspendedError on the
// first dependent still active. Dependent state is loaded fresh from the
// store, not the derived cache: transition preconditions are re-checked,
// never assumed.
func (e *Engine) checkDependentsSuspended(ctx context.Context, d *KindDescriptor, ref resource.Ref) error {
	if d.Dependents == nil {
		return nil
	}
	deps, err := d.Dependents(ctx, ref.ID)
	if err != nil {
		return err
	}
	for _, dep := range deps {
		dd, err := e.descriptor(dep.Kind)
		if err != nil {
			return err
		}
		dr, err := dd.Load(ctx, dep.ID)
		if err != nil {
			return err
		}
		if dr.State() == resource.StateActive {
			return &domain.DependentNotSuspendedError{Kind: string(dep.Kind), ID: dep.ID}
		}
	}
	return nil
}

// checkAncestorsActive fails with ErrInvalidState if a structurally-required
// ancestor is itself suspended or canceled.
func (e *Engine) checkAncestorsActive(ctx context.Context, d *KindDescriptor, ref resource.Ref) error {
	if d.Ancestors == nil {
		return nil
	}
	ancestors, err := d.Ancestors(ctx, ref.ID)
	if err != nil {
		return err
	}
	for _, a := range ancestors {
		ad, err := e.descriptor(a.Kind)
		if err != nil {
			return err
		}
		ar, err := ad.Load(ctx, a.ID)
		if err != nil {
			return err
		}
		if ar.State() != resource.StateActive {
			return fmt.Errorf("resume %s: ancestor %s is %s: %w", ref, a, ar.State(), domain.ErrInvalidState)
		}
	}
	return nil
}

// checkResumeAuthority grants resume to the record's creator and to
// operators with authority over the record's tenant.
func (e *Engine) checkResumeAuthority(ctx context.Context, actor *principal.Principal, ref resource.Ref, rec *suspension.Record) error {
	if actor.ID == rec.PrincipalID {
		return nil
	}
	if actor.IsOperator() {
		return e.gate.CheckAccess(ctx, actor, rec.TenantID, "resume "+ref.String())
	}
	return e.gate.deny(ctx, actor, ref.String(), "resume "+ref.String(), "suspension belongs to "+rec.PrincipalID)
}

// transition publishes the single invalidation batch for a state change and
// fires the metrics hook.
func (e *Engine) transition(ctx context.Context, d *KindDescriptor, op string, r *resource.Resource) {
	if e.bcast != nil {
		e.bcast.Publish(ctx, e.message(d, r))
	}
	if e.onTransition != nil {
		e.onTransition(string(d.Kind), op)
	}
}

func (e *Engine) message(d *KindDescriptor, r *resource.Resource) invalidation.Message {
	msg := invalidation.Tenants(d.Table, r.TenantID)
	if r.HostID != "" {
		msg.HostIDs = []string{r.HostID}
	}
	return msg
}
