// Package service holds the control-plane use cases: the access gate, the
// lifecycle engine, the invalidation broadcaster and the entity services
// built on them.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hostwarden/hostwarden/internal/derived"
	"github.com/hostwarden/hostwarden/internal/domain"
	"github.com/hostwarden/hostwarden/internal/domain/invalidation"
	"github.com/hostwarden/hostwarden/internal/domain/principal"
	"github.com/hostwarden/hostwarden/internal/domain/tenant"
	"github.com/hostwarden/hostwarden/internal/port/audit"
	"github.com/hostwarden/hostwarden/internal/port/database"
)

// Gate decides what an acting principal may see or modify. Every mutation
// entry point calls it before touching the store. Denials are appended to
// the audit trail before the error reaches the caller.
type Gate struct {
	store    database.Store
	cache    *derived.Cache
	audit    audit.Sink
	maxDepth int
	onDenied func() // metrics hook, may be nil
}

// NewGate creates the access control gate.
func NewGate(store database.Store, cache *derived.Cache, sink audit.Sink, maxDepth int) *Gate {
	return &Gate{store: store, cache: cache, audit: sink, maxDepth: maxDepth}
}

// OnDenied installs a hook invoked once per access denial.
func (g *Gate) OnDenied(fn func()) { g.onDenied = fn }

// CanAccess reports whether p may act on the target tenant.
func (g *Gate) CanAccess(ctx context.Context, p *principal.Principal, tenantID string) (bool, error) {
	// A principal always reaches its own tenant; no store round trip.
	if tenantID == p.TenantID {
		return true, nil
	}
	if p.GlobalOperator() {
		return true, nil
	}
	set, err := g.AccessibleTenants(ctx, p)
	if err != nil {
		return false, err
	}
	return set[tenantID], nil
}

// CheckAccess fails with ErrAccessDenied if p may not act on the target
// tenant. The denial is written to the audit trail first: this is the
// platform's record of attempted privilege violations.
func (g *Gate) CheckAccess(ctx context.Context, p *principal.Principal, tenantID, action string) error {
	ok, err := g.CanAccess(ctx, p, tenantID)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	return g.deny(ctx, p, tenantID, action, "")
}

// CheckSwitch validates a switch-identity (impersonation) attempt: the actor
// must be leaving its own tenant, must carry the switch capability, and the
// actor's tenant must be an ancestor of the target tenant. The direction
// matters: authority flows down the tree, never up.
func (g *Gate) CheckSwitch(ctx context.Context, p *principal.Principal, targetTenantID string) error {
	const action = "switch_identity"
	if targetTenantID == p.TenantID {
		return g.deny(ctx, p, targetTenantID, action, "cannot switch within own tenant")
	}
	if !p.CanSwitch {
		return g.deny(ctx, p, targetTenantID, action, "missing switch capability")
	}
	if p.GlobalOperator() {
		return nil
	}
	tree, err := g.loadTree(ctx)
	if err != nil {
		return err
	}
	ok, err := tree.IsAncestorOrSelf(p.TenantID, targetTenantID)
	if err != nil {
		return err
	}
	if !ok {
		return g.deny(ctx, p, targetTenantID, action, "target tenant is not a descendant")
	}
	return nil
}

// AccessibleTenants returns the set of tenant ids p may act on, memoized in
// the derived-state cache until an invalidation for the tenant tree or the
// grant table touches it. Global operators have no bounded set and must not
// call this.
func (g *Gate) AccessibleTenants(ctx context.Context, p *principal.Principal) (map[string]bool, error) {
	if p.GlobalOperator() {
		return nil, fmt.Errorf("accessible set of global operator %s is unbounded", p.ID)
	}
	key := "access:" + p.ID
	return g.cache.GetSet(ctx, key, func(ctx context.Context) (map[string]bool, derived.Scope, error) {
		if p.HostOperator() {
			return g.computeHostScoped(ctx, p)
		}
		return g.computeOrdinary(ctx, p)
	})
}

// computeHostScoped resolves a host-scoped operator's set: exactly the
// tenants bound to a host the operator administers, plus its own tenant.
func (g *Gate) computeHostScoped(ctx context.Context, p *principal.Principal) (map[string]bool, derived.Scope, error) {
	ids, err := g.store.TenantsOnHosts(ctx, p.Operator.Hosts)
	if err != nil {
		return nil, derived.Scope{}, err
	}
	set := make(map[string]bool, len(ids)+1)
	set[p.TenantID] = true
	for _, id := range ids {
		set[id] = true
	}
	return set, derived.Scope{
		Tables:  []string{invalidation.TableGrants, invalidation.TableTenants},
		Tenants: setKeys(set),
		Hosts:   p.Operator.Hosts,
	}, nil
}

// computeOrdinary resolves an ordinary principal's set: the subtree of its
// own tenant plus the subtree of every tenant it holds a visibility grant
// to. A tenant is accessible iff some ancestor-or-self of it is granted.
func (g *Gate) computeOrdinary(ctx context.Context, p *principal.Principal) (map[string]bool, derived.Scope, error) {
	tree, err := g.loadTree(ctx)
	if err != nil {
		return nil, derived.Scope{}, err
	}
	grants, err := g.store.VisibilityGrants(ctx, p.TenantID)
	if err != nil {
		return nil, derived.Scope{}, err
	}
	// The visible set follows from the grants on the tenant's own hosts: a
	// new co-tenant on one of them widens the set, so the entry must watch
	// those hosts, not just the tenants it currently contains.
	hosts, err := g.store.GrantsForTenant(ctx, p.TenantID)
	if err != nil {
		return nil, derived.Scope{}, err
	}

	roots := append([]string{p.TenantID}, grants...)
	set := make(map[string]bool)
	for _, root := range roots {
		for id := range tree.SubtreeOf(root) {
			set[id] = true
		}
	}
	// Own tenant stays accessible even if the tree snapshot is missing it
	// (freshly created, racing session).
	set[p.TenantID] = true

	return set, derived.Scope{
		Tables:  []string{invalidation.TableTenants, invalidation.TableGrants},
		Tenants: setKeys(set),
		Hosts:   hosts,
	}, nil
}

// TenantSuspended reports whether the tenant is suspended or canceled,
// memoized until a tenants-table invalidation touches it. Serving this
// stale between invalidations is by design; the staleness window ends at
// the next relevant commit.
func (g *Gate) TenantSuspended(ctx context.Context, tenantID string) (bool, error) {
	key := "suspended:" + invalidation.TableTenants + ":" + tenantID
	return g.cache.GetBool(ctx, key, func(ctx context.Context) (bool, derived.Scope, error) {
		t, err := g.store.GetTenant(ctx, tenantID)
		if err != nil {
			return false, derived.Scope{}, err
		}
		return t.Suspended() || t.Canceled(), derived.Scope{
			Tables:  []string{invalidation.TableTenants},
			Tenants: []string{tenantID},
		}, nil
	})
}

func (g *Gate) loadTree(ctx context.Context) (*tenant.Tree, error) {
	tenants, err := g.store.ListTenants(ctx)
	if err != nil {
		return nil, err
	}
	return tenant.NewTree(tenants, g.maxDepth), nil
}

// deny appends the audit entry, then returns ErrAccessDenied. If the audit
// write fails the denial still stands, wrapped around the audit failure.
func (g *Gate) deny(ctx context.Context, p *principal.Principal, targetID, action, detail string) error {
	if g.onDenied != nil {
		g.onDenied()
	}
	entry := audit.Entry{
		PrincipalID: p.ID,
		Action:      action,
		TargetID:    targetID,
		Detail:      detail,
		At:          time.Now().UTC(),
	}
	if err := g.audit.Append(ctx, entry); err != nil {
		slog.Error("audit append failed", "principal", p.ID, "action", action, "error", err)
		return fmt.Errorf("audit append: %v: %w", err, domain.ErrAccessDenied)
	}
	slog.Warn("access denied", "principal", p.ID, "action", action, "target", targetID, "detail", detail)
	return fmt.Errorf("%s on %s by %s: %w", action, targetID, p.ID, domain.ErrAccessDenied)
}

func setKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}
