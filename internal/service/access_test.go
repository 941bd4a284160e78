package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/hostwarden/hostwarden/internal/domain"
	"github.com/hostwarden/hostwarden/internal/domain/host"
	"github.com/hostwarden/hostwarden/internal/domain/invalidation"
	"github.com/hostwarden/hostwarden/internal/domain/principal"
)

// treeEnv seeds root -> acme -> acme-eu -> acme-eu-web plus a sibling globex.
func treeEnv(t *testing.T) *env {
	e := newEnv(t)
	e.seedTenant("root", "")
	e.seedTenant("acme", "root")
	e.seedTenant("acme-eu", "acme")
	e.seedTenant("acme-eu-web", "acme-eu")
	e.seedTenant("globex", "root")
	return e
}

func TestCanAccessOwnTenant(t *testing.T) {
	e := treeEnv(t)
	p := e.seedPrincipal("alice", "acme-eu")

	ok, err := e.gate.CanAccess(context.Background(), p, "acme-eu")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("principal must always reach its own tenant")
	}
}

func TestOrdinaryPrincipalSeesOwnSubtree(t *testing.T) {
	e := treeEnv(t)
	p := e.seedPrincipal("alice", "acme")
	ctx := context.Background()

	for _, id := range []string{"acme", "acme-eu", "acme-eu-web"} {
		ok, err := e.gate.CanAccess(ctx, p, id)
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			t.Errorf("descendant %s should be accessible", id)
		}
	}
	for _, id := range []string{"root", "globex"} {
		ok, err := e.gate.CanAccess(ctx, p, id)
		if err != nil {
			t.Fatal(err)
		}
		if ok {
			t.Errorf("%s is outside the subtree and must not be accessible", id)
		}
	}
}

func TestVisibilityGrantExtendsSubtree(t *testing.T) {
	e := treeEnv(t)
	e.store.visibility["globex"] = []string{"acme-eu"}
	p := e.seedPrincipal("bob", "globex")
	ctx := context.Background()

	ok, err := e.gate.CanAccess(ctx, p, "acme-eu-web")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("grant on acme-eu should expose its whole subtree")
	}
	ok, err = e.gate.CanAccess(ctx, p, "acme")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("grant must not climb to the granted tenant's ancestors")
	}
}

func TestHostScopedOperatorSet(t *testing.T) {
	e := treeEnv(t)
	_ = e.store.CreateGrant(context.Background(), &host.Grant{TenantID: "acme-eu", HostID: "h1"})
	_ = e.store.CreateGrant(context.Background(), &host.Grant{TenantID: "globex", HostID: "h2"})
	op := e.seedOperator("ops", "root", &principal.Operator{Scope: principal.ScopeHosts, Hosts: []string{"h1"}})
	ctx := context.Background()

	ok, err := e.gate.CanAccess(ctx, op, "acme-eu")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("tenant on administered host should be accessible")
	}
	ok, err = e.gate.CanAccess(ctx, op, "globex")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("tenant on a foreign host must not be accessible")
	}
}

// TestHostScopedOperatorSetProperty pits AccessibleTenants against a brute
// force recomputation over randomized tree and grant fixtures: a host-scoped
// operator's set is exactly the tenants granted on its hosts plus its own.
func TestHostScopedOperatorSetProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	hosts := []string{"h0", "h1", "h2", "h3"}

	for trial := 0; trial < 30; trial++ {
		e := newEnv(t)
		ctx := context.Background()

		ids := []string{"t0"}
		e.seedTenant("t0", "")
		for i, n := 1, 2+rng.Intn(14); i < n; i++ {
			id := fmt.Sprintf("t%d", i)
			e.seedTenant(id, ids[rng.Intn(len(ids))])
			ids = append(ids, id)
		}

		granted := make(map[string]map[string]bool) // host -> tenants
		for _, tid := range ids {
			for _, h := range hosts {
				if rng.Intn(3) != 0 {
					continue
				}
				if err := e.store.CreateGrant(ctx, &host.Grant{TenantID: tid, HostID: h}); err != nil {
					t.Fatal(err)
				}
				if granted[h] == nil {
					granted[h] = make(map[string]bool)
				}
				granted[h][tid] = true
			}
		}

		var admin []string
		for _, h := range hosts {
			if rng.Intn(2) == 0 {
				admin = append(admin, h)
			}
		}
		if len(admin) == 0 {
			admin = hosts[:1]
		}
		home := ids[rng.Intn(len(ids))]
		op := e.seedOperator("ops", home, &principal.Operator{Scope: principal.ScopeHosts, Hosts: admin})

		want := map[string]bool{home: true}
		for _, h := range admin {
			for tid := range granted[h] {
				want[tid] = true
			}
		}

		got, err := e.gate.AccessibleTenants(ctx, op)
		if err != nil {
			t.Fatal(err)
		}
		for _, tid := range ids {
			if got[tid] != want[tid] {
				t.Fatalf("trial %d: tenant %s accessible=%v, brute force says %v (hosts %v)",
					trial, tid, got[tid], want[tid], admin)
			}
		}
	}
}

func TestGlobalOperatorReachesEverything(t *testing.T) {
	e := treeEnv(t)
	op := e.seedOperator("admin", "root", &principal.Operator{Scope: principal.ScopeGlobal})
	ctx := context.Background()

	for _, id := range []string{"root", "acme", "globex", "acme-eu-web"} {
		ok, err := e.gate.CanAccess(ctx, op, id)
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			t.Errorf("global operator denied on %s", id)
		}
	}
	if _, err := e.gate.AccessibleTenants(ctx, op); err == nil {
		t.Fatal("enumerating a global operator's set must fail")
	}
}

func TestCheckAccessDenialIsAudited(t *testing.T) {
	e := treeEnv(t)
	p := e.seedPrincipal("alice", "globex")
	denials := 0
	e.gate.OnDenied(func() { denials++ })

	err := e.gate.CheckAccess(context.Background(), p, "acme", "tenant.suspend")
	if !errors.Is(err, domain.ErrAccessDenied) {
		t.Fatalf("want ErrAccessDenied, got %v", err)
	}
	if e.sink.len() != 1 {
		t.Fatalf("want 1 audit entry, got %d", e.sink.len())
	}
	entry := e.sink.entries[0]
	if entry.PrincipalID != "alice" || entry.Action != "tenant.suspend" || entry.TargetID != "acme" {
		t.Fatalf("audit entry mismatch: %+v", entry)
	}
	if denials != 1 {
		t.Fatalf("denial hook fired %d times", denials)
	}
}

func TestCheckSwitchDirection(t *testing.T) {
	e := treeEnv(t)
	ctx := context.Background()

	switcher := e.seedPrincipal("reseller", "acme")
	switcher.CanSwitch = true

	cases := []struct {
		name   string
		target string
		allow  bool
	}{
		{"descendant", "acme-eu-web", true},
		{"own tenant", "acme", false},
		{"sibling", "globex", false},
		{"ancestor", "root", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := e.gate.CheckSwitch(ctx, switcher, tc.target)
			if tc.allow && err != nil {
				t.Fatalf("switch to %s should succeed: %v", tc.target, err)
			}
			if !tc.allow && !errors.Is(err, domain.ErrAccessDenied) {
				t.Fatalf("switch to %s should be denied, got %v", tc.target, err)
			}
		})
	}
}

func TestCheckSwitchRequiresCapability(t *testing.T) {
	e := treeEnv(t)
	p := e.seedPrincipal("plain", "acme")

	err := e.gate.CheckSwitch(context.Background(), p, "acme-eu")
	if !errors.Is(err, domain.ErrAccessDenied) {
		t.Fatalf("want ErrAccessDenied, got %v", err)
	}
	if e.sink.len() != 1 {
		t.Fatal("denied switch must be audited")
	}
}

func TestAccessibleSetRecomputedAfterGrantInvalidation(t *testing.T) {
	e := treeEnv(t)
	ctx := context.Background()
	p := e.seedPrincipal("bob", "globex")

	ok, err := e.gate.CanAccess(ctx, p, "acme-eu")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("no grant yet")
	}

	// Grant visibility and broadcast the matching invalidation. The memoized
	// set must be evicted and the next check see the grant.
	e.store.visibility["globex"] = []string{"acme-eu"}
	e.bcast.Publish(ctx, invalidation.Tenants(invalidation.TableGrants, "globex"))

	ok, err = e.gate.CanAccess(ctx, p, "acme-eu")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("set should be recomputed after grant invalidation")
	}
}

// A new grant on a host widens the visible set of every tenant already on
// that host. Their memoized sets watch the host, so the grant's own
// invalidation evicts them without naming them.
func TestGrantOnSharedHostEvictsCoTenantSets(t *testing.T) {
	e, svc, _ := hostEnv(t)
	ctx := context.Background()
	seedHost(t, e, "h1")
	admin := e.seedOperator("admin", "root", &principal.Operator{Scope: principal.ScopeGlobal})
	bob := e.seedPrincipal("bob", "globex")

	if err := e.store.CreateGrant(ctx, &host.Grant{TenantID: "globex", HostID: "h1"}); err != nil {
		t.Fatal(err)
	}
	ok, err := e.gate.CanAccess(ctx, bob, "acme")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("acme does not share a host with globex yet")
	}

	if err := svc.Grant(ctx, admin, "acme", "h1"); err != nil {
		t.Fatal(err)
	}
	ok, err = e.gate.CanAccess(ctx, bob, "acme")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("co-tenant set should be evicted and recomputed after the grant")
	}

	// Revocation travels the same way.
	if err := svc.Revoke(ctx, admin, "acme", "h1"); err != nil {
		t.Fatal(err)
	}
	ok, err = e.gate.CanAccess(ctx, bob, "acme")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("revoked co-tenant should drop out of the set")
	}
}

func TestTenantSuspendedMemoized(t *testing.T) {
	e := treeEnv(t)
	ctx := context.Background()

	sus, err := e.gate.TenantSuspended(ctx, "acme")
	if err != nil {
		t.Fatal(err)
	}
	if sus {
		t.Fatal("acme is active")
	}

	// Flip state behind the cache. Without an invalidation the stale answer
	// is still served.
	e.store.mu.Lock()
	e.store.tenants["acme"].SuspensionID = "s1"
	e.store.mu.Unlock()

	sus, err = e.gate.TenantSuspended(ctx, "acme")
	if err != nil {
		t.Fatal(err)
	}
	if sus {
		t.Fatal("stale value should be served until invalidated")
	}

	e.bcast.Publish(ctx, invalidation.Tenants(invalidation.TableTenants, "acme"))
	sus, err = e.gate.TenantSuspended(ctx, "acme")
	if err != nil {
		t.Fatal(err)
	}
	if !sus {
		t.Fatal("suspension should be visible after invalidation")
	}
}
