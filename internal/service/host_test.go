package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/hostwarden/hostwarden/internal/domain"
	"github.com/hostwarden/hostwarden/internal/domain/host"
	"github.com/hostwarden/hostwarden/internal/domain/invalidation"
	"github.com/hostwarden/hostwarden/internal/domain/principal"
	"github.com/hostwarden/hostwarden/internal/port/nodeagent"
)

// stubAgent answers every invoke, optionally with a scripted error.
type stubAgent struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (a *stubAgent) Invoke(_ context.Context, hostID, op string, _ map[string]any) (*nodeagent.Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, hostID+"/"+op)
	if a.err != nil {
		return nil, a.err
	}
	return &nodeagent.Result{OK: true}, nil
}

func hostEnv(t *testing.T) (*env, *HostService, *stubAgent) {
	e := treeEnv(t)
	agent := &stubAgent{}
	return e, NewHostService(e.store, e.gate, e.bcast, agent), agent
}

func seedHost(t *testing.T, e *env, id string) {
	t.Helper()
	if err := e.store.CreateHost(context.Background(), &host.Host{ID: id, Hostname: id + ".example.net", Enabled: true}); err != nil {
		t.Fatal(err)
	}
}

func TestHostCreateRequiresGlobalOperator(t *testing.T) {
	e, svc, _ := hostEnv(t)
	ctx := context.Background()
	alice := e.seedPrincipal("alice", "acme")
	scoped := e.seedOperator("ops", "root", &principal.Operator{Scope: principal.ScopeHosts, Hosts: []string{"h1"}})
	admin := e.seedOperator("admin", "root", &principal.Operator{Scope: principal.ScopeGlobal})

	req := host.CreateRequest{ID: "h1", Hostname: "h1.example.net"}
	if _, err := svc.Create(ctx, alice, req); !errors.Is(err, domain.ErrAccessDenied) {
		t.Fatalf("want ErrAccessDenied for plain principal, got %v", err)
	}
	if _, err := svc.Create(ctx, scoped, req); !errors.Is(err, domain.ErrAccessDenied) {
		t.Fatalf("want ErrAccessDenied for scoped operator, got %v", err)
	}
	h, err := svc.Create(ctx, admin, req)
	if err != nil {
		t.Fatal(err)
	}
	if !h.Enabled {
		t.Fatal("new host should be enabled")
	}
}

func TestHostListScopedToOperatorHosts(t *testing.T) {
	e, svc, _ := hostEnv(t)
	ctx := context.Background()
	seedHost(t, e, "h1")
	seedHost(t, e, "h2")
	scoped := e.seedOperator("ops", "root", &principal.Operator{Scope: principal.ScopeHosts, Hosts: []string{"h2"}})
	admin := e.seedOperator("admin", "root", &principal.Operator{Scope: principal.ScopeGlobal})

	all, err := svc.List(ctx, admin)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("global operator sees %d hosts", len(all))
	}

	mine, err := svc.List(ctx, scoped)
	if err != nil {
		t.Fatal(err)
	}
	if len(mine) != 1 || mine[0].ID != "h2" {
		t.Fatalf("scoped operator sees %v", mine)
	}

	alice := e.seedPrincipal("alice", "acme")
	if _, err := svc.List(ctx, alice); !errors.Is(err, domain.ErrAccessDenied) {
		t.Fatalf("want ErrAccessDenied, got %v", err)
	}
}

func TestHostGrantInvalidatesGrantTable(t *testing.T) {
	e, svc, _ := hostEnv(t)
	ctx := context.Background()
	seedHost(t, e, "h1")
	admin := e.seedOperator("admin", "root", &principal.Operator{Scope: principal.ScopeGlobal})

	if err := svc.Grant(ctx, admin, "acme", "h1"); err != nil {
		t.Fatal(err)
	}
	granted, err := e.store.GrantsForTenant(ctx, "acme")
	if err != nil {
		t.Fatal(err)
	}
	if len(granted) != 1 || granted[0] != "h1" {
		t.Fatalf("grants = %v", granted)
	}
	msg := e.pub.msgs[len(e.pub.msgs)-1]
	if msg.Table != invalidation.TableGrants || !msg.TouchesTenant("acme") {
		t.Fatalf("invalidation = %+v", msg)
	}
	if len(msg.HostIDs) != 1 || msg.HostIDs[0] != "h1" {
		t.Fatalf("invalidation hosts = %v", msg.HostIDs)
	}

	// Unknown host or tenant is rejected before the grant is written.
	if err := svc.Grant(ctx, admin, "acme", "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if err := svc.Grant(ctx, admin, "nope", "h1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestHostRevoke(t *testing.T) {
	e, svc, _ := hostEnv(t)
	ctx := context.Background()
	seedHost(t, e, "h1")
	admin := e.seedOperator("admin", "root", &principal.Operator{Scope: principal.ScopeGlobal})

	if err := svc.Grant(ctx, admin, "acme", "h1"); err != nil {
		t.Fatal(err)
	}
	if err := svc.Revoke(ctx, admin, "acme", "h1"); err != nil {
		t.Fatal(err)
	}
	granted, err := e.store.GrantsForTenant(ctx, "acme")
	if err != nil {
		t.Fatal(err)
	}
	if len(granted) != 0 {
		t.Fatalf("grants = %v", granted)
	}
}

func TestHostPing(t *testing.T) {
	e, svc, agent := hostEnv(t)
	ctx := context.Background()
	admin := e.seedOperator("admin", "root", &principal.Operator{Scope: principal.ScopeGlobal})

	res, err := svc.Ping(ctx, admin, "h1")
	if err != nil {
		t.Fatal(err)
	}
	if !res.OK {
		t.Fatal("reachable host should report ok")
	}

	agent.mu.Lock()
	agent.err = &domain.HostUnreachableError{HostID: "h1", Err: errors.New("down")}
	agent.mu.Unlock()

	res, err = svc.Ping(ctx, admin, "h1")
	if err != nil {
		t.Fatalf("unreachable is an answer, not an error: %v", err)
	}
	if res.OK || res.Detail == "" {
		t.Fatalf("result = %+v", res)
	}

	alice := e.seedPrincipal("alice", "acme")
	if _, err := svc.Ping(ctx, alice, "h1"); !errors.Is(err, domain.ErrAccessDenied) {
		t.Fatalf("want ErrAccessDenied, got %v", err)
	}
}
