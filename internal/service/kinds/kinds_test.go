package kinds

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hostwarden/hostwarden/internal/derived"
	"github.com/hostwarden/hostwarden/internal/domain"
	"github.com/hostwarden/hostwarden/internal/domain/invalidation"
	"github.com/hostwarden/hostwarden/internal/domain/principal"
	"github.com/hostwarden/hostwarden/internal/domain/resource"
	"github.com/hostwarden/hostwarden/internal/domain/suspension"
	"github.com/hostwarden/hostwarden/internal/domain/tenant"
	"github.com/hostwarden/hostwarden/internal/port/audit"
	"github.com/hostwarden/hostwarden/internal/port/database"
	"github.com/hostwarden/hostwarden/internal/port/nodeagent"
	"github.com/hostwarden/hostwarden/internal/service"
)

// fakeStore implements the slice of database.Store the registry touches.
// The embedded interface panics on anything unexpected.
type fakeStore struct {
	database.Store
	mu          sync.Mutex
	tenants     map[string]*tenant.Tenant
	resources   map[string]*resource.Resource
	grants      map[string][]string
	suspensions map[string]*suspension.Record
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tenants:     make(map[string]*tenant.Tenant),
		resources:   make(map[string]*resource.Resource),
		grants:      make(map[string][]string),
		suspensions: make(map[string]*suspension.Record),
	}
}

func (s *fakeStore) ListTenants(context.Context) ([]tenant.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]tenant.Tenant, 0, len(s.tenants))
	for _, t := range s.tenants {
		out = append(out, *t)
	}
	return out, nil
}

func (s *fakeStore) GetTenant(_ context.Context, id string) (*tenant.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[id]
	if !ok {
		return nil, fmt.Errorf("tenant %s: %w", id, domain.ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

func (s *fakeStore) VisibilityGrants(context.Context, string) ([]string, error) {
	return nil, nil
}

func (s *fakeStore) GrantsForTenant(_ context.Context, tenantID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grants[tenantID], nil
}

func (s *fakeStore) GetResource(_ context.Context, ref resource.Ref) (*resource.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.resources[ref.String()]
	if !ok {
		return nil, fmt.Errorf("resource %s: %w", ref, domain.ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

func (s *fakeStore) ListChildren(_ context.Context, parent resource.Ref) ([]resource.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []resource.Resource
	for _, r := range s.resources {
		if r.Parent != nil && *r.Parent == parent {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *fakeStore) CreateResource(_ context.Context, r *resource.Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.resources[r.Ref.String()] = &cp
	return nil
}

func (s *fakeStore) UpdateResource(_ context.Context, r *resource.Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.resources[r.Ref.String()] = &cp
	return nil
}

func (s *fakeStore) DeleteResource(_ context.Context, ref resource.Ref) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.resources, ref.String())
	return nil
}

func (s *fakeStore) CreateSuspension(_ context.Context, r *suspension.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.suspensions[r.ID] = &cp
	return nil
}

func (s *fakeStore) GetSuspension(_ context.Context, id string) (*suspension.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.suspensions[id]
	if !ok {
		return nil, fmt.Errorf("suspension %s: %w", id, domain.ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

type nopSink struct{}

func (nopSink) Append(context.Context, audit.Entry) error { return nil }

type nopPub struct{}

func (nopPub) Publish(context.Context, invalidation.Message) error { return nil }

type memCache struct {
	mu sync.Mutex
	m  map[string][]byte
}

func (c *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[key]
	return v, ok, nil
}

func (c *memCache) Set(_ context.Context, key string, val []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = val
	return nil
}

func (c *memCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, key)
	return nil
}

// fakeAgent scripts node agent replies per host.
type fakeAgent struct {
	mu    sync.Mutex
	calls []string // "host/op"
	fail  map[string]error
}

func (a *fakeAgent) Invoke(_ context.Context, hostID, op string, _ map[string]any) (*nodeagent.Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, hostID+"/"+op)
	if err := a.fail[hostID]; err != nil {
		return nil, err
	}
	return &nodeagent.Result{OK: true}, nil
}

type fixture struct {
	store *fakeStore
	agent *fakeAgent
	reg   *Registry
	actor *principal.Principal
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newFakeStore()
	store.tenants["root"] = &tenant.Tenant{ID: "root", Name: "root"}
	store.tenants["acme"] = &tenant.Tenant{ID: "acme", Name: "acme", ParentID: "root"}

	cache := derived.New(&memCache{m: make(map[string][]byte)}, time.Minute)
	gate := service.NewGate(store, cache, nopSink{}, 6)
	engine := service.NewEngine(store, gate)
	bcast := service.NewBroadcaster(cache, nopPub{}, nil)
	engine.SetBroadcaster(bcast)
	agent := &fakeAgent{fail: make(map[string]error)}

	// The tenant kind backs the resume-time ancestor check.
	if _, err := service.NewTenantService(store, gate, engine, bcast, 6); err != nil {
		t.Fatal(err)
	}

	reg, err := New(store, engine, gate, bcast, agent)
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{
		store: store,
		agent: agent,
		reg:   reg,
		actor: &principal.Principal{ID: "alice", TenantID: "acme", Name: "alice"},
	}
}

func TestCreateSiteProvisionsOnHost(t *testing.T) {
	f := newFixture(t)
	f.store.grants["acme"] = []string{"h1"}

	res, err := f.reg.Create(context.Background(), f.actor, CreateRequest{
		Kind: KindSite, TenantID: "acme", HostID: "h1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Ref.Kind != KindSite || res.HostID != "h1" {
		t.Fatalf("resource = %+v", res)
	}
	if _, ok := f.store.resources[res.Ref.String()]; !ok {
		t.Fatal("resource not persisted")
	}
	if len(f.agent.calls) != 1 || f.agent.calls[0] != "h1/provision.site" {
		t.Fatalf("agent calls = %v", f.agent.calls)
	}
}

func TestCreateRejectsUnknownKind(t *testing.T) {
	f := newFixture(t)
	_, err := f.reg.Create(context.Background(), f.actor, CreateRequest{
		Kind: resource.Kind("database"), TenantID: "acme",
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("want ErrValidation, got %v", err)
	}
}

func TestCreateRejectsSuspendedTenant(t *testing.T) {
	f := newFixture(t)
	f.store.mu.Lock()
	f.store.tenants["acme"].SuspensionID = "s1"
	f.store.mu.Unlock()

	_, err := f.reg.Create(context.Background(), f.actor, CreateRequest{
		Kind: KindSite, TenantID: "acme",
	})
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("want ErrInvalidState, got %v", err)
	}
}

func TestCreateRequiresHostGrant(t *testing.T) {
	f := newFixture(t)
	_, err := f.reg.Create(context.Background(), f.actor, CreateRequest{
		Kind: KindSite, TenantID: "acme", HostID: "h1",
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("want ErrValidation without grant, got %v", err)
	}
	if len(f.agent.calls) != 0 {
		t.Fatal("no agent call on rejected create")
	}
}

func TestCreateChecksParent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	site, err := f.reg.Create(ctx, f.actor, CreateRequest{Kind: KindSite, TenantID: "acme"})
	if err != nil {
		t.Fatal(err)
	}

	// Active parent, same tenant: ok.
	if _, err := f.reg.Create(ctx, f.actor, CreateRequest{
		Kind: KindBinding, TenantID: "acme", Parent: &site.Ref,
	}); err != nil {
		t.Fatal(err)
	}

	// Suspended parent blocks creation.
	f.store.mu.Lock()
	f.store.resources[site.Ref.String()].SuspensionID = "s1"
	f.store.mu.Unlock()
	_, err = f.reg.Create(ctx, f.actor, CreateRequest{
		Kind: KindBinding, TenantID: "acme", Parent: &site.Ref,
	})
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("want ErrInvalidState under suspended parent, got %v", err)
	}
}

func TestCreateSurvivesUnreachableHost(t *testing.T) {
	f := newFixture(t)
	f.store.grants["acme"] = []string{"h1"}
	f.agent.fail["h1"] = &domain.HostUnreachableError{HostID: "h1", Err: errors.New("timeout")}

	res, err := f.reg.Create(context.Background(), f.actor, CreateRequest{
		Kind: KindSite, TenantID: "acme", HostID: "h1",
	})
	if err != nil {
		t.Fatalf("unreachable host must not fail the create: %v", err)
	}
	if _, ok := f.store.resources[res.Ref.String()]; !ok {
		t.Fatal("record must stand for later convergence")
	}
}

func TestRemoveDeprovisions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.grants["acme"] = []string{"h1"}
	res, err := f.reg.Create(ctx, f.actor, CreateRequest{
		Kind: KindSite, TenantID: "acme", HostID: "h1",
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := f.reg.Remove(ctx, f.actor, res.Ref); err != nil {
		t.Fatal(err)
	}
	if _, ok := f.store.resources[res.Ref.String()]; ok {
		t.Fatal("resource should be deleted")
	}
	last := f.agent.calls[len(f.agent.calls)-1]
	if last != "h1/deprovision.site" {
		t.Fatalf("agent calls = %v", f.agent.calls)
	}
}

func TestRemoveSurvivesUnreachableHost(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.grants["acme"] = []string{"h1"}
	res, err := f.reg.Create(ctx, f.actor, CreateRequest{
		Kind: KindSite, TenantID: "acme", HostID: "h1",
	})
	if err != nil {
		t.Fatal(err)
	}

	f.agent.mu.Lock()
	f.agent.fail["h1"] = &domain.HostUnreachableError{HostID: "h1", Err: errors.New("down")}
	f.agent.mu.Unlock()

	if err := f.reg.Remove(ctx, f.actor, res.Ref); err != nil {
		t.Fatalf("unreachable host must not fail the removal: %v", err)
	}
	if _, ok := f.store.resources[res.Ref.String()]; ok {
		t.Fatal("control-plane deletion must stand")
	}
}

func TestSuspendResumeRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.reg.Create(ctx, f.actor, CreateRequest{Kind: KindSite, TenantID: "acme"})
	if err != nil {
		t.Fatal(err)
	}

	rec, err := f.reg.Suspend(ctx, f.actor, res.Ref, "abuse")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Reason != "abuse" || rec.PrincipalID != "alice" {
		t.Fatalf("record = %+v", rec)
	}
	got, err := f.store.GetResource(ctx, res.Ref)
	if err != nil {
		t.Fatal(err)
	}
	if got.State() != resource.StateSuspended {
		t.Fatalf("state = %s", got.State())
	}

	if err := f.reg.Resume(ctx, f.actor, res.Ref); err != nil {
		t.Fatal(err)
	}
	got, err = f.store.GetResource(ctx, res.Ref)
	if err != nil {
		t.Fatal(err)
	}
	if got.State() != resource.StateActive {
		t.Fatalf("state = %s", got.State())
	}
}
