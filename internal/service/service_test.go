package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hostwarden/hostwarden/internal/derived"
	"github.com/hostwarden/hostwarden/internal/domain"
	"github.com/hostwarden/hostwarden/internal/domain/host"
	"github.com/hostwarden/hostwarden/internal/domain/invalidation"
	"github.com/hostwarden/hostwarden/internal/domain/principal"
	"github.com/hostwarden/hostwarden/internal/domain/resource"
	"github.com/hostwarden/hostwarden/internal/domain/suspension"
	"github.com/hostwarden/hostwarden/internal/domain/tenant"
	"github.com/hostwarden/hostwarden/internal/port/audit"
)

// fakeStore is an in-memory database.Store for service tests.
type fakeStore struct {
	mu          sync.Mutex
	tenants     map[string]*tenant.Tenant
	principals  map[string]*principal.Principal
	keyPrefixes map[string]string // prefix -> principal id
	suspensions map[string]*suspension.Record
	hosts       map[string]*host.Host
	grants      map[string]map[string]bool // tenant -> host set
	visibility  map[string][]string        // tenant -> granted tenant roots
	resources   map[string]*resource.Resource
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tenants:     make(map[string]*tenant.Tenant),
		principals:  make(map[string]*principal.Principal),
		keyPrefixes: make(map[string]string),
		suspensions: make(map[string]*suspension.Record),
		hosts:       make(map[string]*host.Host),
		grants:      make(map[string]map[string]bool),
		visibility:  make(map[string][]string),
		resources:   make(map[string]*resource.Resource),
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

func (s *fakeStore) CreateTenant(_ context.Context, t *tenant.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.tenants[t.ID] = &cp
	return nil
}

func (s *fakeStore) UpdateTenant(_ context.Context, t *tenant.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tenants[t.ID]; !ok {
		return fmt.Errorf("tenant %s: %w", t.ID, domain.ErrNotFound)
	}
	cp := *t
	s.tenants[t.ID] = &cp
	return nil
}

func (s *fakeStore) DeleteTenant(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tenants, id)
	return nil
}

func (s *fakeStore) CountTenantResources(_ context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.resources {
		if r.TenantID == id {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) ListPrincipals(_ context.Context, tenantID string) ([]principal.Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []principal.Principal
	for _, p := range s.principals {
		if p.TenantID == tenantID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *fakeStore) GetPrincipal(_ context.Context, id string) (*principal.Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.principals[id]
	if !ok {
		return nil, fmt.Errorf("principal %s: %w", id, domain.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (s *fakeStore) GetPrincipalByKeyPrefix(_ context.Context, prefix string) (*principal.Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.keyPrefixes[prefix]
	if !ok {
		return nil, fmt.Errorf("key prefix: %w", domain.ErrNotFound)
	}
	cp := *s.principals[id]
	return &cp, nil
}

func (s *fakeStore) CreatePrincipal(_ context.Context, p *principal.Principal, keyPrefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.principals[p.ID] = &cp
	if keyPrefix != "" {
		s.keyPrefixes[keyPrefix] = p.ID
	}
	return nil
}

func (s *fakeStore) UpdatePrincipal(_ context.Context, p *principal.Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.principals[p.ID]; !ok {
		return fmt.Errorf("principal %s: %w", p.ID, domain.ErrNotFound)
	}
	cp := *p
	s.principals[p.ID] = &cp
	return nil
}

func (s *fakeStore) DeletePrincipal(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.principals, id)
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

func (s *fakeStore) CreateSuspension(_ context.Context, r *suspension.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	s.suspensions[r.ID] = &cp
	return nil
}

func (s *fakeStore) ListHosts(context.Context) ([]host.Host, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]host.Host, 0, len(s.hosts))
	for _, h := range s.hosts {
		out = append(out, *h)
	}
	return out, nil
}

func (s *fakeStore) GetHost(_ context.Context, id string) (*host.Host, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hosts[id]
	if !ok {
		return nil, fmt.Errorf("host %s: %w", id, domain.ErrNotFound)
	}
	cp := *h
	return &cp, nil
}

func (s *fakeStore) CreateHost(_ context.Context, h *host.Host) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *h
	s.hosts[h.ID] = &cp
	return nil
}

func (s *fakeStore) CreateGrant(_ context.Context, g *host.Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.grants[g.TenantID] == nil {
		s.grants[g.TenantID] = make(map[string]bool)
	}
	s.grants[g.TenantID][g.HostID] = true
	return nil
}

func (s *fakeStore) DeleteGrant(_ context.Context, tenantID, hostID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.grants[tenantID], hostID)
	return nil
}

func (s *fakeStore) TenantsOnHosts(_ context.Context, hostIDs []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[string]bool, len(hostIDs))
	for _, h := range hostIDs {
		want[h] = true
	}
	var out []string
	for tid, hs := range s.grants {
		for h := range hs {
			if want[h] {
				out = append(out, tid)
				break
			}
		}
	}
	return out, nil
}

func (s *fakeStore) GrantsForTenant(_ context.Context, tenantID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for h := range s.grants[tenantID] {
		out = append(out, h)
	}
	return out, nil
}

// VisibilityGrants unions the seeded grants with host co-tenancy, matching
// the store's join: two tenants bound to one host can see each other.
func (s *fakeStore) VisibilityGrants(_ context.Context, tenantID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]string(nil), s.visibility[tenantID]...)
	seen := make(map[string]bool, len(out))
	for _, id := range out {
		seen[id] = true
	}
	for h := range s.grants[tenantID] {
		for other, hs := range s.grants {
			if other != tenantID && hs[h] && !seen[other] {
				seen[other] = true
				out = append(out, other)
			}
		}
	}
	return out, nil
}

func resKey(ref resource.Ref) string { return ref.String() }

func (s *fakeStore) GetResource(_ context.Context, ref resource.Ref) (*resource.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.resources[resKey(ref)]
	if !ok {
		return nil, fmt.Errorf("resource %s: %w", ref, domain.ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

func (s *fakeStore) ListResources(_ context.Context, kind resource.Kind, tenantID string) ([]resource.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []resource.Resource
	for _, r := range s.resources {
		if r.Ref.Kind == kind && r.TenantID == tenantID {
			out = append(out, *r)
		}
	}
	return out, nil
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
	s.resources[resKey(r.Ref)] = &cp
	return nil
}

func (s *fakeStore) UpdateResource(_ context.Context, r *resource.Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.resources[resKey(r.Ref)]; !ok {
		return fmt.Errorf("resource %s: %w", r.Ref, domain.ErrNotFound)
	}
	cp := *r
	s.resources[resKey(r.Ref)] = &cp
	return nil
}

func (s *fakeStore) DeleteResource(_ context.Context, ref resource.Ref) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.resources, resKey(ref))
	return nil
}

// memSink records audit entries in memory.
type memSink struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (m *memSink) Append(_ context.Context, e audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memSink) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// memByteCache is the in-memory byte cache backing the derived cache.
type memByteCache struct {
	mu sync.Mutex
	m  map[string][]byte
}

func (c *memByteCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[key]
	return v, ok, nil
}

func (c *memByteCache) Set(_ context.Context, key string, val []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = val
	return nil
}

func (c *memByteCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, key)
	return nil
}

// recordingPub captures published invalidation messages.
type recordingPub struct {
	mu   sync.Mutex
	msgs []invalidation.Message
}

func (p *recordingPub) Publish(_ context.Context, msg invalidation.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *recordingPub) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.msgs)
}

func (p *recordingPub) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = nil
}

// env bundles the wired services over the fakes.
type env struct {
	store  *fakeStore
	sink   *memSink
	cache  *derived.Cache
	pub    *recordingPub
	gate   *Gate
	bcast  *Broadcaster
	engine *Engine
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store := newFakeStore()
	sink := &memSink{}
	cache := derived.New(&memByteCache{m: make(map[string][]byte)}, time.Minute)
	pub := &recordingPub{}
	gate := NewGate(store, cache, sink, 6)
	bcast := NewBroadcaster(cache, pub, nil)
	engine := NewEngine(store, gate)
	engine.SetBroadcaster(bcast)
	return &env{store: store, sink: sink, cache: cache, pub: pub, gate: gate, bcast: bcast, engine: engine}
}

// seedTenant adds an active tenant without going through the service.
func (e *env) seedTenant(id, parentID string) {
	_ = e.store.CreateTenant(context.Background(), &tenant.Tenant{
		ID: id, Name: id, ParentID: parentID,
	})
}

func (e *env) seedPrincipal(id, tenantID string) *principal.Principal {
	p := &principal.Principal{ID: id, TenantID: tenantID, Name: id}
	_ = e.store.CreatePrincipal(context.Background(), p, "")
	return p
}

func (e *env) seedOperator(id, tenantID string, op *principal.Operator) *principal.Principal {
	p := &principal.Principal{ID: id, TenantID: tenantID, Name: id, Operator: op}
	_ = e.store.CreatePrincipal(context.Background(), p, "")
	return p
}
