package derived

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hostwarden/hostwarden/internal/domain/invalidation"
)

// memCache is a minimal in-memory byte cache for tests.
type memCache struct {
	mu sync.Mutex
	m  map[string][]byte
}

func newMemCache() *memCache { return &memCache{m: make(map[string][]byte)} }

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

func tenantScope(ids ...string) Scope {
	return Scope{Tables: []string{invalidation.TableTenants}, Tenants: ids}
}

func TestGetPopulatesOnce(t *testing.T) {
	c := New(newMemCache(), time.Minute)
	ctx := context.Background()

	var fills atomic.Int32
	fill := func(context.Context) ([]byte, Scope, error) {
		fills.Add(1)
		return []byte("v"), tenantScope("acme"), nil
	}

	for range 3 {
		got, err := c.Get(ctx, "k", fill)
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != "v" {
			t.Fatalf("got %q", got)
		}
	}
	if fills.Load() != 1 {
		t.Fatalf("fill ran %d times, want 1", fills.Load())
	}
}

func TestConcurrentMissesSingleFill(t *testing.T) {
	c := New(newMemCache(), time.Minute)
	ctx := context.Background()

	var fills atomic.Int32
	gate := make(chan struct{})
	fill := func(context.Context) ([]byte, Scope, error) {
		fills.Add(1)
		<-gate
		return []byte("v"), tenantScope("acme"), nil
	}

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Get(ctx, "k", fill); err != nil {
				t.Error(err)
			}
		}()
	}
	// Give the goroutines time to pile onto the flight, then release it.
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	if fills.Load() != 1 {
		t.Fatalf("fill ran %d times under concurrent misses, want 1", fills.Load())
	}
}

func TestEvictPrecision(t *testing.T) {
	c := New(newMemCache(), time.Minute)
	ctx := context.Background()

	put := func(key string, scope Scope) {
		t.Helper()
		_, err := c.Get(ctx, key, func(context.Context) ([]byte, Scope, error) {
			return []byte(key), scope, nil
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	put("acme", tenantScope("acme"))
	put("globex", tenantScope("globex"))
	put("host-h1", Scope{Tables: []string{invalidation.TableGrants}, Hosts: []string{"h1"}})

	c.Evict(ctx, invalidation.Tenants(invalidation.TableTenants, "acme"))

	if c.Len() != 2 {
		t.Fatalf("index has %d entries after eviction, want 2", c.Len())
	}

	// The surviving entries still serve without a refill.
	got, err := c.Get(ctx, "globex", func(context.Context) ([]byte, Scope, error) {
		t.Fatal("globex must not refill")
		return nil, Scope{}, nil
	})
	if err != nil || string(got) != "globex" {
		t.Fatalf("globex = %q, %v", got, err)
	}

	// The evicted entry refills lazily.
	refetched := false
	_, err = c.Get(ctx, "acme", func(context.Context) ([]byte, Scope, error) {
		refetched = true
		return []byte("acme2"), tenantScope("acme"), nil
	})
	if err != nil || !refetched {
		t.Fatalf("acme refill: refetched=%t err=%v", refetched, err)
	}
}

func TestEvictByHostScope(t *testing.T) {
	c := New(newMemCache(), time.Minute)
	ctx := context.Background()

	_, err := c.Get(ctx, "op", func(context.Context) ([]byte, Scope, error) {
		return []byte("x"), Scope{Tables: []string{invalidation.TableGrants}, Hosts: []string{"h1", "h2"}}, nil
	})
	if err != nil {
		t.Fatal(err)
	}

	msg := invalidation.Message{Table: invalidation.TableGrants, HostIDs: []string{"h2"}}
	c.Evict(ctx, msg)
	if c.Len() != 0 {
		t.Fatal("host-scoped entry survived a matching host invalidation")
	}
}

func TestEvictTableMismatchIsNoop(t *testing.T) {
	c := New(newMemCache(), time.Minute)
	ctx := context.Background()

	_, err := c.Get(ctx, "k", func(context.Context) ([]byte, Scope, error) {
		return []byte("x"), tenantScope("acme"), nil
	})
	if err != nil {
		t.Fatal(err)
	}

	c.Evict(ctx, invalidation.Tenants(invalidation.TableResources, "acme"))
	if c.Len() != 1 {
		t.Fatal("entry watching tenants table was evicted by a resources message")
	}
}

func TestEvictRedeliveryIdempotent(t *testing.T) {
	c := New(newMemCache(), time.Minute)
	ctx := context.Background()

	_, err := c.Get(ctx, "k", func(context.Context) ([]byte, Scope, error) {
		return []byte("x"), tenantScope("acme"), nil
	})
	if err != nil {
		t.Fatal(err)
	}

	var evictions atomic.Int32
	c.OnEvict(func(string) { evictions.Add(1) })

	msg := invalidation.Tenants(invalidation.TableTenants, "acme")
	c.Evict(ctx, msg)
	c.Evict(ctx, msg) // redelivery
	c.Evict(ctx, msg)

	if evictions.Load() != 1 {
		t.Fatalf("redelivery evicted %d times, want 1", evictions.Load())
	}
}

func TestForceResyncEvictsWholeTable(t *testing.T) {
	c := New(newMemCache(), time.Minute)
	ctx := context.Background()

	for _, key := range []string{"a", "b"} {
		id := key
		_, err := c.Get(ctx, key, func(context.Context) ([]byte, Scope, error) {
			return []byte(id), tenantScope(id), nil
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	c.Evict(ctx, invalidation.Message{Table: invalidation.TableTenants, ForceResync: true})
	if c.Len() != 0 {
		t.Fatal("ForceResync must evict every entry watching the table")
	}
}

func TestGetSetRoundTrip(t *testing.T) {
	c := New(newMemCache(), time.Minute)
	ctx := context.Background()

	set, err := c.GetSet(ctx, "s", func(context.Context) (map[string]bool, Scope, error) {
		return map[string]bool{"acme": true, "globex": true}, tenantScope("acme", "globex"), nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if !set["acme"] || !set["globex"] || len(set) != 2 {
		t.Fatalf("set = %v", set)
	}

	// Second read decodes the cached bytes.
	set, err = c.GetSet(ctx, "s", func(context.Context) (map[string]bool, Scope, error) {
		t.Fatal("must not refill")
		return nil, Scope{}, nil
	})
	if err != nil || !set["acme"] {
		t.Fatalf("cached set = %v, %v", set, err)
	}
}

func TestGetBoolRoundTrip(t *testing.T) {
	c := New(newMemCache(), time.Minute)
	ctx := context.Background()

	for _, want := range []bool{true, false} {
		key := "b-true"
		if !want {
			key = "b-false"
		}
		v := want
		got, err := c.GetBool(ctx, key, func(context.Context) (bool, Scope, error) {
			return v, tenantScope("acme"), nil
		})
		if err != nil || got != want {
			t.Fatalf("GetBool(%s) = %t, %v", key, got, err)
		}
	}
}
