// Package derived implements the per-process derived-state cache: lazily
// populated memos of expensive facts (a principal's accessible-tenant set,
// a resource's suspended flag) that are evicted precisely on receipt of a
// matching invalidation. Eviction is the only way an entry leaves early;
// staleness is bounded by the next relevant commit, by design.
package derived

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hostwarden/hostwarden/internal/domain/invalidation"
	"github.com/hostwarden/hostwarden/internal/port/cache"
)

// Scope records what an entry depends on, for eviction matching. An
// invalidation evicts the entry iff it names one of the watched tables and
// its tenant or host scope intersects the entry's.
type Scope struct {
	Tables  []string
	Tenants []string
	Hosts   []string
}

func (s *Scope) watchesTable(table string) bool {
	for _, t := range s.Tables {
		if t == table {
			return true
		}
	}
	return false
}

func (s *Scope) intersects(msg *invalidation.Message) bool {
	if !s.watchesTable(msg.Table) {
		return false
	}
	if msg.ForceResync {
		return true
	}
	for _, t := range s.Tenants {
		if msg.TouchesTenant(t) {
			return true
		}
	}
	for _, h := range s.Hosts {
		if msg.TouchesHost(h) {
			return true
		}
	}
	// An entry with no tenant/host scope of its own depends on the whole
	// table and goes on any message for it.
	return len(s.Tenants) == 0 && len(s.Hosts) == 0
}

// Cache is the concurrency-safe derived-state cache. Reads go straight to
// the byte cache; population runs under singleflight so concurrent misses
// for one key issue a single store round trip, and no lock is ever held
// across that round trip. The scope index is the only mutex-guarded state.
type Cache struct {
	bytes cache.Cache
	ttl   time.Duration
	group singleflight.Group

	mu    sync.RWMutex
	index map[string]Scope

	onEvict func(key string) // metrics hook, may be nil
}

// New creates a derived-state cache over the given byte cache.
func New(bytes cache.Cache, ttl time.Duration) *Cache {
	return &Cache{
		bytes: bytes,
		ttl:   ttl,
		index: make(map[string]Scope),
	}
}

// OnEvict installs a hook invoked once per evicted entry.
func (c *Cache) OnEvict(fn func(key string)) { c.onEvict = fn }

// Fill computes a value and its eviction scope on cache miss.
type Fill func(ctx context.Context) (value []byte, scope Scope, err error)

// Get returns the cached value for key, populating it via fill on miss.
func (c *Cache) Get(ctx context.Context, key string, fill Fill) ([]byte, error) {
	val, ok, err := c.bytes.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("derived get %s: %w", key, err)
	}
	if ok {
		return val, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// Re-check: another flight may have populated between our miss and
		// the flight starting.
		if val, ok, err := c.bytes.Get(ctx, key); err == nil && ok {
			return val, nil
		}
		val, scope, err := fill(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.bytes.Set(ctx, key, val, c.ttl); err != nil {
			return nil, fmt.Errorf("derived set %s: %w", key, err)
		}
		c.mu.Lock()
		c.index[key] = scope
		c.mu.Unlock()
		return val, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Evict removes every entry whose scope intersects the message. Re-delivery
// of the same message is a no-op on already-evicted entries.
func (c *Cache) Evict(ctx context.Context, msg invalidation.Message) {
	c.mu.Lock()
	var hit []string
	for key, scope := range c.index {
		if scope.intersects(&msg) {
			hit = append(hit, key)
			delete(c.index, key)
		}
	}
	c.mu.Unlock()

	for _, key := range hit {
		_ = c.bytes.Delete(ctx, key)
		if c.onEvict != nil {
			c.onEvict(key)
		}
	}
}

// Len returns the number of indexed entries. Test helper.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.index)
}

// GetSet memoizes a string-set fact.
func (c *Cache) GetSet(ctx context.Context, key string, fill func(ctx context.Context) (map[string]bool, Scope, error)) (map[string]bool, error) {
	raw, err := c.Get(ctx, key, func(ctx context.Context) ([]byte, Scope, error) {
		set, scope, err := fill(ctx)
		if err != nil {
			return nil, Scope{}, err
		}
		ids := make([]string, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		data, err := json.Marshal(ids)
		return data, scope, err
	})
	if err != nil {
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, fmt.Errorf("derived decode %s: %w", key, err)
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set, nil
}

// GetBool memoizes a boolean fact.
func (c *Cache) GetBool(ctx context.Context, key string, fill func(ctx context.Context) (bool, Scope, error)) (bool, error) {
	raw, err := c.Get(ctx, key, func(ctx context.Context) ([]byte, Scope, error) {
		b, scope, err := fill(ctx)
		if err != nil {
			return nil, Scope{}, err
		}
		if b {
			return []byte("1"), scope, nil
		}
		return []byte("0"), scope, nil
	})
	if err != nil {
		return false, err
	}
	return len(raw) == 1 && raw[0] == '1', nil
}
