// Package cache defines the byte-level key-value caching port. The
// derived-state layer composes typed facts on top of this; adapters provide
// the in-process L1 and the shared L2 behind it.
package cache

import (
	"context"
	"time"
)

// Cache is the port interface for key-value caching. Delete on an absent key
// is a no-op, which is what makes invalidation redelivery idempotent.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
