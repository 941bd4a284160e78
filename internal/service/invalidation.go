package service

import (
	"context"
	"log/slog"

	"github.com/hostwarden/hostwarden/internal/derived"
	"github.com/hostwarden/hostwarden/internal/domain/invalidation"
	"github.com/hostwarden/hostwarden/internal/port/broadcast"
)

// Subscriber delivers remote invalidation messages; the NATS adapter
// satisfies it.
type Subscriber interface {
	Subscribe(ctx context.Context, handler func(invalidation.Message) error) (func(), error)
}

// Broadcaster publishes one invalidation message set per committed mutation
// batch. The local cache is evicted synchronously before Publish returns, so
// the caller that produced the mutation immediately observes fresh derived
// state; remote sessions and connected clients converge via the transport.
type Broadcaster struct {
	cache       *derived.Cache
	pub         broadcast.Publisher
	hub         broadcast.SessionHub
	onPublished func(table string) // metrics hooks, may be nil
	onReceived  func(table string)
}

// NewBroadcaster creates the invalidation broadcaster. pub and hub may be
// nil in single-process or test configurations.
func NewBroadcaster(cache *derived.Cache, pub broadcast.Publisher, hub broadcast.SessionHub) *Broadcaster {
	return &Broadcaster{cache: cache, pub: pub, hub: hub}
}

// OnPublished installs a hook invoked once per published message.
func (b *Broadcaster) OnPublished(fn func(table string)) { b.onPublished = fn }

// OnReceived installs a hook invoked once per remote message applied.
func (b *Broadcaster) OnReceived(fn func(table string)) { b.onReceived = fn }

// Publish merges the batch to one message per table and delivers it: local
// eviction first, then the remote transport, then connected sessions.
// Transport failures are logged, not returned: the mutation is already
// committed and local state is already coherent; remote sessions converge
// on redelivery.
func (b *Broadcaster) Publish(ctx context.Context, msgs ...invalidation.Message) {
	for _, msg := range invalidation.Merge(msgs) {
		b.cache.Evict(ctx, msg)

		if b.pub != nil {
			if err := b.pub.Publish(ctx, msg); err != nil {
				slog.Error("invalidation publish failed", "table", msg.Table, "error", err)
			}
		}
		if b.hub != nil {
			b.hub.Notify(ctx, msg)
		}
		if b.onPublished != nil {
			b.onPublished(msg.Table)
		}
	}
}

// Start subscribes to remote invalidations and applies them to the local
// cache. Eviction is idempotent, so at-least-once delivery and redelivery
// both converge. Returns a stop function.
func (b *Broadcaster) Start(ctx context.Context, sub Subscriber) (func(), error) {
	return sub.Subscribe(ctx, func(msg invalidation.Message) error {
		b.cache.Evict(ctx, msg)
		if b.onReceived != nil {
			b.onReceived(msg.Table)
		}
		return nil
	})
}
