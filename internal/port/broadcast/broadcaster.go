// Package broadcast defines the ports that carry invalidation messages to
// everything holding derived state: the remote-session transport and the
// in-process session hub.
package broadcast

import (
	"context"

	"github.com/hostwarden/hostwarden/internal/domain/invalidation"
)

// Publisher delivers invalidation messages to other live control-plane
// processes. Delivery is at-least-once; consumers evict idempotently.
type Publisher interface {
	Publish(ctx context.Context, msg invalidation.Message) error
}

// SessionHub fans an invalidation out to every session connected to this
// process.
type SessionHub interface {
	Notify(ctx context.Context, msg invalidation.Message)
}
