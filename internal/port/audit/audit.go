// Package audit defines the sink for security-relevant events. Access
// denials are appended here before the denial reaches the caller; this trail
// is the platform's record of attempted privilege violations.
package audit

import (
	"context"
	"time"
)

// Entry is one audit record.
type Entry struct {
	PrincipalID string    `json:"principal_id"`
	Action      string    `json:"action"`
	TargetID    string    `json:"target_id"`
	Detail      string    `json:"detail,omitempty"`
	At          time.Time `json:"at"`
}

// Sink appends audit entries durably.
type Sink interface {
	Append(ctx context.Context, e Entry) error
}
