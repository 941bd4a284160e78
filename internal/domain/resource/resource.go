// Package resource defines the generic lifecycled entity every resource kind
// (site, binding, mailbox, account, certificate) projects into. The
// lifecycle engine operates on this projection only; kind-specific
// attributes stay with the kind handlers.
package resource

import "time"

// Kind identifies a resource kind registered with the lifecycle engine.
type Kind string

// State is the lifecycle state of a resource.
type State string

const (
	StateActive    State = "active"
	StateSuspended State = "suspended"
	StateCanceled  State = "canceled" // terminal, tenants only
)

// Ref addresses a resource of a given kind.
type Ref struct {
	Kind Kind   `json:"kind"`
	ID   string `json:"id"`
}

func (r Ref) String() string { return string(r.Kind) + "/" + r.ID }

// Resource is the generic projection the lifecycle engine operates on.
// Parent, when set, names the resource this one exists to support; kind
// handlers derive their dependent and reference sets from it.
type Resource struct {
	Ref          Ref        `json:"ref"`
	Parent       *Ref       `json:"parent,omitempty"`
	TenantID     string     `json:"tenant_id"`
	HostID       string     `json:"host_id,omitempty"`
	SuspensionID string     `json:"suspension_id,omitempty"`
	CanceledAt   *time.Time `json:"canceled_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// State derives the lifecycle state from the suspension and cancellation
// markers.
func (r *Resource) State() State {
	switch {
	case r.CanceledAt != nil:
		return StateCanceled
	case r.SuspensionID != "":
		return StateSuspended
	default:
		return StateActive
	}
}

// Suspended reports whether the resource carries an active suspension record.
func (r *Resource) Suspended() bool { return r.SuspensionID != "" }
