// Package domain provides shared domain-level error types for the control plane.
package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a concurrent modification conflict (optimistic locking).
var ErrConflict = errors.New("conflict: resource was modified by another request")

// ErrAccessDenied indicates the acting principal lacks visibility of or
// authority over the target. Every occurrence is audit-logged before it is
// returned to the caller.
var ErrAccessDenied = errors.New("access denied")

// ErrInvalidState indicates a lifecycle transition that is not legal from the
// resource's current state (enabling an active resource, canceling a tenant
// that is not suspended, and so on).
var ErrInvalidState = errors.New("invalid lifecycle state")

// ErrValidation indicates malformed input: bad identifiers, tenant depth
// beyond the configured maximum, format violations.
var ErrValidation = errors.New("validation failed")

// DependentNotSuspendedError is returned when a suspend is attempted while a
// declared dependent resource is still active. Dependents must be suspended
// bottom-up, leaves first.
type DependentNotSuspendedError struct {
	Kind string
	ID   string
}

func (e *DependentNotSuspendedError) Error() string {
	return fmt.Sprintf("dependent %s/%s is not suspended", e.Kind, e.ID)
}

// StillReferencedError is returned when a removal is attempted while another
// surviving resource still references the target.
type StillReferencedError struct {
	Kind string
	ID   string
}

func (e *StillReferencedError) Error() string {
	return fmt.Sprintf("still referenced by %s/%s", e.Kind, e.ID)
}

// HostUnreachableError is returned by the node agent connector when a managed
// host cannot be reached within the call deadline. It never poisons the
// control-plane transaction: the authoritative mutation stays committed and
// host state converges later.
type HostUnreachableError struct {
	HostID string
	Err    error
}

func (e *HostUnreachableError) Error() string {
	return fmt.Sprintf("host %s unreachable: %v", e.HostID, e.Err)
}

func (e *HostUnreachableError) Unwrap() error { return e.Err }
