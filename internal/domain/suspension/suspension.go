// Package suspension defines the durable reason/actor record attached to a
// disabled resource. A record is immutable once created; enabling a resource
// detaches the record, it never mutates or deletes it.
package suspension

import (
	"errors"
	"time"
)

// Record captures who suspended a resource and why. Resume authority is
// asymmetric: only the creating principal, or an operator with authority over
// the creating principal's tenant, may resume.
type Record struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	PrincipalID string    `json:"principal_id"` // creator, holds resume authority
	Reason      string    `json:"reason"`
	CreatedAt   time.Time `json:"created_at"`
}

// CreateRequest is the input for suspending a resource.
type CreateRequest struct {
	TenantID    string `json:"tenant_id"`
	PrincipalID string `json:"principal_id"`
	Reason      string `json:"reason"`
}

// Validate checks required fields.
func (r *CreateRequest) Validate() error {
	if r.TenantID == "" {
		return errors.New("tenant_id is required")
	}
	if r.PrincipalID == "" {
		return errors.New("principal_id is required")
	}
	if r.Reason == "" {
		return errors.New("reason is required")
	}
	return nil
}
