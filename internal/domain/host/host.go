// Package host defines managed execution hosts and tenant-host grants. A
// grant records that a tenant has presence on a host; host-scoped operators
// derive their visible tenant set from grants on the hosts they administer.
package host

import (
	"fmt"
	"time"

	"github.com/hostwarden/hostwarden/internal/domain"
)

// Host is a remote machine running a node agent.
type Host struct {
	ID        string    `json:"id"`
	Hostname  string    `json:"hostname"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Grant binds a tenant to a host.
type Grant struct {
	TenantID  string    `json:"tenant_id"`
	HostID    string    `json:"host_id"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateRequest is the input for registering a host.
type CreateRequest struct {
	ID       string `json:"id"`
	Hostname string `json:"hostname"`
}

// Validate checks required fields.
func (r *CreateRequest) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: id is required", domain.ErrValidation)
	}
	if r.Hostname == "" {
		return fmt.Errorf("%w: hostname is required", domain.ErrValidation)
	}
	return nil
}
