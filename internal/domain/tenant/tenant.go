// Package tenant defines the hierarchical tenant model. Tenants form an
// ownership tree rooted at a single distinguished root tenant; every access
// decision and lifecycle cascade in the platform is derived from this tree.
package tenant

import (
	"fmt"
	"regexp"
	"time"

	"github.com/hostwarden/hostwarden/internal/domain"
)

// RootID is the identifier of the distinguished root tenant. It has no
// parent and is reachable by no ordinary principal.
const RootID = "root"

// Capability flags a tenant may carry.
const (
	CapCreateChildren = "create_children"
	CapViewPricing    = "view_pricing"
)

// Tenant is a node in the ownership tree.
type Tenant struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	ParentID     string            `json:"parent_id,omitempty"` // empty only for the root
	Capabilities map[string]bool   `json:"capabilities,omitempty"`
	SuspensionID string            `json:"suspension_id,omitempty"` // empty = active
	CanceledAt   *time.Time        `json:"canceled_at,omitempty"`
	BillParent   bool              `json:"bill_parent"`
	Settings     map[string]string `json:"settings,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// Suspended reports whether the tenant carries an active suspension record.
func (t *Tenant) Suspended() bool { return t.SuspensionID != "" }

// Canceled reports whether the tenant has been irreversibly canceled.
func (t *Tenant) Canceled() bool { return t.CanceledAt != nil }

// Can reports whether the tenant carries the given capability flag.
func (t *Tenant) Can(cap string) bool { return t.Capabilities[cap] }

// CreateRequest holds the fields required to create a new tenant.
type CreateRequest struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ParentID string `json:"parent_id"`
}

var idRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{0,62}[a-z0-9]$`)

// ValidateID checks the human-assigned tenant identifier format.
func ValidateID(id string) error {
	if !idRegex.MatchString(id) {
		return fmt.Errorf("%w: tenant id %q must be 2-64 lowercase alphanumeric, dot, underscore or hyphen characters", domain.ErrValidation, id)
	}
	return nil
}
