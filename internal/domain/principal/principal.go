// Package principal defines acting identities: ordinary tenant principals
// and platform-internal operators.
package principal

import (
	"fmt"
	"time"

	"github.com/hostwarden/hostwarden/internal/domain"
)

// APIKeyPrefix is prepended to generated API keys for identification.
const APIKeyPrefix = "hwk_"

// OperatorScope distinguishes the two operator variants. The distinction
// changes the access algorithm entirely, so it is modeled as a variant and
// not a boolean fallthrough.
type OperatorScope string

const (
	// ScopeGlobal operators may act on any tenant and any host.
	ScopeGlobal OperatorScope = "global"
	// ScopeHosts operators are restricted to the hosts they administer and
	// see only tenants bound to those hosts.
	ScopeHosts OperatorScope = "hosts"
)

// Operator marks a principal as platform-internal. Hosts is consulted only
// for ScopeHosts.
type Operator struct {
	Scope OperatorScope `json:"scope"`
	Hosts []string      `json:"hosts,omitempty"`
}

// Principal is an authenticatable identity owned by exactly one tenant.
type Principal struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id"`
	Name         string    `json:"name"`
	KeyHash      string    `json:"-"` // SHA-256 hash of the API key, never serialized
	PasswordHash string    `json:"-"` // optional bcrypt credential, never serialized
	Operator     *Operator `json:"operator,omitempty"`
	SuspensionID string    `json:"suspension_id,omitempty"`
	CanSwitch    bool      `json:"can_switch"` // cross-tenant impersonation capability
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Suspended reports whether the principal carries an active suspension record.
func (p *Principal) Suspended() bool { return p.SuspensionID != "" }

// IsOperator reports whether the principal is platform-internal.
func (p *Principal) IsOperator() bool { return p.Operator != nil }

// GlobalOperator reports whether the principal is a globally scoped operator.
func (p *Principal) GlobalOperator() bool {
	return p.Operator != nil && p.Operator.Scope == ScopeGlobal
}

// HostOperator reports whether the principal is a host-scoped operator.
func (p *Principal) HostOperator() bool {
	return p.Operator != nil && p.Operator.Scope == ScopeHosts
}

// CreateRequest is the input for registering a new principal.
type CreateRequest struct {
	Name      string    `json:"name"`
	TenantID  string    `json:"tenant_id"`
	Operator  *Operator `json:"operator,omitempty"`
	CanSwitch bool      `json:"can_switch"`
	Password  string    `json:"password,omitempty"` // optional interactive credential
}

// Validate checks that the CreateRequest has all required fields.
func (r *CreateRequest) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("%w: name is required", domain.ErrValidation)
	}
	if r.TenantID == "" {
		return fmt.Errorf("%w: tenant_id is required", domain.ErrValidation)
	}
	if r.Operator != nil {
		switch r.Operator.Scope {
		case ScopeGlobal:
			// Hosts list on a global operator is meaningless.
			if len(r.Operator.Hosts) > 0 {
				return fmt.Errorf("%w: global operator must not list hosts", domain.ErrValidation)
			}
		case ScopeHosts:
			if len(r.Operator.Hosts) == 0 {
				return fmt.Errorf("%w: host-scoped operator requires at least one host", domain.ErrValidation)
			}
		default:
			return fmt.Errorf("%w: operator scope must be global or hosts", domain.ErrValidation)
		}
	}
	return nil
}
