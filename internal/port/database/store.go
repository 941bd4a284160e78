// Package database defines the relational store port. The core requires
// atomic single-statement read/write, per-table id generation and
// read-committed transactions; every cross-resource precondition is
// re-checked at transition time, so nothing here assumes serializable
// isolation.
package database

import (
	"context"

	"github.com/hostwarden/hostwarden/internal/domain/host"
	"github.com/hostwarden/hostwarden/internal/domain/principal"
	"github.com/hostwarden/hostwarden/internal/domain/resource"
	"github.com/hostwarden/hostwarden/internal/domain/suspension"
	"github.com/hostwarden/hostwarden/internal/domain/tenant"
)

// Store is the port interface for relational persistence.
type Store interface {
	TenantStore
	PrincipalStore
	SuspensionStore
	HostStore
	ResourceStore
}

// TenantStore persists the tenant tree.
type TenantStore interface {
	ListTenants(ctx context.Context) ([]tenant.Tenant, error)
	GetTenant(ctx context.Context, id string) (*tenant.Tenant, error)
	CreateTenant(ctx context.Context, t *tenant.Tenant) error
	UpdateTenant(ctx context.Context, t *tenant.Tenant) error
	DeleteTenant(ctx context.Context, id string) error
	// CountTenantResources returns the number of surviving resources, across
	// every resource table, still owned by the tenant.
	CountTenantResources(ctx context.Context, id string) (int, error)
}

// PrincipalStore persists acting identities.
type PrincipalStore interface {
	ListPrincipals(ctx context.Context, tenantID string) ([]principal.Principal, error)
	GetPrincipal(ctx context.Context, id string) (*principal.Principal, error)
	GetPrincipalByKeyPrefix(ctx context.Context, prefix string) (*principal.Principal, error)
	CreatePrincipal(ctx context.Context, p *principal.Principal, keyPrefix string) error
	UpdatePrincipal(ctx context.Context, p *principal.Principal) error
	DeletePrincipal(ctx context.Context, id string) error
}

// SuspensionStore persists suspension records. Records are immutable:
// create and read only.
type SuspensionStore interface {
	GetSuspension(ctx context.Context, id string) (*suspension.Record, error)
	CreateSuspension(ctx context.Context, r *suspension.Record) error
}

// HostStore persists managed hosts and tenant-host grants.
type HostStore interface {
	ListHosts(ctx context.Context) ([]host.Host, error)
	GetHost(ctx context.Context, id string) (*host.Host, error)
	CreateHost(ctx context.Context, h *host.Host) error
	CreateGrant(ctx context.Context, g *host.Grant) error
	DeleteGrant(ctx context.Context, tenantID, hostID string) error
	// TenantsOnHosts returns the ids of tenants holding a grant on at least
	// one of the given hosts.
	TenantsOnHosts(ctx context.Context, hostIDs []string) ([]string, error)
	// GrantsForTenant returns the host ids the tenant is bound to.
	GrantsForTenant(ctx context.Context, tenantID string) ([]string, error)
	// VisibilityGrants returns the tenant ids the given tenant has a direct
	// grant of visibility to (tenants sharing a host with it).
	VisibilityGrants(ctx context.Context, tenantID string) ([]string, error)
}

// ResourceStore persists the generic lifecycle projection of every resource
// kind.
type ResourceStore interface {
	GetResource(ctx context.Context, ref resource.Ref) (*resource.Resource, error)
	ListResources(ctx context.Context, kind resource.Kind, tenantID string) ([]resource.Resource, error)
	ListChildren(ctx context.Context, parent resource.Ref) ([]resource.Resource, error)
	CreateResource(ctx context.Context, r *resource.Resource) error
	UpdateResource(ctx context.Context, r *resource.Resource) error
	DeleteResource(ctx context.Context, ref resource.Ref) error
}
