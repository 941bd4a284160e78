package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hostwarden/hostwarden/internal/domain"
	"github.com/hostwarden/hostwarden/internal/domain/host"
	"github.com/hostwarden/hostwarden/internal/domain/invalidation"
	"github.com/hostwarden/hostwarden/internal/domain/principal"
	"github.com/hostwarden/hostwarden/internal/port/database"
	"github.com/hostwarden/hostwarden/internal/port/nodeagent"
)

// HostService manages physical hosts and tenant-host grants. Grant changes
// reshape host-scoped operators' accessible sets, so every mutation here
// invalidates the grants table.
type HostService struct {
	store database.Store
	gate  *Gate
	bcast *Broadcaster
	agent nodeagent.Connector
}

// NewHostService creates the host service.
func NewHostService(store database.Store, gate *Gate, bcast *Broadcaster, agent nodeagent.Connector) *HostService {
	return &HostService{store: store, gate: gate, bcast: bcast, agent: agent}
}

// List returns every host. Operators only.
func (s *HostService) List(ctx context.Context, actor *principal.Principal) ([]host.Host, error) {
	if !actor.IsOperator() {
		return nil, s.gate.deny(ctx, actor, "hosts", "list hosts", "operator required")
	}
	hosts, err := s.store.ListHosts(ctx)
	if err != nil {
		return nil, err
	}
	if actor.GlobalOperator() {
		return hosts, nil
	}
	mine := make(map[string]bool, len(actor.Operator.Hosts))
	for _, id := range actor.Operator.Hosts {
		mine[id] = true
	}
	out := hosts[:0]
	for _, h := range hosts {
		if mine[h.ID] {
			out = append(out, h)
		}
	}
	return out, nil
}

// Create registers a host. Global operators only.
func (s *HostService) Create(ctx context.Context, actor *principal.Principal, req host.CreateRequest) (*host.Host, error) {
	if !actor.GlobalOperator() {
		return nil, s.gate.deny(ctx, actor, req.ID, "create host", "global operator required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	h := &host.Host{ID: req.ID, Hostname: req.Hostname, Enabled: true, CreatedAt: now, UpdatedAt: now}
	if err := s.store.CreateHost(ctx, h); err != nil {
		return nil, err
	}
	slog.Info("host created", "host", h.ID, "by", actor.ID)
	s.bcast.Publish(ctx, invalidation.Everything(invalidation.TableHosts))
	return h, nil
}

// Grant binds a tenant to a host, making the tenant visible to the host's
// scoped operators and allowing its resources to be placed there.
func (s *HostService) Grant(ctx context.Context, actor *principal.Principal, tenantID, hostID string) error {
	if !actor.GlobalOperator() {
		return s.gate.deny(ctx, actor, hostID, "grant host", "global operator required")
	}
	if _, err := s.store.GetHost(ctx, hostID); err != nil {
		return err
	}
	if _, err := s.store.GetTenant(ctx, tenantID); err != nil {
		return err
	}
	if err := s.store.CreateGrant(ctx, &host.Grant{TenantID: tenantID, HostID: hostID}); err != nil {
		return err
	}
	slog.Info("host granted", "host", hostID, "tenant", tenantID, "by", actor.ID)
	s.invalidateGrant(ctx, tenantID, hostID)
	return nil
}

// Revoke removes a tenant-host grant.
func (s *HostService) Revoke(ctx context.Context, actor *principal.Principal, tenantID, hostID string) error {
	if !actor.GlobalOperator() {
		return s.gate.deny(ctx, actor, hostID, "revoke host", "global operator required")
	}
	if err := s.store.DeleteGrant(ctx, tenantID, hostID); err != nil {
		return err
	}
	slog.Info("host revoked", "host", hostID, "tenant", tenantID, "by", actor.ID)
	s.invalidateGrant(ctx, tenantID, hostID)
	return nil
}

func (s *HostService) invalidateGrant(ctx context.Context, tenantID, hostID string) {
	msg := invalidation.Tenants(invalidation.TableGrants, tenantID)
	msg.HostIDs = []string{hostID}
	s.bcast.Publish(ctx, msg)
}

// Ping probes a host's node agent. A HostUnreachableError surfaces as
// ok=false rather than an error: an offline host is an answer, not a fault.
func (s *HostService) Ping(ctx context.Context, actor *principal.Principal, hostID string) (*nodeagent.Result, error) {
	if !actor.IsOperator() {
		return nil, s.gate.deny(ctx, actor, hostID, "ping host", "operator required")
	}
	res, err := s.agent.Invoke(ctx, hostID, "ping", nil)
	var unreachable *domain.HostUnreachableError
	if errors.As(err, &unreachable) {
		return &nodeagent.Result{OK: false, Detail: unreachable.Error()}, nil
	}
	return res, err
}
