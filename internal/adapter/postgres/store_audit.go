package postgres

import (
	"context"
	"fmt"

	"github.com/hostwarden/hostwarden/internal/port/audit"
)

// AuditSink implements audit.Sink on the audit_log table. It shares the
// store's pool but is a separate type so callers depend on the narrow port.
type AuditSink struct {
	store *Store
}

// NewAuditSink creates an audit sink over the given store.
func NewAuditSink(store *Store) *AuditSink {
	return &AuditSink{store: store}
}

// Append writes one audit entry. The write must succeed before an access
// denial is returned to the caller; failures propagate.
func (a *AuditSink) Append(ctx context.Context, e audit.Entry) error {
	_, err := a.store.pool.Exec(ctx,
		`INSERT INTO audit_log (principal_id, action, target_id, detail, at)
		 VALUES ($1, $2, $3, $4, $5)`,
		e.PrincipalID, e.Action, e.TargetID, e.Detail, e.At)
	if err != nil {
		return fmt.Errorf("audit append: %w", err)
	}
	return nil
}
