// Package invalidation defines the broadcast unit that keeps per-session
// derived-state caches coherent after a committed mutation. One message set
// is produced per committed batch; delivery is at-least-once and consumption
// is idempotent.
package invalidation

// Message describes which cached facts, for which tenants and hosts, are now
// stale. Empty TenantIDs with AllTenants set means the blast radius could not
// be cheaply bounded and every tenant-scoped entry for the table is stale;
// likewise for hosts.
type Message struct {
	Table       string   `json:"table"`
	TenantIDs   []string `json:"tenant_ids,omitempty"`
	AllTenants  bool     `json:"all_tenants,omitempty"`
	HostIDs     []string `json:"host_ids,omitempty"`
	AllHosts    bool     `json:"all_hosts,omitempty"`
	ForceResync bool     `json:"force_resync,omitempty"`
}

// Tenants builds a tenant-scoped message for one table.
func Tenants(table string, tenantIDs ...string) Message {
	return Message{Table: table, TenantIDs: tenantIDs}
}

// Everything builds the unbounded message for one table.
func Everything(table string) Message {
	return Message{Table: table, AllTenants: true, AllHosts: true}
}

// TouchesTenant reports whether the message's tenant scope covers the given
// tenant id.
func (m *Message) TouchesTenant(id string) bool {
	if m.AllTenants {
		return true
	}
	for _, t := range m.TenantIDs {
		if t == id {
			return true
		}
	}
	return false
}

// TouchesHost reports whether the message's host scope covers the given
// host id.
func (m *Message) TouchesHost(id string) bool {
	if m.AllHosts {
		return true
	}
	for _, h := range m.HostIDs {
		if h == id {
			return true
		}
	}
	return false
}

// Merge folds two message sets, combining messages for the same table so one
// committed batch emits at most one message per table. Over-reporting is safe;
// merge only widens scope.
func Merge(msgs []Message) []Message {
	byTable := make(map[string]*Message, len(msgs))
	var order []string
	for i := range msgs {
		m := msgs[i]
		cur, ok := byTable[m.Table]
		if !ok {
			cp := m
			byTable[m.Table] = &cp
			order = append(order, m.Table)
			continue
		}
		cur.ForceResync = cur.ForceResync || m.ForceResync
		if cur.AllTenants || m.AllTenants {
			cur.AllTenants = true
			cur.TenantIDs = nil
		} else {
			cur.TenantIDs = appendUnique(cur.TenantIDs, m.TenantIDs)
		}
		if cur.AllHosts || m.AllHosts {
			cur.AllHosts = true
			cur.HostIDs = nil
		} else {
			cur.HostIDs = appendUnique(cur.HostIDs, m.HostIDs)
		}
	}
	out := make([]Message, 0, len(order))
	for _, table := range order {
		out = append(out, *byTable[table])
	}
	return out
}

func appendUnique(dst, src []string) []string {
	seen := make(map[string]struct{}, len(dst))
	for _, s := range dst {
		seen[s] = struct{}{}
	}
	for _, s := range src {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			dst = append(dst, s)
		}
	}
	return dst
}
