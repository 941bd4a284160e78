// Package nodeagent defines the port to the remote node agents that perform
// physical provisioning on managed hosts. The core calls Invoke only after
// authorization and lifecycle validation have passed, and treats an
// unreachable host as non-fatal: the control-plane mutation stands and the
// host converges later.
package nodeagent

import "context"

// Result is the node agent's reply to a provisioning call.
type Result struct {
	OK     bool           `json:"ok"`
	Detail string         `json:"detail,omitempty"`
	Output map[string]any `json:"output,omitempty"`
}

// Connector issues provisioning calls to a node agent. Implementations must
// bound every call with a deadline and return *domain.HostUnreachableError
// when the host cannot be reached; calls must be idempotent on the agent
// side so the reconciliation path can retry them.
type Connector interface {
	Invoke(ctx context.Context, hostID, op string, params map[string]any) (*Result, error)
}
