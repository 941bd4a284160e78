// Package agent implements the node agent connector over NATS request-reply.
// Each call is bounded by a deadline and guarded by a per-host circuit
// breaker; an unreachable host surfaces as HostUnreachableError and never
// rolls back the control-plane mutation that triggered the call.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"golang.org/x/sync/semaphore"

	"github.com/hostwarden/hostwarden/internal/domain"
	"github.com/hostwarden/hostwarden/internal/port/nodeagent"
	"github.com/hostwarden/hostwarden/internal/resilience"
)

// Requester is the transport slice of the NATS connection the connector
// needs. Narrowed to an interface so tests can stand in for the wire.
type Requester interface {
	Request(ctx context.Context, subject string, data []byte) ([]byte, error)
}

// Connector issues provisioning calls to node agents on managed hosts.
type Connector struct {
	req     Requester
	timeout time.Duration
	sem     *semaphore.Weighted

	mu          sync.Mutex
	breakers    map[string]*resilience.Breaker
	maxFailures int
	breakAfter  time.Duration

	onCall        func(host, op string) // metrics hooks, may be nil
	onUnreachable func(host string)
}

// Options configures the connector.
type Options struct {
	Timeout        time.Duration // per-call deadline
	MaxConcurrent  int64         // simultaneous in-flight agent calls
	MaxFailures    int           // breaker threshold per host
	BreakerTimeout time.Duration // breaker open duration
}

// New creates a Connector over the given transport.
func New(req Requester, opts Options) *Connector {
	return &Connector{
		req:         req,
		timeout:     opts.Timeout,
		sem:         semaphore.NewWeighted(opts.MaxConcurrent),
		breakers:    make(map[string]*resilience.Breaker),
		maxFailures: opts.MaxFailures,
		breakAfter:  opts.BreakerTimeout,
	}
}

// OnCall installs a hook invoked once per agent invocation.
func (c *Connector) OnCall(fn func(host, op string)) { c.onCall = fn }

// OnUnreachable installs a hook invoked once per unreachable-host failure.
func (c *Connector) OnUnreachable(fn func(host string)) { c.onUnreachable = fn }

type request struct {
	Op     string         `json:"op"`
	Params map[string]any `json:"params,omitempty"`
}

// Invoke sends one operation to the agent on hostID and waits for its reply.
func (c *Connector) Invoke(ctx context.Context, hostID, op string, params map[string]any) (*nodeagent.Result, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("agent invoke %s/%s: %w", hostID, op, err)
	}
	defer c.sem.Release(1)

	payload, err := json.Marshal(request{Op: op, Params: params})
	if err != nil {
		return nil, fmt.Errorf("agent invoke %s/%s: %w", hostID, op, err)
	}
	if c.onCall != nil {
		c.onCall(hostID, op)
	}

	var reply []byte
	callErr := c.breaker(hostID).Execute(func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		var reqErr error
		reply, reqErr = c.req.Request(callCtx, "agents."+hostID+"."+op, payload)
		return reqErr
	})
	if callErr != nil {
		if unreachable(callErr) {
			if c.onUnreachable != nil {
				c.onUnreachable(hostID)
			}
			slog.Warn("node agent unreachable", "host", hostID, "op", op, "error", callErr)
			return nil, &domain.HostUnreachableError{HostID: hostID, Err: callErr}
		}
		return nil, fmt.Errorf("agent invoke %s/%s: %w", hostID, op, callErr)
	}

	var res nodeagent.Result
	if err := json.Unmarshal(reply, &res); err != nil {
		return nil, fmt.Errorf("agent reply %s/%s: %w", hostID, op, err)
	}
	return &res, nil
}

// breaker returns the circuit breaker for the given host, creating it on
// first use.
func (c *Connector) breaker(hostID string) *resilience.Breaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.breakers[hostID]
	if !ok {
		b = resilience.NewBreaker(c.maxFailures, c.breakAfter)
		c.breakers[hostID] = b
	}
	return b
}

// unreachable classifies transport failures that mean the host did not
// answer, as opposed to an agent-side error reply.
func unreachable(err error) bool {
	return errors.Is(err, nats.ErrNoResponders) ||
		errors.Is(err, nats.ErrTimeout) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, resilience.ErrCircuitOpen)
}
