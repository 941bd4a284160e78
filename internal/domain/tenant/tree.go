package tenant

import (
	"fmt"

	"github.com/hostwarden/hostwarden/internal/domain"
)

// Tree is an immutable snapshot of the tenant ownership graph, built from a
// full tenant listing. It carries the traversal logic only; persistence and
// caching live elsewhere.
type Tree struct {
	nodes    map[string]*Tenant
	maxDepth int
}

// NewTree builds a Tree from a tenant listing. maxDepth bounds every parent
// chain, root included; chains that fail to terminate at the root within the
// bound are rejected rather than walked.
func NewTree(tenants []Tenant, maxDepth int) *Tree {
	nodes := make(map[string]*Tenant, len(tenants))
	for i := range tenants {
		nodes[tenants[i].ID] = &tenants[i]
	}
	return &Tree{nodes: nodes, maxDepth: maxDepth}
}

// Get returns the tenant with the given id.
func (tr *Tree) Get(id string) (*Tenant, bool) {
	t, ok := tr.nodes[id]
	return t, ok
}

// Len returns the number of tenants in the snapshot.
func (tr *Tree) Len() int { return len(tr.nodes) }

// Depth returns the 1-based depth of the tenant: the root has depth 1.
func (tr *Tree) Depth(id string) (int, error) {
	chain, err := tr.Ancestry(id)
	if err != nil {
		return 0, err
	}
	return len(chain), nil
}

// Ancestry returns the parent chain from the tenant itself up to and
// including the root. It fails with ErrValidation if the chain exceeds the
// depth bound or does not terminate at the root.
func (tr *Tree) Ancestry(id string) ([]string, error) {
	chain := make([]string, 0, 4)
	cur := id
	for range tr.maxDepth {
		t, ok := tr.nodes[cur]
		if !ok {
			return nil, fmt.Errorf("ancestry of %s: tenant %s: %w", id, cur, domain.ErrNotFound)
		}
		chain = append(chain, cur)
		if t.ParentID == "" {
			if cur != RootID {
				return nil, fmt.Errorf("%w: parent chain of %s terminates at non-root %s", domain.ErrValidation, id, cur)
			}
			return chain, nil
		}
		cur = t.ParentID
	}
	return nil, fmt.Errorf("%w: parent chain of %s exceeds max depth %d", domain.ErrValidation, id, tr.maxDepth)
}

// IsAncestorOrSelf reports whether ancestor appears on target's parent chain,
// the target itself included.
func (tr *Tree) IsAncestorOrSelf(ancestor, target string) (bool, error) {
	chain, err := tr.Ancestry(target)
	if err != nil {
		return false, err
	}
	for _, id := range chain {
		if id == ancestor {
			return true, nil
		}
	}
	return false, nil
}

// Children returns the direct children of the given tenant.
func (tr *Tree) Children(id string) []string {
	var out []string
	for cid, t := range tr.nodes {
		if t.ParentID == id {
			out = append(out, cid)
		}
	}
	return out
}

// SubtreeOf collects the tenant and every descendant reachable from it.
func (tr *Tree) SubtreeOf(id string) map[string]struct{} {
	out := make(map[string]struct{})
	if _, ok := tr.nodes[id]; !ok {
		return out
	}
	// The tree is shallow (depth-bounded), so a scan per level is fine.
	out[id] = struct{}{}
	frontier := []string{id}
	for len(frontier) > 0 {
		var next []string
		for _, f := range frontier {
			for _, c := range tr.Children(f) {
				if _, seen := out[c]; !seen {
					out[c] = struct{}{}
					next = append(next, c)
				}
			}
		}
		frontier = next
	}
	return out
}

// ValidateNewChild checks that a child may be created under parent: the
// parent must exist, must not be suspended or canceled, and the child's
// depth must stay within the bound.
func (tr *Tree) ValidateNewChild(parentID string) error {
	p, ok := tr.nodes[parentID]
	if !ok {
		return fmt.Errorf("parent tenant %s: %w", parentID, domain.ErrNotFound)
	}
	if p.Suspended() || p.Canceled() {
		return fmt.Errorf("parent tenant %s is not active: %w", parentID, domain.ErrInvalidState)
	}
	depth, err := tr.Depth(parentID)
	if err != nil {
		return err
	}
	if depth+1 > tr.maxDepth {
		return fmt.Errorf("%w: child of %s would exceed max tenant depth %d", domain.ErrValidation, parentID, tr.maxDepth)
	}
	return nil
}
