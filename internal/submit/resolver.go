package submit

import (
	"context"
	"fmt"

	"fleur-q/internal/logging"
	"fleur-q/internal/node"
)

// Resolver resolves refs against an engine once each. Asking for the same
// ref again returns the same handle without another lookup.
type Resolver struct {
	engine Engine
	cache  map[node.Ref]*node.Node
}

func NewResolver(engine Engine) *Resolver {
	return &Resolver{engine: engine, cache: make(map[node.Ref]*node.Node)}
}

// Resolve returns the node behind ref. A ref that names nothing is an error,
// never a nil node.
func (r *Resolver) Resolve(ctx context.Context, ref node.Ref) (*node.Node, error) {
	if n, ok := r.cache[ref]; ok {
		return n, nil
	}
	n, err := r.engine.LoadNode(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", ref, err)
	}
	if n == nil {
		return nil, fmt.Errorf("resolve %s: %w", ref, node.ErrNotFound)
	}
	logging.FromContext(ctx).Debug("resolved node", "ref", ref.String(), "pk", n.PK, "type", n.Type)
	r.cache[ref] = n
	return n, nil
}

// ResolveAll resolves refs in order and stops at the first failure.
func (r *Resolver) ResolveAll(ctx context.Context, refs []node.Ref) ([]*node.Node, error) {
	out := make([]*node.Node, 0, len(refs))
	for _, ref := range refs {
		n, err := r.Resolve(ctx, ref)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}
