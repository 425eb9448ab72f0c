package lattice

import "context"

// Controller is a typed accessor into a RunContext's memoized value for one
// Node, grounded on the teacher's Controller[T] — trimmed to the read-only
// subset that fits a single-shot Run Context (no Update/Set, since a Node's
// memoized value does not change within a run).
type Controller[T any] struct {
	node *Node[T]
	rc   *RunContext
}

// Accessor returns a Controller bound to node within rc.
func Accessor[T any](rc *RunContext, node *Node[T]) *Controller[T] {
	return &Controller[T]{node: node, rc: rc}
}

// Get resolves node's value, constructing node itself on demand if it has
// not already been computed in this run. Dependencies are not constructed:
// each concrete dependency of node must already be memoized in the run,
// otherwise Get returns an error.
func (c *Controller[T]) Get(ctx context.Context) (T, error) {
	var zero T
	if v, ok := c.rc.memo.Load(c.node.nodeType()); ok {
		typed, ok := v.(T)
		if !ok {
			return zero, &ResolveError{Node: c.node.name(), Cause: errTypeMismatch(v, zero)}
		}
		return typed, nil
	}
	if err := c.rc.constructOne(ctx, c.node); err != nil {
		return zero, err
	}
	v, _ := c.rc.memo.Load(c.node.nodeType())
	typed, ok := v.(T)
	if !ok {
		return zero, &ResolveError{Node: c.node.name(), Cause: errTypeMismatch(v, zero)}
	}
	return typed, nil
}

// Peek retrieves the cached value without constructing it.
func (c *Controller[T]) Peek() (T, bool) {
	v, ok := c.rc.memo.Load(c.node.nodeType())
	if !ok {
		var zero T
		return zero, false
	}
	typed, ok := v.(T)
	return typed, ok
}

// IsCached reports whether node's value has already been computed in rc.
func (c *Controller[T]) IsCached() bool {
	_, ok := c.rc.memo.Load(c.node.nodeType())
	return ok
}

func errTypeMismatch(got, want any) error {
	return &typeMismatchError{got: got, want: want}
}

type typeMismatchError struct {
	got, want any
}

func (e *typeMismatchError) Error() string {
	return "memoized value type mismatch"
}
