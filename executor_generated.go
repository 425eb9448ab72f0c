package lattice

// Arity-specific node constructors, generalizing the same shape the teacher
// generated per dependency count: one typed wrapper per arity so a node's
// constructor receives its resolved dependencies as plain values instead of
// an untyped slice.

// Node0 declares a leaf node with no dependencies.
func Node0[T any](name string, ctor func(ctx *ConstructCtx) (T, error)) *Node[T] {
	return &Node[T]{id: typeOf[T](), nm: name, ctor: ctor}
}

// Node1 declares a node with one dependency, concrete or protocol-bound.
func Node1[D1, T any](name string, d1 DepRef[D1], ctor func(ctx *ConstructCtx, a1 D1) (T, error)) *Node[T] {
	n := &Node[T]{id: typeOf[T](), nm: name, deps: []dependency{d1.describe("arg0")}}
	n.ctor = func(ctx *ConstructCtx) (T, error) {
		var zero T
		v1, err := d1.resolve(ctx)
		if err != nil {
			return zero, err
		}
		return ctor(ctx, v1)
	}
	return n
}

// Node2 declares a node with two dependencies.
func Node2[D1, D2, T any](name string, d1 DepRef[D1], d2 DepRef[D2], ctor func(ctx *ConstructCtx, a1 D1, a2 D2) (T, error)) *Node[T] {
	n := &Node[T]{id: typeOf[T](), nm: name, deps: []dependency{d1.describe("arg0"), d2.describe("arg1")}}
	n.ctor = func(ctx *ConstructCtx) (T, error) {
		var zero T
		v1, err := d1.resolve(ctx)
		if err != nil {
			return zero, err
		}
		v2, err := d2.resolve(ctx)
		if err != nil {
			return zero, err
		}
		return ctor(ctx, v1, v2)
	}
	return n
}

// Node3 declares a node with three dependencies.
func Node3[D1, D2, D3, T any](name string, d1 DepRef[D1], d2 DepRef[D2], d3 DepRef[D3], ctor func(ctx *ConstructCtx, a1 D1, a2 D2, a3 D3) (T, error)) *Node[T] {
	n := &Node[T]{id: typeOf[T](), nm: name, deps: []dependency{d1.describe("arg0"), d2.describe("arg1"), d3.describe("arg2")}}
	n.ctor = func(ctx *ConstructCtx) (T, error) {
		var zero T
		v1, err := d1.resolve(ctx)
		if err != nil {
			return zero, err
		}
		v2, err := d2.resolve(ctx)
		if err != nil {
			return zero, err
		}
		v3, err := d3.resolve(ctx)
		if err != nil {
			return zero, err
		}
		return ctor(ctx, v1, v2, v3)
	}
	return n
}

// Node4 declares a node with four dependencies.
func Node4[D1, D2, D3, D4, T any](name string, d1 DepRef[D1], d2 DepRef[D2], d3 DepRef[D3], d4 DepRef[D4], ctor func(ctx *ConstructCtx, a1 D1, a2 D2, a3 D3, a4 D4) (T, error)) *Node[T] {
	n := &Node[T]{id: typeOf[T](), nm: name, deps: []dependency{d1.describe("arg0"), d2.describe("arg1"), d3.describe("arg2"), d4.describe("arg3")}}
	n.ctor = func(ctx *ConstructCtx) (T, error) {
		var zero T
		v1, err := d1.resolve(ctx)
		if err != nil {
			return zero, err
		}
		v2, err := d2.resolve(ctx)
		if err != nil {
			return zero, err
		}
		v3, err := d3.resolve(ctx)
		if err != nil {
			return zero, err
		}
		v4, err := d4.resolve(ctx)
		if err != nil {
			return zero, err
		}
		return ctor(ctx, v1, v2, v3, v4)
	}
	return n
}
