package lattice

import (
	"fmt"
	"reflect"
)

// AnyNode is the type-erased view of a Node[T], used internally wherever a
// node's value type doesn't need to be statically known (plan building,
// traversal, tracing).
type AnyNode interface {
	nodeType() reflect.Type
	name() string
	dependencies() []dependency
	buildAny(ctx *ConstructCtx) (any, error)

	// Name exposes the node's declared name to external packages (e.g.
	// extensions), which cannot call the unexported name() of a sealed
	// interface.
	Name() string
}

type depKind int

const (
	depConcrete depKind = iota
	depProtocol
)

type dependency struct {
	kind      depKind
	argName   string
	node      AnyNode // set when kind == depConcrete
	protoName string  // set when kind == depProtocol
	protoType reflect.Type
}

// Node is a declared unit of computation: a type identity (T), an ordered
// dependency signature, and a constructor. Within a single Plan resolution a
// Node type produces at most one value; the same *Node[T] may appear as a
// dependency of many others and is constructed once and shared.
type Node[T any] struct {
	id   reflect.Type
	nm   string
	deps []dependency
	ctor func(ctx *ConstructCtx) (T, error)
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

func (n *Node[T]) nodeType() reflect.Type     { return n.id }
func (n *Node[T]) name() string               { return n.nm }
func (n *Node[T]) dependencies() []dependency { return n.deps }

// Name returns the node's declared name.
func (n *Node[T]) Name() string { return n.nm }

func (n *Node[T]) buildAny(ctx *ConstructCtx) (any, error) {
	return n.ctor(ctx)
}

// DepRef declares one dependency slot of a node: either a concrete Node[D]
// or a Protocol[D] satisfied by run-time injection. It is the argument type
// accepted by NodeN.
type DepRef[D any] struct {
	node     *Node[D]
	protocol *Protocol[D]
}

// Concrete declares a dependency on another Node's output.
func Concrete[D any](dep *Node[D]) DepRef[D] {
	return DepRef[D]{node: dep}
}

// ViaProtocol declares a dependency satisfied by whatever instance is bound
// to p in the Run Context, rather than by another Node.
func ViaProtocol[D any](p Protocol[D]) DepRef[D] {
	return DepRef[D]{protocol: &p}
}

func (d DepRef[D]) describe(argName string) dependency {
	if d.node != nil {
		return dependency{kind: depConcrete, argName: argName, node: d.node}
	}
	return dependency{
		kind:      depProtocol,
		argName:   argName,
		protoName: d.protocol.Name(),
		protoType: typeOf[D](),
	}
}

func (d DepRef[D]) resolve(ctx *ConstructCtx) (D, error) {
	var zero D
	if d.node != nil {
		v, err := ctx.rc.valueOf(d.node.id)
		if err != nil {
			return zero, err
		}
		typed, ok := v.(D)
		if !ok {
			return zero, fmt.Errorf("node %q: dependency %q resolved to %T, want %T", ctx.node.name(), d.node.nm, v, zero)
		}
		return typed, nil
	}
	v, err := ctx.rc.protocolValue(ctx.node.name(), d.protocol.Name())
	if err != nil {
		return zero, err
	}
	typed, ok := v.(D)
	if !ok {
		return zero, fmt.Errorf("node %q: protocol %q bound to %T, want %T", ctx.node.name(), d.protocol.Name(), v, zero)
	}
	return typed, nil
}
