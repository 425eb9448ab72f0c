package lattice

// Protocol names a capability set an application may bind to any object
// providing those operations, without that object needing to be a
// registered Node. It plays the same role the teacher's Tag[T] plays for
// scope metadata, specialized to dependency injection: a Protocol is a
// type-safe key into a RunContext's protocol-binding table rather than its
// tag table.
type Protocol[T any] struct {
	name string
}

// NewProtocol declares a protocol identified by name. Two protocols with the
// same name and type are interchangeable. The binding table is keyed by name
// only, so binding accepts a name collision across different T; the mismatch
// surfaces when a node resolves the protocol and the bound value is not a T.
func NewProtocol[T any](name string) Protocol[T] {
	return Protocol[T]{name: name}
}

// Name returns the protocol's identity string.
func (p Protocol[T]) Name() string { return p.name }

type anyProtocol interface {
	protocolName() string
}

func (p Protocol[T]) protocolName() string { return p.name }
