package lattice

import (
	"context"
	"sort"
)

// Extension provides ordered hooks into a run's lifecycle: construction,
// errors, cleanup failures, and the run's start/end/panic boundaries. It is
// the teacher's Extension interface, generalized from "flow" to "run".
type Extension interface {
	Name() string
	Order() int

	Init(rc *RunContext) error

	// Wrap intercepts a single node construction.
	Wrap(ctx context.Context, next func() (any, error), op *Operation) (any, error)

	// OnError observes a construction failure after Wrap has returned it.
	OnError(err error, op *Operation)

	// OnCleanupError handles a cleanup failure. Returns true if handled,
	// false to fall through to the next extension (or be dropped).
	OnCleanupError(err *CleanupError) bool

	OnRunStart(rc *RunContext) error
	OnRunEnd(rc *RunContext, result any, err error) error
	OnRunPanic(rc *RunContext, recovered any, stack []byte) error

	Dispose(rc *RunContext) error
}

// CleanupError contains information about a cleanup failure.
type CleanupError struct {
	Err     error
	Context string
}

func (e *CleanupError) Error() string { return e.Err.Error() }
func (e *CleanupError) Unwrap() error { return e.Err }

// BaseExtension provides no-op defaults for every Extension method; embed
// it and override only the hooks an extension cares about.
type BaseExtension struct {
	name string
}

// NewBaseExtension creates a base extension carrying name.
func NewBaseExtension(name string) BaseExtension { return BaseExtension{name: name} }

func (e *BaseExtension) Name() string  { return e.name }
func (e *BaseExtension) Order() int    { return 100 }
func (e *BaseExtension) Init(rc *RunContext) error { return nil }
func (e *BaseExtension) Wrap(ctx context.Context, next func() (any, error), op *Operation) (any, error) {
	return next()
}
func (e *BaseExtension) OnError(err error, op *Operation)          {}
func (e *BaseExtension) OnCleanupError(err *CleanupError) bool     { return false }
func (e *BaseExtension) OnRunStart(rc *RunContext) error           { return nil }
func (e *BaseExtension) OnRunEnd(rc *RunContext, result any, err error) error { return nil }
func (e *BaseExtension) OnRunPanic(rc *RunContext, recovered any, stack []byte) error {
	return nil
}
func (e *BaseExtension) Dispose(rc *RunContext) error { return nil }

// Operation describes what operation is happening.
type Operation struct {
	Kind OperationKind
	Node AnyNode
}

// OperationKind represents the type of operation an Extension is wrapping.
type OperationKind string

const (
	// OpResolve indicates a node construction.
	OpResolve OperationKind = "resolve"
)

func sortExtensions(exts []Extension) {
	sort.SliceStable(exts, func(i, j int) bool { return exts[i].Order() < exts[j].Order() })
}
