package lattice

import (
	"context"
	"fmt"
	"reflect"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// RunContext is per-invocation state: pre-injected values (by Node type),
// protocol bindings (by protocol identity), a memoization table (Node type
// -> computed value), and the extensions active for this run. It generalizes
// the teacher's Scope, dropping the reactive-update machinery (Update,
// ReactiveGraph-driven invalidation) that Scope used for long-lived,
// mutable state — a Run Context here is single-shot and dropped after one
// Execute, per the specification's Non-goal of durable/cross-run state.
type RunContext struct {
	plan       *Plan
	memo       sync.Map // reflect.Type -> any
	injected   sync.Map // reflect.Type -> any
	protocols  sync.Map // string -> any
	tags       sync.Map // any -> any
	extensions []Extension
	trace      *RunTrace
	idCounter  atomic.Uint64

	cleanupMu sync.Mutex
	cleanups  []cleanupEntry
}

func newRunContext(plan *Plan) *RunContext {
	return &RunContext{plan: plan, trace: newRunTrace(256)}
}

// RunOption configures a RunContext at construction.
type RunOption func(*RunContext)

// WithExtensions attaches extensions to the run, sorted by Order().
func WithExtensions(exts ...Extension) RunOption {
	return func(rc *RunContext) {
		rc.extensions = append(rc.extensions, exts...)
		sortExtensions(rc.extensions)
	}
}

// Configure applies RunOptions to an existing RunContext, returning it for
// chaining alongside Inject/InjectAs/Given.
func (rc *RunContext) Configure(opts ...RunOption) *RunContext {
	for _, opt := range opts {
		opt(rc)
	}
	return rc
}

// Inject binds instance's Node type to instance, short-circuiting
// construction for any node declared with that exact value type.
func Inject[T any](rc *RunContext, instance T) *RunContext {
	rc.injected.Store(typeOf[T](), instance)
	return rc
}

// InjectAs binds a protocol to a concrete object satisfying it.
func InjectAs[T any](rc *RunContext, p Protocol[T], instance T) *RunContext {
	rc.protocols.Store(p.Name(), instance)
	return rc
}

// Given is a convenience alias for Inject, for binding a primary input.
func Given[T any](rc *RunContext, instance T) *RunContext {
	return Inject(rc, instance)
}

// GetTag retrieves a run-scoped tag value set via SetTag.
func (rc *RunContext) GetTag(key any) (any, bool) {
	return rc.tags.Load(key)
}

// SetTag sets a run-scoped tag value.
func (rc *RunContext) SetTag(key, value any) {
	rc.tags.Store(key, value)
}

// Trace returns the bounded execution trace recorded for this run.
func (rc *RunContext) Trace() *RunTrace { return rc.trace }

// Plan returns the Plan this RunContext executes, for extensions that want
// to render it (e.g. on error).
func (rc *RunContext) Plan() *Plan { return rc.plan }

func (rc *RunContext) valueOf(t reflect.Type) (any, error) {
	if v, ok := rc.memo.Load(t); ok {
		return v, nil
	}
	return nil, fmt.Errorf("internal error: node %v has no memoized value (plan/level ordering violated)", t)
}

func (rc *RunContext) protocolValue(nodeName, protocolName string) (any, error) {
	v, ok := rc.protocols.Load(protocolName)
	if !ok {
		return nil, &UnboundProtocolError{Protocol: protocolName, Node: nodeName}
	}
	return v, nil
}

// Execute runs the bound Plan to completion: nodes are processed level by
// level, all nodes within a level launched concurrently. The first failure
// in a level cancels its siblings and prevents further levels from
// starting. Returns the root node's computed value.
func (rc *RunContext) Execute(ctx context.Context) (any, error) {
	for _, ext := range rc.extensions {
		if err := ext.Init(rc); err != nil {
			return nil, err
		}
	}
	for _, ext := range rc.extensions {
		if err := ext.OnRunStart(rc); err != nil {
			return nil, err
		}
	}

	result, err := rc.executeLevels(ctx)

	for _, ext := range rc.extensions {
		if hookErr := ext.OnRunEnd(rc, result, err); hookErr != nil && err == nil {
			err = hookErr
		}
	}
	return result, err
}

func (rc *RunContext) executeLevels(ctx context.Context) (any, error) {
	for _, level := range rc.plan.levels {
		g, gctx := errgroup.WithContext(ctx)
		for _, n := range level {
			n := n
			t := n.nodeType()
			if _, already := rc.memo.Load(t); already {
				continue
			}
			if v, ok := rc.injected.Load(t); ok {
				rc.memo.Store(t, v)
				continue
			}
			g.Go(func() error {
				return rc.constructOne(gctx, n)
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	rootVal, ok := rc.memo.Load(rc.plan.rootType)
	if !ok {
		return nil, fmt.Errorf("internal error: root node %v never constructed", rc.plan.rootType)
	}
	return rootVal, nil
}

func (rc *RunContext) constructOne(ctx context.Context, n AnyNode) (err error) {
	cctx := globalPoolManager.AcquireConstructCtx(rc, ctx, n)
	op := &Operation{Kind: OpResolve, Node: n}

	start := rc.trace.begin(n.name())
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			for _, ext := range rc.extensions {
				_ = ext.OnRunPanic(rc, r, stack)
			}
			err = newResolveError(n.name(), fmt.Errorf("panic: %v", r), "construction")
		}
		rc.trace.end(start, err)
		rc.registerCleanups(cctx)
		globalPoolManager.ReleaseConstructCtx(cctx)
	}()

	value, buildErr := rc.wrapped(ctx, op, func() (any, error) {
		return n.buildAny(cctx)
	})
	if buildErr != nil {
		for _, ext := range rc.extensions {
			ext.OnError(buildErr, op)
		}
		return &NodeConstructionError{Node: n.name(), Cause: buildErr, Dependents: rc.plan.dependentNames(n.nodeType())}
	}
	rc.memo.Store(n.nodeType(), value)
	return nil
}

func (rc *RunContext) wrapped(ctx context.Context, op *Operation, next func() (any, error)) (any, error) {
	fn := next
	for i := len(rc.extensions) - 1; i >= 0; i-- {
		ext := rc.extensions[i]
		inner := fn
		fn = func() (any, error) { return ext.Wrap(ctx, inner, op) }
	}
	return fn()
}

func (rc *RunContext) registerCleanups(cctx *ConstructCtx) {
	cctx.cleanupMu.Lock()
	defer cctx.cleanupMu.Unlock()
	if len(cctx.cleanups) == 0 {
		return
	}
	rc.cleanupMu.Lock()
	defer rc.cleanupMu.Unlock()
	rc.cleanups = append(rc.cleanups, cctx.cleanups...)
}

// Dispose runs every registered cleanup in reverse registration order,
// reporting failures to extensions via OnCleanupError, then calls each
// extension's Dispose hook.
func (rc *RunContext) Dispose() error {
	rc.runCleanups()
	for _, ext := range rc.extensions {
		if err := ext.Dispose(rc); err != nil {
			return err
		}
	}
	return nil
}

func (rc *RunContext) runCleanups() {
	rc.cleanupMu.Lock()
	cleanups := rc.cleanups
	rc.cleanups = nil
	rc.cleanupMu.Unlock()

	for i := len(cleanups) - 1; i >= 0; i-- {
		if err := cleanups[i].fn(); err != nil {
			cerr := &CleanupError{Err: err, Context: "dispose"}
			for _, ext := range rc.extensions {
				if ext.OnCleanupError(cerr) {
					break
				}
			}
		}
	}
}

func (rc *RunContext) nextID() uint64 { return rc.idCounter.Add(1) }

// Execute runs plan and type-asserts the root node's value to T.
func Execute[T any](ctx context.Context, rc *RunContext) (T, error) {
	v, err := rc.Execute(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("root node value is %T, want %T", v, zero)
	}
	return typed, nil
}
