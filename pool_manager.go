package lattice

import (
	"context"
	"sync"
)

// PoolManager pools the ConstructCtx values a run allocates one per node.
// Adapted from the teacher's PoolManager, trimmed to the one object kind
// this module still allocates per-node (ExecutionCtx pooling, and the
// separate cleanup-slice pool the teacher kept alongside it, are gone: a
// pooled ConstructCtx already carries its own reused cleanups slice, so a
// second pool handing out standalone slices had no caller that needed one
// independently of a ConstructCtx).
type PoolManager struct {
	constructCtxPool sync.Pool
}

// NewPoolManager creates a new pool manager with an initialized pool.
func NewPoolManager() *PoolManager {
	return &PoolManager{
		constructCtxPool: sync.Pool{
			New: func() any {
				return &ConstructCtx{cleanups: make([]cleanupEntry, 0, 8)}
			},
		},
	}
}

// AcquireConstructCtx gets a ConstructCtx from the pool or creates a new one.
func (pm *PoolManager) AcquireConstructCtx(rc *RunContext, ctx context.Context, node AnyNode) *ConstructCtx {
	cctx, ok := pm.constructCtxPool.Get().(*ConstructCtx)
	if !ok {
		cctx = &ConstructCtx{cleanups: make([]cleanupEntry, 0, 8)}
	}
	cctx.rc = rc
	cctx.ctx = ctx
	cctx.node = node
	cctx.cleanups = cctx.cleanups[:0]
	return cctx
}

// ReleaseConstructCtx returns a ConstructCtx to the pool.
func (pm *PoolManager) ReleaseConstructCtx(cctx *ConstructCtx) {
	if cctx == nil {
		return
	}
	cctx.rc = nil
	cctx.ctx = nil
	cctx.node = nil
	cctx.cleanups = cctx.cleanups[:0]
	pm.constructCtxPool.Put(cctx)
}

var globalPoolManager = NewPoolManager()
