package lattice

import (
	"sync"
	"time"
)

// NodeRecord is one entry in a RunTrace: the lifetime of a single node
// construction within a run.
type NodeRecord struct {
	Name  string
	Start time.Time
	End   time.Time
	Err   error
}

// RunTrace is a bounded, append-only log of node constructions for one run,
// exposed through RunContext.Trace for observability. It
// replaces the teacher's ExecutionTree: that type tracked nested flow
// executions (a flow calling child flows via Exec1) with parent/child
// links and a Walk/Filter API; a Plan run has no nested flows, only a flat
// sequence of node constructions grouped by level, so the tree-walking
// surface doesn't apply here. What survives is ExecutionTree's bounded
// ring-buffer eviction: each RunContext gets its own trace, capped at 256
// records, with the oldest records evicted first.
type RunTrace struct {
	mu      sync.Mutex
	records []*NodeRecord
	limit   int
}

func newRunTrace(limit int) *RunTrace {
	return &RunTrace{limit: limit}
}

func (t *RunTrace) begin(name string) *NodeRecord {
	rec := &NodeRecord{Name: name, Start: time.Now()}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = append(t.records, rec)
	if t.limit > 0 && len(t.records) > t.limit {
		t.evictOldest()
	}
	return rec
}

func (t *RunTrace) end(rec *NodeRecord, err error) {
	rec.End = time.Now()
	rec.Err = err
}

func (t *RunTrace) evictOldest() {
	excess := len(t.records) - t.limit
	t.records = t.records[excess:]
}

// Records returns a snapshot of every recorded construction, oldest first.
func (t *RunTrace) Records() []NodeRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]NodeRecord, len(t.records))
	for i, r := range t.records {
		out[i] = *r
	}
	return out
}
