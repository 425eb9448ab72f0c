package lattice

import (
	"reflect"
	"sort"
)

// Plan is a pre-analyzed, immutable description built from a root Node: the
// transitive set of Node types reachable by following declared concrete
// dependencies, topologically ordered, with a level annotation per node
// (nodes at the same level are independent and may run concurrently). A
// Plan may be built once (via Graph) and reused across many Runs.
type Plan struct {
	root     AnyNode
	rootType reflect.Type
	nodes    []AnyNode
	levels   [][]AnyNode
	levelOf  map[reflect.Type]int
	byType   map[reflect.Type]AnyNode
	deps     *dependencyGraph
}

// Graph builds a Plan from a root Node. Protocol dependencies are not
// traversed at plan time — they are resolved at run time from injections. A
// cycle among concrete dependencies is a fatal plan error.
func Graph[T any](root *Node[T]) (*Plan, error) {
	deps := newDependencyGraph()
	byType := map[reflect.Type]AnyNode{}
	visiting := map[reflect.Type]bool{}
	visited := map[reflect.Type]bool{}
	var stackNames []string
	var order []AnyNode
	var cycleErr *CycleError

	var visit func(n AnyNode)
	visit = func(n AnyNode) {
		if cycleErr != nil {
			return
		}
		t := n.nodeType()
		if visiting[t] {
			cycle := append(append([]string{}, stackNames...), n.name())
			// trim the cycle down to start at the repeated node
			for i, nm := range cycle {
				if nm == n.name() && i != len(cycle)-1 {
					cycle = cycle[i:]
					break
				}
			}
			cycleErr = &CycleError{Cycle: cycle}
			return
		}
		if visited[t] {
			return
		}
		visiting[t] = true
		stackNames = append(stackNames, n.name())
		byType[t] = n

		for _, d := range n.dependencies() {
			if d.kind != depConcrete {
				continue
			}
			deps.addEdge(t, d.node.nodeType())
			visit(d.node)
			if cycleErr != nil {
				return
			}
		}

		stackNames = stackNames[:len(stackNames)-1]
		visiting[t] = false
		visited[t] = true
		order = append(order, n)
	}

	visit(root)
	if cycleErr != nil {
		return nil, cycleErr
	}

	levelOf := map[reflect.Type]int{}
	var levelFn func(n AnyNode) int
	levelFn = func(n AnyNode) int {
		t := n.nodeType()
		if lv, ok := levelOf[t]; ok {
			return lv
		}
		max := -1
		for _, d := range n.dependencies() {
			if d.kind != depConcrete {
				continue
			}
			if lv := levelFn(byType[d.node.nodeType()]); lv > max {
				max = lv
			}
		}
		lv := max + 1
		levelOf[t] = lv
		return lv
	}
	for _, n := range order {
		levelFn(n)
	}

	// Stable sort by level, preserving the DFS post-order (which already
	// places every dependency before its dependents) within each level.
	sort.SliceStable(order, func(i, j int) bool {
		return levelOf[order[i].nodeType()] < levelOf[order[j].nodeType()]
	})

	levels := groupByLevel(order, levelOf)

	return &Plan{
		root:     root,
		rootType: root.nodeType(),
		nodes:    order,
		levels:   levels,
		levelOf:  levelOf,
		byType:   byType,
		deps:     deps,
	}, nil
}

func groupByLevel(order []AnyNode, levelOf map[reflect.Type]int) [][]AnyNode {
	if len(order) == 0 {
		return nil
	}
	var levels [][]AnyNode
	current := -1
	for _, n := range order {
		lv := levelOf[n.nodeType()]
		if lv != current {
			levels = append(levels, nil)
			current = lv
		}
		levels[len(levels)-1] = append(levels[len(levels)-1], n)
	}
	return levels
}

// Run builds an empty Run Context bound to this Plan, ready for injection
// chaining (Inject/InjectAs/Given) before Execute.
func (p *Plan) Run() *RunContext {
	return newRunContext(p)
}

// dependentNames returns the names of every node transitively downstream of
// t, i.e. every node that a failed construction of t would leave unresolved
// for the rest of the run.
func (p *Plan) dependentNames(t reflect.Type) []string {
	types := p.deps.findDependents(t)
	names := make([]string, 0, len(types))
	for _, dt := range types {
		if n, ok := p.byType[dt]; ok {
			names = append(names, n.name())
		}
	}
	return names
}

// GraphStats is a static inspection of a Plan, grounded on the original
// implementation's analyze() pass over the computation graph.
type GraphStats struct {
	NodeCount      int
	EdgeCount      int
	MaxDepth       int
	ParallelGroups int
	ProtocolCount  int
	CachedNodes    int
}

// Stats computes GraphStats without running the Plan. CachedNodes is 0,
// since there is no Run Context to have already resolved anything; use
// StatsFor to count nodes a given Run Context has pre-injected or already
// memoized.
func (p *Plan) Stats() GraphStats {
	return p.statsWithContext(nil)
}

// StatsFor computes GraphStats scoped to rc: CachedNodes counts the Plan's
// nodes that rc has already resolved, via Inject/Given bindings or
// values memoized from an earlier partial Execute, grounded on the original
// implementation's analyze()'s cached_nodes count.
func (p *Plan) StatsFor(rc *RunContext) GraphStats {
	return p.statsWithContext(rc)
}

func (p *Plan) statsWithContext(rc *RunContext) GraphStats {
	stats := GraphStats{
		NodeCount:      len(p.nodes),
		ParallelGroups: len(p.levels),
	}
	protoSeen := map[string]bool{}
	for _, n := range p.nodes {
		for _, d := range n.dependencies() {
			stats.EdgeCount++
			if d.kind == depProtocol && !protoSeen[d.protoName] {
				protoSeen[d.protoName] = true
				stats.ProtocolCount++
			}
		}
		if lv := p.levelOf[n.nodeType()]; lv > stats.MaxDepth {
			stats.MaxDepth = lv
		}
		if rc != nil {
			if _, ok := rc.memo.Load(n.nodeType()); ok {
				stats.CachedNodes++
			} else if _, ok := rc.injected.Load(n.nodeType()); ok {
				stats.CachedNodes++
			}
		}
	}
	return stats
}
