package lattice

import (
	"fmt"
	"strings"

	"github.com/m1gwings/treedrawer/tree"
)

// ToMermaid renders the Plan as a Mermaid `graph TD` diagram, grounded on
// the original implementation's to_mermaid(): one `src --> dst` line per
// concrete dependency edge, traversed from the root.
func (p *Plan) ToMermaid() string {
	var b strings.Builder
	b.WriteString("graph TD\n")
	visited := map[string]bool{}
	var walk func(n AnyNode)
	walk = func(n AnyNode) {
		if visited[n.name()] {
			return
		}
		visited[n.name()] = true
		for _, d := range n.dependencies() {
			if d.kind != depConcrete {
				continue
			}
			fmt.Fprintf(&b, "  %s --> %s\n", n.name(), d.node.name())
			walk(d.node)
		}
	}
	walk(p.root)
	return b.String()
}

// ToText renders each node and its direct dependencies on one line,
// grounded on the original implementation's visualize(style="text").
func (p *Plan) ToText() string {
	var b strings.Builder
	visited := map[string]bool{}
	var walk func(n AnyNode)
	walk = func(n AnyNode) {
		if visited[n.name()] {
			return
		}
		visited[n.name()] = true
		var names []string
		for _, d := range n.dependencies() {
			if d.kind == depConcrete {
				names = append(names, d.node.name())
			} else {
				names = append(names, "protocol:"+d.protoName)
			}
		}
		if len(names) > 0 {
			fmt.Fprintf(&b, "%s <- %s\n", n.name(), strings.Join(names, ", "))
		} else {
			fmt.Fprintf(&b, "%s (leaf)\n", n.name())
		}
		for _, d := range n.dependencies() {
			if d.kind == depConcrete {
				walk(d.node)
			}
		}
	}
	walk(p.root)
	return b.String()
}

// ToTree renders the Plan as an ASCII tree via treedrawer, replacing the
// hand-rolled recursive printer applications were previously left to write
// for themselves against the teacher's raw ExecutionTree.
func (p *Plan) ToTree() string {
	root := tree.NewTree(tree.NodeString(p.root.name()))
	visited := map[string]bool{p.root.name(): true}
	var walk func(n AnyNode, t *tree.Tree)
	walk = func(n AnyNode, t *tree.Tree) {
		for _, d := range n.dependencies() {
			if d.kind != depConcrete {
				continue
			}
			label := d.node.name()
			if visited[label] {
				continue
			}
			visited[label] = true
			child := t.AddChild(tree.NodeString(label))
			walk(d.node, child)
		}
	}
	walk(p.root, root)
	return root.String()
}
