package resolve

import (
	"github.com/RoaringBitmap/roaring"

	"depweaver/internal/coordinate"
	"depweaver/internal/diagnostics"
	"depweaver/internal/repository"
)

// graph is one build pass. Nodes are created in discovery order, which is
// also their canonical order; node ids index nodes.
type graph struct {
	root  *Node
	nodes []*Node
	byKey map[string]*Node

	// declared collects every version asked for per key, in edge order.
	declared map[string][]string
	// discoveredBy is the parent through which a node was first reached.
	discoveredBy map[uint32]*Node
	// repos is the repository order used to fetch each node.
	repos map[uint32][]repository.Repository

	diags *diagnostics.Collector
}

func newGraph() *graph {
	root := &Node{id: 0, Kind: KindRoot}
	return &graph{
		root:         root,
		nodes:        []*Node{root},
		byKey:        make(map[string]*Node),
		declared:     make(map[string][]string),
		discoveredBy: make(map[uint32]*Node),
		repos:        make(map[uint32][]repository.Repository),
		diags:        diagnostics.NewCollector(),
	}
}

// node returns the node for c's key, creating it at the version chosen by
// earlier passes, or at c's version on first sight.
func (g *graph) node(c coordinate.Coordinate, resolved map[string]string) (*Node, bool) {
	key := c.Key()
	g.declared[key] = append(g.declared[key], c.Version)
	if n, ok := g.byKey[key]; ok {
		return n, false
	}
	version := c.Version
	if v, ok := resolved[key]; ok {
		version = v
	}
	n := &Node{id: uint32(len(g.nodes)), Kind: KindMaven, Coordinate: c, Resolved: version}
	g.nodes = append(g.nodes, n)
	g.byKey[key] = n
	return n, true
}

// pathTo returns the nodes from `from` to `to` following edges, or nil if
// `to` is unreachable.
func (g *graph) pathTo(from, to *Node) []*Node {
	visited := roaring.New()
	prev := make(map[uint32]*Node)
	queue := []*Node{from}
	visited.Add(from.id)
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if n == to {
			var path []*Node
			for cur := n; cur != nil; cur = prev[cur.id] {
				path = append([]*Node{cur}, path...)
				if cur == from {
					break
				}
			}
			return path
		}
		for _, e := range n.Children {
			if visited.CheckedAdd(e.Target.id) {
				prev[e.Target.id] = n
				queue = append(queue, e.Target)
			}
		}
	}
	return nil
}

// chain is the discovery path from a root to n, root first.
func (g *graph) chain(n *Node) []string {
	var out []string
	for cur := n; cur != nil && cur.Kind != KindRoot; cur = g.discoveredBy[cur.id] {
		out = append([]string{cur.ResolvedCoordinate().String()}, out...)
	}
	return out
}

// record attaches d to n and to the pass diagnostics.
func (g *graph) record(n *Node, d diagnostics.Diagnostic) {
	d.Chain = g.chain(n)
	n.Messages = append(n.Messages, d)
	g.diags.Add(d)
}
