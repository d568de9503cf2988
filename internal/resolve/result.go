package resolve

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"

	"github.com/RoaringBitmap/roaring"

	"depweaver/internal/diagnostics"
)

// Result is an immutable resolved graph.
type Result struct {
	Context     Context
	Root        *Node
	Diagnostics []diagnostics.Diagnostic

	// order is the flattened node order, one node per group:artifact.
	order []*Node
}

func newResult(rctx Context, g *graph, diags []diagnostics.Diagnostic) *Result {
	return &Result{
		Context:     rctx,
		Root:        g.root,
		Diagnostics: diags,
		order:       flatten(g.root),
	}
}

// flatten orders nodes layer by layer. The first layer is the roots; each
// following layer holds the children of the previous one in parent order.
// Within a layer exported edges come before non-exported ones, and a node
// keeps the first position it is reached at.
func flatten(root *Node) []*Node {
	seen := roaring.New()
	seen.Add(root.id)
	var order []*Node
	layer := root.Children
	for len(layer) > 0 {
		sorted := make([]Edge, len(layer))
		copy(sorted, layer)
		sort.SliceStable(sorted, func(i, j int) bool {
			return sorted[i].Exported && !sorted[j].Exported
		})
		var next []Edge
		for _, e := range sorted {
			if !seen.CheckedAdd(e.Target.id) {
				continue
			}
			order = append(order, e.Target)
			next = append(next, e.Target.Children...)
		}
		layer = next
	}
	return order
}

// Nodes returns the library nodes in flatten order.
func (r *Result) Nodes() []*Node {
	out := make([]*Node, len(r.order))
	copy(out, r.order)
	return out
}

// Files returns the absolute paths of every resolved file in flatten order.
// Failed nodes are skipped.
func (r *Result) Files() []string {
	var out []string
	for _, n := range r.order {
		switch n.Kind {
		case KindMaven:
			if !n.Failed {
				out = append(out, n.Files...)
			}
		case KindBOM, KindRoot:
		}
	}
	return out
}

// SourceFiles returns the downloaded sources jars in flatten order.
func (r *Result) SourceFiles() []string {
	var out []string
	for _, n := range r.order {
		switch n.Kind {
		case KindMaven:
			if !n.Failed {
				out = append(out, n.Sources...)
			}
		case KindBOM, KindRoot:
		}
	}
	return out
}

// Exported returns the nodes visible to consumers of the roots: those
// reachable over exported edges only.
func (r *Result) Exported() []*Node {
	var out []*Node
	for _, n := range r.order {
		if n.Visible {
			out = append(out, n)
		}
	}
	return out
}

// Failed reports whether any error diagnostic was recorded.
func (r *Result) Failed() bool {
	for _, d := range r.Diagnostics {
		if d.Severity >= diagnostics.Error {
			return true
		}
	}
	return false
}

// Err returns the aggregated report for a failed resolution, or nil.
func (r *Result) Err(moniker string) error {
	if !r.Failed() {
		return nil
	}
	var errs []diagnostics.Diagnostic
	for _, d := range r.Diagnostics {
		if d.Severity >= diagnostics.Error {
			errs = append(errs, d)
		}
	}
	return &diagnostics.ReportError{Moniker: moniker, Diagnostics: errs}
}

const (
	branchMid  = "├─── "
	branchLast = "╰─── "
	indentBar  = "│    "
	indentNone = "     "
)

// Tree renders the graph in the style of Gradle's dependency report.
// Overridden versions show as "g:a:1.0 -> 2.0" and subtrees already printed
// are marked with (*).
func (r *Result) Tree() string {
	var b strings.Builder
	writeTree(&b, r.Root.String(), r.Root, func(n *Node) []Edge { return n.Children }, nil, roaring.New())
	return b.String()
}

func writeTree(b *strings.Builder, label string, n *Node, children func(*Node) []Edge, segments []string, visited *roaring.Bitmap) {
	edges := children(n)
	for _, s := range segments {
		b.WriteString(s)
	}
	b.WriteString(label)
	seen := !visited.CheckedAdd(n.id)
	if seen && len(edges) > 0 {
		b.WriteString(" (*)")
	}
	b.WriteByte('\n')
	if seen || len(edges) == 0 {
		return
	}

	base := make([]string, len(segments))
	copy(base, segments)
	if last := len(base) - 1; last >= 0 {
		if base[last] == branchMid {
			base[last] = indentBar
		} else {
			base[last] = indentNone
		}
	}
	for i, e := range edges {
		seg := branchLast
		if i < len(edges)-1 {
			seg = branchMid
		}
		writeTree(b, edgeLabel(e), e.Target, children, append(base[:len(base):len(base)], seg), visited)
	}
}

// Why renders the paths from the roots to the library group:artifact, in the
// format of Tree. Branches that do not lead to it are left out and its own
// dependencies are not shown. It reports false when the key is not in the
// graph.
//
// When some edge asks for the resolved version, only paths through such
// edges are shown; otherwise every path is, each ending in "-> version".
func (r *Result) Why(key string) (string, bool) {
	var target *Node
	for _, n := range r.order {
		if n.Key() == key {
			target = n
			break
		}
	}
	if target == nil {
		return "", false
	}

	nodes := append([]*Node{r.Root}, r.order...)
	direct := false
	for _, n := range nodes {
		for _, e := range n.Children {
			if e.Target == target && !e.Overridden() {
				direct = true
			}
		}
	}
	decisive := func(e Edge) bool {
		return !direct || e.Target != target || !e.Overridden()
	}

	// leads marks nodes from which target is reachable over decisive edges.
	leads := roaring.New()
	leads.Add(target.id)
	for changed := true; changed; {
		changed = false
		for _, n := range nodes {
			if leads.Contains(n.id) {
				continue
			}
			for _, e := range n.Children {
				if decisive(e) && leads.Contains(e.Target.id) {
					leads.Add(n.id)
					changed = true
					break
				}
			}
		}
	}

	children := func(n *Node) []Edge {
		if n == target {
			return nil
		}
		var out []Edge
		for _, e := range n.Children {
			if decisive(e) && leads.Contains(e.Target.id) {
				out = append(out, e)
			}
		}
		return out
	}
	var b strings.Builder
	writeTree(&b, r.Root.String(), r.Root, children, nil, roaring.New())
	return b.String(), true
}

func edgeLabel(e Edge) string {
	if e.Overridden() {
		return e.Declared.String() + " -> " + e.Target.Resolved
	}
	return e.Declared.String()
}

// Hash is a stable identity of the resolved graph: the flatten order, each
// node's resolved coordinate, flags and edges. It does not cover file paths,
// so the same graph hashes equally under different cache roots.
func (r *Result) Hash() string {
	h := sha256.New()
	writeField := func(s string) {
		var length [8]byte
		binary.BigEndian.PutUint64(length[:], uint64(len(s)))
		h.Write(length[:])
		h.Write([]byte(s))
	}
	writeField(r.Context.Scope.String())
	writeField(r.Context.Platform.String())
	for _, n := range r.order {
		writeField(n.Kind.String())
		writeField(n.ResolvedCoordinate().String())
		writeField(flags(n))
		for _, e := range n.Children {
			writeField(e.Declared.String())
			writeField(e.Target.Key())
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

func flags(n *Node) string {
	var b strings.Builder
	for _, f := range []bool{n.Visible, n.Overridden, n.Failed} {
		if f {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}
	return b.String()
}

type reportEdge struct {
	Declared string `json:"declared"`
	Resolved string `json:"resolved"`
	Exported bool   `json:"exported"`
}

type reportNode struct {
	Coordinate   string       `json:"coordinate"`
	Kind         Kind         `json:"kind"`
	Visible      bool         `json:"visible"`
	Overridden   bool         `json:"overridden,omitempty"`
	Failed       bool         `json:"failed,omitempty"`
	Owner        string       `json:"repository,omitempty"`
	Files        []string     `json:"files,omitempty"`
	Sources      []string     `json:"sources,omitempty"`
	Dependencies []reportEdge `json:"dependencies,omitempty"`
}

type report struct {
	Hash         string                   `json:"hash"`
	Scope        Scope                    `json:"scope"`
	Platform     Platform                 `json:"platform"`
	Repositories []string                 `json:"repositories"`
	Roots        []reportEdge             `json:"roots"`
	Nodes        []reportNode             `json:"nodes"`
	Diagnostics  []diagnostics.Diagnostic `json:"diagnostics"`
}

func reportEdges(edges []Edge) []reportEdge {
	if len(edges) == 0 {
		return nil
	}
	out := make([]reportEdge, len(edges))
	for i, e := range edges {
		out[i] = reportEdge{
			Declared: e.Declared.String(),
			Resolved: e.Target.ResolvedCoordinate().String(),
			Exported: e.Exported,
		}
	}
	return out
}

// Report encodes the graph as indented JSON. Nodes appear in flatten order
// and diagnostics in their sorted order, so equal graphs encode to equal
// bytes.
func (r *Result) Report() ([]byte, error) {
	rep := report{
		Hash:         r.Hash(),
		Scope:        r.Context.Scope,
		Platform:     r.Context.Platform,
		Repositories: make([]string, 0, len(r.Context.Repositories)),
		Roots:        reportEdges(r.Root.Children),
		Nodes:        make([]reportNode, 0, len(r.order)),
		Diagnostics:  r.Diagnostics,
	}
	for _, repo := range r.Context.Repositories {
		rep.Repositories = append(rep.Repositories, repo.URL)
	}
	for _, n := range r.order {
		rep.Nodes = append(rep.Nodes, reportNode{
			Coordinate:   n.ResolvedCoordinate().String(),
			Kind:         n.Kind,
			Visible:      n.Visible,
			Overridden:   n.Overridden,
			Failed:       n.Failed,
			Owner:        n.Owner,
			Files:        n.Files,
			Sources:      n.Sources,
			Dependencies: reportEdges(n.Children),
		})
	}
	if rep.Diagnostics == nil {
		rep.Diagnostics = []diagnostics.Diagnostic{}
	}
	return json.MarshalIndent(rep, "", "  ")
}
