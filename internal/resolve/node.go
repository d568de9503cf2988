package resolve

import (
	"fmt"

	"depweaver/internal/coordinate"
	"depweaver/internal/diagnostics"
)

// Kind discriminates the nodes of a resolved graph.
type Kind int

const (
	// KindRoot is the synthetic node holding the requested coordinates.
	KindRoot Kind = iota
	// KindMaven is a library contributing files.
	KindMaven
	// KindBOM is a pom-packaged coordinate or a Gradle platform; it shapes
	// versions and dependencies but has no files of its own.
	KindBOM
)

func (k Kind) String() string {
	switch k {
	case KindRoot:
		return "root"
	case KindMaven:
		return "maven"
	case KindBOM:
		return "bom"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Edge is one declared dependency: the version asked for, and the node the
// key resolved to.
type Edge struct {
	// Declared is the coordinate as written by the depending node.
	Declared coordinate.Coordinate
	Exported bool
	Target   *Node
}

// Overridden reports whether conflict resolution replaced the declared
// version.
func (e Edge) Overridden() bool {
	return e.Target != nil && e.Declared.Version != e.Target.Resolved
}

// Node is one library in the resolved graph. Nodes are shared by every edge
// declaring the same group:artifact; they are immutable once Resolve returns.
type Node struct {
	id   uint32
	Kind Kind
	// Coordinate is the first declared coordinate that reached this key.
	Coordinate coordinate.Coordinate
	// Resolved is the version chosen by conflict resolution.
	Resolved string
	// Overridden is true when Resolved differs from a declared version of
	// any incoming edge.
	Overridden bool
	// Visible is true when some path from the roots is exported on every
	// edge.
	Visible bool
	// Owner is the repository that served the metadata.
	Owner    string
	Children []Edge
	Files    []string
	// Sources holds the sources jar when it was requested and found.
	Sources  []string
	Messages []diagnostics.Diagnostic
	// Failed nodes contribute no files.
	Failed bool

	fileRefs []fileRef
}

// ResolvedCoordinate is the coordinate at its resolved version.
func (n *Node) ResolvedCoordinate() coordinate.Coordinate {
	return n.Coordinate.WithVersion(n.Resolved)
}

// Key is group:artifact.
func (n *Node) Key() string { return n.Coordinate.Key() }

func (n *Node) String() string {
	switch n.Kind {
	case KindRoot:
		return "root"
	case KindMaven, KindBOM:
		return n.ResolvedCoordinate().String()
	default:
		return n.Coordinate.String()
	}
}
