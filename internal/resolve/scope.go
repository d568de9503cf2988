package resolve

import (
	"fmt"
	"strings"

	"depweaver/internal/metadata"
)

// Scope is the classpath being resolved.
type Scope int

const (
	Compile Scope = iota
	Runtime
	Test
)

func (s Scope) String() string {
	switch s {
	case Compile:
		return "compile"
	case Runtime:
		return "runtime"
	case Test:
		return "test"
	default:
		return fmt.Sprintf("scope(%d)", int(s))
	}
}

// MarshalText renders the scope by name in reports.
func (s Scope) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ParseScope accepts compile, runtime and test, case-insensitively.
func ParseScope(s string) (Scope, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "compile", "":
		return Compile, nil
	case "runtime":
		return Runtime, nil
	case "test":
		return Test, nil
	default:
		return 0, invalidf("unknown scope %q (want compile, runtime or test)", s)
	}
}

func (s Scope) valid() bool {
	return s >= Compile && s <= Test
}

// includes reports whether a root declared for scope s belongs to the
// requested classpath. Compile roots are everywhere, runtime roots are on
// the runtime and test classpaths, test roots only on the test classpath.
func (s Scope) includes(requested Scope) bool {
	switch s {
	case Compile:
		return true
	case Runtime:
		return requested == Runtime || requested == Test
	case Test:
		return requested == Test
	default:
		return false
	}
}

// pomEdge decides whether a POM dependency with the given <scope> is
// followed when resolving requested, and whether the edge re-exports.
func pomEdge(scope string, requested Scope) (follow, exported bool) {
	switch strings.ToLower(scope) {
	case "", "compile":
		return true, true
	case "runtime":
		return requested == Runtime || requested == Test, false
	default:
		// test, provided, system and import are never transitive.
		return false, false
	}
}

// matchesUsage reports whether a Gradle variant serves the scope.
func (s Scope) matchesUsage(v metadata.Variant) bool {
	usage := v.Attribute(metadata.AttrUsage)
	switch s {
	case Compile:
		return strings.HasSuffix(usage, "-api")
	case Runtime, Test:
		return strings.HasSuffix(usage, "-runtime")
	default:
		return false
	}
}

// fallback is the scope whose variants are used when none serve s. Native
// libraries, for example, publish api variants only.
func (s Scope) fallback() (Scope, bool) {
	switch s {
	case Compile:
		return Runtime, true
	case Runtime, Test:
		return Compile, true
	default:
		return 0, false
	}
}
