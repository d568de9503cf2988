// Package coordinate parses and validates Maven-style library coordinates.
//
// A coordinate has the form group:artifact:version[:classifier]. Every part
// is later used as an on-disk directory or file name segment, so the model
// rejects anything that would not round-trip through a filesystem path.
package coordinate

import (
	"fmt"
	"path"
	"strings"
)

// Coordinate identifies a single library version.
type Coordinate struct {
	Group      string `json:"group"`
	Artifact   string `json:"artifact"`
	Version    string `json:"version"`
	Classifier string `json:"classifier,omitempty"`
}

// String renders the coordinate in group:artifact:version[:classifier] form.
func (c Coordinate) String() string {
	s := c.Group + ":" + c.Artifact + ":" + c.Version
	if c.Classifier != "" {
		s += ":" + c.Classifier
	}
	return s
}

// Key is the version-less identity used for conflict detection.
func (c Coordinate) Key() string {
	return c.Group + ":" + c.Artifact
}

// WithVersion returns a copy of c pointing at another version.
func (c Coordinate) WithVersion(v string) Coordinate {
	c.Version = v
	return c
}

// BaseName is the file name stem for the coordinate without extension.
func (c Coordinate) BaseName() string {
	name := c.Artifact + "-" + c.Version
	if c.Classifier != "" {
		name += "-" + c.Classifier
	}
	return name
}

// Dir is the slash-separated repository directory of the coordinate:
// group (with '.' replaced by '/'), artifact, version.
func (c Coordinate) Dir() string {
	return path.Join(strings.ReplaceAll(c.Group, ".", "/"), c.Artifact, c.Version)
}

// Path is the slash-separated repository-relative path of the file with the
// given extension, following the standard Maven layout.
func (c Coordinate) Path(ext string) string {
	return path.Join(c.Dir(), c.BaseName()+"."+ext)
}

// ShorthandClassifiers are classifier values that look like scope
// modifiers. They parse, but produce a warning.
var ShorthandClassifiers = map[string]string{
	"compile-only": "use the compile-only scope instead of a classifier",
	"runtime-only": "use the runtime-only scope instead of a classifier",
	"exported":     "use the exported flag instead of a classifier",
}

// Problem is a non-fatal finding produced while parsing.
type Problem struct {
	Input     string
	Message   string
	Positions []int
}

// Parse splits text on ':' and validates every part.
//
// Exactly 3 or 4 parts are accepted. The returned problems are warnings only;
// a non-nil error means the coordinate is unusable.
func Parse(text string) (Coordinate, []Problem, error) {
	parts := strings.Split(text, ":")
	if len(parts) < 3 || len(parts) > 4 {
		return Coordinate{}, nil, &SyntaxError{Input: text, Kind: ErrPartCount, Parts: len(parts)}
	}
	if err := checkCharacters(text, parts); err != nil {
		return Coordinate{}, nil, err
	}

	c := Coordinate{Group: parts[0], Artifact: parts[1], Version: parts[2]}
	if len(parts) == 4 {
		c.Classifier = parts[3]
	}

	var problems []Problem
	if hint, ok := ShorthandClassifiers[c.Classifier]; ok {
		start := len(text) - len(c.Classifier)
		problems = append(problems, Problem{
			Input:     text,
			Message:   fmt.Sprintf("classifier %q looks like a dependency modifier: %s", c.Classifier, hint),
			Positions: span(start, len(c.Classifier)),
		})
	}
	return c, problems, nil
}

// MustParse is Parse for literals known to be valid.
func MustParse(text string) Coordinate {
	c, _, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return c
}

// ValidateForStorage re-checks a coordinate that was not built by Parse.
func ValidateForStorage(c Coordinate) error {
	parts := []string{c.Group, c.Artifact, c.Version}
	if c.Classifier != "" {
		parts = append(parts, c.Classifier)
	}
	return checkCharacters(strings.Join(parts, ":"), parts)
}

// checkCharacters reports the first class of forbidden characters found,
// with the index of every occurrence of that class in text.
func checkCharacters(text string, parts []string) error {
	checks := []struct {
		kind error
		bad  func(r rune) bool
	}{
		{ErrLineBreak, func(r rune) bool { return r == '\n' || r == '\r' }},
		{ErrSpace, func(r rune) bool { return r == ' ' || r == '\t' }},
		{ErrPathSeparator, func(r rune) bool { return r == '/' || r == '\\' }},
	}
	for _, check := range checks {
		var positions []int
		for i, r := range text {
			if check.bad(r) {
				positions = append(positions, i)
			}
		}
		if len(positions) > 0 {
			return &SyntaxError{Input: text, Kind: check.kind, Positions: positions}
		}
	}

	var empty, dots []int
	offset := 0
	for _, p := range parts {
		switch {
		case p == "":
			empty = append(empty, offset)
		case strings.HasSuffix(p, "."):
			dots = append(dots, offset+len(p)-1)
		}
		offset += len(p) + 1
	}
	if len(empty) > 0 {
		return &SyntaxError{Input: text, Kind: ErrEmptyPart, Positions: empty}
	}
	if len(dots) > 0 {
		return &SyntaxError{Input: text, Kind: ErrTrailingDot, Positions: dots}
	}
	return nil
}

func span(start, n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = start + i
	}
	return out
}
