// Package diagnostics collects problems found during dependency resolution
// and renders them for users.
//
// Resolution never stops at the first problem. Every component records what
// went wrong in a Collector and carries on; the caller decides at the end
// whether the call failed (at least one Error) and gets a single aggregated
// report naming every failing coordinate.
package diagnostics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Severity orders diagnostics. Only Error fails a resolution.
type Severity int

const (
	Info Severity = iota
	Warning
	Error
)

func (s Severity) String() string {
	switch s {
	case Info:
		return "info"
	case Warning:
		return "warning"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// MarshalText renders the severity by name in JSON reports.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Well-known diagnostic ids.
const (
	IDCoordinateSyntax      = "coordinate-syntax"
	IDCoordinateShorthand   = "coordinate-shorthand"
	IDUnresolved            = "unresolved"
	IDChecksumMismatch      = "checksum-mismatch"
	IDVariantMissing        = "variant-missing"
	IDCycle                 = "cycle"
	IDMetadataInvalid       = "metadata-invalid"
	IDVersionMissing        = "version-missing"
	IDInsecureRepository    = "insecure-repository"
	IDUnsupportedRepository = "unsupported-repository"
	IDTooManyAncestors      = "too-many-ancestors"
	IDMultipleVariants      = "multiple-variants"
	IDConflict              = "version-conflict"
	IDSourcesUnavailable    = "sources-unavailable"
)

// Range is a half-open byte range into the diagnostic's subject.
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Diagnostic is one recorded problem.
type Diagnostic struct {
	ID       string   `json:"id"`
	Severity Severity `json:"severity"`
	// Subject is the literal coordinate, path or URL the problem is about.
	Subject string `json:"subject"`
	Message string `json:"message"`
	// Detail holds follow-up lines, such as one line per repository tried.
	Detail []string `json:"detail,omitempty"`
	// Chain is the dependency path from a root to Subject, root first.
	Chain  []string `json:"chain,omitempty"`
	Ranges []Range  `json:"ranges,omitempty"`
}

// Collector accumulates diagnostics. It is safe for concurrent use.
type Collector struct {
	mu    sync.Mutex
	diags []Diagnostic
	seen  map[string]bool
}

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	return &Collector{seen: make(map[string]bool)}
}

// Add records d. Exact duplicates, which happen when a shared node is
// reported from several paths, are kept once.
func (c *Collector) Add(d Diagnostic) {
	key := d.ID + "\x00" + d.Subject + "\x00" + d.Message + "\x00" + strings.Join(d.Detail, "\x00")
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seen == nil {
		c.seen = make(map[string]bool)
	}
	if c.seen[key] {
		return
	}
	c.seen[key] = true
	c.diags = append(c.diags, d)
}

func (c *Collector) Errorf(id, subject, format string, args ...any) {
	c.Add(Diagnostic{ID: id, Severity: Error, Subject: subject, Message: fmt.Sprintf(format, args...)})
}

func (c *Collector) Warnf(id, subject, format string, args ...any) {
	c.Add(Diagnostic{ID: id, Severity: Warning, Subject: subject, Message: fmt.Sprintf(format, args...)})
}

func (c *Collector) Infof(id, subject, format string, args ...any) {
	c.Add(Diagnostic{ID: id, Severity: Info, Subject: subject, Message: fmt.Sprintf(format, args...)})
}

// All returns every diagnostic in a deterministic order: by subject, then
// id, then message. Concurrent recording therefore does not change output.
func (c *Collector) All() []Diagnostic {
	c.mu.Lock()
	out := make([]Diagnostic, len(c.diags))
	copy(out, c.diags)
	c.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Subject != b.Subject {
			return a.Subject < b.Subject
		}
		if a.ID != b.ID {
			return a.ID < b.ID
		}
		return a.Message < b.Message
	})
	return out
}

func (c *Collector) Errors() []Diagnostic {
	return filter(c.All(), Error)
}

func (c *Collector) Warnings() []Diagnostic {
	return filter(c.All(), Warning)
}

// Failed reports whether at least one Error was recorded.
func (c *Collector) Failed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range c.diags {
		if d.Severity >= Error {
			return true
		}
	}
	return false
}

func filter(diags []Diagnostic, severity Severity) []Diagnostic {
	var out []Diagnostic
	for _, d := range diags {
		if d.Severity == severity {
			out = append(out, d)
		}
	}
	return out
}
