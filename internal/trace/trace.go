// Package trace records what a depweaver run decided, in a canonical form
// that is byte-for-byte stable for equal runs.
//
// A trace holds logical facts only: which coordinates resolved to what,
// which versions were overridden, which diagnostics were reported and
// whether a cached execution was reused. Timestamps, absolute paths and
// error texts are left out, so two runs against different cache roots
// produce the same bytes.
package trace

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// Trace is the canonical record of one run.
type Trace struct {
	// ResultHash identifies the resolved graph, or is empty when nothing
	// was resolved.
	ResultHash string
	Events     []Event
}

// EventKind discriminates events. The values are part of the canonical
// bytes; do not rename.
type EventKind string

const (
	EventExecutionCached   EventKind = "ExecutionCached"
	EventExecutionComputed EventKind = "ExecutionComputed"
	EventNodeResolved      EventKind = "NodeResolved"
	EventVersionOverridden EventKind = "VersionOverridden"
	EventNodeFailed        EventKind = "NodeFailed"
	EventDiagnostic        EventKind = "Diagnostic"
)

// Event is one logical fact.
type Event struct {
	Kind EventKind

	// Subject is the coordinate, execution id or path the event is about.
	Subject string

	// Reason is a stable reason: a diagnostic id, a rebuild reason or an
	// override such as "1.0 -> 2.0".
	Reason string

	// Cause is a related subject, for example the severity of a diagnostic.
	Cause string

	// Artifacts are file names, not paths.
	Artifacts []string
}

// Validate checks that every event has a kind and a subject.
func (t *Trace) Validate() error {
	if t == nil {
		return errors.New("trace is nil")
	}
	for i, e := range t.Events {
		if e.Kind == "" {
			return fmt.Errorf("events[%d].kind is required", i)
		}
		if e.Subject == "" {
			return fmt.Errorf("events[%d].subject is required for kind %q", i, e.Kind)
		}
		for j, a := range e.Artifacts {
			if a == "" {
				return fmt.Errorf("events[%d].artifacts[%d] is empty", i, j)
			}
		}
	}
	return nil
}

// Canonicalize sorts artifacts and orders events by
// (subject, kind, reason, cause, artifacts).
func (t *Trace) Canonicalize() {
	if t == nil {
		return
	}
	for i := range t.Events {
		if len(t.Events[i].Artifacts) == 0 {
			t.Events[i].Artifacts = nil
			continue
		}
		art := make([]string, len(t.Events[i].Artifacts))
		copy(art, t.Events[i].Artifacts)
		sort.Strings(art)
		t.Events[i].Artifacts = art
	}

	sort.SliceStable(t.Events, func(i, j int) bool {
		a := t.Events[i]
		b := t.Events[j]
		if a.Subject != b.Subject {
			return a.Subject < b.Subject
		}
		if kindOrder(a.Kind) != kindOrder(b.Kind) {
			return kindOrder(a.Kind) < kindOrder(b.Kind)
		}
		if a.Reason != b.Reason {
			return a.Reason < b.Reason
		}
		if a.Cause != b.Cause {
			return a.Cause < b.Cause
		}
		return compareStringSlices(a.Artifacts, b.Artifacts)
	})
}

func kindOrder(k EventKind) int {
	switch k {
	case EventExecutionCached:
		return 10
	case EventExecutionComputed:
		return 20
	case EventNodeResolved:
		return 30
	case EventVersionOverridden:
		return 40
	case EventNodeFailed:
		return 50
	case EventDiagnostic:
		return 60
	default:
		return 1000
	}
}

func compareStringSlices(a, b []string) bool {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// CanonicalJSON encodes a canonicalized copy of the trace.
func (t Trace) CanonicalJSON() ([]byte, error) {
	cp := Trace{ResultHash: t.ResultHash, Events: make([]Event, len(t.Events))}
	copy(cp.Events, t.Events)
	cp.Canonicalize()
	if err := cp.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(&cp)
}

// Hash is the sha256 of CanonicalJSON.
func (t Trace) Hash() (string, error) {
	b, err := t.CanonicalJSON()
	if err != nil {
		return "", err
	}
	return ComputeTraceHash(b), nil
}

// MarshalJSON fixes the field order. It does not sort; use CanonicalJSON
// for the canonical bytes.
func (t Trace) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	if t.ResultHash != "" {
		writeField(&buf, "resultHash", t.ResultHash)
		buf.WriteByte(',')
	}
	buf.WriteString(`"events":[`)
	for i := range t.Events {
		if i > 0 {
			buf.WriteByte(',')
		}
		eb, err := json.Marshal(t.Events[i])
		if err != nil {
			return nil, err
		}
		buf.Write(eb)
	}
	buf.WriteString("]}")
	return buf.Bytes(), nil
}

// MarshalJSON writes kind first and omits empty optional fields.
func (e Event) MarshalJSON() ([]byte, error) {
	if e.Kind == "" {
		return nil, errors.New("kind is required")
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	writeField(&buf, "kind", string(e.Kind))
	for _, f := range [...]struct{ name, value string }{
		{"subject", e.Subject},
		{"reason", e.Reason},
		{"cause", e.Cause},
	} {
		if f.value != "" {
			buf.WriteByte(',')
			writeField(&buf, f.name, f.value)
		}
	}
	if len(e.Artifacts) > 0 {
		artifacts := make([]string, len(e.Artifacts))
		copy(artifacts, e.Artifacts)
		sort.Strings(artifacts)
		ab, err := json.Marshal(artifacts)
		if err != nil {
			return nil, err
		}
		buf.WriteString(`,"artifacts":`)
		buf.Write(ab)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeField(buf *bytes.Buffer, name, value string) {
	vb, _ := json.Marshal(value)
	buf.WriteByte('"')
	buf.WriteString(name)
	buf.WriteString(`":`)
	buf.Write(vb)
}
