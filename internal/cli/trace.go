package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"depweaver/internal/incremental"
	"depweaver/internal/resolve"
	"depweaver/internal/trace"
)

// recordResolution turns a resolved graph into trace events.
func recordResolution(sink trace.Sink, res *resolve.Result) {
	for _, n := range res.Nodes() {
		subject := n.ResolvedCoordinate().String()
		switch n.Kind {
		case resolve.KindMaven, resolve.KindBOM:
			if n.Failed {
				trace.SafeRecord(sink, trace.Event{Kind: trace.EventNodeFailed, Subject: subject})
				continue
			}
			names := make([]string, len(n.Files))
			for i, f := range n.Files {
				names[i] = filepath.Base(f)
			}
			trace.SafeRecord(sink, trace.Event{Kind: trace.EventNodeResolved, Subject: subject, Reason: n.Kind.String(), Artifacts: names})
			if n.Overridden {
				trace.SafeRecord(sink, trace.Event{Kind: trace.EventVersionOverridden, Subject: subject, Reason: "resolved " + n.Resolved})
			}
		case resolve.KindRoot:
		}
	}
	for _, d := range res.Diagnostics {
		subject := d.Subject
		if subject == "" {
			subject = "-"
		}
		trace.SafeRecord(sink, trace.Event{Kind: trace.EventDiagnostic, Subject: subject, Reason: d.ID, Cause: d.Severity.String()})
	}
}

func recordExecution(sink trace.Sink, id string, res *incremental.Result) {
	if res.UpToDate {
		trace.SafeRecord(sink, trace.Event{Kind: trace.EventExecutionCached, Subject: id})
		return
	}
	var changed []string
	for _, c := range res.Changes {
		changed = append(changed, strings.ToLower(string(c.Type))+":"+filepath.Base(c.Path))
	}
	trace.SafeRecord(sink, trace.Event{Kind: trace.EventExecutionComputed, Subject: id, Reason: res.Reason, Artifacts: changed})
}

// writeTrace writes the canonical trace followed by a newline.
func writeTrace(path string, rec *trace.Recorder, resultHash string) error {
	b, err := rec.Trace(resultHash).CanonicalJSON()
	if err != nil {
		return fmt.Errorf("encode trace: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("write trace: %w", err)
	}
	if err := os.WriteFile(path, append(b, '\n'), 0o644); err != nil {
		return fmt.Errorf("write trace: %w", err)
	}
	return nil
}
