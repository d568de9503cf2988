package diagnostics

import "strings"

const detailIndent = "  "

// Render builds the aggregated user-facing report for a failed resolution.
// Only Error diagnostics are included; each becomes one paragraph.
//
//	Unable to resolve dependencies for <moniker>:
//
//	<failure>
//
//	<failure>
func Render(moniker string, diags []Diagnostic) string {
	var paragraphs []string
	for _, d := range diags {
		if d.Severity < Error {
			continue
		}
		paragraphs = append(paragraphs, RenderOne(d))
	}
	return "Unable to resolve dependencies for " + moniker + ":\n\n" + strings.Join(paragraphs, "\n\n")
}

// RenderOne renders a single diagnostic with its detail lines indented
// below the message.
func RenderOne(d Diagnostic) string {
	var b strings.Builder
	b.WriteString(d.Message)
	for _, line := range d.Detail {
		for _, sub := range strings.Split(line, "\n") {
			b.WriteString("\n")
			b.WriteString(detailIndent)
			b.WriteString(sub)
		}
	}
	if len(d.Chain) > 1 {
		b.WriteString("\n")
		b.WriteString(detailIndent)
		b.WriteString("required by ")
		b.WriteString(strings.Join(d.Chain[:len(d.Chain)-1], " -> "))
	}
	return b.String()
}

// ReportError is the error returned to callers of a failed resolution.
type ReportError struct {
	Moniker     string
	Diagnostics []Diagnostic
}

func (e *ReportError) Error() string {
	if e == nil {
		return ""
	}
	return Render(e.Moniker, e.Diagnostics)
}
