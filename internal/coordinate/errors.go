package coordinate

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

var (
	ErrPartCount     = errors.New("wrong number of parts")
	ErrLineBreak     = errors.New("line break")
	ErrSpace         = errors.New("space")
	ErrPathSeparator = errors.New("path separator")
	ErrTrailingDot   = errors.New("part ends with '.'")
	ErrEmptyPart     = errors.New("empty part")
)

// SyntaxError describes a coordinate that cannot be used. Positions are byte
// offsets into Input.
type SyntaxError struct {
	Input     string
	Kind      error
	Parts     int
	Positions []int
}

func (e *SyntaxError) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case errors.Is(e.Kind, ErrPartCount):
		return fmt.Sprintf("invalid coordinate %q: expected 3 or 4 parts separated by ':', got %d", e.Input, e.Parts)
	case len(e.Positions) > 0:
		return fmt.Sprintf("invalid coordinate %q: %s at position %s", e.Input, e.Kind, joinInts(e.Positions))
	default:
		return fmt.Sprintf("invalid coordinate %q: %s", e.Input, e.Kind)
	}
}

func (e *SyntaxError) Unwrap() error { return e.Kind }

// Pointer renders the input with a caret line under each offending
// character, for terminal output.
func (e *SyntaxError) Pointer() string {
	if e == nil {
		return ""
	}
	if len(e.Positions) == 0 {
		return e.Input
	}
	return Pointer(e.Input, e.Positions)
}

// Pointer draws '^' markers under the given byte offsets of input.
// Line breaks are shown escaped so that the caret line stays aligned.
func Pointer(input string, positions []int) string {
	marked := make(map[int]bool, len(positions))
	for _, p := range positions {
		marked[p] = true
	}
	var line, carets strings.Builder
	for i, r := range input {
		shown := string(r)
		switch r {
		case '\n':
			shown = `\n`
		case '\r':
			shown = `\r`
		case '\t':
			shown = `\t`
		}
		line.WriteString(shown)
		mark := " "
		if marked[i] {
			mark = "^"
		}
		carets.WriteString(strings.Repeat(mark, utf8.RuneCountInString(shown)))
	}
	return line.String() + "\n" + strings.TrimRight(carets.String(), " ")
}

func joinInts(ns []int) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = fmt.Sprint(n)
	}
	return strings.Join(parts, ", ")
}
