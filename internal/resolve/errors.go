package resolve

import (
	"errors"
	"fmt"
)

var (
	// ErrUmbrellaPlatform is returned when resolution is requested for a
	// platform that groups several leaf platforms.
	ErrUmbrellaPlatform = errors.New("umbrella platform cannot be resolved")
	// ErrInvalidContext covers any other malformed resolution request.
	ErrInvalidContext = errors.New("invalid resolution context")
)

// ContextError reports a contract violation detected before any work starts.
type ContextError struct {
	Kind error
	Msg  string
}

func (e *ContextError) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

func (e *ContextError) Unwrap() error { return e.Kind }

func invalidf(format string, args ...any) error {
	return &ContextError{Kind: ErrInvalidContext, Msg: fmt.Sprintf(format, args...)}
}

func umbrellaError(p Platform) error {
	return &ContextError{
		Kind: ErrUmbrellaPlatform,
		Msg:  fmt.Sprintf("%s; request one of its leaf platforms: %v", p, p.Leaves()),
	}
}
