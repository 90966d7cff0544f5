package snapshot

import (
	"errors"
	"fmt"
)

var (
	// ErrRecoverable marks failures that skip one file and let the batch continue.
	ErrRecoverable = errors.New("recoverable snapshot error")
	// ErrUnknownProvider is returned when no envelope is registered for a provider.
	ErrUnknownProvider = errors.New("no envelope for provider")
	// ErrInvalidSource is returned for source definitions that cannot be scanned.
	ErrInvalidSource = errors.New("invalid snapshot source")
)

// ParseError reports a snapshot file that could not be parsed.
type ParseError struct {
	Path   string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("parse %s: %s", e.Path, e.Reason)
}

// Unwrap lets errors.Is match both ErrRecoverable and the cause.
func (e *ParseError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrRecoverable}
	}
	return []error{ErrRecoverable, e.Err}
}
