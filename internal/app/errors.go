package service

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Sentinel error kinds for the service layer.
var (
	ErrUnknownProject  = errors.New("unknown project")
	ErrCircuitOpen     = errors.New("store circuit open")
	ErrNoData          = errors.New("no data")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrCyclePanic      = errors.New("ingestion cycle panicked")
	ErrNotStarted      = errors.New("service not started")
)

// RollupPartialError reports projects whose stores could not be read during
// a rollup. The rollup was still published without them.
type RollupPartialError struct {
	Failures map[string]error
}

func (e *RollupPartialError) Error() string {
	names := e.Projects()
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = fmt.Sprintf("%s: %v", n, e.Failures[n])
	}
	return fmt.Sprintf("rollup skipped %d project(s): %s", len(names), strings.Join(parts, "; "))
}

// Projects returns the failed project names, sorted.
func (e *RollupPartialError) Projects() []string {
	names := make([]string, 0, len(e.Failures))
	for n := range e.Failures {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (e *RollupPartialError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, n := range e.Projects() {
		errs = append(errs, e.Failures[n])
	}
	return errs
}
