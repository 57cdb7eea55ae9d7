package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Shared error taxonomy for the routing pipeline.
var (
	// ErrNotFound signals an unknown transaction or rail. Surfaced to
	// the caller, never retried.
	ErrNotFound = errors.New("not found")

	// ErrInsufficientLimit signals a decrement that would drive a
	// rail's remaining daily limit below zero. Triggers fallback.
	ErrInsufficientLimit = errors.New("insufficient remaining limit")

	// ErrRetryableFailure is a transient rail or network error that
	// drives the fallback chain forward.
	ErrRetryableFailure = errors.New("retryable execution failure")

	// ErrTerminalFailure means the rail explicitly rejected the
	// payment. Stops the fallback chain.
	ErrTerminalFailure = errors.New("terminal execution failure")

	// ErrDecisionExists signals an attempt to overwrite a routing
	// decision without the explicit override path.
	ErrDecisionExists = errors.New("routing decision already exists")

	// ErrComplianceExists signals an attempt to overwrite a compliance
	// decision without the explicit override path.
	ErrComplianceExists = errors.New("compliance decision already exists")
)

// NoEligibleRailsError carries the complete per-rail rejection picture
// when filtering leaves no candidates.
type NoEligibleRailsError struct {
	Reasons map[string]string
}

func (e *NoEligibleRailsError) Error() string {
	names := make([]string, 0, len(e.Reasons))
	for name := range e.Reasons {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %s", name, e.Reasons[name]))
	}
	return "no eligible rails: " + strings.Join(parts, "; ")
}

// IsNoEligibleRails extracts a NoEligibleRailsError from an error chain.
func IsNoEligibleRails(err error) (*NoEligibleRailsError, bool) {
	var e *NoEligibleRailsError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
