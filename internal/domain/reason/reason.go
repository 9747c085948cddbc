// Package reason defines the closed set of failure codes shared by the
// engine and the structured Issue record carried by every soft failure.
package reason

import (
	"errors"
	"fmt"
)

// Code identifies why a response, metric or transition was not accepted.
type Code string

const (
	// OutOfRangeValue indicates a raw value outside the item's scale domain.
	OutOfRangeValue Code = "out_of_range_value"
	// DuplicateResponse indicates a second answer to the same item in one cycle.
	DuplicateResponse Code = "duplicate_response"
	// SuspiciousPattern indicates straight-lining or an implausible completion time.
	SuspiciousPattern Code = "suspicious_pattern"
	// InsufficientData indicates a metric that cannot be reported as a number.
	InsufficientData Code = "insufficient_data"
	// ConfigurationError indicates invalid configuration detected at load.
	ConfigurationError Code = "configuration_error"
	// InvalidTransition indicates misuse of the improvement-action state machine.
	InvalidTransition Code = "invalid_transition"
)

// Hard failure kinds. Package sentinels wrap these so callers can test the
// category with errors.Is without importing every engine package.
var (
	ErrConfiguration     = errors.New(string(ConfigurationError))
	ErrInvalidTransition = errors.New(string(InvalidTransition))
)

// Soft reports whether failures with this code are collected rather than returned as errors.
func (c Code) Soft() bool {
	switch c {
	case OutOfRangeValue, DuplicateResponse, SuspiciousPattern, InsufficientData:
		return true
	default:
		return false
	}
}

// Issue is a soft failure explained well enough to show an end user.
type Issue struct {
	Code     Code   `json:"code"`
	EntityID string `json:"entity_id"`
	Detail   string `json:"detail,omitempty"`
}

// NewIssue builds an Issue with a formatted detail message.
func NewIssue(code Code, entityID, format string, args ...any) Issue {
	return Issue{Code: code, EntityID: entityID, Detail: fmt.Sprintf(format, args...)}
}

func (i Issue) String() string {
	if i.Detail == "" {
		return fmt.Sprintf("%s(%s)", i.Code, i.EntityID)
	}
	return fmt.Sprintf("%s(%s): %s", i.Code, i.EntityID, i.Detail)
}
