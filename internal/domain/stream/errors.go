package stream

import "errors"

// Sentinel errors for this package.
var (
	ErrUnknownItem     = errors.New("response references an item outside the bank")
	ErrWrongAssessment = errors.New("response belongs to another assessment")
)
