package service

import "errors"

var (
	// ErrNotStarted is returned by intake calls before Start.
	ErrNotStarted = errors.New("service not started")
	// ErrBackpressure reports that the assessment's queue partition is full.
	ErrBackpressure = errors.New("ingestion queue is full")
	// ErrBatchTooLarge reports a submission above the configured batch size.
	ErrBatchTooLarge = errors.New("batch exceeds the maximum size")
	// ErrInvalidBatch reports a structurally unusable submission.
	ErrInvalidBatch = errors.New("invalid batch")
	// ErrInvalidAssessment reports an assessment that cannot be registered.
	ErrInvalidAssessment = errors.New("invalid assessment")
	// ErrInvalidRespondent reports a respondent that cannot be registered.
	ErrInvalidRespondent = errors.New("invalid respondent")
)
