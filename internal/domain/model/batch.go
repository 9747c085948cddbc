package model

import (
	"fmt"
	"time"
)

// Batch is one submission of responses for a single assessment. It is the
// unit the ingestion queue carries and the validator screens.
type Batch struct {
	ID           string     // submission id, used for idempotent intake
	AssessmentID string     // every response must belong to this assessment
	Responses    []Response // raw answers as received
	ReceivedAt   time.Time  // intake timestamp
}

// Len returns the number of responses in the batch.
func (b Batch) Len() int { return len(b.Responses) }

// Check reports structural problems that make the batch unusable as a
// whole. Per-response problems are left to screening.
func (b Batch) Check() error {
	if b.AssessmentID == "" {
		return fmt.Errorf("batch %s: assessment id is required", b.ID)
	}
	if len(b.Responses) == 0 {
		return fmt.Errorf("batch %s: no responses", b.ID)
	}
	for i, r := range b.Responses {
		if r.RespondentID == "" || r.ItemID == "" {
			return fmt.Errorf("batch %s: response %d needs respondent and item ids", b.ID, i)
		}
		if r.Revision < 0 {
			return fmt.Errorf("batch %s: response %d has negative revision", b.ID, i)
		}
	}
	return nil
}
