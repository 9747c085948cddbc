// Package pdca drives improvement actions through the Plan-Do-Check-Act
// loop.
//
// Advance is a pure state transition: the caller supplies every event,
// including the re-measurement that opens a review, and receives a new
// Action. There are no timers.
package pdca

import (
	"fmt"
	"time"
)

// State is the phase of an improvement action.
type State string

// States. Standardized and Abandoned are terminal.
const (
	Planned      State = "Planned"
	InProgress   State = "InProgress"
	UnderReview  State = "UnderReview"
	Standardized State = "Standardized"
	Abandoned    State = "Abandoned"
)

// States lists every state in loop order.
func States() []State {
	return []State{Planned, InProgress, UnderReview, Standardized, Abandoned}
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == Standardized || s == Abandoned
}

// Priority orders planned actions.
type Priority string

// Priorities.
const (
	PriorityHigh   Priority = "High"
	PriorityMedium Priority = "Medium"
)

// Transition records one state change.
type Transition struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
}

// Action is an improvement action targeting one dimension. BaselineWindow
// is the window start of the assessment it was planned from; only later
// windows can review it.
type Action struct {
	ID                 string       `json:"id"`
	OrganizationID     string       `json:"organization_id"`
	AssessmentID       string       `json:"assessment_id"`
	DimensionID        string       `json:"dimension_id"`
	State              State        `json:"state"`
	Priority           Priority     `json:"priority"`
	Baseline           *float64     `json:"baseline"`
	BaselineWindow     time.Time    `json:"baseline_window"`
	Target             float64      `json:"target"`
	Progress           float64      `json:"progress"`
	ReviewAssessmentID string       `json:"review_assessment_id,omitempty"`
	ReviewScore        *float64     `json:"review_score,omitempty"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
	History            []Transition `json:"history,omitempty"`
}

// Improvement returns review minus baseline, false when either is undefined.
func (a Action) Improvement() (float64, bool) {
	if a.Baseline == nil || a.ReviewScore == nil {
		return 0, false
	}
	return *a.ReviewScore - *a.Baseline, true
}

// Event is an input to Advance.
type Event interface {
	at() time.Time
	name() string
}

// Progress reports the completion percentage of the action's work.
type Progress struct {
	Percent float64   `json:"percent"`
	At      time.Time `json:"at"`
}

// Remeasured reports a new assessment of the organization. Score is the
// targeted dimension's score in that assessment, nil when undefined.
// WindowStart must follow the action's baseline window; when neither is
// known the assessments cannot be ordered and the review is allowed.
type Remeasured struct {
	OrganizationID string    `json:"organization_id"`
	AssessmentID   string    `json:"assessment_id"`
	WindowStart    time.Time `json:"window_start"`
	Score          *float64  `json:"score"`
	At             time.Time `json:"at"`
}

// Conclude closes the review.
type Conclude struct {
	At time.Time `json:"at"`
}

func (e Progress) at() time.Time   { return e.At }
func (e Remeasured) at() time.Time { return e.At }
func (e Conclude) at() time.Time   { return e.At }

func (Progress) name() string   { return "progress" }
func (Remeasured) name() string { return "remeasured" }
func (Conclude) name() string   { return "conclude" }

// Advance applies ev to a and returns the resulting action. On error the
// returned action is a unchanged.
func Advance(a Action, ev Event, cfg Config) (Action, error) {
	if a.State.Terminal() {
		return a, fmt.Errorf("%w: action %s is %s", ErrInvalidTransition, a.ID, a.State)
	}

	next := a
	next.History = append([]Transition(nil), a.History...)

	switch e := ev.(type) {
	case Progress:
		if e.Percent < 0 || e.Percent > 100 {
			return a, fmt.Errorf("%w: progress %v outside 0..100", ErrInvalidTransition, e.Percent)
		}
		switch a.State {
		case Planned:
			next.State = InProgress
		case InProgress:
		default:
			return a, invalid(a, ev)
		}
		next.Progress = e.Percent

	case Remeasured:
		if a.State != InProgress {
			return a, invalid(a, ev)
		}
		if e.OrganizationID != a.OrganizationID {
			return a, fmt.Errorf("%w: action %s belongs to %s, re-measurement is for %s",
				ErrInvalidTransition, a.ID, a.OrganizationID, e.OrganizationID)
		}
		if e.AssessmentID == "" || e.AssessmentID == a.AssessmentID {
			return a, fmt.Errorf("%w: action %s needs a new assessment to review", ErrInvalidTransition, a.ID)
		}
		if !(e.WindowStart.IsZero() && a.BaselineWindow.IsZero()) && !e.WindowStart.After(a.BaselineWindow) {
			return a, fmt.Errorf("%w: assessment %s does not follow the baseline of action %s",
				ErrInvalidTransition, e.AssessmentID, a.ID)
		}
		next.State = UnderReview
		next.ReviewAssessmentID = e.AssessmentID
		next.ReviewScore = copyPtr(e.Score)

	case Conclude:
		if a.State != UnderReview {
			return a, invalid(a, ev)
		}
		next.State = Abandoned
		if d, ok := a.Improvement(); ok && d >= cfg.MinImprovement {
			next.State = Standardized
		}

	default:
		return a, fmt.Errorf("%w: unsupported event %T", ErrInvalidTransition, ev)
	}

	next.UpdatedAt = ev.at()
	if next.State != a.State {
		next.History = append(next.History, Transition{From: a.State, To: next.State, At: ev.at()})
	}
	return next, nil
}

func invalid(a Action, ev Event) error {
	return fmt.Errorf("%w: %s is not allowed in state %s (action %s)", ErrInvalidTransition, ev.name(), a.State, a.ID)
}

func copyPtr(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
