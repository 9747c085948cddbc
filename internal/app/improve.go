package service

import (
	"context"

	"github.com/okian/barometer/internal/domain/pdca"
	"github.com/okian/barometer/pkg/logger"
	"github.com/okian/barometer/pkg/metrics"
)

// ActionReport lists the improvement actions of an organization.
type ActionReport struct {
	Actions []pdca.Action `json:"actions"`
	Summary pdca.Summary  `json:"summary"`
}

// Plan creates improvement actions for the assessment's low-scoring
// dimensions. A dimension that already has an open action from this
// assessment keeps it, so planning twice returns the same actions.
func (s *Service) Plan(ctx context.Context, assessmentID string) ([]pdca.Action, error) {
	snap, err := s.snapshot(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	res, err := s.score(snap)
	if err != nil {
		return nil, err
	}

	planned := s.planner.Plan(snap.assessment, res)
	actions, err := s.tracker.Adopt(ctx, planned...)
	if err != nil {
		return nil, err
	}
	created := 0
	for i, a := range actions {
		if a.ID == planned[i].ID {
			created++
			metrics.RecordPDCATransition(string(a.State))
		}
	}
	s.logger.Info(ctx, "improvement actions planned",
		logger.String("assessmentID", assessmentID),
		logger.Int("actions", len(actions)),
		logger.Int("created", created),
	)
	return actions, nil
}

// Remeasure treats the assessment as the re-measurement of its
// organization: every in-progress action planned from an assessment with an
// earlier window moves into review with this assessment's scores.
func (s *Service) Remeasure(ctx context.Context, assessmentID string) ([]pdca.Action, error) {
	snap, err := s.snapshot(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	res, err := s.score(snap)
	if err != nil {
		return nil, err
	}

	moved, err := s.tracker.Remeasure(ctx, snap.assessment, res, s.now().UTC())
	if err != nil {
		return nil, err
	}
	for _, a := range moved {
		metrics.RecordPDCATransition(string(a.State))
	}
	s.logger.Info(ctx, "organization re-measured",
		logger.String("assessmentID", assessmentID),
		logger.String("organizationID", snap.assessment.OrganizationID),
		logger.Int("actions", len(moved)),
	)
	if moved == nil {
		moved = []pdca.Action{}
	}
	return moved, nil
}

// Actions returns the actions of an organization with their summary.
func (s *Service) Actions(ctx context.Context, org string) (ActionReport, error) {
	if _, err := s.ledger(); err != nil {
		return ActionReport{}, err
	}
	return ActionReport{Actions: s.tracker.List(org), Summary: s.tracker.Summarize(org)}, nil
}

// Action returns one improvement action.
func (s *Service) Action(ctx context.Context, id string) (pdca.Action, error) {
	if _, err := s.ledger(); err != nil {
		return pdca.Action{}, err
	}
	a, ok := s.tracker.Get(id)
	if !ok {
		return pdca.Action{}, pdca.ErrUnknownAction
	}
	return a, nil
}

// Advance applies an event to an action. Events without a timestamp are
// stamped with the service clock.
func (s *Service) Advance(ctx context.Context, id string, ev pdca.Event) (pdca.Action, error) {
	if _, err := s.ledger(); err != nil {
		return pdca.Action{}, err
	}
	ev = s.stamp(ev)
	next, err := s.tracker.Apply(ctx, id, ev)
	if err != nil {
		s.logger.Debug(ctx, "action transition refused", logger.String("actionID", id), logger.Error(err))
		return next, err
	}
	metrics.RecordPDCATransition(string(next.State))
	return next, nil
}

func (s *Service) stamp(ev pdca.Event) pdca.Event {
	now := s.now().UTC()
	switch e := ev.(type) {
	case pdca.Progress:
		if e.At.IsZero() {
			e.At = now
		}
		return e
	case pdca.Remeasured:
		if e.At.IsZero() {
			e.At = now
		}
		return e
	case pdca.Conclude:
		if e.At.IsZero() {
			e.At = now
		}
		return e
	}
	return ev
}
