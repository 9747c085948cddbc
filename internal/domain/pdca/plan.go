package pdca

import (
	"time"

	"github.com/okian/barometer/internal/domain/model"
	"github.com/okian/barometer/internal/domain/scoring"
)

// Planner turns low-scoring dimensions into Planned actions.
type Planner struct {
	cfg   Config
	newID func() string
	now   func() time.Time
}

// NewPlanner validates cfg and returns a planner.
func NewPlanner(cfg Config, opts ...Option) (*Planner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Planner{cfg: cfg, newID: defaultID, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Plan creates one action per dimension of res scoring below the plan
// threshold, in dimension id order. Dimensions without a score are skipped.
func (p *Planner) Plan(a model.Assessment, res scoring.Result) []Action {
	var out []Action
	created := p.now().UTC()
	for _, d := range res.Dimensions {
		if d.Score == nil || *d.Score >= p.cfg.PlanThreshold {
			continue
		}
		prio := PriorityMedium
		if *d.Score < p.cfg.HighPriorityBelow {
			prio = PriorityHigh
		}
		out = append(out, Action{
			ID:             p.newID(),
			OrganizationID: a.OrganizationID,
			AssessmentID:   a.ID,
			DimensionID:    d.DimensionID,
			State:          Planned,
			Priority:       prio,
			Baseline:       copyPtr(d.Score),
			BaselineWindow: a.WindowStart,
			Target:         p.cfg.Target,
			CreatedAt:      created,
			UpdatedAt:      created,
		})
	}
	return out
}
