package pdca

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Config holds the improvement loop thresholds.
type Config struct {
	// MinImprovement is the score delta that standardizes an action.
	MinImprovement float64 `koanf:"min_improvement" json:"min_improvement"`
	// PlanThreshold is the dimension score below which an action is planned.
	PlanThreshold float64 `koanf:"plan_threshold" json:"plan_threshold"`
	// HighPriorityBelow is the score below which a planned action is high priority.
	HighPriorityBelow float64 `koanf:"high_priority_below" json:"high_priority_below"`
	// Target is the score a planned action aims for.
	Target float64 `koanf:"target" json:"target"`
}

// DefaultConfig returns +5 points, planning below 70, high priority below 50 and target 80.
func DefaultConfig() Config {
	return Config{MinImprovement: 5, PlanThreshold: 70, HighPriorityBelow: 50, Target: 80}
}

// Validate checks the thresholds.
func (c Config) Validate() error {
	if c.MinImprovement <= 0 {
		return fmt.Errorf("%w: min_improvement must be positive", ErrInvalidConfig)
	}
	if c.PlanThreshold <= 0 || c.PlanThreshold > 100 {
		return fmt.Errorf("%w: plan_threshold %v must be in (0,100]", ErrInvalidConfig, c.PlanThreshold)
	}
	if c.HighPriorityBelow < 0 || c.HighPriorityBelow > c.PlanThreshold {
		return fmt.Errorf("%w: high_priority_below %v must be in [0,plan_threshold]", ErrInvalidConfig, c.HighPriorityBelow)
	}
	if c.Target <= 0 || c.Target > 100 {
		return fmt.Errorf("%w: target %v must be in (0,100]", ErrInvalidConfig, c.Target)
	}
	return nil
}

// Option configures a Planner.
type Option func(*Planner)

// WithIDGenerator replaces the uuid generator.
func WithIDGenerator(f func() string) Option {
	return func(p *Planner) {
		if f != nil {
			p.newID = f
		}
	}
}

// WithClock replaces the wall clock used for CreatedAt.
func WithClock(f func() time.Time) Option {
	return func(p *Planner) {
		if f != nil {
			p.now = f
		}
	}
}

func defaultID() string { return uuid.NewString() }

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithJournal persists every change the tracker makes.
func WithJournal(j Journal) TrackerOption {
	return func(t *Tracker) {
		if j != nil {
			t.journal = j
		}
	}
}
