package screening

import (
	"fmt"
	"time"
)

// Config holds the low-quality response heuristics.
type Config struct {
	// StraightLineFraction is the share of identical raw values that flags a respondent.
	StraightLineFraction float64 `koanf:"straight_line_fraction" json:"straight_line_fraction"`
	// StraightLineMinItems is the number of scored answers below which straight-lining is not evaluated.
	StraightLineMinItems int `koanf:"straight_line_min_items" json:"straight_line_min_items"`
	// MinTimePerItem is the fastest plausible pace; zero disables the timing check.
	MinTimePerItem time.Duration `koanf:"min_time_per_item" json:"min_time_per_item"`
}

// DefaultConfig returns the default heuristics.
func DefaultConfig() Config {
	return Config{
		StraightLineFraction: 0.9,
		StraightLineMinItems: 5,
		MinTimePerItem:       3 * time.Second,
	}
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	if c.StraightLineFraction <= 0 || c.StraightLineFraction > 1 {
		return fmt.Errorf("%w: straight_line_fraction %v must be in (0,1]", ErrInvalidConfig, c.StraightLineFraction)
	}
	if c.StraightLineMinItems < 2 {
		return fmt.Errorf("%w: straight_line_min_items %d must be at least 2", ErrInvalidConfig, c.StraightLineMinItems)
	}
	if c.MinTimePerItem < 0 {
		return fmt.Errorf("%w: min_time_per_item must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Option configures a Validator.
type Option func(*Validator)

// WithConfig replaces the default heuristics.
func WithConfig(cfg Config) Option {
	return func(v *Validator) {
		v.cfg = cfg
	}
}
