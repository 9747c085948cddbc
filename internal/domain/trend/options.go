package trend

import (
	"fmt"
	"math"

	"github.com/okian/barometer/internal/domain/reason"
)

// ErrInvalidConfig reports an unusable trend configuration.
var ErrInvalidConfig = fmt.Errorf("invalid trend config: %w", reason.ErrConfiguration)

// Config holds the trend classification thresholds.
type Config struct {
	// Tolerance is the change in score points below which a series is stable.
	Tolerance float64 `koanf:"tolerance" json:"tolerance"`
	// MinCycles is the number of scored cycles a series needs for a direction.
	MinCycles int `koanf:"min_cycles" json:"min_cycles"`
}

// DefaultConfig returns a tolerance of one score point over at least two cycles.
func DefaultConfig() Config {
	return Config{Tolerance: 1, MinCycles: 2}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Tolerance < 0 || math.IsNaN(c.Tolerance) {
		return fmt.Errorf("%w: tolerance %v must not be negative", ErrInvalidConfig, c.Tolerance)
	}
	if c.MinCycles < 2 {
		return fmt.Errorf("%w: min_cycles %d must be at least 2", ErrInvalidConfig, c.MinCycles)
	}
	return nil
}
