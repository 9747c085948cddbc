package segment

import (
	"fmt"

	"github.com/okian/barometer/internal/domain/reason"
)

// ErrInvalidConfig reports an unusable segment configuration.
var ErrInvalidConfig = fmt.Errorf("invalid segment config: %w", reason.ErrConfiguration)

// Config holds the segment analysis thresholds.
type Config struct {
	// MinGroupSize is the smallest category compared in a segment.
	MinGroupSize int `koanf:"min_group_size" json:"min_group_size"`
}

// DefaultConfig returns a minimum group size of 5.
func DefaultConfig() Config {
	return Config{MinGroupSize: 5}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.MinGroupSize < 2 {
		return fmt.Errorf("%w: min_group_size %d must be at least 2", ErrInvalidConfig, c.MinGroupSize)
	}
	return nil
}
