package cluster

import (
	"fmt"

	"github.com/okian/barometer/internal/domain/reason"
)

// ErrInvalidConfig reports an unusable clustering configuration.
var ErrInvalidConfig = fmt.Errorf("invalid cluster config: %w", reason.ErrConfiguration)

// Config holds the k-means settings.
type Config struct {
	// K is the number of profiles sought.
	K int `koanf:"k" json:"k"`
	// MaxIterations bounds the assignment passes.
	MaxIterations int `koanf:"max_iterations" json:"max_iterations"`
	// MinRespondents is the smallest population that is clustered at all.
	MinRespondents int `koanf:"min_respondents" json:"min_respondents"`
}

// DefaultConfig returns three profiles over at least ten respondents.
func DefaultConfig() Config {
	return Config{K: 3, MaxIterations: 100, MinRespondents: 10}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.K < 2 {
		return fmt.Errorf("%w: k %d must be at least 2", ErrInvalidConfig, c.K)
	}
	if c.MaxIterations < 1 {
		return fmt.Errorf("%w: max_iterations %d must be positive", ErrInvalidConfig, c.MaxIterations)
	}
	if c.MinRespondents < c.K {
		return fmt.Errorf("%w: min_respondents %d must be at least k %d", ErrInvalidConfig, c.MinRespondents, c.K)
	}
	return nil
}
