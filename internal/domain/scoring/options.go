package scoring

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/okian/barometer/internal/domain/model"
)

const weightTolerance = 1e-6

// Config is the scoring configuration passed into every computation.
type Config struct {
	// Weights overrides the bank's dimension weights when non-empty.
	Weights map[string]float64 `koanf:"weights" json:"weights,omitempty"`
	// Grids holds a maturity grid per framework; frameworks without one use DefaultGrid.
	Grids map[string]Grid `koanf:"grids" json:"grids,omitempty"`
	// NPQSMinResponses is the respondent count below which NPQS is undefined.
	NPQSMinResponses int `koanf:"npqs_min_responses" json:"npqs_min_responses"`
}

// DefaultConfig returns bank weights, the default grid and a 30 respondent NPQS minimum.
func DefaultConfig() Config {
	return Config{NPQSMinResponses: 30}
}

// Validate checks every configured grid and the weight override. It is
// called once at load so no scoring pass sees an invalid configuration.
func (c Config) Validate() error {
	names := make([]string, 0, len(c.Grids))
	for name := range c.Grids {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, err := model.ParseFramework(name); err != nil {
			return fmt.Errorf("%w: grid for %v", ErrInvalidGrid, err)
		}
		if err := c.Grids[name].Validate(); err != nil {
			return fmt.Errorf("framework %s: %w", name, err)
		}
	}
	if len(c.Weights) > 0 {
		var total float64
		for dim, w := range c.Weights {
			if w <= 0 || math.IsNaN(w) || math.IsInf(w, 0) {
				return fmt.Errorf("%w: dimension %q weight must be positive", ErrInvalidWeights, dim)
			}
			total += w
		}
		if math.Abs(total-1) > weightTolerance {
			return fmt.Errorf("%w: weights sum to %.6f, want 1.0", ErrInvalidWeights, total)
		}
	}
	if c.NPQSMinResponses < 1 {
		return fmt.Errorf("%w: npqs_min_responses must be positive", ErrInvalidConfig)
	}
	return nil
}

// Grid returns the grid configured for f, or DefaultGrid.
func (c Config) Grid(f model.Framework) Grid {
	for name, g := range c.Grids {
		if strings.EqualFold(name, string(f)) {
			return g
		}
	}
	return DefaultGrid()
}
