package scoring

import (
	"fmt"

	"github.com/okian/barometer/internal/domain/reason"
)

// Sentinel errors. All are configuration errors and block startup.
var (
	ErrInvalidGrid    = fmt.Errorf("invalid maturity grid: %w", reason.ErrConfiguration)
	ErrInvalidWeights = fmt.Errorf("invalid dimension weights: %w", reason.ErrConfiguration)
	ErrInvalidConfig  = fmt.Errorf("invalid scoring config: %w", reason.ErrConfiguration)
)
