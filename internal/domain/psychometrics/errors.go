package psychometrics

import (
	"fmt"

	"github.com/okian/barometer/internal/domain/reason"
)

// ErrInvalidConfig reports thresholds outside their meaningful range.
var ErrInvalidConfig = fmt.Errorf("invalid psychometric config: %w", reason.ErrConfiguration)
