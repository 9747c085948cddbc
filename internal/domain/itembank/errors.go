package itembank

import (
	"fmt"

	"github.com/okian/barometer/internal/domain/reason"
)

// Sentinel error kinds for this package. ErrInvalidBank is a configuration
// error and blocks engine startup.
var (
	ErrInvalidBank = fmt.Errorf("invalid item bank: %w", reason.ErrConfiguration)
	ErrLoadBank    = fmt.Errorf("load item bank failed: %w", reason.ErrConfiguration)
)
