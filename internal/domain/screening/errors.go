package screening

import (
	"fmt"

	"github.com/okian/barometer/internal/domain/reason"
)

// Sentinel errors. Both are configuration errors.
var (
	ErrInvalidConfig = fmt.Errorf("invalid screening config: %w", reason.ErrConfiguration)
	ErrBankMismatch  = fmt.Errorf("item bank does not match assessment: %w", reason.ErrConfiguration)
)
