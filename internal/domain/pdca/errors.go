package pdca

import (
	"errors"
	"fmt"

	"github.com/okian/barometer/internal/domain/reason"
)

// Sentinel errors for this package.
var (
	ErrInvalidTransition = fmt.Errorf("pdca: %w", reason.ErrInvalidTransition)
	ErrInvalidConfig     = fmt.Errorf("invalid pdca config: %w", reason.ErrConfiguration)
	ErrUnknownAction     = errors.New("unknown improvement action")
	ErrDuplicateAction   = errors.New("improvement action already exists")
)
