package config

import (
	"fmt"

	"github.com/okian/barometer/internal/domain/reason"
)

// Sentinel error kinds for this package. These allow errors.Is/As from callers.
// Both are configuration errors and block startup.
var (
	ErrInvalidConfig = fmt.Errorf("invalid config: %w", reason.ErrConfiguration)
	ErrLoadConfig    = fmt.Errorf("load config failed: %w", reason.ErrConfiguration)
)
