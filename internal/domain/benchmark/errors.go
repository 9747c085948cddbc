package benchmark

import (
	"fmt"

	"github.com/okian/barometer/internal/domain/reason"
)

// Sentinel errors. Invalid reference data is a configuration error.
var (
	ErrInvalidRecord = fmt.Errorf("invalid benchmark record: %w", reason.ErrConfiguration)
	ErrLoad          = fmt.Errorf("load benchmarks failed: %w", reason.ErrConfiguration)
)
