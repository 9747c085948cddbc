package stats

import "errors"

// Sentinel errors for statistics that cannot be computed from the input.
var (
	ErrTooFewGroups       = errors.New("anova needs at least two groups")
	ErrNoWithinFreedom    = errors.New("anova has no within-group degrees of freedom")
	ErrZeroWithinVariance = errors.New("anova within-group variance is zero")
)
