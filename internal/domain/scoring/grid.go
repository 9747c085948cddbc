package scoring

import (
	"fmt"
	"math"
)

// Level is an ordinal maturity label.
type Level string

// Maturity levels in ascending order.
const (
	Initial    Level = "Initial"
	Developing Level = "Developing"
	Defined    Level = "Defined"
	Managed    Level = "Managed"
	Optimizing Level = "Optimizing"
)

// Levels returns the maturity levels in ascending order.
func Levels() []Level {
	return []Level{Initial, Developing, Defined, Managed, Optimizing}
}

// Rank returns the 1-based ordinal of l, 0 for an unknown level.
func (l Level) Rank() int {
	for i, known := range Levels() {
		if l == known {
			return i + 1
		}
	}
	return 0
}

// Bucket maps the half-open range [From, To) to a level. The last bucket
// of a grid also contains To.
type Bucket struct {
	Level Level   `koanf:"level" json:"level"`
	From  float64 `koanf:"from" json:"from"`
	To    float64 `koanf:"to" json:"to"`
}

// Grid is an ordered partition of [0,100] into the five maturity levels.
type Grid []Bucket

// DefaultGrid returns the 20-point grid.
func DefaultGrid() Grid {
	return Grid{
		{Level: Initial, From: 0, To: 20},
		{Level: Developing, From: 20, To: 40},
		{Level: Defined, From: 40, To: 60},
		{Level: Managed, From: 60, To: 80},
		{Level: Optimizing, From: 80, To: 100},
	}
}

// Validate checks that g partitions [0,100] with no gaps or overlaps and
// lists every level once in ascending order.
func (g Grid) Validate() error {
	levels := Levels()
	if len(g) != len(levels) {
		return fmt.Errorf("%w: %d buckets, want %d", ErrInvalidGrid, len(g), len(levels))
	}
	for i, b := range g {
		if b.Level != levels[i] {
			return fmt.Errorf("%w: bucket %d is %q, want %q", ErrInvalidGrid, i, b.Level, levels[i])
		}
		if math.IsNaN(b.From) || math.IsNaN(b.To) || b.From >= b.To {
			return fmt.Errorf("%w: bucket %q range [%v,%v) is empty", ErrInvalidGrid, b.Level, b.From, b.To)
		}
		if i == 0 && b.From != 0 {
			return fmt.Errorf("%w: first bucket starts at %v, want 0", ErrInvalidGrid, b.From)
		}
		if i > 0 && b.From != g[i-1].To {
			return fmt.Errorf("%w: bucket %q starts at %v but %q ends at %v", ErrInvalidGrid, b.Level, b.From, g[i-1].Level, g[i-1].To)
		}
	}
	if last := g[len(g)-1]; last.To != 100 {
		return fmt.Errorf("%w: last bucket ends at %v, want 100", ErrInvalidGrid, last.To)
	}
	return nil
}

// Classify maps a score in [0,100] to its level. Boundary values belong to
// the higher bucket. Scores outside the range map to the nearest end.
func (g Grid) Classify(score float64) Level {
	for i := len(g) - 1; i >= 0; i-- {
		if score >= g[i].From {
			return g[i].Level
		}
	}
	return g[0].Level
}
