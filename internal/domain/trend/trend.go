// Package trend follows an organization's dimension scores across
// successive assessment cycles and classifies each series as improving,
// declining or stable.
package trend

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/okian/barometer/internal/domain/reason"
	"github.com/okian/barometer/internal/domain/scoring"
	"github.com/okian/barometer/internal/domain/stats"
)

// Direction is the classification of a score series.
type Direction string

const (
	Improving    Direction = "improving"
	Declining    Direction = "declining"
	Stable       Direction = "stable"
	Undetermined Direction = "undetermined"
)

// OverallID names the series of overall scores.
const OverallID = "overall"

// month is the unit of Slope.
const month = 30 * 24 * time.Hour

// Cycle is one scored assessment of the organization.
type Cycle struct {
	AssessmentID string
	WindowStart  time.Time
	Result       scoring.Result
}

// Point is one cycle's score in a series. Score is nil when the cycle could
// not report the dimension.
type Point struct {
	AssessmentID string    `json:"assessment_id"`
	WindowStart  time.Time `json:"window_start"`
	Score        *float64  `json:"score"`
}

// Series is the score history of one dimension. Slope is the least-squares
// change in score points per 30 days.
type Series struct {
	DimensionID string        `json:"dimension_id"`
	Points      []Point       `json:"points"`
	Scored      int           `json:"scored"`
	FirstHalf   *float64      `json:"first_half,omitempty"`
	SecondHalf  *float64      `json:"second_half,omitempty"`
	Change      *float64      `json:"change,omitempty"`
	Slope       *float64      `json:"slope,omitempty"`
	Direction   Direction     `json:"direction"`
	Issue       *reason.Issue `json:"issue,omitempty"`
}

// Report is the cross-cycle trend report of an organization.
type Report struct {
	OrganizationID string         `json:"organization_id"`
	Cycles         int            `json:"cycles"`
	Overall        Series         `json:"overall"`
	Dimensions     []Series       `json:"dimensions"`
	Issues         []reason.Issue `json:"issues,omitempty"`
}

// Analyze orders the cycles by window start and classifies every series.
// The scored values are split in two halves in time order; the direction
// follows the difference of the half means.
func Analyze(org string, cycles []Cycle, cfg Config) Report {
	ordered := append([]Cycle(nil), cycles...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].WindowStart.Equal(ordered[j].WindowStart) {
			return ordered[i].WindowStart.Before(ordered[j].WindowStart)
		}
		return ordered[i].AssessmentID < ordered[j].AssessmentID
	})

	rep := Report{OrganizationID: org, Cycles: len(ordered)}
	rep.Overall = classify(OverallID, points(ordered, func(r scoring.Result) *float64 { return r.Overall }), cfg)
	if rep.Overall.Issue != nil {
		rep.Issues = append(rep.Issues, *rep.Overall.Issue)
	}
	for _, id := range dimensionIDs(ordered) {
		s := classify(id, points(ordered, func(r scoring.Result) *float64 {
			if d, ok := r.Dimension(id); ok {
				return d.Score
			}
			return nil
		}), cfg)
		if s.Issue != nil {
			rep.Issues = append(rep.Issues, *s.Issue)
		}
		rep.Dimensions = append(rep.Dimensions, s)
	}
	return rep
}

func dimensionIDs(cycles []Cycle) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, c := range cycles {
		for _, d := range c.Result.Dimensions {
			if !seen[d.DimensionID] {
				seen[d.DimensionID] = true
				ids = append(ids, d.DimensionID)
			}
		}
	}
	sort.Strings(ids)
	return ids
}

func points(cycles []Cycle, score func(scoring.Result) *float64) []Point {
	out := make([]Point, len(cycles))
	for i, c := range cycles {
		out[i] = Point{AssessmentID: c.AssessmentID, WindowStart: c.WindowStart}
		if v := score(c.Result); v != nil {
			x := *v
			out[i].Score = &x
		}
	}
	return out
}

func classify(id string, pts []Point, cfg Config) Series {
	s := Series{DimensionID: id, Points: pts, Direction: Undetermined}
	var xs, ys []float64
	for _, p := range pts {
		if p.Score == nil {
			continue
		}
		xs = append(xs, float64(p.WindowStart.Sub(pts[0].WindowStart))/float64(month))
		ys = append(ys, *p.Score)
	}
	s.Scored = len(ys)
	if s.Scored < cfg.MinCycles {
		issue := reason.NewIssue(reason.InsufficientData, id,
			"%d scored cycles, at least %d needed for a trend", s.Scored, cfg.MinCycles)
		s.Issue = &issue
		return s
	}

	half := len(ys) / 2
	first, second := stats.Mean(ys[:half]), stats.Mean(ys[half:])
	change := second - first
	s.FirstHalf, s.SecondHalf, s.Change = stats.Ptr(first), stats.Ptr(second), stats.Ptr(change)
	switch {
	case change > cfg.Tolerance:
		s.Direction = Improving
	case change < -cfg.Tolerance:
		s.Direction = Declining
	default:
		s.Direction = Stable
	}

	if !stats.NearZero(stats.Variance(xs)) {
		_, beta := stat.LinearRegression(xs, ys, nil, false)
		s.Slope = stats.Ptr(beta)
	}
	return s
}
