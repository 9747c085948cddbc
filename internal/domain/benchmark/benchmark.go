// Package benchmark positions an assessment's scores against external
// reference distributions for its sector and framework.
package benchmark

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/okian/barometer/internal/domain/model"
	"github.com/okian/barometer/internal/domain/reason"
	"github.com/okian/barometer/internal/domain/scoring"
	"github.com/okian/barometer/internal/domain/stats"
)

// Metrics compared besides dimension ids.
const (
	MetricOverall = "overall"
	MetricNPQS    = "npqs"
)

// Level is a performance band derived from the percentile rank.
type Level string

// Performance levels.
const (
	Excellent        Level = "Excellent"
	Good             Level = "Good"
	Average          Level = "Average"
	NeedsImprovement Level = "Needs Improvement"
)

// LevelOf maps a percentile rank to its band.
func LevelOf(percentile float64) Level {
	switch {
	case percentile >= 90:
		return Excellent
	case percentile >= 75:
		return Good
	case percentile >= 50:
		return Average
	default:
		return NeedsImprovement
	}
}

// Point is one percentile of a reference distribution.
type Point struct {
	P     float64 `koanf:"p" json:"p"`
	Value float64 `koanf:"value" json:"value"`
}

// Record is the read-only reference distribution of one metric.
type Record struct {
	Sector      string  `koanf:"sector" json:"sector"`
	Framework   string  `koanf:"framework" json:"framework"`
	Metric      string  `koanf:"metric" json:"metric"`
	Percentiles []Point `koanf:"percentiles" json:"percentiles"`
}

// Validate checks that percentiles are strictly increasing inside (0,100)
// and their values never decrease.
func (r Record) Validate() error {
	id := r.Sector + "/" + r.Framework + "/" + r.Metric
	if r.Sector == "" || r.Metric == "" {
		return fmt.Errorf("%w: %s needs a sector and a metric", ErrInvalidRecord, id)
	}
	if _, err := model.ParseFramework(r.Framework); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidRecord, id, err)
	}
	if len(r.Percentiles) < 2 {
		return fmt.Errorf("%w: %s needs at least two percentiles", ErrInvalidRecord, id)
	}
	for i, pt := range r.Percentiles {
		if !stats.Defined(pt.P) || !stats.Defined(pt.Value) || pt.P <= 0 || pt.P >= 100 {
			return fmt.Errorf("%w: %s percentile %v outside (0,100)", ErrInvalidRecord, id, pt.P)
		}
		if i == 0 {
			continue
		}
		prev := r.Percentiles[i-1]
		if pt.P <= prev.P {
			return fmt.Errorf("%w: %s percentiles must increase, %v after %v", ErrInvalidRecord, id, pt.P, prev.P)
		}
		if pt.Value < prev.Value {
			return fmt.Errorf("%w: %s value at P%v decreases", ErrInvalidRecord, id, pt.P)
		}
	}
	return nil
}

// Rank returns the percentile rank of x by linear interpolation, clamped to
// the first and last points.
func (r Record) Rank(x float64) (rank float64, clamped bool) {
	pts := r.Percentiles
	first, last := pts[0], pts[len(pts)-1]
	if x < first.Value {
		return first.P, true
	}
	if x > last.Value {
		return last.P, true
	}
	// Last point whose value does not exceed x.
	i := sort.Search(len(pts), func(i int) bool { return pts[i].Value > x }) - 1
	if i == len(pts)-1 {
		return last.P, false
	}
	lo, hi := pts[i], pts[i+1]
	return lo.P + (x-lo.Value)/(hi.Value-lo.Value)*(hi.P-lo.P), false
}

// Quantile returns the value at percentile p, NaN outside the record's range.
func (r Record) Quantile(p float64) float64 {
	pts := r.Percentiles
	if p < pts[0].P || p > pts[len(pts)-1].P {
		return math.NaN()
	}
	i := sort.Search(len(pts), func(i int) bool { return pts[i].P >= p })
	if pts[i].P == p {
		return pts[i].Value
	}
	lo, hi := pts[i-1], pts[i]
	return lo.Value + (p-lo.P)/(hi.P-lo.P)*(hi.Value-lo.Value)
}

// Position is the standing of one metric against its reference.
type Position struct {
	Metric               string        `json:"metric"`
	Score                *float64      `json:"score"`
	Percentile           *float64      `json:"percentile"`
	Clamped              bool          `json:"clamped"`
	Median               *float64      `json:"median"`
	DifferenceFromMedian *float64      `json:"difference_from_median"`
	Level                Level         `json:"level,omitempty"`
	Issue                *reason.Issue `json:"issue,omitempty"`
}

// Comparison is the benchmark positioning of a score result.
type Comparison struct {
	Sector    string          `json:"sector"`
	Framework model.Framework `json:"framework"`
	Positions []Position      `json:"positions"`
	Issues    []reason.Issue  `json:"issues,omitempty"`
}

// Compare positions every metric of res that has a reference record for
// sector and the result's framework. Metrics are reported in id order.
func Compare(res scoring.Result, sector string, records []Record) Comparison {
	cmp := Comparison{Sector: sector, Framework: res.Framework}

	scores := map[string]*float64{MetricOverall: res.Overall, MetricNPQS: res.NPQS.Value}
	for _, d := range res.Dimensions {
		scores[d.DimensionID] = d.Score
	}

	var matched []Record
	for _, rec := range records {
		if !strings.EqualFold(rec.Sector, sector) || !strings.EqualFold(rec.Framework, string(res.Framework)) {
			continue
		}
		if _, ok := scores[rec.Metric]; ok {
			matched = append(matched, rec)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Metric < matched[j].Metric })

	for _, rec := range matched {
		pos := Position{Metric: rec.Metric, Score: scores[rec.Metric], Median: stats.Ptr(rec.Quantile(50))}
		if pos.Score == nil {
			issue := reason.NewIssue(reason.InsufficientData, rec.Metric, "no score to compare")
			pos.Issue = &issue
			cmp.Issues = append(cmp.Issues, issue)
			cmp.Positions = append(cmp.Positions, pos)
			continue
		}
		rank, clamped := rec.Rank(*pos.Score)
		pos.Percentile = stats.Ptr(rank)
		pos.Clamped = clamped
		pos.Level = LevelOf(rank)
		if pos.Median != nil {
			pos.DifferenceFromMedian = stats.Ptr(*pos.Score - *pos.Median)
		}
		cmp.Positions = append(cmp.Positions, pos)
	}
	return cmp
}
