// Package psychometrics decides whether each dimension's items measure it
// consistently enough for its score to be trusted.
//
// Reliability is Cronbach's α over the complete-case item matrix; convergent
// validity is the average variance extracted, with item-total correlations
// standing in for factor loadings. Undefined statistics are reported as nil
// together with an InsufficientData issue, never as a number.
package psychometrics

import (
	"math"
	"sort"

	"github.com/okian/barometer/internal/domain/reason"
	"github.com/okian/barometer/internal/domain/stats"
)

// Status is the gate decision for a dimension.
type Status string

// Gate decisions.
const (
	Reliable         Status = "reliable"
	Unreliable       Status = "unreliable"
	InsufficientData Status = "insufficient_data"
)

// DimensionReport is the validation outcome of one dimension.
type DimensionReport struct {
	DimensionID          string        `json:"dimension_id"`
	Status               Status        `json:"status"`
	Alpha                *float64      `json:"alpha"`
	AVE                  *float64      `json:"ave"`
	CompositeReliability *float64      `json:"composite_reliability"`
	Items                int           `json:"items"`
	Respondents          int           `json:"respondents"`
	Issue                *reason.Issue `json:"issue,omitempty"`
}

// Correlation relates the respondent means of two dimensions.
type Correlation struct {
	A            string   `json:"a"`
	B            string   `json:"b"`
	R            *float64 `json:"r"`
	Respondents  int      `json:"respondents"`
	Discriminant bool     `json:"discriminant"`
}

// Report is the validation report of an assessment.
type Report struct {
	Dimensions   []DimensionReport `json:"dimensions"`
	Correlations []Correlation     `json:"correlations,omitempty"`
	Issues       []reason.Issue    `json:"issues,omitempty"`
}

// Dimension looks up the report of one dimension.
func (r Report) Dimension(id string) (DimensionReport, bool) {
	for _, d := range r.Dimensions {
		if d.DimensionID == id {
			return d, true
		}
	}
	return DimensionReport{}, false
}

// Summary holds the sufficient statistics of a dimension's complete-case
// matrix. Batch and streaming paths both reduce to it.
type Summary struct {
	DimensionID   string
	MinItems      int
	Items         int
	Respondents   int
	ItemVariances []float64
	TotalVariance float64
	// Loadings are item-total correlations in item id order; NaN when undefined.
	Loadings []float64
}

// Assess applies the gate to a summary.
func Assess(s Summary, cfg Config) DimensionReport {
	rep := DimensionReport{DimensionID: s.DimensionID, Items: s.Items, Respondents: s.Respondents, Status: InsufficientData}

	insufficient := func(format string, args ...any) DimensionReport {
		issue := reason.NewIssue(reason.InsufficientData, s.DimensionID, format, args...)
		rep.Issue = &issue
		return rep
	}

	if s.Items < s.MinItems {
		return insufficient("%d scored items, need %d", s.Items, s.MinItems)
	}
	if s.Respondents < cfg.MinRespondents {
		return insufficient("%d complete respondents, need %d", s.Respondents, cfg.MinRespondents)
	}
	if !stats.Defined(s.TotalVariance) || stats.NearZero(s.TotalVariance) {
		return insufficient("total score variance is zero")
	}

	k := float64(s.Items)
	var sumVar float64
	for _, v := range s.ItemVariances {
		sumVar += v
	}
	rep.Alpha = stats.Ptr(k / (k - 1) * (1 - sumVar/s.TotalVariance))

	for i, v := range s.ItemVariances {
		if stats.NearZero(v) || !stats.Defined(s.Loadings[i]) {
			return insufficient("item %d has zero variance", i+1)
		}
	}

	var sumL, sumL2, sumErr float64
	for _, l := range s.Loadings {
		sumL += l
		sumL2 += l * l
		sumErr += 1 - l*l
	}
	rep.AVE = stats.Ptr(sumL2 / k)
	rep.CompositeReliability = stats.Ptr(sumL * sumL / (sumL*sumL + sumErr))

	rep.Status = Unreliable
	if rep.Alpha != nil && *rep.Alpha >= cfg.AlphaThreshold && *rep.AVE >= cfg.AVEThreshold {
		rep.Status = Reliable
	}
	return rep
}

// PairSummary holds the correlation inputs for two dimensions.
type PairSummary struct {
	A, B        string
	Respondents int
	R           float64
}

// AssessPair applies the discriminant check to a pair.
func AssessPair(p PairSummary, cfg Config) Correlation {
	c := Correlation{A: p.A, B: p.B, Respondents: p.Respondents}
	if p.Respondents < cfg.MinRespondents {
		return c
	}
	c.R = stats.Ptr(p.R)
	if c.R != nil {
		c.Discriminant = math.Abs(*c.R) < cfg.DiscriminantMax
	}
	return c
}

// NewReport assembles a report with dimensions and pairs in id order.
func NewReport(dims []DimensionReport, pairs []Correlation) Report {
	sort.Slice(dims, func(i, j int) bool { return dims[i].DimensionID < dims[j].DimensionID })
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].A != pairs[j].A {
			return pairs[i].A < pairs[j].A
		}
		return pairs[i].B < pairs[j].B
	})
	rep := Report{Dimensions: dims, Correlations: pairs}
	for _, d := range dims {
		if d.Issue != nil {
			rep.Issues = append(rep.Issues, *d.Issue)
		}
	}
	return rep
}
