// Package scoring turns accepted responses into item, theme and dimension
// scores, the weighted overall score, NPQS and a maturity level.
//
// Compute is a pure function of its inputs: responses are reduced to
// canonically ordered tallies first, so identical inputs always produce a
// byte-identical Result.
package scoring

import (
	"fmt"
	"math"
	"sort"

	"github.com/okian/barometer/internal/domain/itembank"
	"github.com/okian/barometer/internal/domain/model"
	"github.com/okian/barometer/internal/domain/psychometrics"
	"github.com/okian/barometer/internal/domain/reason"
	"github.com/okian/barometer/internal/domain/sheet"
	"github.com/okian/barometer/internal/domain/stats"
)

// ComputationVersion identifies the scoring rules. Results are keyed by
// (assessment id, ComputationVersion).
const ComputationVersion = "2026.1"

// NPQS respondent categories on the 0..10 recommendation scale.
const (
	promoterMin = 9
	passiveMin  = 7
)

// Confidence tells a reader how far a score can be trusted.
type Confidence string

// Confidence levels, from strongest to weakest.
const (
	ConfidenceHigh         Confidence = "high"
	ConfidenceLow          Confidence = "low"
	ConfidenceInsufficient Confidence = "insufficient_data"
)

func (c Confidence) weaker(o Confidence) Confidence {
	rank := map[Confidence]int{ConfidenceHigh: 0, ConfidenceLow: 1, ConfidenceInsufficient: 2}
	if rank[o] > rank[c] {
		return o
	}
	return c
}

// ItemScore is the mean 0..100 score of one item.
type ItemScore struct {
	ItemID    string   `json:"item_id"`
	Score     *float64 `json:"score"`
	Responses int      `json:"responses"`
}

// ThemeScore is the score of a sub-theme within a dimension.
type ThemeScore struct {
	DimensionID string   `json:"dimension_id"`
	Theme       string   `json:"theme"`
	Score       *float64 `json:"score"`
	Respondents int      `json:"respondents"`
}

// DimensionScore is the score of one dimension with the confidence carried
// over from the validation report.
type DimensionScore struct {
	DimensionID string               `json:"dimension_id"`
	Weight      float64              `json:"weight"`
	Score       *float64             `json:"score"`
	Respondents int                  `json:"respondents"`
	Status      psychometrics.Status `json:"status"`
	Confidence  Confidence           `json:"confidence"`
}

// NPQS is the Net Promoter Quality Score and its category breakdown.
type NPQS struct {
	Value       *float64 `json:"value"`
	Respondents int      `json:"respondents"`
	Promoters   int      `json:"promoters"`
	Passives    int      `json:"passives"`
	Detractors  int      `json:"detractors"`
	PromoterPct float64  `json:"promoter_pct"`
	PassivePct  float64  `json:"passive_pct"`
	DetractPct  float64  `json:"detractor_pct"`
}

// Result is the score result of an assessment.
type Result struct {
	ComputationVersion string           `json:"computation_version"`
	BankVersion        string           `json:"bank_version"`
	Framework          model.Framework  `json:"framework"`
	Items              []ItemScore      `json:"items"`
	Themes             []ThemeScore     `json:"themes,omitempty"`
	Dimensions         []DimensionScore `json:"dimensions"`
	Overall            *float64         `json:"overall"`
	OverallConfidence  Confidence       `json:"overall_confidence"`
	Maturity           Level            `json:"maturity,omitempty"`
	NPQS               NPQS             `json:"npqs"`
	Issues             []reason.Issue   `json:"issues,omitempty"`
}

// Dimension looks up the score of one dimension.
func (r Result) Dimension(id string) (DimensionScore, bool) {
	for _, d := range r.Dimensions {
		if d.DimensionID == id {
			return d, true
		}
	}
	return DimensionScore{}, false
}

// Tally is a running sum and count.
type Tally struct {
	Sum float64
	N   int
}

// Mean returns Sum/N, NaN when empty.
func (t Tally) Mean() float64 {
	if t.N == 0 {
		return math.NaN()
	}
	return t.Sum / float64(t.N)
}

// ThemeKey identifies a theme within a dimension.
type ThemeKey struct {
	DimensionID string
	Theme       string
}

// Tallies are the sufficient statistics of a Result. The batch and
// streaming paths both reduce responses to Tallies and call Assemble.
type Tallies struct {
	Items      map[string]Tally
	Dimensions map[string]Tally
	Themes     map[ThemeKey]Tally
	Promoters  int
	Passives   int
	Detractors int
}

// NewTallies returns empty tallies.
func NewTallies() Tallies {
	return Tallies{
		Items:      make(map[string]Tally),
		Dimensions: make(map[string]Tally),
		Themes:     make(map[ThemeKey]Tally),
	}
}

// Category classifies a respondent's mean recommendation answer: +1
// promoter, 0 passive, -1 detractor.
func Category(mean float64) int {
	switch {
	case mean >= promoterMin:
		return 1
	case mean >= passiveMin:
		return 0
	default:
		return -1
	}
}

// Compute scores the accepted responses. report may be nil, in which case
// every dimension is reported with insufficient confidence.
func Compute(accepted []model.Response, bank *itembank.Bank, cfg Config, report *psychometrics.Report) (Result, error) {
	sh := sheet.New(accepted, bank)
	t := NewTallies()

	for _, it := range bank.Items() {
		if it.Kind != itembank.KindLikert {
			continue
		}
		var tally Tally
		for _, id := range sh.Respondents() {
			if v, ok := sh.Value(id, it.ID); ok {
				tally.Sum += it.Score(v)
				tally.N++
			}
		}
		t.Items[it.ID] = tally
	}

	for _, d := range bank.Dimensions() {
		items := bank.LikertItems(d.ID)
		themes := ThemesOf(items)
		var tally Tally
		for _, id := range sh.Respondents() {
			if m, n := sh.MeanScore(id, items); n > 0 {
				tally.Sum += m
				tally.N++
			}
			for _, th := range themes {
				if m, n := sh.MeanScore(id, th.Items); n > 0 {
					tt := t.Themes[th.Key]
					tt.Sum += m
					tt.N++
					t.Themes[th.Key] = tt
				}
			}
		}
		t.Dimensions[d.ID] = tally
	}

	rec := bank.RecommendationItems()
	for _, id := range sh.Respondents() {
		var sum float64
		n := 0
		for _, it := range rec {
			if v, ok := sh.Value(id, it.ID); ok {
				sum += v
				n++
			}
		}
		if n == 0 {
			continue
		}
		switch Category(sum / float64(n)) {
		case 1:
			t.Promoters++
		case 0:
			t.Passives++
		default:
			t.Detractors++
		}
	}

	return Assemble(bank, cfg, report, t)
}

// Theme groups the items of one theme.
type Theme struct {
	Key   ThemeKey
	Items []itembank.Item
}

// ThemesOf groups dimension items by theme, in theme order. Items without
// a theme are skipped.
func ThemesOf(items []itembank.Item) []Theme {
	idx := make(map[string]int)
	var out []Theme
	for _, it := range items {
		if it.Theme == "" {
			continue
		}
		i, ok := idx[it.Theme]
		if !ok {
			i = len(out)
			idx[it.Theme] = i
			out = append(out, Theme{Key: ThemeKey{DimensionID: it.DimensionID, Theme: it.Theme}})
		}
		out[i].Items = append(out[i].Items, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.Theme < out[j].Key.Theme })
	return out
}

// Assemble builds a Result from tallies.
func Assemble(bank *itembank.Bank, cfg Config, report *psychometrics.Report, t Tallies) (Result, error) {
	weights, err := resolveWeights(bank, cfg)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		ComputationVersion: ComputationVersion,
		BankVersion:        bank.Version(),
		Framework:          bank.Framework(),
		OverallConfidence:  ConfidenceHigh,
	}

	items := bank.Items()
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	for _, it := range items {
		if it.Kind != itembank.KindLikert {
			continue
		}
		tally := t.Items[it.ID]
		res.Items = append(res.Items, ItemScore{ItemID: it.ID, Score: stats.Ptr(tally.Mean()), Responses: tally.N})
	}

	dims := bank.Dimensions()
	sort.Slice(dims, func(i, j int) bool { return dims[i].ID < dims[j].ID })
	var overall float64
	overallDefined := true
	for _, d := range dims {
		tally := t.Dimensions[d.ID]
		ds := DimensionScore{
			DimensionID: d.ID,
			Weight:      weights[d.ID],
			Score:       stats.Ptr(tally.Mean()),
			Respondents: tally.N,
			Status:      psychometrics.InsufficientData,
			Confidence:  ConfidenceInsufficient,
		}
		if report != nil {
			if v, ok := report.Dimension(d.ID); ok {
				ds.Status = v.Status
				ds.Confidence = confidenceOf(v.Status)
			}
		}
		if ds.Score == nil {
			overallDefined = false
			res.Issues = append(res.Issues, reason.NewIssue(reason.InsufficientData, d.ID, "no respondent answered this dimension"))
		} else {
			overall += ds.Weight * *ds.Score
		}
		res.OverallConfidence = res.OverallConfidence.weaker(ds.Confidence)
		res.Dimensions = append(res.Dimensions, ds)

		for _, th := range ThemesOf(bank.LikertItems(d.ID)) {
			tt := t.Themes[th.Key]
			res.Themes = append(res.Themes, ThemeScore{
				DimensionID: d.ID, Theme: th.Key.Theme, Score: stats.Ptr(tt.Mean()), Respondents: tt.N,
			})
		}
	}

	if overallDefined {
		res.Overall = stats.Ptr(overall)
		res.Maturity = cfg.Grid(bank.Framework()).Classify(overall)
	} else {
		res.OverallConfidence = ConfidenceInsufficient
		res.Issues = append(res.Issues, reason.NewIssue(reason.InsufficientData, "overall", "at least one weighted dimension has no data"))
	}

	res.NPQS = npqs(t, cfg)
	if res.NPQS.Value == nil {
		res.Issues = append(res.Issues, reason.NewIssue(reason.InsufficientData, "npqs",
			"%d recommendation respondents, need %d", res.NPQS.Respondents, cfg.NPQSMinResponses))
	}
	return res, nil
}

func npqs(t Tallies, cfg Config) NPQS {
	n := NPQS{Respondents: t.Promoters + t.Passives + t.Detractors, Promoters: t.Promoters, Passives: t.Passives, Detractors: t.Detractors}
	if n.Respondents == 0 {
		return n
	}
	total := float64(n.Respondents)
	n.PromoterPct = 100 * float64(t.Promoters) / total
	n.PassivePct = 100 * float64(t.Passives) / total
	n.DetractPct = 100 * float64(t.Detractors) / total
	if n.Respondents >= cfg.NPQSMinResponses {
		n.Value = stats.Ptr(100 * float64(t.Promoters-t.Detractors) / total)
	}
	return n
}

func confidenceOf(s psychometrics.Status) Confidence {
	switch s {
	case psychometrics.Reliable:
		return ConfidenceHigh
	case psychometrics.Unreliable:
		return ConfidenceLow
	default:
		return ConfidenceInsufficient
	}
}

func resolveWeights(bank *itembank.Bank, cfg Config) (map[string]float64, error) {
	out := make(map[string]float64)
	if len(cfg.Weights) == 0 {
		for _, d := range bank.Dimensions() {
			out[d.ID] = d.Weight
		}
		return out, nil
	}
	for _, d := range bank.Dimensions() {
		w, ok := cfg.Weights[d.ID]
		if !ok {
			return nil, fmt.Errorf("%w: no weight for dimension %q", ErrInvalidWeights, d.ID)
		}
		out[d.ID] = w
	}
	if len(out) != len(cfg.Weights) {
		return nil, fmt.Errorf("%w: weights name dimensions outside bank %s", ErrInvalidWeights, bank.Version())
	}
	return out, nil
}
