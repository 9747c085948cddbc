// Package segment compares perception gaps between the individual and
// organizational views of each dimension, and dimension scores across
// demographic categories.
package segment

import (
	"errors"
	"sort"

	"github.com/okian/barometer/internal/domain/itembank"
	"github.com/okian/barometer/internal/domain/model"
	"github.com/okian/barometer/internal/domain/reason"
	"github.com/okian/barometer/internal/domain/sheet"
	"github.com/okian/barometer/internal/domain/stats"
)

// Gap is the signed difference individual minus organizational of one dimension.
type Gap struct {
	DimensionID    string   `json:"dimension_id"`
	Individual     *float64 `json:"individual"`
	Organizational *float64 `json:"organizational"`
	Gap            *float64 `json:"gap"`
}

// PairGap is the gap between an individual item and its organizational mirror,
// over respondents who answered both.
type PairGap struct {
	DimensionID    string   `json:"dimension_id"`
	ItemID         string   `json:"item_id"`
	MirrorID       string   `json:"mirror_id"`
	Respondents    int      `json:"respondents"`
	Individual     *float64 `json:"individual"`
	Organizational *float64 `json:"organizational"`
	Gap            *float64 `json:"gap"`
}

// DimensionValue is a dimension score inside a category.
type DimensionValue struct {
	DimensionID string   `json:"dimension_id"`
	Score       *float64 `json:"score"`
	Respondents int      `json:"respondents"`
}

// Category is one value of a demographic attribute.
type Category struct {
	Value       string           `json:"value"`
	Respondents int              `json:"respondents"`
	Suppressed  bool             `json:"suppressed"`
	Scores      []DimensionValue `json:"scores,omitempty"`
	Issue       *reason.Issue    `json:"issue,omitempty"`
}

// Test is the one-way ANOVA of one dimension across an attribute's categories.
type Test struct {
	DimensionID string        `json:"dimension_id"`
	Groups      int           `json:"groups"`
	ANOVA       *stats.ANOVA  `json:"anova,omitempty"`
	Issue       *reason.Issue `json:"issue,omitempty"`
}

// Segment is the breakdown of one demographic attribute.
type Segment struct {
	Attribute  string     `json:"attribute"`
	Categories []Category `json:"categories"`
	Tests      []Test     `json:"tests"`
}

// Report is the gap and segment report of an assessment.
type Report struct {
	Gaps     []Gap          `json:"gaps"`
	Pairs    []PairGap      `json:"pairs,omitempty"`
	Segments []Segment      `json:"segments,omitempty"`
	Issues   []reason.Issue `json:"issues,omitempty"`
}

// Analyze computes perception gaps and demographic segments.
func Analyze(accepted []model.Response, bank *itembank.Bank, respondents []model.Respondent, cfg Config) Report {
	sh := sheet.New(accepted, bank)
	dims := bank.Dimensions()
	sort.Slice(dims, func(i, j int) bool { return dims[i].ID < dims[j].ID })

	var rep Report
	for _, d := range dims {
		items := bank.LikertItems(d.ID)
		rep.Gaps = append(rep.Gaps, dimensionGap(sh, d.ID, items))
		rep.Pairs = append(rep.Pairs, pairGaps(sh, bank, items)...)
	}

	for _, seg := range segments(sh, bank, dims, respondents, cfg) {
		rep.Segments = append(rep.Segments, seg)
		for _, c := range seg.Categories {
			if c.Issue != nil {
				rep.Issues = append(rep.Issues, *c.Issue)
			}
		}
		for _, t := range seg.Tests {
			if t.Issue != nil {
				rep.Issues = append(rep.Issues, *t.Issue)
			}
		}
	}
	return rep
}

func dimensionGap(sh *sheet.Sheet, dimID string, items []itembank.Item) Gap {
	var ind, org []itembank.Item
	for _, it := range items {
		switch it.Perspective {
		case itembank.PerspectiveIndividual:
			ind = append(ind, it)
		case itembank.PerspectiveOrganizational:
			org = append(org, it)
		}
	}
	g := Gap{
		DimensionID:    dimID,
		Individual:     stats.Ptr(meanOfMeans(sh, sh.Respondents(), ind).Mean()),
		Organizational: stats.Ptr(meanOfMeans(sh, sh.Respondents(), org).Mean()),
	}
	if g.Individual != nil && g.Organizational != nil {
		g.Gap = stats.Ptr(*g.Individual - *g.Organizational)
	}
	return g
}

func pairGaps(sh *sheet.Sheet, bank *itembank.Bank, items []itembank.Item) []PairGap {
	var out []PairGap
	done := make(map[string]bool)
	for _, it := range items {
		if it.MirrorOf == "" {
			continue
		}
		mirror, _ := bank.Item(it.MirrorOf)
		ind, org := it, mirror
		if it.Perspective == itembank.PerspectiveOrganizational {
			ind, org = mirror, it
		}
		if done[ind.ID] {
			continue
		}
		done[ind.ID] = true
		var mi, mo stats.Moments
		for _, id := range sh.Respondents() {
			a, okA := sh.Value(id, ind.ID)
			b, okB := sh.Value(id, org.ID)
			if okA && okB {
				mi.Add(ind.Score(a))
				mo.Add(org.Score(b))
			}
		}
		p := PairGap{
			DimensionID: it.DimensionID, ItemID: ind.ID, MirrorID: org.ID, Respondents: mi.N(),
			Individual: stats.Ptr(mi.Mean()), Organizational: stats.Ptr(mo.Mean()),
		}
		if p.Individual != nil {
			p.Gap = stats.Ptr(*p.Individual - *p.Organizational)
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out
}

// respondentMeans returns the mean item score of each respondent in ids
// who answered at least one of items.
func respondentMeans(sh *sheet.Sheet, ids []string, items []itembank.Item) []float64 {
	var out []float64
	for _, id := range ids {
		if m, n := sh.MeanScore(id, items); n > 0 {
			out = append(out, m)
		}
	}
	return out
}

func meanOfMeans(sh *sheet.Sheet, ids []string, items []itembank.Item) stats.Moments {
	var m stats.Moments
	if len(items) == 0 {
		return m
	}
	for _, v := range respondentMeans(sh, ids, items) {
		m.Add(v)
	}
	return m
}

func segments(sh *sheet.Sheet, bank *itembank.Bank, dims []itembank.Dimension, respondents []model.Respondent, cfg Config) []Segment {
	answered := make(map[string]bool, len(sh.Respondents()))
	for _, id := range sh.Respondents() {
		answered[id] = true
	}

	// attribute -> category -> respondent ids
	groups := make(map[string]map[string][]string)
	for _, r := range respondents {
		if !answered[r.ID] {
			continue
		}
		for attr, val := range r.Demographics {
			if groups[attr] == nil {
				groups[attr] = make(map[string][]string)
			}
			groups[attr][val] = append(groups[attr][val], r.ID)
		}
	}

	attrs := make([]string, 0, len(groups))
	for a := range groups {
		attrs = append(attrs, a)
	}
	sort.Strings(attrs)

	out := make([]Segment, 0, len(attrs))
	for _, attr := range attrs {
		values := make([]string, 0, len(groups[attr]))
		for v := range groups[attr] {
			values = append(values, v)
			sort.Strings(groups[attr][v])
		}
		sort.Strings(values)

		seg := Segment{Attribute: attr}
		for _, v := range values {
			ids := groups[attr][v]
			c := Category{Value: v, Respondents: len(ids)}
			if len(ids) < cfg.MinGroupSize {
				c.Suppressed = true
				issue := reason.NewIssue(reason.InsufficientData, attr+"="+v,
					"%d respondents, need %d", len(ids), cfg.MinGroupSize)
				c.Issue = &issue
			} else {
				for _, d := range dims {
					m := meanOfMeans(sh, ids, bank.LikertItems(d.ID))
					c.Scores = append(c.Scores, DimensionValue{DimensionID: d.ID, Score: stats.Ptr(m.Mean()), Respondents: m.N()})
				}
			}
			seg.Categories = append(seg.Categories, c)
		}

		for _, d := range dims {
			seg.Tests = append(seg.Tests, anova(sh, attr, d.ID, bank.LikertItems(d.ID), seg.Categories, groups[attr], cfg))
		}
		out = append(out, seg)
	}
	return out
}

func anova(sh *sheet.Sheet, attr, dimID string, items []itembank.Item, cats []Category, members map[string][]string, cfg Config) Test {
	t := Test{DimensionID: dimID}
	var samples [][]float64
	for _, c := range cats {
		if c.Suppressed {
			continue
		}
		values := respondentMeans(sh, members[c.Value], items)
		if len(values) < cfg.MinGroupSize {
			continue
		}
		samples = append(samples, values)
	}
	t.Groups = len(samples)

	res, err := stats.OneWayANOVA(samples)
	if err != nil {
		detail := "fewer than two comparable groups"
		switch {
		case errors.Is(err, stats.ErrNoWithinFreedom):
			detail = "no within-group degrees of freedom"
		case errors.Is(err, stats.ErrZeroWithinVariance):
			detail = "within-group variance is zero"
		}
		issue := reason.NewIssue(reason.InsufficientData, attr+"/"+dimID, "%s", detail)
		t.Issue = &issue
		return t
	}
	t.ANOVA = &res
	return t
}
