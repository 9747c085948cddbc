// Package stream maintains the validation report and score result of an
// assessment incrementally as accepted responses arrive.
//
// Each response updates online moments, co-moments and running tallies;
// a correction removes the superseded contribution before adding the new
// one. Snapshot reduces the state to the same summaries the batch engines
// build, so both paths share the gate and assembly code.
package stream

import (
	"fmt"
	"sync"

	"github.com/okian/barometer/internal/domain/itembank"
	"github.com/okian/barometer/internal/domain/model"
	"github.com/okian/barometer/internal/domain/psychometrics"
	"github.com/okian/barometer/internal/domain/scoring"
	"github.com/okian/barometer/internal/domain/stats"
)

type dimState struct {
	dim     itembank.Dimension
	items   []itembank.Item
	index   map[string]int
	themes  []scoring.Theme
	score   scoring.Tally
	themeT  map[scoring.ThemeKey]scoring.Tally
	total   stats.Moments
	loading []stats.Comoment
}

type pairKey struct{ a, b string }

// Aggregator is safe for one writer and many readers.
type Aggregator struct {
	mu           sync.RWMutex
	assessmentID string
	bank         *itembank.Bank
	psy          psychometrics.Config
	sc           scoring.Config

	dims      []*dimState
	dimIndex  map[string]*dimState
	pairs     map[pairKey]*stats.Comoment
	items     map[string]scoring.Tally
	recItems  []itembank.Item
	answers   map[string]map[string]float64
	revisions map[model.Key]int
	category  map[string]int
	npqs      [3]int // detractors, passives, promoters
	count     int
}

// New returns an empty aggregator for one assessment.
func New(assessmentID string, bank *itembank.Bank, psy psychometrics.Config, sc scoring.Config) *Aggregator {
	g := &Aggregator{
		assessmentID: assessmentID,
		bank:         bank,
		psy:          psy,
		sc:           sc,
		dimIndex:     make(map[string]*dimState),
		pairs:        make(map[pairKey]*stats.Comoment),
		items:        make(map[string]scoring.Tally),
		recItems:     bank.RecommendationItems(),
		answers:      make(map[string]map[string]float64),
		revisions:    make(map[model.Key]int),
		category:     make(map[string]int),
	}
	for _, d := range bank.Dimensions() {
		items := bank.LikertItems(d.ID)
		ds := &dimState{
			dim:     d,
			items:   items,
			index:   make(map[string]int, len(items)),
			themes:  scoring.ThemesOf(items),
			themeT:  make(map[scoring.ThemeKey]scoring.Tally),
			loading: make([]stats.Comoment, len(items)),
		}
		for i, it := range items {
			ds.index[it.ID] = i
		}
		g.dims = append(g.dims, ds)
		g.dimIndex[d.ID] = ds
	}
	for i := range g.dims {
		for j := i + 1; j < len(g.dims); j++ {
			g.pairs[orderedPair(g.dims[i].dim.ID, g.dims[j].dim.ID)] = &stats.Comoment{}
		}
	}
	return g
}

func orderedPair(a, b string) pairKey {
	if b < a {
		a, b = b, a
	}
	return pairKey{a, b}
}

// Count returns the number of responses folded in, corrections included.
func (g *Aggregator) Count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.count
}

// Add folds one accepted response. Free-text answers and revisions older
// than the one already held are ignored.
func (g *Aggregator) Add(r model.Response) error {
	if r.AssessmentID != g.assessmentID {
		return fmt.Errorf("%w: %s", ErrWrongAssessment, r.AssessmentID)
	}
	it, ok := g.bank.Item(r.ItemID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownItem, r.ItemID)
	}
	if it.Kind == itembank.KindFreeText {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if rev, seen := g.revisions[r.Key()]; seen && rev >= r.Revision {
		return nil
	}
	g.revisions[r.Key()] = r.Revision
	g.count++

	switch it.Kind {
	case itembank.KindRecommendation:
		g.setRecommendation(r.RespondentID, r.ItemID, r.Value)
	case itembank.KindLikert:
		g.setLikert(g.dimIndex[it.DimensionID], it, r.RespondentID, r.Value)
	}
	return nil
}

func (g *Aggregator) set(respondent, item string, v float64) (float64, bool) {
	row, ok := g.answers[respondent]
	if !ok {
		row = make(map[string]float64)
		g.answers[respondent] = row
	}
	old, had := row[item]
	row[item] = v
	return old, had
}

func (g *Aggregator) setRecommendation(respondent, item string, v float64) {
	if c, ok := g.category[respondent]; ok {
		g.npqs[c+1]--
	}
	g.set(respondent, item, v)

	var sum float64
	n := 0
	for _, it := range g.recItems {
		if x, ok := g.answers[respondent][it.ID]; ok {
			sum += x
			n++
		}
	}
	c := scoring.Category(sum / float64(n))
	g.category[respondent] = c
	g.npqs[c+1]++
}

// respondentView is what one respondent contributes to a dimension.
type respondentView struct {
	mean     float64 // mean 0..100 score over answered items
	answered int
	themes   map[scoring.ThemeKey]float64
	row      []float64 // remapped values, nil unless complete
	rowMean  float64
}

func (g *Aggregator) view(ds *dimState, respondent string) respondentView {
	answers := g.answers[respondent]
	v := respondentView{themes: make(map[scoring.ThemeKey]float64)}

	var sum float64
	for _, it := range ds.items {
		if x, ok := answers[it.ID]; ok {
			sum += it.Score(x)
			v.answered++
		}
	}
	if v.answered > 0 {
		v.mean = sum / float64(v.answered)
	}
	for _, th := range ds.themes {
		var ts float64
		n := 0
		for _, it := range th.Items {
			if x, ok := answers[it.ID]; ok {
				ts += it.Score(x)
				n++
			}
		}
		if n > 0 {
			v.themes[th.Key] = ts / float64(n)
		}
	}

	if len(ds.items) == 0 {
		return v
	}
	row := make([]float64, len(ds.items))
	var total float64
	for i, it := range ds.items {
		x, ok := answers[it.ID]
		if !ok {
			return v
		}
		row[i] = it.Remap(x)
		total += row[i]
	}
	v.row = row
	v.rowMean = total / float64(len(row))
	return v
}

func (g *Aggregator) setLikert(ds *dimState, it itembank.Item, respondent string, value float64) {
	before := g.view(ds, respondent)
	old, had := g.set(respondent, it.ID, value)
	after := g.view(ds, respondent)

	t := g.items[it.ID]
	if had {
		t.Sum -= it.Score(old)
		t.N--
	}
	t.Sum += it.Score(value)
	t.N++
	g.items[it.ID] = t

	if before.answered > 0 {
		ds.score.Sum -= before.mean
		ds.score.N--
	}
	ds.score.Sum += after.mean
	ds.score.N++

	for key, m := range before.themes {
		tt := ds.themeT[key]
		tt.Sum -= m
		tt.N--
		ds.themeT[key] = tt
	}
	for key, m := range after.themes {
		tt := ds.themeT[key]
		tt.Sum += m
		tt.N++
		ds.themeT[key] = tt
	}

	if before.row != nil {
		g.removeRow(ds, before.row)
	}
	if after.row != nil {
		g.addRow(ds, after.row)
	}

	for _, other := range g.dims {
		if other == ds {
			continue
		}
		ov := g.view(other, respondent)
		if ov.row == nil {
			continue
		}
		key := orderedPair(ds.dim.ID, other.dim.ID)
		c := g.pairs[key]
		if before.row != nil {
			removePair(c, key, ds.dim.ID, before.rowMean, ov.rowMean)
		}
		if after.row != nil {
			addPair(c, key, ds.dim.ID, after.rowMean, ov.rowMean)
		}
	}
}

func (g *Aggregator) addRow(ds *dimState, row []float64) {
	var total float64
	for _, v := range row {
		total += v
	}
	ds.total.Add(total)
	for i, v := range row {
		ds.loading[i].Add(v, total)
	}
}

func (g *Aggregator) removeRow(ds *dimState, row []float64) {
	var total float64
	for _, v := range row {
		total += v
	}
	ds.total.Remove(total)
	for i, v := range row {
		ds.loading[i].Remove(v, total)
	}
}

// addPair orients (mine, theirs) so the pair's first variable is key.a.
func addPair(c *stats.Comoment, key pairKey, mine string, x, y float64) {
	if key.a == mine {
		c.Add(x, y)
		return
	}
	c.Add(y, x)
}

func removePair(c *stats.Comoment, key pairKey, mine string, x, y float64) {
	if key.a == mine {
		c.Remove(x, y)
		return
	}
	c.Remove(y, x)
}

// Snapshot returns the current validation report and score result.
func (g *Aggregator) Snapshot() (psychometrics.Report, scoring.Result, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	reports := make([]psychometrics.DimensionReport, 0, len(g.dims))
	tallies := scoring.NewTallies()
	for _, ds := range g.dims {
		s := psychometrics.Summary{
			DimensionID:   ds.dim.ID,
			MinItems:      ds.dim.MinItems,
			Items:         len(ds.items),
			Respondents:   ds.total.N(),
			TotalVariance: ds.total.Variance(),
			ItemVariances: make([]float64, len(ds.items)),
			Loadings:      make([]float64, len(ds.items)),
		}
		for i := range ds.loading {
			s.ItemVariances[i] = ds.loading[i].X().Variance()
			s.Loadings[i] = ds.loading[i].Correlation()
		}
		reports = append(reports, psychometrics.Assess(s, g.psy))

		tallies.Dimensions[ds.dim.ID] = ds.score
		for k, t := range ds.themeT {
			tallies.Themes[k] = t
		}
	}
	for id, t := range g.items {
		tallies.Items[id] = t
	}
	tallies.Detractors, tallies.Passives, tallies.Promoters = g.npqs[0], g.npqs[1], g.npqs[2]

	pairs := make([]psychometrics.Correlation, 0, len(g.pairs))
	for key, c := range g.pairs {
		pairs = append(pairs, psychometrics.AssessPair(psychometrics.PairSummary{
			A: key.a, B: key.b, Respondents: c.N(), R: c.Correlation(),
		}, g.psy))
	}

	report := psychometrics.NewReport(reports, pairs)
	res, err := scoring.Assemble(g.bank, g.sc, &report, tallies)
	return report, res, err
}
