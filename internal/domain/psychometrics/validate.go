package psychometrics

import (
	"github.com/okian/barometer/internal/domain/itembank"
	"github.com/okian/barometer/internal/domain/model"
	"github.com/okian/barometer/internal/domain/sheet"
	"github.com/okian/barometer/internal/domain/stats"
)

// Validate computes the validation report over the accepted responses.
func Validate(accepted []model.Response, bank *itembank.Bank, cfg Config) Report {
	sh := sheet.New(accepted, bank)
	dims := bank.Dimensions()

	reports := make([]DimensionReport, 0, len(dims))
	means := make(map[string]map[string]float64, len(dims))
	for _, d := range dims {
		s, m := summarize(sh, d, bank.LikertItems(d.ID))
		reports = append(reports, Assess(s, cfg))
		means[d.ID] = m
	}

	var pairs []Correlation
	for i := range dims {
		for j := i + 1; j < len(dims); j++ {
			a, b := dims[i].ID, dims[j].ID
			if b < a {
				a, b = b, a
			}
			pairs = append(pairs, AssessPair(pair(sh, a, b, means[a], means[b]), cfg))
		}
	}
	return NewReport(reports, pairs)
}

// summarize builds the complete-case matrix of one dimension and returns
// its summary plus each complete respondent's mean remapped value.
func summarize(sh *sheet.Sheet, d itembank.Dimension, items []itembank.Item) (Summary, map[string]float64) {
	s := Summary{DimensionID: d.ID, MinItems: d.MinItems, Items: len(items)}
	means := make(map[string]float64)
	if len(items) == 0 {
		return s, means
	}

	cols := make([][]float64, len(items))
	var totals []float64
	for _, id := range sh.Respondents() {
		row, ok := sh.Complete(id, items)
		if !ok {
			continue
		}
		var total float64
		for i, v := range row {
			cols[i] = append(cols[i], v)
			total += v
		}
		totals = append(totals, total)
		means[id] = total / float64(len(items))
	}

	s.Respondents = len(totals)
	s.TotalVariance = stats.Variance(totals)
	s.ItemVariances = make([]float64, len(items))
	s.Loadings = make([]float64, len(items))
	for i, col := range cols {
		s.ItemVariances[i] = stats.Variance(col)
		s.Loadings[i] = stats.Correlation(col, totals)
	}
	return s, means
}

func pair(sh *sheet.Sheet, a, b string, ma, mb map[string]float64) PairSummary {
	var xs, ys []float64
	for _, id := range sh.Respondents() {
		x, okA := ma[id]
		y, okB := mb[id]
		if okA && okB {
			xs = append(xs, x)
			ys = append(ys, y)
		}
	}
	return PairSummary{A: a, B: b, Respondents: len(xs), R: stats.Correlation(xs, ys)}
}
