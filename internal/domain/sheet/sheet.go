// Package sheet indexes the current answers of an assessment by respondent
// and item, in canonical order, for the batch engines.
package sheet

import (
	"sort"

	"github.com/okian/barometer/internal/domain/itembank"
	"github.com/okian/barometer/internal/domain/model"
)

// Sheet is a read-only respondent × item table.
type Sheet struct {
	respondents []string
	values      map[string]map[string]float64
}

// New keeps the latest revision of each slot. Items the bank does not know
// and free-text answers are dropped.
func New(accepted []model.Response, bank *itembank.Bank) *Sheet {
	s := &Sheet{values: make(map[string]map[string]float64)}
	for _, r := range model.Current(accepted) {
		it, ok := bank.Item(r.ItemID)
		if !ok || it.Kind == itembank.KindFreeText {
			continue
		}
		row, ok := s.values[r.RespondentID]
		if !ok {
			row = make(map[string]float64)
			s.values[r.RespondentID] = row
			s.respondents = append(s.respondents, r.RespondentID)
		}
		row[r.ItemID] = r.Value
	}
	sort.Strings(s.respondents)
	return s
}

// Respondents returns respondent ids in ascending order.
func (s *Sheet) Respondents() []string { return s.respondents }

// Value returns the raw answer of respondent to item.
func (s *Sheet) Value(respondent, item string) (float64, bool) {
	v, ok := s.values[respondent][item]
	return v, ok
}

// Complete returns the remapped answers of respondent to every item, or
// false when any is missing.
func (s *Sheet) Complete(respondent string, items []itembank.Item) ([]float64, bool) {
	row := make([]float64, len(items))
	for i, it := range items {
		v, ok := s.values[respondent][it.ID]
		if !ok {
			return nil, false
		}
		row[i] = it.Remap(v)
	}
	return row, true
}

// MeanScore returns respondent's mean 0..100 score over the answered items.
func (s *Sheet) MeanScore(respondent string, items []itembank.Item) (float64, int) {
	var sum float64
	n := 0
	for _, it := range items {
		v, ok := s.values[respondent][it.ID]
		if !ok {
			continue
		}
		sum += it.Score(v)
		n++
	}
	if n == 0 {
		return 0, 0
	}
	return sum / float64(n), n
}
