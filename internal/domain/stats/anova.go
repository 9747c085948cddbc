package stats

import (
	"gonum.org/v1/gonum/mathext"
)

// ANOVA is the result of a one-way analysis of variance.
type ANOVA struct {
	F         float64 `json:"f"`
	P         float64 `json:"p"`
	DFBetween int     `json:"df_between"`
	DFWithin  int     `json:"df_within"`
	SSBetween float64 `json:"ss_between"`
	SSWithin  float64 `json:"ss_within"`
}

// OneWayANOVA tests whether the group means differ. Empty groups are ignored.
func OneWayANOVA(groups [][]float64) (ANOVA, error) {
	var (
		all     Moments
		members []Moments
	)
	for _, g := range groups {
		if len(g) == 0 {
			continue
		}
		var m Moments
		for _, v := range g {
			m.Add(v)
			all.Add(v)
		}
		members = append(members, m)
	}
	if len(members) < 2 {
		return ANOVA{}, ErrTooFewGroups
	}

	var res ANOVA
	for _, m := range members {
		d := m.mean - all.mean
		res.SSBetween += float64(m.n) * d * d
		res.SSWithin += m.m2
	}
	res.DFBetween = len(members) - 1
	res.DFWithin = all.n - len(members)
	if res.DFWithin <= 0 {
		return res, ErrNoWithinFreedom
	}
	if res.SSWithin == 0 {
		return res, ErrZeroWithinVariance
	}

	msb := res.SSBetween / float64(res.DFBetween)
	msw := res.SSWithin / float64(res.DFWithin)
	res.F = msb / msw
	res.P = fSurvival(res.F, float64(res.DFBetween), float64(res.DFWithin))
	return res, nil
}

// fSurvival is P(X > f) for X ~ F(d1, d2), taken from the upper tail of the
// incomplete beta function so small p-values keep their precision.
func fSurvival(f, d1, d2 float64) float64 {
	if f <= 0 {
		return 1
	}
	return mathext.RegIncBeta(d2/2, d1/2, d2/(d2+d1*f))
}
