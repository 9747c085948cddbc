package psychometrics_test

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/okian/barometer/internal/domain/itembank"
	"github.com/okian/barometer/internal/domain/model"
	"github.com/okian/barometer/internal/domain/psychometrics"
	"github.com/okian/barometer/internal/domain/reason"
	. "github.com/smartystreets/goconvey/convey"
)

// bank builds dimensions "a" and "b" with k items each on 1..5; the last
// item of "a" is reverse scored.
func bank(k int) *itembank.Bank {
	var items []itembank.Item
	for _, dim := range []string{"a", "b"} {
		for i := 1; i <= k; i++ {
			items = append(items, itembank.Item{
				ID: fmt.Sprintf("%s%d", dim, i), DimensionID: dim, Kind: itembank.KindLikert,
				Scale: itembank.Scale{Min: 1, Max: 5}, Reverse: dim == "a" && i == k,
			})
		}
	}
	b, err := itembank.New("v1", model.FrameworkEFQM,
		[]itembank.Dimension{{ID: "a", Weight: 0.5}, {ID: "b", Weight: 0.5}}, items)
	if err != nil {
		panic(err)
	}
	return b
}

func respond(out []model.Response, respondent, item string, v float64) []model.Response {
	return append(out, model.Response{AssessmentID: "as", RespondentID: respondent, ItemID: item, Value: v})
}

func TestValidate(t *testing.T) {
	cfg := psychometrics.DefaultConfig()

	Convey("Given four perfectly correlated items", t, func() {
		b := bank(4)
		var rs []model.Response
		for r := 0; r < 40; r++ {
			id := fmt.Sprintf("r%02d", r)
			v := float64(r%5 + 1)
			for i := 1; i <= 3; i++ {
				rs = respond(rs, id, fmt.Sprintf("a%d", i), v)
			}
			rs = respond(rs, id, "a4", 6-v)
		}

		rep := psychometrics.Validate(rs, b, cfg)
		a, ok := rep.Dimension("a")

		Convey("Then alpha and AVE equal one and the dimension is reliable", func() {
			So(ok, ShouldBeTrue)
			So(a.Status, ShouldEqual, psychometrics.Reliable)
			So(*a.Alpha, ShouldAlmostEqual, 1.0, 1e-9)
			So(*a.AVE, ShouldAlmostEqual, 1.0, 1e-9)
			So(a.Items, ShouldEqual, 4)
			So(a.Respondents, ShouldEqual, 40)
		})

		Convey("Then a dimension without answers is insufficient", func() {
			bRep, _ := rep.Dimension("b")
			So(bRep.Status, ShouldEqual, psychometrics.InsufficientData)
			So(bRep.Alpha, ShouldBeNil)
			So(bRep.Issue.Code, ShouldEqual, reason.InsufficientData)
			So(bRep.Issue.EntityID, ShouldEqual, "b")
		})
	})

	Convey("Given four independent random items", t, func() {
		b := bank(4)
		rng := rand.New(rand.NewSource(7))
		var rs []model.Response
		for r := 0; r < 3000; r++ {
			id := fmt.Sprintf("r%04d", r)
			for i := 1; i <= 4; i++ {
				rs = respond(rs, id, fmt.Sprintf("b%d", i), float64(rng.Intn(5)+1))
			}
		}

		rep := psychometrics.Validate(rs, b, cfg)
		d, _ := rep.Dimension("b")

		Convey("Then alpha approaches zero and the dimension is unreliable", func() {
			So(d.Alpha, ShouldNotBeNil)
			So(math.Abs(*d.Alpha), ShouldBeLessThan, 0.15)
			So(d.Status, ShouldEqual, psychometrics.Unreliable)
		})
	})

	Convey("Given fewer respondents than the minimum", t, func() {
		b := bank(4)
		var rs []model.Response
		for r := 0; r < 29; r++ {
			id := fmt.Sprintf("r%02d", r)
			for i := 1; i <= 4; i++ {
				rs = respond(rs, id, fmt.Sprintf("b%d", i), float64((r+i)%5+1))
			}
		}

		d, _ := psychometrics.Validate(rs, b, cfg).Dimension("b")

		Convey("Then the result is InsufficientData, never a numeric alpha", func() {
			So(d.Status, ShouldEqual, psychometrics.InsufficientData)
			So(d.Alpha, ShouldBeNil)
			So(d.AVE, ShouldBeNil)
			So(d.Respondents, ShouldEqual, 29)
		})
	})

	Convey("Given identical answers from every respondent", t, func() {
		b := bank(4)
		var rs []model.Response
		for r := 0; r < 50; r++ {
			id := fmt.Sprintf("r%02d", r)
			for i := 1; i <= 3; i++ {
				rs = respond(rs, id, fmt.Sprintf("a%d", i), 4)
			}
			rs = respond(rs, id, "a4", 2)
		}

		d, _ := psychometrics.Validate(rs, b, cfg).Dimension("a")

		Convey("Then alpha is undefined instead of dividing by zero", func() {
			So(d.Status, ShouldEqual, psychometrics.InsufficientData)
			So(d.Alpha, ShouldBeNil)
			So(d.Issue.Detail, ShouldContainSubstring, "variance is zero")
		})
	})

	Convey("Given incomplete respondents", t, func() {
		b := bank(4)
		var rs []model.Response
		for r := 0; r < 35; r++ {
			id := fmt.Sprintf("r%02d", r)
			for i := 1; i <= 4; i++ {
				if r < 10 && i == 2 {
					continue
				}
				rs = respond(rs, id, fmt.Sprintf("b%d", i), float64((r*i)%5+1))
			}
		}

		d, _ := psychometrics.Validate(rs, b, cfg).Dimension("b")

		Convey("Then only complete cases are counted", func() {
			So(d.Respondents, ShouldEqual, 25)
			So(d.Status, ShouldEqual, psychometrics.InsufficientData)
		})
	})

	Convey("Given a dimension with too few items", t, func() {
		b := bank(1)
		var rs []model.Response
		for r := 0; r < 40; r++ {
			rs = respond(rs, fmt.Sprintf("r%02d", r), "b1", float64(r%5+1))
		}

		d, _ := psychometrics.Validate(rs, b, cfg).Dimension("b")

		Convey("Then it is insufficient regardless of sample size", func() {
			So(d.Status, ShouldEqual, psychometrics.InsufficientData)
			So(d.Issue.Detail, ShouldContainSubstring, "need 2")
		})
	})

	Convey("Given two dimensions that move together", t, func() {
		b := bank(3)
		var rs []model.Response
		for r := 0; r < 40; r++ {
			id := fmt.Sprintf("r%02d", r)
			v := float64(r%5 + 1)
			w := float64((r+1)%5 + 1)
			rs = respond(rs, id, "a1", v)
			rs = respond(rs, id, "a2", w)
			rs = respond(rs, id, "a3", 6-v)
			rs = respond(rs, id, "b1", v)
			rs = respond(rs, id, "b2", w)
			rs = respond(rs, id, "b3", v)
		}

		rep := psychometrics.Validate(rs, b, cfg)

		Convey("Then they fail the discriminant check", func() {
			So(len(rep.Correlations), ShouldEqual, 1)
			c := rep.Correlations[0]
			So(c.A, ShouldEqual, "a")
			So(c.B, ShouldEqual, "b")
			So(*c.R, ShouldAlmostEqual, 1.0, 1e-9)
			So(c.Discriminant, ShouldBeFalse)
		})
	})
}

func TestAssess(t *testing.T) {
	Convey("Given a summary with known statistics", t, func() {
		s := psychometrics.Summary{
			DimensionID: "d", MinItems: 2, Items: 3, Respondents: 100,
			ItemVariances: []float64{1, 1, 1}, TotalVariance: 6,
			Loadings: []float64{0.8, 0.8, 0.8},
		}

		rep := psychometrics.Assess(s, psychometrics.DefaultConfig())

		Convey("Then alpha, AVE and CR follow their formulas", func() {
			So(*rep.Alpha, ShouldAlmostEqual, 0.75, 1e-12)
			So(*rep.AVE, ShouldAlmostEqual, 0.64, 1e-12)
			So(*rep.CompositeReliability, ShouldAlmostEqual, 5.76/(5.76+1.08), 1e-12)
			So(rep.Status, ShouldEqual, psychometrics.Reliable)
		})

		Convey("When AVE falls below the threshold", func() {
			s.Loadings = []float64{0.6, 0.6, 0.6}
			rep := psychometrics.Assess(s, psychometrics.DefaultConfig())

			Convey("Then the dimension is unreliable but still reported", func() {
				So(rep.Status, ShouldEqual, psychometrics.Unreliable)
				So(*rep.AVE, ShouldAlmostEqual, 0.36, 1e-12)
			})
		})
	})
}

func TestConfig(t *testing.T) {
	Convey("Given psychometric configurations", t, func() {
		So(psychometrics.DefaultConfig().Validate(), ShouldBeNil)

		bad := psychometrics.DefaultConfig()
		bad.MinRespondents = 1
		err := bad.Validate()
		So(errors.Is(err, psychometrics.ErrInvalidConfig), ShouldBeTrue)
		So(errors.Is(err, reason.ErrConfiguration), ShouldBeTrue)

		bad = psychometrics.DefaultConfig()
		bad.AlphaThreshold = 0
		So(bad.Validate(), ShouldNotBeNil)
	})
}
