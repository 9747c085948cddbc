package sheet_test

import (
	"testing"

	"github.com/okian/barometer/internal/domain/itembank"
	"github.com/okian/barometer/internal/domain/model"
	"github.com/okian/barometer/internal/domain/sheet"
	. "github.com/smartystreets/goconvey/convey"
)

func TestSheet(t *testing.T) {
	Convey("Given a bank and a set of answers with a correction", t, func() {
		items := []itembank.Item{
			{ID: "q1", DimensionID: "d", Kind: itembank.KindLikert, Scale: itembank.Scale{Min: 1, Max: 5}},
			{ID: "q2", DimensionID: "d", Kind: itembank.KindLikert, Scale: itembank.Scale{Min: 1, Max: 5}, Reverse: true},
			{ID: "note", Kind: itembank.KindFreeText},
		}
		bank, err := itembank.New("v1", model.FrameworkEFQM,
			[]itembank.Dimension{{ID: "d", Weight: 1}}, items)
		So(err, ShouldBeNil)
		scored := []itembank.Item{items[0], items[1]}

		answers := []model.Response{
			{AssessmentID: "a", RespondentID: "r2", ItemID: "q1", Value: 4},
			{AssessmentID: "a", RespondentID: "r1", ItemID: "q1", Value: 2},
			{AssessmentID: "a", RespondentID: "r1", ItemID: "q1", Value: 5, Revision: 1},
			{AssessmentID: "a", RespondentID: "r1", ItemID: "q2", Value: 1},
			{AssessmentID: "a", RespondentID: "r1", ItemID: "note", Text: "more training"},
			{AssessmentID: "a", RespondentID: "r1", ItemID: "unknown", Value: 3},
		}
		s := sheet.New(answers, bank)

		Convey("Then respondents are listed in ascending order", func() {
			So(s.Respondents(), ShouldResemble, []string{"r1", "r2"})
		})

		Convey("Then the latest revision wins and unscored items are dropped", func() {
			v, ok := s.Value("r1", "q1")
			So(ok, ShouldBeTrue)
			So(v, ShouldEqual, 5)
			_, ok = s.Value("r1", "note")
			So(ok, ShouldBeFalse)
			_, ok = s.Value("r1", "unknown")
			So(ok, ShouldBeFalse)
		})

		Convey("Then complete rows are remapped and partial rows are refused", func() {
			row, ok := s.Complete("r1", scored)
			So(ok, ShouldBeTrue)
			So(row, ShouldResemble, []float64{5, 5})
			_, ok = s.Complete("r2", scored)
			So(ok, ShouldBeFalse)
		})

		Convey("Then mean scores cover only the answered items", func() {
			mean, n := s.MeanScore("r1", scored)
			So(n, ShouldEqual, 2)
			So(mean, ShouldEqual, 100)
			mean, n = s.MeanScore("r2", scored)
			So(n, ShouldEqual, 1)
			So(mean, ShouldEqual, 75)
			_, n = s.MeanScore("nobody", scored)
			So(n, ShouldEqual, 0)
		})
	})
}
