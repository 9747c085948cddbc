package service_test

import (
	"context"
	"errors"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/barometer/internal/adapters/ledger"
	service "github.com/okian/barometer/internal/app"
	"github.com/okian/barometer/internal/domain/benchmark"
	"github.com/okian/barometer/internal/domain/model"
	"github.com/okian/barometer/internal/domain/pdca"
	"github.com/okian/barometer/internal/domain/psychometrics"
	"github.com/okian/barometer/internal/domain/reason"
	"github.com/okian/barometer/internal/domain/trend"
)

func TestService_Reports(t *testing.T) {
	Convey("Given an assessment with nine consistent respondents", t, func() {
		svc := startService(t)
		ctx := context.Background()
		_, err := svc.RegisterAssessment(ctx, assessment("a1", "acme"))
		So(err, ShouldBeNil)
		rs := respondents(9)
		So(svc.RegisterRespondents(ctx, "a1", rs), ShouldBeNil)
		_, _, err = svc.Ingest(ctx, batchFor("a1", rs, 2))
		So(err, ShouldBeNil)

		Convey("When validating", func() {
			report, err := svc.Validation(ctx, "a1")

			Convey("Then both dimensions pass the gate", func() {
				So(err, ShouldBeNil)
				So(report.Dimensions, ShouldHaveLength, 2)
				for _, d := range report.Dimensions {
					So(d.Status, ShouldEqual, psychometrics.Reliable)
					So(d.Respondents, ShouldEqual, 9)
				}
			})
		})

		Convey("When scoring", func() {
			res, err := svc.Scores(ctx, "a1")

			Convey("Then dimension, overall and NPQS scores are defined", func() {
				So(err, ShouldBeNil)
				lead, ok := res.Dimension("leadership")
				So(ok, ShouldBeTrue)
				So(*lead.Score, ShouldAlmostEqual, 175.0/3, 1e-9)
				proc, _ := res.Dimension("process")
				So(*proc.Score, ShouldAlmostEqual, 100.0/3, 1e-9)
				So(*res.Overall, ShouldAlmostEqual, 137.5/3, 1e-9)
				So(res.NPQS.Value, ShouldNotBeNil)
				So(res.NPQS.Promoters, ShouldEqual, 3)
				So(res.NPQS.Detractors, ShouldEqual, 3)
				So(*res.NPQS.Value, ShouldAlmostEqual, 0, 1e-9)
			})
		})

		Convey("When reading the live aggregate", func() {
			live, err := svc.Live(ctx, "a1")
			res, _ := svc.Scores(ctx, "a1")

			Convey("Then it matches the batch computation", func() {
				So(err, ShouldBeNil)
				So(live.Responses, ShouldEqual, 63)
				So(*live.Scores.Overall, ShouldAlmostEqual, *res.Overall, 1e-9)
				lead, _ := live.Scores.Dimension("leadership")
				So(lead.Status, ShouldEqual, psychometrics.Reliable)
			})
		})

		Convey("When analysing segments", func() {
			rep, err := svc.Segments(ctx, "a1")

			Convey("Then teams are compared", func() {
				So(err, ShouldBeNil)
				So(rep.Segments, ShouldHaveLength, 1)
				So(rep.Segments[0].Attribute, ShouldEqual, "team")
				So(rep.Segments[0].Categories, ShouldHaveLength, 2)
			})
		})

		Convey("When comparing to the sector benchmark", func() {
			cmp, err := svc.Benchmark(ctx, "a1")

			Convey("Then the overall score is positioned", func() {
				So(err, ShouldBeNil)
				So(cmp.Sector, ShouldEqual, "manufacturing")
				So(cmp.Positions, ShouldHaveLength, 1)
				pos := cmp.Positions[0]
				So(pos.Metric, ShouldEqual, benchmark.MetricOverall)
				So(*pos.Percentile, ShouldAlmostEqual, 25+(137.5/3-40)/10*25, 1e-9)
				So(pos.Level, ShouldEqual, benchmark.NeedsImprovement)
				So(*pos.DifferenceFromMedian, ShouldAlmostEqual, 137.5/3-50, 1e-9)
			})
		})

		Convey("When the assessment is unknown", func() {
			_, err := svc.Scores(ctx, "nope")
			So(errors.Is(err, ledger.ErrNotFound), ShouldBeTrue)
			_, err = svc.Rejections(ctx, "nope")
			So(errors.Is(err, ledger.ErrNotFound), ShouldBeTrue)
		})
	})
}

func TestService_ImprovementLoop(t *testing.T) {
	Convey("Given a scored baseline assessment", t, func() {
		svc := startService(t)
		ctx := context.Background()
		rs := respondents(9)
		_, err := svc.RegisterAssessment(ctx, assessment("a1", "acme"))
		So(err, ShouldBeNil)
		So(svc.RegisterRespondents(ctx, "a1", rs), ShouldBeNil)
		_, _, err = svc.Ingest(ctx, batchFor("a1", rs, 2))
		So(err, ShouldBeNil)

		Convey("When planning", func() {
			actions, err := svc.Plan(ctx, "a1")

			Convey("Then both dimensions below the threshold get an action", func() {
				So(err, ShouldBeNil)
				So(actions, ShouldHaveLength, 2)
				So(actions[0].DimensionID, ShouldEqual, "leadership")
				So(actions[0].Priority, ShouldEqual, pdca.PriorityMedium)
				So(actions[1].DimensionID, ShouldEqual, "process")
				So(actions[1].Priority, ShouldEqual, pdca.PriorityHigh)
				So(actions[1].State, ShouldEqual, pdca.Planned)
			})

			Convey("And a re-measurement of the same assessment moves nothing", func() {
				_, err := svc.Advance(ctx, actions[1].ID, pdca.Progress{Percent: 40})
				So(err, ShouldBeNil)
				moved, err := svc.Remeasure(ctx, "a1")
				So(err, ShouldBeNil)
				So(moved, ShouldBeEmpty)
			})

			Convey("And the loop closes after an improved re-measurement", func() {
				started, err := svc.Advance(ctx, actions[1].ID, pdca.Progress{Percent: 100})
				So(err, ShouldBeNil)
				So(started.State, ShouldEqual, pdca.InProgress)
				So(started.UpdatedAt.IsZero(), ShouldBeFalse)

				_, err = svc.RegisterAssessment(ctx, followUp("a2", "acme", 30))
				So(err, ShouldBeNil)
				So(svc.RegisterRespondents(ctx, "a2", rs), ShouldBeNil)
				_, _, err = svc.Ingest(ctx, batchFor("a2", rs, 3))
				So(err, ShouldBeNil)

				moved, err := svc.Remeasure(ctx, "a2")
				So(err, ShouldBeNil)
				So(moved, ShouldHaveLength, 1)
				So(moved[0].State, ShouldEqual, pdca.UnderReview)
				So(*moved[0].ReviewScore, ShouldAlmostEqual, 175.0/3, 1e-9)

				done, err := svc.Advance(ctx, actions[1].ID, pdca.Conclude{})
				So(err, ShouldBeNil)
				So(done.State, ShouldEqual, pdca.Standardized)

				report, err := svc.Actions(ctx, "acme")
				So(err, ShouldBeNil)
				So(report.Actions, ShouldHaveLength, 2)
				So(report.Summary.Total, ShouldEqual, 2)
				So(report.Summary.ByState[pdca.Standardized], ShouldEqual, 1)
				So(report.Summary.ByState[pdca.Planned], ShouldEqual, 1)
				So(report.Summary.CompletionRate, ShouldEqual, 0.5)
				So(*report.Summary.MeanImprovement, ShouldAlmostEqual, 25, 1e-9)

				Convey("Then the concluded action refuses further events", func() {
					_, err := svc.Advance(ctx, actions[1].ID, pdca.Progress{Percent: 10})
					So(errors.Is(err, reason.ErrInvalidTransition), ShouldBeTrue)
				})
			})
		})

		Convey("When planning twice", func() {
			first, err := svc.Plan(ctx, "a1")
			So(err, ShouldBeNil)
			again, err := svc.Plan(ctx, "a1")
			So(err, ShouldBeNil)

			Convey("Then the open actions are returned instead of duplicated", func() {
				So(again, ShouldHaveLength, 2)
				So(again[0].ID, ShouldEqual, first[0].ID)
				So(again[1].ID, ShouldEqual, first[1].ID)
				report, err := svc.Actions(ctx, "acme")
				So(err, ShouldBeNil)
				So(report.Summary.Total, ShouldEqual, 2)
			})
		})

		Convey("When the re-measurement window precedes the baseline", func() {
			actions, err := svc.Plan(ctx, "a1")
			So(err, ShouldBeNil)
			_, err = svc.Advance(ctx, actions[1].ID, pdca.Progress{Percent: 50})
			So(err, ShouldBeNil)

			_, err = svc.RegisterAssessment(ctx, followUp("a0", "acme", -60))
			So(err, ShouldBeNil)
			So(svc.RegisterRespondents(ctx, "a0", rs), ShouldBeNil)
			_, _, err = svc.Ingest(ctx, batchFor("a0", rs, 3))
			So(err, ShouldBeNil)

			Convey("Then the older assessment moves nothing", func() {
				moved, err := svc.Remeasure(ctx, "a0")
				So(err, ShouldBeNil)
				So(moved, ShouldBeEmpty)
				a, err := svc.Action(ctx, actions[1].ID)
				So(err, ShouldBeNil)
				So(a.State, ShouldEqual, pdca.InProgress)
			})
		})

		Convey("When advancing an unknown action", func() {
			_, err := svc.Advance(ctx, "missing", pdca.Progress{Percent: 10})
			So(errors.Is(err, pdca.ErrUnknownAction), ShouldBeTrue)
			_, err = svc.Action(ctx, "missing")
			So(errors.Is(err, pdca.ErrUnknownAction), ShouldBeTrue)
		})
	})
}

func TestService_ActionsSurviveRestart(t *testing.T) {
	Convey("Given a service sharing its ledger with a successor", t, func() {
		ctx := context.Background()
		store := ledger.NewMemoryStore()
		svc := startService(t, service.WithStore(store))
		rs := respondents(9)
		_, err := svc.RegisterAssessment(ctx, assessment("a1", "acme"))
		So(err, ShouldBeNil)
		So(svc.RegisterRespondents(ctx, "a1", rs), ShouldBeNil)
		_, _, err = svc.Ingest(ctx, batchFor("a1", rs, 2))
		So(err, ShouldBeNil)
		actions, err := svc.Plan(ctx, "a1")
		So(err, ShouldBeNil)
		_, err = svc.Advance(ctx, actions[1].ID, pdca.Progress{Percent: 30})
		So(err, ShouldBeNil)
		So(svc.Stop(ctx), ShouldBeNil)

		Convey("When the successor starts", func() {
			again := startService(t, service.WithStore(store))

			Convey("Then planned actions and their progress are restored", func() {
				a, err := again.Action(ctx, actions[1].ID)
				So(err, ShouldBeNil)
				So(a.State, ShouldEqual, pdca.InProgress)
				So(a.Progress, ShouldEqual, 30.0)

				report, err := again.Actions(ctx, "acme")
				So(err, ShouldBeNil)
				So(report.Summary.Total, ShouldEqual, 2)
			})

			Convey("And planning again reuses the restored actions", func() {
				planned, err := again.Plan(ctx, "a1")
				So(err, ShouldBeNil)
				So(planned, ShouldHaveLength, 2)
				So(planned[1].ID, ShouldEqual, actions[1].ID)
			})
		})
	})
}

func TestService_Trends(t *testing.T) {
	Convey("Given two cycles of one organization and a cycle of another", t, func() {
		svc := startService(t)
		ctx := context.Background()
		rs := respondents(9)
		for _, c := range []struct {
			a    model.Assessment
			base int
		}{
			{followUp("a2", "acme", 30), 3},
			{assessment("a1", "acme"), 2},
			{assessment("x1", "other"), 4},
		} {
			_, err := svc.RegisterAssessment(ctx, c.a)
			So(err, ShouldBeNil)
			So(svc.RegisterRespondents(ctx, c.a.ID, rs), ShouldBeNil)
			_, _, err = svc.Ingest(ctx, batchFor(c.a.ID, rs, c.base))
			So(err, ShouldBeNil)
		}

		Convey("When the trend report is read", func() {
			rep, err := svc.Trends(ctx, "acme")
			So(err, ShouldBeNil)

			Convey("Then only the organization's cycles are followed, in window order", func() {
				So(rep.Cycles, ShouldEqual, 2)
				So(rep.Overall.Points[0].AssessmentID, ShouldEqual, "a1")
				So(rep.Overall.Points[1].AssessmentID, ShouldEqual, "a2")
			})

			Convey("Then raised answers show as improving dimensions", func() {
				So(rep.Overall.Direction, ShouldEqual, trend.Improving)
				So(rep.Dimensions, ShouldHaveLength, 2)
				process := rep.Dimensions[1]
				So(process.DimensionID, ShouldEqual, "process")
				So(process.Direction, ShouldEqual, trend.Improving)
				So(*process.Change, ShouldAlmostEqual, 25, 1e-9)
				So(*process.Slope, ShouldAlmostEqual, 25, 1e-9)
				So(rep.Dimensions[0].Direction, ShouldEqual, trend.Improving)
			})
		})

		Convey("When an organization has no assessment", func() {
			rep, err := svc.Trends(ctx, "nobody")

			Convey("Then the report is empty and undetermined", func() {
				So(err, ShouldBeNil)
				So(rep.Cycles, ShouldEqual, 0)
				So(rep.Overall.Direction, ShouldEqual, trend.Undetermined)
				So(rep.Dimensions, ShouldBeEmpty)
			})
		})
	})
}

func TestService_Clusters(t *testing.T) {
	Convey("Given nine respondents answering at three levels", t, func() {
		cfg := testConfig()
		cfg.Cluster.MinRespondents = 3
		svc := startService(t, service.WithConfig(cfg))
		ctx := context.Background()
		rs := respondents(9)
		_, err := svc.RegisterAssessment(ctx, assessment("a1", "acme"))
		So(err, ShouldBeNil)
		So(svc.RegisterRespondents(ctx, "a1", rs), ShouldBeNil)
		_, _, err = svc.Ingest(ctx, batchFor("a1", rs, 2))
		So(err, ShouldBeNil)

		Convey("When clustering", func() {
			rep, err := svc.Clusters(ctx, "a1")

			Convey("Then each answer level forms one profile", func() {
				So(err, ShouldBeNil)
				So(rep.Respondents, ShouldEqual, 9)
				So(rep.Profiles, ShouldHaveLength, 3)
				So(rep.Profiles[0].Respondents, ShouldResemble, []string{"r0", "r3", "r6"})
				So(rep.Profiles[0].Strongest, ShouldEqual, "leadership")
				So(*rep.Silhouette, ShouldAlmostEqual, 1, 1e-9)
			})
		})

		Convey("When clustering an unknown assessment", func() {
			_, err := svc.Clusters(ctx, "missing")

			Convey("Then it is not found", func() {
				So(errors.Is(err, ledger.ErrNotFound), ShouldBeTrue)
			})
		})
	})
}
