package synth_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/barometer/internal/adapters/http/api"
	service "github.com/okian/barometer/internal/app"
	"github.com/okian/barometer/internal/config"
	"github.com/okian/barometer/internal/domain/itembank"
	"github.com/okian/barometer/internal/synth"
	"github.com/okian/barometer/pkg/logger"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

const bankYAML = `version: synth-e2e
framework: EFQM
dimensions:
  - id: leadership
    weight: 0.5
  - id: process
    weight: 0.5
items:
  - { id: l1, dimension: leadership, kind: likert, scale: { min: 1, max: 5 } }
  - { id: l2, dimension: leadership, kind: likert, scale: { min: 1, max: 5 } }
  - { id: l3, dimension: leadership, kind: likert, scale: { min: 1, max: 5 } }
  - { id: p1, dimension: process, kind: likert, scale: { min: 1, max: 5 } }
  - { id: p2, dimension: process, kind: likert, scale: { min: 1, max: 5 } }
  - { id: p3, dimension: process, kind: likert, scale: { min: 1, max: 5 } }
  - { id: rec, kind: recommendation }
`

func startEngine(t *testing.T, bankFile string) *httptest.Server {
	t.Helper()
	bank, err := itembank.Load(context.Background(), bankFile)
	if err != nil {
		t.Fatalf("bank: %v", err)
	}
	cfg := config.New(context.Background())
	cfg.Server.Partitions = 2
	cfg.Server.QueueSize = 64
	cfg.Sources = config.Sources{}
	cfg.Psychometrics.MinRespondents = 5
	cfg.Scoring.NPQSMinResponses = 5
	cfg.Segment.MinGroupSize = 2

	svc := service.New(service.WithConfig(cfg), service.WithBanks(bank))
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	mux := http.NewServeMux()
	api.NewServer(svc).Register(context.Background(), mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(func() {
		ts.Close()
		_ = svc.Stop(context.Background())
	})
	return ts
}

func TestRun(t *testing.T) {
	Convey("Given a running engine and a bank file", t, func() {
		dir := t.TempDir()
		bankFile := filepath.Join(dir, "bank.yaml")
		So(os.WriteFile(bankFile, []byte(bankYAML), 0o600), ShouldBeNil)
		ts := startEngine(t, bankFile)

		cfg := &synth.Config{
			BaseURL:      ts.URL,
			BankFile:     bankFile,
			AssessmentID: "campaign-1",
			Organization: "acme",
			Sector:       "manufacturing",
			Respondents:  30,
			BatchSize:    5,
			Workers:      3,
			Timeout:      5 * time.Second,
			Settle:       5 * time.Second,
			Seed:         42,
			Mean:         0.6,
			StraightLine: 0.1,
			Speeders:     0.1,
			Plan:         true,
			OutputFile:   filepath.Join(dir, "out", "campaign.json"),
		}

		Convey("When the campaign runs", func() {
			stats, err := synth.Run(context.Background(), cfg)

			Convey("Then every batch is accepted and scored", func() {
				So(err, ShouldBeNil)
				So(stats.Respondents, ShouldEqual, 30)
				So(stats.BatchesGenerated, ShouldEqual, 6)
				So(stats.BatchesAccepted, ShouldEqual, 6)
				So(stats.BatchesFailed, ShouldEqual, 0)
				So(stats.ResponsesSent, ShouldEqual, 30*7)
				So(stats.ResponsesStored, ShouldBeGreaterThan, 0)
				So(stats.ResponsesStored, ShouldBeLessThanOrEqualTo, 24*7)
				So(stats.Rejections, ShouldBeGreaterThanOrEqualTo, 6)
				So(stats.Overall, ShouldNotBeNil)
			})

			Convey("Then the campaign is saved", func() {
				_, err := os.Stat(cfg.OutputFile)
				So(err, ShouldBeNil)
			})

			Convey("Then a second campaign under a service-assigned id also succeeds", func() {
				again := *cfg
				again.AssessmentID = ""
				again.OutputFile = ""
				second, err := synth.Run(context.Background(), &again)
				So(err, ShouldBeNil)
				So(second.BatchesAccepted, ShouldEqual, 6)
			})

			Convey("Then reusing the assessment id is refused", func() {
				_, err := synth.Run(context.Background(), cfg)
				So(err, ShouldNotBeNil)
			})
		})

		Convey("When the service is unreachable", func() {
			cfg.BaseURL = "http://127.0.0.1:1"
			cfg.Timeout = 200 * time.Millisecond
			_, err := synth.Run(context.Background(), cfg)

			Convey("Then the health check fails", func() {
				So(err, ShouldNotBeNil)
			})
		})

		Convey("When the bank file is missing", func() {
			cfg.BankFile = filepath.Join(dir, "missing.yaml")
			_, err := synth.Run(context.Background(), cfg)

			Convey("Then nothing is submitted", func() {
				So(errors.Is(err, itembank.ErrLoadBank), ShouldBeTrue)
			})
		})
	})
}
