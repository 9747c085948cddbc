package service_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	service "github.com/okian/barometer/internal/app"
	"github.com/okian/barometer/internal/config"
	"github.com/okian/barometer/internal/domain/benchmark"
	"github.com/okian/barometer/internal/domain/itembank"
	"github.com/okian/barometer/internal/domain/model"
	"github.com/okian/barometer/pkg/logger"
)

func init() {
	// Initialize logging for tests
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

var t0 = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

var likertItems = []string{"l1", "l2", "l3", "p1", "p2", "p3"}

func testBank(t *testing.T) *itembank.Bank {
	t.Helper()
	scale := itembank.Scale{Min: 1, Max: 5}
	bank, err := itembank.New("efqm-test", model.FrameworkEFQM,
		[]itembank.Dimension{
			{ID: "leadership", Weight: 0.5, MinItems: 2},
			{ID: "process", Weight: 0.5, MinItems: 2},
		},
		[]itembank.Item{
			{ID: "l1", DimensionID: "leadership", Scale: scale},
			{ID: "l2", DimensionID: "leadership", Scale: scale},
			{ID: "l3", DimensionID: "leadership", Scale: scale},
			{ID: "p1", DimensionID: "process", Scale: scale},
			{ID: "p2", DimensionID: "process", Scale: scale},
			{ID: "p3", DimensionID: "process", Scale: scale},
			{ID: "rec", Kind: itembank.KindRecommendation},
		})
	if err != nil {
		t.Fatalf("test bank: %v", err)
	}
	return bank
}

func testConfig() *config.Config {
	cfg := config.New(context.Background())
	cfg.Server.Partitions = 2
	cfg.Server.QueueSize = 16
	cfg.Sources = config.Sources{}
	cfg.Psychometrics.MinRespondents = 5
	cfg.Scoring.NPQSMinResponses = 5
	cfg.Segment.MinGroupSize = 2
	return cfg
}

func testBenchmarks() []benchmark.Record {
	return []benchmark.Record{{
		Sector:    "manufacturing",
		Framework: "EFQM",
		Metric:    benchmark.MetricOverall,
		Percentiles: []benchmark.Point{
			{P: 25, Value: 40}, {P: 50, Value: 50}, {P: 75, Value: 60},
		},
	}}
}

func startService(t *testing.T, opts ...service.Option) *service.Service {
	t.Helper()
	opts = append([]service.Option{
		service.WithConfig(testConfig()),
		service.WithBanks(testBank(t)),
		service.WithBenchmarks(testBenchmarks()),
	}, opts...)
	svc := service.New(opts...)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = svc.Stop(context.Background()) })
	return svc
}

func assessment(id, org string) model.Assessment {
	return model.Assessment{
		ID:             id,
		OrganizationID: org,
		Framework:      model.FrameworkEFQM,
		Sector:         "manufacturing",
		WindowStart:    t0,
		WindowEnd:      t0.Add(14 * 24 * time.Hour),
		BankVersion:    "efqm-test",
	}
}

// followUp is an assessment of org whose window opens days after t0.
func followUp(id, org string, days int) model.Assessment {
	a := assessment(id, org)
	a.WindowStart = t0.Add(time.Duration(days) * 24 * time.Hour)
	a.WindowEnd = a.WindowStart.Add(14 * 24 * time.Hour)
	return a
}

// respondents returns n respondents split over two teams.
func respondents(n int) []model.Respondent {
	out := make([]model.Respondent, n)
	for i := range out {
		team := "A"
		if i >= n/2 {
			team = "B"
		}
		out[i] = model.Respondent{
			ID:           fmt.Sprintf("r%d", i),
			Demographics: map[string]string{"team": team},
			StartedAt:    t0,
		}
	}
	return out
}

// answers builds one respondent's answers around level b. Leadership sits
// one step above process, and answers are spaced ten seconds apart.
func answers(assessmentID, respondent string, b int) []model.Response {
	clamp := func(v int) float64 {
		switch {
		case v < 1:
			return 1
		case v > 5:
			return 5
		}
		return float64(v)
	}
	values := map[string]float64{
		"l1": clamp(b), "l2": clamp(b + 1), "l3": clamp(b),
		"p1": clamp(b - 1), "p2": clamp(b), "p3": clamp(b - 1),
		"rec": float64(min(2*b+2, 10)),
	}
	order := append(append([]string(nil), likertItems...), "rec")
	out := make([]model.Response, 0, len(order))
	for j, item := range order {
		out = append(out, model.Response{
			AssessmentID: assessmentID,
			RespondentID: respondent,
			ItemID:       item,
			Value:        values[item],
			SubmittedAt:  t0.Add(time.Duration(j+1) * 10 * time.Second),
		})
	}
	return out
}

// level spreads respondents over three answer levels starting at base.
func level(i, base int) int { return base + i%3 }

// batchFor collects the answers of every respondent into one batch.
func batchFor(assessmentID string, rs []model.Respondent, base int) model.Batch {
	b := model.Batch{ID: assessmentID + "-batch", AssessmentID: assessmentID}
	for i, r := range rs {
		b.Responses = append(b.Responses, answers(assessmentID, r.ID, level(i, base))...)
	}
	return b
}

func writeBank(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}
