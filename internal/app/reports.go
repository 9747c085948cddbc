package service

import (
	"context"
	"time"

	"github.com/okian/barometer/internal/adapters/ledger"
	"github.com/okian/barometer/internal/domain/benchmark"
	"github.com/okian/barometer/internal/domain/cluster"
	"github.com/okian/barometer/internal/domain/itembank"
	"github.com/okian/barometer/internal/domain/model"
	"github.com/okian/barometer/internal/domain/psychometrics"
	"github.com/okian/barometer/internal/domain/scoring"
	"github.com/okian/barometer/internal/domain/segment"
	"github.com/okian/barometer/internal/domain/trend"
	"github.com/okian/barometer/pkg/metrics"
)

// Live is the streaming view of an assessment.
type Live struct {
	AssessmentID string               `json:"assessment_id"`
	Responses    int                  `json:"responses"`
	Validation   psychometrics.Report `json:"validation"`
	Scores       scoring.Result       `json:"scores"`
}

// snapshot is the read-only input every batch computation starts from.
type snapshot struct {
	assessment model.Assessment
	bank       *itembank.Bank
	current    []model.Response
}

func (s *Service) snapshot(ctx context.Context, assessmentID string) (snapshot, error) {
	store, err := s.ledger()
	if err != nil {
		return snapshot{}, err
	}
	a, err := store.Assessment(ctx, assessmentID)
	if err != nil {
		return snapshot{}, err
	}
	bank, err := store.Bank(ctx, a.BankVersion)
	if err != nil {
		return snapshot{}, err
	}
	current, err := store.Current(ctx, a.ID)
	if err != nil {
		return snapshot{}, err
	}
	flagged, err := s.flagged(ctx, a.ID)
	if err != nil {
		return snapshot{}, err
	}
	return snapshot{assessment: a, bank: bank, current: withoutRespondents(current, flagged)}, nil
}

func observe(op string, start time.Time) {
	metrics.RecordScoringLatency(op, float64(time.Since(start).Microseconds())/1000)
}

// Assessment returns a registered assessment.
func (s *Service) Assessment(ctx context.Context, id string) (model.Assessment, error) {
	store, err := s.ledger()
	if err != nil {
		return model.Assessment{}, err
	}
	return store.Assessment(ctx, id)
}

// Validation recomputes the psychometric report from the current ledger.
func (s *Service) Validation(ctx context.Context, assessmentID string) (psychometrics.Report, error) {
	snap, err := s.snapshot(ctx, assessmentID)
	if err != nil {
		return psychometrics.Report{}, err
	}
	defer observe("validation", time.Now())
	return psychometrics.Validate(snap.current, snap.bank, s.cfg.Psychometrics), nil
}

// Scores recomputes the score result, gated by the psychometric report.
func (s *Service) Scores(ctx context.Context, assessmentID string) (scoring.Result, error) {
	snap, err := s.snapshot(ctx, assessmentID)
	if err != nil {
		return scoring.Result{}, err
	}
	return s.score(snap)
}

func (s *Service) score(snap snapshot) (scoring.Result, error) {
	defer observe("scores", time.Now())
	report := psychometrics.Validate(snap.current, snap.bank, s.cfg.Psychometrics)
	res, err := scoring.Compute(snap.current, snap.bank, s.cfg.Scoring, &report)
	if err != nil {
		metrics.RecordScoringError()
		return scoring.Result{}, err
	}
	return res, nil
}

// Segments computes perception gaps and demographic segments.
func (s *Service) Segments(ctx context.Context, assessmentID string) (segment.Report, error) {
	snap, err := s.snapshot(ctx, assessmentID)
	if err != nil {
		return segment.Report{}, err
	}
	respondents, err := s.store.Respondents(ctx, assessmentID)
	if err != nil {
		return segment.Report{}, err
	}
	defer observe("segments", time.Now())
	return segment.Analyze(snap.current, snap.bank, respondents, s.cfg.Segment), nil
}

// Clusters groups the assessment's respondents into culture profiles.
func (s *Service) Clusters(ctx context.Context, assessmentID string) (cluster.Report, error) {
	snap, err := s.snapshot(ctx, assessmentID)
	if err != nil {
		return cluster.Report{}, err
	}
	defer observe("clusters", time.Now())
	return cluster.Analyze(snap.current, snap.bank, s.cfg.Cluster), nil
}

// Trends scores every assessment of an organization and classifies each
// dimension across the cycles.
func (s *Service) Trends(ctx context.Context, org string) (trend.Report, error) {
	store, err := s.ledger()
	if err != nil {
		return trend.Report{}, err
	}
	all, err := store.Assessments(ctx, org)
	if err != nil {
		return trend.Report{}, err
	}
	cycles := make([]trend.Cycle, 0, len(all))
	for _, a := range all {
		snap, err := s.snapshot(ctx, a.ID)
		if err != nil {
			return trend.Report{}, err
		}
		res, err := s.score(snap)
		if err != nil {
			return trend.Report{}, err
		}
		cycles = append(cycles, trend.Cycle{AssessmentID: a.ID, WindowStart: a.WindowStart, Result: res})
	}
	defer observe("trends", time.Now())
	return trend.Analyze(org, cycles, s.cfg.Trend), nil
}

// Benchmark positions the assessment's scores against its sector.
func (s *Service) Benchmark(ctx context.Context, assessmentID string) (benchmark.Comparison, error) {
	snap, err := s.snapshot(ctx, assessmentID)
	if err != nil {
		return benchmark.Comparison{}, err
	}
	res, err := s.score(snap)
	if err != nil {
		return benchmark.Comparison{}, err
	}
	defer observe("benchmark", time.Now())
	return benchmark.Compare(res, snap.assessment.Sector, s.benchmarks), nil
}

// Live returns the incremental aggregate without rescanning the ledger.
func (s *Service) Live(ctx context.Context, assessmentID string) (Live, error) {
	store, err := s.ledger()
	if err != nil {
		return Live{}, err
	}
	a, err := store.Assessment(ctx, assessmentID)
	if err != nil {
		return Live{}, err
	}
	bank, err := store.Bank(ctx, a.BankVersion)
	if err != nil {
		return Live{}, err
	}
	agg, err := s.aggregator(ctx, a, bank)
	if err != nil {
		return Live{}, err
	}

	defer observe("live", time.Now())
	report, res, err := agg.Snapshot()
	if err != nil {
		metrics.RecordScoringError()
		return Live{}, err
	}
	return Live{AssessmentID: a.ID, Responses: agg.Count(), Validation: report, Scores: res}, nil
}

// Rejections returns what screening set aside for an assessment.
func (s *Service) Rejections(ctx context.Context, assessmentID string) (ledger.Audit, error) {
	store, err := s.ledger()
	if err != nil {
		return ledger.Audit{}, err
	}
	if _, err := store.Assessment(ctx, assessmentID); err != nil {
		return ledger.Audit{}, err
	}
	return store.Audit(ctx, assessmentID)
}
