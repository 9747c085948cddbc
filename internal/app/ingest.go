package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/okian/barometer/internal/adapters/ledger"
	eventqueue "github.com/okian/barometer/internal/adapters/mq/queue"
	"github.com/okian/barometer/internal/domain/itembank"
	"github.com/okian/barometer/internal/domain/model"
	"github.com/okian/barometer/internal/domain/screening"
	"github.com/okian/barometer/internal/domain/stream"
	"github.com/okian/barometer/pkg/logger"
	"github.com/okian/barometer/pkg/metrics"
)

// Receipt acknowledges a submission.
type Receipt struct {
	BatchID      string `json:"batch_id"`
	AssessmentID string `json:"assessment_id"`
	Responses    int    `json:"responses"`
	// Duplicate is set when the submission id was already received; the
	// batch is not processed again.
	Duplicate bool `json:"duplicate,omitempty"`
}

// RegisterAssessment pins a new assessment to a stored bank version. An
// empty id is generated.
func (s *Service) RegisterAssessment(ctx context.Context, a model.Assessment) (model.Assessment, error) {
	store, err := s.ledger()
	if err != nil {
		return model.Assessment{}, err
	}

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.OrganizationID == "" {
		return model.Assessment{}, fmt.Errorf("%w: organization id is required", ErrInvalidAssessment)
	}
	fw, err := model.ParseFramework(string(a.Framework))
	if err != nil {
		return model.Assessment{}, fmt.Errorf("%w: %v", ErrInvalidAssessment, err)
	}
	a.Framework = fw
	if !a.WindowStart.IsZero() && !a.WindowEnd.IsZero() && a.WindowEnd.Before(a.WindowStart) {
		return model.Assessment{}, fmt.Errorf("%w: window ends before it starts", ErrInvalidAssessment)
	}

	bank, err := store.Bank(ctx, a.BankVersion)
	if errors.Is(err, ledger.ErrNotFound) {
		return model.Assessment{}, fmt.Errorf("%w: unknown bank version %q", ErrInvalidAssessment, a.BankVersion)
	}
	if err != nil {
		return model.Assessment{}, err
	}
	if bank.Framework() != a.Framework {
		return model.Assessment{}, fmt.Errorf("%w: bank %s follows %s, not %s",
			ErrInvalidAssessment, bank.Version(), bank.Framework(), a.Framework)
	}

	if err := store.PutAssessment(ctx, a); err != nil {
		return model.Assessment{}, err
	}
	s.updateAssessmentGauge(ctx)
	s.logger.Info(ctx, "assessment registered",
		logger.String("assessmentID", a.ID),
		logger.String("organizationID", a.OrganizationID),
		logger.String("bankVersion", a.BankVersion),
	)
	return a, nil
}

// RegisterRespondents records respondents and their demographics before
// they answer.
func (s *Service) RegisterRespondents(ctx context.Context, assessmentID string, rs []model.Respondent) error {
	store, err := s.ledger()
	if err != nil {
		return err
	}
	for i, r := range rs {
		if r.ID == "" {
			return fmt.Errorf("%w: respondent %d has no id", ErrInvalidRespondent, i)
		}
	}
	return store.PutRespondents(ctx, assessmentID, rs)
}

// Submit queues a batch for asynchronous screening. A repeated submission
// id is acknowledged without being queued again.
func (s *Service) Submit(ctx context.Context, b model.Batch) (Receipt, error) {
	b, err := s.admit(ctx, b)
	if err != nil {
		return Receipt{}, err
	}
	rec := receipt(b)

	if s.submissions.SeenAndRecord(ctx, b.ID) {
		s.logger.Debug(ctx, "duplicate submission, skipping", logger.String("batchID", b.ID))
		rec.Duplicate = true
		return rec, nil
	}

	if !s.queue.Enqueue(ctx, b) {
		s.submissions.Unrecord(ctx, b.ID)
		return Receipt{}, fmt.Errorf("%w: assessment %s", ErrBackpressure, b.AssessmentID)
	}
	return rec, nil
}

// Ingest screens and appends a batch before returning. It shares the
// per-assessment writer with the queue workers.
func (s *Service) Ingest(ctx context.Context, b model.Batch) (screening.Result, Receipt, error) {
	b, err := s.admit(ctx, b)
	if err != nil {
		return screening.Result{}, Receipt{}, err
	}
	rec := receipt(b)

	if s.submissions.SeenAndRecord(ctx, b.ID) {
		rec.Duplicate = true
		return screening.Result{}, rec, nil
	}

	res, err := s.process(ctx, b)
	if err != nil {
		s.submissions.Unrecord(ctx, b.ID)
		return screening.Result{}, Receipt{}, err
	}
	return res, rec, nil
}

func receipt(b model.Batch) Receipt {
	return Receipt{BatchID: b.ID, AssessmentID: b.AssessmentID, Responses: b.Len()}
}

// admit checks a submission before it enters the pipeline.
func (s *Service) admit(ctx context.Context, b model.Batch) (model.Batch, error) {
	store, err := s.ledger()
	if err != nil {
		return b, err
	}

	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.ReceivedAt.IsZero() {
		b.ReceivedAt = s.now().UTC()
	}
	if b.Len() > s.cfg.Server.MaxBatchSize {
		return b, fmt.Errorf("%w: %d responses, limit %d", ErrBatchTooLarge, b.Len(), s.cfg.Server.MaxBatchSize)
	}

	rs := make([]model.Response, len(b.Responses))
	for i, r := range b.Responses {
		if r.AssessmentID == "" {
			r.AssessmentID = b.AssessmentID
		}
		rs[i] = r
	}
	b.Responses = rs

	if err := b.Check(); err != nil {
		return b, fmt.Errorf("%w: %v", ErrInvalidBatch, err)
	}
	if _, err := store.Assessment(ctx, b.AssessmentID); err != nil {
		return b, err
	}
	return b, nil
}

// Process is the queue worker entry point.
func (s *Service) Process(ctx context.Context, b model.Batch) error {
	if _, err := s.process(ctx, b); err != nil {
		s.submissions.Unrecord(ctx, b.ID)
		metrics.RecordErrorByComponent("service", "process")
		return fmt.Errorf("batch %s: %w", b.ID, err)
	}
	return nil
}

// process screens one batch against the ledger, appends what was accepted
// and keeps the rest for audit.
func (s *Service) process(ctx context.Context, b model.Batch) (screening.Result, error) {
	mu := &s.writers[eventqueue.Partition(b.AssessmentID, len(s.writers))]
	mu.Lock()
	defer mu.Unlock()

	start := time.Now()
	a, err := s.store.Assessment(ctx, b.AssessmentID)
	if err != nil {
		return screening.Result{}, err
	}
	bank, err := s.store.Bank(ctx, a.BankVersion)
	if err != nil {
		return screening.Result{}, err
	}
	slots, err := s.store.Slots(ctx, a.ID)
	if err != nil {
		return screening.Result{}, err
	}
	respondents, err := s.store.Respondents(ctx, a.ID)
	if err != nil {
		return screening.Result{}, err
	}
	current, err := s.store.Current(ctx, a.ID)
	if err != nil {
		return screening.Result{}, err
	}
	flagged, err := s.flagged(ctx, a.ID)
	if err != nil {
		return screening.Result{}, err
	}
	agg, err := s.aggregator(ctx, a, bank)
	if err != nil {
		return screening.Result{}, err
	}

	prior := screening.Prior{
		Slots:       slots,
		Respondents: make(map[string]model.Respondent, len(respondents)),
		History:     screening.HistoryOf(current),
		Flagged:     flagged,
	}
	for _, r := range respondents {
		prior.Respondents[r.ID] = r
	}

	res, err := s.validator.Validate(ctx, b.Responses, a, bank, prior)
	if err != nil {
		return screening.Result{}, err
	}

	if len(res.Accepted) > 0 {
		if err := s.store.Append(ctx, res.Accepted); err != nil {
			return screening.Result{}, err
		}
	}
	if err := s.store.RecordScreening(ctx, a.ID, res.Suspicious, res.Rejections); err != nil {
		return screening.Result{}, err
	}
	if len(res.Retracted) > 0 {
		// The aggregate cannot forget a respondent; replay without them.
		s.dropAggregator(a.ID)
		if _, err := s.aggregator(ctx, a, bank); err != nil {
			return screening.Result{}, err
		}
		s.logger.Info(ctx, "respondents retracted after screening",
			logger.String("assessmentID", a.ID),
			logger.Any("respondents", res.Retracted),
		)
	} else {
		for _, r := range res.Accepted {
			if err := agg.Add(r); err != nil {
				s.logger.Warn(ctx, "live aggregate rejected response",
					logger.String("assessmentID", a.ID), logger.Error(err))
			}
		}
	}

	metrics.RecordBatchProcessed()
	metrics.RecordResponsesAccepted(len(res.Accepted))
	metrics.RecordResponsesSuspicious(len(res.Suspicious))
	for _, issue := range res.Rejections {
		metrics.RecordResponseRejected(string(issue.Code))
	}
	metrics.RecordScoringLatency("screening", float64(time.Since(start).Microseconds())/1000)

	s.logger.Debug(ctx, "batch screened",
		logger.String("batchID", b.ID),
		logger.String("assessmentID", a.ID),
		logger.Int("accepted", len(res.Accepted)),
		logger.Int("suspicious", len(res.Suspicious)),
		logger.Int("rejections", len(res.Rejections)),
	)
	return res, nil
}

// flagged returns the respondents screening has set aside for an
// assessment. Their accepted answers are left out of every read-out.
func (s *Service) flagged(ctx context.Context, assessmentID string) (map[string]struct{}, error) {
	audit, err := s.store.Audit(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{})
	for _, r := range audit.Suspicious {
		out[r.RespondentID] = struct{}{}
	}
	return out, nil
}

func withoutRespondents(rs []model.Response, drop map[string]struct{}) []model.Response {
	if len(drop) == 0 {
		return rs
	}
	out := rs[:0:0]
	for _, r := range rs {
		if _, ok := drop[r.RespondentID]; !ok {
			out = append(out, r)
		}
	}
	return out
}

func (s *Service) dropAggregator(assessmentID string) {
	s.streamsMu.Lock()
	delete(s.streams, assessmentID)
	s.streamsMu.Unlock()
}

// aggregator returns the live aggregate of an assessment, replaying the
// ledger the first time it is needed. Replays are idempotent because the
// aggregate ignores revisions it already holds.
func (s *Service) aggregator(ctx context.Context, a model.Assessment, bank *itembank.Bank) (*stream.Aggregator, error) {
	s.streamsMu.Lock()
	defer s.streamsMu.Unlock()

	if g, ok := s.streams[a.ID]; ok {
		return g, nil
	}
	g := stream.New(a.ID, bank, s.cfg.Psychometrics, s.cfg.Scoring)
	log, err := s.store.Responses(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	flagged, err := s.flagged(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	for _, r := range withoutRespondents(log, flagged) {
		if err := g.Add(r); err != nil {
			return nil, err
		}
	}
	s.streams[a.ID] = g
	return g, nil
}
