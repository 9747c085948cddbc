package ledger

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/okian/barometer/internal/domain/dedupe"
	"github.com/okian/barometer/internal/domain/itembank"
	"github.com/okian/barometer/internal/domain/model"
	"github.com/okian/barometer/internal/domain/pdca"
	"github.com/okian/barometer/internal/domain/reason"
	"github.com/okian/barometer/internal/domain/screening"
)

type bankSnapshot struct {
	bank *itembank.Bank
	raw  []byte
}

// MemoryStore keeps the ledger in process memory.
type MemoryStore struct {
	mu          sync.RWMutex
	banks       map[string]bankSnapshot
	assessments map[string]model.Assessment
	respondents map[string]map[string]model.Respondent
	responses   map[string][]model.Response
	slots       map[string]slotSet
	audits      map[string]*Audit
	actions     map[string]pdca.Action
}

// NewMemoryStore returns an empty in-memory ledger.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		banks:       make(map[string]bankSnapshot),
		assessments: make(map[string]model.Assessment),
		respondents: make(map[string]map[string]model.Respondent),
		responses:   make(map[string][]model.Response),
		slots:       make(map[string]slotSet),
		audits:      make(map[string]*Audit),
		actions:     make(map[string]pdca.Action),
	}
}

func (s *MemoryStore) PutBank(_ context.Context, bank *itembank.Bank) (err error) {
	defer func(start time.Time) { observe(DriverMemory, "put_bank", start, err) }(time.Now())

	raw, err := encodeBank(bank)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.banks[bank.Version()]; ok {
		if bytes.Equal(prev.raw, raw) {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrBankConflict, bank.Version())
	}
	s.banks[bank.Version()] = bankSnapshot{bank: bank, raw: raw}
	return nil
}

func (s *MemoryStore) Bank(_ context.Context, version string) (*itembank.Bank, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.banks[version]
	if !ok {
		return nil, fmt.Errorf("%w: bank %s", ErrNotFound, version)
	}
	return snap.bank, nil
}

func (s *MemoryStore) PutAssessment(_ context.Context, a model.Assessment) (err error) {
	defer func(start time.Time) { observe(DriverMemory, "put_assessment", start, err) }(time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.assessments[a.ID]; ok {
		return fmt.Errorf("%w: assessment %s", ErrExists, a.ID)
	}
	if _, ok := s.banks[a.BankVersion]; !ok {
		return fmt.Errorf("%w: bank %s", ErrNotFound, a.BankVersion)
	}
	s.assessments[a.ID] = a
	return nil
}

func (s *MemoryStore) Assessment(_ context.Context, id string) (model.Assessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assessments[id]
	if !ok {
		return model.Assessment{}, fmt.Errorf("%w: assessment %s", ErrNotFound, id)
	}
	return a, nil
}

func (s *MemoryStore) Assessments(_ context.Context, org string) ([]model.Assessment, error) {
	s.mu.RLock()
	out := make([]model.Assessment, 0, len(s.assessments))
	for _, a := range s.assessments {
		if org == "" || a.OrganizationID == org {
			out = append(out, a)
		}
	}
	s.mu.RUnlock()
	sortAssessments(out)
	return out, nil
}

func sortAssessments(as []model.Assessment) {
	sort.Slice(as, func(i, j int) bool {
		if !as[i].WindowStart.Equal(as[j].WindowStart) {
			return as[i].WindowStart.Before(as[j].WindowStart)
		}
		return as[i].ID < as[j].ID
	})
}

func (s *MemoryStore) PutRespondents(_ context.Context, assessmentID string, rs []model.Respondent) (err error) {
	defer func(start time.Time) { observe(DriverMemory, "put_respondents", start, err) }(time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.assessments[assessmentID]; !ok {
		return fmt.Errorf("%w: assessment %s", ErrNotFound, assessmentID)
	}
	known := s.respondents[assessmentID]
	batch := make(map[string]struct{}, len(rs))
	for _, r := range rs {
		_, stored := known[r.ID]
		_, repeated := batch[r.ID]
		if stored || repeated {
			return fmt.Errorf("%w: respondent %s in assessment %s", ErrExists, r.ID, assessmentID)
		}
		batch[r.ID] = struct{}{}
	}
	if known == nil {
		known = make(map[string]model.Respondent, len(rs))
		s.respondents[assessmentID] = known
	}
	for _, r := range rs {
		known[r.ID] = copyRespondent(r)
	}
	return nil
}

func copyRespondent(r model.Respondent) model.Respondent {
	if r.Demographics != nil {
		d := make(map[string]string, len(r.Demographics))
		for k, v := range r.Demographics {
			d[k] = v
		}
		r.Demographics = d
	}
	return r
}

func (s *MemoryStore) Respondents(_ context.Context, assessmentID string) ([]model.Respondent, error) {
	s.mu.RLock()
	known := s.respondents[assessmentID]
	out := make([]model.Respondent, 0, len(known))
	for _, r := range known {
		out = append(out, copyRespondent(r))
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) Append(_ context.Context, rs []model.Response) (err error) {
	defer func(start time.Time) { observe(DriverMemory, "append", start, err) }(time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()
	batch := make(slotSet, len(rs))
	for _, r := range rs {
		if _, ok := s.assessments[r.AssessmentID]; !ok {
			return fmt.Errorf("%w: assessment %s", ErrNotFound, r.AssessmentID)
		}
		id := screening.SlotID(r)
		if _, taken := s.slots[r.AssessmentID][id]; taken {
			return fmt.Errorf("%w: %s revision %d", ErrSlotTaken, screening.EntityID(r), r.Revision)
		}
		if _, taken := batch[id]; taken {
			return fmt.Errorf("%w: %s revision %d", ErrSlotTaken, screening.EntityID(r), r.Revision)
		}
		batch[id] = struct{}{}
	}
	for _, r := range rs {
		set := s.slots[r.AssessmentID]
		if set == nil {
			set = make(slotSet)
			s.slots[r.AssessmentID] = set
		}
		set[screening.SlotID(r)] = struct{}{}
		s.responses[r.AssessmentID] = append(s.responses[r.AssessmentID], r)
	}
	return nil
}

func (s *MemoryStore) Responses(_ context.Context, assessmentID string) ([]model.Response, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Response(nil), s.responses[assessmentID]...), nil
}

func (s *MemoryStore) Current(ctx context.Context, assessmentID string) ([]model.Response, error) {
	rs, err := s.Responses(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	return model.Current(rs), nil
}

func (s *MemoryStore) Slots(_ context.Context, assessmentID string) (dedupe.Checker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := make(slotSet, len(s.slots[assessmentID]))
	for id := range s.slots[assessmentID] {
		set[id] = struct{}{}
	}
	return set, nil
}

func (s *MemoryStore) RecordScreening(_ context.Context, assessmentID string, suspicious []model.Response, issues []reason.Issue) (err error) {
	defer func(start time.Time) { observe(DriverMemory, "record_screening", start, err) }(time.Now())

	if len(suspicious) == 0 && len(issues) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	audit := s.audits[assessmentID]
	if audit == nil {
		audit = &Audit{}
		s.audits[assessmentID] = audit
	}
	audit.Suspicious = append(audit.Suspicious, suspicious...)
	audit.Issues = append(audit.Issues, issues...)
	return nil
}

func (s *MemoryStore) Audit(_ context.Context, assessmentID string) (Audit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	audit := s.audits[assessmentID]
	if audit == nil {
		return Audit{Suspicious: []model.Response{}, Issues: []reason.Issue{}}, nil
	}
	return Audit{
		Suspicious: append([]model.Response{}, audit.Suspicious...),
		Issues:     append([]reason.Issue{}, audit.Issues...),
	}, nil
}

func (s *MemoryStore) SaveActions(_ context.Context, actions ...pdca.Action) (err error) {
	defer func(start time.Time) { observe(DriverMemory, "save_actions", start, err) }(time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range actions {
		a.History = append([]pdca.Transition(nil), a.History...)
		s.actions[a.ID] = a
	}
	return nil
}

func (s *MemoryStore) Actions(_ context.Context) ([]pdca.Action, error) {
	s.mu.RLock()
	out := make([]pdca.Action, 0, len(s.actions))
	for _, a := range s.actions {
		out = append(out, a)
	}
	s.mu.RUnlock()
	sortActions(out)
	return out, nil
}

func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, rs := range s.responses {
		n += len(rs)
	}
	return n, nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error { return nil }
