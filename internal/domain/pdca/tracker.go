package pdca

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/okian/barometer/internal/domain/model"
	"github.com/okian/barometer/internal/domain/scoring"
)

// Journal persists improvement actions. SaveActions replaces stored actions
// with the same id; Actions returns everything saved.
type Journal interface {
	SaveActions(ctx context.Context, actions ...Action) error
	Actions(ctx context.Context) ([]Action, error)
}

// Tracker keeps the improvement actions of every organization. With a
// journal, each change is saved before it becomes visible.
type Tracker struct {
	mu      sync.RWMutex
	cfg     Config
	journal Journal
	actions map[string]Action
	byOrg   map[string][]string
}

// NewTracker returns an empty tracker.
func NewTracker(cfg Config, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		cfg:     cfg,
		actions: make(map[string]Action),
		byOrg:   make(map[string][]string),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Load replaces the tracked actions with the journal's content.
func (t *Tracker) Load(ctx context.Context) (int, error) {
	if t.journal == nil {
		return 0, nil
	}
	saved, err := t.journal.Actions(ctx)
	if err != nil {
		return 0, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.actions = make(map[string]Action, len(saved))
	t.byOrg = make(map[string][]string)
	for _, a := range saved {
		t.put(a)
	}
	return len(saved), nil
}

// save writes actions to the journal. Callers hold the lock.
func (t *Tracker) save(ctx context.Context, actions []Action) error {
	if t.journal == nil || len(actions) == 0 {
		return nil
	}
	if err := t.journal.SaveActions(ctx, actions...); err != nil {
		return fmt.Errorf("pdca: save actions: %w", err)
	}
	return nil
}

func (t *Tracker) put(a Action) {
	if _, ok := t.actions[a.ID]; !ok {
		t.byOrg[a.OrganizationID] = append(t.byOrg[a.OrganizationID], a.ID)
	}
	t.actions[a.ID] = a
}

// Add stores new actions. Nothing is stored if any id already exists.
func (t *Tracker) Add(ctx context.Context, actions ...Action) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, a := range actions {
		if _, ok := t.actions[a.ID]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateAction, a.ID)
		}
	}
	if err := t.save(ctx, actions); err != nil {
		return err
	}
	for _, a := range actions {
		t.put(a)
	}
	return nil
}

// Adopt stores planned actions unless their assessment already has an open
// action for the same dimension. It returns, in input order, the open action
// that now covers each dimension, so repeating a plan changes nothing.
func (t *Tracker) Adopt(ctx context.Context, planned ...Action) ([]Action, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	type slot struct{ assessment, dimension string }
	open := make(map[slot]Action)
	for _, a := range t.actions {
		if !a.State.Terminal() {
			open[slot{a.AssessmentID, a.DimensionID}] = a
		}
	}

	out := make([]Action, 0, len(planned))
	var fresh []Action
	for _, a := range planned {
		if prev, ok := open[slot{a.AssessmentID, a.DimensionID}]; ok {
			out = append(out, prev)
			continue
		}
		if _, ok := t.actions[a.ID]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateAction, a.ID)
		}
		open[slot{a.AssessmentID, a.DimensionID}] = a
		fresh = append(fresh, a)
		out = append(out, a)
	}
	if err := t.save(ctx, fresh); err != nil {
		return nil, err
	}
	for _, a := range fresh {
		t.put(a)
	}
	return out, nil
}

// Get returns an action by id.
func (t *Tracker) Get(id string) (Action, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	a, ok := t.actions[id]
	return a, ok
}

// List returns the actions of an organization, oldest first.
func (t *Tracker) List(org string) []Action {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Action, 0, len(t.byOrg[org]))
	for _, id := range t.byOrg[org] {
		out = append(out, t.actions[id])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Apply advances one action and stores the result.
func (t *Tracker) Apply(ctx context.Context, id string, ev Event) (Action, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.actions[id]
	if !ok {
		return Action{}, fmt.Errorf("%w: %s", ErrUnknownAction, id)
	}
	next, err := Advance(a, ev, t.cfg)
	if err != nil {
		return a, err
	}
	if err := t.save(ctx, []Action{next}); err != nil {
		return a, err
	}
	t.actions[id] = next
	return next, nil
}

// Remeasure moves every in-progress action of the assessment's organization
// into review with its scores. Actions the assessment cannot review, such as
// those planned from it or from a later window, stay where they are. It
// returns the actions that moved.
func (t *Tracker) Remeasure(ctx context.Context, as model.Assessment, res scoring.Result, at time.Time) ([]Action, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var moved []Action
	for _, id := range t.byOrg[as.OrganizationID] {
		a := t.actions[id]
		if a.State != InProgress {
			continue
		}
		ev := Remeasured{OrganizationID: as.OrganizationID, AssessmentID: as.ID, WindowStart: as.WindowStart, At: at}
		if d, ok := res.Dimension(a.DimensionID); ok {
			ev.Score = d.Score
		}
		next, err := Advance(a, ev, t.cfg)
		if err != nil {
			continue
		}
		moved = append(moved, next)
	}
	if err := t.save(ctx, moved); err != nil {
		return nil, err
	}
	for _, a := range moved {
		t.actions[a.ID] = a
	}
	return moved, nil
}

// Summary is the improvement report of an organization.
type Summary struct {
	OrganizationID  string        `json:"organization_id"`
	Total           int           `json:"total"`
	ByState         map[State]int `json:"by_state"`
	CompletionRate  float64       `json:"completion_rate"`
	SuccessRate     float64       `json:"success_rate"`
	MeanImprovement *float64      `json:"mean_improvement"`
}

// Summarize reports counts per state, the share of concluded actions, the
// share of concluded actions that were standardized, and the mean
// improvement of concluded actions with defined scores.
func (t *Tracker) Summarize(org string) Summary {
	s := Summary{OrganizationID: org, ByState: make(map[State]int)}
	for _, st := range States() {
		s.ByState[st] = 0
	}
	var (
		sum       float64
		measured  int
		concluded int
	)
	for _, a := range t.List(org) {
		s.Total++
		s.ByState[a.State]++
		if !a.State.Terminal() {
			continue
		}
		concluded++
		if d, ok := a.Improvement(); ok {
			sum += d
			measured++
		}
	}
	if s.Total > 0 {
		s.CompletionRate = float64(concluded) / float64(s.Total)
	}
	if concluded > 0 {
		s.SuccessRate = float64(s.ByState[Standardized]) / float64(concluded)
	}
	if measured > 0 {
		m := sum / float64(measured)
		s.MeanImprovement = &m
	}
	return s
}
