// Package screening partitions a raw response batch into accepted,
// suspicious and rejected records.
//
// Checks run in a fixed order: scale domain, duplicate slot, then the
// per-respondent heuristics. A respondent flagged by an earlier submission
// stays flagged; everyone else is judged for straight-lining and completion
// time on their full answer set, ledger history plus the batch. Rejections
// are collected, never returned as errors, and the ledger is not touched.
package screening

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/okian/barometer/internal/domain/dedupe"
	"github.com/okian/barometer/internal/domain/itembank"
	"github.com/okian/barometer/internal/domain/model"
	"github.com/okian/barometer/internal/domain/reason"
)

// Prior is the read-only view of what the ledger already holds for the
// assessment. Every field is optional.
type Prior struct {
	// Slots reports response slots already in the ledger, by SlotID.
	Slots dedupe.Checker
	// Respondents supplies intake timestamps for the timing check.
	Respondents map[string]model.Respondent
	// History holds the accepted answers of each respondent.
	History map[string][]model.Response
	// Flagged lists respondents an earlier submission set aside.
	Flagged map[string]struct{}
}

// HistoryOf groups accepted responses by respondent for Prior.History.
func HistoryOf(accepted []model.Response) map[string][]model.Response {
	out := make(map[string][]model.Response)
	for _, r := range accepted {
		out[r.RespondentID] = append(out[r.RespondentID], r)
	}
	return out
}

// Result is the partition of one batch.
type Result struct {
	Accepted   []model.Response `json:"accepted"`
	Suspicious []model.Response `json:"suspicious,omitempty"`
	Rejections []reason.Issue   `json:"rejections,omitempty"`
	// Retracted lists respondents flagged by this batch whose earlier
	// answers had been accepted. Those answers no longer count.
	Retracted []string `json:"retracted,omitempty"`
}

// Validator applies the screening checks.
type Validator struct {
	cfg Config
}

// NewValidator builds a validator and checks its configuration.
func NewValidator(opts ...Option) (*Validator, error) {
	v := &Validator{cfg: DefaultConfig()}
	for _, opt := range opts {
		opt(v)
	}
	if err := v.cfg.Validate(); err != nil {
		return nil, err
	}
	return v, nil
}

// Config returns the active heuristics.
func (v *Validator) Config() Config { return v.cfg }

// SlotID identifies the ledger slot a response fills. Corrections occupy
// their own slot per revision so they are not mistaken for duplicates.
func SlotID(r model.Response) string {
	id := r.Key().String()
	if r.Revision > 0 {
		id += "\x1f" + strconv.Itoa(r.Revision)
	}
	return id
}

// EntityID is the user-facing identifier of a response in an Issue.
func EntityID(r model.Response) string {
	return r.RespondentID + "/" + r.ItemID
}

// Validate partitions batch. Only a bank that is not the one the
// assessment is pinned to yields an error.
func (v *Validator) Validate(ctx context.Context, batch []model.Response, a model.Assessment, bank *itembank.Bank, prior Prior) (Result, error) {
	if bank == nil || bank.Version() != a.BankVersion {
		return Result{}, fmt.Errorf("%w: assessment %s pins %q", ErrBankMismatch, a.ID, a.BankVersion)
	}

	var res Result
	seen := dedupe.NewInMemoryDeduper()
	passed := make([]model.Response, 0, len(batch))

	for _, r := range batch {
		if issue, ok := checkDomain(r, a, bank); !ok {
			res.Rejections = append(res.Rejections, issue)
			continue
		}
		slot := SlotID(r)
		if (prior.Slots != nil && prior.Slots.Seen(ctx, slot)) || seen.SeenAndRecord(ctx, slot) {
			res.Rejections = append(res.Rejections, reason.NewIssue(reason.DuplicateResponse, EntityID(r),
				"item %s already answered in assessment %s", r.ItemID, a.ID))
			continue
		}
		passed = append(passed, r)
	}

	flagged := v.screenRespondents(passed, bank, prior)
	ids := make([]string, 0, len(flagged))
	for id := range flagged {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		res.Rejections = append(res.Rejections, flagged[id])
		if _, known := prior.Flagged[id]; !known && len(prior.History[id]) > 0 {
			res.Retracted = append(res.Retracted, id)
		}
	}

	for _, r := range passed {
		if _, bad := flagged[r.RespondentID]; bad {
			res.Suspicious = append(res.Suspicious, r)
			continue
		}
		res.Accepted = append(res.Accepted, r)
	}
	return res, nil
}

func checkDomain(r model.Response, a model.Assessment, bank *itembank.Bank) (reason.Issue, bool) {
	if r.AssessmentID != a.ID {
		return reason.NewIssue(reason.OutOfRangeValue, EntityID(r),
			"response belongs to assessment %s, not %s", r.AssessmentID, a.ID), false
	}
	it, ok := bank.Item(r.ItemID)
	if !ok {
		return reason.NewIssue(reason.OutOfRangeValue, EntityID(r),
			"item %s is not part of bank %s", r.ItemID, bank.Version()), false
	}
	if it.Kind == itembank.KindFreeText {
		return reason.Issue{}, true
	}
	if !it.Scale.Contains(r.Value) {
		return reason.NewIssue(reason.OutOfRangeValue, EntityID(r),
			"value %v outside scale %v..%v", r.Value, it.Scale.Min, it.Scale.Max), false
	}
	return reason.Issue{}, true
}

// screenRespondents returns one SuspiciousPattern issue per flagged respondent.
func (v *Validator) screenRespondents(passed []model.Response, bank *itembank.Bank, prior Prior) map[string]reason.Issue {
	byRespondent := make(map[string][]model.Response)
	for _, r := range passed {
		byRespondent[r.RespondentID] = append(byRespondent[r.RespondentID], r)
	}

	flagged := make(map[string]reason.Issue)
	for id, batch := range byRespondent {
		if _, ok := prior.Flagged[id]; ok {
			flagged[id] = reason.NewIssue(reason.SuspiciousPattern, id,
				"respondent was set aside by an earlier submission")
			continue
		}
		rs := batch
		if h := prior.History[id]; len(h) > 0 {
			rs = model.Current(append(append([]model.Response(nil), h...), batch...))
		}
		if share, value, ok := v.straightLined(rs, bank); ok {
			flagged[id] = reason.NewIssue(reason.SuspiciousPattern, id,
				"straight-lining: %.0f%% of scored answers are %v", share*100, value)
			continue
		}
		if span, minimum, ok := v.tooFast(rs, prior.Respondents[id]); ok {
			flagged[id] = reason.NewIssue(reason.SuspiciousPattern, id,
				"completed %d answers in %s, minimum plausible is %s", len(rs), span, minimum)
		}
	}
	return flagged
}

// straightLined compares raw values so reverse-keyed items still expose a
// respondent who picked the same column throughout.
func (v *Validator) straightLined(rs []model.Response, bank *itembank.Bank) (float64, float64, bool) {
	counts := make(map[float64]int)
	scored := 0
	for _, r := range rs {
		it, _ := bank.Item(r.ItemID)
		if it.Kind != itembank.KindLikert {
			continue
		}
		counts[r.Value]++
		scored++
	}
	if scored < v.cfg.StraightLineMinItems {
		return 0, 0, false
	}
	var (
		top   int
		value float64
	)
	for val, n := range counts {
		if n > top || (n == top && val < value) {
			top, value = n, val
		}
	}
	share := float64(top) / float64(scored)
	return share, value, share >= v.cfg.StraightLineFraction
}

func (v *Validator) tooFast(rs []model.Response, who model.Respondent) (time.Duration, time.Duration, bool) {
	if v.cfg.MinTimePerItem == 0 {
		return 0, 0, false
	}
	var first, last time.Time
	stamped := 0
	for _, r := range rs {
		if r.SubmittedAt.IsZero() {
			continue
		}
		stamped++
		if first.IsZero() || r.SubmittedAt.Before(first) {
			first = r.SubmittedAt
		}
		if r.SubmittedAt.After(last) {
			last = r.SubmittedAt
		}
	}
	if stamped == 0 {
		return 0, 0, false
	}
	// Without an intake timestamp the first answer opens the clock, so it
	// is not counted as timed.
	start, timed := who.StartedAt, len(rs)
	if start.IsZero() {
		if stamped < 2 {
			return 0, 0, false
		}
		start, timed = first, len(rs)-1
	}
	span := last.Sub(start)
	minimum := v.cfg.MinTimePerItem * time.Duration(timed)
	return span, minimum, span < minimum
}
