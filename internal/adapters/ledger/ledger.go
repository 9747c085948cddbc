// Package ledger is the append-only record of everything the engine reads:
// item bank snapshots, assessments, respondents and response records.
//
// Responses are never updated in place. A correction is appended with a
// higher revision and Current folds the log down to the latest revision of
// every slot. Two implementations are provided: an in-memory store for tests
// and single-process runs, and a SQLite store for durable deployments.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/okian/barometer/internal/domain/dedupe"
	"github.com/okian/barometer/internal/domain/itembank"
	"github.com/okian/barometer/internal/domain/model"
	"github.com/okian/barometer/internal/domain/pdca"
	"github.com/okian/barometer/internal/domain/reason"
	"github.com/okian/barometer/internal/domain/screening"
	"github.com/okian/barometer/pkg/metrics"
)

// Supported drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// Store provides append and read access to the ledger. Implementations are
// safe for concurrent use; appends for one assessment are expected to come
// from a single writer.
type Store interface {
	// PutBank stores an immutable bank snapshot. Storing the same version
	// twice is a no-op when the content matches and ErrBankConflict otherwise.
	PutBank(ctx context.Context, bank *itembank.Bank) error
	// Bank returns the snapshot stored under version, or ErrNotFound.
	Bank(ctx context.Context, version string) (*itembank.Bank, error)

	// PutAssessment registers an assessment. Its bank version must already be
	// stored. Registering an existing id yields ErrExists.
	PutAssessment(ctx context.Context, a model.Assessment) error
	// Assessment returns a registered assessment, or ErrNotFound.
	Assessment(ctx context.Context, id string) (model.Assessment, error)
	// Assessments lists the assessments of an organization (all when org is
	// empty) ordered by window start, then id.
	Assessments(ctx context.Context, org string) ([]model.Assessment, error)

	// PutRespondents registers respondents of an assessment. Demographics are
	// fixed at intake: nothing is stored if any id is already registered.
	PutRespondents(ctx context.Context, assessmentID string, rs []model.Respondent) error
	// Respondents returns the respondents of an assessment sorted by id.
	Respondents(ctx context.Context, assessmentID string) ([]model.Respondent, error)

	// Append adds accepted responses. The batch is stored atomically; a slot
	// (key and revision) that is already filled yields ErrSlotTaken.
	Append(ctx context.Context, rs []model.Response) error
	// Responses returns the full log of an assessment in append order.
	Responses(ctx context.Context, assessmentID string) ([]model.Response, error)
	// Current returns the latest revision of every slot of an assessment.
	Current(ctx context.Context, assessmentID string) ([]model.Response, error)
	// Slots returns a point-in-time view of the filled slots, keyed by
	// screening.SlotID, for duplicate detection.
	Slots(ctx context.Context, assessmentID string) (dedupe.Checker, error)

	// RecordScreening keeps suspicious responses and screening issues for audit.
	RecordScreening(ctx context.Context, assessmentID string, suspicious []model.Response, issues []reason.Issue) error
	// Audit returns what screening set aside for an assessment.
	Audit(ctx context.Context, assessmentID string) (Audit, error)

	// SaveActions stores improvement actions, replacing any with the same id.
	// Actions returns every stored action ordered by creation time, then id.
	// Together they are the journal of the PDCA tracker.
	SaveActions(ctx context.Context, actions ...pdca.Action) error
	Actions(ctx context.Context) ([]pdca.Action, error)

	// Count returns the number of stored response records.
	Count(ctx context.Context) (int, error)
	Close() error
}

// Audit is the screening trail of an assessment.
type Audit struct {
	Suspicious []model.Response `json:"suspicious"`
	Issues     []reason.Issue   `json:"issues"`
}

// Open returns the store for driver. Path is ignored by the memory driver.
func Open(ctx context.Context, driver, path string, opts ...Option) (Store, error) {
	switch driver {
	case DriverMemory, "":
		return NewMemoryStore(), nil
	case DriverSQLite:
		return NewSQLiteStore(ctx, path, opts...)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}

// slotSet is a frozen set of slot ids.
type slotSet map[string]struct{}

func (s slotSet) Seen(_ context.Context, id string) bool {
	_, ok := s[id]
	return ok
}

func slotsOf(rs []model.Response) slotSet {
	set := make(slotSet, len(rs))
	for _, r := range rs {
		set[screening.SlotID(r)] = struct{}{}
	}
	return set
}

func sortActions(as []pdca.Action) {
	sort.Slice(as, func(i, j int) bool {
		if !as[i].CreatedAt.Equal(as[j].CreatedAt) {
			return as[i].CreatedAt.Before(as[j].CreatedAt)
		}
		return as[i].ID < as[j].ID
	})
}

// encodeBank renders the canonical snapshot document of a bank.
func encodeBank(bank *itembank.Bank) ([]byte, error) {
	if bank == nil {
		return nil, fmt.Errorf("%w: nil bank", itembank.ErrInvalidBank)
	}
	return json.Marshal(bank.Document())
}

func decodeBank(raw []byte) (*itembank.Bank, error) {
	var doc itembank.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: bank snapshot: %v", ErrCorruptRecord, err)
	}
	return itembank.FromDocument(doc)
}

// observe records latency and failures of one ledger operation. Lookups of
// absent records are not failures.
func observe(driver, op string, start time.Time, err error) {
	metrics.RecordLedgerLatency(driver, op, float64(time.Since(start).Microseconds())/1000)
	if err != nil && !errors.Is(err, ErrNotFound) {
		metrics.RecordLedgerError(driver, op)
	}
}
