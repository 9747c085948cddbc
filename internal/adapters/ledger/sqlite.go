package ledger

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/okian/barometer/internal/domain/dedupe"
	"github.com/okian/barometer/internal/domain/itembank"
	"github.com/okian/barometer/internal/domain/model"
	"github.com/okian/barometer/internal/domain/pdca"
	"github.com/okian/barometer/internal/domain/reason"
	"github.com/okian/barometer/internal/domain/screening"
	"github.com/okian/barometer/pkg/logger"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

const defaultBusyTimeout = 5 * time.Second

// SQLiteStore keeps the ledger in a SQLite database in WAL mode so readers
// never block the single appender.
type SQLiteStore struct {
	db          *sql.DB
	path        string
	busyTimeout time.Duration
	logger      logger.Logger
}

// NewSQLiteStore opens (creating if needed) the database at path and
// applies the schema.
func NewSQLiteStore(ctx context.Context, path string, opts ...Option) (*SQLiteStore, error) {
	s := &SQLiteStore{
		path:        path,
		busyTimeout: defaultBusyTimeout,
		logger:      logger.Get().Named("ledger"),
	}
	for _, opt := range opts {
		opt(s)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("ledger: create data dir: %w", err)
		}
	}

	db, err := openDB("sqlite", s.dsn())
	if err != nil {
		return nil, fmt.Errorf("ledger: open database: %w", err)
	}
	s.db = db

	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ledger: migration: %w", err)
	}

	s.logger.Info(ctx, "sqlite ledger ready", logger.String("path", path))
	return s, nil
}

// dsn sets the pragmas on every pooled connection, not just the first.
func (s *SQLiteStore) dsn() string {
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", s.busyTimeout.Milliseconds()))
	q.Add("_pragma", "synchronous(NORMAL)")
	q.Add("_pragma", "foreign_keys(ON)")
	return "file:" + s.path + "?" + q.Encode()
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS bank_snapshots (
			version    TEXT PRIMARY KEY,
			framework  TEXT NOT NULL,
			document   TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS assessments (
			id              TEXT PRIMARY KEY,
			organization_id TEXT NOT NULL,
			framework       TEXT NOT NULL,
			sector          TEXT NOT NULL DEFAULT '',
			window_start    TEXT NOT NULL DEFAULT '',
			window_end      TEXT NOT NULL DEFAULT '',
			bank_version    TEXT NOT NULL REFERENCES bank_snapshots(version)
		);
		CREATE INDEX IF NOT EXISTS idx_assessments_org ON assessments(organization_id);

		CREATE TABLE IF NOT EXISTS respondents (
			assessment_id TEXT NOT NULL REFERENCES assessments(id),
			id            TEXT NOT NULL,
			demographics  TEXT NOT NULL DEFAULT '{}',
			started_at    TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (assessment_id, id)
		);

		CREATE TABLE IF NOT EXISTS responses (
			assessment_id TEXT NOT NULL REFERENCES assessments(id),
			respondent_id TEXT NOT NULL,
			item_id       TEXT NOT NULL,
			revision      INTEGER NOT NULL DEFAULT 0,
			value         REAL NOT NULL,
			text          TEXT NOT NULL DEFAULT '',
			submitted_at  TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (assessment_id, respondent_id, item_id, revision)
		);

		CREATE TABLE IF NOT EXISTS suspicious_responses (
			assessment_id TEXT NOT NULL,
			respondent_id TEXT NOT NULL,
			item_id       TEXT NOT NULL,
			revision      INTEGER NOT NULL DEFAULT 0,
			value         REAL NOT NULL,
			text          TEXT NOT NULL DEFAULT '',
			submitted_at  TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_suspicious_assessment ON suspicious_responses(assessment_id);

		CREATE TABLE IF NOT EXISTS screening_issues (
			assessment_id TEXT NOT NULL,
			code          TEXT NOT NULL,
			entity_id     TEXT NOT NULL,
			detail        TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_issues_assessment ON screening_issues(assessment_id);

		CREATE TABLE IF NOT EXISTS improvement_actions (
			id              TEXT PRIMARY KEY,
			organization_id TEXT NOT NULL,
			assessment_id   TEXT NOT NULL,
			state           TEXT NOT NULL,
			created_at      TEXT NOT NULL DEFAULT '',
			document        TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_actions_org ON improvement_actions(organization_id);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: timestamp %q", ErrCorruptRecord, s)
	}
	return t, nil
}

func (s *SQLiteStore) PutBank(ctx context.Context, bank *itembank.Bank) (err error) {
	defer func(start time.Time) { observe(DriverSQLite, "put_bank", start, err) }(time.Now())

	raw, err := encodeBank(bank)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ledger: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var prev string
	err = tx.QueryRowContext(ctx, `SELECT document FROM bank_snapshots WHERE version = ?`, bank.Version()).Scan(&prev)
	switch {
	case err == nil:
		if bytes.Equal([]byte(prev), raw) {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrBankConflict, bank.Version())
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("ledger: read bank: %w", err)
	}

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO bank_snapshots (version, framework, document, created_at) VALUES (?, ?, ?, ?)`,
		bank.Version(), string(bank.Framework()), string(raw), formatTime(time.Now()),
	); err != nil {
		return fmt.Errorf("ledger: insert bank: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) Bank(ctx context.Context, version string) (bank *itembank.Bank, err error) {
	defer func(start time.Time) { observe(DriverSQLite, "bank", start, err) }(time.Now())

	var raw string
	err = s.db.QueryRowContext(ctx, `SELECT document FROM bank_snapshots WHERE version = ?`, version).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: bank %s", ErrNotFound, version)
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: read bank: %w", err)
	}
	return decodeBank([]byte(raw))
}

func (s *SQLiteStore) PutAssessment(ctx context.Context, a model.Assessment) (err error) {
	defer func(start time.Time) { observe(DriverSQLite, "put_assessment", start, err) }(time.Now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ledger: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if ok, err := exists(ctx, tx, `SELECT 1 FROM assessments WHERE id = ?`, a.ID); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("%w: assessment %s", ErrExists, a.ID)
	}
	if ok, err := exists(ctx, tx, `SELECT 1 FROM bank_snapshots WHERE version = ?`, a.BankVersion); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("%w: bank %s", ErrNotFound, a.BankVersion)
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO assessments (id, organization_id, framework, sector, window_start, window_end, bank_version)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.OrganizationID, string(a.Framework), a.Sector,
		formatTime(a.WindowStart), formatTime(a.WindowEnd), a.BankVersion,
	); err != nil {
		return fmt.Errorf("ledger: insert assessment: %w", err)
	}
	return tx.Commit()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func exists(ctx context.Context, q queryer, query string, args ...any) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ledger: lookup: %w", err)
	}
	return true, nil
}

const assessmentColumns = `id, organization_id, framework, sector, window_start, window_end, bank_version`

type scanner interface {
	Scan(dest ...any) error
}

func scanAssessment(row scanner) (model.Assessment, error) {
	var (
		a          model.Assessment
		fw         string
		start, end string
	)
	if err := row.Scan(&a.ID, &a.OrganizationID, &fw, &a.Sector, &start, &end, &a.BankVersion); err != nil {
		return model.Assessment{}, err
	}
	a.Framework = model.Framework(fw)
	var err error
	if a.WindowStart, err = parseTime(start); err != nil {
		return model.Assessment{}, err
	}
	if a.WindowEnd, err = parseTime(end); err != nil {
		return model.Assessment{}, err
	}
	return a, nil
}

func (s *SQLiteStore) Assessment(ctx context.Context, id string) (a model.Assessment, err error) {
	defer func(start time.Time) { observe(DriverSQLite, "assessment", start, err) }(time.Now())

	a, err = scanAssessment(s.db.QueryRowContext(ctx, `SELECT `+assessmentColumns+` FROM assessments WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Assessment{}, fmt.Errorf("%w: assessment %s", ErrNotFound, id)
	}
	if err != nil {
		return model.Assessment{}, fmt.Errorf("ledger: read assessment: %w", err)
	}
	return a, nil
}

func (s *SQLiteStore) Assessments(ctx context.Context, org string) (out []model.Assessment, err error) {
	defer func(start time.Time) { observe(DriverSQLite, "assessments", start, err) }(time.Now())

	query := `SELECT ` + assessmentColumns + ` FROM assessments`
	var args []any
	if org != "" {
		query += ` WHERE organization_id = ?`
		args = append(args, org)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: list assessments: %w", err)
	}
	defer rows.Close()

	out = []model.Assessment{}
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, fmt.Errorf("ledger: scan assessment: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: list assessments: %w", err)
	}
	sortAssessments(out)
	return out, nil
}

func (s *SQLiteStore) PutRespondents(ctx context.Context, assessmentID string, rs []model.Respondent) (err error) {
	defer func(start time.Time) { observe(DriverSQLite, "put_respondents", start, err) }(time.Now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ledger: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if ok, err := exists(ctx, tx, `SELECT 1 FROM assessments WHERE id = ?`, assessmentID); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("%w: assessment %s", ErrNotFound, assessmentID)
	}

	batch := make(map[string]struct{}, len(rs))
	for _, r := range rs {
		if _, repeated := batch[r.ID]; repeated {
			return fmt.Errorf("%w: respondent %s in assessment %s", ErrExists, r.ID, assessmentID)
		}
		batch[r.ID] = struct{}{}
		if ok, err := exists(ctx, tx, `SELECT 1 FROM respondents WHERE assessment_id = ? AND id = ?`, assessmentID, r.ID); err != nil {
			return err
		} else if ok {
			return fmt.Errorf("%w: respondent %s in assessment %s", ErrExists, r.ID, assessmentID)
		}
		demo, err := json.Marshal(r.Demographics)
		if err != nil {
			return fmt.Errorf("ledger: encode demographics: %w", err)
		}
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO respondents (assessment_id, id, demographics, started_at) VALUES (?, ?, ?, ?)`,
			assessmentID, r.ID, string(demo), formatTime(r.StartedAt),
		); err != nil {
			return fmt.Errorf("ledger: insert respondent: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Respondents(ctx context.Context, assessmentID string) (out []model.Respondent, err error) {
	defer func(start time.Time) { observe(DriverSQLite, "respondents", start, err) }(time.Now())

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, demographics, started_at FROM respondents WHERE assessment_id = ? ORDER BY id`, assessmentID)
	if err != nil {
		return nil, fmt.Errorf("ledger: list respondents: %w", err)
	}
	defer rows.Close()

	out = []model.Respondent{}
	for rows.Next() {
		var (
			r             model.Respondent
			demo, started string
		)
		if err := rows.Scan(&r.ID, &demo, &started); err != nil {
			return nil, fmt.Errorf("ledger: scan respondent: %w", err)
		}
		if err := json.Unmarshal([]byte(demo), &r.Demographics); err != nil {
			return nil, fmt.Errorf("%w: demographics of %s: %v", ErrCorruptRecord, r.ID, err)
		}
		if r.StartedAt, err = parseTime(started); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: list respondents: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) Append(ctx context.Context, rs []model.Response) (err error) {
	defer func(start time.Time) { observe(DriverSQLite, "append", start, err) }(time.Now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ledger: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	known := make(map[string]struct{})
	batch := make(slotSet, len(rs))
	for _, r := range rs {
		if _, ok := known[r.AssessmentID]; !ok {
			found, err := exists(ctx, tx, `SELECT 1 FROM assessments WHERE id = ?`, r.AssessmentID)
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("%w: assessment %s", ErrNotFound, r.AssessmentID)
			}
			known[r.AssessmentID] = struct{}{}
		}

		id := screening.SlotID(r)
		taken, err := exists(ctx, tx,
			`SELECT 1 FROM responses WHERE assessment_id = ? AND respondent_id = ? AND item_id = ? AND revision = ?`,
			r.AssessmentID, r.RespondentID, r.ItemID, r.Revision)
		if err != nil {
			return err
		}
		if _, repeated := batch[id]; taken || repeated {
			return fmt.Errorf("%w: %s revision %d", ErrSlotTaken, screening.EntityID(r), r.Revision)
		}
		batch[id] = struct{}{}

		if _, err = tx.ExecContext(ctx, `
			INSERT INTO responses (assessment_id, respondent_id, item_id, revision, value, text, submitted_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.AssessmentID, r.RespondentID, r.ItemID, r.Revision, r.Value, r.Text, formatTime(r.SubmittedAt),
		); err != nil {
			return fmt.Errorf("ledger: insert response: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) queryResponses(ctx context.Context, table, assessmentID string) ([]model.Response, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT assessment_id, respondent_id, item_id, revision, value, text, submitted_at
		FROM `+table+` WHERE assessment_id = ? ORDER BY rowid`, assessmentID)
	if err != nil {
		return nil, fmt.Errorf("ledger: list %s: %w", table, err)
	}
	defer rows.Close()

	out := []model.Response{}
	for rows.Next() {
		var (
			r         model.Response
			submitted string
		)
		if err := rows.Scan(&r.AssessmentID, &r.RespondentID, &r.ItemID, &r.Revision, &r.Value, &r.Text, &submitted); err != nil {
			return nil, fmt.Errorf("ledger: scan %s: %w", table, err)
		}
		if r.SubmittedAt, err = parseTime(submitted); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: list %s: %w", table, err)
	}
	return out, nil
}

func (s *SQLiteStore) Responses(ctx context.Context, assessmentID string) (out []model.Response, err error) {
	defer func(start time.Time) { observe(DriverSQLite, "responses", start, err) }(time.Now())
	return s.queryResponses(ctx, "responses", assessmentID)
}

func (s *SQLiteStore) Current(ctx context.Context, assessmentID string) ([]model.Response, error) {
	rs, err := s.Responses(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	return model.Current(rs), nil
}

func (s *SQLiteStore) Slots(ctx context.Context, assessmentID string) (dedupe.Checker, error) {
	rs, err := s.Responses(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	return slotsOf(rs), nil
}

func (s *SQLiteStore) RecordScreening(ctx context.Context, assessmentID string, suspicious []model.Response, issues []reason.Issue) (err error) {
	defer func(start time.Time) { observe(DriverSQLite, "record_screening", start, err) }(time.Now())

	if len(suspicious) == 0 && len(issues) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ledger: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, r := range suspicious {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO suspicious_responses (assessment_id, respondent_id, item_id, revision, value, text, submitted_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			assessmentID, r.RespondentID, r.ItemID, r.Revision, r.Value, r.Text, formatTime(r.SubmittedAt),
		); err != nil {
			return fmt.Errorf("ledger: insert suspicious response: %w", err)
		}
	}
	for _, is := range issues {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO screening_issues (assessment_id, code, entity_id, detail) VALUES (?, ?, ?, ?)`,
			assessmentID, string(is.Code), is.EntityID, is.Detail,
		); err != nil {
			return fmt.Errorf("ledger: insert screening issue: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Audit(ctx context.Context, assessmentID string) (audit Audit, err error) {
	defer func(start time.Time) { observe(DriverSQLite, "audit", start, err) }(time.Now())

	if audit.Suspicious, err = s.queryResponses(ctx, "suspicious_responses", assessmentID); err != nil {
		return Audit{}, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT code, entity_id, detail FROM screening_issues WHERE assessment_id = ? ORDER BY rowid`, assessmentID)
	if err != nil {
		return Audit{}, fmt.Errorf("ledger: list screening issues: %w", err)
	}
	defer rows.Close()

	audit.Issues = []reason.Issue{}
	for rows.Next() {
		var (
			is   reason.Issue
			code string
		)
		if err := rows.Scan(&code, &is.EntityID, &is.Detail); err != nil {
			return Audit{}, fmt.Errorf("ledger: scan screening issue: %w", err)
		}
		is.Code = reason.Code(code)
		audit.Issues = append(audit.Issues, is)
	}
	if err := rows.Err(); err != nil {
		return Audit{}, fmt.Errorf("ledger: list screening issues: %w", err)
	}
	return audit, nil
}

func (s *SQLiteStore) SaveActions(ctx context.Context, actions ...pdca.Action) (err error) {
	defer func(start time.Time) { observe(DriverSQLite, "save_actions", start, err) }(time.Now())

	if len(actions) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ledger: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, a := range actions {
		doc, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("ledger: encode action %s: %w", a.ID, err)
		}
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO improvement_actions (id, organization_id, assessment_id, state, created_at, document)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET state = excluded.state, document = excluded.document`,
			a.ID, a.OrganizationID, a.AssessmentID, string(a.State), formatTime(a.CreatedAt), string(doc),
		); err != nil {
			return fmt.Errorf("ledger: save action: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Actions(ctx context.Context) (out []pdca.Action, err error) {
	defer func(start time.Time) { observe(DriverSQLite, "actions", start, err) }(time.Now())

	rows, err := s.db.QueryContext(ctx, `SELECT document FROM improvement_actions`)
	if err != nil {
		return nil, fmt.Errorf("ledger: list actions: %w", err)
	}
	defer rows.Close()

	out = []pdca.Action{}
	for rows.Next() {
		var (
			doc string
			a   pdca.Action
		)
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("ledger: scan action: %w", err)
		}
		if err := json.Unmarshal([]byte(doc), &a); err != nil {
			return nil, fmt.Errorf("%w: action: %v", ErrCorruptRecord, err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: list actions: %w", err)
	}
	sortActions(out)
	return out, nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM responses`).Scan(&n); err != nil {
		return 0, fmt.Errorf("ledger: count: %w", err)
	}
	return n, nil
}
