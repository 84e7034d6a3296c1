// Package storage provides the SQLite-backed local journal of forecast runs
// and feedback submissions.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	_ "modernc.org/sqlite"

	"github.com/rewired-gh/forecastlens/internal/models"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// RunRecord is the journal entry for one orchestrator run.
type RunRecord struct {
	ID           string                 `json:"id"`
	Model        string                 `json:"model"`
	Transform    string                 `json:"transform"`
	Rows         int                    `json:"rows"`
	Width        int                    `json:"width"`
	Phase        string                 `json:"phase"`
	Error        string                 `json:"error,omitempty"`
	DetailedOK   bool                   `json:"detailed_ok"`
	Result       *models.ForecastResult `json:"result,omitempty"`
	Attributions models.AttributionMap  `json:"attributions,omitempty"`
	StartedAt    time.Time              `json:"started_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

// FeedbackRecord is one feedback submission. Delivered is false when the
// feedback sink could not be reached.
type FeedbackRecord struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id,omitempty"`
	Correct   bool      `json:"correct"`
	Comments  string    `json:"comments"`
	Delivered bool      `json:"delivered"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Storage wraps a SQLite database for all persistence operations.
type Storage struct {
	db      *sql.DB
	maxRuns int
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/forecastlens/data.db.
func New(maxRuns int, dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "forecastlens", "data.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	s := &Storage{db: db, maxRuns: maxRuns}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id           TEXT PRIMARY KEY,
			model        TEXT NOT NULL,
			transform    TEXT NOT NULL,
			row_count    INTEGER NOT NULL,
			width        INTEGER NOT NULL,
			phase        TEXT NOT NULL,
			error        TEXT NOT NULL DEFAULT '',
			detailed_ok  INTEGER NOT NULL DEFAULT 0,
			result       TEXT NOT NULL DEFAULT 'null',
			attributions TEXT NOT NULL DEFAULT '[]',
			started_at   INTEGER NOT NULL,
			updated_at   INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at DESC)`,
		`CREATE TABLE IF NOT EXISTS feedback (
			id         TEXT PRIMARY KEY,
			run_id     TEXT NOT NULL DEFAULT '',
			correct    INTEGER NOT NULL,
			comments   TEXT NOT NULL DEFAULT '',
			delivered  INTEGER NOT NULL DEFAULT 0,
			message    TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_feedback_pending ON feedback(delivered, created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// RecordRun inserts or updates a run and keeps only the newest maxRuns runs.
func (s *Storage) RecordRun(rec *RunRecord) error {
	if rec.ID == "" {
		return errors.New("run ID must not be empty")
	}
	resultJSON, err := json.Marshal(rec.Result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	attrs := []models.Attribution(rec.Attributions)
	if attrs == nil {
		attrs = []models.Attribution{}
	}
	attrsJSON, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("failed to marshal attributions: %w", err)
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = rec.UpdatedAt
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.Exec(`
		INSERT INTO runs
			(id, model, transform, row_count, width, phase, error, detailed_ok,
			 result, attributions, started_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			phase=excluded.phase, error=excluded.error, detailed_ok=excluded.detailed_ok,
			result=excluded.result, attributions=excluded.attributions,
			updated_at=excluded.updated_at`,
		rec.ID, rec.Model, rec.Transform, rec.Rows, rec.Width, rec.Phase, rec.Error,
		boolToInt(rec.DetailedOK), string(resultJSON), string(attrsJSON),
		rec.StartedAt.UnixNano(), rec.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert run: %w", err)
	}

	if _, err = tx.Exec(`
		DELETE FROM runs WHERE id NOT IN (
			SELECT id FROM runs ORDER BY started_at DESC LIMIT ?
		)`, s.maxRuns); err != nil {
		return fmt.Errorf("failed to enforce run cap: %w", err)
	}

	return tx.Commit()
}

func (s *Storage) GetRun(id string) (*RunRecord, error) {
	row := s.db.QueryRow(`SELECT `+runCols+` FROM runs WHERE id = ?`, id)
	rec, err := scanRun(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return rec, nil
}

// ListRuns returns up to limit runs, newest first.
func (s *Storage) ListRuns(limit int) ([]*RunRecord, error) {
	rows, err := s.db.Query(`SELECT `+runCols+` FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := []*RunRecord{}
	for rows.Next() {
		rec, err := scanRun(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, rec)
	}
	return runs, rows.Err()
}

func (s *Storage) AddFeedback(fb *FeedbackRecord) error {
	if fb.ID == "" {
		return errors.New("feedback ID must not be empty")
	}
	if fb.CreatedAt.IsZero() {
		fb.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO feedback (id, run_id, correct, comments, delivered, message, created_at)
		VALUES (?,?,?,?,?,?,?)`,
		fb.ID, fb.RunID, boolToInt(fb.Correct), fb.Comments, boolToInt(fb.Delivered),
		fb.Message, fb.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert feedback: %w", err)
	}
	return nil
}

// PendingFeedback lists undelivered feedback, oldest first.
func (s *Storage) PendingFeedback() ([]*FeedbackRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, run_id, correct, comments, delivered, message, created_at
		FROM feedback WHERE delivered = 0 ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query feedback: %w", err)
	}
	defer rows.Close()

	pending := []*FeedbackRecord{}
	for rows.Next() {
		var fb FeedbackRecord
		var correct, delivered int
		var createdAtNano int64
		if err := rows.Scan(&fb.ID, &fb.RunID, &correct, &fb.Comments, &delivered, &fb.Message, &createdAtNano); err != nil {
			return nil, fmt.Errorf("failed to scan feedback: %w", err)
		}
		fb.Correct = correct != 0
		fb.Delivered = delivered != 0
		fb.CreatedAt = time.Unix(0, createdAtNano)
		pending = append(pending, &fb)
	}
	return pending, rows.Err()
}

func (s *Storage) MarkDelivered(id, message string) error {
	res, err := s.db.Exec(`UPDATE feedback SET delivered = 1, message = ? WHERE id = ?`, message, id)
	if err != nil {
		return fmt.Errorf("failed to mark feedback delivered: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("feedback %s: %w", id, ErrNotFound)
	}
	return nil
}

const runCols = `id, model, transform, row_count, width, phase, error, detailed_ok,
	result, attributions, started_at, updated_at`

func scanRun(scan func(...any) error) (*RunRecord, error) {
	var rec RunRecord
	var detailedOK int
	var resultJSON, attrsJSON string
	var startedAtNano, updatedAtNano int64
	err := scan(
		&rec.ID, &rec.Model, &rec.Transform, &rec.Rows, &rec.Width, &rec.Phase, &rec.Error,
		&detailedOK, &resultJSON, &attrsJSON, &startedAtNano, &updatedAtNano,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(resultJSON), &rec.Result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result: %w", err)
	}
	var attrs []models.Attribution
	if err := json.Unmarshal([]byte(attrsJSON), &attrs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal attributions: %w", err)
	}
	rec.Attributions = models.AttributionMap(attrs)
	rec.DetailedOK = detailedOK != 0
	rec.StartedAt = time.Unix(0, startedAtNano)
	rec.UpdatedAt = time.Unix(0, updatedAtNano)
	return &rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
