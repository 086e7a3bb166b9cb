// Package history is the reference persistence adapter for processed queries:
// decision records keyed by query ID and timestamp, with append-only feedback.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/hantei/internal/engine"
	"github.com/hyperjump/hantei/internal/models"
)

// ErrNotFound indicates no stored decision exists for the given query ID.
var ErrNotFound = errors.New("decision not found")

// StoredDecision is the persistence envelope around an immutable decision
// record: identifier and timestamp live here, never inside the record itself.
type StoredDecision struct {
	QueryID        string                `json:"query_id"`
	Query          string                `json:"query"`
	Outcome        engine.OutcomeKind    `json:"outcome"`
	DegradedReason string                `json:"degraded_reason,omitempty"`
	Intent         models.QueryIntent    `json:"intent"`
	Record         models.DecisionRecord `json:"record"`
	CreatedAt      time.Time             `json:"created_at"`
}

// StoredFeedback is one appended feedback entry.
type StoredFeedback struct {
	ID        string    `json:"id"`
	QueryID   string    `json:"query_id"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment,omitempty"`
	Helpful   bool      `json:"helpful"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists decisions and feedback in SQLite. Decisions are insert-only;
// there is deliberately no update path, so a stored record's decision and
// confidence can never change after the fact.
type Store struct {
	db *sql.DB
}

// NewStore opens or creates a history database at dbPath and initializes the schema.
func NewStore(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	schema := `
	CREATE TABLE IF NOT EXISTS decisions (
		query_id TEXT PRIMARY KEY,
		query TEXT NOT NULL,
		outcome TEXT NOT NULL,
		degraded_reason TEXT,
		intent TEXT NOT NULL,
		record TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_decisions_created_at ON decisions(created_at);

	CREATE TABLE IF NOT EXISTS feedback (
		id TEXT PRIMARY KEY,
		query_id TEXT NOT NULL,
		rating INTEGER NOT NULL,
		comment TEXT,
		helpful BOOLEAN NOT NULL,
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY (query_id) REFERENCES decisions(query_id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_feedback_query ON feedback(query_id);
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Append stores one processed query's result and returns its envelope with a
// fresh query ID and timestamp.
func (s *Store) Append(ctx context.Context, query string, result *engine.Result) (*StoredDecision, error) {
	stored := &StoredDecision{
		QueryID:        uuid.NewString(),
		Query:          query,
		Outcome:        result.Kind,
		DegradedReason: result.DegradedReason,
		Intent:         result.Intent,
		Record:         *result.Record,
		CreatedAt:      time.Now().UTC(),
	}
	intentJSON, err := json.Marshal(stored.Intent)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal intent: %w", err)
	}
	recordJSON, err := json.Marshal(stored.Record)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO decisions (query_id, query, outcome, degraded_reason, intent, record, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		stored.QueryID, stored.Query, string(stored.Outcome), stored.DegradedReason,
		string(intentJSON), string(recordJSON), stored.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// Get returns a stored decision by query ID.
func (s *Store) Get(ctx context.Context, queryID string) (*StoredDecision, error) {
	var stored StoredDecision
	var outcome, intentJSON, recordJSON string
	var degradedReason sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT query_id, query, outcome, degraded_reason, intent, record, created_at
		 FROM decisions WHERE query_id = ?`, queryID,
	).Scan(&stored.QueryID, &stored.Query, &outcome, &degradedReason,
		&intentJSON, &recordJSON, &stored.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, queryID)
	}
	if err != nil {
		return nil, err
	}
	stored.Outcome = engine.OutcomeKind(outcome)
	stored.DegradedReason = degradedReason.String
	if err := json.Unmarshal([]byte(intentJSON), &stored.Intent); err != nil {
		return nil, fmt.Errorf("failed to unmarshal intent: %w", err)
	}
	if err := json.Unmarshal([]byte(recordJSON), &stored.Record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return &stored, nil
}

// List returns stored decisions, newest first.
func (s *Store) List(ctx context.Context, offset, limit int) ([]*StoredDecision, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT query_id, query, outcome, degraded_reason, intent, record, created_at
		 FROM decisions ORDER BY created_at DESC, query_id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*StoredDecision
	for rows.Next() {
		var stored StoredDecision
		var outcome, intentJSON, recordJSON string
		var degradedReason sql.NullString
		if err := rows.Scan(&stored.QueryID, &stored.Query, &outcome, &degradedReason,
			&intentJSON, &recordJSON, &stored.CreatedAt); err != nil {
			return nil, err
		}
		stored.Outcome = engine.OutcomeKind(outcome)
		stored.DegradedReason = degradedReason.String
		if err := json.Unmarshal([]byte(intentJSON), &stored.Intent); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(recordJSON), &stored.Record); err != nil {
			return nil, err
		}
		out = append(out, &stored)
	}
	return out, rows.Err()
}

// AddFeedback appends feedback to a stored decision. It never touches the
// decision row.
func (s *Store) AddFeedback(ctx context.Context, queryID string, fb *models.Feedback) (*StoredFeedback, error) {
	if err := fb.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.Get(ctx, queryID); err != nil {
		return nil, err
	}
	stored := &StoredFeedback{
		ID:        uuid.NewString(),
		QueryID:   queryID,
		Rating:    fb.Rating,
		Comment:   fb.Comment,
		Helpful:   fb.Helpful,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO feedback (id, query_id, rating, comment, helpful, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		stored.ID, stored.QueryID, stored.Rating, stored.Comment, stored.Helpful, stored.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// ListFeedback returns all feedback for a decision, oldest first.
func (s *Store) ListFeedback(ctx context.Context, queryID string) ([]*StoredFeedback, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, query_id, rating, comment, helpful, created_at
		 FROM feedback WHERE query_id = ? ORDER BY created_at, id`, queryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*StoredFeedback
	for rows.Next() {
		var fb StoredFeedback
		var comment sql.NullString
		if err := rows.Scan(&fb.ID, &fb.QueryID, &fb.Rating, &comment, &fb.Helpful, &fb.CreatedAt); err != nil {
			return nil, err
		}
		fb.Comment = comment.String
		out = append(out, &fb)
	}
	return out, rows.Err()
}

// CountDecisions returns the number of stored decisions.
func (s *Store) CountDecisions(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM decisions`).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
