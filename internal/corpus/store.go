package corpus

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/hantei/internal/models"
)

// Store persists policies and their pre-embedded clauses in SQLite. The core
// only reads from it at snapshot-build time; writes happen through ingestion
// (seeding or re-ingestion), which supersedes a policy as a whole.
type Store struct {
	db *sql.DB
}

// NewStore opens or creates a SQLite corpus database at dbPath and initializes
// the schema. Parent directories are created if they do not exist.
func NewStore(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create corpus directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open corpus database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS policies (
		uin TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		provider TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		status TEXT NOT NULL,
		embedding_version TEXT NOT NULL,
		ingested_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS clauses (
		policy_uin TEXT NOT NULL,
		clause_id TEXT NOT NULL,
		ordinal INTEGER NOT NULL,
		text TEXT NOT NULL,
		category TEXT NOT NULL,
		keywords TEXT,
		embedding BLOB NOT NULL,
		PRIMARY KEY (policy_uin, clause_id),
		FOREIGN KEY (policy_uin) REFERENCES policies(uin) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_clauses_policy ON clauses(policy_uin, ordinal);
	`
	_, err := db.Exec(schema)
	return err
}

// ReplacePolicy supersedes the stored policy with the same UIN, bumping the
// version when one already exists. Clauses are written in order within the
// same transaction.
func (s *Store) ReplacePolicy(ctx context.Context, p *models.Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var prev int
	err = tx.QueryRowContext(ctx, `SELECT version FROM policies WHERE uin = ?`, p.UIN).Scan(&prev)
	switch {
	case err == sql.ErrNoRows:
		if p.Version == 0 {
			p.Version = 1
		}
	case err != nil:
		return err
	default:
		if p.Version <= prev {
			p.Version = prev + 1
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM clauses WHERE policy_uin = ?`, p.UIN); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM policies WHERE uin = ?`, p.UIN); err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO policies (uin, name, provider, version, status, embedding_version, ingested_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.UIN, p.Name, p.Provider, p.Version, string(p.Status), p.EmbeddingVersion, time.Now(),
	)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO clauses (policy_uin, clause_id, ordinal, text, category, keywords, embedding)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, c := range p.Clauses {
		keywordsJSON, err := json.Marshal(c.Keywords)
		if err != nil {
			return fmt.Errorf("failed to marshal keywords for clause %s: %w", c.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, p.UIN, c.ID, i, c.Text, string(c.Category),
			string(keywordsJSON), encodeEmbedding(c.Embedding)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListPolicies returns all stored policies with their clauses in ingestion order.
func (s *Store) ListPolicies(ctx context.Context) ([]models.Policy, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT uin, name, provider, version, status, embedding_version FROM policies ORDER BY uin`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var policies []models.Policy
	for rows.Next() {
		var p models.Policy
		var status string
		if err := rows.Scan(&p.UIN, &p.Name, &p.Provider, &p.Version, &status, &p.EmbeddingVersion); err != nil {
			return nil, err
		}
		p.Status = models.PolicyStatus(status)
		policies = append(policies, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range policies {
		clauses, err := s.listClauses(ctx, policies[i].UIN)
		if err != nil {
			return nil, err
		}
		policies[i].Clauses = clauses
	}
	return policies, nil
}

func (s *Store) listClauses(ctx context.Context, uin string) ([]models.Clause, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT clause_id, text, category, keywords, embedding
		 FROM clauses WHERE policy_uin = ? ORDER BY ordinal`, uin)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clauses []models.Clause
	for rows.Next() {
		var c models.Clause
		var category, keywordsJSON string
		var blob []byte
		if err := rows.Scan(&c.ID, &c.Text, &category, &keywordsJSON, &blob); err != nil {
			return nil, err
		}
		c.PolicyUIN = uin
		c.Category = models.ClauseCategory(category)
		if keywordsJSON != "" {
			if err := json.Unmarshal([]byte(keywordsJSON), &c.Keywords); err != nil {
				return nil, fmt.Errorf("failed to unmarshal keywords for clause %s: %w", c.ID, err)
			}
		}
		c.Embedding = decodeEmbedding(blob)
		clauses = append(clauses, c)
	}
	return clauses, rows.Err()
}

// LoadSnapshot reads all policies and builds an immutable snapshot of the
// active ones.
func (s *Store) LoadSnapshot(ctx context.Context) (*Snapshot, error) {
	policies, err := s.ListPolicies(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return NewSnapshot(policies)
}

// CountPolicies returns the number of stored policies.
func (s *Store) CountPolicies(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM policies`).Scan(&count)
	return count, err
}

// CountClauses returns the number of stored clauses.
func (s *Store) CountClauses(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM clauses`).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// encodeEmbedding packs a float32 vector into little-endian bytes.
func encodeEmbedding(v []float32) []byte {
	const size = 4
	out := make([]byte, len(v)*size)
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(f))
	}
	return out
}

// decodeEmbedding unpacks little-endian bytes into a float32 vector.
func decodeEmbedding(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
