// Package history records every compile job's outcome in a SQLite ledger so
// operators can audit retry decisions and defect signatures after the fact.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Record is one completed compile job.
type Record struct {
	ID         int64
	JobID      string
	CacheKey   string
	Outcome    string // success|failed|canceled
	Attempts   int
	Signature  string // matched defect signature, empty if none
	Message    string // terminal failure message, empty on success
	Duration   time.Duration
	FinishedAt time.Time
}

// Store is a SQLite-backed job ledger. Use ":memory:" for tests.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open creates or opens the ledger database and ensures the schema.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize history schema: %w", err)
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL,
		cache_key TEXT NOT NULL,
		outcome TEXT NOT NULL,
		attempts INTEGER NOT NULL,
		signature TEXT,
		message TEXT,
		duration_ms INTEGER NOT NULL,
		finished_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_job_id ON jobs(job_id);
	CREATE INDEX IF NOT EXISTS idx_jobs_finished_at ON jobs(finished_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Append stores one finished job.
func (s *Store) Append(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (job_id, cache_key, outcome, attempts, signature, message, duration_ms, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.JobID, rec.CacheKey, rec.Outcome, rec.Attempts, rec.Signature, rec.Message,
		rec.Duration.Milliseconds(), rec.FinishedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert job record: %w", err)
	}
	return nil
}

// Recent returns the most recent records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, cache_key, outcome, attempts, signature, message, duration_ms, finished_at
		 FROM jobs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query job records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// ByJobID returns all records for one job identifier.
func (s *Store) ByJobID(ctx context.Context, jobID string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, cache_key, outcome, attempts, signature, message, duration_ms, finished_at
		 FROM jobs WHERE job_id = ? ORDER BY id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("query job records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var out []Record
	for rows.Next() {
		var rec Record
		var durationMS, finished int64
		var signature, message sql.NullString
		if err := rows.Scan(&rec.ID, &rec.JobID, &rec.CacheKey, &rec.Outcome, &rec.Attempts,
			&signature, &message, &durationMS, &finished); err != nil {
			return nil, fmt.Errorf("scan job record: %w", err)
		}
		rec.Signature = signature.String
		rec.Message = message.String
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		rec.FinishedAt = time.Unix(finished, 0)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
