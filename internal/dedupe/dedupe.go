package dedupe

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
)

// Tracker counts repeated job submissions per image and keeps the results
// of async runs
type Tracker struct {
	db *sql.DB
}

// NewTracker creates a new tracker, creating its tables if needed
func NewTracker(ctx context.Context, db *sql.DB) (*Tracker, error) {
	tracker := &Tracker{db: db}

	if err := tracker.ensureTables(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure dedupe tables: %w", err)
	}

	return tracker, nil
}

func (t *Tracker) ensureTables(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS va_process_dedupe (
			filename TEXT NOT NULL,
			job TEXT NOT NULL,
			first_seen_at TIMESTAMPTZ DEFAULT NOW(),
			last_seen_at TIMESTAMPTZ DEFAULT NOW(),
			seen_count INTEGER DEFAULT 1,
			PRIMARY KEY (filename, job)
		)`,
		`CREATE TABLE IF NOT EXISTS va_run_results (
			run_id TEXT PRIMARY KEY,
			job TEXT NOT NULL,
			filename TEXT NOT NULL,
			result JSONB NOT NULL,
			finished_at TIMESTAMPTZ DEFAULT NOW()
		)`,
	}
	for _, q := range queries {
		if _, err := t.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	log.Printf("✓ va_process_dedupe and va_run_results tables ready")
	return nil
}

// Record records a job submission and returns how often the same job has
// been submitted for the same image, this one included
func (t *Tracker) Record(ctx context.Context, filename, job string) (int, error) {
	// Upsert: increment seen_count if exists, insert if not
	query := `
		INSERT INTO va_process_dedupe (filename, job, first_seen_at, last_seen_at, seen_count)
		VALUES ($1, $2, NOW(), NOW(), 1)
		ON CONFLICT (filename, job) DO UPDATE
		SET last_seen_at = NOW(),
		    seen_count = va_process_dedupe.seen_count + 1
		RETURNING seen_count
	`

	var seenCount int
	err := t.db.QueryRowContext(ctx, query, filename, job).Scan(&seenCount)
	if err != nil {
		return 0, fmt.Errorf("failed to record dedupe: %w", err)
	}

	return seenCount, nil
}

// GetSeenCount returns the submission count for an image and job, 0 if never seen
func (t *Tracker) GetSeenCount(ctx context.Context, filename, job string) (int, error) {
	query := `SELECT seen_count FROM va_process_dedupe WHERE filename = $1 AND job = $2`

	var seenCount int
	err := t.db.QueryRowContext(ctx, query, filename, job).Scan(&seenCount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get seen count: %w", err)
	}

	return seenCount, nil
}

// SaveResult stores the JSON result of a run. A recovered run that finishes
// twice keeps the latest result.
func (t *Tracker) SaveResult(ctx context.Context, runID, job, filename string, result []byte) error {
	query := `
		INSERT INTO va_run_results (run_id, job, filename, result, finished_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (run_id) DO UPDATE
		SET result = EXCLUDED.result,
		    finished_at = NOW()
	`

	if _, err := t.db.ExecContext(ctx, query, runID, job, filename, result); err != nil {
		return fmt.Errorf("failed to save run result: %w", err)
	}
	return nil
}

// GetResult returns the stored JSON result of a run, nil if there is none yet
func (t *Tracker) GetResult(ctx context.Context, runID string) ([]byte, error) {
	query := `SELECT result FROM va_run_results WHERE run_id = $1`

	var result []byte
	err := t.db.QueryRowContext(ctx, query, runID).Scan(&result)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run result: %w", err)
	}

	return result, nil
}
