package results

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/jordanhubbard/ensemble/pkg/models"
	_ "github.com/lib/pq"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS job_results (
	id            BIGSERIAL PRIMARY KEY,
	job_id        TEXT NOT NULL,
	persona_id    TEXT NOT NULL,
	display_name  TEXT NOT NULL DEFAULT '',
	ts            TIMESTAMPTZ NOT NULL,
	response_text TEXT NOT NULL DEFAULT '',
	duration_ms   BIGINT NOT NULL DEFAULT 0,
	error         TEXT NOT NULL DEFAULT ''
)`

// PostgresStore keeps results in a table; the highest id is the most recent.
type PostgresStore struct {
	db  *sql.DB
	max int
}

// NewPostgresStore opens dsn, verifies the connection and creates the table.
func NewPostgresStore(ctx context.Context, dsn string, max int) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if max <= 0 {
		max = models.MaxResults
	}
	return &PostgresStore{db: db, max: max}, nil
}

// Append inserts results oldest-first and prunes beyond max in one transaction.
func (s *PostgresStore) Append(ctx context.Context, results []models.JobResult) error {
	if len(results) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	defer tx.Rollback()

	for i := len(results) - 1; i >= 0; i-- {
		r := results[i]
		_, err := tx.ExecContext(ctx,
			`INSERT INTO job_results (job_id, persona_id, display_name, ts, response_text, duration_ms, error)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			r.JobID, r.PersonaID, r.DisplayName, r.Timestamp, r.ResponseText, r.DurationMs, r.Error)
		if err != nil {
			return fmt.Errorf("%w: insert: %v", ErrPersist, err)
		}
	}
	_, err = tx.ExecContext(ctx,
		`DELETE FROM job_results WHERE id NOT IN (SELECT id FROM job_results ORDER BY id DESC LIMIT $1)`,
		s.max)
	if err != nil {
		return fmt.Errorf("%w: prune: %v", ErrPersist, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrPersist, err)
	}
	return nil
}

func (s *PostgresStore) ReadAll(ctx context.Context) []models.JobResult {
	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id, persona_id, display_name, ts, response_text, duration_ms, error
		 FROM job_results ORDER BY id DESC LIMIT $1`, s.max)
	if err != nil {
		log.Printf("[Results] Warning: postgres read failed: %v", err)
		return []models.JobResult{}
	}
	defer rows.Close()

	out := []models.JobResult{}
	for rows.Next() {
		var r models.JobResult
		var ts time.Time
		if err := rows.Scan(&r.JobID, &r.PersonaID, &r.DisplayName, &ts, &r.ResponseText, &r.DurationMs, &r.Error); err != nil {
			log.Printf("[Results] Warning: skipping unreadable row: %v", err)
			continue
		}
		r.Timestamp = ts
		out = append(out, r)
	}
	return out
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
