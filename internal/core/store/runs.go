package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Run is one recorded condense invocation.
type Run struct {
	ID          string     `json:"id"`
	InputDir    string     `json:"input_dir"`
	OutputDir   string     `json:"output_dir"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Chapters    int        `json:"chapters"`
	Succeeded   int        `json:"succeeded"`
	Failed      int        `json:"failed"`
	Skipped     int        `json:"skipped"`
	Cached      int        `json:"cached"`
	Retries     int        `json:"retries"`
	Reroutes    int        `json:"reroutes"`
	InputChars  int        `json:"input_chars"`
	OutputChars int        `json:"output_chars"`
}

// SaveRun inserts or updates a run row.
func (s *Store) SaveRun(ctx context.Context, run Run) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	if strings.TrimSpace(run.ID) == "" {
		return errors.New("run id is required")
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}

	var finished sql.NullInt64
	if run.FinishedAt != nil {
		finished = sql.NullInt64{Int64: run.FinishedAt.UTC().Unix(), Valid: true}
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO runs (id, input_dir, output_dir, started_at, finished_at, chapters, succeeded, failed, skipped, cached, retries, reroutes, input_chars, output_chars)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			finished_at = excluded.finished_at,
			chapters = excluded.chapters,
			succeeded = excluded.succeeded,
			failed = excluded.failed,
			skipped = excluded.skipped,
			cached = excluded.cached,
			retries = excluded.retries,
			reroutes = excluded.reroutes,
			input_chars = excluded.input_chars,
			output_chars = excluded.output_chars
	`, run.ID, run.InputDir, run.OutputDir, run.StartedAt.UTC().Unix(), finished,
		run.Chapters, run.Succeeded, run.Failed, run.Skipped, run.Cached,
		run.Retries, run.Reroutes, run.InputChars, run.OutputChars)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, input_dir, output_dir, started_at, finished_at, chapters, succeeded, failed, skipped, cached, retries, reroutes, input_chars, output_chars
		FROM runs
		ORDER BY started_at DESC, id ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	var runs []Run
	for rows.Next() {
		var (
			run      Run
			started  int64
			finished sql.NullInt64
		)
		if err := rows.Scan(&run.ID, &run.InputDir, &run.OutputDir, &started, &finished,
			&run.Chapters, &run.Succeeded, &run.Failed, &run.Skipped, &run.Cached,
			&run.Retries, &run.Reroutes, &run.InputChars, &run.OutputChars); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.StartedAt = time.Unix(started, 0).UTC()
		if finished.Valid {
			ts := time.Unix(finished.Int64, 0).UTC()
			run.FinishedAt = &ts
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}
