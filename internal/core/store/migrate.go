package store

import (
	"context"
	"errors"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS condense_cache (
		hash TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		output TEXT NOT NULL,
		input_chars INTEGER NOT NULL,
		output_chars INTEGER NOT NULL,
		credential TEXT NOT NULL,
		prompt_slug TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_condense_cache_created ON condense_cache(created_at);`,
	`CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		input_dir TEXT NOT NULL,
		output_dir TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		finished_at INTEGER,
		chapters INTEGER NOT NULL DEFAULT 0,
		succeeded INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		skipped INTEGER NOT NULL DEFAULT 0,
		cached INTEGER NOT NULL DEFAULT 0,
		retries INTEGER NOT NULL DEFAULT 0,
		reroutes INTEGER NOT NULL DEFAULT 0,
		input_chars INTEGER NOT NULL DEFAULT 0,
		output_chars INTEGER NOT NULL DEFAULT 0
	);`,
	`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);`,
}

// Migrate ensures the required database tables exist.
func (s *Store) Migrate(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	for _, stmt := range schemaStatements {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store migration failed: %w", err)
		}
	}

	return nil
}
