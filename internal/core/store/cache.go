package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/novelcondense/novelcondense/internal/core"
)

// CacheEntry is one stored condensation.
type CacheEntry struct {
	Hash        string    `json:"hash"`
	Source      string    `json:"source"`
	Output      string    `json:"-"`
	InputChars  int       `json:"input_chars"`
	OutputChars int       `json:"output_chars"`
	Credential  string    `json:"credential"`
	PromptSlug  string    `json:"prompt_slug"`
	CreatedAt   time.Time `json:"created_at"`
}

// CacheKey hashes the chapter content together with everything that changes
// what a condensation of it should look like.
func CacheKey(content, promptSlug string, ratio core.RatioRange) string {
	h := sha256.New()
	h.Write([]byte(promptSlug))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatFloat(ratio.Min, 'f', -1, 64)))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatFloat(ratio.Max, 'f', -1, 64)))
	h.Write([]byte{0})
	h.Write([]byte(content))
	return hex.EncodeToString(h.Sum(nil))
}

// GetCondensed returns the cached condensation for hash, or nil when absent.
func (s *Store) GetCondensed(ctx context.Context, hash string) (*CacheEntry, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	hash = strings.TrimSpace(hash)
	if hash == "" {
		return nil, errors.New("cache hash is required")
	}

	var (
		entry     CacheEntry
		createdAt int64
	)
	row := s.DB.QueryRowContext(ctx, `
		SELECT hash, source, output, input_chars, output_chars, credential, prompt_slug, created_at
		FROM condense_cache
		WHERE hash = ?
	`, hash)
	if err := row.Scan(&entry.Hash, &entry.Source, &entry.Output, &entry.InputChars, &entry.OutputChars, &entry.Credential, &entry.PromptSlug, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch cached condensation: %w", err)
	}
	entry.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &entry, nil
}

// PutCondensed stores or replaces a condensation.
func (s *Store) PutCondensed(ctx context.Context, entry CacheEntry) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	if strings.TrimSpace(entry.Hash) == "" {
		return errors.New("cache hash is required")
	}
	if strings.TrimSpace(entry.Output) == "" {
		return errors.New("cache output is required")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO condense_cache (hash, source, output, input_chars, output_chars, credential, prompt_slug, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(hash) DO UPDATE SET
			source = excluded.source,
			output = excluded.output,
			input_chars = excluded.input_chars,
			output_chars = excluded.output_chars,
			credential = excluded.credential,
			prompt_slug = excluded.prompt_slug,
			created_at = excluded.created_at
	`, entry.Hash, entry.Source, entry.Output, entry.InputChars, entry.OutputChars, entry.Credential, entry.PromptSlug, entry.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("store condensation: %w", err)
	}
	return nil
}

// ListCondensed returns the newest entries first, without their output text.
func (s *Store) ListCondensed(ctx context.Context, limit int) ([]CacheEntry, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT hash, source, input_chars, output_chars, credential, prompt_slug, created_at
		FROM condense_cache
		ORDER BY created_at DESC, source ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list condensations: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	var entries []CacheEntry
	for rows.Next() {
		var (
			entry     CacheEntry
			createdAt int64
		)
		if err := rows.Scan(&entry.Hash, &entry.Source, &entry.InputChars, &entry.OutputChars, &entry.Credential, &entry.PromptSlug, &createdAt); err != nil {
			return nil, fmt.Errorf("scan condensation: %w", err)
		}
		entry.CreatedAt = time.Unix(createdAt, 0).UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list condensations: %w", err)
	}
	return entries, nil
}

// ClearCondensed deletes cached condensations. A zero olderThan deletes all.
func (s *Store) ClearCondensed(ctx context.Context, olderThan time.Time) (int64, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	var (
		res sql.Result
		err error
	)
	if olderThan.IsZero() {
		res, err = s.DB.ExecContext(ctx, `DELETE FROM condense_cache`)
	} else {
		res, err = s.DB.ExecContext(ctx, `DELETE FROM condense_cache WHERE created_at < ?`, olderThan.UTC().Unix())
	}
	if err != nil {
		return 0, fmt.Errorf("clear condensations: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("clear condensations: %w", err)
	}
	return affected, nil
}
