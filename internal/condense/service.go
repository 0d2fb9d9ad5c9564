package condense

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/novelcondense/novelcondense/internal/core"
	"github.com/novelcondense/novelcondense/internal/core/store"
	"github.com/novelcondense/novelcondense/internal/observability"
)

// ErrProcessingFailed marks a chapter that could not be condensed.
var ErrProcessingFailed = errors.New("processing failed")

// Status is the per-chapter result.
type Status string

const (
	StatusCondensed Status = "success"
	StatusCached    Status = "success-cached"
	StatusShort     Status = "success-short"
	StatusIndex     Status = "success-directory"
	StatusSkipped   Status = "skipped"
	StatusEmpty     Status = "empty"
	StatusFailed    Status = "error"
)

// Succeeded reports whether the chapter has usable output.
func (s Status) Succeeded() bool {
	return strings.HasPrefix(string(s), "success")
}

// Defaults for Options.
const (
	DefaultMinLength    = 100
	DefaultSkipExisting = 300
)

// Dispatcher submits one condensation request.
type Dispatcher interface {
	Dispatch(ctx context.Context, req core.DispatchRequest) core.DispatchOutcome
}

// Cache stores condensations by content hash.
type Cache interface {
	GetCondensed(ctx context.Context, hash string) (*store.CacheEntry, error)
	PutCondensed(ctx context.Context, entry store.CacheEntry) error
}

// Options tunes chapter processing.
type Options struct {
	// OutputDir receives condensed chapters; empty means a "condensed"
	// directory next to each chapter.
	OutputDir string
	// MinLength is the character count below which chapters are copied as is.
	MinLength int
	// SkipExisting is the minimum length of an existing output that counts
	// as already processed.
	SkipExisting int
	Force        bool
	Ratio        core.RatioRange
	PromptSlug   string
	Logger       observability.Logger
	Clock        func() time.Time
}

// Result describes what happened to one chapter.
type Result struct {
	Path        string        `json:"path"`
	OutputPath  string        `json:"output_path,omitempty"`
	Status      Status        `json:"status"`
	Credential  string        `json:"credential,omitempty"`
	Kind        string        `json:"kind,omitempty"`
	Attempts    int           `json:"attempts,omitempty"`
	InputChars  int           `json:"input_chars,omitempty"`
	OutputChars int           `json:"output_chars,omitempty"`
	Duration    time.Duration `json:"duration_ns"`
	Error       string        `json:"error,omitempty"`
}

// Service condenses chapter files through a dispatcher.
type Service struct {
	dispatcher Dispatcher
	cache      Cache
	opts       Options
	logger     observability.Logger
}

// NewService builds a service. cache may be nil.
func NewService(dispatcher Dispatcher, cache Cache, opts Options) *Service {
	if opts.MinLength <= 0 {
		opts.MinLength = DefaultMinLength
	}
	if opts.SkipExisting <= 0 {
		opts.SkipExisting = DefaultSkipExisting
	}
	if !opts.Ratio.Valid() {
		opts.Ratio = core.DefaultRatio
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Service{
		dispatcher: dispatcher,
		cache:      cache,
		opts:       opts,
		logger:     observability.OrNop(opts.Logger),
	}
}

// OutputPath returns where the condensed version of path is written.
func (s *Service) OutputPath(path string) string {
	dir := strings.TrimSpace(s.opts.OutputDir)
	if dir == "" {
		dir = filepath.Join(filepath.Dir(path), DefaultOutputDirName)
	}
	return filepath.Join(dir, filepath.Base(path))
}

// Process condenses one chapter. The returned error wraps ErrProcessingFailed
// when the chapter has no usable output.
func (s *Service) Process(ctx context.Context, path string) (Result, error) {
	started := s.opts.Clock()
	result := Result{Path: path, OutputPath: s.OutputPath(path)}
	done := func(status Status, err error) (Result, error) {
		result.Status = status
		result.Duration = s.opts.Clock().Sub(started)
		if err != nil {
			result.Error = err.Error()
			s.logger.Warn("Chapter failed",
				zap.String("chapter", filepath.Base(path)),
				zap.String("kind", result.Kind),
				zap.Error(err))
			return result, fmt.Errorf("%w: %s: %w", ErrProcessingFailed, filepath.Base(path), err)
		}
		s.logger.Debug("Chapter done",
			zap.String("chapter", filepath.Base(path)),
			zap.String("status", string(status)),
			zap.Int("input_chars", result.InputChars),
			zap.Int("output_chars", result.OutputChars))
		return result, nil
	}

	if !s.opts.Force && s.alreadyDone(result.OutputPath) {
		return done(StatusSkipped, nil)
	}

	content, err := ReadChapter(path)
	if err != nil {
		return done(StatusFailed, err)
	}
	result.InputChars = len([]rune(content))
	if strings.TrimSpace(content) == "" {
		return done(StatusEmpty, errors.New("chapter is empty"))
	}

	hash := store.CacheKey(content, s.opts.PromptSlug, s.opts.Ratio)
	if !s.opts.Force && s.cache != nil {
		entry, err := s.cache.GetCondensed(ctx, hash)
		if err != nil {
			s.logger.Warn("Cache lookup failed", zap.String("chapter", filepath.Base(path)), zap.Error(err))
		} else if entry != nil {
			if err := WriteChapter(result.OutputPath, entry.Output); err != nil {
				return done(StatusFailed, err)
			}
			result.OutputChars = len([]rune(entry.Output))
			result.Credential = entry.Credential
			return done(StatusCached, nil)
		}
	}

	if IsTableOfContents(content) {
		return s.passThrough(&result, content, StatusIndex, done)
	}
	if result.InputChars < s.opts.MinLength {
		return s.passThrough(&result, content, StatusShort, done)
	}

	outcome := s.dispatcher.Dispatch(ctx, core.DispatchRequest{
		Text:          content,
		Ratio:         s.opts.Ratio,
		CorrelationID: filepath.Base(path),
	})
	result.Credential = outcome.Credential
	result.Attempts = outcome.Attempts
	result.Kind = string(outcome.Kind)
	if !outcome.Succeeded() {
		cause := outcome.Cause
		if cause == nil {
			cause = errors.New(outcome.Error)
		}
		return done(StatusFailed, cause)
	}

	if err := WriteChapter(result.OutputPath, outcome.Output); err != nil {
		return done(StatusFailed, err)
	}
	result.OutputChars = len([]rune(outcome.Output))

	if s.cache != nil {
		err := s.cache.PutCondensed(ctx, store.CacheEntry{
			Hash:        hash,
			Source:      filepath.Base(path),
			Output:      outcome.Output,
			InputChars:  result.InputChars,
			OutputChars: result.OutputChars,
			Credential:  outcome.Credential,
			PromptSlug:  s.opts.PromptSlug,
			CreatedAt:   s.opts.Clock().UTC(),
		})
		if err != nil {
			s.logger.Warn("Cache write failed", zap.String("chapter", filepath.Base(path)), zap.Error(err))
		}
	}
	return done(StatusCondensed, nil)
}

func (s *Service) passThrough(result *Result, content string, status Status, done func(Status, error) (Result, error)) (Result, error) {
	if err := WriteChapter(result.OutputPath, content); err != nil {
		return done(StatusFailed, err)
	}
	result.OutputChars = result.InputChars
	return done(status, nil)
}

// alreadyDone reports whether a previous run left a usable output.
func (s *Service) alreadyDone(outputPath string) bool {
	data, err := os.ReadFile(outputPath) // #nosec G304 -- derived from the chapter path
	if err != nil {
		return false
	}
	return len([]rune(string(data))) >= s.opts.SkipExisting
}

type chapterJob struct {
	index int
	path  string
}

// Run processes paths with a pool of workers. Per-chapter failures are
// reported in the results; the error is non-nil only when ctx ends early.
// progress, when set, is called once per finished chapter from the worker.
func (s *Service) Run(ctx context.Context, paths []string, workers int, progress func(Result)) ([]Result, error) {
	results := make([]Result, len(paths))
	jobs := make(chan chapterJob)

	var wg sync.WaitGroup
	worker := func() {
		defer wg.Done()
		for job := range jobs {
			result, _ := s.Process(ctx, job.path)
			results[job.index] = result
			if progress != nil {
				progress(result)
			}
		}
	}

	if workers < 1 {
		workers = 1
	}
	if workers > len(paths) {
		workers = len(paths)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go worker()
	}

	sent := 0
sendLoop:
	for i, path := range paths {
		select {
		case <-ctx.Done():
			break sendLoop
		case jobs <- chapterJob{index: i, path: path}:
			sent++
		}
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return results[:sent], fmt.Errorf("condense run interrupted: %w", err)
	}
	return results, nil
}

// Totals counts results by outcome.
type Totals struct {
	Chapters    int `json:"chapters"`
	Succeeded   int `json:"succeeded"`
	Failed      int `json:"failed"`
	Skipped     int `json:"skipped"`
	Cached      int `json:"cached"`
	Short       int `json:"short"`
	InputChars  int `json:"input_chars"`
	OutputChars int `json:"output_chars"`
}

// Tally summarizes results.
func Tally(results []Result) Totals {
	var t Totals
	for _, r := range results {
		t.Chapters++
		switch {
		case r.Status == StatusSkipped:
			t.Skipped++
		case r.Status.Succeeded():
			t.Succeeded++
			t.InputChars += r.InputChars
			t.OutputChars += r.OutputChars
			switch r.Status {
			case StatusCached:
				t.Cached++
			case StatusShort, StatusIndex:
				t.Short++
			}
		default:
			t.Failed++
		}
	}
	return t
}
