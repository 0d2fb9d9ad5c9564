package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/novelcondense/novelcondense/internal/condense"
	"github.com/novelcondense/novelcondense/internal/core/store"
	"github.com/novelcondense/novelcondense/internal/observability"
	"github.com/novelcondense/novelcondense/internal/output"
)

var (
	condensePattern     string
	condenseForce       bool
	condenseNoCache     bool
	condenseDetails     bool
	condenseMetricsAddr string
	condenseFormat      string
	condenseOut         string
)

var condenseCmd = &cobra.Command{
	Use:   "condense <file|dir|glob>",
	Short: "Condense chapter files",
	Long: `Condense one chapter file, every matching file in a directory, or a glob.

Outputs are written to a "condensed" directory next to each chapter unless
--output-dir is set. Chapters whose output already exists are skipped unless
--force is given. Results are cached by content, prompt and ratio so re-runs
only pay for chapters that changed.

Ctrl+C stops handing out new chapters; chapters already in flight finish and
the run is still recorded.`,
	Args: cobra.ExactArgs(1),
	RunE: runCondense,
}

func init() {
	rootCmd.AddCommand(condenseCmd)

	f := condenseCmd.Flags()
	f.StringVar(&condensePattern, "pattern", condense.DefaultPattern, "file pattern when the input is a directory (supports **)")
	f.StringP("output-dir", "o", "", "write condensed chapters here instead of <dir>/condensed")
	f.IntP("workers", "w", 0, "concurrent chapters (default derived from credential rpm)")
	f.Float64("min-ratio", 0, "minimum output length as a percentage of input")
	f.Float64("max-ratio", 0, "maximum output length as a percentage of input")
	f.BoolVarP(&condenseForce, "force", "f", false, "reprocess chapters that already have output, bypassing the cache")
	f.BoolVar(&condenseNoCache, "no-cache", false, "do not read or write the condensation cache")
	f.BoolVar(&condenseDetails, "details", false, "print a per-chapter table after the summary")
	f.StringVar(&condenseMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address during the run (e.g. :9090)")
	f.StringVar(&condenseFormat, "output-format", string(output.FormatTable), "summary format: table|json|markdown")
	f.StringVar(&condenseOut, "out", "", "write the summary to a file (default stdout)")

	bindFlag("condense.output_dir", condenseCmd, "output-dir")
	bindFlag("condense.workers", condenseCmd, "workers")
	bindFlag("condense.min_ratio", condenseCmd, "min-ratio")
	bindFlag("condense.max_ratio", condenseCmd, "max-ratio")
}

func runCondense(cmd *cobra.Command, args []string) error {
	cfg := appConfig
	logger := observability.CLILogger
	requireCredentials(cfg)

	format, err := output.ParseFormat(condenseFormat)
	if err != nil {
		return err
	}

	input := args[0]
	paths, err := condense.Discover(input, condensePattern)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("no chapter files match %s", input)
	}

	rt, err := newDispatchRuntime(cfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	var cache condense.Cache
	var db *store.Store
	if !condenseNoCache {
		db, err = openStore(ctx, cfg)
		if err != nil {
			logger.Warn("Condensation cache unavailable, continuing without it", zap.Error(err))
		} else {
			defer db.Close() // nolint:errcheck // best-effort cleanup
			cache = db
		}
	}

	if condenseMetricsAddr != "" {
		stop := serveRunMetrics(condenseMetricsAddr, rt.metrics.Handler())
		defer stop()
	}

	svc := condense.NewService(rt.dispatcher, cache, condense.Options{
		OutputDir:    cfg.Condense.OutputDir,
		MinLength:    cfg.Condense.MinLength,
		SkipExisting: cfg.Condense.SkipExisting,
		Force:        condenseForce,
		Ratio:        cfg.Ratio(),
		PromptSlug:   rt.invoker.Prompt().Slug,
		Logger:       logger,
	})
	workers := condense.PoolSize(rt.registry.All(), cfg.Condense.Workers)

	run := store.Run{
		ID:        uuid.NewString(),
		InputDir:  absPath(input),
		OutputDir: cfg.Condense.OutputDir,
		StartedAt: time.Now().UTC(),
	}

	logger.Info("Starting condense run",
		zap.String("run_id", run.ID),
		zap.Int("chapters", len(paths)),
		zap.Int("credentials", rt.registry.Len()),
		zap.Int("workers", workers),
		zap.Int("max_rpm", cfg.MaxRPM))

	done := make(chan struct{})
	defer close(done)
	signals.OnShutdown(func(sctx context.Context) error {
		logger.Warn("Interrupt received, finishing chapters in flight")
		cancel()
		select {
		case <-done:
		case <-sctx.Done():
		}
		return nil
	})
	go func() {
		if err := signals.Listen(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Debug("Signal listener stopped", zap.Error(err))
		}
	}()

	var completed atomic.Int32
	results, runErr := svc.Run(ctx, paths, workers, func(r condense.Result) {
		logChapter(logger, r, int(completed.Add(1)), len(paths))
	})

	finished := time.Now().UTC()
	totals := condense.Tally(results)
	summary := rt.dispatcher.Summary()
	run.FinishedAt = &finished
	run.Chapters = len(paths)
	run.Succeeded = totals.Succeeded
	run.Failed = totals.Failed
	run.Skipped = totals.Skipped
	run.Cached = totals.Cached
	run.Retries = summary.Retries
	run.Reroutes = summary.Reroutes
	run.InputChars = totals.InputChars
	run.OutputChars = totals.OutputChars

	if db != nil {
		if err := db.SaveRun(context.WithoutCancel(ctx), run); err != nil {
			logger.Warn("Failed to record run", zap.Error(err))
		}
	}

	if err := writeCondenseReport(format, output.RunReport{
		RunID:    run.ID,
		Input:    run.InputDir,
		Output:   outputLocation(cfg.Condense.OutputDir, input),
		Elapsed:  finished.Sub(run.StartedAt),
		Workers:  workers,
		Totals:   totals,
		Dispatch: summary,
	}, results); err != nil {
		return err
	}

	if runErr != nil {
		return runErr
	}
	if totals.Failed > 0 {
		return fmt.Errorf("%d of %d chapters failed: %w", totals.Failed, totals.Chapters, condense.ErrProcessingFailed)
	}
	return nil
}

func logChapter(logger observability.Logger, r condense.Result, n, total int) {
	fields := []zap.Field{
		zap.String("chapter", filepath.Base(r.Path)),
		zap.String("status", string(r.Status)),
		zap.String("progress", fmt.Sprintf("%d/%d", n, total)),
	}
	if r.Credential != "" {
		fields = append(fields, zap.String("credential", r.Credential), zap.Int("attempts", r.Attempts))
	}
	if r.InputChars > 0 && r.OutputChars > 0 {
		fields = append(fields, zap.Int("input_chars", r.InputChars), zap.Int("output_chars", r.OutputChars))
	}
	if r.Error != "" {
		logger.Warn("Chapter failed", append(fields, zap.String("error", r.Error))...)
		return
	}
	logger.Info("Chapter done", fields...)
}

func writeCondenseReport(format output.Format, report output.RunReport, results []condense.Result) error {
	sink, err := openSink(reportPath(condenseOut, format, report.RunID))
	if err != nil {
		return err
	}
	defer func() { _ = sink.close() }()

	if err := output.WriteRunReport(sink.writer, format, report); err != nil {
		return err
	}
	if condenseDetails && format != output.FormatJSON {
		return output.Render(sink.writer, format, output.ChaptersView(results))
	}
	return nil
}

// reportPath resolves --out: a directory gets a file named after the run.
func reportPath(out string, format output.Format, runID string) string {
	if out == "" || out == "-" {
		return out
	}
	if info, err := os.Stat(out); (err == nil && info.IsDir()) || strings.HasSuffix(out, string(filepath.Separator)) {
		return filepath.Join(out, "run-"+runID+"."+format.Extension())
	}
	return out
}

// serveRunMetrics exposes the run's registry until the returned stop is called.
func serveRunMetrics(addr string, handler http.Handler) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			observability.CLILogger.Warn("Metrics listener failed", zap.String("addr", addr), zap.Error(err))
		}
	}()
	observability.CLILogger.Info("Serving run metrics", zap.String("addr", addr))
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func absPath(p string) string {
	if strings.ContainsAny(p, "*?[") {
		return p
	}
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

// outputLocation describes where outputs went for the summary.
func outputLocation(configured, input string) string {
	if configured != "" {
		return absPath(configured)
	}
	if info, err := os.Stat(input); err == nil {
		if info.IsDir() {
			return filepath.Join(absPath(input), condense.DefaultOutputDirName)
		}
		return filepath.Join(filepath.Dir(absPath(input)), condense.DefaultOutputDirName)
	}
	return condense.DefaultOutputDirName + "/ next to each chapter"
}

