package output

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/ascii"

	"github.com/novelcondense/novelcondense/internal/condense"
	"github.com/novelcondense/novelcondense/internal/core"
)

// RunReport is the end-of-run summary printed by condense.
type RunReport struct {
	RunID    string          `json:"run_id"`
	Input    string          `json:"input"`
	Output   string          `json:"output"`
	Elapsed  time.Duration   `json:"elapsed_ns"`
	Workers  int             `json:"workers"`
	Totals   condense.Totals `json:"totals"`
	Dispatch core.Summary    `json:"dispatch"`
}

// WriteRunReport renders report as a box, or as JSON.
func WriteRunReport(w io.Writer, format Format, report RunReport) error {
	if format == FormatJSON {
		rendered, err := renderJSON(report, true)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, rendered)
		return err
	}

	t := report.Totals
	s := report.Dispatch
	lines := []string{
		"Condense summary",
		"",
		fmt.Sprintf("Run:        %s", report.RunID),
		fmt.Sprintf("Input:      %s", report.Input),
		fmt.Sprintf("Output:     %s", report.Output),
		fmt.Sprintf("Elapsed:    %s (%d workers)", report.Elapsed.Round(time.Second), report.Workers),
		"",
		fmt.Sprintf("Chapters:   %d total, %d ok, %d failed, %d skipped", t.Chapters, t.Succeeded, t.Failed, t.Skipped),
		fmt.Sprintf("            %d from cache, %d passed through", t.Cached, t.Short),
		fmt.Sprintf("Characters: %d -> %d (%s)", t.InputChars, t.OutputChars, percent(t.InputChars, t.OutputChars)),
		"",
		fmt.Sprintf("Requests:   %d attempted, %d ok, %d failed", s.Attempted, s.Succeeded, s.Failed),
		fmt.Sprintf("Retries:    %d (%d reroutes)", s.Retries, s.Reroutes),
	}
	if s.Succeeded > 0 {
		lines = append(lines, fmt.Sprintf("Ratio:      min %.1f%% avg %.1f%% max %.1f%%", s.MinRatio, s.AvgRatio, s.MaxRatio))
	}
	if s.InvalidCredentials > 0 {
		lines = append(lines, fmt.Sprintf("Invalid:    %d credential(s) removed", s.InvalidCredentials))
	}
	if len(s.Failures) > 0 {
		kinds := make([]string, 0, len(s.Failures))
		for kind, n := range s.Failures {
			kinds = append(kinds, fmt.Sprintf("%s=%d", kind, n))
		}
		sort.Strings(kinds)
		lines = append(lines, "Failures:   "+strings.Join(kinds, " "))
	}

	if _, err := fmt.Fprint(w, ascii.DrawBox(strings.Join(lines, "\n"), 0)); err != nil {
		return err
	}
	if len(s.PerCredential) == 0 {
		return nil
	}
	return Render(w, format, UsageView(s))
}
