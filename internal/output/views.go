package output

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/novelcondense/novelcondense/internal/ailink"
	"github.com/novelcondense/novelcondense/internal/condense"
	"github.com/novelcondense/novelcondense/internal/core"
	"github.com/novelcondense/novelcondense/internal/core/store"
)

// ChaptersView lists per-chapter results in input order.
func ChaptersView(results []condense.Result) View {
	v := View{
		Title:  "Chapters",
		Header: table.Row{"Chapter", "Status", "Credential", "Attempts", "In", "Out", "Ratio", "Time"},
		Empty:  "(no chapters processed)",
		Data:   results,
	}
	totals := condense.Tally(results)
	for _, r := range results {
		status := string(r.Status)
		if r.Error != "" {
			status += ": " + truncate(r.Error, 60)
		}
		v.Rows = append(v.Rows, table.Row{
			filepath.Base(r.Path),
			status,
			dash(r.Credential),
			r.Attempts,
			r.InputChars,
			r.OutputChars,
			percent(r.InputChars, r.OutputChars),
			r.Duration.Round(time.Millisecond).String(),
		})
	}
	if len(results) > 0 {
		v.Footer = table.Row{
			fmt.Sprintf("%d chapters", totals.Chapters),
			fmt.Sprintf("%d ok, %d failed", totals.Succeeded, totals.Failed),
			"", "",
			totals.InputChars,
			totals.OutputChars,
			percent(totals.InputChars, totals.OutputChars),
			"",
		}
	}
	return v
}

// UsageView breaks a dispatch summary down per credential.
func UsageView(summary core.Summary) View {
	v := View{
		Title:  "Credential usage",
		Header: table.Row{"Credential", "Attempts", "Successes", "Failures", "Rate limited"},
		Empty:  "(no provider calls made)",
		Data:   summary,
	}
	ids := make([]string, 0, len(summary.PerCredential))
	for id := range summary.PerCredential {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		u := summary.PerCredential[id]
		v.Rows = append(v.Rows, table.Row{id, u.Attempts, u.Successes, u.Failures, u.RateLimited})
	}
	return v
}

// CredentialRow is the key-safe form of a credential state.
type CredentialRow struct {
	core.ProviderState
	Condition string `json:"condition"`
}

// CredentialsView lists configured credentials with their live state.
func CredentialsView(states []core.ProviderState, now time.Time) View {
	v := View{
		Title:  "Credentials",
		Header: table.Row{"Credential", "Model", "Key", "RPM", "In window", "Condition"},
		Empty:  "(no credentials configured)",
	}
	rows := make([]CredentialRow, 0, len(states))
	for _, st := range states {
		row := CredentialRow{ProviderState: st, Condition: st.Condition(now)}
		rows = append(rows, row)
		condition := row.Condition
		if condition == "cooling" && st.CoolingUntil != nil {
			condition = fmt.Sprintf("cooling %s", st.CoolingUntil.Sub(now).Round(time.Second))
		}
		v.Rows = append(v.Rows, table.Row{st.Credential, st.Model, st.Key, st.RPM, st.InWindow, condition})
	}
	v.Data = rows
	return v
}

// ProbeRow is the key-safe form of a probe result.
type ProbeRow struct {
	Credential string `json:"credential"`
	Kind       string `json:"kind"`
	Model      string `json:"model"`
	Key        string `json:"key"`
	Verdict    string `json:"verdict"`
	Detail     string `json:"detail,omitempty"`
	LatencyMS  int64  `json:"latency_ms"`
}

// ProbesView lists credential check results.
func ProbesView(results []ailink.ProbeResult) View {
	v := View{
		Title:  "Credential check",
		Header: table.Row{"Credential", "Model", "Key", "Verdict", "Latency", "Detail"},
		Empty:  "(no credentials configured)",
	}
	rows := make([]ProbeRow, 0, len(results))
	healthy := 0
	for _, r := range results {
		row := ProbeRow{
			Credential: r.Credential.ID(),
			Kind:       string(r.Credential.Kind),
			Model:      r.Credential.Model,
			Key:        r.Credential.MaskedKey(),
			Verdict:    r.Verdict,
			Detail:     r.Detail,
			LatencyMS:  r.Latency.Milliseconds(),
		}
		if r.Verdict == ailink.ProbeOK {
			healthy++
		}
		rows = append(rows, row)
		v.Rows = append(v.Rows, table.Row{
			row.Credential, row.Model, row.Key, row.Verdict,
			r.Latency.Round(time.Millisecond).String(),
			truncate(row.Detail, 60),
		})
	}
	if len(results) > 0 {
		v.Footer = table.Row{"", "", "", fmt.Sprintf("%d/%d ok", healthy, len(results)), "", ""}
	}
	v.Data = rows
	return v
}

// CacheView lists cached condensations, newest first.
func CacheView(entries []store.CacheEntry) View {
	v := View{
		Title:  "Condensation cache",
		Header: table.Row{"Hash", "Source", "In", "Out", "Ratio", "Credential", "Created"},
		Empty:  "(cache is empty)",
		Data:   entries,
	}
	for _, e := range entries {
		v.Rows = append(v.Rows, table.Row{
			truncate(e.Hash, 12),
			filepath.Base(e.Source),
			e.InputChars,
			e.OutputChars,
			percent(e.InputChars, e.OutputChars),
			dash(e.Credential),
			e.CreatedAt.Local().Format(time.DateTime),
		})
	}
	return v
}

// RunsView lists recorded processing runs, newest first.
func RunsView(runs []store.Run) View {
	v := View{
		Title:  "Runs",
		Header: table.Row{"Run", "Input", "Started", "Duration", "Chapters", "OK", "Failed", "Cached", "Retries", "Ratio"},
		Empty:  "(no runs recorded)",
		Data:   runs,
	}
	for _, r := range runs {
		duration := "running"
		if r.FinishedAt != nil {
			duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		v.Rows = append(v.Rows, table.Row{
			truncate(r.ID, 8),
			r.InputDir,
			r.StartedAt.Local().Format(time.DateTime),
			duration,
			r.Chapters,
			r.Succeeded,
			r.Failed,
			r.Cached,
			r.Retries,
			percent(r.InputChars, r.OutputChars),
		})
	}
	return v
}

func percent(in, out int) string {
	if in <= 0 || out <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.1f%%", core.Ratio(in, out))
}

func dash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
