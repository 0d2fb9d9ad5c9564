package engine

import (
	"sync"
	"time"

	"github.com/novelcondense/novelcondense/internal/core"
)

// Aggregator accumulates dispatch outcomes. It is safe for concurrent use.
type Aggregator struct {
	Clock func() time.Time

	mu       sync.Mutex
	summary  core.Summary
	ratioSum float64
}

// NewAggregator returns an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Record accumulates one terminal per-request outcome.
func (a *Aggregator) Record(outcome core.DispatchOutcome) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.touchLocked()

	a.summary.Attempted++
	if outcome.Attempts > 1 {
		a.summary.Retries += outcome.Attempts - 1
	}
	if !outcome.Succeeded() {
		a.summary.Failed++
		if a.summary.Failures == nil {
			a.summary.Failures = make(map[core.FailureKind]int)
		}
		a.summary.Failures[outcome.Kind]++
		return
	}

	a.summary.Succeeded++
	a.summary.InputChars += outcome.InputChars
	a.summary.OutputChars += outcome.OutputChars
	ratio := core.Ratio(outcome.InputChars, outcome.OutputChars)
	if a.summary.Succeeded == 1 || ratio < a.summary.MinRatio {
		a.summary.MinRatio = ratio
	}
	if ratio > a.summary.MaxRatio {
		a.summary.MaxRatio = ratio
	}
	a.ratioSum += ratio
	a.summary.AvgRatio = a.ratioSum / float64(a.summary.Succeeded)
}

// RecordAttempt accumulates per-credential usage for one provider call.
func (a *Aggregator) RecordAttempt(credential string, outcome core.DispatchOutcome) {
	if a == nil || credential == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.touchLocked()

	if a.summary.PerCredential == nil {
		a.summary.PerCredential = make(map[string]core.CredentialUsage)
	}
	usage := a.summary.PerCredential[credential]
	usage.Credential = credential
	usage.Attempts++
	if outcome.Succeeded() {
		usage.Successes++
	} else {
		usage.Failures++
		if outcome.Kind == core.FailureRateLimited {
			usage.RateLimited++
		}
	}
	a.summary.PerCredential[credential] = usage
}

// RecordReroute counts a request moving to another credential after a failure.
func (a *Aggregator) RecordReroute() {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.summary.Reroutes++
	a.mu.Unlock()
}

// RecordInvalid counts a credential removed from the pool.
func (a *Aggregator) RecordInvalid() {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.summary.InvalidCredentials++
	a.mu.Unlock()
}

// Summary returns a copy of the accumulated totals.
func (a *Aggregator) Summary() core.Summary {
	if a == nil {
		return core.Summary{}
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	out := a.summary
	out.PerCredential = make(map[string]core.CredentialUsage, len(a.summary.PerCredential))
	for key, usage := range a.summary.PerCredential {
		out.PerCredential[key] = usage
	}
	if a.summary.Failures != nil {
		out.Failures = make(map[core.FailureKind]int, len(a.summary.Failures))
		for key, count := range a.summary.Failures {
			out.Failures[key] = count
		}
	}
	return out
}

// Reset clears all totals.
func (a *Aggregator) Reset() {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.summary = core.Summary{}
	a.ratioSum = 0
	a.mu.Unlock()
}

func (a *Aggregator) touchLocked() {
	now := time.Now().UTC()
	if a.Clock != nil {
		now = a.Clock()
	}
	if a.summary.StartedAt.IsZero() {
		a.summary.StartedAt = now
	}
	a.summary.UpdatedAt = now
}
