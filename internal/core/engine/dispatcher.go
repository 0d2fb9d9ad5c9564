package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/novelcondense/novelcondense/internal/core"
	"github.com/novelcondense/novelcondense/internal/observability"
)

var (
	// ErrAllCredentialsExhausted is returned when no credential can serve a request
	// within the retry and wait budgets.
	ErrAllCredentialsExhausted = errors.New("all credentials exhausted")
	// ErrCancelled is returned when a request is cancelled before a provider call.
	ErrCancelled = errors.New("dispatch cancelled")
)

// CredentialSource lists credentials per provider kind in configuration order.
type CredentialSource interface {
	List(kind core.ProviderKind) []core.Credential
}

// Invoker performs one provider call for a credential.
type Invoker interface {
	Invoke(ctx context.Context, cred core.Credential, req core.DispatchRequest) core.DispatchOutcome
}

// Observer receives dispatch events, typically for metrics.
type Observer interface {
	AttemptFinished(cred core.Credential, outcome core.DispatchOutcome)
	RequestFinished(outcome core.DispatchOutcome)
	CooldownStarted(cred core.Credential, kind core.FailureKind, cooldown time.Duration)
}

// Options tunes dispatcher behaviour. Zero MaxRetries and MaxWait take the
// defaults; negative values disable retries and waiting.
type Options struct {
	Preferred      core.ProviderKind
	MaxRetries     int
	MaxWait        time.Duration
	FailureLimit   int
	Backoff        BackoffPolicy
	Ratio          core.RatioRange
	RatioTolerance float64
	Clock          func() time.Time
	Sleep          func(ctx context.Context, d time.Duration) error
	Logger         observability.Logger
	Observer       Observer
}

// DefaultMaxRetries bounds reroutes per request.
const DefaultMaxRetries = 3

// DefaultMaxWait bounds the total time a request waits for a credential.
const DefaultMaxWait = 30 * time.Second

type credState struct {
	consecutive  int
	failures     int
	coolingUntil time.Time
	invalid      bool
	reported     bool
}

// Dispatcher routes requests across credentials with rate limiting and failover.
//
// Selection state (tracker admissions, cooldowns, cursors) changes only while mu
// is held; provider calls run outside it.
type Dispatcher struct {
	source     CredentialSource
	invoker    Invoker
	tracker    *RateTracker
	aggregator *Aggregator
	opts       Options
	logger     observability.Logger

	mu     sync.Mutex
	state  map[string]*credState
	cursor map[core.ProviderKind]int
}

// NewDispatcher wires a dispatcher. A nil tracker or aggregator gets a fresh one.
func NewDispatcher(source CredentialSource, invoker Invoker, tracker *RateTracker, aggregator *Aggregator, opts Options) *Dispatcher {
	if tracker == nil {
		tracker = NewRateTracker(0)
	}
	if aggregator == nil {
		aggregator = NewAggregator()
	}
	switch {
	case opts.MaxRetries == 0:
		opts.MaxRetries = DefaultMaxRetries
	case opts.MaxRetries < 0:
		opts.MaxRetries = 0
	}
	switch {
	case opts.MaxWait == 0:
		opts.MaxWait = DefaultMaxWait
	case opts.MaxWait < 0:
		opts.MaxWait = 0
	}
	if !opts.Ratio.Valid() {
		opts.Ratio = core.DefaultRatio
	}
	if opts.Clock != nil && tracker.Clock == nil {
		tracker.Clock = opts.Clock
	}
	return &Dispatcher{
		source:     source,
		invoker:    invoker,
		tracker:    tracker,
		aggregator: aggregator,
		opts:       opts,
		logger:     observability.OrNop(opts.Logger),
		state:      make(map[string]*credState),
		cursor:     make(map[core.ProviderKind]int),
	}
}

// Tracker exposes the rate tracker for diagnostics.
func (d *Dispatcher) Tracker() *RateTracker {
	return d.tracker
}

// Summary returns the aggregated statistics for this dispatcher.
func (d *Dispatcher) Summary() core.Summary {
	return d.aggregator.Summary()
}

// Submit condenses text, blocking until a terminal outcome.
func (d *Dispatcher) Submit(ctx context.Context, text, correlationID string) core.DispatchOutcome {
	return d.Dispatch(ctx, core.DispatchRequest{Text: text, CorrelationID: correlationID})
}

// Dispatch runs one request through selection, invocation and rerouting until it
// succeeds or becomes exhausted. Provider errors never escape; they are folded
// into the returned outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, req core.DispatchRequest) core.DispatchOutcome {
	if req.CorrelationID == "" {
		req.CorrelationID = uuid.NewString()
	}
	if !req.Ratio.Valid() {
		req.Ratio = d.opts.Ratio
	}

	started := d.now()
	excluded := make(map[string]bool)
	var (
		last     core.DispatchOutcome
		attempts int
		retries  int
		waited   time.Duration
	)

	finish := func(outcome core.DispatchOutcome) core.DispatchOutcome {
		outcome.CorrelationID = req.CorrelationID
		outcome.Attempts = attempts
		outcome.InputChars = len([]rune(req.Text))
		outcome.Duration = d.now().Sub(started)
		d.aggregator.Record(outcome)
		if d.opts.Observer != nil {
			d.opts.Observer.RequestFinished(outcome)
		}
		return outcome
	}

	for {
		if err := ctx.Err(); err != nil {
			return finish(cancelledOutcome(err, last))
		}

		cred, wait, ok := d.claim(excluded, d.opts.MaxWait-waited)
		if !ok {
			if wait <= 0 || waited+wait > d.opts.MaxWait {
				return finish(exhaustedOutcome(last))
			}
			d.logger.Debug("Waiting for credential capacity",
				zap.String("correlation_id", req.CorrelationID),
				zap.Duration("wait", wait))
			if err := d.sleep(ctx, wait); err != nil {
				return finish(cancelledOutcome(err, last))
			}
			waited += wait
			continue
		}

		attempts++
		// In-flight calls are not cancelled; the driver timeout bounds them.
		outcome := d.invoker.Invoke(context.WithoutCancel(ctx), cred, req)
		outcome.Credential = cred.ID()
		outcome = d.checkRatio(req, outcome)
		d.aggregator.RecordAttempt(cred.ID(), outcome)
		if d.opts.Observer != nil {
			d.opts.Observer.AttemptFinished(cred, outcome)
		}

		switch {
		case outcome.Succeeded():
			d.recordSuccess(cred)
			return finish(outcome)
		case outcome.Kind == core.FailureCredentialInvalid:
			d.markInvalid(cred, outcome)
			last = outcome
		case outcome.Kind.Retryable():
			d.markFailed(cred, outcome)
			excluded[cred.ID()] = true
			last = outcome
			retries++
			if retries > d.opts.MaxRetries {
				return finish(exhaustedOutcome(last))
			}
			d.aggregator.RecordReroute()
			d.logger.Debug("Rerouting request",
				zap.String("correlation_id", req.CorrelationID),
				zap.String("credential", cred.ID()),
				zap.String("kind", string(outcome.Kind)),
				zap.Int("retry", retries))
		default:
			outcome.Status = core.StatusTerminal
			return finish(outcome)
		}
	}
}

// claim selects and admits a credential. When none is admissible it returns the
// shortest wait after which one might be. Credentials that already failed this
// request are reconsidered when nothing else can be admitted within budget.
func (d *Dispatcher) claim(excluded map[string]bool, budget time.Duration) (core.Credential, time.Duration, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	cred, wait, ok := d.scanLocked(now, excluded)
	if ok || len(excluded) == 0 {
		return cred, wait, ok
	}
	if wait > 0 && wait <= budget {
		return cred, wait, false
	}
	for id := range excluded {
		delete(excluded, id)
	}
	return d.scanLocked(now, excluded)
}

// scanLocked walks kinds in order and admits the first ready credential.
func (d *Dispatcher) scanLocked(now time.Time, excluded map[string]bool) (core.Credential, time.Duration, bool) {
	var wait time.Duration
	for _, kind := range d.kindOrder() {
		creds := d.source.List(kind)
		n := len(creds)
		start := d.cursor[kind]
		for i := 0; i < n; i++ {
			idx := (start + i) % n
			cred := creds[idx]
			st := d.stateLocked(cred)
			if st.invalid || excluded[cred.ID()] {
				continue
			}
			if now.Before(st.coolingUntil) {
				wait = shorter(wait, maxDuration(st.coolingUntil.Sub(now), d.tracker.NextSlot(cred)))
				continue
			}
			st.coolingUntil = time.Time{}
			if !d.tracker.TryAdmit(cred) {
				wait = shorter(wait, d.tracker.NextSlot(cred))
				continue
			}
			d.cursor[kind] = (idx + 1) % n
			return cred, 0, true
		}
	}
	return core.Credential{}, wait, false
}

// kindOrder puts the preferred kind first, then the remaining kinds.
func (d *Dispatcher) kindOrder() []core.ProviderKind {
	order := make([]core.ProviderKind, 0, len(core.ProviderKinds))
	if d.opts.Preferred != "" {
		order = append(order, d.opts.Preferred)
	}
	for _, kind := range core.ProviderKinds {
		if kind != d.opts.Preferred {
			order = append(order, kind)
		}
	}
	return order
}

func (d *Dispatcher) recordSuccess(cred core.Credential) {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := d.stateLocked(cred)
	st.consecutive = 0
	st.coolingUntil = time.Time{}
}

func (d *Dispatcher) markFailed(cred core.Credential, outcome core.DispatchOutcome) {
	d.mu.Lock()
	st := d.stateLocked(cred)
	st.consecutive++
	st.failures++
	cooldown := d.opts.Backoff.Cooldown(outcome.Kind, st.consecutive, outcome.RetryAfter)
	st.coolingUntil = d.now().Add(cooldown)
	consecutive := st.consecutive
	tooMany := d.opts.FailureLimit > 0 && st.failures >= d.opts.FailureLimit && !st.invalid
	if tooMany {
		st.invalid = true
	}
	d.mu.Unlock()

	d.logger.Info("Credential cooling down",
		zap.String("credential", cred.ID()),
		zap.String("kind", string(outcome.Kind)),
		zap.Int("consecutive_failures", consecutive),
		zap.Duration("cooldown", cooldown),
		zap.Error(outcome.Cause))
	if d.opts.Observer != nil {
		d.opts.Observer.CooldownStarted(cred, outcome.Kind, cooldown)
	}
	if tooMany {
		d.reportInvalid(cred, fmt.Sprintf("failure limit %d reached", d.opts.FailureLimit))
	}
}

func (d *Dispatcher) markInvalid(cred core.Credential, outcome core.DispatchOutcome) {
	d.mu.Lock()
	d.stateLocked(cred).invalid = true
	d.mu.Unlock()
	d.reportInvalid(cred, outcome.Error)
}

// reportInvalid logs and counts an invalid credential once per run.
func (d *Dispatcher) reportInvalid(cred core.Credential, reason string) {
	d.mu.Lock()
	st := d.stateLocked(cred)
	first := !st.reported
	st.reported = true
	d.mu.Unlock()
	if !first {
		return
	}
	d.aggregator.RecordInvalid()
	d.logger.Warn("Credential removed from pool",
		zap.String("credential", cred.ID()),
		zap.String("model", cred.Model),
		zap.String("key", cred.MaskedKey()),
		zap.String("reason", reason))
}

// States returns a snapshot of every credential's dispatch state.
func (d *Dispatcher) States() []core.ProviderState {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []core.ProviderState
	for _, kind := range core.ProviderKinds {
		for _, cred := range d.source.List(kind) {
			st := d.stateLocked(cred)
			snapshot := core.ProviderState{
				Credential:  cred.ID(),
				Kind:        string(cred.Kind),
				Model:       cred.Model,
				Key:         cred.MaskedKey(),
				RPM:         cred.RPM,
				InWindow:    d.tracker.WindowOccupancy(cred),
				Consecutive: st.consecutive,
				Invalid:     st.invalid,
			}
			if !st.coolingUntil.IsZero() {
				until := st.coolingUntil
				snapshot.CoolingUntil = &until
			}
			out = append(out, snapshot)
		}
	}
	return out
}

// Usable returns credentials not marked invalid, preferred kind first.
func (d *Dispatcher) Usable() []core.Credential {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []core.Credential
	for _, kind := range d.kindOrder() {
		for _, cred := range d.source.List(kind) {
			if !d.stateLocked(cred).invalid {
				out = append(out, cred)
			}
		}
	}
	return out
}

// checkRatio turns a success that is empty or outside the accepted ratio into a
// retryable malformed response.
func (d *Dispatcher) checkRatio(req core.DispatchRequest, outcome core.DispatchOutcome) core.DispatchOutcome {
	if !outcome.Succeeded() {
		return outcome
	}
	inLen := len([]rune(req.Text))
	outLen := len([]rune(outcome.Output))
	outcome.OutputChars = outLen
	if req.Ratio.Accepts(inLen, outLen, d.opts.RatioTolerance) {
		return outcome
	}
	ratio := core.Ratio(inLen, outLen)
	return core.DispatchOutcome{
		Status:      core.StatusRetryable,
		Kind:        core.FailureMalformedResponse,
		Credential:  outcome.Credential,
		Error:       fmt.Sprintf("output ratio %.1f%% outside %.0f-%.0f%%", ratio, req.Ratio.Min, req.Ratio.Max),
		OutputChars: outLen,
	}
}

func (d *Dispatcher) stateLocked(cred core.Credential) *credState {
	st, ok := d.state[cred.ID()]
	if !ok {
		st = &credState{}
		d.state[cred.ID()] = st
	}
	return st
}

func (d *Dispatcher) sleep(ctx context.Context, wait time.Duration) error {
	if d.opts.Sleep != nil {
		return d.opts.Sleep(ctx, wait)
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (d *Dispatcher) now() time.Time {
	if d.opts.Clock != nil {
		return d.opts.Clock()
	}
	return time.Now().UTC()
}

func exhaustedOutcome(last core.DispatchOutcome) core.DispatchOutcome {
	msg := ErrAllCredentialsExhausted.Error()
	cause := ErrAllCredentialsExhausted
	if last.Error != "" {
		msg = fmt.Sprintf("%s: %s", msg, last.Error)
	}
	if last.Cause != nil {
		cause = fmt.Errorf("%w: %w", ErrAllCredentialsExhausted, last.Cause)
	}
	return core.DispatchOutcome{
		Status:     core.StatusTerminal,
		Kind:       core.FailureExhausted,
		Credential: last.Credential,
		Error:      msg,
		Cause:      cause,
	}
}

func cancelledOutcome(err error, last core.DispatchOutcome) core.DispatchOutcome {
	return core.DispatchOutcome{
		Status:     core.StatusTerminal,
		Kind:       core.FailureCancelled,
		Credential: last.Credential,
		Error:      fmt.Sprintf("%s: %v", ErrCancelled, err),
		Cause:      fmt.Errorf("%w: %w", ErrCancelled, err),
	}
}

func shorter(current, candidate time.Duration) time.Duration {
	if candidate <= 0 {
		return current
	}
	if current <= 0 || candidate < current {
		return candidate
	}
	return current
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
