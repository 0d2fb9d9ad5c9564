package ailink

import (
	"context"
	"time"

	"github.com/novelcondense/novelcondense/internal/core"
)

// ProbeText is a short passage sent by key checks. It is long enough for a
// model to shorten meaningfully and cheap enough to spend a request on.
const ProbeText = "The rain had not stopped for three days. Lin walked the length of the harbor every " +
	"morning, counting the boats that had not come back, and every morning the count was the same. " +
	"On the fourth day the sky cleared, and a single sail appeared on the horizon."

// Probe verdicts reported by CheckCredential.
const (
	ProbeOK          = "ok"
	ProbeRateLimited = "rate-limited"
	ProbeInvalid     = "invalid"
	ProbeTransient   = "transient"
	ProbeMalformed   = "malformed"
	ProbeSkipped     = "skipped"
)

// Admitter is the admission half of the rate tracker.
type Admitter interface {
	TryAdmit(cred core.Credential) bool
}

// ProbeResult is the outcome of checking one credential.
type ProbeResult struct {
	Credential core.Credential
	Verdict    string
	Detail     string
	Latency    time.Duration
}

// CheckCredential sends ProbeText through cred once. It does not retry or
// reroute but still spends a slot in the credential's rate window; when the
// window is full the probe is skipped.
func (i *Invoker) CheckCredential(ctx context.Context, admit Admitter, cred core.Credential) ProbeResult {
	result := ProbeResult{Credential: cred}
	if admit != nil && !admit.TryAdmit(cred) {
		result.Verdict = ProbeSkipped
		result.Detail = "rate window full"
		return result
	}

	outcome := i.Invoke(ctx, cred, core.DispatchRequest{Text: ProbeText, Ratio: core.DefaultRatio, CorrelationID: "probe"})
	result.Latency = outcome.Duration
	result.Detail = outcome.Error
	switch outcome.Kind {
	case core.FailureNone:
		result.Verdict = ProbeOK
	case core.FailureRateLimited:
		result.Verdict = ProbeRateLimited
	case core.FailureCredentialInvalid:
		result.Verdict = ProbeInvalid
	case core.FailureMalformedResponse:
		result.Verdict = ProbeMalformed
	default:
		result.Verdict = ProbeTransient
	}
	return result
}
