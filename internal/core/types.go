package core

import (
	"fmt"
	"strings"
	"time"
)

// ProviderKind identifies the API shape a credential speaks.
type ProviderKind string

const (
	ProviderGemini ProviderKind = "gemini"
	ProviderOpenAI ProviderKind = "openai"
)

// ProviderKinds lists every supported kind in default selection order.
var ProviderKinds = []ProviderKind{ProviderGemini, ProviderOpenAI}

// ParseProviderKind normalizes a provider kind string.
func ParseProviderKind(value string) (ProviderKind, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "gemini":
		return ProviderGemini, nil
	case "openai", "openai-compatible":
		return ProviderOpenAI, nil
	default:
		return "", fmt.Errorf("unknown provider kind %q", value)
	}
}

// Status is the terminal state of a dispatch attempt or request.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusRetryable Status = "retryable-failure"
	StatusTerminal  Status = "terminal-failure"
)

// FailureKind classifies why an attempt or request failed.
type FailureKind string

const (
	FailureNone              FailureKind = ""
	FailureRateLimited       FailureKind = "rate-limited"
	FailureTransient         FailureKind = "transient"
	FailureCredentialInvalid FailureKind = "credential-invalid"
	FailureMalformedResponse FailureKind = "malformed-response"
	FailureExhausted         FailureKind = "all-credentials-exhausted"
	FailureCancelled         FailureKind = "cancelled"
)

// Retryable reports whether the kind allows rerouting the request.
func (k FailureKind) Retryable() bool {
	switch k {
	case FailureRateLimited, FailureTransient, FailureMalformedResponse:
		return true
	default:
		return false
	}
}

// RatioRange is the accepted output/input length ratio, in percent.
type RatioRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// DefaultRatio matches the condensation prompt (30%-50% of the original).
var DefaultRatio = RatioRange{Min: 30, Max: 50}

// Valid reports whether the range is usable.
func (r RatioRange) Valid() bool {
	return r.Min > 0 && r.Max >= r.Min && r.Max <= 100
}

// Accepts reports whether an output of outLen characters condenses inLen characters
// within the range, widened by tolerance percentage points on both sides.
func (r RatioRange) Accepts(inLen, outLen int, tolerance float64) bool {
	if inLen <= 0 || outLen <= 0 {
		return false
	}
	ratio := Ratio(inLen, outLen)
	return ratio >= r.Min-tolerance && ratio <= r.Max+tolerance
}

// Ratio returns outLen as a percentage of inLen.
func Ratio(inLen, outLen int) float64 {
	if inLen <= 0 {
		return 0
	}
	return float64(outLen) / float64(inLen) * 100
}

// DispatchRequest is a single text unit submitted for condensation.
type DispatchRequest struct {
	Text          string
	Ratio         RatioRange
	CorrelationID string
}

// DispatchOutcome is produced once per attempt by a provider adapter and once per
// request by the dispatcher.
type DispatchOutcome struct {
	CorrelationID string        `json:"correlation_id,omitempty"`
	Status        Status        `json:"status"`
	Kind          FailureKind   `json:"kind,omitempty"`
	Output        string        `json:"output,omitempty"`
	Credential    string        `json:"credential,omitempty"`
	Error         string        `json:"error,omitempty"`
	Attempts      int           `json:"attempts,omitempty"`
	InputChars    int           `json:"input_chars,omitempty"`
	OutputChars   int           `json:"output_chars,omitempty"`
	Duration      time.Duration `json:"duration_ns,omitempty"`

	// RetryAfter carries a provider-supplied retry hint for rate-limited attempts.
	RetryAfter time.Duration `json:"-"`
	// Cause is the underlying error for failed attempts.
	Cause error `json:"-"`
}

// Succeeded reports whether the outcome carries usable output.
func (o DispatchOutcome) Succeeded() bool {
	return o.Status == StatusSuccess
}
