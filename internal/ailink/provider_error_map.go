package ailink

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/novelcondense/novelcondense/internal/ailink/driver"
	"github.com/novelcondense/novelcondense/internal/core"
)

var quotaMarkers = []string{"resource_exhausted", "quota", "rate limit", "rate_limit", "too many requests"}

// Classify maps a driver error to a failure kind and an optional retry hint.
func Classify(err error) (core.FailureKind, time.Duration) {
	if err == nil {
		return core.FailureNone, 0
	}
	if errors.Is(err, driver.ErrMalformedResponse) {
		return core.FailureMalformedResponse, 0
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return core.FailureTransient, 0
	}

	var perr *driver.ProviderError
	if errors.As(err, &perr) && perr != nil {
		status := perr.StatusCode
		switch {
		case status == http.StatusTooManyRequests:
			return core.FailureRateLimited, perr.RetryAfter
		case status >= 500 && status <= 599:
			return core.FailureTransient, perr.RetryAfter
		case status == http.StatusRequestTimeout:
			return core.FailureTransient, 0
		case status >= 400 && status <= 499 && quotaExceeded(perr.Message):
			return core.FailureRateLimited, perr.RetryAfter
		case status >= 400 && status <= 499:
			return core.FailureCredentialInvalid, 0
		default:
			return core.FailureTransient, 0
		}
	}

	// Dial errors, resets and client timeouts.
	return core.FailureTransient, 0
}

// StatusFor returns the attempt status for a failure kind.
func StatusFor(kind core.FailureKind) core.Status {
	switch {
	case kind == core.FailureNone:
		return core.StatusSuccess
	case kind.Retryable():
		return core.StatusRetryable
	default:
		return core.StatusTerminal
	}
}

func quotaExceeded(message string) bool {
	lower := strings.ToLower(message)
	for _, marker := range quotaMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
