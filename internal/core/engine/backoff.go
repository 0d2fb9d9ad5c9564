package engine

import (
	"time"

	"github.com/novelcondense/novelcondense/internal/core"
)

// BackoffPolicy computes credential cooldowns after retryable failures.
type BackoffPolicy struct {
	RateLimitedBase time.Duration
	TransientBase   time.Duration
	MalformedBase   time.Duration
	Factor          float64
	Cap             time.Duration
}

// DefaultBackoff returns the documented defaults: 2s for rate limits, 1s for
// transient and malformed failures, doubling per consecutive failure up to 60s.
func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{
		RateLimitedBase: 2 * time.Second,
		TransientBase:   time.Second,
		MalformedBase:   time.Second,
		Factor:          2,
		Cap:             60 * time.Second,
	}
}

// Cooldown returns base*factor^(consecutive-1), capped, and never less than
// hint (itself capped).
func (b BackoffPolicy) Cooldown(kind core.FailureKind, consecutive int, hint time.Duration) time.Duration {
	b = b.withDefaults()
	base := b.base(kind)
	if consecutive < 1 {
		consecutive = 1
	}

	delay := float64(base)
	for i := 1; i < consecutive; i++ {
		delay *= b.Factor
		if delay >= float64(b.Cap) {
			break
		}
	}
	if delay > float64(b.Cap) {
		delay = float64(b.Cap)
	}

	cooldown := time.Duration(delay)
	if hint > b.Cap {
		hint = b.Cap
	}
	if hint > cooldown {
		cooldown = hint
	}
	return cooldown
}

func (b BackoffPolicy) base(kind core.FailureKind) time.Duration {
	switch kind {
	case core.FailureRateLimited:
		return b.RateLimitedBase
	case core.FailureMalformedResponse:
		return b.MalformedBase
	default:
		return b.TransientBase
	}
}

func (b BackoffPolicy) withDefaults() BackoffPolicy {
	defaults := DefaultBackoff()
	if b.RateLimitedBase <= 0 {
		b.RateLimitedBase = defaults.RateLimitedBase
	}
	if b.TransientBase <= 0 {
		b.TransientBase = defaults.TransientBase
	}
	if b.MalformedBase <= 0 {
		b.MalformedBase = defaults.MalformedBase
	}
	if b.Factor < 1 {
		b.Factor = defaults.Factor
	}
	if b.Cap <= 0 {
		b.Cap = defaults.Cap
	}
	return b
}
