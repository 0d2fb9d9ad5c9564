package engine

import (
	"math"
	"sync"
	"time"

	"github.com/novelcondense/novelcondense/internal/core"
)

// DefaultWindow is the trailing span every limit is counted over.
const DefaultWindow = time.Minute

// RateTracker enforces per-credential and global sliding-window limits.
//
// TryAdmit checks and records under one lock, so concurrent callers can never
// both observe the last free slot.
type RateTracker struct {
	Window      time.Duration
	GlobalLimit int
	Clock       func() time.Time
	Margin      float64

	mu      sync.Mutex
	windows map[string][]time.Time
	global  []time.Time
}

// NewRateTracker builds a tracker with a one-minute window.
func NewRateTracker(globalLimit int) *RateTracker {
	return &RateTracker{
		Window:      DefaultWindow,
		GlobalLimit: globalLimit,
	}
}

// TryAdmit records an admission for cred if both its window and the global
// window have capacity.
func (r *RateTracker) TryAdmit(cred core.Credential) bool {
	if r == nil {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	id := cred.ID()
	window := r.purgeLocked(id, now)
	if len(window) >= r.applyMargin(cred.RPM) {
		return false
	}
	if r.GlobalLimit > 0 && len(r.global) >= r.applyMargin(r.GlobalLimit) {
		return false
	}

	r.windows[id] = append(window, now)
	r.global = append(r.global, now)
	return true
}

// WindowOccupancy returns the admissions for cred within the trailing window.
func (r *RateTracker) WindowOccupancy(cred core.Credential) int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.purgeLocked(cred.ID(), r.now()))
}

// GlobalOccupancy returns the admissions across all credentials within the window.
func (r *RateTracker) GlobalOccupancy() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.purgeGlobalLocked(r.now())
	return len(r.global)
}

// NextSlot returns how long until cred could next be admitted, considering both
// windows. Zero means a slot is free now.
func (r *RateTracker) NextSlot(cred core.Credential) time.Duration {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var wait time.Duration
	window := r.purgeLocked(cred.ID(), now)
	if limit := r.applyMargin(cred.RPM); len(window) >= limit {
		wait = r.expiry(window[len(window)-limit], now)
	}
	if r.GlobalLimit > 0 {
		if limit := r.applyMargin(r.GlobalLimit); len(r.global) >= limit {
			if w := r.expiry(r.global[len(r.global)-limit], now); w > wait {
				wait = w
			}
		}
	}
	return wait
}

// ApplySafetyMargin scales every limit by a ratio in (0,1].
func (r *RateTracker) ApplySafetyMargin(margin float64) {
	if r == nil {
		return
	}
	if margin <= 0 || margin > 1 {
		return
	}
	r.mu.Lock()
	r.Margin = margin
	r.mu.Unlock()
}

// Reset drops all recorded admissions.
func (r *RateTracker) Reset() {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.windows = nil
	r.global = nil
	r.mu.Unlock()
}

func (r *RateTracker) purgeLocked(id string, now time.Time) []time.Time {
	if r.windows == nil {
		r.windows = make(map[string][]time.Time)
	}
	r.purgeGlobalLocked(now)
	window := trim(r.windows[id], now, r.window())
	r.windows[id] = window
	return window
}

func (r *RateTracker) purgeGlobalLocked(now time.Time) {
	r.global = trim(r.global, now, r.window())
}

// trim drops timestamps at least span old. Timestamps are appended in order.
func trim(stamps []time.Time, now time.Time, span time.Duration) []time.Time {
	idx := 0
	for idx < len(stamps) && now.Sub(stamps[idx]) >= span {
		idx++
	}
	if idx == 0 {
		return stamps
	}
	kept := make([]time.Time, len(stamps)-idx)
	copy(kept, stamps[idx:])
	return kept
}

func (r *RateTracker) expiry(oldest time.Time, now time.Time) time.Duration {
	wait := oldest.Add(r.window()).Sub(now)
	if wait < 0 {
		return 0
	}
	return wait
}

func (r *RateTracker) window() time.Duration {
	if r.Window <= 0 {
		return DefaultWindow
	}
	return r.Window
}

func (r *RateTracker) now() time.Time {
	if r != nil && r.Clock != nil {
		return r.Clock()
	}
	return time.Now().UTC()
}

func (r *RateTracker) applyMargin(limit int) int {
	if limit <= 0 {
		return 0
	}
	if r.Margin <= 0 || r.Margin > 1 {
		return limit
	}
	adjusted := int(math.Floor(float64(limit) * r.Margin))
	if adjusted < 1 {
		adjusted = 1
	}
	return adjusted
}
