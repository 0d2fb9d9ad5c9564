package engine

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/novelcondense/novelcondense/internal/core"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func gemini(label string, rpm int) core.Credential {
	return core.Credential{Kind: core.ProviderGemini, Key: "gm-key-" + label, Model: "gemini-2.0-flash", RPM: rpm, Label: label}
}

func openai(label string, rpm int) core.Credential {
	return core.Credential{Kind: core.ProviderOpenAI, Key: "oa-key-" + label, Model: "gpt-4o-mini", RPM: rpm, Label: label}
}

func TestRateTrackerWindow(t *testing.T) {
	clock := newFakeClock()
	tracker := &RateTracker{Window: time.Minute, Clock: clock.Now}
	cred := gemini("a", 2)

	require.True(t, tracker.TryAdmit(cred))
	require.True(t, tracker.TryAdmit(cred))
	require.False(t, tracker.TryAdmit(cred))
	require.Equal(t, 2, tracker.WindowOccupancy(cred))
	require.Equal(t, time.Minute, tracker.NextSlot(cred))

	clock.Advance(59 * time.Second)
	require.False(t, tracker.TryAdmit(cred))
	require.Equal(t, time.Second, tracker.NextSlot(cred))

	clock.Advance(time.Second)
	require.Equal(t, 0, tracker.WindowOccupancy(cred))
	require.True(t, tracker.TryAdmit(cred))
}

func TestRateTrackerIsSlidingNotBucketed(t *testing.T) {
	clock := newFakeClock()
	tracker := &RateTracker{Window: time.Minute, Clock: clock.Now}
	cred := gemini("a", 5)

	clock.Advance(50 * time.Second)
	for i := 0; i < 5; i++ {
		require.True(t, tracker.TryAdmit(cred))
	}

	// A fixed per-minute bucket would reset here.
	clock.Advance(15 * time.Second)
	require.False(t, tracker.TryAdmit(cred))
}

func TestRateTrackerGlobalLimit(t *testing.T) {
	clock := newFakeClock()
	tracker := &RateTracker{Window: time.Minute, GlobalLimit: 3, Clock: clock.Now}
	a := gemini("a", 5)
	b := openai("b", 5)

	require.True(t, tracker.TryAdmit(a))
	require.True(t, tracker.TryAdmit(b))
	require.True(t, tracker.TryAdmit(a))
	require.False(t, tracker.TryAdmit(b))
	require.Equal(t, 3, tracker.GlobalOccupancy())
	require.Equal(t, 1, tracker.WindowOccupancy(b))
}

func TestRateTrackerSafetyMargin(t *testing.T) {
	tracker := NewRateTracker(0)
	tracker.ApplySafetyMargin(0.5)
	cred := gemini("a", 4)

	require.True(t, tracker.TryAdmit(cred))
	require.True(t, tracker.TryAdmit(cred))
	require.False(t, tracker.TryAdmit(cred))

	tracker.Reset()
	require.Equal(t, 0, tracker.WindowOccupancy(cred))
}

func TestRateTrackerSlidingWindowProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	clock := newFakeClock()
	const globalLimit = 7
	tracker := &RateTracker{Window: time.Minute, GlobalLimit: globalLimit, Clock: clock.Now}
	creds := []core.Credential{gemini("a", 5), gemini("b", 3), openai("c", 4)}

	admitted := make(map[string][]time.Time)
	var global []time.Time

	for step := 0; step < 5000; step++ {
		clock.Advance(time.Duration(rng.Intn(4000)) * time.Millisecond)
		cred := creds[rng.Intn(len(creds))]
		if tracker.TryAdmit(cred) {
			now := clock.Now()
			admitted[cred.ID()] = append(admitted[cred.ID()], now)
			global = append(global, now)
		}
	}

	for _, cred := range creds {
		requireWindowBound(t, admitted[cred.ID()], cred.RPM)
	}
	requireWindowBound(t, global, globalLimit)
}

func TestRateTrackerConcurrentAdmissions(t *testing.T) {
	tracker := NewRateTracker(0)
	cred := gemini("a", 10)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tracker.TryAdmit(cred) {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 10, admitted)
}

// requireWindowBound checks no trailing 60s span holds more than limit stamps.
func requireWindowBound(t *testing.T, stamps []time.Time, limit int) {
	t.Helper()
	for i := range stamps {
		count := 0
		for j := i; j < len(stamps) && stamps[j].Sub(stamps[i]) < time.Minute; j++ {
			count++
		}
		require.LessOrEqual(t, count, limit, "window starting at %s", stamps[i])
	}
}
