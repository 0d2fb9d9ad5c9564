package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/novelcondense/novelcondense/internal/core"
)

type fakeStates []core.ProviderState

func (f fakeStates) States() []core.ProviderState { return f }

type fakeGlobal int

func (f fakeGlobal) GlobalOccupancy() int { return int(f) }

func TestDispatchObserver(t *testing.T) {
	reg := prometheus.NewRegistry()
	d := NewDispatch(reg)
	cred := core.Credential{Kind: core.ProviderGemini, Label: "a", Key: "k", Model: "m", RPM: 5}

	d.AttemptFinished(cred, core.DispatchOutcome{Status: core.StatusRetryable, Kind: core.FailureRateLimited})
	d.AttemptFinished(cred, core.DispatchOutcome{Status: core.StatusSuccess})
	d.CooldownStarted(cred, core.FailureRateLimited, 2*time.Second)
	d.RequestFinished(core.DispatchOutcome{
		Status:      core.StatusSuccess,
		Attempts:    2,
		InputChars:  1000,
		OutputChars: 400,
		Duration:    3 * time.Second,
	})

	require.Equal(t, 1.0, testutil.ToFloat64(d.attempts.WithLabelValues("gemini/a", "retryable-failure", "rate-limited")))
	require.Equal(t, 1.0, testutil.ToFloat64(d.attempts.WithLabelValues("gemini/a", "success", "none")))
	require.Equal(t, 1.0, testutil.ToFloat64(d.cooldowns.WithLabelValues("gemini/a", "rate-limited")))
	require.Equal(t, 1.0, testutil.ToFloat64(d.requests.WithLabelValues("success", "none")))
	require.Equal(t, 1, testutil.CollectAndCount(d.outputRatio))
}

func TestCredentialCollector(t *testing.T) {
	until := time.Now().Add(time.Minute)
	states := fakeStates{
		{Credential: "gemini/0", Kind: "gemini", Model: "m", RPM: 5, InWindow: 3},
		{Credential: "openai/0", Kind: "openai", Model: "x", RPM: 10, CoolingUntil: &until, Invalid: true},
	}
	c := NewCredentialCollector(states, fakeGlobal(3), 20)

	expected := `
# HELP novelcondense_credential_window_requests Requests admitted in the trailing 60s window
# TYPE novelcondense_credential_window_requests gauge
novelcondense_credential_window_requests{credential="gemini/0",kind="gemini",model="m"} 3
novelcondense_credential_window_requests{credential="openai/0",kind="openai",model="x"} 0
# HELP novelcondense_credential_cooling 1 while the credential is in cooldown
# TYPE novelcondense_credential_cooling gauge
novelcondense_credential_cooling{credential="gemini/0",kind="gemini",model="m"} 0
novelcondense_credential_cooling{credential="openai/0",kind="openai",model="x"} 1
# HELP novelcondense_global_window_requests Requests admitted across all credentials in the trailing 60s window
# TYPE novelcondense_global_window_requests gauge
novelcondense_global_window_requests 3
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected),
		"novelcondense_credential_window_requests",
		"novelcondense_credential_cooling",
		"novelcondense_global_window_requests",
	))
}

func TestRegistryHandler(t *testing.T) {
	r := New()
	r.HTTP.ObserveRequest(http.MethodGet, "/health", http.StatusOK, 10*time.Millisecond)
	r.HTTP.RecordError("NOT_FOUND", http.StatusNotFound)
	r.HTTP.RecordPanic()
	require.NoError(t, r.Register(NewCredentialCollector(fakeStates{}, fakeGlobal(0), 20)))

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, `novelcondense_http_requests_total{endpoint="/health",method="GET",status="200"} 1`)
	require.Contains(t, body, `novelcondense_errors_total{error_code="NOT_FOUND",http_status="404"} 1`)
	require.Contains(t, body, "novelcondense_panics_total 1")
	require.Contains(t, body, "novelcondense_global_rpm_limit 20")
	require.Contains(t, body, "go_goroutines")
}

func TestNilHTTPIsSafe(t *testing.T) {
	var h *HTTP
	h.ObserveRequest(http.MethodGet, "/", 200, time.Millisecond)
	h.RecordError("X", 500)
	h.RecordPanic()
}
