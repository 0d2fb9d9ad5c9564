package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/novelcondense/novelcondense/internal/config"
	"github.com/novelcondense/novelcondense/internal/core"
	apperrors "github.com/novelcondense/novelcondense/internal/errors"
	"github.com/novelcondense/novelcondense/internal/metrics"
	"github.com/novelcondense/novelcondense/internal/server/middleware"
)

type echoDispatcher struct{}

func (echoDispatcher) Dispatch(_ context.Context, req core.DispatchRequest) core.DispatchOutcome {
	out := []rune(req.Text)[:len([]rune(req.Text))/2]
	return core.DispatchOutcome{
		Status:        core.StatusSuccess,
		CorrelationID: req.CorrelationID,
		Output:        string(out),
		InputChars:    len([]rune(req.Text)),
		OutputChars:   len(out),
		Credential:    "gemini/0",
		Attempts:      1,
	}
}

func (echoDispatcher) Summary() core.Summary { return core.Summary{Attempted: 1} }

func (echoDispatcher) States() []core.ProviderState {
	return []core.ProviderState{{Credential: "gemini/0", Kind: "gemini", RPM: 5}}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	return New(config.ServerConfig{Host: "127.0.0.1"}, Deps{
		Dispatcher: echoDispatcher{},
		Metrics:    metrics.New(),
	})
}

func TestServerUsesStandardErrorHandlers(t *testing.T) {
	srv := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/does-not-exist", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Equal(t, apperrors.CodeNotFound, body.Error.Code)
	require.Equal(t, rec.Header().Get(middleware.RequestIDHeader), body.Error.RequestID)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/condense", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServerCondenseRoundTrip(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/condense", strings.NewReader(`{"text":"一二三四五六七八九十"}`))
	req.Header.Set(middleware.CorrelationIDHeader, "chapter-12")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Equal(t, "chapter-12", resp["correlation_id"])
	require.Equal(t, "一二三四五", resp["output"])
}

func TestServerExposesMetricsAndHealth(t *testing.T) {
	srv := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `novelcondense_http_requests_total{endpoint="/health/ready",method="GET",status="200"} 1`)
}

func TestAdminEndpointRequiresToken(t *testing.T) {
	t.Setenv(AdminTokenEnv, "")
	srv := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/signal", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestShutdownBeforeStart(t *testing.T) {
	require.NoError(t, newTestServer(t).Shutdown(context.Background()))
}
