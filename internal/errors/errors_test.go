package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/novelcondense/novelcondense/internal/core"
	"github.com/novelcondense/novelcondense/internal/core/engine"
	"github.com/novelcondense/novelcondense/internal/server/middleware"
)

func TestHTTPStatusFromCode(t *testing.T) {
	cases := map[string]int{
		CodeInvalidInput:         http.StatusBadRequest,
		CodeNotFound:             http.StatusNotFound,
		CodeMethodNotAllowed:     http.StatusMethodNotAllowed,
		CodeCredentialsExhausted: http.StatusBadGateway,
		CodeRequestCancelled:     http.StatusServiceUnavailable,
		CodeDatabase:             http.StatusInternalServerError,
		"SOMETHING_ELSE":         http.StatusInternalServerError,
	}
	for code, want := range cases {
		require.Equal(t, want, HTTPStatusFromCode(code), code)
	}
	require.Equal(t, http.StatusInternalServerError, HTTPStatusFromEnvelope(nil))
}

func TestEnsureEnvelope(t *testing.T) {
	env := EnsureEnvelope(nil)
	require.Equal(t, CodeInternal, env.Code)

	plain := EnsureEnvelope(stderrors.New("boom"))
	require.Equal(t, CodeInternal, plain.Code)
	require.Equal(t, "boom", plain.Context["wrapped_error"])

	original := NewInvalidInputError("bad")
	require.Same(t, original, EnsureEnvelope(fmt.Errorf("wrapped: %w", original)))
}

func TestFromOutcome(t *testing.T) {
	exhausted := FromOutcome(context.Background(), core.DispatchOutcome{
		Status:   core.StatusTerminal,
		Kind:     core.FailureExhausted,
		Attempts: 4,
		Cause:    fmt.Errorf("chapter: %w", engine.ErrAllCredentialsExhausted),
	})
	require.Equal(t, CodeCredentialsExhausted, exhausted.Code)
	require.Equal(t, 4, exhausted.Context["attempts"])
	require.NotEmpty(t, exhausted.CorrelationID)

	cancelled := FromOutcome(context.Background(), core.DispatchOutcome{
		Status: core.StatusTerminal,
		Kind:   core.FailureCancelled,
	})
	require.Equal(t, CodeRequestCancelled, cancelled.Code)
}

func TestRespondWithEnvelopeUsesRequestID(t *testing.T) {
	var seen string
	handler := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = middleware.GetRequestID(r.Context())
		RespondWithError(w, r, WrapInvalidInput(r.Context(), stderrors.New("empty text"), "text is required"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/condense", nil))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body HTTPErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, CodeInvalidInput, body.Error.Code)
	require.Equal(t, seen, body.Error.RequestID)
	require.Equal(t, "empty text", body.Error.Details["wrapped_error"])
}
