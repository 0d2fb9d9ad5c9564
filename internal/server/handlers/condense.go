package handlers

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strings"
	"time"

	"github.com/novelcondense/novelcondense/internal/core"
	apperrors "github.com/novelcondense/novelcondense/internal/errors"
	"github.com/novelcondense/novelcondense/internal/server/middleware"
)

// MaxCondenseBody bounds the JSON body of a condense request.
const MaxCondenseBody = 4 << 20

// Dispatcher is the part of the dispatch engine the HTTP surface needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, req core.DispatchRequest) core.DispatchOutcome
	Summary() core.Summary
	States() []core.ProviderState
}

// CondenseRequest is the body of POST /v1/condense.
type CondenseRequest struct {
	Text          string  `json:"text"`
	CorrelationID string  `json:"correlation_id,omitempty"`
	MinRatio      float64 `json:"min_ratio,omitempty"`
	MaxRatio      float64 `json:"max_ratio,omitempty"`
}

// CondenseResponse is returned for a successful dispatch.
type CondenseResponse struct {
	CorrelationID string  `json:"correlation_id"`
	Output        string  `json:"output"`
	Credential    string  `json:"credential"`
	Attempts      int     `json:"attempts"`
	InputChars    int     `json:"input_chars"`
	OutputChars   int     `json:"output_chars"`
	Ratio         float64 `json:"ratio"`
	DurationMS    int64   `json:"duration_ms"`
}

// DispatchHandlers serves the condense and state endpoints.
type DispatchHandlers struct {
	dispatcher Dispatcher
	now        func() time.Time
}

// NewDispatchHandlers binds handlers to a dispatcher.
func NewDispatchHandlers(d Dispatcher) *DispatchHandlers {
	return &DispatchHandlers{dispatcher: d, now: time.Now}
}

// Condense dispatches one text and waits for the final outcome.
func (h *DispatchHandlers) Condense(w http.ResponseWriter, r *http.Request) {
	var body CondenseRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxCondenseBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "request body must be a JSON object"))
		return
	}
	if strings.TrimSpace(body.Text) == "" {
		respondWithError(w, r, apperrors.NewInvalidInputError("text is required"))
		return
	}

	req := core.DispatchRequest{
		Text:          body.Text,
		CorrelationID: body.CorrelationID,
	}
	if req.CorrelationID == "" {
		req.CorrelationID = middleware.GetRequestID(r.Context())
	}
	if body.MinRatio != 0 || body.MaxRatio != 0 {
		ratio := core.RatioRange{Min: body.MinRatio, Max: body.MaxRatio}
		if !ratio.Valid() {
			respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(),
				stderrors.New("min_ratio and max_ratio must satisfy 0 < min <= max <= 100"), "invalid ratio range"))
			return
		}
		req.Ratio = ratio
	}

	outcome := h.dispatcher.Dispatch(r.Context(), req)
	if !outcome.Succeeded() {
		respondWithError(w, r, apperrors.FromOutcome(r.Context(), outcome))
		return
	}

	writeJSON(w, http.StatusOK, CondenseResponse{
		CorrelationID: outcome.CorrelationID,
		Output:        outcome.Output,
		Credential:    outcome.Credential,
		Attempts:      outcome.Attempts,
		InputChars:    outcome.InputChars,
		OutputChars:   outcome.OutputChars,
		Ratio:         core.Ratio(outcome.InputChars, outcome.OutputChars),
		DurationMS:    outcome.Duration.Milliseconds(),
	})
}

// Summary returns the running aggregate since the server started.
func (h *DispatchHandlers) Summary(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.dispatcher.Summary())
}

// CredentialView is one row of GET /v1/credentials.
type CredentialView struct {
	core.ProviderState
	Condition string `json:"condition"`
}

// Credentials lists every configured credential with its live state. Keys
// are masked.
func (h *DispatchHandlers) Credentials(w http.ResponseWriter, _ *http.Request) {
	now := h.now()
	states := h.dispatcher.States()
	views := make([]CredentialView, 0, len(states))
	for _, st := range states {
		views = append(views, CredentialView{ProviderState: st, Condition: st.Condition(now)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"credentials": views})
}

// CheckHealth reports unhealthy once every credential has been invalidated.
func (h *DispatchHandlers) CheckHealth(context.Context) error {
	states := h.dispatcher.States()
	if len(states) == 0 {
		return stderrors.New("no credentials configured")
	}
	for _, st := range states {
		if !st.Invalid {
			return nil
		}
	}
	return stderrors.New("all credentials invalid")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
