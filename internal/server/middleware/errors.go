package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/fulmenhq/gofulmen/errors"
	"go.uber.org/zap"

	"github.com/novelcondense/novelcondense/internal/metrics"
	"github.com/novelcondense/novelcondense/internal/observability"
)

// Recovery turns handler panics into a 500 error envelope.
func Recovery(m *metrics.HTTP) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					if err == http.ErrAbortHandler {
						panic(err)
					}
					panicErr := errors.NewErrorEnvelope("INTERNAL_ERROR", fmt.Sprintf("panic: %v", err)).
						WithCorrelationID(GetRequestID(r.Context()))
					panicErr, _ = panicErr.WithContext(map[string]interface{}{
						"stack_trace": string(debug.Stack()),
					})
					panicErr, _ = panicErr.WithSeverity(errors.SeverityCritical)

					m.RecordPanic()
					m.RecordError(panicErr.Code, http.StatusInternalServerError)
					if observability.ServerLogger != nil {
						observability.ServerLogger.Error("Recovered handler panic",
							zap.String("path", r.URL.Path),
							zap.String("request_id", panicErr.CorrelationID),
							zap.Any("panic", err))
					}

					writeErrorResponse(w, panicErr, http.StatusInternalServerError)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// ErrorResponse structure per API standards
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// writeErrorResponse writes the envelope directly; the errors package
// imports this one. The stack trace stays in the log.
func writeErrorResponse(w http.ResponseWriter, envelope *errors.ErrorEnvelope, statusCode int) {
	response := ErrorResponse{
		Error: ErrorDetail{
			Code:      envelope.Code,
			Message:   envelope.Message,
			RequestID: envelope.CorrelationID,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}
