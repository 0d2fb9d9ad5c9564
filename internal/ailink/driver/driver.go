package driver

import (
	"context"
	"errors"
)

// ErrMalformedResponse marks a 2xx response whose body is empty or cannot be
// decoded into generated text.
var ErrMalformedResponse = errors.New("malformed response")

// Driver defines the interface for text generation providers.
type Driver interface {
	// Complete sends a generation request and returns the response.
	Complete(ctx context.Context, req *Request) (*Response, error)
	// Name returns the driver identifier (e.g., "gemini").
	Name() string
}

// Role values for Message.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single chat turn.
type Message struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Usage contains token usage statistics.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Request is a provider-agnostic generation request.
type Request struct {
	Model       string
	Messages    []Message
	Temperature *float64
	TopP        *float64
	TopK        *int
	MaxTokens   *int
	// CorrelationID is echoed into traces only.
	CorrelationID string
}

// Response is a provider-agnostic generation response.
type Response struct {
	Text         string
	FinishReason string
	Usage        *Usage
}

// SystemText joins every system message.
func (r *Request) SystemText() string {
	return joinRole(r, RoleSystem)
}

// UserText joins every user message.
func (r *Request) UserText() string {
	return joinRole(r, RoleUser)
}

func joinRole(r *Request, role string) string {
	if r == nil {
		return ""
	}
	var out string
	for _, msg := range r.Messages {
		if msg.Role != role || msg.Text == "" {
			continue
		}
		if out != "" {
			out += "\n\n"
		}
		out += msg.Text
	}
	return out
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }
