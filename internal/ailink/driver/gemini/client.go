package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/novelcondense/novelcondense/internal/ailink/driver"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta/models"

// Client implements the Gemini generateContent driver via direct HTTP.
//
// The API key travels in the x-goog-api-key header so request URLs are safe to
// log and trace.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Timeout    time.Duration
	Clock      func() time.Time
}

// NewClient returns a client with defaults applied.
func NewClient(baseURL, apiKey string) *Client {
	url := strings.TrimSpace(baseURL)
	if url == "" {
		url = defaultBaseURL
	}
	return &Client{
		BaseURL: url,
		APIKey:  strings.TrimSpace(apiKey),
	}
}

// Name returns the driver identifier.
func (c *Client) Name() string {
	return "gemini"
}

// Endpoint returns the generateContent URL for model.
func (c *Client) Endpoint(model string) string {
	base := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if base == "" {
		base = defaultBaseURL
	}
	model = strings.TrimPrefix(strings.TrimSpace(model), "models/")
	return fmt.Sprintf("%s/%s:generateContent", base, model)
}

// Complete sends a generateContent request.
func (c *Client) Complete(ctx context.Context, req *driver.Request) (*driver.Response, error) {
	if c == nil {
		return nil, fmt.Errorf("gemini client not configured")
	}
	if strings.TrimSpace(c.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}

	payload, err := buildGenerateRequest(req)
	if err != nil {
		return nil, err
	}

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	url := c.Endpoint(req.Model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("x-goog-api-key", c.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	started := time.Now()
	resp, err := client.Do(httpReq)
	if err != nil {
		driver.TraceCall(c.Name(), url, req.Model, req.CorrelationID, body, nil, 0, err, started)
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		driver.TraceCall(c.Name(), url, req.Model, req.CorrelationID, body, nil, resp.StatusCode, err, started)
		return nil, fmt.Errorf("read response: %w", err)
	}
	driver.TraceCall(c.Name(), url, req.Model, req.CorrelationID, body, respBody, resp.StatusCode, nil, started)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, c.providerError(resp, respBody)
	}

	var parsed generateResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", driver.ErrMalformedResponse, err)
	}
	return toDriverResponse(&parsed)
}

func (c *Client) providerError(resp *http.Response, body []byte) *driver.ProviderError {
	now := time.Now()
	if c.Clock != nil {
		now = c.Clock()
	}
	perr := &driver.ProviderError{
		Provider:    "gemini",
		StatusCode:  resp.StatusCode,
		Message:     driver.Truncate(string(body), 500),
		RawResponse: body,
		RetryAfter:  driver.ParseRetryAfter(resp.Header.Get("Retry-After"), now),
	}

	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err != nil || env.Error.Message == "" {
		return perr
	}
	perr.Message = env.Error.Message
	if env.Error.Status != "" {
		perr.Message = env.Error.Status + ": " + env.Error.Message
	}
	if hint := env.retryDelay(); hint > perr.RetryAfter {
		perr.RetryAfter = hint
	}
	return perr
}
