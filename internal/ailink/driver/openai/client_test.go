package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/novelcondense/novelcondense/internal/ailink/driver"
)

func chatRequest() *driver.Request {
	return &driver.Request{
		Model: "test-model",
		Messages: []driver.Message{
			{Role: driver.RoleSystem, Text: "sys"},
			{Role: driver.RoleUser, Text: "usr"},
		},
		Temperature: driver.Float(0.2),
		TopP:        driver.Float(0.8),
		MaxTokens:   driver.Int(8192),
	}
}

func TestClientRequiresAPIKey(t *testing.T) {
	client := NewClient("", "")
	_, err := client.Complete(context.Background(), chatRequest())
	require.Error(t, err)
	require.Contains(t, err.Error(), "api key")
}

func TestClientEndpoint(t *testing.T) {
	require.Equal(t, "https://api.openai.com/v1/chat/completions", NewClient("", "k").Endpoint())
	require.Equal(t, "https://api.deepseek.com/v1/chat/completions", NewClient("https://api.deepseek.com/v1/", "k").Endpoint())
	require.Equal(t, "http://gw.local/v1/chat/completions", NewClient("http://gw.local/v1/chat/completions", "k").Endpoint())
}

func TestClientSendsRequestAndParsesResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		var payload chatCompletionRequest
		require.NoError(t, json.Unmarshal(body, &payload))
		require.Equal(t, "test-model", payload.Model)
		require.Len(t, payload.Messages, 2)
		require.Equal(t, "system", payload.Messages[0].Role)
		require.Equal(t, "usr", payload.Messages[1].Content)
		require.Equal(t, 8192, *payload.MaxTokens)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"  condensed  "},"finish_reason":"stop"}],"usage":{"prompt_tokens":1,"completion_tokens":2,"total_tokens":3}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	client.HTTPClient = server.Client()

	resp, err := client.Complete(context.Background(), chatRequest())
	require.NoError(t, err)
	require.Equal(t, "condensed", resp.Text)
	require.Equal(t, "stop", resp.FinishReason)
	require.NotNil(t, resp.Usage)
	require.Equal(t, 3, resp.Usage.TotalTokens)
}

func TestClientErrorsOnNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	client.HTTPClient = server.Client()

	_, err := client.Complete(context.Background(), chatRequest())
	require.Error(t, err)
	require.Contains(t, err.Error(), "status 401")
	require.Contains(t, err.Error(), "Incorrect API key")

	var perr *driver.ProviderError
	require.True(t, errors.As(err, &perr))
	require.Equal(t, http.StatusUnauthorized, perr.StatusCode)
}

func TestClientParsesRetryAfter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "17")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("slow down"))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	client.HTTPClient = server.Client()

	_, err := client.Complete(context.Background(), chatRequest())
	var perr *driver.ProviderError
	require.True(t, errors.As(err, &perr))
	require.Equal(t, http.StatusTooManyRequests, perr.StatusCode)
	require.Equal(t, 17*time.Second, perr.RetryAfter)
}

func TestClientMalformedBodies(t *testing.T) {
	bodies := map[string]string{
		"not json":      `<html>oops</html>`,
		"no choices":    `{"choices":[]}`,
		"empty content": `{"choices":[{"message":{"content":"   "}}]}`,
	}

	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(body))
			}))
			defer server.Close()

			client := NewClient(server.URL, "test-key")
			client.HTTPClient = server.Client()

			_, err := client.Complete(context.Background(), chatRequest())
			require.ErrorIs(t, err, driver.ErrMalformedResponse)
		})
	}
}

func TestClientTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"late"}}]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	client.HTTPClient = server.Client()
	client.Timeout = 20 * time.Millisecond

	_, err := client.Complete(context.Background(), chatRequest())
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
