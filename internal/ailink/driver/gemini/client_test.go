package gemini

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

func generateReq() *driver.Request {
	return &driver.Request{
		Model: "gemini-2.0-flash",
		Messages: []driver.Message{
			{Role: driver.RoleSystem, Text: "condense this"},
			{Role: driver.RoleUser, Text: "chapter text"},
		},
		Temperature: driver.Float(0.2),
		TopK:        driver.Int(40),
		TopP:        driver.Float(0.8),
		MaxTokens:   driver.Int(8192),
	}
}

func TestClientRequiresAPIKey(t *testing.T) {
	_, err := NewClient("", " ").Complete(context.Background(), generateReq())
	require.Error(t, err)
	require.Contains(t, err.Error(), "api key")
}

func TestClientEndpoint(t *testing.T) {
	client := NewClient("", "k")
	require.Equal(t, "https://generativelanguage.googleapis.com/v1beta/models/gemini-2.0-flash:generateContent", client.Endpoint("gemini-2.0-flash"))
	require.Equal(t, "https://generativelanguage.googleapis.com/v1beta/models/gemini-pro:generateContent", client.Endpoint("models/gemini-pro"))
}

func TestClientSendsRequestAndParsesResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/gemini-2.0-flash:generateContent", r.URL.Path)
		require.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		require.Empty(t, r.URL.Query().Get("key"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var payload generateRequest
		require.NoError(t, json.Unmarshal(body, &payload))
		require.Len(t, payload.Contents, 1)
		require.Equal(t, []part{{Text: "condense this"}, {Text: "chapter text"}}, payload.Contents[0].Parts)
		require.Equal(t, 40, *payload.GenerationConfig.TopK)
		require.Equal(t, "text/plain", payload.GenerationConfig.ResponseMimeType)

		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"short "},{"text":"version"}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":10,"candidatesTokenCount":4,"totalTokenCount":14}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	client.HTTPClient = server.Client()

	resp, err := client.Complete(context.Background(), generateReq())
	require.NoError(t, err)
	require.Equal(t, "short version", resp.Text)
	require.Equal(t, "STOP", resp.FinishReason)
	require.Equal(t, 14, resp.Usage.TotalTokens)
}

func TestClientParsesRetryInfo(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":429,"message":"You exceeded your current quota","status":"RESOURCE_EXHAUSTED","details":[{"@type":"type.googleapis.com/google.rpc.RetryInfo","retryDelay":"38s"}]}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	client.HTTPClient = server.Client()

	_, err := client.Complete(context.Background(), generateReq())
	var perr *driver.ProviderError
	require.True(t, errors.As(err, &perr))
	require.Equal(t, http.StatusTooManyRequests, perr.StatusCode)
	require.Equal(t, 43*time.Second, perr.RetryAfter)
	require.Contains(t, perr.Message, "RESOURCE_EXHAUSTED")
}

func TestClientInvalidKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":400,"message":"API key not valid. Please pass a valid API key.","status":"INVALID_ARGUMENT"}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	client.HTTPClient = server.Client()

	_, err := client.Complete(context.Background(), generateReq())
	var perr *driver.ProviderError
	require.True(t, errors.As(err, &perr))
	require.Equal(t, "INVALID_ARGUMENT: API key not valid. Please pass a valid API key.", perr.Message)
	require.Zero(t, perr.RetryAfter)
}

func TestClientMalformedBodies(t *testing.T) {
	bodies := map[string]string{
		"not json":      `upstream connect error`,
		"no candidates": `{"candidates":[]}`,
		"blocked":       `{"promptFeedback":{"blockReason":"SAFETY"}}`,
		"empty parts":   `{"candidates":[{"content":{"parts":[]},"finishReason":"MAX_TOKENS"}]}`,
	}

	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(body))
			}))
			defer server.Close()

			client := NewClient(server.URL, "test-key")
			client.HTTPClient = server.Client()

			_, err := client.Complete(context.Background(), generateReq())
			require.ErrorIs(t, err, driver.ErrMalformedResponse)
		})
	}
}
