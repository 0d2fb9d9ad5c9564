package ailink

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/novelcondense/novelcondense/internal/ailink/prompt"
	"github.com/novelcondense/novelcondense/internal/config"
	"github.com/novelcondense/novelcondense/internal/core"
)

func newTestInvoker(t *testing.T, creds ...core.Credential) *Invoker {
	t.Helper()
	p, err := prompt.Default()
	require.NoError(t, err)
	reg := NewRegistry(creds...)
	reg.Timeout = 5 * time.Second
	inv, err := NewInvoker(reg, p, GenerationFromConfig(config.CondenseConfig{Temperature: 0.2, TopK: 40, MaxOutputTokens: 8192}, p), nil)
	require.NoError(t, err)
	return inv
}

func TestInvokeOpenAISuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var payload map[string]any
		require.NoError(t, json.Unmarshal(body, &payload))
		require.Equal(t, "deepseek-chat", payload["model"])
		messages := payload["messages"].([]any)
		require.Len(t, messages, 2)
		system := messages[0].(map[string]any)["content"].(string)
		require.Contains(t, system, "25%-40%")
		require.Equal(t, "a long chapter", messages[1].(map[string]any)["content"])

		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  short  "},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	cred := core.Credential{Kind: core.ProviderOpenAI, Key: "oa-key", Model: "deepseek-chat", RPM: 3, BaseURL: server.URL + "/v1"}
	inv := newTestInvoker(t, cred)

	outcome := inv.Invoke(context.Background(), cred, core.DispatchRequest{
		Text:          "a long chapter",
		Ratio:         core.RatioRange{Min: 25, Max: 40},
		CorrelationID: "ch-1",
	})
	require.Equal(t, core.StatusSuccess, outcome.Status)
	require.Equal(t, "short", outcome.Output)
	require.Equal(t, "openai/0", outcome.Credential)
	require.Equal(t, "ch-1", outcome.CorrelationID)
	require.Equal(t, 14, outcome.InputChars)
	require.Equal(t, 5, outcome.OutputChars)
}

func TestInvokeGeminiRateLimitedCarriesHint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":429,"message":"quota","status":"RESOURCE_EXHAUSTED","details":[{"@type":"type.googleapis.com/google.rpc.RetryInfo","retryDelay":"10s"}]}}`))
	}))
	defer server.Close()

	cred := core.Credential{Kind: core.ProviderGemini, Key: "gm-key", Model: "gemini-2.0-flash", RPM: 5, BaseURL: server.URL}
	inv := newTestInvoker(t, cred)

	outcome := inv.Invoke(context.Background(), cred, core.DispatchRequest{Text: "chapter"})
	require.Equal(t, core.StatusRetryable, outcome.Status)
	require.Equal(t, core.FailureRateLimited, outcome.Kind)
	require.Equal(t, 15*time.Second, outcome.RetryAfter)
	require.Error(t, outcome.Cause)
	require.NotContains(t, outcome.Error, "gm-key")
}

func TestInvokeClassifiesFailures(t *testing.T) {
	cases := []struct {
		name     string
		status   int
		body     string
		wantKind core.FailureKind
		want     core.Status
	}{
		{"invalid key", http.StatusUnauthorized, `{"error":{"message":"Incorrect API key"}}`, core.FailureCredentialInvalid, core.StatusTerminal},
		{"server error", http.StatusInternalServerError, `oops`, core.FailureTransient, core.StatusRetryable},
		{"empty content", http.StatusOK, `{"choices":[{"message":{"content":""}}]}`, core.FailureMalformedResponse, core.StatusRetryable},
		{"garbage body", http.StatusOK, `<html>`, core.FailureMalformedResponse, core.StatusRetryable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()

			cred := core.Credential{Kind: core.ProviderOpenAI, Key: "oa-key", Model: "m", RPM: 5, BaseURL: server.URL}
			outcome := newTestInvoker(t, cred).Invoke(context.Background(), cred, core.DispatchRequest{Text: "chapter"})
			require.Equal(t, tc.wantKind, outcome.Kind)
			require.Equal(t, tc.want, outcome.Status)
			require.Empty(t, outcome.Output)
		})
	}
}

func TestInvokeNetworkErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	cred := core.Credential{Kind: core.ProviderGemini, Key: "gm-key", Model: "m", RPM: 5, BaseURL: url}
	outcome := newTestInvoker(t, cred).Invoke(context.Background(), cred, core.DispatchRequest{Text: "chapter"})
	require.Equal(t, core.FailureTransient, outcome.Kind)
	require.Equal(t, core.StatusRetryable, outcome.Status)
}

type denyAll struct{}

func (denyAll) TryAdmit(core.Credential) bool { return false }

type allowAll struct{ calls atomic.Int32 }

func (a *allowAll) TryAdmit(core.Credential) bool {
	a.calls.Add(1)
	return true
}

func TestCheckCredential(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.Header.Get("Authorization"), "bad") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"Rain, then a sail."}}]}`))
	}))
	defer server.Close()

	good := core.Credential{Kind: core.ProviderOpenAI, Key: "good-key", Model: "m", RPM: 5, BaseURL: server.URL}
	bad := core.Credential{Kind: core.ProviderOpenAI, Key: "bad-key", Model: "m", RPM: 5, BaseURL: server.URL, Index: 1}
	inv := newTestInvoker(t, good, bad)

	admit := &allowAll{}
	require.Equal(t, ProbeOK, inv.CheckCredential(context.Background(), admit, good).Verdict)
	require.Equal(t, ProbeInvalid, inv.CheckCredential(context.Background(), admit, bad).Verdict)
	require.EqualValues(t, 2, admit.calls.Load())

	skipped := inv.CheckCredential(context.Background(), denyAll{}, good)
	require.Equal(t, ProbeSkipped, skipped.Verdict)
}

func TestLoadPromptPrecedence(t *testing.T) {
	cfg := testConfig()
	p, err := LoadPrompt(cfg)
	require.NoError(t, err)
	require.Equal(t, prompt.DefaultSlug, p.Config.Slug)

	cfg.PromptTemplates = map[string]string{LegacyPromptKey: "Shrink to {min_ratio}%."}
	p, err = LoadPrompt(cfg)
	require.NoError(t, err)
	require.Equal(t, "prompt_templates.novel_condenser", p.Source)

	path := filepath.Join(t.TempDir(), "custom.md")
	require.NoError(t, os.WriteFile(path, []byte("---\nslug: custom\ngeneration:\n  temperature: 0.7\n---\nBe brief.\n"), 0o600))
	cfg.Condense.PromptFile = path
	p, err = LoadPrompt(cfg)
	require.NoError(t, err)
	require.Equal(t, "custom", p.Config.Slug)

	gen := GenerationFromConfig(config.CondenseConfig{Temperature: 0.2, TopP: 0.8}, p)
	require.InDelta(t, 0.7, *gen.Temperature, 1e-9)
	require.InDelta(t, 0.8, *gen.TopP, 1e-9)
	require.Nil(t, gen.TopK)
}

func TestFromConfigWiresEverything(t *testing.T) {
	reg, inv, err := FromConfig(testConfig(), nil)
	require.NoError(t, err)
	require.Equal(t, 3, reg.Len())
	require.Equal(t, prompt.DefaultSlug, inv.Prompt().Config.Slug)
}
