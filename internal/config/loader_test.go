package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/novelcondense/novelcondense/internal/core"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func defaultSettings(t *testing.T) map[string]any {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	return v.AllSettings()
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	path := writeFile(t, t.TempDir(), "config.yaml", `
gemini_api:
  - key: gm-1
    model: gemini-2.0-flash
`)

	v, err := NewViper(path)
	require.NoError(t, err)
	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, 20, cfg.MaxRPM)
	assert.Equal(t, 3, cfg.Dispatch.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.Dispatch.MaxWait)
	assert.Equal(t, 60*time.Second, cfg.Dispatch.RequestTimeout)
	assert.Equal(t, 2*time.Second, cfg.Dispatch.Backoff.RateLimitedBase)
	assert.Equal(t, time.Second, cfg.Dispatch.Backoff.TransientBase)
	assert.Equal(t, 2.0, cfg.Dispatch.Backoff.Factor)
	assert.Equal(t, 60*time.Second, cfg.Dispatch.Backoff.Cap)
	assert.Equal(t, core.RatioRange{Min: 30, Max: 50}, cfg.Ratio())
	assert.Equal(t, 100, cfg.Condense.MinLength)
	assert.Equal(t, 8192, cfg.Condense.MaxOutputTokens)
	assert.Equal(t, "libsql", cfg.Store.Driver)
	assert.NotEmpty(t, cfg.Store.Path)
	assert.Equal(t, 8080, cfg.Server.Port)

	require.Len(t, cfg.GeminiAPI, 1)
	assert.Nil(t, cfg.GeminiAPI[0].RPM)
	assert.Same(t, cfg, GetConfig())
}

func TestLoadLegacyJSONFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "api_keys.json", `{
  "gemini_api": [
    {"key": "gm-1", "redirect_url": "https://proxy.example/v1beta/models", "model": "gemini-2.0-flash", "rpm": 10},
    {"key": "gm-2", "model": "gemini-2.0-flash", "rpm": 5}
  ],
  "openai_api": [
    {"key": "oa-1", "redirect_url": "https://api.deepseek.com/v1/chat/completions", "model": "deepseek-chat", "rpm": 10, "provider": "deepseek"}
  ],
  "max_rpm": 12,
  "min_condensation_ratio": 25,
  "max_condensation_ratio": 45,
  "preferred_api": "openai"
}`)

	v, err := NewViper(path)
	require.NoError(t, err)
	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, 12, cfg.MaxRPM)
	assert.Equal(t, core.ProviderOpenAI, cfg.Preferred())
	assert.Equal(t, core.RatioRange{Min: 25, Max: 45}, cfg.Ratio())
	require.Len(t, cfg.GeminiAPI, 2)
	assert.Equal(t, "https://proxy.example/v1beta/models", cfg.GeminiAPI[0].BaseURL)
	require.NotNil(t, cfg.GeminiAPI[0].RPM)
	assert.Equal(t, 10, *cfg.GeminiAPI[0].RPM)
	assert.Equal(t, "deepseek", cfg.OpenAIAPI[0].Provider)
	assert.Equal(t, 3, cfg.CredentialCount())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("NOVELCONDENSE_MAX_RPM", "7")
	t.Setenv("NOVELCONDENSE_GEMINI_KEY", "from-env")
	path := writeFile(t, t.TempDir(), "config.yaml", "max_rpm: 30\n")

	v, err := NewViper(path)
	require.NoError(t, err)
	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.MaxRPM)
	require.Len(t, cfg.GeminiAPI, 1)
	assert.Equal(t, "from-env", cfg.GeminiAPI[0].Key)
	assert.Equal(t, defaultGeminiModel, cfg.GeminiAPI[0].Model)
	assert.Equal(t, "env", cfg.GeminiAPI[0].Label)
}

func TestNewViperMissingExplicitFile(t *testing.T) {
	_, err := NewViper(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidateReportsEveryProblem(t *testing.T) {
	settings := defaultSettings(t)
	settings["max_rpm"] = 0
	settings["preferred_api"] = "gemini"
	settings["openai_api"] = []any{
		map[string]any{"key": "", "model": "gpt-4o-mini"},
		map[string]any{"key": "oa-1", "model": ""},
		map[string]any{"key": "oa-2", "model": "gpt-4o-mini", "rpm": -1},
		map[string]any{"key": "oa-2", "model": "gpt-4o-mini"},
	}

	_, err := Decode(settings)
	require.Error(t, err)

	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	require.Len(t, cfgErr.Problems, 6)
	require.Contains(t, err.Error(), "openai_api[0]: key is required")
	require.Contains(t, err.Error(), "openai_api[1]: model is required")
	require.Contains(t, err.Error(), "openai_api[2]: rpm must be positive")
	require.Contains(t, err.Error(), "openai_api[3]: duplicates openai_api[2]")
	require.Contains(t, err.Error(), "max_rpm must be positive")
	require.Contains(t, err.Error(), `preferred_api "gemini" has no configured credentials`)
}

func TestValidateCases(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(map[string]any)
		wantErr string
	}{
		{
			name:   "no credentials is allowed",
			mutate: func(map[string]any) {},
		},
		{
			name:    "unknown preferred api",
			mutate:  func(s map[string]any) { s["preferred_api"] = "claude" },
			wantErr: "unknown provider kind",
		},
		{
			name: "same key different model is distinct",
			mutate: func(s map[string]any) {
				s["gemini_api"] = []any{
					map[string]any{"key": "k", "model": "gemini-2.0-flash"},
					map[string]any{"key": "k", "model": "gemini-1.5-pro"},
				}
			},
		},
		{
			name: "same key across kinds is distinct",
			mutate: func(s map[string]any) {
				s["gemini_api"] = []any{map[string]any{"key": "k", "model": "m"}}
				s["openai_api"] = []any{map[string]any{"key": "k", "model": "m"}}
			},
		},
		{
			name: "inverted ratio",
			mutate: func(s map[string]any) {
				s["condense"].(map[string]any)["min_ratio"] = 60
			},
			wantErr: "ratio range",
		},
		{
			name: "duplicate labels within a kind",
			mutate: func(s map[string]any) {
				s["gemini_api"] = []any{
					map[string]any{"key": "k1", "model": "m", "label": "free"},
					map[string]any{"key": "k2", "model": "m", "label": "free"},
				}
			},
			wantErr: `gemini_api[1]: label "free" collides with gemini_api[0]`,
		},
		{
			name: "label shadowing an unlabeled index",
			mutate: func(s map[string]any) {
				s["openai_api"] = []any{
					map[string]any{"key": "k1", "model": "m", "label": "1"},
					map[string]any{"key": "k2", "model": "m"},
				}
			},
			wantErr: `openai_api[1]: label "1" collides with openai_api[0]`,
		},
		{
			name: "same label across kinds is distinct",
			mutate: func(s map[string]any) {
				s["gemini_api"] = []any{map[string]any{"key": "k1", "model": "m", "label": "free"}}
				s["openai_api"] = []any{map[string]any{"key": "k2", "model": "m", "label": "free"}}
			},
		},
		{
			name:    "margin above one",
			mutate:  func(s map[string]any) { s["rate_limit_margin"] = 1.5 },
			wantErr: "rate_limit_margin",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			settings := defaultSettings(t)
			tc.mutate(settings)
			_, err := Decode(settings)
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
