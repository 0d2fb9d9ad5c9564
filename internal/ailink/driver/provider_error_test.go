package driver

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	require.Equal(t, 30*time.Second, ParseRetryAfter("30", now))
	require.Zero(t, ParseRetryAfter("", now))
	require.Zero(t, ParseRetryAfter("-5", now))
	require.Zero(t, ParseRetryAfter("soon", now))
	require.Equal(t, 90*time.Second, ParseRetryAfter(now.Add(90*time.Second).Format(httpTimeFormat), now))
	require.Zero(t, ParseRetryAfter(now.Add(-time.Minute).Format(httpTimeFormat), now))
}

const httpTimeFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

func TestProviderErrorMessage(t *testing.T) {
	err := &ProviderError{Provider: "gemini", StatusCode: 429, Message: "quota"}
	require.Equal(t, "gemini request failed: status 429: quota", err.Error())

	var nilErr *ProviderError
	require.Equal(t, "provider error", nilErr.Error())
}

func TestRequestRoleText(t *testing.T) {
	req := &Request{Messages: []Message{
		{Role: RoleSystem, Text: "a"},
		{Role: RoleUser, Text: "b"},
		{Role: RoleSystem, Text: "c"},
	}}
	require.Equal(t, "a\n\nc", req.SystemText())
	require.Equal(t, "b", req.UserText())
}

func TestTraceCallWritesNDJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.ndjson")
	cleanup, err := EnableTracing(path)
	require.NoError(t, err)

	TraceCall("openai", "http://x/chat/completions", "m", "ch-1", []byte(`{"a":1}`), []byte("not json"), 200, nil, time.Now())
	TraceCall("gemini", "http://x/m:generateContent", "m", "ch-2", nil, nil, 0, errors.New("dial failed"), time.Now())
	cleanup()
	require.False(t, IsTracingEnabled())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var first TraceEntry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.Equal(t, "ch-1", first.CorrelationID)
	require.JSONEq(t, `"not json"`, string(first.Response))

	var second TraceEntry
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	require.Equal(t, "dial failed", second.Error)
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	require.Equal(t, "short", Truncate("  short  ", 10))
	require.Equal(t, "abc...", Truncate("abcdef", 3))

	// Each character is three bytes; a cut at 4 must back up to 3.
	body := "配额已用尽，请稍后再试"
	got := Truncate(body, 4)
	require.Equal(t, "配...", got)
	require.True(t, utf8.ValidString(got))
	require.True(t, utf8.ValidString(Truncate(body, 5)))
}
