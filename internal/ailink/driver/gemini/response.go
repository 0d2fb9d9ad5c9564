package gemini

import (
	"fmt"
	"strings"
	"time"

	"github.com/novelcondense/novelcondense/internal/ailink/driver"
)

// retryInfoPadding is added to a RetryInfo delay; quota windows tend to reopen
// slightly after the advertised instant.
const retryInfoPadding = 5 * time.Second

type generateResponse struct {
	Candidates     []candidate     `json:"candidates"`
	PromptFeedback *promptFeedback `json:"promptFeedback,omitempty"`
	UsageMetadata  *usageMetadata  `json:"usageMetadata,omitempty"`
}

type candidate struct {
	Content      contentEntry `json:"content"`
	FinishReason string       `json:"finishReason"`
}

type promptFeedback struct {
	BlockReason string `json:"blockReason"`
}

type usageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type errorEnvelope struct {
	Error struct {
		Code    int           `json:"code"`
		Message string        `json:"message"`
		Status  string        `json:"status"`
		Details []errorDetail `json:"details"`
	} `json:"error"`
}

type errorDetail struct {
	Type       string `json:"@type"`
	RetryDelay string `json:"retryDelay"`
}

func (e errorEnvelope) retryDelay() time.Duration {
	for _, detail := range e.Error.Details {
		if !strings.HasSuffix(detail.Type, "google.rpc.RetryInfo") || detail.RetryDelay == "" {
			continue
		}
		delay, err := time.ParseDuration(detail.RetryDelay)
		if err != nil || delay <= 0 {
			continue
		}
		return delay + retryInfoPadding
	}
	return 0
}

func toDriverResponse(resp *generateResponse) (*driver.Response, error) {
	if resp == nil {
		return nil, fmt.Errorf("%w: empty response", driver.ErrMalformedResponse)
	}
	if len(resp.Candidates) == 0 {
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return nil, fmt.Errorf("%w: prompt blocked: %s", driver.ErrMalformedResponse, resp.PromptFeedback.BlockReason)
		}
		return nil, fmt.Errorf("%w: empty candidates", driver.ErrMalformedResponse)
	}

	first := resp.Candidates[0]
	var sb strings.Builder
	for _, p := range first.Content.Parts {
		sb.WriteString(p.Text)
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return nil, fmt.Errorf("%w: empty candidate text (finish reason %q)", driver.ErrMalformedResponse, first.FinishReason)
	}

	out := &driver.Response{Text: text, FinishReason: first.FinishReason}
	if resp.UsageMetadata != nil {
		out.Usage = &driver.Usage{
			PromptTokens:     resp.UsageMetadata.PromptTokenCount,
			CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      resp.UsageMetadata.TotalTokenCount,
		}
	}
	return out, nil
}
