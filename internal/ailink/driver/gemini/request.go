package gemini

import (
	"fmt"
	"strings"

	"github.com/novelcondense/novelcondense/internal/ailink/driver"
)

type generateRequest struct {
	Contents         []contentEntry    `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type contentEntry struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	TopK             *int     `json:"topK,omitempty"`
	TopP             *float64 `json:"topP,omitempty"`
	MaxOutputTokens  *int     `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string   `json:"responseMimeType,omitempty"`
}

// buildGenerateRequest sends the instruction and the text as two parts of one
// user turn, which every Gemini model accepts.
func buildGenerateRequest(req *driver.Request) (*generateRequest, error) {
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}
	if strings.TrimSpace(req.Model) == "" {
		return nil, fmt.Errorf("model is required")
	}

	var parts []part
	if system := req.SystemText(); system != "" {
		parts = append(parts, part{Text: system})
	}
	if user := req.UserText(); user != "" {
		parts = append(parts, part{Text: user})
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("messages are required")
	}

	return &generateRequest{
		Contents: []contentEntry{{Role: "user", Parts: parts}},
		GenerationConfig: &generationConfig{
			Temperature:      req.Temperature,
			TopK:             req.TopK,
			TopP:             req.TopP,
			MaxOutputTokens:  req.MaxTokens,
			ResponseMimeType: "text/plain",
		},
	}, nil
}
