package prompt

import (
	"errors"
	"strconv"
	"strings"

	"github.com/novelcondense/novelcondense/internal/core"
)

// Render fills the prompt templates for one chapter.
//
// Placeholders use {{name}}; the single-brace {name} form of legacy
// configuration files is accepted too. Known variables are input, min_ratio
// and max_ratio.
func (p *Prompt) Render(text string, ratio core.RatioRange) (string, string, error) {
	if p == nil {
		return "", "", errors.New("prompt is required")
	}
	vars := map[string]string{
		"input":     text,
		"min_ratio": formatPercent(ratio.Min),
		"max_ratio": formatPercent(ratio.Max),
	}

	system := applyVars(p.Config.SystemTemplate, vars)
	if strings.TrimSpace(system) == "" {
		return "", "", errors.New("system prompt is required")
	}

	user := p.Config.UserTemplate
	if strings.TrimSpace(user) == "" {
		user = "{{input}}"
	}
	return system, applyVars(user, vars), nil
}

func applyVars(template string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*4)
	for key, value := range vars {
		pairs = append(pairs, "{{"+key+"}}", value, "{"+key+"}", value)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

func formatPercent(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
