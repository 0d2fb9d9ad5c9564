package prompt

import (
	"embed"
	"fmt"
	"strings"
)

//go:embed prompts/*.md
var defaultPromptsFS embed.FS

// DefaultSlug names the embedded condensation prompt.
const DefaultSlug = "novel-condenser"

// Default loads the embedded condensation prompt.
func Default() (*Prompt, error) {
	name := "prompts/" + DefaultSlug + ".md"
	data, err := defaultPromptsFS.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read embedded prompt %s: %w", name, err)
	}
	return Load(name, data)
}

// FromTemplate builds a prompt from a bare system template, as found under
// prompt_templates.novel_condenser in legacy configuration files.
func FromTemplate(source, template string) (*Prompt, error) {
	if strings.TrimSpace(template) == "" {
		return nil, fmt.Errorf("prompt %s is empty", source)
	}
	return &Prompt{
		Config: Config{Slug: DefaultSlug, SystemTemplate: template, UserTemplate: "{{input}}"},
		Source: source,
	}, nil
}
