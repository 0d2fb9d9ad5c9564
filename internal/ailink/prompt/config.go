package prompt

// Config describes a prompt definition loaded from YAML.
type Config struct {
	Slug           string     `yaml:"slug" json:"slug"`
	Name           string     `yaml:"name,omitempty" json:"name,omitempty"`
	Description    string     `yaml:"description,omitempty" json:"description,omitempty"`
	Version        string     `yaml:"version,omitempty" json:"version,omitempty"`
	Updated        string     `yaml:"updated,omitempty" json:"updated,omitempty"`
	SystemTemplate string     `yaml:"system_template,omitempty" json:"system_template,omitempty"`
	UserTemplate   string     `yaml:"user_template,omitempty" json:"user_template,omitempty"`
	Generation     Generation `yaml:"generation,omitempty" json:"generation,omitempty"`
}

// Generation holds optional sampling overrides carried by a prompt file.
// Unset fields fall back to the condense configuration.
type Generation struct {
	Temperature     *float64 `yaml:"temperature,omitempty" json:"temperature,omitempty"`
	TopP            *float64 `yaml:"top_p,omitempty" json:"top_p,omitempty"`
	TopK            *int     `yaml:"top_k,omitempty" json:"top_k,omitempty"`
	MaxOutputTokens *int     `yaml:"max_output_tokens,omitempty" json:"max_output_tokens,omitempty"`
}

// Prompt wraps a validated prompt configuration with its source.
type Prompt struct {
	Config Config
	Source string
}
