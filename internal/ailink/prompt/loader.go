package prompt

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load parses and validates a prompt definition from YAML bytes.
func Load(source string, data []byte) (*Prompt, error) {
	config, body, err := parseYAMLWithFrontmatter(data)
	if err != nil {
		return nil, fmt.Errorf("parse prompt %s: %w", source, err)
	}

	if strings.TrimSpace(config.SystemTemplate) == "" {
		config.SystemTemplate = strings.TrimSpace(body)
	}

	if strings.TrimSpace(config.SystemTemplate) == "" {
		return nil, fmt.Errorf("prompt %s missing system_template", source)
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("validate prompt %s: %w", source, err)
	}

	return &Prompt{Config: config, Source: source}, nil
}

// LoadFile reads a prompt file (.md with YAML frontmatter, or plain YAML).
func LoadFile(path string) (*Prompt, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- Prompt path is user-provided
	if err != nil {
		return nil, fmt.Errorf("read prompt %s: %w", path, err)
	}
	return Load(path, data)
}

func parseYAMLWithFrontmatter(data []byte) (Config, string, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return Config{}, "", fmt.Errorf("empty prompt")
	}

	lines := bufio.NewScanner(bytes.NewReader(trimmed))
	lines.Split(bufio.ScanLines)

	var (
		frontmatter []string
		body        []string
		inFront     bool
		headerSeen  bool
	)

	for lines.Scan() {
		line := lines.Text()
		switch {
		case !headerSeen && strings.TrimSpace(line) == "---":
			headerSeen = true
			inFront = true
		case headerSeen && inFront && strings.TrimSpace(line) == "---":
			inFront = false
		default:
			if inFront {
				frontmatter = append(frontmatter, line)
			} else {
				body = append(body, line)
			}
		}
	}
	if err := lines.Err(); err != nil {
		return Config{}, "", err
	}

	var cfg Config
	if headerSeen {
		if err := yaml.Unmarshal([]byte(strings.Join(frontmatter, "\n")), &cfg); err != nil {
			return Config{}, "", fmt.Errorf("invalid frontmatter: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(trimmed, &cfg); err != nil {
			return Config{}, "", fmt.Errorf("invalid yaml: %w", err)
		}
	}

	return cfg, strings.Join(body, "\n"), nil
}

func validateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.Slug) == "" {
		return fmt.Errorf("slug is required")
	}
	gen := cfg.Generation
	if gen.Temperature != nil && (*gen.Temperature < 0 || *gen.Temperature > 2) {
		return fmt.Errorf("generation.temperature must be within [0, 2]")
	}
	if gen.TopP != nil && (*gen.TopP <= 0 || *gen.TopP > 1) {
		return fmt.Errorf("generation.top_p must be within (0, 1]")
	}
	if gen.TopK != nil && *gen.TopK <= 0 {
		return fmt.Errorf("generation.top_k must be positive")
	}
	if gen.MaxOutputTokens != nil && *gen.MaxOutputTokens <= 0 {
		return fmt.Errorf("generation.max_output_tokens must be positive")
	}
	return nil
}
