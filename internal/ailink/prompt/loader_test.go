package prompt

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/novelcondense/novelcondense/internal/core"
)

func TestDefaultPrompt(t *testing.T) {
	p, err := Default()
	require.NoError(t, err)
	require.Equal(t, DefaultSlug, p.Config.Slug)
	require.Contains(t, p.Config.SystemTemplate, "{{min_ratio}}")

	system, user, err := p.Render("chapter text", core.RatioRange{Min: 30, Max: 50})
	require.NoError(t, err)
	require.Contains(t, system, "30%-50%")
	require.NotContains(t, system, "{{")
	require.Equal(t, "chapter text", user)
}

func TestLoadFrontmatterWithGeneration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.md")
	require.NoError(t, os.WriteFile(path, []byte(`---
slug: custom
generation:
  temperature: 0.4
  top_k: 20
---
Shorten to {{max_ratio}} percent.
`), 0o600))

	p, err := LoadFile(path)
	require.NoError(t, err)
	require.NotNil(t, p.Config.Generation.Temperature)
	require.InDelta(t, 0.4, *p.Config.Generation.Temperature, 1e-9)
	require.Equal(t, 20, *p.Config.Generation.TopK)
	require.Nil(t, p.Config.Generation.TopP)

	system, _, err := p.Render("x", core.RatioRange{Min: 25, Max: 42.5})
	require.NoError(t, err)
	require.Equal(t, "Shorten to 42.5 percent.", system)
}

func TestLoadPlainYAML(t *testing.T) {
	p, err := Load("inline.yaml", []byte("slug: plain\nsystem_template: condense\nuser_template: \"Chapter:\\n{{input}}\"\n"))
	require.NoError(t, err)
	_, user, err := p.Render("body", core.DefaultRatio)
	require.NoError(t, err)
	require.Equal(t, "Chapter:\nbody", user)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"empty":           "   ",
		"no system":       "---\nslug: a\n---\n",
		"no slug":         "system_template: x\n",
		"bad top_p":       "slug: a\nsystem_template: x\ngeneration:\n  top_p: 1.5\n",
		"bad frontmatter": "---\nslug: [\n---\nbody\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(name, []byte(body))
			require.Error(t, err)
		})
	}
}

func TestFromTemplateLegacyPlaceholders(t *testing.T) {
	p, err := FromTemplate("prompt_templates.novel_condenser", "Condense to {min_ratio}%-{max_ratio}%.")
	require.NoError(t, err)
	system, user, err := p.Render("text", core.RatioRange{Min: 30, Max: 50})
	require.NoError(t, err)
	require.Equal(t, "Condense to 30%-50%.", system)
	require.Equal(t, "text", user)

	_, err = FromTemplate("x", " ")
	require.Error(t, err)
}
