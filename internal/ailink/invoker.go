package ailink

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/novelcondense/novelcondense/internal/ailink/driver"
	"github.com/novelcondense/novelcondense/internal/ailink/prompt"
	"github.com/novelcondense/novelcondense/internal/config"
	"github.com/novelcondense/novelcondense/internal/core"
	"github.com/novelcondense/novelcondense/internal/observability"
)

// LegacyPromptKey is the prompt_templates entry honored from api_keys.json.
const LegacyPromptKey = "novel_condenser"

// Generation holds the sampling parameters sent with every condensation call.
type Generation struct {
	Temperature     *float64
	TopP            *float64
	TopK            *int
	MaxOutputTokens *int
}

// GenerationFromConfig reads sampling parameters from the condense section,
// letting the prompt's own generation block win where it sets a value.
func GenerationFromConfig(cfg config.CondenseConfig, p *prompt.Prompt) Generation {
	gen := Generation{Temperature: driver.Float(cfg.Temperature)}
	if cfg.TopP > 0 {
		gen.TopP = driver.Float(cfg.TopP)
	}
	if cfg.TopK > 0 {
		gen.TopK = driver.Int(cfg.TopK)
	}
	if cfg.MaxOutputTokens > 0 {
		gen.MaxOutputTokens = driver.Int(cfg.MaxOutputTokens)
	}
	if p == nil {
		return gen
	}
	override := p.Config.Generation
	if override.Temperature != nil {
		gen.Temperature = override.Temperature
	}
	if override.TopP != nil {
		gen.TopP = override.TopP
	}
	if override.TopK != nil {
		gen.TopK = override.TopK
	}
	if override.MaxOutputTokens != nil {
		gen.MaxOutputTokens = override.MaxOutputTokens
	}
	return gen
}

// LoadPrompt resolves the condensation prompt: condense.prompt_file first,
// then prompt_templates.novel_condenser, then the embedded default.
func LoadPrompt(cfg *config.Config) (*prompt.Prompt, error) {
	if cfg != nil {
		if path := strings.TrimSpace(cfg.Condense.PromptFile); path != "" {
			return prompt.LoadFile(path)
		}
		if tmpl, ok := cfg.PromptTemplates[LegacyPromptKey]; ok && strings.TrimSpace(tmpl) != "" {
			return prompt.FromTemplate("prompt_templates."+LegacyPromptKey, tmpl)
		}
	}
	return prompt.Default()
}

// Invoker performs one condensation call against a credential and normalizes
// the result into a DispatchOutcome.
type Invoker struct {
	registry   *Registry
	prompt     *prompt.Prompt
	generation Generation
	logger     observability.Logger
	clock      func() time.Time
}

// NewInvoker builds an invoker over the registry's drivers.
func NewInvoker(registry *Registry, p *prompt.Prompt, gen Generation, logger observability.Logger) (*Invoker, error) {
	if registry == nil {
		return nil, fmt.Errorf("ailink registry not configured")
	}
	if p == nil {
		return nil, fmt.Errorf("prompt is required")
	}
	if _, _, err := p.Render("", core.DefaultRatio); err != nil {
		return nil, fmt.Errorf("prompt %s: %w", p.Source, err)
	}
	return &Invoker{
		registry:   registry,
		prompt:     p,
		generation: gen,
		logger:     observability.OrNop(logger),
		clock:      time.Now,
	}, nil
}

// FromConfig wires registry, prompt and generation settings from configuration.
func FromConfig(cfg *config.Config, logger observability.Logger) (*Registry, *Invoker, error) {
	registry, err := Load(cfg)
	if err != nil {
		return nil, nil, err
	}
	p, err := LoadPrompt(cfg)
	if err != nil {
		return nil, nil, err
	}
	inv, err := NewInvoker(registry, p, GenerationFromConfig(cfg.Condense, p), logger)
	if err != nil {
		return nil, nil, err
	}
	return registry, inv, nil
}

// Prompt returns the prompt in use.
func (i *Invoker) Prompt() *prompt.Prompt {
	return i.prompt
}

// Invoke sends req through cred's driver. It blocks until the provider
// answers or the driver's request timeout expires.
func (i *Invoker) Invoke(ctx context.Context, cred core.Credential, req core.DispatchRequest) core.DispatchOutcome {
	started := i.clock()
	outcome := core.DispatchOutcome{
		CorrelationID: req.CorrelationID,
		Credential:    cred.ID(),
		InputChars:    len([]rune(req.Text)),
	}
	finish := func(kind core.FailureKind, hint time.Duration, err error) core.DispatchOutcome {
		outcome.Status = StatusFor(kind)
		outcome.Kind = kind
		outcome.RetryAfter = hint
		outcome.Cause = err
		if err != nil {
			outcome.Error = err.Error()
		}
		outcome.Duration = i.clock().Sub(started)
		return outcome
	}

	drv, err := i.registry.Driver(cred)
	if err != nil {
		return finish(core.FailureCredentialInvalid, 0, err)
	}

	ratio := req.Ratio
	if !ratio.Valid() {
		ratio = core.DefaultRatio
	}
	system, user, err := i.prompt.Render(req.Text, ratio)
	if err != nil {
		return finish(core.FailureMalformedResponse, 0, err)
	}

	dreq := &driver.Request{
		Model: cred.Model,
		Messages: []driver.Message{
			{Role: driver.RoleSystem, Text: system},
			{Role: driver.RoleUser, Text: user},
		},
		Temperature:   i.generation.Temperature,
		TopP:          i.generation.TopP,
		TopK:          i.generation.TopK,
		MaxTokens:     i.generation.MaxOutputTokens,
		CorrelationID: req.CorrelationID,
	}

	resp, err := drv.Complete(ctx, dreq)
	if err != nil {
		kind, hint := Classify(err)
		i.logger.Debug("Provider call failed",
			zap.String("credential", cred.ID()),
			zap.String("kind", string(kind)),
			zap.Duration("retry_after", hint),
			zap.Error(err))
		return finish(kind, hint, err)
	}

	text := ""
	if resp != nil {
		text = strings.TrimSpace(resp.Text)
	}
	if text == "" {
		return finish(core.FailureMalformedResponse, 0, fmt.Errorf("%w: empty text", driver.ErrMalformedResponse))
	}

	outcome.Output = text
	outcome.OutputChars = len([]rune(text))
	return finish(core.FailureNone, 0, nil)
}
