// Package config provides configuration loading for novelcondense.
// Values come from, in increasing precedence: built-in defaults, the first
// config file found, NOVELCONDENSE_* environment variables, and flags bound by
// the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/novelcondense/novelcondense/internal/core"
)

const (
	// AppName names the binary, config directory and database file.
	AppName = "novelcondense"
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "NOVELCONDENSE"
	// LegacyConfigFile is the original tool's credential file name.
	LegacyConfigFile = "api_keys.json"

	defaultGeminiModel = "gemini-2.0-flash"
	defaultOpenAIModel = "gpt-4o-mini"
)

var (
	appConfig *Config
	configMu  sync.RWMutex
)

// NewViper prepares a viper instance with defaults, search paths and env
// bindings, then reads the first config file found. A missing config file is
// not an error; an explicit configFile that cannot be read is.
func NewViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if strings.TrimSpace(configFile) != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
		return v, nil
	}

	v.SetConfigName("config")
	if dir := gfconfig.GetAppConfigDir(AppName); strings.TrimSpace(dir) != "" {
		v.AddConfigPath(dir)
	}
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		for _, legacy := range []string{LegacyConfigFile, filepath.Join("config", LegacyConfigFile)} {
			if _, statErr := os.Stat(legacy); statErr != nil {
				continue
			}
			v.SetConfigFile(legacy)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config %s: %w", legacy, err)
			}
			break
		}
	}
	return v, nil
}

// SetDefaults registers every default value.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("max_rpm", 20)
	v.SetDefault("rate_limit_margin", 1.0)

	v.SetDefault("dispatch.max_retries", 3)
	v.SetDefault("dispatch.max_wait", "30s")
	v.SetDefault("dispatch.request_timeout", "60s")
	v.SetDefault("dispatch.failure_limit", 20)
	v.SetDefault("dispatch.backoff.rate_limited_base", "2s")
	v.SetDefault("dispatch.backoff.transient_base", "1s")
	v.SetDefault("dispatch.backoff.malformed_base", "1s")
	v.SetDefault("dispatch.backoff.factor", 2.0)
	v.SetDefault("dispatch.backoff.cap", "60s")

	v.SetDefault("condense.min_ratio", 30)
	v.SetDefault("condense.max_ratio", 50)
	v.SetDefault("condense.ratio_tolerance", 5)
	v.SetDefault("condense.min_length", 100)
	v.SetDefault("condense.skip_existing", 300)
	v.SetDefault("condense.output_dir", "")
	v.SetDefault("condense.workers", 0)
	v.SetDefault("condense.temperature", 0.2)
	v.SetDefault("condense.top_p", 0.8)
	v.SetDefault("condense.top_k", 40)
	v.SetDefault("condense.max_output_tokens", 8192)
	v.SetDefault("condense.prompt_file", "")

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "180s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("store.driver", "libsql")
	v.SetDefault("store.path", "")
	v.SetDefault("store.url", "")
	v.SetDefault("store.auth_token", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "SIMPLE")
	v.SetDefault("metrics.enabled", true)
}

// Load decodes and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	if v == nil {
		return nil, fmt.Errorf("viper instance is required")
	}
	cfg, err := Decode(v.AllSettings())
	if err != nil {
		return nil, err
	}
	setConfig(cfg)
	return cfg, nil
}

// Decode converts a settings map into a validated Config.
func Decode(settings map[string]any) (*Config, error) {
	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			mapstructure.StringToFloat64HookFunc(),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(settings); err != nil {
		return nil, &ConfigError{Problems: []string{fmt.Sprintf("decode: %v", err)}}
	}

	cfg.applyLegacy()
	applyEnvCredentials(cfg)

	if strings.TrimSpace(cfg.Store.URL) == "" && strings.TrimSpace(cfg.Store.Path) == "" {
		cfg.Store.Path = DefaultStorePath()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks credential entries, limits and ratios. It returns a
// *ConfigError listing every problem.
func (c *Config) Validate() error {
	problems := &ConfigError{}

	seen := make(map[string]string)
	sections := []struct {
		name    string
		kind    core.ProviderKind
		entries []CredentialConfig
	}{
		{"gemini_api", core.ProviderGemini, c.GeminiAPI},
		{"openai_api", core.ProviderOpenAI, c.OpenAIAPI},
	}
	for _, section := range sections {
		// Dispatch state is keyed by kind and label (or index when unlabeled).
		names := make(map[string]string, len(section.entries))
		for i, entry := range section.entries {
			where := fmt.Sprintf("%s[%d]", section.name, i)
			name := strings.TrimSpace(entry.Label)
			if name == "" {
				name = strconv.Itoa(i)
			}
			if prev, ok := names[name]; ok {
				problems.add("%s: label %q collides with %s", where, name, prev)
			} else {
				names[name] = where
			}
			if strings.TrimSpace(entry.Key) == "" {
				problems.add("%s: key is required", where)
			}
			if strings.TrimSpace(entry.Model) == "" {
				problems.add("%s: model is required", where)
			}
			if entry.RPM != nil && *entry.RPM <= 0 {
				problems.add("%s: rpm must be positive, got %d", where, *entry.RPM)
			}
			identity := string(section.kind) + "\x00" + strings.TrimSpace(entry.Key) + "\x00" + strings.TrimSpace(entry.Model)
			if prev, ok := seen[identity]; ok && strings.TrimSpace(entry.Key) != "" {
				problems.add("%s: duplicates %s (same key and model)", where, prev)
			} else {
				seen[identity] = where
			}
		}
	}

	if c.MaxRPM <= 0 {
		problems.add("max_rpm must be positive, got %d", c.MaxRPM)
	}

	if preferred := strings.TrimSpace(c.PreferredAPI); preferred != "" {
		kind, err := core.ParseProviderKind(preferred)
		switch {
		case err != nil:
			problems.add("preferred_api: %v", err)
		case len(c.entriesFor(kind)) == 0:
			problems.add("preferred_api %q has no configured credentials", preferred)
		}
	}

	ratio := c.Ratio()
	if !ratio.Valid() {
		problems.add("condense ratio range %.0f-%.0f is invalid", ratio.Min, ratio.Max)
	}
	if c.Condense.RatioTolerance < 0 {
		problems.add("condense.ratio_tolerance must not be negative")
	}
	if c.RateLimitMargin < 0 || c.RateLimitMargin > 1 {
		problems.add("rate_limit_margin must be within (0,1], got %g", c.RateLimitMargin)
	}
	if c.Dispatch.Backoff.Factor != 0 && c.Dispatch.Backoff.Factor < 1 {
		problems.add("dispatch.backoff.factor must be at least 1")
	}

	return problems.orNil()
}

// Ratio returns the configured target compression range.
func (c *Config) Ratio() core.RatioRange {
	return core.RatioRange{Min: c.Condense.MinRatio, Max: c.Condense.MaxRatio}
}

// Preferred returns the parsed preferred provider kind, or "" when unset.
func (c *Config) Preferred() core.ProviderKind {
	kind, err := core.ParseProviderKind(c.PreferredAPI)
	if err != nil {
		return ""
	}
	return kind
}

// CredentialCount returns the number of configured credentials.
func (c *Config) CredentialCount() int {
	return len(c.GeminiAPI) + len(c.OpenAIAPI)
}

func (c *Config) entriesFor(kind core.ProviderKind) []CredentialConfig {
	switch kind {
	case core.ProviderGemini:
		return c.GeminiAPI
	case core.ProviderOpenAI:
		return c.OpenAIAPI
	default:
		return nil
	}
}

// Entries returns the credential entries for kind in configuration order.
func (c *Config) Entries(kind core.ProviderKind) []CredentialConfig {
	return c.entriesFor(kind)
}

// applyLegacy folds api_keys.json field names into their current homes.
func (c *Config) applyLegacy() {
	for _, entries := range [][]CredentialConfig{c.GeminiAPI, c.OpenAIAPI} {
		for i := range entries {
			if strings.TrimSpace(entries[i].BaseURL) == "" {
				entries[i].BaseURL = strings.TrimSpace(entries[i].RedirectURL)
			}
		}
	}
	if c.MinCondensationRatio > 0 {
		c.Condense.MinRatio = c.MinCondensationRatio
	}
	if c.MaxCondensationRatio > 0 {
		c.Condense.MaxRatio = c.MaxCondensationRatio
	}
}

// applyEnvCredentials appends a credential per provider from
// NOVELCONDENSE_GEMINI_KEY / NOVELCONDENSE_OPENAI_KEY when set.
func applyEnvCredentials(cfg *Config) {
	prefix := EnvPrefix + "_"
	if key := strings.TrimSpace(os.Getenv(prefix + "GEMINI_KEY")); key != "" {
		cfg.GeminiAPI = append(cfg.GeminiAPI, CredentialConfig{
			Key:     key,
			Model:   envOr(prefix+"GEMINI_MODEL", defaultGeminiModel),
			BaseURL: strings.TrimSpace(os.Getenv(prefix + "GEMINI_BASE_URL")),
			Label:   "env",
		})
	}
	if key := strings.TrimSpace(os.Getenv(prefix + "OPENAI_KEY")); key != "" {
		cfg.OpenAIAPI = append(cfg.OpenAIAPI, CredentialConfig{
			Key:     key,
			Model:   envOr(prefix+"OPENAI_MODEL", defaultOpenAIModel),
			BaseURL: strings.TrimSpace(os.Getenv(prefix + "OPENAI_BASE_URL")),
			Label:   "env",
		})
	}
}

func envOr(name, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(name)); value != "" {
		return value
	}
	return fallback
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// setConfig updates the current configuration (thread-safe)
func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configDir := gfconfig.GetAppConfigDir(AppName)
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}

// DefaultStorePath returns the XDG-compliant path to the database file.
func DefaultStorePath() string {
	dataDir := gfconfig.GetAppDataDir(AppName)
	if strings.TrimSpace(dataDir) == "" {
		return "./" + AppName + ".db"
	}
	return filepath.Join(dataDir, AppName+".db")
}
