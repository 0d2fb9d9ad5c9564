package config

import (
	"time"
)

// Config represents the complete application configuration.
//
// The credential section mirrors the original api_keys.json document so an
// existing file loads unchanged.
type Config struct {
	GeminiAPI       []CredentialConfig `mapstructure:"gemini_api"`
	OpenAIAPI       []CredentialConfig `mapstructure:"openai_api"`
	MaxRPM          int                `mapstructure:"max_rpm"`
	PreferredAPI    string             `mapstructure:"preferred_api"`
	RateLimitMargin float64            `mapstructure:"rate_limit_margin"`

	Dispatch DispatchConfig `mapstructure:"dispatch"`
	Condense CondenseConfig `mapstructure:"condense"`
	Server   ServerConfig   `mapstructure:"server"`
	Store    StoreConfig    `mapstructure:"store"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`

	// Legacy top-level ratio keys from api_keys.json.
	MinCondensationRatio float64 `mapstructure:"min_condensation_ratio"`
	MaxCondensationRatio float64 `mapstructure:"max_condensation_ratio"`

	PromptTemplates map[string]string `mapstructure:"prompt_templates"`
}

// CredentialConfig is one entry of gemini_api or openai_api.
type CredentialConfig struct {
	Key   string `mapstructure:"key"`
	Model string `mapstructure:"model"`
	// RPM is nil when the entry omits it; the default then applies.
	RPM      *int   `mapstructure:"rpm"`
	BaseURL  string `mapstructure:"base_url"`
	Provider string `mapstructure:"provider"`
	Label    string `mapstructure:"label"`
	// RedirectURL is the original file's name for base_url.
	RedirectURL string `mapstructure:"redirect_url"`
}

// DispatchConfig tunes retries, waiting and cooldowns.
type DispatchConfig struct {
	MaxRetries     int           `mapstructure:"max_retries"`
	MaxWait        time.Duration `mapstructure:"max_wait"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	FailureLimit   int           `mapstructure:"failure_limit"`
	Backoff        BackoffConfig `mapstructure:"backoff"`
}

// BackoffConfig configures credential cooldowns after retryable failures.
type BackoffConfig struct {
	RateLimitedBase time.Duration `mapstructure:"rate_limited_base"`
	TransientBase   time.Duration `mapstructure:"transient_base"`
	MalformedBase   time.Duration `mapstructure:"malformed_base"`
	Factor          float64       `mapstructure:"factor"`
	Cap             time.Duration `mapstructure:"cap"`
}

// CondenseConfig contains chapter processing settings.
type CondenseConfig struct {
	MinRatio        float64 `mapstructure:"min_ratio"`
	MaxRatio        float64 `mapstructure:"max_ratio"`
	RatioTolerance  float64 `mapstructure:"ratio_tolerance"`
	MinLength       int     `mapstructure:"min_length"`
	SkipExisting    int     `mapstructure:"skip_existing"`
	OutputDir       string  `mapstructure:"output_dir"`
	Workers         int     `mapstructure:"workers"`
	Temperature     float64 `mapstructure:"temperature"`
	TopP            float64 `mapstructure:"top_p"`
	TopK            int     `mapstructure:"top_k"`
	MaxOutputTokens int     `mapstructure:"max_output_tokens"`
	PromptFile      string  `mapstructure:"prompt_file"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StoreConfig contains database configuration for libsql/Turso
type StoreConfig struct {
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level"`

	// Profile selects the logging complexity level
	// Valid values: SIMPLE, STRUCTURED
	Profile string `mapstructure:"profile"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}
