package cmd

import (
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/novelcondense/novelcondense/internal/ailink/driver"
	"github.com/novelcondense/novelcondense/internal/config"
	"github.com/novelcondense/novelcondense/internal/observability"
)

var (
	cfgFile   string
	verbose   bool
	traceFile string

	appViper     *viper.Viper
	appConfig    *config.Config
	traceCleanup func()

	// Version info set by main package
	versionInfo struct {
		Version   string
		Commit    string
		BuildDate string
	}
)

// flagBinding maps a command flag onto a config key. Bindings are applied
// once the viper instance exists, so flags outrank file and env values.
type flagBinding struct {
	key  string
	cmd  *cobra.Command
	flag string
}

var flagBindings []flagBinding

func bindFlag(key string, cmd *cobra.Command, flag string) {
	flagBindings = append(flagBindings, flagBinding{key: key, cmd: cmd, flag: flag})
}

// SetVersionInfo is called by main package to set version information
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   config.AppName,
	Short: "Condense novel chapters through rate-limited LLM credentials",
	Long: `novelcondense shortens novel chapters to a target share of their length
using a pool of Gemini and OpenAI-compatible API keys. Requests are spread
across keys within each key's per-minute limit and a global limit, and fail
over to the next key on rate limits, timeouts and bad responses.

Use the subcommands to perform specific operations.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	defer func() {
		if traceCleanup != nil {
			traceCleanup()
		}
	}()
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", fmt.Sprintf("config file (default is %s, then ./%s)", config.DefaultConfigPath(), config.LegacyConfigFile))
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (sets log level to debug)")
	rootCmd.PersistentFlags().StringVar(&traceFile, "trace", "", "trace provider requests/responses to NDJSON file")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	v, err := config.NewViper(cfgFile)
	if err != nil {
		ExitWithCodeStderr(foundry.ExitConfigInvalid, "Failed to read configuration", err)
	}
	for _, b := range flagBindings {
		if f := b.cmd.Flags().Lookup(b.flag); f != nil {
			_ = v.BindPFlag(b.key, f)
		}
	}

	cfg, err := config.Load(v)
	if err != nil {
		ExitWithCodeStderr(foundry.ExitConfigInvalid, "Invalid configuration", err)
	}
	appViper = v
	appConfig = cfg

	observability.InitCLILogger(config.AppName, verbose, cfg.Logging.Level)
	if used := v.ConfigFileUsed(); used != "" {
		observability.CLILogger.Debug("Using config file", zap.String("path", used))
	} else {
		observability.CLILogger.Debug("No config file found, using defaults and environment variables")
	}

	if traceFile != "" {
		cleanup, err := driver.EnableTracing(traceFile)
		if err != nil {
			observability.CLILogger.Warn("Failed to enable tracing", zap.Error(err))
		} else {
			observability.CLILogger.Debug("Provider tracing enabled", zap.String("file", traceFile))
			traceCleanup = cleanup
		}
	}
}

// requireCredentials exits with a config error when no key is configured.
func requireCredentials(cfg *config.Config) {
	if cfg.CredentialCount() > 0 {
		return
	}
	ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid,
		"No API credentials configured",
		fmt.Errorf("add gemini_api or openai_api entries to %s, or set %s_GEMINI_KEY", config.DefaultConfigPath(), config.EnvPrefix))
}

