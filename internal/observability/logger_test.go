package observability

import (
	"testing"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/fulmenhq/gofulmen/logging"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInitCLILogger(t *testing.T) {
	InitCLILogger("novelcondense-test", false)
	require.NotNil(t, CLILogger)
	CLILogger.Info("cli logger ready", zap.String("test", "value"))

	InitCLILogger("novelcondense-test", true)
	require.NotNil(t, CLILogger)
	CLILogger.Debug("verbose logger ready")

	InitCLILogger("novelcondense-test", false, "warn")
	require.NotNil(t, CLILogger)
	CLILogger.Warn("level from config")
}

func TestInitServerLogger(t *testing.T) {
	t.Setenv("NOVELCONDENSE_ENV", "test")
	InitServerLogger("novelcondense-test", "debug", "novelcondense")
	require.NotNil(t, ServerLogger)
	ServerLogger.Info("server logger ready",
		zap.String("component", "test"),
		zap.String("crucible_version", crucible.GetVersionString()))
}

func TestParseLogLevel(t *testing.T) {
	cases := map[string]string{
		"trace":   "TRACE",
		"debug":   "DEBUG",
		"info":    "INFO",
		"warning": "WARN",
		"error":   "ERROR",
		"":        "INFO",
		"loud":    "INFO",
	}
	for in, want := range cases {
		require.Equal(t, want, parseLogLevel(in), in)
	}
}

func TestEnvironmentDefault(t *testing.T) {
	t.Setenv("NOVELCONDENSE_ENV", "")
	require.Equal(t, "production", environment())
	t.Setenv("NOVELCONDENSE_ENV", "staging")
	require.Equal(t, "staging", environment())
}

func TestOrNop(t *testing.T) {
	require.NotNil(t, OrNop(nil))

	var zl *zap.Logger
	require.NotNil(t, OrNop(zl))

	var gl *logging.Logger
	require.NotNil(t, OrNop(gl))

	real := zap.NewExample()
	require.Same(t, real, OrNop(real))
}
