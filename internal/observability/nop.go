package observability

import (
	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"
)

// Logger is the logging surface library packages depend on. Both
// *logging.Logger and *zap.Logger satisfy it.
type Logger interface {
	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
}

// OrNop returns logger, or a no-op logger when it is nil.
func OrNop(logger Logger) Logger {
	switch v := logger.(type) {
	case nil:
		return zap.NewNop()
	case *logging.Logger:
		if v == nil {
			return zap.NewNop()
		}
	case *zap.Logger:
		if v == nil {
			return zap.NewNop()
		}
	}
	return logger
}
