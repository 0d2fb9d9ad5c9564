package config

import (
	"fmt"
	"strings"
)

// ConfigError reports every problem found in a configuration document.
type ConfigError struct {
	Problems []string
}

func (e *ConfigError) Error() string {
	if e == nil || len(e.Problems) == 0 {
		return "invalid configuration"
	}
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

func (e *ConfigError) add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

func (e *ConfigError) orNil() error {
	if len(e.Problems) == 0 {
		return nil
	}
	return e
}
