package core

import (
	"fmt"
	"strings"
)

// DefaultKeyRPM applies when a credential entry omits rpm.
const DefaultKeyRPM = 5

// Credential is one configured (provider, key, model, rpm) tuple.
//
// Credentials are immutable once the registry is loaded.
type Credential struct {
	Kind     ProviderKind
	Key      string
	Model    string
	RPM      int
	BaseURL  string
	Provider string
	Label    string
	// Index is the position within its provider kind in configuration order.
	Index int
}

// ID identifies a credential for rate accounting, logs and statistics.
// It never contains the API key.
func (c Credential) ID() string {
	label := strings.TrimSpace(c.Label)
	if label == "" {
		label = fmt.Sprintf("%d", c.Index)
	}
	return fmt.Sprintf("%s/%s", c.Kind, label)
}

// Identity is the uniqueness tuple (kind, key, model).
func (c Credential) Identity() string {
	return string(c.Kind) + "\x00" + c.Key + "\x00" + c.Model
}

// MaskedKey returns the key with all but the edges hidden.
func (c Credential) MaskedKey() string {
	return MaskKey(c.Key)
}

// MaskKey hides the middle of an API key.
func MaskKey(key string) string {
	key = strings.TrimSpace(key)
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}

func (c Credential) String() string {
	return fmt.Sprintf("%s(%s, %s)", c.ID(), c.Model, c.MaskedKey())
}
