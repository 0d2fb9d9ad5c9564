package core

import "time"

// ProviderState is a point-in-time view of a credential's dispatch state.
type ProviderState struct {
	Credential   string     `json:"credential"`
	Kind         string     `json:"kind"`
	Model        string     `json:"model"`
	Key          string     `json:"key"`
	RPM          int        `json:"rpm"`
	InWindow     int        `json:"in_window"`
	Consecutive  int        `json:"consecutive_failures"`
	CoolingUntil *time.Time `json:"cooling_until,omitempty"`
	Invalid      bool       `json:"invalid"`
}

// Available reports whether the credential can be selected at now.
func (s ProviderState) Available(now time.Time) bool {
	if s.Invalid {
		return false
	}
	if s.CoolingUntil != nil && now.Before(*s.CoolingUntil) {
		return false
	}
	return s.InWindow < s.RPM
}

// Condition returns a short label for tables and probes.
func (s ProviderState) Condition(now time.Time) string {
	switch {
	case s.Invalid:
		return "invalid"
	case s.CoolingUntil != nil && now.Before(*s.CoolingUntil):
		return "cooling"
	case s.InWindow >= s.RPM:
		return "saturated"
	default:
		return "ready"
	}
}
