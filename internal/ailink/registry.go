package ailink

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/novelcondense/novelcondense/internal/ailink/driver"
	"github.com/novelcondense/novelcondense/internal/ailink/driver/gemini"
	"github.com/novelcondense/novelcondense/internal/ailink/driver/openai"
	"github.com/novelcondense/novelcondense/internal/config"
	"github.com/novelcondense/novelcondense/internal/core"
)

// Registry owns the configured credentials for the lifetime of the process.
//
// The credential lists are immutable after Load; only the driver cache is
// guarded.
type Registry struct {
	byKind map[core.ProviderKind][]core.Credential
	all    []core.Credential

	// Timeout bounds each provider HTTP call.
	Timeout    time.Duration
	HTTPClient *http.Client

	mu      sync.Mutex
	drivers map[string]driver.Driver
}

// Load builds the registry from a decoded configuration.
func Load(cfg *config.Config) (*Registry, error) {
	if cfg == nil {
		return nil, &config.ConfigError{Problems: []string{"configuration is required"}}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &Registry{
		byKind:  map[core.ProviderKind][]core.Credential{},
		Timeout: cfg.Dispatch.RequestTimeout,
	}
	for _, kind := range core.ProviderKinds {
		for idx, entry := range cfg.Entries(kind) {
			rpm := core.DefaultKeyRPM
			if entry.RPM != nil {
				rpm = *entry.RPM
			}
			cred := core.Credential{
				Kind:     kind,
				Key:      strings.TrimSpace(entry.Key),
				Model:    strings.TrimSpace(entry.Model),
				RPM:      rpm,
				BaseURL:  strings.TrimSpace(entry.BaseURL),
				Provider: strings.TrimSpace(entry.Provider),
				Label:    strings.TrimSpace(entry.Label),
				Index:    idx,
			}
			r.byKind[kind] = append(r.byKind[kind], cred)
			r.all = append(r.all, cred)
		}
	}
	return r, nil
}

// NewRegistry wraps an explicit credential list, mostly for tests and probes.
func NewRegistry(creds ...core.Credential) *Registry {
	r := &Registry{byKind: map[core.ProviderKind][]core.Credential{}}
	for _, cred := range creds {
		r.byKind[cred.Kind] = append(r.byKind[cred.Kind], cred)
		r.all = append(r.all, cred)
	}
	return r
}

// List returns the credentials of one kind in configuration order.
func (r *Registry) List(kind core.ProviderKind) []core.Credential {
	if r == nil {
		return nil
	}
	creds := r.byKind[kind]
	out := make([]core.Credential, len(creds))
	copy(out, creds)
	return out
}

// All returns every credential, gemini first.
func (r *Registry) All() []core.Credential {
	if r == nil {
		return nil
	}
	out := make([]core.Credential, len(r.all))
	copy(out, r.all)
	return out
}

// Len reports the number of credentials.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.all)
}

// Lookup finds a credential by ID.
func (r *Registry) Lookup(id string) (core.Credential, bool) {
	if r == nil {
		return core.Credential{}, false
	}
	for _, cred := range r.all {
		if cred.ID() == id {
			return cred, true
		}
	}
	return core.Credential{}, false
}

// Driver returns the cached driver for a credential.
func (r *Registry) Driver(cred core.Credential) (driver.Driver, error) {
	if r == nil {
		return nil, fmt.Errorf("ailink registry not configured")
	}
	if strings.TrimSpace(cred.Key) == "" {
		return nil, fmt.Errorf("credential %s has no api key", cred.ID())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.drivers == nil {
		r.drivers = map[string]driver.Driver{}
	}
	driverKey := cred.Identity()
	if drv, ok := r.drivers[driverKey]; ok {
		return drv, nil
	}

	var drv driver.Driver
	switch cred.Kind {
	case core.ProviderGemini:
		client := gemini.NewClient(cred.BaseURL, cred.Key)
		client.Timeout = r.Timeout
		client.HTTPClient = r.HTTPClient
		drv = client
	case core.ProviderOpenAI:
		client := openai.NewClient(cred.BaseURL, cred.Key)
		client.Timeout = r.Timeout
		client.HTTPClient = r.HTTPClient
		drv = client
	default:
		return nil, fmt.Errorf("unsupported provider kind %q for %s", cred.Kind, cred.ID())
	}
	r.drivers[driverKey] = drv
	return drv, nil
}
