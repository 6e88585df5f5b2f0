package config

import (
	"net/http"
	"time"
)

// Provider names understood by the gateway.
const (
	ProviderGemini    = "gemini"
	ProviderReplicate = "replicate"
)

type ProvidersConfig struct {
	Providers map[string]ProviderConfig `yaml:"providers"`
}

// ProviderConfig is one upstream API. APIKey is a server-side default; the
// gemini key is normally supplied per request by the caller.
type ProviderConfig struct {
	BaseURL       string            `yaml:"base_url"`
	APIKey        string            `yaml:"api_key"`
	MaxConcurrent int               `yaml:"max_concurrent"`
	Timeout       time.Duration     `yaml:"timeout"`
	Headers       map[string]string `yaml:"headers,omitempty"`
}

func DefaultProvidersConfig() *ProvidersConfig {
	return &ProvidersConfig{
		Providers: map[string]ProviderConfig{
			ProviderGemini: {
				BaseURL:       "https://generativelanguage.googleapis.com/v1beta",
				MaxConcurrent: 20,
				Timeout:       90 * time.Second,
			},
			ProviderReplicate: {
				BaseURL:       "https://api.replicate.com/v1",
				MaxConcurrent: 20,
				Timeout:       30 * time.Second,
			},
		},
	}
}

// Get returns the named provider with defaults filled in for unset fields.
func (p *ProvidersConfig) Get(name string) ProviderConfig {
	def := DefaultProvidersConfig().Providers[name]
	if p == nil {
		return def
	}
	cfg, ok := p.Providers[name]
	if !ok {
		return def
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxConcurrent == 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	return cfg
}

// HTTPClient builds a client that honours Timeout and caps open connections
// to the upstream at MaxConcurrent.
func (p ProviderConfig) HTTPClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if p.MaxConcurrent > 0 {
		transport.MaxConnsPerHost = p.MaxConcurrent
		transport.MaxIdleConnsPerHost = p.MaxConcurrent
	}
	return &http.Client{Timeout: p.Timeout, Transport: transport}
}
