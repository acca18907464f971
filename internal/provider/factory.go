package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"mirrorbot/internal/config"
	"mirrorbot/internal/domain"
)

// ErrNotConfigured is returned by a backend that has no credential.
var ErrNotConfigured = errors.New("provider has no API key configured")

// ProviderConstructor is a function that creates a provider from a config entry.
type ProviderConstructor func(pc config.ProviderConfig, hc *http.Client, logger *slog.Logger) domain.Provider

// Factory creates and caches completion providers from config.
type Factory struct {
	cfg          *config.Config
	logger       *slog.Logger
	httpClient   *http.Client
	constructors map[string]ProviderConstructor
	cache        map[string]domain.Provider
	mu           sync.Mutex
}

// NewFactory creates a provider factory with the built-in constructors registered.
func NewFactory(cfg *config.Config, logger *slog.Logger) *Factory {
	f := &Factory{
		cfg:          cfg,
		logger:       logger,
		httpClient:   SharedHTTPClient(0),
		constructors: make(map[string]ProviderConstructor),
		cache:        make(map[string]domain.Provider),
	}
	f.constructors["openai"] = func(pc config.ProviderConfig, hc *http.Client, logger *slog.Logger) domain.Provider {
		return NewOpenAI(OpenAIConfig{APIKey: pc.APIKey, APIBase: pc.APIBase, Model: pc.DefaultModel, HTTPClient: hc, Logger: logger})
	}
	f.constructors["gemini"] = func(pc config.ProviderConfig, _ *http.Client, logger *slog.Logger) domain.Provider {
		return NewGemini(GeminiConfig{APIKey: pc.APIKey, Model: pc.DefaultModel, Logger: logger})
	}
	return f
}

// RegisterConstructor adds (or replaces) a provider constructor by name.
func (f *Factory) RegisterConstructor(name string, ctor ProviderConstructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[name] = ctor
}

// Get returns the provider with the given name. Created providers are cached
// so both backends share one instance when they point at the same provider.
func (f *Factory) Get(name string) (domain.Provider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if cached, ok := f.cache[name]; ok {
		return cached, nil
	}

	pc, ok := f.cfg.Providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	if !pc.Enabled {
		return nil, fmt.Errorf("provider %s is disabled", name)
	}

	var p domain.Provider
	if ctor, found := f.constructors[name]; found {
		p = ctor(pc, f.httpClient, f.logger)
	} else if pc.APIBase != "" {
		// Unknown names are treated as OpenAI-compatible endpoints.
		p = NewOpenAI(OpenAIConfig{APIKey: pc.APIKey, APIBase: pc.APIBase, Model: pc.DefaultModel, HTTPClient: f.httpClient, Logger: f.logger})
	} else {
		return nil, fmt.Errorf("provider %s: no constructor registered and no API base configured", name)
	}

	f.cache[name] = p
	return p, nil
}

// Backend resolves the provider for one dispatch path. It never fails: an
// unknown or disabled provider yields a Disabled placeholder so the
// dispatcher degrades to its fallback text.
func (f *Factory) Backend(label string, b config.BackendConfig) domain.Provider {
	p, err := f.Get(b.Provider)
	if err != nil {
		f.logger.Warn("backend unavailable, replies will use fallback text",
			"backend", label, "provider", b.Provider, "err", err)
		return Disabled{ProviderName: b.Provider}
	}
	if !p.Configured() {
		f.logger.Warn("backend has no API key, replies will use fallback text",
			"backend", label, "provider", p.Name())
	}
	return p
}

// Disabled is a provider that is never configured.
type Disabled struct {
	ProviderName string
}

func (d Disabled) Name() string     { return d.ProviderName }
func (d Disabled) Configured() bool { return false }

func (d Disabled) Complete(context.Context, domain.CompletionRequest) (*domain.CompletionResponse, error) {
	return nil, ErrNotConfigured
}
