package provider

import (
	"testing"

	"mirrorbot/internal/config"
)

func TestFactory_GetCachesInstance(t *testing.T) {
	cfg := config.Defaults()
	f := NewFactory(cfg, testLogger())

	a, err := f.Get("openai")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	b, _ := f.Get("openai")
	if a != b {
		t.Fatal("expected cached provider instance")
	}
}

func TestFactory_DisabledProvider(t *testing.T) {
	cfg := config.Defaults()
	f := NewFactory(cfg, testLogger())
	if _, err := f.Get("gemini"); err == nil {
		t.Fatal("expected error for disabled gemini provider")
	}
}

func TestFactory_UnknownNameWithAPIBaseIsOpenAICompatible(t *testing.T) {
	cfg := config.Defaults()
	cfg.Providers["groq"] = config.ProviderConfig{Enabled: true, APIBase: "https://api.groq.example/v1", APIKey: "k"}
	f := NewFactory(cfg, testLogger())

	p, err := f.Get("groq")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, ok := p.(*OpenAI); !ok {
		t.Fatalf("expected *OpenAI, got %T", p)
	}
}

func TestFactory_BackendFallsBackToDisabled(t *testing.T) {
	cfg := config.Defaults()
	f := NewFactory(cfg, testLogger())

	p := f.Backend("vision", config.BackendConfig{Provider: "gemini"})
	if p.Configured() {
		t.Fatal("disabled backend must not report configured")
	}
	if p.Name() != "gemini" {
		t.Fatalf("expected name gemini, got %q", p.Name())
	}
}

func TestFactory_BackendWithoutKey(t *testing.T) {
	cfg := config.Defaults()
	f := NewFactory(cfg, testLogger())

	p := f.Backend("text", cfg.Backends.Text)
	if p.Name() != "openai" {
		t.Fatalf("expected openai backend, got %q", p.Name())
	}
	if p.Configured() {
		t.Fatal("default config has no key, backend must not be configured")
	}
}
