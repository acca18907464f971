package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:  "info",
			LogFormat: "text",
		},
		Server: ServerConfig{
			Host:                "0.0.0.0",
			Port:                5000,
			WebhookPath:         "/webhook",
			ReadTimeoutSeconds:  15,
			WriteTimeoutSeconds: 60,
		},
		Providers: map[string]ProviderConfig{
			"openai": {
				Enabled:      true,
				APIBase:      "https://api.openai.com/v1",
				DefaultModel: "gpt-4o-mini",
			},
			"gemini": {
				Enabled:      false,
				DefaultModel: "gemini-2.5-flash",
			},
		},
		Backends: BackendsConfig{
			Text: BackendConfig{
				Provider:       "openai",
				Model:          "gpt-4o-mini",
				TimeoutSeconds: 12,
			},
			Vision: BackendConfig{
				Provider:       "openai",
				Model:          "gpt-4o",
				TimeoutSeconds: 25,
			},
		},
		Catalog: CatalogConfig{
			Path: "espejos.xlsx",
		},
		Media: MediaConfig{
			TimeoutSeconds: 8,
			MaxBytes:       5 << 20,
			MaxConcurrent:  4,
		},
		Journal: JournalConfig{
			Enabled: false,
			DBPath:  "~/.mirrorbot/journal.db",
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
	}
}
