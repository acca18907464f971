package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Config is the root configuration for mirrorbot.
type Config struct {
	General   GeneralConfig             `json:"general"`
	Server    ServerConfig              `json:"server"`
	Providers map[string]ProviderConfig `json:"providers"`
	Backends  BackendsConfig            `json:"backends"`
	Catalog   CatalogConfig             `json:"catalog"`
	Media     MediaConfig               `json:"media"`
	Journal   JournalConfig             `json:"journal"`
	Metrics   MetricsConfig             `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel          string `json:"logLevel"`
	LogFormat         string `json:"logFormat"`                   // "text" | "json"
	LogFile           string `json:"logFile,omitempty"`           // optional log file path
	SystemPromptExtra string `json:"systemPromptExtra,omitempty"` // appended to both system prompts
}

type ServerConfig struct {
	Host                string `json:"host"`
	Port                int    `json:"port"`
	WebhookPath         string `json:"webhookPath"`
	ReadTimeoutSeconds  int    `json:"readTimeoutSeconds"`
	WriteTimeoutSeconds int    `json:"writeTimeoutSeconds"`
}

// Addr returns host:port for the HTTP listener.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func (s ServerConfig) ReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeoutSeconds) * time.Second
}

func (s ServerConfig) WriteTimeout() time.Duration {
	return time.Duration(s.WriteTimeoutSeconds) * time.Second
}

type ProviderConfig struct {
	Enabled      bool   `json:"enabled"`
	APIBase      string `json:"apiBase,omitempty"`
	APIKey       string `json:"apiKey,omitempty"`
	DefaultModel string `json:"defaultModel,omitempty"`
}

// BackendsConfig binds the text-only and the vision path to a provider.
type BackendsConfig struct {
	Text   BackendConfig `json:"text"`
	Vision BackendConfig `json:"vision"`
}

type BackendConfig struct {
	Provider       string `json:"provider"`
	Model          string `json:"model,omitempty"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
}

func (b BackendConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutSeconds) * time.Second
}

type CatalogConfig struct {
	Path  string `json:"path"`
	Sheet string `json:"sheet,omitempty"` // spreadsheet sources only; default: first sheet
}

type MediaConfig struct {
	TimeoutSeconds    int    `json:"timeoutSeconds"`
	MaxBytes          int64  `json:"maxBytes"`
	MaxConcurrent     int    `json:"maxConcurrent"`
	BasicAuthUser     string `json:"basicAuthUser,omitempty"`     // Twilio account SID
	BasicAuthPassword string `json:"basicAuthPassword,omitempty"` // Twilio auth token
}

func (m MediaConfig) Timeout() time.Duration {
	return time.Duration(m.TimeoutSeconds) * time.Second
}

// JournalConfig configures the SQLite exchange journal.
type JournalConfig struct {
	Enabled bool   `json:"enabled"`
	DBPath  string `json:"dbPath"`
}

// MetricsConfig configures the Prometheus text endpoint.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.mirrorbot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mirrorbot"
	}
	return filepath.Join(home, ".mirrorbot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	ApplyEnv(cfg)

	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Catalog.Path = ExpandPath(cfg.Catalog.Path)
	cfg.Journal.DBPath = ExpandPath(cfg.Journal.DBPath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// ApplyEnv overlays well-known environment variables on cfg. Unset or empty
// variables leave the config untouched.
func ApplyEnv(cfg *Config) {
	setProviderKey := func(name, env string) {
		v := strings.TrimSpace(os.Getenv(env))
		if v == "" {
			return
		}
		if cfg.Providers == nil {
			cfg.Providers = make(map[string]ProviderConfig)
		}
		pc := cfg.Providers[name]
		pc.APIKey = v
		pc.Enabled = true
		cfg.Providers[name] = pc
	}
	setProviderKey("openai", "OPENAI_API_KEY")
	setProviderKey("gemini", "GEMINI_API_KEY")

	if p := strings.TrimSpace(os.Getenv("PORT")); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			cfg.Server.Port = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("CATALOG_PATH")); v != "" {
		cfg.Catalog.Path = v
	}
	if v := strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID")); v != "" {
		cfg.Media.BasicAuthUser = v
	}
	if v := strings.TrimSpace(os.Getenv("TWILIO_AUTH_TOKEN")); v != "" {
		cfg.Media.BasicAuthPassword = v
	}
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			// An unresolved secret must not reach the backend as a literal.
			return ""
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values. A missing API key is not
// an error: the dispatcher answers with fallback text instead.
func Validate(cfg *Config) error {
	var errs []string

	switch strings.ToLower(cfg.General.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	switch cfg.General.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, "general.logFormat must be one of: text, json")
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	if !strings.HasPrefix(cfg.Server.WebhookPath, "/") || cfg.Server.WebhookPath == "/" {
		errs = append(errs, "server.webhookPath must start with / and not be the root path")
	}
	if cfg.Server.ReadTimeoutSeconds < 1 || cfg.Server.WriteTimeoutSeconds < 1 {
		errs = append(errs, "server read/write timeouts must be >= 1")
	}

	for label, b := range map[string]BackendConfig{"text": cfg.Backends.Text, "vision": cfg.Backends.Vision} {
		if b.Provider == "" {
			errs = append(errs, fmt.Sprintf("backends.%s.provider is required", label))
		} else if _, ok := cfg.Providers[b.Provider]; !ok {
			errs = append(errs, fmt.Sprintf("backends.%s references unknown provider: %s", label, b.Provider))
		}
		if b.TimeoutSeconds < 1 || b.TimeoutSeconds > 120 {
			errs = append(errs, fmt.Sprintf("backends.%s.timeoutSeconds must be between 1 and 120", label))
		}
	}

	// Several fetches may run for one message, so each must stay well under
	// the gateway's own response budget.
	if cfg.Media.TimeoutSeconds < 1 || cfg.Media.TimeoutSeconds > 60 {
		errs = append(errs, "media.timeoutSeconds must be between 1 and 60")
	}
	if cfg.Media.MaxBytes < 1 {
		errs = append(errs, "media.maxBytes must be >= 1")
	}
	if cfg.Media.MaxConcurrent < 1 || cfg.Media.MaxConcurrent > 10 {
		errs = append(errs, "media.maxConcurrent must be between 1 and 10")
	}

	if cfg.Journal.Enabled && cfg.Journal.DBPath == "" {
		errs = append(errs, "journal.dbPath is required when the journal is enabled")
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Endpoint, "/") {
		errs = append(errs, "metrics.endpoint must start with /")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
