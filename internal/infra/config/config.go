package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration, shared by the relay
// daemon and the CLI client.
type Config struct {
	Relay    RelayConfig    `yaml:"relay"`
	LLM      LLMConfig      `yaml:"llm"`
	Keystore KeystoreConfig `yaml:"keystore"`
	Recorder RecorderConfig `yaml:"recorder"`
	Client   ClientConfig   `yaml:"client"`
	Logger   LoggerConfig   `yaml:"logger"`
	Tracer   TracerConfig   `yaml:"tracer"`
}

// RelayConfig holds stream relay server settings.
type RelayConfig struct {
	Addr      string          `yaml:"addr"`
	Auth      AuthConfig      `yaml:"auth"`
	CORS      CORSConfig      `yaml:"cors"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// AuthConfig holds relay authentication settings.
type AuthConfig struct {
	Tokens []TokenConfig `yaml:"tokens,omitempty"`
}

// TokenConfig holds a single relay auth token.
type TokenConfig struct {
	Token string `yaml:"token"`
	Name  string `yaml:"name"`
}

// CORSConfig holds cross-origin settings for browser callers.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`
}

// RateLimitConfig holds per-IP rate limiting settings for the relay.
type RateLimitConfig struct {
	Enabled        bool `yaml:"enabled"`
	RequestsPerMin int  `yaml:"requests_per_min"`
	BurstSize      int  `yaml:"burst_size"`
}

// LLMConfig holds upstream provider settings.
type LLMConfig struct {
	Providers      []ProviderConfig     `yaml:"providers"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// ProviderConfig holds settings for a single upstream provider.
// APIKey is the shared fallback credential used when a caller has no key
// of their own in the keystore.
type ProviderConfig struct {
	Name        string        `yaml:"name"`
	Type        string        `yaml:"type"` // "openai", "anthropic", "gemini"
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	ConnTimeout time.Duration `yaml:"conn_timeout"`
	RespTimeout time.Duration `yaml:"resp_timeout"`
	Pool        PoolConfig    `yaml:"pool"`
}

// PoolConfig configures HTTP connection pooling for a provider client.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// CircuitBreakerConfig configures the optional per-provider circuit
// breaker in front of upstream connections. Disabled by default so a
// failing provider surfaces its own error on every attempt.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// KeystoreConfig holds credential keystore settings. The passphrase is
// never stored in the file; it comes from OMNIASK_KEYSTORE_KEY.
type KeystoreConfig struct {
	Path string `yaml:"path"`
}

// RecorderConfig holds conversation recorder settings.
type RecorderConfig struct {
	Path string `yaml:"path"` // empty = in-memory
}

// ClientConfig holds CLI / orchestrator client settings.
type ClientConfig struct {
	ProxyURL   string        `yaml:"proxy_url"`
	Token      string        `yaml:"token"`
	Mock       bool          `yaml:"mock"`
	ThinkDelay time.Duration `yaml:"think_delay"`
	TokenDelay time.Duration `yaml:"token_delay"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// Defaults returns a Config with sane defaults for all sections.
func Defaults() *Config {
	return &Config{
		Relay: RelayConfig{
			Addr: "127.0.0.1:8787",
			RateLimit: RateLimitConfig{
				Enabled:        true,
				RequestsPerMin: 120,
				BurstSize:      30,
			},
		},
		LLM: LLMConfig{
			Providers: []ProviderConfig{
				{Name: "chatgpt", Type: "openai", BaseURL: "https://api.openai.com/v1", Model: "gpt-4o-mini"},
				{Name: "claude", Type: "anthropic", BaseURL: "https://api.anthropic.com", Model: "claude-3-5-sonnet-20241022"},
				{Name: "gemini", Type: "gemini", BaseURL: "https://generativelanguage.googleapis.com", Model: "gemini-1.5-flash"},
				{Name: "perplexity", Type: "openai", BaseURL: "https://api.perplexity.ai", Model: "sonar"},
			},
		},
		Keystore: KeystoreConfig{
			Path: "./data/keystore.db",
		},
		Recorder: RecorderConfig{
			Path: "./data/conversations.db",
		},
		Client: ClientConfig{
			ProxyURL:   "http://127.0.0.1:8787",
			ThinkDelay: 600 * time.Millisecond,
			TokenDelay: 25 * time.Millisecond,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
	}
}

// Load reads a YAML config file and applies env var overrides. A missing
// file is not an error: defaults plus env overrides are returned.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnvOverrides maps OMNIASK_* env vars to config fields. Per-provider
// shared API keys come from OMNIASK_<PROVIDER>_API_KEY (provider name
// upper-cased), e.g. OMNIASK_CLAUDE_API_KEY.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OMNIASK_RELAY_ADDR"); v != "" {
		cfg.Relay.Addr = v
	}
	if v := os.Getenv("OMNIASK_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("OMNIASK_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("OMNIASK_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("OMNIASK_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv("OMNIASK_KEYSTORE_PATH"); v != "" {
		cfg.Keystore.Path = v
	}
	if v := os.Getenv("OMNIASK_RECORDER_PATH"); v != "" {
		cfg.Recorder.Path = v
	}
	if v := os.Getenv("OMNIASK_PROXY_URL"); v != "" {
		cfg.Client.ProxyURL = v
	}
	if v := os.Getenv("OMNIASK_CLIENT_TOKEN"); v != "" {
		cfg.Client.Token = v
	}
	if v := os.Getenv("OMNIASK_CLIENT_MOCK"); v == "true" {
		cfg.Client.Mock = true
	}

	for i := range cfg.LLM.Providers {
		envKey := "OMNIASK_" + strings.ToUpper(cfg.LLM.Providers[i].Name) + "_API_KEY"
		if v := os.Getenv(envKey); v != "" {
			cfg.LLM.Providers[i].APIKey = v
		}
	}
}

// Validate checks config consistency.
func Validate(cfg *Config) error {
	if cfg.Relay.Addr == "" {
		return fmt.Errorf("relay.addr must not be empty")
	}
	seen := make(map[string]bool, len(cfg.LLM.Providers))
	for _, p := range cfg.LLM.Providers {
		if p.Name == "" {
			return fmt.Errorf("llm provider with empty name")
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate llm provider %q", p.Name)
		}
		seen[p.Name] = true
		switch p.Type {
		case "openai", "anthropic", "gemini":
		default:
			return fmt.Errorf("llm provider %q: unknown type %q", p.Name, p.Type)
		}
	}
	if rl := cfg.Relay.RateLimit; rl.Enabled {
		if rl.RequestsPerMin <= 0 {
			return fmt.Errorf("relay.rate_limit.requests_per_min must be positive")
		}
		if rl.BurstSize <= 0 {
			return fmt.Errorf("relay.rate_limit.burst_size must be positive")
		}
	}
	return nil
}

// Provider returns the config block for the named provider, or nil.
func (c *Config) Provider(name string) *ProviderConfig {
	for i := range c.LLM.Providers {
		if c.LLM.Providers[i].Name == name {
			return &c.LLM.Providers[i]
		}
	}
	return nil
}
