package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	ProviderOpenAI = "openai"
	ProviderClaude = "claude"
	ProviderGemini = "gemini"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	AI          AIConfig                  `json:"ai"`
	Providers   map[string]ProviderConfig `json:"providers"`
	Redis       RedisConfig               `json:"redis"`
	UsageDB     DatabaseConfig            `json:"usage_db"`
}

type ProviderConfig struct {
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
	APIKey  string `json:"-"`
}

type BasicConfig struct {
	ServerAddress     string        `json:"server_address"`
	Environment       string        `json:"environment"`
	LogLevel          string        `json:"log_level"`
	UploadDir         string        `json:"upload_dir"`
	MaxUploadBytes    int64         `json:"max_upload_bytes"`
	TempFileTTL       time.Duration `json:"temp_file_ttl"`
	TempCleanInterval time.Duration `json:"temp_clean_interval"`
	RateLimitPerMin   int           `json:"rate_limit_per_minute"`
	// TrustedProxies lists the proxy addresses or CIDRs whose forwarding
	// headers are believed. Empty means the socket address is the client.
	TrustedProxies []string `json:"trusted_proxies"`
}

// AIConfig selects the provider and tunes the single analysis call.
type AIConfig struct {
	Provider         string        `json:"provider"`
	MaxTokens        int           `json:"max_tokens"`
	Temperature      float32       `json:"temperature"`
	Timeout          time.Duration `json:"timeout"`
	ResponseLanguage string        `json:"response_language"`
	MaxInputChars    int           `json:"max_input_chars"`
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"-"`
	DB       int    `json:"db"`
}

type DatabaseConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"-"`
}

// Enabled reports whether the usage log should be opened.
func (d DatabaseConfig) Enabled() bool {
	return d.Driver != ""
}

// Load reads configuration from the environment, after loading a .env file if one exists.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds the configuration from the current environment only.
func FromEnv() (*Config, error) {
	temperature, err := envFloat("AI_TEMPERATURE", 0.3)
	if err != nil {
		return nil, err
	}
	timeout, err := envDuration("AI_TIMEOUT", 3*time.Minute)
	if err != nil {
		return nil, err
	}
	ttl, err := envDuration("TEMP_FILE_TTL", time.Hour)
	if err != nil {
		return nil, err
	}
	cleanInterval, err := envDuration("TEMP_CLEAN_INTERVAL", 10*time.Minute)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		BasicConfig: BasicConfig{
			ServerAddress:     envOrDefault("SERVER_ADDRESS", ":8000"),
			Environment:       strings.ToLower(envOrDefault("APP_ENV", "development")),
			LogLevel:          envOrDefault("LOG_LEVEL", "info"),
			UploadDir:         envOrDefault("UPLOAD_DIR", "./uploads"),
			MaxUploadBytes:    int64(envInt("MAX_UPLOAD_MB", 20)) << 20,
			TempFileTTL:       ttl,
			TempCleanInterval: cleanInterval,
			RateLimitPerMin:   envInt("RATE_LIMIT_PER_MINUTE", 0),
			TrustedProxies:    envList("TRUSTED_PROXIES"),
		},
		AI: AIConfig{
			Provider:         strings.ToLower(strings.TrimSpace(envOrDefault("AI_PROVIDER", ProviderOpenAI))),
			MaxTokens:        envInt("AI_MAX_TOKENS", 4000),
			Temperature:      temperature,
			Timeout:          timeout,
			ResponseLanguage: envOrDefault("AI_RESPONSE_LANGUAGE", "Korean"),
			MaxInputChars:    envInt("AI_MAX_INPUT_CHARS", 12000),
		},
		Providers: map[string]ProviderConfig{
			ProviderOpenAI: {
				BaseURL: os.Getenv("OPENAI_BASE_URL"),
				Model:   envOrDefault("OPENAI_MODEL", "gpt-4o-mini"),
				APIKey:  os.Getenv("OPENAI_API_KEY"),
			},
			ProviderClaude: {
				BaseURL: os.Getenv("ANTHROPIC_BASE_URL"),
				Model:   envOrDefault("CLAUDE_MODEL", "claude-sonnet-4-5-20250929"),
				APIKey:  os.Getenv("ANTHROPIC_API_KEY"),
			},
			ProviderGemini: {
				Model:  envOrDefault("GEMINI_MODEL", "gemini-2.0-flash"),
				APIKey: os.Getenv("GEMINI_API_KEY"),
			},
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       envInt("REDIS_DB", 0),
		},
		UsageDB: DatabaseConfig{
			Driver: strings.ToLower(os.Getenv("USAGE_DB_DRIVER")),
			DSN:    os.Getenv("USAGE_DB_DSN"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Provider returns the settings of the selected provider.
func (c *Config) Provider() ProviderConfig {
	return c.Providers[c.AI.Provider]
}

// IsDevelopment reports whether the service runs with development defaults.
func (c *Config) IsDevelopment() bool {
	return c.BasicConfig.Environment == "development"
}

func (c *Config) validate() error {
	provCfg, ok := c.Providers[c.AI.Provider]
	if !ok {
		return &ConfigError{Field: "AI_PROVIDER", Message: fmt.Sprintf("unsupported provider %q", c.AI.Provider)}
	}
	if provCfg.APIKey == "" {
		return &ConfigError{Field: apiKeyEnv(c.AI.Provider), Message: "api key is required for the selected provider"}
	}
	if c.AI.MaxTokens <= 0 {
		return &ConfigError{Field: "AI_MAX_TOKENS", Message: "must be positive"}
	}
	if c.BasicConfig.MaxUploadBytes <= 0 {
		return &ConfigError{Field: "MAX_UPLOAD_MB", Message: "must be positive"}
	}
	switch c.UsageDB.Driver {
	case "":
	case "sqlite", "sqlite3", "mysql":
		if c.UsageDB.DSN == "" {
			return &ConfigError{Field: "USAGE_DB_DSN", Message: "dsn is required when USAGE_DB_DRIVER is set"}
		}
	default:
		return &ConfigError{Field: "USAGE_DB_DRIVER", Message: fmt.Sprintf("unsupported driver %q", c.UsageDB.Driver)}
	}
	return nil
}

func apiKeyEnv(provider string) string {
	switch provider {
	case ProviderClaude:
		return "ANTHROPIC_API_KEY"
	case ProviderGemini:
		return "GEMINI_API_KEY"
	default:
		return "OPENAI_API_KEY"
	}
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}

func envOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func envInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func envFloat(key string, defaultValue float32) (float32, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(value, 32)
	if err != nil {
		return 0, &ConfigError{Field: key, Message: fmt.Sprintf("invalid number %q", value)}
	}
	return float32(f), nil
}

func envDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, &ConfigError{Field: key, Message: fmt.Sprintf("invalid duration %q", value)}
	}
	return d, nil
}

func envList(key string) []string {
	var items []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			items = append(items, part)
		}
	}
	return items
}
