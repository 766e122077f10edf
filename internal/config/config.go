package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config holds the service configuration.
type Config struct {
	HTTP HTTPConfig `yaml:"http"`
	DB   DBConfig   `yaml:"db"`
	LLM  LLMConfig  `yaml:"llm"`
	Log  LogConfig  `yaml:"log"`
}

type HTTPConfig struct {
	Addr           string   `yaml:"addr" validate:"required"`
	RateLimitRPS   float64  `yaml:"rate_limit_rps" validate:"gte=0"`
	RateLimitBurst int      `yaml:"rate_limit_burst" validate:"gte=0"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	FeatureLimit   int      `yaml:"feature_limit" validate:"gte=0"`
}

type DBConfig struct {
	URL          string `yaml:"url" validate:"required"`
	Timeout      string `yaml:"timeout"`
	MaxOpenConns int    `yaml:"max_open_conns" validate:"gte=0"`
}

type LLMConfig struct {
	APIKey       string `yaml:"api_key" validate:"required"`
	BaseURL      string `yaml:"base_url" validate:"omitempty,url"`
	Model        string `yaml:"model" validate:"required"`
	ExplainModel string `yaml:"explain_model"`
	Timeout      string `yaml:"timeout"`
	Explain      bool   `yaml:"explain"`
}

type LogConfig struct {
	Level       string `yaml:"level" validate:"oneof=debug info warn error"`
	Development bool   `yaml:"development"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:           ":8080",
			RateLimitRPS:   5,
			RateLimitBurst: 10,
			AllowedOrigins: []string{"*"},
			FeatureLimit:   50000,
		},
		DB: DBConfig{
			Timeout:      "30s",
			MaxOpenConns: 10,
		},
		LLM: LLMConfig{
			Model:   "gpt-4o-mini",
			Timeout: "60s",
			Explain: true,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads path over the defaults and applies environment overrides.
// An empty path uses defaults and the environment only.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	cfg.applyEnvOverrides()
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DB_URL"); v != "" {
		c.DB.URL = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("OPENAI_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		c.HTTP.Addr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// Validate checks struct tags and duration fields.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	for name, v := range map[string]string{"db.timeout": c.DB.Timeout, "llm.timeout": c.LLM.Timeout} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("invalid config: %s: %w", name, err)
		}
	}
	return nil
}

func (c *Config) DBTimeout() time.Duration {
	return parseDuration(c.DB.Timeout, 30*time.Second)
}

func (c *Config) LLMTimeout() time.Duration {
	return parseDuration(c.LLM.Timeout, 60*time.Second)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return fallback
}
