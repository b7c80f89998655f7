package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config stores all configuration for the collector service.
type Config struct {
	PostgresURL   string `mapstructure:"POSTGRES_URL"`
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`
	ServerPort    string `mapstructure:"SERVER_PORT"`

	CollectorID   string `mapstructure:"COLLECTOR_ID"`
	CollectorName string `mapstructure:"COLLECTOR_NAME"`
	Executor      string `mapstructure:"EXECUTOR"`
	RouteHint     string `mapstructure:"ROUTE_HINT"`

	PollSeconds  int `mapstructure:"POLL_SECONDS"`
	ClaimLimit   int `mapstructure:"CLAIM_LIMIT"`
	LeaseSeconds int `mapstructure:"LEASE_SECONDS"`

	FetchTimeoutSeconds    int `mapstructure:"FETCH_TIMEOUT_SECONDS"`
	NavigateTimeoutSeconds int `mapstructure:"NAVIGATE_TIMEOUT_SECONDS"`
	DOMReadyWaitSeconds    int `mapstructure:"DOM_READY_WAIT_SECONDS"`

	VisionEnabled      bool   `mapstructure:"VISION_ENABLED"`
	VisionProvider     string `mapstructure:"VISION_PROVIDER"`
	VisionModel        string `mapstructure:"VISION_MODEL"`
	OpenRouterAPIKey   string `mapstructure:"OPENROUTER_API_KEY"`
	OpenAIAPIKey       string `mapstructure:"OPENAI_API_KEY"`
	DOMFallbackEnabled bool   `mapstructure:"DOM_FALLBACK_ENABLED"`

	GuardrailMinConfidence float64 `mapstructure:"GUARDRAIL_MIN_CONFIDENCE"`
	GuardrailMaxRelDelta   float64 `mapstructure:"GUARDRAIL_MAX_REL_DELTA"`

	UserAgent string `mapstructure:"USER_AGENT"`
	LogLevel  string `mapstructure:"LOG_LEVEL"`
}

// Load reads configuration from file or environment variables.
func Load() (*Config, error) {
	viper.SetConfigFile(".env")
	viper.SetConfigType("env")
	viper.AutomaticEnv()

	// Attempt to read the .env file, but don't fail if it's not present.
	// This allows configuration purely through environment variables in production.
	_ = viper.ReadInConfig()

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("EXECUTOR", "collector")
	viper.SetDefault("ROUTE_HINT", "collector_first")
	viper.SetDefault("POLL_SECONDS", 20)
	viper.SetDefault("CLAIM_LIMIT", 5)
	viper.SetDefault("LEASE_SECONDS", 120)
	viper.SetDefault("FETCH_TIMEOUT_SECONDS", 30)
	viper.SetDefault("NAVIGATE_TIMEOUT_SECONDS", 30)
	viper.SetDefault("DOM_READY_WAIT_SECONDS", 5)
	viper.SetDefault("VISION_ENABLED", false)
	viper.SetDefault("DOM_FALLBACK_ENABLED", true)
	viper.SetDefault("GUARDRAIL_MIN_CONFIDENCE", 0.92)
	viper.SetDefault("GUARDRAIL_MAX_REL_DELTA", 0.5)
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("USER_AGENT",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36")

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// PollInterval returns the loop sleep target.
func (c *Config) PollInterval() time.Duration {
	if c.PollSeconds < 5 {
		return 5 * time.Second
	}
	return time.Duration(c.PollSeconds) * time.Second
}

// FetchTimeout bounds the HTTP extraction stage.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSeconds) * time.Second
}

// NavigateTimeout bounds a single browser navigation.
func (c *Config) NavigateTimeout() time.Duration {
	return time.Duration(c.NavigateTimeoutSeconds) * time.Second
}

// DOMReadyWait bounds the wait for product/price DOM signals after navigation.
func (c *Config) DOMReadyWait() time.Duration {
	return time.Duration(c.DOMReadyWaitSeconds) * time.Second
}
