// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port            string
	GRPCPort        string
	AllowedOrigins  []string
	DBPath          string
	ContextTimeout  time.Duration
	MaxRequestBytes int64
	AI              AIConfig
	Coze            CozeConfig
	DialogLog       DialogLogConfig
	RateLimit       RateLimitConfig
}

// AIConfig configures the OpenAI-compatible completion endpoint used for
// classification, planning and the direct chat tier.
type AIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// CozeConfig configures the retrieval-augmented chat agent.
type CozeConfig struct {
	BotID          string
	APIToken       string
	BaseURL        string
	PollInterval   time.Duration
	MaxPolls       int
	RequestTimeout time.Duration
	Budget         time.Duration
}

// DialogLogConfig controls persistence of dialog exchanges.
type DialogLogConfig struct {
	Enabled      bool
	Dir          string
	QueueSize    int
	WriteTimeout time.Duration
}

// RateLimitConfig bounds per-user request rates.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		GRPCPort:        getEnv("GRPC_PORT", "9090"),
		AllowedOrigins:  splitList(getEnv("ALLOWED_ORIGINS", "")),
		DBPath:          getEnv("DB_PATH", "./data/bookspirit.db"),
		ContextTimeout:  getEnvDuration("CONTEXT_TIMEOUT", 5*time.Second),
		MaxRequestBytes: int64(getEnvInt("MAX_REQUEST_BODY_BYTES", 64<<10)),
		AI: AIConfig{
			APIKey:  getEnv("AI_API_KEY", ""),
			BaseURL: getEnv("AI_BASE_URL", "https://api.deepseek.com"),
			Model:   getEnv("AI_MODEL", "deepseek-chat"),
			Timeout: getEnvDuration("AI_TIMEOUT", 90*time.Second),
		},
		Coze: CozeConfig{
			BotID:          getEnv("COZE_BOT_ID", ""),
			APIToken:       getEnv("COZE_API_TOKEN", ""),
			BaseURL:        getEnv("COZE_BASE_URL", "https://api.coze.cn"),
			PollInterval:   getEnvDuration("COZE_POLL_INTERVAL", 2*time.Second),
			MaxPolls:       getEnvInt("COZE_MAX_POLLS", 8),
			RequestTimeout: getEnvDuration("COZE_REQUEST_TIMEOUT", 10*time.Second),
			Budget:         getEnvDuration("COZE_BUDGET", 40*time.Second),
		},
		DialogLog: DialogLogConfig{
			Enabled:      getEnvBool("DIALOG_LOG_ENABLED", true),
			Dir:          getEnv("DIALOG_LOG_DIR", ""),
			QueueSize:    getEnvInt("DIALOG_LOG_QUEUE_SIZE", 1000),
			WriteTimeout: getEnvDuration("DIALOG_LOG_WRITE_TIMEOUT", 3*time.Second),
		},
		RateLimit: RateLimitConfig{
			Requests: getEnvInt("RATE_LIMIT_REQUESTS", 30),
			Window:   getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("PORT cannot be empty"))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("DB_PATH cannot be empty"))
	}
	if c.AI.BaseURL == "" {
		errs = append(errs, errors.New("AI_BASE_URL cannot be empty"))
	}
	if c.AI.Model == "" {
		errs = append(errs, errors.New("AI_MODEL cannot be empty"))
	}
	if c.AI.Timeout <= 0 {
		errs = append(errs, errors.New("AI_TIMEOUT must be > 0"))
	}
	if c.Coze.MaxPolls <= 0 {
		errs = append(errs, errors.New("COZE_MAX_POLLS must be > 0"))
	}
	if c.Coze.PollInterval <= 0 {
		errs = append(errs, errors.New("COZE_POLL_INTERVAL must be > 0"))
	}
	if c.Coze.Budget <= 0 {
		errs = append(errs, errors.New("COZE_BUDGET must be > 0"))
	}
	if c.ContextTimeout <= 0 {
		errs = append(errs, errors.New("CONTEXT_TIMEOUT must be > 0"))
	}
	if c.DialogLog.QueueSize <= 0 {
		errs = append(errs, errors.New("DIALOG_LOG_QUEUE_SIZE must be > 0"))
	}
	if c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0"))
	}
	if c.MaxRequestBytes <= 0 {
		errs = append(errs, errors.New("MAX_REQUEST_BODY_BYTES must be > 0"))
	}
	return errors.Join(errs...)
}

// CozeEnabled reports whether the retrieval-augmented tier is configured.
func (c *Config) CozeEnabled() bool {
	return c.Coze.BotID != "" && c.Coze.APIToken != ""
}

// AIEnabled reports whether an API key for the completion endpoint is set.
func (c *Config) AIEnabled() bool {
	return c.AI.APIKey != ""
}

// IsDevelopment returns true when no origin allow-list is configured.
func (c *Config) IsDevelopment() bool {
	return len(c.AllowedOrigins) == 0
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

// getEnvDuration accepts Go duration strings ("2s") or bare milliseconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
