// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port            string
	FrontendURL     string
	DBPath          string
	LogLevel        slog.Level
	SessionTTL      time.Duration
	DefaultLanguage string
	SubActionClear  time.Duration
	TransitionDelay time.Duration
	MaxRequestBody  int64
	LLM             LLMConfig
	Tactical        RateLimitConfig
	Sweep           SweepConfig
}

// LLMConfig selects and tunes the content generator backend.
type LLMConfig struct {
	Provider      string
	Model         string
	APIKey        string
	BaseURL       string
	GeneratorAddr string
	Temperature   float32
	MaxTokens     int
	Retry         RetryConfig
}

// RetryConfig bounds rate-limit retries against the generator backend.
type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
}

// RateLimitConfig limits ad-hoc generator calls per user and caches
// their results.
type RateLimitConfig struct {
	Limit    int
	Window   time.Duration
	CacheTTL time.Duration
}

// SweepConfig controls the background cleanup of expired sign-ins and
// idle device controllers.
type SweepConfig struct {
	Interval time.Duration
	IdleTTL  time.Duration
}

// Provider names.
const (
	ProviderGemini    = "gemini"
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderDeepSeek  = "deepseek"
	ProviderGroq      = "groq"
	ProviderOllama    = "ollama"
	ProviderGRPC      = "grpc"
)

var defaultModels = map[string]string{
	ProviderGemini:    "gemini-2.5-flash",
	ProviderAnthropic: "claude-sonnet-4-5",
	ProviderOpenAI:    "gpt-4o-mini",
	ProviderDeepSeek:  "deepseek-chat",
	ProviderGroq:      "llama-3.3-70b-versatile",
	ProviderOllama:    "llama3.1",
	ProviderGRPC:      "default",
}

var providerKeyEnv = map[string]string{
	ProviderGemini:    "GEMINI_API_KEY",
	ProviderAnthropic: "ANTHROPIC_API_KEY",
	ProviderOpenAI:    "OPENAI_API_KEY",
	ProviderDeepSeek:  "DEEPSEEK_API_KEY",
	ProviderGroq:      "GROQ_API_KEY",
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	provider := strings.ToLower(getEnv("LLM_PROVIDER", ProviderGemini))

	apiKey := getEnv("LLM_API_KEY", "")
	if apiKey == "" {
		if name, ok := providerKeyEnv[provider]; ok {
			apiKey = getEnv(name, "")
		}
	}

	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		FrontendURL:     getEnv("FRONTEND_URL", ""),
		DBPath:          getEnv("DB_PATH", "./data/growthdesk.db"),
		LogLevel:        parseLevel(getEnv("LOG_LEVEL", "info")),
		SessionTTL:      getEnvDuration("SESSION_TTL", 7*24*time.Hour),
		DefaultLanguage: getEnv("DEFAULT_LANGUAGE", "es"),
		SubActionClear:  getEnvDuration("SUB_ACTION_CLEAR_DELAY", 100*time.Millisecond),
		TransitionDelay: getEnvDuration("TRANSITION_DELAY", 1500*time.Millisecond),
		MaxRequestBody:  int64(getEnvInt("MAX_REQUEST_BODY_SIZE", 1<<20)),
		LLM: LLMConfig{
			Provider:      provider,
			Model:         getEnv("LLM_MODEL", defaultModels[provider]),
			APIKey:        apiKey,
			BaseURL:       getEnv("LLM_BASE_URL", ""),
			GeneratorAddr: getEnv("GENERATOR_ADDR", "localhost:50061"),
			Temperature:   float32(getEnvFloat("LLM_TEMPERATURE", 0.7)),
			MaxTokens:     getEnvInt("LLM_MAX_TOKENS", 8192),
			Retry: RetryConfig{
				MaxRetries:   getEnvInt("LLM_MAX_RETRIES", 3),
				InitialDelay: getEnvDuration("LLM_RETRY_INITIAL", 2*time.Second),
				MaxDelay:     getEnvDuration("LLM_RETRY_MAX", 30*time.Second),
				Multiplier:   2.0,
				Jitter:       getEnvBool("LLM_RETRY_JITTER", true),
			},
		},
		Tactical: RateLimitConfig{
			Limit:    getEnvInt("TACTICAL_RATE_LIMIT", 20),
			Window:   getEnvDuration("TACTICAL_RATE_WINDOW", time.Minute),
			CacheTTL: getEnvDuration("TACTICAL_CACHE_TTL", 10*time.Minute),
		},
		Sweep: SweepConfig{
			Interval: getEnvDuration("SWEEP_INTERVAL", 5*time.Minute),
			IdleTTL:  getEnvDuration("CONTROLLER_IDLE_TTL", 30*time.Minute),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	if c.DefaultLanguage != "es" && c.DefaultLanguage != "en" {
		return fmt.Errorf("DEFAULT_LANGUAGE must be es or en, got %q", c.DefaultLanguage)
	}
	if _, ok := defaultModels[c.LLM.Provider]; !ok {
		return fmt.Errorf("unknown LLM_PROVIDER %q", c.LLM.Provider)
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("LLM_MODEL cannot be empty")
	}
	if c.LLM.Retry.MaxRetries < 0 {
		return fmt.Errorf("LLM_MAX_RETRIES must be >= 0")
	}
	if c.LLM.Retry.InitialDelay <= 0 || c.LLM.Retry.MaxDelay < c.LLM.Retry.InitialDelay {
		return fmt.Errorf("LLM retry delays must satisfy 0 < LLM_RETRY_INITIAL <= LLM_RETRY_MAX")
	}
	if c.Tactical.Limit <= 0 || c.Tactical.Window <= 0 {
		return fmt.Errorf("TACTICAL_RATE_LIMIT and TACTICAL_RATE_WINDOW must be > 0")
	}
	if c.MaxRequestBody <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_SIZE must be > 0")
	}
	if c.Sweep.Interval <= 0 || c.Sweep.IdleTTL <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL and CONTROLLER_IDLE_TTL must be > 0")
	}
	return nil
}

// RequiresAPIKey reports whether the selected provider needs a key.
func (c *LLMConfig) RequiresAPIKey() bool {
	return c.Provider != ProviderOllama && c.Provider != ProviderGRPC
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins for the configured frontend.
func (c *Config) AllowedOrigins() []string {
	if c.FrontendURL == "" {
		return []string{"*"}
	}
	return []string{strings.TrimRight(c.FrontendURL, "/")}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
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

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
