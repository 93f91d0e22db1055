package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the summary service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	LogLevel         string
	LogFormat        string

	StoreKind                string
	DatabaseURL              string
	SQLitePath               string
	FirestoreProjectID       string
	FirestoreCollection      string
	FirestoreCredentialsFile string

	Providers       []string
	ProviderTimeout time.Duration

	AnthropicAPIKey  string
	AnthropicModel   string
	AnthropicBaseURL string

	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string

	HTTPProviderURL   string
	HTTPProviderToken string

	Instruction string
	MaxWords    int
	MaxChars    int
	MinLines    int
	RedactPII   bool
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "echoverse"),
		LogLevel:         strings.ToLower(envOrDefault("APP_LOG_LEVEL", "info")),
		LogFormat:        strings.ToLower(envOrDefault("APP_LOG_FORMAT", "json")),
		ShutdownTimeout:  15 * time.Second,

		StoreKind:                strings.ToLower(envOrDefault("SUMMARY_STORE", "auto")),
		DatabaseURL:              stringsTrimSpace("DATABASE_URL"),
		SQLitePath:               stringsTrimSpace("SQLITE_PATH"),
		FirestoreProjectID:       stringsTrimSpace("FIRESTORE_PROJECT_ID"),
		FirestoreCollection:      envOrDefault("FIRESTORE_COLLECTION", "poems"),
		FirestoreCredentialsFile: stringsTrimSpace("FIRESTORE_CREDENTIALS_FILE"),

		Providers:       listFromEnv("SUMMARY_PROVIDERS", []string{"anthropic", "openai"}),
		ProviderTimeout: 12 * time.Second,

		AnthropicAPIKey:  stringsTrimSpace("ANTHROPIC_API_KEY"),
		AnthropicModel:   stringsTrimSpace("ANTHROPIC_MODEL"),
		AnthropicBaseURL: stringsTrimSpace("ANTHROPIC_BASE_URL"),
		OpenAIAPIKey:     stringsTrimSpace("OPENAI_API_KEY"),
		// The second provider historically pointed at an OpenAI-compatible DeepSeek endpoint.
		OpenAIBaseURL: stringsTrimSpace("OPENAI_BASE_URL"),
		OpenAIModel:   stringsTrimSpace("OPENAI_MODEL"),

		HTTPProviderURL:   stringsTrimSpace("SUMMARY_HTTP_PROVIDER_URL"),
		HTTPProviderToken: stringsTrimSpace("SUMMARY_HTTP_PROVIDER_TOKEN"),

		Instruction: stringsTrimSpace("SUMMARY_PROMPT"),
		MaxWords:    8,
		MaxChars:    80,
		MinLines:    2,
		RedactPII:   true,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ProviderTimeout, err = durationFromEnv("SUMMARY_PROVIDER_TIMEOUT", cfg.ProviderTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxWords, err = intFromEnv("SUMMARY_MAX_WORDS", cfg.MaxWords)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxChars, err = intFromEnv("SUMMARY_MAX_CHARS", cfg.MaxChars)
	if err != nil {
		return Config{}, err
	}
	cfg.MinLines, err = intFromEnv("SUMMARY_MIN_LINES", cfg.MinLines)
	if err != nil {
		return Config{}, err
	}
	cfg.RedactPII, err = boolFromEnv("SUMMARY_REDACT_PII", cfg.RedactPII)
	if err != nil {
		return Config{}, err
	}

	if cfg.ProviderTimeout < time.Second || cfg.ProviderTimeout > time.Minute {
		return Config{}, fmt.Errorf("SUMMARY_PROVIDER_TIMEOUT must be between 1s and 60s")
	}
	if cfg.MaxWords < 1 || cfg.MaxWords > 20 {
		return Config{}, fmt.Errorf("SUMMARY_MAX_WORDS must be between 1 and 20")
	}
	if cfg.MaxChars < 10 {
		return Config{}, fmt.Errorf("SUMMARY_MAX_CHARS must be at least 10")
	}
	if cfg.MinLines < 1 {
		return Config{}, fmt.Errorf("SUMMARY_MIN_LINES must be positive")
	}
	switch cfg.LogFormat {
	case "json", "console":
	default:
		return Config{}, fmt.Errorf("APP_LOG_FORMAT must be json or console")
	}
	switch cfg.StoreKind {
	case "auto", "memory", "postgres", "sqlite", "firestore":
	default:
		return Config{}, fmt.Errorf("SUMMARY_STORE must be one of auto|memory|postgres|sqlite|firestore")
	}
	if err := cfg.validateProviders(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// validateProviders fails fast when a listed provider has no credentials.
func (c Config) validateProviders() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("SUMMARY_PROVIDERS must list at least one provider")
	}
	for _, name := range c.Providers {
		switch name {
		case "anthropic":
			if c.AnthropicAPIKey == "" {
				return fmt.Errorf("ANTHROPIC_API_KEY is required when SUMMARY_PROVIDERS includes anthropic")
			}
		case "openai":
			if c.OpenAIAPIKey == "" {
				return fmt.Errorf("OPENAI_API_KEY is required when SUMMARY_PROVIDERS includes openai")
			}
		case "http":
			if c.HTTPProviderURL == "" {
				return fmt.Errorf("SUMMARY_HTTP_PROVIDER_URL is required when SUMMARY_PROVIDERS includes http")
			}
		case "mock":
		default:
			return fmt.Errorf("SUMMARY_PROVIDERS: unsupported provider %q", name)
		}
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

// listFromEnv splits a comma-separated value, lowercasing and dropping empties.
func listFromEnv(key string, fallback []string) []string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
