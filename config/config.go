package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Default complexity keywords checked by the heuristic router. Overridable
// via ROUTER_KEYWORDS (comma-separated).
var defaultKeywords = []string{
	"analyze", "analysis", "explain in detail", "compare and contrast",
	"evaluate", "assess", "critique", "argue", "justify", "reason",
	"derive", "prove", "demonstrate", "elaborate", "discuss in depth",
	"comprehensive", "thorough", "detailed explanation", "complex",
	"intricate", "sophisticated", "nuanced", "examine", "investigate",
	"explore", "review", "synthesize", "interpret", "contextualize",
}

type Config struct {
	// Server
	Port string // default: 8080

	// Upstream (Mistral API)
	MistralAPIKey  string
	MistralBaseURL string // default: https://api.mistral.ai/v1

	// Models
	ModelSmall string // default: mistral-small-latest
	ModelLarge string // default: mistral-medium-latest

	// Pricing, USD per 1M tokens
	PriceSmallInput  float64 // default: 0.1
	PriceSmallOutput float64 // default: 0.3
	PriceLargeInput  float64 // default: 0.4
	PriceLargeOutput float64 // default: 2.0

	// Routing thresholds
	ConversationThreshold int      // messages, default: 6
	TokenThreshold        int64    // estimated tokens, default: 150
	LengthThreshold       int      // prompt chars, default: 120
	Keywords              []string // complexity keywords

	// Fallback / quality
	ClientTimeout      time.Duration // per upstream call, default: 15s
	HealthCheckTimeout time.Duration // default: 5s
	MinCompletionChars int           // low-quality cutoff, default: 5

	// Auth
	RouterAPIKey string // static key; falls back to MistralAPIKey if unset

	// Optional backends
	PostgresDSN string // API key store; static key auth when empty
	RedisAddr   string // key cache + rate limiting; disabled when empty

	// Rate limiting
	DefaultRateLimitTPM int64 // tokens per minute, default: 100000

	// Observability
	OTELExporterType     string // "stdout" or "otlp"
	OTELExporterEndpoint string // default: "localhost:4317"
}

func Load() (*Config, error) {
	// Load .env file if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		MistralAPIKey:        os.Getenv("MISTRAL_API_KEY"),
		MistralBaseURL:       getEnv("MISTRAL_BASE_URL", "https://api.mistral.ai/v1"),
		ModelSmall:           getEnv("MODEL_SMALL", "mistral-small-latest"),
		ModelLarge:           getEnv("MODEL_LARGE", "mistral-medium-latest"),
		RouterAPIKey:         os.Getenv("ROUTER_API_KEY"),
		PostgresDSN:          os.Getenv("POSTGRES_DSN"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		OTELExporterType:     getEnv("OTEL_EXPORTER_TYPE", "stdout"),
		OTELExporterEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
	}

	var err error
	if cfg.PriceSmallInput, err = getEnvFloat("PRICE_SMALL_INPUT", 0.1); err != nil {
		return nil, err
	}
	if cfg.PriceSmallOutput, err = getEnvFloat("PRICE_SMALL_OUTPUT", 0.3); err != nil {
		return nil, err
	}
	if cfg.PriceLargeInput, err = getEnvFloat("PRICE_LARGE_INPUT", 0.4); err != nil {
		return nil, err
	}
	if cfg.PriceLargeOutput, err = getEnvFloat("PRICE_LARGE_OUTPUT", 2.0); err != nil {
		return nil, err
	}

	conv, err := getEnvInt("ROUTER_CONVERSATION_THRESHOLD", 6)
	if err != nil {
		return nil, err
	}
	cfg.ConversationThreshold = int(conv)

	if cfg.TokenThreshold, err = getEnvInt("ROUTER_TOKEN_THRESHOLD", 150); err != nil {
		return nil, err
	}

	length, err := getEnvInt("ROUTER_LENGTH_THRESHOLD", 120)
	if err != nil {
		return nil, err
	}
	cfg.LengthThreshold = int(length)

	minChars, err := getEnvInt("ROUTER_MIN_COMPLETION_CHARS", 5)
	if err != nil {
		return nil, err
	}
	cfg.MinCompletionChars = int(minChars)

	timeoutS, err := getEnvInt("ROUTER_CLIENT_TIMEOUT_S", 15)
	if err != nil {
		return nil, err
	}
	cfg.ClientTimeout = time.Duration(timeoutS) * time.Second

	healthS, err := getEnvInt("ROUTER_HEALTH_CHECK_TIMEOUT_S", 5)
	if err != nil {
		return nil, err
	}
	cfg.HealthCheckTimeout = time.Duration(healthS) * time.Second

	if cfg.DefaultRateLimitTPM, err = getEnvInt("DEFAULT_RATE_LIMIT_TPM", 100000); err != nil {
		return nil, err
	}

	cfg.Keywords = defaultKeywords
	if raw := os.Getenv("ROUTER_KEYWORDS"); raw != "" {
		cfg.Keywords = nil
		for _, kw := range strings.Split(raw, ",") {
			kw = strings.TrimSpace(strings.ToLower(kw))
			if kw != "" {
				cfg.Keywords = append(cfg.Keywords, kw)
			}
		}
	}

	// Validation
	if cfg.MistralAPIKey == "" {
		return nil, fmt.Errorf("MISTRAL_API_KEY is required")
	}
	if cfg.RouterAPIKey == "" {
		cfg.RouterAPIKey = cfg.MistralAPIKey
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int64) (int64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}
