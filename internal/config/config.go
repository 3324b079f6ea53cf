// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string

	GitHubToken string

	LLM           LLMConfig
	Embedding     EmbeddingConfig
	Chat          ChatConfig
	Scoring       ScoringConfig
	RateLimit     RateLimitConfig
	TranscriptLog TranscriptLogConfig

	IssueCacheTTL  time.Duration
	AuthSessionTTL time.Duration
}

// LLMConfig selects the completion providers and their order of preference.
type LLMConfig struct {
	GroqAPIKey   string
	GroqModel    string
	OpenAIAPIKey string
	OpenAIModel  string
	GeminiAPIKey string
	GeminiModel  string

	// ProviderOrder lists provider names ("groq", "openai", "gemini") in the
	// order they should be tried. Providers without an API key are skipped.
	ProviderOrder []string
}

// EmbeddingConfig selects the embedding backend for similarity search.
type EmbeddingConfig struct {
	Provider    string // "ollama", "gemini", or "" to disable embeddings
	OllamaHost  string
	OllamaModel string
	GeminiModel string
}

// ChatConfig bounds the assistant pipeline.
type ChatConfig struct {
	TokenBudget       int
	ToolTimeout       time.Duration
	MinCachedResults  int
	MaxMessageLength  int
	MaxResponseLength int
}

// ScoringConfig points at the optional recommendation weights override file.
type ScoringConfig struct {
	WeightsFile string
}

// RateLimitConfig throttles chat requests per user.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// TranscriptLogConfig controls NDJSON conversation transcripts.
type TranscriptLogConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("TRANSCRIPT_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/scout.db"),
		GitHubToken: getEnv("GITHUB_TOKEN", ""),
		LLM: LLMConfig{
			GroqAPIKey:    getEnv("GROQ_API_KEY", ""),
			GroqModel:     getEnv("GROQ_MODEL", "llama-3.3-70b-versatile"),
			OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
			OpenAIModel:   getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			GeminiAPIKey:  getEnv("GEMINI_API_KEY", ""),
			GeminiModel:   getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
			ProviderOrder: splitEnvList(getEnv("LLM_PROVIDER_ORDER", "groq,openai,gemini")),
		},
		Embedding: EmbeddingConfig{
			Provider:    strings.ToLower(getEnv("EMBEDDING_PROVIDER", "")),
			OllamaHost:  getEnv("OLLAMA_HOST", "http://localhost:11434"),
			OllamaModel: getEnv("OLLAMA_EMBED_MODEL", "nomic-embed-text"),
			GeminiModel: getEnv("GEMINI_EMBED_MODEL", "text-embedding-004"),
		},
		Chat: ChatConfig{
			TokenBudget:       getEnvInt("TOKEN_BUDGET", 6000),
			ToolTimeout:       getEnvDuration("TOOL_TIMEOUT", 5*time.Second),
			MinCachedResults:  getEnvInt("MIN_CACHED_RESULTS", 5),
			MaxMessageLength:  getEnvInt("MAX_MESSAGE_LENGTH", 2000),
			MaxResponseLength: getEnvInt("MAX_RESPONSE_LENGTH", 3000),
		},
		Scoring: ScoringConfig{
			WeightsFile: getEnv("SCORING_WEIGHTS_FILE", ""),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 10),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		TranscriptLog: TranscriptLogConfig{
			Enabled:   getEnvBool("TRANSCRIPT_LOG_ENABLED", true),
			Dir:       getEnv("TRANSCRIPT_LOG_DIR", "./data/logs/transcripts"),
			QueueSize: queueSize,
		},
		IssueCacheTTL:  getEnvDuration("ISSUE_CACHE_TTL", 24*time.Hour),
		AuthSessionTTL: getEnvDuration("AUTH_SESSION_TTL", 7*24*time.Hour),
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
	if c.Chat.TokenBudget <= 0 {
		return fmt.Errorf("TOKEN_BUDGET must be > 0")
	}
	if c.Chat.ToolTimeout <= 0 {
		return fmt.Errorf("TOOL_TIMEOUT must be > 0")
	}
	if c.Chat.MinCachedResults < 0 {
		return fmt.Errorf("MIN_CACHED_RESULTS cannot be negative")
	}
	if c.Chat.MaxMessageLength <= 0 {
		return fmt.Errorf("MAX_MESSAGE_LENGTH must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be > 0")
	}
	if c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be > 0")
	}
	if len(c.LLM.ProviderOrder) == 0 {
		return fmt.Errorf("LLM_PROVIDER_ORDER cannot be empty")
	}
	for _, p := range c.LLM.ProviderOrder {
		switch p {
		case "groq", "openai", "gemini":
		default:
			return fmt.Errorf("unknown provider %q in LLM_PROVIDER_ORDER", p)
		}
	}
	if c.IssueCacheTTL <= 0 {
		return fmt.Errorf("ISSUE_CACHE_TTL must be > 0")
	}
	if c.AuthSessionTTL <= 0 {
		return fmt.Errorf("AUTH_SESSION_TTL must be > 0")
	}
	if c.TranscriptLog.Enabled && c.TranscriptLog.Dir == "" {
		return fmt.Errorf("TRANSCRIPT_LOG_DIR cannot be empty when transcripts are enabled")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
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

func splitEnvList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}
