package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Load reads the .env file specified by DROPHQ_ENV (or .env by default),
// then loads the corresponding .secret file if it exists.
// All config is flat env vars read via os.Getenv after loading.
func Load() error {
	envFile := os.Getenv("DROPHQ_ENV")
	if envFile == "" {
		envFile = ".env"
	}

	// Load main env file (ignore error if file doesn't exist)
	_ = godotenv.Load(envFile)

	// Load secret sidecar if it exists
	_ = godotenv.Load(envFile + ".secret")

	return nil
}

// DataDir returns the root directory for the filesystem artifact store.
// Defaults to "data" if not set.
func DataDir() string {
	dir := os.Getenv("DATA_DIR")
	if dir == "" {
		return "data"
	}
	return dir
}

func ServerPort() int {
	port, err := strconv.Atoi(os.Getenv("SERVER_PORT"))
	if err != nil {
		return 8080
	}
	return port
}

func ServerAddr() string {
	return fmt.Sprintf(":%d", ServerPort())
}

func OpenAIAPIKey() string {
	return os.Getenv("OPENAI_API_KEY")
}

func AnthropicAPIKey() string {
	return os.Getenv("ANTHROPIC_API_KEY")
}

// LLMProvider returns the configured generation provider.
// Defaults to "openai" if not set.
// Valid values: openai, anthropic, mock
func LLMProvider() string {
	p := os.Getenv("LLM_PROVIDER")
	if p == "" {
		return "openai"
	}
	return p
}

// LLMAPIKey returns the API key for the configured generation provider.
func LLMAPIKey() string {
	switch LLMProvider() {
	case "anthropic":
		return AnthropicAPIKey()
	case "mock":
		return ""
	default:
		return OpenAIAPIKey()
	}
}

// LLMRetryAttempts returns the max attempts for transient generation
// failures. Defaults to 3 if not set.
func LLMRetryAttempts() int {
	n, err := strconv.Atoi(os.Getenv("LLM_RETRY_ATTEMPTS"))
	if err != nil || n < 1 {
		return 3
	}
	return n
}

// LLMRetryBase returns the base backoff delay between retries.
// Defaults to 500ms if not set.
func LLMRetryBase() time.Duration {
	ms, err := strconv.Atoi(os.Getenv("LLM_RETRY_BASE_MS"))
	if err != nil || ms <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(ms) * time.Millisecond
}

// ContextMaxTokens returns the assumed context window for budget tracking.
// Defaults to 200000 if not set.
func ContextMaxTokens() int {
	n, err := strconv.Atoi(os.Getenv("CONTEXT_MAX_TOKENS"))
	if err != nil || n <= 0 {
		return 200000
	}
	return n
}

// ContextWarnThreshold returns the usage fraction that triggers warnings.
// Defaults to 0.8 if not set.
func ContextWarnThreshold() float64 {
	f, err := strconv.ParseFloat(os.Getenv("CONTEXT_WARN_THRESHOLD"), 64)
	if err != nil || f <= 0 || f > 1 {
		return 0.8
	}
	return f
}

// APIKey returns the static bearer token protecting the /v1 routes.
// Empty means auth is disabled (local single-user mode).
func APIKey() string {
	return os.Getenv("API_KEY")
}

// RateLimitRPS returns requests per second limit.
// Defaults to 100 if not set.
func RateLimitRPS() float64 {
	rps, err := strconv.ParseFloat(os.Getenv("RATE_LIMIT_RPS"), 64)
	if err != nil || rps <= 0 {
		return 100
	}
	return rps
}

// RateLimitBurst returns the burst size for rate limiting.
// Defaults to 20 if not set.
func RateLimitBurst() int {
	burst, err := strconv.Atoi(os.Getenv("RATE_LIMIT_BURST"))
	if err != nil || burst <= 0 {
		return 20
	}
	return burst
}

// LogLevel returns the log level (debug, info, warn, error).
// Defaults to "info" if not set.
func LogLevel() string {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		return "info"
	}
	return level
}
