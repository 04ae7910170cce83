// Package config reads the service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

// History backends.
const (
	BackendSQLite   = "sqlite"
	BackendDynamoDB = "dynamodb"
	BackendPostgres = "postgres"
)

// Config holds all application configuration.
type Config struct {
	Port               string
	SessionTTL         time.Duration
	MaxMessageLength   int
	Placeholder        string
	BudgetSnapshotPath string
	LLM                LLMConfig
	History            HistoryConfig
	Log                LogConfig
}

// LLMConfig controls the model gateway. With no key and no key parameter the
// coach runs on the scripted dialogue only.
type LLMConfig struct {
	Enabled     bool
	APIKey      string
	APIKeyParam string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// HistoryConfig selects and configures the history store.
type HistoryConfig struct {
	Backend     string
	StateTable  string
	OwnerIndex  string
	SQLitePath  string
	PostgresDSN string
}

type LogConfig struct {
	Level string
	File  string
	JSON  bool
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := fromEnv(BackendSQLite)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadLambda is Load for the Lambda runtime. The history backend defaults to
// dynamodb, so STATE_TABLE is required unless another backend is chosen, and
// a sqlite file must live under /tmp, the only writable path there.
func LoadLambda() (*Config, error) {
	cfg := fromEnv(BackendDynamoDB)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.History.Backend == BackendSQLite && !strings.HasPrefix(filepath.Clean(cfg.History.SQLitePath), lambdaWritableDir) {
		return nil, fmt.Errorf("invalid configuration: SQLITE_PATH must be under %s on lambda", lambdaWritableDir)
	}
	return cfg, nil
}

const lambdaWritableDir = "/tmp/"

func fromEnv(defaultBackend string) *Config {
	return &Config{
		Port:               getEnv("PORT", "8080"),
		SessionTTL:         getEnvDuration("SESSION_TTL", time.Hour),
		MaxMessageLength:   getEnvInt("MAX_MESSAGE_LENGTH", 2000),
		Placeholder:        strings.TrimSpace(getEnv("EMPTY_MESSAGE_PLACEHOLDER", "")),
		BudgetSnapshotPath: getEnv("BUDGET_SNAPSHOT_PATH", ""),
		LLM: LLMConfig{
			Enabled:     getEnvBool("LLM_ENABLED", true),
			APIKey:      strings.TrimSpace(getEnv("LLM_API_KEY", "")),
			APIKeyParam: strings.TrimSpace(getEnv("LLM_API_KEY_PARAM", "")),
			BaseURL:     getEnv("LLM_BASE_URL", "https://api.openai.com/v1"),
			Model:       getEnv("LLM_MODEL", "gpt-4o-mini"),
			Temperature: getEnvFloat("LLM_TEMPERATURE", 0.45),
			MaxTokens:   getEnvInt("LLM_MAX_TOKENS", 600),
			Timeout:     getEnvDuration("LLM_TIMEOUT", 20*time.Second),
		},
		History: HistoryConfig{
			Backend:     strings.ToLower(strings.TrimSpace(getEnv("HISTORY_BACKEND", defaultBackend))),
			StateTable:  getEnv("STATE_TABLE", ""),
			OwnerIndex:  getEnv("OWNER_INDEX", "OwnerIndex"),
			SQLitePath:  getEnv("SQLITE_PATH", "./data/finance-coach.db"),
			PostgresDSN: getEnv("POSTGRES_DSN", ""),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
			File:  getEnv("LOG_FILE", ""),
			JSON:  getEnvBool("LOG_JSON", true),
		},
	}
}

// Validate checks that the selected backend is fully configured and that
// numeric settings are in range.
func (c *Config) Validate() error {
	switch c.History.Backend {
	case BackendSQLite:
		if strings.TrimSpace(c.History.SQLitePath) == "" {
			return fmt.Errorf("SQLITE_PATH cannot be empty")
		}
	case BackendDynamoDB:
		if strings.TrimSpace(c.History.StateTable) == "" {
			return fmt.Errorf("STATE_TABLE is required for the dynamodb backend")
		}
	case BackendPostgres:
		if strings.TrimSpace(c.History.PostgresDSN) == "" {
			return fmt.Errorf("POSTGRES_DSN is required for the postgres backend")
		}
	default:
		return fmt.Errorf("HISTORY_BACKEND %q is not one of sqlite, dynamodb, postgres", c.History.Backend)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("LLM_TEMPERATURE must be within [0, 2]")
	}
	if c.LLM.MaxTokens <= 0 {
		return fmt.Errorf("LLM_MAX_TOKENS must be > 0")
	}
	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("LLM_TIMEOUT must be > 0")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	if c.MaxMessageLength <= 0 {
		return fmt.Errorf("MAX_MESSAGE_LENGTH must be > 0")
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return nil
}

// HasCredential reports whether a model key can be resolved at all.
func (c LLMConfig) HasCredential() bool {
	return c.APIKey != "" || c.APIKeyParam != ""
}

// getEnv treats an empty variable as unset.
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
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

// getEnvDuration accepts Go durations ("20s") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
