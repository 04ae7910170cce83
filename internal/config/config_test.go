package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var allKeys = []string{
	"PORT", "SESSION_TTL", "MAX_MESSAGE_LENGTH", "EMPTY_MESSAGE_PLACEHOLDER", "BUDGET_SNAPSHOT_PATH",
	"LLM_ENABLED", "LLM_API_KEY", "LLM_API_KEY_PARAM", "LLM_BASE_URL", "LLM_MODEL",
	"LLM_TEMPERATURE", "LLM_MAX_TOKENS", "LLM_TIMEOUT",
	"HISTORY_BACKEND", "STATE_TABLE", "OWNER_INDEX", "SQLITE_PATH", "POSTGRES_DSN",
	"LOG_LEVEL", "LOG_FILE", "LOG_JSON",
}

// clearEnv blanks every key for the test. Blank reads as unset and
// t.Setenv restores the previous values afterwards.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allKeys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "8080", cfg.Port)
	require.Equal(t, BackendSQLite, cfg.History.Backend)
	require.Equal(t, "./data/finance-coach.db", cfg.History.SQLitePath)
	require.Equal(t, "OwnerIndex", cfg.History.OwnerIndex)
	require.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	require.Equal(t, "https://api.openai.com/v1", cfg.LLM.BaseURL)
	require.Equal(t, "info", cfg.Log.Level)
	require.Equal(t, time.Hour, cfg.SessionTTL)
	require.Equal(t, 2000, cfg.MaxMessageLength)
	require.True(t, cfg.LLM.Enabled)
	require.InDelta(t, 0.45, cfg.LLM.Temperature, 1e-9)
	require.Equal(t, 600, cfg.LLM.MaxTokens)
	require.Equal(t, 20*time.Second, cfg.LLM.Timeout)
	require.False(t, cfg.LLM.HasCredential())
	require.True(t, cfg.Log.JSON)
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("HISTORY_BACKEND", " DynamoDB ")
	t.Setenv("STATE_TABLE", "coach-history")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LLM_ENABLED", "off")
	t.Setenv("LLM_API_KEY_PARAM", "/coach/llm-key")
	t.Setenv("LLM_TEMPERATURE", "0.2")
	t.Setenv("LLM_MAX_TOKENS", "300")
	t.Setenv("LLM_TIMEOUT", "5")
	t.Setenv("SESSION_TTL", "15m")
	t.Setenv("EMPTY_MESSAGE_PLACEHOLDER", "  Parlez-moi de vous.  ")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, BackendDynamoDB, cfg.History.Backend)
	require.Equal(t, "coach-history", cfg.History.StateTable)
	require.False(t, cfg.LLM.Enabled)
	require.True(t, cfg.LLM.HasCredential())
	require.InDelta(t, 0.2, cfg.LLM.Temperature, 1e-9)
	require.Equal(t, 300, cfg.LLM.MaxTokens)
	require.Equal(t, 5*time.Second, cfg.LLM.Timeout)
	require.Equal(t, 15*time.Minute, cfg.SessionTTL)
	require.Equal(t, "Parlez-moi de vous.", cfg.Placeholder)
}

func TestLoad_Invalid(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"unknown backend", map[string]string{"HISTORY_BACKEND": "mongo"}, "HISTORY_BACKEND"},
		{"dynamodb without table", map[string]string{"HISTORY_BACKEND": "dynamodb"}, "STATE_TABLE"},
		{"postgres without dsn", map[string]string{"HISTORY_BACKEND": "postgres"}, "POSTGRES_DSN"},
		{"temperature out of range", map[string]string{"LLM_TEMPERATURE": "3"}, "LLM_TEMPERATURE"},
		{"bad log level", map[string]string{"LOG_LEVEL": "loud"}, "LOG_LEVEL"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.ErrorContains(t, err, tc.want)
		})
	}
}

func TestLoadLambda_DefaultsToDynamoDB(t *testing.T) {
	clearEnv(t)
	_, err := LoadLambda()
	require.ErrorContains(t, err, "STATE_TABLE")

	t.Setenv("STATE_TABLE", "coach-history")
	cfg, err := LoadLambda()
	require.NoError(t, err)
	require.Equal(t, BackendDynamoDB, cfg.History.Backend)
	require.Equal(t, "coach-history", cfg.History.StateTable)
}

func TestLoadLambda_SQLiteOnlyUnderTmp(t *testing.T) {
	clearEnv(t)
	t.Setenv("HISTORY_BACKEND", "sqlite")
	_, err := LoadLambda()
	require.ErrorContains(t, err, "SQLITE_PATH must be under /tmp/")

	t.Setenv("SQLITE_PATH", "/tmp/../var/coach.db")
	_, err = LoadLambda()
	require.Error(t, err)

	t.Setenv("SQLITE_PATH", "/tmp/coach/history.db")
	cfg, err := LoadLambda()
	require.NoError(t, err)
	require.Equal(t, BackendSQLite, cfg.History.Backend)
}

func TestGetEnvHelpers_FallBackOnGarbage(t *testing.T) {
	t.Setenv("X_BOOL", "maybe")
	t.Setenv("X_INT", "many")
	t.Setenv("X_DUR", "soon")
	require.True(t, getEnvBool("X_BOOL", true))
	require.Equal(t, 7, getEnvInt("X_INT", 7))
	require.Equal(t, time.Minute, getEnvDuration("X_DUR", time.Minute))
}
