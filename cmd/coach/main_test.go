package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"finance-coach/internal/bootstrap"
	"finance-coach/internal/coaching"
	"finance-coach/internal/config"
)

func TestChat_ScriptedSession(t *testing.T) {
	cfg := &config.Config{
		SessionTTL:       time.Hour,
		MaxMessageLength: 2000,
		LLM:              config.LLMConfig{Enabled: false, Model: "gpt-4o-mini", MaxTokens: 600, Timeout: time.Second},
		History: config.HistoryConfig{
			Backend:    config.BackendSQLite,
			SQLitePath: filepath.Join(t.TempDir(), "chat.db"),
		},
	}
	ctx := context.Background()
	app, err := bootstrap.New(ctx, cfg, nil)
	require.NoError(t, err)
	defer func() { require.NoError(t, app.Close()) }()

	goalID, ownerID = string(coaching.GoalEmergencyFund), "cli-test"
	defer func() { goalID, ownerID = "", "local" }()

	var out bytes.Buffer
	err = chat(ctx, app.Service, strings.NewReader("3 mois\n/quit\n"), &out)
	require.NoError(t, err)

	printed := out.String()
	require.Contains(t, printed, "Objectif : ")
	require.Contains(t, printed, coaching.OfflineNotice)
	// quick replies may themselves contain "> ", prompts start a line
	require.Equal(t, 2, strings.Count("\n"+printed, "\n> "))

	items, err := app.Service.ListHistory(ctx, "cli-test", 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
}

func TestPrintReply_QuickReplies(t *testing.T) {
	var out bytes.Buffer
	printReply(&out, "", "Combien ?", []string{"1 mois", "3 mois"})
	require.Equal(t, "Combien ?\n  [1 mois | 3 mois]\n", out.String())
}
