package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/jobgate/internal/config"
	"github.com/mihaimyh/jobgate/pkg/billing/deferred"
)

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, &config.Config{LogLevel: "warn", LogFormat: "json"})

	log.Info().Msg("hidden")
	log.Warn().Str("event_id", "evt_1").Msg("shown")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "shown", entry["message"])
	assert.Equal(t, "evt_1", entry["event_id"])
	assert.Equal(t, "jobgate", entry["component"])
}

func TestNewLogger_ConsoleAndBadLevel(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, &config.Config{LogLevel: "loud", LogFormat: "console"})

	log.Debug().Msg("hidden")
	log.Info().Msg("started")

	out := buf.String()
	assert.Contains(t, out, "started")
	assert.NotContains(t, out, "hidden")
	assert.False(t, json.Valid([]byte(strings.TrimSpace(out))))
}

func TestPrintDeadLetters(t *testing.T) {
	var buf bytes.Buffer
	deadLettersCmd.SetOut(&buf)
	t.Cleanup(func() { deadLettersCmd.SetOut(nil) })

	err := printDeadLetters(deadLettersCmd, []*deferred.Entry{{
		ID:        "01J0000000000000000000000",
		EventID:   "evt_1",
		EventType: "customer.subscription.created",
		Attempts:  12,
		LastError: "account unresolved",
		CreatedAt: time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC),
	}})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "EVENT ID")
	assert.Contains(t, out, "evt_1")
	assert.Contains(t, out, "2026-01-15T09:00:00Z")
	assert.Contains(t, out, "account unresolved")
}

func TestSyncCmd_RequiresAccountID(t *testing.T) {
	rootCmd.SetArgs([]string{"sync", "--env-file", filepath.Join(t.TempDir(), "none.env")})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	err := rootCmd.Execute()
	assert.Error(t, err)
}

func TestMigrateCmd_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	rootCmd.SetArgs([]string{"migrate", "--env-file", filepath.Join(t.TempDir(), "none.env")})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}
