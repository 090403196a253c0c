package main

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"autograb/internal/config"
)

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	require.Equal(t, slog.LevelWarn, parseLevel("warn"))
	require.Equal(t, slog.LevelError, parseLevel(" error "))
	require.Equal(t, slog.LevelInfo, parseLevel(""))
	require.Equal(t, slog.LevelInfo, parseLevel("chatty"))
}

func TestReplayCommand(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "autograb.yaml")
	logPath := filepath.Join(dir, "auto_orders.log")
	require.NoError(t, os.WriteFile(cfgPath, []byte("thresholds:\n  min_quantity: 50\n  min_unit_price: 4000\nlog:\n  file: "+logPath+"\n"), 0o600))

	transcript := filepath.Join(dir, "session.jsonl")
	require.NoError(t, os.WriteFile(transcript, []byte(strings.Join([]string{
		`{"id":"1","text":"Номер заказа: 12\nВсего тонн: 45,7\nМаксимальная цена за тонну: 5000\nНет предложений\nНомер заказа: 13\nВсего тонн: 80\nМаксимальная цена за тонну: 4100.9\nНет предложений","affordances":[{"label":"Возьму","ref":"a"},{"label":"Возьму","ref":"b"}]}`,
		`{"id":"2","text":"Сколько тонн можете взять?"}`,
		`{"id":"3","text":"Ваша цена?"}`,
	}, "\n")), 0o600))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"replay", transcript, "--config", cfgPath})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})
	require.NoError(t, rootCmd.Execute())

	require.Equal(t, strings.Join([]string{
		`{"action":"trigger_accept","ref":"b"}`,
		`{"action":"send_text","text":"80"}`,
		`{"action":"send_text","text":"4100"}`,
	}, "\n")+"\n", out.String())

	logged, err := os.ReadFile(logPath)
	require.NoError(t, err)
	require.Contains(t, string(logged), "replay finished")
}

func TestReplayCommand_MissingFile(t *testing.T) {
	rootCmd.SetArgs([]string{"replay", filepath.Join(t.TempDir(), "missing.jsonl"), "--config", filepath.Join(t.TempDir(), "none.yaml")})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	err := rootCmd.Execute()
	require.ErrorContains(t, err, "open transcript")
}

func TestJournalCommand_RequiresTable(t *testing.T) {
	t.Setenv("JOURNAL_TABLE", "")
	rootCmd.SetArgs([]string{"journal", "list", "--config", filepath.Join(t.TempDir(), "none.yaml")})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	err := rootCmd.Execute()
	require.ErrorContains(t, err, "journal table is not configured")
}

func TestInitCommand(t *testing.T) {
	t.Setenv("MIN_TONS", "55")
	cfgPath := filepath.Join(t.TempDir(), "autograb.yaml")
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
		initForce = false
	})

	rootCmd.SetArgs([]string{"init", "--config", cfgPath})
	require.NoError(t, rootCmd.Execute())
	require.Contains(t, out.String(), "wrote "+cfgPath)

	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	require.Equal(t, 55.0, cfg.Thresholds.MinQuantity)
	require.Equal(t, config.Default().QuestionExpiry(), cfg.QuestionExpiry())

	rootCmd.SetArgs([]string{"init", "--config", cfgPath})
	require.ErrorContains(t, rootCmd.Execute(), "already exists")

	rootCmd.SetArgs([]string{"init", "--config", cfgPath, "--force"})
	require.NoError(t, rootCmd.Execute())
}
