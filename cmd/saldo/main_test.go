package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jask/saldo/internal/api"
	"github.com/jask/saldo/internal/config"
	"github.com/jask/saldo/internal/reconcile"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("SALDO_CONFIG", "")
	t.Setenv("SALDO_DATABASE_PATH", filepath.Join(home, "data", "saldo.db"))
	t.Setenv("SALDO_LOG_LEVEL", "error")
	return home
}

func TestBalanceSettings(t *testing.T) {
	th, def, err := balanceSettings(config.BalanceConfig{AlertThreshold: "25", HighThreshold: "100", Default: "12.5"})
	require.NoError(t, err)
	require.Equal(t, "25", th.Alert.String())
	require.Equal(t, "100", th.High.String())
	require.Equal(t, "12.5", def.String())

	th, def, err = balanceSettings(config.BalanceConfig{})
	require.NoError(t, err)
	require.True(t, th.Alert.Equal(reconcile.DefaultThresholds().Alert))
	require.True(t, def.IsZero())

	_, _, err = balanceSettings(config.BalanceConfig{AlertThreshold: "300", HighThreshold: "200"})
	require.Error(t, err)
	_, _, err = balanceSettings(config.BalanceConfig{Default: "lots"})
	require.Error(t, err)
}

func TestHashPasswordCommand(t *testing.T) {
	out, err := run(t, "hunter2\n", "hash-password")
	require.NoError(t, err)
	require.NoError(t, api.VerifyPassword(strings.TrimSpace(out), "hunter2"))

	_, err = run(t, "", "hash-password")
	require.Error(t, err)
}

func TestKeyCommands(t *testing.T) {
	isolate(t)

	out, err := run(t, "sk-test\n", "key", "set", "openai")
	require.NoError(t, err)
	require.Contains(t, out, "Stored key for openai")

	out, err = run(t, "", "key", "delete", "openai")
	require.NoError(t, err)
	require.Contains(t, out, "Deleted key for openai")
}

func TestDemoStatusAndBackup(t *testing.T) {
	home := isolate(t)

	out, err := run(t, "", "demo", "--days", "30")
	require.NoError(t, err)
	require.Contains(t, out, "rule(s) added")

	out, err = run(t, "", "status", "--json")
	require.NoError(t, err)
	var rep reconcile.Report
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	require.True(t, rep.HasBaseline)
	require.Equal(t, reconcile.SeverityNone, rep.Severity)

	out, err = run(t, "", "balance", "set", "10", "--note", "test")
	require.NoError(t, err)
	require.Contains(t, out, "-> 10.00 (manual_override)")

	out, err = run(t, "", "status")
	require.NoError(t, err)
	require.Contains(t, out, "Severity     high")

	_, err = run(t, "", "balance", "reset")
	require.ErrorContains(t, err, "--yes")

	path := filepath.Join(home, "backup.json")
	out, err = run(t, "", "backup", path)
	require.NoError(t, err)
	require.Contains(t, out, path)

	_, err = run(t, "", "restore", path)
	require.ErrorContains(t, err, "--yes")
	out, err = run(t, "", "restore", path, "--yes")
	require.NoError(t, err)
	require.Contains(t, out, "Restored backup")

	out, err = run(t, "", "recategorize", "--dry-run")
	require.NoError(t, err)
	require.Contains(t, out, "would update")
}
