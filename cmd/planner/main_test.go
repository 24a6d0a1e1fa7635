package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "timezone: UTC\ndata_path: " + filepath.Join(dir, "data.yaml") + "\ncache_dir: " + filepath.Join(dir, "cache") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	err := app.Run(append([]string{"planner"}, args...))
	return out.String(), err
}

func TestExpandCommand(t *testing.T) {
	cfg := writeConfig(t)

	out, err := run(t, "--config", cfg, "expand",
		"--anchor", "2025-01-31T09:00:00Z", "--end", "2025-01-31T10:00:00Z",
		"--rule", "monthly", "--from", "2025-01-01", "--to", "2025-04-30")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Equal(t, []string{
		"2025-01-31T09:00:00Z\t2025-01-31T10:00:00Z",
		"2025-02-28T09:00:00Z\t2025-02-28T10:00:00Z",
		"2025-03-31T09:00:00Z\t2025-03-31T10:00:00Z",
		"2025-04-30T09:00:00Z\t2025-04-30T10:00:00Z",
	}, lines)
}

func TestExpandCommand_RRule(t *testing.T) {
	cfg := writeConfig(t)

	out, err := run(t, "--config", cfg, "expand",
		"--anchor", "2025-01-06T07:00:00Z", "--rrule", "FREQ=WEEKLY;BYDAY=MO,WE,FR",
		"--from", "2025-01-06", "--to", "2025-01-12")
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 3)
}

func TestExpandCommand_Errors(t *testing.T) {
	cfg := writeConfig(t)

	_, err := run(t, "--config", cfg, "expand", "--anchor", "2025-01-01", "--from", "2025-02-01", "--to", "2025-01-01")
	assert.Error(t, err)

	_, err = run(t, "--config", cfg, "expand", "--anchor", "soon", "--from", "2025-01-01", "--to", "2025-01-02")
	assert.Error(t, err)

	_, err = run(t, "--config", cfg, "expand", "--anchor", "2025-01-01", "--rule", "fortnightly", "--from", "2025-01-01", "--to", "2025-01-31")
	assert.EqualError(t, err, `rule: unknown rule "fortnightly"`)
}

func TestSyncCommand_NoCalendars(t *testing.T) {
	_, err := run(t, "--config", writeConfig(t), "sync")
	assert.EqualError(t, err, "no calendars configured")
}
