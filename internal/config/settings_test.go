package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSettings(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dojo.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadSettings_EmptyPathUsesDefaults(t *testing.T) {
	s, err := LoadSettings("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", s.Listen)
	assert.Equal(t, "dojo.db", s.DBPath)
	assert.Equal(t, "info", s.LogLevel)
	assert.Equal(t, time.Minute, s.ClaimRetryInterval.Std())
}

func TestLoadSettings_FileOverrides(t *testing.T) {
	path := writeSettings(t, `
listen: ":9000"
db_path: /var/lib/dojo/dojo.db
webhook_secret: whsec_test
admin_token: tok_admin
log_level: debug
claim_retry_interval: 90s
claim_retry_batch: 10
`)

	s, err := LoadSettings(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", s.Listen)
	assert.Equal(t, "/var/lib/dojo/dojo.db", s.DBPath)
	assert.Equal(t, "whsec_test", s.WebhookSecret)
	assert.Equal(t, "tok_admin", s.AdminToken)
	assert.Equal(t, "debug", s.LogLevel)
	assert.Equal(t, 90*time.Second, s.ClaimRetryInterval.Std())
	assert.Equal(t, 10, s.ClaimRetryBatch)
	// Untouched keys keep defaults.
	assert.Equal(t, "rules", s.RulesDir)
}

func TestLoadSettings_EmptyFileUsesDefaults(t *testing.T) {
	s, err := LoadSettings(writeSettings(t, ""))
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), s)
}

func TestLoadSettings_UnknownKeyRejected(t *testing.T) {
	_, err := LoadSettings(writeSettings(t, "listn: \":9000\"\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listn")
}

func TestLoadSettings_BadDuration(t *testing.T) {
	_, err := LoadSettings(writeSettings(t, "claim_retry_interval: soon\n"))
	require.Error(t, err)
}

func TestLoadSettings_BadLogLevel(t *testing.T) {
	_, err := LoadSettings(writeSettings(t, "log_level: loud\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_level")
}

func TestSlogLevel(t *testing.T) {
	s := DefaultSettings()
	for level, want := range map[string]string{
		"debug": "DEBUG", "info": "INFO", "warn": "WARN", "error": "ERROR",
	} {
		s.LogLevel = level
		assert.Equal(t, want, s.SlogLevel().String())
	}
}

func TestLoadSettings_MissingFile(t *testing.T) {
	_, err := LoadSettings(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
