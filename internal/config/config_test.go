package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points HOME at an empty directory so a developer's own
// ~/.timebank/timebank.yaml never leaks into a test.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	return home
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_ExplicitFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "custom.yaml")
	writeFile(t, path, `
databasePath: /var/lib/timebank/ledger.db
logLevel: debug
logFormat: json
metricsAddr: ":9100"
snapshotInterval: 25
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, &Config{
		DatabasePath:     "/var/lib/timebank/ledger.db",
		LogLevel:         "debug",
		LogFormat:        "json",
		MetricsAddr:      ":9100",
		SnapshotInterval: 25,
		QueueWarn:        1000,
	}, cfg)
}

func TestLoad_HomeFile(t *testing.T) {
	home := isolate(t)
	writeFile(t, filepath.Join(home, ".timebank", "timebank.yaml"), "logLevel: warn\n")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "timebank.db", cfg.DatabasePath)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "custom.yaml")
	writeFile(t, path, "logLevel: debug\nsnapshotInterval: 25\n")

	t.Setenv("TIMEBANK_LOG_LEVEL", "error")
	t.Setenv("TIMEBANK_SNAPSHOT_INTERVAL", "7")
	t.Setenv("TIMEBANK_DATABASE_PATH", "env.db")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.LogLevel)
	assert.Equal(t, 7, cfg.SnapshotInterval)
	assert.Equal(t, "env.db", cfg.DatabasePath)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	isolate(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}

func TestLoad_BadYAML(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "bad.yaml")
	writeFile(t, path, "snapshotInterval: [not, a, number]\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error parsing config file")
}

func TestLoad_BadEnv(t *testing.T) {
	isolate(t)
	t.Setenv("TIMEBANK_QUEUE_WARN", "lots")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error processing environment")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"defaults", func(*Config) {}, ""},
		{"unknown level", func(c *Config) { c.LogLevel = "trace" }, "invalid logLevel"},
		{"unknown format", func(c *Config) { c.LogFormat = "xml" }, "invalid logFormat"},
		{"negative interval", func(c *Config) { c.SnapshotInterval = -1 }, "snapshotInterval"},
		{"negative queue warn", func(c *Config) { c.QueueWarn = -5 }, "queueWarn"},
		{"empty database", func(c *Config) { c.DatabasePath = "" }, "databasePath"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_ReportsAll(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "loud"
	cfg.LogFormat = "xml"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logLevel")
	assert.Contains(t, err.Error(), "logFormat")
}
