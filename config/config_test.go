package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, int64(42), cfg.Training.Seed)
	assert.Equal(t, 8080, cfg.HTTP.Port)
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, `
log:
  level: debug
  format: console
dataset:
  path: fields.csv
  delimiter: ";"
  encoding: windows-1252
artifacts:
  dir: /srv/models
training:
  seed: 7
  boruta:
    max_iter: 50
http:
  port: 9000
  timeout: 5s
  allowed_origins: ["https://maps.example.org"]
database:
  path: ""
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "fields.csv", cfg.Dataset.Path)
	assert.Equal(t, ";", cfg.Dataset.Delimiter)
	assert.Equal(t, "windows-1252", cfg.Dataset.Encoding)
	assert.Equal(t, "/srv/models", cfg.Artifacts.Dir)
	assert.Equal(t, int64(7), cfg.Training.Seed)
	assert.Equal(t, 50, cfg.Training.Boruta.MaxIter)
	// unset keys keep their defaults
	assert.Equal(t, 0.05, cfg.Training.Boruta.Alpha)
	assert.Equal(t, 0.2, cfg.Training.TestRatio)
	assert.Equal(t, 9000, cfg.HTTP.Port)
	assert.Equal(t, 5*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, []string{"https://maps.example.org"}, cfg.HTTP.AllowedOrigins)
	assert.Empty(t, cfg.Database.Path)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeFile(t, "htpp:\n  port: 1\n"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GW_LOG_LEVEL", "warn")
	t.Setenv("GW_HTTP_PORT", "9100")
	t.Setenv("GW_ARTIFACT_DIR", "/tmp/gw-artifacts")
	t.Setenv("GW_DATABASE_PATH", "/tmp/gw.db")
	t.Setenv("GW_DATASET_PATH", "/tmp/gw.csv")
	t.Setenv("GW_ALLOWED_ORIGINS", "https://a.example.org, https://b.example.org")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 9100, cfg.HTTP.Port)
	assert.Equal(t, "/tmp/gw-artifacts", cfg.Artifacts.Dir)
	assert.Equal(t, "/tmp/gw.db", cfg.Database.Path)
	assert.Equal(t, "/tmp/gw.csv", cfg.Dataset.Path)
	assert.Equal(t, []string{"https://a.example.org", "https://b.example.org"}, cfg.HTTP.AllowedOrigins)

	t.Setenv("GW_HTTP_PORT", "eighty")
	_, err = Load("")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"log level", func(c *Config) { c.Log.Level = "loud" }},
		{"log format", func(c *Config) { c.Log.Format = "xml" }},
		{"artifact dir", func(c *Config) { c.Artifacts.Dir = "" }},
		{"port", func(c *Config) { c.HTTP.Port = 70000 }},
		{"upload limit", func(c *Config) { c.HTTP.MaxUploadBytes = 0 }},
		{"delimiter", func(c *Config) { c.Dataset.Delimiter = ";;" }},
		{"training", func(c *Config) { c.Training.TestRatio = 1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, Default().Validate())
}

func TestInitLoggerWritesFile(t *testing.T) {
	prev := zap.L()
	t.Cleanup(func() { zap.ReplaceGlobals(prev) })

	path := filepath.Join(t.TempDir(), "gw.log")
	logger, err := InitLogger(LogConfig{Level: "info", Format: "json", File: path, MaxSizeMB: 1})
	require.NoError(t, err)
	zap.L().Info("model loaded", zap.String("run_id", "abc"))
	zap.L().Debug("dropped")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"model loaded"`)
	assert.Contains(t, string(data), `"run_id":"abc"`)
	assert.NotContains(t, string(data), "dropped")

	_, err = InitLogger(LogConfig{Level: "loud"})
	assert.Error(t, err)
}
