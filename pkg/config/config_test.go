package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tesoro.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Address())
	assert.Equal(t, "0.0.0.0:9095", cfg.Metrics.Address())
	assert.Equal(t, int64(1<<20), cfg.Server.MaxBodyBytes)
	assert.Equal(t, 3, cfg.Reveal.Attempts)
	assert.Equal(t, "tesoro.kapicorp.com", cfg.Eligibility.LabelKey)
	assert.Equal(t, "enabled", cfg.Eligibility.EnabledValue)
	assert.True(t, cfg.Logging.Redact)
	assert.False(t, cfg.Server.TLSEnabled())
}

func TestLoad_Precedence(t *testing.T) {
	path := writeFile(t, `
server:
  port: 8443
  certFile: /certs/tls.crt
  keyFile: /certs/tls.key
logging:
  level: debug
reveal:
  attempts: 5
  attemptTimeout: 2s
redaction:
  allowPaths: ["/metadata/labels/team"]
`)
	l := &Loader{Getenv: env(map[string]string{
		"TESORO_PORT":            "9443",
		"TESORO_REVEAL_ATTEMPTS": "2",
		"TESORO_ACCESS_LOG":      "true",
	})}

	cfg, err := l.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9443, cfg.Server.Port, "environment overrides file")
	assert.Equal(t, 2, cfg.Reveal.Attempts)
	assert.Equal(t, 2*time.Second, cfg.Reveal.AttemptTimeout, "file overrides default")
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format, "default kept when not set")
	assert.True(t, cfg.Logging.AccessLog)
	assert.True(t, cfg.Server.TLSEnabled())
	assert.Equal(t, []string{"/metadata/labels/team"}, cfg.Redaction.AllowPaths)
}

func TestLoad_NoFile(t *testing.T) {
	cfg, err := (&Loader{Getenv: env(nil)}).Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		file string
		env  map[string]string
	}{
		{name: "missing file", file: filepath.Join(t.TempDir(), "nope.yaml")},
		{name: "bad yaml", file: writeFile(t, "server: [")},
		{name: "bad env int", env: map[string]string{"TESORO_PORT": "http"}},
		{name: "bad env duration", env: map[string]string{"TESORO_REVEAL_ATTEMPT_TIMEOUT": "soon"}},
		{name: "invalid after merge", env: map[string]string{"TESORO_REVEAL_ATTEMPTS": "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := (&Loader{Getenv: env(tt.env)}).Load(tt.file)
			assert.Error(t, err)
		})
	}
}

func TestLoadEnv_ReportsAllErrors(t *testing.T) {
	err := (&Loader{Getenv: env(map[string]string{
		"TESORO_PORT":         "x",
		"TESORO_METRICS_PORT": "y",
	})}).LoadEnv(Default())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TESORO_PORT")
	assert.Contains(t, err.Error(), "TESORO_METRICS_PORT")
}

func TestLoadEnv_AllowPaths(t *testing.T) {
	cfg := Default()
	require.NoError(t, (&Loader{Getenv: env(map[string]string{
		"TESORO_REDACTION_ALLOW_PATHS": " /a , ,/b",
	})}).LoadEnv(cfg))
	assert.Equal(t, []string{"/a", "/b"}, cfg.Redaction.AllowPaths)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "port zero", mutate: func(c *Config) { c.Server.Port = 0 }},
		{name: "port too large", mutate: func(c *Config) { c.Server.Port = 70000 }},
		{name: "cert without key", mutate: func(c *Config) { c.Server.CertFile = "tls.crt" }},
		{name: "ca without tls", mutate: func(c *Config) { c.Server.CAFile = "ca.crt" }},
		{name: "ca path without tls", mutate: func(c *Config) { c.Server.CAPath = "/etc/ssl/certs" }},
		{name: "required client cert without ca", mutate: func(c *Config) {
			c.Server.CertFile, c.Server.KeyFile = "tls.crt", "tls.key"
			c.Server.RequireClientCert = true
		}},
		{name: "zero body limit", mutate: func(c *Config) { c.Server.MaxBodyBytes = 0 }},
		{name: "metrics port", mutate: func(c *Config) { c.Metrics.Port = -1 }},
		{name: "shared listener", mutate: func(c *Config) { c.Metrics.Port = c.Server.Port }},
		{name: "log format", mutate: func(c *Config) { c.Logging.Format = "logfmt" }},
		{name: "attempts", mutate: func(c *Config) { c.Reveal.Attempts = 0 }},
		{name: "negative timeout", mutate: func(c *Config) { c.Reveal.AttemptTimeout = -time.Second }},
		{name: "retry factor", mutate: func(c *Config) { c.Reveal.RetryFactor = 0.5 }},
		{name: "label key", mutate: func(c *Config) { c.Eligibility.LabelKey = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := Default()
	cfg.Metrics.Enabled = false
	cfg.Metrics.Port = 0
	assert.NoError(t, cfg.Validate(), "metrics port is ignored when metrics are disabled")
}

func TestLoadEnv_ClientCA(t *testing.T) {
	cfg := Default()
	require.NoError(t, (&Loader{Getenv: env(map[string]string{
		"TESORO_CERT_FILE":           "tls.crt",
		"TESORO_KEY_FILE":            "tls.key",
		"TESORO_CA_PATH":             "/etc/tesoro/ca.d",
		"TESORO_REQUIRE_CLIENT_CERT": "true",
	})}).LoadEnv(cfg))

	assert.Equal(t, "/etc/tesoro/ca.d", cfg.Server.CAPath)
	assert.True(t, cfg.Server.ClientCAEnabled())
	assert.True(t, cfg.Server.RequireClientCert)
	assert.NoError(t, cfg.Validate())
}
