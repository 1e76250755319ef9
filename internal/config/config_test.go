package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadMonitorConfig_Defaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := LoadMonitorConfig("")
	require.NoError(t, err)

	assert.Equal(t, "https://intel.thrainkrill.space", cfg.Server.URL)
	assert.Equal(t, 10*time.Second, cfg.Server.Timeout)
	assert.Equal(t, 0, cfg.Server.MaxRetries)
	assert.Equal(t, time.Second, cfg.Server.RetryBackoff)
	assert.Equal(t, "Desktop Client", cfg.PilotName)
	assert.Equal(t, 5*time.Minute, cfg.HeartbeatInterval)
	assert.Equal(t, 6*time.Hour, cfg.LookbackWindow)
	assert.Equal(t, "utf-16le", cfg.Encoding)
	assert.False(t, cfg.Watch.Poll)
	assert.Equal(t, 250*time.Millisecond, cfg.Watch.PollInterval)
	assert.Zero(t, cfg.Dedup.TTL)
	assert.False(t, cfg.TLS.Enabled())
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "console", cfg.LogFormat)

	assert.Error(t, cfg.RequireCredentials())
}

func TestLoadMonitorConfig_File(t *testing.T) {
	path := writeConfig(t, "intelmon.yaml", `
server:
  url: http://localhost:8080
  api_key: secret-key
  max_retries: 2
pilot_name: Scout Alt
heartbeat_interval: 30s
logs_path: /tmp/chatlogs
watch:
  poll: true
  poll_interval: 1s
dedup:
  ttl: 2h
tls:
  ca_cert: /etc/intelmon/ca.pem
`)

	cfg, err := LoadMonitorConfig(path)
	require.NoError(t, err)

	assert.Equal(t, path, cfg.File)
	assert.Equal(t, "http://localhost:8080", cfg.Server.URL)
	assert.Equal(t, "secret-key", cfg.Server.APIKey)
	assert.Equal(t, 2, cfg.Server.MaxRetries)
	assert.Equal(t, "Scout Alt", cfg.PilotName)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, "/tmp/chatlogs", cfg.LogsPath)
	assert.True(t, cfg.Watch.Poll)
	assert.Equal(t, time.Second, cfg.Watch.PollInterval)
	assert.Equal(t, 2*time.Hour, cfg.Dedup.TTL)
	assert.True(t, cfg.TLS.Enabled())
	assert.NoError(t, cfg.RequireCredentials())
}

func TestLoadMonitorConfig_EnvOverride(t *testing.T) {
	path := writeConfig(t, "intelmon.yaml", "server:\n  api_key: from-file\n")
	t.Setenv("INTELMON_SERVER_API_KEY", "from-env")
	t.Setenv("INTELMON_PILOT_NAME", "Env Pilot")

	cfg, err := LoadMonitorConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Server.APIKey)
	assert.Equal(t, "Env Pilot", cfg.PilotName)
}

func TestLoadMonitorConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "zero heartbeat", content: "heartbeat_interval: 0s\n"},
		{name: "negative lookback", content: "lookback_window: -1h\n"},
		{name: "poll without interval", content: "watch:\n  poll: true\n  poll_interval: 0s\n"},
		{name: "negative retries", content: "server:\n  max_retries: -1\n"},
		{name: "invalid yaml", content: "server: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadMonitorConfig(writeConfig(t, "intelmon.yaml", tt.content))
			assert.Error(t, err)
		})
	}

	t.Run("explicit file missing", func(t *testing.T) {
		_, err := LoadMonitorConfig(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.Error(t, err)
	})
}

func TestRequireCredentials_ClientPair(t *testing.T) {
	cfg := &MonitorConfig{Server: UpstreamServerConfig{APIKey: "k"}, TLS: TLSConfig{ClientCert: "cert.pem"}}
	assert.Error(t, cfg.RequireCredentials())

	cfg.TLS.ClientKey = "key.pem"
	assert.NoError(t, cfg.RequireCredentials())
}

func TestMonitorConfig_YAMLMasksKey(t *testing.T) {
	path := writeConfig(t, "intelmon.yaml", "server:\n  api_key: abcdef123456\n")
	cfg, err := LoadMonitorConfig(path)
	require.NoError(t, err)

	out, err := cfg.YAML()
	require.NoError(t, err)
	assert.NotContains(t, string(out), "abcdef123456")

	var doc struct {
		Server struct {
			APIKey  string `yaml:"api_key"`
			Timeout string `yaml:"timeout"`
		} `yaml:"server"`
		LookbackWindow string `yaml:"lookback_window"`
	}
	require.NoError(t, yaml.Unmarshal(out, &doc))
	assert.Equal(t, "abcd********", doc.Server.APIKey)
	assert.Equal(t, "10s", doc.Server.Timeout)
	assert.Equal(t, "6h0m0s", doc.LookbackWindow)
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "", MaskSecret(""))
	assert.Equal(t, "****", MaskSecret("abc"))
	assert.Equal(t, "abcd********", MaskSecret("abcdefgh"))
}

func TestLoadCollectorConfig(t *testing.T) {
	path := writeConfig(t, "collector.yaml", `
server:
  listen_address: 127.0.0.1:9000
api_keys:
  - key-one
  - " "
  - key-two
mongodb:
  uri: mongodb://localhost:27017
rate_limiting:
  enabled: true
`)

	cfg, err := LoadCollectorConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.ListenAddress)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, []string{"key-one", "key-two"}, cfg.APIKeys)
	assert.Equal(t, "intelmon", cfg.MongoDB.Database)
	assert.Equal(t, "intel_", cfg.MongoDB.CollectionPrefix)
	assert.Equal(t, "clients", cfg.MongoDB.HeartbeatCollection)
	assert.Equal(t, 30, cfg.MongoDB.TTLDays)
	assert.False(t, cfg.MTLS.Enabled)
	assert.True(t, cfg.RateLimiting.Enabled)
	assert.Equal(t, 600, cfg.RateLimiting.RequestsPerMinute)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoadCollectorConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "missing uri", content: "api_keys: [k]\n"},
		{name: "missing keys", content: "mongodb:\n  uri: mongodb://localhost\n"},
		{name: "mtls without certs", content: "api_keys: [k]\nmongodb:\n  uri: mongodb://localhost\nmtls:\n  enabled: true\n"},
		{name: "bad client auth", content: "api_keys: [k]\nmongodb:\n  uri: mongodb://localhost\nmtls:\n  enabled: true\n  ca_cert: a\n  server_cert: b\n  server_key: c\n  client_auth: maybe\n"},
		{name: "zero rate", content: "api_keys: [k]\nmongodb:\n  uri: mongodb://localhost\nrate_limiting:\n  enabled: true\n  burst: 0\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadCollectorConfig(writeConfig(t, "collector.yaml", tt.content))
			assert.Error(t, err)
		})
	}
}
