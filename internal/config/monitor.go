package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides for the agent, e.g.
// INTELMON_SERVER_API_KEY for server.api_key
const EnvPrefix = "INTELMON"

// DefaultConfigName is the file searched for when no path is given
const DefaultConfigName = "intelmon"

// UpstreamServerConfig holds collector connection settings
type UpstreamServerConfig struct {
	URL          string        `mapstructure:"url"`
	APIKey       string        `mapstructure:"api_key"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

// WatchConfig selects how file changes are detected
type WatchConfig struct {
	Poll         bool          `mapstructure:"poll"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// DedupConfig tunes the submitted-message ledger
type DedupConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// TLSConfig holds optional TLS material for the collector connection
type TLSConfig struct {
	CACert     string `mapstructure:"ca_cert"`
	ClientCert string `mapstructure:"client_cert"`
	ClientKey  string `mapstructure:"client_key"`
	ServerName string `mapstructure:"server_name"`
}

// Enabled reports whether any TLS setting departs from the system defaults
func (t TLSConfig) Enabled() bool {
	return t.CACert != "" || t.ClientCert != "" || t.ClientKey != "" || t.ServerName != ""
}

// MonitorConfig represents the complete agent configuration
type MonitorConfig struct {
	Server            UpstreamServerConfig `mapstructure:"server"`
	PilotName         string               `mapstructure:"pilot_name"`
	HeartbeatInterval time.Duration        `mapstructure:"heartbeat_interval"`
	LogsPath          string               `mapstructure:"logs_path"`
	LookbackWindow    time.Duration        `mapstructure:"lookback_window"`
	Encoding          string               `mapstructure:"encoding"`
	Watch             WatchConfig          `mapstructure:"watch"`
	Dedup             DedupConfig          `mapstructure:"dedup"`
	TLS               TLSConfig            `mapstructure:"tls"`
	LogLevel          string               `mapstructure:"log_level"`
	LogFormat         string               `mapstructure:"log_format"`

	// File is the configuration file that was read, empty when none was found
	File string `mapstructure:"-"`
}

// LoadMonitorConfig loads the agent configuration. An explicit configPath must
// exist; without one the working directory and the user config directory are
// searched and defaults apply when nothing is found.
func LoadMonitorConfig(configPath string) (*MonitorConfig, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults. Every key needs one so environment overrides are seen.
	v.SetDefault("server.url", "https://intel.thrainkrill.space")
	v.SetDefault("server.api_key", "")
	v.SetDefault("server.timeout", "10s")
	v.SetDefault("server.max_retries", 0)
	v.SetDefault("server.retry_backoff", "1s")
	v.SetDefault("pilot_name", "Desktop Client")
	v.SetDefault("heartbeat_interval", "5m")
	v.SetDefault("logs_path", "")
	v.SetDefault("lookback_window", "6h")
	v.SetDefault("encoding", "utf-16le")
	v.SetDefault("watch.poll", false)
	v.SetDefault("watch.poll_interval", "250ms")
	v.SetDefault("dedup.ttl", "0s")
	v.SetDefault("tls.ca_cert", "")
	v.SetDefault("tls.client_cert", "")
	v.SetDefault("tls.client_key", "")
	v.SetDefault("tls.server_name", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(DefaultConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, DefaultConfigName))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config MonitorConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	config.File = v.ConfigFileUsed()

	if config.Server.URL == "" {
		return nil, fmt.Errorf("server.url is required")
	}
	if config.HeartbeatInterval <= 0 {
		return nil, fmt.Errorf("heartbeat_interval must be positive")
	}
	if config.LookbackWindow < 0 {
		return nil, fmt.Errorf("lookback_window must not be negative")
	}
	if config.Watch.Poll && config.Watch.PollInterval <= 0 {
		return nil, fmt.Errorf("watch.poll_interval must be positive")
	}
	if config.Server.MaxRetries < 0 {
		return nil, fmt.Errorf("server.max_retries must not be negative")
	}

	return &config, nil
}

// RequireCredentials checks the settings needed to talk to the collector
func (c *MonitorConfig) RequireCredentials() error {
	if c.Server.APIKey == "" {
		return fmt.Errorf("server.api_key is required (or set %s_SERVER_API_KEY)", EnvPrefix)
	}
	if (c.TLS.ClientCert == "") != (c.TLS.ClientKey == "") {
		return fmt.Errorf("tls.client_cert and tls.client_key must be set together")
	}
	return nil
}

// YAML renders the effective configuration with the API key masked
func (c *MonitorConfig) YAML() ([]byte, error) {
	doc := map[string]any{
		"server": map[string]any{
			"url":           c.Server.URL,
			"api_key":       MaskSecret(c.Server.APIKey),
			"timeout":       c.Server.Timeout.String(),
			"max_retries":   c.Server.MaxRetries,
			"retry_backoff": c.Server.RetryBackoff.String(),
		},
		"pilot_name":         c.PilotName,
		"heartbeat_interval": c.HeartbeatInterval.String(),
		"logs_path":          c.LogsPath,
		"lookback_window":    c.LookbackWindow.String(),
		"encoding":           c.Encoding,
		"watch": map[string]any{
			"poll":          c.Watch.Poll,
			"poll_interval": c.Watch.PollInterval.String(),
		},
		"dedup": map[string]any{
			"ttl": c.Dedup.TTL.String(),
		},
		"tls": map[string]any{
			"ca_cert":     c.TLS.CACert,
			"client_cert": c.TLS.ClientCert,
			"client_key":  c.TLS.ClientKey,
			"server_name": c.TLS.ServerName,
		},
		"log_level":  c.LogLevel,
		"log_format": c.LogFormat,
	}
	return yaml.Marshal(doc)
}

// MaskSecret keeps the first four characters of a secret
func MaskSecret(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 4:
		return "****"
	default:
		return s[:4] + strings.Repeat("*", 8)
	}
}
