package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// CollectorEnvPrefix prefixes environment overrides for the collector
const CollectorEnvPrefix = "INTELMON_COLLECTOR"

// HTTPServerConfig holds HTTP server settings
type HTTPServerConfig struct {
	ListenAddress   string        `mapstructure:"listen_address"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
}

// MongoDBConfig holds MongoDB connection settings
type MongoDBConfig struct {
	URI                 string        `mapstructure:"uri"`
	Database            string        `mapstructure:"database"`
	CollectionPrefix    string        `mapstructure:"collection_prefix"`
	HeartbeatCollection string        `mapstructure:"heartbeat_collection"`
	CertificateKeyFile  string        `mapstructure:"certificate_key_file"`
	Timeout             time.Duration `mapstructure:"timeout"`
	MaxPoolSize         int           `mapstructure:"max_pool_size"`
	TTLDays             int           `mapstructure:"ttl_days"`
}

// ServerMTLSConfig holds mTLS configuration for the collector
type ServerMTLSConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	CACert     string `mapstructure:"ca_cert"`
	ServerCert string `mapstructure:"server_cert"`
	ServerKey  string `mapstructure:"server_key"`
	ClientAuth string `mapstructure:"client_auth"` // require, request, or none
}

// RateLimitConfig holds per-client rate limiting settings
type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

// CollectorConfig represents the complete collector configuration
type CollectorConfig struct {
	Server       HTTPServerConfig `mapstructure:"server"`
	APIKeys      []string         `mapstructure:"api_keys"`
	MongoDB      MongoDBConfig    `mapstructure:"mongodb"`
	MTLS         ServerMTLSConfig `mapstructure:"mtls"`
	RateLimiting RateLimitConfig  `mapstructure:"rate_limiting"`
	LogLevel     string           `mapstructure:"log_level"`
	LogFormat    string           `mapstructure:"log_format"`
}

// LoadCollectorConfig loads the collector configuration from a file
func LoadCollectorConfig(configPath string) (*CollectorConfig, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetEnvPrefix(CollectorEnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults
	v.SetDefault("server.listen_address", "0.0.0.0:8443")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.max_body_bytes", 64*1024)
	v.SetDefault("api_keys", []string{})
	v.SetDefault("mongodb.uri", "")
	v.SetDefault("mongodb.database", "intelmon")
	v.SetDefault("mongodb.collection_prefix", "intel_")
	v.SetDefault("mongodb.heartbeat_collection", "clients")
	v.SetDefault("mongodb.certificate_key_file", "")
	v.SetDefault("mongodb.timeout", "10s")
	v.SetDefault("mongodb.max_pool_size", 100)
	v.SetDefault("mongodb.ttl_days", 30)
	v.SetDefault("mtls.enabled", false)
	v.SetDefault("mtls.client_auth", "require")
	v.SetDefault("rate_limiting.enabled", false)
	v.SetDefault("rate_limiting.requests_per_minute", 600)
	v.SetDefault("rate_limiting.burst", 60)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config CollectorConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate required fields
	if config.MongoDB.URI == "" {
		return nil, fmt.Errorf("mongodb.uri is required")
	}

	keys := config.APIKeys[:0]
	for _, k := range config.APIKeys {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	config.APIKeys = keys
	if len(config.APIKeys) == 0 {
		return nil, fmt.Errorf("at least one entry in api_keys is required")
	}

	if config.MTLS.Enabled {
		if config.MTLS.CACert == "" || config.MTLS.ServerCert == "" || config.MTLS.ServerKey == "" {
			return nil, fmt.Errorf("mTLS certificates are required when mTLS is enabled")
		}
		switch config.MTLS.ClientAuth {
		case "require", "request", "none":
		default:
			return nil, fmt.Errorf("mtls.client_auth must be require, request or none, got %q", config.MTLS.ClientAuth)
		}
	}
	if config.RateLimiting.Enabled && (config.RateLimiting.RequestsPerMinute <= 0 || config.RateLimiting.Burst <= 0) {
		return nil, fmt.Errorf("rate_limiting.requests_per_minute and rate_limiting.burst must be positive")
	}

	return &config, nil
}
