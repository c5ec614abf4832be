package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the application configuration
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Directory DirectoryConfig `yaml:"directory"`
	Cache     CacheConfig     `yaml:"cache"`
	Auth      AuthConfig      `yaml:"auth"`
	WS        WSConfig        `yaml:"ws"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServiceConfig holds service-level configuration
type ServiceConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Port    int    `yaml:"port"`
	NodeID  string `yaml:"node_id"`
}

// DirectoryConfig holds configuration for the NATS-backed directory
// client that resolves users and trip membership.
type DirectoryConfig struct {
	Embedded       bool   `yaml:"embedded"`
	ServerURL      string `yaml:"server_url"`
	DataDir        string `yaml:"data_dir"`
	SubjectPrefix  string `yaml:"subject_prefix"`
	RequestTimeout string `yaml:"request_timeout"`
}

// CacheConfig holds membership cache configuration
type CacheConfig struct {
	MaxCost     int64  `yaml:"max_cost"`     // Ristretto: Maximum memory cost in bytes
	NumCounters int64  `yaml:"num_counters"` // Ristretto: Number of counters for TinyLFU
	BufferItems int64  `yaml:"buffer_items"` // Ristretto: Buffer size for async operations
	Metrics     bool   `yaml:"metrics"`      // Ristretto: Enable cache metrics
	TTL         string `yaml:"ttl"`          // Application-level entry TTL
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	JWTIssuer string `yaml:"jwt_issuer"`
}

// WSConfig holds websocket transport configuration
type WSConfig struct {
	WriteTimeout   string `yaml:"write_timeout"`
	PongTimeout    string `yaml:"pong_timeout"`
	PingInterval   string `yaml:"ping_interval"`
	MaxMessageSize int64  `yaml:"max_message_size"`
	SendBuffer     int    `yaml:"send_buffer"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load loads configuration from environment variables with defaults
func Load() (*Config, error) {
	config := &Config{
		Service: ServiceConfig{
			Name:    getEnvOrDefault("SERVICE_NAME", "location-service"),
			Version: getEnvOrDefault("SERVICE_VERSION", "v1"),
			Port:    getEnvIntOrDefault("SERVICE_PORT", 8080),
			NodeID:  getEnvOrDefault("NODE_ID", "node-1"),
		},
		Directory: DirectoryConfig{
			Embedded:       getEnvBoolOrDefault("DIRECTORY_NATS_EMBEDDED", false),
			ServerURL:      getEnvOrDefault("DIRECTORY_NATS_URL", ""),
			DataDir:        getEnvOrDefault("DIRECTORY_NATS_DATA_DIR", "./nats-data"),
			SubjectPrefix:  getEnvOrDefault("DIRECTORY_SUBJECT_PREFIX", "tripresence"),
			RequestTimeout: getEnvOrDefault("DIRECTORY_REQUEST_TIMEOUT", "3s"),
		},
		Cache: CacheConfig{
			MaxCost:     getEnvInt64OrDefault("CACHE_MAX_COST", 1000000), // 1MB default
			NumCounters: getEnvInt64OrDefault("CACHE_NUM_COUNTERS", 100000),
			BufferItems: getEnvInt64OrDefault("CACHE_BUFFER_ITEMS", 64),
			Metrics:     getEnvBoolOrDefault("CACHE_METRICS", true),
			TTL:         getEnvOrDefault("CACHE_TTL", "30s"),
		},
		Auth: AuthConfig{
			JWTSecret: getEnvOrDefault("JWT_SECRET", ""),
			JWTIssuer: getEnvOrDefault("JWT_ISSUER", ""),
		},
		WS: WSConfig{
			WriteTimeout:   getEnvOrDefault("WS_WRITE_TIMEOUT", "10s"),
			PongTimeout:    getEnvOrDefault("WS_PONG_TIMEOUT", "60s"),
			PingInterval:   getEnvOrDefault("WS_PING_INTERVAL", "25s"),
			MaxMessageSize: getEnvInt64OrDefault("WS_MAX_MESSAGE_SIZE", 4096),
			SendBuffer:     getEnvIntOrDefault("WS_SEND_BUFFER", 256),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	// Validate required fields
	if config.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}

	return config, nil
}

// GetTTL returns the cache entry TTL as duration
func (c *CacheConfig) GetTTL() (time.Duration, error) {
	return time.ParseDuration(c.TTL)
}

// GetRequestTimeout returns the directory request timeout as duration
func (c *DirectoryConfig) GetRequestTimeout() (time.Duration, error) {
	return time.ParseDuration(c.RequestTimeout)
}

// GetWriteTimeout returns the websocket write timeout as duration
func (c *WSConfig) GetWriteTimeout() (time.Duration, error) {
	return time.ParseDuration(c.WriteTimeout)
}

// GetPongTimeout returns the websocket pong timeout as duration
func (c *WSConfig) GetPongTimeout() (time.Duration, error) {
	return time.ParseDuration(c.PongTimeout)
}

// GetPingInterval returns the websocket ping interval as duration
func (c *WSConfig) GetPingInterval() (time.Duration, error) {
	return time.ParseDuration(c.PingInterval)
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64OrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
