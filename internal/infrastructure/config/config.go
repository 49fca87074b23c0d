package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the logic runtime.
// All configuration is loaded from YAML and can be overridden by
// environment variables.
type Config struct {
	Runtime   RuntimeConfig   `yaml:"runtime"`
	Database  DatabaseConfig  `yaml:"database"`
	Logic     LogicConfig     `yaml:"logic"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	KNX       KNXConfig       `yaml:"knx"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// RuntimeConfig tunes the execution scheduler.
type RuntimeConfig struct {
	// ExecTimeoutSeconds is the soft per-execution budget.
	ExecTimeoutSeconds int `yaml:"exec_timeout_seconds"`

	// FailureLimit failures within FailureWindowSeconds disable a block.
	FailureLimit         int `yaml:"failure_limit"`
	FailureWindowSeconds int `yaml:"failure_window_seconds"`

	// CheckpointSeconds is the remanent snapshot cadence.
	CheckpointSeconds int `yaml:"checkpoint_seconds"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// LogicConfig locates the logic artifacts on disk.
type LogicConfig struct {
	// ConfigPath is the logic configuration JSON file.
	ConfigPath string `yaml:"config_path"`

	// CustomBlocksDir holds user block definition files.
	CustomBlocksDir string `yaml:"custom_blocks_dir"`

	// RemanentPath is the remanent snapshot file.
	RemanentPath string `yaml:"remanent_path"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// KNXConfig contains the knxd connection settings.
type KNXConfig struct {
	Enabled bool `yaml:"enabled"`

	// Connection is the knxd URL: "unix:///run/knxd" or
	// "tcp://localhost:6720".
	Connection string `yaml:"connection"`

	ConnectTimeoutSeconds int `yaml:"connect_timeout_seconds"`
	ReadTimeoutSeconds    int `yaml:"read_timeout_seconds"`
}

// MQTTConfig contains MQTT broker connection settings for the optional
// telegram relay.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains settings for the optional telegram history.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment
// variable overrides.
//
// The loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern GRAYLOGIC_SECTION_KEY,
// for example GRAYLOGIC_DATABASE_PATH or GRAYLOGIC_KNX_CONNECTION.
// Only the variables handled in applyEnvOverrides are read.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Runtime: RuntimeConfig{
			ExecTimeoutSeconds:   5,
			FailureLimit:         3,
			FailureWindowSeconds: 60,
			CheckpointSeconds:    60,
		},
		Database: DatabaseConfig{
			Path:        "./data/runtime.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Logic: LogicConfig{
			ConfigPath:      "./data/logic_config.json",
			CustomBlocksDir: "./data/custom_blocks",
			RemanentPath:    "./data/remanent.json",
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		KNX: KNXConfig{
			Connection:            "tcp://localhost:6720",
			ConnectTimeoutSeconds: 10,
			ReadTimeoutSeconds:    30,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-runtime",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GRAYLOGIC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("GRAYLOGIC_LOGIC_CONFIG_PATH"); v != "" {
		cfg.Logic.ConfigPath = v
	}
	if v := os.Getenv("GRAYLOGIC_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_KNX_CONNECTION"); v != "" {
		cfg.KNX.Connection = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	if v := os.Getenv("GRAYLOGIC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.Logic.ConfigPath == "" {
		errs = append(errs, "logic.config_path is required")
	}
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.Runtime.FailureLimit < 1 {
		errs = append(errs, "runtime.failure_limit must be at least 1")
	}
	if c.KNX.Enabled && c.KNX.Connection == "" {
		errs = append(errs, "knx.connection is required when knx.enabled")
	}
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb.enabled")
		}
		if c.InfluxDB.Token == "" {
			errs = append(errs, "influxdb.token is required when influxdb.enabled (set GRAYLOGIC_INFLUXDB_TOKEN)")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// GetExecTimeout returns the scheduler's soft execution timeout.
func (c *Config) GetExecTimeout() time.Duration {
	return time.Duration(c.Runtime.ExecTimeoutSeconds) * time.Second
}

// GetFailureWindow returns the failure demotion window.
func (c *Config) GetFailureWindow() time.Duration {
	return time.Duration(c.Runtime.FailureWindowSeconds) * time.Second
}

// GetCheckpointInterval returns the remanent checkpoint cadence.
func (c *Config) GetCheckpointInterval() time.Duration {
	return time.Duration(c.Runtime.CheckpointSeconds) * time.Second
}
