package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Gray Logic device agent.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Device      DeviceConfig      `yaml:"device"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Twin        TwinConfig        `yaml:"twin"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
	Database    DatabaseConfig    `yaml:"database"`
	API         APIConfig         `yaml:"api"`
	WebSocket   WebSocketConfig   `yaml:"websocket"`
	InfluxDB    InfluxDBConfig    `yaml:"influxdb"`
	Logging     LoggingConfig     `yaml:"logging"`
	Security    SecurityConfig    `yaml:"security"`
}

// DeviceConfig contains the device's registration credentials and the
// provisioning endpoint.
type DeviceConfig struct {
	ProvisioningHost string `yaml:"provisioning_host" env:"GRAYLOGIC_AGENT_PROVISIONING_HOST"`
	IDScope          string `yaml:"id_scope" env:"GRAYLOGIC_AGENT_ID_SCOPE"`
	RegistrationID   string `yaml:"registration_id" env:"GRAYLOGIC_AGENT_REGISTRATION_ID"`
	SymmetricKey     string `yaml:"symmetric_key" env:"GRAYLOGIC_AGENT_SYMMETRIC_KEY"`

	// ProvisioningAPIVersion and HubAPIVersion are sent in the MQTT
	// username of the respective service.
	ProvisioningAPIVersion string `yaml:"provisioning_api_version"`
	HubAPIVersion          string `yaml:"hub_api_version"`

	// ProvisioningTimeout bounds the whole register exchange (seconds).
	ProvisioningTimeout int `yaml:"provisioning_timeout"`

	// TokenTTL is the lifetime of generated SAS tokens (seconds).
	TokenTTL int `yaml:"token_ttl"`
}

// MQTTConfig contains transport settings shared by the provisioning
// and hub connections.
type MQTTConfig struct {
	Port           int  `yaml:"port" env:"GRAYLOGIC_AGENT_MQTT_PORT"`
	TLS            bool `yaml:"tls" env:"GRAYLOGIC_AGENT_MQTT_TLS"`
	QoS            int  `yaml:"qos"`
	KeepAlive      int  `yaml:"keep_alive"`
	ConnectTimeout int  `yaml:"connect_timeout"`
	PublishTimeout int  `yaml:"publish_timeout"`
}

// TelemetryConfig contains telemetry sampling settings.
type TelemetryConfig struct {
	IntervalMS        int     `yaml:"interval_ms" env:"GRAYLOGIC_AGENT_TELEMETRY_INTERVAL_MS"`
	TargetTemperature float64 `yaml:"target_temperature"`
}

// TwinConfig contains twin request settings.
type TwinConfig struct {
	// RequestTimeout bounds a single GET or PATCH round trip (seconds).
	RequestTimeout int `yaml:"request_timeout"`
}

// DiagnosticsConfig controls the rundiagnostics command.
type DiagnosticsConfig struct {
	Ticks      int `yaml:"ticks"`
	IntervalMS int `yaml:"interval_ms"`
}

// DatabaseConfig contains SQLite database settings for the command log.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path" env:"GRAYLOGIC_AGENT_DATABASE_PATH"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// APIConfig contains local status API settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host" env:"GRAYLOGIC_AGENT_API_HOST"`
	Port     int              `yaml:"port" env:"GRAYLOGIC_AGENT_API_PORT"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket event stream settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// InfluxDBConfig contains settings for the local telemetry mirror.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url" env:"GRAYLOGIC_AGENT_INFLUXDB_URL"`
	Token         string `yaml:"token" env:"GRAYLOGIC_AGENT_INFLUXDB_TOKEN"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"GRAYLOGIC_AGENT_LOG_LEVEL"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings for the local API.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT verification settings. An empty secret leaves
// the protected routes open, which is only acceptable on loopback.
type JWTConfig struct {
	Secret string `yaml:"secret" env:"GRAYLOGIC_AGENT_JWT_SECRET"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables are declared with `env` struct tags and follow
// the pattern GRAYLOGIC_AGENT_<KEY>, e.g. GRAYLOGIC_AGENT_SYMMETRIC_KEY.
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			ProvisioningHost:       "global.azure-devices-provisioning.net",
			ProvisioningAPIVersion: "2019-03-31",
			HubAPIVersion:          "2021-04-12",
			ProvisioningTimeout:    60,
			TokenTTL:               3600,
		},
		MQTT: MQTTConfig{
			Port:           8883,
			TLS:            true,
			QoS:            1,
			KeepAlive:      60,
			ConnectTimeout: 10,
			PublishTimeout: 5,
		},
		Telemetry: TelemetryConfig{
			IntervalMS:        1000,
			TargetTemperature: 0, // readings span [0,15)
		},
		Twin: TwinConfig{
			RequestTimeout: 10,
		},
		Diagnostics: DiagnosticsConfig{
			Ticks:      3,
			IntervalMS: 2000,
		},
		Database: DatabaseConfig{
			Enabled:     true,
			Path:        "./data/agent.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides decodes GRAYLOGIC_AGENT_* variables over the loaded
// values. Variables that are not set leave the field untouched.
func applyEnvOverrides(cfg *Config) error {
	err := envdecode.Decode(cfg)
	if err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return err
	}
	return nil
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Device credentials
	if c.Device.ProvisioningHost == "" {
		errs = append(errs, "device.provisioning_host is required")
	}
	if c.Device.IDScope == "" {
		errs = append(errs, "device.id_scope is required")
	}
	if c.Device.RegistrationID == "" {
		errs = append(errs, "device.registration_id is required")
	}
	if c.Device.SymmetricKey == "" {
		errs = append(errs, "device.symmetric_key is required (set GRAYLOGIC_AGENT_SYMMETRIC_KEY environment variable)")
	} else if _, err := base64.StdEncoding.DecodeString(c.Device.SymmetricKey); err != nil {
		errs = append(errs, "device.symmetric_key must be base64")
	}

	// MQTT validation. The hub does not support QoS 2.
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 1 {
		errs = append(errs, "mqtt.qos must be 0 or 1")
	}
	if c.MQTT.Port < 1 || c.MQTT.Port > 65535 {
		errs = append(errs, "mqtt.port must be between 1 and 65535")
	}

	if c.Telemetry.IntervalMS <= 0 {
		errs = append(errs, "telemetry.interval_ms must be positive")
	}
	if c.Diagnostics.Ticks <= 0 || c.Diagnostics.IntervalMS <= 0 {
		errs = append(errs, "diagnostics.ticks and diagnostics.interval_ms must be positive")
	}

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when the command log is enabled")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}

	// A short JWT secret makes tokens forgeable.
	const minJWTSecretLength = 32
	if s := c.Security.JWT.Secret; s != "" && len(s) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// TelemetryInterval returns the telemetry interval as a Duration.
func (c *Config) TelemetryInterval() time.Duration {
	return time.Duration(c.Telemetry.IntervalMS) * time.Millisecond
}

// DiagnosticsInterval returns the diagnostics tick interval as a Duration.
func (c *Config) DiagnosticsInterval() time.Duration {
	return time.Duration(c.Diagnostics.IntervalMS) * time.Millisecond
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
