// internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Serial   SerialConfig   `mapstructure:"serial"`
	Devices  DevicesConfig  `mapstructure:"devices"`
	App      AppConfig      `mapstructure:"app"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           string        `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	User         string        `mapstructure:"user"`
	Password     string        `mapstructure:"password"`
	DBName       string        `mapstructure:"dbname"`
	SSLMode      string        `mapstructure:"sslmode"`
	MaxOpenConns int           `mapstructure:"max_open_conns"`
	MaxIdleConns int           `mapstructure:"max_idle_conns"`
	MaxLifetime  time.Duration `mapstructure:"max_lifetime"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// SerialConfig represents serial transport configuration
type SerialConfig struct {
	DefaultBaudRate    int           `mapstructure:"default_baud_rate"`
	DefaultDataBits    int           `mapstructure:"default_data_bits"`
	DefaultParity      string        `mapstructure:"default_parity"`
	DefaultStopBits    string        `mapstructure:"default_stop_bits"`
	DefaultFlowControl string        `mapstructure:"default_flow_control"`
	AutoReconnect      bool          `mapstructure:"auto_reconnect"`
	ReconnectInterval  time.Duration `mapstructure:"reconnect_interval"`
	MaxBufferSize      int           `mapstructure:"max_buffer_size"`
	StalledTimeout     time.Duration `mapstructure:"stalled_timeout"`
	ReadTimeout        time.Duration `mapstructure:"read_timeout"`
	WriteQueueSize     int           `mapstructure:"write_queue_size"`
}

// DevicesConfig represents device-layer configuration
type DevicesConfig struct {
	AutoConnect              bool          `mapstructure:"auto_connect"`
	ScanInterval             time.Duration `mapstructure:"scan_interval"`
	ConnectionTimeout        time.Duration `mapstructure:"connection_timeout"`
	MaxReconnectAttempts     int           `mapstructure:"max_reconnect_attempts"`
	FlakyConnectionThreshold float64       `mapstructure:"flaky_connection_threshold"`
	ConnectionHistoryWindow  int           `mapstructure:"connection_history_window"`
	MinConnectionAttempts    int           `mapstructure:"min_connection_attempts"`
	MinStableConnectionTime  time.Duration `mapstructure:"min_stable_connection_time"`
	MaxConnectionHistory     int           `mapstructure:"max_connection_history"`
	DeviceDBPath             string        `mapstructure:"device_db_path"`
}

// AppConfig represents application metadata
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// Load loads configuration from file and environment variables
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/serial-bridge")

	// Environment variable support
	viper.SetEnvPrefix("SERIAL_BRIDGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Set defaults
	setDefaults()

	// Read config file; missing file falls back to defaults
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", "8086")
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")
	viper.SetDefault("server.allowed_origins", []string{"*"})

	// Database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.dbname", "serial_bridge")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.max_lifetime", "5m")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output", "stdout")
	viper.SetDefault("logging.max_size", 100)
	viper.SetDefault("logging.max_backups", 3)
	viper.SetDefault("logging.max_age", 28)
	viper.SetDefault("logging.compress", true)

	// Serial transport defaults
	viper.SetDefault("serial.default_baud_rate", 115200)
	viper.SetDefault("serial.default_data_bits", 8)
	viper.SetDefault("serial.default_parity", "N")
	viper.SetDefault("serial.default_stop_bits", "1")
	viper.SetDefault("serial.default_flow_control", "none")
	viper.SetDefault("serial.auto_reconnect", true)
	viper.SetDefault("serial.reconnect_interval", "5s")
	viper.SetDefault("serial.max_buffer_size", 1<<20)
	viper.SetDefault("serial.stalled_timeout", "30s")
	viper.SetDefault("serial.read_timeout", "100ms")
	viper.SetDefault("serial.write_queue_size", 256)

	// Device layer defaults
	viper.SetDefault("devices.auto_connect", true)
	viper.SetDefault("devices.scan_interval", "2s")
	viper.SetDefault("devices.connection_timeout", "10s")
	viper.SetDefault("devices.max_reconnect_attempts", 5)
	viper.SetDefault("devices.flaky_connection_threshold", 0.3)
	viper.SetDefault("devices.connection_history_window", 10)
	viper.SetDefault("devices.min_connection_attempts", 5)
	viper.SetDefault("devices.min_stable_connection_time", "30s")
	viper.SetDefault("devices.max_connection_history", 100)
	viper.SetDefault("devices.device_db_path", "./data/devices.json")

	// App defaults
	viper.SetDefault("app.name", "serial-bridge")
	viper.SetDefault("app.version", "1.0.0")
	viper.SetDefault("app.environment", "development")
	viper.SetDefault("app.debug", false)
}

// validate validates the configuration
func validate(config *Config) error {
	if config.Server.Host == "" {
		return fmt.Errorf("server.host is required")
	}
	if config.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}
	if config.Serial.DefaultBaudRate <= 0 {
		return fmt.Errorf("serial.default_baud_rate must be positive")
	}
	if config.Serial.MaxBufferSize <= 0 {
		return fmt.Errorf("serial.max_buffer_size must be positive")
	}
	if config.Serial.ReadTimeout <= 0 || config.Serial.ReadTimeout > 100*time.Millisecond {
		return fmt.Errorf("serial.read_timeout must be in (0, 100ms]")
	}
	if config.Devices.MaxReconnectAttempts < 0 {
		return fmt.Errorf("devices.max_reconnect_attempts must not be negative")
	}
	if config.Devices.FlakyConnectionThreshold <= 0 || config.Devices.FlakyConnectionThreshold > 1 {
		return fmt.Errorf("devices.flaky_connection_threshold must be in (0, 1]")
	}

	validEnvs := []string{"development", "staging", "production", "test"}
	isValidEnv := false
	for _, env := range validEnvs {
		if config.App.Environment == env {
			isValidEnv = true
			break
		}
	}
	if !isValidEnv {
		return fmt.Errorf("app.environment must be one of: %v", validEnvs)
	}

	validLevels := []string{"debug", "info", "warn", "error", "fatal"}
	isValidLevel := false
	for _, level := range validLevels {
		if config.Logging.Level == level {
			isValidLevel = true
			break
		}
	}
	if !isValidLevel {
		return fmt.Errorf("logging.level must be one of: %v", validLevels)
	}

	return nil
}

// GetDatabaseDSN returns the database connection string
func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host, c.Database.Port, c.Database.User,
		c.Database.Password, c.Database.DBName, c.Database.SSLMode)
}

// GetServerAddr returns the server address
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

// IsProduction checks if the environment is production
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDevelopment checks if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}
