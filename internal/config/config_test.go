// internal/config/config_test.go
package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != "8086" {
		t.Errorf("Server.Port = %q, want %q", cfg.Server.Port, "8086")
	}
	if cfg.Serial.DefaultBaudRate != 115200 {
		t.Errorf("Serial.DefaultBaudRate = %d, want 115200", cfg.Serial.DefaultBaudRate)
	}
	if cfg.Serial.ReadTimeout != 100*time.Millisecond {
		t.Errorf("Serial.ReadTimeout = %v, want 100ms", cfg.Serial.ReadTimeout)
	}
	if !cfg.Serial.AutoReconnect {
		t.Error("Serial.AutoReconnect = false, want true")
	}
	if cfg.Devices.FlakyConnectionThreshold != 0.3 {
		t.Errorf("Devices.FlakyConnectionThreshold = %v, want 0.3", cfg.Devices.FlakyConnectionThreshold)
	}
	if cfg.Devices.ScanInterval != 2*time.Second {
		t.Errorf("Devices.ScanInterval = %v, want 2s", cfg.Devices.ScanInterval)
	}
	if cfg.App.Environment != "development" {
		t.Errorf("App.Environment = %q, want %q", cfg.App.Environment, "development")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SERIAL_BRIDGE_SERVER_PORT", "9999")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != "9999" {
		t.Errorf("Server.Port = %q, want env override %q", cfg.Server.Port, "9999")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server: ServerConfig{Host: "0.0.0.0", Port: "8086"},
			Serial: SerialConfig{
				DefaultBaudRate: 115200,
				MaxBufferSize:   1 << 20,
				ReadTimeout:     100 * time.Millisecond,
			},
			Devices: DevicesConfig{
				MaxReconnectAttempts:     5,
				FlakyConnectionThreshold: 0.3,
			},
			Logging: LoggingConfig{Level: "info"},
			App:     AppConfig{Environment: "development"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing host", func(c *Config) { c.Server.Host = "" }, "server.host"},
		{"missing port", func(c *Config) { c.Server.Port = "" }, "server.port"},
		{"zero baud rate", func(c *Config) { c.Serial.DefaultBaudRate = 0 }, "baud_rate"},
		{"zero buffer", func(c *Config) { c.Serial.MaxBufferSize = 0 }, "max_buffer_size"},
		{"read timeout too large", func(c *Config) { c.Serial.ReadTimeout = time.Second }, "read_timeout"},
		{"read timeout zero", func(c *Config) { c.Serial.ReadTimeout = 0 }, "read_timeout"},
		{"negative reconnect attempts", func(c *Config) { c.Devices.MaxReconnectAttempts = -1 }, "max_reconnect_attempts"},
		{"threshold above one", func(c *Config) { c.Devices.FlakyConnectionThreshold = 1.5 }, "flaky_connection_threshold"},
		{"bad environment", func(c *Config) { c.App.Environment = "prod" }, "app.environment"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := validate(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestGetDatabaseDSN(t *testing.T) {
	cfg := &Config{
		Database: DatabaseConfig{
			Host:     "db.local",
			Port:     5433,
			User:     "bridge",
			Password: "secret",
			DBName:   "serial_bridge",
			SSLMode:  "disable",
		},
	}

	want := "host=db.local port=5433 user=bridge password=secret dbname=serial_bridge sslmode=disable"
	if got := cfg.GetDatabaseDSN(); got != want {
		t.Errorf("GetDatabaseDSN() = %q, want %q", got, want)
	}
}

func TestGetServerAddr(t *testing.T) {
	cfg := &Config{Server: ServerConfig{Host: "127.0.0.1", Port: "8086"}}
	if got := cfg.GetServerAddr(); got != "127.0.0.1:8086" {
		t.Errorf("GetServerAddr() = %q, want %q", got, "127.0.0.1:8086")
	}
}

func TestEnvironmentChecks(t *testing.T) {
	cfg := &Config{App: AppConfig{Environment: "production"}}
	if !cfg.IsProduction() || cfg.IsDevelopment() {
		t.Error("environment checks wrong for production")
	}

	cfg.App.Environment = "development"
	if cfg.IsProduction() || !cfg.IsDevelopment() {
		t.Error("environment checks wrong for development")
	}
}
