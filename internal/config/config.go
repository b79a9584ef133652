package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/eytandecker/flightgear-telemetry/pkg/types"
)

// Default values applied when fields are absent from the file and environment.
const (
	DefaultName           = "FlightGear"
	DefaultHost           = "localhost"
	DefaultTelnetPort     = 5500
	DefaultHTTPPort       = 8080
	DefaultRTSPPort       = 8554
	DefaultInterval       = time.Second
	DefaultTimeout        = 10 * time.Second
	DefaultBufferSize     = 1024
	DefaultStaleThreshold = 5 * time.Second
	DefaultListen         = ":8099"
	DefaultSQLitePath     = "flightgear-telemetry.db"
)

// Config holds all application configuration.
type Config struct {
	Polling    PollingConfig     `yaml:"polling"`
	Simulators []SimulatorConfig `yaml:"simulators"`
	Camera     CameraConfig      `yaml:"camera"`
	Server     ServerConfig      `yaml:"server"`
	Storage    StorageConfig     `yaml:"storage"`
	Logging    LoggingConfig     `yaml:"logging"`
}

// PollingConfig holds telemetry polling settings shared by all simulators.
type PollingConfig struct {
	Interval time.Duration `yaml:"interval"`
	// Timeout bounds the dial and the read of one poll separately.
	Timeout        time.Duration `yaml:"timeout"`
	BufferSize     int           `yaml:"buffer_size"`
	StaleThreshold time.Duration `yaml:"stale_threshold"`
	// UnavailableAfter marks sensors unavailable after this many consecutive
	// failed polls. Zero keeps them available on their last value.
	UnavailableAfter int `yaml:"unavailable_after"`
}

// SimulatorConfig is one configured simulator connection.
type SimulatorConfig struct {
	// ID identifies the connection; defaults to host:telnet_port.
	ID             string `yaml:"id"`
	Name           string `yaml:"name"`
	types.Endpoint `yaml:",inline"`
}

// Key returns the connection identity.
func (s SimulatorConfig) Key() string {
	if s.ID != "" {
		return s.ID
	}
	return s.Endpoint.TelnetAddr()
}

// CameraConfig holds still-image proxy settings.
type CameraConfig struct {
	Timeout     time.Duration `yaml:"timeout"`
	MinInterval time.Duration `yaml:"min_interval"`
}

// ServerConfig holds the outward-facing surfaces.
type ServerConfig struct {
	// Listen is the HTTP API address; empty disables the API.
	Listen string `yaml:"listen"`
	// MCP serves the MCP tools over stdio.
	MCP bool `yaml:"mcp"`
}

// StorageConfig configures the optional flight recorder.
type StorageConfig struct {
	// Driver is one of: "" (disabled) | sqlite | postgres.
	Driver    string        `yaml:"driver"`
	DSN       string        `yaml:"dsn"`
	Retention time.Duration `yaml:"retention"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// File enables rotated file output instead of stderr.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Load reads the YAML file at path, if any, then applies environment
// overrides and defaults. An empty path configures from the environment only.
func Load(path string) (Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse yaml: %w", err)
		}
	}

	applyEnv(&cfg)
	fillSimulatorDefaults(&cfg)
	if cfg.Storage.Driver == "sqlite" && cfg.Storage.DSN == "" {
		cfg.Storage.DSN = DefaultSQLitePath
	}

	if err := validate(cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func defaults() Config {
	return Config{
		Polling: PollingConfig{
			Interval:       DefaultInterval,
			Timeout:        DefaultTimeout,
			BufferSize:     DefaultBufferSize,
			StaleThreshold: DefaultStaleThreshold,
		},
		Server: ServerConfig{Listen: DefaultListen},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

func applyEnv(cfg *Config) {
	cfg.Polling.Interval = getEnvDuration("POLL_INTERVAL", cfg.Polling.Interval)
	cfg.Polling.Timeout = getEnvDuration("POLL_TIMEOUT", cfg.Polling.Timeout)
	cfg.Polling.StaleThreshold = getEnvDuration("STALE_THRESHOLD", cfg.Polling.StaleThreshold)
	cfg.Server.Listen = getEnvString("HTTP_LISTEN", cfg.Server.Listen)
	cfg.Logging.Level = getEnvString("LOG_LEVEL", cfg.Logging.Level)

	if len(cfg.Simulators) > 0 {
		return
	}
	cfg.Simulators = []SimulatorConfig{{
		Name: getEnvString("FLIGHTGEAR_NAME", DefaultName),
		Endpoint: types.Endpoint{
			Host:       getEnvString("FLIGHTGEAR_HOST", DefaultHost),
			TelnetPort: getEnvInt("FLIGHTGEAR_TELNET_PORT", DefaultTelnetPort),
			HTTPPort:   getEnvInt("FLIGHTGEAR_HTTP_PORT", DefaultHTTPPort),
			RTSPPort:   getEnvInt("FLIGHTGEAR_RTSP_PORT", DefaultRTSPPort),
		},
	}}
}

func fillSimulatorDefaults(cfg *Config) {
	for i := range cfg.Simulators {
		s := &cfg.Simulators[i]
		if s.Name == "" {
			s.Name = DefaultName
		}
		if s.Host == "" {
			s.Host = DefaultHost
		}
		if s.TelnetPort == 0 {
			s.TelnetPort = DefaultTelnetPort
		}
		if s.HTTPPort == 0 {
			s.HTTPPort = DefaultHTTPPort
		}
		if s.RTSPPort == 0 {
			s.RTSPPort = DefaultRTSPPort
		}
	}
}

func validate(cfg Config) error {
	if cfg.Polling.Interval <= 0 {
		return errors.New("polling.interval must be positive")
	}
	if cfg.Polling.Timeout <= 0 {
		return errors.New("polling.timeout must be positive")
	}
	if cfg.Polling.BufferSize <= 0 {
		return errors.New("polling.buffer_size must be positive")
	}
	if cfg.Polling.UnavailableAfter < 0 {
		return errors.New("polling.unavailable_after must not be negative")
	}

	seen := make(map[string]bool, len(cfg.Simulators))
	for i, s := range cfg.Simulators {
		for name, port := range map[string]int{"telnet_port": s.TelnetPort, "http_port": s.HTTPPort, "rtsp_port": s.RTSPPort} {
			if port < 1 || port > 65535 {
				return fmt.Errorf("simulators[%d] %q: %s %d out of range", i, s.Key(), name, port)
			}
		}
		if seen[s.Key()] {
			return fmt.Errorf("simulators[%d]: duplicate id %q", i, s.Key())
		}
		seen[s.Key()] = true
	}

	switch cfg.Storage.Driver {
	case "", "sqlite":
	case "postgres":
		if cfg.Storage.DSN == "" {
			return errors.New("storage.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver)
	}

	switch cfg.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format: unknown format %q", cfg.Logging.Format)
	}
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level)
	}
	return nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
