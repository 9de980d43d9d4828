package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/glucolink/glucolink-go/pkg/model"
	"github.com/glucolink/glucolink-go/pkg/session"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "30s" or "5m".
type Duration time.Duration

// UnmarshalYAML parses a duration string or integer nanosecond count.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err == nil {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", raw, err)
		}
		*d = Duration(parsed)
		return nil
	}

	var ns int64
	if err := node.Decode(&ns); err != nil {
		return fmt.Errorf("invalid duration value")
	}
	*d = Duration(ns)
	return nil
}

// MarshalYAML renders the duration in time.Duration string form.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Config is the monitor configuration.
type Config struct {
	// Generation selects the sensor protocol generation: "gen2" or
	// "gen3".
	Generation string `yaml:"generation"`

	// DeviceID pins the transport to a known device. Empty scans.
	DeviceID string `yaml:"device_id,omitempty"`

	// StatePath is the sensor state file location.
	StatePath string `yaml:"state_path"`

	// ProtocolLogPath is the protocol event capture file location.
	// Empty disables file capture.
	ProtocolLogPath string `yaml:"protocol_log_path,omitempty"`

	// LogLevel is the operational log level: debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// AcceptNewSensors permits adopting a sensor with a new serial.
	AcceptNewSensors bool `yaml:"accept_new_sensors"`

	// Retention is the reading window horizon.
	Retention Duration `yaml:"retention,omitempty"`

	// MaxReconnectAttempts caps consecutive failed reconnects.
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts,omitempty"`

	// BackoffInitial and BackoffMax bound the reconnect delay.
	BackoffInitial Duration `yaml:"backoff_initial,omitempty"`
	BackoffMax     Duration `yaml:"backoff_max,omitempty"`

	// ScanTimeout and ConnectTimeout bound the respective operations.
	ScanTimeout    Duration `yaml:"scan_timeout,omitempty"`
	ConnectTimeout Duration `yaml:"connect_timeout,omitempty"`

	// PollInterval is the generation-2 glucose polling period.
	PollInterval Duration `yaml:"poll_interval,omitempty"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Generation:       "gen3",
		StatePath:        "glucolink-state.json",
		LogLevel:         "info",
		AcceptNewSensors: true,
	}
}

// Load reads and validates a YAML configuration file. Unset fields keep
// their defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks field values.
func (c Config) Validate() error {
	if _, err := c.SensorGeneration(); err != nil {
		return err
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	if c.StatePath == "" {
		return fmt.Errorf("state_path must not be empty")
	}
	if c.MaxReconnectAttempts < 0 {
		return fmt.Errorf("max_reconnect_attempts must not be negative")
	}
	return nil
}

// SensorGeneration maps the generation selector to its model value.
func (c Config) SensorGeneration() (model.Generation, error) {
	switch c.Generation {
	case "gen2":
		return model.Gen2, nil
	case "gen3", "":
		return model.Gen3, nil
	default:
		return 0, fmt.Errorf("unknown generation %q (want gen2 or gen3)", c.Generation)
	}
}

// SlogLevel maps the log level selector to its slog value.
func (c Config) SlogLevel() (slog.Level, error) {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
}

// SessionConfig maps the configuration onto session settings.
func (c Config) SessionConfig() session.Config {
	gen, _ := c.SensorGeneration()
	return session.Config{
		Generation:           gen,
		DeviceID:             c.DeviceID,
		Retention:            time.Duration(c.Retention),
		MaxReconnectAttempts: c.MaxReconnectAttempts,
		BackoffInitial:       time.Duration(c.BackoffInitial),
		BackoffMax:           time.Duration(c.BackoffMax),
		ScanTimeout:          time.Duration(c.ScanTimeout),
		ConnectTimeout:       time.Duration(c.ConnectTimeout),
		PollInterval:         time.Duration(c.PollInterval),
		AcceptNewSensors:     c.AcceptNewSensors,
	}
}
