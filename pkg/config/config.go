package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/AdinAck/Headlights-App/internal/endpoint"
	"github.com/AdinAck/Headlights-App/internal/router"
	"github.com/AdinAck/Headlights-App/internal/transport"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// OutputFormats lists the accepted values of Config.OutputFormat.
var OutputFormats = []string{"table", "json"}

// Config holds application configuration
type Config struct {
	LogLevel string `yaml:"log_level" json:"log_level" default:"info"`

	// Protocol selects the endpoint table: v1 or v2.
	Protocol string `yaml:"protocol" json:"protocol" default:"v2"`
	// Capacity bounds the number of simultaneously loaded headlights.
	Capacity int `yaml:"capacity" json:"capacity" default:"2"`

	AllowList []string `yaml:"allow_list,omitempty" json:"allow_list,omitempty"`
	BlockList []string `yaml:"block_list,omitempty" json:"block_list,omitempty"`

	// PreferencesFile stores the favorite and auto-connect flag. Empty means
	// DefaultPreferencesPath.
	PreferencesFile string `yaml:"preferences_file,omitempty" json:"preferences_file,omitempty"`

	TraceFile   string `yaml:"trace_file,omitempty" json:"trace_file,omitempty"`
	TraceBuffer uint32 `yaml:"trace_buffer" json:"trace_buffer" default:"4096"`

	EventBuffer  int `yaml:"event_buffer" json:"event_buffer" default:"256"`
	ChangeBuffer int `yaml:"change_buffer" json:"change_buffer" default:"64"`

	ScanTimeout  time.Duration `yaml:"scan_timeout" json:"scan_timeout" default:"10s"`
	LoadTimeout  time.Duration `yaml:"load_timeout" json:"load_timeout" default:"30s"`
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval" default:"100ms"`

	StreamAddr   string `yaml:"stream_addr" json:"stream_addr" default:"127.0.0.1:8642"`
	OutputFormat string `yaml:"output_format" json:"output_format" default:"table"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML file over the defaults. An empty path returns the
// defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every invalid field.
func (c *Config) Validate() error {
	var errs []error
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if _, err := endpoint.ByVersion(c.Protocol); err != nil {
		errs = append(errs, fmt.Errorf("protocol: %w", err))
	}
	if c.Capacity < 1 {
		errs = append(errs, fmt.Errorf("capacity must be at least 1, got %d", c.Capacity))
	}
	if c.EventBuffer < 1 {
		errs = append(errs, fmt.Errorf("event_buffer must be positive, got %d", c.EventBuffer))
	}
	if c.ChangeBuffer < 1 {
		errs = append(errs, fmt.Errorf("change_buffer must be positive, got %d", c.ChangeBuffer))
	}
	if c.TraceFile != "" && c.TraceBuffer == 0 {
		errs = append(errs, errors.New("trace_buffer must be positive when trace_file is set"))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval))
	}
	if !slices.Contains(OutputFormats, c.OutputFormat) {
		errs = append(errs, fmt.Errorf("output_format %q is not one of %v", c.OutputFormat, OutputFormats))
	}
	if _, err := toIDs(c.AllowList); err != nil {
		errs = append(errs, fmt.Errorf("allow_list: %w", err))
	}
	if _, err := toIDs(c.BlockList); err != nil {
		errs = append(errs, fmt.Errorf("block_list: %w", err))
	}
	return errors.Join(errs...)
}

// Level returns the parsed log level, info if it does not parse.
func (c *Config) Level() logrus.Level {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// Table returns the endpoint table of the configured protocol.
func (c *Config) Table() (*endpoint.Table, error) {
	return endpoint.ByVersion(c.Protocol)
}

// RouterOptions builds the router configuration.
func (c *Config) RouterOptions() (router.Options, error) {
	table, err := c.Table()
	if err != nil {
		return router.Options{}, err
	}
	allow, err := toIDs(c.AllowList)
	if err != nil {
		return router.Options{}, fmt.Errorf("allow_list: %w", err)
	}
	block, err := toIDs(c.BlockList)
	if err != nil {
		return router.Options{}, fmt.Errorf("block_list: %w", err)
	}
	return router.Options{
		Capacity:  c.Capacity,
		Table:     table,
		AllowList: allow,
		BlockList: block,
	}, nil
}

// toIDs normalizes list entries so they compare equal to the IDs the BLE
// stack reports.
func toIDs(in []string) ([]transport.ID, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make([]transport.ID, len(in))
	for i, s := range in {
		id, err := transport.ParseID(s)
		if err != nil {
			return nil, err
		}
		out[i] = id
	}
	return out, nil
}

// PreferencesPath returns the preference file to use.
func (c *Config) PreferencesPath() (string, error) {
	if c.PreferencesFile != "" {
		return c.PreferencesFile, nil
	}
	return DefaultPreferencesPath()
}

// DefaultPreferencesPath is headlight/preferences.yaml in the user config
// directory.
func DefaultPreferencesPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate user config directory: %w", err)
	}
	return filepath.Join(dir, "headlight", "preferences.yaml"), nil
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
