package cliconfig

import (
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig mirrors Config but uses strings for durations to make TOML friendly.
type FileConfig struct {
	DBPath        string `toml:"db_path"`
	ServiceURL    string `toml:"service_url"`
	AuthKey       string `toml:"auth_key"`
	PollInterval  string `toml:"poll_interval"`
	ProbeInterval string `toml:"probe_interval"`
	ProbeURL      string `toml:"probe_url"`
	HTTPTimeout   string `toml:"http_timeout"`
	StatusAddr    string `toml:"status_addr"`
	LogFile       string `toml:"log_file"`
	LogLevel      string `toml:"log_level"`
	Once          *bool  `toml:"once"`
	Retry         Retry  `toml:"retry"`
}

// Retry is the [retry] table of the config file.
type Retry struct {
	MaxAttempts *int   `toml:"max_attempts"`
	BaseDelay   string `toml:"base_delay"`
	MaxDelay    string `toml:"max_delay"`
}

// LoadFileConfig reads and parses a TOML config file from the given path.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns ~/.casesync/config.toml, or "" when the home
// directory is unknown.
func DefaultConfigPath() string {
	if home := DefaultHome(); home != "" {
		return filepath.Join(home, "config.toml")
	}
	return ""
}

// ApplyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("db", fc.DBPath, &cfg.DBPath)
	s.setString("service-url", fc.ServiceURL, &cfg.ServiceURL)
	s.setString("auth-key", fc.AuthKey, &cfg.AuthKey)
	s.setString("probe-url", fc.ProbeURL, &cfg.ProbeURL)
	s.setString("status-addr", fc.StatusAddr, &cfg.StatusAddr)
	s.setString("log-file", fc.LogFile, &cfg.LogFile)
	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)

	if err := s.setDuration("poll", fc.PollInterval, &cfg.PollInterval); err != nil {
		return err
	}
	if err := s.setDuration("probe-interval", fc.ProbeInterval, &cfg.ProbeInterval); err != nil {
		return err
	}
	if err := s.setDuration("timeout", fc.HTTPTimeout, &cfg.HTTPTimeout); err != nil {
		return err
	}

	if err := ApplyRetry(cfg, fc.Retry, changed); err != nil {
		return err
	}

	s.setBool("once", fc.Once, &cfg.Once)
	return nil
}

// ApplyRetry applies only the [retry] table. The config watcher uses it to
// re-read retry settings of a running agent.
func ApplyRetry(cfg *Config, r Retry, changed map[string]bool) error {
	s := newConfigSetter(changed)
	if err := s.setCount("retry-max-attempts", r.MaxAttempts, &cfg.RetryMaxAttempts); err != nil {
		return err
	}
	if err := s.setDuration("retry-base-delay", r.BaseDelay, &cfg.RetryBaseDelay); err != nil {
		return err
	}
	return s.setDuration("retry-max-delay", r.MaxDelay, &cfg.RetryMaxDelay)
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
