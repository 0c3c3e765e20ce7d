package cliconfig

import "os"

// EnvPrefix prefixes every environment variable read by ApplyEnvConfig.
const EnvPrefix = "CASESYNC_"

// ApplyEnvConfig applies CASESYNC_* environment variables to cfg. Values
// override the config file but not explicitly set flags.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)
	env := func(name string) string { return os.Getenv(EnvPrefix + name) }

	s.setString("db", env("DB_PATH"), &cfg.DBPath)
	s.setString("service-url", env("SERVICE_URL"), &cfg.ServiceURL)
	s.setString("auth-key", env("AUTH_KEY"), &cfg.AuthKey)
	s.setString("probe-url", env("PROBE_URL"), &cfg.ProbeURL)
	s.setString("status-addr", env("STATUS_ADDR"), &cfg.StatusAddr)
	s.setString("log-file", env("LOG_FILE"), &cfg.LogFile)
	s.setString("log-level", env("LOG_LEVEL"), &cfg.LogLevel)

	if err := s.setDuration("poll", env("POLL_INTERVAL"), &cfg.PollInterval); err != nil {
		return err
	}
	if err := s.setDuration("probe-interval", env("PROBE_INTERVAL"), &cfg.ProbeInterval); err != nil {
		return err
	}
	if err := s.setDuration("timeout", env("HTTP_TIMEOUT"), &cfg.HTTPTimeout); err != nil {
		return err
	}

	if err := s.setCountFromString("retry-max-attempts", env("RETRY_MAX_ATTEMPTS"), &cfg.RetryMaxAttempts); err != nil {
		return err
	}
	if err := s.setDuration("retry-base-delay", env("RETRY_BASE_DELAY"), &cfg.RetryBaseDelay); err != nil {
		return err
	}
	if err := s.setDuration("retry-max-delay", env("RETRY_MAX_DELAY"), &cfg.RetryMaxDelay); err != nil {
		return err
	}

	s.setBoolFromString("once", env("ONCE"), &cfg.Once)
	return nil
}
