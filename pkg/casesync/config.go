package casesync

import (
	"fmt"
	"strings"
	"time"

	"github.com/bft-labs/casesync/internal/app"
)

// Default configuration values.
const (
	DefaultServiceURL    = "http://localhost:3000"
	DefaultPollInterval  = app.DefaultPollInterval
	DefaultProbeInterval = 15 * time.Second
	DefaultHTTPTimeout   = app.DefaultCallTimeout
)

// Config configures an Agent.
type Config struct {
	// DBPath is the ledger file. ":memory:" keeps the ledger in memory.
	DBPath string

	// ServiceURL is the base URL of the remote store; requests go to
	// ServiceURL + "/api".
	ServiceURL string
	AuthKey    string

	// PollInterval is the period of sync passes while online.
	PollInterval time.Duration

	// ProbeInterval and ProbeURL configure the default reachability probe.
	// ProbeURL defaults to ServiceURL. Ignored with WithReachability.
	ProbeInterval time.Duration
	ProbeURL      string

	// HTTPTimeout bounds each remote call.
	HTTPTimeout time.Duration

	// Retry is the initial retry policy; see Agent.SetRetryPolicy.
	Retry RetryPolicy

	// StatusAddr, when set, serves the local status API on this address.
	StatusAddr string

	// ConfigPath is handed to plugins that watch the configuration file.
	ConfigPath string
}

// SetDefaults fills zero values with defaults.
func (c *Config) SetDefaults() {
	if c.ServiceURL == "" {
		c.ServiceURL = DefaultServiceURL
	}
	c.ServiceURL = strings.TrimRight(c.ServiceURL, "/")
	if c.ProbeURL == "" {
		c.ProbeURL = c.ServiceURL
	}
	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.ProbeInterval == 0 {
		c.ProbeInterval = DefaultProbeInterval
	}
	if c.HTTPTimeout == 0 {
		c.HTTPTimeout = DefaultHTTPTimeout
	}
	if c.Retry == (RetryPolicy{}) {
		c.Retry = DefaultRetryPolicy()
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("%w: DBPath is required", ErrInvalidConfig)
	}
	if c.PollInterval < 0 || c.ProbeInterval < 0 || c.HTTPTimeout < 0 {
		return fmt.Errorf("%w: intervals must not be negative", ErrInvalidConfig)
	}
	if err := c.Retry.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}
