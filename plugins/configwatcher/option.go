package configwatcher

import "github.com/bft-labs/casesync/pkg/casesync"

// WithConfigWatcher returns a casesync Option that reloads the retry policy
// whenever Config.ConfigPath changes.
//
// Usage:
//
//	agent, err := casesync.New(cfg,
//	    configwatcher.WithConfigWatcher(configwatcher.DefaultConfig()),
//	)
func WithConfigWatcher(cfg Config) casesync.Option {
	return casesync.WithPlugin(New(cfg))
}

// WithDefaultConfigWatcher enables config watching with default settings.
func WithDefaultConfigWatcher() casesync.Option {
	return WithConfigWatcher(DefaultConfig())
}
