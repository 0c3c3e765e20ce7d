package casesync

import "context"

// Plugin extends a running Agent.
type Plugin interface {
	// Name identifies the plugin in logs.
	Name() string

	// Initialize is called by Start. A returned error aborts Start and
	// leaves the agent Crashed.
	Initialize(ctx context.Context, cfg PluginConfig) error

	// Shutdown is called by Stop, in reverse registration order.
	Shutdown(ctx context.Context) error
}

// Controller is the part of a running agent plugins may drive.
type Controller interface {
	RetryPolicy() RetryPolicy
	SetRetryPolicy(p RetryPolicy) error
	RequestSync()
}

// PluginConfig is handed to Plugin.Initialize.
type PluginConfig struct {
	DBPath     string
	ServiceURL string
	ConfigPath string
	Logger     Logger
	Controller Controller
}

// BasePlugin implements Plugin with no-ops. Embed it and override what
// you need.
type BasePlugin struct{}

func (BasePlugin) Name() string                                   { return "base" }
func (BasePlugin) Initialize(context.Context, PluginConfig) error { return nil }
func (BasePlugin) Shutdown(context.Context) error                 { return nil }
