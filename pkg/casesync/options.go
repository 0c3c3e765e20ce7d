package casesync

import "github.com/bft-labs/casesync/internal/metrics"

// Option configures optional behavior of an Agent.
type Option func(*options)

type options struct {
	httpClient       HTTPClient
	logger           Logger
	eventHandler     EventHandler
	plugins          []Plugin
	reachability     Reachability
	metricsNamespace string
	metricsEnabled   bool
}

// WithHTTPClient sets the HTTP client used for remote calls and the
// reachability probe. Defaults to an *http.Client with HTTPTimeout.
func WithHTTPClient(client HTTPClient) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithEventHandler sets a handler for agent events.
func WithEventHandler(handler EventHandler) Option {
	return func(o *options) {
		o.eventHandler = handler
	}
}

// WithPlugin registers a plugin to be initialized when the agent starts.
func WithPlugin(plugin Plugin) Option {
	return func(o *options) {
		o.plugins = append(o.plugins, plugin)
	}
}

// WithReachability replaces the default HTTP probe, e.g. with an OS
// network-state source.
func WithReachability(r Reachability) Option {
	return func(o *options) {
		o.reachability = r
	}
}

// WithMetrics enables Prometheus metrics under namespace (default
// "casesync"). They are served on /metrics of the status API and through
// Agent.MetricsHandler.
func WithMetrics(namespace string) Option {
	return func(o *options) {
		o.metricsEnabled = true
		o.metricsNamespace = namespace
	}
}

func (o options) collector() *metrics.Collector {
	if !o.metricsEnabled {
		return nil
	}
	return metrics.NewCollector(o.metricsNamespace)
}
