package casesync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	httpAdapter "github.com/bft-labs/casesync/internal/adapters/http"
	logAdapter "github.com/bft-labs/casesync/internal/adapters/log"
	"github.com/bft-labs/casesync/internal/adapters/netprobe"
	"github.com/bft-labs/casesync/internal/adapters/sqlite"
	"github.com/bft-labs/casesync/internal/app"
	"github.com/bft-labs/casesync/internal/metrics"
	"github.com/bft-labs/casesync/internal/ports"
	"github.com/bft-labs/casesync/internal/statusapi"
	"github.com/bft-labs/casesync/internal/tracker"
)

// Agent owns the local ledger, the tracker that records into it and the
// coordinator that syncs it. Recording works whether or not the agent is
// started; Start only enables background sync.
type Agent struct {
	config Config
	logger ports.Logger

	ledger      *sqlite.Ledger
	remote      *httpAdapter.Remote
	coordinator *app.Coordinator
	tracker     *tracker.Tracker
	collector   *metrics.Collector
	status      *statusapi.Server

	reachability ports.Reachability
	lifecycle    *app.Lifecycle
	plugins      []Plugin

	mu     sync.Mutex
	cancel context.CancelFunc
	closed bool
}

// New opens the ledger and wires the agent. The agent is created in
// StateStopped; call Start to begin syncing and Close when done.
func New(cfg Config, opts ...Option) (*Agent, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{Timeout: cfg.HTTPTimeout}
	}
	if o.logger == nil {
		o.logger = logAdapter.NewNoopLogger()
	}
	logger := o.logger

	ledger, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	remote := httpAdapter.NewRemote(o.httpClient, httpAdapter.RemoteConfig{
		ServiceURL: cfg.ServiceURL,
		AuthKey:    cfg.AuthKey,
	}, logger)

	reachability := o.reachability
	if reachability == nil {
		reachability = netprobe.NewProber(o.httpClient, netprobe.ProberConfig{
			URL:      cfg.ProbeURL,
			Interval: cfg.ProbeInterval,
			Timeout:  cfg.HTTPTimeout,
		}, logger)
	}

	var observers app.Observers
	var emitter app.EventEmitter
	if o.eventHandler != nil {
		bridge := eventBridge{handler: o.eventHandler}
		observers = append(observers, bridge)
		emitter = bridge
	}
	collector := o.collector()
	if collector != nil {
		observers = append(observers, collector)
	}

	coordinator := app.NewCoordinator(ledger, remote, app.CoordinatorConfig{
		PollInterval: cfg.PollInterval,
		CallTimeout:  cfg.HTTPTimeout,
		Retry:        cfg.Retry,
	}, logger, observers)

	if collector != nil {
		if err := collector.WatchBacklog(ledger, func() int { return coordinator.RetryPolicy().MaxAttempts }); err != nil {
			_ = ledger.Close()
			return nil, fmt.Errorf("register backlog metrics: %w", err)
		}
	}

	var metricsHandler http.Handler
	if collector != nil {
		metricsHandler = collector.Handler()
	}

	return &Agent{
		config:       cfg,
		logger:       logger,
		ledger:       ledger,
		remote:       remote,
		coordinator:  coordinator,
		tracker:      tracker.New(ledger, coordinator, logger),
		collector:    collector,
		status:       statusapi.New(ledger, coordinator, metricsHandler, logger),
		reachability: reachability,
		lifecycle:    app.NewLifecycle(logger, emitter),
		plugins:      o.plugins,
	}, nil
}

// Start begins background sync and, if configured, the status API.
// It returns immediately. ctx bounds the lifetime of the background work.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return fmt.Errorf("start: agent is closed")
	}
	if !a.lifecycle.CanStart() {
		return ErrAlreadyRunning
	}
	if err := a.lifecycle.TransitionTo(app.StateStarting, "Start() called"); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.lifecycle.SetCancel(cancel)

	pluginCfg := PluginConfig{
		DBPath:     a.config.DBPath,
		ServiceURL: a.config.ServiceURL,
		ConfigPath: a.config.ConfigPath,
		Logger:     a.logger,
		Controller: a,
	}
	for _, p := range a.plugins {
		if err := initPlugin(runCtx, p, pluginCfg); err != nil {
			a.logger.Error("plugin initialization failed",
				ports.String("plugin", p.Name()),
				ports.Err(err))
			cancel()
			_ = a.lifecycle.TransitionTo(app.StateCrashed, "plugin init failed: "+p.Name())
			return err
		}
		a.logger.Info("plugin initialized", ports.String("plugin", p.Name()))
	}

	if addr := a.config.StatusAddr; addr != "" {
		a.lifecycle.Go(func() {
			if err := a.status.ListenAndServe(runCtx, addr); err != nil {
				a.logger.Error("status API stopped", ports.String("addr", addr), ports.Err(err))
			}
		})
	}

	a.lifecycle.Go(func() {
		if err := a.lifecycle.TransitionTo(app.StateRunning, "coordinator starting"); err != nil {
			a.logger.Error("failed to transition to running", ports.Err(err))
			return
		}
		err := a.coordinator.Run(runCtx, a.reachability)
		if err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("coordinator error", ports.Err(err))
			_ = a.lifecycle.TransitionTo(app.StateCrashed, err.Error())
		}
	})
	return nil
}

// Stop cancels background work and waits for it, up to the shutdown
// timeout. Records that were not synced stay in the ledger.
func (a *Agent) Stop() error {
	a.mu.Lock()
	if !a.lifecycle.CanStop() {
		a.mu.Unlock()
		return ErrNotRunning
	}
	if err := a.lifecycle.TransitionTo(app.StateStopping, "Stop() called"); err != nil {
		a.mu.Unlock()
		return err
	}
	if a.cancel != nil {
		a.cancel()
	}
	a.mu.Unlock()

	err := a.lifecycle.WaitWithTimeout(app.ShutdownTimeout)

	shutdownCtx := context.Background()
	for i := len(a.plugins) - 1; i >= 0; i-- {
		p := a.plugins[i]
		if shutdownErr := shutdownPlugin(shutdownCtx, p); shutdownErr != nil {
			a.logger.Error("plugin shutdown failed",
				ports.String("plugin", p.Name()),
				ports.Err(shutdownErr))
		} else {
			a.logger.Info("plugin shutdown complete", ports.String("plugin", p.Name()))
		}
	}

	if err != nil {
		_ = a.lifecycle.TransitionTo(app.StateCrashed, "shutdown timeout")
	} else {
		_ = a.lifecycle.TransitionTo(app.StateStopped, "graceful shutdown")
	}
	return err
}

// Close stops the agent if it is running and closes the ledger.
func (a *Agent) Close() error {
	if a.lifecycle.CanStop() {
		if err := a.Stop(); err != nil && !errors.Is(err, ErrNotRunning) {
			a.logger.Warn("stop on close", ports.Err(err))
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	return a.ledger.Close()
}

// Status returns the current lifecycle state.
func (a *Agent) Status() State {
	return convertState(a.lifecycle.State())
}

// Tracker returns the recorder for gameplay activity.
func (a *Agent) Tracker() *Tracker {
	return a.tracker
}

// SyncNow runs one sync pass immediately, whether or not the agent is
// started and regardless of reachability; unreachable calls are recorded
// as failures. It returns ErrPassInProgress if a pass is already running.
func (a *Agent) SyncNow(ctx context.Context) (PassResult, error) {
	return a.coordinator.RunPass(ctx)
}

// RequestSync asks the running agent for a pass. Requests made while the
// remote store is unreachable are dropped.
func (a *Agent) RequestSync() {
	a.coordinator.Request()
}

// Online reports the last known reachability of the remote store.
func (a *Agent) Online() bool {
	return a.coordinator.Online()
}

// LastPass returns the result of the most recent pass, if any.
func (a *Agent) LastPass() (PassResult, bool) {
	return a.coordinator.LastPass()
}

// RetryPolicy returns the policy in effect.
func (a *Agent) RetryPolicy() RetryPolicy {
	return a.coordinator.RetryPolicy()
}

// SetRetryPolicy replaces the retry policy; the next pass uses it.
func (a *Agent) SetRetryPolicy(p RetryPolicy) error {
	return a.coordinator.SetRetryPolicy(p)
}

// Stats returns a user's aggregates from the local ledger.
func (a *Agent) Stats(ctx context.Context, username string) (UserStats, error) {
	return a.ledger.UserStats(ctx, username)
}

// History returns a user's sessions from the local ledger, newest first.
func (a *Agent) History(ctx context.Context, username string) ([]SessionHistory, error) {
	return a.ledger.SessionHistory(ctx, username)
}

// RemoteStats asks the remote store for a user's aggregates.
func (a *Agent) RemoteStats(ctx context.Context, username string) (UserStats, error) {
	return a.remote.UserStats(ctx, username)
}

// RemoteHistory asks the remote store for a user's sessions.
func (a *Agent) RemoteHistory(ctx context.Context, username string) ([]SessionHistory, error) {
	return a.remote.SessionHistory(ctx, username)
}

// Counts returns per-kind record counts by sync status.
func (a *Agent) Counts(ctx context.Context) (map[Kind]StatusCounts, error) {
	return a.ledger.Counts(ctx, a.RetryPolicy().MaxAttempts)
}

// Requeue moves failed records of the given kinds (all kinds if none) back
// to pending with fresh retry bookkeeping.
func (a *Agent) Requeue(ctx context.Context, kinds ...Kind) (int, error) {
	n, err := a.ledger.Requeue(ctx, kinds...)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		a.logger.Info("records requeued", ports.Int("count", n))
		a.coordinator.Request()
	}
	return n, nil
}

// Wipe deletes every local record, synced or not.
func (a *Agent) Wipe(ctx context.Context) error {
	if err := a.ledger.Wipe(ctx); err != nil {
		return err
	}
	a.logger.Warn("ledger wiped", ports.String("path", a.ledger.Path()))
	return nil
}

// Handler returns the status API handler, for mounting in an existing
// server instead of setting StatusAddr.
func (a *Agent) Handler() http.Handler {
	return a.status
}

// MetricsHandler returns the Prometheus handler, or nil without WithMetrics.
func (a *Agent) MetricsHandler() http.Handler {
	if a.collector == nil {
		return nil
	}
	return a.collector.Handler()
}

func initPlugin(ctx context.Context, p Plugin, cfg PluginConfig) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("plugin %s panicked during initialization: %v", p.Name(), r)
		}
	}()
	return p.Initialize(ctx, cfg)
}

func shutdownPlugin(ctx context.Context, p Plugin) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("plugin %s panicked during shutdown: %v", p.Name(), r)
		}
	}()
	return p.Shutdown(ctx)
}
