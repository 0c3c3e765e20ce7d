package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/bft-labs/casesync/internal/domain"
	"github.com/bft-labs/casesync/internal/ports"
)

// Default coordinator timings.
const (
	DefaultPollInterval = 30 * time.Second
	DefaultCallTimeout  = 10 * time.Second
)

// CoordinatorConfig configures a Coordinator.
type CoordinatorConfig struct {
	// PollInterval is the period of passes while online. Zero disables
	// periodic passes; connectivity changes and requests still trigger them.
	PollInterval time.Duration

	// CallTimeout bounds each remote call. A timeout counts as a failure.
	CallTimeout time.Duration

	Retry RetryPolicy
}

// Coordinator pushes pending ledger records to the remote store in
// dependency order: sessions, then case attempts, then learner actions.
// At most one pass runs at a time.
type Coordinator struct {
	queue    ports.SyncQueue
	remote   ports.Remote
	logger   ports.Logger
	observer Observer

	pollInterval time.Duration
	callTimeout  time.Duration
	retry        atomic.Pointer[RetryPolicy]

	running  atomic.Bool
	online   atomic.Bool
	requests chan struct{}
	lastPass atomic.Pointer[PassResult]

	now    func() time.Time
	jitter func() float64
}

// NewCoordinator creates a coordinator. observer may be nil.
func NewCoordinator(queue ports.SyncQueue, remote ports.Remote, cfg CoordinatorConfig, logger ports.Logger, observer Observer) *Coordinator {
	if observer == nil {
		observer = Observers(nil)
	}
	c := &Coordinator{
		queue:        queue,
		remote:       remote,
		logger:       logger,
		observer:     observer,
		pollInterval: cfg.PollInterval,
		callTimeout:  cfg.CallTimeout,
		requests:     make(chan struct{}, 1),
		now:          time.Now,
	}
	policy := cfg.Retry
	c.retry.Store(&policy)
	return c
}

// RetryPolicy returns the policy in effect.
func (c *Coordinator) RetryPolicy() RetryPolicy {
	return *c.retry.Load()
}

// SetRetryPolicy replaces the retry policy; the next pass uses it.
func (c *Coordinator) SetRetryPolicy(p RetryPolicy) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidConfig, err)
	}
	c.retry.Store(&p)
	c.logger.Info("retry policy updated",
		ports.Int("max_attempts", p.MaxAttempts),
		ports.Duration("base_delay", p.BaseDelay),
		ports.Duration("max_delay", p.MaxDelay))
	return nil
}

// Online reports the last known reachability.
func (c *Coordinator) Online() bool {
	return c.online.Load()
}

// Syncing reports whether a pass is in progress.
func (c *Coordinator) Syncing() bool {
	return c.running.Load()
}

// LastPass returns the result of the most recent pass, if any.
func (c *Coordinator) LastPass() (PassResult, bool) {
	p := c.lastPass.Load()
	if p == nil {
		return PassResult{}, false
	}
	return *p, true
}

// Request asks the Run loop for a pass. It never blocks; requests made
// while one is already queued collapse into it.
func (c *Coordinator) Request() {
	select {
	case c.requests <- struct{}{}:
	default:
	}
}

// Run drives passes until ctx is done: once when the network is first seen
// reachable, on every offline to online transition, every PollInterval while
// online, and on Request. Requests while offline are dropped.
func (c *Coordinator) Run(ctx context.Context, reachability ports.Reachability) error {
	status := reachability.Subscribe(ctx)

	var (
		ticker *time.Ticker
		tick   <-chan time.Time
		known  bool
		online bool
	)
	stopTicker := func() {
		if ticker != nil {
			ticker.Stop()
			ticker, tick = nil, nil
		}
	}
	defer stopTicker()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case up, ok := <-status:
			if !ok {
				status = nil
				continue
			}
			wasOffline := known && !online
			changed := !known || up != online
			known, online = true, up
			c.online.Store(up)
			if !changed {
				continue
			}

			c.logger.Info("connectivity changed", ports.Bool("online", up), ports.Bool("was_offline", wasOffline))
			c.observer.OnConnectivityChange(up, wasOffline)

			if !up {
				stopTicker()
				continue
			}
			if ticker == nil && c.pollInterval > 0 {
				ticker = time.NewTicker(c.pollInterval)
				tick = ticker.C
			}
			c.Request()

		case <-tick:
			c.Request()

		case <-c.requests:
			if !online {
				c.logger.Debug("offline, skipping sync pass")
				continue
			}
			if _, err := c.RunPass(ctx); err != nil && !errors.Is(err, domain.ErrPassInProgress) {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				c.logger.Error("sync pass aborted", ports.Err(err))
			}
		}
	}
}

// RunPass performs one sync pass. It returns ErrPassInProgress without doing
// anything when another pass is running. Remote failures are recorded on the
// affected records and do not fail the pass; ledger errors and cancellation
// abort it.
func (c *Coordinator) RunPass(ctx context.Context) (PassResult, error) {
	if !c.running.CompareAndSwap(false, true) {
		return PassResult{}, domain.ErrPassInProgress
	}
	defer c.running.Store(false)

	start := c.now()
	res := newPassResult(start)
	policy := c.RetryPolicy()

	err := c.pass(ctx, &res, policy)
	res.Duration = c.now().Sub(start)
	c.lastPass.Store(&res)
	c.observer.OnPassComplete(res, err)

	totals := res.Totals()
	fields := []ports.Field{
		ports.Int("synced", totals.Synced),
		ports.Int("failed", totals.Failed),
		ports.Int("deferred", totals.Deferred),
		ports.Int("requeued", res.Requeued),
		ports.Duration("duration", res.Duration),
	}
	switch {
	case err != nil:
		c.logger.Warn("sync pass aborted", append(fields, ports.Err(err))...)
	case totals.Synced+totals.Failed+totals.Deferred+res.Requeued > 0:
		c.logger.Info("sync pass complete", fields...)
	default:
		c.logger.Debug("sync pass complete, nothing pending")
	}
	return res, err
}

func (c *Coordinator) pass(ctx context.Context, res *PassResult, policy RetryPolicy) error {
	n, err := c.queue.RequeueDue(ctx, c.now(), policy.MaxAttempts)
	if err != nil {
		return fmt.Errorf("requeue due records: %w", err)
	}
	res.Requeued = n

	p := &passState{
		Coordinator: c,
		res:         res,
		policy:      policy,
		sessions:    make(map[int64]dependency),
		attempts:    make(map[int64]dependency),
	}
	if err := p.syncSessions(ctx); err != nil {
		return err
	}
	if err := p.syncCaseAttempts(ctx); err != nil {
		return err
	}
	return p.syncLearnerActions(ctx)
}

// callCtx derives the context of one remote call.
func (c *Coordinator) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout > 0 {
		return context.WithTimeout(ctx, c.callTimeout)
	}
	return context.WithCancel(ctx)
}
