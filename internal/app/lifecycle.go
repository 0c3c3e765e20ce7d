package app

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/bft-labs/casesync/internal/domain"
	"github.com/bft-labs/casesync/internal/ports"
)

// ShutdownTimeout bounds how long Stop waits for the coordinator loop and
// the status server to return.
const ShutdownTimeout = 30 * time.Second

// State is where an agent is in its start/stop cycle. Recording into the
// ledger works in every state; only background sync depends on it.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
	StateCrashed
)

var stateNames = [...]string{"Stopped", "Starting", "Running", "Stopping", "Crashed"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "Unknown"
	}
	return stateNames[s]
}

// transitions lists the allowed target states per source state. Starting
// may crash when a plugin fails to initialize; Running crashes when the
// coordinator loop exits with an error.
var transitions = map[State][]State{
	StateStopped:  {StateStarting},
	StateStarting: {StateRunning, StateStopping, StateCrashed},
	StateRunning:  {StateStopping, StateCrashed},
	StateStopping: {StateStopped, StateCrashed},
	StateCrashed:  {StateStarting},
}

// EventEmitter receives every accepted state change.
type EventEmitter interface {
	OnStateChange(previous, current State, reason string)
}

// Lifecycle guards the agent state and owns the background goroutines
// started for a run: the coordinator loop and, when configured, the
// status API server.
type Lifecycle struct {
	mu      sync.RWMutex
	state   State
	cancel  context.CancelFunc
	workers sync.WaitGroup

	logger  ports.Logger
	emitter EventEmitter
}

// NewLifecycle returns a stopped lifecycle. emitter may be nil.
func NewLifecycle(logger ports.Logger, emitter EventEmitter) *Lifecycle {
	return &Lifecycle{state: StateStopped, logger: logger, emitter: emitter}
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// TransitionTo moves to next, or fails with ErrNotRunning or
// ErrAlreadyRunning when the move is not allowed from the current state.
func (l *Lifecycle) TransitionTo(next State, reason string) error {
	l.mu.Lock()
	prev := l.state
	if !slices.Contains(transitions[prev], next) {
		l.mu.Unlock()
		if prev == StateStopped || prev == StateCrashed {
			return domain.ErrNotRunning
		}
		return domain.ErrAlreadyRunning
	}
	l.state = next
	l.mu.Unlock()

	if l.emitter != nil {
		l.emitter.OnStateChange(prev, next, reason)
	}
	l.logger.Info("agent state changed",
		ports.String("from", prev.String()),
		ports.String("to", next.String()),
		ports.String("reason", reason))
	return nil
}

// CanStart reports whether a run may begin: the agent is stopped or crashed.
func (l *Lifecycle) CanStart() bool {
	s := l.State()
	return s == StateStopped || s == StateCrashed
}

// CanStop reports whether there is a run to stop.
func (l *Lifecycle) CanStop() bool {
	s := l.State()
	return s == StateStarting || s == StateRunning
}

// SetCancel stores the cancel func of the current run's context.
func (l *Lifecycle) SetCancel(cancel context.CancelFunc) {
	l.mu.Lock()
	l.cancel = cancel
	l.mu.Unlock()
}

// Cancel cancels the current run's context, if any.
func (l *Lifecycle) Cancel() {
	l.mu.RLock()
	cancel := l.cancel
	l.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

// Go runs fn in a goroutine that WaitWithTimeout waits for.
func (l *Lifecycle) Go(fn func()) {
	l.workers.Add(1)
	go func() {
		defer l.workers.Done()
		fn()
	}()
}

// WaitWithTimeout blocks until every goroutine started with Go has returned.
// Goroutines still running after timeout are abandoned and
// ErrShutdownTimeout is returned.
func (l *Lifecycle) WaitWithTimeout(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		l.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		l.logger.Warn("agent workers still running after shutdown timeout",
			ports.Duration("timeout", timeout))
		return domain.ErrShutdownTimeout
	}
}
