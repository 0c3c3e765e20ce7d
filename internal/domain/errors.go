package domain

import "errors"

// Domain errors represent error conditions in the casesync domain.
// These errors are returned by the public API and can be checked with errors.Is.
var (
	// ErrAlreadyRunning is returned when Start() is called on a running instance.
	ErrAlreadyRunning = errors.New("casesync: already running")

	// ErrNotRunning is returned when Stop() is called on a stopped instance.
	ErrNotRunning = errors.New("casesync: not running")

	// ErrShutdownTimeout is returned when graceful shutdown times out.
	ErrShutdownTimeout = errors.New("casesync: shutdown timeout")

	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("casesync: invalid configuration")

	// ErrNotFound is returned when a ledger lookup matches no record.
	ErrNotFound = errors.New("casesync: record not found")

	// ErrRemote wraps every failure reported by the remote service adapter:
	// transport errors, timeouts, non-2xx responses and malformed bodies.
	ErrRemote = errors.New("casesync: remote call failed")

	// ErrPassInProgress is returned when a sync pass is requested while
	// another pass is still running. The request is dropped, not queued.
	ErrPassInProgress = errors.New("casesync: sync pass already in progress")

	// ErrNoActiveSession is returned by the tracker when a write needs a
	// session and none has been started.
	ErrNoActiveSession = errors.New("casesync: no active session")

	// ErrNoActiveUser is returned by the tracker when stats are requested
	// before any session was started.
	ErrNoActiveUser = errors.New("casesync: no active user")

	// ErrNoActiveCase is returned by the tracker when a case completion is
	// recorded without a started case.
	ErrNoActiveCase = errors.New("casesync: no active case")
)
