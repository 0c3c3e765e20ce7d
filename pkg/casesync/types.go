package casesync

import (
	"github.com/bft-labs/casesync/internal/app"
	"github.com/bft-labs/casesync/internal/domain"
	"github.com/bft-labs/casesync/internal/ports"
	"github.com/bft-labs/casesync/internal/tracker"
)

// Re-exported types so embedders never import internal packages.
type (
	// HTTPClient is satisfied by *http.Client.
	HTTPClient = ports.HTTPClient

	// Logger is the structured logging interface, also available as
	// github.com/bft-labs/casesync/pkg/log.Logger.
	Logger = ports.Logger

	// LogField is a structured log field.
	LogField = ports.Field

	// Reachability reports whether the remote store can be reached.
	Reachability = ports.Reachability

	Tracker        = tracker.Tracker
	RetryPolicy    = app.RetryPolicy
	PassResult     = app.PassResult
	TierResult     = app.TierResult
	Kind           = domain.Kind
	ActionType     = domain.ActionType
	CaseResult     = domain.CaseResult
	UserStats      = domain.UserStats
	SessionHistory = domain.SessionHistory
	StatusCounts   = domain.StatusCounts
)

// Record kinds.
const (
	KindUser          = domain.KindUser
	KindSession       = domain.KindSession
	KindCaseAttempt   = domain.KindCaseAttempt
	KindLearnerAction = domain.KindLearnerAction
)

// Learner action types.
const (
	ActionStartSession    = domain.ActionStartSession
	ActionEndSession      = domain.ActionEndSession
	ActionStartCase       = domain.ActionStartCase
	ActionSubmitTest      = domain.ActionSubmitTest
	ActionSubmitDiagnosis = domain.ActionSubmitDiagnosis
	ActionCompleteCase    = domain.ActionCompleteCase
	ActionViewHelp        = domain.ActionViewHelp
	ActionViewStats       = domain.ActionViewStats
	ActionSkipStep        = domain.ActionSkipStep
)

// Errors returned by the agent and its tracker.
var (
	ErrInvalidConfig   = domain.ErrInvalidConfig
	ErrAlreadyRunning  = domain.ErrAlreadyRunning
	ErrNotRunning      = domain.ErrNotRunning
	ErrShutdownTimeout = domain.ErrShutdownTimeout
	ErrPassInProgress  = domain.ErrPassInProgress
	ErrNoActiveSession = domain.ErrNoActiveSession
	ErrNoActiveCase    = domain.ErrNoActiveCase
	ErrNoActiveUser    = domain.ErrNoActiveUser
	ErrNotFound        = domain.ErrNotFound
	ErrRemote          = domain.ErrRemote
)

// DefaultRetryPolicy returns the built-in retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return app.DefaultRetryPolicy()
}

// ParseKind converts a table name such as "sessions" into a Kind.
func ParseKind(s string) (Kind, error) {
	return domain.ParseKind(s)
}

// Kinds returns every record kind in dependency order.
func Kinds() []Kind {
	return append([]Kind(nil), domain.Kinds...)
}
