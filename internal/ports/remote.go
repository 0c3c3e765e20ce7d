package ports

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/bft-labs/casesync/internal/domain"
)

// HTTPClient is what the remote client and the reachability probe send
// requests through; *http.Client satisfies it.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Remote is the protocol client for the authoritative remote store.
// It performs exactly one request per call, never retries and holds no state.
// Every failure wraps domain.ErrRemote.
type Remote interface {
	// CreateSession creates a session for username, creating the user
	// remotely if needed, and returns the remote session id.
	CreateSession(ctx context.Context, req CreateSessionRequest) (int64, error)

	// EndSession records the final score of a remote session.
	EndSession(ctx context.Context, req EndSessionRequest) error

	// CreateCaseAttempt creates a case attempt under a remote session.
	CreateCaseAttempt(ctx context.Context, req CreateCaseAttemptRequest) (int64, error)

	// CompleteCaseAttempt records the scoring outcome of a remote case attempt.
	CompleteCaseAttempt(ctx context.Context, req CompleteCaseAttemptRequest) error

	// AppendAction appends a learner action. Any 2xx reply is an
	// acknowledgment; the returned id is zero unless the reply carries one.
	AppendAction(ctx context.Context, req AppendActionRequest) (int64, error)
}

// RemoteStats reads aggregates straight from the remote store. Only operator
// tooling uses it; the presentation layer reads the ledger.
type RemoteStats interface {
	UserStats(ctx context.Context, username string) (domain.UserStats, error)
	SessionHistory(ctx context.Context, username string) ([]domain.SessionHistory, error)
}

// CreateSessionRequest is the payload of POST /sessions.
type CreateSessionRequest struct {
	Username       string
	IdempotencyKey string
}

// EndSessionRequest is the payload of PUT /sessions/{id}/end.
type EndSessionRequest struct {
	SessionID      int64
	TotalScore     int
	CasesCompleted int
	IdempotencyKey string
}

// CreateCaseAttemptRequest is the payload of POST /case-attempts.
type CreateCaseAttemptRequest struct {
	SessionID      int64
	CaseID         string
	IdempotencyKey string
}

// CompleteCaseAttemptRequest is the payload of PUT /case-attempts/{id}/complete.
type CompleteCaseAttemptRequest struct {
	CaseAttemptID int64
	domain.CaseResult
	IdempotencyKey string
}

// AppendActionRequest is the payload of POST /actions. CaseAttemptID is nil
// when the action is not linked to a synced case attempt.
type AppendActionRequest struct {
	SessionID      int64
	CaseAttemptID  *int64
	ActionType     domain.ActionType
	ActionData     json.RawMessage
	IdempotencyKey string
}
