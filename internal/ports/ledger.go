package ports

import (
	"context"
	"time"

	"github.com/bft-labs/casesync/internal/domain"
)

// Ledger is the durable local store of telemetry records.
//
// Every write is local only; no network access happens behind this interface.
// Implementations must serialize concurrent mutations of the same record so
// that domain writes and coordinator status writes never lose each other.
// Lookups return domain.ErrNotFound (wrapped) when no record matches.
type Ledger interface {
	LedgerWriter
	SyncQueue
	StatsReader

	// Counts returns per-kind record counts by status. maxAttempts marks
	// failed records at or above the cap as exhausted.
	Counts(ctx context.Context, maxAttempts int) (map[domain.Kind]domain.StatusCounts, error)

	// Requeue moves failed records of the given kinds back to pending and
	// clears their retry bookkeeping. No kinds means every kind.
	Requeue(ctx context.Context, kinds ...domain.Kind) (int, error)

	// Wipe deletes every record. Administrative, outside the sync protocol.
	Wipe(ctx context.Context) error

	Close() error
}

// LedgerWriter is the write API used by domain logic. Creates insert with
// status pending and no server id; updates merge fields, force pending and
// refresh the modification time.
type LedgerWriter interface {
	CreateUser(ctx context.Context, username string) (domain.User, error)
	EnsureUser(ctx context.Context, username string) (domain.User, error)
	GetUser(ctx context.Context, localID int64) (domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (domain.User, error)

	CreateSession(ctx context.Context, userID int64) (domain.Session, error)
	UpdateSession(ctx context.Context, localID int64, update domain.SessionUpdate) (domain.Session, error)
	GetSession(ctx context.Context, localID int64) (domain.Session, error)

	CreateCaseAttempt(ctx context.Context, sessionID int64, caseID string) (domain.CaseAttempt, error)
	CompleteCaseAttempt(ctx context.Context, localID int64, result domain.CaseResult) (domain.CaseAttempt, error)
	GetCaseAttempt(ctx context.Context, localID int64) (domain.CaseAttempt, error)
	ListCaseAttemptsBySession(ctx context.Context, sessionID int64) ([]domain.CaseAttempt, error)

	CreateLearnerAction(ctx context.Context, in domain.LearnerActionInput) (domain.LearnerAction, error)
	GetLearnerAction(ctx context.Context, localID int64) (domain.LearnerAction, error)
	ListActionsBySession(ctx context.Context, sessionID int64) ([]domain.LearnerAction, error)
}

// SyncQueue is the view of the ledger the sync coordinator works against.
type SyncQueue interface {
	// ListPending* return every pending record of the kind, oldest
	// LastModified first, read in a single statement.
	ListPendingSessions(ctx context.Context) ([]domain.Session, error)
	ListPendingCaseAttempts(ctx context.Context) ([]domain.CaseAttempt, error)
	ListPendingLearnerActions(ctx context.Context) ([]domain.LearnerAction, error)

	GetUser(ctx context.Context, localID int64) (domain.User, error)
	GetSession(ctx context.Context, localID int64) (domain.Session, error)
	GetCaseAttempt(ctx context.Context, localID int64) (domain.CaseAttempt, error)

	// MarkSynced stores the server id and, when the record is still at
	// ref.Revision, sets status synced. It reports whether the status changed;
	// a newer local revision keeps the record pending.
	MarkSynced(ctx context.Context, ref domain.RecordRef, serverID int64) (bool, error)

	// MarkFailed sets status failed and schedules the next retry, unless a
	// newer local revision exists, in which case the record stays pending.
	// It reports whether the status changed.
	MarkFailed(ctx context.Context, ref domain.RecordRef, nextAttemptAt time.Time) (bool, error)

	// SetServerID records a remote identity without changing status.
	SetServerID(ctx context.Context, kind domain.Kind, localID, serverID int64) error

	// MarkUserSynced flags a user as known to the remote store.
	MarkUserSynced(ctx context.Context, localID int64) error

	// RequeueDue moves failed records whose retry time has passed and whose
	// attempt count is below maxAttempts back to pending.
	RequeueDue(ctx context.Context, now time.Time, maxAttempts int) (int, error)
}

// StatsReader serves the presentation layer from the local cache.
type StatsReader interface {
	UserStats(ctx context.Context, username string) (domain.UserStats, error)
	SessionHistory(ctx context.Context, username string) ([]domain.SessionHistory, error)
}
