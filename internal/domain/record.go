package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// SyncStatus is the synchronization state of a ledger record.
type SyncStatus string

const (
	StatusPending SyncStatus = "pending"
	StatusSynced  SyncStatus = "synced"
	StatusFailed  SyncStatus = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s SyncStatus) Valid() bool {
	switch s {
	case StatusPending, StatusSynced, StatusFailed:
		return true
	}
	return false
}

// Kind names a record table in the ledger.
type Kind string

const (
	KindUser          Kind = "users"
	KindSession       Kind = "sessions"
	KindCaseAttempt   Kind = "case_attempts"
	KindLearnerAction Kind = "learner_actions"
)

// Kinds lists every record kind in dependency order.
var Kinds = []Kind{KindUser, KindSession, KindCaseAttempt, KindLearnerAction}

// ParseKind converts a table name into a Kind.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown record kind %q", s)
}

// SyncMeta is the synchronization bookkeeping shared by every record kind.
type SyncMeta struct {
	// LocalID is assigned at creation and never reused.
	LocalID int64 `json:"local_id"`

	// ServerID is the remote identifier; zero until the remote store accepts the record.
	ServerID int64 `json:"server_id,omitempty"`

	SyncStatus   SyncStatus `json:"sync_status"`
	LastModified time.Time  `json:"last_modified"`

	// Revision counts local domain mutations. Status writes carry the
	// revision they were computed from so they never clobber a newer edit.
	Revision int64 `json:"revision"`

	// RequestID is a stable idempotency key for remote writes of this record.
	RequestID string `json:"request_id"`

	SyncAttempts  int       `json:"sync_attempts"`
	NextAttemptAt time.Time `json:"next_attempt_at,omitempty"`
}

// AcknowledgedID is the server id stored for a record the remote store
// accepted without returning an identifier. Learner actions are acknowledged
// this way and nothing refers to them by remote id.
const AcknowledgedID int64 = 1

// HasServerID reports whether the remote store has accepted the record.
func (m SyncMeta) HasServerID() bool {
	return m.ServerID > 0
}

// Ref returns a reference to the record at its current revision.
func (m SyncMeta) Ref(kind Kind) RecordRef {
	return RecordRef{Kind: kind, LocalID: m.LocalID, Revision: m.Revision}
}

// RecordRef identifies one revision of a ledger record.
type RecordRef struct {
	Kind     Kind
	LocalID  int64
	Revision int64
}

// String implements fmt.Stringer.
func (r RecordRef) String() string {
	return fmt.Sprintf("%s/%d@%d", r.Kind, r.LocalID, r.Revision)
}

// User is the learner owning sessions.
type User struct {
	SyncMeta
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is one play-through by a user.
type Session struct {
	SyncMeta
	UserID         int64      `json:"user_id"`
	TotalScore     int        `json:"total_score"`
	CasesCompleted int        `json:"cases_completed"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`

	// EndSynced is set once the end-of-session marker has been acknowledged remotely.
	EndSynced bool `json:"end_synced"`
}

// Ended reports whether the session carries an end-of-session marker.
func (s Session) Ended() bool {
	return s.EndedAt != nil
}

// NeedsEnd reports whether the end marker still has to be propagated.
func (s Session) NeedsEnd() bool {
	return s.Ended() && !s.EndSynced
}

// SessionUpdate merges fields into a session. Nil fields are left untouched.
type SessionUpdate struct {
	TotalScore     *int
	CasesCompleted *int
	EndedAt        *time.Time
}

// CaseAttempt is one case worked inside a session.
type CaseAttempt struct {
	SyncMeta
	SessionID int64  `json:"session_id"`
	CaseID    string `json:"case_id"`
	CaseResult
	Completed   bool       `json:"completed"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// CompletionSynced is set once the completion has been acknowledged remotely.
	CompletionSynced bool `json:"completion_synced"`
}

// NeedsCompletion reports whether the completion still has to be propagated.
func (a CaseAttempt) NeedsCompletion() bool {
	return a.Completed && !a.CompletionSynced
}

// CaseResult is the scoring outcome of a completed case. The values are
// produced by the quiz logic and transported opaquely.
type CaseResult struct {
	TestAttempts      int `json:"test_attempts"`
	DiagnosisAttempts int `json:"diagnosis_attempts"`
	TestPoints        int `json:"test_points"`
	DiagnosisPoints   int `json:"diagnosis_points"`
	TotalPoints       int `json:"total_points"`
}

// ActionType classifies a learner action.
type ActionType string

const (
	ActionStartSession    ActionType = "START_SESSION"
	ActionEndSession      ActionType = "END_SESSION"
	ActionStartCase       ActionType = "START_CASE"
	ActionSubmitTest      ActionType = "SUBMIT_TEST"
	ActionSubmitDiagnosis ActionType = "SUBMIT_DIAGNOSIS"
	ActionCompleteCase    ActionType = "COMPLETE_CASE"
	ActionViewHelp        ActionType = "VIEW_HELP"
	ActionViewStats       ActionType = "VIEW_STATS"
	ActionSkipStep        ActionType = "SKIP_STEP"
)

// LearnerAction is a telemetry event inside a session, optionally tied to a case attempt.
type LearnerAction struct {
	SyncMeta
	SessionID     int64           `json:"session_id"`
	CaseAttemptID *int64          `json:"case_attempt_id,omitempty"`
	ActionType    ActionType      `json:"action_type"`
	ActionData    json.RawMessage `json:"action_data"`
	Timestamp     time.Time       `json:"timestamp"`
}

// LearnerActionInput carries the fields needed to record a new action.
type LearnerActionInput struct {
	SessionID     int64
	CaseAttemptID *int64
	ActionType    ActionType
	ActionData    json.RawMessage
}
