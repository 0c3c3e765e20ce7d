// Package tracker records learner activity into the local ledger.
//
// A Tracker keeps the current user, session and case attempt so callers
// only report what happened. Every write lands in the ledger first; the
// sync coordinator is nudged afterwards and pushes the records when the
// remote store is reachable.
package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/bft-labs/casesync/internal/domain"
	"github.com/bft-labs/casesync/internal/ports"
)

// Store is the part of the ledger the tracker writes to and reads from.
type Store interface {
	ports.LedgerWriter
	ports.StatsReader
}

// Requester is nudged after every write. *app.Coordinator satisfies it.
type Requester interface {
	Request()
}

// Current is the tracker's view of what the learner is doing.
type Current struct {
	Username      string `json:"username,omitempty"`
	SessionID     int64  `json:"session_id,omitempty"`
	CaseAttemptID int64  `json:"case_attempt_id,omitempty"`
}

// Tracker is safe for concurrent use; calls are serialized.
type Tracker struct {
	store  Store
	nudge  Requester
	logger ports.Logger
	now    func() time.Time

	mu      sync.Mutex
	current Current
}

// New creates a tracker. nudge may be nil.
func New(store Store, nudge Requester, logger ports.Logger) *Tracker {
	return &Tracker{
		store:  store,
		nudge:  nudge,
		logger: logger,
		now:    time.Now,
	}
}

// Current returns the active user, session and case attempt.
func (t *Tracker) Current() Current {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// StartSession makes username the active user and opens a new session.
// A session that was still open stays open.
func (t *Tracker) StartSession(ctx context.Context, username string) (domain.Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	user, err := t.store.EnsureUser(ctx, username)
	if err != nil {
		return domain.Session{}, fmt.Errorf("start session: %w", err)
	}
	session, err := t.store.CreateSession(ctx, user.LocalID)
	if err != nil {
		return domain.Session{}, fmt.Errorf("start session: %w", err)
	}
	t.current = Current{Username: user.Username, SessionID: session.LocalID}

	if err := t.logLocked(ctx, domain.ActionStartSession, map[string]any{"username": user.Username}); err != nil {
		return session, err
	}
	t.logger.Info("session started", ports.String("username", user.Username), ports.Int64("session", session.LocalID))
	t.requestSync()
	return session, nil
}

// EndSession stores the final score, marks the session ended and clears it.
func (t *Tracker) EndSession(ctx context.Context, totalScore, casesCompleted int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current.SessionID == 0 {
		return domain.ErrNoActiveSession
	}
	ended := t.now().UTC()
	_, err := t.store.UpdateSession(ctx, t.current.SessionID, domain.SessionUpdate{
		TotalScore:     &totalScore,
		CasesCompleted: &casesCompleted,
		EndedAt:        &ended,
	})
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}

	err = t.logLocked(ctx, domain.ActionEndSession, map[string]any{
		"totalScore":     totalScore,
		"casesCompleted": casesCompleted,
	})
	t.logger.Info("session ended", ports.Int64("session", t.current.SessionID), ports.Int("score", totalScore))
	t.current.SessionID = 0
	t.current.CaseAttemptID = 0
	t.requestSync()
	return err
}

// StartCase opens a case attempt in the active session.
func (t *Tracker) StartCase(ctx context.Context, caseID string) (domain.CaseAttempt, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current.SessionID == 0 {
		return domain.CaseAttempt{}, domain.ErrNoActiveSession
	}
	attempt, err := t.store.CreateCaseAttempt(ctx, t.current.SessionID, caseID)
	if err != nil {
		return domain.CaseAttempt{}, fmt.Errorf("start case: %w", err)
	}
	t.current.CaseAttemptID = attempt.LocalID

	if err := t.logLocked(ctx, domain.ActionStartCase, map[string]any{"caseId": caseID}); err != nil {
		return attempt, err
	}
	t.requestSync()
	return attempt, nil
}

// CompleteCase stores the outcome of the active case attempt and clears it.
func (t *Tracker) CompleteCase(ctx context.Context, result domain.CaseResult) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current.CaseAttemptID == 0 {
		return domain.ErrNoActiveCase
	}
	if _, err := t.store.CompleteCaseAttempt(ctx, t.current.CaseAttemptID, result); err != nil {
		return fmt.Errorf("complete case: %w", err)
	}

	err := t.logLocked(ctx, domain.ActionCompleteCase, map[string]any{
		"testAttempts":      result.TestAttempts,
		"diagnosisAttempts": result.DiagnosisAttempts,
		"testPoints":        result.TestPoints,
		"diagnosisPoints":   result.DiagnosisPoints,
		"totalPoints":       result.TotalPoints,
	})
	t.current.CaseAttemptID = 0
	t.requestSync()
	return err
}

// LogAction records a learner action in the active session, linked to the
// active case attempt if there is one. data must be JSON-marshalable.
func (t *Tracker) LogAction(ctx context.Context, actionType domain.ActionType, data any) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.logLocked(ctx, actionType, data); err != nil {
		return err
	}
	t.requestSync()
	return nil
}

// Stats returns the active user's aggregates from the ledger.
func (t *Tracker) Stats(ctx context.Context) (domain.UserStats, error) {
	username := t.Current().Username
	if username == "" {
		return domain.UserStats{}, domain.ErrNoActiveUser
	}
	return t.store.UserStats(ctx, username)
}

// History returns the active user's sessions from the ledger, newest first.
func (t *Tracker) History(ctx context.Context) ([]domain.SessionHistory, error) {
	username := t.Current().Username
	if username == "" {
		return nil, domain.ErrNoActiveUser
	}
	return t.store.SessionHistory(ctx, username)
}

func (t *Tracker) logLocked(ctx context.Context, actionType domain.ActionType, data any) error {
	if t.current.SessionID == 0 {
		return domain.ErrNoActiveSession
	}

	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("encode %s action data: %w", actionType, err)
		}
		raw = b
	}

	in := domain.LearnerActionInput{
		SessionID:  t.current.SessionID,
		ActionType: actionType,
		ActionData: raw,
	}
	if t.current.CaseAttemptID != 0 {
		id := t.current.CaseAttemptID
		in.CaseAttemptID = &id
	}
	if _, err := t.store.CreateLearnerAction(ctx, in); err != nil {
		return fmt.Errorf("log %s action: %w", actionType, err)
	}
	return nil
}

func (t *Tracker) requestSync() {
	if t.nudge != nil {
		t.nudge.Request()
	}
}
