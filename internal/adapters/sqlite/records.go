package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/bft-labs/casesync/internal/domain"
)

const metaColumns = "id, server_id, sync_status, last_modified, revision, request_id, sync_attempts, next_attempt_at"

const (
	userColumns    = metaColumns + ", username, created_at"
	sessionColumns = metaColumns + ", user_id, total_score, cases_completed, started_at, ended_at, end_synced"
	attemptColumns = metaColumns + ", session_id, case_id, test_attempts, diagnosis_attempts, test_points, diagnosis_points, total_points, completed, started_at, completed_at, completion_synced"
	actionColumns  = metaColumns + ", session_id, case_attempt_id, action_type, action_data, timestamp"
)

type rowScanner interface {
	Scan(dest ...any) error
}

// metaScan collects the shared columns and copies them into a SyncMeta.
type metaScan struct {
	serverID     sql.NullInt64
	status       string
	lastModified int64
	nextAttempt  sql.NullInt64
}

func (m *metaScan) dest(meta *domain.SyncMeta) []any {
	return []any{&meta.LocalID, &m.serverID, &m.status, &m.lastModified, &meta.Revision, &meta.RequestID, &meta.SyncAttempts, &m.nextAttempt}
}

func (m *metaScan) apply(meta *domain.SyncMeta) {
	if m.serverID.Valid {
		meta.ServerID = m.serverID.Int64
	}
	meta.SyncStatus = domain.SyncStatus(m.status)
	meta.LastModified = fromNanos(m.lastModified)
	if m.nextAttempt.Valid {
		meta.NextAttemptAt = fromNanos(m.nextAttempt.Int64)
	}
}

func scanUser(r rowScanner) (domain.User, error) {
	var (
		u         domain.User
		m         metaScan
		createdAt int64
	)
	dest := append(m.dest(&u.SyncMeta), &u.Username, &createdAt)
	if err := r.Scan(dest...); err != nil {
		return domain.User{}, err
	}
	m.apply(&u.SyncMeta)
	u.CreatedAt = fromNanos(createdAt)
	return u, nil
}

func scanSession(r rowScanner) (domain.Session, error) {
	var (
		s         domain.Session
		m         metaScan
		startedAt int64
		endedAt   sql.NullInt64
		endSynced int
	)
	dest := append(m.dest(&s.SyncMeta), &s.UserID, &s.TotalScore, &s.CasesCompleted, &startedAt, &endedAt, &endSynced)
	if err := r.Scan(dest...); err != nil {
		return domain.Session{}, err
	}
	m.apply(&s.SyncMeta)
	s.StartedAt = fromNanos(startedAt)
	s.EndedAt = timePtr(endedAt)
	s.EndSynced = endSynced != 0
	return s, nil
}

func scanCaseAttempt(r rowScanner) (domain.CaseAttempt, error) {
	var (
		a                domain.CaseAttempt
		m                metaScan
		completed        int
		startedAt        int64
		completedAt      sql.NullInt64
		completionSynced int
	)
	dest := append(m.dest(&a.SyncMeta),
		&a.SessionID, &a.CaseID,
		&a.TestAttempts, &a.DiagnosisAttempts, &a.TestPoints, &a.DiagnosisPoints, &a.TotalPoints,
		&completed, &startedAt, &completedAt, &completionSynced)
	if err := r.Scan(dest...); err != nil {
		return domain.CaseAttempt{}, err
	}
	m.apply(&a.SyncMeta)
	a.Completed = completed != 0
	a.StartedAt = fromNanos(startedAt)
	a.CompletedAt = timePtr(completedAt)
	a.CompletionSynced = completionSynced != 0
	return a, nil
}

func scanLearnerAction(r rowScanner) (domain.LearnerAction, error) {
	var (
		a         domain.LearnerAction
		m         metaScan
		attemptID sql.NullInt64
		data      sql.NullString
		actType   string
		ts        int64
	)
	dest := append(m.dest(&a.SyncMeta), &a.SessionID, &attemptID, &actType, &data, &ts)
	if err := r.Scan(dest...); err != nil {
		return domain.LearnerAction{}, err
	}
	m.apply(&a.SyncMeta)
	if attemptID.Valid {
		id := attemptID.Int64
		a.CaseAttemptID = &id
	}
	a.ActionType = domain.ActionType(actType)
	if data.Valid && data.String != "" {
		a.ActionData = []byte(data.String)
	}
	a.Timestamp = fromNanos(ts)
	return a, nil
}

// get loads a single row by local id and maps sql.ErrNoRows to ErrNotFound.
func get[T any](ctx context.Context, q queryer, kind domain.Kind, columns string, id int64, scan func(rowScanner) (T, error)) (T, error) {
	row := q.QueryRowContext(ctx, "SELECT "+columns+" FROM "+string(kind)+" WHERE id = ?", id)
	v, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		var zero T
		return zero, notFound(kind, id)
	}
	if err != nil {
		var zero T
		return zero, fmt.Errorf("get %s/%d: %w", kind, id, err)
	}
	return v, nil
}

// list runs a query and scans every row.
func list[T any](ctx context.Context, q queryer, query string, scan func(rowScanner) (T, error), args ...any) ([]T, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// CreateUser inserts a new pending user.
func (l *Ledger) CreateUser(ctx context.Context, username string) (domain.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return domain.User{}, errors.New("username must not be empty")
	}

	var u domain.User
	err := l.inTx(ctx, func(tx *sql.Tx) error {
		now := l.stamp()
		res, err := tx.ExecContext(ctx,
			`INSERT INTO users (username, created_at, last_modified, request_id) VALUES (?, ?, ?, ?)`,
			username, toNanos(now), toNanos(now), l.newID())
		if err != nil {
			return fmt.Errorf("insert user %q: %w", username, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		u, err = get(ctx, tx, domain.KindUser, userColumns, id, scanUser)
		return err
	})
	return u, err
}

// EnsureUser returns the user with the given name, creating it if needed.
func (l *Ledger) EnsureUser(ctx context.Context, username string) (domain.User, error) {
	u, err := l.GetUserByUsername(ctx, username)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.User{}, err
	}
	return l.CreateUser(ctx, username)
}

// GetUser loads a user by local id.
func (l *Ledger) GetUser(ctx context.Context, localID int64) (domain.User, error) {
	return get(ctx, l.db, domain.KindUser, userColumns, localID, scanUser)
}

// GetUserByUsername loads a user by name.
func (l *Ledger) GetUserByUsername(ctx context.Context, username string) (domain.User, error) {
	row := l.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE username = ?", strings.TrimSpace(username))
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, fmt.Errorf("user %q: %w", username, domain.ErrNotFound)
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("get user %q: %w", username, err)
	}
	return u, nil
}

// CreateSession inserts a new pending session for a local user.
func (l *Ledger) CreateSession(ctx context.Context, userID int64) (domain.Session, error) {
	var s domain.Session
	err := l.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := get(ctx, tx, domain.KindUser, userColumns, userID, scanUser); err != nil {
			return err
		}
		now := l.stamp()
		res, err := tx.ExecContext(ctx,
			`INSERT INTO sessions (user_id, started_at, last_modified, request_id) VALUES (?, ?, ?, ?)`,
			userID, toNanos(now), toNanos(now), l.newID())
		if err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		s, err = get(ctx, tx, domain.KindSession, sessionColumns, id, scanSession)
		return err
	})
	return s, err
}

// UpdateSession merges the non-nil fields of update into the session. Any
// change invalidates a previously synced end marker, since the end payload
// carries the score.
func (l *Ledger) UpdateSession(ctx context.Context, localID int64, update domain.SessionUpdate) (domain.Session, error) {
	var s domain.Session
	err := l.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := get(ctx, tx, domain.KindSession, sessionColumns, localID, scanSession); err != nil {
			return err
		}

		sets := []string{"sync_status = 'pending'", "last_modified = ?", "revision = revision + 1", "end_synced = 0"}
		args := []any{toNanos(l.stamp())}
		if update.TotalScore != nil {
			sets = append(sets, "total_score = ?")
			args = append(args, *update.TotalScore)
		}
		if update.CasesCompleted != nil {
			sets = append(sets, "cases_completed = ?")
			args = append(args, *update.CasesCompleted)
		}
		if update.EndedAt != nil {
			sets = append(sets, "ended_at = ?")
			args = append(args, toNanos(*update.EndedAt))
		}
		args = append(args, localID)

		if _, err := tx.ExecContext(ctx, "UPDATE sessions SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...); err != nil {
			return fmt.Errorf("update session %d: %w", localID, err)
		}
		var err error
		s, err = get(ctx, tx, domain.KindSession, sessionColumns, localID, scanSession)
		return err
	})
	return s, err
}

// GetSession loads a session by local id.
func (l *Ledger) GetSession(ctx context.Context, localID int64) (domain.Session, error) {
	return get(ctx, l.db, domain.KindSession, sessionColumns, localID, scanSession)
}

// CreateCaseAttempt inserts a new pending case attempt under a local session.
func (l *Ledger) CreateCaseAttempt(ctx context.Context, sessionID int64, caseID string) (domain.CaseAttempt, error) {
	if strings.TrimSpace(caseID) == "" {
		return domain.CaseAttempt{}, errors.New("case id must not be empty")
	}

	var a domain.CaseAttempt
	err := l.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := get(ctx, tx, domain.KindSession, sessionColumns, sessionID, scanSession); err != nil {
			return err
		}
		now := l.stamp()
		res, err := tx.ExecContext(ctx,
			`INSERT INTO case_attempts (session_id, case_id, started_at, last_modified, request_id) VALUES (?, ?, ?, ?, ?)`,
			sessionID, caseID, toNanos(now), toNanos(now), l.newID())
		if err != nil {
			return fmt.Errorf("insert case attempt: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		a, err = get(ctx, tx, domain.KindCaseAttempt, attemptColumns, id, scanCaseAttempt)
		return err
	})
	return a, err
}

// CompleteCaseAttempt stores the scoring outcome and marks the attempt completed.
func (l *Ledger) CompleteCaseAttempt(ctx context.Context, localID int64, result domain.CaseResult) (domain.CaseAttempt, error) {
	var a domain.CaseAttempt
	err := l.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := get(ctx, tx, domain.KindCaseAttempt, attemptColumns, localID, scanCaseAttempt); err != nil {
			return err
		}
		now := l.stamp()
		_, err := tx.ExecContext(ctx, `
			UPDATE case_attempts SET
				test_attempts = ?, diagnosis_attempts = ?,
				test_points = ?, diagnosis_points = ?, total_points = ?,
				completed = 1, completed_at = ?, completion_synced = 0,
				sync_status = 'pending', last_modified = ?, revision = revision + 1
			WHERE id = ?`,
			result.TestAttempts, result.DiagnosisAttempts,
			result.TestPoints, result.DiagnosisPoints, result.TotalPoints,
			toNanos(now), toNanos(now), localID)
		if err != nil {
			return fmt.Errorf("complete case attempt %d: %w", localID, err)
		}
		a, err = get(ctx, tx, domain.KindCaseAttempt, attemptColumns, localID, scanCaseAttempt)
		return err
	})
	return a, err
}

// GetCaseAttempt loads a case attempt by local id.
func (l *Ledger) GetCaseAttempt(ctx context.Context, localID int64) (domain.CaseAttempt, error) {
	return get(ctx, l.db, domain.KindCaseAttempt, attemptColumns, localID, scanCaseAttempt)
}

// ListCaseAttemptsBySession returns a session's case attempts in creation order.
func (l *Ledger) ListCaseAttemptsBySession(ctx context.Context, sessionID int64) ([]domain.CaseAttempt, error) {
	out, err := list(ctx, l.db, "SELECT "+attemptColumns+" FROM case_attempts WHERE session_id = ? ORDER BY id", scanCaseAttempt, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list case attempts of session %d: %w", sessionID, err)
	}
	return out, nil
}

// CreateLearnerAction inserts a new pending learner action.
func (l *Ledger) CreateLearnerAction(ctx context.Context, in domain.LearnerActionInput) (domain.LearnerAction, error) {
	if in.ActionType == "" {
		return domain.LearnerAction{}, errors.New("action type must not be empty")
	}

	var a domain.LearnerAction
	err := l.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := get(ctx, tx, domain.KindSession, sessionColumns, in.SessionID, scanSession); err != nil {
			return err
		}
		var attemptID sql.NullInt64
		if in.CaseAttemptID != nil {
			if _, err := get(ctx, tx, domain.KindCaseAttempt, attemptColumns, *in.CaseAttemptID, scanCaseAttempt); err != nil {
				return err
			}
			attemptID = sql.NullInt64{Int64: *in.CaseAttemptID, Valid: true}
		}
		var data sql.NullString
		if len(in.ActionData) > 0 {
			data = sql.NullString{String: string(in.ActionData), Valid: true}
		}

		now := l.stamp()
		res, err := tx.ExecContext(ctx, `
			INSERT INTO learner_actions (session_id, case_attempt_id, action_type, action_data, timestamp, last_modified, request_id)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			in.SessionID, attemptID, string(in.ActionType), data, toNanos(now), toNanos(now), l.newID())
		if err != nil {
			return fmt.Errorf("insert learner action: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		a, err = get(ctx, tx, domain.KindLearnerAction, actionColumns, id, scanLearnerAction)
		return err
	})
	return a, err
}

// GetLearnerAction loads a learner action by local id.
func (l *Ledger) GetLearnerAction(ctx context.Context, localID int64) (domain.LearnerAction, error) {
	return get(ctx, l.db, domain.KindLearnerAction, actionColumns, localID, scanLearnerAction)
}

// ListActionsBySession returns a session's actions in creation order.
func (l *Ledger) ListActionsBySession(ctx context.Context, sessionID int64) ([]domain.LearnerAction, error) {
	out, err := list(ctx, l.db, "SELECT "+actionColumns+" FROM learner_actions WHERE session_id = ? ORDER BY id", scanLearnerAction, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list actions of session %d: %w", sessionID, err)
	}
	return out, nil
}
