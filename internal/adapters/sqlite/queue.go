package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bft-labs/casesync/internal/domain"
)

// syncedKinds are the kinds carrying a remote identity and a retry schedule.
var syncedKinds = []domain.Kind{domain.KindSession, domain.KindCaseAttempt, domain.KindLearnerAction}

func checkSyncedKind(kind domain.Kind) error {
	for _, k := range syncedKinds {
		if k == kind {
			return nil
		}
	}
	return fmt.Errorf("kind %q has no remote identity", kind)
}

// ListPendingSessions returns pending sessions, oldest modification first.
func (l *Ledger) ListPendingSessions(ctx context.Context) ([]domain.Session, error) {
	out, err := list(ctx, l.db,
		"SELECT "+sessionColumns+" FROM sessions WHERE sync_status = 'pending' ORDER BY last_modified, id",
		scanSession)
	if err != nil {
		return nil, fmt.Errorf("list pending sessions: %w", err)
	}
	return out, nil
}

// ListPendingCaseAttempts returns pending case attempts, oldest modification first.
func (l *Ledger) ListPendingCaseAttempts(ctx context.Context) ([]domain.CaseAttempt, error) {
	out, err := list(ctx, l.db,
		"SELECT "+attemptColumns+" FROM case_attempts WHERE sync_status = 'pending' ORDER BY last_modified, id",
		scanCaseAttempt)
	if err != nil {
		return nil, fmt.Errorf("list pending case attempts: %w", err)
	}
	return out, nil
}

// ListPendingLearnerActions returns pending learner actions, oldest modification first.
func (l *Ledger) ListPendingLearnerActions(ctx context.Context) ([]domain.LearnerAction, error) {
	out, err := list(ctx, l.db,
		"SELECT "+actionColumns+" FROM learner_actions WHERE sync_status = 'pending' ORDER BY last_modified, id",
		scanLearnerAction)
	if err != nil {
		return nil, fmt.Errorf("list pending learner actions: %w", err)
	}
	return out, nil
}

// currentRevision reads the revision of a record inside tx.
func currentRevision(ctx context.Context, tx *sql.Tx, ref domain.RecordRef) (int64, error) {
	var rev int64
	err := tx.QueryRowContext(ctx, "SELECT revision FROM "+string(ref.Kind)+" WHERE id = ?", ref.LocalID).Scan(&rev)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, notFound(ref.Kind, ref.LocalID)
	}
	if err != nil {
		return 0, fmt.Errorf("read revision of %s: %w", ref, err)
	}
	return rev, nil
}

// MarkSynced stores serverID and flips the record to synced when no local
// edit happened since ref was read. Propagation flags follow the synced
// revision: an ended session has its end marker acknowledged and a completed
// attempt its completion.
func (l *Ledger) MarkSynced(ctx context.Context, ref domain.RecordRef, serverID int64) (bool, error) {
	if err := checkSyncedKind(ref.Kind); err != nil {
		return false, err
	}
	if serverID <= 0 {
		return false, fmt.Errorf("mark %s synced: invalid server id %d", ref, serverID)
	}

	var applied bool
	err := l.inTx(ctx, func(tx *sql.Tx) error {
		rev, err := currentRevision(ctx, tx, ref)
		if err != nil {
			return err
		}

		if rev != ref.Revision {
			if _, err := tx.ExecContext(ctx, "UPDATE "+string(ref.Kind)+" SET server_id = ? WHERE id = ?", serverID, ref.LocalID); err != nil {
				return fmt.Errorf("store server id of %s: %w", ref, err)
			}
			return nil
		}

		extra := ""
		switch ref.Kind {
		case domain.KindSession:
			extra = ", end_synced = (ended_at IS NOT NULL)"
		case domain.KindCaseAttempt:
			extra = ", completion_synced = completed"
		}
		_, err = tx.ExecContext(ctx,
			"UPDATE "+string(ref.Kind)+` SET
				sync_status = 'synced', server_id = ?, last_modified = ?,
				sync_attempts = 0, next_attempt_at = NULL`+extra+`
			WHERE id = ?`,
			serverID, toNanos(l.stamp()), ref.LocalID)
		if err != nil {
			return fmt.Errorf("mark %s synced: %w", ref, err)
		}
		applied = true
		return nil
	})
	return applied, err
}

// MarkFailed records a failed sync and schedules the next attempt. A record
// edited since ref was read stays pending, keeps its attempt count and is
// reported as not applied.
func (l *Ledger) MarkFailed(ctx context.Context, ref domain.RecordRef, nextAttemptAt time.Time) (bool, error) {
	if err := checkSyncedKind(ref.Kind); err != nil {
		return false, err
	}

	var applied bool
	err := l.inTx(ctx, func(tx *sql.Tx) error {
		rev, err := currentRevision(ctx, tx, ref)
		if err != nil {
			return err
		}
		if rev != ref.Revision {
			return nil
		}

		next := sql.NullInt64{}
		if !nextAttemptAt.IsZero() {
			next = sql.NullInt64{Int64: toNanos(nextAttemptAt), Valid: true}
		}
		_, err = tx.ExecContext(ctx,
			"UPDATE "+string(ref.Kind)+` SET
				sync_status = 'failed', last_modified = ?,
				sync_attempts = sync_attempts + 1, next_attempt_at = ?
			WHERE id = ?`,
			toNanos(l.stamp()), next, ref.LocalID)
		if err != nil {
			return fmt.Errorf("mark %s failed: %w", ref, err)
		}
		applied = true
		return nil
	})
	return applied, err
}

// SetServerID records the remote identity of a record without touching its status.
func (l *Ledger) SetServerID(ctx context.Context, kind domain.Kind, localID, serverID int64) error {
	if err := checkSyncedKind(kind); err != nil {
		return err
	}
	if serverID <= 0 {
		return fmt.Errorf("set server id of %s/%d: invalid server id %d", kind, localID, serverID)
	}

	res, err := l.db.ExecContext(ctx, "UPDATE "+string(kind)+" SET server_id = ? WHERE id = ?", serverID, localID)
	if err != nil {
		return fmt.Errorf("set server id of %s/%d: %w", kind, localID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound(kind, localID)
	}
	return nil
}

// MarkUserSynced flags a user as known remotely. Users have no remote id of
// their own; the remote store finds or creates them when a session is created.
func (l *Ledger) MarkUserSynced(ctx context.Context, localID int64) error {
	return l.inTx(ctx, func(tx *sql.Tx) error {
		u, err := get(ctx, tx, domain.KindUser, userColumns, localID, scanUser)
		if err != nil {
			return err
		}
		if u.SyncStatus == domain.StatusSynced {
			return nil
		}
		_, err = tx.ExecContext(ctx,
			"UPDATE users SET sync_status = 'synced', last_modified = ? WHERE id = ?",
			toNanos(l.stamp()), localID)
		if err != nil {
			return fmt.Errorf("mark user %d synced: %w", localID, err)
		}
		return nil
	})
}

// RequeueDue moves failed records whose retry time has come back to pending.
// Records at or above maxAttempts stay failed; maxAttempts <= 0 disables
// automatic retries.
func (l *Ledger) RequeueDue(ctx context.Context, now time.Time, maxAttempts int) (int, error) {
	if maxAttempts <= 0 {
		return 0, nil
	}

	var total int
	err := l.inTx(ctx, func(tx *sql.Tx) error {
		for _, kind := range syncedKinds {
			res, err := tx.ExecContext(ctx,
				"UPDATE "+string(kind)+` SET sync_status = 'pending'
				WHERE sync_status = 'failed' AND sync_attempts < ?
				AND (next_attempt_at IS NULL OR next_attempt_at <= ?)`,
				maxAttempts, toNanos(now))
			if err != nil {
				return fmt.Errorf("requeue due %s: %w", kind, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			total += int(n)
		}
		return nil
	})
	return total, err
}

// Requeue moves every failed record of the given kinds back to pending and
// resets its retry bookkeeping.
func (l *Ledger) Requeue(ctx context.Context, kinds ...domain.Kind) (int, error) {
	if len(kinds) == 0 {
		kinds = syncedKinds
	}
	for _, k := range kinds {
		if err := checkSyncedKind(k); err != nil {
			return 0, err
		}
	}

	var total int
	err := l.inTx(ctx, func(tx *sql.Tx) error {
		for _, kind := range kinds {
			res, err := tx.ExecContext(ctx,
				"UPDATE "+string(kind)+` SET sync_status = 'pending', sync_attempts = 0, next_attempt_at = NULL
				WHERE sync_status = 'failed'`)
			if err != nil {
				return fmt.Errorf("requeue %s: %w", kind, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			total += int(n)
		}
		return nil
	})
	return total, err
}

// Counts returns record counts per kind and status.
func (l *Ledger) Counts(ctx context.Context, maxAttempts int) (map[domain.Kind]domain.StatusCounts, error) {
	out := make(map[domain.Kind]domain.StatusCounts, len(domain.Kinds))
	for _, kind := range domain.Kinds {
		rows, err := l.db.QueryContext(ctx,
			"SELECT sync_status, ? > 0 AND sync_attempts >= ?, COUNT(*) FROM "+string(kind)+" GROUP BY 1, 2",
			maxAttempts, maxAttempts)
		if err != nil {
			return nil, fmt.Errorf("count %s: %w", kind, err)
		}

		var c domain.StatusCounts
		for rows.Next() {
			var (
				status    string
				exhausted int
				n         int
			)
			if err := rows.Scan(&status, &exhausted, &n); err != nil {
				rows.Close()
				return nil, fmt.Errorf("count %s: %w", kind, err)
			}
			switch domain.SyncStatus(status) {
			case domain.StatusPending:
				c.Pending += n
			case domain.StatusSynced:
				c.Synced += n
			case domain.StatusFailed:
				c.Failed += n
				if exhausted != 0 {
					c.Exhausted += n
				}
			}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("count %s: %w", kind, err)
		}
		out[kind] = c
	}
	return out, nil
}
