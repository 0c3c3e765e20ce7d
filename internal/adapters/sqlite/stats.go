package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/bft-labs/casesync/internal/domain"
)

// UserStats aggregates every local session of a user, synced or not.
// An unknown user yields zero stats.
func (l *Ledger) UserStats(ctx context.Context, username string) (domain.UserStats, error) {
	username = strings.TrimSpace(username)
	stats := domain.UserStats{Username: username}

	var avg sql.NullFloat64
	err := l.db.QueryRowContext(ctx, `
		SELECT
			u.username,
			COUNT(DISTINCT s.id),
			COALESCE(SUM(s.total_score), 0),
			COALESCE(SUM(s.cases_completed), 0),
			ROUND(AVG(CASE WHEN s.cases_completed > 0
				THEN s.total_score * 1.0 / s.cases_completed
				ELSE 0 END), 2)
		FROM users u
		LEFT JOIN sessions s ON u.id = s.user_id
		WHERE u.username = ?
		GROUP BY u.id, u.username`, username,
	).Scan(&stats.Username, &stats.TotalSessions, &stats.TotalScore, &stats.TotalCases, &avg)
	if errors.Is(err, sql.ErrNoRows) {
		return stats, nil
	}
	if err != nil {
		return domain.UserStats{}, fmt.Errorf("user stats for %q: %w", username, err)
	}
	stats.AvgScorePerCase = avg.Float64
	return stats, nil
}

// SessionHistory lists a user's sessions, newest first, with per-session
// case attempt aggregates.
func (l *Ledger) SessionHistory(ctx context.Context, username string) ([]domain.SessionHistory, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT
			s.id,
			s.total_score,
			s.cases_completed,
			s.started_at,
			s.ended_at,
			COUNT(ca.id),
			ROUND(AVG(ca.total_points), 2)
		FROM users u
		JOIN sessions s ON u.id = s.user_id
		LEFT JOIN case_attempts ca ON s.id = ca.session_id
		WHERE u.username = ?
		GROUP BY s.id
		ORDER BY s.started_at DESC, s.id DESC`, strings.TrimSpace(username))
	if err != nil {
		return nil, fmt.Errorf("session history for %q: %w", username, err)
	}
	defer rows.Close()

	out := []domain.SessionHistory{}
	for rows.Next() {
		var (
			h         domain.SessionHistory
			startedAt int64
			endedAt   sql.NullInt64
			avg       sql.NullFloat64
		)
		if err := rows.Scan(&h.SessionID, &h.TotalScore, &h.CasesCompleted, &startedAt, &endedAt, &h.TotalAttempts, &avg); err != nil {
			return nil, fmt.Errorf("session history for %q: %w", username, err)
		}
		h.StartedAt = fromNanos(startedAt)
		h.EndedAt = timePtr(endedAt)
		h.AvgPointsPerCase = avg.Float64
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("session history for %q: %w", username, err)
	}
	return out, nil
}
