package domain

import "time"

// UserStats aggregates a user's sessions. The JSON shape matches the remote
// GET /users/{username}/stats response so either source can back the UI.
type UserStats struct {
	Username        string  `json:"username"`
	TotalSessions   int     `json:"total_sessions"`
	TotalScore      int     `json:"total_score"`
	TotalCases      int     `json:"total_cases"`
	AvgScorePerCase float64 `json:"avg_score_per_case"`
}

// SessionHistory is one row of a user's session history, newest first.
type SessionHistory struct {
	SessionID        int64      `json:"session_id"`
	TotalScore       int        `json:"total_score"`
	CasesCompleted   int        `json:"cases_completed"`
	StartedAt        time.Time  `json:"started_at"`
	EndedAt          *time.Time `json:"ended_at"`
	TotalAttempts    int        `json:"total_attempts"`
	AvgPointsPerCase float64    `json:"avg_points_per_case"`
}

// StatusCounts counts records of one kind by sync status.
type StatusCounts struct {
	Pending int `json:"pending"`
	Synced  int `json:"synced"`
	Failed  int `json:"failed"`

	// Exhausted counts failed records that reached the retry cap and wait
	// for an operator requeue.
	Exhausted int `json:"exhausted"`
}

// Total returns the number of records of the kind.
func (c StatusCounts) Total() int {
	return c.Pending + c.Synced + c.Failed
}
