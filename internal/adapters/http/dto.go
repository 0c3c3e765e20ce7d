package http

import "encoding/json"

// Wire shapes of the remote protocol. Request bodies use camelCase keys;
// aggregate responses use snake_case and decode straight into domain types.

type createSessionBody struct {
	Username string `json:"username"`
}

type createSessionResponse struct {
	SessionID *int64 `json:"sessionId"`
}

type endSessionBody struct {
	TotalScore     int `json:"totalScore"`
	CasesCompleted int `json:"casesCompleted"`
}

type createCaseAttemptBody struct {
	SessionID int64  `json:"sessionId"`
	CaseID    string `json:"caseId"`
}

type createCaseAttemptResponse struct {
	CaseAttemptID *int64 `json:"caseAttemptId"`
}

type completeCaseAttemptBody struct {
	TestAttempts      int `json:"testAttempts"`
	DiagnosisAttempts int `json:"diagnosisAttempts"`
	TestPoints        int `json:"testPoints"`
	DiagnosisPoints   int `json:"diagnosisPoints"`
	TotalPoints       int `json:"totalPoints"`
}

type appendActionBody struct {
	SessionID     int64           `json:"sessionId"`
	CaseAttemptID *int64          `json:"caseAttemptId"`
	ActionType    string          `json:"actionType"`
	ActionData    json.RawMessage `json:"actionData,omitempty"`
}

type appendActionResponse struct {
	ActionID *int64 `json:"actionId"`
}

// historyRow mirrors one element of GET /users/{username}/history. The
// remote store reports timestamps as SQL datetime strings.
type historyRow struct {
	SessionID        int64   `json:"session_id"`
	TotalScore       int     `json:"total_score"`
	CasesCompleted   int     `json:"cases_completed"`
	StartedAt        string  `json:"started_at"`
	EndedAt          *string `json:"ended_at"`
	TotalAttempts    int     `json:"total_attempts"`
	AvgPointsPerCase float64 `json:"avg_points_per_case"`
}
