package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logAdapter "github.com/bft-labs/casesync/internal/adapters/log"
	"github.com/bft-labs/casesync/internal/domain"
	"github.com/bft-labs/casesync/internal/ports"
)

type recordedRequest struct {
	Method  string
	Path    string
	Auth    string
	IdemKey string
	Body    map[string]any
}

// newTestRemote starts a server answering every request with status and
// body, recording what it received.
func newTestRemote(t *testing.T, status int, body string) (*Remote, *[]recordedRequest) {
	t.Helper()
	var got []recordedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recordedRequest{
			Method:  r.Method,
			Path:    r.URL.EscapedPath(),
			Auth:    r.Header.Get("Authorization"),
			IdemKey: r.Header.Get("Idempotency-Key"),
		}
		raw, _ := io.ReadAll(r.Body)
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, &rec.Body)
		}
		got = append(got, rec)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)

	r := NewRemote(srv.Client(), RemoteConfig{ServiceURL: srv.URL + "/", AuthKey: "secret"}, logAdapter.NewNoopLogger())
	return r, &got
}

func TestCreateSession(t *testing.T) {
	r, got := newTestRemote(t, http.StatusOK, `{"sessionId": 100}`)

	id, err := r.CreateSession(context.Background(), ports.CreateSessionRequest{Username: "alice", IdempotencyKey: "k1"})
	require.NoError(t, err)
	assert.Equal(t, int64(100), id)

	require.Len(t, *got, 1)
	req := (*got)[0]
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/api/sessions", req.Path)
	assert.Equal(t, "Bearer secret", req.Auth)
	assert.Equal(t, "k1", req.IdemKey)
	assert.Equal(t, map[string]any{"username": "alice"}, req.Body)
}

func TestEndSession(t *testing.T) {
	r, got := newTestRemote(t, http.StatusOK, `{"message": "Session ended successfully"}`)

	err := r.EndSession(context.Background(), ports.EndSessionRequest{SessionID: 100, TotalScore: 95, CasesCompleted: 1, IdempotencyKey: "k1:end"})
	require.NoError(t, err)

	req := (*got)[0]
	assert.Equal(t, http.MethodPut, req.Method)
	assert.Equal(t, "/api/sessions/100/end", req.Path)
	assert.Equal(t, "k1:end", req.IdemKey)
	assert.Equal(t, map[string]any{"totalScore": float64(95), "casesCompleted": float64(1)}, req.Body)
}

func TestCreateAndCompleteCaseAttempt(t *testing.T) {
	r, got := newTestRemote(t, http.StatusOK, `{"caseAttemptId": 200}`)

	id, err := r.CreateCaseAttempt(context.Background(), ports.CreateCaseAttemptRequest{SessionID: 100, CaseID: "case-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(200), id)
	assert.Equal(t, "/api/case-attempts", (*got)[0].Path)
	assert.Equal(t, map[string]any{"sessionId": float64(100), "caseId": "case-1"}, (*got)[0].Body)
	assert.Empty(t, (*got)[0].IdemKey)

	err = r.CompleteCaseAttempt(context.Background(), ports.CompleteCaseAttemptRequest{
		CaseAttemptID: 200,
		CaseResult:    domain.CaseResult{TestAttempts: 2, DiagnosisAttempts: 1, TestPoints: 50, DiagnosisPoints: 45, TotalPoints: 95},
	})
	require.NoError(t, err)
	req := (*got)[1]
	assert.Equal(t, http.MethodPut, req.Method)
	assert.Equal(t, "/api/case-attempts/200/complete", req.Path)
	assert.Equal(t, map[string]any{
		"testAttempts":      float64(2),
		"diagnosisAttempts": float64(1),
		"testPoints":        float64(50),
		"diagnosisPoints":   float64(45),
		"totalPoints":       float64(95),
	}, req.Body)
}

func TestAppendAction(t *testing.T) {
	r, got := newTestRemote(t, http.StatusOK, `{"actionId": 300}`)

	id, err := r.AppendAction(context.Background(), ports.AppendActionRequest{
		SessionID:  100,
		ActionType: domain.ActionViewHelp,
		ActionData: json.RawMessage(`{"page":2}`),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(300), id)

	body := (*got)[0].Body
	assert.Equal(t, float64(100), body["sessionId"])
	assert.Nil(t, body["caseAttemptId"])
	assert.Contains(t, body, "caseAttemptId")
	assert.Equal(t, "VIEW_HELP", body["actionType"])
	assert.Equal(t, map[string]any{"page": float64(2)}, body["actionData"])
}

func TestAppendActionAcceptsBareAck(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty body", ""},
		{"empty object", `{}`},
		{"other fields", `{"ok": true}`},
		{"plain text", `OK`},
		{"zero id", `{"actionId": 0}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, got := newTestRemote(t, http.StatusCreated, tt.body)

			id, err := r.AppendAction(context.Background(), ports.AppendActionRequest{SessionID: 1, ActionType: domain.ActionViewHelp})
			require.NoError(t, err)
			assert.Zero(t, id)
			require.Len(t, *got, 1)
			assert.Equal(t, "/api/actions", (*got)[0].Path)
		})
	}
}

func TestMissingIDIsMalformed(t *testing.T) {
	tests := []struct {
		name string
		call func(r *Remote) error
	}{
		{"session", func(r *Remote) error {
			_, err := r.CreateSession(context.Background(), ports.CreateSessionRequest{Username: "alice"})
			return err
		}},
		{"case attempt", func(r *Remote) error {
			_, err := r.CreateCaseAttempt(context.Background(), ports.CreateCaseAttemptRequest{SessionID: 1, CaseID: "c"})
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newTestRemote(t, http.StatusOK, `{}`)
			err := tt.call(r)
			assert.ErrorIs(t, err, domain.ErrRemote)
			assert.ErrorIs(t, err, errMissingID)
		})
	}
}

func TestNon2xxIsRemoteError(t *testing.T) {
	r, _ := newTestRemote(t, http.StatusNotFound, `{"error": "Session not found"}`)

	err := r.EndSession(context.Background(), ports.EndSessionRequest{SessionID: 9})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRemote)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusNotFound, statusErr.Code)
	assert.Contains(t, statusErr.Body, "Session not found")
}

func TestMalformedBodyIsRemoteError(t *testing.T) {
	r, _ := newTestRemote(t, http.StatusOK, `not json`)

	_, err := r.CreateSession(context.Background(), ports.CreateSessionRequest{Username: "alice"})
	assert.ErrorIs(t, err, domain.ErrRemote)
}

func TestTransportErrorIsRemoteError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	r := NewRemote(http.DefaultClient, RemoteConfig{ServiceURL: srv.URL}, logAdapter.NewNoopLogger())
	_, err := r.CreateSession(context.Background(), ports.CreateSessionRequest{Username: "alice"})
	assert.ErrorIs(t, err, domain.ErrRemote)
}

func TestTimeoutIsRemoteError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	r := NewRemote(srv.Client(), RemoteConfig{ServiceURL: srv.URL}, logAdapter.NewNoopLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := r.CreateSession(ctx, ports.CreateSessionRequest{Username: "alice"})
	assert.ErrorIs(t, err, domain.ErrRemote)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNoAuthHeaderWithoutKey(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_, _ = io.WriteString(w, `{"sessionId": 1}`)
	}))
	defer srv.Close()

	r := NewRemote(srv.Client(), RemoteConfig{ServiceURL: srv.URL}, logAdapter.NewNoopLogger())
	_, err := r.CreateSession(context.Background(), ports.CreateSessionRequest{Username: "alice"})
	require.NoError(t, err)
	assert.Empty(t, auth)
}

func TestUserStats(t *testing.T) {
	r, got := newTestRemote(t, http.StatusOK,
		`{"username":"alice","total_sessions":2,"total_score":165,"total_cases":2,"avg_score_per_case":41.25}`)

	stats, err := r.UserStats(context.Background(), "alice smith")
	require.NoError(t, err)
	assert.Equal(t, domain.UserStats{Username: "alice", TotalSessions: 2, TotalScore: 165, TotalCases: 2, AvgScorePerCase: 41.25}, stats)
	assert.Equal(t, http.MethodGet, (*got)[0].Method)
	assert.Equal(t, "/api/users/alice%20smith/stats", (*got)[0].Path)
}

func TestSessionHistory(t *testing.T) {
	r, _ := newTestRemote(t, http.StatusOK, `[
		{"session_id": 2, "total_score": 0, "cases_completed": 0, "started_at": "2024-05-01 12:30:00", "ended_at": null, "total_attempts": 0, "avg_points_per_case": null},
		{"session_id": 1, "total_score": 165, "cases_completed": 2, "started_at": "2024-05-01 12:00:00", "ended_at": "2024-05-01 12:20:00", "total_attempts": 2, "avg_points_per_case": 82.5}
	]`)

	history, err := r.SessionHistory(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, history, 2)

	assert.Equal(t, int64(2), history[0].SessionID)
	assert.Nil(t, history[0].EndedAt)
	assert.Zero(t, history[0].AvgPointsPerCase)

	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), history[1].StartedAt)
	require.NotNil(t, history[1].EndedAt)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 20, 0, 0, time.UTC), *history[1].EndedAt)
	assert.InDelta(t, 82.5, history[1].AvgPointsPerCase, 0.001)
}
