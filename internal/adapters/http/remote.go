// Package http implements the remote store protocol over HTTP/JSON.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/bft-labs/casesync/internal/domain"
	"github.com/bft-labs/casesync/internal/ports"
)

const (
	apiPrefix = "/api"

	sessionsEndpoint     = "/sessions"
	caseAttemptsEndpoint = "/case-attempts"
	actionsEndpoint      = "/actions"
	usersEndpoint        = "/users"

	// maxErrorBody bounds how much of a failed response ends up in the error.
	maxErrorBody = 4 << 10
)

// RemoteConfig locates and authenticates against the remote store.
type RemoteConfig struct {
	// ServiceURL is the base URL; protocol paths live under ServiceURL + "/api".
	ServiceURL string

	// AuthKey is sent as a bearer token when non-empty.
	AuthKey string
}

// StatusError reports a non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Body)
}

// Remote implements ports.Remote and ports.RemoteStats. Every method makes
// exactly one request and never retries.
type Remote struct {
	client  ports.HTTPClient
	baseURL string
	authKey string
	logger  ports.Logger
}

var (
	_ ports.Remote      = (*Remote)(nil)
	_ ports.RemoteStats = (*Remote)(nil)
)

// NewRemote creates a remote store client.
func NewRemote(client ports.HTTPClient, cfg RemoteConfig, logger ports.Logger) *Remote {
	return &Remote{
		client:  client,
		baseURL: strings.TrimSuffix(cfg.ServiceURL, "/") + apiPrefix,
		authKey: cfg.AuthKey,
		logger:  logger,
	}
}

// CreateSession creates a remote session, creating the user if needed.
func (r *Remote) CreateSession(ctx context.Context, req ports.CreateSessionRequest) (int64, error) {
	var resp createSessionResponse
	if err := r.do(ctx, http.MethodPost, sessionsEndpoint, req.IdempotencyKey, createSessionBody{Username: req.Username}, &resp); err != nil {
		return 0, err
	}
	return requireID("sessionId", resp.SessionID)
}

// EndSession records the final score of a remote session.
func (r *Remote) EndSession(ctx context.Context, req ports.EndSessionRequest) error {
	path := sessionsEndpoint + "/" + strconv.FormatInt(req.SessionID, 10) + "/end"
	body := endSessionBody{TotalScore: req.TotalScore, CasesCompleted: req.CasesCompleted}
	return r.do(ctx, http.MethodPut, path, req.IdempotencyKey, body, nil)
}

// CreateCaseAttempt creates a case attempt under a remote session.
func (r *Remote) CreateCaseAttempt(ctx context.Context, req ports.CreateCaseAttemptRequest) (int64, error) {
	var resp createCaseAttemptResponse
	body := createCaseAttemptBody{SessionID: req.SessionID, CaseID: req.CaseID}
	if err := r.do(ctx, http.MethodPost, caseAttemptsEndpoint, req.IdempotencyKey, body, &resp); err != nil {
		return 0, err
	}
	return requireID("caseAttemptId", resp.CaseAttemptID)
}

// CompleteCaseAttempt records the scoring outcome of a remote case attempt.
func (r *Remote) CompleteCaseAttempt(ctx context.Context, req ports.CompleteCaseAttemptRequest) error {
	path := caseAttemptsEndpoint + "/" + strconv.FormatInt(req.CaseAttemptID, 10) + "/complete"
	body := completeCaseAttemptBody{
		TestAttempts:      req.TestAttempts,
		DiagnosisAttempts: req.DiagnosisAttempts,
		TestPoints:        req.TestPoints,
		DiagnosisPoints:   req.DiagnosisPoints,
		TotalPoints:       req.TotalPoints,
	}
	return r.do(ctx, http.MethodPut, path, req.IdempotencyKey, body, nil)
}

// AppendAction appends a learner action. The remote store acknowledges with
// any 2xx; an actionId in the reply is returned when present, zero otherwise.
func (r *Remote) AppendAction(ctx context.Context, req ports.AppendActionRequest) (int64, error) {
	body := appendActionBody{
		SessionID:     req.SessionID,
		CaseAttemptID: req.CaseAttemptID,
		ActionType:    string(req.ActionType),
		ActionData:    req.ActionData,
	}
	payload, err := r.send(ctx, http.MethodPost, actionsEndpoint, req.IdempotencyKey, body)
	if err != nil {
		return 0, err
	}
	return ackID(payload), nil
}

// ackID extracts actionId from an acknowledgment. Empty, non-JSON and
// id-less bodies are plain acknowledgments.
func ackID(payload []byte) int64 {
	var resp appendActionResponse
	if len(bytes.TrimSpace(payload)) == 0 || json.Unmarshal(payload, &resp) != nil {
		return 0
	}
	if resp.ActionID == nil || *resp.ActionID <= 0 {
		return 0
	}
	return *resp.ActionID
}

// UserStats fetches the remote aggregate for a user.
func (r *Remote) UserStats(ctx context.Context, username string) (domain.UserStats, error) {
	var stats domain.UserStats
	path := usersEndpoint + "/" + url.PathEscape(username) + "/stats"
	if err := r.do(ctx, http.MethodGet, path, "", nil, &stats); err != nil {
		return domain.UserStats{}, err
	}
	if stats.Username == "" {
		stats.Username = username
	}
	return stats, nil
}

// SessionHistory fetches the remote session history of a user, newest first.
func (r *Remote) SessionHistory(ctx context.Context, username string) ([]domain.SessionHistory, error) {
	var rows []historyRow
	path := usersEndpoint + "/" + url.PathEscape(username) + "/history"
	if err := r.do(ctx, http.MethodGet, path, "", nil, &rows); err != nil {
		return nil, err
	}

	out := make([]domain.SessionHistory, 0, len(rows))
	for _, row := range rows {
		started, err := parseRemoteTime(row.StartedAt)
		if err != nil {
			return nil, fmt.Errorf("%w: history started_at: %w", domain.ErrRemote, err)
		}
		h := domain.SessionHistory{
			SessionID:        row.SessionID,
			TotalScore:       row.TotalScore,
			CasesCompleted:   row.CasesCompleted,
			StartedAt:        started,
			TotalAttempts:    row.TotalAttempts,
			AvgPointsPerCase: row.AvgPointsPerCase,
		}
		if row.EndedAt != nil && *row.EndedAt != "" {
			ended, err := parseRemoteTime(*row.EndedAt)
			if err != nil {
				return nil, fmt.Errorf("%w: history ended_at: %w", domain.ErrRemote, err)
			}
			h.EndedAt = &ended
		}
		out = append(out, h)
	}
	return out, nil
}

// do sends one JSON request and decodes the response into out when non-nil.
func (r *Remote) do(ctx context.Context, method, path, idempotencyKey string, body, out any) error {
	payload, err := r.send(ctx, method, path, idempotencyKey, body)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("%w: %s %s: malformed response: %w", domain.ErrRemote, method, path, err)
	}
	return nil
}

// send performs one request and returns the body of a 2xx response.
func (r *Remote) send(ctx context.Context, method, path, idempotencyKey string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%w: marshal %s %s: %w", domain.ErrRemote, method, path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %w", domain.ErrRemote, err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.authKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.authKey)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	req.Header.Set("X-Agent-OSArch", runtime.GOOS+"/"+runtime.GOARCH)

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", domain.ErrRemote, method, path, err)
	}
	defer resp.Body.Close()

	r.logger.Debug("remote call",
		ports.String("method", method),
		ports.String("path", path),
		ports.Int("status", resp.StatusCode),
		ports.Duration("took", time.Since(start)))

	if resp.StatusCode/100 != 2 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("%w: %s %s: %w", domain.ErrRemote, method, path,
			&StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(respBody))})
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: read response: %w", domain.ErrRemote, method, path, err)
	}
	return payload, nil
}

var errMissingID = errors.New("response carries no id")

func requireID(field string, id *int64) (int64, error) {
	if id == nil || *id <= 0 {
		return 0, fmt.Errorf("%w: malformed response: %s: %w", domain.ErrRemote, field, errMissingID)
	}
	return *id, nil
}

// remoteTimeLayouts are the timestamp shapes the remote store emits.
var remoteTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

func parseRemoteTime(s string) (time.Time, error) {
	for _, layout := range remoteTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
