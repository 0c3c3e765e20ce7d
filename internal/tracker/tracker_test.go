package tracker

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logAdapter "github.com/bft-labs/casesync/internal/adapters/log"
	"github.com/bft-labs/casesync/internal/adapters/sqlite"
	"github.com/bft-labs/casesync/internal/domain"
)

type countingRequester struct {
	n atomic.Int32
}

func (c *countingRequester) Request() { c.n.Add(1) }

func newTestTracker(t *testing.T) (*Tracker, *sqlite.Ledger, *countingRequester) {
	t.Helper()
	ledger, err := sqlite.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ledger.Close() })

	req := &countingRequester{}
	return New(ledger, req, logAdapter.NewNoopLogger()), ledger, req
}

func actionTypes(actions []domain.LearnerAction) []domain.ActionType {
	var out []domain.ActionType
	for _, a := range actions {
		out = append(out, a.ActionType)
	}
	return out
}

func TestFullSessionFlow(t *testing.T) {
	ctx := context.Background()
	tr, ledger, req := newTestTracker(t)

	session, err := tr.StartSession(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, Current{Username: "alice", SessionID: session.LocalID}, tr.Current())

	attempt, err := tr.StartCase(ctx, "case-1")
	require.NoError(t, err)
	assert.Equal(t, attempt.LocalID, tr.Current().CaseAttemptID)

	require.NoError(t, tr.LogAction(ctx, domain.ActionSubmitTest, map[string]string{"test": "ecg"}))
	require.NoError(t, tr.CompleteCase(ctx, domain.CaseResult{TestPoints: 5, DiagnosisPoints: 3, TotalPoints: 8}))
	assert.Zero(t, tr.Current().CaseAttemptID)

	require.NoError(t, tr.EndSession(ctx, 8, 1))
	assert.Equal(t, Current{Username: "alice"}, tr.Current())

	gotSession, err := ledger.GetSession(ctx, session.LocalID)
	require.NoError(t, err)
	assert.Equal(t, 8, gotSession.TotalScore)
	assert.Equal(t, 1, gotSession.CasesCompleted)
	assert.True(t, gotSession.Ended())

	gotAttempt, err := ledger.GetCaseAttempt(ctx, attempt.LocalID)
	require.NoError(t, err)
	assert.True(t, gotAttempt.Completed)
	assert.Equal(t, 8, gotAttempt.TotalPoints)

	actions, err := ledger.ListActionsBySession(ctx, session.LocalID)
	require.NoError(t, err)
	assert.Equal(t, []domain.ActionType{
		domain.ActionStartSession,
		domain.ActionStartCase,
		domain.ActionSubmitTest,
		domain.ActionCompleteCase,
		domain.ActionEndSession,
	}, actionTypes(actions))

	// Actions inside the case are linked to it; the others are not.
	assert.Nil(t, actions[0].CaseAttemptID)
	require.NotNil(t, actions[1].CaseAttemptID)
	require.NotNil(t, actions[2].CaseAttemptID)
	assert.Equal(t, attempt.LocalID, *actions[2].CaseAttemptID)
	assert.Nil(t, actions[4].CaseAttemptID)

	var data map[string]any
	require.NoError(t, json.Unmarshal(actions[3].ActionData, &data))
	assert.Equal(t, float64(8), data["totalPoints"])

	assert.Equal(t, int32(5), req.n.Load())
}

func TestWritesWithoutSession(t *testing.T) {
	ctx := context.Background()
	tr, _, req := newTestTracker(t)

	assert.ErrorIs(t, tr.EndSession(ctx, 0, 0), domain.ErrNoActiveSession)
	_, err := tr.StartCase(ctx, "case-1")
	assert.ErrorIs(t, err, domain.ErrNoActiveSession)
	assert.ErrorIs(t, tr.LogAction(ctx, domain.ActionViewHelp, nil), domain.ErrNoActiveSession)
	assert.ErrorIs(t, tr.CompleteCase(ctx, domain.CaseResult{}), domain.ErrNoActiveCase)

	_, err = tr.Stats(ctx)
	assert.ErrorIs(t, err, domain.ErrNoActiveUser)
	_, err = tr.History(ctx)
	assert.ErrorIs(t, err, domain.ErrNoActiveUser)

	assert.Zero(t, req.n.Load())
}

func TestStartSessionReusesUser(t *testing.T) {
	ctx := context.Background()
	tr, ledger, _ := newTestTracker(t)

	first, err := tr.StartSession(ctx, "alice")
	require.NoError(t, err)
	second, err := tr.StartSession(ctx, "alice")
	require.NoError(t, err)

	assert.Equal(t, first.UserID, second.UserID)
	assert.NotEqual(t, first.LocalID, second.LocalID)

	history, err := ledger.SessionHistory(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestStatsAndHistoryFromLedger(t *testing.T) {
	ctx := context.Background()
	tr, _, _ := newTestTracker(t)

	_, err := tr.StartSession(ctx, "alice")
	require.NoError(t, err)
	_, err = tr.StartCase(ctx, "case-1")
	require.NoError(t, err)
	require.NoError(t, tr.CompleteCase(ctx, domain.CaseResult{TotalPoints: 90}))
	require.NoError(t, tr.EndSession(ctx, 90, 1))

	stats, err := tr.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalSessions)
	assert.Equal(t, 90, stats.TotalScore)
	assert.InDelta(t, 90.0, stats.AvgScorePerCase, 0.001)

	history, err := tr.History(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 1, history[0].TotalAttempts)
}

func TestLogActionRejectsUnencodableData(t *testing.T) {
	ctx := context.Background()
	tr, _, _ := newTestTracker(t)
	_, err := tr.StartSession(ctx, "alice")
	require.NoError(t, err)

	err = tr.LogAction(ctx, domain.ActionViewHelp, map[string]any{"fn": func() {}})
	assert.Error(t, err)
}
