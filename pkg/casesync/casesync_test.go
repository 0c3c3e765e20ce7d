package casesync_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/casesync/internal/adapters/netprobe"
	"github.com/bft-labs/casesync/pkg/casesync"
)

// remoteStore is an in-memory stand-in for the remote telemetry service.
type remoteStore struct {
	mu       sync.Mutex
	nextID   int64
	sessions int
	ended    int
	attempts int
	complete int
	actions  []string
	keys     map[string]int64
	down     bool
}

func newRemoteStore(t *testing.T) (*remoteStore, *httptest.Server) {
	t.Helper()
	s := &remoteStore{nextID: 100, keys: make(map[string]int64)}

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			s.mu.Lock()
			down := s.down
			s.mu.Unlock()
			if down {
				http.Error(w, "maintenance", http.StatusServiceUnavailable)
				return
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Head("/*", func(w http.ResponseWriter, _ *http.Request) {})
	r.Route("/api", func(r chi.Router) {
		r.Post("/sessions", s.create("sessionId", func() { s.sessions++ }))
		r.Put("/sessions/{id}/end", s.update(func() { s.ended++ }))
		r.Post("/case-attempts", s.create("caseAttemptId", func() { s.attempts++ }))
		r.Put("/case-attempts/{id}/complete", s.update(func() { s.complete++ }))
		r.Post("/actions", func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				ActionType string `json:"actionType"`
			}
			_ = json.NewDecoder(req.Body).Decode(&body)
			s.mu.Lock()
			key := req.Header.Get("Idempotency-Key")
			if _, seen := s.keys[key]; !seen {
				s.keys[key] = 0
				s.actions = append(s.actions, body.ActionType)
			}
			s.mu.Unlock()
			// Actions are acknowledged without an id.
			w.WriteHeader(http.StatusCreated)
		})
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return s, srv
}

func (s *remoteStore) create(field string, count func()) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		_, _ = io.Copy(io.Discard, req.Body)
		s.mu.Lock()
		key := req.Header.Get("Idempotency-Key")
		id, seen := s.keys[key]
		if !seen {
			s.nextID++
			id = s.nextID
			s.keys[key] = id
			count()
		}
		s.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{%q:%d}`, field, id)
	}
}

func (s *remoteStore) update(count func()) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		_, _ = io.Copy(io.Discard, req.Body)
		s.mu.Lock()
		count()
		s.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}
}

func (s *remoteStore) snapshot() remoteStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	return remoteStore{
		sessions: s.sessions,
		ended:    s.ended,
		attempts: s.attempts,
		complete: s.complete,
		actions:  append([]string(nil), s.actions...),
	}
}

func (s *remoteStore) setDown(down bool) {
	s.mu.Lock()
	s.down = down
	s.mu.Unlock()
}

type recordingHandler struct {
	casesync.BaseEventHandler
	mu           sync.Mutex
	states       []casesync.StateChangeEvent
	connectivity []casesync.ConnectivityEvent
	passes       []casesync.SyncCompleteEvent
}

func (h *recordingHandler) OnStateChange(e casesync.StateChangeEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.states = append(h.states, e)
}

func (h *recordingHandler) OnConnectivityChange(e casesync.ConnectivityEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connectivity = append(h.connectivity, e)
}

func (h *recordingHandler) OnSyncComplete(e casesync.SyncCompleteEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.passes = append(h.passes, e)
}

func newAgent(t *testing.T, srv *httptest.Server, opts ...casesync.Option) *casesync.Agent {
	t.Helper()
	cfg := casesync.Config{
		DBPath:       filepath.Join(t.TempDir(), "ledger.db"),
		ServiceURL:   srv.URL,
		AuthKey:      "test-key",
		PollInterval: time.Hour,
		HTTPTimeout:  2 * time.Second,
	}
	opts = append([]casesync.Option{casesync.WithHTTPClient(srv.Client())}, opts...)
	a, err := casesync.New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func playOneCase(t *testing.T, a *casesync.Agent) {
	t.Helper()
	ctx := context.Background()
	tr := a.Tracker()

	_, err := tr.StartSession(ctx, "alice")
	require.NoError(t, err)
	_, err = tr.StartCase(ctx, "case-1")
	require.NoError(t, err)
	require.NoError(t, tr.CompleteCase(ctx, casesync.CaseResult{TestAttempts: 1, DiagnosisAttempts: 1, TestPoints: 5, DiagnosisPoints: 3, TotalPoints: 8}))
	require.NoError(t, tr.EndSession(ctx, 8, 1))
}

func TestSyncNowPushesEverything(t *testing.T) {
	store, srv := newRemoteStore(t)
	a := newAgent(t, srv)
	ctx := context.Background()

	playOneCase(t, a)

	res, err := a.SyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Tiers[casesync.KindSession].Synced)
	assert.Equal(t, 1, res.Tiers[casesync.KindCaseAttempt].Synced)
	assert.Equal(t, 4, res.Tiers[casesync.KindLearnerAction].Synced)

	got := store.snapshot()
	assert.Equal(t, 1, got.sessions)
	assert.Equal(t, 1, got.ended)
	assert.Equal(t, 1, got.attempts)
	assert.Equal(t, 1, got.complete)
	assert.Equal(t, []string{"START_SESSION", "START_CASE", "COMPLETE_CASE", "END_SESSION"}, got.actions)

	counts, err := a.Counts(ctx)
	require.NoError(t, err)
	for _, kind := range []casesync.Kind{casesync.KindUser, casesync.KindSession, casesync.KindCaseAttempt, casesync.KindLearnerAction} {
		assert.Zero(t, counts[kind].Pending, kind)
		assert.Zero(t, counts[kind].Failed, kind)
	}

	// Nothing left; a second pass sends nothing.
	res, err = a.SyncNow(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Totals().Synced)
	assert.Equal(t, 1, store.snapshot().sessions)
}

func TestOfflineThenReconnect(t *testing.T) {
	store, srv := newRemoteStore(t)
	net := netprobe.NewSwitch(false)
	events := &recordingHandler{}
	a := newAgent(t, srv, casesync.WithReachability(net), casesync.WithEventHandler(events))

	require.NoError(t, a.Start(context.Background()))
	require.Eventually(t, func() bool { return a.Status() == casesync.StateRunning }, 2*time.Second, 10*time.Millisecond)

	playOneCase(t, a)
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, store.snapshot().sessions, "nothing is sent while offline")

	net.Set(true)
	require.Eventually(t, func() bool {
		return len(store.snapshot().actions) == 4
	}, 5*time.Second, 20*time.Millisecond)
	assert.True(t, a.Online())

	require.NoError(t, a.Stop())
	assert.Equal(t, casesync.StateStopped, a.Status())

	events.mu.Lock()
	defer events.mu.Unlock()
	require.NotEmpty(t, events.connectivity)
	assert.False(t, events.connectivity[0].Online)
	last := events.connectivity[len(events.connectivity)-1]
	assert.True(t, last.Online)
	assert.True(t, last.WasOffline)
	assert.NotEmpty(t, events.passes)
	assert.Equal(t, casesync.StateStopped, events.states[len(events.states)-1].Current)
}

func TestFailedRecordsRequeue(t *testing.T) {
	store, srv := newRemoteStore(t)
	a := newAgent(t, srv)
	ctx := context.Background()
	require.NoError(t, a.SetRetryPolicy(casesync.RetryPolicy{MaxAttempts: 1, BaseDelay: time.Hour, MaxDelay: time.Hour}))

	store.setDown(true)
	_, err := a.Tracker().StartSession(ctx, "bob")
	require.NoError(t, err)

	res, err := a.SyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Tiers[casesync.KindSession].Failed)

	counts, err := a.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[casesync.KindSession].Exhausted)

	store.setDown(false)
	res, err = a.SyncNow(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Tiers[casesync.KindSession].Synced, "exhausted records wait for requeue")

	n, err := a.Requeue(ctx, casesync.KindSession)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	res, err = a.SyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Tiers[casesync.KindSession].Synced)
	assert.Equal(t, 1, store.snapshot().sessions)
}

func TestStatsHistoryAndWipe(t *testing.T) {
	_, srv := newRemoteStore(t)
	a := newAgent(t, srv)
	ctx := context.Background()

	playOneCase(t, a)

	stats, err := a.Stats(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 8, stats.TotalScore)

	history, err := a.History(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, history, 1)

	require.NoError(t, a.Wipe(ctx))
	history, err = a.History(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestStatusAPIAndMetrics(t *testing.T) {
	_, srv := newRemoteStore(t)
	a := newAgent(t, srv, casesync.WithMetrics(""))
	playOneCase(t, a)
	_, err := a.SyncNow(context.Background())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/users/alice/stats", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total_score":8`)

	rec = httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `casesync_sync_records_total{kind="sessions",outcome="synced"} 1`)
	require.NotNil(t, a.MetricsHandler())
}

func TestNewRequiresDBPath(t *testing.T) {
	_, err := casesync.New(casesync.Config{})
	assert.ErrorIs(t, err, casesync.ErrInvalidConfig)

	_, err = casesync.New(casesync.Config{
		DBPath: ":memory:",
		Retry:  casesync.RetryPolicy{MaxAttempts: -1, BaseDelay: time.Second, MaxDelay: time.Second},
	})
	assert.ErrorIs(t, err, casesync.ErrInvalidConfig)
}

func TestStartStopErrors(t *testing.T) {
	_, srv := newRemoteStore(t)
	a := newAgent(t, srv, casesync.WithReachability(netprobe.NewSwitch(true)))

	assert.ErrorIs(t, a.Stop(), casesync.ErrNotRunning)
	require.NoError(t, a.Start(context.Background()))
	assert.ErrorIs(t, a.Start(context.Background()), casesync.ErrAlreadyRunning)
	require.NoError(t, a.Stop())

	// Restart after a clean stop.
	require.NoError(t, a.Start(context.Background()))
	require.NoError(t, a.Close())
	assert.Equal(t, casesync.StateStopped, a.Status())
	require.NoError(t, a.Close())
	assert.Error(t, a.Start(context.Background()))
}

// =============================================================================
// Plugins
// =============================================================================

type trackingPlugin struct {
	casesync.BasePlugin
	name      string
	order     *[]string
	initErr   error
	panicInit bool
	cfg       casesync.PluginConfig
}

func (p *trackingPlugin) Name() string { return p.name }

func (p *trackingPlugin) Initialize(_ context.Context, cfg casesync.PluginConfig) error {
	if p.panicInit {
		panic("boom")
	}
	if p.initErr != nil {
		return p.initErr
	}
	p.cfg = cfg
	*p.order = append(*p.order, "init:"+p.name)
	return nil
}

func (p *trackingPlugin) Shutdown(context.Context) error {
	*p.order = append(*p.order, "shutdown:"+p.name)
	return errors.New("shutdown errors are logged, not returned")
}

func TestPluginOrder(t *testing.T) {
	_, srv := newRemoteStore(t)
	var order []string
	a := newAgent(t, srv,
		casesync.WithReachability(netprobe.NewSwitch(false)),
		casesync.WithPlugin(&trackingPlugin{name: "one", order: &order}),
		casesync.WithPlugin(&trackingPlugin{name: "two", order: &order}),
	)

	require.NoError(t, a.Start(context.Background()))
	require.NoError(t, a.Stop())
	assert.Equal(t, []string{"init:one", "init:two", "shutdown:two", "shutdown:one"}, order)
}

func TestPluginInitFailureCrashes(t *testing.T) {
	for _, p := range []*trackingPlugin{
		{name: "failing", initErr: errors.New("nope")},
		{name: "panicking", panicInit: true},
	} {
		t.Run(p.name, func(t *testing.T) {
			_, srv := newRemoteStore(t)
			var order []string
			p.order = &order
			a := newAgent(t, srv, casesync.WithPlugin(p))

			assert.Error(t, a.Start(context.Background()))
			assert.Equal(t, casesync.StateCrashed, a.Status())
		})
	}
}

func TestPluginControlsRetryPolicy(t *testing.T) {
	_, srv := newRemoteStore(t)
	var order []string
	p := &trackingPlugin{name: "ctl", order: &order}
	a := newAgent(t, srv, casesync.WithReachability(netprobe.NewSwitch(false)), casesync.WithPlugin(p))

	require.NoError(t, a.Start(context.Background()))
	defer a.Stop()

	require.NotNil(t, p.cfg.Controller)
	want := casesync.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: time.Minute}
	require.NoError(t, p.cfg.Controller.SetRetryPolicy(want))
	assert.Equal(t, want, a.RetryPolicy())

	err := p.cfg.Controller.SetRetryPolicy(casesync.RetryPolicy{BaseDelay: time.Minute, MaxDelay: time.Second})
	assert.ErrorIs(t, err, casesync.ErrInvalidConfig)
	assert.Equal(t, want, a.RetryPolicy())
}
