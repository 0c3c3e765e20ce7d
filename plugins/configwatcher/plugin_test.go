package configwatcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	logAdapter "github.com/bft-labs/casesync/internal/adapters/log"
	"github.com/bft-labs/casesync/pkg/casesync"
)

type fakeController struct {
	mu       sync.Mutex
	policy   casesync.RetryPolicy
	requests int
}

func (f *fakeController) RetryPolicy() casesync.RetryPolicy {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.policy
}

func (f *fakeController) SetRetryPolicy(p casesync.RetryPolicy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	f.mu.Lock()
	f.policy = p
	f.mu.Unlock()
	return nil
}

func (f *fakeController) RequestSync() {
	f.mu.Lock()
	f.requests++
	f.mu.Unlock()
}

type reload struct {
	policy casesync.RetryPolicy
	err    error
}

func startPlugin(t *testing.T, path string, ctrl casesync.Controller) (*Plugin, <-chan reload) {
	t.Helper()
	p := New(Config{DebounceDelay: 10 * time.Millisecond})
	ch := make(chan reload, 8)
	p.applied = func(policy casesync.RetryPolicy, err error) {
		select {
		case ch <- reload{policy, err}:
		default:
		}
	}

	err := p.Initialize(context.Background(), casesync.PluginConfig{
		ConfigPath: path,
		Logger:     logAdapter.NewNoopLogger(),
		Controller: ctrl,
	})
	if err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })
	return p, ch
}

// waitReload returns the first reload matching ok. A write may surface as
// several events, so earlier reloads can see a truncated file.
func waitReload(t *testing.T, ch <-chan reload, ok func(reload) bool) reload {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case r := <-ch:
			if ok(r) {
				return r
			}
		case <-deadline:
			t.Fatal("timed out waiting for reload")
			return reload{}
		}
	}
}

func TestReloadAppliesRetryTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("service_url = \"http://x\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	ctrl := &fakeController{policy: casesync.DefaultRetryPolicy()}
	_, ch := startPlugin(t, path, ctrl)

	content := "[retry]\nmax_attempts = 3\nbase_delay = \"1s\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	r := waitReload(t, ch, func(r reload) bool { return r.err != nil || r.policy.MaxAttempts == 3 })
	if r.err != nil {
		t.Fatalf("reload error = %v", r.err)
	}

	got := ctrl.RetryPolicy()
	if got.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", got.MaxAttempts)
	}
	if got.BaseDelay != time.Second {
		t.Errorf("BaseDelay = %v, want 1s", got.BaseDelay)
	}
	// Unset keys keep the policy in effect.
	if got.MaxDelay != casesync.DefaultRetryPolicy().MaxDelay {
		t.Errorf("MaxDelay = %v, want unchanged", got.MaxDelay)
	}

	ctrl.mu.Lock()
	requests := ctrl.requests
	ctrl.mu.Unlock()
	if requests == 0 {
		t.Error("expected a sync request after reload")
	}
}

func TestReloadRejectsInvalidPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(""), 0o644); err != nil {
		t.Fatal(err)
	}

	ctrl := &fakeController{policy: casesync.DefaultRetryPolicy()}
	_, ch := startPlugin(t, path, ctrl)

	tests := []struct {
		name    string
		content string
	}{
		{"bad duration", "[retry]\nbase_delay = \"soon\"\n"},
		{"negative attempts", "[retry]\nmax_attempts = -1\n"},
		{"malformed toml", "[retry\n"},
	}
	for _, tt := range tests {
		t.Log(tt.name)
		if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
			t.Fatal(err)
		}
		waitReload(t, ch, func(r reload) bool { return r.err != nil })
		drain(ch)
	}

	if got := ctrl.RetryPolicy(); got != casesync.DefaultRetryPolicy() {
		t.Errorf("policy changed to %+v", got)
	}
}

func TestIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(""), 0o644); err != nil {
		t.Fatal(err)
	}

	ctrl := &fakeController{policy: casesync.DefaultRetryPolicy()}
	_, ch := startPlugin(t, path, ctrl)

	if err := os.WriteFile(filepath.Join(dir, "other.toml"), []byte("[retry]\nmax_attempts = 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case r := <-ch:
		t.Fatalf("unexpected reload: %+v", r)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestDisabledWithoutConfigPath(t *testing.T) {
	p := New(DefaultConfig())
	err := p.Initialize(context.Background(), casesync.PluginConfig{Controller: &fakeController{}})
	if err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
}

func TestDefaults(t *testing.T) {
	p := New(Config{})
	if p.debounceDelay != DefaultConfig().DebounceDelay {
		t.Errorf("debounceDelay = %v", p.debounceDelay)
	}
	if p.Name() != "configwatcher" {
		t.Errorf("Name() = %q", p.Name())
	}
}

func drain(ch <-chan reload) {
	for {
		select {
		case <-ch:
		case <-time.After(100 * time.Millisecond):
			return
		}
	}
}
