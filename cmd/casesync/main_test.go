package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bft-labs/casesync/internal/cliconfig"
)

func newTestCLI(t *testing.T) *cli {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	for _, name := range []string{"POLL_INTERVAL", "AUTH_KEY", "SERVICE_URL", "DB_PATH", "RETRY_MAX_ATTEMPTS"} {
		t.Setenv(cliconfig.EnvPrefix+name, "")
	}
	return &cli{cfg: cliconfig.DefaultConfig(), log: cliconfig.Logger()}
}

func execute(t *testing.T, c *cli, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(c)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestConfigPrecedence(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, `
db_path = "`+filepath.ToSlash(filepath.Join(dir, "ledger.db"))+`"
service_url = "http://file.example"
poll_interval = "1m"
auth_key = "from-file"

[retry]
max_attempts = 4
`)

	c := newTestCLI(t)
	t.Setenv("CASESYNC_POLL_INTERVAL", "2m")
	t.Setenv("CASESYNC_AUTH_KEY", "from-env")

	if _, err := execute(t, c, "status", "--config", cfgPath, "--auth-key", "from-flag"); err != nil {
		t.Fatalf("status: %v", err)
	}

	if c.cfg.ServiceURL != "http://file.example" {
		t.Errorf("ServiceURL = %q, want file value", c.cfg.ServiceURL)
	}
	if c.cfg.PollInterval != 2*time.Minute {
		t.Errorf("PollInterval = %v, want env value", c.cfg.PollInterval)
	}
	if c.cfg.AuthKey != "from-flag" {
		t.Errorf("AuthKey = %q, want flag value", c.cfg.AuthKey)
	}
	if c.cfg.RetryMaxAttempts != 4 {
		t.Errorf("RetryMaxAttempts = %d, want 4", c.cfg.RetryMaxAttempts)
	}
	if c.cfgPath != cfgPath {
		t.Errorf("cfgPath = %q", c.cfgPath)
	}
}

func TestMissingExplicitConfig(t *testing.T) {
	c := newTestCLI(t)
	_, err := execute(t, c, "status", "--config", filepath.Join(t.TempDir(), "nope.toml"))
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestStatusAndHistoryOnEmptyLedger(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "ledger.db")

	out, err := execute(t, newTestCLI(t), "status", "--config", writeConfig(t, dir, ""), "--db", db)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, want := range []string{"KIND", "sessions", "learner_actions", "retry: max 10 attempts"} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q:\n%s", want, out)
		}
	}

	out, err = execute(t, newTestCLI(t), "history", "alice", "--json", "--db", db)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if strings.TrimSpace(out) != "[]" {
		t.Errorf("history = %q, want []", out)
	}
}

func TestWipeRequiresConfirmation(t *testing.T) {
	db := filepath.Join(t.TempDir(), "ledger.db")

	if _, err := execute(t, newTestCLI(t), "wipe", "--db", db); err == nil {
		t.Fatal("wipe without --yes succeeded")
	}
	out, err := execute(t, newTestCLI(t), "wipe", "--yes", "--db", db)
	if err != nil {
		t.Fatalf("wipe: %v", err)
	}
	if !strings.Contains(out, "ledger wiped") {
		t.Errorf("output = %q", out)
	}
}

func TestRequeue(t *testing.T) {
	db := filepath.Join(t.TempDir(), "ledger.db")

	if _, err := execute(t, newTestCLI(t), "requeue", "widgets", "--db", db); err == nil {
		t.Fatal("unknown kind accepted")
	}
	out, err := execute(t, newTestCLI(t), "requeue", "sessions", "--db", db)
	if err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if !strings.Contains(out, "requeued 0 records") {
		t.Errorf("output = %q", out)
	}
}
