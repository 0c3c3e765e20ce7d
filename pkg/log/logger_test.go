package log

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestZerologLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZerologLogger(zerolog.New(&buf))

	logger.Info("pass complete",
		String("kind", "sessions"),
		Int("synced", 3),
		Int64("local_id", 42),
		Bool("online", true),
		Duration("took", 1500*time.Millisecond),
		Err(errors.New("boom")),
		Any("tiers", map[string]int{"users": 1}),
	)

	out := buf.String()
	for _, want := range []string{
		`"message":"pass complete"`,
		`"kind":"sessions"`,
		`"synced":3`,
		`"local_id":42`,
		`"online":true`,
		`"error":"boom"`,
		`"users":1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %s: %s", want, out)
		}
	}
}

func TestNoopLogger(t *testing.T) {
	logger := NewNoopLogger()
	logger.Debug("x")
	logger.Info("x", String("k", "v"))
	logger.Warn("x")
	logger.Error("x", Err(errors.New("e")))
}
