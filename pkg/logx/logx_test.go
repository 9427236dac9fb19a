package logx

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

type captureSender struct {
	mu   sync.Mutex
	msgs []string
	chs  []string
}

func (c *captureSender) SendMessage(_ context.Context, channelID, body string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chs = append(c.chs, channelID)
	c.msgs = append(c.msgs, body)
	return "1", nil
}

func (c *captureSender) snapshot() ([]string, []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.chs...), append([]string(nil), c.msgs...)
}

func TestZeroLoggerIsNoop(t *testing.T) {
	t.Parallel()

	var l Logger
	if !l.IsZero() {
		t.Fatalf("zero logger should report IsZero")
	}
	l.Info("ignored", String("k", "v"))
	if l.With(Component("x")).IsZero() {
		t.Fatalf("derived logger should not be zero")
	}
}

func TestFileSinkWritesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	svc, log := New(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}}, nil)
	log.With(Component("test")).Info("hello", Int("n", 3), Err(nil))
	if err := svc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	line := string(b)
	for _, want := range []string{`"message":"hello"`, `"comp":"test"`, `"n":3`, `"level":"info"`} {
		if !strings.Contains(line, want) {
			t.Fatalf("log line %q missing %s", line, want)
		}
	}
}

func TestApplyChangesLevel(t *testing.T) {
	svc, log := New(Config{Level: "info"}, nil)
	defer svc.Close()
	if log.Enabled(LevelDebug) {
		t.Fatalf("debug should be disabled at info")
	}
	svc.Apply(Config{Level: "debug"})
	if !log.Enabled(LevelDebug) {
		t.Fatalf("debug should follow Apply")
	}
}

func TestOpsSinkForwardsWarnings(t *testing.T) {
	sender := &captureSender{}
	svc, log := New(Config{
		Level: "debug",
		Ops:   OpsConfig{Enabled: true, ChannelID: "ops", MinLevel: "warn", RatePerSec: 10},
	}, sender)
	defer svc.Close()

	log.Info("not forwarded")
	log.Warn("disk almost full", String("mount", "/data"))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		chs, msgs := sender.snapshot()
		if len(msgs) > 0 {
			if len(msgs) != 1 || chs[0] != "ops" {
				t.Fatalf("unexpected forwards: %v %v", chs, msgs)
			}
			if !strings.Contains(msgs[0], "**WARN** disk almost full") || !strings.Contains(msgs[0], "mount=/data") {
				t.Fatalf("unexpected body %q", msgs[0])
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("warning was not forwarded")
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		n    int
		want int
	}{
		{"short", 10, 5},
		{strings.Repeat("x", 50), 10, 10},
	}
	for _, tc := range cases {
		if got := len([]rune(Truncate(tc.in, tc.n))); got > tc.want {
			t.Fatalf("Truncate(%q,%d) len=%d, want <= %d", tc.in, tc.n, got, tc.want)
		}
	}
}
