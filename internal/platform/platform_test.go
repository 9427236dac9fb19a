package platform

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"leaguebot/pkg/logx"
)

func TestRetryAfter(t *testing.T) {
	t.Parallel()

	base := &RateLimitError{RetryAfter: 3 * time.Second, Err: errors.New("429")}
	wrapped := fmt.Errorf("send: %w", base)

	d, ok := RetryAfter(wrapped)
	if !ok || d != 3*time.Second {
		t.Fatalf("RetryAfter() = %v, %v", d, ok)
	}
	if !errors.Is(wrapped, ErrRateLimited) {
		t.Fatalf("errors.Is(ErrRateLimited) = false")
	}
	if _, ok := RetryAfter(errors.New("forbidden")); ok {
		t.Fatalf("plain error reported as rate limit")
	}
}

func TestSplitText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		in    string
		limit int
		want  int
	}{
		{"short", "hello", 10, 1},
		{"exact", strings.Repeat("a", 10), 10, 1},
		{"hard cut", strings.Repeat("a", 25), 10, 3},
		{"newline preferred", "aaaaaa\nbbbbbbbbb", 10, 2},
		{"no limit", strings.Repeat("a", 50), 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitText(tt.in, tt.limit)
			if len(got) != tt.want {
				t.Fatalf("SplitText() = %d chunks %q, want %d", len(got), got, tt.want)
			}
			for _, c := range got {
				if tt.limit > 0 && len([]rune(c)) > tt.limit {
					t.Fatalf("chunk %q exceeds limit %d", c, tt.limit)
				}
			}
		})
	}

	got := SplitText("aaaaaa\nbbbbbbbbb", 10)
	if got[0] != "aaaaaa" || got[1] != "bbbbbbbbb" {
		t.Fatalf("newline split = %q", got)
	}
}

func TestDryRunIDs(t *testing.T) {
	t.Parallel()

	d := NewDryRun(logx.Nop())
	a, _ := d.SendMessage(context.Background(), "c", "x")
	b, _ := d.SendDM(context.Background(), "u", "y")
	if a == b || !strings.HasPrefix(a, "dry-") {
		t.Fatalf("ids = %q, %q", a, b)
	}
}
