package discord

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"leaguebot/internal/platform"
	"leaguebot/pkg/logx"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	rl := &discordgo.RateLimitError{RateLimit: &discordgo.RateLimit{
		TooManyRequests: &discordgo.TooManyRequests{RetryAfter: 1500 * time.Millisecond},
	}}
	restHeader := http.Header{}
	restHeader.Set("Retry-After", "2")
	rest429 := &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusTooManyRequests, Header: restHeader}}
	rest403 := &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusForbidden, Header: http.Header{}}}

	tests := []struct {
		name      string
		in        error
		limited   bool
		wantAfter time.Duration
	}{
		{"nil", nil, false, 0},
		{"rate limit error", rl, true, 1500 * time.Millisecond},
		{"rate limit without body", &discordgo.RateLimitError{}, true, 0},
		{"rest 429", rest429, true, 2 * time.Second},
		{"rest 403", rest403, false, 0},
		{"plain", errors.New("dial tcp: refused"), false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.in)
			after, limited := platform.RetryAfter(got)
			if limited != tt.limited || after != tt.wantAfter {
				t.Fatalf("classify(%v) => limited=%v after=%v, want %v %v", tt.in, limited, after, tt.limited, tt.wantAfter)
			}
			if tt.in != nil && !errors.Is(got, tt.in) {
				t.Fatalf("classified error lost the original")
			}
		})
	}
}

func TestNewRequiresToken(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{Token: "  "}, logx.Nop()); err == nil {
		t.Fatalf("expected error for empty token")
	}
	a, err := New(Config{Token: "abc"}, logx.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if a.s.ShouldRetryOnRateLimit {
		t.Fatalf("session must not retry rate limits on its own")
	}
}
