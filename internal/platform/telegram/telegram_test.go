package telegram

import (
	"errors"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	"leaguebot/internal/platform"
)

func TestParseTarget(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    target
		wantErr bool
	}{
		{in: "12345", want: target{chatID: 12345}},
		{in: "-100200300", want: target{chatID: -100200300}},
		{in: "-100200300:42", want: target{chatID: -100200300, threadID: 42}},
		{in: "general", wantErr: true},
		{in: "-1:x", wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseTarget(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("parseTarget(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Fatalf("parseTarget(%q) = %+v, %v", tt.in, got, err)
		}
	}
}

func TestClassifyFlood(t *testing.T) {
	t.Parallel()

	got := classify(tele.FloodError{RetryAfter: 7})
	after, ok := platform.RetryAfter(got)
	if !ok || after != 7*time.Second {
		t.Fatalf("classify(flood) = %v, %v", after, ok)
	}

	plain := errors.New("chat not found")
	if _, ok := platform.RetryAfter(classify(plain)); ok {
		t.Fatalf("plain error classified as rate limit")
	}
	if classify(nil) != nil {
		t.Fatalf("classify(nil) != nil")
	}
}
