// Package platform defines the outbound messaging port used by delivery and
// the ops log sink. Concrete adapters live in subpackages.
package platform

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Messenger is the subset of a chat platform the engine needs.
// Implementations must report throttling as *RateLimitError.
type Messenger interface {
	SendMessage(ctx context.Context, channelID, body string) (messageID string, err error)
	SendDM(ctx context.Context, userID, body string) (messageID string, err error)
	AddReaction(ctx context.Context, channelID, messageID, emoji string) error
}

// ErrRateLimited matches any *RateLimitError through errors.Is.
var ErrRateLimited = errors.New("platform: rate limited")

// RateLimitError signals an HTTP 429 style response. RetryAfter is zero
// when the platform gave no hint.
type RateLimitError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited (retry after %s): %v", e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("rate limited: %v", e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// RetryAfter extracts the retry hint from err. ok reports whether err is a
// rate limit signal at all.
func RetryAfter(err error) (d time.Duration, ok bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}
