package delivery

import (
	"errors"
	"time"
)

type Config struct {
	// MaxAttempts caps platform calls per delivery, including the first.
	MaxAttempts   int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	// RateLimit sends are allowed per RateWindow across all deliveries.
	RateLimit   int
	RateWindow  time.Duration
	SendTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryBase <= 0 {
		c.RetryBase = time.Second
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 30 * time.Second
	}
	if c.RateLimit <= 0 {
		c.RateLimit = 5
	}
	if c.RateWindow <= 0 {
		c.RateWindow = time.Minute
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	return c
}

type Outcome string

const (
	OutcomePosted      Outcome = "posted"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeFailed      Outcome = "failed"
)

var (
	ErrRateLimited = errors.New("delivery: rate limited")
	ErrFailed      = errors.New("delivery: failed")
)

// Result describes one delivery. Replayed is set when the outcome came from
// the ledger and no platform call was made.
type Result struct {
	Key       string  `json:"key"`
	MessageID string  `json:"message_id,omitempty"`
	Outcome   Outcome `json:"outcome"`
	Error     string  `json:"error,omitempty"`
	Attempts  int     `json:"attempts"`
	Replayed  bool    `json:"replayed,omitempty"`

	// abandoned marks a result cut short by the caller's own cancellation.
	abandoned bool
}

func (r Result) OK() bool { return r.Outcome == OutcomePosted }

// Err converts a failed result into an error matching ErrRateLimited or
// ErrFailed. It returns nil for posted results.
func (r Result) Err() error {
	switch r.Outcome {
	case OutcomePosted:
		return nil
	case OutcomeRateLimited:
		return &Error{Result: r, kind: ErrRateLimited}
	default:
		return &Error{Result: r, kind: ErrFailed}
	}
}

type Error struct {
	Result Result
	kind   error
}

func (e *Error) Error() string {
	if e.Result.Error == "" {
		return e.kind.Error()
	}
	return e.kind.Error() + ": " + e.Result.Error
}

func (e *Error) Is(target error) bool { return target == e.kind }

// record is the JSON payload stored in the ledger.
type record struct {
	Target    string  `json:"target"`
	MessageID string  `json:"message_id,omitempty"`
	Outcome   Outcome `json:"outcome"`
	Error     string  `json:"error,omitempty"`
	Attempts  int     `json:"attempts"`
}
