package executor

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrStopped     = errors.New("executor stopped")
	ErrQueueFull   = errors.New("executor queue full")
	ErrOverlapSkip = errors.New("task skipped: previous run still in flight")
)

type Config struct {
	Workers   int
	QueueSize int
	// DefaultTimeout applies when Task.Timeout is 0. Zero means no timeout.
	DefaultTimeout time.Duration
	HistorySize    int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 200
	}
	return c
}

type OverlapPolicy int

const (
	OverlapAllow OverlapPolicy = iota
	// OverlapSkipIfRunning drops a submission while an earlier one with the
	// same name is queued or running.
	OverlapSkipIfRunning
)

// Task is one fired trigger.
type Task struct {
	Name    string
	Timeout time.Duration
	Overlap OverlapPolicy
	Run     func(ctx context.Context) error
}

type runState struct {
	mu       sync.Mutex
	inflight int
}

func (s *runState) tryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight > 0 {
		return false
	}
	s.inflight++
	return true
}

func (s *runState) release() {
	s.mu.Lock()
	if s.inflight > 0 {
		s.inflight--
	}
	s.mu.Unlock()
}

type HistoryItem struct {
	Name       string        `json:"name"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}

type Snapshot struct {
	Running  bool          `json:"running"`
	Workers  int           `json:"workers"`
	QueueLen int           `json:"queue_len"`
	QueueCap int           `json:"queue_cap"`
	InFlight int           `json:"in_flight"`
	Dropped  uint64        `json:"dropped"`
	Skipped  uint64        `json:"skipped"`
	History  []HistoryItem `json:"history"`
}
