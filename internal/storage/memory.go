package storage

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memStore struct {
	mu sync.Mutex

	jobs     map[string]JobDefinition
	runs     []JobRun
	failures map[string]JobFailure
	items    map[string]*memItem
	ledger   map[string]DeliveryEvent

	seq    uint64
	closed bool
}

type memItem struct {
	ContentQueueItem
	seq uint64
}

// NewMemory returns a Store kept entirely in process memory.
func NewMemory() Store {
	return &memStore{
		jobs:     map[string]JobDefinition{},
		failures: map[string]JobFailure{},
		items:    map[string]*memItem{},
		ledger:   map[string]DeliveryEvent{},
	}
}

func (s *memStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *memStore) Jobs(ctx context.Context) ([]JobDefinition, error) {
	return s.listJobs(false)
}

func (s *memStore) EnabledJobs(ctx context.Context) ([]JobDefinition, error) {
	return s.listJobs(true)
}

func (s *memStore) listJobs(enabledOnly bool) ([]JobDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]JobDefinition, 0, len(s.jobs))
	for _, j := range s.jobs {
		if enabledOnly && !j.Enabled {
			continue
		}
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out, nil
}

func (s *memStore) UpsertJob(ctx context.Context, j JobDefinition) error {
	if strings.TrimSpace(j.ID) == "" {
		j.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	j.Config = cloneRaw(j.Config)
	s.jobs[j.ID] = j
	return nil
}

func (s *memStore) CreateJobRun(ctx context.Context, jobID string, startedAt time.Time) (JobRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return JobRun{}, ErrClosed
	}
	r := JobRun{ID: uuid.NewString(), JobID: jobID, Status: RunRunning, StartedAt: startedAt}
	s.runs = append(s.runs, r)
	return r, nil
}

func (s *memStore) FinishJobRun(ctx context.Context, runID string, status RunStatus, finishedAt time.Time, detail json.RawMessage) error {
	if !status.Terminal() {
		return ErrTerminal
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.runs {
		if s.runs[i].ID != runID {
			continue
		}
		if s.runs[i].Status != RunRunning {
			return ErrTerminal
		}
		s.runs[i].Status = status
		s.runs[i].FinishedAt = finishedAt
		s.runs[i].Detail = cloneRaw(detail)
		return nil
	}
	return ErrNotFound
}

func (s *memStore) JobRuns(ctx context.Context, jobID string, limit int) ([]JobRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []JobRun
	for i := len(s.runs) - 1; i >= 0; i-- {
		if s.runs[i].JobID != jobID {
			continue
		}
		out = append(out, s.runs[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *memStore) UpsertJobFailure(ctx context.Context, jobID, lastError string, at time.Time) (JobFailure, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.failures[jobID]
	f.JobID = jobID
	f.LastError = Excerpt(lastError)
	f.Count++
	f.UpdatedAt = at
	s.failures[jobID] = f
	return f, nil
}

func (s *memStore) ClearJobFailure(ctx context.Context, jobID string) error {
	s.mu.Lock()
	delete(s.failures, jobID)
	s.mu.Unlock()
	return nil
}

func (s *memStore) JobFailures(ctx context.Context) ([]JobFailure, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobFailure, 0, len(s.failures))
	for _, f := range s.failures {
		out = append(out, f)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].JobID < out[k].JobID })
	return out, nil
}

func (s *memStore) CreateContentItem(ctx context.Context, it ContentQueueItem) (ContentQueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ContentQueueItem{}, ErrClosed
	}
	if it.ID == "" {
		it.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if it.CreatedAt.IsZero() {
		it.CreatedAt = now
	}
	it.UpdatedAt = it.CreatedAt
	it.Status = QueueQueued
	it.Payload = cloneRaw(it.Payload)
	s.seq++
	s.items[it.ID] = &memItem{ContentQueueItem: it, seq: s.seq}
	return it, nil
}

func (s *memStore) ContentItem(ctx context.Context, id string) (ContentQueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return ContentQueueItem{}, ErrNotFound
	}
	return it.ContentQueueItem, nil
}

func (s *memStore) DueContentItems(ctx context.Context, now time.Time, limit int) ([]ContentQueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	due := make([]*memItem, 0)
	for _, it := range s.items {
		if it.Status == QueueQueued && !it.ScheduledAt.After(now) {
			due = append(due, it)
		}
	}
	sort.Slice(due, func(i, k int) bool {
		if !due[i].ScheduledAt.Equal(due[k].ScheduledAt) {
			return due[i].ScheduledAt.Before(due[k].ScheduledAt)
		}
		return due[i].seq < due[k].seq
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	out := make([]ContentQueueItem, len(due))
	for i, it := range due {
		out[i] = it.ContentQueueItem
	}
	return out, nil
}

func (s *memStore) MarkContentPosted(ctx context.Context, id, messageID string, at time.Time) error {
	return s.transition(id, func(it *memItem) {
		it.Status = QueuePosted
		it.MessageID = messageID
		it.UpdatedAt = at
	})
}

func (s *memStore) MarkContentSkipped(ctx context.Context, id, reason string, at time.Time) error {
	return s.transition(id, func(it *memItem) {
		it.Status = QueueSkipped
		it.SkipReason = Excerpt(reason)
		it.UpdatedAt = at
	})
}

func (s *memStore) transition(id string, apply func(*memItem)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return ErrNotFound
	}
	if it.Status != QueueQueued {
		return ErrTerminal
	}
	apply(it)
	return nil
}

func (s *memStore) GetDelivery(ctx context.Context, key string) (DeliveryEvent, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return DeliveryEvent{}, false, ErrClosed
	}
	ev, ok := s.ledger[key]
	return ev, ok, nil
}

func (s *memStore) InsertDelivery(ctx context.Context, ev DeliveryEvent) (DeliveryEvent, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return DeliveryEvent{}, false, ErrClosed
	}
	if cur, ok := s.ledger[ev.IdempotencyKey]; ok {
		return cur, false, nil
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	ev.Payload = cloneRaw(ev.Payload)
	s.ledger[ev.IdempotencyKey] = ev
	return ev, true, nil
}

func cloneRaw(b json.RawMessage) json.RawMessage {
	if b == nil {
		return nil
	}
	return append(json.RawMessage(nil), b...)
}
