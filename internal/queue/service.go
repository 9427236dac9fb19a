// Package queue is the durable content queue: producers enqueue rendered
// messages for a future time, and the content poster delivers whatever is
// due.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"leaguebot/internal/delivery"
	"leaguebot/internal/eventbus"
	"leaguebot/internal/metrics"
	"leaguebot/internal/storage"
	"leaguebot/pkg/logx"
)

// Poster delivers one message. *delivery.Service satisfies it.
type Poster interface {
	Post(ctx context.Context, channelID, content, key string) delivery.Result
}

type Config struct {
	// Templates maps template ids to bodies with {{key}} placeholders.
	Templates map[string]string
	// BatchSize caps items handled per PostQueued call. Zero means all.
	BatchSize int
}

type Service struct {
	mu  sync.Mutex
	cfg Config

	store  storage.QueueStore
	poster Poster
	log    logx.Logger
	now    func() time.Time
}

func New(cfg Config, store storage.QueueStore, poster Poster, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cloneConfig(cfg),
		store:  store,
		poster: poster,
		log:    log.With(logx.Component("queue")),
		now:    time.Now,
	}
}

func cloneConfig(cfg Config) Config {
	t := make(map[string]string, len(cfg.Templates))
	for k, v := range cfg.Templates {
		t[k] = v
	}
	cfg.Templates = t
	return cfg
}

// Apply swaps templates and batch size. Items already queued render with
// the templates current at posting time.
func (s *Service) Apply(cfg Config) {
	cfg = cloneConfig(cfg)
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// IdempotencyKey is the delivery key used for a queue item.
func IdempotencyKey(itemID string) string { return "content:" + itemID }

// Enqueue stores a new queued item. scheduledAt is not validated; a past
// time makes the item due on the next poster run.
func (s *Service) Enqueue(ctx context.Context, leagueID, channelID string, scheduledAt time.Time, templateID string, payload map[string]any) (storage.ContentQueueItem, error) {
	if strings.TrimSpace(channelID) == "" {
		return storage.ContentQueueItem{}, errors.New("channel id required")
	}
	if strings.TrimSpace(templateID) == "" {
		return storage.ContentQueueItem{}, errors.New("template id required")
	}
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return storage.ContentQueueItem{}, fmt.Errorf("encode payload: %w", err)
		}
		raw = b
	}
	it, err := s.store.CreateContentItem(ctx, storage.ContentQueueItem{
		LeagueID:    leagueID,
		ChannelID:   channelID,
		ScheduledAt: scheduledAt,
		TemplateID:  templateID,
		Payload:     raw,
	})
	if err != nil {
		return storage.ContentQueueItem{}, fmt.Errorf("enqueue: %w", err)
	}
	s.log.Debug("content enqueued", logx.String("item_id", it.ID), logx.String("league_id", leagueID),
		logx.String("template", templateID), logx.Time("scheduled_at", scheduledAt))
	return it, nil
}

// RenderItem produces the message body of it.
func (s *Service) RenderItem(it storage.ContentQueueItem) (string, error) {
	tmpl, ok := s.config().Templates[it.TemplateID]
	if !ok {
		return "", fmt.Errorf("unknown template %q", it.TemplateID)
	}
	payload, err := decodePayload(it.Payload)
	if err != nil {
		return "", fmt.Errorf("decode payload: %w", err)
	}
	body := strings.TrimSpace(Render(tmpl, payload))
	if body == "" {
		return "", errors.New("rendered message is empty")
	}
	return body, nil
}

// PostQueued delivers every queued item due by now, in scheduled order.
// Each item ends posted (with its message id) or skipped; a skip is final.
// It returns the number of items posted. Cancellation stops the loop and
// leaves unprocessed items queued.
func (s *Service) PostQueued(ctx context.Context, now time.Time) (int, error) {
	if s.poster == nil {
		return 0, errors.New("no poster configured")
	}
	items, err := s.store.DueContentItems(ctx, now, s.config().BatchSize)
	if err != nil {
		return 0, fmt.Errorf("due items: %w", err)
	}
	if len(items) == 0 {
		return 0, nil
	}

	posted, skipped := 0, 0
	for _, it := range items {
		if err := ctx.Err(); err != nil {
			s.log.Warn("content poster interrupted", logx.Int("posted", posted), logx.Int("remaining", len(items)-posted-skipped))
			return posted, err
		}
		log := s.log.With(logx.String("item_id", it.ID), logx.String("channel_id", it.ChannelID))

		body, err := s.RenderItem(it)
		if err != nil {
			if s.skip(ctx, log, it, err.Error()) {
				skipped++
			}
			continue
		}

		res := s.poster.Post(ctx, it.ChannelID, body, IdempotencyKey(it.ID))
		if !res.OK() && ctx.Err() != nil {
			// Abandoned delivery; the item stays queued for the next run.
			return posted, ctx.Err()
		}
		if !res.OK() {
			if s.skip(ctx, log, it, fmt.Sprintf("%s: %s", res.Outcome, res.Error)) {
				skipped++
			}
			continue
		}

		if err := s.store.MarkContentPosted(ctx, it.ID, res.MessageID, s.now()); err != nil {
			if errors.Is(err, storage.ErrTerminal) {
				log.Debug("item already finalized", logx.Err(err))
				continue
			}
			log.Error("mark posted failed", logx.Err(err))
			continue
		}
		posted++
		metrics.QueuePosted.Inc()
		log.Debug("content posted", logx.String("message_id", res.MessageID), logx.Bool("replayed", res.Replayed))
	}

	s.log.Info("content poster finished", logx.Int("due", len(items)), logx.Int("posted", posted), logx.Int("skipped", skipped))
	return posted, nil
}

func (s *Service) skip(ctx context.Context, log logx.Logger, it storage.ContentQueueItem, reason string) bool {
	reason = storage.Excerpt(reason)
	if err := s.store.MarkContentSkipped(context.WithoutCancel(ctx), it.ID, reason, s.now()); err != nil {
		if !errors.Is(err, storage.ErrTerminal) {
			log.Error("mark skipped failed", logx.Err(err))
		}
		return false
	}
	metrics.QueueSkipped.Inc()
	log.Warn("content skipped", logx.String("reason", reason))
	return true
}

// HandleContentPosterDue is the bus handler for the content poster trigger.
func (s *Service) HandleContentPosterDue(ctx context.Context, _ eventbus.Event) error {
	_, err := s.PostQueued(ctx, s.now())
	return err
}
