package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"leaguebot/internal/eventbus"
	"leaguebot/internal/metrics"
	"leaguebot/internal/platform"
	"leaguebot/internal/ratelimit"
	"leaguebot/internal/storage"
	"leaguebot/pkg/logx"
)

// Service delivers outbound messages at most once per idempotency key.
//
// Every call goes through the same pipeline: ledger lookup, in-process
// coalescing per key, the shared rolling-window limiter, bounded retries on
// rate limits, and a ledger record of the final outcome.
type Service struct {
	mu  sync.Mutex
	cfg Config

	messenger platform.Messenger
	ledger    storage.Ledger
	limiter   *ratelimit.Window
	bus       eventbus.Bus
	log       logx.Logger

	group singleflight.Group
	sleep func(ctx context.Context, d time.Duration) error
}

func New(cfg Config, messenger platform.Messenger, ledger storage.Ledger, bus eventbus.Bus, log logx.Logger) *Service {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:       cfg,
		messenger: messenger,
		ledger:    ledger,
		limiter:   ratelimit.NewWindow(cfg.RateLimit, cfg.RateWindow),
		bus:       bus,
		log:       log.With(logx.Component("delivery")),
		sleep:     sleepCtx,
	}
}

// Apply updates retry and limiter settings. In-flight deliveries keep the
// settings they started with.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	s.limiter.SetLimit(cfg.RateLimit, cfg.RateWindow)
}

func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Limiter exposes the shared limiter, e.g. for status output.
func (s *Service) Limiter() *ratelimit.Window { return s.limiter }

type operation struct {
	name   string
	typ    storage.DeliveryType
	target string
	send   func(ctx context.Context) (string, error)
}

// Post sends content to channelID. An empty key gets a fresh random key,
// which makes the call non-idempotent across retries by the caller.
func (s *Service) Post(ctx context.Context, channelID, content, key string) Result {
	return s.deliver(ctx, key, operation{
		name:   "post",
		typ:    storage.DeliveryMessagePosted,
		target: channelID,
		send: func(ctx context.Context) (string, error) {
			return s.messenger.SendMessage(ctx, channelID, content)
		},
	})
}

func (s *Service) DM(ctx context.Context, userID, content, key string) Result {
	return s.deliver(ctx, key, operation{
		name:   "dm",
		typ:    storage.DeliveryDMSent,
		target: userID,
		send: func(ctx context.Context) (string, error) {
			return s.messenger.SendDM(ctx, userID, content)
		},
	})
}

func (s *Service) React(ctx context.Context, channelID, messageID, emoji, key string) Result {
	return s.deliver(ctx, key, operation{
		name:   "react",
		typ:    storage.DeliveryReactionAdded,
		target: channelID + "/" + messageID,
		send: func(ctx context.Context) (string, error) {
			return messageID, s.messenger.AddReaction(ctx, channelID, messageID, emoji)
		},
	})
}

func (s *Service) deliver(ctx context.Context, key string, op operation) Result {
	if key == "" {
		key = uuid.NewString()
	}
	start := time.Now()
	var res Result
	for {
		v, _, _ := s.group.Do(key, func() (any, error) {
			return s.deliverOnce(ctx, key, op), nil
		})
		res = v.(Result)
		// A shared call abandoned by a cancelled caller says nothing about
		// this caller; run it again under our own context.
		if !res.abandoned || ctx.Err() != nil {
			break
		}
	}

	metrics.Deliveries.WithLabelValues(op.name, string(res.Outcome)).Inc()
	metrics.DeliveryLatency.WithLabelValues(op.name).Observe(time.Since(start).Seconds())
	return res
}

func (s *Service) deliverOnce(ctx context.Context, key string, op operation) Result {
	log := s.log.With(logx.String("key", key), logx.String("op", op.name))

	if s.ledger != nil {
		ev, ok, err := s.ledger.GetDelivery(ctx, key)
		if err != nil {
			log.Error("ledger read failed", logx.Err(err))
			return Result{Key: key, Outcome: OutcomeFailed, Error: "ledger read: " + err.Error()}
		}
		if ok {
			res := resultFromEvent(key, ev)
			log.Debug("delivery replayed from ledger", logx.String("outcome", string(res.Outcome)))
			s.publish(ctx, eventbus.DeliveryReplayed, res)
			return res
		}
	}
	if s.messenger == nil {
		return Result{Key: key, Outcome: OutcomeFailed, Error: "no messenger configured"}
	}

	cfg := s.config()
	var (
		messageID string
		lastErr   error
		limited   bool
		attempts  int
	)
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := s.acquire(ctx); err != nil {
			lastErr = err
			break
		}

		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		id, err := op.send(callCtx)
		cancel()
		attempts++
		metrics.DeliveryAttempts.Inc()

		if err == nil {
			messageID, lastErr, limited = id, nil, false
			break
		}
		lastErr = err
		hint, isLimit := platform.RetryAfter(err)
		limited = isLimit
		if !isLimit {
			log.Warn("delivery failed permanently", logx.Int("attempt", attempt), logx.Err(err))
			break
		}
		if attempt == cfg.MaxAttempts {
			break
		}
		delay := hint
		if delay <= 0 {
			delay = retryDelay(cfg, attempt)
		}
		log.Info("rate limited, retrying", logx.Int("attempt", attempt), logx.Duration("delay", delay))
		if err := s.sleep(ctx, delay); err != nil {
			lastErr = err
			limited = false
			break
		}
	}

	res := Result{Key: key, Attempts: attempts, MessageID: messageID}
	switch {
	case lastErr == nil:
		res.Outcome = OutcomePosted
	case limited:
		res.Outcome = OutcomeRateLimited
		res.Error = lastErr.Error()
	default:
		res.Outcome = OutcomeFailed
		res.Error = lastErr.Error()
	}

	// Cancellation is neither success nor a platform verdict; leave the key
	// open so a later call can still deliver.
	if lastErr != nil && (errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded)) && ctx.Err() != nil {
		log.Warn("delivery abandoned", logx.Err(lastErr))
		res.abandoned = true
		return res
	}

	res = s.record(ctx, log, op, res)
	if res.OK() {
		s.publish(ctx, eventbus.DeliveryPosted, res)
	} else {
		s.publish(ctx, eventbus.DeliveryFailed, res)
	}
	return res
}

func (s *Service) acquire(ctx context.Context) error {
	if s.limiter.Allow() {
		return nil
	}
	metrics.RateLimiterWaits.Inc()
	return s.limiter.Wait(ctx)
}

// record appends the outcome to the ledger. If another writer recorded the
// key first, its outcome wins and is returned instead.
func (s *Service) record(ctx context.Context, log logx.Logger, op operation, res Result) Result {
	if s.ledger == nil {
		return res
	}
	payload, err := json.Marshal(record{
		Target:    op.target,
		MessageID: res.MessageID,
		Outcome:   res.Outcome,
		Error:     storage.Excerpt(res.Error),
		Attempts:  res.Attempts,
	})
	if err != nil {
		log.Error("encode ledger record", logx.Err(err))
		return res
	}
	// Record even if the caller's context is already done.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	stored, inserted, err := s.ledger.InsertDelivery(wctx, storage.DeliveryEvent{
		Type:           op.typ,
		IdempotencyKey: res.Key,
		Payload:        payload,
	})
	if err != nil {
		log.Error("ledger write failed", logx.Err(err), logx.String("outcome", string(res.Outcome)))
		return res
	}
	if !inserted {
		log.Warn("ledger key already recorded by another writer")
		return resultFromEvent(res.Key, stored)
	}
	return res
}

func (s *Service) publish(ctx context.Context, name string, res Result) {
	if s.bus == nil {
		return
	}
	_ = s.bus.Publish(ctx, name, res)
}

func resultFromEvent(key string, ev storage.DeliveryEvent) Result {
	var rec record
	if err := json.Unmarshal(ev.Payload, &rec); err != nil {
		return Result{Key: key, Outcome: OutcomeFailed, Error: fmt.Sprintf("ledger record unreadable: %v", err), Replayed: true}
	}
	out := rec.Outcome
	if out == "" {
		out = OutcomePosted
	}
	return Result{
		Key:       key,
		MessageID: rec.MessageID,
		Outcome:   out,
		Error:     rec.Error,
		Attempts:  rec.Attempts,
		Replayed:  true,
	}
}

// retryDelay is base * 2^(attempt-1), capped at RetryMaxDelay. attempt is
// the 1-based attempt that just failed.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			return cfg.RetryMaxDelay
		}
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
