package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"leaguebot/pkg/logx"
)

// RedisLedger stores delivery events under <prefix><idempotency key>.
// SETNX gives first-writer-wins semantics across replicas.
type RedisLedger struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	next   Ledger
	log    logx.Logger
}

func NewRedisLedger(ctx context.Context, cfg LedgerConfig, next Ledger, log logx.Logger) (*RedisLedger, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return newRedisLedger(client, cfg.RedisPrefix, cfg.RedisTTL, next, log), nil
}

func newRedisLedger(client *redis.Client, prefix string, ttl time.Duration, next Ledger, log logx.Logger) *RedisLedger {
	if prefix == "" {
		prefix = "leaguebot:delivery:"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &RedisLedger{client: client, prefix: prefix, ttl: ttl, next: next, log: log}
}

func (l *RedisLedger) Close() error { return l.client.Close() }

func (l *RedisLedger) GetDelivery(ctx context.Context, key string) (DeliveryEvent, bool, error) {
	raw, err := l.client.Get(ctx, l.prefix+key).Bytes()
	switch {
	case err == nil:
		var ev DeliveryEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return DeliveryEvent{}, false, fmt.Errorf("decode ledger entry: %w", err)
		}
		return ev, true, nil
	case !errors.Is(err, redis.Nil):
		return DeliveryEvent{}, false, err
	}

	if l.next == nil {
		return DeliveryEvent{}, false, nil
	}
	ev, ok, err := l.next.GetDelivery(ctx, key)
	if err != nil || !ok {
		return ev, ok, err
	}
	l.cache(ctx, ev)
	return ev, true, nil
}

func (l *RedisLedger) InsertDelivery(ctx context.Context, ev DeliveryEvent) (DeliveryEvent, bool, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	if l.next != nil {
		stored, inserted, err := l.next.InsertDelivery(ctx, ev)
		if err != nil {
			return DeliveryEvent{}, false, err
		}
		l.cache(ctx, stored)
		return stored, inserted, nil
	}

	b, err := json.Marshal(ev)
	if err != nil {
		return DeliveryEvent{}, false, err
	}
	ok, err := l.client.SetNX(ctx, l.prefix+ev.IdempotencyKey, b, l.ttl).Result()
	if err != nil {
		return DeliveryEvent{}, false, err
	}
	if ok {
		return ev, true, nil
	}
	cur, found, err := l.GetDelivery(ctx, ev.IdempotencyKey)
	if err != nil {
		return DeliveryEvent{}, false, err
	}
	if !found {
		return DeliveryEvent{}, false, errors.New("ledger key vanished after SETNX conflict")
	}
	return cur, false, nil
}

func (l *RedisLedger) cache(ctx context.Context, ev DeliveryEvent) {
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := l.client.SetNX(ctx, l.prefix+ev.IdempotencyKey, b, l.ttl).Err(); err != nil {
		l.log.Debug("ledger cache write failed", logx.String("key", ev.IdempotencyKey), logx.Err(err))
	}
}
