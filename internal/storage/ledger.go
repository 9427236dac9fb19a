package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"leaguebot/pkg/logx"
)

// LedgerConfig selects where delivery idempotency records live.
//
// Driver values:
//   - "" or "store": the primary Store
//   - "redis": Redis, optionally in front of the primary Store
//   - "file": append-only JSON Lines journal
type LedgerConfig struct {
	Driver string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
	RedisTTL      time.Duration
	// WriteThrough keeps the primary Store authoritative and uses Redis as
	// a shared read cache.
	WriteThrough bool

	Path string
}

// OpenLedger builds the configured ledger. The returned closer releases
// resources owned by the ledger itself and never closes primary.
func OpenLedger(ctx context.Context, cfg LedgerConfig, primary Ledger, log logx.Logger) (Ledger, io.Closer, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.Component("ledger"))

	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "store":
		return primary, nopCloser{}, nil
	case "redis":
		var next Ledger
		if cfg.WriteThrough {
			next = primary
		}
		l, err := NewRedisLedger(ctx, cfg, next, log)
		if err != nil {
			return nil, nil, err
		}
		return l, l, nil
	case "file":
		l, err := OpenFileLedger(cfg.Path, log)
		if err != nil {
			return nil, nil, err
		}
		return l, l, nil
	default:
		return nil, nil, fmt.Errorf("unknown ledger driver: %s", driver)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
