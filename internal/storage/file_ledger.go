package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"leaguebot/pkg/logx"
)

// FileLedger keeps the delivery ledger as an append-only JSON Lines journal,
// replayed into memory on open.
type FileLedger struct {
	log logx.Logger

	mu      sync.Mutex
	journal *os.File
	events  map[string]DeliveryEvent
}

func OpenFileLedger(path string, log logx.Logger) (*FileLedger, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("ledger.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	events := map[string]DeliveryEvent{}
	if n, err := replayLedgerJournal(path, events); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	} else if n > 0 {
		log.Info("ledger journal replayed", logx.Int("events", n))
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return &FileLedger{log: log, journal: f, events: events}, nil
}

func (l *FileLedger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.journal == nil {
		return nil
	}
	err := l.journal.Close()
	l.journal = nil
	return err
}

func (l *FileLedger) GetDelivery(ctx context.Context, key string) (DeliveryEvent, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ev, ok := l.events[key]
	return ev, ok, nil
}

func (l *FileLedger) InsertDelivery(ctx context.Context, ev DeliveryEvent) (DeliveryEvent, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.journal == nil {
		return DeliveryEvent{}, false, ErrClosed
	}
	if cur, ok := l.events[ev.IdempotencyKey]; ok {
		return cur, false, nil
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	if err := json.NewEncoder(l.journal).Encode(ev); err != nil {
		return DeliveryEvent{}, false, err
	}
	if err := l.journal.Sync(); err != nil {
		l.log.Warn("ledger fsync failed", logx.Err(err))
	}
	l.events[ev.IdempotencyKey] = ev
	return ev, true, nil
}

func replayLedgerJournal(path string, out map[string]DeliveryEvent) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	n := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		var ev DeliveryEvent
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil || ev.IdempotencyKey == "" {
			continue
		}
		// First write wins, matching the unique key constraint of the SQL stores.
		if _, dup := out[ev.IdempotencyKey]; dup {
			continue
		}
		out[ev.IdempotencyKey] = ev
		n++
	}
	return n, sc.Err()
}
