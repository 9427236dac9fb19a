package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// Discord rejects messages above 2000 characters.
const opsMessageLimit = 1900

func (s *Service) opsWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case it := <-s.opsQueue:
			s.mu.Lock()
			sender := s.sender
			s.mu.Unlock()
			if sender == nil {
				continue
			}
			_, _ = sender.SendMessage(ctx, it.channelID, it.msg)
		}
	}
}

type opsWriter struct{ svc *Service }

func (w *opsWriter) Write(p []byte) (int, error) {
	return w.WriteLevel(zerolog.InfoLevel, p)
}

func (w *opsWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	s := w.svc
	if s == nil {
		return len(p), nil
	}

	s.mu.Lock()
	ops, hasSender := s.ops, s.sender != nil
	s.mu.Unlock()

	if ops.channelID == "" || !hasSender || level < ops.minLevel || !ops.limiter.Allow() {
		return len(p), nil
	}
	msg := formatOpsLine(p)
	if msg == "" {
		return len(p), nil
	}

	// Never block the caller's log statement.
	select {
	case s.opsQueue <- opsItem{channelID: ops.channelID, msg: msg}:
	default:
	}
	return len(p), nil
}

// formatOpsLine renders one zerolog JSON record as a compact chat message.
func formatOpsLine(p []byte) string {
	var m map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(p), &m); err != nil {
		return Truncate(strings.TrimSpace(string(p)), opsMessageLimit)
	}

	lvl, _ := m["level"].(string)
	msg, _ := m["message"].(string)

	var b strings.Builder
	if lvl != "" {
		b.WriteString("**")
		b.WriteString(strings.ToUpper(lvl))
		b.WriteString("** ")
	}
	b.WriteString(msg)

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case "time", "level", "message":
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString("\n- ")
		b.WriteString(k)
		b.WriteString("=")
		limit := 400
		if k == "stack" {
			limit = 800
		}
		b.WriteString(Truncate(fmt.Sprint(m[k]), limit))
	}
	return Truncate(b.String(), opsMessageLimit)
}
