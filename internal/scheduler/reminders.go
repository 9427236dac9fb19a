package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"leaguebot/internal/eventbus"
	"leaguebot/pkg/logx"
)

// ReminderKey is the registry key of the reminder for deadlineID firing
// hoursBefore hours ahead of it.
func ReminderKey(deadlineID string, hoursBefore int) string {
	return fmt.Sprintf("reminder:%s:%dh", deadlineID, hoursBefore)
}

// ScheduleReminder registers one one-off trigger per offset at
// deadline - offset. Offsets whose fire time is not in the future are
// skipped and logged. An empty hoursBefore uses the configured defaults.
// It returns the number of reminders registered.
func (s *Service) ScheduleReminder(leagueID, deadlineID string, deadline time.Time, tz string, hoursBefore []int) (int, error) {
	deadlineID = strings.TrimSpace(deadlineID)
	if deadlineID == "" {
		return 0, errors.New("deadline id required")
	}
	if deadline.IsZero() {
		return 0, errors.New("deadline time required")
	}
	cfg := s.config()
	if strings.TrimSpace(tz) == "" {
		tz = cfg.Timezone
	}
	if tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return 0, fmt.Errorf("%w: timezone %q: %v", ErrInvalidSpec, tz, err)
		}
	}
	if len(hoursBefore) == 0 {
		hoursBefore = cfg.ReminderHours
	}

	now := s.now()
	n := 0
	for _, h := range hoursBefore {
		if h < 0 {
			return n, fmt.Errorf("reminder offset must be >= 0, got %d", h)
		}
		key := ReminderKey(deadlineID, h)
		fireAt := deadline.Add(-time.Duration(h) * time.Hour)
		if !fireAt.After(now) {
			s.log.Info("reminder offset already passed; skipped",
				logx.String("deadline_id", deadlineID), logx.Int("hours_before", h), logx.Time("fire_at", fireAt))
			continue
		}
		payload := map[string]any{
			eventbus.KeyLeagueID:    leagueID,
			eventbus.KeyDeadlineID:  deadlineID,
			eventbus.KeyDeadline:    deadline,
			eventbus.KeyHoursBefore: h,
			eventbus.KeyTimezone:    tz,
		}
		err := s.reg.ScheduleAt(key, fireAt, s.emit(eventbus.ReminderDue, payload),
			WithKind(KindReminder),
			WithDescription(fmt.Sprintf("%dh before %s", h, deadlineID)),
		)
		if err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// CancelReminders removes every pending reminder of deadlineID.
func (s *Service) CancelReminders(deadlineID string) int {
	prefix := "reminder:" + strings.TrimSpace(deadlineID) + ":"
	n := 0
	for _, k := range s.reg.Keys(KindReminder) {
		if strings.HasPrefix(k, prefix) && s.reg.Unschedule(k) {
			n++
		}
	}
	return n
}
