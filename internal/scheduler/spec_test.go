package scheduler

import (
	"testing"
	"time"
)

func TestParseSchedule(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		kind    SpecKind
		expr    string
		wantErr bool
	}{
		{in: "*/5 * * * *", kind: SpecCron, expr: "*/5 * * * *"},
		{in: "@hourly", kind: SpecCron, expr: "@hourly"},
		{in: "cron:0 9 * * 2", kind: SpecCron, expr: "0 9 * * 2"},
		{in: "15m", kind: SpecInterval, expr: "@every 15m0s"},
		{in: "every:00:30", kind: SpecInterval, expr: "@every 30m0s"},
		{in: "02:30", kind: SpecInterval, expr: "@every 2h30m0s"},
		{in: "daily:03:15", kind: SpecCron, expr: "15 3 * * *"},
		{in: "weekly:tue 09:00", kind: SpecCron, expr: "0 9 * * 2"},
		{in: "weekly:Sunday 18:30", kind: SpecCron, expr: "30 18 * * 0"},
		{in: "", wantErr: true},
		{in: "cron:", wantErr: true},
		{in: "weekly:funday 09:00", wantErr: true},
		{in: "daily:25:00", wantErr: true},
		{in: "-5m", wantErr: true},
		{in: "nonsense", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			ps, err := ParseSchedule(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q, got %+v", tt.in, ps)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSchedule(%q): %v", tt.in, err)
			}
			if ps.Kind != tt.kind || ps.Expr() != tt.expr {
				t.Fatalf("ParseSchedule(%q) = kind %v expr %q, want %v %q", tt.in, ps.Kind, ps.Expr(), tt.kind, tt.expr)
			}
		})
	}
}

func TestHelpers(t *testing.T) {
	t.Parallel()
	if got := WeeklyAt(time.Monday, 9, 5); got != "5 9 * * 1" {
		t.Fatalf("WeeklyAt = %q", got)
	}
	if got := DailyAt(0, 0); got != "0 0 * * *" {
		t.Fatalf("DailyAt = %q", got)
	}
	if got := EveryMinutes(15); got != "*/15 * * * *" {
		t.Fatalf("EveryMinutes = %q", got)
	}
	if got := EveryMinutes(1); got != "* * * * *" {
		t.Fatalf("EveryMinutes(1) = %q", got)
	}
}
