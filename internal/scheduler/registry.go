package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"leaguebot/internal/executor"
	"leaguebot/internal/metrics"
	"leaguebot/pkg/logx"
)

// Registry is the in-memory map of named, cancellable triggers.
//
// Registration is atomic per key: Schedule and ScheduleAt stop and remove
// any existing entry with the same key before inserting the new one, under
// one lock. Entries survive Stop and are re-armed by Start.
type Registry struct {
	mu      sync.Mutex
	parser  cron.Parser
	c       *cron.Cron
	running bool
	ctx     context.Context
	entries map[string]*entry

	runner Runner
	log    logx.Logger

	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time
}

type entry struct {
	key     string
	kind    Kind
	spec    string
	tz      string
	desc    string
	overlap executor.OverlapPolicy
	timeout time.Duration
	fn      Func

	// recurring
	sched cron.Schedule
	id    cron.EntryID

	// one-off
	at    time.Time
	timer *time.Timer

	active atomic.Int32
}

// Option customizes a registry entry.
type Option func(*entry)

func WithKind(k Kind) Option { return func(e *entry) { e.kind = k } }

func WithDescription(d string) Option { return func(e *entry) { e.desc = d } }

// WithTimeout bounds one run of the entry.
func WithTimeout(d time.Duration) Option { return func(e *entry) { e.timeout = d } }

func WithOverlap(p executor.OverlapPolicy) Option {
	return func(e *entry) { e.overlap = p }
}

// NewRegistry returns a stopped registry. A nil runner runs fired entries
// on the timer goroutine.
func NewRegistry(runner Runner, log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.Component("scheduler.registry"))
	// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	cl := cronLogger{log: log}
	return &Registry{
		parser:      parser,
		c:           cron.New(cron.WithParser(parser), cron.WithLogger(cl), cron.WithChain(cron.Recover(cl))),
		ctx:         context.Background(),
		entries:     map[string]*entry{},
		runner:      runner,
		log:         log,
		lastEnqWarn: map[string]time.Time{},
	}
}

// Validate parses spec in timezone tz without registering anything.
func (r *Registry) Validate(spec, tz string) error {
	_, _, err := r.parse(spec, tz)
	return err
}

func (r *Registry) parse(spec, tz string) (cron.Schedule, string, error) {
	tz = strings.TrimSpace(tz)
	if tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return nil, "", fmt.Errorf("%w: timezone %q: %v", ErrInvalidSpec, tz, err)
		}
	}
	ps, err := ParseSchedule(spec)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}
	expr := ps.Expr()
	full := expr
	if tz != "" {
		full = "CRON_TZ=" + tz + " " + expr
	}
	sched, err := r.parser.Parse(full)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %q: %v", ErrInvalidSpec, spec, err)
	}
	return sched, expr, nil
}

// Schedule validates spec and registers fn under key, replacing any
// existing entry. Validation errors wrap ErrInvalidSpec and leave the
// registry untouched.
func (r *Registry) Schedule(key, spec, tz string, fn Func, opts ...Option) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("schedule key required")
	}
	if fn == nil {
		return errors.New("schedule func required")
	}
	sched, expr, err := r.parse(spec, tz)
	if err != nil {
		return err
	}
	e := &entry{key: key, kind: KindCustom, spec: expr, tz: strings.TrimSpace(tz), fn: fn, sched: sched}
	for _, o := range opts {
		o(e)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(key)
	e.id = r.c.Schedule(sched, cron.FuncJob(func() { r.fire(e) }))
	r.entries[key] = e
	metrics.ScheduledTasks.Set(float64(len(r.entries)))

	if r.log.Enabled(logx.LevelDebug) {
		r.log.Debug("schedule registered", logx.String("key", key), logx.String("kind", string(e.kind)),
			logx.String("spec", expr), logx.String("tz", e.tz), logx.Time("next", sched.Next(time.Now())))
	}
	return nil
}

// ScheduleAt registers a one-off entry firing at at. The entry removes
// itself before it runs, so it fires at most once.
func (r *Registry) ScheduleAt(key string, at time.Time, fn Func, opts ...Option) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("schedule key required")
	}
	if fn == nil {
		return errors.New("schedule func required")
	}
	if at.IsZero() {
		return errors.New("fire time required")
	}
	e := &entry{key: key, kind: KindReminder, at: at, fn: fn}
	for _, o := range opts {
		o(e)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(key)
	r.entries[key] = e
	if r.running {
		r.armLocked(e)
	}
	metrics.ScheduledTasks.Set(float64(len(r.entries)))
	r.log.Debug("one-off registered", logx.String("key", key), logx.Time("at", at))
	return nil
}

// Unschedule stops and removes key. It reports whether an entry existed.
func (r *Registry) Unschedule(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := r.removeLocked(strings.TrimSpace(key))
	if removed {
		metrics.ScheduledTasks.Set(float64(len(r.entries)))
		r.log.Debug("schedule removed", logx.String("key", key))
	}
	return removed
}

func (r *Registry) removeLocked(key string) bool {
	e, ok := r.entries[key]
	if !ok {
		return false
	}
	if e.id != 0 {
		r.c.Remove(e.id)
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	delete(r.entries, key)
	return true
}

func (r *Registry) armLocked(e *entry) {
	delay := time.Until(e.at)
	if delay < 0 {
		delay = 0
	}
	e.timer = time.AfterFunc(delay, func() { r.fireOnce(e) })
}

func (r *Registry) Has(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[key]
	return ok
}

// Keys returns the sorted keys of entries of kind k.
func (r *Registry) Keys(k Kind) []string {
	r.mu.Lock()
	out := make([]string, 0, len(r.entries))
	for key, e := range r.entries {
		if e.kind == k {
			out = append(out, key)
		}
	}
	r.mu.Unlock()
	sort.Strings(out)
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Tasks returns a snapshot of all entries sorted by key.
func (r *Registry) Tasks() []TaskInfo {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	running := r.running
	r.mu.Unlock()

	now := time.Now()
	out := make([]TaskInfo, 0, len(entries))
	for _, e := range entries {
		ti := TaskInfo{
			Key:         e.key,
			Kind:        e.kind,
			Spec:        e.spec,
			Timezone:    e.tz,
			Description: e.desc,
			Running:     e.active.Load() > 0,
			At:          e.at,
		}
		switch {
		case e.sched != nil:
			if running {
				ce := r.c.Entry(e.id)
				ti.Next, ti.Prev = ce.Next, ce.Prev
			}
			if ti.Next.IsZero() {
				ti.Next = e.sched.Next(now)
			}
		default:
			ti.Next = e.at
		}
		out = append(out, ti)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Start begins firing. ctx is the parent of inline runs.
func (r *Registry) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	if ctx != nil {
		r.ctx = ctx
	}
	r.running = true
	r.c.Start()
	for _, e := range r.entries {
		if e.sched == nil {
			r.armLocked(e)
		}
	}
	r.log.Info("registry started", logx.Int("entries", len(r.entries)))
}

// Stop halts firing and waits for in-flight cron callbacks until ctx is
// done. Entries are kept.
func (r *Registry) Stop(ctx context.Context) {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	for _, e := range r.entries {
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
	}
	stopped := r.c.Stop()
	r.mu.Unlock()

	select {
	case <-stopped.Done():
	case <-ctx.Done():
	}
	r.log.Info("registry stopped")
}

func (r *Registry) fire(e *entry) {
	r.mu.Lock()
	current := r.entries[e.key] == e
	r.mu.Unlock()
	if !current {
		return
	}
	r.dispatch(e)
}

func (r *Registry) fireOnce(e *entry) {
	r.mu.Lock()
	if r.entries[e.key] != e || !r.running {
		r.mu.Unlock()
		return
	}
	delete(r.entries, e.key)
	metrics.ScheduledTasks.Set(float64(len(r.entries)))
	r.mu.Unlock()
	r.dispatch(e)
}

func (r *Registry) dispatch(e *entry) {
	metrics.TriggersFired.WithLabelValues(string(e.kind)).Inc()
	run := func(ctx context.Context) error {
		e.active.Add(1)
		defer e.active.Add(-1)
		return e.fn(ctx)
	}

	if r.runner != nil {
		err := r.runner.Submit(executor.Task{Name: e.key, Timeout: e.timeout, Overlap: e.overlap, Run: run})
		if err != nil {
			r.reportEnqueueError(e.key, err)
		}
		return
	}

	r.mu.Lock()
	ctx := r.ctx
	r.mu.Unlock()
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("trigger panicked", logx.String("key", e.key), logx.Any("panic", rec), logx.Stack(string(debug.Stack())))
		}
	}()
	if err := run(ctx); err != nil {
		r.log.Warn("trigger failed", logx.String("key", e.key), logx.Err(err))
	}
}

const enqueueWarnThrottle = 5 * time.Second

func (r *Registry) reportEnqueueError(key string, err error) {
	// Overlap skips happen during normal operation.
	if errors.Is(err, executor.ErrOverlapSkip) {
		r.log.Debug("trigger skipped", logx.String("key", key), logx.Err(err))
		return
	}

	now := time.Now()
	r.enqMu.Lock()
	last := r.lastEnqWarn[key]
	if !last.IsZero() && now.Sub(last) < enqueueWarnThrottle {
		r.enqMu.Unlock()
		return
	}
	r.lastEnqWarn[key] = now
	r.enqMu.Unlock()

	r.log.Warn("trigger not enqueued", logx.String("key", key), logx.Err(err))
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Trace("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
