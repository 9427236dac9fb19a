package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"leaguebot/internal/admin"
	"leaguebot/internal/config"
	"leaguebot/internal/delivery"
	"leaguebot/internal/eventbus"
	"leaguebot/internal/executor"
	"leaguebot/internal/platform"
	"leaguebot/internal/queue"
	"leaguebot/internal/runtime/supervisor"
	"leaguebot/internal/scheduler"
	"leaguebot/internal/storage"
	"leaguebot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store        storage.Store
	ledgerCloser io.Closer

	messenger      platform.Messenger
	messengerClose io.Closer

	delivery *delivery.Service
	queue    *queue.Service
	exec     *executor.Service
	sched    *scheduler.Service
	admin    *admin.Server

	unsubs    []func()
	startedAt time.Time
}

type Option func(*options)

type options struct {
	messenger platform.Messenger
}

// WithMessenger replaces the configured platform adapter.
func WithMessenger(m platform.Messenger) Option {
	return func(o *options) { o.messenger = m }
}

// New loads cfgPath and wires every component. Nothing runs until Start.
func New(ctx context.Context, cfgPath string, opts ...Option) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	return build(ctx, cfgm, cfg, opts...)
}

func build(ctx context.Context, cfgm *config.Manager, cfg *config.Config, opts ...Option) (a *App, err error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	var closers []io.Closer
	defer func() {
		if err != nil {
			for i := len(closers) - 1; i >= 0; i-- {
				_ = closers[i].Close()
			}
		}
	}()

	// Platform adapters log through a console logger until logx is up.
	bootLog := logx.NewConsole(cfg.Logging.Level)
	messenger, messengerClose := o.messenger, io.Closer(nil)
	if messenger == nil {
		messenger, messengerClose, err = openMessenger(cfg, bootLog)
		if err != nil {
			return nil, err
		}
		if messengerClose != nil {
			closers = append(closers, messengerClose)
		}
	}

	logSvc, log := logx.New(mapLogConfig(cfg), messenger)
	closers = append(closers, logSvc)

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(ctx, sc, log)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	closers = append(closers, store)

	lc, err := mapLedgerConfig(cfg)
	if err != nil {
		return nil, err
	}
	ledger, ledgerCloser, err := storage.OpenLedger(ctx, lc, store, log)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	closers = append(closers, ledgerCloser)

	dcfg, err := mapDeliveryConfig(cfg)
	if err != nil {
		return nil, err
	}
	ecfg, err := mapExecutorConfig(cfg)
	if err != nil {
		return nil, err
	}
	scfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	acfg, err := mapAdminConfig(cfg)
	if err != nil {
		return nil, err
	}

	bus := eventbus.New(eventbus.WithLogger(log))
	deliverySvc := delivery.New(dcfg, messenger, ledger, bus, log)
	queueSvc := queue.New(mapQueueConfig(cfg), store, deliverySvc, log)
	execSvc := executor.New(ecfg, log)
	schedSvc := scheduler.New(scfg, store, bus, execSvc, log)
	if err := schedSvc.Validate(scfg); err != nil {
		return nil, err
	}

	a = &App{
		cfgm:           cfgm,
		log:            log.With(logx.Component("app")),
		logs:           logSvc,
		bus:            bus,
		store:          store,
		ledgerCloser:   ledgerCloser,
		messenger:      messenger,
		messengerClose: messengerClose,
		delivery:       deliverySvc,
		queue:          queueSvc,
		exec:           execSvc,
		sched:          schedSvc,
	}
	a.admin = admin.New(acfg, admin.Deps{
		Queue:     queueSvc,
		Scheduler: schedSvc,
		Runs:      store,
		Status:    a.status,
	}, log)
	return a, nil
}

func (a *App) Scheduler() *scheduler.Service { return a.sched }
func (a *App) Queue() *queue.Service         { return a.queue }
func (a *App) Delivery() *delivery.Service   { return a.delivery }
func (a *App) Bus() eventbus.Bus             { return a.bus }
func (a *App) Store() storage.Store          { return a.store }
func (a *App) Admin() *admin.Server          { return a.admin }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.startedAt = time.Now()

	// transactional config reload: validate before commit/publish
	if a.cfgm != nil {
		a.cfgm.SetLogger(a.logs.Logger().With(logx.Component("config")))
		a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
			return a.validate(cfg)
		})
	}

	a.unsubs = append(a.unsubs, a.bus.Subscribe(eventbus.ContentPosterDue, a.queue.HandleContentPosterDue))

	a.exec.Start(a.sup.Context())
	if err := a.sched.Start(a.sup.Context()); err != nil {
		return err
	}
	a.admin.Start(a.sup.Context())

	// Debug-level event trace; components subscribe for themselves.
	events, untap := a.bus.Tap(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer untap()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("name", e.Name), logx.Time("time", e.Time))
			}
		}
	})

	if a.cfgm != nil {
		sub := a.cfgm.Subscribe(8)
		a.sup.Go0("config.reload", func(c context.Context) { a.reloadLoop(c, sub) })
		a.sup.Go("config.watch", func(c context.Context) error {
			return a.cfgm.Watch(c)
		})
	}

	sdNotify(a.log, sdReady)
	a.log.Info("app started")
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.closeResources()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	sdNotify(a.log, sdStopping)

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	for _, u := range a.unsubs {
		u()
	}
	a.unsubs = nil

	// Triggers first so nothing new is submitted, then the pool drains.
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("executor", 3*time.Second, func(c context.Context) error { a.exec.Stop(c); return nil })
	step("admin", 2*time.Second, func(c context.Context) error { a.admin.Stop(c); return nil })
	step("supervisor", 2*time.Second, func(c context.Context) error {
		if err := a.sup.Wait(c); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	a.log.Info("stopped")
	return a.closeResources()
}

func (a *App) closeResources() error {
	var errs []error
	if a.ledgerCloser != nil {
		errs = append(errs, a.ledgerCloser.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.messengerClose != nil {
		errs = append(errs, a.messengerClose.Close())
	}
	if a.logs != nil {
		errs = append(errs, a.logs.Close())
	}
	return errors.Join(errs...)
}

type status struct {
	Uptime          string              `json:"uptime"`
	SchedulerOn     bool                `json:"scheduler_enabled"`
	Entries         int                 `json:"entries"`
	Executor        executor.Snapshot   `json:"executor"`
	Supervisor      supervisor.Snapshot `json:"supervisor"`
	DeliveriesInUse int                 `json:"deliveries_in_window"`
}

func (a *App) status() any {
	st := status{
		SchedulerOn:     a.sched.Enabled(),
		Entries:         a.sched.Registry().Len(),
		Executor:        a.exec.Snapshot(),
		DeliveriesInUse: a.delivery.Limiter().InUse(),
	}
	if !a.startedAt.IsZero() {
		st.Uptime = time.Since(a.startedAt).Truncate(time.Second).String()
	}
	if a.sup != nil {
		st.Supervisor = a.sup.Snapshot()
	}
	return st
}
