// Package app wires configuration, delivery, the trigger gateway, the
// scheduler and the HTTP surface into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"

	"pushcron/internal/config"
	"pushcron/internal/delivery"
	"pushcron/internal/dispatch"
	"pushcron/internal/eventbus"
	"pushcron/internal/httpapi"
	"pushcron/internal/observability"
	"pushcron/internal/registry"
	rtsup "pushcron/internal/runtime/supervisor"
	"pushcron/internal/storage"
	"pushcron/internal/task/engine"
	"pushcron/internal/task/scheduler"
	"pushcron/internal/trigger"
	logx "pushcron/pkg/logx"
)

// Version is stamped into Sentry events and the startup log.
var Version = "dev"

type options struct {
	provider        delivery.Provider
	sentryTransport sentry.Transport
	watch           bool
}

type Option func(*options)

// WithProvider replaces the configured delivery driver.
func WithProvider(p delivery.Provider) Option { return func(o *options) { o.provider = p } }

// WithSentryTransport replaces the Sentry HTTP transport.
func WithSentryTransport(t sentry.Transport) Option {
	return func(o *options) { o.sentryTransport = t }
}

// WithoutWatch disables config file watching.
func WithoutWatch() Option { return func(o *options) { o.watch = false } }

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor
	opts options

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	provider delivery.Provider
	reg      *registry.Registry
	jobErrs  []error
	gateway  *trigger.Gateway

	engine *engine.Service
	sched  *scheduler.Service
	http   *httpapi.Server

	metrics *observability.Metrics
	sentry  *observability.Sentry
}

// New loads cfgPath and builds every component. Nothing runs until Start.
// Broken job rows are logged and skipped; broken process-wide settings fail.
func New(ctx context.Context, cfgPath string, opts ...Option) (*App, error) {
	o := options{watch: true}
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogging(cfg.Logging))
	a := &App{
		cfgm: cfgm,
		opts: o,
		log:  log.With(logx.String("comp", "app")),
		logs: logSvc,
		bus:  eventbus.New(),
	}
	if err := a.build(ctx, cfg, log); err != nil {
		a.closeAll(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, cfg *config.Config, log logx.Logger) error {
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return err
		}
		a.store = st
		a.log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	a.reg, a.jobErrs = registry.Load(cfg)
	for _, err := range a.jobErrs {
		a.log.Warn("❌ job skipped", logx.Err(err))
	}
	a.log.Info("jobs loaded", logx.Int("jobs", a.reg.Len()), logx.Int("skipped", len(a.jobErrs)))

	if a.opts.provider != nil {
		a.provider = a.opts.provider
	} else {
		p, err := delivery.Open(ctx, cfg.Delivery, log.With(logx.String("comp", "delivery")))
		if err != nil {
			return err
		}
		a.provider = p
	}
	disp := dispatch.NewDispatcher(a.provider,
		dispatch.WithSendTimeout(cfg.Delivery.SendTimeout()),
		dispatch.WithDispatchLogger(log.With(logx.String("comp", "dispatch"))),
	)

	customPolicy, err := dispatch.NewCallerSuppliedPolicy(cfg.Custom.Channel(), cfg.Custom.Prefix())
	if err != nil {
		return &dispatch.ConfigurationError{Job: trigger.CustomJobName, Field: "custom", Err: err}
	}

	a.metrics = observability.NewMetrics()
	gwOpts := []trigger.Option{
		trigger.WithLogger(log.With(logx.String("comp", "trigger"))),
		trigger.WithCustomPolicy(customPolicy),
		trigger.WithObserver(a.metrics),
		trigger.WithObserver(observability.BusObserver{Bus: a.bus}),
	}
	if sc := cfg.Sentry; (sc != nil && strings.TrimSpace(sc.DSN) != "") || a.opts.sentryTransport != nil {
		so := observability.SentryOptions{Release: "pushcron@" + Version, Transport: a.opts.sentryTransport}
		if sc != nil {
			so.DSN, so.Environment, so.SampleRate = sc.DSN, sc.Environment, sc.SampleRate
		}
		s, err := observability.NewSentry(so)
		if err != nil {
			return err
		}
		a.sentry = s
		gwOpts = append(gwOpts, trigger.WithObserver(s))
	}
	a.gateway = trigger.New(a.reg, disp, gwOpts...)

	es, err := mapTaskEngineConfig(cfg)
	if err != nil {
		return err
	}
	a.engine = engine.New(es.cfg, log.With(logx.String("comp", "taskengine")), a.bus)
	a.sched = scheduler.New(scheduler.Config{Enabled: cfg.Scheduler.Enabled}, a.engine, log.With(logx.String("comp", "scheduler")))
	for _, j := range a.reg.Scheduled() {
		if err := a.sched.Add(j.Name, j.Rule, 0, es.taskOptions(), a.gateway.ScheduledTask(j.Name)); err != nil {
			return fmt.Errorf("schedule %q: %w", j.Name, err)
		}
	}
	a.metrics.WatchEngine(a.engine.Snapshot)

	if cfg.HTTP.Enabled {
		srv, err := httpapi.New(cfg.HTTP, cfg.Custom, httpapi.Deps{
			Gateway:   a.gateway,
			Schedules: a.sched.Snapshot,
			Audit:     a.store,
			Metrics:   a.metrics,
			Log:       log,
		})
		if err != nil {
			return err
		}
		a.http = srv
	}
	return nil
}

func (a *App) Log() logx.Logger              { return a.log }
func (a *App) Gateway() *trigger.Gateway     { return a.gateway }
func (a *App) Registry() *registry.Registry  { return a.reg }
func (a *App) Scheduler() *scheduler.Service { return a.sched }
func (a *App) HTTP() *httpapi.Server         { return a.http }

// JobErrors returns the configuration errors of the skipped job rows.
func (a *App) JobErrors() []error { return a.jobErrs }

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
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return config.Validate(cfg)
	})

	if a.engine.Enabled() {
		a.engine.Start(a.sup.Context())
	}
	if a.sched.Enabled() {
		a.sched.Start(a.sup.Context())
	} else {
		a.log.Info("scheduler disabled; only direct triggers are served")
	}
	if a.http != nil {
		if err := a.http.Start(a.sup.Context()); err != nil {
			return err
		}
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	if a.opts.watch {
		sub := a.cfgm.Subscribe(8)
		a.sup.Go0("config.reload", func(c context.Context) {
			defer a.cfgm.Unsubscribe(sub)
			a.reloadLoop(c, sub)
		})
		a.sup.Go("config.watch", func(c context.Context) error {
			return a.cfgm.Watch(c)
		})
	}

	a.log.Info("app started", logx.String("version", Version), logx.Int("jobs", a.reg.Len()))
	return nil
}

// reloadLoop applies logging changes live. Everything else is read once at
// startup, so other sections only produce a restart warning.
func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}

			ch := config.SummarizeConfigChange(lastApplied, newCfg)
			lastApplied = newCfg
			if ch.Empty() {
				a.log.Info("config reloaded (no changes)")
				continue
			}
			a.logs.Apply(mapLogging(newCfg.Logging))
			if len(ch.RestartRequired) > 0 {
				a.log.Warn("config sections changed; restart required for changes to take effect",
					logx.Strings("sections", ch.RestartRequired))
			}
			fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Attrs...)
			a.log.Info("config reloaded", fields...)
		}
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.closeAll(ctx)
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// In-flight requests and firings drain before the supervisor context
	// is canceled; a send either completes or the stop deadline passes.
	step := a.stepper(ctx)
	step("http", 3*time.Second, func(c context.Context) error {
		if a.http != nil {
			a.http.Stop(c)
		}
		return nil
	})
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("taskengine", 5*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	a.sup.Cancel()
	a.closeSteps(step)
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// closeAll releases what New acquired when the app never started.
func (a *App) closeAll(ctx context.Context) {
	a.closeSteps(a.stepper(ctx))
	if a.logs != nil {
		_ = a.logs.Close()
	}
}

func (a *App) closeSteps(step func(string, time.Duration, func(context.Context) error)) {
	step("delivery", 2*time.Second, func(c context.Context) error {
		if a.provider != nil {
			return a.provider.Close(c)
		}
		return nil
	})
	step("sentry", 2*time.Second, func(c context.Context) error {
		if a.sentry != nil {
			wait := 2 * time.Second
			if dl, ok := c.Deadline(); ok {
				wait = time.Until(dl)
			}
			if !a.sentry.Flush(wait) {
				return errors.New("sentry flush timed out")
			}
		}
		return nil
	})
	step("storage", time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
}

// stepper returns a helper that runs one shutdown step bounded by max and by
// the caller's deadline. A step that overruns is logged and left behind.
func (a *App) stepper(ctx context.Context) func(name string, max time.Duration, fn func(context.Context) error) {
	return func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			max = min(max, time.Until(dl))
		}
		if max <= 0 {
			a.log.Warn("stop step skipped: deadline reached", logx.String("name", name))
			return
		}
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

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
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}
}
