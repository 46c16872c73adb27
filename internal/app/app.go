package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"mcwatch/internal/config"
	"mcwatch/internal/eventbus"
	"mcwatch/internal/notifier"
	"mcwatch/internal/observability/ops"
	"mcwatch/internal/poller"
	"mcwatch/internal/probe"
	"mcwatch/internal/runtime/supervisor"
	"mcwatch/internal/storage"
	"mcwatch/internal/telemetry"
	logx "mcwatch/pkg/logx"
)

// Version is stamped at build time with -ldflags "-X mcwatch/internal/app.Version=...".
var Version = "dev"

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	disp    *notifier.Dispatcher
	loop    *poller.Loop
	metrics *telemetry.Metrics
	ops     *ops.Server

	started time.Time
}

// NewApp loads the configuration and builds every component. Nothing runs
// until Start.
func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	return newApp(cfgm, cfg)
}

func newApp(cfgm *config.Manager, cfg *config.Config) (a *App, err error) {
	logs, log := logx.New(mapLogging(cfg))
	defer func() {
		if err != nil {
			_ = logs.Close()
		}
	}()
	bus := eventbus.New()

	scfg, enabled, err := mapStorage(cfg)
	if err != nil {
		return nil, err
	}
	var store storage.Store
	if enabled {
		store, err = storage.Open(scfg, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
	}
	defer func() {
		if err != nil && store != nil {
			_ = store.Close()
		}
	}()

	sinks, err := buildSinks(cfg)
	if err != nil {
		return nil, err
	}
	ncfg, err := mapNotifier(cfg)
	if err != nil {
		return nil, err
	}
	disp := notifier.New(ncfg, sinks, log.With(logx.String("comp", "notifier")), bus, store)

	prb, err := probe.New(cfg.Server.Kind)
	if err != nil {
		return nil, err
	}
	pcfg, err := mapPoller(cfg)
	if err != nil {
		return nil, err
	}
	loop := poller.New(pcfg, prb, disp, log, bus)

	metrics := telemetry.New()
	metrics.SetBuildInfo(Version)
	metrics.TrackBus(bus)

	a = &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logs,
		bus:     bus,
		store:   store,
		disp:    disp,
		loop:    loop,
		metrics: metrics,
	}

	if cfg.Ops.Enabled {
		ocfg, err := mapOps(cfg)
		if err != nil {
			return nil, err
		}
		a.ops = ops.New(ocfg, ops.Sources{
			Health:  a.Health,
			Status:  func() any { return a.Status() },
			History: func() any { return a.disp.Snapshot() },
			Journal: store,
			Metrics: metrics.Handler(),
		}, log)
	}
	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first error recorded by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// StatusDoc is served at /status.
type StatusDoc struct {
	Version    string             `json:"version"`
	Uptime     string             `json:"uptime"`
	Poller     poller.Status      `json:"poller"`
	Sinks      []string           `json:"sinks"`
	Goroutines []supervisor.Stats `json:"goroutines,omitempty"`
}

func (a *App) Status() StatusDoc {
	doc := StatusDoc{
		Version: Version,
		Poller:  a.loop.Status(),
		Sinks:   a.disp.Sinks(),
	}
	if !a.started.IsZero() {
		doc.Uptime = time.Since(a.started).Truncate(time.Second).String()
	}
	if a.sup != nil {
		doc.Goroutines = a.sup.Snapshot()
	}
	return doc
}

// Health reports nil while the poll loop is running.
func (a *App) Health() error {
	if a.sup == nil {
		return errors.New("not started")
	}
	if a.sup.Context().Err() != nil {
		return errors.New("stopping")
	}
	for _, st := range a.sup.Snapshot() {
		if st.Name == "poller" {
			if st.Active > 0 {
				return nil
			}
			if st.LastErr != "" {
				return fmt.Errorf("poller not running: %s", st.LastErr)
			}
		}
	}
	return errors.New("poller not running")
}

func (a *App) Start(ctx context.Context) error {
	a.started = time.Now()
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log)
	// transactional config reload: validate before commit/publish
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapPoller(cfg); err != nil {
			return err
		}
		if _, err := mapNotifier(cfg); err != nil {
			return err
		}
		if _, err := probe.New(cfg.Server.Kind); err != nil {
			return err
		}
		_, _, err := mapStorage(cfg)
		return err
	})

	// The loop never returns on its own; an exit means a panic. Restart it
	// from a fresh baseline and surface the failure in /healthz.
	a.sup.GoRestart("poller", a.loop.Run,
		supervisor.WithRestartBackoff(time.Second, 30*time.Second),
		supervisor.WithPublishFirstError(true),
		supervisor.WithStopOnCleanExit(false),
	)
	a.sup.Go("telemetry", func(c context.Context) error {
		return a.metrics.Consume(c, a.bus)
	})
	a.sup.Go("eventbus.log", a.logEvents)
	if a.ops != nil {
		a.sup.GoRestart("ops.http", a.ops.Run, supervisor.WithRestartBackoff(500*time.Millisecond, 10*time.Second))
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
		return nil
	})
	if a.cfgm.Path() != "" {
		a.sup.Go("config.watch", a.cfgm.Watch)
	}

	sdNotify(a.log, sdReady)
	a.sup.Go("systemd.watchdog", a.watchdog)

	a.log.Info("app started",
		logx.String("version", Version),
		logx.Strings("sinks", a.disp.Sinks()),
	)
	return nil
}

// logEvents mirrors bus traffic at debug level.
func (a *App) logEvents(ctx context.Context) error {
	events, unsub := a.bus.Subscribe(128)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
		}
	}
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
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
			a.applyConfig(lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

// applyConfig pushes the live sections of newCfg into running components.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	ch := config.SummarizeChange(oldCfg, newCfg)
	if ch.Empty() {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if len(ch.NeedsRestart) > 0 {
		a.log.Warn("config sections changed; restart required for them to take effect",
			logx.String("sections", strings.Join(ch.NeedsRestart, ",")))
	}

	a.logs.Apply(mapLogging(newCfg))

	if pcfg, err := mapPoller(newCfg); err != nil {
		a.log.Warn("invalid poll config; keeping previous", logx.Err(err))
	} else {
		a.loop.SetSchedule(pcfg.Schedule, pcfg.ScheduleSpec)
		a.loop.SetProbeTimeout(pcfg.ProbeTimeout)
	}

	if ncfg, err := mapNotifier(newCfg); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		a.disp.Apply(ncfg)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.closeResources()
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	sdNotify(a.log, sdStopping)

	// Cancel first so every loop starts unwinding immediately.
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if dl, ok := ctx.Deadline(); !ok || time.Until(dl) > max {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
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
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	// The poller may be mid-delivery; give it time to finish the current alert.
	step("supervisor", 5*time.Second, func(c context.Context) error {
		err := a.sup.Wait(c)
		if errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return nil
	})
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func (a *App) closeResources() {
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
}
