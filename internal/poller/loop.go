// Package poller drives the probe -> step -> notify -> sleep cycle.
//
// The loop is strictly sequential: one probe at a time, events delivered in
// the order the tracker produced them, then a sleep until the next tick of
// the schedule. It is the only owner of roster.State.
package poller

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"mcwatch/internal/alert"
	"mcwatch/internal/eventbus"
	"mcwatch/internal/notifier"
	"mcwatch/internal/probe"
	"mcwatch/internal/roster"
	logx "mcwatch/pkg/logx"
)

const DefaultProbeTimeout = 30 * time.Second

// Dispatcher delivers one alert to every configured sink.
type Dispatcher interface {
	Dispatch(ctx context.Context, a notifier.Alert) error
}

type Config struct {
	Address string
	// Game names the server's game in alert text. Zero means alert.Minecraft.
	Game         alert.Game
	ProbeTimeout time.Duration
	// Schedule decides when the next cycle starts. nil means DefaultInterval.
	Schedule cron.Schedule
	// ScheduleSpec is the human-readable form of Schedule, for logs and status.
	ScheduleSpec string
}

// Status is the read-only view of the loop published after every cycle.
type Status struct {
	Address   string          `json:"address"`
	Schedule  string          `json:"schedule"`
	State     roster.Snapshot `json:"state"`
	Cycles    uint64          `json:"cycles"`
	LastProbe time.Time       `json:"last_probe,omitempty"`
	LastError string          `json:"last_error,omitempty"`
	NextProbe time.Time       `json:"next_probe,omitempty"`
}

// Loop owns the tracker state for one monitored server.
type Loop struct {
	cfg   Config
	probe probe.Probe
	disp  Dispatcher
	log   logx.Logger
	bus   eventbus.Bus
	now   func() time.Time

	state   roster.State
	cycles  uint64
	timeout atomic.Int64

	mu       sync.Mutex
	schedule cron.Schedule
	spec     string
	wake     chan struct{}

	status atomic.Pointer[Status]
}

func New(cfg Config, p probe.Probe, d Dispatcher, log logx.Logger, bus eventbus.Bus) *Loop {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.Game == (alert.Game{}) {
		cfg.Game = alert.Minecraft
	}
	if cfg.Schedule == nil {
		cfg.Schedule = Every(DefaultInterval)
		if cfg.ScheduleSpec == "" {
			cfg.ScheduleSpec = DefaultInterval.String()
		}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	l := &Loop{
		cfg:      cfg,
		probe:    p,
		disp:     d,
		log:      log.With(logx.String("comp", "poller")),
		bus:      bus,
		now:      time.Now,
		schedule: cfg.Schedule,
		spec:     cfg.ScheduleSpec,
		wake:     make(chan struct{}, 1),
	}
	l.timeout.Store(int64(cfg.ProbeTimeout))
	l.publish("", time.Time{})
	return l
}

// SetSchedule replaces the schedule. A pending sleep is recomputed against
// the new schedule.
func (l *Loop) SetSchedule(sch cron.Schedule, spec string) {
	if sch == nil {
		return
	}
	l.mu.Lock()
	l.schedule = sch
	l.spec = spec
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// SetProbeTimeout bounds later probes. d <= 0 is ignored.
func (l *Loop) SetProbeTimeout(d time.Duration) {
	if d > 0 {
		l.timeout.Store(int64(d))
	}
}

func (l *Loop) currentSchedule() (cron.Schedule, string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.schedule, l.spec
}

// Status returns the last published status. Safe from any goroutine.
func (l *Loop) Status() Status {
	if s := l.status.Load(); s != nil {
		return *s
	}
	return Status{}
}

// Run polls until ctx is cancelled. Every call starts from a fresh state, so
// a restarted loop re-baselines instead of trusting a roster it may have
// half-processed.
func (l *Loop) Run(ctx context.Context) error {
	l.state = roster.State{}
	_, spec := l.currentSchedule()
	l.log.Info("watching server",
		logx.String("address", l.cfg.Address),
		logx.String("schedule", spec),
		logx.Duration("probe_timeout", time.Duration(l.timeout.Load())),
	)
	for {
		l.Cycle(ctx)
		if err := l.sleep(ctx); err != nil {
			return err
		}
	}
}

func (l *Loop) sleep(ctx context.Context) error {
	for {
		sch, _ := l.currentSchedule()
		next := sch.Next(l.now())
		l.publishNext(next)
		t := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-l.wake:
			t.Stop()
			continue
		case <-t.C:
			return nil
		}
	}
}

// Cycle runs one probe, feeds the tracker and delivers the resulting alerts.
// It returns the events produced. A cycle interrupted by ctx leaves the
// state untouched and returns nil.
func (l *Loop) Cycle(ctx context.Context) []roster.Event {
	start := l.now()
	pctx, cancel := context.WithTimeout(ctx, time.Duration(l.timeout.Load()))
	players, err := l.probe.Probe(pctx, l.cfg.Address)
	cancel()
	took := l.now().Sub(start)
	if ctx.Err() != nil {
		// Shutting down: the probe was cut short by us, not by the server.
		return nil
	}

	var out roster.Outcome
	if err != nil {
		err = fmt.Errorf("probe %s: %w", l.cfg.Address, err)
		out = roster.Failure(err)
	} else {
		out = roster.Success(players)
	}

	prev := l.state
	events, next := roster.Step(out, prev)
	l.state = next
	l.cycles++

	l.bus.Publish(eventbus.Event{Type: eventbus.TypeProbe, Time: start, Data: eventbus.ProbeResult{
		Address: l.cfg.Address,
		OK:      out.OK(),
		Players: next.LastRoster.Len(),
		Took:    took,
	}})
	lastErr := ""
	if err != nil {
		lastErr = err.Error()
	}
	l.publish(lastErr, start)
	l.logCycle(out, prev, next, events)

	// State has already advanced, so every event of this cycle is delivered
	// even if shutdown starts meanwhile. Each send stays bounded by the
	// dispatcher's send timeout.
	dctx := context.WithoutCancel(ctx)
	at := l.now()
	for _, ev := range events {
		l.bus.Publish(eventbus.Event{Type: eventbus.TypeTransition, Time: at, Data: ev})
		if l.disp == nil {
			continue
		}
		if derr := l.disp.Dispatch(dctx, alert.Render(ev, l.cfg.Game, l.cfg.Address, at)); derr != nil {
			l.log.Warn("alert not delivered to every sink", logx.String("event", ev.String()), logx.Err(derr))
		}
	}
	return events
}

func (l *Loop) logCycle(out roster.Outcome, prev, next roster.State, events []roster.Event) {
	if !out.OK() {
		l.log.Error("status probe failed", logx.Err(out.Err))
	}
	for _, ev := range events {
		switch ev.Kind {
		case roster.ServerDown:
			l.log.Warn("server went offline", logx.String("address", l.cfg.Address))
		case roster.ServerUp:
			l.log.Warn("server is back online", logx.String("address", l.cfg.Address))
		case roster.PlayerJoined:
			l.log.Info("player joined", logx.String("player", ev.Player))
		case roster.PlayerLeft:
			l.log.Info("player left", logx.String("player", ev.Player))
		}
	}
	if !out.OK() {
		return
	}
	if !prev.HasBaseline() {
		l.log.Info("initial roster", logx.Strings("players", next.LastRoster.Sorted()))
		return
	}
	if next.LastRoster.Equal(prev.LastRoster) {
		l.log.Info("no player joined or left", logx.Int("online", next.LastRoster.Len()))
	}
}

func (l *Loop) publish(lastErr string, at time.Time) {
	_, spec := l.currentSchedule()
	var nextProbe time.Time
	if cur := l.status.Load(); cur != nil {
		nextProbe = cur.NextProbe
	}
	l.status.Store(&Status{
		Address:   l.cfg.Address,
		Schedule:  spec,
		State:     l.state.Snapshot(),
		Cycles:    l.cycles,
		LastProbe: at,
		LastError: lastErr,
		NextProbe: nextProbe,
	})
}

func (l *Loop) publishNext(next time.Time) {
	cur := l.Status()
	cur.NextProbe = next
	_, cur.Schedule = l.currentSchedule()
	l.status.Store(&cur)
}
