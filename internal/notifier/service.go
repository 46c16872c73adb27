package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"mcwatch/internal/eventbus"
	"mcwatch/internal/storage"
	logx "mcwatch/pkg/logx"
)

var ErrNoSinks = errors.New("notifier: no sinks configured")

// Dispatcher fans an alert out to every sink, one at a time.
//
// It is safe for concurrent use, though the poll loop only ever calls it
// from one goroutine.
type Dispatcher struct {
	mu sync.Mutex

	log   logx.Logger
	bus   eventbus.Bus
	store storage.Store

	sinks   []Sink
	cfg     Config
	limiter *rate.Limiter

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, sinks []Sink, log logx.Logger, bus eventbus.Bus, store storage.Store) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	d := &Dispatcher{
		log:   log,
		bus:   bus,
		store: store,
		sinks: append([]Sink(nil), sinks...),
	}
	d.applyLocked(cfg)
	return d
}

func (d *Dispatcher) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		// Discord allows roughly 5 webhook posts per 2s per webhook.
		cfg.RatePerSec = 2
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 100
	}
	d.cfg = cfg
	// Token bucket: burst = rate per sec, so a join burst after a quiet
	// period is not throttled.
	d.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Apply swaps dispatcher tuning at runtime.
func (d *Dispatcher) Apply(cfg Config) {
	d.mu.Lock()
	d.applyLocked(cfg)
	d.mu.Unlock()
}

// Sinks returns the names of configured sinks.
func (d *Dispatcher) Sinks() []string {
	out := make([]string, 0, len(d.sinks))
	for _, s := range d.sinks {
		out = append(out, s.Name())
	}
	return out
}

// Dispatch sends a to every sink in order. Each sink is attempted exactly
// once; a failing sink does not prevent the others from being tried.
// The returned error joins every sink failure.
func (d *Dispatcher) Dispatch(ctx context.Context, a Alert) error {
	if len(d.sinks) == 0 {
		return ErrNoSinks
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now()
	}

	d.mu.Lock()
	lim := d.limiter
	timeout := d.cfg.SendTimeout
	d.mu.Unlock()

	var (
		errs   []error
		failed []string
	)
	for _, s := range d.sinks {
		if err := lim.Wait(ctx); err != nil {
			// Only cancellation gets here; stop without touching remaining sinks.
			errs = append(errs, err)
			break
		}

		callCtx, cancel := context.WithTimeout(ctx, timeout)
		start := time.Now()
		err := s.Send(callCtx, a)
		cancel()

		d.record(ctx, s.Name(), a, err)
		if err != nil {
			failed = append(failed, s.Name())
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			d.log.Error("alert delivery failed",
				logx.String("sink", s.Name()),
				logx.String("title", a.Title),
				logx.Duration("took", time.Since(start)),
				logx.Err(err),
			)
			continue
		}
		d.log.Debug("alert delivered",
			logx.String("sink", s.Name()),
			logx.String("title", a.Title),
			logx.Duration("took", time.Since(start)),
		)
	}

	d.appendHistory(a, failed)
	return errors.Join(errs...)
}

func (d *Dispatcher) record(ctx context.Context, sink string, a Alert, err error) {
	del := eventbus.Delivery{Sink: sink, Title: a.Title}
	typ := eventbus.TypeSent
	if err != nil {
		del.Error = err.Error()
		typ = eventbus.TypeFailed
	}
	d.bus.Publish(eventbus.Event{Type: typ, Data: del})

	if d.store == nil {
		return
	}
	rec := storage.AlertRecord{
		At:          a.Timestamp,
		Sink:        sink,
		Title:       a.Title,
		Description: a.Description,
		Color:       a.Color.String(),
		Footer:      a.Footer,
		Error:       del.Error,
	}
	// Journal writes are best-effort and must not hold up the next sink.
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	if jerr := d.store.AppendAlert(sctx, rec); jerr != nil {
		d.log.Warn("alert journal append failed", logx.String("sink", sink), logx.Err(jerr))
	}
}

// Snapshot returns recently dispatched alerts, oldest first.
func (d *Dispatcher) Snapshot() []HistoryItem {
	d.hmu.Lock()
	out := append([]HistoryItem(nil), d.history...)
	d.hmu.Unlock()
	return out
}

func (d *Dispatcher) appendHistory(a Alert, failed []string) {
	d.mu.Lock()
	limit := d.cfg.HistorySize
	d.mu.Unlock()

	d.hmu.Lock()
	d.history = append(d.history, HistoryItem{At: a.Timestamp, Title: a.Title, Text: a.Description, Failed: failed})
	if len(d.history) > limit {
		d.history = d.history[len(d.history)-limit:]
	}
	d.hmu.Unlock()
}
