package notifier

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"mcwatch/internal/eventbus"
	"mcwatch/internal/storage"
	logx "mcwatch/pkg/logx"
)

type fakeSink struct {
	name string
	err  error

	mu   sync.Mutex
	sent []Alert
}

func (f *fakeSink) Name() string { return f.name }

func (f *fakeSink) Send(ctx context.Context, a Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, a)
	return f.err
}

type memStore struct {
	recs []storage.AlertRecord
}

func (m *memStore) AppendAlert(ctx context.Context, r storage.AlertRecord) error {
	m.recs = append(m.recs, r)
	return nil
}
func (m *memStore) RecentAlerts(ctx context.Context, limit int) ([]storage.AlertRecord, error) {
	return m.recs, nil
}
func (m *memStore) Close() error { return nil }

func TestDispatchAttemptsEverySinkOnce(t *testing.T) {
	bad := &fakeSink{name: "discord", err: errors.New("status 500")}
	good := &fakeSink{name: "telegram"}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()
	store := &memStore{}

	d := New(Config{RatePerSec: 100}, []Sink{bad, good}, logx.Nop(), bus, store)
	err := d.Dispatch(context.Background(), Alert{Title: "Player Joined", Color: Positive})

	if err == nil || !strings.Contains(err.Error(), "discord: status 500") {
		t.Fatalf("Dispatch error = %v, want discord failure", err)
	}
	if len(bad.sent) != 1 || len(good.sent) != 1 {
		t.Fatalf("sends: bad=%d good=%d, want exactly one each", len(bad.sent), len(good.sent))
	}
	if good.sent[0].Timestamp.IsZero() {
		t.Fatal("dispatcher should stamp alerts without a timestamp")
	}

	if e := <-events; e.Type != eventbus.TypeFailed {
		t.Fatalf("first bus event = %q, want failed", e.Type)
	}
	if e := <-events; e.Type != eventbus.TypeSent {
		t.Fatalf("second bus event = %q, want sent", e.Type)
	}

	if len(store.recs) != 2 || store.recs[0].Delivered() || !store.recs[1].Delivered() {
		t.Fatalf("journal = %+v", store.recs)
	}

	hist := d.Snapshot()
	if len(hist) != 1 || len(hist[0].Failed) != 1 || hist[0].Failed[0] != "discord" {
		t.Fatalf("history = %+v", hist)
	}
}

func TestDispatchNoSinks(t *testing.T) {
	d := New(Config{}, nil, logx.Logger{}, nil, nil)
	if err := d.Dispatch(context.Background(), Alert{Title: "x"}); !errors.Is(err, ErrNoSinks) {
		t.Fatalf("err = %v, want ErrNoSinks", err)
	}
}

func TestDispatchCancelled(t *testing.T) {
	s := &fakeSink{name: "discord"}
	d := New(Config{RatePerSec: 1}, []Sink{s}, logx.Nop(), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := d.Dispatch(ctx, Alert{Title: "x"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(s.sent) != 0 {
		t.Fatalf("sink called after cancellation: %d", len(s.sent))
	}
}

func TestHistoryIsBounded(t *testing.T) {
	s := &fakeSink{name: "discord"}
	d := New(Config{RatePerSec: 1000, HistorySize: 3}, []Sink{s}, logx.Nop(), nil, nil)
	for i := 0; i < 5; i++ {
		_ = d.Dispatch(context.Background(), Alert{Title: string(rune('a' + i))})
	}
	hist := d.Snapshot()
	if len(hist) != 3 || hist[0].Title != "c" || hist[2].Title != "e" {
		t.Fatalf("history = %+v", hist)
	}
}
