package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by mcwatch components.
const (
	TypeProbe      = "poller.probe"      // Data: ProbeResult
	TypeTransition = "poller.transition" // Data: roster.Event
	TypeSent       = "notifier.sent"     // Data: Delivery
	TypeFailed     = "notifier.failed"   // Data: Delivery
)

// Event is one in-process signal. Publish never blocks: a subscriber whose
// buffer is full misses the event and the bus counts the drop.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// ProbeResult describes one completed probe.
type ProbeResult struct {
	Address string
	OK      bool
	Players int
	Took    time.Duration
}

// Delivery describes one alert handed to one sink.
type Delivery struct {
	Sink  string
	Title string
	Error string
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
	// Dropped counts deliveries skipped because a subscriber was full.
	Dropped() uint64
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{}
}

type subscriber struct {
	id uint64
	ch chan Event
}

type memBus struct {
	mu      sync.RWMutex
	subs    []subscriber
	nextID  uint64
	dropped atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		select {
		case s.ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *memBus) Dropped() uint64 { return b.dropped.Load() }

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscriber{id: id, ch: ch})
	b.mu.Unlock()

	var once sync.Once
	return ch, func() { once.Do(func() { b.remove(id) }) }
}

// remove closes the subscriber's channel under the write lock, so no
// Publish can be sending to it.
func (b *memBus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			close(s.ch)
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Nop is a Bus that discards everything.
type Nop struct{}

func (Nop) Publish(Event)   {}
func (Nop) Dropped() uint64 { return 0 }
func (Nop) Subscribe(int) (<-chan Event, func()) {
	ch := make(chan Event)
	close(ch)
	return ch, func() {}
}
