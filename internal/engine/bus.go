package engine

import (
	"sync"

	"github.com/danmuck/earlink/internal/logging"
	"github.com/danmuck/earlink/internal/observability"
	"github.com/rs/zerolog"
)

// Listener receives device events on its own goroutine, in the order they
// were published for each device.
type Listener interface {
	OnDeviceEvent(Event)
}

type ListenerFunc func(Event)

func (f ListenerFunc) OnDeviceEvent(e Event) { f(e) }

type ListenerID uint64

// Subscription is a buffered event feed. C is closed by Close or when the
// engine stops.
type Subscription struct {
	C  <-chan Event
	id uint64
	b  *bus
}

func (s *Subscription) Close() {
	s.b.remove(s.id)
}

// bus fans events out to subscribers without blocking the publisher. A
// subscriber whose buffer is full misses the event.
type bus struct {
	log zerolog.Logger

	mu     sync.RWMutex
	next   uint64
	subs   map[uint64]chan Event
	closed bool
}

func newBus() *bus {
	return &bus{
		log:  logging.Component("bus"),
		subs: make(map[uint64]chan Event),
	}
}

// subscribe registers a feed and queues the events returned by replay
// ahead of any later publish.
func (b *bus) subscribe(buffer int, replay func() []Event) *Subscription {
	ch := make(chan Event, buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return &Subscription{C: ch, b: b}
	}
	b.next++
	id := b.next
	b.subs[id] = ch
	if replay != nil {
		for _, ev := range replay() {
			select {
			case ch <- ev:
			default:
			}
		}
	}
	return &Subscription{C: ch, id: id, b: b}
}

func (b *bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

func (b *bus) publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subs {
		select {
		case ch <- ev:
			observability.RecordEvent(string(ev.Kind()), true)
		default:
			observability.RecordEvent(string(ev.Kind()), false)
			b.log.Warn().
				Uint64("subscriber", id).
				Str("device", ev.Device()).
				Str("kind", string(ev.Kind())).
				Msg("bus: subscriber buffer full, event dropped")
		}
	}
}

func (b *bus) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
