// Package events provides a replay-buffered broadcast bus for session and
// service lifecycle events. Publishing never blocks and never fails the
// caller; consumers that attach slightly late still observe the most recent
// history through the replay ring.
package events

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultReplay is the default replay ring capacity.
const DefaultReplay = 10

// Bus fans events out to subscribers and keeps a fixed-capacity ring of
// recent events for replay. The ring drops its oldest entry on overflow,
// and each subscriber queue independently drops its oldest entry when full,
// favoring liveness over completeness.
type Bus struct {
	mu          sync.Mutex
	replay      int
	ring        []Event
	subscribers map[string]chan Event
}

// NewBus creates a bus with the given replay capacity.
func NewBus(replay int) *Bus {
	if replay <= 0 {
		replay = DefaultReplay
	}
	return &Bus{
		replay:      replay,
		ring:        make([]Event, 0, replay),
		subscribers: make(map[string]chan Event),
	}
}

// Publish appends the event to the replay ring and enqueues it to every
// subscriber. It stamps the event time if unset.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.ring) == b.replay {
		copy(b.ring, b.ring[1:])
		b.ring = b.ring[:b.replay-1]
	}
	b.ring = append(b.ring, ev)

	for id, ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
			// Queue full: drop the subscriber's oldest event to make room.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
				slog.Warn("event dropped: subscriber queue full",
					slog.String("subscriber", id), slog.String("event_type", string(ev.Type)))
			}
		}
	}
}

// Subscribe registers a subscriber and returns its queue, seeded with the
// replayed ring contents in publish order. The caller must call Unsubscribe
// with the same id to clean up.
func (b *Bus) Subscribe(id string, bufSize int) <-chan Event {
	if bufSize < b.replay {
		bufSize = b.replay
	}
	ch := make(chan Event, bufSize)

	b.mu.Lock()
	for _, ev := range b.ring {
		ch <- ev
	}
	b.subscribers[id] = ch
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its queue.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
}

// Recent returns a snapshot of the replay ring in publish order.
func (b *Bus) Recent() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.ring))
	copy(out, b.ring)
	return out
}
