package httpstream

import (
	"context"
	"errors"
	"sync"

	"github.com/spoonai/stream-sdk-go/events"
)

// ErrBroadcasterClosed reports a publish against a closed broadcaster.
var ErrBroadcasterClosed = errors.New("broadcaster closed")

// Broadcaster fans one envelope stream out to any number of watchers.
// Delivery is non-blocking: a watcher that stops draining loses
// envelopes instead of stalling the producer. It implements
// events.Sink.
type Broadcaster struct {
	mu       sync.RWMutex
	nextID   int
	buffer   int
	closed   bool
	watchers map[int]chan events.Envelope
}

// NewBroadcaster sets the per-watcher buffer. Values below one fall
// back to 64.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = 64
	}
	return &Broadcaster{
		buffer:   buffer,
		watchers: map[int]chan events.Envelope{},
	}
}

// Subscribe registers a watcher. The channel closes on Unsubscribe or
// Close; subscribing to a closed broadcaster yields an already-closed
// channel.
func (b *Broadcaster) Subscribe() (int, <-chan events.Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan events.Envelope, b.buffer)
	if b.closed {
		close(ch)
		return id, ch
	}
	b.watchers[id] = ch
	return id, ch
}

func (b *Broadcaster) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.watchers[id]; ok {
		delete(b.watchers, id)
		close(ch)
	}
}

// Watchers reports the number of subscribed watchers.
func (b *Broadcaster) Watchers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.watchers)
}

// Publish implements events.Sink.
func (b *Broadcaster) Publish(ctx context.Context, e events.Envelope) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBroadcasterClosed
	}
	for _, ch := range b.watchers {
		select {
		case ch <- e:
		default:
		}
	}
	return nil
}

// Close closes every watcher channel and rejects further publishes.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.watchers {
		delete(b.watchers, id)
		close(ch)
	}
}

var _ events.Sink = (*Broadcaster)(nil)
