package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrQueueClosed reports a publish against a closed queue.
var ErrQueueClosed = errors.New("event queue closed")

// Queue is a bounded, ordered delivery channel between concurrent
// producers and a single consumer. Publish blocks while the buffer is
// full, so a slow consumer exerts backpressure instead of losing
// envelopes. After Close, buffered envelopes still drain to the
// consumer, then Events is closed.
//
// The consumer must keep receiving from Events until it is closed.
type Queue struct {
	ch   chan Envelope
	out  chan Envelope
	done chan struct{}
	once sync.Once
}

func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 256
	}
	q := &Queue{
		ch:   make(chan Envelope, capacity),
		out:  make(chan Envelope),
		done: make(chan struct{}),
	}
	go q.forward()
	return q
}

// Publish implements Sink. It returns ErrQueueClosed once the queue is
// closed and the caller's context error when the context ends before
// the envelope is buffered.
func (q *Queue) Publish(ctx context.Context, e Envelope) error {
	if q == nil {
		return nil
	}
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	select {
	case q.ch <- e:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return fmt.Errorf("publish event: %w", ctx.Err())
	}
}

// Events is the consumer side. It closes after Close once every
// buffered envelope has been handed over.
func (q *Queue) Events() <-chan Envelope {
	return q.out
}

func (q *Queue) Close() {
	if q == nil {
		return
	}
	q.once.Do(func() { close(q.done) })
}

func (q *Queue) forward() {
	defer close(q.out)
	for {
		select {
		case e := <-q.ch:
			q.out <- e
		case <-q.done:
			for {
				select {
				case e := <-q.ch:
					q.out <- e
				default:
					return
				}
			}
		}
	}
}
