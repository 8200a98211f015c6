package events

import "context"

// Sink receives envelopes from translators and drivers. Implementations
// must tolerate concurrent Publish calls.
type Sink interface {
	Publish(ctx context.Context, e Envelope) error
}

type SinkFunc func(ctx context.Context, e Envelope) error

func (f SinkFunc) Publish(ctx context.Context, e Envelope) error {
	if f == nil {
		return nil
	}
	return f(ctx, e)
}

type NoopSink struct{}

func (NoopSink) Publish(ctx context.Context, e Envelope) error {
	_ = ctx
	_ = e
	return nil
}

type MultiSink struct {
	sinks []Sink
}

func NewMultiSink(sinks ...Sink) Sink {
	filtered := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s == nil {
			continue
		}
		filtered = append(filtered, s)
	}
	if len(filtered) == 0 {
		return NoopSink{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &MultiSink{sinks: filtered}
}

// Publish forwards to every sink even after a failure and returns the
// first error seen.
func (m *MultiSink) Publish(ctx context.Context, e Envelope) error {
	if m == nil {
		return nil
	}
	var first error
	for _, sink := range m.sinks {
		if err := sink.Publish(ctx, e); err != nil && first == nil {
			first = err
		}
	}
	return first
}
