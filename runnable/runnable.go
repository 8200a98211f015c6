// Package runnable drives callback-instrumented streaming executions
// and folds their event streams into structured run logs.
package runnable

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/spoonai/stream-sdk-go/callbacks"
	"github.com/spoonai/stream-sdk-go/events"
	"github.com/spoonai/stream-sdk-go/schema"
)

// Config carries the per-run configuration for a streaming execution.
// Tags and Metadata are stamped onto every envelope the run emits.
type Config struct {
	Callbacks []callbacks.Handler
	Tags      []string
	Metadata  map[string]any
	RunName   string
}

// Manager builds a dispatcher over the configured handlers. A nil
// config yields an empty manager.
func (c *Config) Manager() *callbacks.Manager {
	if c == nil {
		return callbacks.New()
	}
	return callbacks.New(callbacks.WithHandlers(c.Callbacks...))
}

type Option func(*streamSettings)

type streamSettings struct {
	runID    string
	capacity int
}

// WithRunID fixes the chain run id instead of minting one.
func WithRunID(id string) Option {
	return func(s *streamSettings) {
		if id != "" {
			s.runID = id
		}
	}
}

// WithQueueCapacity bounds the event buffer between the run and its
// consumer. The default is 256.
func WithQueueCapacity(n int) Option {
	return func(s *streamSettings) {
		if n > 0 {
			s.capacity = n
		}
	}
}

// Func is the body of a streaming execution. It reports incremental
// output through the emitter and returns the final output, if any.
type Func func(ctx context.Context, em *Emitter) (any, error)

// Emitter hands a running chain function its run identity and
// dispatcher, and forwards streamed chunks as on_chain_stream events.
type Emitter struct {
	runID   string
	name    string
	queue   *events.Queue
	manager *callbacks.Manager
	attrs   events.Attrs

	mu        sync.Mutex
	lastChunk any
	haveChunk bool
}

func (e *Emitter) RunID() string { return e.runID }

// Manager exposes the run's dispatcher so the chain function can raise
// nested llm, tool, retriever and prompt callbacks. Envelopes built
// from those hooks land on the same stream as the chain events.
func (e *Emitter) Manager() *callbacks.Manager { return e.manager }

// EmitChunk publishes chunk as an on_chain_stream event. The chunk is
// retained as the fallback output for when the chain function returns
// nil.
func (e *Emitter) EmitChunk(ctx context.Context, chunk any) error {
	serialized := serialize(chunk)
	e.mu.Lock()
	e.lastChunk = serialized
	e.haveChunk = true
	e.mu.Unlock()
	return e.queue.Publish(ctx, events.ChainStream(e.runID, e.name, serialized, e.attrs))
}

func (e *Emitter) last() (any, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastChunk, e.haveChunk
}

// StreamEvents runs fn and exposes the execution as an ordered event
// stream. The returned channel opens with on_chain_start, carries one
// on_chain_stream per emitted chunk interleaved with any callback
// traffic fn raises, and closes after the terminal on_chain_end or
// on_chain_error envelope.
//
// The chain name is cfg.RunName when set, else name, else "chain". The
// chain run is the stream's root: its envelopes carry no parent ids,
// and nested callback envelopes point back at it. When fn returns a nil
// output the last emitted chunk stands in for it. If ctx ends while the
// consumer lags, the run stops publishing and the channel closes after
// the buffered envelopes drain.
func StreamEvents(ctx context.Context, name string, input any, cfg *Config, fn Func, opts ...Option) <-chan events.Envelope {
	var settings streamSettings
	for _, opt := range opts {
		if opt != nil {
			opt(&settings)
		}
	}
	if settings.runID == "" {
		settings.runID = uuid.NewString()
	}

	chainName := resolveChainName(cfg, name)
	var (
		tags     []string
		metadata map[string]any
	)
	if cfg != nil {
		tags = cfg.Tags
		metadata = cfg.Metadata
	}

	queue := events.NewQueue(settings.capacity)
	translator := callbacks.NewStreamEventHandler(queue,
		callbacks.WithRootRunID(settings.runID),
		callbacks.WithTags(tags...),
		callbacks.WithMetadata(metadata),
	)
	manager := cfg.Manager()
	manager.Add(translator)

	attrs := events.Attrs{Metadata: metadata, Tags: tags}
	em := &Emitter{
		runID:   settings.runID,
		name:    chainName,
		queue:   queue,
		manager: manager,
		attrs:   attrs,
	}

	go func() {
		defer queue.Close()
		start := events.ChainStart(settings.runID, chainName, map[string]any{"input": serialize(input)}, attrs)
		if err := queue.Publish(ctx, start); err != nil {
			return
		}
		output, err := runChain(ctx, em, fn)
		if err != nil {
			_ = queue.Publish(ctx, events.ErrorEvent(events.KindChainError, settings.runID, chainName, err, attrs))
			return
		}
		if output == nil {
			if last, ok := em.last(); ok {
				output = last
			}
		}
		_ = queue.Publish(ctx, events.ChainEnd(settings.runID, chainName, serialize(output), attrs))
	}()

	return queue.Events()
}

func runChain(ctx context.Context, em *Emitter, fn Func) (output any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("chain function panic: %v", r)
		}
	}()
	if fn == nil {
		return nil, nil
	}
	return fn(ctx, em)
}

func resolveChainName(cfg *Config, name string) string {
	if cfg != nil && cfg.RunName != "" {
		return cfg.RunName
	}
	if name != "" {
		return name
	}
	return "chain"
}

func serialize(v any) any {
	if v == nil {
		return nil
	}
	if m, ok := v.(schema.Mapper); ok {
		return m.ToMap()
	}
	return v
}
