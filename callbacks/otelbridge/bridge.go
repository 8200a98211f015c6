// Package otelbridge mirrors callback traffic onto OpenTelemetry
// spans.
//
// Each *_start hook opens a span for its run id and each matching
// *_end or *_error settles it, so chains, model calls, tool and
// retriever invocations show up as a span tree in any OTel-compatible
// backend.
package otelbridge

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/spoonai/stream-sdk-go/callbacks"
)

const instrumentationName = "github.com/spoonai/stream-sdk-go"

// Bridge keeps one open span per running component, keyed by run id.
// When a start hook names a parent run with an open span, the new span
// is parented under it. End hooks without an open span are ignored.
type Bridge struct {
	callbacks.BaseHandler

	tracer trace.Tracer

	mu    sync.Mutex
	spans map[string]*spanEntry
}

type spanEntry struct {
	span   trace.Span
	tokens int64
}

// New creates a bridge over the given provider. A nil provider yields
// a bridge that records nothing.
func New(tp trace.TracerProvider) *Bridge {
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	return &Bridge{
		tracer: tp.Tracer(instrumentationName),
		spans:  make(map[string]*spanEntry),
	}
}

func (b *Bridge) OnLLMStart(ctx context.Context, event *callbacks.LLMStart) error {
	attrs := make([]attribute.KeyValue, 0, 2)
	if event.Model != "" {
		attrs = append(attrs, attribute.String("llm.model", event.Model))
	}
	if event.Provider != "" {
		attrs = append(attrs, attribute.String("llm.provider", event.Provider))
	}
	b.open(ctx, spanName("llm", "generate", event.Model, event.Provider), event.Call, attrs...)
	return nil
}

func (b *Bridge) OnLLMToken(ctx context.Context, event *callbacks.LLMToken) error {
	b.mu.Lock()
	if entry, ok := b.spans[event.RunID]; ok {
		entry.tokens++
	}
	b.mu.Unlock()
	return nil
}

func (b *Bridge) OnLLMEnd(ctx context.Context, event *callbacks.LLMEnd) error {
	b.settle(event.RunID, nil)
	return nil
}

func (b *Bridge) OnLLMError(ctx context.Context, event *callbacks.LLMError) error {
	b.settle(event.RunID, event.Err)
	return nil
}

func (b *Bridge) OnChainStart(ctx context.Context, event *callbacks.ChainStart) error {
	b.open(ctx, "chain.run", event.Call)
	return nil
}

func (b *Bridge) OnChainEnd(ctx context.Context, event *callbacks.ChainEnd) error {
	b.settle(event.RunID, nil)
	return nil
}

func (b *Bridge) OnChainError(ctx context.Context, event *callbacks.ChainError) error {
	b.settle(event.RunID, event.Err)
	return nil
}

func (b *Bridge) OnToolStart(ctx context.Context, event *callbacks.ToolStart) error {
	var attrs []attribute.KeyValue
	if event.ToolName != "" {
		attrs = append(attrs, attribute.String("tool.name", event.ToolName))
	}
	b.open(ctx, spanName("tool", "call", event.ToolName), event.Call, attrs...)
	return nil
}

func (b *Bridge) OnToolEnd(ctx context.Context, event *callbacks.ToolEnd) error {
	b.settle(event.RunID, nil)
	return nil
}

func (b *Bridge) OnToolError(ctx context.Context, event *callbacks.ToolError) error {
	b.settle(event.RunID, event.Err)
	return nil
}

func (b *Bridge) OnRetrieverStart(ctx context.Context, event *callbacks.RetrieverStart) error {
	b.open(ctx, spanName("retriever", "search", event.RetrieverName), event.Call)
	return nil
}

func (b *Bridge) OnRetrieverEnd(ctx context.Context, event *callbacks.RetrieverEnd) error {
	b.settle(event.RunID, nil)
	return nil
}

func (b *Bridge) OnRetrieverError(ctx context.Context, event *callbacks.RetrieverError) error {
	b.settle(event.RunID, event.Err)
	return nil
}

func (b *Bridge) OnPromptStart(ctx context.Context, event *callbacks.PromptStart) error {
	b.open(ctx, spanName("prompt", "render", event.PromptName), event.Call)
	return nil
}

func (b *Bridge) OnPromptEnd(ctx context.Context, event *callbacks.PromptEnd) error {
	b.settle(event.RunID, nil)
	return nil
}

func (b *Bridge) OnPromptError(ctx context.Context, event *callbacks.PromptError) error {
	b.settle(event.RunID, event.Err)
	return nil
}

func (b *Bridge) open(ctx context.Context, name string, call callbacks.Call, attrs ...attribute.KeyValue) {
	parent := parentOf(call)
	kv := []attribute.KeyValue{attribute.String("stream.run_id", call.RunID)}
	if parent != "" {
		kv = append(kv, attribute.String("stream.parent_run_id", parent))
	}
	kv = append(kv, attrs...)

	b.mu.Lock()
	defer b.mu.Unlock()
	if parent != "" {
		if entry, ok := b.spans[parent]; ok {
			ctx = trace.ContextWithSpan(ctx, entry.span)
		}
	}
	if stale, ok := b.spans[call.RunID]; ok {
		stale.span.End()
	}
	_, span := b.tracer.Start(ctx, name, trace.WithAttributes(kv...))
	b.spans[call.RunID] = &spanEntry{span: span}
}

func (b *Bridge) settle(runID string, err error) {
	b.mu.Lock()
	entry, ok := b.spans[runID]
	if ok {
		delete(b.spans, runID)
	}
	b.mu.Unlock()
	if !ok {
		return
	}
	if entry.tokens > 0 {
		entry.span.SetAttributes(attribute.Int64("llm.tokens", entry.tokens))
	}
	if err != nil {
		entry.span.RecordError(err)
		entry.span.SetStatus(codes.Error, err.Error())
	} else {
		entry.span.SetStatus(codes.Ok, "")
	}
	entry.span.End()
}

func parentOf(call callbacks.Call) string {
	if call.ParentRunID != "" {
		return call.ParentRunID
	}
	for _, id := range call.ParentIDs {
		if id != "" {
			return id
		}
	}
	return ""
}

func spanName(category, fallback string, candidates ...string) string {
	for _, c := range candidates {
		if c != "" {
			return category + "." + c
		}
	}
	return category + "." + fallback
}

var (
	_ callbacks.LLMHandler       = (*Bridge)(nil)
	_ callbacks.ChainHandler     = (*Bridge)(nil)
	_ callbacks.ToolHandler      = (*Bridge)(nil)
	_ callbacks.RetrieverHandler = (*Bridge)(nil)
	_ callbacks.PromptHandler    = (*Bridge)(nil)
)
