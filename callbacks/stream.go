package callbacks

import (
	"context"

	"github.com/google/uuid"

	"github.com/spoonai/stream-sdk-go/events"
	"github.com/spoonai/stream-sdk-go/schema"
)

// StreamEventHandler translates hook invocations into envelopes and
// publishes them, in invocation order, to a sink. One handler instance
// serves one logical run: envelopes with no explicit parent are
// attributed to its root run id.
type StreamEventHandler struct {
	BaseHandler
	sink      events.Sink
	rootRunID string
	tags      []string
	metadata  map[string]any
}

type StreamEventOption func(*StreamEventHandler)

// WithRootRunID pins the root run id instead of minting one.
func WithRootRunID(id string) StreamEventOption {
	return func(h *StreamEventHandler) {
		if id != "" {
			h.rootRunID = id
		}
	}
}

func WithTags(tags ...string) StreamEventOption {
	return func(h *StreamEventHandler) {
		h.tags = append([]string(nil), tags...)
	}
}

func WithMetadata(metadata map[string]any) StreamEventOption {
	return func(h *StreamEventHandler) {
		h.metadata = schema.CloneMap(metadata)
	}
}

func NewStreamEventHandler(sink events.Sink, opts ...StreamEventOption) *StreamEventHandler {
	if sink == nil {
		sink = events.NoopSink{}
	}
	h := &StreamEventHandler{
		sink:      sink,
		rootRunID: uuid.NewString(),
		tags:      []string{},
		metadata:  map[string]any{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

func (h *StreamEventHandler) RootRunID() string { return h.rootRunID }

func (h *StreamEventHandler) OnLLMStart(ctx context.Context, event *LLMStart) error {
	name := resolveName("llm", event.Model, event.Provider)
	messages, err := schema.MessagesToMaps(event.Messages)
	if err != nil {
		return err
	}
	return h.sink.Publish(ctx, events.LLMStart(event.RunID, name, messages, h.attrs(event.Call, map[string]any{
		"model":    nonEmpty(event.Model),
		"provider": nonEmpty(event.Provider),
	})))
}

func (h *StreamEventHandler) OnLLMToken(ctx context.Context, event *LLMToken) error {
	// Providers fire token callbacks before a run is registered; those
	// have no run id and are dropped rather than misattributed.
	if event.RunID == "" {
		return nil
	}
	name := resolveName("llm", event.Model, event.Provider)
	return h.sink.Publish(ctx, events.LLMStream(event.RunID, name, event.Token, mapPayload(event.Chunk), h.attrs(event.Call, map[string]any{
		"model":    nonEmpty(event.Model),
		"provider": nonEmpty(event.Provider),
	})))
}

func (h *StreamEventHandler) OnLLMEnd(ctx context.Context, event *LLMEnd) error {
	name := resolveName("llm", event.Model, event.Provider)
	return h.sink.Publish(ctx, events.LLMEnd(event.RunID, name, mapPayload(event.Response), h.attrs(event.Call, map[string]any{
		"model":    nonEmpty(event.Model),
		"provider": nonEmpty(event.Provider),
	})))
}

func (h *StreamEventHandler) OnLLMError(ctx context.Context, event *LLMError) error {
	name := resolveName("llm", event.Model, event.Provider)
	return h.sink.Publish(ctx, events.ErrorEvent(events.KindLLMError, event.RunID, name, event.Err, h.attrs(event.Call, map[string]any{
		"model":    nonEmpty(event.Model),
		"provider": nonEmpty(event.Provider),
	})))
}

func (h *StreamEventHandler) OnToolStart(ctx context.Context, event *ToolStart) error {
	return h.sink.Publish(ctx, events.ToolStart(event.RunID, event.ToolName, event.Input, h.attrs(event.Call, map[string]any{
		"tool_name": nonEmpty(event.ToolName),
	})))
}

func (h *StreamEventHandler) OnToolEnd(ctx context.Context, event *ToolEnd) error {
	return h.sink.Publish(ctx, events.ToolEnd(event.RunID, event.ToolName, event.Output, h.attrs(event.Call, map[string]any{
		"tool_name": nonEmpty(event.ToolName),
	})))
}

func (h *StreamEventHandler) OnToolError(ctx context.Context, event *ToolError) error {
	name := resolveName("tool", event.ToolName)
	return h.sink.Publish(ctx, events.ErrorEvent(events.KindToolError, event.RunID, name, event.Err, h.attrs(event.Call, map[string]any{
		"tool_name": nonEmpty(event.ToolName),
	})))
}

func (h *StreamEventHandler) OnRetrieverStart(ctx context.Context, event *RetrieverStart) error {
	name := resolveName("retriever", event.RetrieverName)
	return h.sink.Publish(ctx, events.RetrieverStart(event.RunID, name, event.Query, h.attrs(event.Call, map[string]any{
		"retriever": name,
	})))
}

func (h *StreamEventHandler) OnRetrieverEnd(ctx context.Context, event *RetrieverEnd) error {
	name := resolveName("retriever", event.RetrieverName)
	return h.sink.Publish(ctx, events.RetrieverEnd(event.RunID, name, event.Documents, h.attrs(event.Call, map[string]any{
		"retriever": name,
	})))
}

// OnRetrieverError has no envelope kind to map to.
func (h *StreamEventHandler) OnRetrieverError(ctx context.Context, event *RetrieverError) error {
	return nil
}

func (h *StreamEventHandler) OnPromptStart(ctx context.Context, event *PromptStart) error {
	name := resolveName("prompt", event.PromptName)
	return h.sink.Publish(ctx, events.PromptStart(event.RunID, name, event.Inputs, h.attrs(event.Call, map[string]any{
		"prompt": name,
	})))
}

func (h *StreamEventHandler) OnPromptEnd(ctx context.Context, event *PromptEnd) error {
	name := resolveName("prompt", event.PromptName)
	return h.sink.Publish(ctx, events.PromptEnd(event.RunID, name, event.Output, h.attrs(event.Call, map[string]any{
		"prompt": name,
	})))
}

// OnPromptError has no envelope kind to map to.
func (h *StreamEventHandler) OnPromptError(ctx context.Context, event *PromptError) error {
	return nil
}

func (h *StreamEventHandler) attrs(c Call, overrides map[string]any) events.Attrs {
	return events.Attrs{
		ParentIDs: h.parentIDs(c),
		Metadata:  mergeMetadata(h.metadata, overrides),
		Tags:      h.tags,
	}
}

// parentIDs resolves the ancestor chain: explicit ids win, then the
// single parent run id, then the handler's root.
func (h *StreamEventHandler) parentIDs(c Call) []string {
	ids := make([]string, 0, len(c.ParentIDs))
	for _, id := range c.ParentIDs {
		if id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) > 0 {
		return ids
	}
	if c.ParentRunID != "" {
		return []string{c.ParentRunID}
	}
	return []string{h.rootRunID}
}

// mergeMetadata layers call overrides onto the handler defaults without
// mutating either. Nil override values are dropped. Map-valued
// overrides shallow-merge into an existing map (override keys win) and
// replace anything else. Scalar overrides only fill absent keys.
func mergeMetadata(defaults map[string]any, overrides map[string]any) map[string]any {
	metadata := schema.CloneMap(defaults)
	for key, value := range overrides {
		if value == nil {
			continue
		}
		if override, ok := value.(map[string]any); ok {
			if existing, ok := metadata[key].(map[string]any); ok {
				merged := schema.CloneMap(existing)
				for k, v := range override {
					merged[k] = v
				}
				metadata[key] = merged
			} else {
				metadata[key] = schema.CloneMap(override)
			}
			continue
		}
		if _, exists := metadata[key]; !exists {
			metadata[key] = value
		}
	}
	return metadata
}

// resolveName returns the first non-empty candidate, else the fallback.
func resolveName(fallback string, candidates ...string) string {
	for _, c := range candidates {
		if c != "" {
			return c
		}
	}
	return fallback
}

// mapPayload serializes exportable payloads and passes the rest through.
func mapPayload(v any) any {
	if v == nil {
		return nil
	}
	if m, ok := v.(schema.Mapper); ok {
		return m.ToMap()
	}
	return v
}

// nonEmpty maps "" to nil so empty labels drop out of merged metadata.
func nonEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
