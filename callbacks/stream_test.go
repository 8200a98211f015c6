package callbacks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/spoonai/stream-sdk-go/events"
	"github.com/spoonai/stream-sdk-go/schema"
)

// captureSink collects published envelopes in order.
type captureSink struct {
	mu   sync.Mutex
	got  []events.Envelope
	fail error
}

func (c *captureSink) Publish(ctx context.Context, e events.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	c.got = append(c.got, e)
	return nil
}

func (c *captureSink) envelopes() []events.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]events.Envelope, len(c.got))
	copy(out, c.got)
	return out
}

func TestStreamHandlerLLMStart(t *testing.T) {
	sink := &captureSink{}
	h := NewStreamEventHandler(sink, WithRootRunID("root"), WithTags("demo"), WithMetadata(map[string]any{"env": "test"}))

	err := h.OnLLMStart(context.Background(), &LLMStart{
		Call:     Call{RunID: "r1"},
		Model:    "gpt-4o",
		Provider: "openai",
		Messages: []any{schema.Message{Role: schema.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("hook failed: %v", err)
	}

	got := sink.envelopes()
	if len(got) != 1 {
		t.Fatalf("expected 1 envelope, got %d", len(got))
	}
	e := got[0]
	if e.Event != events.KindLLMStart {
		t.Fatalf("unexpected kind %s", e.Event)
	}
	if e.Name != "gpt-4o" {
		t.Fatalf("model must win name resolution, got %q", e.Name)
	}
	if e.RunID != "r1" {
		t.Fatalf("unexpected run id %q", e.RunID)
	}
	if len(e.ParentIDs) != 1 || e.ParentIDs[0] != "root" {
		t.Fatalf("expected root parent, got %v", e.ParentIDs)
	}
	if e.Metadata["model"] != "gpt-4o" || e.Metadata["provider"] != "openai" || e.Metadata["env"] != "test" {
		t.Fatalf("unexpected metadata %v", e.Metadata)
	}
	if len(e.Tags) != 1 || e.Tags[0] != "demo" {
		t.Fatalf("unexpected tags %v", e.Tags)
	}
	msgs, ok := e.Data["messages"].([]map[string]any)
	if !ok || len(msgs) != 1 || msgs[0]["content"] != "hi" {
		t.Fatalf("unexpected messages payload %v", e.Data["messages"])
	}
}

func TestStreamHandlerNameFallbacks(t *testing.T) {
	sink := &captureSink{}
	h := NewStreamEventHandler(sink)
	ctx := context.Background()

	if err := h.OnLLMStart(ctx, &LLMStart{Call: Call{RunID: "r"}, Provider: "anthropic"}); err != nil {
		t.Fatalf("hook failed: %v", err)
	}
	if err := h.OnLLMStart(ctx, &LLMStart{Call: Call{RunID: "r"}}); err != nil {
		t.Fatalf("hook failed: %v", err)
	}
	got := sink.envelopes()
	if got[0].Name != "anthropic" {
		t.Fatalf("provider must be the second candidate, got %q", got[0].Name)
	}
	if got[1].Name != "llm" {
		t.Fatalf("expected generic fallback, got %q", got[1].Name)
	}
}

func TestStreamHandlerUnsupportedMessage(t *testing.T) {
	sink := &captureSink{}
	h := NewStreamEventHandler(sink)

	err := h.OnLLMStart(context.Background(), &LLMStart{
		Call:     Call{RunID: "r1"},
		Messages: []any{12345},
	})
	if !errors.Is(err, schema.ErrUnsupportedPayload) {
		t.Fatalf("expected ErrUnsupportedPayload, got %v", err)
	}
	if len(sink.envelopes()) != 0 {
		t.Fatal("no envelope may be published for a bad payload")
	}
}

func TestStreamHandlerDropsTokenWithoutRunID(t *testing.T) {
	sink := &captureSink{}
	h := NewStreamEventHandler(sink)

	err := h.OnLLMToken(context.Background(), &LLMToken{Token: "stray"})
	if err != nil {
		t.Fatalf("dropped token must not error: %v", err)
	}
	if len(sink.envelopes()) != 0 {
		t.Fatal("token without run id must be dropped silently")
	}
}

func TestStreamHandlerTokenChunkSerialization(t *testing.T) {
	sink := &captureSink{}
	h := NewStreamEventHandler(sink)
	ctx := context.Background()

	chunk := &schema.ResponseChunk{Delta: "to", Model: "gpt-4o", ChunkIndex: 1}
	if err := h.OnLLMToken(ctx, &LLMToken{Call: Call{RunID: "r"}, Token: "to", Chunk: chunk}); err != nil {
		t.Fatalf("hook failed: %v", err)
	}
	if err := h.OnLLMToken(ctx, &LLMToken{Call: Call{RunID: "r"}, Token: "ke"}); err != nil {
		t.Fatalf("hook failed: %v", err)
	}

	got := sink.envelopes()
	payload, ok := got[0].Data["chunk"].(map[string]any)
	if !ok {
		t.Fatalf("chunk must be serialized to a map, got %T", got[0].Data["chunk"])
	}
	if payload["delta"] != "to" {
		t.Fatalf("unexpected chunk payload %v", payload)
	}
	if _, present := got[1].Data["chunk"]; present {
		t.Fatal("absent chunk must be omitted from data")
	}
	if got[1].Data["token"] != "ke" {
		t.Fatalf("unexpected token %v", got[1].Data["token"])
	}
}

func TestStreamHandlerParentResolution(t *testing.T) {
	sink := &captureSink{}
	h := NewStreamEventHandler(sink, WithRootRunID("root"))
	ctx := context.Background()

	cases := []struct {
		call Call
		want []string
	}{
		{Call{RunID: "r", ParentIDs: []string{"p1", "", "p2"}}, []string{"p1", "p2"}},
		{Call{RunID: "r", ParentIDs: []string{""}, ParentRunID: "pr"}, []string{"pr"}},
		{Call{RunID: "r", ParentRunID: "pr"}, []string{"pr"}},
		{Call{RunID: "r"}, []string{"root"}},
	}
	for i, tc := range cases {
		if err := h.OnLLMEnd(ctx, &LLMEnd{Call: tc.call}); err != nil {
			t.Fatalf("case %d failed: %v", i, err)
		}
	}
	got := sink.envelopes()
	for i, tc := range cases {
		ids := got[i].ParentIDs
		if len(ids) != len(tc.want) {
			t.Fatalf("case %d: expected %v, got %v", i, tc.want, ids)
		}
		for j := range ids {
			if ids[j] != tc.want[j] {
				t.Fatalf("case %d: expected %v, got %v", i, tc.want, ids)
			}
		}
	}
}

func TestMergeMetadata(t *testing.T) {
	defaults := map[string]any{"a": map[string]any{"x": 1}}
	merged := mergeMetadata(defaults, map[string]any{
		"a": map[string]any{"y": 2},
		"b": nil,
	})

	a, ok := merged["a"].(map[string]any)
	if !ok {
		t.Fatalf("expected map value for a, got %T", merged["a"])
	}
	if a["x"] != 1 || a["y"] != 2 {
		t.Fatalf("expected shallow merge {x:1 y:2}, got %v", a)
	}
	if _, present := merged["b"]; present {
		t.Fatal("nil override must be dropped")
	}
	if inner := defaults["a"].(map[string]any); len(inner) != 1 {
		t.Fatalf("defaults must not be mutated, got %v", inner)
	}

	// Scalar overrides never replace an existing value.
	merged = mergeMetadata(map[string]any{"model": "configured"}, map[string]any{"model": "runtime"})
	if merged["model"] != "configured" {
		t.Fatalf("scalar override must not replace existing, got %v", merged["model"])
	}

	// A map override replaces a non-map existing value.
	merged = mergeMetadata(map[string]any{"k": "scalar"}, map[string]any{"k": map[string]any{"v": 1}})
	inner, ok := merged["k"].(map[string]any)
	if !ok || inner["v"] != 1 {
		t.Fatalf("map override must replace scalar, got %v", merged["k"])
	}

	// Absent keys are inserted.
	merged = mergeMetadata(nil, map[string]any{"fresh": "value"})
	if merged["fresh"] != "value" {
		t.Fatalf("absent key must be inserted, got %v", merged)
	}
}

func TestStreamHandlerToolEnvelopes(t *testing.T) {
	sink := &captureSink{}
	h := NewStreamEventHandler(sink, WithRootRunID("root"))
	ctx := context.Background()

	if err := h.OnToolStart(ctx, &ToolStart{Call: Call{RunID: "r"}, ToolName: "web_search", Input: map[string]any{"q": "go"}}); err != nil {
		t.Fatalf("hook failed: %v", err)
	}
	if err := h.OnToolEnd(ctx, &ToolEnd{Call: Call{RunID: "r"}, ToolName: "web_search", Output: "results"}); err != nil {
		t.Fatalf("hook failed: %v", err)
	}
	if err := h.OnToolError(ctx, &ToolError{Call: Call{RunID: "r"}, Err: errors.New("no network")}); err != nil {
		t.Fatalf("hook failed: %v", err)
	}

	got := sink.envelopes()
	if got[0].Event != events.KindToolStart || got[0].Name != "web_search" {
		t.Fatalf("unexpected start envelope %+v", got[0])
	}
	if got[0].Metadata["tool_name"] != "web_search" {
		t.Fatalf("unexpected metadata %v", got[0].Metadata)
	}
	if got[1].Event != events.KindToolEnd || got[1].Data["output"] != "results" {
		t.Fatalf("unexpected end envelope %+v", got[1])
	}
	if got[2].Event != events.KindToolError || got[2].Name != "tool" {
		t.Fatalf("error without a tool name must fall back, got %+v", got[2])
	}
	if got[2].Data["error"] != "no network" || got[2].Data["error_type"] != "errorString" {
		t.Fatalf("unexpected error payload %v", got[2].Data)
	}
}

func TestStreamHandlerRetrieverAndPrompt(t *testing.T) {
	sink := &captureSink{}
	h := NewStreamEventHandler(sink)
	ctx := context.Background()

	if err := h.OnRetrieverStart(ctx, &RetrieverStart{Call: Call{RunID: "r"}, Query: "golang"}); err != nil {
		t.Fatalf("hook failed: %v", err)
	}
	if err := h.OnRetrieverEnd(ctx, &RetrieverEnd{Call: Call{RunID: "r"}, RetrieverName: "kb", Documents: []string{"d1"}}); err != nil {
		t.Fatalf("hook failed: %v", err)
	}
	if err := h.OnPromptStart(ctx, &PromptStart{Call: Call{RunID: "r"}, Inputs: map[string]any{"topic": "go"}}); err != nil {
		t.Fatalf("hook failed: %v", err)
	}
	if err := h.OnRetrieverError(ctx, &RetrieverError{Call: Call{RunID: "r"}, Err: errors.New("down")}); err != nil {
		t.Fatalf("retriever error hook must be a no-op: %v", err)
	}
	if err := h.OnPromptError(ctx, &PromptError{Call: Call{RunID: "r"}, Err: errors.New("down")}); err != nil {
		t.Fatalf("prompt error hook must be a no-op: %v", err)
	}

	got := sink.envelopes()
	if len(got) != 3 {
		t.Fatalf("error hooks must not publish, got %d envelopes", len(got))
	}
	if got[0].Name != "retriever" || got[0].Metadata["retriever"] != "retriever" {
		t.Fatalf("unexpected retriever fallback %+v", got[0])
	}
	if got[1].Name != "kb" || got[1].Metadata["retriever"] != "kb" {
		t.Fatalf("unexpected retriever name %+v", got[1])
	}
	if got[2].Name != "prompt" || got[2].Metadata["prompt"] != "prompt" {
		t.Fatalf("unexpected prompt fallback %+v", got[2])
	}
	if got[2].Data["input"].(map[string]any)["topic"] != "go" {
		t.Fatalf("unexpected prompt payload %v", got[2].Data)
	}
}

func TestStreamHandlerDefaultsNotMutated(t *testing.T) {
	defaults := map[string]any{"env": "test"}
	sink := &captureSink{}
	h := NewStreamEventHandler(sink, WithMetadata(defaults))

	if err := h.OnLLMEnd(context.Background(), &LLMEnd{Call: Call{RunID: "r"}, Model: "m"}); err != nil {
		t.Fatalf("hook failed: %v", err)
	}
	if len(defaults) != 1 {
		t.Fatalf("caller map must stay untouched, got %v", defaults)
	}
	got := sink.envelopes()
	got[0].Metadata["env"] = "mutated"
	if err := h.OnLLMEnd(context.Background(), &LLMEnd{Call: Call{RunID: "r"}}); err != nil {
		t.Fatalf("hook failed: %v", err)
	}
	if sink.envelopes()[1].Metadata["env"] != "test" {
		t.Fatal("each envelope must get fresh metadata")
	}
}

func TestEndToEndStreamingRun(t *testing.T) {
	queue := events.NewQueue(16)
	translator := NewStreamEventHandler(queue, WithRootRunID("R"))
	stats := NewStatistics(WithAutoPrint(false))
	m := New(WithHandlers(translator, stats))
	ctx := context.Background()

	err := m.OnLLMStart(ctx, &LLMStart{
		Call:     Call{RunID: "R"},
		Model:    "gpt-x",
		Provider: "demo",
		Messages: []any{map[string]any{"role": "user", "content": "hi"}},
	})
	if err != nil {
		t.Fatalf("llm start failed: %v", err)
	}
	for _, tok := range []string{"a", "b", "c"} {
		if err := m.OnLLMToken(ctx, &LLMToken{Call: Call{RunID: "R"}, Token: tok}); err != nil {
			t.Fatalf("token %q failed: %v", tok, err)
		}
	}
	resp := &schema.Response{Content: "abc"}
	if err := m.OnLLMEnd(ctx, &LLMEnd{Call: Call{RunID: "R"}, Model: "gpt-x", Response: resp}); err != nil {
		t.Fatalf("llm end failed: %v", err)
	}
	queue.Close()

	var got []events.Envelope
	timeout := time.After(2 * time.Second)
drain:
	for {
		select {
		case e, ok := <-queue.Events():
			if !ok {
				break drain
			}
			got = append(got, e)
		case <-timeout:
			t.Fatalf("queue never closed, drained %d envelopes", len(got))
		}
	}

	wantKinds := []events.Kind{
		events.KindLLMStart,
		events.KindLLMStream,
		events.KindLLMStream,
		events.KindLLMStream,
		events.KindLLMEnd,
	}
	if len(got) != len(wantKinds) {
		t.Fatalf("expected %d envelopes, got %d", len(wantKinds), len(got))
	}
	for i, e := range got {
		if e.Event != wantKinds[i] {
			t.Fatalf("envelope %d: expected %s, got %s", i, wantKinds[i], e.Event)
		}
		if e.RunID != "R" {
			t.Fatalf("envelope %d: run id %q", i, e.RunID)
		}
		if len(e.ParentIDs) != 1 || e.ParentIDs[0] != "R" {
			t.Fatalf("envelope %d: parents %v", i, e.ParentIDs)
		}
	}
	for i := 1; i < len(got); i++ {
		if got[i].Timestamp.Before(got[i-1].Timestamp) {
			t.Fatalf("timestamps must be non-decreasing: %v then %v", got[i-1].Timestamp, got[i].Timestamp)
		}
	}
	tokens := []string{"a", "b", "c"}
	for i, e := range got[1:4] {
		if e.Data["token"] != tokens[i] {
			t.Fatalf("stream envelope %d: token %v", i, e.Data["token"])
		}
	}
	if s := stats.Snapshot(); s.TokenCount != 3 {
		t.Fatalf("expected 3 counted tokens, got %d", s.TokenCount)
	}
}
