package schema

import (
	"errors"
	"fmt"
)

// ErrUnsupportedPayload reports a value that cannot be serialized into an
// event payload. Callers surface it, the dispatch layer never swallows it.
var ErrUnsupportedPayload = errors.New("unsupported payload type")

// Mapper is the export capability payload types implement so translators
// can serialize them without knowing the concrete type.
type Mapper interface {
	ToMap() map[string]any
}

func (m Message) ToMap() map[string]any {
	out := map[string]any{
		"role":    string(m.Role),
		"content": m.Content,
	}
	if m.ID != "" {
		out["id"] = m.ID
	}
	if m.Name != "" {
		out["name"] = m.Name
	}
	if m.ToolCallID != "" {
		out["tool_call_id"] = m.ToolCallID
	}
	if len(m.ToolCalls) > 0 {
		out["tool_calls"] = toolCallMaps(m.ToolCalls)
	}
	return out
}

func (t ToolCall) ToMap() map[string]any {
	typ := t.Type
	if typ == "" {
		typ = "function"
	}
	out := map[string]any{
		"type":     typ,
		"function": t.Function.ToMap(),
	}
	if t.ID != "" {
		out["id"] = t.ID
	}
	return out
}

func (f Function) ToMap() map[string]any {
	return map[string]any{
		"name":      f.Name,
		"arguments": f.Arguments,
	}
}

func (u Usage) ToMap() map[string]any {
	return map[string]any{
		"prompt_tokens":     u.PromptTokens,
		"completion_tokens": u.CompletionTokens,
		"total_tokens":      u.TotalTokens,
	}
}

func (r Response) ToMap() map[string]any {
	out := map[string]any{
		"content": r.Content,
	}
	if r.Text != "" {
		out["text"] = r.Text
	}
	if len(r.ImagePaths) > 0 {
		out["image_paths"] = append([]string(nil), r.ImagePaths...)
	}
	if len(r.ToolCalls) > 0 {
		out["tool_calls"] = toolCallMaps(r.ToolCalls)
	}
	if r.FinishReason != "" {
		out["finish_reason"] = r.FinishReason
	}
	if r.NativeFinishReason != "" {
		out["native_finish_reason"] = r.NativeFinishReason
	}
	if r.Usage != nil {
		out["usage"] = r.Usage.ToMap()
	}
	return out
}

func (c ResponseChunk) ToMap() map[string]any {
	out := map[string]any{
		"chunk_index": c.ChunkIndex,
	}
	if c.Content != "" {
		out["content"] = c.Content
	}
	if c.Delta != "" {
		out["delta"] = c.Delta
	}
	if c.Provider != "" {
		out["provider"] = c.Provider
	}
	if c.Model != "" {
		out["model"] = c.Model
	}
	if c.FinishReason != "" {
		out["finish_reason"] = c.FinishReason
	}
	if len(c.ToolCalls) > 0 {
		out["tool_calls"] = toolCallMaps(c.ToolCalls)
	}
	if c.Usage != nil {
		out["usage"] = c.Usage.ToMap()
	}
	if len(c.Metadata) > 0 {
		out["metadata"] = CloneMap(c.Metadata)
	}
	if !c.Timestamp.IsZero() {
		out["timestamp"] = c.Timestamp
	}
	return out
}

func toolCallMaps(calls []ToolCall) []map[string]any {
	out := make([]map[string]any, 0, len(calls))
	for _, c := range calls {
		out = append(out, c.ToMap())
	}
	return out
}

// MessageToMap serializes a single message payload. Mapper values export
// themselves, raw maps pass through as shallow copies, anything else is
// an ErrUnsupportedPayload.
func MessageToMap(v any) (map[string]any, error) {
	switch m := v.(type) {
	case Mapper:
		return m.ToMap(), nil
	case map[string]any:
		return CloneMap(m), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedPayload, v)
	}
}

// MessagesToMaps serializes a heterogeneous message list, failing on the
// first unsupported element.
func MessagesToMaps(msgs []any) ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(msgs))
	for _, m := range msgs {
		mm, err := MessageToMap(m)
		if err != nil {
			return nil, err
		}
		out = append(out, mm)
	}
	return out, nil
}

// CloneMap returns a shallow copy, mapping nil to an empty map.
func CloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
