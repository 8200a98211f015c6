package schema

import (
	"encoding/json"
	"fmt"
	"time"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

type Message struct {
	ID         string     `json:"id,omitempty"`
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"` // Tool name for tool role messages.
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

type ToolCall struct {
	ID       string   `json:"id,omitempty"`
	Type     string   `json:"type"`
	Function Function `json:"function"`
}

type Function struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"` // JSON-encoded argument object.
}

// ArgumentsMap parses the JSON-encoded arguments. Empty input yields an
// empty map rather than an error.
func (f Function) ArgumentsMap() (map[string]any, error) {
	if f.Arguments == "" {
		return map[string]any{}, nil
	}
	out := map[string]any{}
	if err := json.Unmarshal([]byte(f.Arguments), &out); err != nil {
		return nil, fmt.Errorf("parse tool arguments: %w", err)
	}
	return out, nil
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type Response struct {
	Content            string     `json:"content"`
	Text               string     `json:"text,omitempty"`
	ImagePaths         []string   `json:"image_paths,omitempty"`
	ToolCalls          []ToolCall `json:"tool_calls,omitempty"`
	FinishReason       string     `json:"finish_reason,omitempty"`
	NativeFinishReason string     `json:"native_finish_reason,omitempty"`
	Usage              *Usage     `json:"usage,omitempty"`
}

// ResponseChunk is one increment of a streamed model response. Content
// carries a full snapshot when the provider resends accumulated text,
// Delta carries just the new suffix.
type ResponseChunk struct {
	Content      string         `json:"content,omitempty"`
	Delta        string         `json:"delta,omitempty"`
	Provider     string         `json:"provider,omitempty"`
	Model        string         `json:"model,omitempty"`
	FinishReason string         `json:"finish_reason,omitempty"`
	ToolCalls    []ToolCall     `json:"tool_calls,omitempty"`
	Usage        *Usage         `json:"usage,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	ChunkIndex   int            `json:"chunk_index"`
	Timestamp    time.Time      `json:"timestamp"`
}
