package events

import (
	"reflect"
	"strings"
	"time"
)

// Kind identifies the occurrence an envelope describes. Values are the
// wire names consumers match on.
type Kind string

const (
	KindChainStart     Kind = "on_chain_start"
	KindChainStream    Kind = "on_chain_stream"
	KindChainEnd       Kind = "on_chain_end"
	KindChainError     Kind = "on_chain_error"
	KindLLMStart       Kind = "on_llm_start"
	KindLLMStream      Kind = "on_llm_stream"
	KindLLMEnd         Kind = "on_llm_end"
	KindLLMError       Kind = "on_llm_error"
	KindToolStart      Kind = "on_tool_start"
	KindToolEnd        Kind = "on_tool_end"
	KindToolError      Kind = "on_tool_error"
	KindRetrieverStart Kind = "on_retriever_start"
	KindRetrieverEnd   Kind = "on_retriever_end"
	KindPromptStart    Kind = "on_prompt_start"
	KindPromptEnd      Kind = "on_prompt_end"
	KindCustom         Kind = "on_custom_event"
)

// Category strips the on_ prefix and phase suffix: "on_llm_stream"
// yields "llm", "on_custom_event" yields "custom".
func (k Kind) Category() string {
	s := strings.TrimPrefix(string(k), "on_")
	for _, suffix := range []string{"_start", "_stream", "_end", "_error", "_event"} {
		if strings.HasSuffix(s, suffix) {
			return strings.TrimSuffix(s, suffix)
		}
	}
	return s
}

// Envelope is the unit handed to stream consumers. Data holds the
// kind-specific payload, Metadata and Tags describe the emitting run.
type Envelope struct {
	Event     Kind           `json:"event"`
	Name      string         `json:"name"`
	RunID     string         `json:"run_id"`
	ParentIDs []string       `json:"parent_ids"`
	Data      map[string]any `json:"data"`
	Metadata  map[string]any `json:"metadata"`
	Tags      []string       `json:"tags"`
	Timestamp time.Time      `json:"timestamp"`
}

// Attrs carries the optional envelope fields builders accept.
type Attrs struct {
	ParentIDs []string
	Metadata  map[string]any
	Tags      []string
}

// New builds an envelope for kind, stamping the timestamp and
// normalizing every collection so consumers never see nil. Empty parent
// id entries are dropped.
func New(kind Kind, runID, name string, data map[string]any, attrs Attrs) Envelope {
	if data == nil {
		data = map[string]any{}
	}
	parents := make([]string, 0, len(attrs.ParentIDs))
	for _, pid := range attrs.ParentIDs {
		if pid == "" {
			continue
		}
		parents = append(parents, pid)
	}
	metadata := attrs.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	tags := make([]string, 0, len(attrs.Tags))
	tags = append(tags, attrs.Tags...)
	return Envelope{
		Event:     kind,
		Name:      name,
		RunID:     runID,
		ParentIDs: parents,
		Data:      data,
		Metadata:  metadata,
		Tags:      tags,
		Timestamp: time.Now().UTC(),
	}
}

func ChainStart(runID, name string, inputs any, attrs Attrs) Envelope {
	return New(KindChainStart, runID, name, map[string]any{"inputs": inputs}, attrs)
}

func ChainStream(runID, name string, chunk any, attrs Attrs) Envelope {
	return New(KindChainStream, runID, name, map[string]any{"chunk": chunk}, attrs)
}

func ChainEnd(runID, name string, output any, attrs Attrs) Envelope {
	return New(KindChainEnd, runID, name, map[string]any{"output": output}, attrs)
}

func LLMStart(runID, name string, messages []map[string]any, attrs Attrs) Envelope {
	return New(KindLLMStart, runID, name, map[string]any{"messages": messages}, attrs)
}

func LLMStream(runID, name, token string, chunk any, attrs Attrs) Envelope {
	data := map[string]any{"token": token}
	if chunk != nil {
		data["chunk"] = chunk
	}
	return New(KindLLMStream, runID, name, data, attrs)
}

func LLMEnd(runID, name string, response any, attrs Attrs) Envelope {
	return New(KindLLMEnd, runID, name, map[string]any{"response": response}, attrs)
}

func ToolStart(runID, name string, input any, attrs Attrs) Envelope {
	return New(KindToolStart, runID, name, map[string]any{"input": input}, attrs)
}

func ToolEnd(runID, name string, output any, attrs Attrs) Envelope {
	return New(KindToolEnd, runID, name, map[string]any{"output": output}, attrs)
}

func RetrieverStart(runID, name string, query any, attrs Attrs) Envelope {
	return New(KindRetrieverStart, runID, name, map[string]any{"input": query}, attrs)
}

func RetrieverEnd(runID, name string, documents any, attrs Attrs) Envelope {
	return New(KindRetrieverEnd, runID, name, map[string]any{"output": documents}, attrs)
}

func PromptStart(runID, name string, inputs any, attrs Attrs) Envelope {
	return New(KindPromptStart, runID, name, map[string]any{"input": inputs}, attrs)
}

func PromptEnd(runID, name string, output any, attrs Attrs) Envelope {
	return New(KindPromptEnd, runID, name, map[string]any{"output": output}, attrs)
}

// Custom builds an on_custom_event envelope with caller-owned data.
func Custom(runID, name string, data map[string]any, attrs Attrs) Envelope {
	return New(KindCustom, runID, name, data, attrs)
}

// ErrorEvent builds the error envelope for kind. The payload shape is
// the same for every error kind.
func ErrorEvent(kind Kind, runID, name string, err error, attrs Attrs) Envelope {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return New(kind, runID, name, map[string]any{
		"error":      msg,
		"error_type": errorTypeName(err),
	}, attrs)
}

// errorTypeName reports the unqualified type name of err, indirecting
// pointers so *fs.PathError and fs.PathError agree.
func errorTypeName(err error) string {
	if err == nil {
		return ""
	}
	t := reflect.TypeOf(err)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if name := t.Name(); name != "" {
		return name
	}
	return t.String()
}
