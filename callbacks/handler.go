package callbacks

import "context"

// Options describes how the dispatcher treats a handler. The zero value
// is the common case: run offloaded, swallow hook errors, subscribe to
// every category.
type Options struct {
	// RaiseError surfaces this handler's hook errors to the dispatching
	// caller once every handler has completed.
	RaiseError bool
	// Inline runs hooks on the dispatching goroutine instead of a
	// spawned one.
	Inline bool

	IgnoreLLM       bool
	IgnoreChain     bool
	IgnoreTool      bool
	IgnoreRetriever bool
	IgnorePrompt    bool
}

// Handler is the base contract. Hooks live on the capability interfaces
// below; a handler only receives the categories it implements.
type Handler interface {
	Options() Options
}

// BaseHandler satisfies Handler with configurable options. Embed it and
// set Opts in the constructor.
type BaseHandler struct {
	Opts Options
}

func (b BaseHandler) Options() Options { return b.Opts }

// Call carries the routing fields shared by every hook payload. Extra
// holds caller keyword arguments that have no dedicated field.
type Call struct {
	RunID       string
	ParentRunID string
	ParentIDs   []string
	Extra       map[string]any
}

type LLMStart struct {
	Call
	Model    string
	Provider string
	Messages []any
}

type LLMToken struct {
	Call
	Model    string
	Provider string
	Token    string
	Chunk    any
}

type LLMEnd struct {
	Call
	Model    string
	Provider string
	Response any
}

type LLMError struct {
	Call
	Model    string
	Provider string
	Err      error
}

type ChainStart struct {
	Call
	Inputs any
}

type ChainEnd struct {
	Call
	Outputs any
}

type ChainError struct {
	Call
	Err error
}

type ToolStart struct {
	Call
	ToolName string
	Input    any
}

type ToolEnd struct {
	Call
	ToolName string
	Output   any
}

type ToolError struct {
	Call
	ToolName string
	Err      error
}

type RetrieverStart struct {
	Call
	RetrieverName string
	Query         any
}

type RetrieverEnd struct {
	Call
	RetrieverName string
	Documents     any
}

type RetrieverError struct {
	Call
	RetrieverName string
	Err           error
}

type PromptStart struct {
	Call
	PromptName string
	Inputs     any
}

type PromptEnd struct {
	Call
	PromptName string
	Output     any
}

type PromptError struct {
	Call
	PromptName string
	Err        error
}

type LLMHandler interface {
	Handler
	OnLLMStart(ctx context.Context, event *LLMStart) error
	OnLLMToken(ctx context.Context, event *LLMToken) error
	OnLLMEnd(ctx context.Context, event *LLMEnd) error
	OnLLMError(ctx context.Context, event *LLMError) error
}

type ChainHandler interface {
	Handler
	OnChainStart(ctx context.Context, event *ChainStart) error
	OnChainEnd(ctx context.Context, event *ChainEnd) error
	OnChainError(ctx context.Context, event *ChainError) error
}

type ToolHandler interface {
	Handler
	OnToolStart(ctx context.Context, event *ToolStart) error
	OnToolEnd(ctx context.Context, event *ToolEnd) error
	OnToolError(ctx context.Context, event *ToolError) error
}

type RetrieverHandler interface {
	Handler
	OnRetrieverStart(ctx context.Context, event *RetrieverStart) error
	OnRetrieverEnd(ctx context.Context, event *RetrieverEnd) error
	OnRetrieverError(ctx context.Context, event *RetrieverError) error
}

type PromptHandler interface {
	Handler
	OnPromptStart(ctx context.Context, event *PromptStart) error
	OnPromptEnd(ctx context.Context, event *PromptEnd) error
	OnPromptError(ctx context.Context, event *PromptError) error
}
