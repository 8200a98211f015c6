package callbacks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// HookError wraps a failure from a single handler hook. Dispatch returns
// it (possibly joined with others) only for handlers that opted in via
// Options.RaiseError.
type HookError struct {
	Hook    string
	Handler Handler
	Err     error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("callback hook %s: %v", e.Hook, e.Err)
}

func (e *HookError) Unwrap() error { return e.Err }

// registration caches the capability assertions for one handler so
// dispatch never re-discovers hooks.
type registration struct {
	handler   Handler
	llm       LLMHandler
	chain     ChainHandler
	tool      ToolHandler
	retriever RetrieverHandler
	prompt    PromptHandler
}

func register(h Handler) registration {
	r := registration{handler: h}
	if v, ok := h.(LLMHandler); ok {
		r.llm = v
	}
	if v, ok := h.(ChainHandler); ok {
		r.chain = v
	}
	if v, ok := h.(ToolHandler); ok {
		r.tool = v
	}
	if v, ok := h.(RetrieverHandler); ok {
		r.retriever = v
	}
	if v, ok := h.(PromptHandler); ok {
		r.prompt = v
	}
	return r
}

// Manager broadcasts hook invocations to its handlers. Every handler
// that subscribes to a category receives every invocation; one failing
// handler never blocks delivery to the others.
type Manager struct {
	mu        sync.RWMutex
	regs      []registration
	swallowed atomic.Int64
}

type ManagerOption func(*Manager)

func WithHandlers(handlers ...Handler) ManagerOption {
	return func(m *Manager) { m.Add(handlers...) }
}

func New(opts ...ManagerOption) *Manager {
	m := &Manager{}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// FromCallbacks builds a manager from whatever callback configuration a
// caller hands over: nil, a single Handler, a []Handler, a []any whose
// non-handler elements are dropped, or another *Manager (its handlers
// are copied). Anything else yields an empty manager.
func FromCallbacks(callbacks any) *Manager {
	switch v := callbacks.(type) {
	case nil:
		return New()
	case *Manager:
		if v == nil {
			return New()
		}
		return New(WithHandlers(v.Handlers()...))
	case Handler:
		return New(WithHandlers(v))
	case []Handler:
		return New(WithHandlers(v...))
	case []any:
		m := New()
		for _, item := range v {
			if h, ok := item.(Handler); ok {
				m.Add(h)
			}
		}
		return m
	default:
		return New()
	}
}

func (m *Manager) Add(handlers ...Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range handlers {
		if h == nil {
			continue
		}
		m.regs = append(m.regs, register(h))
	}
}

// Handlers returns the registered handlers in registration order.
func (m *Manager) Handlers() []Handler {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Handler, 0, len(m.regs))
	for _, r := range m.regs {
		out = append(out, r.handler)
	}
	return out
}

// Merge returns a new manager with the receiver's handlers followed by
// the other configuration's, duplicates preserved. It accepts the same
// shapes as FromCallbacks.
func (m *Manager) Merge(other any) *Manager {
	merged := New(WithHandlers(m.Handlers()...))
	merged.Add(FromCallbacks(other).Handlers()...)
	return merged
}

// SwallowedErrors reports how many hook errors have been dropped on
// behalf of handlers without RaiseError.
func (m *Manager) SwallowedErrors() int64 {
	return m.swallowed.Load()
}

func (m *Manager) snapshot() []registration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]registration, len(m.regs))
	copy(out, m.regs)
	return out
}

type hookCall struct {
	handler Handler
	invoke  func(context.Context) error
}

// dispatch fans one hook invocation out to all subscribed handlers,
// waits for every one of them, and joins the errors of RaiseError
// handlers. Offloaded handlers run concurrently; inline handlers run on
// the caller's goroutine after the offloaded ones have been launched.
func (m *Manager) dispatch(ctx context.Context, hook string, calls []hookCall) error {
	if len(calls) == 0 {
		return nil
	}
	var (
		wg    sync.WaitGroup
		errMu sync.Mutex
		errs  []error
	)
	record := func(h Handler, err error) {
		if err == nil {
			return
		}
		if !h.Options().RaiseError {
			m.swallowed.Add(1)
			return
		}
		errMu.Lock()
		errs = append(errs, &HookError{Hook: hook, Handler: h, Err: err})
		errMu.Unlock()
	}
	run := func(c hookCall) {
		defer func() {
			if r := recover(); r != nil {
				record(c.handler, fmt.Errorf("handler panic: %v", r))
			}
		}()
		record(c.handler, c.invoke(ctx))
	}

	inline := make([]hookCall, 0, len(calls))
	for _, c := range calls {
		if c.handler.Options().Inline {
			inline = append(inline, c)
			continue
		}
		wg.Add(1)
		go func(c hookCall) {
			defer wg.Done()
			run(c)
		}(c)
	}
	for _, c := range inline {
		run(c)
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (m *Manager) OnLLMStart(ctx context.Context, event *LLMStart) error {
	if event == nil {
		event = &LLMStart{}
	}
	var calls []hookCall
	for _, r := range m.snapshot() {
		h := r.llm
		if h == nil || r.handler.Options().IgnoreLLM {
			continue
		}
		calls = append(calls, hookCall{r.handler, func(ctx context.Context) error { return h.OnLLMStart(ctx, event) }})
	}
	return m.dispatch(ctx, "on_llm_start", calls)
}

func (m *Manager) OnLLMToken(ctx context.Context, event *LLMToken) error {
	if event == nil {
		event = &LLMToken{}
	}
	var calls []hookCall
	for _, r := range m.snapshot() {
		h := r.llm
		if h == nil || r.handler.Options().IgnoreLLM {
			continue
		}
		calls = append(calls, hookCall{r.handler, func(ctx context.Context) error { return h.OnLLMToken(ctx, event) }})
	}
	return m.dispatch(ctx, "on_llm_new_token", calls)
}

func (m *Manager) OnLLMEnd(ctx context.Context, event *LLMEnd) error {
	if event == nil {
		event = &LLMEnd{}
	}
	var calls []hookCall
	for _, r := range m.snapshot() {
		h := r.llm
		if h == nil || r.handler.Options().IgnoreLLM {
			continue
		}
		calls = append(calls, hookCall{r.handler, func(ctx context.Context) error { return h.OnLLMEnd(ctx, event) }})
	}
	return m.dispatch(ctx, "on_llm_end", calls)
}

func (m *Manager) OnLLMError(ctx context.Context, event *LLMError) error {
	if event == nil {
		event = &LLMError{}
	}
	var calls []hookCall
	for _, r := range m.snapshot() {
		h := r.llm
		if h == nil || r.handler.Options().IgnoreLLM {
			continue
		}
		calls = append(calls, hookCall{r.handler, func(ctx context.Context) error { return h.OnLLMError(ctx, event) }})
	}
	return m.dispatch(ctx, "on_llm_error", calls)
}

func (m *Manager) OnChainStart(ctx context.Context, event *ChainStart) error {
	if event == nil {
		event = &ChainStart{}
	}
	var calls []hookCall
	for _, r := range m.snapshot() {
		h := r.chain
		if h == nil || r.handler.Options().IgnoreChain {
			continue
		}
		calls = append(calls, hookCall{r.handler, func(ctx context.Context) error { return h.OnChainStart(ctx, event) }})
	}
	return m.dispatch(ctx, "on_chain_start", calls)
}

func (m *Manager) OnChainEnd(ctx context.Context, event *ChainEnd) error {
	if event == nil {
		event = &ChainEnd{}
	}
	var calls []hookCall
	for _, r := range m.snapshot() {
		h := r.chain
		if h == nil || r.handler.Options().IgnoreChain {
			continue
		}
		calls = append(calls, hookCall{r.handler, func(ctx context.Context) error { return h.OnChainEnd(ctx, event) }})
	}
	return m.dispatch(ctx, "on_chain_end", calls)
}

func (m *Manager) OnChainError(ctx context.Context, event *ChainError) error {
	if event == nil {
		event = &ChainError{}
	}
	var calls []hookCall
	for _, r := range m.snapshot() {
		h := r.chain
		if h == nil || r.handler.Options().IgnoreChain {
			continue
		}
		calls = append(calls, hookCall{r.handler, func(ctx context.Context) error { return h.OnChainError(ctx, event) }})
	}
	return m.dispatch(ctx, "on_chain_error", calls)
}

func (m *Manager) OnToolStart(ctx context.Context, event *ToolStart) error {
	if event == nil {
		event = &ToolStart{}
	}
	var calls []hookCall
	for _, r := range m.snapshot() {
		h := r.tool
		if h == nil || r.handler.Options().IgnoreTool {
			continue
		}
		calls = append(calls, hookCall{r.handler, func(ctx context.Context) error { return h.OnToolStart(ctx, event) }})
	}
	return m.dispatch(ctx, "on_tool_start", calls)
}

func (m *Manager) OnToolEnd(ctx context.Context, event *ToolEnd) error {
	if event == nil {
		event = &ToolEnd{}
	}
	var calls []hookCall
	for _, r := range m.snapshot() {
		h := r.tool
		if h == nil || r.handler.Options().IgnoreTool {
			continue
		}
		calls = append(calls, hookCall{r.handler, func(ctx context.Context) error { return h.OnToolEnd(ctx, event) }})
	}
	return m.dispatch(ctx, "on_tool_end", calls)
}

func (m *Manager) OnToolError(ctx context.Context, event *ToolError) error {
	if event == nil {
		event = &ToolError{}
	}
	var calls []hookCall
	for _, r := range m.snapshot() {
		h := r.tool
		if h == nil || r.handler.Options().IgnoreTool {
			continue
		}
		calls = append(calls, hookCall{r.handler, func(ctx context.Context) error { return h.OnToolError(ctx, event) }})
	}
	return m.dispatch(ctx, "on_tool_error", calls)
}

func (m *Manager) OnRetrieverStart(ctx context.Context, event *RetrieverStart) error {
	if event == nil {
		event = &RetrieverStart{}
	}
	var calls []hookCall
	for _, r := range m.snapshot() {
		h := r.retriever
		if h == nil || r.handler.Options().IgnoreRetriever {
			continue
		}
		calls = append(calls, hookCall{r.handler, func(ctx context.Context) error { return h.OnRetrieverStart(ctx, event) }})
	}
	return m.dispatch(ctx, "on_retriever_start", calls)
}

func (m *Manager) OnRetrieverEnd(ctx context.Context, event *RetrieverEnd) error {
	if event == nil {
		event = &RetrieverEnd{}
	}
	var calls []hookCall
	for _, r := range m.snapshot() {
		h := r.retriever
		if h == nil || r.handler.Options().IgnoreRetriever {
			continue
		}
		calls = append(calls, hookCall{r.handler, func(ctx context.Context) error { return h.OnRetrieverEnd(ctx, event) }})
	}
	return m.dispatch(ctx, "on_retriever_end", calls)
}

func (m *Manager) OnRetrieverError(ctx context.Context, event *RetrieverError) error {
	if event == nil {
		event = &RetrieverError{}
	}
	var calls []hookCall
	for _, r := range m.snapshot() {
		h := r.retriever
		if h == nil || r.handler.Options().IgnoreRetriever {
			continue
		}
		calls = append(calls, hookCall{r.handler, func(ctx context.Context) error { return h.OnRetrieverError(ctx, event) }})
	}
	return m.dispatch(ctx, "on_retriever_error", calls)
}

func (m *Manager) OnPromptStart(ctx context.Context, event *PromptStart) error {
	if event == nil {
		event = &PromptStart{}
	}
	var calls []hookCall
	for _, r := range m.snapshot() {
		h := r.prompt
		if h == nil || r.handler.Options().IgnorePrompt {
			continue
		}
		calls = append(calls, hookCall{r.handler, func(ctx context.Context) error { return h.OnPromptStart(ctx, event) }})
	}
	return m.dispatch(ctx, "on_prompt_start", calls)
}

func (m *Manager) OnPromptEnd(ctx context.Context, event *PromptEnd) error {
	if event == nil {
		event = &PromptEnd{}
	}
	var calls []hookCall
	for _, r := range m.snapshot() {
		h := r.prompt
		if h == nil || r.handler.Options().IgnorePrompt {
			continue
		}
		calls = append(calls, hookCall{r.handler, func(ctx context.Context) error { return h.OnPromptEnd(ctx, event) }})
	}
	return m.dispatch(ctx, "on_prompt_end", calls)
}

func (m *Manager) OnPromptError(ctx context.Context, event *PromptError) error {
	if event == nil {
		event = &PromptError{}
	}
	var calls []hookCall
	for _, r := range m.snapshot() {
		h := r.prompt
		if h == nil || r.handler.Options().IgnorePrompt {
			continue
		}
		calls = append(calls, hookCall{r.handler, func(ctx context.Context) error { return h.OnPromptError(ctx, event) }})
	}
	return m.dispatch(ctx, "on_prompt_error", calls)
}
