package callbacks

import (
	"context"
	"io"
	"os"
)

// StdoutHandler writes tokens to a writer the moment they arrive, then a
// trailing newline when the stream ends. It runs inline so output order
// matches token order.
type StdoutHandler struct {
	BaseHandler
	w io.Writer
}

type StdoutOption func(*StdoutHandler)

func WithWriter(w io.Writer) StdoutOption {
	return func(h *StdoutHandler) {
		if w != nil {
			h.w = w
		}
	}
}

func NewStdoutHandler(opts ...StdoutOption) *StdoutHandler {
	h := &StdoutHandler{
		BaseHandler: BaseHandler{Opts: Options{Inline: true}},
		w:           os.Stdout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

func (h *StdoutHandler) OnLLMStart(ctx context.Context, event *LLMStart) error { return nil }

func (h *StdoutHandler) OnLLMToken(ctx context.Context, event *LLMToken) error {
	_, err := io.WriteString(h.w, event.Token)
	return err
}

func (h *StdoutHandler) OnLLMEnd(ctx context.Context, event *LLMEnd) error {
	_, err := io.WriteString(h.w, "\n")
	return err
}

func (h *StdoutHandler) OnLLMError(ctx context.Context, event *LLMError) error { return nil }
