// Package streaming folds provider response chunks into a final
// response, tolerating providers that resend full content snapshots as
// well as ones that emit pure deltas.
package streaming

import "github.com/spoonai/stream-sdk-go/schema"

// Outcome accumulates streaming output state. The zero value is ready
// to use.
type Outcome struct {
	Content      string
	FinishReason string
	Usage        *schema.Usage
	ToolCalls    []schema.ToolCall
}

// UpdateFromChunk applies one increment. A non-empty Content snapshot
// replaces the accumulated text, otherwise a non-empty Delta appends.
// Finish reason, usage and tool calls are last-write-wins.
func (o *Outcome) UpdateFromChunk(c *schema.ResponseChunk) {
	if c == nil {
		return
	}
	if c.Content != "" {
		o.Content = c.Content
	} else if c.Delta != "" {
		o.Content += c.Delta
	}
	if c.FinishReason != "" {
		o.FinishReason = c.FinishReason
	}
	if c.Usage != nil {
		o.Usage = c.Usage
	}
	if len(c.ToolCalls) > 0 {
		o.ToolCalls = append([]schema.ToolCall(nil), c.ToolCalls...)
	}
}

// UpdateFromResponse folds in a terminal response, for providers that
// deliver a final consolidated message after the chunk stream.
func (o *Outcome) UpdateFromResponse(r *schema.Response) {
	if r == nil {
		return
	}
	if r.Content != "" {
		o.Content = r.Content
	}
	finish := r.FinishReason
	if finish == "" {
		finish = r.NativeFinishReason
	}
	if finish != "" {
		o.FinishReason = finish
	}
	if len(r.ToolCalls) > 0 {
		o.ToolCalls = append([]schema.ToolCall(nil), r.ToolCalls...)
	}
}

// Response builds the final response. The finish reason defaults to
// "stop" when no chunk carried one.
func (o *Outcome) Response() *schema.Response {
	finish := o.FinishReason
	if finish == "" {
		finish = "stop"
	}
	return &schema.Response{
		Content:            o.Content,
		FinishReason:       finish,
		NativeFinishReason: finish,
		ToolCalls:          append([]schema.ToolCall(nil), o.ToolCalls...),
		Usage:              o.Usage,
	}
}
