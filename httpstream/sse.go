// Package httpstream serves envelope streams to HTTP clients, as
// server-sent events for browsers and as NDJSON for pipes.
package httpstream

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/segmentio/encoding/json"

	"github.com/spoonai/stream-sdk-go/events"
)

const defaultKeepAlive = 15 * time.Second

type SSEOption func(*sseSettings)

type sseSettings struct {
	keepAlive time.Duration
}

// WithKeepAlive sets the interval between comment frames that hold
// idle connections open. The default is 15 seconds.
func WithKeepAlive(d time.Duration) SSEOption {
	return func(s *sseSettings) {
		if d > 0 {
			s.keepAlive = d
		}
	}
}

// SSEHandler streams the broadcaster's envelopes to each client as
// server-sent events, one `data:` frame per envelope. Clients can
// narrow the stream with `run_id` and `event` query parameters. The
// response ends when the client disconnects or the broadcaster
// closes.
func SSEHandler(b *Broadcaster, opts ...SSEOption) http.Handler {
	settings := sseSettings{keepAlive: defaultKeepAlive}
	for _, opt := range opts {
		if opt != nil {
			opt(&settings)
		}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		id, ch := b.Subscribe()
		defer b.Unsubscribe(id)

		runFilter := strings.TrimSpace(r.URL.Query().Get("run_id"))
		kindFilter := strings.TrimSpace(r.URL.Query().Get("event"))

		flusher.Flush()
		ping := time.NewTicker(settings.keepAlive)
		defer ping.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-ping.C:
				if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
					return
				}
				flusher.Flush()
			case e, ok := <-ch:
				if !ok {
					return
				}
				if !matchesFilter(e, runFilter, kindFilter) {
					continue
				}
				payload, err := json.Marshal(e)
				if err != nil {
					continue
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	})
}

func matchesFilter(e events.Envelope, runID, kind string) bool {
	if runID != "" && e.RunID != runID {
		return false
	}
	if kind != "" && string(e.Event) != kind {
		return false
	}
	return true
}

// WriteNDJSON renders src to w as one JSON object per line until the
// channel closes.
func WriteNDJSON(w io.Writer, src <-chan events.Envelope) error {
	enc := json.NewEncoder(w)
	for e := range src {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("encode envelope: %w", err)
		}
	}
	return nil
}
