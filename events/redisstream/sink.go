// Package redisstream persists envelopes to a Redis Stream so detached
// consumers can tail a run from another process.
package redisstream

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/spoonai/stream-sdk-go/events"
)

const defaultPrefix = "spoonstream"

// Sink appends envelopes to a single Redis Stream entry by entry. It
// implements events.Sink.
type Sink struct {
	client   *goredis.Client
	addr     string
	password string
	db       int
	prefix   string
	stream   string
	maxLen   int64
}

type Option func(*Sink)

func WithClient(client *goredis.Client) Option {
	return func(s *Sink) {
		if client != nil {
			s.client = client
		}
	}
}

func WithPrefix(prefix string) Option {
	return func(s *Sink) {
		prefix = strings.TrimSpace(prefix)
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithStream overrides the full stream key instead of deriving it from
// the prefix.
func WithStream(stream string) Option {
	return func(s *Sink) {
		stream = strings.TrimSpace(stream)
		if stream != "" {
			s.stream = stream
		}
	}
}

// WithMaxLen caps the stream length with approximate trimming on every
// append. Zero keeps the stream unbounded.
func WithMaxLen(maxLen int64) Option {
	return func(s *Sink) {
		if maxLen > 0 {
			s.maxLen = maxLen
		}
	}
}

func WithPassword(password string) Option {
	return func(s *Sink) { s.password = password }
}

func WithDB(db int) Option {
	return func(s *Sink) { s.db = db }
}

func New(addr string, opts ...Option) (*Sink, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	s := &Sink{
		addr:   addr,
		prefix: defaultPrefix,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = goredis.NewClient(&goredis.Options{Addr: s.addr, Password: s.password, DB: s.db})
	}
	if err := s.client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	if s.stream == "" {
		s.stream = s.prefix + ":events"
	}
	return s, nil
}

// Stream is the key envelopes are appended to.
func (s *Sink) Stream() string {
	return s.stream
}

// Publish implements events.Sink.
func (s *Sink) Publish(ctx context.Context, e events.Envelope) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	args := &goredis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{"payload": string(payload)},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Len reports the current stream length.
func (s *Sink) Len(ctx context.Context) (int64, error) {
	n, err := s.client.XLen(ctx, s.stream).Result()
	if err != nil && err != goredis.Nil {
		return 0, fmt.Errorf("failed to read stream length: %w", err)
	}
	return n, nil
}

// Recent returns up to limit envelopes, newest first. Entries that no
// longer decode are skipped.
func (s *Sink) Recent(ctx context.Context, limit int) ([]events.Envelope, error) {
	if limit <= 0 {
		limit = 50
	}
	entries, err := s.client.XRevRangeN(ctx, s.stream, "+", "-", int64(limit)).Result()
	if err != nil {
		if err == goredis.Nil {
			return []events.Envelope{}, nil
		}
		return nil, fmt.Errorf("failed to list stream entries: %w", err)
	}
	out := make([]events.Envelope, 0, len(entries))
	for _, entry := range entries {
		payload, _ := entry.Values["payload"].(string)
		if payload == "" {
			continue
		}
		var e events.Envelope
		if err := json.Unmarshal([]byte(payload), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *Sink) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

var _ events.Sink = (*Sink)(nil)
