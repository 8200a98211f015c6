package callbacks

import (
	"context"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"github.com/spoonai/stream-sdk-go/schema"
)

// Stats is a point-in-time copy of the collector's counters.
type Stats struct {
	Model        string
	Provider     string
	TokenCount   int
	ChunkCount   int
	StartTime    time.Time
	EndTime      time.Time
	LastResponse any
}

func (s Stats) Duration() time.Duration {
	if s.StartTime.IsZero() || s.EndTime.IsZero() {
		return 0
	}
	return s.EndTime.Sub(s.StartTime)
}

// TokensPerSecond is +Inf for a zero duration: too fast to measure, not
// a division error.
func (s Stats) TokensPerSecond() float64 {
	d := s.Duration().Seconds()
	if d > 0 {
		return float64(s.TokenCount) / d
	}
	return math.Inf(1)
}

// Statistics accumulates throughput counters for one streaming LLM run
// and renders a summary when the run finishes. Hooks may arrive on any
// goroutine.
type Statistics struct {
	BaseHandler

	mu           sync.Mutex
	autoPrint    bool
	print        func(string)
	now          func() time.Time
	model        string
	provider     string
	startTime    time.Time
	endTime      time.Time
	tokenCount   int
	chunkCount   int
	lastResponse any
}

type StatisticsOption func(*Statistics)

// WithAutoPrint disables or enables the end-of-run summary.
func WithAutoPrint(enabled bool) StatisticsOption {
	return func(s *Statistics) { s.autoPrint = enabled }
}

// WithPrintFunc redirects summary lines away from standard output.
func WithPrintFunc(fn func(string)) StatisticsOption {
	return func(s *Statistics) {
		if fn != nil {
			s.print = fn
		}
	}
}

// WithClock injects the time source, for deterministic tests.
func WithClock(now func() time.Time) StatisticsOption {
	return func(s *Statistics) {
		if now != nil {
			s.now = now
		}
	}
}

func NewStatistics(opts ...StatisticsOption) *Statistics {
	s := &Statistics{
		autoPrint: true,
		print:     func(line string) { fmt.Fprintln(os.Stdout, line) },
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Reset clears every counter, as a fresh run start does.
func (s *Statistics) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
}

func (s *Statistics) reset() {
	s.model = ""
	s.provider = ""
	s.startTime = time.Time{}
	s.endTime = time.Time{}
	s.tokenCount = 0
	s.chunkCount = 0
	s.lastResponse = nil
}

func (s *Statistics) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Model:        s.model,
		Provider:     s.provider,
		TokenCount:   s.tokenCount,
		ChunkCount:   s.chunkCount,
		StartTime:    s.startTime,
		EndTime:      s.endTime,
		LastResponse: s.lastResponse,
	}
}

func (s *Statistics) OnLLMStart(ctx context.Context, event *LLMStart) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
	s.model = event.Model
	s.provider = event.Provider
	s.startTime = s.now()
	if s.autoPrint {
		model := event.Model
		if model == "" {
			model = "unknown model"
		}
		provider := event.Provider
		if provider == "" {
			provider = "provider n/a"
		}
		s.print(fmt.Sprintf("\n🚀 Streaming started with %s (%s)", model, provider))
	}
	return nil
}

func (s *Statistics) OnLLMToken(ctx context.Context, event *LLMToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokenCount++
	s.chunkCount++
	return nil
}

func (s *Statistics) OnLLMEnd(ctx context.Context, event *LLMEnd) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endTime = s.now()
	s.lastResponse = event.Response
	if !s.autoPrint {
		return nil
	}

	duration := time.Duration(0)
	if !s.startTime.IsZero() {
		duration = s.endTime.Sub(s.startTime)
	}
	seconds := duration.Seconds()
	tokensPerSecond := math.Inf(1)
	if seconds > 0 {
		tokensPerSecond = float64(s.tokenCount) / seconds
	}

	s.print("\n\n📊 Statistics:")
	s.print(fmt.Sprintf("   Total chunks: %d", s.chunkCount))
	s.print(fmt.Sprintf("   Total tokens: %d", s.tokenCount))
	s.print(fmt.Sprintf("   Duration: %.2fs", seconds))
	s.print(fmt.Sprintf("   Tokens/second: %.1f", tokensPerSecond))

	for _, line := range usageLines(event.Response) {
		s.print(line)
	}
	return nil
}

func (s *Statistics) OnLLMError(ctx context.Context, event *LLMError) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endTime = s.now()
	if s.autoPrint {
		s.print(fmt.Sprintf("\n❌ Streaming error: %v", event.Err))
	}
	return nil
}

// usageLines renders token usage from either a typed response or a raw
// payload map carrying a "usage" mapping. Missing keys report N/A.
func usageLines(response any) []string {
	switch r := response.(type) {
	case *schema.Response:
		if r == nil || r.Usage == nil {
			return nil
		}
		return []string{
			fmt.Sprintf("   Prompt tokens: %d", r.Usage.PromptTokens),
			fmt.Sprintf("   Completion tokens: %d", r.Usage.CompletionTokens),
			fmt.Sprintf("   Total tokens: %d", r.Usage.TotalTokens),
		}
	case schema.Response:
		return usageLines(&r)
	case map[string]any:
		usage, ok := r["usage"].(map[string]any)
		if !ok || len(usage) == 0 {
			return nil
		}
		return []string{
			fmt.Sprintf("   Prompt tokens: %s", usageValue(usage, "prompt_tokens")),
			fmt.Sprintf("   Completion tokens: %s", usageValue(usage, "completion_tokens")),
			fmt.Sprintf("   Total tokens: %s", usageValue(usage, "total_tokens")),
		}
	default:
		return nil
	}
}

func usageValue(usage map[string]any, key string) string {
	v, ok := usage[key]
	if !ok {
		return "N/A"
	}
	return fmt.Sprintf("%v", v)
}
