package runnable

import (
	"strings"
	"sync"
	"time"

	"github.com/spoonai/stream-sdk-go/events"
	"github.com/spoonai/stream-sdk-go/schema"
)

// Status is the lifecycle position of a run inside a run log.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// RunError is the folded payload of an error event.
type RunError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// HistoryEntry records one event applied to a run.
type HistoryEntry struct {
	Event     events.Kind    `json:"event"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// RunState is the folded view of a single run. StartTime and EndTime
// stay zero until the matching start and terminal events arrive.
type RunState struct {
	RunID          string         `json:"run_id"`
	Name           string         `json:"name,omitempty"`
	Type           string         `json:"type,omitempty"`
	Status         Status         `json:"status"`
	StartTime      time.Time      `json:"start_time"`
	EndTime        time.Time      `json:"end_time"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Tags           []string       `json:"tags,omitempty"`
	ParentIDs      []string       `json:"parent_ids,omitempty"`
	Inputs         any            `json:"inputs,omitempty"`
	LastChunk      any            `json:"last_chunk,omitempty"`
	StreamedOutput []any          `json:"streamed_output,omitempty"`
	FinalOutput    any            `json:"final_output,omitempty"`
	Error          *RunError      `json:"error,omitempty"`
	History        []HistoryEntry `json:"history,omitempty"`
}

// PatchOp is one field change. Path names the changed RunState field in
// its wire spelling; a trailing "/-" marks an append.
type PatchOp struct {
	Path  string `json:"path"`
	Value any    `json:"value,omitempty"`
}

// Patch is the set of changes one event applied to its run state.
type Patch struct {
	RunID     string      `json:"run_id"`
	Event     events.Kind `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Ops       []PatchOp   `json:"ops"`
}

// RunLog folds an event stream into per-run states. A fresh state
// starts pending, moves to running on start and stream events, and
// settles on completed or error. Methods are safe for concurrent use.
type RunLog struct {
	mu    sync.Mutex
	runs  map[string]*RunState
	order []string
}

func NewRunLog() *RunLog {
	return &RunLog{runs: make(map[string]*RunState)}
}

// Apply folds one event into the log and reports the changes it
// caused. Replaying the patches of a run against an empty pending
// state rebuilds State for that run.
func (l *RunLog) Apply(e events.Envelope) Patch {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ops := l.annotate(e)
	ops = append(ops, applyPhase(entry, e)...)

	item := HistoryEntry{Event: e.Event, Timestamp: e.Timestamp, Data: e.Data}
	entry.History = append(entry.History, item)
	ops = append(ops, PatchOp{Path: "history/-", Value: item})

	return Patch{RunID: e.RunID, Event: e.Event, Timestamp: e.Timestamp, Ops: ops}
}

// State returns a copy of the folded state for the run, when present.
func (l *RunLog) State(runID string) (RunState, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.runs[runID]
	if !ok {
		return RunState{}, false
	}
	return snapshotState(entry), true
}

// States returns copies of every folded run state in first-seen order.
func (l *RunLog) States() []RunState {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]RunState, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, snapshotState(l.runs[id]))
	}
	return out
}

func (l *RunLog) annotate(e events.Envelope) (*RunState, []PatchOp) {
	entry, ok := l.runs[e.RunID]
	if !ok {
		entry = &RunState{RunID: e.RunID, Status: StatusPending}
		l.runs[e.RunID] = entry
		l.order = append(l.order, e.RunID)
	}

	var ops []PatchOp
	if entry.Name == "" && e.Name != "" {
		entry.Name = e.Name
		ops = append(ops, PatchOp{Path: "name", Value: e.Name})
	}
	if entry.Type == "" {
		entry.Type = runType(e.Event)
		ops = append(ops, PatchOp{Path: "type", Value: entry.Type})
	}
	if len(e.Metadata) > 0 {
		if entry.Metadata == nil {
			entry.Metadata = make(map[string]any, len(e.Metadata))
		}
		for k, v := range e.Metadata {
			entry.Metadata[k] = v
		}
		ops = append(ops, PatchOp{Path: "metadata", Value: schema.CloneMap(entry.Metadata)})
	}
	if mergeStrings(&entry.Tags, e.Tags) {
		ops = append(ops, PatchOp{Path: "tags", Value: copyStrings(entry.Tags)})
	}
	if mergeStrings(&entry.ParentIDs, e.ParentIDs) {
		ops = append(ops, PatchOp{Path: "parent_ids", Value: copyStrings(entry.ParentIDs)})
	}
	return entry, ops
}

func applyPhase(entry *RunState, e events.Envelope) []PatchOp {
	switch eventPhase(e.Event) {
	case phaseStart:
		entry.Status = StatusRunning
		entry.StartTime = e.Timestamp
		entry.Inputs = e.Data
		entry.Error = nil
		entry.FinalOutput = nil
		return []PatchOp{
			{Path: "status", Value: StatusRunning},
			{Path: "start_time", Value: e.Timestamp},
			{Path: "inputs", Value: e.Data},
		}
	case phaseStream:
		entry.Status = StatusRunning
		ops := []PatchOp{{Path: "status", Value: StatusRunning}}
		if chunk := streamedValue(e.Data); chunk != nil {
			entry.LastChunk = chunk
			entry.StreamedOutput = append(entry.StreamedOutput, chunk)
			ops = append(ops,
				PatchOp{Path: "last_chunk", Value: chunk},
				PatchOp{Path: "streamed_output/-", Value: chunk},
			)
		}
		return ops
	case phaseEnd:
		entry.Status = StatusCompleted
		entry.EndTime = e.Timestamp
		entry.FinalOutput = finalValue(e.Data)
		return []PatchOp{
			{Path: "status", Value: StatusCompleted},
			{Path: "end_time", Value: e.Timestamp},
			{Path: "final_output", Value: entry.FinalOutput},
		}
	case phaseError:
		entry.Status = StatusError
		entry.EndTime = e.Timestamp
		entry.Error = runErrorFromData(e.Data)
		return []PatchOp{
			{Path: "status", Value: StatusError},
			{Path: "end_time", Value: e.Timestamp},
			{Path: "error", Value: entry.Error},
		}
	default:
		return nil
	}
}

type phase int

const (
	phaseUpdate phase = iota
	phaseStart
	phaseStream
	phaseEnd
	phaseError
)

func eventPhase(k events.Kind) phase {
	s := string(k)
	switch {
	case strings.HasSuffix(s, "_start"):
		return phaseStart
	case strings.HasSuffix(s, "_stream"):
		return phaseStream
	case strings.HasSuffix(s, "_end"):
		return phaseEnd
	case strings.HasSuffix(s, "_error"):
		return phaseError
	default:
		return phaseUpdate
	}
}

func runType(k events.Kind) string {
	if t := k.Category(); t != "" {
		return t
	}
	return "chain"
}

// streamedValue picks the folded chunk for a stream event, preferring
// the structured chunk over the plain token.
func streamedValue(data map[string]any) any {
	if v, ok := data["chunk"]; ok && v != nil {
		return v
	}
	if v, ok := data["token"]; ok && v != nil {
		return v
	}
	return nil
}

func finalValue(data map[string]any) any {
	if v, ok := data["output"]; ok && v != nil {
		return v
	}
	if v, ok := data["response"]; ok && v != nil {
		return v
	}
	return nil
}

func runErrorFromData(data map[string]any) *RunError {
	re := &RunError{}
	if v, ok := data["error"].(string); ok {
		re.Message = v
	}
	if v, ok := data["error_type"].(string); ok {
		re.Type = v
	}
	return re
}

func mergeStrings(dst *[]string, src []string) bool {
	changed := false
	for _, v := range src {
		if v == "" || containsString(*dst, v) {
			continue
		}
		*dst = append(*dst, v)
		changed = true
	}
	return changed
}

func containsString(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}

func copyStrings(values []string) []string {
	return append([]string(nil), values...)
}

func snapshotState(entry *RunState) RunState {
	captured := *entry
	captured.Metadata = schema.CloneMap(entry.Metadata)
	captured.Tags = copyStrings(entry.Tags)
	captured.ParentIDs = copyStrings(entry.ParentIDs)
	captured.StreamedOutput = append([]any(nil), entry.StreamedOutput...)
	captured.History = append([]HistoryEntry(nil), entry.History...)
	return captured
}
