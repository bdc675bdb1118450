package streaming

import "time"

// EventType is the closed tag set for stream events (SPEC_FULL §3).
type EventType string

const (
	EventChunk      EventType = "chunk"
	EventToolStart  EventType = "tool_start"
	EventToolResult EventType = "tool_result"
	EventThinking   EventType = "thinking"
	EventOffset     EventType = "offset"
	EventError      EventType = "error"
	EventComplete   EventType = "complete"
	EventCancelled  EventType = "cancelled"
)

// Payload is implemented by every variant-specific data struct. It exists
// only to keep Event.Data a closed, typed union instead of a bare
// interface{}; the Kind must always agree with the Event's own Type.
type Payload interface {
	Kind() EventType
}

// ChunkData is a token or token-batch from the LLM.
type ChunkData struct {
	Text       string `json:"text"`
	IsDelta    bool   `json:"is_delta"`
	TokenCount *int   `json:"token_count,omitempty"`
}

func (ChunkData) Kind() EventType { return EventChunk }

// ToolStartData announces a tool invocation the LLM requested.
type ToolStartData struct {
	ToolName   string         `json:"tool_name"`
	ToolInput  map[string]any `json:"tool_input"`
	ToolCallID string         `json:"tool_call_id"`
}

func (ToolStartData) Kind() EventType { return EventToolStart }

// ToolResultData carries the outcome of a tool invocation.
type ToolResultData struct {
	ToolName        string  `json:"tool_name"`
	ToolCallID      string  `json:"tool_call_id"`
	Result          any     `json:"result,omitempty"`
	ExecutionTimeMs *int64  `json:"execution_time_ms,omitempty"`
	Error           *string `json:"error,omitempty"`
}

func (ToolResultData) Kind() EventType { return EventToolResult }

// ThinkingData carries intermediate reasoning text, emitted only when the
// agent run was configured with show_thinking.
type ThinkingData struct {
	Text string  `json:"text"`
	Step *string `json:"step,omitempty"`
}

func (ThinkingData) Kind() EventType { return EventThinking }

// OffsetData is the synthetic checkpoint event emitted by the Core at
// checkpoint_interval boundaries (SPEC_FULL §4.E processing loop).
type OffsetData struct {
	CheckpointData map[string]any `json:"checkpoint_data"`
	IsRecoverable  bool           `json:"is_recoverable"`
}

func (OffsetData) Kind() EventType { return EventOffset }

// ErrorData is the synthetic terminal event for a producer failure, or an
// inline error surfaced by the Agent Adapter (tool iteration limit,
// provider error).
type ErrorData struct {
	ErrorCode     string         `json:"error_code"`
	Message       string         `json:"message"`
	Details       map[string]any `json:"details,omitempty"`
	IsRecoverable bool           `json:"is_recoverable"`
}

func (ErrorData) Kind() EventType { return EventError }

// CompleteData is the synthetic terminal event for a normally-finished run.
type CompleteData struct {
	FinalOffset  uint64  `json:"final_offset"`
	TotalTokens  *int    `json:"total_tokens,omitempty"`
	FinishReason *string `json:"finish_reason,omitempty"`
}

func (CompleteData) Kind() EventType { return EventComplete }

// CancelledData is the synthetic terminal event for a cancelled run.
type CancelledData struct {
	Reason           *string `json:"reason,omitempty"`
	CancelledAtOffset uint64 `json:"cancelled_at_offset"`
}

func (CancelledData) Kind() EventType { return EventCancelled }

// Event is the immutable unit the Streaming Core assigns an offset to and
// the Buffer stores. Offset is the Core's own index, assigned exactly once
// (SPEC_FULL §4.A); the zero value is a placeholder an event carries before
// the Core processes it.
type Event struct {
	Type      EventType
	Offset    uint64
	Timestamp time.Time
	SessionID string
	Data      Payload
}

// NewEvent constructs a placeholder event (Offset=0) ready to be handed to
// the Core; the Core is the only component that calls WithOffset.
func NewEvent(sessionID string, data Payload) Event {
	return Event{
		Type:      data.Kind(),
		Offset:    0,
		Timestamp: time.Time{},
		SessionID: sessionID,
		Data:      data,
	}
}

// WithOffset returns a copy of e with the offset and timestamp assigned.
// Events are value objects: this never mutates e in place, so no
// un-indexed intermediate state is ever visible to another goroutine
// holding a reference to the original.
func (e Event) WithOffset(offset uint64, sessionID string, at time.Time) Event {
	e.Offset = offset
	e.SessionID = sessionID
	e.Timestamp = at
	return e
}

// WirePayload is the JSON shape returned by ToWirePayload, per SPEC_FULL §3
// and §6.1: {type, offset, timestamp, session_id, sequence, data}.
type WirePayload struct {
	Type      EventType `json:"type"`
	Offset    uint64    `json:"offset"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id"`
	Sequence  uint64    `json:"sequence"`
	Data      Payload   `json:"data"`
}

// ToWirePayload builds the wire representation of e. sequence is supplied
// by the caller (the Emitter), since it is assigned independently of
// offset at emission time, never stored on Event itself.
func (e Event) ToWirePayload(sequence uint64) WirePayload {
	return WirePayload{
		Type:      e.Type,
		Offset:    e.Offset,
		Timestamp: e.Timestamp,
		SessionID: e.SessionID,
		Sequence:  sequence,
		Data:      e.Data,
	}
}
