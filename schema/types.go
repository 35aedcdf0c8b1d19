package schema

import "time"

// SessionID identifies one interactive chat session.
type SessionID string

// TurnID identifies one request/response exchange inside a session.
type TurnID int

// ModelID identifies a model served by the chat endpoint.
type ModelID string

// Role is the author of a conversation entry.
type Role string

const (
	// RoleSystem is an instruction entry sent ahead of the conversation.
	RoleSystem Role = "system"
	// RoleUser is an entry typed by the user.
	RoleUser Role = "user"
	// RoleAssistant is an answer produced by the model.
	RoleAssistant Role = "assistant"
)

// Message is one conversation entry as sent to the chat endpoint.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// SegmentKind classifies a span of streamed response text.
type SegmentKind string

const (
	// SegmentAnswer is final answer text.
	SegmentAnswer SegmentKind = "answer"
	// SegmentThinking is reasoning text emitted between think markers.
	SegmentThinking SegmentKind = "thinking"
)

// Segment is a classified, boundary-correct span of response text.
// A segment flushed on a line break keeps its trailing newline.
type Segment struct {
	Kind SegmentKind
	Text string
}

// IsThinking reports whether the segment carries reasoning text.
func (s Segment) IsThinking() bool {
	return s.Kind == SegmentThinking
}

// RawEventLine is one line of the chat completion event stream.
type RawEventLine string

// StreamEventType identifies a decoded stream event.
type StreamEventType string

const (
	// StreamDelta carries one delta token.
	StreamDelta StreamEventType = "delta"
	// StreamDone marks the stream terminator.
	StreamDone StreamEventType = "done"
)

// StreamEvent is a decoded event from the chat completion stream.
type StreamEvent struct {
	Type  StreamEventType
	Delta string
	// FinishReason is set when the upstream reports why generation stopped.
	FinishReason string
}

// TurnStart describes a turn about to stream.
type TurnStart struct {
	Session SessionID
	Turn    TurnID
	Model   ModelID
	Prompt  string
	Started time.Time
}

// TurnEnd describes how a turn finished.
type TurnEnd struct {
	Session  SessionID
	Turn     TurnID
	Answer   string
	Segments int
	Skipped  int
	Duration time.Duration
	// Err is nil when the stream reached its terminator.
	Err error
}

// ModelInfo describes one entry of the model listing.
type ModelInfo struct {
	ID      ModelID `json:"id"`
	Object  string  `json:"object,omitempty"`
	Created int64   `json:"created,omitempty"`
	OwnedBy string  `json:"owned_by,omitempty"`
}
