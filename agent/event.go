// Package agent implements the agent session orchestrator: subprocess
// supervision, event parsing and filtering, transcript accumulation, per-reply
// fan-out, and plan projection.
package agent

import (
	"encoding/json"

	"github.com/rohanthewiz/logger"
)

// EventType discriminates inbound agent events
type EventType string

const (
	EventText        EventType = "text"
	EventThinking    EventType = "thinking"
	EventToolCall    EventType = "tool_call"
	EventToolResult  EventType = "tool_result"
	EventCoordinator EventType = "coordinator_event"
)

// Event is one structured event received from an agent callback.
// Which fields are populated depends on Type.
type Event struct {
	Type      EventType       `json:"type"`
	Content   string          `json:"content,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	Output    string          `json:"output,omitempty"`
	Success   bool            `json:"success,omitempty"`
	CoordType string          `json:"event_type,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ParseEvents decodes a raw JSON array of agent events. Malformed or
// unrecognized entries are skipped with a warning so one bad event never
// aborts a batch. Returns the parsed events and the number skipped.
func ParseEvents(raw json.RawMessage) ([]Event, int) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		logger.Warn("Event batch is not a JSON array, skipping", "error", err.Error())
		return nil, 1
	}

	events := make([]Event, 0, len(items))
	skipped := 0
	for _, item := range items {
		var ev Event
		if err := json.Unmarshal(item, &ev); err != nil {
			logger.Warn("Skipping malformed agent event", "error", err.Error())
			skipped++
			continue
		}
		switch ev.Type {
		case EventText, EventThinking, EventToolCall, EventToolResult, EventCoordinator:
			events = append(events, ev)
		default:
			logger.Warn("Skipping agent event with unknown type", "type", string(ev.Type))
			skipped++
		}
	}

	return events, skipped
}

type legacyMessage struct {
	Content json.RawMessage `json:"content"`
}

type legacyBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Thinking string `json:"thinking,omitempty"`
}

// ParseLegacyMessage converts the older msg callback form into events. The
// content is either a plain string or an array of text/thinking blocks.
func ParseLegacyMessage(raw json.RawMessage) ([]Event, int) {
	var msg legacyMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		logger.Warn("Skipping malformed legacy message", "error", err.Error())
		return nil, 1
	}

	var text string
	if err := json.Unmarshal(msg.Content, &text); err == nil {
		return []Event{{Type: EventText, Content: text}}, 0
	}

	var blocks []legacyBlock
	if err := json.Unmarshal(msg.Content, &blocks); err != nil {
		logger.Warn("Legacy message content is neither string nor blocks", "error", err.Error())
		return nil, 1
	}

	events := make([]Event, 0, len(blocks))
	skipped := 0
	for _, block := range blocks {
		switch block.Type {
		case "text":
			events = append(events, Event{Type: EventText, Content: block.Text})
		case "thinking":
			events = append(events, Event{Type: EventThinking, Content: block.Thinking})
		default:
			logger.Warn("Skipping legacy block with unknown type", "type", block.Type)
			skipped++
		}
	}

	return events, skipped
}

// FrameType names a downstream frame delivered to SSE and socket subscribers
type FrameType string

const (
	FrameStart       FrameType = "start"
	FrameChunk       FrameType = "chunk"
	FrameThinking    FrameType = "thinking"
	FrameToolCall    FrameType = "tool_call"
	FrameToolResult  FrameType = "tool_result"
	FrameCoordinator FrameType = "coordinator_event"
	FrameTestcases   FrameType = "testcases"
	FrameHeartbeat   FrameType = "heartbeat"
	FrameCancelled   FrameType = "cancelled"
	FrameDone        FrameType = "done"
	FrameError       FrameType = "error"
)

// Frame is one downstream event as delivered to subscribers. Payload is
// JSON-encoded at the transport edge.
type Frame struct {
	Type    FrameType   `json:"type"`
	Payload interface{} `json:"payload"`
}

// StartPayload opens every SSE stream
type StartPayload struct {
	ConversationID string `json:"conversation_id"`
	ReplyID        string `json:"reply_id"`
}

// ChunkPayload carries a text or thinking delta
type ChunkPayload struct {
	Content string `json:"content"`
}

// ToolCallPayload carries a visible tool invocation, name post display mapping
type ToolCallPayload struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResultPayload carries a visible tool result
type ToolResultPayload struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Output  string `json:"output"`
	Success bool   `json:"success"`
}

// CoordinatorPayload passes coordinator progress signals through unchanged
type CoordinatorPayload struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
}

// TestcaseData is the extracted testcase document
type TestcaseData struct {
	Status    string            `json:"status"`
	Count     int               `json:"count"`
	Testcases []json.RawMessage `json:"testcases"`
}

// TestcasesPayload wraps extracted testcases for the wire
type TestcasesPayload struct {
	Data TestcaseData `json:"data"`
}

// CancelledPayload notifies subscribers of a user interrupt
type CancelledPayload struct {
	Message string `json:"message"`
}

// DonePayload terminates every stream
type DonePayload struct {
	ConversationID string `json:"conversation_id"`
	Timestamp      string `json:"timestamp"`
}

// ErrorPayload reports a mid-stream failure
type ErrorPayload struct {
	Message string `json:"message"`
}
