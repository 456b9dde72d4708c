package web

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rohanthewiz/rweb"

	"studio/agent"
)

func collectSSE(t *testing.T, events chan any) []rweb.SSEvent {
	t.Helper()
	var out []rweb.SSEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, open := <-events:
			if !open {
				return out
			}
			sse, ok := ev.(rweb.SSEvent)
			if !ok {
				t.Fatalf("Expected rweb.SSEvent, got %T", ev)
			}
			out = append(out, sse)
		case <-timeout:
			t.Fatal("Timed out waiting for SSE events")
		}
	}
}

// TestPumpFramesStartAndDone tests the frame-to-SSE conversion end to end
func TestPumpFramesStartAndDone(t *testing.T) {
	hub := agent.NewHub("conv-1", "reply-1")
	sub := hub.Subscribe()
	result := &agent.SendResult{
		ConversationID: "conv-1",
		ReplyID:        "reply-1",
		Subscription:   sub,
	}

	events := make(chan any, 16)
	go pumpFrames(result, events)

	hub.Publish(agent.Frame{Type: agent.FrameChunk, Payload: agent.ChunkPayload{Content: "hi"}})
	hub.Close(agent.ReasonDone, "")

	out := collectSSE(t, events)
	if len(out) != 3 {
		t.Fatalf("Expected start, chunk, done; got %d events", len(out))
	}

	if out[0].Type != string(agent.FrameStart) {
		t.Errorf("Expected start event first, got %s", out[0].Type)
	}
	var start agent.StartPayload
	if err := json.Unmarshal([]byte(out[0].Data.(string)), &start); err != nil {
		t.Fatalf("Start payload is not JSON: %v", err)
	}
	if start.ConversationID != "conv-1" || start.ReplyID != "reply-1" {
		t.Errorf("Unexpected start payload: %+v", start)
	}

	if out[1].Type != string(agent.FrameChunk) {
		t.Errorf("Expected chunk event, got %s", out[1].Type)
	}
	var chunk agent.ChunkPayload
	if err := json.Unmarshal([]byte(out[1].Data.(string)), &chunk); err != nil || chunk.Content != "hi" {
		t.Errorf("Unexpected chunk payload: %s", out[1].Data)
	}

	if out[2].Type != string(agent.FrameDone) {
		t.Errorf("Expected done event last, got %s", out[2].Type)
	}
}

// TestPumpFramesCancelled tests that an interrupt surfaces before the stream ends
func TestPumpFramesCancelled(t *testing.T) {
	hub := agent.NewHub("conv-1", "reply-1")
	sub := hub.Subscribe()
	result := &agent.SendResult{
		ConversationID: "conv-1",
		ReplyID:        "reply-1",
		Subscription:   sub,
	}

	events := make(chan any, 16)
	go pumpFrames(result, events)

	hub.Close(agent.ReasonCancelled, "stopped")

	out := collectSSE(t, events)
	if len(out) != 3 {
		t.Fatalf("Expected start, cancelled, done; got %d events", len(out))
	}
	if out[1].Type != string(agent.FrameCancelled) {
		t.Errorf("Expected cancelled event, got %s", out[1].Type)
	}
	if out[2].Type != string(agent.FrameDone) {
		t.Errorf("Expected done event last, got %s", out[2].Type)
	}
}
