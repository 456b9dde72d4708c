package agent

import (
	"testing"
)

func drainFrames(sub *Subscription) []Frame {
	var frames []Frame
	for frame := range sub.Frames() {
		frames = append(frames, frame)
	}
	return frames
}

// TestHubPublishOrder tests that a subscriber sees frames in publish order
func TestHubPublishOrder(t *testing.T) {
	hub := NewHub("conv-1", "reply-1")
	sub := hub.Subscribe()

	hub.Publish(Frame{Type: FrameChunk, Payload: ChunkPayload{Content: "a"}})
	hub.Publish(Frame{Type: FrameChunk, Payload: ChunkPayload{Content: "b"}})
	hub.Close(ReasonDone, "")

	frames := drainFrames(sub)
	if len(frames) != 3 {
		t.Fatalf("Expected 3 frames, got %d", len(frames))
	}
	if frames[0].Payload.(ChunkPayload).Content != "a" || frames[1].Payload.(ChunkPayload).Content != "b" {
		t.Errorf("Frames out of order: %+v", frames)
	}
	if frames[2].Type != FrameDone {
		t.Errorf("Expected done as final frame, got %s", frames[2].Type)
	}
}

// TestHubCancelledClose tests the cancelled terminal sequence
func TestHubCancelledClose(t *testing.T) {
	hub := NewHub("conv-1", "reply-1")
	sub := hub.Subscribe()

	hub.Close(ReasonCancelled, "stopped by user")

	frames := drainFrames(sub)
	if len(frames) != 2 {
		t.Fatalf("Expected cancelled then done, got %d frames", len(frames))
	}
	if frames[0].Type != FrameCancelled {
		t.Errorf("Expected cancelled frame first, got %s", frames[0].Type)
	}
	if frames[0].Payload.(CancelledPayload).Message != "stopped by user" {
		t.Errorf("Unexpected cancel message: %+v", frames[0].Payload)
	}
	if frames[1].Type != FrameDone {
		t.Errorf("Expected done frame last, got %s", frames[1].Type)
	}
}

// TestHubFailedClose tests the failed terminal sequence
func TestHubFailedClose(t *testing.T) {
	hub := NewHub("conv-1", "reply-1")
	sub := hub.Subscribe()

	hub.Close(ReasonFailed, "agent exited unexpectedly")

	frames := drainFrames(sub)
	if len(frames) != 2 {
		t.Fatalf("Expected error then done, got %d frames", len(frames))
	}
	if frames[0].Type != FrameError {
		t.Errorf("Expected error frame first, got %s", frames[0].Type)
	}
}

// TestHubCloseOnce tests that only the first close publishes terminal frames
func TestHubCloseOnce(t *testing.T) {
	hub := NewHub("conv-1", "reply-1")
	sub := hub.Subscribe()

	hub.Close(ReasonDone, "")
	hub.Close(ReasonCancelled, "late interrupt")
	hub.Publish(Frame{Type: FrameChunk, Payload: ChunkPayload{Content: "late"}})

	frames := drainFrames(sub)
	if len(frames) != 1 || frames[0].Type != FrameDone {
		t.Errorf("Expected a single done frame, got %+v", frames)
	}
	if !hub.Closed() {
		t.Error("Expected hub to report closed")
	}
}

// TestHubSubscribeAfterClose tests that a late subscriber gets end-of-stream
func TestHubSubscribeAfterClose(t *testing.T) {
	hub := NewHub("conv-1", "reply-1")
	hub.Close(ReasonDone, "")

	sub := hub.Subscribe()
	if _, open := <-sub.Frames(); open {
		t.Error("Expected closed channel for late subscriber")
	}
}

// TestHubSlowSubscriberDropped tests that a full buffer detaches only that subscriber
func TestHubSlowSubscriberDropped(t *testing.T) {
	hub := NewHub("conv-1", "reply-1")
	slow := hub.Subscribe()
	_ = slow // never drained

	for i := 0; i < subscriptionBuffer+1; i++ {
		hub.Publish(Frame{Type: FrameChunk, Payload: ChunkPayload{Content: "x"}})
	}

	// The slow subscriber's channel must be closed after its buffer filled
	count := 0
	for range slow.Frames() {
		count++
	}
	if count != subscriptionBuffer {
		t.Errorf("Expected exactly %d buffered frames, got %d", subscriptionBuffer, count)
	}

	// The hub keeps working for a new subscriber
	fresh := hub.Subscribe()
	hub.Publish(Frame{Type: FrameChunk, Payload: ChunkPayload{Content: "y"}})
	hub.Close(ReasonDone, "")

	frames := drainFrames(fresh)
	if len(frames) != 2 {
		t.Errorf("Expected fresh subscriber to get chunk and done, got %d frames", len(frames))
	}
}

// TestHubCancelSubscription tests detaching a consumer mid-stream
func TestHubCancelSubscription(t *testing.T) {
	hub := NewHub("conv-1", "reply-1")
	sub := hub.Subscribe()

	sub.Cancel()
	sub.Cancel() // second cancel must be harmless

	hub.Publish(Frame{Type: FrameChunk, Payload: ChunkPayload{Content: "a"}})
	hub.Close(ReasonDone, "")

	frames := drainFrames(sub)
	if len(frames) != 0 {
		t.Errorf("Expected no frames after cancel, got %d", len(frames))
	}
}
