package agent

import (
	"sync"
	"time"

	"github.com/rohanthewiz/logger"
)

// subscriptionBuffer bounds each subscriber's frame queue. A subscriber that
// falls this far behind is detached rather than blocking the producer.
const subscriptionBuffer = 64

// CloseReason classifies how a reply's stream ended
type CloseReason string

const (
	ReasonDone      CloseReason = "done"
	ReasonCancelled CloseReason = "cancelled"
	ReasonFailed    CloseReason = "failed"
)

// Subscription is one consumer's handle on a reply's frame stream. The
// channel is closed on terminal event, detach, or Cancel.
type Subscription struct {
	frames chan Frame
	hub    *Hub
}

// Frames returns the subscriber's receive channel
func (s *Subscription) Frames() <-chan Frame {
	return s.frames
}

// Cancel detaches the subscription. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.hub.unsubscribe(s)
}

// Hub fans a reply's frames out to every active subscriber without ever
// blocking the producer. One hub per reply.
type Hub struct {
	conversationID string
	replyID        string

	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

// NewHub creates the fan-out hub for one reply
func NewHub(conversationID, replyID string) *Hub {
	return &Hub{
		conversationID: conversationID,
		replyID:        replyID,
		subs:           make(map[*Subscription]struct{}),
	}
}

// Subscribe registers a new consumer. On an already-closed hub the returned
// subscription's channel is closed immediately, yielding end-of-stream.
func (h *Hub) Subscribe() *Subscription {
	sub := &Subscription{
		frames: make(chan Frame, subscriptionBuffer),
		hub:    h,
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		close(sub.frames)
		return sub
	}
	h.subs[sub] = struct{}{}
	return sub
}

// Publish enqueues a frame on every subscription. A subscription whose buffer
// is full is detached; the rest are unaffected. Publishing after the terminal
// event is a no-op.
func (h *Hub) Publish(frame Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.publishLocked(frame)
}

func (h *Hub) publishLocked(frame Frame) {
	if h.closed {
		return
	}
	for sub := range h.subs {
		select {
		case sub.frames <- frame:
		default:
			logger.Warn("Dropping slow subscriber", "reply_id", h.replyID)
			delete(h.subs, sub)
			close(sub.frames)
		}
	}
}

// Close publishes the terminal frames for the given reason exactly once and
// ends every subscription. Later calls are no-ops.
func (h *Hub) Close(reason CloseReason, message string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}

	switch reason {
	case ReasonCancelled:
		h.publishLocked(Frame{Type: FrameCancelled, Payload: CancelledPayload{Message: message}})
	case ReasonFailed:
		h.publishLocked(Frame{Type: FrameError, Payload: ErrorPayload{Message: message}})
	}
	h.publishLocked(Frame{Type: FrameDone, Payload: DonePayload{
		ConversationID: h.conversationID,
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
	}})

	h.closed = true
	for sub := range h.subs {
		delete(h.subs, sub)
		close(sub.frames)
	}
}

// Closed reports whether the terminal event has been published
func (h *Hub) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *Hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	close(sub.frames)
}
