package web

import (
	"encoding/json"
	"time"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/rweb"

	"studio/agent"
)

const (
	sseHeartbeatInterval = 30 * time.Second
	// If the transport stops draining for this long the client is gone
	sseSendTimeout = 10 * time.Second
)

// streamReply drives the SSE response for one reply from its hub
// subscription. The start frame goes out first, a heartbeat covers idle
// periods, and the stream ends after the hub's done frame.
func (h *Handlers) streamReply(c rweb.Context, result *agent.SendResult) error {
	c.Response().SetHeader("Cache-Control", "no-cache")
	c.Response().SetHeader("Connection", "keep-alive")
	c.Response().SetHeader("X-Accel-Buffering", "no")

	events := make(chan any, 8)
	go pumpFrames(result, events)

	h.s.SetupSSE(c, events, "")
	return nil
}

// pumpFrames converts hub frames into SSE events until the subscription
// closes. A send that cannot complete within the timeout means the consumer
// disconnected; the subscription is released and the reply continues for the
// socket bus subscribers.
func pumpFrames(result *agent.SendResult, events chan any) {
	defer close(events)

	startEvent, ok := sseEvent(agent.Frame{
		Type: agent.FrameStart,
		Payload: agent.StartPayload{
			ConversationID: result.ConversationID,
			ReplyID:        result.ReplyID,
		},
	})
	if ok && !deliver(events, startEvent) {
		result.Subscription.Cancel()
		return
	}

	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case frame, open := <-result.Subscription.Frames():
			if !open {
				return
			}
			heartbeat.Reset(sseHeartbeatInterval)
			ev, ok := sseEvent(frame)
			if !ok {
				continue
			}
			if !deliver(events, ev) {
				result.Subscription.Cancel()
				return
			}

		case <-heartbeat.C:
			ev, _ := sseEvent(agent.Frame{Type: agent.FrameHeartbeat, Payload: struct{}{}})
			if !deliver(events, ev) {
				result.Subscription.Cancel()
				return
			}
		}
	}
}

func deliver(events chan any, ev rweb.SSEvent) bool {
	select {
	case events <- ev:
		return true
	case <-time.After(sseSendTimeout):
		logger.Debug("SSE consumer stopped reading, dropping stream")
		return false
	}
}

func sseEvent(frame agent.Frame) (rweb.SSEvent, bool) {
	data, err := json.Marshal(frame.Payload)
	if err != nil {
		logger.LogErr(err, "failed to marshal SSE payload", "type", string(frame.Type))
		return rweb.SSEvent{}, false
	}
	return rweb.SSEvent{
		Type: string(frame.Type),
		Data: string(data),
	}, true
}
