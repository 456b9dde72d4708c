package web

import (
	"encoding/json"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/rweb"
	"github.com/rohanthewiz/serr"

	"studio/agent"
)

// pushMessageRequest is the agent callback body. The agent sends either a
// structured events array or the legacy msg form.
type pushMessageRequest struct {
	ReplyID string          `json:"replyId"`
	Events  json.RawMessage `json:"events,omitempty"`
	Msg     json.RawMessage `json:"msg,omitempty"`
}

type pushFinishedRequest struct {
	ReplyID string `json:"replyId"`
}

// authorizeHook enforces the shared-secret header when one is configured.
// With no token configured the endpoints trust the network, which matches
// a localhost-only deployment.
func (h *Handlers) authorizeHook(c rweb.Context) bool {
	if h.cfg.HookToken == "" {
		return true
	}
	return c.Request().Header("X-Studio-Token") == h.cfg.HookToken
}

// pushMessageHandler receives event batches from agent subprocesses.
// Unknown reply ids still answer success so the agent never retries an
// orphan callback.
func (h *Handlers) pushMessageHandler(c rweb.Context) error {
	if !h.authorizeHook(c) {
		return c.WriteError(serr.New("invalid hook token"), 403)
	}

	var req pushMessageRequest
	if err := json.Unmarshal(c.Request().Body(), &req); err != nil {
		return c.WriteError(serr.Wrap(err, "invalid callback body"), 400)
	}
	if req.ReplyID == "" {
		return c.WriteError(serr.New("replyId is required"), 400)
	}

	var events []agent.Event
	var skipped int
	switch {
	case len(req.Events) > 0:
		events, skipped = agent.ParseEvents(req.Events)
	case len(req.Msg) > 0:
		events, skipped = agent.ParseLegacyMessage(req.Msg)
	}
	if skipped > 0 {
		logger.Warn("Skipped malformed agent events", "reply_id", req.ReplyID, "skipped", skipped)
	}

	if len(events) > 0 {
		h.orch.PushEvents(req.ReplyID, events)
	}

	return c.WriteJSON(map[string]bool{"success": true})
}

// pushFinishedHandler receives the agent's final signal for a reply
func (h *Handlers) pushFinishedHandler(c rweb.Context) error {
	if !h.authorizeHook(c) {
		return c.WriteError(serr.New("invalid hook token"), 403)
	}

	var req pushFinishedRequest
	if err := json.Unmarshal(c.Request().Body(), &req); err != nil {
		return c.WriteError(serr.Wrap(err, "invalid callback body"), 400)
	}
	if req.ReplyID == "" {
		return c.WriteError(serr.New("replyId is required"), 400)
	}

	h.orch.PushFinished(req.ReplyID)

	return c.WriteJSON(map[string]bool{"success": true})
}
