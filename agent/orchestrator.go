package agent

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"

	"studio/config"
	"studio/db"
	"studio/kv"
)

// cancelledNotice is the client-facing text sent when a user interrupts a reply
const cancelledNotice = "用户终止了请求"

// ErrUnauthorized is returned when a user tries to interrupt another user's reply
var ErrUnauthorized = serr.New("reply belongs to another user")

// Broadcaster pushes reply activity to conversation subscribers on the socket
// bus. Failures are the implementation's to log; calls never return errors.
type Broadcaster interface {
	PushReply(conversationID, replyID string, frame Frame)
	PushReplyingState(conversationID string, replying bool)
	PushFinished(conversationID, replyID string)
	PushCancelled(conversationID, replyID string)
}

// Reply is the in-memory state of one live agent turn
type Reply struct {
	ID             string
	ConversationID string
	UserID         string

	// guarded by mu, along with accumulator contents and hub publish order
	mu          sync.Mutex
	status      db.AgentSessionStatus
	cancelled   bool
	accumulator *Accumulator
	hub         *Hub
}

// SendResult is what a successful Send hands back to the transport layer
type SendResult struct {
	ConversationID string
	ReplyID        string
	Subscription   *Subscription
}

// Orchestrator is the facade over supervisor, hub, accumulator, and projector.
// It owns all per-reply state; handlers for the same reply are serialized on
// the reply's mutex so the terminal event is published exactly once.
type Orchestrator struct {
	cfg        *config.Config
	store      *db.DB
	forensics  *kv.Store
	filter     *ToolFilter
	projector  *Projector
	supervisor *Supervisor
	bus        Broadcaster

	mu      sync.Mutex
	replies map[string]*Reply
}

// NewOrchestrator wires the orchestrator's components together
func NewOrchestrator(cfg *config.Config, store *db.DB, forensics *kv.Store, bus Broadcaster) *Orchestrator {
	o := &Orchestrator{
		cfg:       cfg,
		store:     store,
		forensics: forensics,
		filter:    NewToolFilter(cfg.Agent.HiddenTools, cfg.Agent.RenameTools),
		projector: NewProjector(store),
		bus:       bus,
		replies:   make(map[string]*Reply),
	}
	o.supervisor = NewSupervisor(cfg, o.handleExit)
	return o
}

// Supervisor exposes the process supervisor for the status page
func (o *Orchestrator) Supervisor() *Supervisor {
	return o.supervisor
}

// Send creates a reply for a user message and spawns the agent. The returned
// subscription is opened before the child starts so the stream observes every
// event the agent produces.
func (o *Orchestrator) Send(userID, conversationID, message string, files []string) (*SendResult, error) {
	if err := o.store.EnsureUser(userID, ""); err != nil {
		logger.LogErr(err, "failed to ensure user", "user_id", userID)
	}

	conversationID, err := o.ensureConversation(userID, conversationID, message)
	if err != nil {
		return nil, err
	}

	if err := o.store.CreateMessage(uuid.New().String(), conversationID, "user", message); err != nil {
		return nil, serr.Wrap(err, "failed to persist user message")
	}

	replyID := uuid.New().String()
	reply := &Reply{
		ID:             replyID,
		ConversationID: conversationID,
		UserID:         userID,
		status:         db.AgentSessionStarting,
		accumulator:    NewAccumulator(o.filter),
		hub:            NewHub(conversationID, replyID),
	}

	o.mu.Lock()
	o.replies[replyID] = reply
	o.mu.Unlock()

	// The SSE consumer must be attached before the child can call back
	sub := reply.hub.Subscribe()

	if err := o.store.CreateAgentSession(replyID, conversationID, userID); err != nil {
		logger.LogErr(err, "failed to create agent session record", "reply_id", replyID)
	}
	o.recordForensics(reply, db.AgentSessionStarting)

	pid, err := o.supervisor.Spawn(SpawnParams{
		ConversationID: conversationID,
		ReplyID:        replyID,
		UserID:         userID,
		Query:          buildQuery(userID, conversationID, message, files),
		Mode:           o.cfg.Agent.Mode,
	})
	if err != nil {
		o.forget(replyID)
		if ferr := o.store.FinishAgentSession(replyID, db.AgentSessionFailed); ferr != nil {
			logger.LogErr(ferr, "failed to mark session failed after spawn failure", "reply_id", replyID)
		}
		o.recordForensics(reply, db.AgentSessionFailed)
		reply.hub.Close(ReasonFailed, "failed to start agent")
		return nil, serr.Wrap(err, "agent spawn failed")
	}

	if err := o.store.SetAgentSessionRunning(replyID, pid); err != nil {
		logger.LogErr(err, "failed to mark agent session running", "reply_id", replyID)
	}

	reply.mu.Lock()
	reply.status = db.AgentSessionRunning
	reply.mu.Unlock()
	o.recordForensics(reply, db.AgentSessionRunning)

	o.bus.PushReplyingState(conversationID, true)

	return &SendResult{
		ConversationID: conversationID,
		ReplyID:        replyID,
		Subscription:   sub,
	}, nil
}

// PushEvents routes one callback batch through accumulator, projector, hub,
// and broadcast, in that order. Returns false for unknown reply ids; the
// transport still answers success so the agent does not retry.
func (o *Orchestrator) PushEvents(replyID string, events []Event) bool {
	reply := o.lookup(replyID)
	if reply == nil {
		logger.Warn("Dropping events for unknown reply", "reply_id", replyID)
		return false
	}

	reply.mu.Lock()
	defer reply.mu.Unlock()

	if reply.status.Terminal() {
		logger.Debug("Dropping events for finished reply", "reply_id", replyID)
		return true
	}

	for _, ev := range events {
		frames := reply.accumulator.Apply(ev)
		if ev.Type == EventCoordinator {
			if err := o.projector.Apply(reply.ConversationID, ev.CoordType, ev.Data); err != nil {
				logger.LogErr(err, "plan projection failed",
					"conversation_id", reply.ConversationID, "event_type", ev.CoordType)
			}
		}
		for _, frame := range frames {
			reply.hub.Publish(frame)
			o.bus.PushReply(reply.ConversationID, replyID, frame)
		}
	}

	return true
}

// PushFinished completes a reply: the accumulated text becomes the durable
// assistant message and the hub closes with reason done.
func (o *Orchestrator) PushFinished(replyID string) bool {
	reply := o.lookup(replyID)
	if reply == nil {
		logger.Warn("Finished signal for unknown reply", "reply_id", replyID)
		return false
	}

	reply.mu.Lock()
	defer reply.mu.Unlock()

	if reply.status.Terminal() {
		return true
	}

	o.flushTranscript(reply)
	reply.status = db.AgentSessionCompleted
	if err := o.store.FinishAgentSession(replyID, db.AgentSessionCompleted); err != nil {
		logger.LogErr(err, "failed to mark session completed", "reply_id", replyID)
	}
	if err := o.store.TouchConversation(reply.ConversationID); err != nil {
		logger.LogErr(err, "failed to touch conversation", "conversation_id", reply.ConversationID)
	}
	o.recordForensics(reply, db.AgentSessionCompleted)

	reply.hub.Close(ReasonDone, "")
	o.bus.PushFinished(reply.ConversationID, replyID)
	o.bus.PushReplyingState(reply.ConversationID, false)
	o.forget(replyID)

	return true
}

// Interrupt cancels a live reply on behalf of its owner. Returns whether a
// live agent was found. Repeat calls are no-ops.
func (o *Orchestrator) Interrupt(replyID, userID string) (bool, error) {
	reply := o.lookup(replyID)
	if reply == nil {
		return false, nil
	}
	if reply.UserID != userID {
		return false, ErrUnauthorized
	}

	reply.mu.Lock()
	defer reply.mu.Unlock()

	if reply.status.Terminal() {
		return false, nil
	}

	reply.cancelled = true
	o.supervisor.Terminate(replyID)

	o.flushTranscript(reply)
	reply.status = db.AgentSessionCancelled
	if err := o.store.FinishAgentSession(replyID, db.AgentSessionCancelled); err != nil {
		logger.LogErr(err, "failed to mark session cancelled", "reply_id", replyID)
	}
	o.recordForensics(reply, db.AgentSessionCancelled)

	reply.hub.Close(ReasonCancelled, cancelledNotice)
	o.bus.PushCancelled(reply.ConversationID, replyID)
	o.bus.PushReplyingState(reply.ConversationID, false)
	o.forget(replyID)

	logger.Info("Reply interrupted", "reply_id", replyID, "user_id", userID)
	return true, nil
}

// InterruptConversation cancels every live reply of a conversation
func (o *Orchestrator) InterruptConversation(conversationID, userID string) int {
	cancelled := 0
	for _, replyID := range o.activeReplies(conversationID) {
		ok, err := o.Interrupt(replyID, userID)
		if err != nil {
			logger.LogErr(err, "failed to interrupt reply", "reply_id", replyID)
			continue
		}
		if ok {
			cancelled++
		}
	}
	return cancelled
}

// IsReplying reports whether any reply of the conversation is still live
func (o *Orchestrator) IsReplying(conversationID string) bool {
	return len(o.activeReplies(conversationID)) > 0
}

// Shutdown cancels every live reply and reaps the child processes
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	replies := make([]*Reply, 0, len(o.replies))
	for _, reply := range o.replies {
		replies = append(replies, reply)
	}
	o.mu.Unlock()

	for _, reply := range replies {
		reply.mu.Lock()
		if !reply.status.Terminal() {
			o.flushTranscript(reply)
			reply.status = db.AgentSessionCancelled
			if err := o.store.FinishAgentSession(reply.ID, db.AgentSessionCancelled); err != nil {
				logger.LogErr(err, "failed to mark session cancelled on shutdown", "reply_id", reply.ID)
			}
			o.recordForensics(reply, db.AgentSessionCancelled)
			reply.hub.Close(ReasonCancelled, cancelledNotice)
		}
		reply.mu.Unlock()
		o.forget(reply.ID)
	}

	o.supervisor.Cleanup()
}

// handleExit runs after a child process exits. If the reply never saw a
// finished signal the exit is treated as a failure with the partial
// transcript preserved.
func (o *Orchestrator) handleExit(replyID string, exitErr error) {
	reply := o.lookup(replyID)
	if reply == nil {
		return
	}

	reply.mu.Lock()
	defer reply.mu.Unlock()

	if reply.status.Terminal() {
		return
	}

	logger.Warn("Agent exited without finished signal", "reply_id", replyID)

	o.flushTranscript(reply)
	reply.status = db.AgentSessionFailed
	if err := o.store.FinishAgentSession(replyID, db.AgentSessionFailed); err != nil {
		logger.LogErr(err, "failed to mark session failed", "reply_id", replyID)
	}
	o.recordForensics(reply, db.AgentSessionFailed)

	reply.hub.Close(ReasonFailed, "agent exited unexpectedly")
	o.bus.PushFinished(reply.ConversationID, replyID)
	o.bus.PushReplyingState(reply.ConversationID, false)
	o.forget(replyID)
}

func (o *Orchestrator) lookup(replyID string) *Reply {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.replies[replyID]
}

func (o *Orchestrator) forget(replyID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.replies, replyID)
}

func (o *Orchestrator) activeReplies(conversationID string) []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	var ids []string
	for id, reply := range o.replies {
		if reply.ConversationID == conversationID {
			ids = append(ids, id)
		}
	}
	return ids
}

func (o *Orchestrator) ensureConversation(userID, conversationID, message string) (string, error) {
	if conversationID != "" {
		conv, err := o.store.GetConversation(conversationID)
		if err != nil {
			return "", err
		}
		if conv != nil {
			return conversationID, nil
		}
	} else {
		conversationID = uuid.New().String()
	}

	if _, err := o.store.CreateConversation(conversationID, userID, titleFromMessage(message)); err != nil {
		return "", err
	}
	return conversationID, nil
}

// flushTranscript persists the accumulated text as the assistant message,
// keyed by the reply id so repeated flushes are deduplicated. Callers hold
// the reply mutex.
func (o *Orchestrator) flushTranscript(reply *Reply) {
	text := reply.accumulator.Text()
	if text == "" {
		return
	}
	if err := o.store.CreateMessage(reply.ID, reply.ConversationID, "assistant", text); err != nil {
		logger.LogErr(err, "failed to persist assistant message",
			"reply_id", reply.ID, "content", text)
	}
}

func (o *Orchestrator) recordForensics(reply *Reply, status db.AgentSessionStatus) {
	record, err := json.Marshal(map[string]string{
		"reply_id":        reply.ID,
		"conversation_id": reply.ConversationID,
		"user_id":         reply.UserID,
		"status":          string(status),
		"updated_at":      time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}
	o.forensics.Set("agent:reply:"+reply.ID, string(record), kv.DefaultTTL)
}

// buildQuery composes the agent query payload: a system context block naming
// the user, conversation, and any uploaded files, followed by the message.
func buildQuery(userID, conversationID, message string, files []string) string {
	var ctx strings.Builder
	ctx.WriteString("[SYSTEM CONTEXT]\n")
	fmt.Fprintf(&ctx, "user_id: %s\n", userID)
	fmt.Fprintf(&ctx, "conversation_id: %s\n", conversationID)
	if len(files) > 0 {
		fmt.Fprintf(&ctx, "uploaded_files: %s\n", strings.Join(files, ", "))
	}

	payload, err := json.Marshal([]string{ctx.String(), message})
	if err != nil {
		return message
	}
	return string(payload)
}

func titleFromMessage(message string) string {
	runes := []rune(strings.TrimSpace(message))
	if len(runes) > 50 {
		runes = runes[:50]
	}
	return string(runes)
}
