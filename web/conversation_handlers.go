package web

import (
	"encoding/json"
	"strconv"

	"github.com/rohanthewiz/rweb"
	"github.com/rohanthewiz/serr"

	"studio/db"
)

// listConversationsHandler returns the caller's conversations, newest first
func (h *Handlers) listConversationsHandler(c rweb.Context) error {
	conversations, err := h.store.ListConversations(userFromRequest(c))
	if err != nil {
		return c.WriteError(err, 500)
	}
	if conversations == nil {
		conversations = []*db.Conversation{}
	}
	return c.WriteJSON(conversations)
}

// conversationMessagesHandler returns a conversation's transcript in order
func (h *Handlers) conversationMessagesHandler(c rweb.Context) error {
	conversationID := c.Request().Param("id")

	conv, err := h.store.GetConversation(conversationID)
	if err != nil {
		return c.WriteError(err, 500)
	}
	if conv == nil {
		return c.WriteError(serr.New("conversation not found"), 404)
	}
	if conv.UserID != userFromRequest(c) {
		return c.WriteError(serr.New("not your conversation"), 403)
	}

	messages, err := h.store.GetMessages(conversationID)
	if err != nil {
		return c.WriteError(err, 500)
	}
	if messages == nil {
		messages = []*db.Message{}
	}
	return c.WriteJSON(messages)
}

// deleteConversationHandler removes a conversation after cancelling any live
// replies it still has.
func (h *Handlers) deleteConversationHandler(c rweb.Context) error {
	conversationID := c.Request().Param("id")
	userID := userFromRequest(c)

	conv, err := h.store.GetConversation(conversationID)
	if err != nil {
		return c.WriteError(err, 500)
	}
	if conv == nil {
		return c.WriteError(serr.New("conversation not found"), 404)
	}
	if conv.UserID != userID {
		return c.WriteError(serr.New("not your conversation"), 403)
	}

	h.orch.InterruptConversation(conversationID, userID)

	if err := h.store.DeleteConversation(conversationID); err != nil {
		return c.WriteError(err, 500)
	}
	h.uploads.Forget(conversationID)

	return c.WriteJSON(map[string]bool{"success": true})
}

// conversationPlanHandler returns the persisted coordinator plan, if any
func (h *Handlers) conversationPlanHandler(c rweb.Context) error {
	plan, err := h.store.GetCoordinatorPlan(c.Request().Param("id"))
	if err != nil {
		return c.WriteError(err, 500)
	}
	if plan == nil {
		return c.WriteError(serr.New("no plan for conversation"), 404)
	}
	return c.WriteJSON(plan)
}

// listTasksHandler returns a conversation's tracked tasks
func (h *Handlers) listTasksHandler(c rweb.Context) error {
	tasks, err := h.store.ListTasks(c.Request().Param("id"))
	if err != nil {
		return c.WriteError(err, 500)
	}
	if tasks == nil {
		tasks = []*db.Task{}
	}
	return c.WriteJSON(tasks)
}

type createTaskRequest struct {
	Description string `json:"description"`
}

func (h *Handlers) createTaskHandler(c rweb.Context) error {
	var req createTaskRequest
	if err := json.Unmarshal(c.Request().Body(), &req); err != nil {
		return c.WriteError(serr.Wrap(err, "invalid request body"), 400)
	}
	if req.Description == "" {
		return c.WriteError(serr.New("description is required"), 400)
	}

	task, err := h.store.CreateTask(c.Request().Param("id"), req.Description)
	if err != nil {
		return c.WriteError(err, 500)
	}
	return c.WriteJSON(task)
}

type updateTaskRequest struct {
	Status db.TaskStatus `json:"status"`
}

func (h *Handlers) updateTaskHandler(c rweb.Context) error {
	id, err := strconv.Atoi(c.Request().Param("id"))
	if err != nil {
		return c.WriteError(serr.Wrap(err, "invalid task id"), 400)
	}

	var req updateTaskRequest
	if err := json.Unmarshal(c.Request().Body(), &req); err != nil {
		return c.WriteError(serr.Wrap(err, "invalid request body"), 400)
	}
	switch req.Status {
	case db.TaskStatusPending, db.TaskStatusInProgress, db.TaskStatusCompleted, db.TaskStatusCancelled:
	default:
		return c.WriteError(serr.New("invalid task status"), 400)
	}

	if err := h.store.UpdateTaskStatus(id, req.Status); err != nil {
		return c.WriteError(err, 500)
	}
	return c.WriteJSON(map[string]bool{"success": true})
}

func (h *Handlers) deleteTaskHandler(c rweb.Context) error {
	id, err := strconv.Atoi(c.Request().Param("id"))
	if err != nil {
		return c.WriteError(serr.Wrap(err, "invalid task id"), 400)
	}
	if err := h.store.DeleteTask(id); err != nil {
		return c.WriteError(err, 500)
	}
	return c.WriteJSON(map[string]bool{"success": true})
}
