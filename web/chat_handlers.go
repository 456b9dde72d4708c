package web

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/rweb"
	"github.com/rohanthewiz/serr"

	"studio/agent"
)

type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

type interruptRequest struct {
	ReplyID string `json:"reply_id"`
}

// sendHandler starts an agent turn and returns immediately. Clients follow
// the reply over the socket bus; this endpoint opens no stream for it.
func (h *Handlers) sendHandler(c rweb.Context) error {
	var req chatRequest
	if err := json.Unmarshal(c.Request().Body(), &req); err != nil {
		return c.WriteError(serr.Wrap(err, "invalid request body"), 400)
	}
	if req.Message == "" {
		return c.WriteError(serr.New("message is required"), 400)
	}

	userID := userFromRequest(c)
	result, err := h.orch.Send(userID, req.ConversationID, req.Message, h.uploads.Files(req.ConversationID))
	if err != nil {
		return c.WriteError(serr.Wrap(err, "failed to start agent"), 500)
	}
	// This endpoint has no stream consumer; release the subscription so the
	// hub does not hold a dead buffer.
	result.Subscription.Cancel()

	return c.WriteJSON(map[string]interface{}{
		"conversation_id": result.ConversationID,
		"reply_id":        result.ReplyID,
		"status":          "processing",
	})
}

// streamHandler starts an agent turn and streams its events back as SSE
func (h *Handlers) streamHandler(c rweb.Context) error {
	var req chatRequest
	if err := json.Unmarshal(c.Request().Body(), &req); err != nil {
		return c.WriteError(serr.Wrap(err, "invalid request body"), 400)
	}
	if req.Message == "" {
		return c.WriteError(serr.New("message is required"), 400)
	}

	userID := userFromRequest(c)
	result, err := h.orch.Send(userID, req.ConversationID, req.Message, h.uploads.Files(req.ConversationID))
	if err != nil {
		return c.WriteError(serr.Wrap(err, "failed to start agent"), 500)
	}

	return h.streamReply(c, result)
}

// interruptHandler cancels a live reply on behalf of its owner
func (h *Handlers) interruptHandler(c rweb.Context) error {
	var req interruptRequest
	if err := json.Unmarshal(c.Request().Body(), &req); err != nil {
		return c.WriteError(serr.Wrap(err, "invalid request body"), 400)
	}
	if req.ReplyID == "" {
		return c.WriteError(serr.New("reply_id is required"), 400)
	}

	found, err := h.orch.Interrupt(req.ReplyID, userFromRequest(c))
	if err == agent.ErrUnauthorized {
		return c.WriteError(err, 403)
	}
	if err != nil {
		return c.WriteError(err, 500)
	}

	return c.WriteJSON(map[string]bool{"success": found})
}

type uploadRequest struct {
	ConversationID string `json:"conversation_id"`
	Filename       string `json:"filename"`
	Content        string `json:"content"` // base64
}

// uploadHandler stores a file under the conversation's upload directory and
// records its name so later sends can mention it in the system context.
func (h *Handlers) uploadHandler(c rweb.Context) error {
	var req uploadRequest
	if err := json.Unmarshal(c.Request().Body(), &req); err != nil {
		return c.WriteError(serr.Wrap(err, "invalid request body"), 400)
	}
	if req.ConversationID == "" || req.Filename == "" {
		return c.WriteError(serr.New("conversation_id and filename are required"), 400)
	}

	data, err := base64.StdEncoding.DecodeString(req.Content)
	if err != nil {
		return c.WriteError(serr.Wrap(err, "content must be base64"), 400)
	}

	userID := userFromRequest(c)
	dir := h.cfg.UploadsDir(userID, req.ConversationID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return c.WriteError(serr.Wrap(err, "failed to create upload directory"), 500)
	}

	name := filepath.Base(req.Filename)
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return c.WriteError(serr.Wrap(err, "failed to store upload"), 500)
	}

	h.uploads.Add(req.ConversationID, name)
	logger.Info("Stored upload", "conversation_id", req.ConversationID, "filename", name, "bytes", len(data))

	return c.WriteJSON(map[string]interface{}{
		"success":  true,
		"filename": name,
	})
}

// UploadIndex tracks uploaded filenames per conversation so the send path
// can include them in the agent's system context block.
type UploadIndex struct {
	mu    sync.Mutex
	files map[string][]string
}

// NewUploadIndex creates an empty index
func NewUploadIndex() *UploadIndex {
	return &UploadIndex{files: make(map[string][]string)}
}

// Add records a filename for a conversation, ignoring duplicates
func (u *UploadIndex) Add(conversationID, filename string) {
	u.mu.Lock()
	defer u.mu.Unlock()

	for _, existing := range u.files[conversationID] {
		if existing == filename {
			return
		}
	}
	u.files[conversationID] = append(u.files[conversationID], filename)
}

// Files returns the filenames recorded for a conversation
func (u *UploadIndex) Files(conversationID string) []string {
	if conversationID == "" {
		return nil
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.files[conversationID]...)
}

// Forget drops a conversation's entries, for conversation deletion
func (u *UploadIndex) Forget(conversationID string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.files, conversationID)
}
