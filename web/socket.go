package web

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"

	"studio/agent"
)

const (
	socketSendBuffer   = 256
	socketWriteTimeout = 10 * time.Second
)

// wsEnvelope frames every message on the socket bus in both directions
type wsEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type joinRoomRequest struct {
	ConversationID string `json:"conversation_id"`
}

type socketClient struct {
	conn  *websocket.Conn
	send  chan []byte
	rooms map[string]struct{}
}

// SocketBus is the broadcast side of the orchestrator: a websocket endpoint
// where clients join per-conversation rooms and receive reply pushes. It runs
// on its own listener because it needs a hijackable net/http connection.
type SocketBus struct {
	mu       sync.Mutex
	rooms    map[string]map[*socketClient]struct{}
	clients  map[*socketClient]struct{}
	srv      *http.Server
	replying func(conversationID string) bool
}

// NewSocketBus creates the bus
func NewSocketBus() *SocketBus {
	return &SocketBus{
		rooms:   make(map[string]map[*socketClient]struct{}),
		clients: make(map[*socketClient]struct{}),
	}
}

// SetReplyingFunc wires the live-reply check used to answer room joins.
// Set after the orchestrator exists; the bus and orchestrator reference each
// other.
func (b *SocketBus) SetReplyingFunc(fn func(conversationID string) bool) {
	b.replying = fn
}

// Start serves the /client websocket endpoint on the given address
func (b *SocketBus) Start(address string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/client", b.handleClient)

	b.srv = &http.Server{Addr: address, Handler: mux}

	logger.Info("Socket bus listening", "address", address)
	if err := b.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return serr.Wrap(err, "socket bus failed")
	}
	return nil
}

// Shutdown closes all client connections and stops the listener
func (b *SocketBus) Shutdown(ctx context.Context) {
	b.mu.Lock()
	for client := range b.clients {
		close(client.send)
	}
	b.clients = make(map[*socketClient]struct{})
	b.rooms = make(map[string]map[*socketClient]struct{})
	b.mu.Unlock()

	if b.srv != nil {
		if err := b.srv.Shutdown(ctx); err != nil {
			logger.LogErr(err, "socket bus shutdown failed")
		}
	}
}

func (b *SocketBus) handleClient(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return
	}
	defer conn.CloseNow()

	client := &socketClient{
		conn:  conn,
		send:  make(chan []byte, socketSendBuffer),
		rooms: make(map[string]struct{}),
	}

	b.mu.Lock()
	b.clients[client] = struct{}{}
	b.mu.Unlock()
	defer b.dropClient(client)

	go b.writeLoop(client)
	b.readLoop(r.Context(), client)
}

func (b *SocketBus) readLoop(ctx context.Context, client *socketClient) {
	for {
		_, data, err := client.conn.Read(ctx)
		if err != nil {
			return
		}

		var env wsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			logger.Debug("Ignoring malformed socket message", "error", err.Error())
			continue
		}

		switch env.Type {
		case "joinChatRoom":
			var req joinRoomRequest
			if err := json.Unmarshal(env.Data, &req); err != nil || req.ConversationID == "" {
				continue
			}
			b.joinRoom(client, chatRoom(req.ConversationID))
			if b.replying != nil {
				b.PushReplyingState(req.ConversationID, b.replying(req.ConversationID))
			}
		case "leaveChatRoom":
			var req joinRoomRequest
			if err := json.Unmarshal(env.Data, &req); err != nil || req.ConversationID == "" {
				continue
			}
			b.leaveRoom(client, chatRoom(req.ConversationID))
		default:
			logger.Debug("Ignoring socket message with unknown type", "type", env.Type)
		}
	}
}

func (b *SocketBus) writeLoop(client *socketClient) {
	for data := range client.send {
		ctx, cancel := context.WithTimeout(context.Background(), socketWriteTimeout)
		err := client.conn.Write(ctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			b.dropClient(client)
			return
		}
	}
	client.conn.Close(websocket.StatusNormalClosure, "bye")
}

func (b *SocketBus) joinRoom(client *socketClient, room string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	members, ok := b.rooms[room]
	if !ok {
		members = make(map[*socketClient]struct{})
		b.rooms[room] = members
	}
	members[client] = struct{}{}
	client.rooms[room] = struct{}{}
}

func (b *SocketBus) leaveRoom(client *socketClient, room string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeFromRoomLocked(client, room)
}

func (b *SocketBus) removeFromRoomLocked(client *socketClient, room string) {
	if members, ok := b.rooms[room]; ok {
		delete(members, client)
		if len(members) == 0 {
			delete(b.rooms, room)
		}
	}
	delete(client.rooms, room)
}

func (b *SocketBus) dropClient(client *socketClient) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.clients[client]; !ok {
		return
	}
	delete(b.clients, client)
	for room := range client.rooms {
		b.removeFromRoomLocked(client, room)
	}
	close(client.send)
}

// broadcast fans an envelope out to a room. A client whose queue is full is
// dropped rather than stalling the bus.
func (b *SocketBus) broadcast(room, msgType string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.LogErr(err, "failed to marshal socket payload", "type", msgType)
		return
	}
	frame, err := json.Marshal(wsEnvelope{Type: msgType, Data: data})
	if err != nil {
		logger.LogErr(err, "failed to marshal socket envelope", "type", msgType)
		return
	}

	b.mu.Lock()
	var slow []*socketClient
	for client := range b.rooms[room] {
		select {
		case client.send <- frame:
		default:
			slow = append(slow, client)
		}
	}
	for _, client := range slow {
		logger.Warn("Dropping slow socket client", "room", room)
		delete(b.clients, client)
		for r := range client.rooms {
			b.removeFromRoomLocked(client, r)
		}
		close(client.send)
	}
	b.mu.Unlock()
}

func chatRoom(conversationID string) string {
	return "chat-" + conversationID
}

// PushReply forwards one reply frame to the conversation's room
func (b *SocketBus) PushReply(conversationID, replyID string, frame agent.Frame) {
	b.broadcast(chatRoom(conversationID), "pushReplies", map[string]interface{}{
		"replyId": replyID,
		"message": map[string]interface{}{
			"type": string(frame.Type),
			"data": frame.Payload,
		},
	})
}

// PushReplyingState tells the room whether an agent is currently replying
func (b *SocketBus) PushReplyingState(conversationID string, replying bool) {
	b.broadcast(chatRoom(conversationID), "pushReplyingState", map[string]interface{}{
		"replying":        replying,
		"conversation_id": conversationID,
	})
}

// PushFinished tells the room a reply reached a terminal state
func (b *SocketBus) PushFinished(conversationID, replyID string) {
	b.broadcast(chatRoom(conversationID), "pushFinished", map[string]interface{}{
		"replyId": replyID,
	})
}

// PushCancelled tells the room a reply was interrupted
func (b *SocketBus) PushCancelled(conversationID, replyID string) {
	b.broadcast(chatRoom(conversationID), "pushCancelled", map[string]interface{}{
		"replyId": replyID,
	})
}
