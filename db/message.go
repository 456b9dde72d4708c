package db

import (
	"strings"
	"time"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"
)

// Message represents one stored chat message
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// CreateMessage stores a message. Duplicate ids are silently ignored so the
// transcript flush on finish and the flush on interrupt can both run.
func (db *DB) CreateMessage(id, conversationID, role, content string) error {
	query := `
		INSERT INTO messages (id, conversation_id, role, content, created_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
	`

	_, err := db.Exec(query, id, conversationID, role, content)
	if err != nil {
		if isDuplicateKey(err) {
			logger.Warn("Message already exists, skipping", "message_id", id)
			return nil
		}
		return serr.Wrap(err, "failed to create message")
	}

	return nil
}

// GetMessages returns all messages of a conversation in creation order
func (db *DB) GetMessages(conversationID string) ([]*Message, error) {
	query := `
		SELECT id, conversation_id, role, content, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC
	`

	rows, err := db.Query(query, conversationID)
	if err != nil {
		return nil, serr.Wrap(err, "failed to get messages")
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, serr.Wrap(err, "failed to scan message")
		}
		messages = append(messages, &msg)
	}

	return messages, rows.Err()
}

// GetMessageCount returns the number of messages in a conversation
func (db *DB) GetMessageCount(conversationID string) (int, error) {
	var count int
	err := db.QueryRow(
		"SELECT COUNT(*) FROM messages WHERE conversation_id = ?", conversationID,
	).Scan(&count)
	if err != nil {
		return 0, serr.Wrap(err, "failed to count messages")
	}
	return count, nil
}

func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") || strings.Contains(msg, "primary key") ||
		strings.Contains(msg, "unique")
}
