package db

import (
	"database/sql"
	"time"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"
)

// Conversation represents a chat conversation in the database
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateConversation creates a new conversation for a user
func (db *DB) CreateConversation(id, userID, title string) (*Conversation, error) {
	if title == "" {
		title = "New Chat"
	}

	query := `
		INSERT INTO conversations (id, user_id, title, created_at, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	`
	_, err := db.Exec(query, id, userID, title)
	if err != nil {
		return nil, serr.Wrap(err, "failed to create conversation")
	}

	now := time.Now()
	conv := &Conversation{
		ID:        id,
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	logger.Info("Created conversation", "id", id, "user_id", userID, "title", title)
	return conv, nil
}

// GetConversation retrieves a conversation by ID
func (db *DB) GetConversation(id string) (*Conversation, error) {
	query := `
		SELECT id, user_id, title, created_at, updated_at
		FROM conversations
		WHERE id = ?
	`

	var conv Conversation
	err := db.QueryRow(query, id).Scan(
		&conv.ID,
		&conv.UserID,
		&conv.Title,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, serr.Wrap(err, "failed to get conversation")
	}

	return &conv, nil
}

// ListConversations returns a user's conversations, most recent first
func (db *DB) ListConversations(userID string) ([]*Conversation, error) {
	query := `
		SELECT id, user_id, title, created_at, updated_at
		FROM conversations
		WHERE user_id = ?
		ORDER BY updated_at DESC
	`

	rows, err := db.Query(query, userID)
	if err != nil {
		return nil, serr.Wrap(err, "failed to list conversations")
	}
	defer rows.Close()

	var conversations []*Conversation
	for rows.Next() {
		var conv Conversation
		if err := rows.Scan(&conv.ID, &conv.UserID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, serr.Wrap(err, "failed to scan conversation")
		}
		conversations = append(conversations, &conv)
	}

	return conversations, rows.Err()
}

// TouchConversation bumps the conversation's updated_at timestamp
func (db *DB) TouchConversation(id string) error {
	_, err := db.Exec("UPDATE conversations SET updated_at = CURRENT_TIMESTAMP WHERE id = ?", id)
	return serr.Wrap(err, "failed to touch conversation")
}

// DeleteConversation removes a conversation and its messages
func (db *DB) DeleteConversation(id string) error {
	return db.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM messages WHERE conversation_id = ?", id); err != nil {
			return serr.Wrap(err, "failed to delete conversation messages")
		}
		if _, err := tx.Exec("DELETE FROM conversations WHERE id = ?", id); err != nil {
			return serr.Wrap(err, "failed to delete conversation")
		}
		return nil
	})
}
