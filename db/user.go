package db

import (
	"database/sql"
	"time"

	"github.com/rohanthewiz/serr"
)

// User is a lightweight identity record for request attribution
type User struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// EnsureUser upserts a user row so conversations always have an owner
func (db *DB) EnsureUser(id, username string) error {
	if username == "" {
		username = id
	}

	query := `
		INSERT INTO users (id, username)
		VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET username = excluded.username
	`
	_, err := db.Exec(query, id, username)
	return serr.Wrap(err, "failed to ensure user")
}

// GetUser retrieves a user by id, nil if absent
func (db *DB) GetUser(id string) (*User, error) {
	query := `SELECT id, username, display_name, created_at FROM users WHERE id = ?`

	var user User
	var displayName sql.NullString
	err := db.QueryRow(query, id).Scan(&user.ID, &user.Username, &displayName, &user.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, serr.Wrap(err, "failed to get user")
	}

	if displayName.Valid {
		user.DisplayName = displayName.String
	}
	return &user, nil
}
