package db

import (
	"database/sql"
	"fmt"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations list all database migrations in order
var migrations = []Migration{
	{
		Version:     1,
		Description: "Create initial schema",
		SQL: `
			-- Create users table
			CREATE TABLE IF NOT EXISTS users (
				id TEXT PRIMARY KEY,
				username TEXT NOT NULL,
				display_name TEXT,
				created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
			);

			-- Create conversations table
			CREATE TABLE IF NOT EXISTS conversations (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				title TEXT NOT NULL,
				created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
			);
			CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id);

			-- Create messages table
			CREATE TABLE IF NOT EXISTS messages (
				id TEXT PRIMARY KEY,
				conversation_id TEXT NOT NULL,
				role TEXT NOT NULL,
				content TEXT NOT NULL,
				created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
				FOREIGN KEY (conversation_id) REFERENCES conversations(id)
			);
			CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id);

			-- Create migrations table
			CREATE TABLE IF NOT EXISTS migrations (
				version INTEGER PRIMARY KEY,
				description TEXT NOT NULL,
				applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
			);
		`,
	},
	{
		Version:     2,
		Description: "Create agent session and coordinator plan tables",
		SQL: `
			CREATE TABLE IF NOT EXISTS agent_sessions (
				reply_id TEXT PRIMARY KEY,
				conversation_id TEXT NOT NULL,
				user_id TEXT NOT NULL,
				status TEXT NOT NULL CHECK (status IN ('starting', 'running', 'completed', 'cancelled', 'failed')),
				pid INTEGER,
				started_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
				finished_at TIMESTAMP
			);
			CREATE INDEX IF NOT EXISTS idx_agent_sessions_conversation ON agent_sessions(conversation_id);

			CREATE TABLE IF NOT EXISTS coordinator_plans (
				conversation_id TEXT PRIMARY KEY,
				objective TEXT NOT NULL,
				plan JSON NOT NULL,
				active_phase INTEGER,
				completed_phases JSON NOT NULL,
				phase_outputs JSON NOT NULL,
				status TEXT NOT NULL CHECK (status IN ('running', 'completed', 'failed')),
				created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
			);
		`,
	},
	{
		Version:     3,
		Description: "Create tasks table",
		SQL: `
			CREATE SEQUENCE IF NOT EXISTS tasks_id_seq;

			CREATE TABLE IF NOT EXISTS tasks (
				id INTEGER PRIMARY KEY DEFAULT nextval('tasks_id_seq'),
				conversation_id TEXT NOT NULL,
				description TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'pending',
				created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
			);
			CREATE INDEX IF NOT EXISTS idx_tasks_conversation ON tasks(conversation_id);
		`,
	},
}

// Migrate runs all pending migrations
func (db *DB) Migrate() error {
	// Ensure migrations table exists
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return serr.Wrap(err, "failed to create migrations table")
	}

	currentVersion, err := db.currentMigrationVersion()
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}

		logger.Info("Applying migration", "version", m.Version, "description", m.Description)

		err = db.Transaction(func(tx *sql.Tx) error {
			if _, err := tx.Exec(m.SQL); err != nil {
				return serr.Wrap(err, fmt.Sprintf("migration %d failed", m.Version))
			}
			if _, err := tx.Exec(
				"INSERT INTO migrations (version, description) VALUES (?, ?)",
				m.Version, m.Description,
			); err != nil {
				return serr.Wrap(err, "failed to record migration")
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	return nil
}

func (db *DB) currentMigrationVersion() (int, error) {
	var version sql.NullInt64
	err := db.QueryRow("SELECT MAX(version) FROM migrations").Scan(&version)
	if err != nil {
		return 0, serr.Wrap(err, "failed to read migration version")
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}
