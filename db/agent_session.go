package db

import (
	"database/sql"
	"time"

	"github.com/rohanthewiz/serr"
)

// AgentSessionStatus is the durable status of one agent turn
type AgentSessionStatus string

const (
	AgentSessionStarting  AgentSessionStatus = "starting"
	AgentSessionRunning   AgentSessionStatus = "running"
	AgentSessionCompleted AgentSessionStatus = "completed"
	AgentSessionCancelled AgentSessionStatus = "cancelled"
	AgentSessionFailed    AgentSessionStatus = "failed"
)

// Terminal reports whether the status absorbs further transitions
func (s AgentSessionStatus) Terminal() bool {
	switch s {
	case AgentSessionCompleted, AgentSessionCancelled, AgentSessionFailed:
		return true
	}
	return false
}

// AgentSession is the durable record of one agent subprocess run
type AgentSession struct {
	ReplyID        string             `json:"reply_id"`
	ConversationID string             `json:"conversation_id"`
	UserID         string             `json:"user_id"`
	Status         AgentSessionStatus `json:"status"`
	PID            int                `json:"pid,omitempty"`
	StartedAt      time.Time          `json:"started_at"`
	FinishedAt     *time.Time         `json:"finished_at,omitempty"`
}

// CreateAgentSession writes a new agent session record with status starting
func (db *DB) CreateAgentSession(replyID, conversationID, userID string) error {
	query := `
		INSERT INTO agent_sessions (reply_id, conversation_id, user_id, status, started_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
	`
	_, err := db.Exec(query, replyID, conversationID, userID, string(AgentSessionStarting))
	return serr.Wrap(err, "failed to create agent session")
}

// SetAgentSessionRunning records the subprocess pid and moves the session to running
func (db *DB) SetAgentSessionRunning(replyID string, pid int) error {
	query := `UPDATE agent_sessions SET status = ?, pid = ? WHERE reply_id = ? AND status = 'starting'`
	_, err := db.Exec(query, string(AgentSessionRunning), pid, replyID)
	return serr.Wrap(err, "failed to mark agent session running")
}

// FinishAgentSession moves the session to a terminal status. Already-terminal
// rows are left untouched so the first terminal transition wins.
func (db *DB) FinishAgentSession(replyID string, status AgentSessionStatus) error {
	query := `
		UPDATE agent_sessions
		SET status = ?, finished_at = CURRENT_TIMESTAMP
		WHERE reply_id = ? AND status IN ('starting', 'running')
	`
	_, err := db.Exec(query, string(status), replyID)
	return serr.Wrap(err, "failed to finish agent session")
}

// GetAgentSession retrieves an agent session by reply id
func (db *DB) GetAgentSession(replyID string) (*AgentSession, error) {
	query := `
		SELECT reply_id, conversation_id, user_id, status, pid, started_at, finished_at
		FROM agent_sessions
		WHERE reply_id = ?
	`

	var sess AgentSession
	var status string
	var pid sql.NullInt64
	var finishedAt sql.NullTime

	err := db.QueryRow(query, replyID).Scan(
		&sess.ReplyID,
		&sess.ConversationID,
		&sess.UserID,
		&status,
		&pid,
		&sess.StartedAt,
		&finishedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, serr.Wrap(err, "failed to get agent session")
	}

	sess.Status = AgentSessionStatus(status)
	if pid.Valid {
		sess.PID = int(pid.Int64)
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		sess.FinishedAt = &t
	}

	return &sess, nil
}

// ListRecentAgentSessions returns the most recent agent sessions for the status page
func (db *DB) ListRecentAgentSessions(limit int) ([]*AgentSession, error) {
	query := `
		SELECT reply_id, conversation_id, user_id, status, pid, started_at, finished_at
		FROM agent_sessions
		ORDER BY started_at DESC
		LIMIT ?
	`

	rows, err := db.Query(query, limit)
	if err != nil {
		return nil, serr.Wrap(err, "failed to list agent sessions")
	}
	defer rows.Close()

	var sessions []*AgentSession
	for rows.Next() {
		var sess AgentSession
		var status string
		var pid sql.NullInt64
		var finishedAt sql.NullTime

		if err := rows.Scan(&sess.ReplyID, &sess.ConversationID, &sess.UserID, &status,
			&pid, &sess.StartedAt, &finishedAt); err != nil {
			return nil, serr.Wrap(err, "failed to scan agent session")
		}

		sess.Status = AgentSessionStatus(status)
		if pid.Valid {
			sess.PID = int(pid.Int64)
		}
		if finishedAt.Valid {
			t := finishedAt.Time
			sess.FinishedAt = &t
		}
		sessions = append(sessions, &sess)
	}

	return sessions, rows.Err()
}
