package db

import (
	"database/sql"
	"time"

	"github.com/rohanthewiz/serr"
)

// TaskStatus tracks a tracked task's lifecycle
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// Task is a lightweight work item surfaced by an agent during a conversation
type Task struct {
	ID             int        `json:"id"`
	ConversationID string     `json:"conversation_id"`
	Description    string     `json:"description"`
	Status         TaskStatus `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// CreateTask inserts a new pending task and returns its generated id
func (db *DB) CreateTask(conversationID, description string) (*Task, error) {
	query := `
		INSERT INTO tasks (conversation_id, description, status)
		VALUES (?, ?, ?)
		RETURNING id, conversation_id, description, status, created_at, updated_at
	`

	var task Task
	var status string
	err := db.QueryRow(query, conversationID, description, string(TaskStatusPending)).Scan(
		&task.ID, &task.ConversationID, &task.Description, &status,
		&task.CreatedAt, &task.UpdatedAt,
	)
	if err != nil {
		return nil, serr.Wrap(err, "failed to create task")
	}

	task.Status = TaskStatus(status)
	return &task, nil
}

// UpdateTaskStatus moves a task to a new status
func (db *DB) UpdateTaskStatus(id int, status TaskStatus) error {
	query := `UPDATE tasks SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`
	result, err := db.Exec(query, string(status), id)
	if err != nil {
		return serr.Wrap(err, "failed to update task status")
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return serr.New("task not found")
	}
	return nil
}

// ListTasks returns a conversation's tasks in creation order
func (db *DB) ListTasks(conversationID string) ([]*Task, error) {
	query := `
		SELECT id, conversation_id, description, status, created_at, updated_at
		FROM tasks
		WHERE conversation_id = ?
		ORDER BY created_at ASC
	`

	rows, err := db.Query(query, conversationID)
	if err != nil {
		return nil, serr.Wrap(err, "failed to list tasks")
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		var task Task
		var status string
		if err := rows.Scan(&task.ID, &task.ConversationID, &task.Description, &status,
			&task.CreatedAt, &task.UpdatedAt); err != nil {
			return nil, serr.Wrap(err, "failed to scan task")
		}
		task.Status = TaskStatus(status)
		tasks = append(tasks, &task)
	}

	return tasks, rows.Err()
}

// DeleteTask removes a single task
func (db *DB) DeleteTask(id int) error {
	_, err := db.Exec("DELETE FROM tasks WHERE id = ?", id)
	return serr.Wrap(err, "failed to delete task")
}

// GetTask retrieves one task by id, nil if absent
func (db *DB) GetTask(id int) (*Task, error) {
	query := `
		SELECT id, conversation_id, description, status, created_at, updated_at
		FROM tasks
		WHERE id = ?
	`

	var task Task
	var status string
	err := db.QueryRow(query, id).Scan(
		&task.ID, &task.ConversationID, &task.Description, &status,
		&task.CreatedAt, &task.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, serr.Wrap(err, "failed to get task")
	}

	task.Status = TaskStatus(status)
	return &task, nil
}
