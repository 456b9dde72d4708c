package db

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rohanthewiz/serr"
)

// JSONMap stores a JSON object column, marshaled on write and decoded on scan
type JSONMap map[string]interface{}

// Scan implements sql.Scanner for JSONMap
func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = make(JSONMap)
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("unsupported type: %T", value)
	}
}

// Value implements driver.Valuer for JSONMap
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	bytData, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(bytData), nil
}

// PlanStatus represents the status of a coordinator plan
type PlanStatus string

const (
	PlanStatusRunning   PlanStatus = "running"
	PlanStatusCompleted PlanStatus = "completed"
	PlanStatusFailed    PlanStatus = "failed"
)

// CoordinatorPlan is the persisted projection of coordinator events for a
// conversation. One plan per conversation; a new plan_created overwrites.
type CoordinatorPlan struct {
	ConversationID  string                     `json:"conversation_id"`
	Objective       string                     `json:"objective"`
	Plan            json.RawMessage `json:"plan"`
	ActivePhase     *int            `json:"active_phase"`
	CompletedPhases []int           `json:"completed_phases"`
	PhaseOutputs    JSONMap         `json:"phase_outputs"`
	Status          PlanStatus      `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// GetCoordinatorPlan retrieves the plan for a conversation, nil if absent
func (db *DB) GetCoordinatorPlan(conversationID string) (*CoordinatorPlan, error) {
	query := `
		SELECT conversation_id, objective, plan, active_phase, completed_phases,
		       phase_outputs, status, created_at, updated_at
		FROM coordinator_plans
		WHERE conversation_id = ?
	`

	var plan CoordinatorPlan
	var planJSON, completedJSON string
	var activePhase sql.NullInt64
	var status string

	err := db.QueryRow(query, conversationID).Scan(
		&plan.ConversationID,
		&plan.Objective,
		&planJSON,
		&activePhase,
		&completedJSON,
		&plan.PhaseOutputs,
		&status,
		&plan.CreatedAt,
		&plan.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, serr.Wrap(err, "failed to get coordinator plan")
	}

	plan.Plan = json.RawMessage(planJSON)
	plan.Status = PlanStatus(status)
	if activePhase.Valid {
		n := int(activePhase.Int64)
		plan.ActivePhase = &n
	}
	if err := json.Unmarshal([]byte(completedJSON), &plan.CompletedPhases); err != nil {
		return nil, serr.Wrap(err, "failed to decode completed phases")
	}

	return &plan, nil
}

// SaveCoordinatorPlan upserts a plan keyed by conversation id
func (db *DB) SaveCoordinatorPlan(plan *CoordinatorPlan) error {
	completedJSON, err := json.Marshal(plan.CompletedPhases)
	if err != nil {
		return serr.Wrap(err, "failed to marshal completed phases")
	}

	outputs := plan.PhaseOutputs
	if outputs == nil {
		outputs = JSONMap{}
	}

	var activePhase interface{}
	if plan.ActivePhase != nil {
		activePhase = *plan.ActivePhase
	}

	query := `
		INSERT INTO coordinator_plans
			(conversation_id, objective, plan, active_phase, completed_phases, phase_outputs, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(conversation_id) DO UPDATE SET
			objective = excluded.objective,
			plan = excluded.plan,
			active_phase = excluded.active_phase,
			completed_phases = excluded.completed_phases,
			phase_outputs = excluded.phase_outputs,
			status = excluded.status,
			updated_at = CURRENT_TIMESTAMP
	`

	_, err = db.Exec(query, plan.ConversationID, plan.Objective, string(plan.Plan),
		activePhase, string(completedJSON), outputs, string(plan.Status))

	return serr.Wrap(err, "failed to save coordinator plan")
}

// ListRecentCoordinatorPlans returns the most recently updated plans for the status page
func (db *DB) ListRecentCoordinatorPlans(limit int) ([]*CoordinatorPlan, error) {
	query := `
		SELECT conversation_id, objective, plan, active_phase, completed_phases,
		       phase_outputs, status, created_at, updated_at
		FROM coordinator_plans
		ORDER BY updated_at DESC
		LIMIT ?
	`

	rows, err := db.Query(query, limit)
	if err != nil {
		return nil, serr.Wrap(err, "failed to list coordinator plans")
	}
	defer rows.Close()

	var plans []*CoordinatorPlan
	for rows.Next() {
		var plan CoordinatorPlan
		var planJSON, completedJSON string
		var activePhase sql.NullInt64
		var status string

		if err := rows.Scan(&plan.ConversationID, &plan.Objective, &planJSON, &activePhase,
			&completedJSON, &plan.PhaseOutputs, &status, &plan.CreatedAt, &plan.UpdatedAt); err != nil {
			return nil, serr.Wrap(err, "failed to scan coordinator plan")
		}

		plan.Plan = json.RawMessage(planJSON)
		plan.Status = PlanStatus(status)
		if activePhase.Valid {
			n := int(activePhase.Int64)
			plan.ActivePhase = &n
		}
		if err := json.Unmarshal([]byte(completedJSON), &plan.CompletedPhases); err != nil {
			return nil, serr.Wrap(err, "failed to decode completed phases")
		}
		plans = append(plans, &plan)
	}

	return plans, rows.Err()
}
