package agent

import (
	"encoding/json"
	"fmt"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"

	"studio/db"
)

// PlanStore is the slice of the durable store the projector writes to
type PlanStore interface {
	GetCoordinatorPlan(conversationID string) (*db.CoordinatorPlan, error)
	SaveCoordinatorPlan(plan *db.CoordinatorPlan) error
}

// Projector applies coordinator events to the persisted plan for a
// conversation. Updates are monotonic: completed phases only grow, and a
// terminal plan status is never regressed by a later phase event.
type Projector struct {
	store PlanStore
}

// NewProjector creates a projector over the given store
func NewProjector(store PlanStore) *Projector {
	return &Projector{store: store}
}

// Apply folds one coordinator event into the plan row. Unknown event types
// and out-of-order events referring to a missing plan are dropped with a log
// entry. Store failures are returned for the caller to log; they never stop
// the event stream.
func (p *Projector) Apply(conversationID, eventType string, data json.RawMessage) error {
	switch eventType {
	case "plan_created":
		return p.planCreated(conversationID, data)
	case "phase_started":
		return p.phaseStarted(conversationID, data)
	case "phase_completed":
		return p.phaseCompleted(conversationID, data)
	case "task_completed":
		return p.setStatus(conversationID, db.PlanStatusCompleted)
	case "task_failed", "execution_failed":
		return p.setStatus(conversationID, db.PlanStatusFailed)
	default:
		logger.Debug("Ignoring coordinator event", "event_type", eventType)
		return nil
	}
}

func (p *Projector) planCreated(conversationID string, data json.RawMessage) error {
	var payload struct {
		Plan json.RawMessage `json:"plan"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return serr.Wrap(err, "failed to decode plan_created")
	}

	var doc struct {
		Objective string `json:"objective"`
	}
	if err := json.Unmarshal(payload.Plan, &doc); err != nil {
		return serr.Wrap(err, "failed to decode plan document")
	}

	plan := &db.CoordinatorPlan{
		ConversationID:  conversationID,
		Objective:       doc.Objective,
		Plan:            payload.Plan,
		ActivePhase:     nil,
		CompletedPhases: []int{},
		PhaseOutputs:    db.JSONMap{},
		Status:          db.PlanStatusRunning,
	}
	return p.store.SaveCoordinatorPlan(plan)
}

func (p *Projector) phaseStarted(conversationID string, data json.RawMessage) error {
	var payload struct {
		Phase int `json:"phase"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return serr.Wrap(err, "failed to decode phase_started")
	}

	plan, err := p.store.GetCoordinatorPlan(conversationID)
	if err != nil {
		return err
	}
	if plan == nil {
		logger.Warn("phase_started before plan_created, dropping",
			"conversation_id", conversationID, "phase", payload.Phase)
		return nil
	}
	if containsPhase(plan.CompletedPhases, payload.Phase) {
		logger.Warn("phase_started for already completed phase, dropping",
			"conversation_id", conversationID, "phase", payload.Phase)
		return nil
	}
	if plan.Status != db.PlanStatusRunning {
		logger.Warn("phase_started after terminal plan status, dropping",
			"conversation_id", conversationID, "phase", payload.Phase)
		return nil
	}

	plan.ActivePhase = &payload.Phase
	return p.store.SaveCoordinatorPlan(plan)
}

func (p *Projector) phaseCompleted(conversationID string, data json.RawMessage) error {
	var payload struct {
		Phase      int             `json:"phase"`
		Evaluation json.RawMessage `json:"evaluation"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return serr.Wrap(err, "failed to decode phase_completed")
	}

	plan, err := p.store.GetCoordinatorPlan(conversationID)
	if err != nil {
		return err
	}
	if plan == nil {
		logger.Warn("phase_completed before plan_created, dropping",
			"conversation_id", conversationID, "phase", payload.Phase)
		return nil
	}

	if !containsPhase(plan.CompletedPhases, payload.Phase) {
		plan.CompletedPhases = append(plan.CompletedPhases, payload.Phase)
	}
	if len(payload.Evaluation) > 0 {
		if plan.PhaseOutputs == nil {
			plan.PhaseOutputs = db.JSONMap{}
		}
		plan.PhaseOutputs[fmt.Sprintf("phase_%d", payload.Phase)] = payload.Evaluation
	}
	if plan.ActivePhase != nil && *plan.ActivePhase == payload.Phase {
		plan.ActivePhase = nil
	}

	return p.store.SaveCoordinatorPlan(plan)
}

func (p *Projector) setStatus(conversationID string, status db.PlanStatus) error {
	plan, err := p.store.GetCoordinatorPlan(conversationID)
	if err != nil {
		return err
	}
	if plan == nil {
		logger.Warn("Plan status event before plan_created, dropping",
			"conversation_id", conversationID, "status", string(status))
		return nil
	}
	if plan.Status != db.PlanStatusRunning {
		logger.Warn("Plan already terminal, dropping status event",
			"conversation_id", conversationID, "status", string(status))
		return nil
	}

	plan.Status = status
	if status != db.PlanStatusRunning {
		plan.ActivePhase = nil
	}
	return p.store.SaveCoordinatorPlan(plan)
}

func containsPhase(phases []int, phase int) bool {
	for _, p := range phases {
		if p == phase {
			return true
		}
	}
	return false
}
