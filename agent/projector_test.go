package agent

import (
	"encoding/json"
	"testing"

	"studio/db"
)

type fakePlanStore struct {
	plans map[string]*db.CoordinatorPlan
}

func newFakePlanStore() *fakePlanStore {
	return &fakePlanStore{plans: make(map[string]*db.CoordinatorPlan)}
}

func (f *fakePlanStore) GetCoordinatorPlan(conversationID string) (*db.CoordinatorPlan, error) {
	return f.plans[conversationID], nil
}

func (f *fakePlanStore) SaveCoordinatorPlan(plan *db.CoordinatorPlan) error {
	f.plans[plan.ConversationID] = plan
	return nil
}

// TestProjectorPlanCreated tests that plan_created materializes a fresh row
func TestProjectorPlanCreated(t *testing.T) {
	store := newFakePlanStore()
	proj := NewProjector(store)

	data := json.RawMessage(`{"plan": {"objective": "refactor the parser", "phases": [{"id": 1}]}}`)
	if err := proj.Apply("conv-1", "plan_created", data); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	plan := store.plans["conv-1"]
	if plan == nil {
		t.Fatal("Expected plan to be saved")
	}
	if plan.Objective != "refactor the parser" {
		t.Errorf("Unexpected objective: %q", plan.Objective)
	}
	if plan.Status != db.PlanStatusRunning {
		t.Errorf("Expected running status, got %s", plan.Status)
	}
	if len(plan.CompletedPhases) != 0 || plan.ActivePhase != nil {
		t.Errorf("Expected empty progress, got %+v", plan)
	}
}

// TestProjectorPhaseLifecycle tests start and completion of a phase
func TestProjectorPhaseLifecycle(t *testing.T) {
	store := newFakePlanStore()
	proj := NewProjector(store)

	mustApply := func(eventType, data string) {
		t.Helper()
		if err := proj.Apply("conv-1", eventType, json.RawMessage(data)); err != nil {
			t.Fatalf("%s failed: %v", eventType, err)
		}
	}

	mustApply("plan_created", `{"plan": {"objective": "ship it"}}`)
	mustApply("phase_started", `{"phase": 1}`)

	plan := store.plans["conv-1"]
	if plan.ActivePhase == nil || *plan.ActivePhase != 1 {
		t.Fatalf("Expected active phase 1, got %+v", plan.ActivePhase)
	}

	mustApply("phase_completed", `{"phase": 1, "evaluation": {"score": 0.9}}`)

	plan = store.plans["conv-1"]
	if len(plan.CompletedPhases) != 1 || plan.CompletedPhases[0] != 1 {
		t.Errorf("Expected completed phases [1], got %v", plan.CompletedPhases)
	}
	if plan.ActivePhase != nil {
		t.Errorf("Expected active phase cleared, got %v", *plan.ActivePhase)
	}
	if _, ok := plan.PhaseOutputs["phase_1"]; !ok {
		t.Errorf("Expected evaluation stored under phase_1, got %v", plan.PhaseOutputs)
	}

	// A duplicate completion must not duplicate the entry
	mustApply("phase_completed", `{"phase": 1}`)
	if len(store.plans["conv-1"].CompletedPhases) != 1 {
		t.Errorf("Duplicate completion grew the list: %v", store.plans["conv-1"].CompletedPhases)
	}

	// Restarting a completed phase is dropped
	mustApply("phase_started", `{"phase": 1}`)
	if store.plans["conv-1"].ActivePhase != nil {
		t.Errorf("Completed phase was reactivated: %v", *store.plans["conv-1"].ActivePhase)
	}
}

// TestProjectorTerminalStatusSticks tests that the first terminal status wins
func TestProjectorTerminalStatusSticks(t *testing.T) {
	store := newFakePlanStore()
	proj := NewProjector(store)

	mustApply := func(eventType, data string) {
		t.Helper()
		if err := proj.Apply("conv-1", eventType, json.RawMessage(data)); err != nil {
			t.Fatalf("%s failed: %v", eventType, err)
		}
	}

	mustApply("plan_created", `{"plan": {"objective": "finish"}}`)
	mustApply("task_completed", `{}`)

	if store.plans["conv-1"].Status != db.PlanStatusCompleted {
		t.Fatalf("Expected completed, got %s", store.plans["conv-1"].Status)
	}

	mustApply("task_failed", `{}`)
	if store.plans["conv-1"].Status != db.PlanStatusCompleted {
		t.Errorf("Terminal status regressed to %s", store.plans["conv-1"].Status)
	}

	mustApply("phase_started", `{"phase": 3}`)
	plan := store.plans["conv-1"]
	if plan.Status != db.PlanStatusCompleted || plan.ActivePhase != nil {
		t.Errorf("Late phase_started disturbed terminal plan: %+v", plan)
	}
}

// TestProjectorEventsBeforePlanDropped tests out-of-order events with no plan row
func TestProjectorEventsBeforePlanDropped(t *testing.T) {
	store := newFakePlanStore()
	proj := NewProjector(store)

	if err := proj.Apply("conv-1", "phase_started", json.RawMessage(`{"phase": 1}`)); err != nil {
		t.Fatalf("Expected drop, got error: %v", err)
	}
	if err := proj.Apply("conv-1", "task_completed", json.RawMessage(`{}`)); err != nil {
		t.Fatalf("Expected drop, got error: %v", err)
	}
	if len(store.plans) != 0 {
		t.Errorf("Expected no plan rows, got %d", len(store.plans))
	}
}

// TestProjectorUnknownEventIgnored tests that unrecognized event types are no-ops
func TestProjectorUnknownEventIgnored(t *testing.T) {
	store := newFakePlanStore()
	proj := NewProjector(store)

	if err := proj.Apply("conv-1", "agent_heartbeat", json.RawMessage(`{}`)); err != nil {
		t.Errorf("Unknown event should be ignored, got: %v", err)
	}
}
