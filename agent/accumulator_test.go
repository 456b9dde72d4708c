package agent

import (
	"encoding/json"
	"strings"
	"testing"
)

func newTestAccumulator() *Accumulator {
	filter := NewToolFilter(
		[]string{"internal_scratchpad"},
		map[string]string{"read_file": "Read File"},
	)
	return NewAccumulator(filter)
}

// TestAccumulatorTextConcatenation tests that text deltas append in arrival order
func TestAccumulatorTextConcatenation(t *testing.T) {
	acc := newTestAccumulator()

	for _, chunk := range []string{"The answer", " is", " 42."} {
		frames := acc.Apply(Event{Type: EventText, Content: chunk})
		if len(frames) != 1 {
			t.Fatalf("Expected 1 frame per text event, got %d", len(frames))
		}
		if frames[0].Type != FrameChunk {
			t.Errorf("Expected chunk frame, got %s", frames[0].Type)
		}
	}

	if acc.Text() != "The answer is 42." {
		t.Errorf("Unexpected accumulated text: %q", acc.Text())
	}
}

// TestAccumulatorHiddenToolPair tests that a hidden call suppresses its result too
func TestAccumulatorHiddenToolPair(t *testing.T) {
	acc := newTestAccumulator()

	frames := acc.Apply(Event{Type: EventToolCall, ID: "c1", Name: "internal_scratchpad"})
	if len(frames) != 0 {
		t.Errorf("Expected hidden tool call to produce no frames, got %d", len(frames))
	}

	// Result arrives without the tool name, only the call id
	frames = acc.Apply(Event{Type: EventToolResult, ID: "c1", Output: "scratch"})
	if len(frames) != 0 {
		t.Errorf("Expected paired result to be suppressed, got %d frames", len(frames))
	}
}

// TestAccumulatorVisibleToolRename tests display-name mapping on visible tools
func TestAccumulatorVisibleToolRename(t *testing.T) {
	acc := newTestAccumulator()

	frames := acc.Apply(Event{
		Type: EventToolCall, ID: "c2", Name: "read_file",
		Input: json.RawMessage(`{"path": "main.go"}`),
	})
	if len(frames) != 1 {
		t.Fatalf("Expected 1 frame, got %d", len(frames))
	}
	call, ok := frames[0].Payload.(ToolCallPayload)
	if !ok {
		t.Fatalf("Expected ToolCallPayload, got %T", frames[0].Payload)
	}
	if call.Name != "Read File" {
		t.Errorf("Expected display name, got %q", call.Name)
	}

	frames = acc.Apply(Event{Type: EventToolResult, ID: "c2", Name: "read_file", Output: "package main", Success: true})
	if len(frames) != 1 {
		t.Fatalf("Expected 1 result frame, got %d", len(frames))
	}
	result, ok := frames[0].Payload.(ToolResultPayload)
	if !ok {
		t.Fatalf("Expected ToolResultPayload, got %T", frames[0].Payload)
	}
	if result.Name != "Read File" || !result.Success {
		t.Errorf("Unexpected result payload: %+v", result)
	}
}

// TestAccumulatorThinkingPassthrough tests that thinking deltas are framed but
// never enter the transcript text.
func TestAccumulatorThinkingPassthrough(t *testing.T) {
	acc := newTestAccumulator()

	frames := acc.Apply(Event{Type: EventThinking, Content: "considering"})
	if len(frames) != 1 || frames[0].Type != FrameThinking {
		t.Fatalf("Expected one thinking frame, got %+v", frames)
	}
	if acc.Text() != "" {
		t.Errorf("Thinking content leaked into transcript: %q", acc.Text())
	}
}

// TestAccumulatorTestcaseExtraction tests the one-shot testcase scan
func TestAccumulatorTestcaseExtraction(t *testing.T) {
	acc := newTestAccumulator()

	doc := `{"interface_name": "Sorter", "status": "success", "count": 2, "testcases": [{"input": [3, 1], "expected": [1, 3]}, {"input": [], "expected": []}]}`
	preamble := strings.Repeat("Here are the generated cases. ", 5)

	frames := acc.Apply(Event{Type: EventText, Content: preamble + doc})

	if len(frames) != 2 {
		t.Fatalf("Expected chunk plus testcases frame, got %d frames", len(frames))
	}
	if frames[1].Type != FrameTestcases {
		t.Fatalf("Expected testcases frame, got %s", frames[1].Type)
	}
	payload, ok := frames[1].Payload.(TestcasesPayload)
	if !ok {
		t.Fatalf("Expected TestcasesPayload, got %T", frames[1].Payload)
	}
	if payload.Data.Status != "success" {
		t.Errorf("Expected status success, got %q", payload.Data.Status)
	}
	if payload.Data.Count != 2 || len(payload.Data.Testcases) != 2 {
		t.Errorf("Expected 2 testcases, got count=%d len=%d", payload.Data.Count, len(payload.Data.Testcases))
	}

	// Later text must not trigger a second extraction
	frames = acc.Apply(Event{Type: EventText, Content: ` {"testcases": [{"input": 1}]}`})
	if len(frames) != 1 {
		t.Errorf("Expected extraction to fire at most once, got %d frames", len(frames))
	}
}

// TestAccumulatorTestcaseDefaults tests status and count fallbacks when the
// document carries neither field.
func TestAccumulatorTestcaseDefaults(t *testing.T) {
	acc := newTestAccumulator()

	doc := `{"interface_name": "Sorter", "testcases": [{"input": 1}, {"input": 2}, {"input": 3}]}`
	preamble := strings.Repeat("Here are the generated cases. ", 5)

	frames := acc.Apply(Event{Type: EventText, Content: preamble + doc})
	if len(frames) != 2 {
		t.Fatalf("Expected chunk plus testcases frame, got %d frames", len(frames))
	}
	payload := frames[1].Payload.(TestcasesPayload)
	if payload.Data.Status != "unknown" {
		t.Errorf("Expected status unknown, got %q", payload.Data.Status)
	}
	if payload.Data.Count != 3 {
		t.Errorf("Expected count 3, got %d", payload.Data.Count)
	}
}

// TestAccumulatorTestcaseShortTextIgnored tests the minimum-length gate
func TestAccumulatorTestcaseShortTextIgnored(t *testing.T) {
	acc := newTestAccumulator()

	frames := acc.Apply(Event{Type: EventText, Content: `{"testcases": [{"input": 1}]}`})
	if len(frames) != 1 {
		t.Errorf("Expected no extraction from short text, got %d frames", len(frames))
	}
}

// TestAccumulatorTestcaseEmptyArrayIgnored tests that an empty testcases array
// is not worth a frame.
func TestAccumulatorTestcaseEmptyArrayIgnored(t *testing.T) {
	acc := newTestAccumulator()

	padding := strings.Repeat("Generated with generate_positive_cases enabled. ", 3)
	frames := acc.Apply(Event{Type: EventText, Content: padding + `{"testcases": []}`})
	if len(frames) != 1 {
		t.Errorf("Expected no extraction for empty array, got %d frames", len(frames))
	}
}

// TestAccumulatorCoordinatorPassthrough tests coordinator event framing
func TestAccumulatorCoordinatorPassthrough(t *testing.T) {
	acc := newTestAccumulator()

	frames := acc.Apply(Event{
		Type:      EventCoordinator,
		CoordType: "phase_completed",
		Data:      json.RawMessage(`{"phase": 1}`),
	})
	if len(frames) != 1 || frames[0].Type != FrameCoordinator {
		t.Fatalf("Expected one coordinator frame, got %+v", frames)
	}
	payload, ok := frames[0].Payload.(CoordinatorPayload)
	if !ok {
		t.Fatalf("Expected CoordinatorPayload, got %T", frames[0].Payload)
	}
	if payload.EventType != "phase_completed" {
		t.Errorf("Unexpected event type: %q", payload.EventType)
	}
}
