package agent

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/rohanthewiz/logger"
)

// testcaseHints are the literal tokens that make a transcript worth scanning
// for an embedded testcase document.
var testcaseHints = []string{
	`"testcases"`,
	`"interface_name"`,
	`generate_positive_cases`,
	`generate_negative_cases`,
	`generate_security_cases`,
}

// testcaseRe greedily captures the outermost object around a testcases array
var testcaseRe = regexp.MustCompile(`(?s)\{.*"testcases".*\}`)

const testcaseMinLength = 100

// Accumulator holds a reply's transient streaming state: the text assembled
// so far, the ids of suppressed tool calls, and the one-shot testcase flag.
// Callers serialize access per reply; the Accumulator itself does not lock.
type Accumulator struct {
	text              strings.Builder
	hiddenIDs         map[string]struct{}
	testcaseExtracted bool
	filter            *ToolFilter
}

// NewAccumulator creates the per-reply accumulator with the given tool filter
func NewAccumulator(filter *ToolFilter) *Accumulator {
	return &Accumulator{
		hiddenIDs: make(map[string]struct{}),
		filter:    filter,
	}
}

// Text returns the text accumulated so far
func (a *Accumulator) Text() string {
	return a.text.String()
}

// Apply folds one parsed event into the reply state and returns the frames to
// fan out downstream. Hidden tool calls and their paired results produce
// nothing. A text event may additionally yield a one-time testcases frame.
func (a *Accumulator) Apply(ev Event) []Frame {
	switch ev.Type {
	case EventText:
		a.text.WriteString(ev.Content)
		frames := []Frame{{Type: FrameChunk, Payload: ChunkPayload{Content: ev.Content}}}
		if tc := a.tryExtractTestcases(); tc != nil {
			frames = append(frames, Frame{Type: FrameTestcases, Payload: *tc})
		}
		return frames

	case EventThinking:
		return []Frame{{Type: FrameThinking, Payload: ChunkPayload{Content: ev.Content}}}

	case EventToolCall:
		if a.filter.IsHidden(ev.Name) {
			a.hiddenIDs[ev.ID] = struct{}{}
			return nil
		}
		return []Frame{{Type: FrameToolCall, Payload: ToolCallPayload{
			ID:    ev.ID,
			Name:  a.filter.Display(ev.Name),
			Input: ev.Input,
		}}}

	case EventToolResult:
		if a.filter.IsHidden(ev.Name) {
			return nil
		}
		if _, hidden := a.hiddenIDs[ev.ID]; hidden {
			return nil
		}
		return []Frame{{Type: FrameToolResult, Payload: ToolResultPayload{
			ID:      ev.ID,
			Name:    a.filter.Display(ev.Name),
			Output:  ev.Output,
			Success: ev.Success,
		}}}

	case EventCoordinator:
		return []Frame{{Type: FrameCoordinator, Payload: CoordinatorPayload{
			EventType: ev.CoordType,
			Data:      ev.Data,
		}}}
	}

	return nil
}

// tryExtractTestcases scans the accumulated text for an embedded testcase
// document. At most one extraction happens per reply.
func (a *Accumulator) tryExtractTestcases() *TestcasesPayload {
	if a.testcaseExtracted {
		return nil
	}

	text := a.text.String()
	if len(text) <= testcaseMinLength {
		return nil
	}

	hinted := false
	for _, hint := range testcaseHints {
		if strings.Contains(text, hint) {
			hinted = true
			break
		}
	}
	if !hinted {
		return nil
	}

	match := testcaseRe.FindString(text)
	if match == "" {
		return nil
	}

	var doc struct {
		Status    string            `json:"status"`
		Count     *int              `json:"count"`
		Testcases []json.RawMessage `json:"testcases"`
	}
	if err := json.Unmarshal([]byte(match), &doc); err != nil {
		return nil
	}
	if len(doc.Testcases) == 0 {
		return nil
	}

	// The document's own status and count win when present
	status := doc.Status
	if status == "" {
		status = "unknown"
	}
	count := len(doc.Testcases)
	if doc.Count != nil {
		count = *doc.Count
	}

	a.testcaseExtracted = true
	logger.Info("Extracted testcases from reply text", "count", count)

	return &TestcasesPayload{Data: TestcaseData{
		Status:    status,
		Count:     count,
		Testcases: doc.Testcases,
	}}
}
