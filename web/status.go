package web

import (
	"fmt"
	"time"

	"github.com/rohanthewiz/element"
	"github.com/rohanthewiz/rweb"

	"studio/agent"
	"studio/db"
)

const statusPageLimit = 20

// statusHandler renders the ops status page: live agent processes, recent
// agent sessions, and recent coordinator plans.
func (h *Handlers) statusHandler(c rweb.Context) error {
	sessions, err := h.store.ListRecentAgentSessions(statusPageLimit)
	if err != nil {
		return c.WriteError(err, 500)
	}
	plans, err := h.store.ListRecentCoordinatorPlans(statusPageLimit)
	if err != nil {
		return c.WriteError(err, 500)
	}

	return c.WriteHTML(h.renderStatusPage(sessions, plans))
}

func (h *Handlers) renderStatusPage(sessions []*db.AgentSession, plans []*db.CoordinatorPlan) string {
	live := h.orch.Supervisor().Snapshot()

	b := element.NewBuilder()

	b.Html().R(
		b.Head().R(
			b.Title().T("Studio - Status"),
			b.Meta("charset", "UTF-8"),
			b.Style().T(statusPageCSS),
		),
		b.Body().R(
			b.H1().T("Agent Orchestrator Status"),

			b.H2().T(fmt.Sprintf("Live Agents (%d)", len(live))),
			b.Table("class", "status-table").R(
				b.Tr().R(
					b.Th().T("Reply"),
					b.Th().T("Conversation"),
					b.Th().T("PID"),
					b.Th().T("Age"),
				),
				element.ForEach(live, func(proc agent.ProcessInfo) {
					b.Tr().R(
						b.Td().T(proc.ReplyID),
						b.Td().T(proc.ConversationID),
						b.Td().T(fmt.Sprintf("%d", proc.PID)),
						b.Td().T(time.Since(proc.StartedAt).Round(time.Second).String()),
					)
				}),
			),

			b.H2().T("Recent Sessions"),
			b.Table("class", "status-table").R(
				b.Tr().R(
					b.Th().T("Reply"),
					b.Th().T("Conversation"),
					b.Th().T("Status"),
					b.Th().T("Started"),
				),
				element.ForEach(sessions, func(sess *db.AgentSession) {
					b.Tr().R(
						b.Td().T(sess.ReplyID),
						b.Td().T(sess.ConversationID),
						b.Td("class", "status-"+string(sess.Status)).T(string(sess.Status)),
						b.Td().T(sess.StartedAt.Format(time.RFC3339)),
					)
				}),
			),

			b.H2().T("Recent Plans"),
			b.Table("class", "status-table").R(
				b.Tr().R(
					b.Th().T("Conversation"),
					b.Th().T("Objective"),
					b.Th().T("Completed Phases"),
					b.Th().T("Status"),
				),
				element.ForEach(plans, func(plan *db.CoordinatorPlan) {
					b.Tr().R(
						b.Td().T(plan.ConversationID),
						b.Td().T(plan.Objective),
						b.Td().T(fmt.Sprintf("%v", plan.CompletedPhases)),
						b.Td("class", "status-"+string(plan.Status)).T(string(plan.Status)),
					)
				}),
			),
		),
	)

	return b.String()
}

const statusPageCSS = `
body { font-family: monospace; margin: 2rem; background: #111; color: #ddd; }
h1 { color: #8cf; }
h2 { color: #aaa; margin-top: 2rem; }
.status-table { border-collapse: collapse; width: 100%; }
.status-table th, .status-table td { border: 1px solid #333; padding: 0.4rem 0.8rem; text-align: left; }
.status-table th { background: #1a1a2a; }
.status-running { color: #8f8; }
.status-completed { color: #88f; }
.status-cancelled { color: #fa4; }
.status-failed { color: #f66; }
`
