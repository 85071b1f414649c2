package streaming

import (
	"encoding/json"
	"time"
)

// Event types emitted by the workflow roles. The external protocol exposes
// these verbatim as the SSE/NDJSON event name.
const (
	EventRoleStart     = "role_start"
	EventRoleEnd       = "role_end"
	EventMessageChunk  = "message_chunk"
	EventToolCall      = "tool_call"
	EventToolResult    = "tool_call_result"
	EventInterrupt     = "interrupt"
	EventStatusChange  = "status_change"
	EventError         = "error"
	EventDone          = "done"
)

// Roles that appear in the Role field of events.
const (
	RoleCoordinator   = "coordinator"
	RoleInvestigator  = "background_investigator"
	RoleDisambiguator = "person_disambiguator"
	RolePlanner       = "planner"
	RoleHumanFeedback = "human_feedback"
	RoleResearchTeam  = "research_team"
	RoleResearcher    = "researcher"
	RoleCoder         = "coder"
	RoleReporter      = "reporter"
)

// InterruptOption is one selectable choice in an interrupt event. The plan
// review interrupt always carries exactly two of these.
type InterruptOption struct {
	Text  string `json:"text"`
	Value string `json:"value"`
}

// PlanReviewOptions returns the fixed two-option menu for a plan interrupt.
func PlanReviewOptions() []InterruptOption {
	return []InterruptOption{
		{Text: "Edit plan", Value: "edit_plan"},
		{Text: "Start research", Value: "accepted"},
	}
}

// Event is one externally addressable occurrence in a research run. Seq is
// assigned by the Manager at publish time and is strictly increasing per
// thread.
type Event struct {
	ThreadID  string                 `json:"thread_id"`
	Type      string                 `json:"type"`
	Role      string                 `json:"role,omitempty"`
	Content   string                 `json:"content,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Options   []InterruptOption      `json:"options,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Seq       uint64                 `json:"seq"`
}

// Marshal returns the JSON encoding used on the wire and in logs.
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

func decodeEvent(raw []byte) (Event, error) {
	var evt Event
	err := json.Unmarshal(raw, &evt)
	return evt, err
}

// IsReportChunk reports whether the event contributes to the final report.
func (e Event) IsReportChunk() bool {
	return e.Type == EventMessageChunk && e.Role == RoleReporter
}

// IsFindingsChunk reports whether the event contributes to raw researcher
// findings. Mutually exclusive with IsReportChunk by role.
func (e Event) IsFindingsChunk() bool {
	return e.Type == EventMessageChunk && (e.Role == RoleResearcher || e.Role == RoleCoder)
}
