package workflows

import (
	"time"

	"github.com/inquirylab/fathom/internal/models"
)

// Workflow type names as registered with the worker.
const (
	ResearchWorkflowName = "ResearchWorkflow"
	PersonWorkflowName   = "PersonResearchWorkflow"
)

// planReviewSignalPrefix scopes the plan review signal channel to one
// workflow execution.
const planReviewSignalPrefix = "plan-review"

// PlanReviewSignalName returns the signal channel a paused plan review in the
// given workflow listens on. For person runs the key is the parent workflow
// id, matching the thread the interrupt event was published under.
func PlanReviewSignalName(workflowID string) string {
	return planReviewSignalPrefix + "-" + workflowID
}

// ChildResearchWorkflowID derives the execution id of the research child a
// person run spawns in full-research mode.
func ChildResearchWorkflowID(parentID string) string {
	return parentID + "-research"
}

// Resume payload markers for the plan review signal.
const (
	ResumeAccepted   = "[ACCEPTED]"
	ResumeEditPrefix = "[EDIT_PLAN]"
)

// ResearchInput drives one full research run.
type ResearchInput struct {
	JobID string `json:"job_id"`
	Query string `json:"query"`

	// ThreadID overrides the stream thread and signal key. Left empty for a
	// direct run; a person run sets it so the child publishes and listens
	// under the parent's id.
	ThreadID string `json:"thread_id,omitempty"`

	ReportStyle           string                 `json:"report_style,omitempty"`
	MaxPlanIterations     int                    `json:"max_plan_iterations"`
	MaxStepNum            int                    `json:"max_step_num"`
	MaxSearchResults      int                    `json:"max_search_results"`
	SearchProvider        string                 `json:"search_provider,omitempty"`
	EnableBackgroundInv   bool                   `json:"enable_background_investigation"`
	AutoAcceptedPlan      bool                   `json:"auto_accepted_plan"`
	SkipReporting         bool                   `json:"skip_reporting"`
	OutputSchema          map[string]interface{} `json:"output_schema,omitempty"`
	Resources             []string               `json:"resources,omitempty"`
	CompressTargetTokens  int                    `json:"compress_target_tokens,omitempty"`
	PlanReviewTimeout     time.Duration          `json:"plan_review_timeout,omitempty"`
}

// ResearchResult is the terminal output of a research run.
type ResearchResult struct {
	FinalReport        string                 `json:"final_report,omitempty"`
	ResearcherFindings string                 `json:"researcher_findings,omitempty"`
	Plan               map[string]interface{} `json:"plan,omitempty"`
	StructuredOutput   map[string]interface{} `json:"structured_output,omitempty"`
	Observations       []string               `json:"observations,omitempty"`
	PlanIterations     int                    `json:"plan_iterations"`
	DurationSeconds    float64                `json:"duration_seconds"`
	DirectResponse     string                 `json:"direct_response,omitempty"`
}

// PersonInput drives the person research pipeline.
type PersonInput struct {
	JobID   string `json:"job_id"`
	Name    string `json:"name"`
	Company string `json:"company,omitempty"`
	Context string `json:"context,omitempty"`

	// CandidateID selects a previously surfaced candidate on re-invocation.
	CandidateID string `json:"candidate_id,omitempty"`
	// Candidates carries the previously surfaced list on re-invocation so the
	// selection resolves without repeating the searches.
	Candidates []models.Candidate `json:"candidates,omitempty"`

	QuickMode        bool   `json:"quick_mode"`
	ReportStyle      string `json:"report_style,omitempty"`
	SearchProvider   string `json:"search_provider,omitempty"`
	MaxSearchResults int    `json:"max_search_results,omitempty"`

	// Knobs forwarded to the child research run in normal mode.
	Research ResearchInput `json:"research,omitempty"`
}

// PersonResult is the terminal output of a person research run. Exactly one
// of Candidates (awaiting selection) or Selected is populated on success.
type PersonResult struct {
	AwaitingDisambiguation bool                   `json:"awaiting_disambiguation"`
	Candidates             []models.Candidate     `json:"candidates,omitempty"`
	Selected               *models.Candidate      `json:"selected_candidate,omitempty"`
	EnrichedQuery          string                 `json:"enriched_query,omitempty"`
	FinalReport            string                 `json:"final_report,omitempty"`
	ResearcherFindings     string                 `json:"researcher_findings,omitempty"`
	StructuredOutput       map[string]interface{} `json:"structured_output,omitempty"`
	DurationSeconds        float64                `json:"duration_seconds"`
}
