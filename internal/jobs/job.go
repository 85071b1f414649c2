package jobs

import (
	"time"

	"github.com/inquirylab/fathom/internal/models"
)

// Status is the closed seven-value job lifecycle enum.
type Status string

const (
	StatusPending      Status = "pending"
	StatusCoordinating Status = "coordinating"
	StatusPlanning     Status = "planning"
	StatusResearching  Status = "researching"
	StatusReporting    Status = "reporting"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

// statusRank orders the forward-only transition chain. Terminal states share
// the top rank; failed is reachable from anywhere, completed only forward.
var statusRank = map[Status]int{
	StatusPending:      0,
	StatusCoordinating: 1,
	StatusPlanning:     2,
	StatusResearching:  3,
	StatusReporting:    4,
	StatusCompleted:    5,
	StatusFailed:       5,
}

// Valid reports whether s is one of the seven defined values.
func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// Terminal reports whether s ends the lifecycle.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// canTransition enforces the forward-only rule: moves never decrease rank,
// terminal states never change, and failed is reachable from any live state.
func canTransition(from, to Status) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from.Terminal() {
		return false
	}
	if to == StatusFailed {
		return true
	}
	return statusRank[to] > statusRank[from]
}

// Mode selects which pipeline a job runs.
const (
	ModeResearch = "research"
	ModePerson   = "person"
)

// Options captures the per-job request configuration.
type Options struct {
	ReportStyle           string                 `json:"report_style,omitempty"`
	MaxStepNum            int                    `json:"max_step_num,omitempty"`
	MaxSearchResults      int                    `json:"max_search_results,omitempty"`
	SearchProvider        string                 `json:"search_provider,omitempty"`
	EnableBackgroundInv   *bool                  `json:"enable_background_investigation,omitempty"`
	AutoAcceptedPlan      bool                   `json:"auto_accepted_plan,omitempty"`
	SkipReporting         bool                   `json:"skip_reporting,omitempty"`
	OutputSchema          map[string]interface{} `json:"output_schema,omitempty"`
	Resources             []string               `json:"resources,omitempty"`
	UserID                string                 `json:"user_id,omitempty"`
	APIKeyName            string                 `json:"api_key_name,omitempty"`

	// Person mode
	PersonName    string `json:"person_name,omitempty"`
	PersonCompany string `json:"person_company,omitempty"`
	PersonContext string `json:"person_context,omitempty"`
	QuickMode     bool   `json:"quick_mode,omitempty"`
	CandidateID   string `json:"candidate_id,omitempty"`

	// Candidates carried over from a prior ambiguous run so a selection
	// resolves without repeating the identity searches.
	Candidates []models.Candidate `json:"-"`
}

// Job is the externally addressable unit of work. The manager owns all
// mutation; handlers only see snapshots.
type Job struct {
	ID     string `json:"job_id"`
	Query  string `json:"query"`
	Mode   string `json:"mode"`
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`

	ThreadID   string `json:"thread_id,omitempty"`
	WorkflowID string `json:"-"`
	RunID      string `json:"-"`

	FinalReport        string                 `json:"final_report,omitempty"`
	ResearcherFindings string                 `json:"researcher_findings,omitempty"`
	Plan               map[string]interface{} `json:"plan,omitempty"`
	StructuredOutput   map[string]interface{} `json:"structured_output,omitempty"`
	Observations       []string               `json:"observations,omitempty"`

	Candidates        []models.Candidate `json:"disambiguation_candidates,omitempty"`
	SelectedCandidate *models.Candidate  `json:"selected_candidate,omitempty"`

	SearchesExecuted int     `json:"searches_executed"`
	DurationSeconds  float64 `json:"duration_seconds,omitempty"`

	Options Options `json:"-"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ResultFields are the terminal outputs persisted for a completed job.
type ResultFields struct {
	ThreadID           string
	FinalReport        string
	ResearcherFindings string
	StructuredOutput   map[string]interface{}
	Plan               map[string]interface{}
	Observations       []string
	DurationSeconds    float64
}
