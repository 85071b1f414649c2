package activities

import (
	"context"

	"go.temporal.io/sdk/activity"
)

// JobLifecycle is the slice of the job lifecycle manager that activities
// need. Defined here so the lifecycle manager can depend on the workflow
// layer without a cycle.
type JobLifecycle interface {
	UpdateStatus(ctx context.Context, jobID, status, errText string) error
	SaveResult(ctx context.Context, jobID string, res LifecycleResult) error
	RecordSearches(jobID string, n int)
}

// LifecycleResult carries a run's terminal fields to the lifecycle manager.
type LifecycleResult struct {
	ThreadID           string
	FinalReport        string
	ResearcherFindings string
	StructuredOutput   map[string]interface{}
	Plan               map[string]interface{}
	Observations       []string
	DurationSeconds    float64
}

// StatusInput advances a job through its lifecycle.
type StatusInput struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// UpdateJobStatus applies a monotonic status transition via the lifecycle
// manager. A non-forward transition is ignored there, not an error here.
func (a *Activities) UpdateJobStatus(ctx context.Context, in StatusInput) error {
	activity.GetLogger(ctx).Info("Job status update", "job_id", in.JobID, "status", in.Status)
	return a.jobs.UpdateStatus(ctx, in.JobID, in.Status, in.Error)
}

// ResultInput carries a run's terminal fields.
type ResultInput struct {
	JobID              string                 `json:"job_id"`
	ThreadID           string                 `json:"thread_id"`
	FinalReport        string                 `json:"final_report,omitempty"`
	ResearcherFindings string                 `json:"researcher_findings,omitempty"`
	StructuredOutput   map[string]interface{} `json:"structured_output,omitempty"`
	Plan               map[string]interface{} `json:"plan,omitempty"`
	Observations       []string               `json:"observations,omitempty"`
	DurationSeconds    float64                `json:"duration_seconds"`
}

// SaveJobResult persists the terminal result fields for a job.
func (a *Activities) SaveJobResult(ctx context.Context, in ResultInput) error {
	activity.GetLogger(ctx).Info("Saving job result", "job_id", in.JobID)
	return a.jobs.SaveResult(ctx, in.JobID, LifecycleResult{
		ThreadID:           in.ThreadID,
		FinalReport:        in.FinalReport,
		ResearcherFindings: in.ResearcherFindings,
		StructuredOutput:   in.StructuredOutput,
		Plan:               in.Plan,
		Observations:       in.Observations,
		DurationSeconds:    in.DurationSeconds,
	})
}

// SearchCountInput bumps a job's search counter.
type SearchCountInput struct {
	JobID string `json:"job_id"`
	Count int    `json:"count"`
}

// RecordSearches records collaborator search usage against the job.
func (a *Activities) RecordSearches(ctx context.Context, in SearchCountInput) error {
	a.jobs.RecordSearches(in.JobID, in.Count)
	return nil
}
