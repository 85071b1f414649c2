package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// CreateJob inserts the metadata row for a new research job.
func (c *Client) CreateJob(ctx context.Context, job *ResearchJob) error {
	query := `
		INSERT INTO research_jobs (
			job_id, query, status, report_style, max_step_num, max_search_results,
			search_provider, enable_background_investigation, auto_accepted_plan,
			skip_reporting, output_schema, resources, user_id, api_key_name,
			created_at, updated_at
		) VALUES (
			:job_id, :query, :status, :report_style, :max_step_num, :max_search_results,
			:search_provider, :enable_background_investigation, :auto_accepted_plan,
			:skip_reporting, :output_schema, :resources, :user_id, :api_key_name,
			:created_at, :updated_at
		)`
	if _, err := c.db.NamedExecContext(ctx, query, job); err != nil {
		return fmt.Errorf("create job %s: %w", job.JobID, err)
	}
	return nil
}

// UpdateJobStatus applies a status update. started_at is set only on its
// first non-pending transition; completed_at comes from the caller so the
// lifecycle manager controls its exact semantics.
func (c *Client) UpdateJobStatus(ctx context.Context, jobID string, upd *StatusUpdate) error {
	query := `
		UPDATE research_jobs
		SET status = $2,
		    error = COALESCE($3, error),
		    started_at = COALESCE(started_at, $4),
		    completed_at = COALESCE($5, completed_at),
		    updated_at = NOW()
		WHERE job_id = $1`
	res, err := c.db.ExecContext(ctx, query, jobID, upd.Status, upd.Error, upd.StartedAt, upd.CompletedAt)
	if err != nil {
		return fmt.Errorf("update job %s status: %w", jobID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update job %s status: not found", jobID)
	}
	return nil
}

// IncrementSearches bumps the job's search counter.
func (c *Client) IncrementSearches(ctx context.Context, jobID string, n int) error {
	_, err := c.db.ExecContext(ctx,
		`UPDATE research_jobs SET searches_executed = searches_executed + $2, updated_at = NOW() WHERE job_id = $1`,
		jobID, n)
	if err != nil {
		return fmt.Errorf("increment searches for %s: %w", jobID, err)
	}
	return nil
}

// SaveResult inserts the result row for a job, deriving report_length and
// sources_count from the report text. Upserts so a retried terminal write is
// idempotent.
func (c *Client) SaveResult(ctx context.Context, res *ResearchResult) error {
	if res.FinalReport != nil {
		res.ReportLength = len(*res.FinalReport)
		res.SourcesCount = strings.Count(*res.FinalReport, "](http")
	}
	query := `
		INSERT INTO research_results (
			job_id, thread_id, final_report, researcher_findings, structured_output,
			plan, observations, duration_seconds, search_count, crawl_count,
			report_length, sources_count, created_at
		) VALUES (
			:job_id, :thread_id, :final_report, :researcher_findings, :structured_output,
			:plan, :observations, :duration_seconds, :search_count, :crawl_count,
			:report_length, :sources_count, NOW()
		)
		ON CONFLICT (job_id) DO UPDATE SET
			final_report = EXCLUDED.final_report,
			researcher_findings = EXCLUDED.researcher_findings,
			structured_output = EXCLUDED.structured_output,
			plan = EXCLUDED.plan,
			observations = EXCLUDED.observations,
			duration_seconds = EXCLUDED.duration_seconds,
			search_count = EXCLUDED.search_count,
			crawl_count = EXCLUDED.crawl_count,
			report_length = EXCLUDED.report_length,
			sources_count = EXCLUDED.sources_count`
	if _, err := c.db.NamedExecContext(ctx, query, res); err != nil {
		return fmt.Errorf("save result for %s: %w", res.JobID, err)
	}
	return nil
}

// GetJob fetches the metadata row. Returns (nil, nil) when absent.
func (c *Client) GetJob(ctx context.Context, jobID string) (*ResearchJob, error) {
	var job ResearchJob
	err := c.db.GetContext(ctx, &job, `SELECT * FROM research_jobs WHERE job_id = $1`, jobID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}
	return &job, nil
}

// GetResult fetches the result row. Returns (nil, nil) when absent.
func (c *Client) GetResult(ctx context.Context, jobID string) (*ResearchResult, error) {
	var res ResearchResult
	err := c.db.GetContext(ctx, &res, `SELECT * FROM research_results WHERE job_id = $1`, jobID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get result for %s: %w", jobID, err)
	}
	return &res, nil
}

// JobFilter narrows ListJobs output.
type JobFilter struct {
	Status string
	UserID string
	Limit  int
	Offset int
}

// ListJobs returns metadata rows newest first.
func (c *Client) ListJobs(ctx context.Context, f JobFilter) ([]ResearchJob, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	query := `SELECT * FROM research_jobs WHERE 1=1`
	args := []interface{}{}
	if f.Status != "" {
		args = append(args, f.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.UserID != "" {
		args = append(args, f.UserID)
		query += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	args = append(args, f.Limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))
	args = append(args, f.Offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	jobs := []ResearchJob{}
	if err := c.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// DeleteJob removes the metadata row; the result row cascades.
func (c *Client) DeleteJob(ctx context.Context, jobID string) (bool, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM research_jobs WHERE job_id = $1`, jobID)
	if err != nil {
		return false, fmt.Errorf("delete job %s: %w", jobID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// PurgeOld removes completed or failed jobs whose completed_at is older than
// the cutoff. Operator cleanup, not called by the retention sweep.
func (c *Client) PurgeOld(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	res, err := c.db.ExecContext(ctx,
		`DELETE FROM research_jobs WHERE status IN ('completed', 'failed') AND completed_at < $1`,
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge old jobs: %w", err)
	}
	return res.RowsAffected()
}
