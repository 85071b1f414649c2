package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/workflowservice/v1"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/inquirylab/fathom/internal/activities"
	"github.com/inquirylab/fathom/internal/config"
	"github.com/inquirylab/fathom/internal/db"
	"github.com/inquirylab/fathom/internal/metrics"
	"github.com/inquirylab/fathom/internal/streaming"
	"github.com/inquirylab/fathom/internal/util"
	"github.com/inquirylab/fathom/internal/workflows"
)

// ErrNotFound is returned when a job id is unknown to both the memory cache
// and the durable store.
var ErrNotFound = errors.New("job not found")

const maxStoredErrorLen = 2000

// WorkflowClient is the slice of the Temporal client the manager uses.
// Narrowed so tests can fake workflow execution without a server.
type WorkflowClient interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
	SignalWorkflow(ctx context.Context, workflowID, runID, signalName string, arg interface{}) error
	CancelWorkflow(ctx context.Context, workflowID, runID string) error
	DescribeWorkflowExecution(ctx context.Context, workflowID, runID string) (*workflowservice.DescribeWorkflowExecutionResponse, error)
}

// Manager owns the job lifecycle: creation, monotonic status transitions,
// result persistence, retention, and the workflow handles behind each job.
type Manager struct {
	cfg      *config.Manager
	temporal WorkflowClient
	store    *db.Client
	stream   *streaming.Manager
	logger   *zap.Logger

	mu   sync.RWMutex
	jobs map[string]*Job
	runs map[string]client.WorkflowRun

	stopCh chan struct{}
	wg     sync.WaitGroup
	now    func() time.Time
}

// NewManager builds a Manager. store may be nil for memory-only operation;
// everything else is required.
func NewManager(cfg *config.Manager, tc WorkflowClient, store *db.Client, stream *streaming.Manager, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		temporal: tc,
		store:    store,
		stream:   stream,
		logger:   logger,
		jobs:     make(map[string]*Job),
		runs:     make(map[string]client.WorkflowRun),
		stopCh:   make(chan struct{}),
		now:      time.Now,
	}
}

// Start launches the hourly retention sweep.
func (m *Manager) Start() {
	m.wg.Add(1)
	go m.sweepLoop()
}

// Stop halts the sweep and waits for watchers to settle.
func (m *Manager) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

// Create registers a new job and starts its workflow. The returned snapshot
// is already in pending status with the workflow running behind it.
func (m *Manager) Create(ctx context.Context, query, mode string, opts Options) (*Job, error) {
	if mode != ModeResearch && mode != ModePerson {
		return nil, fmt.Errorf("unknown job mode %q", mode)
	}
	if mode == ModePerson && opts.PersonName == "" {
		return nil, errors.New("person jobs require a name")
	}
	if query == "" {
		if mode != ModePerson {
			return nil, errors.New("query is required")
		}
		query = opts.PersonName
	}

	cfg := m.cfg.Get()
	id := uuid.New().String()
	workflowID := "fathom-" + id
	now := m.now()

	job := &Job{
		ID:        id,
		Query:     query,
		Mode:      mode,
		Status:    StatusPending,
		ThreadID:  workflowID,
		Options:   opts,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if m.store != nil {
		// The in-memory record stays authoritative; a failed insert must not
		// fail creation.
		if err := m.store.CreateJob(ctx, jobRecord(job)); err != nil {
			m.logger.Warn("Job insert failed, continuing with in-memory record",
				zap.String("job_id", id), zap.Error(err))
		}
	}

	run, err := m.startWorkflow(ctx, workflowID, job, cfg)
	if err != nil {
		if m.store != nil {
			failed := err.Error()
			m.store.QueueWrite(db.WriteTypeJobStatus, id, &db.StatusUpdate{
				Status: string(StatusFailed), Error: &failed, CompletedAt: ptrTime(m.now()),
			}, nil)
		}
		return nil, fmt.Errorf("start workflow: %w", err)
	}
	job.WorkflowID = run.GetID()
	job.RunID = run.GetRunID()

	m.mu.Lock()
	m.jobs[id] = job
	m.runs[id] = run
	metrics.JobsActive.Set(float64(len(m.jobs)))
	m.mu.Unlock()

	metrics.JobsCreated.WithLabelValues(mode).Inc()
	m.logger.Info("Job created",
		zap.String("job_id", id),
		zap.String("mode", mode),
		zap.String("workflow_id", workflowID),
	)

	m.wg.Add(1)
	go m.watch(id, mode, run)
	return snapshot(job), nil
}

func (m *Manager) startWorkflow(ctx context.Context, workflowID string, job *Job, cfg *config.Config) (client.WorkflowRun, error) {
	opts := client.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: cfg.Temporal.TaskQueue,
	}

	switch job.Mode {
	case ModePerson:
		in := workflows.PersonInput{
			JobID:            job.ID,
			Name:             job.Options.PersonName,
			Company:          job.Options.PersonCompany,
			Context:          job.Options.PersonContext,
			CandidateID:      job.Options.CandidateID,
			Candidates:       job.Options.Candidates,
			QuickMode:        job.Options.QuickMode,
			ReportStyle:      reportStyle(job.Options, cfg),
			SearchProvider:   job.Options.SearchProvider,
			MaxSearchResults: job.Options.MaxSearchResults,
			Research:         researchInput(job, cfg),
		}
		metrics.WorkflowsStarted.WithLabelValues(workflows.PersonWorkflowName).Inc()
		return m.temporal.ExecuteWorkflow(ctx, opts, workflows.PersonWorkflowName, in)
	default:
		metrics.WorkflowsStarted.WithLabelValues(workflows.ResearchWorkflowName).Inc()
		return m.temporal.ExecuteWorkflow(ctx, opts, workflows.ResearchWorkflowName, researchInput(job, cfg))
	}
}

func researchInput(job *Job, cfg *config.Config) workflows.ResearchInput {
	o := job.Options
	background := cfg.Research.BackgroundInvestigate
	if o.EnableBackgroundInv != nil {
		background = *o.EnableBackgroundInv
	}
	return workflows.ResearchInput{
		JobID:                job.ID,
		Query:                job.Query,
		ReportStyle:          reportStyle(o, cfg),
		MaxPlanIterations:    cfg.Research.MaxPlanIterations,
		MaxStepNum:           o.MaxStepNum,
		MaxSearchResults:     o.MaxSearchResults,
		SearchProvider:       o.SearchProvider,
		EnableBackgroundInv:  background,
		AutoAcceptedPlan:     o.AutoAcceptedPlan,
		SkipReporting:        o.SkipReporting,
		OutputSchema:         o.OutputSchema,
		Resources:            o.Resources,
		CompressTargetTokens: cfg.Research.CompressTargetTokens,
		PlanReviewTimeout:    cfg.Research.PlanReviewTimeout,
	}
}

func reportStyle(o Options, cfg *config.Config) string {
	if o.ReportStyle != "" {
		return o.ReportStyle
	}
	return cfg.Research.DefaultReportStyle
}

// watch blocks on the workflow handle as a backstop: if the run fails in a
// way that never reached a terminal status update, the job is still marked
// failed. Person runs also feed their candidate list back into the cache.
func (m *Manager) watch(jobID, mode string, run client.WorkflowRun) {
	defer m.wg.Done()
	ctx := context.Background()

	var runErr error
	switch mode {
	case ModePerson:
		var res workflows.PersonResult
		runErr = run.Get(ctx, &res)
		if runErr == nil {
			m.applyPersonResult(jobID, res)
		}
	default:
		var res workflows.ResearchResult
		runErr = run.Get(ctx, &res)
	}

	if runErr != nil {
		m.logger.Warn("Workflow ended with error",
			zap.String("job_id", jobID), zap.Error(runErr))
		if err := m.UpdateStatus(ctx, jobID, string(StatusFailed), runErr.Error()); err != nil {
			m.logger.Error("Backstop status update failed", zap.String("job_id", jobID), zap.Error(err))
		}
	}

	m.mu.RLock()
	job, ok := m.jobs[jobID]
	var status Status
	var elapsed float64
	if ok {
		status = job.Status
		elapsed = job.DurationSeconds
	}
	m.mu.RUnlock()
	if ok && status.Terminal() {
		metrics.RecordJobCompletion(mode, string(status), elapsed)
	}
}

// UpdateStatus applies a monotonic transition. Non-forward moves are dropped
// silently so replayed or out-of-order activity calls cannot regress a job.
func (m *Manager) UpdateStatus(ctx context.Context, jobID, status, errText string) error {
	next := Status(status)
	if !next.Valid() {
		return fmt.Errorf("invalid status %q", status)
	}
	// Workflow errors can embed whole activity payloads; cap what we store.
	errText = util.TruncateString(errText, maxStoredErrorLen, true)

	now := m.now()
	var startedAt, completedAt *time.Time

	m.mu.Lock()
	job, cached := m.jobs[jobID]
	if cached {
		if !canTransition(job.Status, next) {
			m.mu.Unlock()
			return nil
		}
		metrics.JobStatusTransitions.WithLabelValues(string(job.Status), string(next)).Inc()
		if job.Status == StatusPending {
			startedAt = ptrTime(now)
		}
		job.Status = next
		job.UpdatedAt = now
		if errText != "" {
			job.Error = errText
		}
		if next.Terminal() && job.CompletedAt == nil {
			job.CompletedAt = ptrTime(now)
			completedAt = job.CompletedAt
		}
	}
	m.mu.Unlock()

	if !cached && m.store == nil {
		return ErrNotFound
	}
	if m.store != nil {
		upd := &db.StatusUpdate{Status: string(next), StartedAt: startedAt, CompletedAt: completedAt}
		if errText != "" {
			upd.Error = &errText
		}
		if !cached && next.Terminal() {
			upd.CompletedAt = ptrTime(now)
		}
		m.store.QueueWrite(db.WriteTypeJobStatus, jobID, upd, nil)
	}
	return nil
}

// SaveResult stores the terminal output fields. The durable write goes
// through the same per-job queue as status updates, preserving order.
func (m *Manager) SaveResult(ctx context.Context, jobID string, res activities.LifecycleResult) error {
	m.mu.Lock()
	if job, ok := m.jobs[jobID]; ok {
		job.ThreadID = res.ThreadID
		job.FinalReport = res.FinalReport
		job.ResearcherFindings = res.ResearcherFindings
		job.StructuredOutput = res.StructuredOutput
		job.Plan = res.Plan
		job.Observations = res.Observations
		job.DurationSeconds = res.DurationSeconds
		job.UpdatedAt = m.now()
	}
	m.mu.Unlock()

	if m.store != nil {
		m.store.QueueWrite(db.WriteTypeJobResult, jobID, resultRecord(jobID, res), nil)
	}
	return nil
}

// RecordSearches bumps the job's search counter.
func (m *Manager) RecordSearches(jobID string, n int) {
	if n <= 0 {
		return
	}
	m.mu.Lock()
	if job, ok := m.jobs[jobID]; ok {
		job.SearchesExecuted += n
		job.UpdatedAt = m.now()
	}
	m.mu.Unlock()

	if m.store != nil {
		m.store.QueueWrite(db.WriteTypeJobCounters, jobID, n, nil)
	}
}

// Get returns a job snapshot, reloading from the durable store on a cache
// miss.
func (m *Manager) Get(ctx context.Context, jobID string) (*Job, error) {
	m.mu.RLock()
	job, ok := m.jobs[jobID]
	m.mu.RUnlock()
	if ok {
		return snapshot(job), nil
	}
	if m.store == nil {
		return nil, ErrNotFound
	}

	rec, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrNotFound
	}
	res, err := m.store.GetResult(ctx, jobID)
	if err != nil {
		return nil, err
	}

	restored := jobFromRecord(rec, res)
	m.mu.Lock()
	if _, exists := m.jobs[jobID]; !exists {
		m.jobs[jobID] = restored
		metrics.JobsActive.Set(float64(len(m.jobs)))
	}
	restored = m.jobs[jobID]
	m.mu.Unlock()
	return snapshot(restored), nil
}

// List returns job summaries, newest first. With a durable store the listing
// reflects all persisted jobs, not only the in-memory window.
func (m *Manager) List(ctx context.Context, status, userID string, limit int) ([]*Job, error) {
	if m.store != nil {
		recs, err := m.store.ListJobs(ctx, db.JobFilter{Status: status, UserID: userID, Limit: limit})
		if err != nil {
			return nil, err
		}
		out := make([]*Job, 0, len(recs))
		for i := range recs {
			out = append(out, jobFromRecord(&recs[i], nil))
		}
		return out, nil
	}

	m.mu.RLock()
	out := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		if status != "" && string(job.Status) != status {
			continue
		}
		if userID != "" && job.Options.UserID != userID {
			continue
		}
		out = append(out, snapshot(job))
	}
	m.mu.RUnlock()

	sortJobsByCreated(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Delete cancels a still-running workflow and removes the job everywhere.
func (m *Manager) Delete(ctx context.Context, jobID string) error {
	m.mu.Lock()
	job, ok := m.jobs[jobID]
	var workflowID, runID, threadID string
	var terminal bool
	if ok {
		workflowID, runID, threadID = job.WorkflowID, job.RunID, job.ThreadID
		terminal = job.Status.Terminal()
		delete(m.jobs, jobID)
		delete(m.runs, jobID)
		metrics.JobsActive.Set(float64(len(m.jobs)))
	}
	m.mu.Unlock()

	if ok && !terminal && m.workflowRunning(ctx, workflowID, runID) {
		if err := m.temporal.CancelWorkflow(ctx, workflowID, runID); err != nil {
			m.logger.Warn("Workflow cancel failed",
				zap.String("job_id", jobID), zap.Error(err))
		}
	}
	if threadID != "" {
		m.stream.Drop(threadID)
	}

	if m.store != nil {
		found, err := m.store.DeleteJob(ctx, jobID)
		if err != nil {
			return err
		}
		if !found && !ok {
			return ErrNotFound
		}
		return nil
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// SignalPlanReview resumes a run paused at plan review. Person jobs run the
// review inside their child research workflow, so the signal targets the
// child execution; the signal name stays keyed by the parent id either way.
func (m *Manager) SignalPlanReview(ctx context.Context, jobID string, accepted bool, feedback string) error {
	m.mu.RLock()
	job, ok := m.jobs[jobID]
	var workflowID, mode string
	if ok {
		workflowID, mode = job.WorkflowID, job.Mode
	}
	m.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}

	target := workflowID
	if mode == ModePerson {
		target = workflows.ChildResearchWorkflowID(workflowID)
	}
	payload := workflows.ResumeAccepted
	if !accepted {
		payload = workflows.ResumeEditPrefix + " " + feedback
	}
	return m.temporal.SignalWorkflow(ctx, target, "", workflows.PlanReviewSignalName(workflowID), payload)
}

// applyPersonResult folds a person run's outcome into the cached job. Called
// from both the watcher and Await, so it must be idempotent.
func (m *Manager) applyPersonResult(jobID string, res workflows.PersonResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return
	}
	job.Candidates = res.Candidates
	job.SelectedCandidate = res.Selected
	if res.FinalReport != "" {
		job.FinalReport = res.FinalReport
	}
	if res.ResearcherFindings != "" {
		job.ResearcherFindings = res.ResearcherFindings
	}
	if res.StructuredOutput != nil {
		job.StructuredOutput = res.StructuredOutput
	}
	if res.DurationSeconds > 0 {
		job.DurationSeconds = res.DurationSeconds
	}
}

// Await blocks until the job's workflow finishes and returns the final
// snapshot. Used by the synchronous API surface.
func (m *Manager) Await(ctx context.Context, jobID string) (*Job, error) {
	m.mu.RLock()
	run, ok := m.runs[jobID]
	var mode string
	if job, cached := m.jobs[jobID]; cached {
		mode = job.Mode
	}
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	if mode == ModePerson {
		var res workflows.PersonResult
		if err := run.Get(ctx, &res); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
		} else {
			m.applyPersonResult(jobID, res)
		}
	} else {
		// Discard the typed result; the lifecycle activities already
		// stored it.
		if err := run.Get(ctx, nil); err != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return m.Get(ctx, jobID)
}

func (m *Manager) workflowRunning(ctx context.Context, workflowID, runID string) bool {
	resp, err := m.temporal.DescribeWorkflowExecution(ctx, workflowID, runID)
	if err != nil || resp.GetWorkflowExecutionInfo() == nil {
		return false
	}
	return resp.GetWorkflowExecutionInfo().GetStatus() == enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING
}

func (m *Manager) sweepLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// sweep evicts terminal jobs past the retention window from memory. Durable
// rows stay until PurgeOld runs against the store.
func (m *Manager) sweep() {
	retention := m.cfg.Get().Research.JobRetention
	if retention <= 0 {
		return
	}
	cutoff := m.now().Add(-retention)

	m.mu.Lock()
	removed := 0
	for id, job := range m.jobs {
		if !job.Status.Terminal() || job.CompletedAt == nil {
			continue
		}
		if job.CompletedAt.Before(cutoff) {
			if job.ThreadID != "" {
				m.stream.Drop(job.ThreadID)
			}
			delete(m.jobs, id)
			delete(m.runs, id)
			removed++
		}
	}
	metrics.JobsActive.Set(float64(len(m.jobs)))
	m.mu.Unlock()

	if removed > 0 {
		m.logger.Info("Retention sweep evicted jobs", zap.Int("count", removed))
	}
}

func snapshot(job *Job) *Job {
	cp := *job
	return &cp
}

func sortJobsByCreated(jobs []*Job) {
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
}

func ptrTime(t time.Time) *time.Time { return &t }

func strPtrOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func jobRecord(job *Job) *db.ResearchJob {
	o := job.Options
	background := false
	if o.EnableBackgroundInv != nil {
		background = *o.EnableBackgroundInv
	}
	var resources db.JSONList
	for _, r := range o.Resources {
		resources = append(resources, r)
	}
	return &db.ResearchJob{
		JobID:               job.ID,
		Query:               job.Query,
		Status:              string(job.Status),
		ReportStyle:         o.ReportStyle,
		MaxStepNum:          o.MaxStepNum,
		MaxSearchResults:    o.MaxSearchResults,
		SearchProvider:      o.SearchProvider,
		EnableBackgroundInv: background,
		AutoAcceptedPlan:    o.AutoAcceptedPlan,
		SkipReporting:       o.SkipReporting,
		OutputSchema:        db.JSONB(o.OutputSchema),
		Resources:           resources,
		UserID:              strPtrOrNil(o.UserID),
		APIKeyName:          strPtrOrNil(o.APIKeyName),
		CreatedAt:           job.CreatedAt,
		UpdatedAt:           job.UpdatedAt,
	}
}

func resultRecord(jobID string, res activities.LifecycleResult) *db.ResearchResult {
	var observations db.JSONList
	for _, o := range res.Observations {
		observations = append(observations, o)
	}
	duration := res.DurationSeconds
	return &db.ResearchResult{
		JobID:              jobID,
		ThreadID:           strPtrOrNil(res.ThreadID),
		FinalReport:        strPtrOrNil(res.FinalReport),
		ResearcherFindings: strPtrOrNil(res.ResearcherFindings),
		StructuredOutput:   db.JSONB(res.StructuredOutput),
		Plan:               db.JSONB(res.Plan),
		Observations:       observations,
		DurationSeconds:    &duration,
	}
}

func jobFromRecord(rec *db.ResearchJob, res *db.ResearchResult) *Job {
	job := &Job{
		ID:               rec.JobID,
		Query:            rec.Query,
		Mode:             ModeResearch,
		Status:           Status(rec.Status),
		SearchesExecuted: rec.SearchesExecuted,
		CreatedAt:        rec.CreatedAt,
		UpdatedAt:        rec.UpdatedAt,
		CompletedAt:      rec.CompletedAt,
	}
	if rec.Error != nil {
		job.Error = *rec.Error
	}
	job.Options = Options{
		ReportStyle:      rec.ReportStyle,
		MaxStepNum:       rec.MaxStepNum,
		MaxSearchResults: rec.MaxSearchResults,
		SearchProvider:   rec.SearchProvider,
		AutoAcceptedPlan: rec.AutoAcceptedPlan,
		SkipReporting:    rec.SkipReporting,
		OutputSchema:     map[string]interface{}(rec.OutputSchema),
	}
	if rec.UserID != nil {
		job.Options.UserID = *rec.UserID
	}
	if res != nil {
		if res.ThreadID != nil {
			job.ThreadID = *res.ThreadID
		}
		if res.FinalReport != nil {
			job.FinalReport = *res.FinalReport
		}
		if res.ResearcherFindings != nil {
			job.ResearcherFindings = *res.ResearcherFindings
		}
		job.StructuredOutput = map[string]interface{}(res.StructuredOutput)
		job.Plan = map[string]interface{}(res.Plan)
		for _, o := range res.Observations {
			if s, ok := o.(string); ok {
				job.Observations = append(job.Observations, s)
			}
		}
		if res.DurationSeconds != nil {
			job.DurationSeconds = *res.DurationSeconds
		}
	}
	return job
}
