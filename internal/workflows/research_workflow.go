package workflows

import (
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/inquirylab/fathom/internal/activities"
	"github.com/inquirylab/fathom/internal/models"
	"github.com/inquirylab/fathom/internal/streaming"
)

// Default knobs applied when the caller leaves them zero.
const (
	defaultMaxPlanIterations = 3
	defaultMaxStepNum        = 3
	defaultPlanReviewTimeout = 30 * time.Minute
)

const observationSeparator = "\n\n---\n\n"

// researchRun is the mutable state threaded through the role loop. Handlers
// mutate it and return the next role; an error from a handler aborts the run
// straight to the terminal stage.
type researchRun struct {
	in       ResearchInput
	threadID string
	started  time.Time

	locale         string
	topic          string
	directResponse string
	background     string

	plan           *models.Plan
	planIterations int
	feedback       string

	stepIndex    int
	observations []string

	finalReport string
	findings    string
	structured  map[string]interface{}

	runErr error
}

// ResearchWorkflow drives one research job through the role graph from
// coordinator to terminal. All model and search work happens in activities;
// the workflow owns only routing, plan review, and bookkeeping.
func ResearchWorkflow(ctx workflow.Context, in ResearchInput) (ResearchResult, error) {
	logger := workflow.GetLogger(ctx)
	if in.MaxPlanIterations <= 0 {
		in.MaxPlanIterations = defaultMaxPlanIterations
	}
	if in.MaxStepNum <= 0 {
		in.MaxStepNum = defaultMaxStepNum
	}
	if in.PlanReviewTimeout <= 0 {
		in.PlanReviewTimeout = defaultPlanReviewTimeout
	}

	threadID := in.ThreadID
	if threadID == "" {
		threadID = workflow.GetInfo(ctx).WorkflowExecution.ID
	}
	s := &researchRun{
		in:       in,
		threadID: threadID,
		started:  workflow.Now(ctx),
	}
	logger.Info("Research workflow started", "job_id", in.JobID, "thread_id", s.threadID)

	role := RoleCoordinator
	for role != RoleTerminal {
		next, err := s.handle(ctx, role)
		if err != nil {
			// Abort, not a graph move: the terminal stage reports it.
			s.runErr = err
			break
		}
		if !canTransition(role, next) {
			s.runErr = fmt.Errorf("illegal role transition %s -> %s", role, next)
			break
		}
		role = next
	}
	return s.finish(ctx)
}

func (s *researchRun) handle(ctx workflow.Context, role Role) (Role, error) {
	switch role {
	case RoleCoordinator:
		return s.coordinate(ctx)
	case RoleBackgroundInvestigator:
		return s.investigate(ctx)
	case RolePlanner:
		return s.generatePlan(ctx)
	case RoleHumanFeedback:
		return s.reviewPlan(ctx)
	case RoleResearchTeam:
		return s.dispatchStep(ctx)
	case RoleResearcher:
		return s.executeStep(ctx, streaming.RoleResearcher)
	case RoleCoder:
		return s.executeStep(ctx, streaming.RoleCoder)
	case RoleReporter:
		return s.report(ctx)
	default:
		return RoleTerminal, fmt.Errorf("no handler for role %s", role)
	}
}

func (s *researchRun) coordinate(ctx workflow.Context) (Role, error) {
	s.setStatus(ctx, "coordinating", "")
	s.emit(ctx, streaming.EventRoleStart, streaming.RoleCoordinator, "", nil, nil)

	var res activities.CoordinateResult
	if err := workflow.ExecuteActivity(llmCtx(ctx), activities.CoordinateActivity, activities.CoordinateInput{
		Query: s.in.Query,
	}).Get(ctx, &res); err != nil {
		return RoleTerminal, fmt.Errorf("coordinator: %w", err)
	}
	s.locale = res.Locale
	s.topic = res.ResearchTopic
	s.emit(ctx, streaming.EventRoleEnd, streaming.RoleCoordinator, "", nil, nil)

	if res.DirectResponse != "" {
		s.directResponse = res.DirectResponse
		s.emit(ctx, streaming.EventMessageChunk, streaming.RoleCoordinator, res.DirectResponse, nil, nil)
		return RoleTerminal, nil
	}
	if s.in.EnableBackgroundInv {
		return RoleBackgroundInvestigator, nil
	}
	return RolePlanner, nil
}

func (s *researchRun) investigate(ctx workflow.Context) (Role, error) {
	s.emit(ctx, streaming.EventRoleStart, streaming.RoleInvestigator, "", nil, nil)

	var res activities.InvestigateResult
	if err := workflow.ExecuteActivity(llmCtx(ctx), activities.InvestigateActivity, activities.InvestigateInput{
		ThreadID:   s.threadID,
		JobID:      s.in.JobID,
		Query:      s.topic,
		Provider:   s.in.SearchProvider,
		MaxResults: s.in.MaxSearchResults,
	}).Get(ctx, &res); err != nil {
		// The activity degrades internally; a hard failure here still must
		// not kill the run before planning.
		workflow.GetLogger(ctx).Warn("Background investigation failed", "error", err)
	}
	s.background = res.Results
	s.emit(ctx, streaming.EventRoleEnd, streaming.RoleInvestigator, "", nil, nil)
	return RolePlanner, nil
}

func (s *researchRun) generatePlan(ctx workflow.Context) (Role, error) {
	s.setStatus(ctx, "planning", "")

	if s.planIterations >= s.in.MaxPlanIterations {
		if len(s.observations) > 0 || s.plan != nil {
			return RoleReporter, nil
		}
		return RoleTerminal, fmt.Errorf("plan iterations exhausted after %d attempts", s.planIterations)
	}

	s.emit(ctx, streaming.EventRoleStart, streaming.RolePlanner, "", nil, nil)
	var res activities.PlanResult
	if err := workflow.ExecuteActivity(llmCtx(ctx), activities.GeneratePlanActivity, activities.PlanInput{
		Topic:             s.topic,
		Locale:            s.locale,
		BackgroundResults: s.background,
		Observations:      s.observations,
		Feedback:          s.feedback,
		Iteration:         s.planIterations,
		MaxStepNum:        s.in.MaxStepNum,
	}).Get(ctx, &res); err != nil {
		return RoleTerminal, fmt.Errorf("planner: %w", err)
	}
	s.planIterations++
	s.feedback = ""

	if res.ParseFailed {
		if s.planIterations == 1 {
			return RoleTerminal, fmt.Errorf("planner produced unparseable output on first iteration")
		}
		workflow.GetLogger(ctx).Warn("Plan parse failed after repair, degrading to report")
		return RoleReporter, nil
	}
	s.plan = res.Plan
	s.emit(ctx, streaming.EventRoleEnd, streaming.RolePlanner, "", map[string]interface{}{
		"plan": res.Plan,
	}, nil)

	if res.Plan.HasEnoughContext {
		return RoleReporter, nil
	}
	return RoleHumanFeedback, nil
}

func (s *researchRun) reviewPlan(ctx workflow.Context) (Role, error) {
	if s.in.AutoAcceptedPlan {
		return RoleResearchTeam, nil
	}

	s.emit(ctx, streaming.EventInterrupt, streaming.RoleHumanFeedback,
		"Please review the research plan.",
		map[string]interface{}{"plan": s.plan},
		streaming.PlanReviewOptions())

	var payload string
	timedOut := false
	sel := workflow.NewSelector(ctx)
	sel.AddReceive(workflow.GetSignalChannel(ctx, PlanReviewSignalName(s.threadID)), func(ch workflow.ReceiveChannel, _ bool) {
		ch.Receive(ctx, &payload)
	})
	sel.AddFuture(workflow.NewTimer(ctx, s.in.PlanReviewTimeout), func(workflow.Future) {
		timedOut = true
	})
	sel.Select(ctx)

	if timedOut {
		return RoleTerminal, fmt.Errorf("plan review timed out after %s", s.in.PlanReviewTimeout)
	}
	switch {
	case payload == ResumeAccepted:
		return RoleResearchTeam, nil
	case strings.HasPrefix(payload, ResumeEditPrefix):
		s.feedback = strings.TrimSpace(strings.TrimPrefix(payload, ResumeEditPrefix))
		return RolePlanner, nil
	default:
		return RoleTerminal, fmt.Errorf("unrecognized plan review payload %q", payload)
	}
}

func (s *researchRun) dispatchStep(ctx workflow.Context) (Role, error) {
	s.setStatus(ctx, "researching", "")

	idx := s.plan.CurrentStep()
	if idx < 0 {
		return RoleReporter, nil
	}
	s.stepIndex = idx
	if s.plan.Steps[idx].StepType == models.StepTypeProcessing {
		return RoleCoder, nil
	}
	return RoleResearcher, nil
}

func (s *researchRun) executeStep(ctx workflow.Context, role string) (Role, error) {
	step := &s.plan.Steps[s.stepIndex]
	s.emit(ctx, streaming.EventRoleStart, role, step.Title, nil, nil)

	var res activities.StepResult
	if err := workflow.ExecuteActivity(stepCtx(ctx), activities.ExecuteStepActivity, activities.StepInput{
		ThreadID:  s.threadID,
		Plan:      s.plan,
		StepIndex: s.stepIndex,
		Role:      role,
		Locale:    s.locale,
		Resources: s.in.Resources,
	}).Get(ctx, &res); err != nil {
		return RoleTerminal, fmt.Errorf("step %q: %w", step.Title, err)
	}

	step.ExecutionRes = &res.Content
	s.observations = append(s.observations, res.Content)
	s.emit(ctx, streaming.EventMessageChunk, role, res.Content, nil, nil)
	s.emit(ctx, streaming.EventRoleEnd, role, step.Title, nil, nil)
	return RoleResearchTeam, nil
}

func (s *researchRun) report(ctx workflow.Context) (Role, error) {
	s.setStatus(ctx, "reporting", "")

	if s.in.SkipReporting {
		s.findings = strings.Join(s.observations, observationSeparator)
		return RoleTerminal, nil
	}

	s.emit(ctx, streaming.EventRoleStart, streaming.RoleReporter, "", nil, nil)

	findings := strings.Join(s.observations, observationSeparator)
	var compressed activities.CompressResult
	if err := workflow.ExecuteActivity(llmCtx(ctx), activities.CompressActivity, activities.CompressInput{
		Observations: s.observations,
		TargetTokens: s.in.CompressTargetTokens,
	}).Get(ctx, &compressed); err != nil {
		workflow.GetLogger(ctx).Warn("Observation compression failed, using raw findings", "error", err)
	} else if compressed.Compressed != "" {
		findings = compressed.Compressed
	}

	var report activities.ReportResult
	if err := workflow.ExecuteActivity(stepCtx(ctx), activities.ComposeReportActivity, activities.ReportInput{
		ThreadID:    s.threadID,
		Topic:       s.topic,
		Locale:      s.locale,
		ReportStyle: s.in.ReportStyle,
		Findings:    findings,
		Resources:   s.in.Resources,
	}).Get(ctx, &report); err != nil {
		return RoleTerminal, fmt.Errorf("reporter: %w", err)
	}
	s.finalReport = report.Report

	if len(s.in.OutputSchema) > 0 {
		var extracted activities.ExtractResult
		if err := workflow.ExecuteActivity(llmCtx(ctx), activities.ExtractStructuredActivity, activities.ExtractInput{
			Report: s.finalReport,
			Schema: s.in.OutputSchema,
		}).Get(ctx, &extracted); err != nil {
			workflow.GetLogger(ctx).Warn("Structured extraction failed", "error", err)
		} else if extracted.Output != nil {
			s.structured = extracted.Output
		}
	}

	s.emit(ctx, streaming.EventRoleEnd, streaming.RoleReporter, "", nil, nil)
	return RoleTerminal, nil
}

// finish is the terminal stage: persist outcome, emit exactly one closing
// event, and surface the run error if any.
func (s *researchRun) finish(ctx workflow.Context) (ResearchResult, error) {
	duration := workflow.Now(ctx).Sub(s.started).Seconds()

	if s.runErr != nil {
		s.emit(ctx, streaming.EventError, "", s.runErr.Error(), nil, nil)
		s.setStatus(ctx, "failed", s.runErr.Error())
		return ResearchResult{}, s.runErr
	}

	result := ResearchResult{
		FinalReport:        s.finalReport,
		ResearcherFindings: s.findings,
		StructuredOutput:   s.structured,
		Observations:       s.observations,
		PlanIterations:     s.planIterations,
		DurationSeconds:    duration,
		DirectResponse:     s.directResponse,
	}
	if s.plan != nil {
		result.Plan = planAsMap(s.plan)
	}

	if err := workflow.ExecuteActivity(persistCtx(ctx), activities.SaveJobResultActivity, activities.ResultInput{
		JobID:              s.in.JobID,
		ThreadID:           s.threadID,
		FinalReport:        s.finalReport,
		ResearcherFindings: s.findings,
		StructuredOutput:   s.structured,
		Plan:               result.Plan,
		Observations:       s.observations,
		DurationSeconds:    duration,
	}).Get(ctx, nil); err != nil {
		workflow.GetLogger(ctx).Error("Failed to persist job result", "error", err)
	}
	s.setStatus(ctx, "completed", "")
	s.emit(ctx, streaming.EventDone, "", "", nil, nil)
	return result, nil
}

// emit publishes one stream event through the event activity. Emission
// failures never affect the run.
func (s *researchRun) emit(ctx workflow.Context, eventType, role, content string, payload map[string]interface{}, options []streaming.InterruptOption) {
	err := workflow.ExecuteActivity(emitCtx(ctx), activities.EmitEventActivity, activities.EmitEventInput{
		ThreadID:  s.threadID,
		JobID:     s.in.JobID,
		Type:      eventType,
		Role:      role,
		Content:   content,
		Payload:   payload,
		Options:   options,
		Timestamp: workflow.Now(ctx),
	}).Get(ctx, nil)
	if err != nil {
		workflow.GetLogger(ctx).Warn("Event emission failed", "type", eventType, "error", err)
	}
}

// setStatus advances the job lifecycle. Non-forward moves are dropped by the
// lifecycle manager, so repeated calls are safe.
func (s *researchRun) setStatus(ctx workflow.Context, status, errText string) {
	err := workflow.ExecuteActivity(persistCtx(ctx), activities.UpdateJobStatusActivity, activities.StatusInput{
		JobID:  s.in.JobID,
		Status: status,
		Error:  errText,
	}).Get(ctx, nil)
	if err != nil {
		workflow.GetLogger(ctx).Warn("Status update failed", "status", status, "error", err)
	}
}

func planAsMap(p *models.Plan) map[string]interface{} {
	steps := make([]interface{}, 0, len(p.Steps))
	for _, st := range p.Steps {
		m := map[string]interface{}{
			"title":       st.Title,
			"description": st.Description,
			"step_type":   string(st.StepType),
		}
		if st.ExecutionRes != nil {
			m["execution_res"] = *st.ExecutionRes
		}
		steps = append(steps, m)
	}
	return map[string]interface{}{
		"title":              p.Title,
		"thought":            p.Thought,
		"locale":             p.Locale,
		"has_enough_context": p.HasEnoughContext,
		"steps":              steps,
	}
}

// llmCtx covers single model or search calls.
func llmCtx(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumAttempts:    3,
		},
	})
}

// stepCtx covers long agent and report streaming calls. Steps are never
// retried by the platform; a populated step must not run twice.
func stepCtx(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Minute,
		HeartbeatTimeout:    2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	})
}

// emitCtx covers fire and forget event publication.
func emitCtx(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	})
}

// persistCtx covers lifecycle and result writes.
func persistCtx(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval: 500 * time.Millisecond,
			MaximumAttempts: 3,
		},
	})
}
