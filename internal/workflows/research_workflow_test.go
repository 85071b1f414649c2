package workflows

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/testsuite"
	"go.temporal.io/sdk/workflow"

	"github.com/inquirylab/fathom/internal/activities"
	"github.com/inquirylab/fathom/internal/models"
)

// stubs registers typed stand-ins for every activity under the production
// names and records what the workflow asked of them.
type stubs struct {
	coordinate func(activities.CoordinateInput) (activities.CoordinateResult, error)
	plan       func(activities.PlanInput) (activities.PlanResult, error)
	step       func(activities.StepInput) (activities.StepResult, error)
	report     func(activities.ReportInput) (activities.ReportResult, error)
	resolve    func(activities.DisambiguateInput) (activities.DisambiguateResult, error)
	investigate func(activities.InvestigateInput) (activities.InvestigateResult, error)
	extract    func(activities.ExtractInput) (activities.ExtractResult, error)

	planInputs   []activities.PlanInput
	stepInputs   []activities.StepInput
	reportCalls  int
	investCalls  int
	statuses     []activities.StatusInput
	events       []activities.EmitEventInput
	savedResults []activities.ResultInput
}

func newStubs() *stubs {
	return &stubs{}
}

func (s *stubs) register(env *testsuite.TestWorkflowEnvironment) {
	env.RegisterActivityWithOptions(func(ctx context.Context, in activities.CoordinateInput) (activities.CoordinateResult, error) {
		if s.coordinate != nil {
			return s.coordinate(in)
		}
		return activities.CoordinateResult{Locale: "en-US", ResearchTopic: in.Query}, nil
	}, activity.RegisterOptions{Name: activities.CoordinateActivity})

	env.RegisterActivityWithOptions(func(ctx context.Context, in activities.InvestigateInput) (activities.InvestigateResult, error) {
		s.investCalls++
		if s.investigate != nil {
			return s.investigate(in)
		}
		return activities.InvestigateResult{}, nil
	}, activity.RegisterOptions{Name: activities.InvestigateActivity})

	env.RegisterActivityWithOptions(func(ctx context.Context, in activities.PlanInput) (activities.PlanResult, error) {
		s.planInputs = append(s.planInputs, in)
		if s.plan != nil {
			return s.plan(in)
		}
		return activities.PlanResult{Plan: twoStepPlan()}, nil
	}, activity.RegisterOptions{Name: activities.GeneratePlanActivity})

	env.RegisterActivityWithOptions(func(ctx context.Context, in activities.StepInput) (activities.StepResult, error) {
		s.stepInputs = append(s.stepInputs, in)
		if s.step != nil {
			return s.step(in)
		}
		return activities.StepResult{Content: fmt.Sprintf("result of %s", in.Plan.Steps[in.StepIndex].Title)}, nil
	}, activity.RegisterOptions{Name: activities.ExecuteStepActivity})

	env.RegisterActivityWithOptions(func(ctx context.Context, in activities.CompressInput) (activities.CompressResult, error) {
		return activities.CompressResult{Compressed: strings.Join(in.Observations, "\n\n---\n\n"), Original: true}, nil
	}, activity.RegisterOptions{Name: activities.CompressActivity})

	env.RegisterActivityWithOptions(func(ctx context.Context, in activities.ReportInput) (activities.ReportResult, error) {
		s.reportCalls++
		if s.report != nil {
			return s.report(in)
		}
		return activities.ReportResult{Report: "# Final Report"}, nil
	}, activity.RegisterOptions{Name: activities.ComposeReportActivity})

	env.RegisterActivityWithOptions(func(ctx context.Context, in activities.ExtractInput) (activities.ExtractResult, error) {
		if s.extract != nil {
			return s.extract(in)
		}
		return activities.ExtractResult{}, nil
	}, activity.RegisterOptions{Name: activities.ExtractStructuredActivity})

	env.RegisterActivityWithOptions(func(ctx context.Context, in activities.DisambiguateInput) (activities.DisambiguateResult, error) {
		if s.resolve != nil {
			return s.resolve(in)
		}
		return activities.DisambiguateResult{}, nil
	}, activity.RegisterOptions{Name: activities.ResolveIdentityActivity})

	env.RegisterActivityWithOptions(func(ctx context.Context, in activities.EmitEventInput) error {
		s.events = append(s.events, in)
		return nil
	}, activity.RegisterOptions{Name: activities.EmitEventActivity})

	env.RegisterActivityWithOptions(func(ctx context.Context, in activities.StatusInput) error {
		s.statuses = append(s.statuses, in)
		return nil
	}, activity.RegisterOptions{Name: activities.UpdateJobStatusActivity})

	env.RegisterActivityWithOptions(func(ctx context.Context, in activities.ResultInput) error {
		s.savedResults = append(s.savedResults, in)
		return nil
	}, activity.RegisterOptions{Name: activities.SaveJobResultActivity})

	env.RegisterActivityWithOptions(func(ctx context.Context, in activities.SearchCountInput) error {
		return nil
	}, activity.RegisterOptions{Name: activities.RecordSearchesActivity})
}

func (s *stubs) statusSequence() []string {
	out := make([]string, 0, len(s.statuses))
	for _, st := range s.statuses {
		out = append(out, st.Status)
	}
	return out
}

func twoStepPlan() *models.Plan {
	return &models.Plan{
		Title:  "Test Topic",
		Locale: "en-US",
		Steps: []models.Step{
			{Title: "gather sources", Description: "search broadly", StepType: models.StepTypeResearch},
			{Title: "analyze data", Description: "crunch numbers", StepType: models.StepTypeProcessing},
		},
	}
}

const testThreadID = "fathom-test-thread"

func researchEnv(t *testing.T) (*testsuite.TestWorkflowEnvironment, *stubs) {
	t.Helper()
	ts := &testsuite.WorkflowTestSuite{}
	env := ts.NewTestWorkflowEnvironment()
	env.SetStartWorkflowOptions(client.StartWorkflowOptions{ID: testThreadID})
	env.RegisterWorkflowWithOptions(ResearchWorkflow, workflow.RegisterOptions{Name: ResearchWorkflowName})
	st := newStubs()
	st.register(env)
	return env, st
}

func signalPlanReview(env *testsuite.TestWorkflowEnvironment, payload string) {
	env.SignalWorkflow(PlanReviewSignalName(testThreadID), payload)
}

func TestResearchWorkflowHappyPath(t *testing.T) {
	env, st := researchEnv(t)

	env.ExecuteWorkflow(ResearchWorkflowName, ResearchInput{
		JobID:            "job-1",
		Query:            "quantum error correction progress",
		AutoAcceptedPlan: true,
	})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var res ResearchResult
	require.NoError(t, env.GetWorkflowResult(&res))
	require.Equal(t, "# Final Report", res.FinalReport)
	require.Equal(t, 1, res.PlanIterations)
	require.Len(t, res.Observations, 2)

	// Research steps route by type: research to researcher, processing to
	// coder.
	require.Len(t, st.stepInputs, 2)
	require.Equal(t, "researcher", st.stepInputs[0].Role)
	require.Equal(t, "coder", st.stepInputs[1].Role)

	require.Equal(t,
		[]string{"coordinating", "planning", "researching", "researching", "researching", "reporting", "completed"},
		st.statusSequence())

	require.Len(t, st.savedResults, 1)
	require.Equal(t, "job-1", st.savedResults[0].JobID)
	require.Equal(t, "# Final Report", st.savedResults[0].FinalReport)
}

func TestResearchWorkflowDirectResponse(t *testing.T) {
	env, st := researchEnv(t)
	st.coordinate = func(in activities.CoordinateInput) (activities.CoordinateResult, error) {
		return activities.CoordinateResult{Locale: "en-US", DirectResponse: "Hello there."}, nil
	}

	env.ExecuteWorkflow(ResearchWorkflowName, ResearchInput{JobID: "job-2", Query: "hi"})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var res ResearchResult
	require.NoError(t, env.GetWorkflowResult(&res))
	require.Equal(t, "Hello there.", res.DirectResponse)
	require.Empty(t, st.planInputs)
	require.Zero(t, st.reportCalls)
	require.Equal(t, "completed", st.statuses[len(st.statuses)-1].Status)
}

func TestResearchWorkflowBackgroundInvestigation(t *testing.T) {
	env, st := researchEnv(t)
	st.investigate = func(in activities.InvestigateInput) (activities.InvestigateResult, error) {
		return activities.InvestigateResult{Results: "## Prior art\n\nsome context", Count: 1}, nil
	}

	env.ExecuteWorkflow(ResearchWorkflowName, ResearchInput{
		JobID:               "job-3",
		Query:               "fusion startups",
		EnableBackgroundInv: true,
		AutoAcceptedPlan:    true,
	})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	require.Equal(t, 1, st.investCalls)
	require.Len(t, st.planInputs, 1)
	require.Contains(t, st.planInputs[0].BackgroundResults, "Prior art")
}

func TestResearchWorkflowPlanReviewAccepted(t *testing.T) {
	env, st := researchEnv(t)

	env.RegisterDelayedCallback(func() {
		signalPlanReview(env, ResumeAccepted)
	}, time.Minute)

	env.ExecuteWorkflow(ResearchWorkflowName, ResearchInput{JobID: "job-4", Query: "topic"})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	require.Len(t, st.stepInputs, 2)

	// Exactly one interrupt with the fixed two-option menu.
	interrupts := 0
	for _, e := range st.events {
		if e.Type == "interrupt" {
			interrupts++
			require.Len(t, e.Options, 2)
			require.Equal(t, "edit_plan", e.Options[0].Value)
			require.Equal(t, "accepted", e.Options[1].Value)
		}
	}
	require.Equal(t, 1, interrupts)
}

func TestResearchWorkflowPlanReviewEditLoop(t *testing.T) {
	env, st := researchEnv(t)
	st.plan = func(in activities.PlanInput) (activities.PlanResult, error) {
		if in.Iteration == 0 {
			return activities.PlanResult{Plan: twoStepPlan()}, nil
		}
		p := twoStepPlan()
		p.HasEnoughContext = true
		p.Steps = nil
		return activities.PlanResult{Plan: p}, nil
	}

	env.RegisterDelayedCallback(func() {
		signalPlanReview(env, ResumeEditPrefix+" cover funding rounds too")
	}, time.Minute)

	env.ExecuteWorkflow(ResearchWorkflowName, ResearchInput{JobID: "job-5", Query: "topic"})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	require.Len(t, st.planInputs, 2)
	require.Equal(t, "cover funding rounds too", st.planInputs[1].Feedback)

	// Second plan declared enough context, so no steps ran before reporting.
	require.Empty(t, st.stepInputs)
	require.Equal(t, 1, st.reportCalls)
}

func TestResearchWorkflowPlanReviewTimeout(t *testing.T) {
	env, st := researchEnv(t)

	env.ExecuteWorkflow(ResearchWorkflowName, ResearchInput{
		JobID:             "job-6",
		Query:             "topic",
		PlanReviewTimeout: 10 * time.Minute,
	})

	require.True(t, env.IsWorkflowCompleted())
	err := env.GetWorkflowError()
	require.Error(t, err)
	require.Contains(t, err.Error(), "plan review timed out")
	require.Equal(t, "failed", st.statuses[len(st.statuses)-1].Status)
	require.NotEmpty(t, st.statuses[len(st.statuses)-1].Error)
}

func TestResearchWorkflowMalformedResume(t *testing.T) {
	env, st := researchEnv(t)

	env.RegisterDelayedCallback(func() {
		signalPlanReview(env, "yes please")
	}, time.Minute)

	env.ExecuteWorkflow(ResearchWorkflowName, ResearchInput{JobID: "job-7", Query: "topic"})

	require.True(t, env.IsWorkflowCompleted())
	err := env.GetWorkflowError()
	require.Error(t, err)
	require.Contains(t, err.Error(), "unrecognized plan review payload")
	require.Equal(t, "failed", st.statuses[len(st.statuses)-1].Status)
}

func TestResearchWorkflowFirstPlanParseFailureIsFatal(t *testing.T) {
	env, st := researchEnv(t)
	st.plan = func(in activities.PlanInput) (activities.PlanResult, error) {
		return activities.PlanResult{Raw: "not json", ParseFailed: true}, nil
	}

	env.ExecuteWorkflow(ResearchWorkflowName, ResearchInput{JobID: "job-8", Query: "topic"})

	require.True(t, env.IsWorkflowCompleted())
	err := env.GetWorkflowError()
	require.Error(t, err)
	require.Contains(t, err.Error(), "unparseable")
	require.Zero(t, st.reportCalls)
	require.Equal(t, "failed", st.statuses[len(st.statuses)-1].Status)

	// A failed run emits exactly one error event.
	errEvents := 0
	for _, e := range st.events {
		if e.Type == "error" {
			errEvents++
		}
	}
	require.Equal(t, 1, errEvents)
}

func TestResearchWorkflowLaterParseFailureDegradesToReport(t *testing.T) {
	env, st := researchEnv(t)
	st.plan = func(in activities.PlanInput) (activities.PlanResult, error) {
		if in.Iteration == 0 {
			return activities.PlanResult{Plan: twoStepPlan()}, nil
		}
		return activities.PlanResult{Raw: "garbled", ParseFailed: true}, nil
	}

	env.RegisterDelayedCallback(func() {
		signalPlanReview(env, ResumeEditPrefix+" be more specific")
	}, time.Minute)

	env.ExecuteWorkflow(ResearchWorkflowName, ResearchInput{JobID: "job-9", Query: "topic"})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	require.Len(t, st.planInputs, 2)
	require.Equal(t, 1, st.reportCalls)
	require.Equal(t, "completed", st.statuses[len(st.statuses)-1].Status)
}

func TestResearchWorkflowIterationCeiling(t *testing.T) {
	env, st := researchEnv(t)

	env.RegisterDelayedCallback(func() {
		signalPlanReview(env, ResumeEditPrefix+" again")
	}, time.Minute)

	env.ExecuteWorkflow(ResearchWorkflowName, ResearchInput{
		JobID:             "job-10",
		Query:             "topic",
		MaxPlanIterations: 1,
	})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	// The edit request hit the ceiling, so planning ran once and the run
	// degraded to reporting with the plan it had.
	require.Len(t, st.planInputs, 1)
	require.Equal(t, 1, st.reportCalls)
}

func TestResearchWorkflowSkipReporting(t *testing.T) {
	env, st := researchEnv(t)

	env.ExecuteWorkflow(ResearchWorkflowName, ResearchInput{
		JobID:            "job-11",
		Query:            "topic",
		AutoAcceptedPlan: true,
		SkipReporting:    true,
	})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var res ResearchResult
	require.NoError(t, env.GetWorkflowResult(&res))
	require.Empty(t, res.FinalReport)
	require.Equal(t, strings.Join(res.Observations, "\n\n---\n\n"), res.ResearcherFindings)
	require.Zero(t, st.reportCalls)
}

func TestResearchWorkflowHasEnoughContext(t *testing.T) {
	env, st := researchEnv(t)
	st.plan = func(in activities.PlanInput) (activities.PlanResult, error) {
		p := twoStepPlan()
		p.HasEnoughContext = true
		p.Steps = nil
		return activities.PlanResult{Plan: p}, nil
	}

	env.ExecuteWorkflow(ResearchWorkflowName, ResearchInput{JobID: "job-12", Query: "topic"})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	require.Empty(t, st.stepInputs)
	require.Equal(t, 1, st.reportCalls)
}

func TestResearchWorkflowStepFailureFailsRun(t *testing.T) {
	env, st := researchEnv(t)
	st.step = func(in activities.StepInput) (activities.StepResult, error) {
		return activities.StepResult{}, fmt.Errorf("agent exploded")
	}

	env.ExecuteWorkflow(ResearchWorkflowName, ResearchInput{
		JobID:            "job-13",
		Query:            "topic",
		AutoAcceptedPlan: true,
	})

	require.True(t, env.IsWorkflowCompleted())
	err := env.GetWorkflowError()
	require.Error(t, err)
	require.Contains(t, err.Error(), "agent exploded")
	require.Equal(t, "failed", st.statuses[len(st.statuses)-1].Status)
}

func TestResearchWorkflowStructuredExtraction(t *testing.T) {
	env, st := researchEnv(t)
	st.extract = func(in activities.ExtractInput) (activities.ExtractResult, error) {
		return activities.ExtractResult{Output: map[string]interface{}{"company": "Acme"}}, nil
	}

	env.ExecuteWorkflow(ResearchWorkflowName, ResearchInput{
		JobID:            "job-14",
		Query:            "topic",
		AutoAcceptedPlan: true,
		OutputSchema: map[string]interface{}{
			"type":     "object",
			"required": []interface{}{"company"},
		},
	})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var res ResearchResult
	require.NoError(t, env.GetWorkflowResult(&res))
	require.Equal(t, "Acme", res.StructuredOutput["company"])
}
