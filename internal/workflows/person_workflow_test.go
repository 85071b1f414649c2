package workflows

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/testsuite"
	"go.temporal.io/sdk/workflow"

	"github.com/inquirylab/fathom/internal/activities"
	"github.com/inquirylab/fathom/internal/models"
)

func personEnv(t *testing.T) (*testsuite.TestWorkflowEnvironment, *stubs) {
	t.Helper()
	ts := &testsuite.WorkflowTestSuite{}
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflowWithOptions(PersonResearchWorkflow, workflow.RegisterOptions{Name: PersonWorkflowName})
	st := newStubs()
	st.register(env)
	return env, st
}

func sampleCandidates() []models.Candidate {
	return []models.Candidate{
		{ID: "c1", Name: "Jordan Reyes", Title: "VP Engineering", Company: "Acme Robotics", Location: "Austin"},
		{ID: "c2", Name: "Jordan Reyes", Title: "Data Scientist", Company: "Meridian Labs"},
	}
}

func TestPersonWorkflowZeroCandidatesFails(t *testing.T) {
	env, st := personEnv(t)
	st.resolve = func(in activities.DisambiguateInput) (activities.DisambiguateResult, error) {
		return activities.DisambiguateResult{SearchesExecuted: 2}, nil
	}

	env.ExecuteWorkflow(PersonWorkflowName, PersonInput{JobID: "pj-1", Name: "Nobody Atall"})

	require.True(t, env.IsWorkflowCompleted())
	err := env.GetWorkflowError()
	require.Error(t, err)
	require.Contains(t, err.Error(), "no_match:")
	require.Equal(t, "failed", st.statuses[len(st.statuses)-1].Status)
	require.Contains(t, st.statuses[len(st.statuses)-1].Error, "no_match:")
}

func TestPersonWorkflowMultipleCandidatesAwaitsSelection(t *testing.T) {
	env, st := personEnv(t)
	st.resolve = func(in activities.DisambiguateInput) (activities.DisambiguateResult, error) {
		return activities.DisambiguateResult{Candidates: sampleCandidates(), SearchesExecuted: 2}, nil
	}

	env.ExecuteWorkflow(PersonWorkflowName, PersonInput{JobID: "pj-2", Name: "Jordan Reyes"})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var res PersonResult
	require.NoError(t, env.GetWorkflowResult(&res))
	require.True(t, res.AwaitingDisambiguation)
	require.Len(t, res.Candidates, 2)
	require.Nil(t, res.Selected)
	require.Zero(t, st.reportCalls)
	require.Equal(t, "completed", st.statuses[len(st.statuses)-1].Status)
}

func TestPersonWorkflowSingleCandidateRunsChild(t *testing.T) {
	env, st := personEnv(t)
	st.resolve = func(in activities.DisambiguateInput) (activities.DisambiguateResult, error) {
		return activities.DisambiguateResult{
			Candidates:       sampleCandidates()[:1],
			SearchesExecuted: 2,
		}, nil
	}

	var childQuery string
	env.RegisterWorkflowWithOptions(func(ctx workflow.Context, in ResearchInput) (ResearchResult, error) {
		childQuery = in.Query
		return ResearchResult{FinalReport: "# Profile"}, nil
	}, workflow.RegisterOptions{Name: ResearchWorkflowName})

	env.ExecuteWorkflow(PersonWorkflowName, PersonInput{
		JobID:   "pj-3",
		Name:    "Jordan Reyes",
		Company: "Acme Robotics",
	})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var res PersonResult
	require.NoError(t, env.GetWorkflowResult(&res))
	require.False(t, res.AwaitingDisambiguation)
	require.NotNil(t, res.Selected)
	require.Equal(t, "c1", res.Selected.ID)
	require.Equal(t, "# Profile", res.FinalReport)
	require.Equal(t, "Jordan Reyes VP Engineering at Acme Robotics in Austin", childQuery)
	require.Equal(t, res.EnrichedQuery, childQuery)
}

func TestPersonWorkflowChildSharesParentThread(t *testing.T) {
	const parentID = "fathom-person-thread"
	env, st := personEnv(t)
	env.SetStartWorkflowOptions(client.StartWorkflowOptions{ID: parentID})
	env.RegisterWorkflowWithOptions(ResearchWorkflow, workflow.RegisterOptions{Name: ResearchWorkflowName})
	st.resolve = func(in activities.DisambiguateInput) (activities.DisambiguateResult, error) {
		return activities.DisambiguateResult{Candidates: sampleCandidates()[:1]}, nil
	}

	// The review runs inside the child execution, but the signal stays keyed
	// by the parent id so the resume token round-trips.
	env.RegisterDelayedCallback(func() {
		require.NoError(t, env.SignalWorkflowByID(
			ChildResearchWorkflowID(parentID),
			PlanReviewSignalName(parentID),
			ResumeAccepted))
	}, time.Minute)

	env.ExecuteWorkflow(PersonWorkflowName, PersonInput{
		JobID: "pj-7",
		Name:  "Jordan Reyes",
	})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var res PersonResult
	require.NoError(t, env.GetWorkflowResult(&res))
	require.Equal(t, "# Final Report", res.FinalReport)

	// Both executions publish on the parent's thread so one job is one
	// stream.
	require.NotEmpty(t, st.events)
	for _, e := range st.events {
		require.Equal(t, parentID, e.ThreadID)
	}
	require.Len(t, st.savedResults, 1)
	require.Equal(t, parentID, st.savedResults[0].ThreadID)
}

func TestPersonWorkflowQuickMode(t *testing.T) {
	env, st := personEnv(t)
	st.resolve = func(in activities.DisambiguateInput) (activities.DisambiguateResult, error) {
		return activities.DisambiguateResult{Candidates: sampleCandidates()[:1]}, nil
	}
	st.investigate = func(in activities.InvestigateInput) (activities.InvestigateResult, error) {
		return activities.InvestigateResult{Results: "## Bio\n\nhighlights", Count: 1}, nil
	}

	env.ExecuteWorkflow(PersonWorkflowName, PersonInput{
		JobID:     "pj-4",
		Name:      "Jordan Reyes",
		QuickMode: true,
	})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var res PersonResult
	require.NoError(t, env.GetWorkflowResult(&res))
	require.Equal(t, "# Final Report", res.FinalReport)
	require.Equal(t, 1, st.investCalls)
	require.Equal(t, 1, st.reportCalls)

	require.Len(t, st.savedResults, 1)
	require.Equal(t, "pj-4", st.savedResults[0].JobID)
	require.Equal(t, "completed", st.statuses[len(st.statuses)-1].Status)
}

func TestPersonWorkflowReinvocationWithSelection(t *testing.T) {
	env, st := personEnv(t)
	resolveCalled := false
	st.resolve = func(in activities.DisambiguateInput) (activities.DisambiguateResult, error) {
		resolveCalled = true
		return activities.DisambiguateResult{}, nil
	}
	st.investigate = func(in activities.InvestigateInput) (activities.InvestigateResult, error) {
		return activities.InvestigateResult{Results: "## Bio\n\ndetails", Count: 1}, nil
	}

	env.ExecuteWorkflow(PersonWorkflowName, PersonInput{
		JobID:       "pj-5",
		Name:        "Jordan Reyes",
		CandidateID: "c2",
		Candidates:  sampleCandidates(),
		QuickMode:   true,
	})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	// The prior list resolves the selection without a fresh search pass.
	require.False(t, resolveCalled)

	var res PersonResult
	require.NoError(t, env.GetWorkflowResult(&res))
	require.NotNil(t, res.Selected)
	require.Equal(t, "c2", res.Selected.ID)
	require.Equal(t, "Jordan Reyes Data Scientist at Meridian Labs", res.EnrichedQuery)
}

func TestPersonWorkflowUnknownCandidateFails(t *testing.T) {
	env, st := personEnv(t)

	env.ExecuteWorkflow(PersonWorkflowName, PersonInput{
		JobID:       "pj-6",
		Name:        "Jordan Reyes",
		CandidateID: "c9",
		Candidates:  sampleCandidates(),
	})

	require.True(t, env.IsWorkflowCompleted())
	err := env.GetWorkflowError()
	require.Error(t, err)
	require.Contains(t, err.Error(), "not in prior candidate list")
	require.Equal(t, "failed", st.statuses[len(st.statuses)-1].Status)
}
