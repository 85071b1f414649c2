package temporal

import (
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/inquirylab/fathom/internal/activities"
	"github.com/inquirylab/fathom/internal/workflows"
)

// NewWorker builds the task queue worker with every workflow and activity
// registered under its stable name. Workflows schedule activities by these
// names, so registration here and the name constants must stay in lockstep.
func NewWorker(c client.Client, taskQueue string, acts *activities.Activities) worker.Worker {
	w := worker.New(c, taskQueue, worker.Options{})

	w.RegisterWorkflowWithOptions(workflows.ResearchWorkflow,
		workflow.RegisterOptions{Name: workflows.ResearchWorkflowName})
	w.RegisterWorkflowWithOptions(workflows.PersonResearchWorkflow,
		workflow.RegisterOptions{Name: workflows.PersonWorkflowName})

	register := func(fn interface{}, name string) {
		w.RegisterActivityWithOptions(fn, activity.RegisterOptions{Name: name})
	}
	register(acts.Coordinate, activities.CoordinateActivity)
	register(acts.BackgroundInvestigate, activities.InvestigateActivity)
	register(acts.GeneratePlan, activities.GeneratePlanActivity)
	register(acts.ExecuteStep, activities.ExecuteStepActivity)
	register(acts.CompressObservations, activities.CompressActivity)
	register(acts.ComposeReport, activities.ComposeReportActivity)
	register(acts.ExtractStructured, activities.ExtractStructuredActivity)
	register(acts.ResolveIdentity, activities.ResolveIdentityActivity)
	register(acts.EmitResearchEvent, activities.EmitEventActivity)
	register(acts.UpdateJobStatus, activities.UpdateJobStatusActivity)
	register(acts.SaveJobResult, activities.SaveJobResultActivity)
	register(acts.RecordSearches, activities.RecordSearchesActivity)

	return w
}
