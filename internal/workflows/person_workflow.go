package workflows

import (
	"fmt"
	"strings"

	"go.temporal.io/sdk/workflow"

	"github.com/inquirylab/fathom/internal/activities"
	"github.com/inquirylab/fathom/internal/models"
	"github.com/inquirylab/fathom/internal/streaming"
)

// errNoMatchPrefix marks the failure as a definitive no-identity outcome so
// callers can distinguish it from transient faults.
const errNoMatchPrefix = "no_match:"

// PersonResearchWorkflow resolves a person name to a single identity and then
// researches that identity. With more than one candidate and no prior
// selection, the run completes early and surfaces the candidate list; the
// caller re-invokes with a candidate ID to continue.
func PersonResearchWorkflow(ctx workflow.Context, in PersonInput) (PersonResult, error) {
	logger := workflow.GetLogger(ctx)
	threadID := workflow.GetInfo(ctx).WorkflowExecution.ID
	started := workflow.Now(ctx)

	p := &personRun{in: in, threadID: threadID}
	p.setStatus(ctx, "coordinating", "")
	p.emit(ctx, streaming.EventRoleStart, streaming.RoleDisambiguator, "", nil)

	selected, candidates, err := p.resolve(ctx)
	if err != nil {
		p.emit(ctx, streaming.EventError, streaming.RoleDisambiguator, err.Error(), nil)
		p.setStatus(ctx, "failed", err.Error())
		return PersonResult{}, err
	}

	if selected == nil {
		// Multiple viable identities and no selection yet. Surface the list
		// and end the run; the follow-up invocation carries the choice.
		logger.Info("Ambiguous identity, awaiting selection", "candidates", len(candidates))
		p.emit(ctx, streaming.EventStatusChange, streaming.RoleDisambiguator, "awaiting_disambiguation",
			map[string]interface{}{"candidates": candidates})
		p.setStatus(ctx, "completed", "")
		p.emit(ctx, streaming.EventDone, "", "", nil)
		return PersonResult{
			AwaitingDisambiguation: true,
			Candidates:             candidates,
			DurationSeconds:        workflow.Now(ctx).Sub(started).Seconds(),
		}, nil
	}

	enriched := selected.EnrichedQuery()
	p.emit(ctx, streaming.EventRoleEnd, streaming.RoleDisambiguator, enriched,
		map[string]interface{}{"selected_candidate": selected})

	result := PersonResult{
		Selected:      selected,
		EnrichedQuery: enriched,
	}

	if in.QuickMode {
		report, err := p.quickReport(ctx, enriched)
		if err != nil {
			p.emit(ctx, streaming.EventError, "", err.Error(), nil)
			p.setStatus(ctx, "failed", err.Error())
			return PersonResult{}, err
		}
		result.FinalReport = report
	} else {
		child := in.Research
		child.JobID = in.JobID
		child.Query = enriched
		// One job is one stream: the child publishes events and listens for
		// the plan review signal under the parent's thread id.
		child.ThreadID = threadID
		if child.ReportStyle == "" {
			child.ReportStyle = in.ReportStyle
		}
		if child.SearchProvider == "" {
			child.SearchProvider = in.SearchProvider
		}
		if child.MaxSearchResults <= 0 {
			child.MaxSearchResults = in.MaxSearchResults
		}

		var childRes ResearchResult
		cctx := workflow.WithChildOptions(ctx, workflow.ChildWorkflowOptions{
			WorkflowID: ChildResearchWorkflowID(threadID),
		})
		if err := workflow.ExecuteChildWorkflow(cctx, ResearchWorkflowName, child).Get(ctx, &childRes); err != nil {
			// The child already recorded the failure and emitted its error.
			return PersonResult{}, fmt.Errorf("person research: %w", err)
		}
		result.FinalReport = childRes.FinalReport
		result.ResearcherFindings = childRes.ResearcherFindings
		result.StructuredOutput = childRes.StructuredOutput
	}

	result.DurationSeconds = workflow.Now(ctx).Sub(started).Seconds()

	if in.QuickMode {
		// The child path persists its own result; quick mode persists here.
		if err := workflow.ExecuteActivity(persistCtx(ctx), activities.SaveJobResultActivity, activities.ResultInput{
			JobID:           in.JobID,
			ThreadID:        threadID,
			FinalReport:     result.FinalReport,
			DurationSeconds: result.DurationSeconds,
		}).Get(ctx, nil); err != nil {
			logger.Error("Failed to persist person result", "error", err)
		}
		p.setStatus(ctx, "completed", "")
		p.emit(ctx, streaming.EventDone, "", "", nil)
	}
	return result, nil
}

type personRun struct {
	in       PersonInput
	threadID string
}

// resolve returns the single identity to research, or the candidate list when
// the choice must come from outside. Zero identities is fatal.
func (p *personRun) resolve(ctx workflow.Context) (*models.Candidate, []models.Candidate, error) {
	in := p.in

	// Re-invocation with a prior candidate list: resolve the selection
	// locally without repeating the searches.
	if in.CandidateID != "" && len(in.Candidates) > 0 {
		for i := range in.Candidates {
			if in.Candidates[i].ID == in.CandidateID {
				return &in.Candidates[i], nil, nil
			}
		}
		return nil, nil, fmt.Errorf("candidate %q not in prior candidate list", in.CandidateID)
	}

	var res activities.DisambiguateResult
	if err := workflow.ExecuteActivity(llmCtx(ctx), activities.ResolveIdentityActivity, activities.DisambiguateInput{
		ThreadID: p.threadID,
		JobID:    in.JobID,
		Name:     in.Name,
		Company:  in.Company,
		Context:  in.Context,
		Provider: in.SearchProvider,
	}).Get(ctx, &res); err != nil {
		return nil, nil, fmt.Errorf("identity resolution: %w", err)
	}

	switch len(res.Candidates) {
	case 0:
		return nil, nil, fmt.Errorf("%s no verifiable identity found for %q", errNoMatchPrefix, in.Name)
	case 1:
		return &res.Candidates[0], nil, nil
	default:
		if in.CandidateID != "" {
			for i := range res.Candidates {
				if res.Candidates[i].ID == in.CandidateID {
					return &res.Candidates[i], nil, nil
				}
			}
			return nil, nil, fmt.Errorf("candidate %q not found among %d candidates", in.CandidateID, len(res.Candidates))
		}
		return nil, res.Candidates, nil
	}
}

// quickReport searches the enriched query once and composes a report straight
// from the hits, skipping planning and step execution.
func (p *personRun) quickReport(ctx workflow.Context, enriched string) (string, error) {
	var inv activities.InvestigateResult
	if err := workflow.ExecuteActivity(llmCtx(ctx), activities.InvestigateActivity, activities.InvestigateInput{
		ThreadID:   p.threadID,
		JobID:      p.in.JobID,
		Query:      enriched,
		Provider:   p.in.SearchProvider,
		MaxResults: p.in.MaxSearchResults,
	}).Get(ctx, &inv); err != nil {
		return "", fmt.Errorf("quick search: %w", err)
	}
	if strings.TrimSpace(inv.Results) == "" {
		return "", fmt.Errorf("quick search returned no usable results for %q", enriched)
	}

	var report activities.ReportResult
	if err := workflow.ExecuteActivity(stepCtx(ctx), activities.ComposeReportActivity, activities.ReportInput{
		ThreadID:    p.threadID,
		Topic:       enriched,
		ReportStyle: p.in.ReportStyle,
		Findings:    inv.Results,
	}).Get(ctx, &report); err != nil {
		return "", fmt.Errorf("quick report: %w", err)
	}
	return report.Report, nil
}

func (p *personRun) emit(ctx workflow.Context, eventType, role, content string, payload map[string]interface{}) {
	err := workflow.ExecuteActivity(emitCtx(ctx), activities.EmitEventActivity, activities.EmitEventInput{
		ThreadID:  p.threadID,
		JobID:     p.in.JobID,
		Type:      eventType,
		Role:      role,
		Content:   content,
		Payload:   payload,
		Timestamp: workflow.Now(ctx),
	}).Get(ctx, nil)
	if err != nil {
		workflow.GetLogger(ctx).Warn("Event emission failed", "type", eventType, "error", err)
	}
}

func (p *personRun) setStatus(ctx workflow.Context, status, errText string) {
	err := workflow.ExecuteActivity(persistCtx(ctx), activities.UpdateJobStatusActivity, activities.StatusInput{
		JobID:  p.in.JobID,
		Status: status,
		Error:  errText,
	}).Get(ctx, nil)
	if err != nil {
		workflow.GetLogger(ctx).Warn("Status update failed", "status", status, "error", err)
	}
}
