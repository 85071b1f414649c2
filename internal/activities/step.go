package activities

import (
	"context"
	"fmt"
	"strings"

	"go.temporal.io/sdk/activity"

	"github.com/inquirylab/fathom/internal/metrics"
	"github.com/inquirylab/fathom/internal/models"
)

// StepInput delegates one plan step to a capability-equipped agent.
type StepInput struct {
	ThreadID  string       `json:"thread_id"`
	Plan      *models.Plan `json:"plan"`
	StepIndex int          `json:"step_index"`
	Role      string       `json:"role"`
	Locale    string       `json:"locale"`
	Resources []string     `json:"resources,omitempty"`
}

// StepResult is the agent's final message for the step.
type StepResult struct {
	Content   string `json:"content"`
	TurnsUsed int    `json:"turns_used"`
}

// ExecuteStep runs the selected step against the agent service with a bounded
// turn limit. Callers must only pass the first unfinished step; a populated
// step is never re-executed.
func (a *Activities) ExecuteStep(ctx context.Context, in StepInput) (StepResult, error) {
	logger := activity.GetLogger(ctx)
	if in.Plan == nil || in.StepIndex < 0 || in.StepIndex >= len(in.Plan.Steps) {
		return StepResult{}, fmt.Errorf("execute step: no step at index %d", in.StepIndex)
	}
	step := &in.Plan.Steps[in.StepIndex]
	if step.Done() {
		return StepResult{}, fmt.Errorf("execute step: step %q already has a result", step.Title)
	}
	logger.Info("Executing step", "step", step.Title, "role", in.Role)
	activity.RecordHeartbeat(ctx, step.Title)

	cfg := a.cfg.Get()
	prompt := buildStepPrompt(in.Plan, in.StepIndex, in.Locale, in.Resources)

	var out struct {
		Content   string `json:"content"`
		TurnsUsed int    `json:"turns_used"`
	}
	if err := a.postJSON(ctx, cfg.Research.AgentServiceURL+"/v1/agent", map[string]interface{}{
		"role":      in.Role,
		"prompt":    prompt,
		"locale":    in.Locale,
		"max_turns": cfg.AgentRecursionLimitResolved(),
	}, &out); err != nil {
		metrics.StepsExecuted.WithLabelValues(string(step.StepType), "error").Inc()
		return StepResult{}, fmt.Errorf("agent execution for step %q: %w", step.Title, err)
	}

	metrics.StepsExecuted.WithLabelValues(string(step.StepType), "ok").Inc()
	metrics.AgentTurns.Observe(float64(out.TurnsUsed))
	return StepResult{Content: out.Content, TurnsUsed: out.TurnsUsed}, nil
}

// buildStepPrompt assembles the agent context: overall plan title, a digest
// of completed steps, the current step, and citation instructions when the
// caller supplied resources.
func buildStepPrompt(plan *models.Plan, idx int, locale string, resources []string) string {
	step := &plan.Steps[idx]
	var b strings.Builder
	fmt.Fprintf(&b, "# Research Topic\n\n%s\n\n", plan.Title)
	if digest := plan.CompletedDigest(); digest != "" {
		b.WriteString(digest)
	}
	fmt.Fprintf(&b, "# Current Task\n\n## Title\n\n%s\n\n## Description\n\n%s\n\n## Locale\n\n%s\n", step.Title, step.Description, locale)
	if len(resources) > 0 {
		b.WriteString("\n# Resources\n\nCite the following resources inline where used:\n\n")
		for _, r := range resources {
			fmt.Fprintf(&b, "- %s\n", r)
		}
	}
	return b.String()
}
