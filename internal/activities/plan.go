package activities

import (
	"context"

	"go.temporal.io/sdk/activity"
	"go.uber.org/zap"

	"github.com/inquirylab/fathom/internal/models"
)

// PlanInput requests a new or revised plan from the planner model.
type PlanInput struct {
	Topic             string   `json:"topic"`
	Locale            string   `json:"locale"`
	BackgroundResults string   `json:"background_results,omitempty"`
	Observations      []string `json:"observations,omitempty"`
	Feedback          string   `json:"feedback,omitempty"`
	Iteration         int      `json:"iteration"`
	MaxStepNum        int      `json:"max_step_num"`
}

// PlanResult carries the parsed plan, or the raw text with ParseFailed set
// when both the parse and the repair pass failed. The workflow owns the
// routing decision for a failed parse, so this is not an activity error.
type PlanResult struct {
	Plan       *models.Plan `json:"plan,omitempty"`
	Raw        string       `json:"raw"`
	ParseFailed bool        `json:"parse_failed"`
}

// GeneratePlan produces a plan and validates it as structured content, with
// one repair attempt on malformed output.
func (a *Activities) GeneratePlan(ctx context.Context, in PlanInput) (PlanResult, error) {
	activity.GetLogger(ctx).Info("Generating plan", "iteration", in.Iteration)

	base := a.cfg.Get().Research.LLMServiceURL
	var out struct {
		Content string `json:"content"`
	}
	if err := a.postJSON(ctx, base+"/v1/plan", map[string]interface{}{
		"topic":              in.Topic,
		"locale":             in.Locale,
		"background_results": in.BackgroundResults,
		"observations":       in.Observations,
		"feedback":           in.Feedback,
		"iteration":          in.Iteration,
		"max_step_num":       in.MaxStepNum,
	}, &out); err != nil {
		return PlanResult{}, err
	}

	plan, err := models.ParsePlan(out.Content)
	if err == nil {
		return PlanResult{Plan: plan, Raw: out.Content}, nil
	}
	a.logger.Warn("Plan parse failed, attempting repair", zap.Error(err))

	// One repair pass: hand the malformed output back to the model
	var repaired struct {
		Content string `json:"content"`
	}
	if rerr := a.postJSON(ctx, base+"/v1/plan/repair", map[string]interface{}{
		"raw":    out.Content,
		"error":  err.Error(),
		"locale": in.Locale,
	}, &repaired); rerr != nil {
		a.logger.Warn("Plan repair call failed", zap.Error(rerr))
		return PlanResult{Raw: out.Content, ParseFailed: true}, nil
	}
	plan, err = models.ParsePlan(repaired.Content)
	if err != nil {
		a.logger.Warn("Plan repair output still malformed", zap.Error(err))
		return PlanResult{Raw: repaired.Content, ParseFailed: true}, nil
	}
	return PlanResult{Plan: plan, Raw: repaired.Content}, nil
}
