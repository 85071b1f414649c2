package activities

import (
	"context"

	"go.temporal.io/sdk/activity"
)

// CoordinateInput asks the coordinator model to classify a query.
type CoordinateInput struct {
	Query            string `json:"query"`
	PersonSearchMode bool   `json:"person_search_mode"`
}

// CoordinateResult is the routing decision for the run. A non-empty
// DirectResponse means no actionable research intent; the run replies and
// ends.
type CoordinateResult struct {
	Locale         string `json:"locale"`
	ResearchTopic  string `json:"research_topic"`
	DirectResponse string `json:"direct_response,omitempty"`
}

// Coordinate classifies intent and extracts locale and topic via the LLM
// service. A hard failure here fails the run; there is no degraded mode
// before a topic exists.
func (a *Activities) Coordinate(ctx context.Context, in CoordinateInput) (CoordinateResult, error) {
	activity.GetLogger(ctx).Info("Coordinating query", "person_mode", in.PersonSearchMode)

	base := a.cfg.Get().Research.LLMServiceURL
	var out CoordinateResult
	if err := a.postJSON(ctx, base+"/v1/coordinate", map[string]interface{}{
		"query":              in.Query,
		"person_search_mode": in.PersonSearchMode,
	}, &out); err != nil {
		return CoordinateResult{}, err
	}
	if out.Locale == "" {
		out.Locale = "en-US"
	}
	if out.ResearchTopic == "" {
		out.ResearchTopic = in.Query
	}
	return out, nil
}
