package activities

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"
	"go.uber.org/zap"

	"github.com/inquirylab/fathom/internal/models"
)

// DisambiguateInput resolves a person name to concrete identities.
type DisambiguateInput struct {
	ThreadID string `json:"thread_id"`
	JobID    string `json:"job_id"`
	Name     string `json:"name"`
	Company  string `json:"company,omitempty"`
	Context  string `json:"context,omitempty"`
	Provider string `json:"provider,omitempty"`
}

// DisambiguateResult carries the extracted candidate list. Zero candidates is
// a fatal input error surfaced by the workflow; one proceeds with the
// enriched query; more than one halts for an external selection.
type DisambiguateResult struct {
	Candidates       []models.Candidate `json:"candidates"`
	SearchesExecuted int                `json:"searches_executed"`
}

// ResolveIdentity runs the two-query person search (broad by name, narrow by
// name plus company) and extracts a schema-constrained candidate list.
func (a *Activities) ResolveIdentity(ctx context.Context, in DisambiguateInput) (DisambiguateResult, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("Resolving identity", "name", in.Name)

	cfg := a.cfg.Get().Research
	searches := 0

	broad, err := a.search(ctx, in.Name, in.Provider, cfg.MaxSearchResults)
	searches++
	if err != nil {
		a.logger.Warn("Broad person search failed", zap.Error(err))
		broad = nil
	}

	narrowQuery := in.Name
	if in.Company != "" {
		narrowQuery = fmt.Sprintf("%s %s", in.Name, in.Company)
	} else if in.Context != "" {
		narrowQuery = fmt.Sprintf("%s %s", in.Name, in.Context)
	}
	narrow, err := a.search(ctx, narrowQuery, in.Provider, cfg.MaxSearchResults)
	searches++
	if err != nil {
		a.logger.Warn("Narrow person search failed", zap.Error(err))
		narrow = nil
	}
	a.recordSearches(in.JobID, searches)

	results := append(append([]SearchResult{}, broad...), narrow...)
	if len(results) == 0 {
		return DisambiguateResult{SearchesExecuted: searches}, nil
	}

	var out struct {
		Candidates []models.Candidate `json:"candidates"`
	}
	if err := a.postJSON(ctx, a.cfg.Get().Research.LLMServiceURL+"/v1/extract/candidates", map[string]interface{}{
		"name":    in.Name,
		"company": in.Company,
		"context": in.Context,
		"results": results,
	}, &out); err != nil {
		return DisambiguateResult{}, fmt.Errorf("candidate extraction: %w", err)
	}

	for i := range out.Candidates {
		if out.Candidates[i].ID == "" {
			out.Candidates[i].ID = uuid.New().String()
		}
	}
	logger.Info("Identity resolution complete", "candidates", len(out.Candidates))
	return DisambiguateResult{Candidates: out.Candidates, SearchesExecuted: searches}, nil
}
