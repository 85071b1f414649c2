package activities

import (
	"context"
	"fmt"
	"strings"

	"go.temporal.io/sdk/activity"
	"go.uber.org/zap"

	"github.com/inquirylab/fathom/internal/metrics"
)

// SearchResult is one hit from the search collaborator.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

// InvestigateInput runs the pre-planning broad search.
type InvestigateInput struct {
	ThreadID   string `json:"thread_id"`
	JobID      string `json:"job_id"`
	Query      string `json:"query"`
	Provider   string `json:"provider,omitempty"`
	MaxResults int    `json:"max_results"`
}

// InvestigateResult carries the formatted background context. Error is set
// instead of failing the activity: search trouble degrades the run, it never
// aborts it.
type InvestigateResult struct {
	Results string `json:"results"`
	Count   int    `json:"count"`
	Error   string `json:"error,omitempty"`
}

// BackgroundInvestigate performs the preliminary search and formats the hits
// as planner context.
func (a *Activities) BackgroundInvestigate(ctx context.Context, in InvestigateInput) (InvestigateResult, error) {
	activity.GetLogger(ctx).Info("Background investigation", "thread_id", in.ThreadID)

	hits, err := a.search(ctx, in.Query, in.Provider, in.MaxResults)
	a.recordSearches(in.JobID, 1)
	if err != nil {
		a.logger.Warn("Background investigation search failed", zap.Error(err))
		return InvestigateResult{Error: err.Error()}, nil
	}
	if len(hits) == 0 {
		return InvestigateResult{}, nil
	}

	var b strings.Builder
	for _, h := range hits {
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", h.Title, h.Content)
	}
	return InvestigateResult{Results: b.String(), Count: len(hits)}, nil
}

// search calls the search collaborator. Callers treat an error as an empty
// result set.
func (a *Activities) search(ctx context.Context, query, provider string, maxResults int) ([]SearchResult, error) {
	cfg := a.cfg.Get().Research
	if maxResults <= 0 {
		maxResults = cfg.MaxSearchResults
	}
	if err := a.pacer.Wait(ctx, provider); err != nil {
		return nil, err
	}
	var out struct {
		Results []SearchResult `json:"results"`
	}
	err := a.postJSON(ctx, cfg.SearchServiceURL+"/search", map[string]interface{}{
		"query":       query,
		"provider":    provider,
		"max_results": maxResults,
	}, &out)
	if err != nil {
		metrics.SearchRequests.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.SearchRequests.WithLabelValues("ok").Inc()
	return out.Results, nil
}

func (a *Activities) recordSearches(jobID string, n int) {
	if jobID == "" || n <= 0 {
		return
	}
	a.jobs.RecordSearches(jobID, n)
}
