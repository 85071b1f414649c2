package activities

import (
	"context"
	"strings"

	"go.temporal.io/sdk/activity"
	"go.uber.org/zap"

	"github.com/inquirylab/fathom/internal/util"
)

// CompressInput asks for the observation history to be fit to a token budget
// before the reporting stage.
type CompressInput struct {
	Observations []string `json:"observations"`
	TargetTokens int      `json:"target_tokens"`
}

// CompressResult returns the budget-fitted text. Error records a degraded
// pass; the caller still gets usable text.
type CompressResult struct {
	Compressed string `json:"compressed"`
	Original   bool   `json:"original"`
	Error      string `json:"error,omitempty"`
}

const observationSeparator = "\n\n---\n\n"

// CompressObservations summarizes accumulated step results when they exceed
// the token budget. On any collaborator failure it falls back to truncating
// the raw text rather than failing the run.
func (a *Activities) CompressObservations(ctx context.Context, in CompressInput) (CompressResult, error) {
	activity.GetLogger(ctx).Info("Compressing observations", "count", len(in.Observations))
	if len(in.Observations) == 0 {
		return CompressResult{}, nil
	}

	joined := strings.Join(in.Observations, observationSeparator)
	target := in.TargetTokens
	if target <= 0 {
		target = a.cfg.Get().Research.CompressTargetTokens
	}
	if estimateTokens(joined) <= target {
		return CompressResult{Compressed: joined, Original: true}, nil
	}

	base := a.cfg.Get().Research.LLMServiceURL
	var out struct {
		Summary string `json:"summary"`
	}
	if err := a.postJSON(ctx, base+"/context/compress", map[string]interface{}{
		"text":          joined,
		"target_tokens": target,
	}, &out); err != nil {
		a.logger.Warn("Context compression failed, truncating instead", zap.Error(err))
		return CompressResult{Compressed: truncateToTokens(joined, target), Error: err.Error()}, nil
	}
	if out.Summary == "" {
		return CompressResult{Compressed: truncateToTokens(joined, target), Error: "empty_summary"}, nil
	}
	return CompressResult{Compressed: out.Summary}, nil
}

// estimateTokens uses the rough 4-bytes-per-token heuristic.
func estimateTokens(s string) int {
	return len(s) / 4
}

// truncateToTokens cuts on rune and word boundaries, never mid-codepoint.
func truncateToTokens(s string, tokens int) string {
	return util.TruncateString(s, tokens*4, true)
}
