package activities

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/inquirylab/fathom/internal/auth"
	"github.com/inquirylab/fathom/internal/config"
	"github.com/inquirylab/fathom/internal/interceptors"
	"github.com/inquirylab/fathom/internal/ratecontrol"
	"github.com/inquirylab/fathom/internal/streaming"
	"github.com/inquirylab/fathom/internal/tracing"
)

// Activity names as registered with the worker. Workflows schedule by name so
// the test suite can mock each one independently.
const (
	CoordinateActivity       = "Coordinate"
	InvestigateActivity      = "BackgroundInvestigate"
	GeneratePlanActivity     = "GeneratePlan"
	ExecuteStepActivity      = "ExecuteStep"
	CompressActivity         = "CompressObservations"
	ComposeReportActivity    = "ComposeReport"
	ExtractStructuredActivity = "ExtractStructured"
	ResolveIdentityActivity  = "ResolveIdentity"
	EmitEventActivity        = "EmitResearchEvent"
	UpdateJobStatusActivity  = "UpdateJobStatus"
	SaveJobResultActivity    = "SaveJobResult"
	RecordSearchesActivity   = "RecordSearches"
)

// Activities bundles the collaborators every activity needs. Constructed once
// at worker startup and registered as a unit.
type Activities struct {
	cfg    *config.Manager
	jobs   JobLifecycle
	stream *streaming.Manager
	tokens *auth.ResumeTokens
	pacer  *ratecontrol.Pacer
	http   *http.Client
	logger *zap.Logger
}

func New(cfg *config.Manager, jobMgr JobLifecycle, stream *streaming.Manager, tokens *auth.ResumeTokens, logger *zap.Logger) *Activities {
	return &Activities{
		cfg:    cfg,
		jobs:   jobMgr,
		stream: stream,
		tokens: tokens,
		pacer:  ratecontrol.NewPacer(nil),
		http: &http.Client{
			Timeout:   120 * time.Second,
			Transport: interceptors.NewWorkflowRoundTripper(nil),
		},
		logger: logger,
	}
}

// postJSON posts a JSON body and decodes a JSON response.
func (a *Activities) postJSON(ctx context.Context, url string, reqBody interface{}, out interface{}) error {
	buf, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodPost, url)
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)
	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status_%d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
