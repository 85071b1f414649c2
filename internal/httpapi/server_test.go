package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	enumspb "go.temporal.io/api/enums/v1"
	workflowpb "go.temporal.io/api/workflow/v1"
	"go.temporal.io/api/workflowservice/v1"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/inquirylab/fathom/internal/auth"
	"github.com/inquirylab/fathom/internal/config"
	"github.com/inquirylab/fathom/internal/jobs"
	"github.com/inquirylab/fathom/internal/models"
	"github.com/inquirylab/fathom/internal/streaming"
	"github.com/inquirylab/fathom/internal/workflows"
)

type fakeRun struct {
	id     string
	runID  string
	result interface{}
	err    error
}

func (r *fakeRun) GetID() string    { return r.id }
func (r *fakeRun) GetRunID() string { return r.runID }

func (r *fakeRun) Get(ctx context.Context, valuePtr interface{}) error {
	if r.err != nil {
		return r.err
	}
	if valuePtr != nil && r.result != nil {
		b, err := json.Marshal(r.result)
		if err != nil {
			return err
		}
		return json.Unmarshal(b, valuePtr)
	}
	return nil
}

func (r *fakeRun) GetWithOptions(ctx context.Context, valuePtr interface{}, options client.WorkflowRunGetOptions) error {
	return r.Get(ctx, valuePtr)
}

type sentSignal struct {
	workflowID string
	name       string
	arg        interface{}
}

// fakeTemporal completes every workflow immediately with nextResult/nextErr.
type fakeTemporal struct {
	mu         sync.Mutex
	signals    []sentSignal
	cancelled  []string
	nextResult interface{}
	nextErr    error
}

func (f *fakeTemporal) ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, wf interface{}, args ...interface{}) (client.WorkflowRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &fakeRun{id: options.ID, runID: "run-1", result: f.nextResult, err: f.nextErr}, nil
}

func (f *fakeTemporal) SignalWorkflow(ctx context.Context, workflowID, runID, signalName string, arg interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, sentSignal{workflowID: workflowID, name: signalName, arg: arg})
	return nil
}

func (f *fakeTemporal) CancelWorkflow(ctx context.Context, workflowID, runID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, workflowID)
	return nil
}

func (f *fakeTemporal) DescribeWorkflowExecution(ctx context.Context, workflowID, runID string) (*workflowservice.DescribeWorkflowExecutionResponse, error) {
	return &workflowservice.DescribeWorkflowExecutionResponse{
		WorkflowExecutionInfo: &workflowpb.WorkflowExecutionInfo{
			Status: enumspb.WORKFLOW_EXECUTION_STATUS_COMPLETED,
		},
	}, nil
}

type testServer struct {
	srv      *Server
	handler  http.Handler
	jobs     *jobs.Manager
	temporal *fakeTemporal
	tokens   *auth.ResumeTokens
	stream   *streaming.Manager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWithAuth(t, auth.NewService(true, 0, 0, zap.NewNop()))
}

func newTestServerWithAuth(t *testing.T, authSvc *auth.Service) *testServer {
	t.Helper()
	cfg := config.NewStaticManager(&config.Config{
		Temporal: config.TemporalConfig{TaskQueue: "fathom-research"},
		Research: config.ResearchConfig{
			MaxPlanIterations:  3,
			JobRetention:       24 * time.Hour,
			DefaultReportStyle: "academic",
		},
	})
	tc := &fakeTemporal{}
	stream := streaming.NewManager(64)
	mgr := jobs.NewManager(cfg, tc, nil, stream, zap.NewNop())
	tokens := auth.NewResumeTokens("test-secret", time.Hour)
	srv := NewServer(mgr, stream, authSvc, tokens, zap.NewNop())
	return &testServer{
		srv:      srv,
		handler:  srv.Routes(),
		jobs:     mgr,
		temporal: tc,
		tokens:   tokens,
		stream:   stream,
	}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestCreateResearchJob(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/research", map[string]interface{}{
		"query": "impact of solid state batteries on EV range",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	body := decodeBody(t, rec)
	assert.NotEmpty(t, body["job_id"])
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, "research", body["mode"])
	assert.NotEmpty(t, body["thread_id"])
}

func TestCreateResearchJobValidation(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/research", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/research", bytes.NewBufferString("{not json"))
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestGetJobAndResult(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/research", map[string]interface{}{"query": "q"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	jobID := decodeBody(t, rec)["job_id"].(string)

	rec = ts.do(t, http.MethodGet, "/api/v1/research/"+jobID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// The result endpoint refuses until the job reaches a terminal status.
	rec = ts.do(t, http.MethodGet, "/api/v1/research/"+jobID+"/result", nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	require.NoError(t, ts.jobs.UpdateStatus(context.Background(), jobID, "completed", ""))
	rec = ts.do(t, http.MethodGet, "/api/v1/research/"+jobID+"/result", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "completed", decodeBody(t, rec)["status"])
}

func TestGetJobNotFound(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/api/v1/research/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFailedJobResult(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/research", map[string]interface{}{"query": "q"})
	jobID := decodeBody(t, rec)["job_id"].(string)
	require.NoError(t, ts.jobs.UpdateStatus(context.Background(), jobID, "failed", "planner exploded"))

	rec = ts.do(t, http.MethodGet, "/api/v1/research/"+jobID+"/result", nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "failed", body["status"])
	assert.Equal(t, "planner exploded", body["error"])
}

func TestDeleteJob(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/research", map[string]interface{}{"query": "q"})
	jobID := decodeBody(t, rec)["job_id"].(string)

	rec = ts.do(t, http.MethodDelete, "/api/v1/research/"+jobID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/api/v1/research/"+jobID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListJobs(t *testing.T) {
	ts := newTestServer(t)

	for i := 0; i < 3; i++ {
		rec := ts.do(t, http.MethodPost, "/api/v1/research", map[string]interface{}{
			"query": fmt.Sprintf("query %d", i),
		})
		require.Equal(t, http.StatusAccepted, rec.Code)
	}

	rec := ts.do(t, http.MethodGet, "/api/v1/research", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(3), decodeBody(t, rec)["count"])

	rec = ts.do(t, http.MethodGet, "/api/v1/research?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), decodeBody(t, rec)["count"])

	rec = ts.do(t, http.MethodGet, "/api/v1/research?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFeedbackAccepted(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/research", map[string]interface{}{"query": "q"})
	jobID := decodeBody(t, rec)["job_id"].(string)

	token, err := ts.tokens.Mint(jobID, "fathom-"+jobID)
	require.NoError(t, err)

	rec = ts.do(t, http.MethodPost, "/api/v1/research/"+jobID+"/feedback", map[string]interface{}{
		"resume_token": token,
		"action":       "accepted",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, ts.temporal.signals, 1)
	assert.Equal(t, workflows.ResumeAccepted, ts.temporal.signals[0].arg)
	assert.Equal(t, workflows.PlanReviewSignalName("fathom-"+jobID), ts.temporal.signals[0].name)
}

func TestFeedbackEditPlan(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/research", map[string]interface{}{"query": "q"})
	jobID := decodeBody(t, rec)["job_id"].(string)
	token, err := ts.tokens.Mint(jobID, "fathom-"+jobID)
	require.NoError(t, err)

	rec = ts.do(t, http.MethodPost, "/api/v1/research/"+jobID+"/feedback", map[string]interface{}{
		"resume_token": token,
		"action":       "edit_plan",
		"feedback":     "focus on 2025 results",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, ts.temporal.signals, 1)
	assert.Equal(t, workflows.ResumeEditPrefix+" focus on 2025 results", ts.temporal.signals[0].arg)

	// edit_plan without feedback is refused before any signal.
	rec = ts.do(t, http.MethodPost, "/api/v1/research/"+jobID+"/feedback", map[string]interface{}{
		"resume_token": token,
		"action":       "edit_plan",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, ts.temporal.signals, 1)
}

func TestFeedbackTokenChecks(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/research", map[string]interface{}{"query": "q"})
	jobID := decodeBody(t, rec)["job_id"].(string)

	rec = ts.do(t, http.MethodPost, "/api/v1/research/"+jobID+"/feedback", map[string]interface{}{
		"resume_token": "garbage",
		"action":       "accepted",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	otherToken, err := ts.tokens.Mint("other-job", "fathom-other-job")
	require.NoError(t, err)
	rec = ts.do(t, http.MethodPost, "/api/v1/research/"+jobID+"/feedback", map[string]interface{}{
		"resume_token": otherToken,
		"action":       "accepted",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	token, err := ts.tokens.Mint(jobID, "fathom-"+jobID)
	require.NoError(t, err)
	rec = ts.do(t, http.MethodPost, "/api/v1/research/"+jobID+"/feedback", map[string]interface{}{
		"resume_token": token,
		"action":       "maybe",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, ts.temporal.signals)
}

func TestQuickResearchAwaitingDisambiguation(t *testing.T) {
	ts := newTestServer(t)
	ts.temporal.nextResult = workflows.PersonResult{
		AwaitingDisambiguation: true,
		Candidates: []models.Candidate{
			{ID: "c1", Name: "Jordan Reyes", Company: "Acme Robotics"},
			{ID: "c2", Name: "Jordan Reyes", Company: "Meridian Labs"},
		},
	}

	rec := ts.do(t, http.MethodPost, "/api/v1/quickresearch", map[string]interface{}{
		"name": "Jordan Reyes",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "awaiting_disambiguation", body["status"])
	assert.Len(t, body["candidates"], 2)
	assert.NotEmpty(t, body["job_id"])
}

func TestQuickResearchResolved(t *testing.T) {
	ts := newTestServer(t)
	ts.temporal.nextResult = workflows.PersonResult{
		Selected:    &models.Candidate{ID: "c1", Name: "Jordan Reyes", Company: "Acme Robotics"},
		FinalReport: "# Jordan Reyes",
	}

	rec := ts.do(t, http.MethodPost, "/api/v1/quickresearch", map[string]interface{}{
		"name":    "Jordan Reyes",
		"company": "Acme Robotics",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "# Jordan Reyes", body["final_report"])
	assert.NotNil(t, body["selected_candidate"])
}

func TestQuickResearchValidation(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/quickresearch", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/quickresearch", map[string]interface{}{
		"name":         "Jordan Reyes",
		"candidate_id": "c1",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSSEReplay(t *testing.T) {
	ts := newTestServer(t)

	thread := "thread-sse"
	for i := 0; i < 3; i++ {
		ts.stream.Publish(thread, streaming.Event{
			Type:    streaming.EventMessageChunk,
			Role:    streaming.RoleReporter,
			Content: fmt.Sprintf("chunk %d", i),
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/stream/"+thread, nil).WithContext(ctx)
	req.Header.Set("Last-Event-ID", "1")
	rec := httptest.NewRecorder()

	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()
	ts.handler.ServeHTTP(rec, req)

	body := rec.Body.String()
	assert.Contains(t, body, "id: 2")
	assert.Contains(t, body, "id: 3")
	assert.NotContains(t, body, "chunk 0")
	assert.Contains(t, body, "event: message_chunk")
}

func TestStreamTokenAuth(t *testing.T) {
	t.Setenv("API_KEY_1", "sk_test_stream-key")
	ts := newTestServerWithAuth(t, auth.NewService(false, 0, 0, zap.NewNop()))

	thread := "thread-auth"
	ts.stream.Publish(thread, streaming.Event{
		Type:    streaming.EventMessageChunk,
		Role:    streaming.RoleReporter,
		Content: "hello",
	})

	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stream/"+thread, nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// EventSource cannot set headers, so the key rides the token query param.
	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/stream/"+thread+"?token=sk_test_stream-key", nil).WithContext(ctx)
	rec = httptest.NewRecorder()
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()
	ts.handler.ServeHTTP(rec, req)
	assert.Contains(t, rec.Body.String(), "hello")
	assert.Contains(t, rec.Body.String(), "id: 1")
}
