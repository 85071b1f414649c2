package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/inquirylab/fathom/internal/auth"
	"github.com/inquirylab/fathom/internal/jobs"
	"github.com/inquirylab/fathom/internal/models"
)

// researchRequest is the async and sync research submission body.
type researchRequest struct {
	Query                         string                 `json:"query"`
	ReportStyle                   string                 `json:"report_style,omitempty"`
	MaxStepNum                    int                    `json:"max_step_num,omitempty"`
	MaxSearchResults              int                    `json:"max_search_results,omitempty"`
	SearchProvider                string                 `json:"search_provider,omitempty"`
	EnableBackgroundInvestigation *bool                  `json:"enable_background_investigation,omitempty"`
	AutoAcceptedPlan              bool                   `json:"auto_accepted_plan,omitempty"`
	SkipReporting                 *bool                  `json:"skip_reporting,omitempty"`
	OutputSchema                  map[string]interface{} `json:"output_schema,omitempty"`
	Resources                     []string               `json:"resources,omitempty"`
}

func (req *researchRequest) options(client auth.ClientInfo, syncDefault bool) jobs.Options {
	skip := syncDefault
	if req.SkipReporting != nil {
		skip = *req.SkipReporting
	}
	return jobs.Options{
		ReportStyle:         req.ReportStyle,
		MaxStepNum:          req.MaxStepNum,
		MaxSearchResults:    req.MaxSearchResults,
		SearchProvider:      req.SearchProvider,
		EnableBackgroundInv: req.EnableBackgroundInvestigation,
		AutoAcceptedPlan:    req.AutoAcceptedPlan,
		SkipReporting:       skip,
		OutputSchema:        req.OutputSchema,
		Resources:           req.Resources,
		UserID:              client.ClientID,
		APIKeyName:          client.Description,
	}
}

// jobResponse is the external job representation. Status is the lifecycle
// value except for ambiguous person runs, which surface as
// awaiting_disambiguation until a candidate is selected.
type jobResponse struct {
	JobID            string             `json:"job_id"`
	Query            string             `json:"query"`
	Mode             string             `json:"mode"`
	Status           string             `json:"status"`
	Error            string             `json:"error,omitempty"`
	ThreadID         string             `json:"thread_id,omitempty"`
	SearchesExecuted int                `json:"searches_executed"`
	Candidates       []models.Candidate `json:"disambiguation_candidates,omitempty"`
	Selected         *models.Candidate  `json:"selected_candidate,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
	CompletedAt      *time.Time         `json:"completed_at,omitempty"`
}

func toJobResponse(job *jobs.Job) jobResponse {
	resp := jobResponse{
		JobID:            job.ID,
		Query:            job.Query,
		Mode:             job.Mode,
		Status:           string(job.Status),
		Error:            job.Error,
		ThreadID:         job.ThreadID,
		SearchesExecuted: job.SearchesExecuted,
		Candidates:       job.Candidates,
		Selected:         job.SelectedCandidate,
		CreatedAt:        job.CreatedAt,
		UpdatedAt:        job.UpdatedAt,
		CompletedAt:      job.CompletedAt,
	}
	if job.Status == jobs.StatusCompleted && len(job.Candidates) > 0 && job.SelectedCandidate == nil {
		resp.Status = "awaiting_disambiguation"
	}
	return resp
}

type resultResponse struct {
	JobID              string                 `json:"job_id"`
	Status             string                 `json:"status"`
	FinalReport        string                 `json:"final_report,omitempty"`
	ResearcherFindings string                 `json:"researcher_findings,omitempty"`
	StructuredOutput   map[string]interface{} `json:"structured_output,omitempty"`
	Plan               map[string]interface{} `json:"plan,omitempty"`
	Observations       []string               `json:"observations,omitempty"`
	SearchesExecuted   int                    `json:"searches_executed"`
	DurationSeconds    float64                `json:"duration_seconds"`
}

func toResultResponse(job *jobs.Job) resultResponse {
	return resultResponse{
		JobID:              job.ID,
		Status:             string(job.Status),
		FinalReport:        job.FinalReport,
		ResearcherFindings: job.ResearcherFindings,
		StructuredOutput:   job.StructuredOutput,
		Plan:               job.Plan,
		Observations:       job.Observations,
		SearchesExecuted:   job.SearchesExecuted,
		DurationSeconds:    job.DurationSeconds,
	}
}

// handleCreate starts an asynchronous research job.
// POST /api/v1/research
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req researchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	client, _ := auth.ClientFromContext(r.Context())

	job, err := s.jobs.Create(r.Context(), req.Query, jobs.ModeResearch, req.options(client, false))
	if err != nil {
		s.logger.Error("Job creation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, toJobResponse(job))
}

// handleCreateSync runs a research job to completion before responding.
// Reporting is skipped by default: sync callers usually want raw findings
// fast, not a styled narrative.
// POST /api/v1/research/sync
func (s *Server) handleCreateSync(w http.ResponseWriter, r *http.Request) {
	var req researchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	client, _ := auth.ClientFromContext(r.Context())

	opts := req.options(client, true)
	// A sync run cannot answer an interactive plan review.
	opts.AutoAcceptedPlan = true

	job, err := s.jobs.Create(r.Context(), req.Query, jobs.ModeResearch, opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	final, err := s.jobs.Await(r.Context(), job.ID)
	if err != nil {
		if r.Context().Err() != nil {
			writeError(w, http.StatusGatewayTimeout, "research did not finish before the request deadline")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if final.Status == jobs.StatusFailed {
		writeJSON(w, http.StatusUnprocessableEntity, toJobResponse(final))
		return
	}
	writeJSON(w, http.StatusOK, toResultResponse(final))
}

// handleGet returns job metadata and progress.
// GET /api/v1/research/{id}
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(job))
}

// handleResult returns the terminal output, or 409 while the job is live.
// GET /api/v1/research/{id}/result
func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	if !job.Status.Terminal() {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":  "job has not finished",
			"status": string(job.Status),
		})
		return
	}
	if job.Status == jobs.StatusFailed {
		writeJSON(w, http.StatusUnprocessableEntity, toJobResponse(job))
		return
	}
	writeJSON(w, http.StatusOK, toResultResponse(job))
}

// handleDelete cancels and removes a job.
// DELETE /api/v1/research/{id}
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.jobs.Delete(r.Context(), id); err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleList returns job summaries, newest first.
// GET /api/v1/research?status=&user_id=&limit=
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	list, err := s.jobs.List(r.Context(), r.URL.Query().Get("status"), r.URL.Query().Get("user_id"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]jobResponse, 0, len(list))
	for _, job := range list {
		out = append(out, toJobResponse(job))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  out,
		"count": len(out),
	})
}

// feedbackRequest resumes a plan-review interrupt. The resume token was
// embedded in the interrupt event payload.
type feedbackRequest struct {
	ResumeToken string `json:"resume_token"`
	Action      string `json:"action"`
	Feedback    string `json:"feedback,omitempty"`
}

// handleFeedback forwards a plan review decision to the paused workflow.
// POST /api/v1/research/{id}/feedback
func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	claims, err := s.tokens.Verify(req.ResumeToken)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid resume token")
		return
	}
	if claims.JobID != id {
		writeError(w, http.StatusForbidden, "resume token does not match job")
		return
	}

	switch req.Action {
	case "accepted":
		err = s.jobs.SignalPlanReview(r.Context(), id, true, "")
	case "edit_plan":
		if req.Feedback == "" {
			writeError(w, http.StatusBadRequest, "edit_plan requires feedback")
			return
		}
		err = s.jobs.SignalPlanReview(r.Context(), id, false, req.Feedback)
	default:
		writeError(w, http.StatusBadRequest, "action must be accepted or edit_plan")
		return
	}
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed", "action": req.Action})
}

// quickResearchRequest drives the person pipeline. Re-invoke with the prior
// job_id and a candidate_id to continue past disambiguation.
type quickResearchRequest struct {
	Name             string `json:"name"`
	Company          string `json:"company,omitempty"`
	Context          string `json:"context,omitempty"`
	ReportStyle      string `json:"report_style,omitempty"`
	SearchProvider   string `json:"search_provider,omitempty"`
	MaxSearchResults int    `json:"max_search_results,omitempty"`
	FullResearch     bool   `json:"full_research,omitempty"`

	JobID       string `json:"job_id,omitempty"`
	CandidateID string `json:"candidate_id,omitempty"`
}

// handleQuickResearch runs person research synchronously.
// POST /api/v1/quickresearch
func (s *Server) handleQuickResearch(w http.ResponseWriter, r *http.Request) {
	var req quickResearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.CandidateID != "" && req.JobID == "" {
		writeError(w, http.StatusBadRequest, "candidate_id requires the prior job_id")
		return
	}
	client, _ := auth.ClientFromContext(r.Context())

	opts := jobs.Options{
		ReportStyle:      req.ReportStyle,
		SearchProvider:   req.SearchProvider,
		MaxSearchResults: req.MaxSearchResults,
		UserID:           client.ClientID,
		PersonName:       req.Name,
		PersonCompany:    req.Company,
		PersonContext:    req.Context,
		QuickMode:        !req.FullResearch,
		CandidateID:      req.CandidateID,
	}

	if req.CandidateID != "" {
		prior, err := s.jobs.Get(r.Context(), req.JobID)
		if err != nil {
			writeError(w, http.StatusNotFound, "prior job not found")
			return
		}
		if len(prior.Candidates) == 0 {
			writeError(w, http.StatusConflict, "prior job has no candidates to select from")
			return
		}
		opts.Candidates = prior.Candidates
	}

	job, err := s.jobs.Create(r.Context(), "", jobs.ModePerson, opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	final, err := s.jobs.Await(r.Context(), job.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if final.Status == jobs.StatusFailed {
		code := http.StatusUnprocessableEntity
		writeJSON(w, code, toJobResponse(final))
		return
	}
	if len(final.Candidates) > 0 && final.SelectedCandidate == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"job_id":     final.ID,
			"status":     "awaiting_disambiguation",
			"candidates": final.Candidates,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"job_id":             final.ID,
		"status":             string(final.Status),
		"final_report":       final.FinalReport,
		"selected_candidate": final.SelectedCandidate,
		"searches_executed":  final.SearchesExecuted,
		"duration_seconds":   final.DurationSeconds,
	})
}

// loadJob resolves the path id and writes the error response on failure.
func (s *Server) loadJob(w http.ResponseWriter, r *http.Request) (*jobs.Job, bool) {
	job, err := s.jobs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return nil, false
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	return job, true
}
