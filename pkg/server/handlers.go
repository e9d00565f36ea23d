package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"brightreel-ai/reelgate/pkg/admission"
	"brightreel-ai/reelgate/pkg/generation"
)

// admissionRequest is the body for POST /v1/admission/check.
type admissionRequest struct {
	Principal        string  `json:"principal"`
	Category         string  `json:"category"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
}

// submitRequest is the body for POST /v1/generations.
type submitRequest struct {
	Principal        string               `json:"principal"`
	EstimatedCostUSD float64              `json:"estimated_cost_usd"`
	InputSpec        generation.InputSpec `json:"input_spec"`
}

// completeRequest is the body for POST /v1/generations/{id}/complete.
type completeRequest struct {
	OutputMetadata map[string]string `json:"output_metadata"`
}

// failRequest is the body for POST /v1/generations/{id}/fail.
type failRequest struct {
	ErrorMessage string `json:"error_message"`
}

// decisionResponse augments an admission decision with retry-after
// seconds for client convenience.
type decisionResponse struct {
	admission.Decision
	RetryAfterSeconds float64 `json:"retry_after_seconds,omitempty"`
}

// completionRequest is the body for POST /v1/completions.
type completionRequest struct {
	Principal        string  `json:"principal"`
	Prompt           string  `json:"prompt"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
}

// completionResult is the response for POST /v1/completions.
type completionResult struct {
	Text      string  `json:"text"`
	FromCache bool    `json:"from_cache"`
	CostUSD   float64 `json:"cost_usd"`
}

// Rate categories charged per endpoint.
const (
	textCategory  = "text"
	videoCategory = "video"
)

func (s *Server) handleAdmissionCheck(w http.ResponseWriter, r *http.Request) {
	var req admissionRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Principal == "" {
		s.writeError(w, http.StatusBadRequest, "principal is required")
		return
	}

	decision := s.gate.CheckAdmission(r.Context(), req.Principal, req.Category, req.EstimatedCostUSD)
	s.writeDecision(w, decision)
}

func (s *Server) handleCompletion(w http.ResponseWriter, r *http.Request) {
	if s.complete == nil {
		s.writeError(w, http.StatusNotImplemented, "synchronous completions are not configured")
		return
	}

	var req completionRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Principal == "" || req.Prompt == "" {
		s.writeError(w, http.StatusBadRequest, "principal and prompt are required")
		return
	}

	result, err := s.gate.Execute(r.Context(), req.Principal, textCategory, []byte(req.Prompt), req.EstimatedCostUSD,
		func(ctx context.Context) ([]byte, float64, error) {
			return s.complete(ctx, req.Prompt)
		})
	if err != nil {
		s.logger.Error("completion call failed", "error", err)
		s.writeError(w, http.StatusBadGateway, "completion call failed")
		return
	}
	if !result.Decision.Allowed {
		s.writeDecision(w, result.Decision)
		return
	}

	s.writeJSON(w, http.StatusOK, completionResult{
		Text:      string(result.Payload),
		FromCache: result.FromCache,
		CostUSD:   result.CostUSD,
	})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Principal == "" {
		s.writeError(w, http.StatusBadRequest, "principal is required")
		return
	}
	if req.InputSpec.SceneText == "" {
		s.writeError(w, http.StatusBadRequest, "input_spec.scene_text is required")
		return
	}

	decision := s.gate.CheckAdmission(r.Context(), req.Principal, videoCategory, req.EstimatedCostUSD)
	if !decision.Allowed {
		s.writeDecision(w, decision)
		return
	}

	job, err := s.jobs.Submit(r.Context(), req.Principal, req.InputSpec)
	if err != nil {
		if errors.Is(err, generation.ErrSubmissionFailed) {
			// The job record exists in the failed state; report both.
			s.writeJSON(w, http.StatusBadGateway, job)
			return
		}
		s.logger.Error("job submission failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to submit job")
		return
	}

	s.writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeJobError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	principal := r.URL.Query().Get("principal")
	if principal == "" {
		s.writeError(w, http.StatusBadRequest, "principal query parameter is required")
		return
	}
	jobs, err := s.jobs.List(r.Context(), principal)
	if err != nil {
		s.logger.Error("job list failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	s.writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Retry(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, generation.ErrSubmissionFailed) {
			s.writeJSON(w, http.StatusBadGateway, job)
			return
		}
		s.writeJobError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if !s.decode(w, r, &req) {
		return
	}
	job, err := s.jobs.MarkCompleted(r.Context(), r.PathValue("id"), req.OutputMetadata)
	if err != nil {
		s.writeJobError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleFail(w http.ResponseWriter, r *http.Request) {
	var req failRequest
	if !s.decode(w, r, &req) {
		return
	}
	job, err := s.jobs.MarkFailed(r.Context(), r.PathValue("id"), req.ErrorMessage)
	if err != nil {
		s.writeJobError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

// writeDecision maps an admission decision to an HTTP status:
// 200 for allowed, 429 for rate limiting (with Retry-After), 402 for an
// exhausted budget, 503 for a fail-closed ledger denial.
func (s *Server) writeDecision(w http.ResponseWriter, d admission.Decision) {
	status := http.StatusOK
	switch d.Outcome {
	case admission.OutcomeDeniedRateLimited:
		status = http.StatusTooManyRequests
		w.Header().Set("Retry-After", fmt.Sprintf("%.0f", d.RetryAfter.Seconds()))
	case admission.OutcomeDeniedBudget:
		status = http.StatusPaymentRequired
	case admission.OutcomeDeniedLedgerUnavailable:
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, decisionResponse{
		Decision:          d,
		RetryAfterSeconds: d.RetryAfter.Seconds(),
	})
}

// writeJobError maps lifecycle errors to HTTP statuses: 404 for unknown
// jobs, 409 for invalid transitions and exhausted retries.
func (s *Server) writeJobError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, generation.ErrJobNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, generation.ErrInvalidTransition):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, generation.ErrRetriesExhausted):
		s.writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("job operation failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
