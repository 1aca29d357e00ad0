package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/iago/imagegen-back/internal/http/middleware"
	"github.com/iago/imagegen-back/internal/queue"
	"github.com/iago/imagegen-back/internal/repository"
)

type generationRequest struct {
	SubjectRef   string `json:"subject_ref"`
	RequesterID  string `json:"requester_id"`
	TenantID     string `json:"tenant_id"`
	ScopeID      string `json:"scope_id,omitempty"`
	Description  string `json:"description,omitempty"`
	CustomPrompt string `json:"custom_prompt,omitempty"`
}

// Generations routes the collection endpoint: POST submits, GET lists the
// caller's jobs with queue stats.
func (api *API) Generations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		api.submit(w, r)
	case http.MethodGet:
		api.listStatus(w, r)
	default:
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func (api *API) submit(w http.ResponseWriter, r *http.Request) {
	var request generationRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}

	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	payloadHash := hashPayload(request)
	if idempotencyKey != "" {
		if entry, ok := api.idempotency.Get(idempotencyKey); ok {
			if entry.PayloadHash != payloadHash {
				writeError(w, r, http.StatusConflict, "idempotency_conflict", "idempotency key reused with a different payload")
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"request_id": middleware.GetRequestID(r.Context()),
				"job_id":     entry.JobID,
				"replayed":   true,
			})
			return
		}
	}

	receipt, err := api.queueAPI.Submit(r.Context(), queue.SubmitInput{
		SubjectRef:   request.SubjectRef,
		RequesterID:  request.RequesterID,
		TenantID:     request.TenantID,
		ScopeID:      request.ScopeID,
		Description:  request.Description,
		CustomPrompt: request.CustomPrompt,
	})
	if err != nil {
		var validation *queue.ValidationError
		switch {
		case errors.As(err, &validation):
			writeError(w, r, http.StatusBadRequest, "invalid_request", validation.Error())
		case errors.Is(err, queue.ErrSubjectBusy):
			writeError(w, r, http.StatusConflict, "subject_busy", "subject already has an active generation job")
		case errors.Is(err, queue.ErrGenerationDisabled):
			writeError(w, r, http.StatusForbidden, "generation_disabled", "image generation is not enabled for this tenant")
		default:
			writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to submit generation job")
		}
		return
	}

	if idempotencyKey != "" {
		api.idempotency.Put(idempotencyKey, payloadHash, receipt.JobID)
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"request_id":           middleware.GetRequestID(r.Context()),
		"job_id":               receipt.JobID,
		"position":             receipt.Position,
		"estimated_completion": receipt.EstimatedCompletion,
	})
}

func (api *API) listStatus(w http.ResponseWriter, r *http.Request) {
	requesterID := requesterFrom(r)
	tenantID := strings.TrimSpace(r.URL.Query().Get("tenant_id"))
	if requesterID == "" || tenantID == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "requester_id and tenant_id are required")
		return
	}

	report, err := api.queueAPI.Status(r.Context(), requesterID, tenantID)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to load status")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Generation routes one job: GET for status, DELETE for cancel.
func (api *API) Generation(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSpace(strings.TrimPrefix(r.URL.Path, "/v1/generations/"))
	if jobID == "" || strings.Contains(jobID, "/") {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "job_id is required")
		return
	}
	requesterID := requesterFrom(r)
	if requesterID == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "requester_id is required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		view, err := api.queueAPI.Job(r.Context(), jobID, requesterID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				writeError(w, r, http.StatusNotFound, "not_found", "job not found")
				return
			}
			writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to load job")
			return
		}
		writeJSON(w, http.StatusOK, view)

	case http.MethodDelete:
		err := api.queueAPI.Cancel(r.Context(), jobID, requesterID)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, map[string]any{"job_id": jobID, "status": "cancelled"})
		case errors.Is(err, repository.ErrNotFound):
			writeError(w, r, http.StatusNotFound, "not_found", "job not found")
		case errors.Is(err, queue.ErrTooLate):
			writeError(w, r, http.StatusConflict, "too_late", "job already finished")
		default:
			writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to cancel job")
		}

	default:
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}
