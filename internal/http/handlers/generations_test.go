package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/iago/imagegen-back/internal/domain"
	"github.com/iago/imagegen-back/internal/queue"
	"github.com/iago/imagegen-back/internal/repository"
	"github.com/iago/imagegen-back/internal/service"
	"github.com/iago/imagegen-back/internal/settings"
)

type idleRunner struct{}

func (idleRunner) Run(context.Context, *domain.Job) domain.AttemptOutcome {
	return domain.AttemptOutcome{Kind: domain.OutcomeCompleted, AssetPath: "a.jpg"}
}

func newTestAPI() *API {
	repo := repository.NewMemoryJobsRepository()
	resolver := settings.NewStaticResolver(&domain.ProviderSettings{
		ChannelRef: "channel-1",
		Enabled:    true,
	})
	queueService := queue.NewService(repo, idleRunner{}, resolver, queue.Config{})
	return NewAPI(service.NewQueueAPI(queueService, nil, nil))
}

func submitBody(subjectRef string) *bytes.Reader {
	payload, _ := json.Marshal(map[string]string{
		"subject_ref":  subjectRef,
		"requester_id": "u1",
		"tenant_id":    "t1",
		"description":  "chocolate cake",
	})
	return bytes.NewReader(payload)
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var decoded map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return decoded
}

func TestSubmitAccepted(t *testing.T) {
	api := newTestAPI()

	request := httptest.NewRequest(http.MethodPost, "/v1/generations", submitBody("r1"))
	recorder := httptest.NewRecorder()
	api.Generations(recorder, request)

	if recorder.Code != http.StatusAccepted {
		t.Fatalf("expected %d, got %d: %s", http.StatusAccepted, recorder.Code, recorder.Body.String())
	}
	response := decodeBody(t, recorder)
	if response["job_id"] == "" || response["job_id"] == nil {
		t.Error("expected a job_id in the response")
	}
	if response["position"] != float64(1) {
		t.Errorf("expected position 1, got %v", response["position"])
	}
}

func TestSubmitValidationErrorNamesFields(t *testing.T) {
	api := newTestAPI()

	payload, _ := json.Marshal(map[string]string{"tenant_id": "t1"})
	request := httptest.NewRequest(http.MethodPost, "/v1/generations", bytes.NewReader(payload))
	recorder := httptest.NewRecorder()
	api.Generations(recorder, request)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected %d, got %d", http.StatusBadRequest, recorder.Code)
	}
	body := recorder.Body.String()
	if !strings.Contains(body, "subject_ref") || !strings.Contains(body, "requester_id") {
		t.Errorf("error should name the missing fields, got %s", body)
	}
}

func TestSubmitBusySubjectConflicts(t *testing.T) {
	api := newTestAPI()

	first := httptest.NewRecorder()
	api.Generations(first, httptest.NewRequest(http.MethodPost, "/v1/generations", submitBody("r1")))
	if first.Code != http.StatusAccepted {
		t.Fatalf("first submit: %d", first.Code)
	}

	second := httptest.NewRecorder()
	api.Generations(second, httptest.NewRequest(http.MethodPost, "/v1/generations", submitBody("r1")))
	if second.Code != http.StatusConflict {
		t.Fatalf("expected %d for busy subject, got %d", http.StatusConflict, second.Code)
	}
}

func TestSubmitIdempotencyReplay(t *testing.T) {
	api := newTestAPI()

	first := httptest.NewRequest(http.MethodPost, "/v1/generations", submitBody("r1"))
	first.Header.Set("Idempotency-Key", "key-1")
	firstRecorder := httptest.NewRecorder()
	api.Generations(firstRecorder, first)
	if firstRecorder.Code != http.StatusAccepted {
		t.Fatalf("first submit: %d", firstRecorder.Code)
	}
	firstResponse := decodeBody(t, firstRecorder)

	replay := httptest.NewRequest(http.MethodPost, "/v1/generations", submitBody("r1"))
	replay.Header.Set("Idempotency-Key", "key-1")
	replayRecorder := httptest.NewRecorder()
	api.Generations(replayRecorder, replay)

	if replayRecorder.Code != http.StatusOK {
		t.Fatalf("expected %d for replay, got %d", http.StatusOK, replayRecorder.Code)
	}
	replayResponse := decodeBody(t, replayRecorder)
	if replayResponse["job_id"] != firstResponse["job_id"] {
		t.Errorf("replay should return the original job id")
	}
	if replayResponse["replayed"] != true {
		t.Errorf("replay should be flagged, got %v", replayResponse["replayed"])
	}

	conflicting := httptest.NewRequest(http.MethodPost, "/v1/generations", submitBody("r2"))
	conflicting.Header.Set("Idempotency-Key", "key-1")
	conflictRecorder := httptest.NewRecorder()
	api.Generations(conflictRecorder, conflicting)
	if conflictRecorder.Code != http.StatusConflict {
		t.Fatalf("expected %d for reused key with new payload, got %d", http.StatusConflict, conflictRecorder.Code)
	}
}

func TestGenerationStatusAndCancel(t *testing.T) {
	api := newTestAPI()

	submitRecorder := httptest.NewRecorder()
	api.Generations(submitRecorder, httptest.NewRequest(http.MethodPost, "/v1/generations", submitBody("r1")))
	jobID, _ := decodeBody(t, submitRecorder)["job_id"].(string)
	if jobID == "" {
		t.Fatal("submit did not return a job id")
	}

	status := httptest.NewRequest(http.MethodGet, "/v1/generations/"+jobID, nil)
	status.Header.Set("X-Requester-Id", "u1")
	statusRecorder := httptest.NewRecorder()
	api.Generation(statusRecorder, status)
	if statusRecorder.Code != http.StatusOK {
		t.Fatalf("status: expected %d, got %d", http.StatusOK, statusRecorder.Code)
	}
	if got := decodeBody(t, statusRecorder)["status"]; got != "queued" {
		t.Errorf("expected queued, got %v", got)
	}

	foreign := httptest.NewRequest(http.MethodGet, "/v1/generations/"+jobID, nil)
	foreign.Header.Set("X-Requester-Id", "intruder")
	foreignRecorder := httptest.NewRecorder()
	api.Generation(foreignRecorder, foreign)
	if foreignRecorder.Code != http.StatusNotFound {
		t.Fatalf("foreign requester: expected %d, got %d", http.StatusNotFound, foreignRecorder.Code)
	}

	cancel := httptest.NewRequest(http.MethodDelete, "/v1/generations/"+jobID, nil)
	cancel.Header.Set("X-Requester-Id", "u1")
	cancelRecorder := httptest.NewRecorder()
	api.Generation(cancelRecorder, cancel)
	if cancelRecorder.Code != http.StatusOK {
		t.Fatalf("cancel: expected %d, got %d", http.StatusOK, cancelRecorder.Code)
	}

	again := httptest.NewRequest(http.MethodDelete, "/v1/generations/"+jobID, nil)
	again.Header.Set("X-Requester-Id", "u1")
	againRecorder := httptest.NewRecorder()
	api.Generation(againRecorder, again)
	if againRecorder.Code != http.StatusConflict {
		t.Fatalf("second cancel: expected %d, got %d", http.StatusConflict, againRecorder.Code)
	}
}

func TestListStatusRequiresIdentity(t *testing.T) {
	api := newTestAPI()

	recorder := httptest.NewRecorder()
	api.Generations(recorder, httptest.NewRequest(http.MethodGet, "/v1/generations", nil))
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected %d, got %d", http.StatusBadRequest, recorder.Code)
	}

	listed := httptest.NewRequest(http.MethodGet, "/v1/generations?requester_id=u1&tenant_id=t1", nil)
	listRecorder := httptest.NewRecorder()
	api.Generations(listRecorder, listed)
	if listRecorder.Code != http.StatusOK {
		t.Fatalf("expected %d, got %d", http.StatusOK, listRecorder.Code)
	}
}

func TestAdminStats(t *testing.T) {
	api := newTestAPI()

	submitRecorder := httptest.NewRecorder()
	api.Generations(submitRecorder, httptest.NewRequest(http.MethodPost, "/v1/generations", submitBody("r1")))

	recorder := httptest.NewRecorder()
	api.AdminStats(recorder, httptest.NewRequest(http.MethodGet, "/v1/admin/stats", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected %d, got %d", http.StatusOK, recorder.Code)
	}
	response := decodeBody(t, recorder)
	counts, _ := response["counts"].(map[string]any)
	if counts["queued"] != float64(1) {
		t.Errorf("expected 1 queued, got %v", counts["queued"])
	}
}
