package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kozaktomas/face-ballot/internal/voting"
)

func TestRespondJSON_SetsStatusAndContentType(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
	}{
		{"OK", http.StatusOK},
		{"BadRequest", http.StatusBadRequest},
		{"TooManyRequests", http.StatusTooManyRequests},
		{"InternalServerError", http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			respondJSON(recorder, tc.statusCode, map[string]string{"status": "ok"})

			assertStatusCode(t, recorder, tc.statusCode)
			assertContentType(t, recorder, "application/json")
		})
	}
}

func TestRespondJSON_NilData(t *testing.T) {
	recorder := httptest.NewRecorder()

	respondJSON(recorder, http.StatusOK, nil)

	if recorder.Body.Len() != 0 {
		t.Errorf("expected empty body for nil data, got '%s'", recorder.Body.String())
	}
}

func TestRespondError_OmitsCode(t *testing.T) {
	recorder := httptest.NewRecorder()

	respondError(recorder, http.StatusBadRequest, "something went wrong")

	var result map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if result["error"] != "something went wrong" {
		t.Errorf("expected error message, got %v", result["error"])
	}
	if _, ok := result["code"]; ok {
		t.Errorf("expected no code, got %v", result["code"])
	}
}

func TestRespondVotingError(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		err        error
		wantStatus int
		wantCode   string
	}{
		{"already voted", http.StatusBadRequest, fmt.Errorf("%w: face abc", voting.ErrAlreadyVoted), http.StatusBadRequest, "already_voted"},
		{"no face", http.StatusBadRequest, voting.ErrNoFaceDetected, http.StatusBadRequest, "no_face_detected"},
		{"session build", http.StatusBadRequest, fmt.Errorf("%w: dial failed", voting.ErrNotInitialized), http.StatusInternalServerError, "not_initialized"},
		{"admin mismatch", http.StatusBadRequest, fmt.Errorf("%w: %w", voting.ErrNotInitialized, voting.ErrAdminMismatch), http.StatusInternalServerError, "admin_mismatch"},
		{"unknown", http.StatusBadRequest, errors.New("boom"), http.StatusBadRequest, "internal"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			respondVotingError(recorder, tc.status, tc.err)

			assertStatusCode(t, recorder, tc.wantStatus)
			assertErrorCode(t, recorder, tc.wantCode)
			assertJSONError(t, recorder, tc.err.Error())
		})
	}
}

func TestDecodeJSON_BodyLimit(t *testing.T) {
	var req AddProposalRequest
	body := `{"description": "` + strings.Repeat("a", 200) + `"}`
	r := httptest.NewRequest("POST", "/api/proposals", strings.NewReader(body))

	err := decodeJSON(httptest.NewRecorder(), r, 64, &req)
	if err == nil || err.Error() != errInvalidRequestBody {
		t.Errorf("expected %q, got %v", errInvalidRequestBody, err)
	}
}

func TestHealthCheck(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/health", nil)
	recorder := httptest.NewRecorder()

	HealthCheck(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)
	var result map[string]string
	parseJSONResponse(t, recorder, &result)
	if result["status"] != "ok" {
		t.Errorf("expected status 'ok', got '%s'", result["status"])
	}
}
