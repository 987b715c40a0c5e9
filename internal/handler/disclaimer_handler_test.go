package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/memberportal/internal/disclaimer"
	"github.com/hitoshi/memberportal/internal/model"
)

// --- GET /api/disclaimerAcceptance テスト ---

func TestDisclaimerHandler_GetStatus_Success(t *testing.T) {
	acceptedAt := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	var gotUserID, gotEmail string
	svc := &mockDisclaimerService{
		statusFn: func(ctx context.Context, userID, email string) (*disclaimer.Status, error) {
			gotUserID, gotEmail = userID, email
			return &disclaimer.Status{NeedsDisclaimer: false, LastAcceptedAt: &acceptedAt}, nil
		},
	}
	h := NewDisclaimerHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/disclaimerAcceptance?userId=user-123&email=member%40example.org", nil)
	w := httptest.NewRecorder()
	h.GetStatus(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotUserID != "user-123" || gotEmail != "member@example.org" {
		t.Errorf("Status called with (%q, %q)", gotUserID, gotEmail)
	}

	var raw map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&raw); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if raw["needsDisclaimer"] != false {
		t.Errorf("needsDisclaimer = %v, want false", raw["needsDisclaimer"])
	}
	if raw["lastAcceptedAt"] != "2026-02-01T09:00:00Z" {
		t.Errorf("lastAcceptedAt = %v", raw["lastAcceptedAt"])
	}
}

func TestDisclaimerHandler_GetStatus_NeverAcceptedHasNullTimestamp(t *testing.T) {
	h := NewDisclaimerHandler(&mockDisclaimerService{})

	req := httptest.NewRequest(http.MethodGet, "/api/disclaimerAcceptance?email=member%40example.org", nil)
	w := httptest.NewRecorder()
	h.GetStatus(w, req)

	var raw map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&raw); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if raw["needsDisclaimer"] != true {
		t.Errorf("needsDisclaimer = %v, want true", raw["needsDisclaimer"])
	}
	v, ok := raw["lastAcceptedAt"]
	if !ok || v != nil {
		t.Errorf("lastAcceptedAt = %v (present=%v), want null", v, ok)
	}
}

func TestDisclaimerHandler_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "no identifiers", err: model.NewMissingFieldsError("userId", "email"), wantStatus: http.StatusBadRequest},
		{name: "user not found", err: model.NewUserNotFoundError(), wantStatus: http.StatusNotFound},
		{name: "store failure", err: context.DeadlineExceeded, wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockDisclaimerService{
				statusFn: func(ctx context.Context, userID, email string) (*disclaimer.Status, error) {
					return nil, tt.err
				},
				acceptFn: func(ctx context.Context, userID, email string) (time.Time, error) {
					return time.Time{}, tt.err
				},
			}
			h := NewDisclaimerHandler(svc)

			w := httptest.NewRecorder()
			h.GetStatus(w, httptest.NewRequest(http.MethodGet, "/api/disclaimerAcceptance", nil))
			if w.Code != tt.wantStatus {
				t.Errorf("GET status = %d, want %d", w.Code, tt.wantStatus)
			}

			w = httptest.NewRecorder()
			h.Accept(w, httptest.NewRequest(http.MethodPost, "/api/disclaimerAcceptance", strings.NewReader(`{}`)))
			if w.Code != tt.wantStatus {
				t.Errorf("POST status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

// --- POST /api/disclaimerAcceptance テスト ---

func TestDisclaimerHandler_Accept_Success(t *testing.T) {
	acceptedAt := time.Date(2026, 3, 10, 12, 30, 0, 0, time.UTC)
	var gotEmail string
	svc := &mockDisclaimerService{
		acceptFn: func(ctx context.Context, userID, email string) (time.Time, error) {
			gotEmail = email
			return acceptedAt, nil
		},
	}
	h := NewDisclaimerHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/disclaimerAcceptance", strings.NewReader(`{"email":" member@example.org "}`))
	w := httptest.NewRecorder()
	h.Accept(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotEmail != "member@example.org" {
		t.Errorf("email = %q, want trimmed value", gotEmail)
	}

	var resp acceptDisclaimerResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if !resp.Success || !resp.AcceptedAt.Equal(acceptedAt) {
		t.Errorf("response = %+v", resp)
	}
}

func TestDisclaimerHandler_Accept_InvalidJSON(t *testing.T) {
	h := NewDisclaimerHandler(&mockDisclaimerService{})

	w := httptest.NewRecorder()
	h.Accept(w, httptest.NewRequest(http.MethodPost, "/api/disclaimerAcceptance", strings.NewReader("")))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}
