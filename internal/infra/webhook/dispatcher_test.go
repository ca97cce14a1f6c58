package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"xquiz-funnel-service/internal/domain"
)

func TestDispatcherPostsPayload(t *testing.T) {
	received := make(chan domain.WebhookPayload, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected json content type, got %q", ct)
		}
		var payload domain.WebhookPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		received <- payload
	}))
	defer server.Close()

	d := NewDispatcher(time.Second)
	source := "fb"
	payload := domain.WebhookPayload{
		QuizID:    "quiz-1",
		QuizTitle: "Funnel",
		Lead:      domain.WebhookLead{Name: "Ana", Score: 30, Profile: "High"},
		Timestamp: "2025-08-11T12:00:00Z",
		UTM:       domain.WebhookUTM{Source: &source},
	}
	if err := d.Dispatch(context.Background(), server.URL, payload); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	got := <-received
	if got.QuizID != "quiz-1" || got.Lead.Profile != "High" {
		t.Fatalf("unexpected payload: %+v", got)
	}
	if got.UTM.Source == nil || *got.UTM.Source != "fb" {
		t.Fatalf("expected utm source, got %+v", got.UTM)
	}
	if got.UTM.Medium != nil {
		t.Fatalf("absent utm medium must arrive as null")
	}
}

func TestDispatcherReportsBadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	d := NewDispatcher(time.Second)
	if err := d.Dispatch(context.Background(), server.URL, domain.WebhookPayload{}); err == nil {
		t.Fatalf("expected error for 502 response")
	}
}
