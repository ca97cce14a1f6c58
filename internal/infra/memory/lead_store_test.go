package memory

import (
	"context"
	"testing"

	"xquiz-funnel-service/internal/domain"
)

func TestLeadStoreUpserts(t *testing.T) {
	store := NewLeadStore()
	ctx := context.Background()

	partial := domain.Lead{ID: "l1", QuizID: "quiz-1", Profile: "Partial", Completed: false}
	if err := store.SaveLead(ctx, partial); err != nil {
		t.Fatalf("save partial: %v", err)
	}

	final := partial
	final.Profile = "High"
	final.Completed = true
	if err := store.SaveLead(ctx, final); err != nil {
		t.Fatalf("save final: %v", err)
	}

	stored, ok := store.Lead("l1")
	if !ok {
		t.Fatalf("expected lead present")
	}
	if !stored.Completed || stored.Profile != "High" {
		t.Fatalf("final write must supersede partial, got %+v", stored)
	}
	if got := len(store.LeadsByQuiz("quiz-1")); got != 1 {
		t.Fatalf("expected one row after upsert, got %d", got)
	}
}
