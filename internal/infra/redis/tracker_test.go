package redis

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestTrackerIncrementsCounters(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	tracker := NewTracker(client)
	ctx := context.Background()

	_ = tracker.RecordImpression(ctx, "quiz-1")
	_ = tracker.RecordImpression(ctx, "quiz-1")
	_ = tracker.RecordCompletion(ctx, "quiz-1")
	_ = tracker.RecordDropOff(ctx, "quiz-1", "lead")
	_ = tracker.RecordDropOff(ctx, "quiz-1", "lead")

	if got, _ := mr.Get("funnel:quiz:quiz-1:impressions"); got != "2" {
		t.Fatalf("expected 2 impressions, got %q", got)
	}
	if got, _ := mr.Get("funnel:quiz:quiz-1:completions"); got != "1" {
		t.Fatalf("expected 1 completion, got %q", got)
	}
	if got := mr.HGet("funnel:quiz:quiz-1:dropoffs", "lead"); got != "2" {
		t.Fatalf("expected 2 drop-offs at lead, got %q", got)
	}
}
