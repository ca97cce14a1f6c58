package memory

import (
	"context"
	"sync"
)

// Tracker keeps analytics counters in process. Used when no Redis is
// configured and as the collaborator double in tests.
type Tracker struct {
	mu          sync.Mutex
	impressions map[string]int
	completions map[string]int
	dropOffs    map[string]map[string]int
}

func NewTracker() *Tracker {
	return &Tracker{
		impressions: make(map[string]int),
		completions: make(map[string]int),
		dropOffs:    make(map[string]map[string]int),
	}
}

func (t *Tracker) RecordImpression(_ context.Context, quizID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.impressions[quizID]++
	return nil
}

func (t *Tracker) RecordCompletion(_ context.Context, quizID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.completions[quizID]++
	return nil
}

func (t *Tracker) RecordDropOff(_ context.Context, quizID, elementID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dropOffs[quizID] == nil {
		t.dropOffs[quizID] = make(map[string]int)
	}
	t.dropOffs[quizID][elementID]++
	return nil
}

// Impressions returns the impression count for a quiz.
func (t *Tracker) Impressions(quizID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.impressions[quizID]
}

// Completions returns the completion count for a quiz.
func (t *Tracker) Completions(quizID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.completions[quizID]
}

// DropOffs returns the per-element drop-off counts for a quiz.
func (t *Tracker) DropOffs(quizID string) map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	counts := make(map[string]int, len(t.dropOffs[quizID]))
	for el, n := range t.dropOffs[quizID] {
		counts[el] = n
	}
	return counts
}
