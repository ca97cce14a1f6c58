package memory

import (
	"context"
	"sync"

	"xquiz-funnel-service/internal/domain"
)

// LeadStore is an in-memory lead writer with upsert semantics: writing the
// same lead id again replaces the row, so the completed record supersedes
// the shadow capture.
type LeadStore struct {
	mu    sync.RWMutex
	leads map[string]domain.Lead
}

func NewLeadStore() *LeadStore {
	return &LeadStore{leads: make(map[string]domain.Lead)}
}

func (s *LeadStore) SaveLead(_ context.Context, lead domain.Lead) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leads[lead.ID] = lead
	return nil
}

// LeadsByQuiz returns every stored lead for a quiz.
func (s *LeadStore) LeadsByQuiz(quizID string) []domain.Lead {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Lead
	for _, lead := range s.leads {
		if lead.QuizID == quizID {
			out = append(out, lead)
		}
	}
	return out
}

// Lead returns a stored lead by id.
func (s *LeadStore) Lead(id string) (domain.Lead, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lead, ok := s.leads[id]
	return lead, ok
}
