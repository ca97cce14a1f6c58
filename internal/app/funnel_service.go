package app

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"xquiz-funnel-service/internal/domain"
)

// SessionRepository abstracts how live respondent sessions are stored.
type SessionRepository interface {
	Put(session *Session)
	Get(sessionID string) (*Session, bool)
	Delete(sessionID string)
}

// QuizRepository loads published quiz definitions (from cache/backing store).
type QuizRepository interface {
	GetQuizBySlug(ctx context.Context, slug string) (domain.Quiz, error)
}

// Tracker receives fire-and-forget analytics signals. Implementations
// swallow transport failures; the funnel never stalls on analytics.
type Tracker interface {
	RecordImpression(ctx context.Context, quizID string) error
	RecordCompletion(ctx context.Context, quizID string) error
	RecordDropOff(ctx context.Context, quizID, elementID string) error
}

// LeadWriter persists lead captures. The same lead id is written twice:
// first the partial shadow capture, then the completed record.
type LeadWriter interface {
	SaveLead(ctx context.Context, lead domain.Lead) error
}

// WebhookDispatcher posts the completion payload to a configured URL.
type WebhookDispatcher interface {
	Dispatch(ctx context.Context, url string, payload domain.WebhookPayload) error
}

// AdvanceResult tells the caller what Advance did and, at the terminal
// element, where to send the respondent.
type AdvanceResult struct {
	State       SessionState    `json:"state"`
	RedirectURL string          `json:"redirectUrl,omitempty"`
	Outcome     *domain.Outcome `json:"outcome,omitempty"`
}

// FunnelService drives respondent runs through published quiz funnels. It
// composes the flow resolver, scoring model, result evaluator and progress
// simulator, and delegates every side effect to injected collaborators so
// backend failures degrade to log lines instead of blocking the respondent.
type FunnelService struct {
	sessions SessionRepository
	quizzes  QuizRepository
	tracker  Tracker
	leads    LeadWriter
	webhooks WebhookDispatcher
	now      func() time.Time

	// simulatorTiming is swappable so tests can run the analyzing
	// transition without wall-clock waits.
	simulatorTiming SimulatorTiming
}

func NewFunnelService(sessions SessionRepository, quizzes QuizRepository, tracker Tracker, leads LeadWriter, webhooks WebhookDispatcher) *FunnelService {
	return &FunnelService{
		sessions:        sessions,
		quizzes:         quizzes,
		tracker:         tracker,
		leads:           leads,
		webhooks:        webhooks,
		now:             time.Now,
		simulatorTiming: defaultTiming(),
	}
}

// SetSimulatorTiming overrides the analyzing animation timing (tests).
func (s *FunnelService) SetSimulatorTiming(timing SimulatorTiming) {
	s.simulatorTiming = timing
}

// Start loads the quiz at slug, creates a fresh session at position 0 and
// records the impression. The impression fires before any answer can be
// recorded for the returned session id.
func (s *FunnelService) Start(ctx context.Context, slug string, utm domain.UTM) (*Session, error) {
	quiz, err := s.quizzes.GetQuizBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}

	session := NewSessionWithClock(uuid.NewString(), quiz, utm, s.now)
	s.sessions.Put(session)

	if err := s.tracker.RecordImpression(ctx, quiz.ID); err != nil {
		log.Printf("impression tracking failed for quiz %s: %v", quiz.ID, err)
	}
	return session, nil
}

// Get returns a live session by id.
func (s *FunnelService) Get(sessionID string) (*Session, error) {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return session, nil
}

// SetAnswer records an answer on the session. Unknown element ids are
// ignored; the funnel keeps moving.
func (s *FunnelService) SetAnswer(sessionID, elementID string, ans domain.Answer, tags []string) error {
	session, err := s.Get(sessionID)
	if err != nil {
		return err
	}
	if _, finished := session.Outcome(); finished {
		return domain.ErrSessionFinished
	}
	session.SetAnswer(elementID, ans, tags)
	return nil
}

// SetContact records lead-form values on the session.
func (s *FunnelService) SetContact(sessionID string, contact domain.LeadContact) error {
	session, err := s.Get(sessionID)
	if err != nil {
		return err
	}
	if _, finished := session.Outcome(); finished {
		return domain.ErrSessionFinished
	}
	session.SetContact(contact)
	return nil
}

// Advance moves the session forward. Lead forms trigger the shadow capture,
// fake-loading elements start the analyzing simulation, and the terminal
// element yields the outcome plus an optional redirect (webhook dispatched
// best-effort beforehand). Everything else is a plain flow-resolver move.
func (s *FunnelService) Advance(ctx context.Context, sessionID string) (AdvanceResult, error) {
	session, err := s.Get(sessionID)
	if err != nil {
		return AdvanceResult{}, err
	}
	if !session.CanAdvance() {
		return AdvanceResult{State: session.State()}, nil
	}

	el, ok := session.CurrentElement()
	if !ok {
		return AdvanceResult{State: session.State()}, nil
	}

	switch {
	case el.Kind == domain.KindLeadForm:
		session.BeginSubmitting()
		s.shadowCapture(ctx, session, el)
		session.MoveNext()
		return AdvanceResult{State: session.State()}, nil

	case el.Kind == domain.KindFakeLoading:
		s.startAnalyzing(session, el)
		return AdvanceResult{State: StateAnalyzing}, nil

	case el.Kind == domain.KindResult || session.CurrentIndex() == len(session.Quiz().Elements)-1:
		outcome, known := session.Outcome()
		if !known {
			outcome = session.FinalOutcome()
		}
		if outcome.RedirectURL != "" && session.ClaimWebhookDispatch() {
			s.dispatchWebhook(ctx, session, outcome)
		}
		return AdvanceResult{State: session.State(), RedirectURL: outcome.RedirectURL, Outcome: &outcome}, nil

	default:
		session.MoveNext()
		return AdvanceResult{State: session.State()}, nil
	}
}

// Retreat steps the session back one element; a no-op at position 0.
func (s *FunnelService) Retreat(sessionID string) error {
	session, err := s.Get(sessionID)
	if err != nil {
		return err
	}
	session.Retreat()
	return nil
}

// Subscribe streams session events; callers must invoke the cancel func.
func (s *FunnelService) Subscribe(sessionID string) (<-chan Event, func(), error) {
	session, err := s.Get(sessionID)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := session.Subscribe()
	return ch, cancel, nil
}

// Leave tears the session down. A run abandoned before completion records a
// drop-off at its current element and, when a shadow capture already exists,
// updates the partial lead with where the respondent stalled.
func (s *FunnelService) Leave(ctx context.Context, sessionID string) {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return
	}
	session.CancelAnalyzing()

	if _, finished := session.Outcome(); !finished {
		if el, ok := session.CurrentElement(); ok {
			if err := s.tracker.RecordDropOff(ctx, session.Quiz().ID, el.ID); err != nil {
				log.Printf("drop-off tracking failed for quiz %s: %v", session.Quiz().ID, err)
			}
			if session.LeadID() != "" {
				lead := domain.Lead{
					ID:             session.LeadID(),
					QuizID:         session.Quiz().ID,
					Contact:        session.Contact(),
					Answers:        session.Answers(),
					Score:          session.Score(),
					Tags:           session.Tags(),
					Profile:        "Partial",
					Completed:      false,
					UTM:            session.UTM(),
					DropOffElement: el.ID,
					CreatedAt:      s.now(),
				}
				if err := s.leads.SaveLead(ctx, lead); err != nil {
					log.Printf("partial lead update failed for quiz %s: %v", lead.QuizID, err)
				}
			}
		}
	}
	s.sessions.Delete(sessionID)
}

// shadowCapture persists the partial lead the moment the form is submitted,
// so abandoners between here and completion are not lost.
func (s *FunnelService) shadowCapture(ctx context.Context, session *Session, el domain.Element) {
	session.SetLeadID(uuid.NewString())
	lead := domain.Lead{
		ID:             session.LeadID(),
		QuizID:         session.Quiz().ID,
		Contact:        session.Contact(),
		Answers:        session.Answers(),
		Score:          session.Score(),
		Tags:           session.Tags(),
		Profile:        "Partial",
		Completed:      false,
		UTM:            session.UTM(),
		DropOffElement: el.ID,
		CreatedAt:      s.now(),
	}
	if err := s.leads.SaveLead(ctx, lead); err != nil {
		log.Printf("shadow lead capture failed for quiz %s: %v", lead.QuizID, err)
	}
}

func (s *FunnelService) startAnalyzing(session *Session, el domain.Element) {
	ctx, cancel := context.WithCancel(context.Background())
	session.BeginAnalyzing(cancel)

	sim := NewSimulatorForElement(el)
	sim.timing = s.simulatorTiming

	go sim.Run(ctx, s.now,
		func(percent int) { session.ReportProgress(percent) },
		func() { s.completeAnalyzing(session) },
	)
}

// completeAnalyzing runs the exactly-once completion effects: evaluate the
// outcome, write the completed lead, record the completion, then make the
// result state visible. The session claim guards the window between the
// simulator's context check and this call, where a retreat or leave may have
// already canceled the run.
func (s *FunnelService) completeAnalyzing(session *Session) {
	if !session.CompleteAnalyzing() {
		return
	}

	ctx := context.Background()
	outcome := session.FinalOutcome()

	session.SetLeadID(uuid.NewString())
	lead := domain.Lead{
		ID:        session.LeadID(),
		QuizID:    session.Quiz().ID,
		Contact:   session.Contact(),
		Answers:   session.Answers(),
		Score:     outcome.Score,
		Tags:      outcome.Tags,
		Profile:   outcome.Profile,
		Completed: true,
		UTM:       session.UTM(),
		CreatedAt: s.now(),
	}
	if err := s.leads.SaveLead(ctx, lead); err != nil {
		log.Printf("final lead write failed for quiz %s: %v", lead.QuizID, err)
	}
	if err := s.tracker.RecordCompletion(ctx, session.Quiz().ID); err != nil {
		log.Printf("completion tracking failed for quiz %s: %v", session.Quiz().ID, err)
	}

	session.Finish(outcome)
}

// dispatchWebhook posts the completion payload before the caller issues the
// redirect. Failures are logged, never surfaced.
func (s *FunnelService) dispatchWebhook(ctx context.Context, session *Session, outcome domain.Outcome) {
	url := session.Quiz().Tracking.WebhookURL
	if url == "" {
		return
	}

	contact := session.Contact()
	utm := session.UTM()
	payload := domain.WebhookPayload{
		QuizID:    session.Quiz().ID,
		QuizTitle: session.Quiz().Title,
		Lead: domain.WebhookLead{
			Name:     contact.Name,
			Email:    contact.Email,
			WhatsApp: contact.WhatsApp,
			Score:    outcome.Score,
			Tags:     outcome.Tags,
			Profile:  outcome.Profile,
		},
		Answers:   session.Answers(),
		Timestamp: s.now().UTC().Format(time.RFC3339),
		UTM: domain.WebhookUTM{
			Source:   nullable(utm.Source),
			Medium:   nullable(utm.Medium),
			Campaign: nullable(utm.Campaign),
		},
	}
	if err := s.webhooks.Dispatch(ctx, url, payload); err != nil {
		log.Printf("webhook dispatch failed for quiz %s: %v", session.Quiz().ID, err)
	}
}

func nullable(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
