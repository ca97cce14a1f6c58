package app

import (
	"context"
	"sync"
	"time"

	"xquiz-funnel-service/internal/domain"
)

// SessionState tracks where a respondent run is in its lifecycle.
type SessionState string

const (
	StatePlaying    SessionState = "playing"
	StateSubmitting SessionState = "submitting"
	StateAnalyzing  SessionState = "analyzing"
	StateResult     SessionState = "result"
)

// EventKind discriminates session events pushed to subscribers.
type EventKind string

const (
	EventElement  EventKind = "element"
	EventProgress EventKind = "progress"
	EventResult   EventKind = "result"
)

// ElementView is the subscriber-facing snapshot of the current step.
type ElementView struct {
	Index      int            `json:"index"`
	Total      int            `json:"total"`
	Element    domain.Element `json:"element"`
	Answer     *domain.Answer `json:"answer,omitempty"`
	CanAdvance bool           `json:"canAdvance"`
	State      SessionState   `json:"state"`
}

// Event is a session update delivered to subscribers: a new current element,
// a progress tick during the analyzing transition, or the final outcome.
type Event struct {
	Kind    EventKind       `json:"kind"`
	Element *ElementView    `json:"element,omitempty"`
	Percent int             `json:"percent,omitempty"`
	Outcome *domain.Outcome `json:"outcome,omitempty"`
}

// contribution is one element's recorded effect on the running totals.
// Re-answering replaces the element's entry wholesale, so neither score nor
// tags double-count.
type contribution struct {
	answer domain.Answer
	score  float64
	tags   []string
}

// Session is the ephemeral state of a single respondent run. The quiz
// definition it holds is read-only input; all mutation is session-local.
type Session struct {
	id     string
	quiz   domain.Quiz
	utm    domain.UTM
	now    func() time.Time
	leadID string

	mu            sync.RWMutex
	state         SessionState
	index         int
	contributions map[string]contribution
	contact       domain.LeadContact
	outcome       *domain.Outcome
	cancelSim     context.CancelFunc
	webhookSent   bool
	subscribers   map[chan Event]struct{}
}

// NewSession starts a run at the first element.
func NewSession(id string, quiz domain.Quiz, utm domain.UTM) *Session {
	return NewSessionWithClock(id, quiz, utm, time.Now)
}

// NewSessionWithClock allows deterministic timestamps in tests.
func NewSessionWithClock(id string, quiz domain.Quiz, utm domain.UTM, now func() time.Time) *Session {
	return &Session{
		id:            id,
		quiz:          quiz,
		utm:           utm,
		now:           now,
		state:         StatePlaying,
		contributions: make(map[string]contribution),
		subscribers:   make(map[chan Event]struct{}),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Quiz returns the immutable definition this run walks.
func (s *Session) Quiz() domain.Quiz { return s.quiz }

// UTM returns the attribution captured at session start.
func (s *Session) UTM() domain.UTM { return s.utm }

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// CurrentIndex returns the current element index.
func (s *Session) CurrentIndex() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index
}

// CurrentElement returns the element at the current position.
func (s *Session) CurrentElement() (domain.Element, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentElementLocked()
}

func (s *Session) currentElementLocked() (domain.Element, bool) {
	if s.index < 0 || s.index >= len(s.quiz.Elements) {
		return domain.Element{}, false
	}
	return s.quiz.Elements[s.index], true
}

// SetAnswer records a raw answer and replaces the element's prior score/tag
// contribution. The caller-supplied tags are merged with the tags the
// scoring model derives from the element's own configuration.
func (s *Session) SetAnswer(elementID string, ans domain.Answer, tags []string) {
	idx := s.quiz.ElementByID(elementID)
	if idx < 0 {
		return
	}
	delta, modelTags := ApplyAnswer(s.quiz.Elements[idx], ans)

	s.mu.Lock()
	s.contributions[elementID] = contribution{
		answer: ans,
		score:  delta,
		tags:   mergeTags(modelTags, tags),
	}
	view := s.viewLocked()
	s.mu.Unlock()

	s.broadcast(Event{Kind: EventElement, Element: &view})
}

// SetContact records respondent-supplied lead form values.
func (s *Session) SetContact(contact domain.LeadContact) {
	s.mu.Lock()
	s.contact = contact
	view := s.viewLocked()
	s.mu.Unlock()
	s.broadcast(Event{Kind: EventElement, Element: &view})
}

// Contact returns the recorded lead form values.
func (s *Session) Contact() domain.LeadContact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.contact
}

// Answers returns a copy of the raw answer map keyed by element id.
func (s *Session) Answers() map[string]domain.Answer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.answersLocked()
}

func (s *Session) answersLocked() map[string]domain.Answer {
	answers := make(map[string]domain.Answer, len(s.contributions))
	for id, c := range s.contributions {
		answers[id] = c.answer
	}
	return answers
}

// Score returns the accumulated score across all answered elements.
func (s *Session) Score() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scoreLocked()
}

func (s *Session) scoreLocked() float64 {
	total := 0.0
	for _, c := range s.contributions {
		total += c.score
	}
	return total
}

// Tags returns the deduplicated union of tags across answered elements,
// in element order for stable output.
func (s *Session) Tags() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tagsLocked()
}

func (s *Session) tagsLocked() []string {
	var tags []string
	for _, el := range s.quiz.Elements {
		if c, ok := s.contributions[el.ID]; ok {
			tags = mergeTags(tags, c.tags)
		}
	}
	return tags
}

// CanAdvance reports whether the session may leave the current element:
// not required, already answered, a kind that never blocks, or a lead form
// with every configured field filled.
func (s *Session) CanAdvance() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.canAdvanceLocked()
}

func (s *Session) canAdvanceLocked() bool {
	el, ok := s.currentElementLocked()
	if !ok {
		return false
	}
	if !el.Required || el.Kind.AlwaysSatisfied() {
		return true
	}
	if _, answered := s.contributions[el.ID]; answered {
		return true
	}
	if el.Kind == domain.KindLeadForm {
		return s.contact.Filled(el.LeadFields())
	}
	return false
}

// MoveNext advances to the next element per the flow resolver and returns
// whether the position changed. A terminal position is a no-op.
func (s *Session) MoveNext() bool {
	s.mu.Lock()
	next, ok := ResolveNext(s.quiz, s.index, s.answersLocked())
	if ok {
		s.index = next
		s.state = StatePlaying
	}
	view := s.viewLocked()
	s.mu.Unlock()

	if ok {
		s.broadcast(Event{Kind: EventElement, Element: &view})
	}
	return ok
}

// Retreat steps back one position, clamping at the first element. Any
// in-flight analyzing run is canceled so its completion effects never fire.
func (s *Session) Retreat() {
	s.mu.Lock()
	s.cancelSimLocked()
	if s.index > 0 {
		s.index--
	}
	s.state = StatePlaying
	view := s.viewLocked()
	s.mu.Unlock()

	s.broadcast(Event{Kind: EventElement, Element: &view})
}

// BeginSubmitting marks the lead-form submission transition.
func (s *Session) BeginSubmitting() {
	s.setState(StateSubmitting)
}

// BeginAnalyzing transitions into the progress simulation, canceling any
// prior run first so at most one simulator is live per session.
func (s *Session) BeginAnalyzing(cancel context.CancelFunc) {
	s.mu.Lock()
	s.cancelSimLocked()
	s.cancelSim = cancel
	s.state = StateAnalyzing
	view := s.viewLocked()
	s.mu.Unlock()

	s.broadcast(Event{Kind: EventElement, Element: &view})
}

// CancelAnalyzing stops a pending simulation, if any.
func (s *Session) CancelAnalyzing() {
	s.mu.Lock()
	s.cancelSimLocked()
	s.mu.Unlock()
}

// CompleteAnalyzing claims the completion of a live analyzing run. It
// reports false when the run was canceled or superseded in the meantime, in
// which case none of the completion side effects may fire. The claim and the
// cancel func handoff happen in one critical section, so a concurrent
// Retreat or Leave either wins the cancellation or observes the completion,
// never both.
func (s *Session) CompleteAnalyzing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateAnalyzing || s.cancelSim == nil {
		return false
	}
	s.cancelSim = nil
	return true
}

func (s *Session) cancelSimLocked() {
	if s.cancelSim != nil {
		s.cancelSim()
		s.cancelSim = nil
	}
}

// ReportProgress pushes one simulator tick to subscribers.
func (s *Session) ReportProgress(percent int) {
	s.broadcast(Event{Kind: EventProgress, Percent: percent})
}

// FinalOutcome evaluates the result rules against the accumulated totals.
func (s *Session) FinalOutcome() domain.Outcome {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return EvaluateResult(s.scoreLocked(), s.tagsLocked(), s.quiz.ResultRules)
}

// Finish records the outcome, moves onto the result element and makes the
// terminal state visible to subscribers.
func (s *Session) Finish(outcome domain.Outcome) {
	s.mu.Lock()
	s.cancelSim = nil
	s.outcome = &outcome
	if next, ok := ResolveNext(s.quiz, s.index, s.answersLocked()); ok {
		s.index = next
	}
	s.state = StateResult
	s.mu.Unlock()

	s.broadcast(Event{Kind: EventResult, Outcome: &outcome})
}

// Outcome returns the recorded final outcome, if the session finished.
func (s *Session) Outcome() (domain.Outcome, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.outcome == nil {
		return domain.Outcome{}, false
	}
	return *s.outcome, true
}

// ClaimWebhookDispatch reports whether the caller is the first to dispatch
// the completion webhook for this session. Repeated terminal advances must
// not re-post the payload.
func (s *Session) ClaimWebhookDispatch() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.webhookSent {
		return false
	}
	s.webhookSent = true
	return true
}

// LeadID returns a stable lead identifier so the final write supersedes the
// shadow capture row.
func (s *Session) LeadID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.leadID
}

// SetLeadID pins the lead identifier on first capture.
func (s *Session) SetLeadID(id string) {
	s.mu.Lock()
	if s.leadID == "" {
		s.leadID = id
	}
	s.mu.Unlock()
}

func (s *Session) setState(state SessionState) {
	s.mu.Lock()
	s.state = state
	view := s.viewLocked()
	s.mu.Unlock()
	s.broadcast(Event{Kind: EventElement, Element: &view})
}

// View returns the subscriber-facing snapshot of the current position.
func (s *Session) View() ElementView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.viewLocked()
}

func (s *Session) viewLocked() ElementView {
	view := ElementView{
		Index:      s.index,
		Total:      len(s.quiz.Elements),
		State:      s.state,
		CanAdvance: s.canAdvanceLocked(),
	}
	if el, ok := s.currentElementLocked(); ok {
		view.Element = el
		if c, answered := s.contributions[el.ID]; answered {
			answer := c.answer
			view.Answer = &answer
		}
	}
	return view
}

// Subscribe returns a channel of session events plus a cancel func the
// caller must invoke to avoid leaks. The current view is delivered first.
func (s *Session) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 16)

	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	initial := s.viewLocked()
	s.mu.Unlock()

	ch <- Event{Kind: EventElement, Element: &initial}

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

func (s *Session) broadcast(event Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for ch := range s.subscribers {
		select {
		case ch <- event:
		default:
			// Drop the oldest pending event so slow consumers never block
			// the session.
			select {
			case <-ch:
			default:
			}
			ch <- event
		}
	}
}

func mergeTags(existing, added []string) []string {
	// Copy before appending: existing may alias the shared quiz definition
	// (decoded option tags often carry spare capacity), and sessions must
	// never write into it.
	merged := append([]string(nil), existing...)
	for _, tag := range added {
		if tag != "" && !containsTag(merged, tag) {
			merged = append(merged, tag)
		}
	}
	return merged
}
