package app_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"xquiz-funnel-service/internal/app"
	"xquiz-funnel-service/internal/domain"
	"xquiz-funnel-service/internal/infra/memory"
)

func funnelQuiz() domain.Quiz {
	return domain.Quiz{
		ID:          "quiz-1",
		Title:       "Profile quiz",
		Slug:        "funnel",
		IsPublished: true,
		Elements: []domain.Element{
			{ID: "welcome", Kind: domain.KindWelcome},
			{
				ID:       "q1",
				Kind:     domain.KindMultipleChoice,
				Required: true,
				Options: []domain.Option{
					{ID: "optA", Points: 10, Tags: []string{"x"}},
					{ID: "optB", Points: 30, Tags: []string{"y"}},
				},
			},
			{ID: "lead", Kind: domain.KindLeadForm, Required: true},
			{ID: "loading", Kind: domain.KindFakeLoading, PauseAt: 85},
			{ID: "result", Kind: domain.KindResult},
		},
		ResultRules: []domain.ResultRule{
			{ID: "r1", Condition: domain.RuleCondition{Kind: domain.ConditionScore, MinScore: 0, MaxScore: 20}, Profile: "Low"},
			{ID: "r2", Condition: domain.RuleCondition{Kind: domain.ConditionScore, MinScore: 21, MaxScore: 100}, Profile: "High"},
		},
	}
}

type recordingLeadWriter struct {
	mu    sync.Mutex
	leads []domain.Lead
}

func (w *recordingLeadWriter) SaveLead(_ context.Context, lead domain.Lead) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.leads = append(w.leads, lead)
	return nil
}

func (w *recordingLeadWriter) all() []domain.Lead {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]domain.Lead(nil), w.leads...)
}

type recordingDispatcher struct {
	mu       sync.Mutex
	urls     []string
	payloads []domain.WebhookPayload
}

func (d *recordingDispatcher) Dispatch(_ context.Context, url string, payload domain.WebhookPayload) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, url)
	d.payloads = append(d.payloads, payload)
	return nil
}

type fixture struct {
	service *app.FunnelService
	tracker *memory.Tracker
	leads   *recordingLeadWriter
	hooks   *recordingDispatcher
}

func newFixture(quiz domain.Quiz) fixture {
	tracker := memory.NewTracker()
	leads := &recordingLeadWriter{}
	hooks := &recordingDispatcher{}
	repo := memory.NewQuizRepository(memory.NewStaticQuizLoader(map[string]domain.Quiz{quiz.Slug: quiz}), 5*time.Minute)
	service := app.NewFunnelService(memory.NewSessionStore(), repo, tracker, leads, hooks)
	service.SetSimulatorTiming(app.SimulatorTiming{RampTick: time.Millisecond, FinalTick: time.Millisecond, Dwell: 0})
	return fixture{service: service, tracker: tracker, leads: leads, hooks: hooks}
}

func waitForResult(t *testing.T, events <-chan app.Event) domain.Outcome {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case event := <-events:
			if event.Kind == app.EventResult {
				return *event.Outcome
			}
		case <-deadline:
			t.Fatalf("timed out waiting for result event")
		}
	}
}

func runFunnel(t *testing.T, f fixture, optionID string) (*app.Session, domain.Outcome) {
	t.Helper()
	ctx := context.Background()

	session, err := f.service.Start(ctx, "funnel", domain.UTM{Source: "fb", Campaign: "launch"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	events, cancel, err := f.service.Subscribe(session.ID())
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	if _, err := f.service.Advance(ctx, session.ID()); err != nil {
		t.Fatalf("advance welcome: %v", err)
	}
	if err := f.service.SetAnswer(session.ID(), "q1", domain.Answer{OptionID: optionID}, nil); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if _, err := f.service.Advance(ctx, session.ID()); err != nil {
		t.Fatalf("advance question: %v", err)
	}
	if err := f.service.SetContact(session.ID(), domain.LeadContact{Name: "Ana", Email: "ana@example.com", WhatsApp: "+5511999"}); err != nil {
		t.Fatalf("contact: %v", err)
	}
	if _, err := f.service.Advance(ctx, session.ID()); err != nil {
		t.Fatalf("advance lead form: %v", err)
	}
	result, err := f.service.Advance(ctx, session.ID())
	if err != nil {
		t.Fatalf("advance fake loading: %v", err)
	}
	if result.State != app.StateAnalyzing {
		t.Fatalf("expected analyzing state, got %s", result.State)
	}

	return session, waitForResult(t, events)
}

func TestFullFunnelHighProfile(t *testing.T) {
	f := newFixture(funnelQuiz())
	session, outcome := runFunnel(t, f, "optB")

	if outcome.Score != 30 || outcome.Profile != "High" {
		t.Fatalf("expected score 30 / High, got %v / %s", outcome.Score, outcome.Profile)
	}
	if session.State() != app.StateResult {
		t.Fatalf("expected result state, got %s", session.State())
	}
	if el, _ := session.CurrentElement(); el.ID != "result" {
		t.Fatalf("expected to land on result element, got %s", el.ID)
	}

	leads := f.leads.all()
	if len(leads) != 2 {
		t.Fatalf("expected shadow + final lead writes, got %d", len(leads))
	}
	shadow, final := leads[0], leads[1]
	if shadow.Completed || shadow.Profile != "Partial" || shadow.DropOffElement != "lead" {
		t.Fatalf("unexpected shadow capture: %+v", shadow)
	}
	if !final.Completed || final.Profile != "High" || final.Score != 30 {
		t.Fatalf("unexpected final lead: %+v", final)
	}
	if shadow.ID != final.ID {
		t.Fatalf("final write must supersede the shadow row: %s vs %s", shadow.ID, final.ID)
	}
	if final.UTM.Source != "fb" || final.UTM.Campaign != "launch" {
		t.Fatalf("expected UTM threaded through, got %+v", final.UTM)
	}

	if f.tracker.Impressions("quiz-1") != 1 {
		t.Fatalf("expected exactly one impression, got %d", f.tracker.Impressions("quiz-1"))
	}
	if f.tracker.Completions("quiz-1") != 1 {
		t.Fatalf("expected exactly one completion, got %d", f.tracker.Completions("quiz-1"))
	}
}

func TestFullFunnelLowProfile(t *testing.T) {
	f := newFixture(funnelQuiz())
	_, outcome := runFunnel(t, f, "optA")

	if outcome.Score != 10 || outcome.Profile != "Low" {
		t.Fatalf("expected score 10 / Low, got %v / %s", outcome.Score, outcome.Profile)
	}
}

func TestOptionBranchSkipsLeadCapture(t *testing.T) {
	quiz := funnelQuiz()
	quiz.Elements[1].Options = append(quiz.Elements[1].Options,
		domain.Option{ID: "optSkip", Points: 50, NextElementID: "result"})
	f := newFixture(quiz)
	ctx := context.Background()

	session, err := f.service.Start(ctx, "funnel", domain.UTM{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	_, _ = f.service.Advance(ctx, session.ID())
	_ = f.service.SetAnswer(session.ID(), "q1", domain.Answer{OptionID: "optSkip"}, nil)
	if _, err := f.service.Advance(ctx, session.ID()); err != nil {
		t.Fatalf("advance: %v", err)
	}

	if el, _ := session.CurrentElement(); el.ID != "result" {
		t.Fatalf("expected jump straight to result, got %s", el.ID)
	}
	if len(f.leads.all()) != 0 {
		t.Fatalf("lead capture must be bypassed, got %d writes", len(f.leads.all()))
	}
}

func TestTerminalAdvanceDispatchesWebhookBeforeRedirect(t *testing.T) {
	quiz := funnelQuiz()
	quiz.Tracking.WebhookURL = "https://hooks.example/quiz"
	quiz.ResultRules[1].RedirectURL = "https://offer.example"
	f := newFixture(quiz)

	session, _ := runFunnel(t, f, "optB")

	result, err := f.service.Advance(context.Background(), session.ID())
	if err != nil {
		t.Fatalf("terminal advance: %v", err)
	}
	if result.RedirectURL != "https://offer.example" {
		t.Fatalf("expected redirect URL, got %q", result.RedirectURL)
	}

	f.hooks.mu.Lock()
	defer f.hooks.mu.Unlock()
	if len(f.hooks.payloads) != 1 {
		t.Fatalf("expected one webhook dispatch, got %d", len(f.hooks.payloads))
	}
	payload := f.hooks.payloads[0]
	if payload.QuizID != "quiz-1" || payload.Lead.Profile != "High" || payload.Lead.Name != "Ana" {
		t.Fatalf("unexpected webhook payload: %+v", payload)
	}
	if payload.UTM.Source == nil || *payload.UTM.Source != "fb" {
		t.Fatalf("expected utm source in payload")
	}
	if payload.UTM.Medium != nil {
		t.Fatalf("absent utm medium must serialize as null")
	}
	if f.hooks.urls[0] != "https://hooks.example/quiz" {
		t.Fatalf("unexpected webhook url %q", f.hooks.urls[0])
	}
}

func TestRepeatedTerminalAdvanceDispatchesOnce(t *testing.T) {
	quiz := funnelQuiz()
	quiz.Tracking.WebhookURL = "https://hooks.example/quiz"
	quiz.ResultRules[1].RedirectURL = "https://offer.example"
	f := newFixture(quiz)

	session, _ := runFunnel(t, f, "optB")

	for i := 0; i < 3; i++ {
		result, err := f.service.Advance(context.Background(), session.ID())
		if err != nil {
			t.Fatalf("terminal advance %d: %v", i, err)
		}
		if result.RedirectURL != "https://offer.example" {
			t.Fatalf("terminal advance %d lost redirect, got %q", i, result.RedirectURL)
		}
	}

	f.hooks.mu.Lock()
	defer f.hooks.mu.Unlock()
	if len(f.hooks.payloads) != 1 {
		t.Fatalf("expected a single webhook dispatch across repeated advances, got %d", len(f.hooks.payloads))
	}
}

func TestLeaveRecordsDropOff(t *testing.T) {
	f := newFixture(funnelQuiz())
	ctx := context.Background()

	session, err := f.service.Start(ctx, "funnel", domain.UTM{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	_, _ = f.service.Advance(ctx, session.ID())
	f.service.Leave(ctx, session.ID())

	if got := f.tracker.DropOffs("quiz-1")["q1"]; got != 1 {
		t.Fatalf("expected drop-off recorded at q1, got %d", got)
	}
	if _, err := f.service.Get(session.ID()); err != domain.ErrSessionNotFound {
		t.Fatalf("expected session removed, got %v", err)
	}
}

func TestLeaveAfterShadowCaptureUpdatesPartialLead(t *testing.T) {
	f := newFixture(funnelQuiz())
	ctx := context.Background()

	session, err := f.service.Start(ctx, "funnel", domain.UTM{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	_, _ = f.service.Advance(ctx, session.ID())
	_ = f.service.SetAnswer(session.ID(), "q1", domain.Answer{OptionID: "optA"}, nil)
	_, _ = f.service.Advance(ctx, session.ID())
	_ = f.service.SetContact(session.ID(), domain.LeadContact{Name: "A", Email: "a@b.c", WhatsApp: "1"})
	if _, err := f.service.Advance(ctx, session.ID()); err != nil {
		t.Fatalf("advance lead form: %v", err)
	}

	f.service.Leave(ctx, session.ID())

	leads := f.leads.all()
	if len(leads) != 2 {
		t.Fatalf("expected shadow capture + abandonment update, got %d writes", len(leads))
	}
	update := leads[1]
	if update.ID != leads[0].ID {
		t.Fatalf("abandonment update must reuse the shadow lead id")
	}
	if update.Completed || update.Profile != "Partial" || update.DropOffElement != "loading" {
		t.Fatalf("unexpected abandonment update: %+v", update)
	}
}

func TestFinishedSessionRejectsMutation(t *testing.T) {
	f := newFixture(funnelQuiz())
	session, _ := runFunnel(t, f, "optB")

	if err := f.service.SetAnswer(session.ID(), "q1", domain.Answer{OptionID: "optA"}, nil); err != domain.ErrSessionFinished {
		t.Fatalf("expected ErrSessionFinished, got %v", err)
	}
	if err := f.service.SetContact(session.ID(), domain.LeadContact{Name: "B"}); err != domain.ErrSessionFinished {
		t.Fatalf("expected ErrSessionFinished for contact, got %v", err)
	}
}

func TestStartUnknownSlug(t *testing.T) {
	f := newFixture(funnelQuiz())
	if _, err := f.service.Start(context.Background(), "missing", domain.UTM{}); err != domain.ErrQuizNotFound {
		t.Fatalf("expected ErrQuizNotFound, got %v", err)
	}
}

func TestRetreatDuringAnalyzingCancelsCompletion(t *testing.T) {
	f := newFixture(funnelQuiz())
	// Slow the simulator down so the retreat lands mid-run.
	f.service.SetSimulatorTiming(app.SimulatorTiming{RampTick: 50 * time.Millisecond, FinalTick: 50 * time.Millisecond, Dwell: time.Second})
	ctx := context.Background()

	session, err := f.service.Start(ctx, "funnel", domain.UTM{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	_, _ = f.service.Advance(ctx, session.ID())
	_ = f.service.SetAnswer(session.ID(), "q1", domain.Answer{OptionID: "optA"}, nil)
	_, _ = f.service.Advance(ctx, session.ID())
	_ = f.service.SetContact(session.ID(), domain.LeadContact{Name: "A", Email: "a@b.c", WhatsApp: "1"})
	_, _ = f.service.Advance(ctx, session.ID())
	if _, err := f.service.Advance(ctx, session.ID()); err != nil {
		t.Fatalf("advance loading: %v", err)
	}

	if err := f.service.Retreat(session.ID()); err != nil {
		t.Fatalf("retreat: %v", err)
	}

	time.Sleep(300 * time.Millisecond)
	if f.tracker.Completions("quiz-1") != 0 {
		t.Fatalf("completion effects fired after cancellation")
	}
	if _, finished := session.Outcome(); finished {
		t.Fatalf("session must not finish after cancellation")
	}
}
