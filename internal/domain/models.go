package domain

import "time"

// ElementKind identifies one of the closed set of funnel step variants.
type ElementKind string

const (
	KindWelcome        ElementKind = "welcome"
	KindVideoAsk       ElementKind = "video-ask"
	KindMultipleChoice ElementKind = "multiple-choice"
	KindImageSelection ElementKind = "image-selection"
	KindRangeSlider    ElementKind = "range-slider"
	KindTextInput      ElementKind = "text-input"
	KindLeadForm       ElementKind = "lead-form"
	KindCountdown      ElementKind = "countdown"
	KindFakeLoading    ElementKind = "fake-loading"
	KindResult         ElementKind = "result"
)

// HasOptions reports whether the kind carries an option list.
func (k ElementKind) HasOptions() bool {
	return k == KindMultipleChoice || k == KindImageSelection
}

// AlwaysSatisfied reports whether the kind never blocks advancement,
// regardless of the element's required flag.
func (k ElementKind) AlwaysSatisfied() bool {
	return k == KindWelcome || k == KindFakeLoading || k == KindResult
}

// Option is a selectable answer for choice-style elements.
type Option struct {
	ID            string   `json:"id"`
	Text          string   `json:"text"`
	ImageURL      string   `json:"imageUrl,omitempty"`
	Points        int      `json:"points"`
	Tags          []string `json:"tags,omitempty"`
	NextElementID string   `json:"nextElementId,omitempty"`
}

// LeadField names a respondent detail collected by a lead form.
type LeadField string

const (
	FieldName     LeadField = "name"
	FieldEmail    LeadField = "email"
	FieldWhatsApp LeadField = "whatsapp"
)

// Element is one step in a quiz funnel.
type Element struct {
	ID          string      `json:"id"`
	Kind        ElementKind `json:"type"`
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	Required    bool        `json:"required"`
	Options     []Option    `json:"options,omitempty"`

	// Range slider configuration; zero values take the documented defaults
	// (min 0, max 100, step 1, weight 1).
	Min         float64 `json:"min,omitempty"`
	Max         float64 `json:"max,omitempty"`
	Step        float64 `json:"step,omitempty"`
	ScoreWeight float64 `json:"scoreWeight,omitempty"`

	// Lead form fields; empty means all of name/email/whatsapp.
	Fields []LeadField `json:"fields,omitempty"`

	// Fake loading: nominal first-phase duration in milliseconds and the
	// percentage where the simulator pauses before the final ramp.
	DurationMs int `json:"duration,omitempty"`
	PauseAt    int `json:"pauseAt,omitempty"`

	// Result element copy.
	ResultTitle       string `json:"resultTitle,omitempty"`
	ResultDescription string `json:"resultDescription,omitempty"`

	// Default branch target. Option-level targets take priority.
	NextElementID string `json:"nextElementId,omitempty"`
}

// SliderMax returns the configured slider ceiling, defaulting to 100.
func (e Element) SliderMax() float64 {
	if e.Max == 0 {
		return 100
	}
	return e.Max
}

// SliderWeight returns the score multiplier for slider answers, defaulting to 1.
func (e Element) SliderWeight() float64 {
	if e.ScoreWeight == 0 {
		return 1
	}
	return e.ScoreWeight
}

// LeadFields returns the configured lead-form fields, defaulting to all three.
func (e Element) LeadFields() []LeadField {
	if len(e.Fields) > 0 {
		return e.Fields
	}
	return []LeadField{FieldName, FieldEmail, FieldWhatsApp}
}

// ConditionKind discriminates result rule conditions.
type ConditionKind string

const (
	ConditionScore ConditionKind = "score"
	ConditionTags  ConditionKind = "tags"
)

// RuleCondition is the tagged union behind a result rule.
type RuleCondition struct {
	Kind         ConditionKind `json:"type"`
	MinScore     float64       `json:"minScore,omitempty"`
	MaxScore     float64       `json:"maxScore,omitempty"`
	RequiredTags []string      `json:"requiredTags,omitempty"`
}

// ResultRule maps accumulated score/tags to an outcome. Rules are kept in
// author order and evaluated first-match-wins.
type ResultRule struct {
	ID          string        `json:"id"`
	Condition   RuleCondition `json:"condition"`
	Title       string        `json:"title,omitempty"`
	Description string        `json:"description,omitempty"`
	Profile     string        `json:"profile"`
	RedirectURL string        `json:"redirectUrl,omitempty"`
}

// TrackingConfig carries the tracking knobs the engine cares about.
// Pixel IDs are passed through for the client; only the webhook URL is
// acted on server-side.
type TrackingConfig struct {
	FacebookPixelID string `json:"facebookPixelId,omitempty"`
	TikTokPixelID   string `json:"tiktokPixelId,omitempty"`
	GTMID           string `json:"gtmId,omitempty"`
	WebhookURL      string `json:"webhookUrl,omitempty"`
}

// Quiz is a published funnel definition: already validated, read-only input
// to a session.
type Quiz struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Slug        string         `json:"slug"`
	Elements    []Element      `json:"elements"`
	ResultRules []ResultRule   `json:"resultRules"`
	Tracking    TrackingConfig `json:"tracking"`
	IsPublished bool           `json:"isPublished"`
}

// ElementByID resolves an element id to its index, or -1 when absent.
func (q Quiz) ElementByID(id string) int {
	if id == "" {
		return -1
	}
	for i := range q.Elements {
		if q.Elements[i].ID == id {
			return i
		}
	}
	return -1
}

// Answer is a recorded response: an option id, a slider number, or free text.
type Answer struct {
	OptionID string  `json:"optionId,omitempty"`
	Number   float64 `json:"number,omitempty"`
	Text     string  `json:"text,omitempty"`
}

// UTM is the attribution triple read from the landing query string.
type UTM struct {
	Source   string `json:"source,omitempty"`
	Medium   string `json:"medium,omitempty"`
	Campaign string `json:"campaign,omitempty"`
}

// LeadContact is the respondent-supplied identity from a lead form.
type LeadContact struct {
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
	WhatsApp string `json:"whatsapp,omitempty"`
}

// Filled reports whether every listed field has a value.
func (c LeadContact) Filled(fields []LeadField) bool {
	for _, f := range fields {
		switch f {
		case FieldName:
			if c.Name == "" {
				return false
			}
		case FieldEmail:
			if c.Email == "" {
				return false
			}
		case FieldWhatsApp:
			if c.WhatsApp == "" {
				return false
			}
		}
	}
	return true
}

// Outcome is the computed end state of a session.
type Outcome struct {
	Score       float64  `json:"score"`
	Tags        []string `json:"tags"`
	Profile     string   `json:"profile"`
	RedirectURL string   `json:"redirectUrl,omitempty"`
}

// Lead is the persisted respondent record. A partial capture carries
// Completed=false and the element where the respondent stalled; the final
// write supersedes it with Completed=true.
type Lead struct {
	ID             string            `json:"id"`
	QuizID         string            `json:"quizId"`
	Contact        LeadContact       `json:"contact"`
	Answers        map[string]Answer `json:"answers"`
	Score          float64           `json:"score"`
	Tags           []string          `json:"tags"`
	Profile        string            `json:"profile"`
	Completed      bool              `json:"completed"`
	UTM            UTM               `json:"utm"`
	DropOffElement string            `json:"dropOffElement,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
}

// WebhookPayload is the JSON body POSTed to a configured webhook. Field
// shapes mirror what downstream automations already consume.
type WebhookPayload struct {
	QuizID    string            `json:"quizId"`
	QuizTitle string            `json:"quizTitle"`
	Lead      WebhookLead       `json:"lead"`
	Answers   map[string]Answer `json:"answers"`
	Timestamp string            `json:"timestamp"`
	UTM       WebhookUTM        `json:"utm"`
}

// WebhookLead flattens contact and outcome for the webhook body.
type WebhookLead struct {
	Name     string   `json:"name,omitempty"`
	Email    string   `json:"email,omitempty"`
	WhatsApp string   `json:"whatsapp,omitempty"`
	Score    float64  `json:"score"`
	Tags     []string `json:"tags"`
	Profile  string   `json:"profile"`
}

// WebhookUTM uses pointers so absent attribution serializes as null.
type WebhookUTM struct {
	Source   *string `json:"source"`
	Medium   *string `json:"medium"`
	Campaign *string `json:"campaign"`
}
