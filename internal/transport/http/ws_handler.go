package http

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"xquiz-funnel-service/internal/app"
	"xquiz-funnel-service/internal/domain"
)

// WSHandler drives one respondent session per websocket connection.
type WSHandler struct {
	service  *app.FunnelService
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.FunnelService) *WSHandler {
	return &WSHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	ElementID string   `json:"elementId"`
	OptionID  string   `json:"optionId,omitempty"`
	Number    float64  `json:"number,omitempty"`
	Text      string   `json:"text,omitempty"`
	Tags      []string `json:"tags,omitempty"`
}

type leadPayload struct {
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
	WhatsApp string `json:"whatsapp,omitempty"`
}

type redirectPayload struct {
	URL string `json:"url"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// ServeWS upgrades the request, starts a funnel session for the published
// quiz at ?slug= and relays session events until the respondent disconnects.
// UTM attribution is read once from the query string at connect time.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	slug := r.URL.Query().Get("slug")
	if slug == "" {
		http.Error(w, "missing slug", http.StatusBadRequest)
		return
	}
	utm := domain.UTM{
		Source:   r.URL.Query().Get("utm_source"),
		Medium:   r.URL.Query().Get("utm_medium"),
		Campaign: r.URL.Query().Get("utm_campaign"),
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	session, err := h.service.Start(r.Context(), slug, utm)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}

	updates, cancel, err := h.service.Subscribe(session.ID())
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}
	defer cancel()
	defer h.service.Leave(r.Context(), session.ID())

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case event, ok := <-updates:
				if !ok {
					return
				}
				select {
				case send <- eventMessage(event):
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid answer payload"}}
				continue
			}
			ans := domain.Answer{OptionID: payload.OptionID, Number: payload.Number, Text: payload.Text}
			if err := h.service.SetAnswer(session.ID(), payload.ElementID, ans, payload.Tags); err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
			}
		case "lead":
			var payload leadPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid lead payload"}}
				continue
			}
			contact := domain.LeadContact{Name: payload.Name, Email: payload.Email, WhatsApp: payload.WhatsApp}
			if err := h.service.SetContact(session.ID(), contact); err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
			}
		case "next":
			result, err := h.service.Advance(r.Context(), session.ID())
			if err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
				continue
			}
			if result.RedirectURL != "" {
				send <- outboundMessage[any]{Type: "redirect", Payload: redirectPayload{URL: result.RedirectURL}}
			}
		case "back":
			if err := h.service.Retreat(session.ID()); err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
			}
		default:
			send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "unsupported message type"}}
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

func eventMessage(event app.Event) outboundMessage[any] {
	switch event.Kind {
	case app.EventProgress:
		return outboundMessage[any]{Type: "progress", Payload: map[string]int{"percent": event.Percent}}
	case app.EventResult:
		return outboundMessage[any]{Type: "result", Payload: event.Outcome}
	default:
		return outboundMessage[any]{Type: "element", Payload: event.Element}
	}
}
