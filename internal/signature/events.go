package signature

import (
	"encoding/json"
	"fmt"
	"strings"
)

// EventKind is the normalised meaning of a provider event.
type EventKind string

const (
	EventSent      EventKind = "sent"
	EventCompleted EventKind = "completed"
	EventDeclined  EventKind = "declined"
	EventOther     EventKind = "other"
)

// Event is a provider callback reduced to what the processor needs.
type Event struct {
	Provider    Provider
	Kind        EventKind
	Name        string
	DocumentID  string
	FieldValues map[string]string
	Signers     []Signer
}

// Signer is one recipient action reported with an event.
type Signer struct {
	Email     string
	Role      string
	Completed bool
}

var zohoEvents = map[string]EventKind{
	"request.sent":      EventSent,
	"request.completed": EventCompleted,
	"request.declined":  EventDeclined,
}

var pandaDocEvents = map[string]EventKind{
	"document.sent":      EventSent,
	"document.completed": EventCompleted,
	"document.declined":  EventDeclined,
}

type zohoPayload struct {
	Event    string `json:"event"`
	Requests struct {
		RequestID json.RawMessage `json:"request_id"`
		FieldData struct {
			FieldValues map[string]any `json:"field_values"`
		} `json:"field_data"`
		Actions []zohoAction `json:"actions"`
	} `json:"requests"`
}

type zohoAction struct {
	ActionType     string `json:"action_type"`
	ActionStatus   string `json:"action_status"`
	RecipientEmail string `json:"recipient_email"`
	Role           string `json:"role"`
}

// ParseZohoSign decodes a Zoho Sign webhook body.
func ParseZohoSign(body []byte) (Event, error) {
	var p zohoPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	ev := Event{
		Provider:    ProviderZohoSign,
		Name:        p.Event,
		Kind:        kindOf(zohoEvents, p.Event),
		DocumentID:  rawID(p.Requests.RequestID),
		FieldValues: stringify(p.Requests.FieldData.FieldValues),
	}
	for _, act := range p.Requests.Actions {
		// Only SIGN actions count; viewers and approvers never sign.
		if !strings.EqualFold(act.ActionType, "SIGN") {
			continue
		}
		ev.Signers = append(ev.Signers, Signer{
			Email:     normalizeEmail(act.RecipientEmail),
			Role:      strings.TrimSpace(act.Role),
			Completed: strings.EqualFold(act.ActionStatus, "COMPLETED"),
		})
	}
	if ev.DocumentID == "" {
		return ev, ErrMissingDocument
	}
	return ev, nil
}

type pandaDocPayload struct {
	EventType string `json:"event_type"`
	Data      struct {
		ID         string         `json:"id"`
		Fields     map[string]any `json:"fields"`
		Recipients []struct {
			Email        string `json:"email"`
			Role         string `json:"role"`
			HasCompleted bool   `json:"has_completed"`
		} `json:"recipients"`
	} `json:"data"`
}

// ParsePandaDoc decodes a PandaDoc webhook body.
func ParsePandaDoc(body []byte) (Event, error) {
	var p pandaDocPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	ev := Event{
		Provider:    ProviderPandaDoc,
		Name:        p.EventType,
		Kind:        kindOf(pandaDocEvents, p.EventType),
		DocumentID:  strings.TrimSpace(p.Data.ID),
		FieldValues: stringify(p.Data.Fields),
	}
	for _, r := range p.Data.Recipients {
		ev.Signers = append(ev.Signers, Signer{
			Email:     normalizeEmail(r.Email),
			Role:      strings.TrimSpace(r.Role),
			Completed: r.HasCompleted,
		})
	}
	if ev.DocumentID == "" {
		return ev, ErrMissingDocument
	}
	return ev, nil
}

func kindOf(table map[string]EventKind, name string) EventKind {
	if k, ok := table[strings.ToLower(strings.TrimSpace(name))]; ok {
		return k
	}
	return EventOther
}

// rawID accepts both string and numeric ids.
func rawID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(string(raw))
}

func stringify(in map[string]any) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		switch t := v.(type) {
		case nil:
			continue
		case string:
			out[k] = t
		default:
			out[k] = fmt.Sprint(t)
		}
	}
	return out
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
