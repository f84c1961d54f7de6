package brain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Payload is the type-specific data of an action. Exactly one concrete type
// exists per ActionType.
type Payload interface {
	ActionType() ActionType
	Validate() error
}

// TodoPayload creates a task.
type TodoPayload struct {
	Title       string   `json:"title"`
	AssigneeIDs []string `json:"assigneeIds,omitempty"`
	DueDate     string   `json:"dueDate,omitempty"` // YYYY-MM-DD
	Priority    string   `json:"priority,omitempty"`
	ProjectID   string   `json:"projectId,omitempty"`
}

func (TodoPayload) ActionType() ActionType { return ActionCreateTodo }

func (p TodoPayload) Validate() error {
	if strings.TrimSpace(p.Title) == "" {
		return fmt.Errorf("todo: title is required")
	}
	return nil
}

// EventPayload schedules a calendar event.
type EventPayload struct {
	Title       string   `json:"title"`
	Date        string   `json:"date"`      // YYYY-MM-DD
	StartTime   string   `json:"startTime"` // HH:MM, empty for all-day
	EndTime     string   `json:"endTime,omitempty"`
	Location    string   `json:"location,omitempty"`
	AttendeeIDs []string `json:"attendeeIds,omitempty"`
	ProjectID   string   `json:"projectId,omitempty"`
}

func (EventPayload) ActionType() ActionType { return ActionCreateEvent }

func (p EventPayload) Validate() error {
	if strings.TrimSpace(p.Title) == "" {
		return fmt.Errorf("event: title is required")
	}
	if p.Date == "" {
		return fmt.Errorf("event: date is required")
	}
	return nil
}

// LocationPayload shares a place with the conversation.
type LocationPayload struct {
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
	URL     string `json:"url,omitempty"`
}

func (LocationPayload) ActionType() ActionType { return ActionShareLocation }

func (p LocationPayload) Validate() error {
	if strings.TrimSpace(p.Name) == "" && strings.TrimSpace(p.Address) == "" {
		return fmt.Errorf("location: name or address is required")
	}
	return nil
}

// DecodePayload decodes raw into the payload shape registered for t.
func DecodePayload(t ActionType, raw []byte) (Payload, error) {
	switch t {
	case ActionCreateTodo:
		var p TodoPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decoding %s payload: %w", t, err)
		}
		return p, nil
	case ActionCreateEvent:
		var p EventPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decoding %s payload: %w", t, err)
		}
		return p, nil
	case ActionShareLocation:
		var p LocationPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decoding %s payload: %w", t, err)
		}
		return p, nil
	}
	return nil, fmt.Errorf("unknown action type %q", t)
}

// EncodePayload is the inverse of DecodePayload.
func EncodePayload(p Payload) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("nil payload")
	}
	return json.Marshal(p)
}

// Candidate is an extracted, not yet persisted action.
type Candidate struct {
	Type       ActionType
	Payload    Payload
	Confidence float64
}
