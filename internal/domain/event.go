package domain

import (
	"fmt"
	"strings"
	"time"
)

// EventType classifies a booking. The set is closed; unknown values are rejected at the boundary.
type EventType string

const (
	EventTypeShowing     EventType = "showing"
	EventTypeMoveIn      EventType = "move-in"
	EventTypeInspection  EventType = "inspection"
	EventTypeMaintenance EventType = "maintenance"
	EventTypeOther       EventType = "other"
)

var eventTypes = []EventType{
	EventTypeShowing,
	EventTypeMoveIn,
	EventTypeInspection,
	EventTypeMaintenance,
	EventTypeOther,
}

var eventTypeDisplay = map[EventType]struct {
	label string
	icon  string
}{
	EventTypeShowing:     {label: "Showing", icon: "home"},
	EventTypeMoveIn:      {label: "Move-in", icon: "truck"},
	EventTypeInspection:  {label: "Inspection", icon: "clipboard-check"},
	EventTypeMaintenance: {label: "Maintenance", icon: "wrench"},
	EventTypeOther:       {label: "Other", icon: "calendar"},
}

// EventTypes returns every known type in display order.
func EventTypes() []EventType {
	out := make([]EventType, len(eventTypes))
	copy(out, eventTypes)
	return out
}

// ParseEventType normalises raw input into a known EventType.
func ParseEventType(raw string) (EventType, error) {
	candidate := EventType(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := eventTypeDisplay[candidate]; ok {
		return candidate, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEventType, raw)
}

// Valid reports whether t is part of the closed set.
func (t EventType) Valid() bool {
	_, ok := eventTypeDisplay[t]
	return ok
}

// Label is the human readable name.
func (t EventType) Label() string {
	return eventTypeDisplay[t].label
}

// Icon names the icon used by calendar renderers.
func (t EventType) Icon() string {
	return eventTypeDisplay[t].icon
}

// EventState is the lifecycle status of an event.
type EventState string

const (
	EventStateScheduled EventState = "scheduled"
	EventStateCompleted EventState = "completed"
	EventStateCancelled EventState = "cancelled"
)

// Terminal reports whether the state accepts no further changes.
func (s EventState) Terminal() bool {
	return s == EventStateCompleted || s == EventStateCancelled
}

// CalendarEvent is a booking occupying the half-open interval [Start, End).
type CalendarEvent struct {
	ID           string             `json:"id"`
	OwnerID      string             `json:"owner_id"`
	Title        string             `json:"title"`
	Notes        string             `json:"notes,omitempty"`
	Type         EventType          `json:"type"`
	State        EventState         `json:"state"`
	Start        time.Time          `json:"start"`
	End          time.Time          `json:"end"`
	Timezone     string             `json:"timezone,omitempty"`
	ResourceID   string             `json:"resource_id,omitempty"`
	CancelReason string             `json:"cancel_reason,omitempty"`
	Version      int64              `json:"version"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
	History      []TimeChangeRecord `json:"history"`
}

// TimeChangeRecord is one immutable entry of an event's reschedule audit trail.
type TimeChangeRecord struct {
	ID            string    `json:"id"`
	EventID       string    `json:"event_id"`
	Sequence      int       `json:"sequence"`
	OriginalStart time.Time `json:"original_start"`
	OriginalEnd   time.Time `json:"original_end"`
	NewStart      time.Time `json:"new_start"`
	NewEnd        time.Time `json:"new_end"`
	Reason        string    `json:"reason,omitempty"`
	ChangedBy     string    `json:"changed_by,omitempty"`
	ChangedAt     time.Time `json:"changed_at"`
}

// Duration returns End-Start.
func (e CalendarEvent) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// SameTimes reports whether [start, end) equals the event's current interval.
func (e CalendarEvent) SameTimes(start, end time.Time) bool {
	return e.Start.Equal(start) && e.End.Equal(end)
}

// Clone returns a copy whose History slice is not shared with e.
func (e CalendarEvent) Clone() CalendarEvent {
	out := e
	if e.History != nil {
		out.History = make([]TimeChangeRecord, len(e.History))
		copy(out.History, e.History)
	}
	return out
}

// ValidateInterval enforces end > start.
func ValidateInterval(start, end time.Time) error {
	if start.IsZero() || end.IsZero() {
		return fmt.Errorf("%w: start and end are required", ErrInvalidInterval)
	}
	if !end.After(start) {
		return fmt.Errorf("%w: end %s is not after start %s", ErrInvalidInterval, end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	return nil
}

// Query bounds a fetch for the calendar. A nil Type means all types; zero From/To leave that side open.
type Query struct {
	Type *EventType
	From time.Time
	To   time.Time
}

// Matches applies the query to a single event.
func (q Query) Matches(e CalendarEvent) bool {
	if q.Type != nil && e.Type != *q.Type {
		return false
	}
	if !q.To.IsZero() && !e.Start.Before(q.To) {
		return false
	}
	if !q.From.IsZero() && !q.From.Before(e.End) {
		return false
	}
	return true
}
