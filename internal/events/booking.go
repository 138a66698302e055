// Package events defines the booking event payloads published through the outbox.
package events

import "time"

// Event type names written to the outbox.
const (
	TypeBookingCreated      = "booking.created"
	TypeBookingRescheduled  = "booking.rescheduled"
	TypeBookingStateChanged = "booking.state_changed"
	TypeBookingDeleted      = "booking.deleted"
)

// BookingCreated is emitted when a new event is accepted.
type BookingCreated struct {
	EventID    string    `json:"event_id"`
	OwnerID    string    `json:"owner_id"`
	Title      string    `json:"title"`
	EventType  string    `json:"event_type"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	ResourceID string    `json:"resource_id,omitempty"`
	Version    int64     `json:"version"`
}

// BookingRescheduled carries one appended time change record.
type BookingRescheduled struct {
	EventID       string    `json:"event_id"`
	OwnerID       string    `json:"owner_id"`
	ChangeID      string    `json:"change_id"`
	Sequence      int       `json:"sequence"`
	OriginalStart time.Time `json:"original_start"`
	OriginalEnd   time.Time `json:"original_end"`
	NewStart      time.Time `json:"new_start"`
	NewEnd        time.Time `json:"new_end"`
	Reason        string    `json:"reason,omitempty"`
	ChangedBy     string    `json:"changed_by,omitempty"`
	ChangedAt     time.Time `json:"changed_at"`
	Version       int64     `json:"version"`
}

// BookingStateChanged tracks lifecycle transitions (completed, cancelled).
type BookingStateChanged struct {
	EventID    string    `json:"event_id"`
	OwnerID    string    `json:"owner_id"`
	State      string    `json:"state"`
	OccurredAt time.Time `json:"occurred_at"`
	Reason     string    `json:"reason,omitempty"`
	Version    int64     `json:"version"`
}

// BookingDeleted is emitted on hard delete.
type BookingDeleted struct {
	EventID   string    `json:"event_id"`
	OwnerID   string    `json:"owner_id"`
	DeletedAt time.Time `json:"deleted_at"`
}
