package outbox

import "example.com/planner/internal/events"

// SchemaCatalogEntry maps event type to schema definition.
type SchemaCatalogEntry struct {
	Schema string
}

var schemaCatalog = map[string]SchemaCatalogEntry{
	events.TypeBookingCreated:      {Schema: bookingCreatedSchema},
	events.TypeBookingRescheduled:  {Schema: bookingRescheduledSchema},
	events.TypeBookingStateChanged: {Schema: bookingStateChangedSchema},
	events.TypeBookingDeleted:      {Schema: bookingDeletedSchema},
}

const bookingCreatedSchema = `{
  "type": "object",
  "title": "BookingCreated",
  "properties": {
    "event_id": {"type": "string"},
    "owner_id": {"type": "string"},
    "title": {"type": "string"},
    "event_type": {"type": "string", "enum": ["showing", "move-in", "inspection", "maintenance", "other"]},
    "start": {"type": "string", "format": "date-time"},
    "end": {"type": "string", "format": "date-time"},
    "resource_id": {"type": "string"},
    "version": {"type": "integer"}
  },
  "required": ["event_id", "owner_id", "title", "event_type", "start", "end", "version"],
  "additionalProperties": false
}`

const bookingRescheduledSchema = `{
  "type": "object",
  "title": "BookingRescheduled",
  "properties": {
    "event_id": {"type": "string"},
    "owner_id": {"type": "string"},
    "change_id": {"type": "string"},
    "sequence": {"type": "integer"},
    "original_start": {"type": "string", "format": "date-time"},
    "original_end": {"type": "string", "format": "date-time"},
    "new_start": {"type": "string", "format": "date-time"},
    "new_end": {"type": "string", "format": "date-time"},
    "reason": {"type": "string"},
    "changed_by": {"type": "string"},
    "changed_at": {"type": "string", "format": "date-time"},
    "version": {"type": "integer"}
  },
  "required": ["event_id", "owner_id", "change_id", "sequence", "original_start", "original_end", "new_start", "new_end", "changed_at", "version"],
  "additionalProperties": false
}`

const bookingStateChangedSchema = `{
  "type": "object",
  "title": "BookingStateChanged",
  "properties": {
    "event_id": {"type": "string"},
    "owner_id": {"type": "string"},
    "state": {"type": "string", "enum": ["scheduled", "completed", "cancelled"]},
    "occurred_at": {"type": "string", "format": "date-time"},
    "reason": {"type": "string"},
    "version": {"type": "integer"}
  },
  "required": ["event_id", "owner_id", "state", "occurred_at", "version"],
  "additionalProperties": false
}`

const bookingDeletedSchema = `{
  "type": "object",
  "title": "BookingDeleted",
  "properties": {
    "event_id": {"type": "string"},
    "owner_id": {"type": "string"},
    "deleted_at": {"type": "string", "format": "date-time"}
  },
  "required": ["event_id", "owner_id", "deleted_at"],
  "additionalProperties": false
}`
