package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/planner/internal/domain"
	"example.com/planner/internal/events"
)

// Repository provides Postgres-backed persistence for events, their history and outbox rows.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const eventColumns = `event_id, owner_id, title, notes, event_type, state, starts_at, ends_at, timezone, resource_id, cancel_reason, version, created_at, updated_at`

// withOwnerTx runs fn in a transaction scoped to ownerID by row level security.
func (r *Repository) withOwnerTx(ctx context.Context, ownerID string, fn func(pgx.Tx) error) (err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, "SELECT set_config('app.owner_id', $1, true)", ownerID); err != nil {
		return err
	}
	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// List returns the owner's events matching q, with their history.
func (r *Repository) List(ctx context.Context, ownerID string, q domain.Query) ([]domain.CalendarEvent, error) {
	args := []interface{}{ownerID}
	query := `SELECT ` + eventColumns + ` FROM calendar_events WHERE owner_id=$1`

	if q.Type != nil {
		args = append(args, string(*q.Type))
		query += fmt.Sprintf(` AND event_type=$%d`, len(args))
	}
	if !q.To.IsZero() {
		args = append(args, q.To)
		query += fmt.Sprintf(` AND starts_at < $%d`, len(args))
	}
	if !q.From.IsZero() {
		args = append(args, q.From)
		query += fmt.Sprintf(` AND ends_at > $%d`, len(args))
	}
	query += ` ORDER BY starts_at, event_id`

	var results []domain.CalendarEvent
	err := r.withOwnerTx(ctx, ownerID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		results = make([]domain.CalendarEvent, 0)
		for rows.Next() {
			event, err := scanEvent(rows)
			if err != nil {
				return err
			}
			results = append(results, event)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		return r.attachHistory(ctx, tx, ownerID, results)
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Get retrieves an event by ID. A missing event yields nil, nil.
func (r *Repository) Get(ctx context.Context, ownerID, eventID string) (*domain.CalendarEvent, error) {
	if !validEventID(eventID) {
		return nil, nil
	}
	var found *domain.CalendarEvent
	err := r.withOwnerTx(ctx, ownerID, func(tx pgx.Tx) error {
		event, err := r.getTx(ctx, tx, ownerID, eventID, false)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return err
		}
		found = event
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// Create inserts the event and records the created outbox event inside a single transaction.
func (r *Repository) Create(ctx context.Context, event domain.CalendarEvent) error {
	return r.withOwnerTx(ctx, event.OwnerID, func(tx pgx.Tx) error {
		const insertEvent = `INSERT INTO calendar_events (` + eventColumns + `)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`

		if _, err := tx.Exec(ctx, insertEvent,
			event.ID,
			event.OwnerID,
			event.Title,
			event.Notes,
			string(event.Type),
			string(event.State),
			event.Start,
			event.End,
			event.Timezone,
			nullIfEmpty(event.ResourceID),
			event.CancelReason,
			event.Version,
			event.CreatedAt,
			event.UpdatedAt,
		); err != nil {
			return err
		}

		return r.insertOutbox(ctx, tx, event, events.TypeBookingCreated, events.BookingCreated{
			EventID:    event.ID,
			OwnerID:    event.OwnerID,
			Title:      event.Title,
			EventType:  string(event.Type),
			Start:      event.Start,
			End:        event.End,
			ResourceID: event.ResourceID,
			Version:    event.Version,
		})
	})
}

// Reschedule updates start/end, appends the change record and writes the outbox row in one transaction.
// The update is guarded by version and state so a concurrent writer or a terminal event is rejected.
func (r *Repository) Reschedule(ctx context.Context, ownerID, eventID string, change domain.TimeChangeRecord, expectedVersion int64) (*domain.CalendarEvent, error) {
	if !validEventID(eventID) {
		return nil, domain.ErrEventNotFound
	}
	var updated *domain.CalendarEvent
	err := r.withOwnerTx(ctx, ownerID, func(tx pgx.Tx) error {
		const update = `UPDATE calendar_events
        SET starts_at=$1, ends_at=$2, version=version+1, updated_at=$3
        WHERE owner_id=$4 AND event_id=$5 AND version=$6 AND state='scheduled'
        RETURNING ` + eventColumns

		row := tx.QueryRow(ctx, update, change.NewStart, change.NewEnd, change.ChangedAt, ownerID, eventID, expectedVersion)
		event, err := scanEvent(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return r.explainRejectedWrite(ctx, tx, ownerID, eventID, expectedVersion)
			}
			return err
		}

		var sequence int
		if err := tx.QueryRow(ctx,
			`SELECT COALESCE(MAX(sequence), 0) + 1 FROM event_time_changes WHERE owner_id=$1 AND event_id=$2`,
			ownerID, eventID,
		).Scan(&sequence); err != nil {
			return err
		}
		change.EventID = eventID
		change.Sequence = sequence

		const insertChange = `INSERT INTO event_time_changes (change_id, event_id, owner_id, sequence, original_start, original_end, new_start, new_end, reason, changed_by, changed_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`
		if _, err := tx.Exec(ctx, insertChange,
			change.ID,
			change.EventID,
			ownerID,
			change.Sequence,
			change.OriginalStart,
			change.OriginalEnd,
			change.NewStart,
			change.NewEnd,
			change.Reason,
			change.ChangedBy,
			change.ChangedAt,
		); err != nil {
			return err
		}

		if err := r.insertOutbox(ctx, tx, event, events.TypeBookingRescheduled, events.BookingRescheduled{
			EventID:       event.ID,
			OwnerID:       event.OwnerID,
			ChangeID:      change.ID,
			Sequence:      change.Sequence,
			OriginalStart: change.OriginalStart,
			OriginalEnd:   change.OriginalEnd,
			NewStart:      change.NewStart,
			NewEnd:        change.NewEnd,
			Reason:        change.Reason,
			ChangedBy:     change.ChangedBy,
			ChangedAt:     change.ChangedAt,
			Version:       event.Version,
		}); err != nil {
			return err
		}

		list := []domain.CalendarEvent{event}
		if err := r.attachHistory(ctx, tx, ownerID, list); err != nil {
			return err
		}
		updated = &list[0]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Transition moves a scheduled event to a terminal state.
func (r *Repository) Transition(ctx context.Context, ownerID, eventID string, to domain.EventState, reason string, at time.Time) (*domain.CalendarEvent, error) {
	if !validEventID(eventID) {
		return nil, domain.ErrEventNotFound
	}
	var updated *domain.CalendarEvent
	err := r.withOwnerTx(ctx, ownerID, func(tx pgx.Tx) error {
		const update = `UPDATE calendar_events
        SET state=$1, cancel_reason=CASE WHEN $1='cancelled' THEN $2 ELSE cancel_reason END, version=version+1, updated_at=$3
        WHERE owner_id=$4 AND event_id=$5 AND state='scheduled'
        RETURNING ` + eventColumns

		event, err := scanEvent(tx.QueryRow(ctx, update, string(to), reason, at, ownerID, eventID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return r.explainRejectedWrite(ctx, tx, ownerID, eventID, 0)
			}
			return err
		}

		if err := r.insertOutbox(ctx, tx, event, events.TypeBookingStateChanged, events.BookingStateChanged{
			EventID:    event.ID,
			OwnerID:    event.OwnerID,
			State:      string(event.State),
			OccurredAt: at,
			Reason:     reason,
			Version:    event.Version,
		}); err != nil {
			return err
		}

		list := []domain.CalendarEvent{event}
		if err := r.attachHistory(ctx, tx, ownerID, list); err != nil {
			return err
		}
		updated = &list[0]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes the event and its history. The deletion is announced through the outbox.
func (r *Repository) Delete(ctx context.Context, ownerID, eventID string) error {
	if !validEventID(eventID) {
		return domain.ErrEventNotFound
	}
	return r.withOwnerTx(ctx, ownerID, func(tx pgx.Tx) error {
		event, err := r.getTx(ctx, tx, ownerID, eventID, true)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrEventNotFound
			}
			return err
		}

		if _, err := tx.Exec(ctx, `DELETE FROM event_time_changes WHERE owner_id=$1 AND event_id=$2`, ownerID, eventID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM calendar_events WHERE owner_id=$1 AND event_id=$2`, ownerID, eventID); err != nil {
			return err
		}

		return r.insertOutbox(ctx, tx, *event, events.TypeBookingDeleted, events.BookingDeleted{
			EventID:   event.ID,
			OwnerID:   event.OwnerID,
			DeletedAt: time.Now().UTC(),
		})
	})
}

// explainRejectedWrite maps a guarded UPDATE that matched no row to a domain error.
func (r *Repository) explainRejectedWrite(ctx context.Context, tx pgx.Tx, ownerID, eventID string, expectedVersion int64) error {
	var state string
	var version int64
	err := tx.QueryRow(ctx, `SELECT state, version FROM calendar_events WHERE owner_id=$1 AND event_id=$2`, ownerID, eventID).Scan(&state, &version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrEventNotFound
		}
		return err
	}
	if domain.EventState(state).Terminal() {
		return fmt.Errorf("%w: %s is %s", domain.ErrEventImmutable, eventID, state)
	}
	return fmt.Errorf("%w: expected version %d, stored %d", domain.ErrVersionConflict, expectedVersion, version)
}

func (r *Repository) getTx(ctx context.Context, tx pgx.Tx, ownerID, eventID string, forUpdate bool) (*domain.CalendarEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM calendar_events WHERE owner_id=$1 AND event_id=$2`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	event, err := scanEvent(tx.QueryRow(ctx, query, ownerID, eventID))
	if err != nil {
		return nil, err
	}
	list := []domain.CalendarEvent{event}
	if err := r.attachHistory(ctx, tx, ownerID, list); err != nil {
		return nil, err
	}
	return &list[0], nil
}

// attachHistory loads the audit trail of every event in list with one query.
func (r *Repository) attachHistory(ctx context.Context, tx pgx.Tx, ownerID string, list []domain.CalendarEvent) error {
	if len(list) == 0 {
		return nil
	}
	ids := make([]string, len(list))
	index := make(map[string]int, len(list))
	for i := range list {
		ids[i] = list[i].ID
		index[list[i].ID] = i
		list[i].History = []domain.TimeChangeRecord{}
	}

	rows, err := tx.Query(ctx,
		`SELECT change_id, event_id, sequence, original_start, original_end, new_start, new_end, reason, changed_by, changed_at
         FROM event_time_changes WHERE owner_id=$1 AND event_id = ANY($2)
         ORDER BY event_id, sequence`,
		ownerID, ids,
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var rec domain.TimeChangeRecord
		if err := rows.Scan(&rec.ID, &rec.EventID, &rec.Sequence, &rec.OriginalStart, &rec.OriginalEnd, &rec.NewStart, &rec.NewEnd, &rec.Reason, &rec.ChangedBy, &rec.ChangedAt); err != nil {
			return err
		}
		i := index[rec.EventID]
		list[i].History = append(list[i].History, rec)
	}
	return rows.Err()
}

func scanEvent(row pgx.Row) (domain.CalendarEvent, error) {
	var (
		event      domain.CalendarEvent
		eventType  string
		state      string
		resourceID *string
	)
	if err := row.Scan(&event.ID, &event.OwnerID, &event.Title, &event.Notes, &eventType, &state, &event.Start, &event.End, &event.Timezone, &resourceID, &event.CancelReason, &event.Version, &event.CreatedAt, &event.UpdatedAt); err != nil {
		return domain.CalendarEvent{}, err
	}
	event.Type = domain.EventType(eventType)
	event.State = domain.EventState(state)
	if resourceID != nil {
		event.ResourceID = *resourceID
	}
	event.Start = event.Start.UTC()
	event.End = event.End.UTC()
	return event, nil
}

func (r *Repository) insertOutbox(ctx context.Context, tx pgx.Tx, event domain.CalendarEvent, eventType string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	meta, ok := eventCatalog[eventType]
	if !ok || meta.Topic == "" {
		return fmt.Errorf("unknown event type: %s", eventType)
	}

	partitionKey := meta.PartitionKeyFn(event)
	dedupeKey := fmt.Sprintf("%s:%s:%d", event.ID, eventType, event.Version)

	const stmt = `INSERT INTO outbox (owner_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	_, err = tx.Exec(ctx, stmt,
		event.OwnerID,
		"calendar_event",
		event.ID,
		eventType,
		meta.Topic,
		meta.SchemaSubject,
		partitionKey,
		body,
		dedupeKey,
	)
	return err
}

// validEventID reports whether eventID can match the uuid key column. Anything
// else cannot name a stored event.
func validEventID(eventID string) bool {
	_, err := uuid.Parse(eventID)
	return err == nil
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

// EventMetadata describes how to route an outbox event.
type EventMetadata struct {
	Topic          string
	SchemaSubject  string
	PartitionKeyFn func(domain.CalendarEvent) string
}

// Events of one booking share a partition so consumers see them in commit order.
func byEvent(e domain.CalendarEvent) string { return e.OwnerID + ":" + e.ID }

var eventCatalog = map[string]EventMetadata{
	events.TypeBookingCreated: {
		Topic:          "booking_events",
		SchemaSubject:  "booking_events-value",
		PartitionKeyFn: byEvent,
	},
	events.TypeBookingRescheduled: {
		Topic:          "booking_events",
		SchemaSubject:  "booking_rescheduled-value",
		PartitionKeyFn: byEvent,
	},
	events.TypeBookingStateChanged: {
		Topic:          "booking_state_changed",
		SchemaSubject:  "booking_state_changed-value",
		PartitionKeyFn: byEvent,
	},
	events.TypeBookingDeleted: {
		Topic:          "booking_state_changed",
		SchemaSubject:  "booking_deleted-value",
		PartitionKeyFn: byEvent,
	},
}
