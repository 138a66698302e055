//go:build integration

package postgres

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"example.com/planner/internal/domain"
	"example.com/planner/internal/events"
	"example.com/planner/internal/testsupport"
)

var base = time.Date(2024, 12, 18, 9, 0, 0, 0, time.UTC)

func newEvent(ownerID string, start time.Time, typ domain.EventType) domain.CalendarEvent {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return domain.CalendarEvent{
		ID:         uuid.NewString(),
		OwnerID:    ownerID,
		Title:      "Showing",
		Type:       typ,
		State:      domain.EventStateScheduled,
		Start:      start,
		End:        start.Add(time.Hour),
		Timezone:   "Europe/Berlin",
		ResourceID: "unit-4",
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func change(e domain.CalendarEvent, start time.Time, reason string) domain.TimeChangeRecord {
	return domain.TimeChangeRecord{
		ID:            uuid.NewString(),
		OriginalStart: e.Start,
		OriginalEnd:   e.End,
		NewStart:      start,
		NewEnd:        start.Add(e.Duration()),
		Reason:        reason,
		ChangedBy:     "agent-7",
		ChangedAt:     time.Now().UTC().Truncate(time.Microsecond),
	}
}

func outboxTypes(t *testing.T, ctx context.Context, pool *pgxpool.Pool, aggregateID string) []string {
	t.Helper()
	rows, err := pool.Query(ctx, `SELECT event_type FROM outbox WHERE aggregate_id=$1 ORDER BY event_id`, aggregateID)
	require.NoError(t, err)
	defer rows.Close()

	var types []string
	for rows.Next() {
		var typ string
		require.NoError(t, rows.Scan(&typ))
		types = append(types, typ)
	}
	require.NoError(t, rows.Err())
	return types
}

func TestRepositoryLifecycle(t *testing.T) {
	ctx := context.Background()
	pool := testsupport.StartPostgres(t, ctx)
	repo := NewRepository(pool)

	ownerID := "office-" + uuid.NewString()
	event := newEvent(ownerID, base, domain.EventTypeShowing)
	inspection := newEvent(ownerID, base.Add(48*time.Hour), domain.EventTypeInspection)
	require.NoError(t, repo.Create(ctx, event))
	require.NoError(t, repo.Create(ctx, inspection))

	stored, err := repo.Get(ctx, ownerID, event.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.True(t, stored.Start.Equal(event.Start))
	require.Equal(t, "unit-4", stored.ResourceID)
	require.Empty(t, stored.History)

	showing := domain.EventTypeShowing
	listed, err := repo.List(ctx, ownerID, domain.Query{Type: &showing})
	require.NoError(t, err)
	require.Len(t, listed, 1)

	window, err := repo.List(ctx, ownerID, domain.Query{From: base.Add(24 * time.Hour), To: base.Add(72 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, window, 1)
	require.Equal(t, inspection.ID, window[0].ID)

	updated, err := repo.Reschedule(ctx, ownerID, event.ID, change(event, base.Add(30*time.Minute), "client asked"), 1)
	require.NoError(t, err)
	require.EqualValues(t, 2, updated.Version)
	require.True(t, updated.Start.Equal(base.Add(30*time.Minute)))
	require.Len(t, updated.History, 1)
	require.Equal(t, 1, updated.History[0].Sequence)
	require.Equal(t, "client asked", updated.History[0].Reason)
	require.True(t, updated.History[0].OriginalStart.Equal(base))

	_, err = repo.Reschedule(ctx, ownerID, event.ID, change(*updated, base.Add(time.Hour), ""), 1)
	require.ErrorIs(t, err, domain.ErrVersionConflict)

	reloaded, err := repo.Get(ctx, ownerID, event.ID)
	require.NoError(t, err)
	require.Len(t, reloaded.History, 1, "rejected write must not append history")
	require.True(t, reloaded.Start.Equal(updated.Start))

	cancelled, err := repo.Transition(ctx, ownerID, event.ID, domain.EventStateCancelled, "buyer withdrew", time.Now().UTC())
	require.NoError(t, err)
	require.Equal(t, domain.EventStateCancelled, cancelled.State)
	require.Equal(t, "buyer withdrew", cancelled.CancelReason)
	require.Len(t, cancelled.History, 1)

	_, err = repo.Reschedule(ctx, ownerID, event.ID, change(*cancelled, base.Add(2*time.Hour), ""), cancelled.Version)
	require.ErrorIs(t, err, domain.ErrEventImmutable)
	_, err = repo.Transition(ctx, ownerID, event.ID, domain.EventStateCompleted, "", time.Now().UTC())
	require.ErrorIs(t, err, domain.ErrEventImmutable)

	require.Equal(t, []string{
		events.TypeBookingCreated,
		events.TypeBookingRescheduled,
		events.TypeBookingStateChanged,
	}, outboxTypes(t, ctx, pool, event.ID))

	require.NoError(t, repo.Delete(ctx, ownerID, event.ID))
	gone, err := repo.Get(ctx, ownerID, event.ID)
	require.NoError(t, err)
	require.Nil(t, gone)
	require.ErrorIs(t, repo.Delete(ctx, ownerID, event.ID), domain.ErrEventNotFound)

	for _, id := range []string{"abc", ""} {
		malformed, err := repo.Get(ctx, ownerID, id)
		require.NoError(t, err, "id %q", id)
		require.Nil(t, malformed)
		_, err = repo.Reschedule(ctx, ownerID, id, change(inspection, base, ""), 1)
		require.ErrorIs(t, err, domain.ErrEventNotFound)
		_, err = repo.Transition(ctx, ownerID, id, domain.EventStateCancelled, "", time.Now().UTC())
		require.ErrorIs(t, err, domain.ErrEventNotFound)
		require.ErrorIs(t, repo.Delete(ctx, ownerID, id), domain.ErrEventNotFound)
	}

	var historyRows int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM event_time_changes WHERE event_id=$1`, event.ID).Scan(&historyRows))
	require.Zero(t, historyRows)
	require.Contains(t, outboxTypes(t, ctx, pool, event.ID), events.TypeBookingDeleted)
}

func TestRepositoryScopesReadsToOwner(t *testing.T) {
	ctx := context.Background()
	pool := testsupport.StartPostgres(t, ctx)
	repo := NewRepository(pool)

	event := newEvent("office-a", base, domain.EventTypeShowing)
	require.NoError(t, repo.Create(ctx, event))

	other, err := repo.Get(ctx, "office-b", event.ID)
	require.NoError(t, err)
	require.Nil(t, other)

	listed, err := repo.List(ctx, "office-b", domain.Query{})
	require.NoError(t, err)
	require.Empty(t, listed)

	_, err = repo.Reschedule(ctx, "office-b", event.ID, change(event, base.Add(time.Hour), ""), 1)
	require.ErrorIs(t, err, domain.ErrEventNotFound)
}

func TestRepositoryConcurrentReschedulesOneWins(t *testing.T) {
	ctx := context.Background()
	pool := testsupport.StartPostgres(t, ctx)
	repo := NewRepository(pool)

	event := newEvent("office-a", base, domain.EventTypeShowing)
	require.NoError(t, repo.Create(ctx, event))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = repo.Reschedule(ctx, "office-a", event.ID, change(event, base.Add(time.Duration(i+1)*time.Hour), ""), 1)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, domain.ErrVersionConflict)
	}
	require.Equal(t, 1, succeeded)

	stored, err := repo.Get(ctx, "office-a", event.ID)
	require.NoError(t, err)
	require.EqualValues(t, 2, stored.Version)
	require.Len(t, stored.History, 1)
}
