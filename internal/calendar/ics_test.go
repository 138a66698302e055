package calendar

import (
	"strings"
	"testing"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/stretchr/testify/require"

	"example.com/planner/internal/domain"
)

func TestExportICS(t *testing.T) {
	scheduled := booking("evt-1", "2024-12-18T09:00:00Z", "2024-12-18T10:00:00Z")
	scheduled.Notes = "Bring keys"
	scheduled.ResourceID = "unit-4b"
	scheduled.History = []domain.TimeChangeRecord{{ID: "chg-1"}}
	scheduled.CreatedAt = at("2024-12-01T08:00:00Z")
	scheduled.UpdatedAt = at("2024-12-02T08:00:00Z")

	cancelled := booking("evt-2", "2024-12-19T09:00:00Z", "2024-12-19T10:00:00Z")
	cancelled.State = domain.EventStateCancelled
	cancelled.Type = domain.EventTypeMoveIn

	feed := ExportICS("Bookings", []domain.CalendarEvent{scheduled, cancelled})
	require.Contains(t, feed, "X-WR-CALNAME:Bookings")
	require.Contains(t, feed, "METHOD:PUBLISH")

	parsed, err := ical.ParseCalendar(strings.NewReader(feed))
	require.NoError(t, err)

	events := parsed.Events()
	require.Len(t, events, 2)

	first := events[0]
	require.Equal(t, "evt-1@planner", first.Id())
	require.Equal(t, "Showing evt-1", first.GetProperty(ical.ComponentPropertySummary).Value)
	require.Equal(t, "Bring keys", first.GetProperty(ical.ComponentPropertyDescription).Value)
	require.Equal(t, "unit-4b", first.GetProperty(ical.ComponentPropertyLocation).Value)
	require.Equal(t, "1", first.GetProperty(ical.ComponentPropertySequence).Value)
	require.Equal(t, "Showing", first.GetProperty(ical.ComponentPropertyCategories).Value)
	require.Equal(t, string(ical.ObjectStatusConfirmed), first.GetProperty(ical.ComponentPropertyStatus).Value)

	start, err := first.GetStartAt()
	require.NoError(t, err)
	require.True(t, start.Equal(scheduled.Start))
	end, err := first.GetEndAt()
	require.NoError(t, err)
	require.Equal(t, time.Hour, end.Sub(start))

	second := events[1]
	require.Equal(t, string(ical.ObjectStatusCancelled), second.GetProperty(ical.ComponentPropertyStatus).Value)
	require.Equal(t, "Move-in", second.GetProperty(ical.ComponentPropertyCategories).Value)
	require.Nil(t, second.GetProperty(ical.ComponentPropertyDescription))
}

func TestExportICSWithoutEvents(t *testing.T) {
	feed := ExportICS("", nil)
	require.Contains(t, feed, "BEGIN:VCALENDAR")
	require.Contains(t, feed, "PRODID:"+productID)
	require.NotContains(t, feed, "BEGIN:VEVENT")
}
