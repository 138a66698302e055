// Package calendar projects booking events onto month, week and day grids and
// translates grid gestures into intents for the caller.
package calendar

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"example.com/planner/internal/domain"
)

// Granularity selects the grid.
type Granularity string

const (
	Month Granularity = "month"
	Week  Granularity = "week"
	Day   Granularity = "day"
)

// DefaultSlot is the snapping step for drag and resize gestures.
const DefaultSlot = 15 * time.Minute

// ParseGranularity accepts month, week or day. Empty input means week.
func ParseGranularity(raw string) (Granularity, error) {
	switch g := Granularity(strings.ToLower(strings.TrimSpace(raw))); g {
	case "":
		return Week, nil
	case Month, Week, Day:
		return g, nil
	default:
		return "", fmt.Errorf("%w: unknown calendar view %q", domain.ErrValidation, raw)
	}
}

// Window returns the visible [start, end) for the grid containing anchor.
// Month grids are padded to whole weeks starting on weekStart.
func Window(g Granularity, anchor time.Time, loc *time.Location, weekStart time.Weekday) (time.Time, time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	day := midnight(anchor.In(loc))

	switch g {
	case Day:
		return day, day.AddDate(0, 0, 1)
	case Month:
		first := time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, loc)
		next := first.AddDate(0, 1, 0)
		start := first.AddDate(0, 0, -daysSince(first.Weekday(), weekStart))
		end := next
		if pad := daysSince(next.Weekday(), weekStart); pad > 0 {
			end = next.AddDate(0, 0, 7-pad)
		}
		return start, end
	default:
		start := day.AddDate(0, 0, -daysSince(day.Weekday(), weekStart))
		return start, start.AddDate(0, 0, 7)
	}
}

// WindowQuery bounds a fetch to the visible window, optionally filtered by type.
func WindowQuery(g Granularity, anchor time.Time, opts Options, eventType *domain.EventType) domain.Query {
	start, end := Window(g, anchor, opts.location(), opts.WeekStart)
	return domain.Query{Type: eventType, From: start.UTC(), To: end.UTC()}
}

func daysSince(d, weekStart time.Weekday) int {
	return (int(d) - int(weekStart) + 7) % 7
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Intents are the callbacks a view emits. Unset callbacks disable the matching gestures.
type Intents struct {
	DateClicked       func(date time.Time)
	EventClicked      func(event domain.CalendarEvent)
	EventTimeProposed func(eventID string, start, end time.Time)
}

// IntentsFor strips the create and time-change callbacks when the caller cannot manage bookings.
func IntentsFor(canManage bool, intents Intents) Intents {
	if canManage {
		return intents
	}
	return Intents{EventClicked: intents.EventClicked}
}

// Options configures a projection.
type Options struct {
	Location  *time.Location
	WeekStart time.Weekday
	Slot      time.Duration
	Intents   Intents
}

func (o Options) location() *time.Location {
	if o.Location == nil {
		return time.UTC
	}
	return o.Location
}

// Placement is an event clipped to one day of the grid.
type Placement struct {
	Event           domain.CalendarEvent `json:"event"`
	Start           time.Time            `json:"start"`
	End             time.Time            `json:"end"`
	ContinuesBefore bool                 `json:"continues_before"`
	ContinuesAfter  bool                 `json:"continues_after"`
}

// DayCell is one cell of the grid. InRange is false for month padding days.
type DayCell struct {
	Date    time.Time   `json:"date"`
	InRange bool        `json:"in_range"`
	Events  []Placement `json:"events"`
}

// View is a read-only projection of an event list. It holds no state beyond the
// events it was built from; rebuild it after every change to the list.
type View struct {
	Granularity Granularity `json:"granularity"`
	Anchor      time.Time   `json:"anchor"`
	Start       time.Time   `json:"start"`
	End         time.Time   `json:"end"`
	Timezone    string      `json:"timezone"`
	Days        []DayCell   `json:"days"`

	loc     *time.Location
	slot    time.Duration
	intents Intents
	events  map[string]domain.CalendarEvent
}

// Project lays events out on the grid around anchor.
func Project(events []domain.CalendarEvent, g Granularity, anchor time.Time, opts Options) View {
	loc := opts.location()
	slot := opts.Slot
	if slot <= 0 {
		slot = DefaultSlot
	}
	start, end := Window(g, anchor, loc, opts.WeekStart)

	sorted := make([]domain.CalendarEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Start.Equal(sorted[j].Start) {
			return sorted[i].ID < sorted[j].ID
		}
		return sorted[i].Start.Before(sorted[j].Start)
	})

	view := View{
		Granularity: g,
		Anchor:      midnight(anchor.In(loc)),
		Start:       start,
		End:         end,
		Timezone:    loc.String(),
		Days:        []DayCell{},
		loc:         loc,
		slot:        slot,
		intents:     opts.Intents,
		events:      make(map[string]domain.CalendarEvent, len(sorted)),
	}
	for _, e := range sorted {
		view.events[e.ID] = e
	}

	for day := start; day.Before(end); day = day.AddDate(0, 0, 1) {
		next := day.AddDate(0, 0, 1)
		cell := DayCell{
			Date:    day,
			InRange: g != Month || day.Month() == view.Anchor.Month(),
			Events:  []Placement{},
		}
		for _, e := range sorted {
			if !domain.Overlaps(e.Start, e.End, day, next) {
				continue
			}
			p := Placement{Event: e, Start: e.Start.In(loc), End: e.End.In(loc)}
			if p.Start.Before(day) {
				p.Start, p.ContinuesBefore = day, true
			}
			if p.End.After(next) {
				p.End, p.ContinuesAfter = next, true
			}
			cell.Events = append(cell.Events, p)
		}
		view.Days = append(view.Days, cell)
	}
	return view
}

// Event returns a projected event by id.
func (v View) Event(eventID string) (domain.CalendarEvent, bool) {
	e, ok := v.events[eventID]
	return e, ok
}

// Editable reports whether create and time-change gestures are wired.
func (v View) Editable() bool {
	return v.intents.DateClicked != nil && v.intents.EventTimeProposed != nil
}

// ClickDate emits DateClicked with the local midnight of date when it lies in the window.
func (v View) ClickDate(date time.Time) bool {
	if v.intents.DateClicked == nil {
		return false
	}
	day := midnight(date.In(v.loc))
	if day.Before(v.Start) || !day.Before(v.End) {
		return false
	}
	v.intents.DateClicked(day)
	return true
}

// ClickEvent emits EventClicked for a projected event.
func (v View) ClickEvent(eventID string) bool {
	e, ok := v.events[eventID]
	if !ok || v.intents.EventClicked == nil {
		return false
	}
	v.intents.EventClicked(e.Clone())
	return true
}

// Drag moves an event by delta, rounded to the slot (whole days on a month grid),
// keeping its duration.
func (v View) Drag(eventID string, delta time.Duration) bool {
	e, ok := v.movable(eventID)
	if !ok {
		return false
	}

	var start time.Time
	if v.Granularity == Month {
		days := int(delta.Round(24*time.Hour) / (24 * time.Hour))
		if days == 0 {
			return false
		}
		start = e.Start.In(v.loc).AddDate(0, 0, days)
	} else {
		step := delta.Round(v.slot)
		if step == 0 {
			return false
		}
		start = e.Start.Add(step)
	}
	return v.propose(e, start, start.Add(e.Duration()))
}

// Resize moves the end of an event to newEnd, snapped to the slot grid of the local day.
// The event never shrinks below one slot.
func (v View) Resize(eventID string, newEnd time.Time) bool {
	e, ok := v.movable(eventID)
	if !ok {
		return false
	}

	var end time.Time
	if v.Granularity == Month {
		days := int(newEnd.Sub(e.End).Round(24*time.Hour) / (24 * time.Hour))
		end = e.End.In(v.loc).AddDate(0, 0, days)
		if !end.After(e.Start) {
			return false
		}
	} else {
		end = v.snap(newEnd)
		if shortest := e.Start.Add(v.slot); end.Before(shortest) {
			end = shortest
		}
	}
	return v.propose(e, e.Start, end)
}

func (v View) movable(eventID string) (domain.CalendarEvent, bool) {
	e, ok := v.events[eventID]
	if !ok || v.intents.EventTimeProposed == nil || e.State.Terminal() {
		return domain.CalendarEvent{}, false
	}
	return e, true
}

func (v View) propose(e domain.CalendarEvent, start, end time.Time) bool {
	start, end = start.UTC(), end.UTC()
	if e.SameTimes(start, end) {
		return false
	}
	v.intents.EventTimeProposed(e.ID, start, end)
	return true
}

func (v View) snap(t time.Time) time.Time {
	local := t.In(v.loc)
	day := midnight(local)
	return day.Add(local.Sub(day).Round(v.slot))
}
