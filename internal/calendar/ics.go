package calendar

import (
	ical "github.com/arran4/golang-ical"

	"example.com/planner/internal/domain"
)

const productID = "-//planner//bookings//EN"

// ExportICS renders events as an iCalendar feed. Cancelled events stay in the
// feed with STATUS:CANCELLED so subscribers drop them.
func ExportICS(name string, events []domain.CalendarEvent) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	if name != "" {
		cal.SetName(name)
	}

	for _, e := range events {
		vevent := cal.AddEvent(e.ID + "@planner")
		vevent.SetCreatedTime(e.CreatedAt)
		vevent.SetDtStampTime(e.UpdatedAt)
		vevent.SetModifiedAt(e.UpdatedAt)
		vevent.SetSequence(len(e.History))
		vevent.SetStartAt(e.Start)
		vevent.SetEndAt(e.End)
		vevent.SetSummary(e.Title)
		if e.Notes != "" {
			vevent.SetDescription(e.Notes)
		}
		if e.ResourceID != "" {
			vevent.SetLocation(e.ResourceID)
		}
		vevent.AddProperty(ical.ComponentPropertyCategories, e.Type.Label())
		vevent.SetStatus(icsStatus(e.State))
	}
	return cal.Serialize()
}

func icsStatus(s domain.EventState) ical.ObjectStatus {
	if s == domain.EventStateCancelled {
		return ical.ObjectStatusCancelled
	}
	return ical.ObjectStatusConfirmed
}
