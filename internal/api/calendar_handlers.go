package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"example.com/planner/internal/auth"
	"example.com/planner/internal/calendar"
	"example.com/planner/internal/domain"
)

const feedName = "Bookings"

// CalendarResponse is the projection returned by GET /v1/calendar.
type CalendarResponse struct {
	View     calendar.View `json:"view"`
	Editable bool          `json:"editable"`
}

// GestureRequest is the payload for POST /v1/calendar/gestures. Kind is drag
// (DeltaMinutes) or resize (NewEnd); the gesture is applied to the projection
// described by View, Date and Timezone.
type GestureRequest struct {
	View            string    `json:"view"`
	Date            string    `json:"date"`
	Timezone        string    `json:"tz"`
	Kind            string    `json:"kind"`
	EventID         string    `json:"event_id"`
	DeltaMinutes    int       `json:"delta_minutes"`
	NewEnd          time.Time `json:"new_end"`
	Reason          string    `json:"reason"`
	ExpectedVersion int64     `json:"expected_version"`
}

type calendarParams struct {
	granularity calendar.Granularity
	anchor      time.Time
	loc         *time.Location
	eventType   *domain.EventType
}

func parseCalendarParams(view, date, tz, eventType string) (calendarParams, error) {
	var p calendarParams

	g, err := calendar.ParseGranularity(view)
	if err != nil {
		return p, err
	}
	p.granularity = g

	p.loc = time.UTC
	if tz = strings.TrimSpace(tz); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return p, fmt.Errorf("%w: unknown timezone %q", domain.ErrValidation, tz)
		}
		p.loc = loc
	}

	p.anchor = time.Now().In(p.loc)
	if date = strings.TrimSpace(date); date != "" {
		anchor, err := time.ParseInLocation("2006-01-02", date, p.loc)
		if err != nil {
			return p, fmt.Errorf("%w: date must be YYYY-MM-DD", domain.ErrValidation)
		}
		p.anchor = anchor
	}

	if raw := strings.TrimSpace(eventType); raw != "" && raw != "all" {
		t, err := domain.ParseEventType(raw)
		if err != nil {
			return p, err
		}
		p.eventType = &t
	}
	return p, nil
}

// gestureCapture records the proposal a gesture emits. Date clicks are accepted
// so the projection advertises creation; events are created with POST /v1/events.
type gestureCapture struct {
	proposed   bool
	start, end time.Time
}

func (c *gestureCapture) intents() calendar.Intents {
	return calendar.Intents{
		DateClicked:  func(time.Time) {},
		EventClicked: func(domain.CalendarEvent) {},
		EventTimeProposed: func(_ string, start, end time.Time) {
			c.proposed, c.start, c.end = true, start, end
		},
	}
}

func (h *Handler) project(r *http.Request, claims *auth.Claims, p calendarParams, capture *gestureCapture) (calendar.View, error) {
	opts := calendar.Options{
		Location:  p.loc,
		WeekStart: h.weekStart,
		Intents:   calendar.IntentsFor(claims.CanManageBookings(), capture.intents()),
	}
	events, err := h.service.ListEvents(r.Context(), claims.OwnerID, calendar.WindowQuery(p.granularity, p.anchor, opts, p.eventType))
	if err != nil {
		return calendar.View{}, err
	}
	return calendar.Project(events, p.granularity, p.anchor, opts), nil
}

func (h *Handler) calendarView(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := requireRead(w, r)
	if !ok {
		return
	}

	values := r.URL.Query()
	params, err := parseCalendarParams(values.Get("view"), values.Get("date"), values.Get("tz"), values.Get("type"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	view, err := h.project(r, claims, params, &gestureCapture{})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CalendarResponse{View: view, Editable: view.Editable()})
}

func (h *Handler) calendarGesture(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := requireWrite(w, r)
	if !ok {
		return
	}

	var req GestureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	params, err := parseCalendarParams(req.View, req.Date, req.Timezone, "")
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	current, err := h.service.GetEvent(r.Context(), claims.OwnerID, req.EventID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if current.State.Terminal() {
		h.writeDomainError(w, fmt.Errorf("%w: %s is %s", domain.ErrEventImmutable, current.ID, current.State))
		return
	}

	capture := &gestureCapture{}
	view, err := h.project(r, claims, params, capture)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if _, visible := view.Event(current.ID); !visible {
		writeError(w, http.StatusBadRequest, "validation_failed", "event is not visible in the requested view")
		return
	}

	switch req.Kind {
	case "drag":
		view.Drag(current.ID, time.Duration(req.DeltaMinutes)*time.Minute)
	case "resize":
		if req.NewEnd.IsZero() {
			writeError(w, http.StatusBadRequest, "validation_failed", "new_end is required")
			return
		}
		view.Resize(current.ID, req.NewEnd)
	default:
		writeError(w, http.StatusBadRequest, "validation_failed", "kind must be drag or resize")
		return
	}

	if !capture.proposed {
		writeJSON(w, http.StatusOK, RescheduleResponse{
			Event:     *current,
			Changed:   false,
			Conflicts: domain.ConflictReport{Events: []domain.CalendarEvent{}},
		})
		return
	}

	h.reschedule(w, r, claims, current.ID, RescheduleRequest{
		Start:           capture.start,
		End:             capture.end,
		Reason:          req.Reason,
		ExpectedVersion: req.ExpectedVersion,
	})
}

func (h *Handler) calendarFeed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := requireRead(w, r)
	if !ok {
		return
	}

	q, err := parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}
	events, err := h.service.ListEvents(r.Context(), claims.OwnerID, q)
	if err != nil {
		var loadErr *domain.LoadError
		if errors.As(err, &loadErr) {
			w.Header().Set("Retry-After", "30")
		}
		h.writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="bookings.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(calendar.ExportICS(feedName, events)))
}
