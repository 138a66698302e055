// Package api exposes HTTP handlers for the planner service.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"example.com/planner/internal/auth"
	"example.com/planner/internal/domain"
	"example.com/planner/internal/reschedule"
)

// Handler coordinates HTTP requests with the domain service.
type Handler struct {
	service   *domain.Service
	logger    *zap.Logger
	weekStart time.Weekday
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the handler logger.
func WithLogger(logger *zap.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithWeekStart sets the first day of week and month grids.
func WithWeekStart(d time.Weekday) Option {
	return func(h *Handler) { h.weekStart = d }
}

// NewHandler builds a Handler.
func NewHandler(service *domain.Service, opts ...Option) *Handler {
	h := &Handler{service: service, logger: zap.NewNop(), weekStart: time.Monday}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/events", h.events)
	mux.HandleFunc("/v1/events/conflicts", h.conflicts)
	mux.HandleFunc("/v1/events/", h.eventByID)
	mux.HandleFunc("/v1/calendar", h.calendarView)
	mux.HandleFunc("/v1/calendar/gestures", h.calendarGesture)
	mux.HandleFunc("/v1/calendar.ics", h.calendarFeed)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) events(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createEvent(w, r)
	case http.MethodGet:
		h.listEvents(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) eventByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/events/"), "/")
	parts := strings.Split(rest, "/")
	if rest == "" || len(parts) > 2 {
		writeError(w, http.StatusNotFound, "not_found", "unknown route")
		return
	}
	id := parts[0]

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			h.getEvent(w, r, id)
		case http.MethodDelete:
			h.deleteEvent(w, r, id)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		}
		return
	}

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	switch parts[1] {
	case "reschedule":
		h.rescheduleEvent(w, r, id)
	case "cancel":
		h.cancelEvent(w, r, id)
	case "complete":
		h.completeEvent(w, r, id)
	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown route")
	}
}

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
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
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ListEventsResponse{Items: events})
}

func (h *Handler) createEvent(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireWrite(w, r)
	if !ok {
		return
	}

	var req CreateEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	eventType, err := domain.ParseEventType(req.Type)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	event, err := h.service.CreateEvent(r.Context(), domain.CreateEventInput{
		OwnerID:    claims.OwnerID,
		Title:      req.Title,
		Notes:      req.Notes,
		Type:       eventType,
		Start:      req.Start,
		End:        req.End,
		Timezone:   req.Timezone,
		ResourceID: req.ResourceID,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, EventResponse{Event: *event, Conflicts: h.advisoryConflicts(r, *event)})
}

func (h *Handler) getEvent(w http.ResponseWriter, r *http.Request, id string) {
	claims, ok := requireRead(w, r)
	if !ok {
		return
	}

	event, err := h.service.GetEvent(r.Context(), claims.OwnerID, id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, EventResponse{Event: *event})
}

func (h *Handler) deleteEvent(w http.ResponseWriter, r *http.Request, id string) {
	claims, ok := requireWrite(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteEvent(r.Context(), claims.OwnerID, id); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) conflicts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := requireRead(w, r)
	if !ok {
		return
	}

	var req ConflictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	report, err := h.service.CheckConflicts(r.Context(), domain.Proposal{
		EventID:    req.EventID,
		OwnerID:    claims.OwnerID,
		ResourceID: strings.TrimSpace(req.ResourceID),
		Start:      req.Start,
		End:        req.End,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) rescheduleEvent(w http.ResponseWriter, r *http.Request, id string) {
	claims, ok := requireWrite(w, r)
	if !ok {
		return
	}

	var req RescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	h.reschedule(w, r, claims, id, req)
}

// reschedule runs the reschedule workflow for one request: propose, answer the
// reason prompt once and commit. The caller's expected version, when given, must
// match the stored one.
func (h *Handler) reschedule(w http.ResponseWriter, r *http.Request, claims *auth.Claims, id string, req RescheduleRequest) {
	current, err := h.service.GetEvent(r.Context(), claims.OwnerID, id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if req.ExpectedVersion != 0 && req.ExpectedVersion != current.Version {
		writeError(w, http.StatusConflict, "version_conflict", domain.ErrVersionConflict.Error())
		return
	}

	wf := reschedule.New(*current, claims.Subject, h.service,
		reschedule.WithConflictChecker(h.service),
		reschedule.WithLogger(h.logger))

	proposal, err := wf.Propose(r.Context(), req.Start, req.End)
	if errors.Is(err, reschedule.ErrNoChange) {
		writeJSON(w, http.StatusOK, RescheduleResponse{
			Event:     *current,
			Changed:   false,
			Conflicts: domain.ConflictReport{Events: []domain.CalendarEvent{}},
		})
		return
	}
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	var answer reschedule.Answer = reschedule.SkipReason{}
	if strings.TrimSpace(req.Reason) != "" {
		answer = reschedule.Reason{Text: req.Reason}
	}
	event, err := wf.Drive(r.Context(), reschedule.Answering(answer))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, RescheduleResponse{Event: event, Changed: true, Conflicts: proposal.Conflicts})
}

func (h *Handler) cancelEvent(w http.ResponseWriter, r *http.Request, id string) {
	claims, ok := requireWrite(w, r)
	if !ok {
		return
	}

	var req CancelRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
			return
		}
	}

	event, err := h.service.CancelEvent(r.Context(), claims.OwnerID, id, req.Reason)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, EventResponse{Event: *event})
}

func (h *Handler) completeEvent(w http.ResponseWriter, r *http.Request, id string) {
	claims, ok := requireWrite(w, r)
	if !ok {
		return
	}

	event, err := h.service.CompleteEvent(r.Context(), claims.OwnerID, id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, EventResponse{Event: *event})
}

func (h *Handler) advisoryConflicts(r *http.Request, event domain.CalendarEvent) *domain.ConflictReport {
	report, err := h.service.CheckConflicts(r.Context(), domain.Proposal{
		EventID:    event.ID,
		OwnerID:    event.OwnerID,
		ResourceID: event.ResourceID,
		Start:      event.Start,
		End:        event.End,
	})
	if err != nil {
		h.logger.Warn("conflict check after create failed", zap.String("event_id", event.ID), zap.Error(err))
		return nil
	}
	return &report
}

func requireRead(w http.ResponseWriter, r *http.Request) (*auth.Claims, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return nil, false
	}
	if !claims.CanReadBookings() {
		writeError(w, http.StatusForbidden, "forbidden", "scope bookings:read required")
		return nil, false
	}
	return claims, true
}

func requireWrite(w http.ResponseWriter, r *http.Request) (*auth.Claims, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return nil, false
	}
	if !claims.CanManageBookings() {
		writeError(w, http.StatusForbidden, "forbidden", "scope bookings:write required")
		return nil, false
	}
	return claims, true
}

func parseQuery(r *http.Request) (domain.Query, error) {
	var q domain.Query
	values := r.URL.Query()

	if raw := strings.TrimSpace(values.Get("type")); raw != "" && raw != "all" {
		t, err := domain.ParseEventType(raw)
		if err != nil {
			return q, err
		}
		q.Type = &t
	}
	for key, dst := range map[string]*time.Time{"from": &q.From, "to": &q.To} {
		raw := values.Get(key)
		if raw == "" {
			continue
		}
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return q, errors.New(key + " must be an RFC 3339 timestamp")
		}
		*dst = parsed.UTC()
	}
	return q, nil
}

// writeDomainError maps service and workflow errors onto HTTP statuses.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrLoadFailure):
		h.logger.Warn("calendar load failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "load_failed", domain.ErrLoadFailure.Error())
	case errors.Is(err, domain.ErrOwnerUnresolved):
		writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
	case errors.Is(err, domain.ErrEventNotFound):
		writeError(w, http.StatusNotFound, "not_found", "event not found")
	case errors.Is(err, domain.ErrVersionConflict):
		writeError(w, http.StatusConflict, "version_conflict", err.Error())
	case errors.Is(err, domain.ErrEventImmutable):
		writeError(w, http.StatusUnprocessableEntity, "event_immutable", err.Error())
	case errors.Is(err, domain.ErrInvalidInterval),
		errors.Is(err, domain.ErrUnknownEventType),
		errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, reschedule.ErrCommitInFlight), errors.Is(err, reschedule.ErrProposalInFlight):
		writeError(w, http.StatusConflict, "reschedule_in_flight", err.Error())
	default:
		h.logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
	}
}

// CreateEventRequest is the payload for POST /v1/events.
type CreateEventRequest struct {
	Title      string    `json:"title"`
	Notes      string    `json:"notes"`
	Type       string    `json:"type"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Timezone   string    `json:"timezone"`
	ResourceID string    `json:"resource_id"`
}

// ConflictRequest is the payload for POST /v1/events/conflicts. EventID is empty for a new event.
type ConflictRequest struct {
	EventID    string    `json:"event_id"`
	ResourceID string    `json:"resource_id"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
}

// RescheduleRequest is the payload for POST /v1/events/{id}/reschedule.
// An empty reason skips the reason prompt.
type RescheduleRequest struct {
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	Reason          string    `json:"reason"`
	ExpectedVersion int64     `json:"expected_version"`
}

// CancelRequest is the optional payload for POST /v1/events/{id}/cancel.
type CancelRequest struct {
	Reason string `json:"reason"`
}

// ListEventsResponse packages list results. Items is empty, never null, when the owner has no events.
type ListEventsResponse struct {
	Items []domain.CalendarEvent `json:"items"`
}

// EventResponse wraps a single event, with the advisory conflict report on create.
type EventResponse struct {
	Event     domain.CalendarEvent   `json:"event"`
	Conflicts *domain.ConflictReport `json:"conflicts,omitempty"`
}

// RescheduleResponse describes the outcome of a reschedule.
type RescheduleResponse struct {
	Event     domain.CalendarEvent  `json:"event"`
	Changed   bool                  `json:"changed"`
	Conflicts domain.ConflictReport `json:"conflicts"`
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
