// Package domain defines the booking model and the business rules of the planner service.
package domain

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"example.com/planner/internal/cache"
	"example.com/planner/internal/observability"
)

// EventRepository captures persistence operations. The repository is the only writer of event state.
type EventRepository interface {
	List(ctx context.Context, ownerID string, q Query) ([]CalendarEvent, error)
	Get(ctx context.Context, ownerID, eventID string) (*CalendarEvent, error)
	Create(ctx context.Context, event CalendarEvent) error
	// Reschedule applies change to the event's start/end and appends it to the
	// history in one transaction, provided the stored version equals expectedVersion.
	Reschedule(ctx context.Context, ownerID, eventID string, change TimeChangeRecord, expectedVersion int64) (*CalendarEvent, error)
	Transition(ctx context.Context, ownerID, eventID string, to EventState, reason string, at time.Time) (*CalendarEvent, error)
	Delete(ctx context.Context, ownerID, eventID string) error
}

// Service orchestrates booking workflows.
type Service struct {
	repo   EventRepository
	cache  cache.Invalidator
	policy ConflictPolicy
	logger *zap.Logger
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithInvalidator sets the cache invalidated after every mutation.
func WithInvalidator(inv cache.Invalidator) Option {
	return func(s *Service) {
		if inv != nil {
			s.cache = inv
		}
	}
}

// WithConflictPolicy overrides the default policy (completed events do not block).
func WithConflictPolicy(p ConflictPolicy) Option {
	return func(s *Service) { s.policy = p }
}

// WithLogger sets the service logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService constructs a Service.
func NewService(repo EventRepository, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		cache:  cache.NoopInvalidator{},
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Policy returns the conflict policy in effect.
func (s *Service) Policy() ConflictPolicy {
	return s.policy
}

// CreateEventInput captures the payload from the API layer.
type CreateEventInput struct {
	OwnerID    string
	Title      string
	Notes      string
	Type       EventType
	Start      time.Time
	End        time.Time
	Timezone   string
	ResourceID string
}

// Validate checks the input before anything touches the store.
func (in CreateEventInput) Validate() error {
	if strings.TrimSpace(in.OwnerID) == "" {
		return ErrOwnerUnresolved
	}
	if strings.TrimSpace(in.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	if !in.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownEventType, in.Type)
	}
	if err := ValidateInterval(in.Start, in.End); err != nil {
		return err
	}
	if in.Timezone != "" {
		if _, err := time.LoadLocation(in.Timezone); err != nil {
			return fmt.Errorf("%w: unknown timezone %q", ErrValidation, in.Timezone)
		}
	}
	return nil
}

// CreateEvent persists a new scheduled event.
func (s *Service) CreateEvent(ctx context.Context, in CreateEventInput) (*CalendarEvent, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	event := CalendarEvent{
		ID:         uuid.NewString(),
		OwnerID:    in.OwnerID,
		Title:      strings.TrimSpace(in.Title),
		Notes:      strings.TrimSpace(in.Notes),
		Type:       in.Type,
		State:      EventStateScheduled,
		Start:      in.Start.UTC(),
		End:        in.End.UTC(),
		Timezone:   in.Timezone,
		ResourceID: strings.TrimSpace(in.ResourceID),
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
		History:    []TimeChangeRecord{},
	}

	if err := s.repo.Create(ctx, event); err != nil {
		return nil, err
	}
	s.afterMutation(ctx, "create", event)
	return &event, nil
}

// GetEvent fetches by ID.
func (s *Service) GetEvent(ctx context.Context, ownerID, eventID string) (*CalendarEvent, error) {
	event, err := s.repo.Get(ctx, ownerID, eventID)
	if err != nil {
		return nil, err
	}
	if event == nil {
		return nil, ErrEventNotFound
	}
	return event, nil
}

// ListEvents returns the owner's events matching q, ordered by start.
// Any failure, including an unresolved owner, is reported as a *LoadError.
func (s *Service) ListEvents(ctx context.Context, ownerID string, q Query) ([]CalendarEvent, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, &LoadError{Err: ErrOwnerUnresolved}
	}
	if q.Type != nil && !q.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, *q.Type)
	}

	events, err := s.repo.List(ctx, ownerID, q)
	if err != nil {
		s.logger.Warn("list events failed", zap.String("owner_id", ownerID), zap.Error(err))
		return nil, &LoadError{OwnerID: ownerID, Err: err}
	}
	if events == nil {
		events = []CalendarEvent{}
	}
	sortEvents(events)
	return events, nil
}

// CheckConflicts reports events that overlap the proposal. The result is advisory.
func (s *Service) CheckConflicts(ctx context.Context, p Proposal) (ConflictReport, error) {
	if err := ValidateInterval(p.Start, p.End); err != nil {
		return ConflictReport{}, err
	}
	candidates, err := s.ListEvents(ctx, p.OwnerID, Query{From: p.Start, To: p.End})
	if err != nil {
		return ConflictReport{}, err
	}
	report := DetectConflicts(p, candidates, s.policy)
	observability.RecordConflictCheck(report.Conflict)
	return report, nil
}

// RescheduleInput describes a time change request.
type RescheduleInput struct {
	OwnerID   string
	EventID   string
	Start     time.Time
	End       time.Time
	Reason    string
	ChangedBy string
	// ExpectedVersion is the version the caller loaded; zero means the current stored version.
	ExpectedVersion int64
}

// RescheduleResult is returned by RescheduleEvent.
type RescheduleResult struct {
	Event     CalendarEvent
	Changed   bool
	Conflicts ConflictReport
}

// RescheduleEvent moves an event and appends one TimeChangeRecord atomically.
// Moving an event to its current times is a no-op that never reaches the store's write path.
// A terminal event is reported as immutable even when the proposed interval is also invalid.
func (s *Service) RescheduleEvent(ctx context.Context, in RescheduleInput) (RescheduleResult, error) {
	current, err := s.GetEvent(ctx, in.OwnerID, in.EventID)
	if err != nil {
		return RescheduleResult{}, err
	}
	if current.State.Terminal() {
		return RescheduleResult{}, fmt.Errorf("%w: %s is %s", ErrEventImmutable, current.ID, current.State)
	}
	if err := ValidateInterval(in.Start, in.End); err != nil {
		return RescheduleResult{}, err
	}

	start, end := in.Start.UTC(), in.End.UTC()
	if current.SameTimes(start, end) {
		return RescheduleResult{Event: *current, Conflicts: ConflictReport{Events: []CalendarEvent{}}}, nil
	}

	expected := in.ExpectedVersion
	if expected == 0 {
		expected = current.Version
	}
	if expected != current.Version {
		return RescheduleResult{}, fmt.Errorf("%w: expected version %d, stored %d", ErrVersionConflict, expected, current.Version)
	}

	conflicts, err := s.CheckConflicts(ctx, Proposal{
		EventID:    current.ID,
		OwnerID:    current.OwnerID,
		ResourceID: current.ResourceID,
		Start:      start,
		End:        end,
	})
	if err != nil {
		// Conflicts are advisory; a failed check must not block the change.
		s.logger.Warn("conflict check failed during reschedule", zap.String("event_id", current.ID), zap.Error(err))
		conflicts = ConflictReport{Events: []CalendarEvent{}}
	}

	change := TimeChangeRecord{
		ID:            uuid.NewString(),
		EventID:       current.ID,
		Sequence:      len(current.History) + 1,
		OriginalStart: current.Start,
		OriginalEnd:   current.End,
		NewStart:      start,
		NewEnd:        end,
		Reason:        strings.TrimSpace(in.Reason),
		ChangedBy:     in.ChangedBy,
		ChangedAt:     s.now().UTC(),
	}

	updated, err := s.repo.Reschedule(ctx, in.OwnerID, in.EventID, change, expected)
	if err != nil {
		return RescheduleResult{}, err
	}
	s.afterMutation(ctx, "reschedule", *updated)
	return RescheduleResult{Event: *updated, Changed: true, Conflicts: conflicts}, nil
}

// CancelEvent moves the event to the cancelled terminal state.
func (s *Service) CancelEvent(ctx context.Context, ownerID, eventID, reason string) (*CalendarEvent, error) {
	return s.transition(ctx, ownerID, eventID, EventStateCancelled, strings.TrimSpace(reason))
}

// CompleteEvent moves the event to the completed terminal state.
func (s *Service) CompleteEvent(ctx context.Context, ownerID, eventID string) (*CalendarEvent, error) {
	return s.transition(ctx, ownerID, eventID, EventStateCompleted, "")
}

func (s *Service) transition(ctx context.Context, ownerID, eventID string, to EventState, reason string) (*CalendarEvent, error) {
	current, err := s.GetEvent(ctx, ownerID, eventID)
	if err != nil {
		return nil, err
	}
	if current.State.Terminal() {
		return nil, fmt.Errorf("%w: %s is %s", ErrEventImmutable, current.ID, current.State)
	}

	updated, err := s.repo.Transition(ctx, ownerID, eventID, to, reason, s.now().UTC())
	if err != nil {
		return nil, err
	}
	s.afterMutation(ctx, string(to), *updated)
	return updated, nil
}

// DeleteEvent hard-deletes the event and its history. This is distinct from cancellation.
func (s *Service) DeleteEvent(ctx context.Context, ownerID, eventID string) error {
	current, err := s.GetEvent(ctx, ownerID, eventID)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, ownerID, eventID); err != nil {
		if errors.Is(err, ErrEventNotFound) {
			return err
		}
		return fmt.Errorf("delete event %s: %w", eventID, err)
	}
	s.afterMutation(ctx, "delete", *current)
	return nil
}

func (s *Service) afterMutation(ctx context.Context, kind string, event CalendarEvent) {
	observability.RecordEventMutation(kind, event.UpdatedAt)
	if err := s.cache.Invalidate(ctx, event.OwnerID); err != nil {
		s.logger.Warn("cache invalidation failed",
			zap.String("owner_id", event.OwnerID),
			zap.String("event_id", event.ID),
			zap.Error(err))
	}
	s.logger.Info("event mutated",
		zap.String("kind", kind),
		zap.String("owner_id", event.OwnerID),
		zap.String("event_id", event.ID),
		zap.Int64("version", event.Version))
}

func sortEvents(events []CalendarEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Start.Equal(events[j].Start) {
			return events[i].ID < events[j].ID
		}
		return events[i].Start.Before(events[j].Start)
	})
}
