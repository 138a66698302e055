// Package memory provides an in-process event store for local development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"example.com/planner/internal/domain"
)

// Store keeps events in memory. It applies the same atomicity and version rules as the Postgres store.
type Store struct {
	mu     sync.RWMutex
	events map[string]domain.CalendarEvent

	// failWith, when set, is returned by every call.
	failWith error

	writes int
	reads  int
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{events: make(map[string]domain.CalendarEvent)}
}

// Seed inserts events directly, bypassing validation.
func (s *Store) Seed(events ...domain.CalendarEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range events {
		if e.History == nil {
			e.History = []domain.TimeChangeRecord{}
		}
		if e.Version == 0 {
			e.Version = 1
		}
		s.events[e.ID] = e.Clone()
	}
}

// FailWith makes every call fail with err until cleared with FailWith(nil).
func (s *Store) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = err
}

// Writes reports the number of write calls that reached the store.
func (s *Store) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

// Reads reports the number of read calls that reached the store.
func (s *Store) Reads() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reads
}

// List implements domain.EventRepository.
func (s *Store) List(ctx context.Context, ownerID string, q domain.Query) ([]domain.CalendarEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if s.failWith != nil {
		return nil, s.failWith
	}

	out := make([]domain.CalendarEvent, 0)
	for _, e := range s.events {
		if e.OwnerID != ownerID || !q.Matches(e) {
			continue
		}
		out = append(out, e.Clone())
	}
	return out, nil
}

// Get implements domain.EventRepository.
func (s *Store) Get(ctx context.Context, ownerID, eventID string) (*domain.CalendarEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if s.failWith != nil {
		return nil, s.failWith
	}

	e, ok := s.events[eventID]
	if !ok || e.OwnerID != ownerID {
		return nil, nil
	}
	clone := e.Clone()
	return &clone, nil
}

// Create implements domain.EventRepository.
func (s *Store) Create(ctx context.Context, event domain.CalendarEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if s.failWith != nil {
		return s.failWith
	}

	if _, exists := s.events[event.ID]; exists {
		return fmt.Errorf("event %s already exists", event.ID)
	}
	if event.History == nil {
		event.History = []domain.TimeChangeRecord{}
	}
	s.events[event.ID] = event.Clone()
	return nil
}

// Reschedule implements domain.EventRepository. The time update and the history append happen under one lock.
func (s *Store) Reschedule(ctx context.Context, ownerID, eventID string, change domain.TimeChangeRecord, expectedVersion int64) (*domain.CalendarEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if s.failWith != nil {
		return nil, s.failWith
	}

	e, err := s.lockedMutable(ownerID, eventID)
	if err != nil {
		return nil, err
	}
	if e.Version != expectedVersion {
		return nil, fmt.Errorf("%w: expected version %d, stored %d", domain.ErrVersionConflict, expectedVersion, e.Version)
	}
	if err := domain.ValidateInterval(change.NewStart, change.NewEnd); err != nil {
		return nil, err
	}

	change.EventID = e.ID
	change.Sequence = len(e.History) + 1
	updated := e.Clone()
	updated.Start = change.NewStart
	updated.End = change.NewEnd
	updated.History = append(updated.History, change)
	updated.Version++
	updated.UpdatedAt = change.ChangedAt

	s.events[eventID] = updated
	out := updated.Clone()
	return &out, nil
}

// Transition implements domain.EventRepository.
func (s *Store) Transition(ctx context.Context, ownerID, eventID string, to domain.EventState, reason string, at time.Time) (*domain.CalendarEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if s.failWith != nil {
		return nil, s.failWith
	}

	e, err := s.lockedMutable(ownerID, eventID)
	if err != nil {
		return nil, err
	}
	updated := e.Clone()
	updated.State = to
	if to == domain.EventStateCancelled {
		updated.CancelReason = reason
	}
	updated.Version++
	updated.UpdatedAt = at

	s.events[eventID] = updated
	out := updated.Clone()
	return &out, nil
}

// Delete implements domain.EventRepository.
func (s *Store) Delete(ctx context.Context, ownerID, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if s.failWith != nil {
		return s.failWith
	}

	e, ok := s.events[eventID]
	if !ok || e.OwnerID != ownerID {
		return domain.ErrEventNotFound
	}
	delete(s.events, eventID)
	return nil
}

func (s *Store) lockedMutable(ownerID, eventID string) (domain.CalendarEvent, error) {
	e, ok := s.events[eventID]
	if !ok || e.OwnerID != ownerID {
		return domain.CalendarEvent{}, domain.ErrEventNotFound
	}
	if e.State.Terminal() {
		return domain.CalendarEvent{}, fmt.Errorf("%w: %s is %s", domain.ErrEventImmutable, e.ID, e.State)
	}
	return e, nil
}
