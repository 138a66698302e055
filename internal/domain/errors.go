package domain

import "errors"

var (
	// ErrEventNotFound is returned when an event cannot be located for the owner.
	ErrEventNotFound = errors.New("event not found")
	// ErrEventImmutable is returned when a change targets a completed or cancelled event.
	ErrEventImmutable = errors.New("event is completed or cancelled")
	// ErrInvalidInterval is returned when end is not after start.
	ErrInvalidInterval = errors.New("invalid time interval")
	// ErrVersionConflict indicates the event changed since the caller loaded it.
	ErrVersionConflict = errors.New("event was modified concurrently")
	// ErrUnknownEventType rejects types outside the closed set.
	ErrUnknownEventType = errors.New("unknown event type")
	// ErrValidation wraps input validation failures.
	ErrValidation = errors.New("validation failed")
	// ErrOwnerUnresolved means the identity provider did not yield an owner id.
	ErrOwnerUnresolved = errors.New("owner could not be resolved")
	// ErrLoadFailure marks every error surfaced by the query layer.
	ErrLoadFailure = errors.New("unable to load calendar")
)

// LoadError is returned by the query layer so callers can tell an error state
// apart from an empty result.
type LoadError struct {
	OwnerID string
	Err     error
}

func (e *LoadError) Error() string {
	return ErrLoadFailure.Error() + ": " + e.Err.Error()
}

// Unwrap exposes both the load marker and the cause.
func (e *LoadError) Unwrap() []error {
	return []error{ErrLoadFailure, e.Err}
}
