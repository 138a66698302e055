package consumer

import (
	"context"

	"example.com/planner/internal/cache"
)

// InvalidationHandler forwards every booking change to a cache invalidator so that
// readers in other processes drop the owner's cached calendar.
type InvalidationHandler struct {
	invalidator cache.Invalidator
}

// NewInvalidationHandler constructs an InvalidationHandler.
func NewInvalidationHandler(inv cache.Invalidator) *InvalidationHandler {
	if inv == nil {
		inv = cache.NoopInvalidator{}
	}
	return &InvalidationHandler{invalidator: inv}
}

// Handle invalidates the owner carried by msg. Messages without an owner are ignored.
func (h *InvalidationHandler) Handle(ctx context.Context, msg Message) error {
	if msg.OwnerID == "" {
		return nil
	}
	return h.invalidator.Invalidate(ctx, msg.OwnerID)
}
