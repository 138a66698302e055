package auth

// Scopes understood by the planner API.
const (
	ScopeBookingsRead  = "bookings:read"
	ScopeBookingsWrite = "bookings:write"
)

// CanManageBookings reports whether the caller may create, move or cancel events.
func (c *Claims) CanManageBookings() bool {
	return c.HasScope(ScopeBookingsWrite)
}

// CanReadBookings reports whether the caller may read the calendar. Write implies read.
func (c *Claims) CanReadBookings() bool {
	return c.HasAnyScope(ScopeBookingsRead, ScopeBookingsWrite)
}
