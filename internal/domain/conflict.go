package domain

import (
	"sort"
	"time"
)

// Overlaps reports whether [s1, e1) and [s2, e2) intersect.
func Overlaps(s1, e1, s2, e2 time.Time) bool {
	return s1.Before(e2) && s2.Before(e1)
}

// ConflictPolicy decides which existing events block a slot.
type ConflictPolicy struct {
	// BlockOnCompleted makes completed events count as occupying their slot.
	BlockOnCompleted bool
}

func (p ConflictPolicy) blocks(e CalendarEvent) bool {
	switch e.State {
	case EventStateCancelled:
		return false
	case EventStateCompleted:
		return p.BlockOnCompleted
	default:
		return true
	}
}

// Proposal is a candidate interval for a new event (EventID empty) or an existing one.
type Proposal struct {
	EventID    string
	OwnerID    string
	ResourceID string
	Start      time.Time
	End        time.Time
}

// ConflictReport is the advisory result of conflict detection.
type ConflictReport struct {
	Conflict bool            `json:"conflict"`
	Events   []CalendarEvent `json:"events"`
}

// DetectConflicts compares the proposal against existing events of the same owner
// and resource. The proposal's own event is never compared against itself.
func DetectConflicts(p Proposal, existing []CalendarEvent, policy ConflictPolicy) ConflictReport {
	report := ConflictReport{Events: []CalendarEvent{}}
	for _, e := range existing {
		if p.EventID != "" && e.ID == p.EventID {
			continue
		}
		if e.OwnerID != p.OwnerID || e.ResourceID != p.ResourceID {
			continue
		}
		if !policy.blocks(e) {
			continue
		}
		if Overlaps(p.Start, p.End, e.Start, e.End) {
			report.Events = append(report.Events, e)
		}
	}
	sort.SliceStable(report.Events, func(i, j int) bool {
		if report.Events[i].Start.Equal(report.Events[j].Start) {
			return report.Events[i].ID < report.Events[j].ID
		}
		return report.Events[i].Start.Before(report.Events[j].Start)
	})
	report.Conflict = len(report.Events) > 0
	return report
}
