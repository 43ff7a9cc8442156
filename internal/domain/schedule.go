package domain

import (
	"fmt"
	"time"
)

// Slot is a half-open time interval [StartAt, EndAt) during which an
// appointment occupies workshop capacity.
type Slot struct {
	StartAt time.Time
	EndAt   time.Time
}

// NewSlot validates and constructs a slot. Timestamps are normalised to UTC.
func NewSlot(startAt, endAt time.Time) (Slot, error) {
	if startAt.IsZero() || endAt.IsZero() {
		return Slot{}, fmt.Errorf("slot: start and end are required")
	}
	if !startAt.Before(endAt) {
		return Slot{}, fmt.Errorf("slot: start %s must be before end %s",
			startAt.UTC().Format(time.RFC3339), endAt.UTC().Format(time.RFC3339))
	}
	return Slot{StartAt: startAt.UTC(), EndAt: endAt.UTC()}, nil
}

// Overlaps reports whether two slots intersect under strict inequality on
// both ends. Back-to-back slots, where one ends exactly when the other
// starts, do not overlap.
func (s Slot) Overlaps(other Slot) bool {
	return s.StartAt.Before(other.EndAt) && other.StartAt.Before(s.EndAt)
}

// IsZero reports whether the slot carries no interval.
func (s Slot) IsZero() bool {
	return s.StartAt.IsZero() && s.EndAt.IsZero()
}

func (s Slot) String() string {
	return fmt.Sprintf("[%s, %s)", s.StartAt.Format(time.RFC3339), s.EndAt.Format(time.RFC3339))
}

// BookedSlot pairs an appointment's identity and status with its slot for
// conflict detection across a workshop's booking set.
type BookedSlot struct {
	AppointmentID string
	Status        AppointmentStatus
	Slot          Slot
}

// FindConflict returns the first booking whose slot overlaps the candidate.
// Cancelled bookings never block, and the appointment identified by
// excludeID (the one being rescheduled) is skipped. The workshop is treated
// as a single undifferentiated booking lane.
func FindConflict(existing []BookedSlot, candidate Slot, excludeID string) (BookedSlot, bool) {
	for _, booked := range existing {
		if excludeID != "" && booked.AppointmentID == excludeID {
			continue
		}
		if !booked.Status.Active() {
			continue
		}
		if booked.Slot.Overlaps(candidate) {
			return booked, true
		}
	}
	return BookedSlot{}, false
}
