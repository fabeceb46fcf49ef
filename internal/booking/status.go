package booking

import (
	"errors"
	"fmt"
)

// Status is the booking lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// ErrInvalidTransition is returned for any move not in the transition table.
// The booking is left unchanged.
var ErrInvalidTransition = errors.New("booking: invalid status transition")

// Lifecycle event types, published through the outbox. Topic per event type.
const (
	EventCreated   = "scheduling.booking.created.v1"
	EventConfirmed = "scheduling.booking.confirmed.v1"
	EventCompleted = "scheduling.booking.completed.v1"
	EventCancelled = "scheduling.booking.cancelled.v1"
	EventExpired   = "scheduling.booking.expired.v1"
)

// transitions maps each legal move to the event it emits.
// completed and cancelled are terminal: no outgoing edges.
var transitions = map[Status]map[Status]string{
	StatusPending: {
		StatusConfirmed: EventConfirmed,
		StatusCancelled: EventCancelled,
	},
	StatusConfirmed: {
		StatusCompleted: EventCompleted,
		StatusCancelled: EventCancelled,
	},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether s admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Active reports whether a booking in this status occupies calendar time.
// Only active bookings participate in conflict detection.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusConfirmed
}

// Transition validates the move from -> to and returns the event type the
// caller should publish. It does not mutate anything; persistence is the
// caller's job, inside the same transaction as the event write.
func Transition(from, to Status) (string, error) {
	if evt, ok := transitions[from][to]; ok {
		return evt, nil
	}
	return "", fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
