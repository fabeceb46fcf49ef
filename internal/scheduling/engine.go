package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/beautycita/schedule-service/internal/availability"
	"github.com/beautycita/schedule-service/internal/booking"
	"github.com/beautycita/schedule-service/internal/interval"
	"github.com/beautycita/schedule-service/internal/model"
	"github.com/beautycita/schedule-service/internal/outbox"
)

// Slot is a candidate bookable interval. Listings are advisory: a slot is not
// reserved until CreateBooking commits it.
type Slot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Engine is the scheduling facade. It is stateless; the bookings table is the
// only shared mutable resource and every mutation runs as one transaction.
type Engine struct {
	schedules ScheduleStore
	bookings  BookingStore
	logger    *slog.Logger
	minLead   time.Duration
	now       func() time.Time
}

type Options struct {
	// MinLeadTime excludes slots starting sooner than now + MinLeadTime.
	// Zero allows same-instant booking.
	MinLeadTime time.Duration
	// Now overrides the clock, for tests.
	Now func() time.Time
}

func New(schedules ScheduleStore, bookings BookingStore, logger *slog.Logger, opts Options) *Engine {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		schedules: schedules,
		bookings:  bookings,
		logger:    logger,
		minLead:   opts.MinLeadTime,
		now:       now,
	}
}

// AvailableSlots expands the provider's weekly rules over [from, to) in the
// provider's timezone, subtracts time off and active bookings, and discretizes
// what remains. Read-only; an empty result means the provider has no openings,
// which is not an error.
func (e *Engine) AvailableSlots(ctx context.Context, providerID string, from, to time.Time, duration time.Duration) ([]Slot, error) {
	if _, err := interval.New(from, to); err != nil {
		return nil, err
	}
	if duration <= 0 {
		return nil, fmt.Errorf("duration must be positive: %w", interval.ErrInvalidInterval)
	}

	tz, err := e.schedules.ProviderTimezone(ctx, providerID)
	if err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("provider %s timezone %q: %w", providerID, tz, err)
	}

	rules, err := e.schedules.ListRules(ctx, providerID)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return nil, nil
	}
	windows := availability.ExpandRules(rules, from, to, loc)

	timeOff, err := e.schedules.ListTimeOff(ctx, providerID, from, to)
	if err != nil {
		return nil, err
	}
	windows = availability.ApplyTimeOff(windows, timeOff)

	active, err := e.bookings.ListActiveOverlapping(ctx, providerID, from, to)
	if err != nil {
		return nil, err
	}
	busy := make([]interval.Interval, 0, len(active))
	for _, b := range active {
		busy = append(busy, interval.Interval{Start: b.StartTime, End: b.EndTime})
	}

	earliest := e.now().Add(e.minLead)
	starts := availability.SlotsInWindows(windows, busy, duration, earliest)

	slots := make([]Slot, 0, len(starts))
	for _, s := range starts {
		slots = append(slots, Slot{Start: s, End: s.Add(duration)})
	}
	return slots, nil
}

type CreateBookingRequest struct {
	ProviderID      string
	ClientID        string
	ServiceID       string
	StartTime       time.Time
	EndTime         time.Time
	TotalPriceCents int64
	// IdempotencyKey, when set, makes a duplicate submit return the booking
	// created by the first attempt instead of a conflict.
	IdempotencyKey string
}

// CreateBooking re-checks the interval for conflicts and inserts a PENDING
// booking, atomically. The overlap query and the insert run on one
// transaction, with the exclusion constraint as the backstop for races the
// read misses; the lifecycle event commits on the same transaction.
func (e *Engine) CreateBooking(ctx context.Context, req CreateBookingRequest) (model.Booking, error) {
	iv, err := interval.New(req.StartTime, req.EndTime)
	if err != nil {
		return model.Booking{}, err
	}
	if req.ProviderID == "" || req.ClientID == "" || req.ServiceID == "" {
		return model.Booking{}, errors.New("provider_id, client_id and service_id are required")
	}

	var out model.Booking
	txErr := e.bookings.InTx(ctx, func(tx BookingTx) error {
		if err := tx.RequireProvider(ctx, req.ProviderID); err != nil {
			return err
		}
		if req.IdempotencyKey != "" {
			rec, existed, err := tx.LockIdempotencyKey(ctx, req.ProviderID, req.IdempotencyKey)
			if err != nil {
				return err
			}
			if existed && rec.BookingID != "" {
				prev, err := tx.GetBookingForUpdate(ctx, rec.BookingID)
				if err != nil {
					return err
				}
				out = prev
				return nil
			}
			// Key locked but never finalized: the earlier attempt rolled
			// back, so this request proceeds as the first one.
		}

		overlapping, err := tx.ListActiveOverlapping(ctx, req.ProviderID, iv.Start, iv.End)
		if err != nil {
			return err
		}
		if len(overlapping) > 0 {
			return &ConflictError{BookingID: overlapping[0].ID}
		}

		b := model.Booking{
			ID:              uuid.NewString(),
			ProviderID:      req.ProviderID,
			ClientID:        req.ClientID,
			ServiceID:       req.ServiceID,
			StartTime:       iv.Start,
			EndTime:         iv.End,
			Status:          booking.StatusPending,
			TotalPriceCents: req.TotalPriceCents,
		}
		if err := tx.InsertBooking(ctx, &b); err != nil {
			return err
		}
		if err := tx.InsertEvent(ctx, lifecycleEvent(b, booking.EventCreated, e.now())); err != nil {
			return err
		}
		if req.IdempotencyKey != "" {
			if err := tx.FinalizeIdempotency(ctx, req.ProviderID, req.IdempotencyKey, b.ID); err != nil {
				return err
			}
		}
		out = b
		return nil
	})
	if txErr != nil {
		return model.Booking{}, txErr
	}

	e.logger.Info("booking created",
		"booking_id", out.ID,
		"provider_id", out.ProviderID,
		"start", out.StartTime,
		"end", out.EndTime,
	)
	return out, nil
}

// TransitionBooking moves a booking along the lifecycle table and records the
// transition's event. Illegal moves fail with booking.ErrInvalidTransition
// and leave the row untouched.
func (e *Engine) TransitionBooking(ctx context.Context, bookingID string, target booking.Status) (model.Booking, error) {
	if !target.Valid() {
		return model.Booking{}, fmt.Errorf("%w: unknown status %q", booking.ErrInvalidTransition, target)
	}

	var out model.Booking
	txErr := e.bookings.InTx(ctx, func(tx BookingTx) error {
		b, err := tx.GetBookingForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		eventType, err := booking.Transition(b.Status, target)
		if err != nil {
			return err
		}
		updatedAt, err := tx.UpdateBookingStatus(ctx, b.ID, target)
		if err != nil {
			return err
		}
		b.Status = target
		b.UpdatedAt = updatedAt
		if err := tx.InsertEvent(ctx, lifecycleEvent(b, eventType, e.now())); err != nil {
			return err
		}
		out = b
		return nil
	})
	if txErr != nil {
		return model.Booking{}, txErr
	}

	e.logger.Info("booking transitioned", "booking_id", out.ID, "status", out.Status)
	return out, nil
}

// ListBookings returns the provider's most recent bookings.
func (e *Engine) ListBookings(ctx context.Context, providerID string, limit int) ([]model.Booking, error) {
	return e.bookings.ListByProvider(ctx, providerID, limit)
}

// ExpirePending cancels PENDING bookings older than ttl, releasing their
// intervals. Each expiry goes through the transition table like any other
// cancellation but emits the expired event so consumers can tell a lapsed
// hold from an explicit cancellation. Returns the number of bookings expired.
func (e *Engine) ExpirePending(ctx context.Context, ttl time.Duration, batchSize int) (int, error) {
	cutoff := e.now().Add(-ttl)
	expired := 0
	err := e.bookings.InTx(ctx, func(tx BookingTx) error {
		stale, err := tx.ListExpiredPending(ctx, cutoff, batchSize)
		if err != nil {
			return err
		}
		for _, b := range stale {
			if _, err := booking.Transition(b.Status, booking.StatusCancelled); err != nil {
				return err
			}
			updatedAt, err := tx.UpdateBookingStatus(ctx, b.ID, booking.StatusCancelled)
			if err != nil {
				return err
			}
			b.Status = booking.StatusCancelled
			b.UpdatedAt = updatedAt
			if err := tx.InsertEvent(ctx, lifecycleEvent(b, booking.EventExpired, e.now())); err != nil {
				return err
			}
		}
		expired = len(stale)
		return nil
	})
	if err != nil {
		return 0, err
	}
	if expired > 0 {
		e.logger.Info("pending bookings expired", "count", expired, "older_than", cutoff)
	}
	return expired, nil
}

func lifecycleEvent(b model.Booking, eventType string, occurredAt time.Time) outbox.Event {
	payload, _ := json.Marshal(struct {
		BookingID  string    `json:"booking_id"`
		ProviderID string    `json:"provider_id"`
		ClientID   string    `json:"client_id"`
		ServiceID  string    `json:"service_id"`
		StartTime  time.Time `json:"start_time"`
		EndTime    time.Time `json:"end_time"`
		Status     string    `json:"status"`
		OccurredAt time.Time `json:"occurred_at"`
	}{
		BookingID:  b.ID,
		ProviderID: b.ProviderID,
		ClientID:   b.ClientID,
		ServiceID:  b.ServiceID,
		StartTime:  b.StartTime,
		EndTime:    b.EndTime,
		Status:     string(b.Status),
		OccurredAt: occurredAt.UTC(),
	})
	return outbox.Event{
		AggregateType: "booking",
		AggregateID:   b.ID,
		EventType:     eventType,
		Payload:       payload,
	}
}
