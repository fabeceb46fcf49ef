package scheduling

import (
	"context"
	"time"

	"github.com/beautycita/schedule-service/internal/booking"
	"github.com/beautycita/schedule-service/internal/model"
	"github.com/beautycita/schedule-service/internal/outbox"
)

// ScheduleStore reads the provider's recurring rules and time off.
type ScheduleStore interface {
	ProviderTimezone(ctx context.Context, providerID string) (string, error)
	ListRules(ctx context.Context, providerID string) ([]model.AvailabilityRule, error)
	ListTimeOff(ctx context.Context, providerID string, from, to time.Time) ([]model.TimeOffPeriod, error)
}

// BookingStore owns the bookings table. InTx runs fn inside a single database
// transaction; the conflict re-check, the insert, and the outbox write all
// happen on the same tx so a timeout or crash leaves no partial booking.
// Implementations translate their conflict/not-found/contention failures into
// ErrConflict, ErrNotFound and ErrRetryable.
type BookingStore interface {
	InTx(ctx context.Context, fn func(tx BookingTx) error) error
	ListActiveOverlapping(ctx context.Context, providerID string, from, to time.Time) ([]model.Booking, error)
	ListByProvider(ctx context.Context, providerID string, limit int) ([]model.Booking, error)
}

// BookingTx is the transactional view of BookingStore.
type BookingTx interface {
	RequireProvider(ctx context.Context, providerID string) error
	ListActiveOverlapping(ctx context.Context, providerID string, from, to time.Time) ([]model.Booking, error)
	InsertBooking(ctx context.Context, b *model.Booking) error
	GetBookingForUpdate(ctx context.Context, bookingID string) (model.Booking, error)
	UpdateBookingStatus(ctx context.Context, bookingID string, status booking.Status) (time.Time, error)
	InsertEvent(ctx context.Context, evt outbox.Event) error
	LockIdempotencyKey(ctx context.Context, providerID, key string) (IdempotencyRecord, bool, error)
	FinalizeIdempotency(ctx context.Context, providerID, key, bookingID string) error
	ListExpiredPending(ctx context.Context, olderThan time.Time, limit int) ([]model.Booking, error)
}

// IdempotencyRecord is the stored outcome of a previous booking request made
// with the same Idempotency-Key. BookingID is empty while a request that
// locked the key has not finalized yet.
type IdempotencyRecord struct {
	ProviderID     string
	IdempotencyKey string
	BookingID      string
}
