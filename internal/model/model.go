package model

import (
	"time"

	"github.com/beautycita/schedule-service/internal/booking"
)

// Provider is the owner of a calendar. The engine only ever needs the
// identifier and the IANA timezone; profile data lives elsewhere.
type Provider struct {
	ID        string
	Timezone  string
	CreatedAt time.Time
}

// AvailabilityRule is one weekly-recurring working window for a provider.
// Times are minutes from local midnight in the provider's timezone, so the
// rule survives DST shifts (the wall time stays fixed, the UTC instant moves).
// A provider may hold several rules for the same weekday; they are unioned.
type AvailabilityRule struct {
	ID            string
	ProviderID    string
	Weekday       int // 0 = Sunday .. 6 = Saturday
	StartMinute   int // 0..1439
	EndMinute     int // 1..1440, > StartMinute
	SlotMinutes   int // step granularity for generated slots
	BufferMinutes int // setup time reserved after each booking
	CreatedAt     time.Time
}

// TimeOffPeriod is a one-off exclusion overriding the recurring rules.
type TimeOffPeriod struct {
	ID         string
	ProviderID string
	StartTime  time.Time
	EndTime    time.Time
	Reason     string
	CreatedAt  time.Time
}

// Booking occupies [StartTime, EndTime) on a provider's calendar. Once
// created, the interval is immutable; only the status moves, and only along
// the lifecycle table in the booking package.
type Booking struct {
	ID              string
	ProviderID      string
	ClientID        string
	ServiceID       string
	StartTime       time.Time
	EndTime         time.Time
	Status          booking.Status
	TotalPriceCents int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
