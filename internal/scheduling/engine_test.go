package scheduling

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/beautycita/schedule-service/internal/booking"
	"github.com/beautycita/schedule-service/internal/interval"
	"github.com/beautycita/schedule-service/internal/model"
	"github.com/beautycita/schedule-service/internal/outbox"
)

// Monday 2026-03-02, the provider's timezone is UTC throughout.
func mon(h, m int) time.Time {
	return time.Date(2026, 3, 2, h, m, 0, 0, time.UTC)
}

type fakeScheduleStore struct {
	tz      string
	rules   []model.AvailabilityRule
	timeOff []model.TimeOffPeriod
}

func (s *fakeScheduleStore) ProviderTimezone(_ context.Context, providerID string) (string, error) {
	if s.tz == "" {
		return "", ErrNotFound
	}
	return s.tz, nil
}

func (s *fakeScheduleStore) ListRules(context.Context, string) ([]model.AvailabilityRule, error) {
	return s.rules, nil
}

func (s *fakeScheduleStore) ListTimeOff(_ context.Context, _ string, from, to time.Time) ([]model.TimeOffPeriod, error) {
	var out []model.TimeOffPeriod
	for _, p := range s.timeOff {
		if p.StartTime.Before(to) && p.EndTime.After(from) {
			out = append(out, p)
		}
	}
	return out, nil
}

// fakeBookingStore serializes transactions with a mutex and stages writes so
// a failed transaction leaves nothing behind, mirroring the atomic unit the
// real store provides.
type fakeBookingStore struct {
	mu        sync.Mutex
	providers map[string]bool
	bookings  map[string]model.Booking
	events    []outbox.Event
	idem      map[string]string
}

func newFakeBookingStore() *fakeBookingStore {
	return &fakeBookingStore{
		providers: map[string]bool{"p1": true},
		bookings:  map[string]model.Booking{},
		idem:      map[string]string{},
	}
}

func (s *fakeBookingStore) InTx(_ context.Context, fn func(tx BookingTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &fakeTx{
		providers: s.providers,
		bookings:  map[string]model.Booking{},
		idem:      map[string]string{},
	}
	for k, v := range s.bookings {
		tx.bookings[k] = v
	}
	for k, v := range s.idem {
		tx.idem[k] = v
	}

	if err := fn(tx); err != nil {
		return err
	}
	s.bookings = tx.bookings
	s.idem = tx.idem
	s.events = append(s.events, tx.events...)
	return nil
}

func (s *fakeBookingStore) ListActiveOverlapping(_ context.Context, providerID string, from, to time.Time) ([]model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return activeOverlapping(s.bookings, providerID, from, to), nil
}

func (s *fakeBookingStore) ListByProvider(_ context.Context, providerID string, limit int) ([]model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Booking
	for _, b := range s.bookings {
		if b.ProviderID == providerID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *fakeBookingStore) seed(b model.Booking) string {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookings[b.ID] = b
	return b.ID
}

type fakeTx struct {
	providers map[string]bool
	bookings  map[string]model.Booking
	idem      map[string]string
	events    []outbox.Event
}

func (t *fakeTx) RequireProvider(_ context.Context, providerID string) error {
	if !t.providers[providerID] {
		return ErrNotFound
	}
	return nil
}

func (t *fakeTx) ListActiveOverlapping(_ context.Context, providerID string, from, to time.Time) ([]model.Booking, error) {
	return activeOverlapping(t.bookings, providerID, from, to), nil
}

func (t *fakeTx) InsertBooking(_ context.Context, b *model.Booking) error {
	b.CreatedAt = time.Now()
	b.UpdatedAt = b.CreatedAt
	t.bookings[b.ID] = *b
	return nil
}

func (t *fakeTx) GetBookingForUpdate(_ context.Context, bookingID string) (model.Booking, error) {
	b, ok := t.bookings[bookingID]
	if !ok {
		return model.Booking{}, ErrNotFound
	}
	return b, nil
}

func (t *fakeTx) UpdateBookingStatus(_ context.Context, bookingID string, status booking.Status) (time.Time, error) {
	b, ok := t.bookings[bookingID]
	if !ok {
		return time.Time{}, ErrNotFound
	}
	b.Status = status
	b.UpdatedAt = time.Now()
	t.bookings[bookingID] = b
	return b.UpdatedAt, nil
}

func (t *fakeTx) InsertEvent(_ context.Context, evt outbox.Event) error {
	t.events = append(t.events, evt)
	return nil
}

func (t *fakeTx) LockIdempotencyKey(_ context.Context, providerID, key string) (IdempotencyRecord, bool, error) {
	k := providerID + "/" + key
	if id, ok := t.idem[k]; ok {
		return IdempotencyRecord{ProviderID: providerID, IdempotencyKey: key, BookingID: id}, true, nil
	}
	t.idem[k] = ""
	return IdempotencyRecord{ProviderID: providerID, IdempotencyKey: key}, false, nil
}

func (t *fakeTx) FinalizeIdempotency(_ context.Context, providerID, key, bookingID string) error {
	t.idem[providerID+"/"+key] = bookingID
	return nil
}

func (t *fakeTx) ListExpiredPending(_ context.Context, olderThan time.Time, limit int) ([]model.Booking, error) {
	var out []model.Booking
	for _, b := range t.bookings {
		if b.Status == booking.StatusPending && b.CreatedAt.Before(olderThan) {
			out = append(out, b)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func activeOverlapping(bookings map[string]model.Booking, providerID string, from, to time.Time) []model.Booking {
	want := interval.Interval{Start: from, End: to}
	var out []model.Booking
	for _, b := range bookings {
		if b.ProviderID != providerID || !b.Status.Active() {
			continue
		}
		if want.Overlaps(interval.Interval{Start: b.StartTime, End: b.EndTime}) {
			out = append(out, b)
		}
	}
	return out
}

func newTestEngine(schedules *fakeScheduleStore, bookings *fakeBookingStore) *Engine {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(schedules, bookings, logger, Options{
		// Fixed clock the day before the scenario Monday, so lead time
		// never interferes unless a test sets it.
		Now: func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
	})
}

func mondayNineToFive() *fakeScheduleStore {
	return &fakeScheduleStore{
		tz: "UTC",
		rules: []model.AvailabilityRule{{
			ProviderID:  "p1",
			Weekday:     1,
			StartMinute: 9 * 60,
			EndMinute:   17 * 60,
			SlotMinutes: 30,
		}},
	}
}

func TestAvailableSlots_EndToEndScenario(t *testing.T) {
	schedules := mondayNineToFive()
	schedules.timeOff = []model.TimeOffPeriod{{ProviderID: "p1", StartTime: mon(12, 0), EndTime: mon(13, 0)}}

	store := newFakeBookingStore()
	store.seed(model.Booking{
		ProviderID: "p1",
		StartTime:  mon(10, 0),
		EndTime:    mon(10, 30),
		Status:     booking.StatusConfirmed,
	})

	e := newTestEngine(schedules, store)
	slots, err := e.AvailableSlots(context.Background(), "p1", mon(0, 0), mon(0, 0).AddDate(0, 0, 1), 60*time.Minute)
	if err != nil {
		t.Fatalf("AvailableSlots: %v", err)
	}

	want := []time.Time{
		mon(9, 0),
		mon(10, 30), mon(11, 0),
		mon(13, 0), mon(13, 30), mon(14, 0), mon(14, 30),
		mon(15, 0), mon(15, 30), mon(16, 0),
	}
	if len(slots) != len(want) {
		t.Fatalf("expected %d slots, got %d: %v", len(want), len(slots), slots)
	}
	for i, s := range slots {
		if !s.Start.Equal(want[i]) {
			t.Fatalf("slot %d: expected %s, got %s", i, want[i].Format("15:04"), s.Start.Format("15:04"))
		}
		if !s.End.Equal(want[i].Add(60 * time.Minute)) {
			t.Fatalf("slot %d end: got %s", i, s.End)
		}
	}
}

func TestAvailableSlots_RepeatedReadsAreIdentical(t *testing.T) {
	schedules := mondayNineToFive()
	store := newFakeBookingStore()
	e := newTestEngine(schedules, store)

	first, err := e.AvailableSlots(context.Background(), "p1", mon(0, 0), mon(0, 0).AddDate(0, 0, 1), 30*time.Minute)
	if err != nil {
		t.Fatalf("first read: %v", err)
	}
	second, err := e.AvailableSlots(context.Background(), "p1", mon(0, 0), mon(0, 0).AddDate(0, 0, 1), 30*time.Minute)
	if err != nil {
		t.Fatalf("second read: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("reads differ in length: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("slot %d differs: %v vs %v", i, first[i], second[i])
		}
	}
}

func TestAvailableSlots_UnknownProvider(t *testing.T) {
	e := newTestEngine(&fakeScheduleStore{}, newFakeBookingStore())
	_, err := e.AvailableSlots(context.Background(), "ghost", mon(0, 0), mon(23, 0), 30*time.Minute)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAvailableSlots_InvalidRange(t *testing.T) {
	e := newTestEngine(mondayNineToFive(), newFakeBookingStore())
	_, err := e.AvailableSlots(context.Background(), "p1", mon(12, 0), mon(9, 0), 30*time.Minute)
	if !errors.Is(err, interval.ErrInvalidInterval) {
		t.Fatalf("expected ErrInvalidInterval, got %v", err)
	}
}

func TestCreateBooking_ConflictNamesHolder(t *testing.T) {
	store := newFakeBookingStore()
	holder := store.seed(model.Booking{
		ProviderID: "p1",
		StartTime:  mon(10, 0),
		EndTime:    mon(11, 0),
		Status:     booking.StatusPending,
	})

	e := newTestEngine(mondayNineToFive(), store)
	_, err := e.CreateBooking(context.Background(), CreateBookingRequest{
		ProviderID: "p1", ClientID: "c1", ServiceID: "s1",
		StartTime: mon(10, 30), EndTime: mon(11, 30),
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	var conflict *ConflictError
	if !errors.As(err, &conflict) || conflict.BookingID != holder {
		t.Fatalf("expected conflict naming %s, got %v", holder, err)
	}
}

func TestCreateBooking_AdjacentIntervalsBothSucceed(t *testing.T) {
	store := newFakeBookingStore()
	e := newTestEngine(mondayNineToFive(), store)

	for _, iv := range [][2]time.Time{
		{mon(10, 0), mon(11, 0)},
		{mon(11, 0), mon(12, 0)},
	} {
		if _, err := e.CreateBooking(context.Background(), CreateBookingRequest{
			ProviderID: "p1", ClientID: "c1", ServiceID: "s1",
			StartTime: iv[0], EndTime: iv[1],
		}); err != nil {
			t.Fatalf("adjacent booking [%s, %s) rejected: %v", iv[0].Format("15:04"), iv[1].Format("15:04"), err)
		}
	}
}

func TestCreateBooking_ConcurrentRequestsOneWinner(t *testing.T) {
	const n = 16
	store := newFakeBookingStore()
	e := newTestEngine(mondayNineToFive(), store)

	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(client string) {
			defer wg.Done()
			_, err := e.CreateBooking(context.Background(), CreateBookingRequest{
				ProviderID: "p1", ClientID: client, ServiceID: "s1",
				StartTime: mon(14, 0), EndTime: mon(15, 0),
			})
			errs <- err
		}(uuid.NewString())
	}
	wg.Wait()
	close(errs)

	won, lost := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, ErrConflict):
			lost++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if won != 1 || lost != n-1 {
		t.Fatalf("expected 1 winner and %d conflicts, got %d and %d", n-1, won, lost)
	}
}

func TestCreateBooking_IdempotentReplay(t *testing.T) {
	store := newFakeBookingStore()
	e := newTestEngine(mondayNineToFive(), store)

	req := CreateBookingRequest{
		ProviderID: "p1", ClientID: "c1", ServiceID: "s1",
		StartTime: mon(9, 0), EndTime: mon(10, 0),
		IdempotencyKey: "key-1",
	}
	first, err := e.CreateBooking(context.Background(), req)
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	second, err := e.CreateBooking(context.Background(), req)
	if err != nil {
		t.Fatalf("replay must not conflict: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("replay returned a different booking: %s vs %s", second.ID, first.ID)
	}
	if len(store.events) != 1 || store.events[0].EventType != booking.EventCreated {
		t.Fatalf("expected exactly one created event, got %v", store.events)
	}
}

func TestCreateBooking_InvalidInterval(t *testing.T) {
	e := newTestEngine(mondayNineToFive(), newFakeBookingStore())
	_, err := e.CreateBooking(context.Background(), CreateBookingRequest{
		ProviderID: "p1", ClientID: "c1", ServiceID: "s1",
		StartTime: mon(11, 0), EndTime: mon(11, 0),
	})
	if !errors.Is(err, interval.ErrInvalidInterval) {
		t.Fatalf("expected ErrInvalidInterval, got %v", err)
	}
}

func TestCreateBooking_UnknownProvider(t *testing.T) {
	store := newFakeBookingStore()
	e := newTestEngine(mondayNineToFive(), store)

	_, err := e.CreateBooking(context.Background(), CreateBookingRequest{
		ProviderID: "ghost", ClientID: "c1", ServiceID: "s1",
		StartTime: mon(10, 0), EndTime: mon(11, 0),
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if len(store.bookings) != 0 || len(store.events) != 0 {
		t.Fatalf("nothing may persist for an unknown provider: %d bookings, %d events",
			len(store.bookings), len(store.events))
	}
}

func TestTransitionBooking_LifecycleEmitsEvents(t *testing.T) {
	store := newFakeBookingStore()
	id := store.seed(model.Booking{
		ProviderID: "p1",
		StartTime:  mon(10, 0),
		EndTime:    mon(11, 0),
		Status:     booking.StatusPending,
	})
	e := newTestEngine(mondayNineToFive(), store)
	ctx := context.Background()

	b, err := e.TransitionBooking(ctx, id, booking.StatusConfirmed)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if b.Status != booking.StatusConfirmed {
		t.Fatalf("expected confirmed, got %s", b.Status)
	}

	if _, err = e.TransitionBooking(ctx, id, booking.StatusCompleted); err != nil {
		t.Fatalf("complete: %v", err)
	}

	// Terminal: no way back out.
	if _, err = e.TransitionBooking(ctx, id, booking.StatusCancelled); !errors.Is(err, booking.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition out of completed, got %v", err)
	}
	if got, _ := store.ListByProvider(ctx, "p1", 10); got[0].Status != booking.StatusCompleted {
		t.Fatalf("failed transition must leave status unchanged, got %s", got[0].Status)
	}

	wantEvents := []string{booking.EventConfirmed, booking.EventCompleted}
	if len(store.events) != len(wantEvents) {
		t.Fatalf("expected %d events, got %d", len(wantEvents), len(store.events))
	}
	for i, evt := range store.events {
		if evt.EventType != wantEvents[i] {
			t.Fatalf("event %d: expected %s, got %s", i, wantEvents[i], evt.EventType)
		}
		if evt.AggregateID != id {
			t.Fatalf("event %d keyed by %s, expected %s", i, evt.AggregateID, id)
		}
	}
}

func TestTransitionBooking_UnknownBooking(t *testing.T) {
	e := newTestEngine(mondayNineToFive(), newFakeBookingStore())
	_, err := e.TransitionBooking(context.Background(), uuid.NewString(), booking.StatusConfirmed)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTransitionBooking_UnknownStatus(t *testing.T) {
	e := newTestEngine(mondayNineToFive(), newFakeBookingStore())
	_, err := e.TransitionBooking(context.Background(), "whatever", booking.Status("paused"))
	if !errors.Is(err, booking.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestExpirePending_CancelsOnlyStaleHolds(t *testing.T) {
	store := newFakeBookingStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	stale := store.seed(model.Booking{
		ProviderID: "p1", StartTime: mon(10, 0), EndTime: mon(11, 0),
		Status: booking.StatusPending, CreatedAt: now.Add(-2 * time.Hour),
	})
	fresh := store.seed(model.Booking{
		ProviderID: "p1", StartTime: mon(11, 0), EndTime: mon(12, 0),
		Status: booking.StatusPending, CreatedAt: now.Add(-5 * time.Minute),
	})
	confirmed := store.seed(model.Booking{
		ProviderID: "p1", StartTime: mon(13, 0), EndTime: mon(14, 0),
		Status: booking.StatusConfirmed, CreatedAt: now.Add(-3 * time.Hour),
	})

	e := newTestEngine(mondayNineToFive(), store)
	n, err := e.ExpirePending(context.Background(), time.Hour, 100)
	if err != nil {
		t.Fatalf("ExpirePending: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 expiry, got %d", n)
	}

	status := func(id string) booking.Status {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.bookings[id].Status
	}
	if status(stale) != booking.StatusCancelled {
		t.Fatalf("stale hold not cancelled: %s", status(stale))
	}
	if status(fresh) != booking.StatusPending || status(confirmed) != booking.StatusConfirmed {
		t.Fatal("expiry touched bookings it should not have")
	}
	if len(store.events) != 1 || store.events[0].EventType != booking.EventExpired {
		t.Fatalf("expected one expired event, got %v", store.events)
	}
}
