package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/beautycita/schedule-service/internal/booking"
	"github.com/beautycita/schedule-service/internal/model"
	"github.com/beautycita/schedule-service/internal/outbox"
	"github.com/beautycita/schedule-service/internal/scheduling"
	"github.com/beautycita/schedule-service/libs/db"
)

// BookingRepository implements scheduling.BookingStore on Postgres. The
// bookings table carries an exclusion constraint over
// (provider_id, tstzrange(start_time, end_time)) for rows in an active
// status, so two transactions racing for the same interval cannot both
// commit; the loser surfaces as scheduling.ErrConflict.
type BookingRepository struct {
	pool   *db.Pool
	events *outbox.Repository
}

func NewBookingRepository(pool *db.Pool, events *outbox.Repository) *BookingRepository {
	return &BookingRepository{pool: pool, events: events}
}

// InTx runs fn in one transaction. Serialization failures and deadlocks come
// back as scheduling.ErrRetryable so callers can distinguish "retry the same
// request" from a real booking conflict.
func (r *BookingRepository) InTx(ctx context.Context, fn func(tx scheduling.BookingTx) error) error {
	err := db.InTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(&bookingTx{tx: tx, events: r.events})
	})
	if err != nil && IsRetryable(err) {
		return fmt.Errorf("%w: %v", scheduling.ErrRetryable, err)
	}
	return err
}

const bookingColumns = `id::text, provider_id::text, client_id::text, service_id::text,
	start_time, end_time, status, total_price_cents, created_at, updated_at`

func (r *BookingRepository) ListActiveOverlapping(ctx context.Context, providerID string, from, to time.Time) ([]model.Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE provider_id = $1
			AND status IN ('pending', 'confirmed')
			AND start_time < $3
			AND end_time > $2
		ORDER BY start_time ASC
	`, providerID, from, to)
	if err != nil {
		return nil, err
	}
	return scanBookings(rows)
}

func (r *BookingRepository) ListByProvider(ctx context.Context, providerID string, limit int) ([]model.Booking, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE provider_id = $1
		ORDER BY start_time DESC
		LIMIT $2
	`, providerID, limit)
	if err != nil {
		return nil, err
	}
	return scanBookings(rows)
}

// bookingTx is the transactional view handed to the engine.
type bookingTx struct {
	tx     pgx.Tx
	events *outbox.Repository
}

func (t *bookingTx) RequireProvider(ctx context.Context, providerID string) error {
	var exists bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM providers WHERE id = $1)
	`, providerID).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("provider %s: %w", providerID, scheduling.ErrNotFound)
	}
	return nil
}

func (t *bookingTx) ListActiveOverlapping(ctx context.Context, providerID string, from, to time.Time) ([]model.Booking, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE provider_id = $1
			AND status IN ('pending', 'confirmed')
			AND start_time < $3
			AND end_time > $2
		ORDER BY start_time ASC
	`, providerID, from, to)
	if err != nil {
		return nil, err
	}
	return scanBookings(rows)
}

func (t *bookingTx) InsertBooking(ctx context.Context, b *model.Booking) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO bookings
			(id, provider_id, client_id, service_id, start_time, end_time, status, total_price_cents)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`, b.ID, b.ProviderID, b.ClientID, b.ServiceID, b.StartTime, b.EndTime, b.Status, b.TotalPriceCents).
		Scan(&b.CreatedAt, &b.UpdatedAt)
	if IsConflict(err) {
		return fmt.Errorf("insert booking: %w", scheduling.ErrConflict)
	}
	return err
}

func (t *bookingTx) GetBookingForUpdate(ctx context.Context, bookingID string) (model.Booking, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE id = $1
		FOR UPDATE
	`, bookingID)
	b, err := scanBooking(row)
	if IsNotFound(err) {
		return model.Booking{}, fmt.Errorf("booking %s: %w", bookingID, scheduling.ErrNotFound)
	}
	return b, err
}

func (t *bookingTx) UpdateBookingStatus(ctx context.Context, bookingID string, status booking.Status) (time.Time, error) {
	var updatedAt time.Time
	err := t.tx.QueryRow(ctx, `
		UPDATE bookings
		SET status = $2,
			updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`, bookingID, status).Scan(&updatedAt)
	if IsNotFound(err) {
		return time.Time{}, fmt.Errorf("booking %s: %w", bookingID, scheduling.ErrNotFound)
	}
	return updatedAt, err
}

func (t *bookingTx) InsertEvent(ctx context.Context, evt outbox.Event) error {
	return t.events.Insert(ctx, t.tx, evt)
}

func (t *bookingTx) LockIdempotencyKey(ctx context.Context, providerID, key string) (scheduling.IdempotencyRecord, bool, error) {
	rec, err := t.selectIdempotencyForUpdate(ctx, providerID, key)
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return scheduling.IdempotencyRecord{}, false, err
	}

	_, err = t.tx.Exec(ctx, `
		INSERT INTO booking_idempotency_keys (provider_id, idempotency_key)
		VALUES ($1, $2)
		ON CONFLICT (provider_id, idempotency_key) DO NOTHING
	`, providerID, key)
	if err != nil {
		return scheduling.IdempotencyRecord{}, false, err
	}

	rec, err = t.selectIdempotencyForUpdate(ctx, providerID, key)
	if err != nil {
		return scheduling.IdempotencyRecord{}, false, err
	}
	return rec, false, nil
}

func (t *bookingTx) FinalizeIdempotency(ctx context.Context, providerID, key, bookingID string) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE booking_idempotency_keys
		SET booking_id = $3,
			updated_at = now()
		WHERE provider_id = $1 AND idempotency_key = $2
	`, providerID, key, bookingID)
	return err
}

func (t *bookingTx) ListExpiredPending(ctx context.Context, olderThan time.Time, limit int) ([]model.Booking, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := t.tx.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE status = 'pending'
			AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, olderThan, limit)
	if err != nil {
		return nil, err
	}
	return scanBookings(rows)
}

func (t *bookingTx) selectIdempotencyForUpdate(ctx context.Context, providerID, key string) (scheduling.IdempotencyRecord, error) {
	var rec scheduling.IdempotencyRecord
	err := t.tx.QueryRow(ctx, `
		SELECT provider_id::text,
			idempotency_key,
			COALESCE(booking_id::text, '')
		FROM booking_idempotency_keys
		WHERE provider_id = $1 AND idempotency_key = $2
		FOR UPDATE
	`, providerID, key).Scan(&rec.ProviderID, &rec.IdempotencyKey, &rec.BookingID)
	if err != nil {
		return scheduling.IdempotencyRecord{}, err
	}
	return rec, nil
}

func scanBooking(row pgx.Row) (model.Booking, error) {
	var b model.Booking
	err := row.Scan(
		&b.ID,
		&b.ProviderID,
		&b.ClientID,
		&b.ServiceID,
		&b.StartTime,
		&b.EndTime,
		&b.Status,
		&b.TotalPriceCents,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	return b, err
}

func scanBookings(rows pgx.Rows) ([]model.Booking, error) {
	defer rows.Close()
	var out []model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// IsConflict matches an exclusion constraint violation.
func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23P01"
}

// IsRetryable matches serialization failures and deadlocks, which are safe to
// retry with the identical request.
func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
