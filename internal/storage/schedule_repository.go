package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/beautycita/schedule-service/internal/model"
	"github.com/beautycita/schedule-service/internal/scheduling"
	"github.com/beautycita/schedule-service/libs/db"
)

// ScheduleRepository implements scheduling.ScheduleStore plus the write side
// of the provider schedule: timezone upserts, weekly rule replacement and
// time off.
type ScheduleRepository struct {
	pool *db.Pool
}

func NewScheduleRepository(pool *db.Pool) *ScheduleRepository {
	return &ScheduleRepository{pool: pool}
}

func (r *ScheduleRepository) UpsertProvider(ctx context.Context, providerID, timezone string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO providers (id, timezone)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE
		SET timezone = EXCLUDED.timezone
	`, providerID, timezone)
	return err
}

func (r *ScheduleRepository) ProviderTimezone(ctx context.Context, providerID string) (string, error) {
	var tz string
	err := r.pool.QueryRow(ctx, `
		SELECT timezone FROM providers WHERE id = $1
	`, providerID).Scan(&tz)
	if IsNotFound(err) {
		return "", fmt.Errorf("provider %s: %w", providerID, scheduling.ErrNotFound)
	}
	return tz, err
}

func (r *ScheduleRepository) ListRules(ctx context.Context, providerID string) ([]model.AvailabilityRule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, provider_id::text, weekday, start_minute, end_minute,
			slot_minutes, buffer_minutes, created_at
		FROM availability_rules
		WHERE provider_id = $1
		ORDER BY weekday ASC, start_minute ASC
	`, providerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AvailabilityRule
	for rows.Next() {
		var rule model.AvailabilityRule
		if err := rows.Scan(&rule.ID, &rule.ProviderID, &rule.Weekday, &rule.StartMinute,
			&rule.EndMinute, &rule.SlotMinutes, &rule.BufferMinutes, &rule.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// ReplaceRules swaps the provider's whole week atomically. Edits apply from
// now on; existing bookings keep the interval they were created with.
func (r *ScheduleRepository) ReplaceRules(ctx context.Context, providerID string, rules []model.AvailabilityRule) error {
	if err := r.requireProvider(ctx, providerID); err != nil {
		return err
	}
	return db.InTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			DELETE FROM availability_rules WHERE provider_id = $1
		`, providerID); err != nil {
			return err
		}
		for _, rule := range rules {
			if _, err := tx.Exec(ctx, `
				INSERT INTO availability_rules
					(id, provider_id, weekday, start_minute, end_minute, slot_minutes, buffer_minutes)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
			`, uuid.NewString(), providerID, rule.Weekday, rule.StartMinute, rule.EndMinute,
				rule.SlotMinutes, rule.BufferMinutes); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *ScheduleRepository) CreateTimeOff(ctx context.Context, providerID string, start, end time.Time, reason string) (string, error) {
	if err := r.requireProvider(ctx, providerID); err != nil {
		return "", err
	}
	id := uuid.NewString()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO time_off (id, provider_id, start_time, end_time, reason)
		VALUES ($1, $2, $3, $4, $5)
	`, id, providerID, start, end, reason)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *ScheduleRepository) ListTimeOff(ctx context.Context, providerID string, from, to time.Time) ([]model.TimeOffPeriod, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, provider_id::text, start_time, end_time, reason, created_at
		FROM time_off
		WHERE provider_id = $1
			AND end_time > $2
			AND start_time < $3
		ORDER BY start_time ASC
	`, providerID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.TimeOffPeriod
	for rows.Next() {
		var p model.TimeOffPeriod
		if err := rows.Scan(&p.ID, &p.ProviderID, &p.StartTime, &p.EndTime, &p.Reason, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (r *ScheduleRepository) DeleteTimeOff(ctx context.Context, providerID, timeOffID string) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM time_off
		WHERE provider_id = $1 AND id = $2
	`, providerID, timeOffID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("time off %s: %w", timeOffID, scheduling.ErrNotFound)
	}
	return nil
}

func (r *ScheduleRepository) requireProvider(ctx context.Context, providerID string) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM providers WHERE id = $1)
	`, providerID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("provider %s: %w", providerID, scheduling.ErrNotFound)
	}
	return nil
}
