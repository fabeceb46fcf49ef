package outbox

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/beautycita/schedule-service/libs/db"
	otelx "github.com/beautycita/schedule-service/libs/otel"
)

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert writes the event on the caller's transaction so the event commits or
// rolls back together with the booking row. The active trace context is
// captured alongside so the publisher can continue the trace later.
func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, evt Event) error {
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox_events (aggregate_type, aggregate_id, event_type, payload, traceparent, tracestate)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, evt.AggregateType, evt.AggregateID, evt.EventType, evt.Payload, traceparent, tracestate)
	return err
}

type PendingEvent struct {
	ID            int64
	EventID       string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	Traceparent   string
	Tracestate    string
	CreatedAt     time.Time
}

// FetchPending locks a batch of unpublished events. SKIP LOCKED lets multiple
// publisher replicas drain the table without contending on the same rows.
func (r *Repository) FetchPending(ctx context.Context, tx pgx.Tx, limit int) ([]PendingEvent, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, event_id, aggregate_type, aggregate_id, event_type, payload, traceparent, tracestate, created_at
		FROM outbox_events
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pending []PendingEvent
	for rows.Next() {
		var evt PendingEvent
		if err := rows.Scan(&evt.ID, &evt.EventID, &evt.AggregateType, &evt.AggregateID, &evt.EventType,
			&evt.Payload, &evt.Traceparent, &evt.Tracestate, &evt.CreatedAt); err != nil {
			return nil, err
		}
		pending = append(pending, evt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return pending, nil
}

func (r *Repository) MarkPublished(ctx context.Context, tx pgx.Tx, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		UPDATE outbox_events
		SET published_at = now()
		WHERE id = ANY($1)
	`, ids)
	return err
}
