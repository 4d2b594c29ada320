package outbox

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rakibhasan/clinicbook/libs/db"
	"github.com/rakibhasan/clinicbook/libs/otelx"
)

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// Append inserts an event inside the caller's transaction so the event
// commits or rolls back with the state change it describes. The current
// trace context is captured so consumers can link their spans back.
func (r *Repository) Append(ctx context.Context, tx pgx.Tx, ev Event) error {
	traceParent, traceState := otelx.TraceContextStrings(ctx)
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox_events (id, event_type, payload, trace_parent, trace_state, created_at)
		VALUES ($1, $2, $3, $4, $5, now())`,
		ev.ID, ev.Type, ev.Payload, traceParent, traceState,
	)
	return err
}

// ClaimBatch locks up to limit unpublished events for this publisher run.
// FOR UPDATE SKIP LOCKED lets multiple replicas drain without contention.
func (r *Repository) ClaimBatch(ctx context.Context, tx pgx.Tx, limit int) ([]Event, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, event_type, payload, trace_parent, trace_state, created_at
		FROM outbox_events
		WHERE published_at IS NULL
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.Type, &ev.Payload, &ev.TraceParent, &ev.TraceState, &ev.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (r *Repository) MarkPublished(ctx context.Context, tx pgx.Tx, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `UPDATE outbox_events SET published_at = now() WHERE id = ANY($1)`, ids)
	return err
}

// DeletePublishedBefore prunes rows already shipped to Kafka. Called
// opportunistically by the publisher loop.
func (r *Repository) DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM outbox_events WHERE published_at IS NOT NULL AND published_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}
