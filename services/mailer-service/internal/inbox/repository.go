// Package inbox deduplicates consumed events. Kafka delivers at least once;
// the unique event ID makes processing effectively once.
package inbox

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rakibhasan/clinicbook/libs/db"
)

var ErrDuplicate = errors.New("event already processed")

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// Record claims an event ID. A second claim for the same ID returns
// ErrDuplicate and the caller skips the message.
func (r *Repository) Record(ctx context.Context, eventID, eventType string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO inbox_events (event_id, event_type, processed_at)
		VALUES ($1, $2, now())`,
		eventID, eventType,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicate
	}
	return err
}
