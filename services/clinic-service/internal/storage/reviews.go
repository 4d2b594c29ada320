package storage

import (
	"context"

	"github.com/rakibhasan/clinicbook/libs/db"
	"github.com/rakibhasan/clinicbook/services/clinic-service/internal/model"
	"github.com/rakibhasan/clinicbook/services/clinic-service/internal/outbox"
)

type ReviewRepository struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewReviewRepository(pool *db.Pool, ob *outbox.Repository) *ReviewRepository {
	return &ReviewRepository{pool: pool, outbox: ob}
}

// Create inserts the review and applies the recomputed aggregate in one
// transaction, guarded by the review count the service read. When a
// concurrent review wins the race nothing is written and the caller retries
// with fresh numbers.
func (r *ReviewRepository) Create(ctx context.Context, rev model.Review, newRating float64, expectedCount int, ev outbox.Event) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE doctors SET rating = $2, reviews_count = reviews_count + 1
		WHERE id = $1 AND reviews_count = $3`,
		rev.DoctorID, newRating, expectedCount,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO reviews (id, doctor_id, user_id, review_text, rating, created_at)
		VALUES ($1, $2, $3, $4, $5, now())`,
		rev.ID, rev.DoctorID, rev.UserID, rev.Text, rev.Rating,
	)
	if err != nil {
		return err
	}
	if err := r.outbox.Append(ctx, tx, ev); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *ReviewRepository) ListByDoctor(ctx context.Context, doctorID string) ([]model.Review, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, doctor_id, user_id, review_text, rating, created_at
		FROM reviews WHERE doctor_id = $1
		ORDER BY created_at DESC`, doctorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reviews []model.Review
	for rows.Next() {
		var rev model.Review
		if err := rows.Scan(&rev.ID, &rev.DoctorID, &rev.UserID, &rev.Text, &rev.Rating, &rev.CreatedAt); err != nil {
			return nil, err
		}
		reviews = append(reviews, rev)
	}
	return reviews, rows.Err()
}
