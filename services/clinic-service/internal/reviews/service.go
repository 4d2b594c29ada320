// Package reviews maintains each doctor's running rating average. The
// aggregate is recomputed from the value the writer read and applied only if
// no other review landed in between, so concurrent submissions never lose a
// contribution.
package reviews

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/rakibhasan/clinicbook/services/clinic-service/internal/apperr"
	"github.com/rakibhasan/clinicbook/services/clinic-service/internal/model"
	"github.com/rakibhasan/clinicbook/services/clinic-service/internal/outbox"
	"github.com/rakibhasan/clinicbook/services/clinic-service/internal/storage"
)

const maxRetries = 5

type ReviewStore interface {
	Create(ctx context.Context, rev model.Review, newRating float64, expectedCount int, ev outbox.Event) error
	ListByDoctor(ctx context.Context, doctorID string) ([]model.Review, error)
}

type DoctorStore interface {
	GetByID(ctx context.Context, id string) (model.Doctor, error)
}

type Notifier interface {
	Send(ctx context.Context, userID, notifType, message string, details map[string]string)
}

type Service struct {
	reviews  ReviewStore
	doctors  DoctorStore
	notifier Notifier
	logger   *slog.Logger
}

func NewService(reviews ReviewStore, doctors DoctorStore, notifier Notifier, logger *slog.Logger) *Service {
	return &Service{reviews: reviews, doctors: doctors, notifier: notifier, logger: logger}
}

// NextAverage folds one rating into the aggregate a doctor currently carries.
func NextAverage(current float64, count int, rating float64) float64 {
	return (current*float64(count) + rating) / float64(count+1)
}

// Submit stores a review against an approved doctor and folds its rating into
// the doctor's average. Lost races against concurrent reviews are retried
// with freshly read aggregates.
func (s *Service) Submit(ctx context.Context, actor model.User, doctorID, text string, rating float64) (model.Review, error) {
	if strings.TrimSpace(text) == "" {
		return model.Review{}, apperr.Validationf("review text is required")
	}
	if rating < 1 || rating > 5 {
		return model.Review{}, apperr.Validationf("rating must be between 1 and 5")
	}

	rev := model.Review{
		ID:       uuid.NewString(),
		DoctorID: doctorID,
		UserID:   actor.ID,
		Text:     text,
		Rating:   rating,
	}

	var doc model.Doctor
	for attempt := 0; attempt < maxRetries; attempt++ {
		var err error
		doc, err = s.doctors.GetByID(ctx, doctorID)
		if storage.IsNotFound(err) {
			return model.Review{}, apperr.InvalidTargetf("doctor %s does not exist", doctorID)
		}
		if err != nil {
			return model.Review{}, err
		}
		if doc.Status != model.DoctorApproved {
			return model.Review{}, apperr.InvalidTargetf("doctor %s cannot receive reviews", doctorID)
		}
		if doc.UserID == actor.ID {
			return model.Review{}, apperr.Validationf("doctors cannot review themselves")
		}

		newAverage := NextAverage(doc.Rating, doc.ReviewsCount, rating)
		ev, err := outbox.New(outbox.EventReviewSubmitted, outbox.ReviewSubmittedPayload{
			ReviewID:     rev.ID,
			DoctorID:     doc.ID,
			DoctorUserID: doc.UserID,
			Rating:       rating,
			NewAverage:   newAverage,
		})
		if err != nil {
			return model.Review{}, err
		}

		err = s.reviews.Create(ctx, rev, newAverage, doc.ReviewsCount, ev)
		if errors.Is(err, storage.ErrVersionConflict) {
			s.logger.Warn("review aggregate race lost, retrying",
				"doctor_id", doctorID, "attempt", attempt+1)
			continue
		}
		if err != nil {
			return model.Review{}, err
		}

		s.notifier.Send(ctx, doc.UserID, model.NotifyReviews,
			fmt.Sprintf("%s left a %.0f-star review on your profile.", actor.Email, rating),
			map[string]string{
				"reviewId":      rev.ID,
				"reviewerEmail": actor.Email,
				"rating":        fmt.Sprintf("%g", rating),
				"text":          text,
			})
		return rev, nil
	}
	return model.Review{}, apperr.Conflictf("doctor %s is receiving too many concurrent reviews, try again", doctorID)
}

// ListForDoctor returns a doctor's reviews, newest first.
func (s *Service) ListForDoctor(ctx context.Context, doctorID string) ([]model.Review, error) {
	if _, err := s.doctors.GetByID(ctx, doctorID); storage.IsNotFound(err) {
		return nil, apperr.NotFoundf("doctor %s not found", doctorID)
	} else if err != nil {
		return nil, err
	}
	return s.reviews.ListByDoctor(ctx, doctorID)
}
