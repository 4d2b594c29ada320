package reviews

import (
	"context"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/rakibhasan/clinicbook/services/clinic-service/internal/apperr"
	"github.com/rakibhasan/clinicbook/services/clinic-service/internal/model"
	"github.com/rakibhasan/clinicbook/services/clinic-service/internal/outbox"
	"github.com/rakibhasan/clinicbook/services/clinic-service/internal/storage"
)

type fakeBackend struct {
	doctor model.Doctor

	reviews []model.Review
	events  []outbox.Event

	// conflictsLeft makes the first N writes lose the aggregate race, the
	// way a concurrent reviewer would.
	conflictsLeft int
}

func (f *fakeBackend) GetByID(_ context.Context, id string) (model.Doctor, error) {
	if id != f.doctor.ID {
		return model.Doctor{}, storage.ErrNotFound
	}
	return f.doctor, nil
}

func (f *fakeBackend) Create(_ context.Context, rev model.Review, newRating float64, expectedCount int, ev outbox.Event) error {
	if f.conflictsLeft > 0 {
		f.conflictsLeft--
		// Someone else's review landed first.
		f.doctor.Rating = NextAverage(f.doctor.Rating, f.doctor.ReviewsCount, 3)
		f.doctor.ReviewsCount++
		return storage.ErrVersionConflict
	}
	if expectedCount != f.doctor.ReviewsCount {
		return storage.ErrVersionConflict
	}
	f.doctor.Rating = newRating
	f.doctor.ReviewsCount++
	f.reviews = append(f.reviews, rev)
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeBackend) ListByDoctor(_ context.Context, doctorID string) ([]model.Review, error) {
	return f.reviews, nil
}

type fakeNotifier struct {
	sent []model.Notification
}

func (n *fakeNotifier) Send(_ context.Context, userID, notifType, message string, details map[string]string) {
	n.sent = append(n.sent, model.Notification{UserID: userID, Type: notifType, Message: message, Details: details})
}

func newTestService(conflicts int) (*Service, *fakeBackend, *fakeNotifier) {
	backend := &fakeBackend{
		doctor: model.Doctor{
			ID: "doctor-1", UserID: "doc-user-1",
			Status: model.DoctorApproved,
		},
		conflictsLeft: conflicts,
	}
	notifier := &fakeNotifier{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(backend, backend, notifier, logger), backend, notifier
}

var reviewer = model.User{ID: "patient-1", Email: "pat@example.com", Role: model.RolePatient}

func TestSubmitSequenceAverages(t *testing.T) {
	svc, backend, _ := newTestService(0)

	want := []float64{4, 4.5, 4}
	for i, rating := range []float64{4, 5, 3} {
		if _, err := svc.Submit(context.Background(), reviewer, "doctor-1", "good", rating); err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
		if backend.doctor.Rating != want[i] {
			t.Fatalf("after review %d: expected rating %v, got %v", i+1, want[i], backend.doctor.Rating)
		}
	}
	if backend.doctor.ReviewsCount != 3 {
		t.Fatalf("expected 3 reviews counted, got %d", backend.doctor.ReviewsCount)
	}
}

func TestSubmitRetriesLostRace(t *testing.T) {
	svc, backend, _ := newTestService(2)

	if _, err := svc.Submit(context.Background(), reviewer, "doctor-1", "worth the wait", 5); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	// Two phantom 3-star reviews landed first, then ours: mean of 3, 3, 5.
	want := (3.0 + 3.0 + 5.0) / 3.0
	if math.Abs(backend.doctor.Rating-want) > 1e-9 {
		t.Fatalf("expected rating %v, got %v", want, backend.doctor.Rating)
	}
	if backend.doctor.ReviewsCount != 3 {
		t.Fatalf("expected count 3, got %d", backend.doctor.ReviewsCount)
	}
}

func TestSubmitGivesUpAfterRepeatedConflicts(t *testing.T) {
	svc, _, _ := newTestService(maxRetries)

	_, err := svc.Submit(context.Background(), reviewer, "doctor-1", "busy practice", 4)
	if apperr.KindOf(err) != apperr.Conflict {
		t.Fatalf("expected Conflict after exhausted retries, got %v", err)
	}
}

func TestSubmitValidation(t *testing.T) {
	svc, _, _ := newTestService(0)

	for _, rating := range []float64{0, 0.5, 5.5, -1} {
		_, err := svc.Submit(context.Background(), reviewer, "doctor-1", "fine", rating)
		if apperr.KindOf(err) != apperr.Validation {
			t.Fatalf("rating %v: expected Validation, got %v", rating, err)
		}
	}
}

func TestSubmitRequiresText(t *testing.T) {
	svc, backend, _ := newTestService(0)

	for _, text := range []string{"", "   ", "\n\t"} {
		_, err := svc.Submit(context.Background(), reviewer, "doctor-1", text, 4)
		if apperr.KindOf(err) != apperr.Validation {
			t.Fatalf("text %q: expected Validation, got %v", text, err)
		}
	}
	if len(backend.reviews) != 0 || backend.doctor.ReviewsCount != 0 {
		t.Fatalf("blank review must not be stored or counted, got %d reviews, count %d",
			len(backend.reviews), backend.doctor.ReviewsCount)
	}
}

func TestSubmitTargets(t *testing.T) {
	svc, backend, _ := newTestService(0)

	_, err := svc.Submit(context.Background(), reviewer, "ghost", "fine", 4)
	if apperr.KindOf(err) != apperr.InvalidTarget {
		t.Fatalf("expected InvalidTarget for unknown doctor, got %v", err)
	}

	backend.doctor.Status = model.DoctorPending
	_, err = svc.Submit(context.Background(), reviewer, "doctor-1", "fine", 4)
	if apperr.KindOf(err) != apperr.InvalidTarget {
		t.Fatalf("expected InvalidTarget for unapproved doctor, got %v", err)
	}

	backend.doctor.Status = model.DoctorApproved
	self := model.User{ID: "doc-user-1", Role: model.RoleDoctor}
	_, err = svc.Submit(context.Background(), self, "doctor-1", "fine", 4)
	if apperr.KindOf(err) != apperr.Validation {
		t.Fatalf("expected Validation for self-review, got %v", err)
	}
}

func TestSubmitNotifiesDoctor(t *testing.T) {
	svc, backend, notifier := newTestService(0)

	if _, err := svc.Submit(context.Background(), reviewer, "doctor-1", "excellent", 5); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(notifier.sent) != 1 || notifier.sent[0].UserID != "doc-user-1" {
		t.Fatalf("expected doctor notification, got %+v", notifier.sent)
	}
	details := notifier.sent[0].Details
	if details["reviewerEmail"] != "pat@example.com" || details["rating"] != "5" || details["text"] != "excellent" {
		t.Fatalf("notification details missing review snapshot: %+v", details)
	}
	if len(backend.events) != 1 || backend.events[0].Type != outbox.EventReviewSubmitted {
		t.Fatalf("expected review event, got %+v", backend.events)
	}
}
