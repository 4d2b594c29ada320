package approval

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"

	"github.com/rakibhasan/clinicbook/services/clinic-service/internal/apperr"
	"github.com/rakibhasan/clinicbook/services/clinic-service/internal/model"
	"github.com/rakibhasan/clinicbook/services/clinic-service/internal/outbox"
	"github.com/rakibhasan/clinicbook/services/clinic-service/internal/storage"
)

type fakeDoctors struct {
	byID   map[string]model.Doctor
	events []outbox.Event
	roles  map[string]string // userID -> role set on approval
}

func newFakeDoctors() *fakeDoctors {
	return &fakeDoctors{byID: map[string]model.Doctor{}, roles: map[string]string{}}
}

func (f *fakeDoctors) CreateApplication(_ context.Context, d model.Doctor) error {
	for _, existing := range f.byID {
		if existing.UserID == d.UserID {
			return &uniqueViolation{}
		}
	}
	f.byID[d.ID] = d
	return nil
}

// uniqueViolation mimics the 23505 path without a live database.
type uniqueViolation struct{}

func (*uniqueViolation) Error() string { return "duplicate key value violates unique constraint" }

func (f *fakeDoctors) GetByID(_ context.Context, id string) (model.Doctor, error) {
	d, ok := f.byID[id]
	if !ok {
		return model.Doctor{}, storage.ErrNotFound
	}
	return d, nil
}

func (f *fakeDoctors) GetByUserID(_ context.Context, userID string) (model.Doctor, error) {
	for _, d := range f.byID {
		if d.UserID == userID {
			return d, nil
		}
	}
	return model.Doctor{}, storage.ErrNotFound
}

func (f *fakeDoctors) ListPending(_ context.Context) ([]model.Doctor, error) {
	var out []model.Doctor
	for _, d := range f.byID {
		if d.Status == model.DoctorPending {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeDoctors) Approve(ctx context.Context, id string, ev outbox.Event) (model.Doctor, error) {
	return f.decide(ctx, id, model.DoctorApproved, ev)
}

func (f *fakeDoctors) Reject(ctx context.Context, id string, ev outbox.Event) (model.Doctor, error) {
	return f.decide(ctx, id, model.DoctorRejected, ev)
}

func (f *fakeDoctors) decide(_ context.Context, id, status string, ev outbox.Event) (model.Doctor, error) {
	d, ok := f.byID[id]
	if !ok {
		return model.Doctor{}, storage.ErrNotFound
	}
	if d.Status != model.DoctorPending {
		return model.Doctor{}, &storage.StateError{Current: d.Status}
	}
	d.Status = status
	f.events = append(f.events, ev)
	if status == model.DoctorApproved {
		f.byID[id] = d
		f.roles[d.UserID] = model.RoleDoctor
	} else {
		delete(f.byID, id)
	}
	return d, nil
}

func (f *fakeDoctors) UpdateProfile(_ context.Context, id string, updated model.Doctor) error {
	d, ok := f.byID[id]
	if !ok {
		return storage.ErrNotFound
	}
	d.FirstName = updated.FirstName
	d.LastName = updated.LastName
	d.Specialty = updated.Specialty
	d.ConsultationFee = updated.ConsultationFee
	f.byID[id] = d
	return nil
}

type fakeUsers struct {
	admins []model.User
}

func (f *fakeUsers) GetByID(_ context.Context, id string) (model.User, error) {
	return model.User{ID: id}, nil
}

func (f *fakeUsers) ListAdmins(_ context.Context) ([]model.User, error) {
	return f.admins, nil
}

type fakeNotifier struct {
	sent []model.Notification
}

func (n *fakeNotifier) Send(_ context.Context, userID, notifType, message string, details map[string]string) {
	n.sent = append(n.sent, model.Notification{UserID: userID, Type: notifType, Message: message, Details: details})
}

func (n *fakeNotifier) SendAll(ctx context.Context, userIDs []string, notifType, message string, details map[string]string) {
	for _, id := range userIDs {
		n.Send(ctx, id, notifType, message, details)
	}
}

func newTestService() (*Service, *fakeDoctors, *fakeNotifier) {
	doctors := newFakeDoctors()
	notifier := &fakeNotifier{}
	users := &fakeUsers{admins: []model.User{{ID: "admin-1", Role: model.RoleAdmin}, {ID: "admin-2", Role: model.RoleAdmin}}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(doctors, users, notifier, logger), doctors, notifier
}

func application() model.Doctor {
	return model.Doctor{FirstName: "Asha", LastName: "Rahman", Specialty: "Cardiology"}
}

func TestSubmitNotifiesAdmins(t *testing.T) {
	svc, doctors, notifier := newTestService()

	applicant := model.User{ID: "user-1", Email: "asha@example.com", Role: model.RolePatient}
	d, err := svc.Submit(context.Background(), applicant, application())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if d.Status != model.DoctorPending {
		t.Fatalf("expected pending application, got %s", d.Status)
	}
	if d.Rating != 0 || d.ReviewsCount != 0 {
		t.Fatalf("expected zeroed aggregates, got %+v", d)
	}
	if len(doctors.byID) != 1 {
		t.Fatalf("expected stored application")
	}
	if len(notifier.sent) != 2 {
		t.Fatalf("expected a notification per admin, got %d", len(notifier.sent))
	}
	if notifier.sent[0].Type != model.NotifyDoctorRequest {
		t.Fatalf("unexpected notification type %s", notifier.sent[0].Type)
	}
}

func TestSubmitConflicts(t *testing.T) {
	svc, _, _ := newTestService()

	applicant := model.User{ID: "user-1", Role: model.RolePatient}
	if _, err := svc.Submit(context.Background(), applicant, application()); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	_, err := svc.Submit(context.Background(), applicant, application())
	if apperr.KindOf(err) != apperr.Conflict {
		t.Fatalf("expected Conflict on duplicate application, got %v", err)
	}

	existingDoctor := model.User{ID: "user-2", Role: model.RoleDoctor}
	_, err = svc.Submit(context.Background(), existingDoctor, application())
	if apperr.KindOf(err) != apperr.Conflict {
		t.Fatalf("expected Conflict for an existing doctor, got %v", err)
	}
}

func TestSubmitValidation(t *testing.T) {
	svc, _, _ := newTestService()

	d := application()
	d.Specialty = ""
	_, err := svc.Submit(context.Background(), model.User{ID: "u"}, d)
	if apperr.KindOf(err) != apperr.Validation {
		t.Fatalf("expected Validation, got %v", err)
	}
}

func TestDecideApprove(t *testing.T) {
	svc, doctors, notifier := newTestService()
	applicant := model.User{ID: "user-1", Role: model.RolePatient}
	d, _ := svc.Submit(context.Background(), applicant, application())

	decided, err := svc.Decide(context.Background(), d.ID, model.DoctorApproved)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if decided.Status != model.DoctorApproved {
		t.Fatalf("expected approved, got %s", decided.Status)
	}
	if doctors.roles["user-1"] != model.RoleDoctor {
		t.Fatal("expected user promoted to doctor role")
	}
	if len(doctors.events) != 1 || doctors.events[0].Type != outbox.EventDoctorApproved {
		t.Fatalf("expected approval event, got %+v", doctors.events)
	}
	last := notifier.sent[len(notifier.sent)-1]
	if last.UserID != "user-1" {
		t.Fatalf("expected applicant notification, got %+v", last)
	}
}

func TestDecideApproveTwiceConflicts(t *testing.T) {
	svc, _, _ := newTestService()
	d, _ := svc.Submit(context.Background(), model.User{ID: "user-1"}, application())

	if _, err := svc.Decide(context.Background(), d.ID, model.DoctorApproved); err != nil {
		t.Fatalf("Decide: %v", err)
	}
	_, err := svc.Decide(context.Background(), d.ID, model.DoctorRejected)
	if apperr.KindOf(err) != apperr.Conflict {
		t.Fatalf("expected Conflict on second decision, got %v", err)
	}
}

func TestRejectDeletesApplication(t *testing.T) {
	svc, doctors, _ := newTestService()
	applicant := model.User{ID: "user-1", Role: model.RolePatient}
	d, _ := svc.Submit(context.Background(), applicant, application())

	decided, err := svc.Decide(context.Background(), d.ID, model.DoctorRejected)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if decided.Status != model.DoctorRejected {
		t.Fatalf("expected rejected, got %s", decided.Status)
	}
	if _, ok := doctors.byID[d.ID]; ok {
		t.Fatal("expected rejected application removed")
	}
	if len(doctors.events) != 1 || doctors.events[0].Type != outbox.EventDoctorRejected {
		t.Fatalf("expected rejection event, got %+v", doctors.events)
	}

	// A rejected id reads back as not found, and the user may apply again.
	_, err = svc.Decide(context.Background(), d.ID, model.DoctorApproved)
	if apperr.KindOf(err) != apperr.NotFound {
		t.Fatalf("expected NotFound after rejection, got %v", err)
	}
	if _, err := svc.Submit(context.Background(), applicant, application()); err != nil {
		t.Fatalf("re-application after rejection: %v", err)
	}
}

func TestDecideValidation(t *testing.T) {
	svc, _, _ := newTestService()

	_, err := svc.Decide(context.Background(), uuid.NewString(), "escalated")
	if apperr.KindOf(err) != apperr.Validation {
		t.Fatalf("expected Validation, got %v", err)
	}
	_, err = svc.Decide(context.Background(), uuid.NewString(), model.DoctorApproved)
	if apperr.KindOf(err) != apperr.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestUpdateProfile(t *testing.T) {
	svc, _, _ := newTestService()
	d, _ := svc.Submit(context.Background(), model.User{ID: "user-1"}, application())
	if _, err := svc.Decide(context.Background(), d.ID, model.DoctorApproved); err != nil {
		t.Fatalf("Decide: %v", err)
	}

	updated := application()
	updated.ConsultationFee = 750
	got, err := svc.UpdateProfile(context.Background(), "user-1", updated)
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if got.ConsultationFee != 750 {
		t.Fatalf("expected fee updated, got %+v", got)
	}
	if got.Status != model.DoctorApproved {
		t.Fatalf("profile update must not touch approval status, got %s", got.Status)
	}

	_, err = svc.UpdateProfile(context.Background(), "no-profile", updated)
	if apperr.KindOf(err) != apperr.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}
