package lifecycle

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/rakibhasan/clinicbook/services/clinic-service/internal/apperr"
	"github.com/rakibhasan/clinicbook/services/clinic-service/internal/model"
	"github.com/rakibhasan/clinicbook/services/clinic-service/internal/outbox"
	"github.com/rakibhasan/clinicbook/services/clinic-service/internal/storage"
)

type fakeStore struct {
	appointments map[string]model.Appointment
	doctors      map[string]model.Doctor
	users        map[string]model.User
	events       []outbox.Event
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		appointments: map[string]model.Appointment{},
		doctors:      map[string]model.Doctor{},
		users:        map[string]model.User{},
	}
}

func (f *fakeStore) Create(_ context.Context, a model.Appointment, ev outbox.Event) error {
	f.appointments[a.ID] = a
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeStore) GetByID(_ context.Context, id string) (model.Appointment, error) {
	a, ok := f.appointments[id]
	if !ok {
		return model.Appointment{}, storage.ErrNotFound
	}
	return a, nil
}

func (f *fakeStore) Transition(_ context.Context, t storage.Transition, ev outbox.Event) (model.Appointment, error) {
	a, ok := f.appointments[t.ID]
	if !ok {
		return model.Appointment{}, storage.ErrNotFound
	}
	if !slices.Contains(t.AllowedFrom, a.Status) {
		return model.Appointment{}, &storage.StateError{Current: a.Status}
	}
	a.Status = t.NewStatus
	if t.ResponseStatus != nil {
		a.ResponseStatus = *t.ResponseStatus
	}
	if t.ResponseMessage != nil {
		a.ResponseMessage = *t.ResponseMessage
	}
	if t.CompletedAt != nil {
		a.CompletedAt = t.CompletedAt
	}
	if t.ClearRequestedNewDate {
		a.RequestedNewDate = nil
	} else if t.RequestedNewDate != nil {
		a.RequestedNewDate = t.RequestedNewDate
	}
	if t.AppointmentDate != nil {
		a.AppointmentDate = *t.AppointmentDate
	}
	f.appointments[t.ID] = a
	f.events = append(f.events, ev)
	return a, nil
}

func (f *fakeStore) ListByDoctor(_ context.Context, doctorID string, statuses []string, _ bool) ([]model.Appointment, error) {
	var out []model.Appointment
	for _, a := range f.appointments {
		if a.DoctorID == doctorID && (statuses == nil || slices.Contains(statuses, a.Status)) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeStore) ListByPatient(_ context.Context, userID string, statuses []string, _ bool) ([]model.Appointment, error) {
	var out []model.Appointment
	for _, a := range f.appointments {
		if a.UserID == userID && (statuses == nil || slices.Contains(statuses, a.Status)) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeStore) GetDoctorByID(_ context.Context, id string) (model.Doctor, error) {
	d, ok := f.doctors[id]
	if !ok {
		return model.Doctor{}, storage.ErrNotFound
	}
	return d, nil
}

type fakeDoctors struct{ f *fakeStore }

func (d fakeDoctors) GetByID(ctx context.Context, id string) (model.Doctor, error) {
	return d.f.GetDoctorByID(ctx, id)
}

func (d fakeDoctors) GetByUserID(_ context.Context, userID string) (model.Doctor, error) {
	for _, doc := range d.f.doctors {
		if doc.UserID == userID {
			return doc, nil
		}
	}
	return model.Doctor{}, storage.ErrNotFound
}

type fakeUsers struct{ f *fakeStore }

func (u fakeUsers) GetByID(_ context.Context, id string) (model.User, error) {
	usr, ok := u.f.users[id]
	if !ok {
		return model.User{}, storage.ErrNotFound
	}
	return usr, nil
}

type fakeNotifier struct {
	sent []model.Notification
}

func (n *fakeNotifier) Send(_ context.Context, userID, notifType, message string, details map[string]string) {
	n.sent = append(n.sent, model.Notification{UserID: userID, Type: notifType, Message: message, Details: details})
}

func newTestService(t *testing.T) (*Service, *fakeStore, *fakeNotifier) {
	t.Helper()
	store := newFakeStore()
	notifier := &fakeNotifier{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(store, fakeDoctors{store}, fakeUsers{store}, notifier, logger)
	svc.now = func() time.Time { return time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC) }

	store.users["patient-1"] = model.User{ID: "patient-1", Email: "pat@example.com", Role: model.RolePatient}
	store.users["doc-user-1"] = model.User{ID: "doc-user-1", Email: "doc@example.com", Role: model.RoleDoctor}
	store.doctors["doctor-1"] = model.Doctor{
		ID: "doctor-1", UserID: "doc-user-1", UserEmail: "doc@example.com",
		FirstName: "Asha", LastName: "Rahman", Status: model.DoctorApproved,
	}
	store.doctors["doctor-pending"] = model.Doctor{
		ID: "doctor-pending", UserID: "doc-user-2", Status: model.DoctorPending,
	}
	return svc, store, notifier
}

var (
	patient = Actor{UserID: "patient-1", Role: model.RolePatient}
	doctor  = Actor{UserID: "doc-user-1", Role: model.RoleDoctor}
)

func futureDate() time.Time {
	return time.Date(2026, 9, 10, 14, 30, 0, 0, time.UTC)
}

func mustBook(t *testing.T, svc *Service) model.Appointment {
	t.Helper()
	appt, err := svc.Book(context.Background(), patient, "doctor-1", futureDate())
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	return appt
}

func TestBookCreatesPendingAppointment(t *testing.T) {
	svc, store, notifier := newTestService(t)

	appt := mustBook(t, svc)

	if appt.Status != model.StatusPending {
		t.Fatalf("expected pending, got %s", appt.Status)
	}
	if len(store.events) != 1 || store.events[0].Type != outbox.EventAppointmentBooked {
		t.Fatalf("expected one booked event, got %+v", store.events)
	}
	if len(notifier.sent) != 2 {
		t.Fatalf("expected notifications to both parties, got %+v", notifier.sent)
	}
	if notifier.sent[0].UserID != "doc-user-1" || notifier.sent[1].UserID != "patient-1" {
		t.Fatalf("unexpected recipients: %+v", notifier.sent)
	}
}

func TestBookRejectsUnapprovedDoctor(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Book(context.Background(), patient, "doctor-pending", futureDate())
	if apperr.KindOf(err) != apperr.InvalidTarget {
		t.Fatalf("expected InvalidTarget, got %v", err)
	}
	_, err = svc.Book(context.Background(), patient, "no-such-doctor", futureDate())
	if apperr.KindOf(err) != apperr.InvalidTarget {
		t.Fatalf("expected InvalidTarget for unknown doctor, got %v", err)
	}
}

func TestBookRejectsPastDate(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Book(context.Background(), patient, "doctor-1", time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC))
	if apperr.KindOf(err) != apperr.Validation {
		t.Fatalf("expected Validation, got %v", err)
	}
}

func TestRespondApproves(t *testing.T) {
	svc, _, notifier := newTestService(t)
	appt := mustBook(t, svc)

	updated, err := svc.Respond(context.Background(), doctor, appt.ID, "approved", "See you then")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if updated.Status != model.StatusApproved || updated.ResponseStatus != "approved" {
		t.Fatalf("unexpected appointment: %+v", updated)
	}
	last := notifier.sent[len(notifier.sent)-1]
	if last.UserID != "patient-1" {
		t.Fatalf("expected patient notification, got %+v", last)
	}
	if !strings.Contains(last.Message, "Response message: See you then") {
		t.Fatalf("notification must carry the doctor's message, got %q", last.Message)
	}
	if last.Details["message"] != "See you then" {
		t.Fatalf("notification details must carry the doctor's message, got %+v", last.Details)
	}
}

func TestRespondValidatesDecision(t *testing.T) {
	svc, _, _ := newTestService(t)
	appt := mustBook(t, svc)

	_, err := svc.Respond(context.Background(), doctor, appt.ID, "maybe", "")
	if apperr.KindOf(err) != apperr.Validation {
		t.Fatalf("expected Validation, got %v", err)
	}
}

func TestRespondOnlyFromPending(t *testing.T) {
	svc, _, _ := newTestService(t)
	appt := mustBook(t, svc)

	if _, err := svc.Respond(context.Background(), doctor, appt.ID, "approved", ""); err != nil {
		t.Fatalf("first respond: %v", err)
	}
	_, err := svc.Respond(context.Background(), doctor, appt.ID, "rejected", "")
	if apperr.KindOf(err) != apperr.StateConflict {
		t.Fatalf("expected StateConflict on double respond, got %v", err)
	}
}

func TestRespondRequiresOwningDoctor(t *testing.T) {
	svc, _, _ := newTestService(t)
	appt := mustBook(t, svc)

	imposter := Actor{UserID: "doc-user-2", Role: model.RoleDoctor}
	_, err := svc.Respond(context.Background(), imposter, appt.ID, "approved", "")
	if apperr.KindOf(err) != apperr.Unauthorized {
		t.Fatalf("expected Unauthorized, got %v", err)
	}
}

func TestCompleteRequiresApprovedOrRescheduled(t *testing.T) {
	svc, _, _ := newTestService(t)
	appt := mustBook(t, svc)

	_, err := svc.Complete(context.Background(), doctor, appt.ID)
	if apperr.KindOf(err) != apperr.StateConflict {
		t.Fatalf("expected StateConflict completing a pending appointment, got %v", err)
	}

	if _, err := svc.Respond(context.Background(), doctor, appt.ID, "approved", ""); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	updated, err := svc.Complete(context.Background(), doctor, appt.ID)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if updated.Status != model.StatusCompleted || updated.CompletedAt == nil {
		t.Fatalf("unexpected appointment: %+v", updated)
	}
}

func TestCancelGuards(t *testing.T) {
	svc, _, _ := newTestService(t)

	// Rejected appointments may still be cancelled.
	appt := mustBook(t, svc)
	if _, err := svc.Respond(context.Background(), doctor, appt.ID, "rejected", "fully booked"); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if _, err := svc.Cancel(context.Background(), patient, appt.ID); err != nil {
		t.Fatalf("Cancel after rejection: %v", err)
	}

	// Cancelled is terminal for cancel.
	_, err := svc.Cancel(context.Background(), patient, appt.ID)
	if apperr.KindOf(err) != apperr.StateConflict {
		t.Fatalf("expected StateConflict on double cancel, got %v", err)
	}

	// Completed is terminal for cancel.
	appt2 := mustBook(t, svc)
	if _, err := svc.Respond(context.Background(), doctor, appt2.ID, "approved", ""); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if _, err := svc.Complete(context.Background(), doctor, appt2.ID); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	_, err = svc.Cancel(context.Background(), patient, appt2.ID)
	if apperr.KindOf(err) != apperr.StateConflict {
		t.Fatalf("expected StateConflict cancelling a completed appointment, got %v", err)
	}
}

func TestCancelRequiresParty(t *testing.T) {
	svc, _, _ := newTestService(t)
	appt := mustBook(t, svc)

	other := Actor{UserID: "patient-2", Role: model.RolePatient}
	_, err := svc.Cancel(context.Background(), other, appt.ID)
	if apperr.KindOf(err) != apperr.Unauthorized {
		t.Fatalf("expected Unauthorized, got %v", err)
	}
}

func TestCancelByDoctorNotifiesPatient(t *testing.T) {
	svc, _, notifier := newTestService(t)
	appt := mustBook(t, svc)

	if _, err := svc.Cancel(context.Background(), doctor, appt.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	last := notifier.sent[len(notifier.sent)-1]
	if last.UserID != "patient-1" || last.Type != model.NotifyAppointmentCancelled {
		t.Fatalf("expected patient cancellation notification, got %+v", last)
	}
}

func TestRescheduleFlow(t *testing.T) {
	svc, store, _ := newTestService(t)
	appt := mustBook(t, svc)
	if _, err := svc.Respond(context.Background(), doctor, appt.ID, "approved", ""); err != nil {
		t.Fatalf("Respond: %v", err)
	}

	newDate := time.Date(2026, 9, 20, 11, 0, 0, 0, time.UTC)
	requested, err := svc.RequestReschedule(context.Background(), patient, appt.ID, newDate)
	if err != nil {
		t.Fatalf("RequestReschedule: %v", err)
	}
	if requested.Status != model.StatusRescheduleRequested || requested.RequestedNewDate == nil {
		t.Fatalf("unexpected appointment: %+v", requested)
	}

	updated, err := svc.Reschedule(context.Background(), doctor, appt.ID, time.Time{})
	if err != nil {
		t.Fatalf("Reschedule: %v", err)
	}
	if updated.Status != model.StatusRescheduled {
		t.Fatalf("expected rescheduled, got %s", updated.Status)
	}
	if !updated.AppointmentDate.Equal(newDate) {
		t.Fatalf("expected date moved to %v, got %v", newDate, updated.AppointmentDate)
	}
	if updated.RequestedNewDate != nil {
		t.Fatal("expected requested date cleared after reschedule")
	}

	// A rescheduled appointment can still be completed.
	if _, err := svc.Complete(context.Background(), doctor, appt.ID); err != nil {
		t.Fatalf("Complete after reschedule: %v", err)
	}

	wantEvents := []string{
		outbox.EventAppointmentBooked,
		outbox.EventAppointmentResponded,
		outbox.EventAppointmentRescheduleRequested,
		outbox.EventAppointmentRescheduled,
		outbox.EventAppointmentCompleted,
	}
	if len(store.events) != len(wantEvents) {
		t.Fatalf("expected %d events, got %d", len(wantEvents), len(store.events))
	}
	for i, want := range wantEvents {
		if store.events[i].Type != want {
			t.Fatalf("event %d: expected %s, got %s", i, want, store.events[i].Type)
		}
	}
}

func TestRescheduleWithoutRequest(t *testing.T) {
	svc, _, _ := newTestService(t)
	appt := mustBook(t, svc)

	_, err := svc.Reschedule(context.Background(), doctor, appt.ID, time.Time{})
	if apperr.KindOf(err) != apperr.StateConflict {
		t.Fatalf("expected StateConflict, got %v", err)
	}
}

func TestRescheduleWithOverrideDate(t *testing.T) {
	svc, _, _ := newTestService(t)
	appt := mustBook(t, svc)
	if _, err := svc.RequestReschedule(context.Background(), patient, appt.ID, futureDate().Add(24*time.Hour)); err != nil {
		t.Fatalf("RequestReschedule: %v", err)
	}

	override := time.Date(2026, 10, 1, 10, 0, 0, 0, time.UTC)
	updated, err := svc.Reschedule(context.Background(), doctor, appt.ID, override)
	if err != nil {
		t.Fatalf("Reschedule: %v", err)
	}
	if !updated.AppointmentDate.Equal(override) {
		t.Fatalf("expected override date %v, got %v", override, updated.AppointmentDate)
	}
}

func TestGetAuthorization(t *testing.T) {
	svc, _, _ := newTestService(t)
	appt := mustBook(t, svc)

	if _, err := svc.Get(context.Background(), patient, appt.ID); err != nil {
		t.Fatalf("patient Get: %v", err)
	}
	if _, err := svc.Get(context.Background(), doctor, appt.ID); err != nil {
		t.Fatalf("doctor Get: %v", err)
	}
	if _, err := svc.Get(context.Background(), Actor{UserID: "admin-1", Role: model.RoleAdmin}, appt.ID); err != nil {
		t.Fatalf("admin Get: %v", err)
	}
	_, err := svc.Get(context.Background(), Actor{UserID: "stranger", Role: model.RolePatient}, appt.ID)
	if apperr.KindOf(err) != apperr.Unauthorized {
		t.Fatalf("expected Unauthorized, got %v", err)
	}
}

func TestListFilters(t *testing.T) {
	svc, _, _ := newTestService(t)

	appt := mustBook(t, svc)
	cancelled := mustBook(t, svc)
	if _, err := svc.Cancel(context.Background(), patient, cancelled.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	active, err := svc.ListForPatient(context.Background(), patient, ListFilter{Active: true})
	if err != nil {
		t.Fatalf("ListForPatient active: %v", err)
	}
	if len(active) != 1 || active[0].ID != appt.ID {
		t.Fatalf("expected only the pending appointment, got %+v", active)
	}

	byStatus, err := svc.ListForDoctor(context.Background(), doctor, ListFilter{Status: model.StatusCancelled})
	if err != nil {
		t.Fatalf("ListForDoctor cancelled: %v", err)
	}
	if len(byStatus) != 1 || byStatus[0].ID != cancelled.ID {
		t.Fatalf("expected only the cancelled appointment, got %+v", byStatus)
	}

	_, err = svc.ListForPatient(context.Background(), patient, ListFilter{Status: "archived"})
	if apperr.KindOf(err) != apperr.Validation {
		t.Fatalf("expected Validation for unknown status, got %v", err)
	}
}

func TestNotFoundAppointment(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Cancel(context.Background(), patient, "missing")
	if apperr.KindOf(err) != apperr.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}
