// Package lifecycle owns the appointment state machine. Every mutation goes
// through a guarded transition so concurrent actors cannot push one
// appointment into two places at once; losers of a race get a state conflict
// naming the status that beat them.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rakibhasan/clinicbook/services/clinic-service/internal/apperr"
	"github.com/rakibhasan/clinicbook/services/clinic-service/internal/model"
	"github.com/rakibhasan/clinicbook/services/clinic-service/internal/outbox"
	"github.com/rakibhasan/clinicbook/services/clinic-service/internal/storage"
)

// Actor identifies who is performing an operation. Admins bypass ownership
// checks but not state guards.
type Actor struct {
	UserID string
	Role   string
}

type AppointmentStore interface {
	Create(ctx context.Context, a model.Appointment, ev outbox.Event) error
	GetByID(ctx context.Context, id string) (model.Appointment, error)
	Transition(ctx context.Context, t storage.Transition, ev outbox.Event) (model.Appointment, error)
	ListByDoctor(ctx context.Context, doctorID string, statuses []string, oldestFirst bool) ([]model.Appointment, error)
	ListByPatient(ctx context.Context, userID string, statuses []string, oldestFirst bool) ([]model.Appointment, error)
}

type DoctorStore interface {
	GetByID(ctx context.Context, id string) (model.Doctor, error)
	GetByUserID(ctx context.Context, userID string) (model.Doctor, error)
}

type UserStore interface {
	GetByID(ctx context.Context, id string) (model.User, error)
}

type Notifier interface {
	Send(ctx context.Context, userID, notifType, message string, details map[string]string)
}

type Service struct {
	appointments AppointmentStore
	doctors      DoctorStore
	users        UserStore
	notifier     Notifier
	logger       *slog.Logger
	now          func() time.Time
}

func NewService(appointments AppointmentStore, doctors DoctorStore, users UserStore, notifier Notifier, logger *slog.Logger) *Service {
	return &Service{
		appointments: appointments,
		doctors:      doctors,
		users:        users,
		notifier:     notifier,
		logger:       logger,
		now:          time.Now,
	}
}

// Book creates a pending appointment against an approved doctor. Booking with
// an unapproved or unknown doctor is an invalid target, not a not-found, so
// clients can tell "wrong doctor" apart from "appointment missing" responses.
func (s *Service) Book(ctx context.Context, actor Actor, doctorID string, date time.Time) (model.Appointment, error) {
	if date.IsZero() {
		return model.Appointment{}, apperr.Validationf("appointment date is required")
	}
	if date.Before(s.now()) {
		return model.Appointment{}, apperr.Validationf("appointment date must be in the future")
	}

	doc, err := s.doctors.GetByID(ctx, doctorID)
	if storage.IsNotFound(err) {
		return model.Appointment{}, apperr.InvalidTargetf("doctor %s does not exist", doctorID)
	}
	if err != nil {
		return model.Appointment{}, err
	}
	if doc.Status != model.DoctorApproved {
		return model.Appointment{}, apperr.InvalidTargetf("doctor %s is not accepting appointments", doctorID)
	}
	if doc.UserID == actor.UserID {
		return model.Appointment{}, apperr.Validationf("doctors cannot book appointments with themselves")
	}

	patient, err := s.users.GetByID(ctx, actor.UserID)
	if err != nil {
		return model.Appointment{}, err
	}

	appt := model.Appointment{
		ID:              uuid.NewString(),
		UserID:          actor.UserID,
		DoctorID:        doctorID,
		AppointmentDate: date,
		Status:          model.StatusPending,
	}
	ev, err := outbox.New(outbox.EventAppointmentBooked, outbox.AppointmentBookedPayload{
		AppointmentID:   appt.ID,
		PatientID:       patient.ID,
		PatientEmail:    patient.Email,
		DoctorID:        doc.ID,
		DoctorUserID:    doc.UserID,
		DoctorEmail:     doc.UserEmail,
		DoctorName:      doc.FirstName + " " + doc.LastName,
		AppointmentDate: date,
	})
	if err != nil {
		return model.Appointment{}, err
	}
	if err := s.appointments.Create(ctx, appt, ev); err != nil {
		return model.Appointment{}, err
	}

	s.notifier.Send(ctx, doc.UserID, model.NotifyAppointment,
		fmt.Sprintf("You have a new appointment request for %s.", formatAppointmentTime(date)),
		map[string]string{"appointmentId": appt.ID, "patientEmail": patient.Email})
	s.notifier.Send(ctx, patient.ID, model.NotifyAppointment,
		fmt.Sprintf("Your appointment request with Dr. %s %s for %s has been sent.",
			doc.FirstName, doc.LastName, formatAppointmentTime(date)),
		map[string]string{"appointmentId": appt.ID})
	return appt, nil
}

// Respond records the doctor's decision on a pending appointment.
func (s *Service) Respond(ctx context.Context, actor Actor, appointmentID, decision, message string) (model.Appointment, error) {
	if decision != model.StatusApproved && decision != model.StatusRejected {
		return model.Appointment{}, apperr.Validationf("decision must be %q or %q", model.StatusApproved, model.StatusRejected)
	}
	appt, err := s.authorizeDoctor(ctx, actor, appointmentID)
	if err != nil {
		return model.Appointment{}, err
	}

	ev, err := outbox.New(outbox.EventAppointmentResponded, outbox.AppointmentRespondedPayload{
		AppointmentID: appt.ID,
		PatientID:     appt.UserID,
		DoctorID:      appt.DoctorID,
		Decision:      decision,
		Message:       message,
	})
	if err != nil {
		return model.Appointment{}, err
	}
	updated, err := s.appointments.Transition(ctx, storage.Transition{
		ID:              appointmentID,
		AllowedFrom:     []string{model.StatusPending},
		NewStatus:       decision,
		ResponseStatus:  &decision,
		ResponseMessage: &message,
	}, ev)
	if err != nil {
		return model.Appointment{}, s.transitionError(err, appointmentID)
	}

	text := fmt.Sprintf("Your appointment on %s has been %s.", formatAppointmentTime(updated.AppointmentDate), decision)
	if message != "" {
		text += " Response message: " + message
	}
	s.notifier.Send(ctx, updated.UserID, model.NotifyAppointment, text,
		map[string]string{"appointmentId": updated.ID, "decision": decision, "message": message})
	return updated, nil
}

// Complete marks an approved or rescheduled appointment as done.
func (s *Service) Complete(ctx context.Context, actor Actor, appointmentID string) (model.Appointment, error) {
	appt, err := s.authorizeDoctor(ctx, actor, appointmentID)
	if err != nil {
		return model.Appointment{}, err
	}

	ev, err := outbox.New(outbox.EventAppointmentCompleted, outbox.AppointmentStatusPayload{
		AppointmentID: appt.ID,
		PatientID:     appt.UserID,
		DoctorID:      appt.DoctorID,
		Status:        model.StatusCompleted,
	})
	if err != nil {
		return model.Appointment{}, err
	}
	completedAt := s.now()
	updated, err := s.appointments.Transition(ctx, storage.Transition{
		ID:          appointmentID,
		AllowedFrom: []string{model.StatusApproved, model.StatusRescheduled},
		NewStatus:   model.StatusCompleted,
		CompletedAt: &completedAt,
	}, ev)
	if err != nil {
		return model.Appointment{}, s.transitionError(err, appointmentID)
	}

	s.notifier.Send(ctx, updated.UserID, model.NotifyAppointmentCompleted,
		fmt.Sprintf("Your appointment on %s has been marked completed.", formatAppointmentTime(updated.AppointmentDate)),
		map[string]string{"appointmentId": updated.ID})
	return updated, nil
}

// Cancel withdraws an appointment. Either party may cancel; only completed
// and cancelled appointments refuse it, so a rejected one can still be
// cancelled. The counter-party gets the notification.
func (s *Service) Cancel(ctx context.Context, actor Actor, appointmentID string) (model.Appointment, error) {
	appt, err := s.appointments.GetByID(ctx, appointmentID)
	if storage.IsNotFound(err) {
		return model.Appointment{}, apperr.NotFoundf("appointment %s not found", appointmentID)
	}
	if err != nil {
		return model.Appointment{}, err
	}
	doc, err := s.doctors.GetByID(ctx, appt.DoctorID)
	if err != nil {
		return model.Appointment{}, err
	}
	actorIsPatient := appt.UserID == actor.UserID
	actorIsDoctor := doc.UserID == actor.UserID
	if !actorIsPatient && !actorIsDoctor && actor.Role != model.RoleAdmin {
		return model.Appointment{}, apperr.Unauthorizedf("appointment %s does not belong to you", appointmentID)
	}

	ev, err := outbox.New(outbox.EventAppointmentCancelled, outbox.AppointmentStatusPayload{
		AppointmentID: appt.ID,
		PatientID:     appt.UserID,
		DoctorID:      appt.DoctorID,
		Status:        model.StatusCancelled,
	})
	if err != nil {
		return model.Appointment{}, err
	}
	updated, err := s.appointments.Transition(ctx, storage.Transition{
		ID: appointmentID,
		AllowedFrom: []string{
			model.StatusPending, model.StatusApproved, model.StatusRejected,
			model.StatusRescheduled, model.StatusRescheduleRequested,
		},
		NewStatus: model.StatusCancelled,
	}, ev)
	if err != nil {
		return model.Appointment{}, s.transitionError(err, appointmentID)
	}

	counterparty := doc.UserID
	if actorIsDoctor {
		counterparty = updated.UserID
	}
	s.notifier.Send(ctx, counterparty, model.NotifyAppointmentCancelled,
		fmt.Sprintf("The appointment on %s has been cancelled.", formatAppointmentTime(updated.AppointmentDate)),
		map[string]string{"appointmentId": updated.ID})
	return updated, nil
}

// RequestReschedule asks the doctor to move the appointment to newDate. The
// appointment parks in reschedule_requested until the doctor confirms.
func (s *Service) RequestReschedule(ctx context.Context, actor Actor, appointmentID string, newDate time.Time) (model.Appointment, error) {
	if newDate.IsZero() {
		return model.Appointment{}, apperr.Validationf("requested date is required")
	}
	if newDate.Before(s.now()) {
		return model.Appointment{}, apperr.Validationf("requested date must be in the future")
	}
	appt, err := s.authorizePatient(ctx, actor, appointmentID)
	if err != nil {
		return model.Appointment{}, err
	}

	ev, err := outbox.New(outbox.EventAppointmentRescheduleRequested, outbox.AppointmentReschedulePayload{
		AppointmentID: appt.ID,
		PatientID:     appt.UserID,
		DoctorID:      appt.DoctorID,
		NewDate:       newDate,
	})
	if err != nil {
		return model.Appointment{}, err
	}
	updated, err := s.appointments.Transition(ctx, storage.Transition{
		ID: appointmentID,
		AllowedFrom: []string{
			model.StatusPending, model.StatusApproved, model.StatusRejected,
			model.StatusRescheduled, model.StatusRescheduleRequested,
		},
		NewStatus:        model.StatusRescheduleRequested,
		RequestedNewDate: &newDate,
	}, ev)
	if err != nil {
		return model.Appointment{}, s.transitionError(err, appointmentID)
	}

	if doc, derr := s.doctors.GetByID(ctx, updated.DoctorID); derr == nil {
		s.notifier.Send(ctx, doc.UserID, model.NotifyRescheduleRequested,
			fmt.Sprintf("A reschedule to %s has been requested for the appointment on %s.",
				formatAppointmentTime(newDate), formatAppointmentTime(updated.AppointmentDate)),
			map[string]string{"appointmentId": updated.ID})
	} else {
		s.logger.Error("reschedule notification skipped", "appointment_id", updated.ID, "error", derr)
	}
	return updated, nil
}

// Reschedule confirms a pending reschedule request: the agreed date becomes
// the appointment date and the request is cleared. The doctor may pass a
// different date than the one requested; a zero date accepts the request
// as-is.
func (s *Service) Reschedule(ctx context.Context, actor Actor, appointmentID string, newDate time.Time) (model.Appointment, error) {
	appt, err := s.authorizeDoctor(ctx, actor, appointmentID)
	if err != nil {
		return model.Appointment{}, err
	}
	if appt.Status != model.StatusRescheduleRequested {
		return model.Appointment{}, apperr.StateConflictf("appointment %s has no pending reschedule request (status %s)", appointmentID, appt.Status)
	}
	if newDate.IsZero() {
		if appt.RequestedNewDate == nil {
			return model.Appointment{}, apperr.StateConflictf("appointment %s has no requested date", appointmentID)
		}
		newDate = *appt.RequestedNewDate
	} else if newDate.Before(s.now()) {
		return model.Appointment{}, apperr.Validationf("new date must be in the future")
	}

	ev, err := outbox.New(outbox.EventAppointmentRescheduled, outbox.AppointmentReschedulePayload{
		AppointmentID: appt.ID,
		PatientID:     appt.UserID,
		DoctorID:      appt.DoctorID,
		NewDate:       newDate,
	})
	if err != nil {
		return model.Appointment{}, err
	}
	updated, err := s.appointments.Transition(ctx, storage.Transition{
		ID:                    appointmentID,
		AllowedFrom:           []string{model.StatusRescheduleRequested},
		NewStatus:             model.StatusRescheduled,
		AppointmentDate:       &newDate,
		ClearRequestedNewDate: true,
	}, ev)
	if err != nil {
		return model.Appointment{}, s.transitionError(err, appointmentID)
	}

	s.notifier.Send(ctx, updated.UserID, model.NotifyAppointmentRescheduled,
		fmt.Sprintf("Your appointment has been rescheduled to %s.", formatAppointmentTime(newDate)),
		map[string]string{"appointmentId": updated.ID})
	return updated, nil
}

// Get returns one appointment visible to the actor.
func (s *Service) Get(ctx context.Context, actor Actor, appointmentID string) (model.Appointment, error) {
	appt, err := s.appointments.GetByID(ctx, appointmentID)
	if storage.IsNotFound(err) {
		return model.Appointment{}, apperr.NotFoundf("appointment %s not found", appointmentID)
	}
	if err != nil {
		return model.Appointment{}, err
	}
	if actor.Role == model.RoleAdmin || appt.UserID == actor.UserID {
		return appt, nil
	}
	if doc, derr := s.doctors.GetByID(ctx, appt.DoctorID); derr == nil && doc.UserID == actor.UserID {
		return appt, nil
	}
	return model.Appointment{}, apperr.Unauthorizedf("appointment %s does not belong to you", appointmentID)
}

// ListFilter narrows appointment listings. Active selects the pending,
// approved and rescheduled set sorted soonest first; Status selects exactly
// one status. History (no filter, or a terminal status) comes newest first.
type ListFilter struct {
	Status string
	Active bool
}

var knownStatuses = []string{
	model.StatusPending, model.StatusApproved, model.StatusRejected,
	model.StatusCompleted, model.StatusCancelled,
	model.StatusRescheduled, model.StatusRescheduleRequested,
}

func (f ListFilter) resolve() (statuses []string, oldestFirst bool, err error) {
	if f.Active {
		return []string{model.StatusPending, model.StatusApproved, model.StatusRescheduled}, true, nil
	}
	if f.Status == "" {
		return nil, false, nil
	}
	for _, known := range knownStatuses {
		if f.Status == known {
			return []string{f.Status}, false, nil
		}
	}
	return nil, false, apperr.Validationf("unknown appointment status %q", f.Status)
}

// ListForPatient returns the actor's own appointments.
func (s *Service) ListForPatient(ctx context.Context, actor Actor, filter ListFilter) ([]model.Appointment, error) {
	statuses, oldestFirst, err := filter.resolve()
	if err != nil {
		return nil, err
	}
	return s.appointments.ListByPatient(ctx, actor.UserID, statuses, oldestFirst)
}

// ListForDoctor returns appointments for the doctor profile backed by the
// acting user.
func (s *Service) ListForDoctor(ctx context.Context, actor Actor, filter ListFilter) ([]model.Appointment, error) {
	statuses, oldestFirst, err := filter.resolve()
	if err != nil {
		return nil, err
	}
	doc, err := s.doctors.GetByUserID(ctx, actor.UserID)
	if storage.IsNotFound(err) {
		return nil, apperr.NotFoundf("no doctor profile for this account")
	}
	if err != nil {
		return nil, err
	}
	return s.appointments.ListByDoctor(ctx, doc.ID, statuses, oldestFirst)
}

// authorizeDoctor loads the appointment and verifies the actor is the
// appointment's doctor (or an admin).
func (s *Service) authorizeDoctor(ctx context.Context, actor Actor, appointmentID string) (model.Appointment, error) {
	appt, err := s.appointments.GetByID(ctx, appointmentID)
	if storage.IsNotFound(err) {
		return model.Appointment{}, apperr.NotFoundf("appointment %s not found", appointmentID)
	}
	if err != nil {
		return model.Appointment{}, err
	}
	if actor.Role == model.RoleAdmin {
		return appt, nil
	}
	doc, err := s.doctors.GetByID(ctx, appt.DoctorID)
	if err != nil {
		return model.Appointment{}, err
	}
	if doc.UserID != actor.UserID {
		return model.Appointment{}, apperr.Unauthorizedf("appointment %s is not assigned to you", appointmentID)
	}
	return appt, nil
}

func (s *Service) authorizePatient(ctx context.Context, actor Actor, appointmentID string) (model.Appointment, error) {
	appt, err := s.appointments.GetByID(ctx, appointmentID)
	if storage.IsNotFound(err) {
		return model.Appointment{}, apperr.NotFoundf("appointment %s not found", appointmentID)
	}
	if err != nil {
		return model.Appointment{}, err
	}
	if actor.Role != model.RoleAdmin && appt.UserID != actor.UserID {
		return model.Appointment{}, apperr.Unauthorizedf("appointment %s does not belong to you", appointmentID)
	}
	return appt, nil
}

func (s *Service) transitionError(err error, appointmentID string) error {
	var stateErr *storage.StateError
	switch {
	case errors.As(err, &stateErr):
		return apperr.StateConflictf("appointment %s cannot change state from %s", appointmentID, stateErr.Current)
	case storage.IsNotFound(err):
		return apperr.NotFoundf("appointment %s not found", appointmentID)
	default:
		return err
	}
}

func formatAppointmentTime(t time.Time) string {
	return t.Format("Mon, Jan 2, 2006, 3:04 PM")
}
