// Package approval handles the doctor application workflow: a patient
// applies, admins review, and an approval promotes the account to the doctor
// role atomically with the application status change.
package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/rakibhasan/clinicbook/services/clinic-service/internal/apperr"
	"github.com/rakibhasan/clinicbook/services/clinic-service/internal/model"
	"github.com/rakibhasan/clinicbook/services/clinic-service/internal/outbox"
	"github.com/rakibhasan/clinicbook/services/clinic-service/internal/storage"
)

type DoctorStore interface {
	CreateApplication(ctx context.Context, d model.Doctor) error
	GetByID(ctx context.Context, id string) (model.Doctor, error)
	GetByUserID(ctx context.Context, userID string) (model.Doctor, error)
	ListPending(ctx context.Context) ([]model.Doctor, error)
	Approve(ctx context.Context, doctorID string, ev outbox.Event) (model.Doctor, error)
	Reject(ctx context.Context, doctorID string, ev outbox.Event) (model.Doctor, error)
	UpdateProfile(ctx context.Context, doctorID string, d model.Doctor) error
}

type UserStore interface {
	GetByID(ctx context.Context, id string) (model.User, error)
	ListAdmins(ctx context.Context) ([]model.User, error)
}

type Notifier interface {
	Send(ctx context.Context, userID, notifType, message string, details map[string]string)
	SendAll(ctx context.Context, userIDs []string, notifType, message string, details map[string]string)
}

type Service struct {
	doctors  DoctorStore
	users    UserStore
	notifier Notifier
	logger   *slog.Logger
}

func NewService(doctors DoctorStore, users UserStore, notifier Notifier, logger *slog.Logger) *Service {
	return &Service{doctors: doctors, users: users, notifier: notifier, logger: logger}
}

// Submit files a doctor application for the acting user. One application per
// account; accounts that already hold the doctor role cannot apply again.
func (s *Service) Submit(ctx context.Context, actor model.User, d model.Doctor) (model.Doctor, error) {
	if d.FirstName == "" || d.LastName == "" {
		return model.Doctor{}, apperr.Validationf("first and last name are required")
	}
	if d.Specialty == "" {
		return model.Doctor{}, apperr.Validationf("specialty is required")
	}
	if actor.Role == model.RoleDoctor {
		return model.Doctor{}, apperr.Conflictf("account already holds the doctor role")
	}
	if _, err := s.doctors.GetByUserID(ctx, actor.ID); err == nil {
		return model.Doctor{}, apperr.Conflictf("an application already exists for this account")
	} else if !storage.IsNotFound(err) {
		return model.Doctor{}, err
	}

	d.ID = uuid.NewString()
	d.UserID = actor.ID
	d.Status = model.DoctorPending
	d.Rating = 0
	d.ReviewsCount = 0
	if err := s.doctors.CreateApplication(ctx, d); err != nil {
		if storage.IsUniqueViolation(err) {
			return model.Doctor{}, apperr.Conflictf("an application already exists for this account")
		}
		return model.Doctor{}, err
	}

	admins, err := s.users.ListAdmins(ctx)
	if err != nil {
		s.logger.Error("admin notification skipped", "doctor_id", d.ID, "error", err)
		return d, nil
	}
	ids := make([]string, len(admins))
	for i, a := range admins {
		ids[i] = a.ID
	}
	s.notifier.SendAll(ctx, ids, model.NotifyDoctorRequest,
		fmt.Sprintf("%s %s has applied for a doctor account.", d.FirstName, d.LastName),
		map[string]string{"doctorId": d.ID, "applicantEmail": actor.Email})
	return d, nil
}

// Decide settles a pending application. Approval flips the application and
// the user's role in one transaction; deciding twice is a conflict.
func (s *Service) Decide(ctx context.Context, doctorID, decision string) (model.Doctor, error) {
	var (
		eventType string
		notifMsg  string
	)
	switch decision {
	case model.DoctorApproved:
		eventType = outbox.EventDoctorApproved
		notifMsg = "Your doctor account application has been approved."
	case model.DoctorRejected:
		eventType = outbox.EventDoctorRejected
		notifMsg = "Your doctor account application has been rejected."
	default:
		return model.Doctor{}, apperr.Validationf("decision must be %q or %q", model.DoctorApproved, model.DoctorRejected)
	}

	current, err := s.doctors.GetByID(ctx, doctorID)
	if storage.IsNotFound(err) {
		return model.Doctor{}, apperr.NotFoundf("doctor application %s not found", doctorID)
	}
	if err != nil {
		return model.Doctor{}, err
	}

	ev, err := outbox.New(eventType, outbox.DoctorDecisionPayload{
		DoctorID:   current.ID,
		UserID:     current.UserID,
		DoctorName: current.FirstName + " " + current.LastName,
	})
	if err != nil {
		return model.Doctor{}, err
	}

	var decided model.Doctor
	if decision == model.DoctorApproved {
		decided, err = s.doctors.Approve(ctx, doctorID, ev)
	} else {
		decided, err = s.doctors.Reject(ctx, doctorID, ev)
	}
	var stateErr *storage.StateError
	switch {
	case errors.As(err, &stateErr):
		return model.Doctor{}, apperr.Conflictf("application %s is already %s", doctorID, stateErr.Current)
	case storage.IsNotFound(err):
		return model.Doctor{}, apperr.NotFoundf("doctor application %s not found", doctorID)
	case err != nil:
		return model.Doctor{}, err
	}

	s.notifier.Send(ctx, decided.UserID, model.NotifyDoctorRequest, notifMsg,
		map[string]string{"doctorId": decided.ID, "decision": decision})
	return decided, nil
}

// ListPending returns applications awaiting an admin decision.
func (s *Service) ListPending(ctx context.Context) ([]model.Doctor, error) {
	return s.doctors.ListPending(ctx)
}

// Profile returns the doctor profile backing the acting user.
func (s *Service) Profile(ctx context.Context, userID string) (model.Doctor, error) {
	doc, err := s.doctors.GetByUserID(ctx, userID)
	if storage.IsNotFound(err) {
		return model.Doctor{}, apperr.NotFoundf("no doctor profile for this account")
	}
	return doc, err
}

// UpdateProfile applies doctor-editable fields only. Approval status, rating,
// review count and the user link are managed by the system and ignored here.
func (s *Service) UpdateProfile(ctx context.Context, userID string, updated model.Doctor) (model.Doctor, error) {
	if updated.FirstName == "" || updated.LastName == "" {
		return model.Doctor{}, apperr.Validationf("first and last name are required")
	}
	doc, err := s.doctors.GetByUserID(ctx, userID)
	if storage.IsNotFound(err) {
		return model.Doctor{}, apperr.NotFoundf("no doctor profile for this account")
	}
	if err != nil {
		return model.Doctor{}, err
	}
	if err := s.doctors.UpdateProfile(ctx, doc.ID, updated); err != nil {
		if storage.IsNotFound(err) {
			return model.Doctor{}, apperr.NotFoundf("no doctor profile for this account")
		}
		return model.Doctor{}, err
	}
	return s.doctors.GetByID(ctx, doc.ID)
}
