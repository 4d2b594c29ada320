// Package outbox implements the transactional outbox: domain events are
// written in the same transaction as the state change that caused them, then
// drained to Kafka by a background publisher. The Kafka topic is the event
// type.
package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types, one topic each. The .v1 suffix versions the payload schema.
const (
	EventAppointmentBooked              = "clinic.appointment.booked.v1"
	EventAppointmentResponded           = "clinic.appointment.responded.v1"
	EventAppointmentCompleted           = "clinic.appointment.completed.v1"
	EventAppointmentCancelled           = "clinic.appointment.cancelled.v1"
	EventAppointmentRescheduleRequested = "clinic.appointment.reschedule_requested.v1"
	EventAppointmentRescheduled         = "clinic.appointment.rescheduled.v1"
	EventDoctorApproved                 = "clinic.doctor.approved.v1"
	EventDoctorRejected                 = "clinic.doctor.rejected.v1"
	EventReviewSubmitted                = "clinic.review.submitted.v1"
)

type Event struct {
	ID          string
	Type        string
	Payload     []byte
	TraceParent string
	TraceState  string
	CreatedAt   time.Time
	PublishedAt *time.Time
}

// New marshals payload and stamps a fresh event ID. Marshal errors are
// programmer errors (payloads are our own structs), so they surface as-is.
func New(eventType string, payload any) (Event, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:      uuid.NewString(),
		Type:    eventType,
		Payload: body,
	}, nil
}

// Payload shapes. Mailer and any future consumers decode these; fields are
// denormalized so consumers never need a clinic-service lookup.

type AppointmentBookedPayload struct {
	AppointmentID   string    `json:"appointmentId"`
	PatientID       string    `json:"patientId"`
	PatientEmail    string    `json:"patientEmail"`
	DoctorID        string    `json:"doctorId"`
	DoctorUserID    string    `json:"doctorUserId"`
	DoctorEmail     string    `json:"doctorEmail"`
	DoctorName      string    `json:"doctorName"`
	AppointmentDate time.Time `json:"appointmentDate"`
}

type AppointmentRespondedPayload struct {
	AppointmentID string `json:"appointmentId"`
	PatientID     string `json:"patientId"`
	DoctorID      string `json:"doctorId"`
	Decision      string `json:"decision"`
	Message       string `json:"message,omitempty"`
}

type AppointmentStatusPayload struct {
	AppointmentID string `json:"appointmentId"`
	PatientID     string `json:"patientId"`
	DoctorID      string `json:"doctorId"`
	Status        string `json:"status"`
}

type AppointmentReschedulePayload struct {
	AppointmentID string    `json:"appointmentId"`
	PatientID     string    `json:"patientId"`
	DoctorID      string    `json:"doctorId"`
	NewDate       time.Time `json:"newDate"`
}

type DoctorDecisionPayload struct {
	DoctorID   string `json:"doctorId"`
	UserID     string `json:"userId"`
	DoctorName string `json:"doctorName"`
}

type ReviewSubmittedPayload struct {
	ReviewID     string  `json:"reviewId"`
	DoctorID     string  `json:"doctorId"`
	DoctorUserID string  `json:"doctorUserId"`
	Rating       float64 `json:"rating"`
	NewAverage   float64 `json:"newAverage"`
}
