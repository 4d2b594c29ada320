package model

import "time"

// User roles. Every account starts as a patient; the approval workflow is the
// only path to the doctor role.
const (
	RolePatient = "patient"
	RoleDoctor  = "doctor"
	RoleAdmin   = "admin"
)

// Appointment statuses.
const (
	StatusPending             = "pending"
	StatusApproved            = "approved"
	StatusRejected            = "rejected"
	StatusCompleted           = "completed"
	StatusCancelled           = "cancelled"
	StatusRescheduled         = "rescheduled"
	StatusRescheduleRequested = "reschedule_requested"
)

// Doctor approval states. Rejected applications are deleted, so only pending
// and approved are ever persisted; DoctorRejected exists as a decision value.
const (
	DoctorPending  = "pending"
	DoctorApproved = "approved"
	DoctorRejected = "rejected"
)

// Notification type tags.
const (
	NotifyAppointment            = "appointment"
	NotifyAppointmentCancelled   = "appointment_cancelled"
	NotifyAppointmentCompleted   = "appointment_completed"
	NotifyAppointmentRescheduled = "appointment_rescheduled"
	NotifyRescheduleRequested    = "reschedule_requested"
	NotifyDoctorRequest          = "doctor_request"
	NotifyReviews                = "reviews"
)

type User struct {
	ID           string
	Email        string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}

type Doctor struct {
	ID              string
	UserID          string
	UserEmail       string // denormalized on reads that join users
	FirstName       string
	LastName        string
	Specialty       string
	Availability    []string
	Qualifications  []string
	ExperienceYears int
	ClinicAddress   string
	ClinicCity      string
	ClinicPinCode   string
	State           string
	City            string
	PinCode         string
	TimingsStart    string
	TimingsEnd      string
	PhoneNo         string
	ProfilePicURL   string
	ConsultationFee float64
	// ConsultationMode is "online", "offline" or "both".
	ConsultationMode string
	Status           string // DoctorPending or DoctorApproved
	Rating           float64
	ReviewsCount     int
	CreatedAt        time.Time
}

type Appointment struct {
	ID               string
	UserID           string // the patient
	DoctorID         string
	AppointmentDate  time.Time
	Status           string
	ResponseStatus   string // "approved", "rejected" or empty
	ResponseMessage  string
	CompletedAt      *time.Time
	RequestedNewDate *time.Time
	CreatedAt        time.Time
}

type Review struct {
	ID        string
	DoctorID  string
	UserID    string
	Text      string
	Rating    float64
	CreatedAt time.Time
}

// Notification is immutable except for the Read flag. Details holds a
// denormalized snapshot (reviewer email, applicant name) captured when the
// notification is written, so it stays meaningful if the user changes later.
type Notification struct {
	ID        string
	UserID    string
	Type      string
	Message   string
	Read      bool
	Details   map[string]string
	CreatedAt time.Time
}

type DoctorStats struct {
	TotalDoctors     int
	ApprovedDoctors  int
	PendingApprovals int
	SpecialtiesCount int
}
