package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/rakibhasan/clinicbook/services/clinic-service/internal/lifecycle"
	"github.com/rakibhasan/clinicbook/services/clinic-service/internal/model"
)

type AppointmentHandler struct {
	svc    *lifecycle.Service
	logger *slog.Logger
}

func NewAppointmentHandler(svc *lifecycle.Service, logger *slog.Logger) *AppointmentHandler {
	return &AppointmentHandler{svc: svc, logger: logger}
}

type appointmentResponse struct {
	ID               string     `json:"id"`
	PatientID        string     `json:"patientId"`
	DoctorID         string     `json:"doctorId"`
	AppointmentDate  time.Time  `json:"appointmentDate"`
	Status           string     `json:"status"`
	ResponseStatus   string     `json:"responseStatus,omitempty"`
	ResponseMessage  string     `json:"responseMessage,omitempty"`
	CompletedAt      *time.Time `json:"completedAt,omitempty"`
	RequestedNewDate *time.Time `json:"requestedNewDate,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
}

func toAppointmentResponse(a model.Appointment) appointmentResponse {
	return appointmentResponse{
		ID:               a.ID,
		PatientID:        a.UserID,
		DoctorID:         a.DoctorID,
		AppointmentDate:  a.AppointmentDate,
		Status:           a.Status,
		ResponseStatus:   a.ResponseStatus,
		ResponseMessage:  a.ResponseMessage,
		CompletedAt:      a.CompletedAt,
		RequestedNewDate: a.RequestedNewDate,
		CreatedAt:        a.CreatedAt,
	}
}

func toAppointmentResponses(appts []model.Appointment) []appointmentResponse {
	out := make([]appointmentResponse, len(appts))
	for i, a := range appts {
		out[i] = toAppointmentResponse(a)
	}
	return out
}

// Collection handles POST (book) and GET (the caller's own appointments).
func (h *AppointmentHandler) Collection(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())
	switch r.Method {
	case http.MethodPost:
		var req struct {
			DoctorID string    `json:"doctorId"`
			Date     time.Time `json:"date"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		appt, err := h.svc.Book(r.Context(), actor, req.DoctorID, req.Date)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	case http.MethodGet:
		appts, err := h.svc.ListForPatient(r.Context(), actor, listFilterFromQuery(r))
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponses(appts))
	default:
		methodNotAllowed(w)
	}
}

func listFilterFromQuery(r *http.Request) lifecycle.ListFilter {
	q := r.URL.Query()
	return lifecycle.ListFilter{
		Status: q.Get("status"),
		Active: q.Get("active") == "true",
	}
}

// DoctorList returns the appointments assigned to the caller's doctor
// profile.
func (h *AppointmentHandler) DoctorList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	actor, _ := ActorFromContext(r.Context())
	appts, err := h.svc.ListForDoctor(r.Context(), actor, listFilterFromQuery(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponses(appts))
}

func (h *AppointmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	actor, _ := ActorFromContext(r.Context())
	appt, err := h.svc.Get(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *AppointmentHandler) Respond(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	actor, _ := ActorFromContext(r.Context())
	var req struct {
		Decision string `json:"decision"`
		Message  string `json:"message"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	appt, err := h.svc.Respond(r.Context(), actor, r.PathValue("id"), req.Decision, req.Message)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *AppointmentHandler) Complete(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(actor lifecycle.Actor, id string) (model.Appointment, error) {
		return h.svc.Complete(r.Context(), actor, id)
	})
}

func (h *AppointmentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(actor lifecycle.Actor, id string) (model.Appointment, error) {
		return h.svc.Cancel(r.Context(), actor, id)
	})
}

func (h *AppointmentHandler) RequestReschedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	actor, _ := ActorFromContext(r.Context())
	var req struct {
		NewDate time.Time `json:"newDate"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	appt, err := h.svc.RequestReschedule(r.Context(), actor, r.PathValue("id"), req.NewDate)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

// Reschedule accepts a pending reschedule request. A body with a newDate
// overrides the requested date; an empty body accepts it as-is.
func (h *AppointmentHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	actor, _ := ActorFromContext(r.Context())
	var req struct {
		NewDate time.Time `json:"newDate"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if !decodeBody(w, r, &req) {
			return
		}
	}
	appt, err := h.svc.Reschedule(r.Context(), actor, r.PathValue("id"), req.NewDate)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *AppointmentHandler) transition(w http.ResponseWriter, r *http.Request, fn func(lifecycle.Actor, string) (model.Appointment, error)) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	actor, _ := ActorFromContext(r.Context())
	appt, err := fn(actor, r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}
