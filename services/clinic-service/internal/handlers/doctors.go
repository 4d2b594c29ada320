package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/rakibhasan/clinicbook/services/clinic-service/internal/approval"
	"github.com/rakibhasan/clinicbook/services/clinic-service/internal/model"
	"github.com/rakibhasan/clinicbook/services/clinic-service/internal/reviews"
	"github.com/rakibhasan/clinicbook/services/clinic-service/internal/storage"
)

type DoctorHandler struct {
	approvals *approval.Service
	reviews   *reviews.Service
	doctors   *storage.DoctorRepository
	users     *storage.UserRepository
	logger    *slog.Logger
}

func NewDoctorHandler(approvals *approval.Service, reviewsSvc *reviews.Service, doctors *storage.DoctorRepository, users *storage.UserRepository, logger *slog.Logger) *DoctorHandler {
	return &DoctorHandler{approvals: approvals, reviews: reviewsSvc, doctors: doctors, users: users, logger: logger}
}

type doctorPayload struct {
	FirstName        string   `json:"firstName"`
	LastName         string   `json:"lastName"`
	Specialty        string   `json:"specialty"`
	Availability     []string `json:"availability,omitempty"`
	Qualifications   []string `json:"qualifications,omitempty"`
	ExperienceYears  int      `json:"experienceYears"`
	ClinicAddress    string   `json:"clinicAddress,omitempty"`
	ClinicCity       string   `json:"clinicCity,omitempty"`
	ClinicPinCode    string   `json:"clinicPinCode,omitempty"`
	State            string   `json:"state,omitempty"`
	City             string   `json:"city,omitempty"`
	PinCode          string   `json:"pinCode,omitempty"`
	TimingsStart     string   `json:"timingsStart,omitempty"`
	TimingsEnd       string   `json:"timingsEnd,omitempty"`
	PhoneNo          string   `json:"phoneNo,omitempty"`
	ProfilePicURL    string   `json:"profilePicUrl,omitempty"`
	ConsultationFee  float64  `json:"consultationFee"`
	ConsultationMode string   `json:"consultationMode,omitempty"`
}

type doctorResponse struct {
	doctorPayload
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	Email        string    `json:"email,omitempty"`
	Status       string    `json:"status"`
	Rating       float64   `json:"rating"`
	ReviewsCount int       `json:"reviewsCount"`
	CreatedAt    time.Time `json:"createdAt"`
}

func (p doctorPayload) toModel() model.Doctor {
	return model.Doctor{
		FirstName:        p.FirstName,
		LastName:         p.LastName,
		Specialty:        p.Specialty,
		Availability:     p.Availability,
		Qualifications:   p.Qualifications,
		ExperienceYears:  p.ExperienceYears,
		ClinicAddress:    p.ClinicAddress,
		ClinicCity:       p.ClinicCity,
		ClinicPinCode:    p.ClinicPinCode,
		State:            p.State,
		City:             p.City,
		PinCode:          p.PinCode,
		TimingsStart:     p.TimingsStart,
		TimingsEnd:       p.TimingsEnd,
		PhoneNo:          p.PhoneNo,
		ProfilePicURL:    p.ProfilePicURL,
		ConsultationFee:  p.ConsultationFee,
		ConsultationMode: p.ConsultationMode,
	}
}

func toDoctorResponse(d model.Doctor) doctorResponse {
	return doctorResponse{
		doctorPayload: doctorPayload{
			FirstName:        d.FirstName,
			LastName:         d.LastName,
			Specialty:        d.Specialty,
			Availability:     d.Availability,
			Qualifications:   d.Qualifications,
			ExperienceYears:  d.ExperienceYears,
			ClinicAddress:    d.ClinicAddress,
			ClinicCity:       d.ClinicCity,
			ClinicPinCode:    d.ClinicPinCode,
			State:            d.State,
			City:             d.City,
			PinCode:          d.PinCode,
			TimingsStart:     d.TimingsStart,
			TimingsEnd:       d.TimingsEnd,
			PhoneNo:          d.PhoneNo,
			ProfilePicURL:    d.ProfilePicURL,
			ConsultationFee:  d.ConsultationFee,
			ConsultationMode: d.ConsultationMode,
		},
		ID:           d.ID,
		UserID:       d.UserID,
		Email:        d.UserEmail,
		Status:       d.Status,
		Rating:       d.Rating,
		ReviewsCount: d.ReviewsCount,
		CreatedAt:    d.CreatedAt,
	}
}

func toDoctorResponses(doctors []model.Doctor) []doctorResponse {
	out := make([]doctorResponse, len(doctors))
	for i, d := range doctors {
		out[i] = toDoctorResponse(d)
	}
	return out
}

// Apply files a doctor application for the authenticated user.
func (h *DoctorHandler) Apply(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	actor, _ := ActorFromContext(r.Context())
	user, err := h.users.GetByID(r.Context(), actor.UserID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	var req doctorPayload
	if !decodeBody(w, r, &req) {
		return
	}
	d, err := h.approvals.Submit(r.Context(), user, req.toModel())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDoctorResponse(d))
}

// Me serves the caller's own doctor profile: GET reads it, PUT updates the
// doctor-editable fields.
func (h *DoctorHandler) Me(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())
	switch r.Method {
	case http.MethodGet:
		d, err := h.approvals.Profile(r.Context(), actor.UserID)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, toDoctorResponse(d))
	case http.MethodPut:
		var req doctorPayload
		if !decodeBody(w, r, &req) {
			return
		}
		d, err := h.approvals.UpdateProfile(r.Context(), actor.UserID, req.toModel())
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, toDoctorResponse(d))
	default:
		methodNotAllowed(w)
	}
}

// Search lists approved doctors, optionally filtered by query parameters.
func (h *DoctorHandler) Search(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	q := r.URL.Query()
	doctors, err := h.doctors.Search(r.Context(), storage.SearchFilter{
		Query:     q.Get("q"),
		Specialty: q.Get("specialty"),
		City:      q.Get("city"),
		Mode:      q.Get("mode"),
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toDoctorResponses(doctors))
}

func (h *DoctorHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	d, err := h.doctors.GetByID(r.Context(), r.PathValue("id"))
	if storage.IsNotFound(err) {
		http.Error(w, "doctor not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toDoctorResponse(d))
}

type reviewResponse struct {
	ID        string    `json:"id"`
	DoctorID  string    `json:"doctorId"`
	UserID    string    `json:"userId"`
	Text      string    `json:"text,omitempty"`
	Rating    float64   `json:"rating"`
	CreatedAt time.Time `json:"createdAt"`
}

func toReviewResponse(rev model.Review) reviewResponse {
	return reviewResponse{
		ID:        rev.ID,
		DoctorID:  rev.DoctorID,
		UserID:    rev.UserID,
		Text:      rev.Text,
		Rating:    rev.Rating,
		CreatedAt: rev.CreatedAt,
	}
}

// Reviews handles the reviews sub-resource: POST submits, GET lists.
func (h *DoctorHandler) Reviews(w http.ResponseWriter, r *http.Request) {
	doctorID := r.PathValue("id")
	switch r.Method {
	case http.MethodPost:
		actor, _ := ActorFromContext(r.Context())
		user, err := h.users.GetByID(r.Context(), actor.UserID)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		var req struct {
			Text   string  `json:"text"`
			Rating float64 `json:"rating"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		rev, err := h.reviews.Submit(r.Context(), user, doctorID, req.Text, req.Rating)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, toReviewResponse(rev))
	case http.MethodGet:
		list, err := h.reviews.ListForDoctor(r.Context(), doctorID)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		out := make([]reviewResponse, len(list))
		for i, rev := range list {
			out[i] = toReviewResponse(rev)
		}
		writeJSON(w, http.StatusOK, out)
	default:
		methodNotAllowed(w)
	}
}
