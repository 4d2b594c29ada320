package handlers

import (
	"log/slog"
	"net/http"

	"github.com/rakibhasan/clinicbook/services/clinic-service/internal/approval"
	"github.com/rakibhasan/clinicbook/services/clinic-service/internal/storage"
)

// AdminHandler serves the admin review queue and platform stats. Routes using
// it are wrapped with RequireRole(admin).
type AdminHandler struct {
	approvals *approval.Service
	doctors   *storage.DoctorRepository
	logger    *slog.Logger
}

func NewAdminHandler(approvals *approval.Service, doctors *storage.DoctorRepository, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{approvals: approvals, doctors: doctors, logger: logger}
}

func (h *AdminHandler) PendingApplications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	pending, err := h.approvals.ListPending(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toDoctorResponses(pending))
}

func (h *AdminHandler) Decide(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req struct {
		Decision string `json:"decision"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	d, err := h.approvals.Decide(r.Context(), r.PathValue("id"), req.Decision)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toDoctorResponse(d))
}

func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	stats, err := h.doctors.Stats(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"totalDoctors":     stats.TotalDoctors,
		"approvedDoctors":  stats.ApprovedDoctors,
		"pendingApprovals": stats.PendingApprovals,
		"specialties":      stats.SpecialtiesCount,
	})
}
