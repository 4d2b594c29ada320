package handlers

import (
	"net/http"

	"github.com/rakibhasan/clinicbook/libs/httpx"
	"github.com/rakibhasan/clinicbook/services/clinic-service/internal/model"
)

type Handlers struct {
	Auth          *AuthHandler
	Appointments  *AppointmentHandler
	Doctors       *DoctorHandler
	Admin         *AdminHandler
	Notifications *NotificationHandler
}

// Register wires every route onto mux. Auth is enforced per subtree here so
// individual handlers can assume an actor is present.
func Register(mux *http.ServeMux, h Handlers, jwtSecret string) {
	authed := func(fn http.HandlerFunc) http.Handler {
		return httpx.Chain(fn, RequireAuth(jwtSecret))
	}
	adminOnly := func(fn http.HandlerFunc) http.Handler {
		return httpx.Chain(fn, RequireAuth(jwtSecret), RequireRole(model.RoleAdmin))
	}

	mux.HandleFunc("/api/v1/auth/register", h.Auth.Register)
	mux.HandleFunc("/api/v1/auth/login", h.Auth.Login)
	mux.Handle("/api/v1/auth/me", authed(h.Auth.Me))

	// Doctor discovery is public; everything that writes needs a token.
	mux.HandleFunc("/api/v1/doctors", h.Doctors.Search)
	mux.HandleFunc("/api/v1/doctors/{id}", h.Doctors.Get)
	mux.Handle("/api/v1/doctors/apply", authed(h.Doctors.Apply))
	mux.Handle("/api/v1/doctors/me", authed(h.Doctors.Me))
	mux.Handle("/api/v1/doctors/{id}/reviews", authed(h.Doctors.Reviews))

	mux.Handle("/api/v1/appointments", authed(h.Appointments.Collection))
	mux.Handle("/api/v1/appointments/doctor", authed(h.Appointments.DoctorList))
	mux.Handle("/api/v1/appointments/{id}", authed(h.Appointments.Get))
	mux.Handle("/api/v1/appointments/{id}/respond", authed(h.Appointments.Respond))
	mux.Handle("/api/v1/appointments/{id}/complete", authed(h.Appointments.Complete))
	mux.Handle("/api/v1/appointments/{id}/cancel", authed(h.Appointments.Cancel))
	mux.Handle("/api/v1/appointments/{id}/reschedule-request", authed(h.Appointments.RequestReschedule))
	mux.Handle("/api/v1/appointments/{id}/reschedule", authed(h.Appointments.Reschedule))

	mux.Handle("/api/v1/admin/doctors", adminOnly(h.Admin.PendingApplications))
	mux.Handle("/api/v1/admin/doctors/{id}/decision", adminOnly(h.Admin.Decide))
	mux.Handle("/api/v1/admin/stats", adminOnly(h.Admin.Stats))

	mux.Handle("/api/v1/notifications", authed(h.Notifications.List))
	mux.Handle("/api/v1/notifications/read-all", authed(h.Notifications.MarkAllRead))
}
