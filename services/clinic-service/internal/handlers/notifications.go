package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/rakibhasan/clinicbook/services/clinic-service/internal/model"
	"github.com/rakibhasan/clinicbook/services/clinic-service/internal/storage"
)

type NotificationHandler struct {
	notifications *storage.NotificationRepository
	logger        *slog.Logger
}

func NewNotificationHandler(notifications *storage.NotificationRepository, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{notifications: notifications, logger: logger}
}

type notificationResponse struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Message   string            `json:"message"`
	Read      bool              `json:"read"`
	Details   map[string]string `json:"details,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

func toNotificationResponse(n model.Notification) notificationResponse {
	return notificationResponse{
		ID:        n.ID,
		Type:      n.Type,
		Message:   n.Message,
		Read:      n.Read,
		Details:   n.Details,
		CreatedAt: n.CreatedAt,
	}
}

func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	actor, _ := ActorFromContext(r.Context())
	list, err := h.notifications.ListByUser(r.Context(), actor.UserID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	out := make([]notificationResponse, len(list))
	for i, n := range list {
		out[i] = toNotificationResponse(n)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	actor, _ := ActorFromContext(r.Context())
	marked, err := h.notifications.MarkAllRead(r.Context(), actor.UserID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"marked": marked})
}
