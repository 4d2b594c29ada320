// Package notify delivers in-app notifications after the owning transaction
// commits. Delivery is best effort: a failed write is logged and dropped, it
// never fails the operation that triggered it.
package notify

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/rakibhasan/clinicbook/services/clinic-service/internal/model"
)

type Sink interface {
	Append(ctx context.Context, n model.Notification) error
}

type Dispatcher struct {
	sink   Sink
	logger *slog.Logger
}

func NewDispatcher(sink Sink, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{sink: sink, logger: logger}
}

func (d *Dispatcher) Send(ctx context.Context, userID, notifType, message string, details map[string]string) {
	n := model.Notification{
		ID:      uuid.NewString(),
		UserID:  userID,
		Type:    notifType,
		Message: message,
		Details: details,
	}
	if err := d.sink.Append(ctx, n); err != nil {
		d.logger.Error("notification delivery failed",
			"user_id", userID, "type", notifType, "error", err)
	}
}

// SendAll fans one message out to several recipients.
func (d *Dispatcher) SendAll(ctx context.Context, userIDs []string, notifType, message string, details map[string]string) {
	for _, id := range userIDs {
		d.Send(ctx, id, notifType, message, details)
	}
}
