// Package consumer reads appointment events off Kafka and turns them into
// email. Messages are deduplicated through the inbox before any mail is sent.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rakibhasan/clinicbook/libs/kafkax"
	"github.com/rakibhasan/clinicbook/services/mailer-service/internal/email"
	"github.com/rakibhasan/clinicbook/services/mailer-service/internal/inbox"
)

const TopicAppointmentBooked = "clinic.appointment.booked.v1"

// appointmentBooked mirrors the clinic-service event payload.
type appointmentBooked struct {
	AppointmentID   string    `json:"appointmentId"`
	PatientEmail    string    `json:"patientEmail"`
	DoctorEmail     string    `json:"doctorEmail"`
	DoctorName      string    `json:"doctorName"`
	AppointmentDate time.Time `json:"appointmentDate"`
}

type Consumer struct {
	reader *kafka.Reader
	inbox  *inbox.Repository
	sender email.Sender
	logger *slog.Logger
	tracer trace.Tracer
}

func New(brokers []string, groupID string, ib *inbox.Repository, sender email.Sender, logger *slog.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        groupID,
		Topic:          TopicAppointmentBooked,
		MinBytes:       1,
		MaxBytes:       1 << 20,
		CommitInterval: 0, // explicit commits only
	})
	return &Consumer{
		reader: reader,
		inbox:  ib,
		sender: sender,
		logger: logger,
		tracer: otel.Tracer("mailer-service"),
	}
}

// Run consumes until ctx is cancelled. A message is committed once handled;
// mail failures are logged and the message is committed anyway so one broken
// address cannot wedge the partition.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		c.handle(ctx, msg)
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			c.logger.Error("commit failed", "error", err)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	ctx = kafkax.ExtractTraceContext(ctx, msg)
	meta := kafkax.ExtractEventMeta(msg)

	ctx, span := c.tracer.Start(ctx, "mailer.handle",
		trace.WithAttributes(
			attribute.String("event.id", meta.EventID),
			attribute.String("event.type", meta.EventType),
		))
	defer span.End()

	if err := c.inbox.Record(ctx, meta.EventID, meta.EventType); err != nil {
		if errors.Is(err, inbox.ErrDuplicate) {
			c.logger.Info("duplicate event skipped", "event_id", meta.EventID)
			return
		}
		span.RecordError(err)
		c.logger.Error("inbox record failed", "event_id", meta.EventID, "error", err)
		return
	}

	var payload appointmentBooked
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		span.RecordError(err)
		c.logger.Error("malformed event payload", "event_id", meta.EventID, "error", err)
		return
	}

	when := email.FormatAppointmentTime(payload.AppointmentDate)

	if err := c.sender.Send(payload.PatientEmail,
		"Appointment request received",
		fmt.Sprintf("Your appointment request with Dr. %s for %s has been received. You will be notified once the doctor responds.", payload.DoctorName, when),
	); err != nil {
		span.RecordError(err)
		c.logger.Error("patient mail failed", "event_id", meta.EventID, "error", err)
	}

	if err := c.sender.Send(payload.DoctorEmail,
		"New appointment request",
		fmt.Sprintf("You have a new appointment request for %s. Please respond from your dashboard.", when),
	); err != nil {
		span.RecordError(err)
		c.logger.Error("doctor mail failed", "event_id", meta.EventID, "error", err)
	}

	c.logger.Info("appointment mail sent",
		"event_id", meta.EventID, "appointment_id", payload.AppointmentID)
}
