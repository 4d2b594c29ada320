package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/rakibhasan/clinicbook/services/clinic-service/internal/model"
)

type recordingSink struct {
	appended []model.Notification
	err      error
}

func (s *recordingSink) Append(_ context.Context, n model.Notification) error {
	if s.err != nil {
		return s.err
	}
	s.appended = append(s.appended, n)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSendPopulatesNotification(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(sink, testLogger())

	d.Send(context.Background(), "user-1", model.NotifyReviews, "New review received", map[string]string{"rating": "5"})

	if len(sink.appended) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(sink.appended))
	}
	n := sink.appended[0]
	if n.ID == "" {
		t.Fatal("expected generated notification ID")
	}
	if n.UserID != "user-1" || n.Type != model.NotifyReviews {
		t.Fatalf("unexpected notification: %+v", n)
	}
	if n.Read {
		t.Fatal("new notifications must be unread")
	}
}

func TestSendSwallowsSinkErrors(t *testing.T) {
	sink := &recordingSink{err: errors.New("connection refused")}
	d := NewDispatcher(sink, testLogger())

	// Must not panic or propagate.
	d.Send(context.Background(), "user-1", model.NotifyAppointment, "Booked", nil)
}

func TestSendAllFansOut(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(sink, testLogger())

	d.SendAll(context.Background(), []string{"a", "b", "c"}, model.NotifyDoctorRequest, "New application", nil)

	if len(sink.appended) != 3 {
		t.Fatalf("expected 3 notifications, got %d", len(sink.appended))
	}
}
