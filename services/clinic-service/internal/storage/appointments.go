package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rakibhasan/clinicbook/libs/db"
	"github.com/rakibhasan/clinicbook/services/clinic-service/internal/model"
	"github.com/rakibhasan/clinicbook/services/clinic-service/internal/outbox"
)

const appointmentColumns = `
	id, user_id, doctor_id, appointment_date, status,
	response_status, response_message, completed_at, requested_new_date, created_at`

// Transition describes one guarded status change. The update only lands when
// the row's current status is in AllowedFrom; nil field pointers leave the
// corresponding column untouched.
type Transition struct {
	ID                    string
	AllowedFrom           []string
	NewStatus             string
	ResponseStatus        *string
	ResponseMessage       *string
	CompletedAt           *time.Time
	RequestedNewDate      *time.Time
	AppointmentDate       *time.Time
	ClearRequestedNewDate bool
}

type AppointmentRepository struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewAppointmentRepository(pool *db.Pool, ob *outbox.Repository) *AppointmentRepository {
	return &AppointmentRepository{pool: pool, outbox: ob}
}

func (r *AppointmentRepository) Create(ctx context.Context, a model.Appointment, ev outbox.Event) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO appointments (id, user_id, doctor_id, appointment_date, status, created_at)
		VALUES ($1, $2, $3, $4, $5, now())`,
		a.ID, a.UserID, a.DoctorID, a.AppointmentDate, a.Status,
	)
	if err != nil {
		return err
	}
	if err := r.outbox.Append(ctx, tx, ev); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *AppointmentRepository) GetByID(ctx context.Context, id string) (model.Appointment, error) {
	return scanAppointment(r.pool.QueryRow(ctx, `
		SELECT`+appointmentColumns+`
		FROM appointments WHERE id = $1`, id))
}

// Transition performs the status change and the event append atomically. A
// miss is disambiguated by re-reading the row: absent means ErrNotFound,
// present means the guard failed and the current status is reported.
func (r *AppointmentRepository) Transition(ctx context.Context, t Transition, ev outbox.Event) (model.Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer tx.Rollback(ctx)

	appt, err := scanAppointment(tx.QueryRow(ctx, `
		UPDATE appointments SET
			status = $3,
			response_status = COALESCE($4, response_status),
			response_message = COALESCE($5, response_message),
			completed_at = COALESCE($6, completed_at),
			requested_new_date = CASE WHEN $8 THEN NULL ELSE COALESCE($7, requested_new_date) END,
			appointment_date = COALESCE($9, appointment_date)
		WHERE id = $1 AND status = ANY($2)
		RETURNING`+appointmentColumns,
		t.ID, t.AllowedFrom, t.NewStatus,
		t.ResponseStatus, t.ResponseMessage, t.CompletedAt,
		t.RequestedNewDate, t.ClearRequestedNewDate, t.AppointmentDate,
	))
	if errors.Is(err, ErrNotFound) {
		var current string
		probe := tx.QueryRow(ctx, `SELECT status FROM appointments WHERE id = $1`, t.ID).Scan(&current)
		if errors.Is(probe, pgx.ErrNoRows) {
			return model.Appointment{}, ErrNotFound
		}
		if probe != nil {
			return model.Appointment{}, probe
		}
		return model.Appointment{}, &StateError{Current: current}
	}
	if err != nil {
		return model.Appointment{}, err
	}

	if err := r.outbox.Append(ctx, tx, ev); err != nil {
		return model.Appointment{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

// ListByDoctor returns a doctor's appointments, optionally narrowed to a
// status set. Upcoming work (ascending) reads differently from history
// (descending), so the caller picks the direction.
func (r *AppointmentRepository) ListByDoctor(ctx context.Context, doctorID string, statuses []string, oldestFirst bool) ([]model.Appointment, error) {
	return r.listOwned(ctx, "doctor_id", doctorID, statuses, oldestFirst)
}

func (r *AppointmentRepository) ListByPatient(ctx context.Context, userID string, statuses []string, oldestFirst bool) ([]model.Appointment, error) {
	return r.listOwned(ctx, "user_id", userID, statuses, oldestFirst)
}

func (r *AppointmentRepository) listOwned(ctx context.Context, ownerColumn, ownerID string, statuses []string, oldestFirst bool) ([]model.Appointment, error) {
	order := "DESC"
	if oldestFirst {
		order = "ASC"
	}
	query := `
		SELECT` + appointmentColumns + `
		FROM appointments
		WHERE ` + ownerColumn + ` = $1 AND ($2::text[] IS NULL OR status = ANY($2))
		ORDER BY appointment_date ` + order
	return r.list(ctx, query, ownerID, statuses)
}

func (r *AppointmentRepository) list(ctx context.Context, query string, args ...any) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, a)
	}
	return appts, rows.Err()
}

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var a model.Appointment
	err := row.Scan(
		&a.ID, &a.UserID, &a.DoctorID, &a.AppointmentDate, &a.Status,
		&a.ResponseStatus, &a.ResponseMessage, &a.CompletedAt, &a.RequestedNewDate, &a.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Appointment{}, ErrNotFound
	}
	return a, err
}
