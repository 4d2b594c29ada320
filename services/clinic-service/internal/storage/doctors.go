package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/rakibhasan/clinicbook/libs/db"
	"github.com/rakibhasan/clinicbook/services/clinic-service/internal/model"
	"github.com/rakibhasan/clinicbook/services/clinic-service/internal/outbox"
)

const doctorColumns = `
	d.id, d.user_id, u.email, d.first_name, d.last_name, d.specialty,
	d.availability, d.qualifications, d.experience_years,
	d.clinic_address, d.clinic_city, d.clinic_pin_code,
	d.state, d.city, d.pin_code, d.timings_start, d.timings_end,
	d.phone_no, d.profile_pic_url, d.consultation_fee, d.consultation_mode,
	d.status, d.rating, d.reviews_count, d.created_at`

type DoctorRepository struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewDoctorRepository(pool *db.Pool, ob *outbox.Repository) *DoctorRepository {
	return &DoctorRepository{pool: pool, outbox: ob}
}

func (r *DoctorRepository) CreateApplication(ctx context.Context, d model.Doctor) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO doctors (
			id, user_id, first_name, last_name, specialty,
			availability, qualifications, experience_years,
			clinic_address, clinic_city, clinic_pin_code,
			state, city, pin_code, timings_start, timings_end,
			phone_no, profile_pic_url, consultation_fee, consultation_mode,
			status, rating, reviews_count, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19, $20, $21, 0, 0, now()
		)`,
		d.ID, d.UserID, d.FirstName, d.LastName, d.Specialty,
		d.Availability, d.Qualifications, d.ExperienceYears,
		d.ClinicAddress, d.ClinicCity, d.ClinicPinCode,
		d.State, d.City, d.PinCode, d.TimingsStart, d.TimingsEnd,
		d.PhoneNo, d.ProfilePicURL, d.ConsultationFee, d.ConsultationMode,
		d.Status,
	)
	return err
}

func (r *DoctorRepository) GetByID(ctx context.Context, id string) (model.Doctor, error) {
	return scanDoctor(r.pool.QueryRow(ctx, `
		SELECT`+doctorColumns+`
		FROM doctors d JOIN users u ON u.id = d.user_id
		WHERE d.id = $1`, id))
}

func (r *DoctorRepository) GetByUserID(ctx context.Context, userID string) (model.Doctor, error) {
	return scanDoctor(r.pool.QueryRow(ctx, `
		SELECT`+doctorColumns+`
		FROM doctors d JOIN users u ON u.id = d.user_id
		WHERE d.user_id = $1`, userID))
}

func (r *DoctorRepository) ListPending(ctx context.Context) ([]model.Doctor, error) {
	return r.list(ctx, `
		SELECT`+doctorColumns+`
		FROM doctors d JOIN users u ON u.id = d.user_id
		WHERE d.status = $1
		ORDER BY d.created_at`, model.DoctorPending)
}

// SearchFilter narrows the approved-doctor listing. Zero values mean "any".
type SearchFilter struct {
	Query     string // matches name or specialty, case-insensitive
	Specialty string
	City      string
	Mode      string
}

func (r *DoctorRepository) Search(ctx context.Context, f SearchFilter) ([]model.Doctor, error) {
	conds := []string{"d.status = $1"}
	args := []any{model.DoctorApproved}
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.Query != "" {
		add(`(d.first_name ILIKE '%%' || $%d || '%%'
			OR d.last_name ILIKE '%%' || $%[1]d || '%%'
			OR d.specialty ILIKE '%%' || $%[1]d || '%%')`, f.Query)
	}
	if f.Specialty != "" {
		add("d.specialty ILIKE '%%' || $%d || '%%'", f.Specialty)
	}
	if f.City != "" {
		add(`(d.city ILIKE '%%' || $%d || '%%'
			OR d.clinic_city ILIKE '%%' || $%[1]d || '%%')`, f.City)
	}
	if f.Mode != "" {
		add("(d.consultation_mode = $%d OR d.consultation_mode = 'both')", f.Mode)
	}
	query := `
		SELECT` + doctorColumns + `
		FROM doctors d JOIN users u ON u.id = d.user_id
		WHERE ` + strings.Join(conds, " AND ") + `
		ORDER BY d.rating DESC, d.reviews_count DESC`
	return r.list(ctx, query, args...)
}

// Approve flips the application to approved and promotes the backing user to
// the doctor role in the same transaction as the domain event.
func (r *DoctorRepository) Approve(ctx context.Context, doctorID string, ev outbox.Event) (model.Doctor, error) {
	return r.decide(ctx, doctorID, model.DoctorApproved, ev)
}

// Reject removes the application entirely. The user keeps the patient role
// and may apply again later; a rejected id reads back as not found.
func (r *DoctorRepository) Reject(ctx context.Context, doctorID string, ev outbox.Event) (model.Doctor, error) {
	return r.decide(ctx, doctorID, model.DoctorRejected, ev)
}

func (r *DoctorRepository) decide(ctx context.Context, doctorID, decision string, ev outbox.Event) (model.Doctor, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Doctor{}, err
	}
	defer tx.Rollback(ctx)

	var d model.Doctor
	var current string
	err = tx.QueryRow(ctx, `
		SELECT id, user_id, first_name, last_name, status
		FROM doctors WHERE id = $1 FOR UPDATE`, doctorID,
	).Scan(&d.ID, &d.UserID, &d.FirstName, &d.LastName, &current)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Doctor{}, ErrNotFound
	}
	if err != nil {
		return model.Doctor{}, err
	}
	if current != model.DoctorPending {
		return model.Doctor{}, &StateError{Current: current}
	}

	if decision == model.DoctorApproved {
		if _, err := tx.Exec(ctx, `UPDATE doctors SET status = $2 WHERE id = $1`, doctorID, model.DoctorApproved); err != nil {
			return model.Doctor{}, err
		}
		if _, err := tx.Exec(ctx, `UPDATE users SET role = $2 WHERE id = $1`, d.UserID, model.RoleDoctor); err != nil {
			return model.Doctor{}, err
		}
	} else {
		if _, err := tx.Exec(ctx, `DELETE FROM doctors WHERE id = $1`, doctorID); err != nil {
			return model.Doctor{}, err
		}
	}
	if err := r.outbox.Append(ctx, tx, ev); err != nil {
		return model.Doctor{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Doctor{}, err
	}
	d.Status = decision
	return d, nil
}

// UpdateProfile overwrites only the fields a doctor may edit. Approval
// status, rating, review count and the user link are never touched here.
func (r *DoctorRepository) UpdateProfile(ctx context.Context, doctorID string, d model.Doctor) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE doctors SET
			first_name = $2, last_name = $3, specialty = $4,
			availability = $5, qualifications = $6, experience_years = $7,
			clinic_address = $8, clinic_city = $9, clinic_pin_code = $10,
			state = $11, city = $12, pin_code = $13,
			timings_start = $14, timings_end = $15,
			phone_no = $16, profile_pic_url = $17,
			consultation_fee = $18, consultation_mode = $19
		WHERE id = $1`,
		doctorID, d.FirstName, d.LastName, d.Specialty,
		d.Availability, d.Qualifications, d.ExperienceYears,
		d.ClinicAddress, d.ClinicCity, d.ClinicPinCode,
		d.State, d.City, d.PinCode,
		d.TimingsStart, d.TimingsEnd,
		d.PhoneNo, d.ProfilePicURL,
		d.ConsultationFee, d.ConsultationMode,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateRating applies a recomputed aggregate guarded by the review count the
// caller read. A concurrent review moves the count and the write misses.
func (r *DoctorRepository) UpdateRating(ctx context.Context, doctorID string, rating float64, newCount, expectedCount int) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE doctors SET rating = $2, reviews_count = $3
		WHERE id = $1 AND reviews_count = $4`,
		doctorID, rating, newCount, expectedCount,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	return nil
}

func (r *DoctorRepository) Stats(ctx context.Context) (model.DoctorStats, error) {
	var s model.DoctorStats
	err := r.pool.QueryRow(ctx, `
		SELECT
			count(*),
			count(*) FILTER (WHERE status = $1),
			count(*) FILTER (WHERE status = $2),
			count(DISTINCT specialty) FILTER (WHERE status = $1)
		FROM doctors`, model.DoctorApproved, model.DoctorPending,
	).Scan(&s.TotalDoctors, &s.ApprovedDoctors, &s.PendingApprovals, &s.SpecialtiesCount)
	return s, err
}

func (r *DoctorRepository) list(ctx context.Context, query string, args ...any) ([]model.Doctor, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var doctors []model.Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, err
		}
		doctors = append(doctors, d)
	}
	return doctors, rows.Err()
}

func scanDoctor(row pgx.Row) (model.Doctor, error) {
	var d model.Doctor
	err := row.Scan(
		&d.ID, &d.UserID, &d.UserEmail, &d.FirstName, &d.LastName, &d.Specialty,
		&d.Availability, &d.Qualifications, &d.ExperienceYears,
		&d.ClinicAddress, &d.ClinicCity, &d.ClinicPinCode,
		&d.State, &d.City, &d.PinCode, &d.TimingsStart, &d.TimingsEnd,
		&d.PhoneNo, &d.ProfilePicURL, &d.ConsultationFee, &d.ConsultationMode,
		&d.Status, &d.Rating, &d.ReviewsCount, &d.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Doctor{}, ErrNotFound
	}
	return d, err
}
