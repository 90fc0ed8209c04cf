package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

const appointmentColumns = `id, doctor_id, patient_id, scheduled_at, status, consultation_fee, notes, created_at, updated_at`

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Email,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	return &p, nil
}

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	err := row.Scan(
		&d.ID,
		&d.Name,
		&d.Email,
		&d.Specialization,
		&d.ConsultationFee,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}
	return &d, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(
		&a.ID,
		&a.DoctorID,
		&a.PatientID,
		&a.ScheduledAt,
		&a.Status,
		&a.ConsultationFee,
		&a.Notes,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	return &a, nil
}

// Interface methods

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, specialization, consultation_fee, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListBookedTimes(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]time.Time, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT scheduled_at
		FROM appointments
		WHERE doctor_id = $1
		  AND status <> 'cancelled'
		  AND scheduled_at >= $2
		  AND scheduled_at < $3
		ORDER BY scheduled_at
	`, doctorID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (r *PgRepository) ListAppointments(ctx context.Context, f Filter) ([]AppointmentDetail, error) {
	query, args, err := buildListQuery(f)
	if err != nil {
		return nil, fmt.Errorf("build list query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []AppointmentDetail{}
	for rows.Next() {
		var (
			a Appointment
			d Doctor
			p Patient
		)
		err := rows.Scan(
			&a.ID, &a.DoctorID, &a.PatientID, &a.ScheduledAt, &a.Status,
			&a.ConsultationFee, &a.Notes, &a.CreatedAt, &a.UpdatedAt,
			&d.Name, &d.Email, &d.Specialization, &d.ConsultationFee,
			&p.Name, &p.Email,
		)
		if err != nil {
			return nil, err
		}
		d.ID = a.DoctorID
		p.ID = a.PatientID
		result = append(result, AppointmentDetail{Appointment: a, Doctor: &d, Patient: &p})
	}
	return result, rows.Err()
}

// buildListQuery renders the filtered appointment list as a prepared postgres statement.
func buildListQuery(f Filter) (string, []any, error) {
	ds := goqu.Dialect("postgres").
		From(goqu.T("appointments").As("a")).
		Join(goqu.T("doctors").As("d"), goqu.On(goqu.I("d.id").Eq(goqu.I("a.doctor_id")))).
		Join(goqu.T("patients").As("p"), goqu.On(goqu.I("p.id").Eq(goqu.I("a.patient_id")))).
		Select(
			"a.id", "a.doctor_id", "a.patient_id", "a.scheduled_at", "a.status",
			"a.consultation_fee", "a.notes", "a.created_at", "a.updated_at",
			"d.name", "d.email", "d.specialization", "d.consultation_fee",
			"p.name", "p.email",
		).
		Prepared(true)

	if f.DoctorID != nil {
		ds = ds.Where(goqu.I("a.doctor_id").Eq(f.DoctorID.String()))
	}
	if f.PatientID != nil {
		ds = ds.Where(goqu.I("a.patient_id").Eq(f.PatientID.String()))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, 0, len(f.Statuses))
		for _, s := range f.Statuses {
			statuses = append(statuses, string(s))
		}
		ds = ds.Where(goqu.I("a.status").In(statuses))
	}
	if text := strings.TrimSpace(f.Text); text != "" {
		pattern := "%" + escapeLike(text) + "%"
		ds = ds.Where(goqu.Or(
			goqu.I("d.name").ILike(pattern),
			goqu.I("d.email").ILike(pattern),
			goqu.I("p.name").ILike(pattern),
			goqu.I("p.email").ILike(pattern),
		))
	}
	if f.Date != nil {
		from, to := DayBounds(*f.Date)
		ds = ds.Where(
			goqu.I("a.scheduled_at").Gte(from),
			goqu.I("a.scheduled_at").Lt(to),
		)
	}

	return ds.Order(goqu.I("a.scheduled_at").Asc(), goqu.I("a.id").Asc()).ToSQL()
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (r *PgRepository) CreateAppointment(ctx context.Context, a Appointment) (*Appointment, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (id, doctor_id, patient_id, scheduled_at, status, consultation_fee, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'pending', $5, $6, now(), now())
		RETURNING `+appointmentColumns+`
	`, a.ID, a.DoctorID, a.PatientID, a.ScheduledAt.UTC(), a.ConsultationFee.String(), a.Notes)

	created, err := scanAppointment(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case pgUniqueViolation:
				return nil, ErrConflict
			case pgForeignKeyViolation:
				return nil, fmt.Errorf("doctor or patient %w", ErrNotFound)
			}
		}
		return nil, err
	}
	return created, nil
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	if !CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns+`
	`, id, to, from)

	updated, err := scanAppointment(row)
	if errors.Is(err, ErrAppointmentNotFound) {
		// Either the id is unknown or someone else moved the status first.
		var exists bool
		if qerr := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM appointments WHERE id = $1)`, id).Scan(&exists); qerr != nil {
			return nil, qerr
		}
		if exists {
			return nil, ErrConflict
		}
		return nil, ErrAppointmentNotFound
	}
	return updated, err
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

func (r *PgRepository) ListEvents(ctx context.Context, appointmentID uuid.UUID) ([]EventLog, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, event_type, appointment_id, payload, created_at
		FROM event_logs
		WHERE appointment_id = $1
		ORDER BY created_at, id
	`, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []EventLog{}
	for rows.Next() {
		var ev EventLog
		if err := rows.Scan(&ev.ID, &ev.EventType, &ev.AppointmentID, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, ev)
	}
	return result, rows.Err()
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
