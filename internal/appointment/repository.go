package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository contains all storage interactions needed by the service.
// It is the only authority for appointment records.
type Repository interface {
	// Directory (read-only from the booking side)
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)

	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// Scheduled times of non-cancelled appointments of a doctor in [from, to).
	ListBookedTimes(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]time.Time, error)

	// Ordered by scheduled_at ascending.
	ListAppointments(ctx context.Context, f Filter) ([]AppointmentDetail, error)

	// CreateAppointment inserts a pending appointment. Slot occupancy is
	// decided atomically with the insert and reported as ErrConflict.
	CreateAppointment(ctx context.Context, a Appointment) (*Appointment, error)

	// UpdateAppointmentStatus moves id from -> to atomically. It returns
	// ErrInvalidTransition for edges outside the table, ErrAppointmentNotFound
	// for unknown ids and ErrConflict when the stored status is no longer from.
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
	ListEvents(ctx context.Context, appointmentID uuid.UUID) ([]EventLog, error)
}
