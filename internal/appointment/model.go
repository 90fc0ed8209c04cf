package appointment

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
)

func (r Role) Valid() bool {
	return r == RolePatient || r == RoleDoctor
}

// Actor is the authenticated caller as supplied by the auth boundary.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Doctor struct {
	ID              uuid.UUID
	Name            string
	Email           *string
	Specialization  string
	ConsultationFee decimal.Decimal
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Appointment struct {
	ID              uuid.UUID
	DoctorID        uuid.UUID
	PatientID       uuid.UUID
	ScheduledAt     time.Time
	Status          Status
	ConsultationFee decimal.Decimal
	Notes           *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// AppointmentDetail is an appointment joined with both parties, as returned by list queries.
type AppointmentDetail struct {
	Appointment
	Doctor  *Doctor
	Patient *Patient
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// Filter narrows list queries. Zero values mean "no restriction".
type Filter struct {
	DoctorID  *uuid.UUID
	PatientID *uuid.UUID
	Statuses  []Status
	Text      string
	Date      *time.Time
}

func (f Filter) hasStatus(s Status) bool {
	if len(f.Statuses) == 0 {
		return true
	}
	for _, st := range f.Statuses {
		if st == s {
			return true
		}
	}
	return false
}

// Matches applies every restriction of f to d. Text matching needs the
// party details populated.
func (f Filter) Matches(d AppointmentDetail) bool {
	if f.DoctorID != nil && d.DoctorID != *f.DoctorID {
		return false
	}
	if f.PatientID != nil && d.PatientID != *f.PatientID {
		return false
	}
	if !f.hasStatus(d.Status) {
		return false
	}
	if f.Date != nil {
		from, to := DayBounds(*f.Date)
		if d.ScheduledAt.Before(from) || !d.ScheduledAt.Before(to) {
			return false
		}
	}
	return MatchesText(d, f.Text)
}

// DayBounds returns [start of day, start of next day) in UTC for t.
func DayBounds(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 1)
}
