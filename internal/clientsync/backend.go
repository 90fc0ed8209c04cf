package clientsync

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/appointment"
)

var (
	ErrTransport      = errors.New("server unreachable or returned a malformed response")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInvalidRequest = errors.New("invalid request")
	ErrTimeout        = errors.New("request timed out")
)

// Wire kinds that only exist on the client side.
const (
	KindTransport = "transport"
	KindTimeout   = "timeout"
)

// RemoteError is a domain error decoded from a server response. It unwraps
// to the matching appointment sentinel so errors.Is works across the wire.
type RemoteError struct {
	Status  int
	Kind    string
	Message string
	err     error
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return e.Kind
	}
	return e.Message
}

func (e *RemoteError) Unwrap() error { return e.err }

// ErrorKind names the kind of err for presentation.
func ErrorKind(err error) string {
	var remote *RemoteError
	switch {
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrTransport):
		return KindTransport
	case errors.As(err, &remote):
		return remote.Kind
	}
	return appointment.Kind(err)
}

type BookRequest struct {
	DoctorID    uuid.UUID
	ScheduledAt time.Time
	Notes       *string
}

// calendarDay keeps the calendar date the caller sees in its own zone and
// moves it to UTC midnight, the day the server schedules in.
func calendarDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Backend is how a mirror reaches the authoritative store.
type Backend interface {
	Slots(ctx context.Context, sess *Session, doctorID uuid.UUID, date time.Time) ([]appointment.TimeOfDay, error)
	Book(ctx context.Context, sess *Session, req BookRequest) (*appointment.Appointment, error)
	List(ctx context.Context, sess *Session, f appointment.Filter) ([]appointment.AppointmentDetail, error)
	UpdateStatus(ctx context.Context, sess *Session, id uuid.UUID, to appointment.Status) (*appointment.Appointment, error)
}

// ServiceBackend calls an in-process service directly.
type ServiceBackend struct {
	svc *appointment.Service
}

func NewServiceBackend(svc *appointment.Service) *ServiceBackend {
	return &ServiceBackend{svc: svc}
}

func (b *ServiceBackend) Slots(ctx context.Context, sess *Session, doctorID uuid.UUID, date time.Time) ([]appointment.TimeOfDay, error) {
	if err := sess.Err(); err != nil {
		return nil, err
	}
	return b.svc.AvailableSlots(ctx, doctorID, calendarDay(date))
}

func (b *ServiceBackend) Book(ctx context.Context, sess *Session, req BookRequest) (*appointment.Appointment, error) {
	if err := sess.Err(); err != nil {
		return nil, err
	}
	return b.svc.Book(ctx, sess.Actor(), req.DoctorID, req.ScheduledAt, req.Notes)
}

func (b *ServiceBackend) List(ctx context.Context, sess *Session, f appointment.Filter) ([]appointment.AppointmentDetail, error) {
	if err := sess.Err(); err != nil {
		return nil, err
	}
	if f.Date != nil {
		day := calendarDay(*f.Date)
		f.Date = &day
	}
	return b.svc.ListAppointments(ctx, sess.Actor(), f)
}

func (b *ServiceBackend) UpdateStatus(ctx context.Context, sess *Session, id uuid.UUID, to appointment.Status) (*appointment.Appointment, error) {
	if err := sess.Err(); err != nil {
		return nil, err
	}
	return b.svc.Transition(ctx, sess.Actor(), id, to)
}
