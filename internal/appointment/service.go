package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	redisclient "github.com/hackgods/clinic-booking/internal/redis"
)

const (
	EventAppointmentCreated   = "APPOINTMENT_CREATED"
	EventAppointmentConfirmed = "APPOINTMENT_CONFIRMED"
	EventAppointmentCompleted = "APPOINTMENT_COMPLETED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
)

var statusEvents = map[Status]string{
	StatusConfirmed: EventAppointmentConfirmed,
	StatusCompleted: EventAppointmentCompleted,
	StatusCancelled: EventAppointmentCancelled,
}

// Event is what gets logged and published for every successful mutation.
type Event struct {
	Type          string    `json:"type"`
	AppointmentID uuid.UUID `json:"appointment_id"`
	DoctorID      uuid.UUID `json:"doctor_id"`
	PatientID     uuid.UUID `json:"patient_id"`
	From          Status    `json:"from,omitempty"`
	To            Status    `json:"to"`
	ActorID       uuid.UUID `json:"actor_id"`
	ActorRole     Role      `json:"actor_role"`
	ScheduledAt   time.Time `json:"scheduled_at"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Publisher fans events out to other processes. Optional.
type Publisher interface {
	Publish(ctx context.Context, v any) error
}

type Service struct {
	repo      Repository
	locker    redisclient.Locker
	catalog   *SlotCatalog
	publisher Publisher
	log       zerolog.Logger
	now       func() time.Time
}

type Option func(*Service)

func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithClock replaces time.Now, used for the past-date check and event stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(repo Repository, locker redisclient.Locker, hours HoursProvider, opts ...Option) *Service {
	s := &Service{
		repo:    repo,
		locker:  locker,
		catalog: NewSlotCatalog(repo, hours),
		log:     zerolog.Nop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Slots() *SlotCatalog {
	return s.catalog
}

// AvailableSlots lists the free slot starts of a doctor on date.
func (s *Service) AvailableSlots(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]TimeOfDay, error) {
	return s.catalog.AvailableSlots(ctx, doctorID, date)
}

// slotLockKey names one doctor's slot for the locker.
func slotLockKey(doctorID uuid.UUID, at time.Time) string {
	return fmt.Sprintf("%s:%d", doctorID, at.UTC().Unix())
}

// Book creates a pending appointment for the calling patient.
// Checks run in order and the first failure wins: past date, slot
// availability, then the store's atomic occupancy check.
func (s *Service) Book(ctx context.Context, actor Actor, doctorID uuid.UUID, scheduledAt time.Time, notes *string) (*Appointment, error) {
	if actor.Role != RolePatient {
		return nil, fmt.Errorf("%w: only patients can book", ErrForbidden)
	}

	scheduledAt = scheduledAt.UTC()
	if !scheduledAt.After(s.now()) {
		return nil, ErrPastDate
	}

	ok, err := s.catalog.IsAvailable(ctx, doctorID, scheduledAt)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("check slot: %w", err)
	}
	if !ok {
		return nil, ErrSlotUnavailable
	}

	doctor, err := s.repo.GetDoctorByID(ctx, doctorID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load doctor: %w", err)
	}

	var created *Appointment

	err = s.locker.WithSlotLock(ctx, slotLockKey(doctorID, scheduledAt), func(lockCtx context.Context) error {
		appt, err := s.repo.CreateAppointment(lockCtx, Appointment{
			DoctorID:        doctorID,
			PatientID:       actor.ID,
			ScheduledAt:     scheduledAt,
			Status:          StatusPending,
			ConsultationFee: doctor.ConsultationFee,
			Notes:           notes,
		})
		if err != nil {
			return err
		}
		created = appt
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, redisclient.ErrLockNotAcquired):
			return nil, ErrConflict
		case errors.Is(err, ErrConflict), errors.Is(err, ErrNotFound):
			return nil, err
		}
		return nil, fmt.Errorf("create appointment: %w", err)
	}

	s.record(ctx, Event{
		Type:          EventAppointmentCreated,
		AppointmentID: created.ID,
		DoctorID:      created.DoctorID,
		PatientID:     created.PatientID,
		To:            created.Status,
		ActorID:       actor.ID,
		ActorRole:     actor.Role,
		ScheduledAt:   created.ScheduledAt,
	})

	return created, nil
}

// Transition applies a requested status change on behalf of actor.
func (s *Service) Transition(ctx context.Context, actor Actor, id uuid.UUID, to Status) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	if err := authorize(actor, appt); err != nil {
		return nil, err
	}
	if err := CheckTransition(actor.Role, appt.Status, to); err != nil {
		return nil, err
	}

	updated, err := s.repo.UpdateAppointmentStatus(ctx, appt.ID, appt.Status, to)
	if err != nil {
		if errors.Is(err, ErrConflict) || errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("update status: %w", err)
	}

	s.record(ctx, Event{
		Type:          statusEvents[to],
		AppointmentID: updated.ID,
		DoctorID:      updated.DoctorID,
		PatientID:     updated.PatientID,
		From:          appt.Status,
		To:            updated.Status,
		ActorID:       actor.ID,
		ActorRole:     actor.Role,
		ScheduledAt:   updated.ScheduledAt,
	})

	return updated, nil
}

func (s *Service) Cancel(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	return s.Transition(ctx, actor, id, StatusCancelled)
}

// GetAppointment returns an appointment the actor is a party of.
func (s *Service) GetAppointment(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorize(actor, appt); err != nil {
		return nil, err
	}
	return appt, nil
}

// ListAppointments scopes f to the actor's own appointments.
func (s *Service) ListAppointments(ctx context.Context, actor Actor, f Filter) ([]AppointmentDetail, error) {
	switch actor.Role {
	case RoleDoctor:
		return s.ListByDoctor(ctx, actor.ID, f)
	case RolePatient:
		return s.ListByPatient(ctx, actor.ID, f)
	default:
		return nil, fmt.Errorf("%w: unknown role %q", ErrForbidden, actor.Role)
	}
}

func (s *Service) ListByDoctor(ctx context.Context, doctorID uuid.UUID, f Filter) ([]AppointmentDetail, error) {
	f.DoctorID, f.PatientID = &doctorID, nil
	list, err := s.repo.ListAppointments(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list appointments by doctor: %w", err)
	}
	return list, nil
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, f Filter) ([]AppointmentDetail, error) {
	f.PatientID, f.DoctorID = &patientID, nil
	list, err := s.repo.ListAppointments(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return list, nil
}

// Events returns the transition log of an appointment.
func (s *Service) Events(ctx context.Context, actor Actor, id uuid.UUID) ([]EventLog, error) {
	if _, err := s.GetAppointment(ctx, actor, id); err != nil {
		return nil, err
	}
	return s.repo.ListEvents(ctx, id)
}

func authorize(actor Actor, appt *Appointment) error {
	switch {
	case actor.Role == RolePatient && appt.PatientID == actor.ID:
		return nil
	case actor.Role == RoleDoctor && appt.DoctorID == actor.ID:
		return nil
	}
	return fmt.Errorf("%w: not a party of appointment %s", ErrForbidden, appt.ID)
}

// record appends to the event log and publishes. Failures are logged, never returned.
func (s *Service) record(ctx context.Context, ev Event) {
	ev.OccurredAt = s.now().UTC()
	logger := s.log.With().Str("event", ev.Type).Str("appointment_id", ev.AppointmentID.String()).Logger()

	data, err := json.Marshal(ev)
	if err != nil {
		logger.Warn().Err(err).Msg("marshal event payload")
		data = nil
	}

	apptID := ev.AppointmentID
	if err := s.repo.InsertEvent(ctx, EventLog{
		EventType:     ev.Type,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     ev.OccurredAt,
	}); err != nil {
		logger.Warn().Err(err).Msg("insert event log")
	}

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, ev); err != nil {
			logger.Warn().Err(err).Msg("publish event")
		}
	}

	logger.Info().Str("to", string(ev.To)).Str("actor_role", string(ev.ActorRole)).Msg("appointment event")
}
