package appointment

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type slotKey struct {
	doctorID uuid.UUID
	at       int64
}

// MemoryRepository is a process-local Repository. A single mutex serialises
// every write, so slot occupancy and status updates are atomic.
type MemoryRepository struct {
	mu           sync.RWMutex
	now          func() time.Time
	patients     map[uuid.UUID]Patient
	doctors      map[uuid.UUID]Doctor
	appointments map[uuid.UUID]Appointment
	occupied     map[slotKey]uuid.UUID
	events       []EventLog
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		now:          time.Now,
		patients:     make(map[uuid.UUID]Patient),
		doctors:      make(map[uuid.UUID]Doctor),
		appointments: make(map[uuid.UUID]Appointment),
		occupied:     make(map[slotKey]uuid.UUID),
	}
}

func (r *MemoryRepository) PutPatient(p Patient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = r.now()
	}
	p.UpdatedAt = r.now()
	r.patients[p.ID] = p
}

// PutDoctor adds or replaces a doctor. Existing appointments keep their fee.
func (r *MemoryRepository) PutDoctor(d Doctor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = r.now()
	}
	d.UpdatedAt = r.now()
	r.doctors[d.ID] = d
}

func (r *MemoryRepository) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (r *MemoryRepository) GetDoctorByID(_ context.Context, id uuid.UUID) (*Doctor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return &d, nil
}

func (r *MemoryRepository) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *MemoryRepository) ListBookedTimes(_ context.Context, doctorID uuid.UUID, from, to time.Time) ([]time.Time, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []time.Time
	for key := range r.occupied {
		if key.doctorID != doctorID {
			continue
		}
		t := time.Unix(key.at, 0).UTC()
		if !t.Before(from) && t.Before(to) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func (r *MemoryRepository) ListAppointments(_ context.Context, f Filter) ([]AppointmentDetail, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := []AppointmentDetail{}
	for _, a := range r.appointments {
		detail := AppointmentDetail{Appointment: a}
		if d, ok := r.doctors[a.DoctorID]; ok {
			detail.Doctor = &d
		}
		if p, ok := r.patients[a.PatientID]; ok {
			detail.Patient = &p
		}
		if !f.Matches(detail) {
			continue
		}
		result = append(result, detail)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].ScheduledAt.Equal(result[j].ScheduledAt) {
			return result[i].ID.String() < result[j].ID.String()
		}
		return result[i].ScheduledAt.Before(result[j].ScheduledAt)
	})
	return result, nil
}

// MatchesText reports whether text is a case-insensitive substring of either
// party's name or email. Empty text matches everything.
func MatchesText(d AppointmentDetail, text string) bool {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return true
	}
	var fields []string
	if d.Doctor != nil {
		fields = append(fields, d.Doctor.Name)
		if d.Doctor.Email != nil {
			fields = append(fields, *d.Doctor.Email)
		}
	}
	if d.Patient != nil {
		fields = append(fields, d.Patient.Name)
		if d.Patient.Email != nil {
			fields = append(fields, *d.Patient.Email)
		}
	}
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), text) {
			return true
		}
	}
	return false
}

func (r *MemoryRepository) CreateAppointment(_ context.Context, a Appointment) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.doctors[a.DoctorID]; !ok {
		return nil, ErrDoctorNotFound
	}
	if _, ok := r.patients[a.PatientID]; !ok {
		return nil, ErrPatientNotFound
	}

	key := slotKey{doctorID: a.DoctorID, at: a.ScheduledAt.UTC().Unix()}
	if _, taken := r.occupied[key]; taken {
		return nil, ErrConflict
	}

	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	now := r.now()
	a.ScheduledAt = a.ScheduledAt.UTC()
	a.Status = StatusPending
	a.CreatedAt = now
	a.UpdatedAt = now

	r.appointments[a.ID] = a
	r.occupied[key] = a.ID
	return &a, nil
}

func (r *MemoryRepository) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	if !CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if a.Status != from {
		return nil, ErrConflict
	}

	a.Status = to
	a.UpdatedAt = r.now()
	r.appointments[id] = a
	if to == StatusCancelled {
		delete(r.occupied, slotKey{doctorID: a.DoctorID, at: a.ScheduledAt.Unix()})
	}
	return &a, nil
}

func (r *MemoryRepository) InsertEvent(_ context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev.ID = int64(len(r.events) + 1)
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = r.now()
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *MemoryRepository) ListEvents(_ context.Context, appointmentID uuid.UUID) ([]EventLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []EventLog{}
	for _, ev := range r.events {
		if ev.AppointmentID != nil && *ev.AppointmentID == appointmentID {
			out = append(out, ev)
		}
	}
	return out, nil
}
