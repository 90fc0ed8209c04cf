package appointment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCreateIsAtomicPerSlot(t *testing.T) {
	ctx := context.Background()
	repo, doctor, patient := newCatalogRepo(t)
	at := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	const n = 32
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		created   int
		conflicts int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.CreateAppointment(ctx, Appointment{DoctorID: doctor.ID, PatientID: patient.ID, ScheduledAt: at})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				created++
			} else if assert.ErrorIs(t, err, ErrConflict) {
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, n-1, conflicts)

	booked, err := repo.ListBookedTimes(ctx, doctor.ID, at.Add(-time.Hour), at.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, booked, 1)
}

func TestMemoryCreateRejectsUnknownParties(t *testing.T) {
	ctx := context.Background()
	repo, doctor, patient := newCatalogRepo(t)
	at := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	_, err := repo.CreateAppointment(ctx, Appointment{DoctorID: uuid.New(), PatientID: patient.ID, ScheduledAt: at})
	assert.ErrorIs(t, err, ErrDoctorNotFound)

	_, err = repo.CreateAppointment(ctx, Appointment{DoctorID: doctor.ID, PatientID: uuid.New(), ScheduledAt: at})
	assert.ErrorIs(t, err, ErrPatientNotFound)
}

func TestMemoryUpdateStatusCompareAndSet(t *testing.T) {
	ctx := context.Background()
	repo, doctor, patient := newCatalogRepo(t)
	appt, err := repo.CreateAppointment(ctx, Appointment{
		DoctorID:    doctor.ID,
		PatientID:   patient.ID,
		ScheduledAt: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, appt.Status)

	updated, err := repo.UpdateAppointmentStatus(ctx, appt.ID, StatusPending, StatusConfirmed)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, updated.Status)

	_, err = repo.UpdateAppointmentStatus(ctx, appt.ID, StatusPending, StatusCancelled)
	assert.ErrorIs(t, err, ErrConflict, "status moved underneath the caller")

	_, err = repo.UpdateAppointmentStatus(ctx, appt.ID, StatusConfirmed, StatusPending)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = repo.UpdateAppointmentStatus(ctx, uuid.New(), StatusPending, StatusConfirmed)
	assert.ErrorIs(t, err, ErrAppointmentNotFound)

	got, err := repo.GetAppointmentByID(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, got.Status)
}

func TestMemoryStatusRaceHasOneWinner(t *testing.T) {
	ctx := context.Background()
	repo, doctor, patient := newCatalogRepo(t)
	appt, err := repo.CreateAppointment(ctx, Appointment{
		DoctorID:    doctor.ID,
		PatientID:   patient.ID,
		ScheduledAt: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	targets := []Status{StatusConfirmed, StatusCancelled}
	errs := make([]error, len(targets))
	var wg sync.WaitGroup
	for i, to := range targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = repo.UpdateAppointmentStatus(ctx, appt.ID, StatusPending, to)
		}()
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, ErrConflict)
	}
	assert.Equal(t, 1, wins)
}

func TestMemoryListAppointments(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	drEmail := "house@clinic.test"
	house := Doctor{ID: uuid.New(), Name: "Dr. House", Email: &drEmail, ConsultationFee: decimal.NewFromInt(80)}
	wilson := Doctor{ID: uuid.New(), Name: "Dr. Wilson", ConsultationFee: decimal.NewFromInt(60)}
	ptEmail := "Cuddy@Example.com"
	cuddy := Patient{ID: uuid.New(), Name: "Lisa", Email: &ptEmail}
	repo.PutDoctor(house)
	repo.PutDoctor(wilson)
	repo.PutPatient(cuddy)

	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	late, err := repo.CreateAppointment(ctx, Appointment{DoctorID: house.ID, PatientID: cuddy.ID, ScheduledAt: NewTimeOfDay(15, 0).On(day)})
	require.NoError(t, err)
	early, err := repo.CreateAppointment(ctx, Appointment{DoctorID: wilson.ID, PatientID: cuddy.ID, ScheduledAt: NewTimeOfDay(9, 0).On(day)})
	require.NoError(t, err)
	nextDay, err := repo.CreateAppointment(ctx, Appointment{DoctorID: house.ID, PatientID: cuddy.ID, ScheduledAt: NewTimeOfDay(9, 0).On(day.AddDate(0, 0, 1))})
	require.NoError(t, err)
	_, err = repo.UpdateAppointmentStatus(ctx, nextDay.ID, StatusPending, StatusConfirmed)
	require.NoError(t, err)

	ids := func(list []AppointmentDetail) []uuid.UUID {
		out := make([]uuid.UUID, len(list))
		for i, d := range list {
			out[i] = d.ID
		}
		return out
	}

	all, err := repo.ListAppointments(ctx, Filter{PatientID: &cuddy.ID})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{early.ID, late.ID, nextDay.ID}, ids(all), "ordered by scheduled_at")
	require.NotNil(t, all[0].Doctor)
	assert.Equal(t, "Dr. Wilson", all[0].Doctor.Name)

	byDoctor, err := repo.ListAppointments(ctx, Filter{DoctorID: &house.ID})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{late.ID, nextDay.ID}, ids(byDoctor))

	onDay, err := repo.ListAppointments(ctx, Filter{PatientID: &cuddy.ID, Date: &day})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{early.ID, late.ID}, ids(onDay))

	confirmed, err := repo.ListAppointments(ctx, Filter{Statuses: []Status{StatusConfirmed}})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{nextDay.ID}, ids(confirmed))

	byText, err := repo.ListAppointments(ctx, Filter{Text: "HOUSE@clinic"})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{late.ID, nextDay.ID}, ids(byText))

	byPatientEmail, err := repo.ListAppointments(ctx, Filter{Text: "cuddy@"})
	require.NoError(t, err)
	assert.Len(t, byPatientEmail, 3)

	none, err := repo.ListAppointments(ctx, Filter{Text: "nobody"})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}
