package clientsync

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-booking/internal/api"
	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/auth"
)

func newAPIServer(t *testing.T, w *world) (*httptest.Server, *auth.Tokens) {
	t.Helper()
	tokens := auth.NewTokens("clientsync-test-secret", time.Hour)
	srv := httptest.NewServer(api.NewRouter(api.RouterConfig{
		Service: w.svc,
		Tokens:  tokens,
		Logger:  zerolog.Nop(),
	}))
	t.Cleanup(srv.Close)
	return srv, tokens
}

func tokenSession(t *testing.T, tokens *auth.Tokens, actor appointment.Actor) *Session {
	t.Helper()
	raw, err := tokens.Issue(actor)
	require.NoError(t, err)
	sess, err := OpenToken(raw)
	require.NoError(t, err)
	assert.Equal(t, actor, sess.Actor())
	t.Cleanup(sess.Close)
	return sess
}

func TestOpenTokenRejectsGarbage(t *testing.T) {
	_, err := OpenToken("nope")
	assert.Error(t, err)

	_, err = Open(appointment.Actor{ID: uuid.New(), Role: "nurse"}, "")
	assert.Error(t, err)
}

func TestHTTPBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	srv, tokens := newAPIServer(t, w)
	backend := NewHTTPBackend(srv.URL+"/", nil)

	patient := tokenSession(t, tokens, w.patient)
	doctor := tokenSession(t, tokens, w.doctor)

	slots, err := backend.Slots(ctx, patient, w.doctor.ID, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Len(t, slots, 13)
	assert.NotContains(t, slots, appointment.NewTimeOfDay(9, 0))

	notes := "bring results"
	booked, err := backend.Book(ctx, patient, BookRequest{DoctorID: w.doctor.ID, ScheduledAt: time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC), Notes: &notes})
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusPending, booked.Status)
	assert.Equal(t, "90.00", booked.ConsultationFee.StringFixed(2))
	require.NotNil(t, booked.Notes)
	assert.Equal(t, notes, *booked.Notes)

	list, err := backend.List(ctx, doctor, appointment.Filter{Statuses: []appointment.Status{appointment.StatusPending}, Text: "grace"})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, w.appt.ID, list[0].ID)
	require.NotNil(t, list[0].Patient)
	assert.Equal(t, "Grace Hopper", list[0].Patient.Name)

	updated, err := backend.UpdateStatus(ctx, doctor, booked.ID, appointment.StatusConfirmed)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusConfirmed, updated.Status)
}

func TestHTTPBackendErrorMapping(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	srv, tokens := newAPIServer(t, w)
	backend := NewHTTPBackend(srv.URL, nil)
	patient := tokenSession(t, tokens, w.patient)

	_, err := backend.UpdateStatus(ctx, patient, w.appt.ID, appointment.StatusConfirmed)
	assert.ErrorIs(t, err, appointment.ErrForbidden)
	assert.Equal(t, appointment.KindForbidden, ErrorKind(err))

	_, err = backend.Book(ctx, patient, BookRequest{DoctorID: w.doctor.ID, ScheduledAt: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)})
	assert.ErrorIs(t, err, appointment.ErrSlotUnavailable)

	_, err = backend.Book(ctx, patient, BookRequest{DoctorID: w.doctor.ID, ScheduledAt: time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)})
	assert.ErrorIs(t, err, appointment.ErrPastDate)

	_, err = backend.UpdateStatus(ctx, patient, uuid.New(), appointment.StatusCancelled)
	assert.ErrorIs(t, err, appointment.ErrNotFound)

	stranger, err := Open(w.patient, "forged")
	require.NoError(t, err)
	_, err = backend.List(ctx, stranger, appointment.Filter{})
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestHTTPBackendTransportErrors(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	sess := openSession(t, w.doctor)

	broken := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/appointments" {
			rw.WriteHeader(http.StatusOK)
			_, _ = rw.Write([]byte("<html>"))
			return
		}
		rw.WriteHeader(http.StatusBadGateway)
		_, _ = rw.Write([]byte("upstream gone"))
	}))
	t.Cleanup(broken.Close)

	backend := NewHTTPBackend(broken.URL, nil)

	_, err := backend.List(ctx, sess, appointment.Filter{})
	assert.ErrorIs(t, err, ErrTransport)

	_, err = backend.UpdateStatus(ctx, sess, w.appt.ID, appointment.StatusConfirmed)
	assert.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, KindTransport, ErrorKind(err))

	unreachable := NewHTTPBackend("http://127.0.0.1:1", &http.Client{Timeout: time.Second})
	_, err = unreachable.List(ctx, sess, appointment.Filter{})
	assert.ErrorIs(t, err, ErrTransport)
}

func TestMirrorOverHTTPRollsBackOnTransportFailure(t *testing.T) {
	w := newWorld(t)
	srv, tokens := newAPIServer(t, w)
	doctor := tokenSession(t, tokens, w.doctor)

	flaky := &flakyBackend{HTTPBackend: NewHTTPBackend(srv.URL, nil)}
	m, notes := newMirror(t, doctor, flaky, time.Second)

	flaky.failUpdates = true
	_, err := m.SetStatus(context.Background(), w.appt.ID, appointment.StatusConfirmed)
	assert.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, KindTransport, notes.last().ErrorKind)

	e, _ := m.Get(w.appt.ID)
	assert.Equal(t, appointment.StatusPending, e.Status)
	assert.False(t, e.Pending())

	flaky.failUpdates = false
	_, err = m.SetStatus(context.Background(), w.appt.ID, appointment.StatusConfirmed)
	require.NoError(t, err)
	e, _ = m.Get(w.appt.ID)
	assert.Equal(t, appointment.StatusConfirmed, e.Status)
}

type flakyBackend struct {
	*HTTPBackend
	failUpdates bool
}

func (f *flakyBackend) UpdateStatus(ctx context.Context, sess *Session, id uuid.UUID, to appointment.Status) (*appointment.Appointment, error) {
	if f.failUpdates {
		return nil, ErrTransport
	}
	return f.HTTPBackend.UpdateStatus(ctx, sess, id, to)
}

func TestBackendsUseCallerCalendarDate(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	srv, tokens := newAPIServer(t, w)
	doctor := tokenSession(t, tokens, w.doctor)

	tokyo := time.FixedZone("JST", 9*60*60)
	day := time.Date(2025, 3, 10, 0, 0, 0, 0, tokyo)

	backends := map[string]Backend{
		"http":    NewHTTPBackend(srv.URL, nil),
		"service": NewServiceBackend(w.svc),
	}
	for name, backend := range backends {
		t.Run(name, func(t *testing.T) {
			slots, err := backend.Slots(ctx, doctor, w.doctor.ID, day)
			require.NoError(t, err)
			assert.Len(t, slots, 13)
			assert.NotContains(t, slots, appointment.NewTimeOfDay(9, 0), "slots for March 10, not March 9")

			list, err := backend.List(ctx, doctor, appointment.Filter{Date: &day})
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, w.appt.ID, list[0].ID)
		})
	}
}
