package clientsync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-booking/internal/appointment"
	redisclient "github.com/hackgods/clinic-booking/internal/redis"
)

var testNow = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

type world struct {
	repo    *appointment.MemoryRepository
	svc     *appointment.Service
	doctor  appointment.Actor
	patient appointment.Actor
	appt    *appointment.Appointment
}

func newWorld(t *testing.T) *world {
	t.Helper()

	repo := appointment.NewMemoryRepository()
	email := "ada@clinic.test"
	doctor := appointment.Doctor{ID: uuid.New(), Name: "Dr. Ada", Email: &email, ConsultationFee: decimal.NewFromInt(90)}
	patient := appointment.Patient{ID: uuid.New(), Name: "Grace Hopper"}
	repo.PutDoctor(doctor)
	repo.PutPatient(patient)

	w := &world{
		repo:    repo,
		svc:     appointment.NewService(repo, redisclient.NewLocalSlotLocker(time.Second), nil, appointment.WithClock(func() time.Time { return testNow })),
		doctor:  appointment.Actor{ID: doctor.ID, Role: appointment.RoleDoctor},
		patient: appointment.Actor{ID: patient.ID, Role: appointment.RolePatient},
	}

	var err error
	w.appt, err = w.svc.Book(context.Background(), w.patient, doctor.ID, time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC), nil)
	require.NoError(t, err)
	return w
}

func openSession(t *testing.T, actor appointment.Actor) *Session {
	t.Helper()
	sess, err := Open(actor, "")
	require.NoError(t, err)
	t.Cleanup(sess.Close)
	return sess
}

type notifications struct {
	mu   sync.Mutex
	list []Notification
}

func (n *notifications) Notify(note Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.list = append(n.list, note)
}

func (n *notifications) last() Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.list) == 0 {
		return Notification{}
	}
	return n.list[len(n.list)-1]
}

func newMirror(t *testing.T, sess *Session, backend Backend, timeout time.Duration) (*Mirror, *notifications) {
	t.Helper()
	notes := &notifications{}
	m := NewMirror(sess, backend, WithNotifier(notes), WithTimeout(timeout, 0))
	t.Cleanup(m.Close)
	require.NoError(t, m.Refresh(context.Background()))
	return m, notes
}

// gatedBackend holds UpdateStatus calls until the gate is closed.
type gatedBackend struct {
	Backend
	entered chan struct{}
	gate    chan struct{}
}

func newGatedBackend(inner Backend) *gatedBackend {
	return &gatedBackend{Backend: inner, entered: make(chan struct{}, 8), gate: make(chan struct{})}
}

func (g *gatedBackend) UpdateStatus(ctx context.Context, sess *Session, id uuid.UUID, to appointment.Status) (*appointment.Appointment, error) {
	g.entered <- struct{}{}
	<-g.gate
	return g.Backend.UpdateStatus(ctx, sess, id, to)
}

func TestMirrorSetStatusSuccess(t *testing.T) {
	w := newWorld(t)
	m, notes := newMirror(t, openSession(t, w.doctor), NewServiceBackend(w.svc), time.Second)

	entry, err := m.SetStatus(context.Background(), w.appt.ID, appointment.StatusConfirmed)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusConfirmed, entry.Status)
	assert.False(t, entry.Pending())

	got, ok := m.Get(w.appt.ID)
	require.True(t, ok)
	assert.Equal(t, appointment.StatusConfirmed, got.Status)
	assert.False(t, got.Pending())
	require.NotNil(t, got.Patient, "refresh restores party details")
	assert.Equal(t, "Grace Hopper", got.Patient.Name)

	assert.Equal(t, NotifySuccess, notes.last().Kind)
	assert.Equal(t, w.appt.ID, notes.last().AppointmentID)
}

func TestMirrorRollbackOnFailure(t *testing.T) {
	w := newWorld(t)
	m, notes := newMirror(t, openSession(t, w.patient), NewServiceBackend(w.svc), time.Second)

	before, ok := m.Get(w.appt.ID)
	require.True(t, ok)
	require.Equal(t, appointment.StatusPending, before.Status)

	_, err := m.SetStatus(context.Background(), w.appt.ID, appointment.StatusConfirmed)
	assert.ErrorIs(t, err, appointment.ErrForbidden)

	after, ok := m.Get(w.appt.ID)
	require.True(t, ok)
	assert.Equal(t, before, after)
	assert.Equal(t, appointment.StatusPending, after.Status)
	assert.False(t, after.Pending())

	last := notes.last()
	assert.Equal(t, NotifyError, last.Kind)
	assert.Equal(t, appointment.KindForbidden, last.ErrorKind)
}

func TestMirrorCancelTwice(t *testing.T) {
	w := newWorld(t)
	m, notes := newMirror(t, openSession(t, w.patient), NewServiceBackend(w.svc), time.Second)

	_, err := m.Cancel(context.Background(), w.appt.ID)
	require.NoError(t, err)

	_, err = m.Cancel(context.Background(), w.appt.ID)
	assert.ErrorIs(t, err, appointment.ErrInvalidTransition)
	assert.Equal(t, appointment.KindInvalidTransition, notes.last().ErrorKind)

	got, _ := m.Get(w.appt.ID)
	assert.Equal(t, appointment.StatusCancelled, got.Status)
}

func TestMirrorRejectsSecondActionInFlight(t *testing.T) {
	w := newWorld(t)
	backend := newGatedBackend(NewServiceBackend(w.svc))
	m, _ := newMirror(t, openSession(t, w.doctor), backend, 5*time.Second)

	type outcome struct {
		entry *Entry
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		e, err := m.SetStatus(context.Background(), w.appt.ID, appointment.StatusConfirmed)
		done <- outcome{e, err}
	}()
	<-backend.entered

	optimistic, ok := m.Get(w.appt.ID)
	require.True(t, ok)
	assert.Equal(t, appointment.StatusConfirmed, optimistic.Status)
	assert.Equal(t, appointment.StatusConfirmed, optimistic.PendingStatus)

	_, err := m.Cancel(context.Background(), w.appt.ID)
	assert.ErrorIs(t, err, ErrActionInFlight)

	require.NoError(t, m.Refresh(context.Background()))
	kept, _ := m.Get(w.appt.ID)
	assert.True(t, kept.Pending(), "refresh keeps the optimistic entry while in flight")

	close(backend.gate)
	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, appointment.StatusConfirmed, res.entry.Status)

	settled, _ := m.Get(w.appt.ID)
	assert.False(t, settled.Pending())
}

func TestMirrorTimeoutRollsBackThenConverges(t *testing.T) {
	w := newWorld(t)
	backend := newGatedBackend(NewServiceBackend(w.svc))
	m, notes := newMirror(t, openSession(t, w.doctor), backend, 50*time.Millisecond)

	_, err := m.SetStatus(context.Background(), w.appt.ID, appointment.StatusConfirmed)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, KindTimeout, notes.last().ErrorKind)

	rolledBack, _ := m.Get(w.appt.ID)
	assert.Equal(t, appointment.StatusPending, rolledBack.Status)
	assert.False(t, rolledBack.Pending())

	// The server finishes after the client gave up.
	close(backend.gate)

	assert.Eventually(t, func() bool {
		e, ok := m.Get(w.appt.ID)
		return ok && e.Status == appointment.StatusConfirmed
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMirrorEntriesFilterIsReadOnly(t *testing.T) {
	w := newWorld(t)
	second, err := w.svc.Book(context.Background(), w.patient, w.doctor.ID, time.Date(2025, 3, 11, 14, 0, 0, 0, time.UTC), nil)
	require.NoError(t, err)
	_, err = w.svc.Transition(context.Background(), w.doctor, second.ID, appointment.StatusConfirmed)
	require.NoError(t, err)

	m, _ := newMirror(t, openSession(t, w.patient), NewServiceBackend(w.svc), time.Second)
	require.Len(t, m.Entries(appointment.Filter{}), 2)

	confirmed := m.Entries(appointment.Filter{Statuses: []appointment.Status{appointment.StatusConfirmed}})
	require.Len(t, confirmed, 1)
	assert.Equal(t, second.ID, confirmed[0].ID)

	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	onDay := m.Entries(appointment.Filter{Date: &day})
	require.Len(t, onDay, 1)
	assert.Equal(t, w.appt.ID, onDay[0].ID)

	assert.Len(t, m.Entries(appointment.Filter{Text: "ADA@clinic"}), 2)
	assert.Empty(t, m.Entries(appointment.Filter{Text: "nobody"}))

	confirmed[0].Status = appointment.StatusCancelled
	assert.Len(t, m.Entries(appointment.Filter{}), 2)
	got, _ := m.Get(second.ID)
	assert.Equal(t, appointment.StatusConfirmed, got.Status)
}

func TestMirrorBook(t *testing.T) {
	w := newWorld(t)
	m, notes := newMirror(t, openSession(t, w.patient), NewServiceBackend(w.svc), time.Second)

	entry, err := m.Book(context.Background(), BookRequest{DoctorID: w.doctor.ID, ScheduledAt: time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)})
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusPending, entry.Status)
	assert.Len(t, m.Entries(appointment.Filter{}), 2)
	assert.Equal(t, NotifySuccess, notes.last().Kind)

	_, err = m.Book(context.Background(), BookRequest{DoctorID: w.doctor.ID, ScheduledAt: time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)})
	assert.ErrorIs(t, err, appointment.ErrSlotUnavailable)
	assert.Equal(t, appointment.KindSlotUnavailable, notes.last().ErrorKind)
	assert.Len(t, m.Entries(appointment.Filter{}), 2)
}

func TestMirrorUnknownEntryAndClosedSession(t *testing.T) {
	w := newWorld(t)
	sess := openSession(t, w.doctor)
	m, _ := newMirror(t, sess, NewServiceBackend(w.svc), time.Second)

	_, err := m.SetStatus(context.Background(), uuid.New(), appointment.StatusConfirmed)
	assert.ErrorIs(t, err, ErrNotMirrored)

	sess.Close()
	_, err = m.SetStatus(context.Background(), w.appt.ID, appointment.StatusConfirmed)
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.ErrorIs(t, m.Refresh(context.Background()), ErrSessionClosed)
}

func TestMirrorClose(t *testing.T) {
	w := newWorld(t)
	m, _ := newMirror(t, openSession(t, w.doctor), NewServiceBackend(w.svc), time.Second)

	m.Close()
	assert.Empty(t, m.Entries(appointment.Filter{}))
	_, err := m.SetStatus(context.Background(), w.appt.ID, appointment.StatusConfirmed)
	assert.ErrorIs(t, err, ErrMirrorClosed)
}

// scriptedBackend holds each UpdateStatus until its id's gate closes, can fail
// chosen ids, and can take List down.
type scriptedBackend struct {
	Backend
	entered chan uuid.UUID

	mu       sync.Mutex
	gates    map[uuid.UUID]chan struct{}
	fail     map[uuid.UUID]error
	listDown bool
}

func newScriptedBackend(inner Backend, ids ...uuid.UUID) *scriptedBackend {
	b := &scriptedBackend{
		Backend: inner,
		entered: make(chan uuid.UUID, len(ids)),
		gates:   make(map[uuid.UUID]chan struct{}),
		fail:    make(map[uuid.UUID]error),
	}
	for _, id := range ids {
		b.gates[id] = make(chan struct{})
	}
	return b
}

func (b *scriptedBackend) setListDown(down bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listDown = down
}

func (b *scriptedBackend) List(ctx context.Context, sess *Session, f appointment.Filter) ([]appointment.AppointmentDetail, error) {
	b.mu.Lock()
	down := b.listDown
	b.mu.Unlock()
	if down {
		return nil, ErrTransport
	}
	return b.Backend.List(ctx, sess, f)
}

func (b *scriptedBackend) UpdateStatus(ctx context.Context, sess *Session, id uuid.UUID, to appointment.Status) (*appointment.Appointment, error) {
	b.mu.Lock()
	gate := b.gates[id]
	failWith := b.fail[id]
	b.mu.Unlock()

	b.entered <- id
	if gate != nil {
		<-gate
	}
	if failWith != nil {
		return nil, failWith
	}
	return b.Backend.UpdateStatus(ctx, sess, id, to)
}

type actionResult struct {
	entry *Entry
	err   error
}

func TestMirrorConcurrentActionsOnDifferentEntries(t *testing.T) {
	for _, name := range []string{"confirmed action starts first", "failing action starts first"} {
		t.Run(name, func(t *testing.T) {
			w := newWorld(t)
			other, err := w.svc.Book(context.Background(), w.patient, w.doctor.ID, time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC), nil)
			require.NoError(t, err)

			confirmID, failID := w.appt.ID, other.ID
			backend := newScriptedBackend(NewServiceBackend(w.svc), confirmID, failID)
			backend.fail[failID] = ErrTransport
			m, _ := newMirror(t, openSession(t, w.doctor), backend, 5*time.Second)

			confirmed := make(chan actionResult, 1)
			failed := make(chan actionResult, 1)
			startConfirm := func() {
				go func() {
					e, err := m.SetStatus(context.Background(), confirmID, appointment.StatusConfirmed)
					confirmed <- actionResult{e, err}
				}()
				require.Equal(t, confirmID, <-backend.entered)
			}
			startFail := func() {
				go func() {
					e, err := m.Cancel(context.Background(), failID)
					failed <- actionResult{e, err}
				}()
				require.Equal(t, failID, <-backend.entered)
			}

			if name == "confirmed action starts first" {
				startConfirm()
				startFail()
			} else {
				startFail()
				startConfirm()
			}

			for _, id := range []uuid.UUID{confirmID, failID} {
				e, ok := m.Get(id)
				require.True(t, ok)
				assert.True(t, e.Pending(), "both entries are optimistic while in flight")
			}

			// Post-action refreshes fail from here on, so only reconciliation
			// and rollback shape the mirror.
			backend.setListDown(true)

			close(backend.gates[confirmID])
			res := <-confirmed
			require.NoError(t, res.err)
			assert.Equal(t, appointment.StatusConfirmed, res.entry.Status)

			close(backend.gates[failID])
			res = <-failed
			assert.ErrorIs(t, res.err, ErrTransport)

			x, ok := m.Get(confirmID)
			require.True(t, ok)
			assert.Equal(t, appointment.StatusConfirmed, x.Status, "rollback of another entry must not undo a settled success")
			assert.False(t, x.Pending())

			y, ok := m.Get(failID)
			require.True(t, ok)
			assert.Equal(t, appointment.StatusPending, y.Status)
			assert.False(t, y.Pending())

			// Once the server is reachable again the mirror matches it unchanged.
			backend.setListDown(false)
			require.NoError(t, m.Refresh(context.Background()))
			x, _ = m.Get(confirmID)
			y, _ = m.Get(failID)
			assert.Equal(t, appointment.StatusConfirmed, x.Status)
			assert.Equal(t, appointment.StatusPending, y.Status)
		})
	}
}

func TestMirrorRollbackRestoresEntryDroppedByRefresh(t *testing.T) {
	w := newWorld(t)
	backend := newScriptedBackend(NewServiceBackend(w.svc), w.appt.ID)
	backend.fail[w.appt.ID] = ErrTransport
	m, _ := newMirror(t, openSession(t, w.doctor), backend, 5*time.Second)
	before, _ := m.Get(w.appt.ID)

	done := make(chan error, 1)
	go func() {
		_, err := m.SetStatus(context.Background(), w.appt.ID, appointment.StatusConfirmed)
		done <- err
	}()
	require.Equal(t, w.appt.ID, <-backend.entered)

	m.mu.Lock()
	m.entries = nil
	m.mu.Unlock()
	backend.setListDown(true)

	close(backend.gates[w.appt.ID])
	assert.ErrorIs(t, <-done, ErrTransport)

	after, ok := m.Get(w.appt.ID)
	require.True(t, ok)
	assert.Equal(t, before, after)
}
