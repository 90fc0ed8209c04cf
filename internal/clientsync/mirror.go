package clientsync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/appointment"
)

const DefaultTimeout = 10 * time.Second

var (
	ErrActionInFlight = errors.New("another action on this appointment is still in flight")
	ErrNotMirrored    = errors.New("appointment is not in the mirror")
	ErrMirrorClosed   = errors.New("mirror is closed")
)

// Entry is the local copy of one appointment. PendingStatus is set while an
// optimistic status change waits for the server.
type Entry struct {
	appointment.AppointmentDetail
	PendingStatus appointment.Status
}

func (e Entry) Pending() bool { return e.PendingStatus != "" }

// Mirror keeps one viewer's appointments and applies status changes
// optimistically: snapshot, apply, then reconcile or roll back, then refresh.
type Mirror struct {
	sess     *Session
	backend  Backend
	notifier Notifier
	log      zerolog.Logger
	timeout  time.Duration
	lateWait time.Duration

	mu       sync.Mutex
	entries  []Entry
	inFlight map[uuid.UUID]struct{}
	closed   bool

	late sync.WaitGroup
}

type MirrorOption func(*Mirror)

func WithNotifier(n Notifier) MirrorOption {
	return func(m *Mirror) { m.notifier = n }
}

func WithMirrorLogger(l zerolog.Logger) MirrorOption {
	return func(m *Mirror) { m.log = l }
}

// WithTimeout bounds how long an action waits before it is rolled back.
// The request itself may keep running for lateWait and its result, if it
// succeeds, triggers one more refresh.
func WithTimeout(timeout, lateWait time.Duration) MirrorOption {
	return func(m *Mirror) {
		m.timeout = timeout
		m.lateWait = lateWait
	}
}

func NewMirror(sess *Session, backend Backend, opts ...MirrorOption) *Mirror {
	m := &Mirror{
		sess:     sess,
		backend:  backend,
		notifier: NotifierFunc(func(Notification) {}),
		log:      zerolog.Nop(),
		timeout:  DefaultTimeout,
		inFlight: make(map[uuid.UUID]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.lateWait < m.timeout {
		m.lateWait = 3 * m.timeout
	}
	return m
}

// Entries returns a filtered copy of the mirror. It never changes the mirror.
func (m *Mirror) Entries(f appointment.Filter) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		if f.Matches(e.AppointmentDetail) {
			out = append(out, e)
		}
	}
	return out
}

func (m *Mirror) Get(id uuid.UUID) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i := m.indexOf(id); i >= 0 {
		return m.entries[i], true
	}
	return Entry{}, false
}

// Refresh replaces the mirror with the server's view. Entries with an
// action in flight keep their optimistic state until that action settles.
func (m *Mirror) Refresh(ctx context.Context) error {
	if err := m.usable(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	list, err := m.backend.List(ctx, m.sess, appointment.Filter{})
	if err != nil {
		return fmt.Errorf("refresh mirror: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrMirrorClosed
	}

	entries := make([]Entry, 0, len(list))
	for _, d := range list {
		e := Entry{AppointmentDetail: d}
		if _, busy := m.inFlight[d.ID]; busy {
			if i := m.indexOf(d.ID); i >= 0 {
				e = m.entries[i]
			}
		}
		entries = append(entries, e)
	}
	m.entries = entries
	return nil
}

// Book asks the server for a new appointment and adds it on success.
func (m *Mirror) Book(ctx context.Context, req BookRequest) (*Entry, error) {
	if err := m.usable(); err != nil {
		return nil, err
	}

	created, err := await(m, ctx, func(c context.Context) (*appointment.Appointment, error) {
		return m.backend.Book(c, m.sess, req)
	}, func(_ *appointment.Appointment, err error) { m.lateResult("book", err) })

	var entry Entry
	if err == nil {
		entry = Entry{AppointmentDetail: appointment.AppointmentDetail{Appointment: *created}}
		m.mu.Lock()
		if m.indexOf(created.ID) < 0 {
			m.entries = append(m.entries, entry)
			sortEntries(m.entries)
		}
		m.mu.Unlock()
		m.notify(Notification{
			Kind:          NotifySuccess,
			Message:       fmt.Sprintf("appointment booked for %s", created.ScheduledAt.UTC().Format(time.RFC3339)),
			AppointmentID: created.ID,
		})
	} else {
		m.notifyError(uuid.Nil, err)
	}

	m.refreshAfter(ctx)

	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// SetStatus runs the optimistic protocol for one status change. On failure
// the entry goes back to its pre-action snapshot and the error is returned
// as is. Other entries keep whatever their own actions or refreshes have
// settled since.
func (m *Mirror) SetStatus(ctx context.Context, id uuid.UUID, to appointment.Status) (*Entry, error) {
	if err := m.sess.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrMirrorClosed
	}
	if _, busy := m.inFlight[id]; busy {
		m.mu.Unlock()
		return nil, ErrActionInFlight
	}
	idx := m.indexOf(id)
	if idx < 0 {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotMirrored, id)
	}
	snapshot := m.entries[idx]
	m.entries[idx].Status = to
	m.entries[idx].PendingStatus = to
	m.inFlight[id] = struct{}{}
	m.mu.Unlock()

	updated, err := await(m, ctx, func(c context.Context) (*appointment.Appointment, error) {
		return m.backend.UpdateStatus(c, m.sess, id, to)
	}, func(_ *appointment.Appointment, err error) { m.lateResult("update status", err) })

	m.mu.Lock()
	delete(m.inFlight, id)
	var entry Entry
	if err == nil {
		if i := m.indexOf(id); i >= 0 {
			m.entries[i].Appointment = *updated
			m.entries[i].PendingStatus = ""
			entry = m.entries[i]
		} else {
			entry = Entry{AppointmentDetail: appointment.AppointmentDetail{Appointment: *updated}}
		}
	} else if !m.closed {
		m.restore(snapshot)
	}
	m.mu.Unlock()

	if err == nil {
		m.notify(Notification{
			Kind:          NotifySuccess,
			Message:       fmt.Sprintf("appointment is now %s", updated.Status),
			AppointmentID: id,
		})
	} else {
		m.notifyError(id, err)
	}

	m.refreshAfter(ctx)

	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (m *Mirror) Cancel(ctx context.Context, id uuid.UUID) (*Entry, error) {
	return m.SetStatus(ctx, id, appointment.StatusCancelled)
}

// Close discards the mirror and waits for outstanding late results.
func (m *Mirror) Close() {
	m.mu.Lock()
	m.closed = true
	m.entries = nil
	m.mu.Unlock()
	m.late.Wait()
}

func (m *Mirror) usable() error {
	if err := m.sess.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrMirrorClosed
	}
	return nil
}

// restore puts snapshot back in place of its entry, or re-adds it if a
// refresh dropped it meanwhile. Must be called with mu held.
func (m *Mirror) restore(snapshot Entry) {
	if i := m.indexOf(snapshot.ID); i >= 0 {
		m.entries[i] = snapshot
		return
	}
	m.entries = append(m.entries, snapshot)
	sortEntries(m.entries)
}

// indexOf must be called with mu held.
func (m *Mirror) indexOf(id uuid.UUID) int {
	for i := range m.entries {
		if m.entries[i].ID == id {
			return i
		}
	}
	return -1
}

// refreshAfter runs the unconditional post-action refresh. It outlives a
// cancelled action context so a timed out action still converges.
func (m *Mirror) refreshAfter(ctx context.Context) {
	if err := m.Refresh(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, ErrMirrorClosed) {
		m.log.Warn().Err(err).Msg("refresh after action")
	}
}

func (m *Mirror) lateResult(action string, err error) {
	if err != nil {
		m.log.Debug().Err(err).Str("action", action).Msg("late failure after timeout")
		return
	}
	m.log.Info().Str("action", action).Msg("late success after timeout, refreshing")
	if err := m.Refresh(context.Background()); err != nil && !errors.Is(err, ErrMirrorClosed) {
		m.log.Warn().Err(err).Msg("refresh after late success")
	}
}

func (m *Mirror) notify(n Notification) {
	m.notifier.Notify(n)
}

func (m *Mirror) notifyError(id uuid.UUID, err error) {
	m.notify(Notification{
		Kind:          NotifyError,
		Message:       err.Error(),
		ErrorKind:     ErrorKind(err),
		AppointmentID: id,
	})
}

func sortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].ScheduledAt.Before(entries[j].ScheduledAt)
	})
}

type result[T any] struct {
	v   T
	err error
}

// await runs fn on a context detached from ctx and waits at most m.timeout.
// When the wait gives up, fn keeps running and its outcome goes to onLate.
func await[T any](m *Mirror, ctx context.Context, fn func(context.Context) (T, error), onLate func(T, error)) (T, error) {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.lateWait)
	done := make(chan result[T], 1)
	go func() {
		defer cancel()
		v, err := fn(callCtx)
		done <- result[T]{v: v, err: err}
	}()

	timer := time.NewTimer(m.timeout)
	defer timer.Stop()

	var zero T
	var waitErr error
	select {
	case r := <-done:
		return r.v, r.err
	case <-timer.C:
		waitErr = fmt.Errorf("%w after %s", ErrTimeout, m.timeout)
	case <-ctx.Done():
		waitErr = fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
	}

	m.mu.Lock()
	track := !m.closed
	if track {
		m.late.Add(1)
	}
	m.mu.Unlock()

	go func() {
		if track {
			defer m.late.Done()
		}
		r := <-done
		if track {
			onLate(r.v, r.err)
		}
	}()

	return zero, waitErr
}
