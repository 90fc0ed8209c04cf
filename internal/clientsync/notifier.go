package clientsync

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type NotificationKind string

const (
	NotifySuccess NotificationKind = "success"
	NotifyError   NotificationKind = "error"
)

// Notification is emitted once per reconciled action.
type Notification struct {
	Kind          NotificationKind
	Message       string
	ErrorKind     string
	AppointmentID uuid.UUID
}

type Notifier interface {
	Notify(n Notification)
}

type NotifierFunc func(n Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

type logNotifier struct {
	log zerolog.Logger
}

// LogNotifier writes notifications as log lines.
func LogNotifier(log zerolog.Logger) Notifier {
	return logNotifier{log: log}
}

func (l logNotifier) Notify(n Notification) {
	evt := l.log.Info()
	if n.Kind == NotifyError {
		evt = l.log.Warn().Str("error_kind", n.ErrorKind)
	}
	if n.AppointmentID != uuid.Nil {
		evt = evt.Str("appointment_id", n.AppointmentID.String())
	}
	evt.Str("kind", string(n.Kind)).Msg(n.Message)
}
