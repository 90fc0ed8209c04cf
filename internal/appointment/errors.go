package appointment

import (
	"errors"
	"fmt"
)

var (
	ErrPastDate          = errors.New("appointment time is in the past")
	ErrSlotUnavailable   = errors.New("slot is not available")
	ErrConflict          = errors.New("slot or appointment was changed concurrently")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrForbidden         = errors.New("actor is not allowed to perform this action")
	ErrNotFound          = errors.New("not found")

	ErrPatientNotFound     = fmt.Errorf("patient %w", ErrNotFound)
	ErrDoctorNotFound      = fmt.Errorf("doctor %w", ErrNotFound)
	ErrAppointmentNotFound = fmt.Errorf("appointment %w", ErrNotFound)
)

// Wire kinds for the error taxonomy.
const (
	KindPastDate          = "past_date"
	KindSlotUnavailable   = "slot_unavailable"
	KindConflict          = "conflict"
	KindInvalidTransition = "invalid_transition"
	KindForbidden         = "forbidden"
	KindNotFound          = "not_found"
	KindInternal          = "internal_error"
)

var kinds = []struct {
	err  error
	kind string
}{
	{ErrPastDate, KindPastDate},
	{ErrSlotUnavailable, KindSlotUnavailable},
	{ErrConflict, KindConflict},
	{ErrInvalidTransition, KindInvalidTransition},
	{ErrForbidden, KindForbidden},
	{ErrNotFound, KindNotFound},
}

// Kind maps err to its wire kind, KindInternal when it is outside the taxonomy.
func Kind(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// ErrorForKind is the inverse of Kind. It returns nil for unknown kinds.
func ErrorForKind(kind string) error {
	for _, k := range kinds {
		if k.kind == kind {
			return k.err
		}
	}
	return nil
}
