package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/auth"
)

const dateLayout = "2006-01-02"

var validate = validator.New()

func slotsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		rawDate := r.URL.Query().Get("date")
		date, err := time.Parse(dateLayout, rawDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "date must be YYYY-MM-DD")
			return
		}

		slots, err := svc.AvailableSlots(r.Context(), doctorID, date)
		if err != nil {
			handleError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, SlotsResponse{
			DoctorID: doctorID,
			Date:     date.Format(dateLayout),
			Slots:    slots,
		})
	}
}

func createAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}

		var req CreateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "could not parse JSON")
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}

		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "doctor_id must be a valid UUID")
			return
		}
		scheduledAt, err := time.Parse(time.RFC3339, req.ScheduledAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "scheduled_at must be an ISO-8601 timestamp")
			return
		}

		appt, err := svc.Book(r.Context(), actor, doctorID, scheduledAt, req.Notes)
		if err != nil {
			handleError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, NewAppointmentResponse(*appt))
	}
}

func listAppointmentsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}

		q := r.URL.Query()
		var f appointment.Filter

		statuses, err := appointment.ParseStatuses(q.Get("status"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		f.Statuses = statuses
		f.Text = strings.TrimSpace(q.Get("q"))

		if raw := q.Get("date"); raw != "" {
			date, err := time.Parse(dateLayout, raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_request", "date must be YYYY-MM-DD")
				return
			}
			f.Date = &date
		}

		list, err := svc.ListAppointments(r.Context(), actor, f)
		if err != nil {
			handleError(w, err)
			return
		}

		resp := make([]AppointmentResponse, 0, len(list))
		for _, d := range list {
			resp = append(resp, NewAppointmentListItem(d))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func getAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		appt, err := svc.GetAppointment(r.Context(), actor, id)
		if err != nil {
			handleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, NewAppointmentResponse(*appt))
	}
}

func updateStatusHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		var req UpdateStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "could not parse JSON")
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		status, err := appointment.ParseStatus(req.Status)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}

		appt, err := svc.Transition(r.Context(), actor, id, status)
		if err != nil {
			handleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, NewAppointmentResponse(*appt))
	}
}

func cancelAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		appt, err := svc.Cancel(r.Context(), actor, id)
		if err != nil {
			handleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, NewAppointmentResponse(*appt))
	}
}

func listEventsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		events, err := svc.Events(r.Context(), actor, id)
		if err != nil {
			handleError(w, err)
			return
		}

		resp := make([]EventResponse, 0, len(events))
		for _, ev := range events {
			resp = append(resp, EventResponse{
				ID:        ev.ID,
				Type:      ev.EventType,
				Payload:   json.RawMessage(ev.Payload),
				CreatedAt: ev.CreatedAt.UTC(),
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func requireActor(w http.ResponseWriter, r *http.Request) (appointment.Actor, bool) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing identity")
	}
	return actor, ok
}

func parseIDParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

var kindStatus = map[string]int{
	appointment.KindPastDate:          http.StatusUnprocessableEntity,
	appointment.KindSlotUnavailable:   http.StatusConflict,
	appointment.KindConflict:          http.StatusConflict,
	appointment.KindInvalidTransition: http.StatusConflict,
	appointment.KindForbidden:         http.StatusForbidden,
	appointment.KindNotFound:          http.StatusNotFound,
}

func handleError(w http.ResponseWriter, err error) {
	kind := appointment.Kind(err)
	status, ok := kindStatus[kind]
	if !ok {
		writeError(w, http.StatusInternalServerError, appointment.KindInternal, "internal error")
		return
	}
	writeError(w, status, kind, err.Error())
}

func handleAuthError(w http.ResponseWriter, err error) {
	if errors.Is(err, auth.ErrMissingToken) || errors.Is(err, auth.ErrInvalidToken) {
		writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, appointment.KindInternal, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}
