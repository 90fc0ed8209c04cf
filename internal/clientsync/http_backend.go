package clientsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/api"
	"github.com/hackgods/clinic-booking/internal/appointment"
)

// HTTPBackend talks to the api-server wire contract.
type HTTPBackend struct {
	baseURL string
	client  *http.Client
}

func NewHTTPBackend(baseURL string, client *http.Client) *HTTPBackend {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPBackend{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (b *HTTPBackend) Slots(ctx context.Context, sess *Session, doctorID uuid.UUID, date time.Time) ([]appointment.TimeOfDay, error) {
	q := url.Values{"date": {calendarDay(date).Format("2006-01-02")}}
	var resp api.SlotsResponse
	if err := b.do(ctx, sess, http.MethodGet, "/doctors/"+doctorID.String()+"/slots?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Slots, nil
}

func (b *HTTPBackend) Book(ctx context.Context, sess *Session, req BookRequest) (*appointment.Appointment, error) {
	body := api.CreateAppointmentRequest{
		DoctorID:    req.DoctorID.String(),
		ScheduledAt: req.ScheduledAt.UTC().Format(time.RFC3339),
		Notes:       req.Notes,
	}
	var resp api.AppointmentResponse
	if err := b.do(ctx, sess, http.MethodPost, "/appointments", body, &resp); err != nil {
		return nil, err
	}
	return toAppointment(resp)
}

func (b *HTTPBackend) List(ctx context.Context, sess *Session, f appointment.Filter) ([]appointment.AppointmentDetail, error) {
	q := url.Values{}
	if len(f.Statuses) > 0 {
		parts := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			parts[i] = string(st)
		}
		q.Set("status", strings.Join(parts, ","))
	}
	if f.Date != nil {
		q.Set("date", calendarDay(*f.Date).Format("2006-01-02"))
	}
	if f.Text != "" {
		q.Set("q", f.Text)
	}
	path := "/appointments"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp []api.AppointmentResponse
	if err := b.do(ctx, sess, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]appointment.AppointmentDetail, 0, len(resp))
	for _, r := range resp {
		d, err := r.ToDetail()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransport, err)
		}
		out = append(out, d)
	}
	return out, nil
}

func (b *HTTPBackend) UpdateStatus(ctx context.Context, sess *Session, id uuid.UUID, to appointment.Status) (*appointment.Appointment, error) {
	var resp api.AppointmentResponse
	body := api.UpdateStatusRequest{Status: string(to)}
	if err := b.do(ctx, sess, http.MethodPost, "/appointments/"+id.String()+"/status", body, &resp); err != nil {
		return nil, err
	}
	return toAppointment(resp)
}

func toAppointment(r api.AppointmentResponse) (*appointment.Appointment, error) {
	d, err := r.ToDetail()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return &d.Appointment, nil
}

func (b *HTTPBackend) do(ctx context.Context, sess *Session, method, path string, in, out any) error {
	if err := sess.Err(); err != nil {
		return err
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := sess.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrTransport, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var e api.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
		return fmt.Errorf("%w: status %d", ErrTransport, resp.StatusCode)
	}

	remote := &RemoteError{Status: resp.StatusCode, Kind: e.Error, Message: e.Message}
	switch e.Error {
	case "unauthorized":
		remote.err = ErrUnauthorized
	case "invalid_request":
		remote.err = ErrInvalidRequest
	case appointment.KindInternal:
		remote.err = ErrTransport
	default:
		remote.err = appointment.ErrorForKind(e.Error)
		if remote.err == nil {
			remote.err = ErrTransport
		}
	}
	return remote
}
