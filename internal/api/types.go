package api

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hackgods/clinic-booking/internal/appointment"
)

type CreateAppointmentRequest struct {
	DoctorID    string  `json:"doctor_id" validate:"required,uuid"`
	ScheduledAt string  `json:"scheduled_at" validate:"required"`
	Notes       *string `json:"notes,omitempty" validate:"omitempty,max=2000"`
}

type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending confirmed completed cancelled"`
}

type AppointmentResponse struct {
	ID              uuid.UUID `json:"id"`
	DoctorID        uuid.UUID `json:"doctor_id"`
	PatientID       uuid.UUID `json:"patient_id"`
	ScheduledAt     time.Time `json:"scheduled_at"`
	Status          string    `json:"status"`
	ConsultationFee string    `json:"consultation_fee"`
	Notes           *string   `json:"notes,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`

	// Only set on list responses.
	DoctorName   string  `json:"doctor_name,omitempty"`
	DoctorEmail  *string `json:"doctor_email,omitempty"`
	PatientName  string  `json:"patient_name,omitempty"`
	PatientEmail *string `json:"patient_email,omitempty"`
}

type SlotsResponse struct {
	DoctorID uuid.UUID               `json:"doctor_id"`
	Date     string                  `json:"date"`
	Slots    []appointment.TimeOfDay `json:"slots"`
}

type EventResponse struct {
	ID        int64           `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func NewAppointmentResponse(a appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:              a.ID,
		DoctorID:        a.DoctorID,
		PatientID:       a.PatientID,
		ScheduledAt:     a.ScheduledAt.UTC(),
		Status:          string(a.Status),
		ConsultationFee: a.ConsultationFee.StringFixed(2),
		Notes:           a.Notes,
		CreatedAt:       a.CreatedAt.UTC(),
		UpdatedAt:       a.UpdatedAt.UTC(),
	}
}

func NewAppointmentListItem(d appointment.AppointmentDetail) AppointmentResponse {
	resp := NewAppointmentResponse(d.Appointment)
	if d.Doctor != nil {
		resp.DoctorName = d.Doctor.Name
		resp.DoctorEmail = d.Doctor.Email
	}
	if d.Patient != nil {
		resp.PatientName = d.Patient.Name
		resp.PatientEmail = d.Patient.Email
	}
	return resp
}

// ToDetail converts a wire appointment back into the domain shape.
func (r AppointmentResponse) ToDetail() (appointment.AppointmentDetail, error) {
	status, err := appointment.ParseStatus(r.Status)
	if err != nil {
		return appointment.AppointmentDetail{}, err
	}
	fee, err := decimal.NewFromString(r.ConsultationFee)
	if err != nil {
		return appointment.AppointmentDetail{}, fmt.Errorf("consultation_fee: %w", err)
	}

	d := appointment.AppointmentDetail{
		Appointment: appointment.Appointment{
			ID:              r.ID,
			DoctorID:        r.DoctorID,
			PatientID:       r.PatientID,
			ScheduledAt:     r.ScheduledAt.UTC(),
			Status:          status,
			ConsultationFee: fee,
			Notes:           r.Notes,
			CreatedAt:       r.CreatedAt,
			UpdatedAt:       r.UpdatedAt,
		},
	}
	if r.DoctorName != "" || r.DoctorEmail != nil {
		d.Doctor = &appointment.Doctor{ID: r.DoctorID, Name: r.DoctorName, Email: r.DoctorEmail}
	}
	if r.PatientName != "" || r.PatientEmail != nil {
		d.Patient = &appointment.Patient{ID: r.PatientID, Name: r.PatientName, Email: r.PatientEmail}
	}
	return d, nil
}
