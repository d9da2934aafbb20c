package api

import (
	"time"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
)

type SlotRequest struct {
	At time.Time `json:"at"`
}

type SlotsResponse struct {
	DoctorID string      `json:"doctor_id"`
	Slots    []time.Time `json:"slots"`
}

type CreateAppointmentRequest struct {
	PatientID string    `json:"patient_id,omitempty"`
	DoctorID  string    `json:"doctor_id"`
	At        time.Time `json:"at"`
}

type RescheduleRequest struct {
	DoctorID string    `json:"doctor_id"`
	At       time.Time `json:"at"`
}

type CancelRequest struct {
	PatientID string `json:"patient_id,omitempty"`
}

type MedicationBody struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Status   string `json:"status,omitempty"`
}

type OutcomeBody struct {
	ServiceType string           `json:"service_type"`
	Notes       string           `json:"notes,omitempty"`
	Medications []MedicationBody `json:"medications"`
}

type AppointmentResponse struct {
	ID          int64        `json:"id"`
	PatientID   string       `json:"patient_id"`
	DoctorID    string       `json:"doctor_id"`
	Status      string       `json:"status"`
	ScheduledAt time.Time    `json:"scheduled_at"`
	Outcome     *OutcomeBody `json:"outcome,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

type AppointmentListResponse struct {
	Appointments []AppointmentResponse `json:"appointments"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func (b OutcomeBody) toOutcome() appointment.Outcome {
	meds := make([]appointment.Medication, 0, len(b.Medications))
	for _, m := range b.Medications {
		meds = append(meds, appointment.Medication{
			Name:     m.Name,
			Quantity: m.Quantity,
			Status:   appointment.MedicationStatus(m.Status),
		})
	}
	return appointment.Outcome{ServiceType: b.ServiceType, Notes: b.Notes, Medications: meds}
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	resp := AppointmentResponse{
		ID:          a.ID,
		PatientID:   a.PatientID,
		DoctorID:    a.DoctorID,
		Status:      string(a.Status),
		ScheduledAt: a.ScheduledAt,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
	if a.Outcome != nil {
		out := OutcomeBody{
			ServiceType: a.Outcome.ServiceType,
			Notes:       a.Outcome.Notes,
			Medications: make([]MedicationBody, 0, len(a.Outcome.Medications)),
		}
		for _, m := range a.Outcome.Medications {
			out.Medications = append(out.Medications, MedicationBody{
				Name:     m.Name,
				Quantity: m.Quantity,
				Status:   string(m.Status),
			})
		}
		resp.Outcome = &out
	}
	return resp
}
