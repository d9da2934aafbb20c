package appointment

import (
	"encoding/json"
	"time"
)

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusApproved  AppointmentStatus = "approved"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusCompleted AppointmentStatus = "completed"
)

// Terminal reports whether no further transitions are allowed.
func (s AppointmentStatus) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

type MedicationStatus string

const (
	MedicationPending   MedicationStatus = "pending"
	MedicationDispensed MedicationStatus = "dispensed"
)

type Medication struct {
	Name     string
	Quantity int
	Status   MedicationStatus
}

type Appointment struct {
	ID          int64
	PatientID   string
	DoctorID    string
	Status      AppointmentStatus
	ScheduledAt time.Time
	Outcome     *Outcome
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (a Appointment) clone() Appointment {
	if a.Outcome != nil {
		o := a.Outcome.clone()
		a.Outcome = &o
	}
	return a
}

// SlotTable maps a doctor id to that doctor's free slots in offer order.
type SlotTable map[string][]time.Time

func (t SlotTable) clone() SlotTable {
	out := make(SlotTable, len(t))
	for doctor, slots := range t {
		out[doctor] = append([]time.Time(nil), slots...)
	}
	return out
}

// Filter selects appointments. Zero fields match everything.
type Filter struct {
	DoctorID  string
	PatientID string
	Status    AppointmentStatus
}

func (f Filter) match(a Appointment) bool {
	if f.DoctorID != "" && a.DoctorID != f.DoctorID {
		return false
	}
	if f.PatientID != "" && a.PatientID != f.PatientID {
		return false
	}
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	return true
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *int64
	DoctorID      string
	Payload       json.RawMessage
	CreatedAt     time.Time
}
