package dispatch

import (
	"time"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
)

type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleStaff   Role = "staff"
)

func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleDoctor, RoleStaff:
		return true
	}
	return false
}

// Actor is the caller as presented by the identity gateway.
type Actor struct {
	Role Role
	ID   string
}

// Command is one of the request types below. The set is closed.
type Command interface {
	Name() string
	command()
}

// BookAppointment books a slot. PatientID may be left empty by a patient
// booking for themselves.
type BookAppointment struct {
	PatientID string
	DoctorID  string
	At        time.Time
}

type RescheduleAppointment struct {
	AppointmentID int64
	DoctorID      string
	At            time.Time
}

// CancelAppointment cancels on behalf of PatientID. Staff may leave it empty
// to act for whoever booked the appointment.
type CancelAppointment struct {
	AppointmentID int64
	PatientID     string
}

type ApproveAppointment struct {
	AppointmentID int64
}

type RecordOutcome struct {
	AppointmentID int64
	Outcome       appointment.Outcome
}

type AddSlot struct {
	DoctorID string
	At       time.Time
}

type RemoveSlot struct {
	DoctorID string
	At       time.Time
}

func (BookAppointment) Name() string       { return "book" }
func (RescheduleAppointment) Name() string { return "reschedule" }
func (CancelAppointment) Name() string     { return "cancel" }
func (ApproveAppointment) Name() string    { return "approve" }
func (RecordOutcome) Name() string         { return "record_outcome" }
func (AddSlot) Name() string               { return "add_slot" }
func (RemoveSlot) Name() string            { return "remove_slot" }

func (BookAppointment) command()       {}
func (RescheduleAppointment) command() {}
func (CancelAppointment) command()     {}
func (ApproveAppointment) command()    {}
func (RecordOutcome) command()         {}
func (AddSlot) command()               {}
func (RemoveSlot) command()            {}
