package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
)

var ErrForbidden = errors.New("forbidden")

// Engine is the part of appointment.Service the dispatcher drives.
type Engine interface {
	Book(ctx context.Context, patientID, doctorID string, at time.Time) (*appointment.Appointment, error)
	Reschedule(ctx context.Context, id int64, newDoctorID string, newAt time.Time) (*appointment.Appointment, error)
	RescheduleFor(ctx context.Context, id int64, patientID, newDoctorID string, newAt time.Time) (*appointment.Appointment, error)
	Cancel(ctx context.Context, id int64, patientID string) (*appointment.Appointment, error)
	CancelOnBehalf(ctx context.Context, id int64) (*appointment.Appointment, error)
	Approve(ctx context.Context, id int64, doctorID string) (*appointment.Appointment, error)
	RecordOutcome(ctx context.Context, id int64, doctorID string, outcome appointment.Outcome) (*appointment.Appointment, error)
	AddSlot(ctx context.Context, doctorID string, at time.Time) error
	RemoveSlot(ctx context.Context, doctorID string, at time.Time) error
}

type Dispatcher struct {
	engine Engine
	logger *zap.Logger
}

func New(engine Engine, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{engine: engine, logger: logger.Named("dispatch")}
}

// Authorize checks what the actor's role allows for cmd. Ownership of an
// existing appointment is checked by the engine inside the operation.
func Authorize(actor Actor, cmd Command) error {
	if !actor.Role.Valid() || actor.ID == "" {
		return fmt.Errorf("%w: unknown actor", ErrForbidden)
	}

	switch c := cmd.(type) {
	case BookAppointment:
		switch actor.Role {
		case RolePatient:
			if c.PatientID != "" && c.PatientID != actor.ID {
				return fmt.Errorf("%w: patients book for themselves", ErrForbidden)
			}
			return nil
		case RoleStaff:
			return nil
		}
	case RescheduleAppointment:
		if actor.Role == RolePatient || actor.Role == RoleStaff {
			return nil
		}
	case CancelAppointment:
		switch actor.Role {
		case RolePatient:
			if c.PatientID != "" && c.PatientID != actor.ID {
				return fmt.Errorf("%w: patients cancel their own appointments", ErrForbidden)
			}
			return nil
		case RoleStaff:
			return nil
		}
	case ApproveAppointment, RecordOutcome:
		if actor.Role == RoleDoctor {
			return nil
		}
	case AddSlot:
		return authorizeSlot(actor, c.DoctorID)
	case RemoveSlot:
		return authorizeSlot(actor, c.DoctorID)
	default:
		return fmt.Errorf("%w: unknown command %T", ErrForbidden, cmd)
	}
	return fmt.Errorf("%w: %s may not %s", ErrForbidden, actor.Role, cmd.Name())
}

func authorizeSlot(actor Actor, doctorID string) error {
	switch actor.Role {
	case RoleStaff:
		return nil
	case RoleDoctor:
		if doctorID == "" || doctorID == actor.ID {
			return nil
		}
		return fmt.Errorf("%w: doctors manage their own slots", ErrForbidden)
	}
	return fmt.Errorf("%w: %s may not manage slots", ErrForbidden, actor.Role)
}

// Dispatch authorizes cmd for actor and runs it against the engine. Slot
// commands return a nil appointment.
func (d *Dispatcher) Dispatch(ctx context.Context, actor Actor, cmd Command) (*appointment.Appointment, error) {
	if err := Authorize(actor, cmd); err != nil {
		d.logger.Warn("command rejected",
			zap.String("command", cmd.Name()),
			zap.String("role", string(actor.Role)),
			zap.String("actor_id", actor.ID),
			zap.Error(err),
		)
		return nil, err
	}

	d.logger.Debug("dispatching",
		zap.String("command", cmd.Name()),
		zap.String("role", string(actor.Role)),
		zap.String("actor_id", actor.ID),
	)

	switch c := cmd.(type) {
	case BookAppointment:
		patientID := c.PatientID
		if actor.Role == RolePatient {
			patientID = actor.ID
		}
		return d.engine.Book(ctx, patientID, c.DoctorID, c.At)

	case RescheduleAppointment:
		if actor.Role == RolePatient {
			return d.engine.RescheduleFor(ctx, c.AppointmentID, actor.ID, c.DoctorID, c.At)
		}
		return d.engine.Reschedule(ctx, c.AppointmentID, c.DoctorID, c.At)

	case CancelAppointment:
		patientID := c.PatientID
		if actor.Role == RolePatient {
			patientID = actor.ID
		}
		if patientID == "" {
			return d.engine.CancelOnBehalf(ctx, c.AppointmentID)
		}
		return d.engine.Cancel(ctx, c.AppointmentID, patientID)

	case ApproveAppointment:
		return d.engine.Approve(ctx, c.AppointmentID, actor.ID)

	case RecordOutcome:
		return d.engine.RecordOutcome(ctx, c.AppointmentID, actor.ID, c.Outcome)

	case AddSlot:
		return nil, d.engine.AddSlot(ctx, slotDoctor(actor, c.DoctorID), c.At)

	case RemoveSlot:
		return nil, d.engine.RemoveSlot(ctx, slotDoctor(actor, c.DoctorID), c.At)
	}
	return nil, fmt.Errorf("%w: unknown command %T", ErrForbidden, cmd)
}

func slotDoctor(actor Actor, doctorID string) string {
	if actor.Role == RoleDoctor {
		return actor.ID
	}
	return doctorID
}
