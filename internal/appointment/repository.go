package appointment

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrSlotNotFound        = errors.New("slot not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
)

// Repository loads and saves whole tables. The Service calls the loaders
// once at startup and the savers after every mutation.
type Repository interface {
	LoadSlots(ctx context.Context) (SlotTable, error)
	SaveSlots(ctx context.Context, table SlotTable) error

	LoadAppointments(ctx context.Context) ([]Appointment, error)
	SaveAppointments(ctx context.Context, appts []Appointment) error

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}

// StateSaver is implemented by repositories that can persist both tables in
// one atomic write.
type StateSaver interface {
	SaveState(ctx context.Context, table SlotTable, appts []Appointment) error
}

// PersistenceError wraps a failed load or save. The in-memory state that
// triggered a failed save is still applied.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func IsPersistenceError(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
