package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/config"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
)

// ScheduleLockKey guards every mutation. Persistence rewrites whole tables,
// so a narrower per-doctor key would let two writers clobber each other.
const ScheduleLockKey = "clinic:schedule"

const (
	EventSlotAdded              = "SLOT_ADDED"
	EventSlotRemoved            = "SLOT_REMOVED"
	EventSlotsPruned            = "SLOTS_PRUNED"
	EventAppointmentBooked      = "APPOINTMENT_BOOKED"
	EventAppointmentRescheduled = "APPOINTMENT_RESCHEDULED"
	EventAppointmentCancelled   = "APPOINTMENT_CANCELLED"
	EventAppointmentApproved    = "APPOINTMENT_APPROVED"
	EventAppointmentCompleted   = "APPOINTMENT_COMPLETED"
)

var (
	ErrInvalidSlot     = errors.New("invalid slot")
	ErrSlotUnavailable = errors.New("slot is not available")
	ErrInvalidState    = errors.New("invalid appointment state")
	ErrInvalidRequest  = errors.New("invalid request")
	ErrNotLoaded       = errors.New("schedule not loaded")
)

// Recorder receives one observation per engine operation.
type Recorder interface {
	ObserveOperation(op, result string, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveOperation(string, string, time.Duration) {}

type Option func(*Service)

// WithClock replaces time.Now for CreatedAt/UpdatedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// Service is the scheduling engine. It owns the slot and appointment stores
// and is the only way to change either, so a booking can never update one
// without the other. Safe for concurrent use.
type Service struct {
	repo     Repository
	locker   redisclient.Locker
	hours    Hours
	shared   bool
	logger   *zap.Logger
	recorder Recorder
	now      func() time.Time

	mu     sync.Mutex
	slots  *SlotStore
	appts  *AppointmentStore
	loaded bool
	dirty  bool
}

func NewService(repo Repository, locker redisclient.Locker, cfg config.Config, logger *zap.Logger, opts ...Option) *Service {
	if locker == nil {
		locker = redisclient.NewLocalLocker()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	hours := Hours{Open: cfg.Clinic.OpenHour, Close: cfg.Clinic.CloseHour, Location: cfg.Clinic.Location}
	if hours.Open == 0 && hours.Close == 0 {
		hours = DefaultHours()
	}

	s := &Service{
		repo:     repo,
		locker:   locker,
		hours:    hours,
		shared:   cfg.SharedState,
		logger:   logger.Named("scheduling"),
		recorder: nopRecorder{},
		now:      time.Now,
		slots:    NewSlotStore(hours, nil),
		appts:    NewAppointmentStore(nil),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load reads both tables from the repository. It must run once before any
// other operation.
func (s *Service) Load(ctx context.Context) error {
	return s.locker.WithLock(ctx, ScheduleLockKey, func(lockCtx context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if err := s.reloadLocked(lockCtx); err != nil {
			return err
		}
		s.logger.Info("schedule loaded",
			zap.Int("appointments", s.appts.Len()),
			zap.Int("doctors_with_slots", len(s.slots.Doctors())),
		)
		return nil
	})
}

func (s *Service) reloadLocked(ctx context.Context) error {
	table, err := s.repo.LoadSlots(ctx)
	if err != nil {
		return &PersistenceError{Op: "load slots", Err: err}
	}
	appts, err := s.repo.LoadAppointments(ctx)
	if err != nil {
		return &PersistenceError{Op: "load appointments", Err: err}
	}

	slots := NewSlotStore(s.hours, table)
	store := NewAppointmentStore(appts)

	// A slot that is also held by a live appointment would be bookable twice.
	for _, a := range store.All() {
		if a.Status == StatusCancelled {
			continue
		}
		if slots.IsAvailable(a.DoctorID, a.ScheduledAt) {
			s.logger.Warn("dropping free slot held by an appointment",
				zap.Int64("appointment_id", a.ID),
				zap.String("doctor_id", a.DoctorID),
				zap.Time("at", a.ScheduledAt),
			)
			_ = slots.Remove(a.DoctorID, a.ScheduledAt)
		}
	}

	s.slots = slots
	s.appts = store
	s.loaded = true
	return nil
}

func (s *Service) persistLocked(ctx context.Context) error {
	table := s.slots.Table()
	appts := s.appts.All()

	var err error
	if saver, ok := s.repo.(StateSaver); ok {
		err = saver.SaveState(ctx, table, appts)
	} else {
		err = s.repo.SaveSlots(ctx, table)
		if err == nil {
			err = s.repo.SaveAppointments(ctx, appts)
		}
	}
	if err != nil {
		return &PersistenceError{Op: "save", Err: err}
	}

	s.dirty = false
	return nil
}

// mutate runs fn inside the schedule lock. fn performs every check before
// touching either store; a nil event means nothing changed and nothing is
// saved.
func (s *Service) mutate(ctx context.Context, op string, fn func() (*EventLog, error)) error {
	start := time.Now()

	err := s.locker.WithLock(ctx, ScheduleLockKey, func(lockCtx context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()

		if !s.loaded {
			return ErrNotLoaded
		}
		// Unsaved local changes win over the shared copy until Flush succeeds.
		if s.shared && !s.dirty {
			if err := s.reloadLocked(lockCtx); err != nil {
				return err
			}
		}

		ev, err := fn()
		if err != nil {
			return err
		}
		if ev == nil {
			return nil
		}

		s.dirty = true
		if err := s.persistLocked(lockCtx); err != nil {
			return err
		}
		s.logEvent(lockCtx, *ev)
		return nil
	})

	s.recorder.ObserveOperation(op, ErrorKind(err), time.Since(start))
	switch {
	case err == nil:
	case IsPersistenceError(err):
		s.logger.Error("schedule not persisted", zap.String("op", op), zap.Error(err))
	default:
		s.logger.Debug("operation rejected", zap.String("op", op), zap.Error(err))
	}
	return err
}

// Flush retries saving state left behind by a failed persist.
func (s *Service) Flush(ctx context.Context) error {
	return s.locker.WithLock(ctx, ScheduleLockKey, func(lockCtx context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.dirty {
			return nil
		}
		return s.persistLocked(lockCtx)
	})
}

// Refresh reloads both stores from the shared repository so reads see what
// other processes wrote. It is a no-op unless shared state is on or while
// unsaved local changes are pending.
func (s *Service) Refresh(ctx context.Context) error {
	if !s.shared {
		return nil
	}
	return s.locker.WithLock(ctx, ScheduleLockKey, func(lockCtx context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.loaded {
			return ErrNotLoaded
		}
		if s.dirty {
			return nil
		}
		return s.reloadLocked(lockCtx)
	})
}

// Dirty reports whether applied changes are still waiting to be saved.
func (s *Service) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// -- Slots --

func (s *Service) AddSlot(ctx context.Context, doctorID string, at time.Time) error {
	if doctorID == "" {
		return fmt.Errorf("%w: doctor id is required", ErrInvalidRequest)
	}
	return s.mutate(ctx, "add_slot", func() (*EventLog, error) {
		if at.Before(s.now()) {
			return nil, fmt.Errorf("%w: %s is in the past", ErrInvalidSlot, s.format(at))
		}
		if taken := s.appts.Filter(Filter{DoctorID: doctorID}); len(taken) > 0 {
			for _, a := range taken {
				if a.Status != StatusCancelled && a.ScheduledAt.Equal(at) {
					return nil, fmt.Errorf("%w: %s at %s is held by appointment %d", ErrInvalidSlot, doctorID, s.format(at), a.ID)
				}
			}
		}
		if err := s.slots.Add(doctorID, at); err != nil {
			return nil, err
		}
		s.logger.Info("slot added", zap.String("doctor_id", doctorID), zap.Time("at", at))
		return s.event(EventSlotAdded, nil, doctorID, map[string]any{"at": s.format(at)}), nil
	})
}

func (s *Service) RemoveSlot(ctx context.Context, doctorID string, at time.Time) error {
	return s.mutate(ctx, "remove_slot", func() (*EventLog, error) {
		if err := s.slots.Remove(doctorID, at); err != nil {
			return nil, err
		}
		s.logger.Info("slot removed", zap.String("doctor_id", doctorID), zap.Time("at", at))
		return s.event(EventSlotRemoved, nil, doctorID, map[string]any{"at": s.format(at)}), nil
	})
}

// PrunePastSlots withdraws every free slot that starts before now.
func (s *Service) PrunePastSlots(ctx context.Context, now time.Time) (int, error) {
	var removed int
	err := s.mutate(ctx, "prune_slots", func() (*EventLog, error) {
		removed = s.slots.PruneBefore(now)
		if removed == 0 {
			return nil, nil
		}
		s.logger.Info("past slots pruned", zap.Int("removed", removed), zap.Time("before", now))
		return s.event(EventSlotsPruned, nil, "", map[string]any{"removed": removed, "before": s.format(now)}), nil
	})
	return removed, err
}

func (s *Service) IsAvailable(doctorID string, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slots.IsAvailable(doctorID, at)
}

func (s *Service) ListSlots(doctorID string) []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slots.List(doctorID)
}

func (s *Service) Doctors() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slots.Doctors()
}

// -- Appointments --

// Book consumes the doctor's slot and creates a pending appointment.
//
// On a *PersistenceError the returned appointment reflects the applied but
// not yet durable state; the same holds for every mutating operation below.
func (s *Service) Book(ctx context.Context, patientID, doctorID string, at time.Time) (*Appointment, error) {
	if patientID == "" || doctorID == "" {
		return nil, fmt.Errorf("%w: patient and doctor ids are required", ErrInvalidRequest)
	}

	var created Appointment
	err := s.mutate(ctx, "book", func() (*EventLog, error) {
		if !s.slots.IsAvailable(doctorID, at) {
			return nil, fmt.Errorf("%w: %s at %s", ErrSlotUnavailable, doctorID, s.format(at))
		}

		now := s.now()
		created = Appointment{
			ID:          s.appts.NextID(),
			PatientID:   patientID,
			DoctorID:    doctorID,
			Status:      StatusPending,
			ScheduledAt: s.hours.normalize(at),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		_ = s.slots.Remove(doctorID, at)
		s.appts.Add(created)

		s.logger.Info("appointment booked",
			zap.Int64("appointment_id", created.ID),
			zap.String("patient_id", patientID),
			zap.String("doctor_id", doctorID),
			zap.Time("at", created.ScheduledAt),
		)
		return s.event(EventAppointmentBooked, &created.ID, doctorID, map[string]any{
			"patient_id": patientID,
			"at":         s.format(at),
		}), nil
	})
	return result(created, err)
}

// Reschedule moves an active appointment to another free slot, possibly with
// another doctor. The new slot is checked before the old one is released.
func (s *Service) Reschedule(ctx context.Context, id int64, newDoctorID string, newAt time.Time) (*Appointment, error) {
	return s.reschedule(ctx, id, "", newDoctorID, newAt)
}

// RescheduleFor is Reschedule on behalf of a patient. Another patient's
// appointment is reported as not found.
func (s *Service) RescheduleFor(ctx context.Context, id int64, patientID, newDoctorID string, newAt time.Time) (*Appointment, error) {
	if patientID == "" {
		return nil, fmt.Errorf("%w: patient id is required", ErrInvalidRequest)
	}
	return s.reschedule(ctx, id, patientID, newDoctorID, newAt)
}

func (s *Service) reschedule(ctx context.Context, id int64, patientID, newDoctorID string, newAt time.Time) (*Appointment, error) {
	var updated Appointment
	err := s.mutate(ctx, "reschedule", func() (*EventLog, error) {
		appt, err := s.findOwnedLocked(id, patientID)
		if err != nil {
			return nil, err
		}
		if appt.Status.Terminal() {
			return nil, fmt.Errorf("%w: appointment %d is %s", ErrInvalidState, id, appt.Status)
		}
		if !s.slots.IsAvailable(newDoctorID, newAt) {
			return nil, fmt.Errorf("%w: %s at %s", ErrSlotUnavailable, newDoctorID, s.format(newAt))
		}

		oldDoctor, oldAt := appt.DoctorID, appt.ScheduledAt
		_ = s.slots.Remove(newDoctorID, newAt)
		s.slots.Restore(oldDoctor, oldAt)

		appt.DoctorID = newDoctorID
		appt.ScheduledAt = s.hours.normalize(newAt)
		appt.UpdatedAt = s.now()
		if err := s.appts.Update(appt); err != nil {
			return nil, err
		}
		updated = appt

		s.logger.Info("appointment rescheduled",
			zap.Int64("appointment_id", id),
			zap.String("from_doctor_id", oldDoctor),
			zap.Time("from", oldAt),
			zap.String("to_doctor_id", newDoctorID),
			zap.Time("to", appt.ScheduledAt),
		)
		return s.event(EventAppointmentRescheduled, &id, newDoctorID, map[string]any{
			"from_doctor_id": oldDoctor,
			"from":           s.format(oldAt),
			"to":             s.format(newAt),
		}), nil
	})
	return result(updated, err)
}

// Cancel cancels the patient's own active appointment and offers its slot
// again.
func (s *Service) Cancel(ctx context.Context, id int64, patientID string) (*Appointment, error) {
	if patientID == "" {
		return nil, fmt.Errorf("%w: patient id is required", ErrInvalidRequest)
	}
	return s.cancel(ctx, id, patientID)
}

// CancelOnBehalf cancels whichever patient holds the appointment.
func (s *Service) CancelOnBehalf(ctx context.Context, id int64) (*Appointment, error) {
	return s.cancel(ctx, id, "")
}

func (s *Service) cancel(ctx context.Context, id int64, patientID string) (*Appointment, error) {
	var updated Appointment
	err := s.mutate(ctx, "cancel", func() (*EventLog, error) {
		appt, err := s.findOwnedLocked(id, patientID)
		if err != nil {
			return nil, err
		}
		if appt.Status.Terminal() {
			return nil, fmt.Errorf("%w: appointment %d is %s", ErrInvalidState, id, appt.Status)
		}

		appt.Status = StatusCancelled
		appt.UpdatedAt = s.now()
		if err := s.appts.Update(appt); err != nil {
			return nil, err
		}
		if !s.slots.Restore(appt.DoctorID, appt.ScheduledAt) {
			s.logger.Warn("cancelled appointment's slot was already free",
				zap.Int64("appointment_id", id),
				zap.String("doctor_id", appt.DoctorID),
				zap.Time("at", appt.ScheduledAt),
			)
		}
		updated = appt

		s.logger.Info("appointment cancelled",
			zap.Int64("appointment_id", id),
			zap.String("patient_id", appt.PatientID),
			zap.Bool("on_behalf", patientID == ""),
		)
		return s.event(EventAppointmentCancelled, &id, appt.DoctorID, map[string]any{
			"patient_id": appt.PatientID,
			"at":         s.format(appt.ScheduledAt),
		}), nil
	})
	return result(updated, err)
}

// Approve moves the doctor's pending appointment to approved.
func (s *Service) Approve(ctx context.Context, id int64, doctorID string) (*Appointment, error) {
	var updated Appointment
	err := s.mutate(ctx, "approve", func() (*EventLog, error) {
		appt, err := s.findLocked(id)
		if err != nil {
			return nil, err
		}
		if appt.DoctorID != doctorID {
			return nil, fmt.Errorf("%w: id %d for doctor %s", ErrAppointmentNotFound, id, doctorID)
		}
		if appt.Status != StatusPending {
			return nil, fmt.Errorf("%w: cannot approve %s appointment %d", ErrInvalidState, appt.Status, id)
		}

		appt.Status = StatusApproved
		appt.UpdatedAt = s.now()
		if err := s.appts.Update(appt); err != nil {
			return nil, err
		}
		updated = appt

		s.logger.Info("appointment approved", zap.Int64("appointment_id", id), zap.String("doctor_id", doctorID))
		return s.event(EventAppointmentApproved, &id, doctorID, map[string]any{}), nil
	})
	return result(updated, err)
}

// RecordOutcome completes the doctor's approved appointment and attaches the
// visit outcome.
func (s *Service) RecordOutcome(ctx context.Context, id int64, doctorID string, outcome Outcome) (*Appointment, error) {
	var updated Appointment
	err := s.mutate(ctx, "record_outcome", func() (*EventLog, error) {
		appt, err := s.findLocked(id)
		if err != nil {
			return nil, err
		}
		if appt.DoctorID != doctorID {
			return nil, fmt.Errorf("%w: id %d for doctor %s", ErrAppointmentNotFound, id, doctorID)
		}
		if appt.Status != StatusApproved {
			return nil, fmt.Errorf("%w: cannot complete %s appointment %d", ErrInvalidState, appt.Status, id)
		}

		attachOutcome(&appt, outcome)
		appt.UpdatedAt = s.now()
		if err := s.appts.Update(appt); err != nil {
			return nil, err
		}
		updated = appt

		s.logger.Info("appointment completed",
			zap.Int64("appointment_id", id),
			zap.String("doctor_id", doctorID),
			zap.String("service_type", outcome.ServiceType),
			zap.Int("medications", len(outcome.Medications)),
		)
		return s.event(EventAppointmentCompleted, &id, doctorID, map[string]any{
			"service_type": outcome.ServiceType,
			"medications":  len(outcome.Medications),
		}), nil
	})
	return result(updated, err)
}

func (s *Service) FindByID(id int64) (*Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	appt, err := s.findLocked(id)
	if err != nil {
		return nil, err
	}
	return &appt, nil
}

// Filter lists appointments in booking order.
func (s *Service) Filter(f Filter) []Appointment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appts.Filter(f)
}

func (s *Service) findLocked(id int64) (Appointment, error) {
	appt, ok := s.appts.FindByID(id)
	if !ok {
		return Appointment{}, fmt.Errorf("%w: id %d", ErrAppointmentNotFound, id)
	}
	return appt, nil
}

// findOwnedLocked hides appointments held by another patient. An empty
// patientID matches any holder.
func (s *Service) findOwnedLocked(id int64, patientID string) (Appointment, error) {
	appt, err := s.findLocked(id)
	if err != nil {
		return Appointment{}, err
	}
	if patientID != "" && appt.PatientID != patientID {
		return Appointment{}, fmt.Errorf("%w: id %d for patient %s", ErrAppointmentNotFound, id, patientID)
	}
	return appt, nil
}

func result(a Appointment, err error) (*Appointment, error) {
	if err != nil && !IsPersistenceError(err) {
		return nil, err
	}
	if a.ID == 0 {
		return nil, err
	}
	return &a, err
}

func (s *Service) format(t time.Time) string {
	return s.hours.normalize(t).Format(time.RFC3339)
}

func (s *Service) event(eventType string, appointmentID *int64, doctorID string, payload map[string]any) *EventLog {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("failed to marshal event payload", zap.String("event", eventType), zap.Error(err))
		data = nil
	}

	var apptID *int64
	if appointmentID != nil {
		id := *appointmentID
		apptID = &id
	}

	return &EventLog{
		EventType:     eventType,
		AppointmentID: apptID,
		DoctorID:      doctorID,
		Payload:       data,
		CreatedAt:     s.now(),
	}
}

// logEvent writes the audit row. A failure here never fails the operation.
func (s *Service) logEvent(ctx context.Context, ev EventLog) {
	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.logger.Warn("failed to insert event log", zap.String("event", ev.EventType), zap.Error(err))
	}
}

// ErrorKind classifies err for metrics and logs.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidSlot):
		return "invalid_slot"
	case errors.Is(err, ErrSlotUnavailable):
		return "slot_unavailable"
	case errors.Is(err, ErrSlotNotFound):
		return "slot_not_found"
	case errors.Is(err, ErrAppointmentNotFound):
		return "appointment_not_found"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		return "lock_busy"
	case IsPersistenceError(err):
		return "persistence"
	default:
		return "error"
	}
}
