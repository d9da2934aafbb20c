package appointment

import (
	"context"
	"sync"
	"time"
)

// MemoryRepository keeps the persisted tables in process memory. It backs
// STORE_BACKEND=memory and the tests.
type MemoryRepository struct {
	mu      sync.Mutex
	slots   SlotTable
	appts   []Appointment
	events  []EventLog
	saveErr error
	saves   int
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{slots: SlotTable{}}
}

// FailSaves makes every following save return err. Pass nil to recover.
func (r *MemoryRepository) FailSaves(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saveErr = err
}

// Saves counts successful state writes.
func (r *MemoryRepository) Saves() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saves
}

func (r *MemoryRepository) LoadSlots(_ context.Context) (SlotTable, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.slots.clone(), nil
}

func (r *MemoryRepository) SaveSlots(_ context.Context, table SlotTable) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	r.slots = table.clone()
	r.saves++
	return nil
}

func (r *MemoryRepository) LoadAppointments(_ context.Context) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneAppointments(r.appts), nil
}

func (r *MemoryRepository) SaveAppointments(_ context.Context, appts []Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	r.appts = cloneAppointments(appts)
	r.saves++
	return nil
}

func (r *MemoryRepository) SaveState(_ context.Context, table SlotTable, appts []Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	r.slots = table.clone()
	r.appts = cloneAppointments(appts)
	r.saves++
	return nil
}

func (r *MemoryRepository) InsertEvent(_ context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev.ID = int64(len(r.events) + 1)
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	r.events = append(r.events, ev)
	return nil
}

// Events returns the audit log in insertion order.
func (r *MemoryRepository) Events() []EventLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]EventLog(nil), r.events...)
}

func cloneAppointments(in []Appointment) []Appointment {
	out := make([]Appointment, len(in))
	for i, a := range in {
		out[i] = a.clone()
	}
	return out
}
