package appointment

import (
	"fmt"
	"sort"
	"time"
)

// SlotStore holds every doctor's free slots. It is not safe for concurrent
// use; the Service serializes access.
type SlotStore struct {
	hours Hours
	slots SlotTable
}

// Hours is the window in which slots may be offered.
type Hours struct {
	Open     int // inclusive
	Close    int // exclusive
	Location *time.Location
}

func DefaultHours() Hours {
	return Hours{Open: 9, Close: 17, Location: time.Local}
}

func (h Hours) location() *time.Location {
	if h.Location == nil {
		return time.Local
	}
	return h.Location
}

// normalize converts t into the clinic location.
func (h Hours) normalize(t time.Time) time.Time {
	return t.In(h.location())
}

func (h Hours) check(t time.Time) error {
	if t.IsZero() {
		return fmt.Errorf("%w: zero time", ErrInvalidSlot)
	}
	local := h.normalize(t)
	if local.Minute() != 0 || local.Second() != 0 || local.Nanosecond() != 0 {
		return fmt.Errorf("%w: %s is not on the hour", ErrInvalidSlot, local.Format(time.RFC3339))
	}
	if local.Hour() < h.Open || local.Hour() >= h.Close {
		return fmt.Errorf("%w: %s is outside %02d:00-%02d:00", ErrInvalidSlot, local.Format(time.RFC3339), h.Open, h.Close)
	}
	return nil
}

func NewSlotStore(hours Hours, table SlotTable) *SlotStore {
	s := &SlotStore{hours: hours, slots: make(SlotTable, len(table))}
	for doctor, times := range table {
		for _, t := range times {
			s.Restore(doctor, t)
		}
	}
	return s
}

func (s *SlotStore) indexOf(doctorID string, at time.Time) int {
	for i, t := range s.slots[doctorID] {
		if t.Equal(at) {
			return i
		}
	}
	return -1
}

// Add offers a new slot for the doctor.
func (s *SlotStore) Add(doctorID string, at time.Time) error {
	if err := s.hours.check(at); err != nil {
		return err
	}
	if s.indexOf(doctorID, at) >= 0 {
		return fmt.Errorf("%w: %s already offered by %s", ErrInvalidSlot, s.hours.normalize(at).Format(time.RFC3339), doctorID)
	}
	s.slots[doctorID] = append(s.slots[doctorID], s.hours.normalize(at))
	return nil
}

func (s *SlotStore) Remove(doctorID string, at time.Time) error {
	i := s.indexOf(doctorID, at)
	if i < 0 {
		return fmt.Errorf("%w: %s for %s", ErrSlotNotFound, s.hours.normalize(at).Format(time.RFC3339), doctorID)
	}
	s.slots[doctorID] = append(s.slots[doctorID][:i], s.slots[doctorID][i+1:]...)
	if len(s.slots[doctorID]) == 0 {
		delete(s.slots, doctorID)
	}
	return nil
}

// Restore puts a consumed slot back without the open hours check, so a slot
// booked under different clinic hours can still be returned. It reports
// whether the slot was inserted; an already free slot is left alone.
func (s *SlotStore) Restore(doctorID string, at time.Time) bool {
	if at.IsZero() || s.indexOf(doctorID, at) >= 0 {
		return false
	}
	s.slots[doctorID] = append(s.slots[doctorID], s.hours.normalize(at))
	return true
}

func (s *SlotStore) IsAvailable(doctorID string, at time.Time) bool {
	return s.indexOf(doctorID, at) >= 0
}

// List returns the doctor's free slots in offer order.
func (s *SlotStore) List(doctorID string) []time.Time {
	return append([]time.Time{}, s.slots[doctorID]...)
}

// Doctors returns every doctor that currently offers slots, sorted.
func (s *SlotStore) Doctors() []string {
	out := make([]string, 0, len(s.slots))
	for d := range s.slots {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// PruneBefore drops every slot starting before t and returns how many went.
func (s *SlotStore) PruneBefore(t time.Time) int {
	removed := 0
	for doctor, times := range s.slots {
		kept := times[:0]
		for _, at := range times {
			if at.Before(t) {
				removed++
				continue
			}
			kept = append(kept, at)
		}
		if len(kept) == 0 {
			delete(s.slots, doctor)
		} else {
			s.slots[doctor] = kept
		}
	}
	return removed
}

func (s *SlotStore) Table() SlotTable {
	return s.slots.clone()
}
