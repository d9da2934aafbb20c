package appointment

import "fmt"

// AppointmentStore keeps appointments in insertion order with an id index.
// It is not safe for concurrent use; the Service serializes access.
type AppointmentStore struct {
	items []Appointment
	index map[int64]int
	maxID int64
}

func NewAppointmentStore(appts []Appointment) *AppointmentStore {
	s := &AppointmentStore{index: make(map[int64]int, len(appts))}
	for _, a := range appts {
		if _, dup := s.index[a.ID]; dup {
			continue
		}
		s.Add(a)
	}
	return s
}

// NextID is one past the highest id ever stored, so cancelled ids are never
// handed out again.
func (s *AppointmentStore) NextID() int64 {
	return s.maxID + 1
}

func (s *AppointmentStore) Add(a Appointment) {
	s.index[a.ID] = len(s.items)
	s.items = append(s.items, a.clone())
	if a.ID > s.maxID {
		s.maxID = a.ID
	}
}

func (s *AppointmentStore) Update(a Appointment) error {
	i, ok := s.index[a.ID]
	if !ok {
		return fmt.Errorf("%w: id %d", ErrAppointmentNotFound, a.ID)
	}
	s.items[i] = a.clone()
	return nil
}

func (s *AppointmentStore) FindByID(id int64) (Appointment, bool) {
	i, ok := s.index[id]
	if !ok {
		return Appointment{}, false
	}
	return s.items[i].clone(), true
}

// Filter returns matching appointments in insertion order.
func (s *AppointmentStore) Filter(f Filter) []Appointment {
	out := []Appointment{}
	for _, a := range s.items {
		if f.match(a) {
			out = append(out, a.clone())
		}
	}
	return out
}

func (s *AppointmentStore) All() []Appointment {
	return s.Filter(Filter{})
}

func (s *AppointmentStore) Len() int {
	return len(s.items)
}
