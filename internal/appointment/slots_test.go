package appointment

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var utcHours = Hours{Open: 9, Close: 17, Location: time.UTC}

func at(day, hour int) time.Time {
	return time.Date(2024, time.January, day, hour, 0, 0, 0, time.UTC)
}

func TestSlotStore_Add(t *testing.T) {
	s := NewSlotStore(utcHours, nil)

	require.NoError(t, s.Add("dr-house", at(10, 9)))
	require.NoError(t, s.Add("dr-house", at(10, 16)))

	assert.ErrorIs(t, s.Add("dr-house", at(10, 9)), ErrInvalidSlot, "duplicate")
	assert.ErrorIs(t, s.Add("dr-house", at(10, 8)), ErrInvalidSlot, "before opening")
	assert.ErrorIs(t, s.Add("dr-house", at(10, 17)), ErrInvalidSlot, "closing hour is exclusive")
	assert.ErrorIs(t, s.Add("dr-house", at(10, 10).Add(30*time.Minute)), ErrInvalidSlot, "not on the hour")
	assert.ErrorIs(t, s.Add("dr-house", time.Time{}), ErrInvalidSlot)

	assert.Equal(t, []time.Time{at(10, 9), at(10, 16)}, s.List("dr-house"))
}

func TestSlotStore_SameTimeDifferentDoctors(t *testing.T) {
	s := NewSlotStore(utcHours, nil)
	require.NoError(t, s.Add("dr-a", at(10, 9)))
	require.NoError(t, s.Add("dr-b", at(10, 9)))
	assert.True(t, s.IsAvailable("dr-a", at(10, 9)))
	assert.True(t, s.IsAvailable("dr-b", at(10, 9)))
	assert.Equal(t, []string{"dr-a", "dr-b"}, s.Doctors())
}

func TestSlotStore_HoursUseClinicLocation(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	s := NewSlotStore(Hours{Open: 9, Close: 17, Location: berlin}, nil)

	// 08:00 UTC is 09:00 in Berlin in January
	require.NoError(t, s.Add("dr-a", at(10, 8)))
	assert.ErrorIs(t, s.Add("dr-a", at(10, 16)), ErrInvalidSlot, "17:00 Berlin")

	assert.True(t, s.IsAvailable("dr-a", time.Date(2024, 1, 10, 9, 0, 0, 0, berlin)))
}

func TestSlotStore_Remove(t *testing.T) {
	s := NewSlotStore(utcHours, nil)
	require.NoError(t, s.Add("dr-a", at(10, 9)))
	require.NoError(t, s.Add("dr-a", at(10, 10)))
	require.NoError(t, s.Add("dr-a", at(10, 11)))

	require.NoError(t, s.Remove("dr-a", at(10, 10)))
	assert.Equal(t, []time.Time{at(10, 9), at(10, 11)}, s.List("dr-a"))

	assert.ErrorIs(t, s.Remove("dr-a", at(10, 10)), ErrSlotNotFound)
	assert.ErrorIs(t, s.Remove("dr-nobody", at(10, 10)), ErrSlotNotFound)
}

func TestSlotStore_ListUnknownDoctorIsEmpty(t *testing.T) {
	s := NewSlotStore(utcHours, nil)
	slots := s.List("dr-nobody")
	assert.NotNil(t, slots)
	assert.Empty(t, slots)
}

func TestSlotStore_ListIsACopy(t *testing.T) {
	s := NewSlotStore(utcHours, nil)
	require.NoError(t, s.Add("dr-a", at(10, 9)))

	list := s.List("dr-a")
	list[0] = at(10, 12)

	assert.Equal(t, []time.Time{at(10, 9)}, s.List("dr-a"))
}

func TestSlotStore_RestoreIsIdempotent(t *testing.T) {
	s := NewSlotStore(utcHours, nil)

	assert.True(t, s.Restore("dr-a", at(10, 9)))
	assert.False(t, s.Restore("dr-a", at(10, 9)))
	assert.Equal(t, []time.Time{at(10, 9)}, s.List("dr-a"))

	// restore skips the opening hours check
	assert.True(t, s.Restore("dr-a", at(10, 19)))
	assert.False(t, s.Restore("dr-a", time.Time{}))
}

func TestSlotStore_PruneBefore(t *testing.T) {
	s := NewSlotStore(utcHours, SlotTable{
		"dr-a": {at(9, 9), at(10, 9), at(11, 9)},
		"dr-b": {at(9, 10)},
	})

	removed := s.PruneBefore(at(10, 9))
	assert.Equal(t, 2, removed)
	assert.Equal(t, []time.Time{at(10, 9), at(11, 9)}, s.List("dr-a"))
	assert.Equal(t, []string{"dr-a"}, s.Doctors())
}

func TestSlotStore_TableRoundTrip(t *testing.T) {
	s := NewSlotStore(utcHours, nil)
	require.NoError(t, s.Add("dr-a", at(10, 11)))
	require.NoError(t, s.Add("dr-a", at(10, 9)))
	require.NoError(t, s.Add("dr-b", at(10, 9)))

	again := NewSlotStore(utcHours, s.Table())
	assert.Equal(t, s.Table(), again.Table())
	assert.Equal(t, []time.Time{at(10, 11), at(10, 9)}, again.List("dr-a"), "offer order survives")
}
