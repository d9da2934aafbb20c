package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
)

type mockEngine struct {
	mock.Mock
}

func (m *mockEngine) Book(ctx context.Context, patientID, doctorID string, at time.Time) (*appointment.Appointment, error) {
	args := m.Called(ctx, patientID, doctorID, at)
	return apptArg(args, 0), args.Error(1)
}

func (m *mockEngine) Reschedule(ctx context.Context, id int64, newDoctorID string, newAt time.Time) (*appointment.Appointment, error) {
	args := m.Called(ctx, id, newDoctorID, newAt)
	return apptArg(args, 0), args.Error(1)
}

func (m *mockEngine) RescheduleFor(ctx context.Context, id int64, patientID, newDoctorID string, newAt time.Time) (*appointment.Appointment, error) {
	args := m.Called(ctx, id, patientID, newDoctorID, newAt)
	return apptArg(args, 0), args.Error(1)
}

func (m *mockEngine) CancelOnBehalf(ctx context.Context, id int64) (*appointment.Appointment, error) {
	args := m.Called(ctx, id)
	return apptArg(args, 0), args.Error(1)
}

func (m *mockEngine) Cancel(ctx context.Context, id int64, patientID string) (*appointment.Appointment, error) {
	args := m.Called(ctx, id, patientID)
	return apptArg(args, 0), args.Error(1)
}

func (m *mockEngine) Approve(ctx context.Context, id int64, doctorID string) (*appointment.Appointment, error) {
	args := m.Called(ctx, id, doctorID)
	return apptArg(args, 0), args.Error(1)
}

func (m *mockEngine) RecordOutcome(ctx context.Context, id int64, doctorID string, outcome appointment.Outcome) (*appointment.Appointment, error) {
	args := m.Called(ctx, id, doctorID, outcome)
	return apptArg(args, 0), args.Error(1)
}

func (m *mockEngine) AddSlot(ctx context.Context, doctorID string, at time.Time) error {
	return m.Called(ctx, doctorID, at).Error(0)
}

func (m *mockEngine) RemoveSlot(ctx context.Context, doctorID string, at time.Time) error {
	return m.Called(ctx, doctorID, at).Error(0)
}

func apptArg(args mock.Arguments, i int) *appointment.Appointment {
	if a, ok := args.Get(i).(*appointment.Appointment); ok {
		return a
	}
	return nil
}

func TestDispatch_PatientIDComesFromActor(t *testing.T) {
	ctx := context.Background()
	engine := &mockEngine{}
	engine.On("Book", ctx, "p-1", "dr-d", at(9)).Return(&appointment.Appointment{ID: 1, PatientID: "p-1"}, nil).Once()

	d := New(engine, nil)
	appt, err := d.Dispatch(ctx, patient, BookAppointment{DoctorID: "dr-d", At: at(9)})
	require.NoError(t, err)
	assert.Equal(t, int64(1), appt.ID)
	engine.AssertExpectations(t)
}

func TestDispatch_DoctorSlotDefaultsToSelf(t *testing.T) {
	ctx := context.Background()
	engine := &mockEngine{}
	engine.On("RemoveSlot", ctx, "dr-d", at(10)).Return(nil).Once()

	d := New(engine, nil)
	appt, err := d.Dispatch(ctx, doctor, RemoveSlot{At: at(10)})
	require.NoError(t, err)
	assert.Nil(t, appt)
	engine.AssertExpectations(t)
}

func TestDispatch_StaffCancelGoesOnBehalf(t *testing.T) {
	ctx := context.Background()
	engine := &mockEngine{}
	engine.On("CancelOnBehalf", ctx, int64(5)).Return(&appointment.Appointment{ID: 5, PatientID: "p-9", Status: appointment.StatusCancelled}, nil).Once()
	engine.On("Cancel", ctx, int64(6), "p-9").Return(&appointment.Appointment{ID: 6, Status: appointment.StatusCancelled}, nil).Once()

	d := New(engine, nil)
	_, err := d.Dispatch(ctx, staff, CancelAppointment{AppointmentID: 5})
	require.NoError(t, err)
	_, err = d.Dispatch(ctx, staff, CancelAppointment{AppointmentID: 6, PatientID: "p-9"})
	require.NoError(t, err)
	engine.AssertExpectations(t)
}

func TestDispatch_PatientRescheduleCarriesOwner(t *testing.T) {
	ctx := context.Background()
	engine := &mockEngine{}
	engine.On("RescheduleFor", ctx, int64(3), "p-1", "dr-d", at(11)).Return(&appointment.Appointment{ID: 3}, nil).Once()
	engine.On("Reschedule", ctx, int64(3), "dr-d", at(12)).Return(&appointment.Appointment{ID: 3}, nil).Once()

	d := New(engine, nil)
	_, err := d.Dispatch(ctx, patient, RescheduleAppointment{AppointmentID: 3, DoctorID: "dr-d", At: at(11)})
	require.NoError(t, err)
	_, err = d.Dispatch(ctx, staff, RescheduleAppointment{AppointmentID: 3, DoctorID: "dr-d", At: at(12)})
	require.NoError(t, err)
	engine.AssertExpectations(t)
}

func TestDispatch_RejectedCommandsMakeNoCalls(t *testing.T) {
	engine := &mockEngine{}
	d := New(engine, nil)

	_, err := d.Dispatch(context.Background(), staff, RecordOutcome{AppointmentID: 1})
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = d.Dispatch(context.Background(), doctor, BookAppointment{PatientID: "p-1", DoctorID: "dr-d"})
	assert.ErrorIs(t, err, ErrForbidden)

	engine.AssertNotCalled(t, "RecordOutcome", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	engine.AssertNotCalled(t, "Book", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
