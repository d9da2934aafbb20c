package appointment

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap/zaptest"

	"github.com/hackgods/clinic-scheduling/internal/db"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
)

// newPgRepository returns a repository on a migrated, empty database.
// TEST_POSTGRES_DSN points at an existing server; otherwise a postgres
// container is started.
func newPgRepository(t *testing.T) (*PgRepository, *pgxpool.Pool) {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres round trip skipped in -short mode")
	}
	ctx := context.Background()

	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		dsn = startPostgres(t)
	}

	pool, err := db.ConnectPostgres(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	m, err := db.NewMigrator(pool, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, m.Up(ctx))
	require.NoError(t, m.Close())

	_, err = pool.Exec(ctx, `TRUNCATE doctor_slots, appointments, appointment_outcomes, outcome_medications, event_logs`)
	require.NoError(t, err)

	return NewPgRepository(pool), pool
}

func startPostgres(t *testing.T) string {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "clinic_test",
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "testpass",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	return fmt.Sprintf("postgres://test:testpass@%s:%s/clinic_test?sslmode=disable", host, port.Port())
}

// inUTC strips the session time zone pgx applies to timestamptz values.
func inUTC(table SlotTable, appts []Appointment) (SlotTable, []Appointment) {
	outTable := make(SlotTable, len(table))
	for doctor, times := range table {
		for _, ts := range times {
			outTable[doctor] = append(outTable[doctor], ts.UTC())
		}
	}
	outAppts := make([]Appointment, len(appts))
	for i, a := range appts {
		a = a.clone()
		a.ScheduledAt = a.ScheduledAt.UTC()
		a.CreatedAt = a.CreatedAt.UTC()
		a.UpdatedAt = a.UpdatedAt.UTC()
		outAppts[i] = a
	}
	return outTable, outAppts
}

func TestPgRepository_RoundTrip(t *testing.T) {
	repo, _ := newPgRepository(t)
	ctx := context.Background()

	table := SlotTable{
		"dr-a": {at(10, 11), at(10, 9)},
		"dr-b": {at(11, 14)},
	}
	appts := []Appointment{
		{ID: 1, PatientID: "p-1", DoctorID: "dr-a", Status: StatusPending, ScheduledAt: at(10, 10), CreatedAt: fixedNow, UpdatedAt: fixedNow},
		{ID: 2, PatientID: "p-2", DoctorID: "dr-a", Status: StatusCompleted, ScheduledAt: at(10, 12), CreatedAt: fixedNow, UpdatedAt: fixedNow,
			Outcome: &Outcome{ServiceType: "vaccination", Notes: "left arm", Medications: []Medication{
				{Name: "flu vaccine", Quantity: 1, Status: MedicationDispensed},
				{Name: "paracetamol", Quantity: 10, Status: MedicationPending},
			}}},
		{ID: 3, PatientID: "p-3", DoctorID: "dr-b", Status: StatusCompleted, ScheduledAt: at(11, 9), CreatedAt: fixedNow, UpdatedAt: fixedNow,
			Outcome: &Outcome{ServiceType: "checkup", Medications: []Medication{}}},
		{ID: 5, PatientID: "p-1", DoctorID: "dr-b", Status: StatusCancelled, ScheduledAt: at(11, 10), CreatedAt: fixedNow, UpdatedAt: fixedNow},
	}

	require.NoError(t, repo.SaveState(ctx, table, appts))

	gotTable, err := repo.LoadSlots(ctx)
	require.NoError(t, err)
	gotAppts, err := repo.LoadAppointments(ctx)
	require.NoError(t, err)
	gotTable, gotAppts = inUTC(gotTable, gotAppts)

	assert.Equal(t, table, gotTable, "offer order survives")
	assert.Equal(t, appts, gotAppts)
	require.NotNil(t, gotAppts[2].Outcome)
	assert.NotNil(t, gotAppts[2].Outcome.Medications, "no medications loads as an empty list")
	assert.Empty(t, gotAppts[2].Outcome.Medications)

	// save(load()) is observably identical
	require.NoError(t, repo.SaveState(ctx, gotTable, gotAppts))
	againTable, err := repo.LoadSlots(ctx)
	require.NoError(t, err)
	againAppts, err := repo.LoadAppointments(ctx)
	require.NoError(t, err)
	againTable, againAppts = inUTC(againTable, againAppts)
	assert.Equal(t, gotTable, againTable)
	assert.Equal(t, gotAppts, againAppts)
}

func TestPgRepository_SaveReplacesEverything(t *testing.T) {
	repo, pool := newPgRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.SaveState(ctx, SlotTable{"dr-a": {at(10, 9), at(10, 10)}}, []Appointment{
		{ID: 1, PatientID: "p-1", DoctorID: "dr-a", Status: StatusCompleted, ScheduledAt: at(10, 11), CreatedAt: fixedNow, UpdatedAt: fixedNow,
			Outcome: &Outcome{ServiceType: "checkup", Medications: []Medication{{Name: "ibuprofen", Quantity: 2, Status: MedicationPending}}}},
	}))
	require.NoError(t, repo.SaveSlots(ctx, SlotTable{}))
	require.NoError(t, repo.SaveAppointments(ctx, nil))

	table, err := repo.LoadSlots(ctx)
	require.NoError(t, err)
	assert.Empty(t, table)
	appts, err := repo.LoadAppointments(ctx)
	require.NoError(t, err)
	assert.Empty(t, appts)

	var meds int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM outcome_medications`).Scan(&meds))
	assert.Zero(t, meds, "outcome rows cascade with their appointment")
}

func TestPgRepository_InsertEvent(t *testing.T) {
	repo, pool := newPgRepository(t)
	ctx := context.Background()

	id := int64(7)
	require.NoError(t, repo.InsertEvent(ctx, EventLog{
		EventType:     EventAppointmentBooked,
		AppointmentID: &id,
		DoctorID:      "dr-a",
		Payload:       []byte(`{"patient_id":"p-1"}`),
		CreatedAt:     fixedNow,
	}))
	require.NoError(t, repo.InsertEvent(ctx, EventLog{EventType: EventSlotsPruned}))

	var total, withDoctor int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*), count(doctor_id) FROM event_logs`).Scan(&total, &withDoctor))
	assert.Equal(t, 2, total)
	assert.Equal(t, 1, withDoctor)
}

func TestPgRepository_ServiceStateSurvivesRestart(t *testing.T) {
	repo, _ := newPgRepository(t)
	ctx := context.Background()

	newSvc := func() *Service {
		svc := NewService(repo, redisclient.NewLocalLocker(), testConfig(), zaptest.NewLogger(t), fixedClock)
		require.NoError(t, svc.Load(ctx))
		return svc
	}

	svc := newSvc()
	withSlots(t, svc, "dr-a", at(10, 9), at(10, 10), at(10, 11))
	first, err := svc.Book(ctx, "p-1", "dr-a", at(10, 9))
	require.NoError(t, err)
	second, err := svc.Book(ctx, "p-2", "dr-a", at(10, 10))
	require.NoError(t, err)
	_, err = svc.Approve(ctx, first.ID, "dr-a")
	require.NoError(t, err)
	_, err = svc.RecordOutcome(ctx, first.ID, "dr-a", Outcome{ServiceType: "checkup"})
	require.NoError(t, err)
	_, err = svc.Cancel(ctx, second.ID, "p-2")
	require.NoError(t, err)

	restarted := newSvc()
	_, want := inUTC(nil, svc.Filter(Filter{}))
	_, got := inUTC(nil, restarted.Filter(Filter{}))
	assert.Equal(t, want, got)

	var slots []time.Time
	for _, ts := range restarted.ListSlots("dr-a") {
		slots = append(slots, ts.UTC())
	}
	assert.Equal(t, svc.ListSlots("dr-a"), slots)

	third, err := restarted.Book(ctx, "p-3", "dr-a", at(10, 11))
	require.NoError(t, err)
	assert.Equal(t, int64(3), third.ID)
}
