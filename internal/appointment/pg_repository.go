package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.Status,
		&a.ScheduledAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &a, nil
}

func (r *PgRepository) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func writeSlots(ctx context.Context, tx pgx.Tx, table SlotTable) error {
	if _, err := tx.Exec(ctx, `DELETE FROM doctor_slots`); err != nil {
		return fmt.Errorf("clear doctor_slots: %w", err)
	}

	var rows [][]any
	for doctor, times := range table {
		for pos, at := range times {
			rows = append(rows, []any{doctor, at, pos})
		}
	}
	if len(rows) == 0 {
		return nil
	}

	_, err := tx.CopyFrom(ctx,
		pgx.Identifier{"doctor_slots"},
		[]string{"doctor_id", "starts_at", "position"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("copy doctor_slots: %w", err)
	}
	return nil
}

func writeAppointments(ctx context.Context, tx pgx.Tx, appts []Appointment) error {
	// outcome tables cascade from appointments
	if _, err := tx.Exec(ctx, `DELETE FROM appointments`); err != nil {
		return fmt.Errorf("clear appointments: %w", err)
	}
	if len(appts) == 0 {
		return nil
	}

	apptRows := make([][]any, 0, len(appts))
	var outcomeRows, medRows [][]any
	for _, a := range appts {
		apptRows = append(apptRows, []any{a.ID, a.PatientID, a.DoctorID, string(a.Status), a.ScheduledAt, a.CreatedAt, a.UpdatedAt})
		if a.Outcome == nil {
			continue
		}
		outcomeRows = append(outcomeRows, []any{a.ID, a.Outcome.ServiceType, a.Outcome.Notes})
		for pos, m := range a.Outcome.Medications {
			medRows = append(medRows, []any{a.ID, pos, m.Name, m.Quantity, string(m.Status)})
		}
	}

	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"appointments"},
		[]string{"id", "patient_id", "doctor_id", "status", "scheduled_at", "created_at", "updated_at"},
		pgx.CopyFromRows(apptRows),
	); err != nil {
		return fmt.Errorf("copy appointments: %w", err)
	}

	if len(outcomeRows) > 0 {
		if _, err := tx.CopyFrom(ctx,
			pgx.Identifier{"appointment_outcomes"},
			[]string{"appointment_id", "service_type", "notes"},
			pgx.CopyFromRows(outcomeRows),
		); err != nil {
			return fmt.Errorf("copy appointment_outcomes: %w", err)
		}
	}

	if len(medRows) > 0 {
		if _, err := tx.CopyFrom(ctx,
			pgx.Identifier{"outcome_medications"},
			[]string{"appointment_id", "position", "name", "quantity", "status"},
			pgx.CopyFromRows(medRows),
		); err != nil {
			return fmt.Errorf("copy outcome_medications: %w", err)
		}
	}

	return nil
}

// Interface methods

func (r *PgRepository) LoadSlots(ctx context.Context) (SlotTable, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT doctor_id, starts_at
		FROM doctor_slots
		ORDER BY doctor_id, position
	`)
	if err != nil {
		return nil, fmt.Errorf("query doctor_slots: %w", err)
	}
	defer rows.Close()

	table := SlotTable{}
	for rows.Next() {
		var doctor string
		var at time.Time
		if err := rows.Scan(&doctor, &at); err != nil {
			return nil, fmt.Errorf("scan slot: %w", err)
		}
		table[doctor] = append(table[doctor], at)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return table, nil
}

func (r *PgRepository) SaveSlots(ctx context.Context, table SlotTable) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		return writeSlots(ctx, tx, table)
	})
}

func (r *PgRepository) LoadAppointments(ctx context.Context) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, patient_id, doctor_id, status, scheduled_at, created_at, updated_at
		FROM appointments
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("query appointments: %w", err)
	}
	defer rows.Close()

	var result []Appointment
	byID := make(map[int64]int)
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan appointment: %w", err)
		}
		byID[a.ID] = len(result)
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := r.loadOutcomes(ctx, result, byID); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) loadOutcomes(ctx context.Context, appts []Appointment, byID map[int64]int) error {
	rows, err := r.pool.Query(ctx, `
		SELECT appointment_id, service_type, notes
		FROM appointment_outcomes
	`)
	if err != nil {
		return fmt.Errorf("query appointment_outcomes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var o Outcome
		if err := rows.Scan(&id, &o.ServiceType, &o.Notes); err != nil {
			return fmt.Errorf("scan outcome: %w", err)
		}
		if i, ok := byID[id]; ok {
			o.Medications = []Medication{}
			appts[i].Outcome = &o
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	medRows, err := r.pool.Query(ctx, `
		SELECT appointment_id, name, quantity, status
		FROM outcome_medications
		ORDER BY appointment_id, position
	`)
	if err != nil {
		return fmt.Errorf("query outcome_medications: %w", err)
	}
	defer medRows.Close()

	for medRows.Next() {
		var id int64
		var m Medication
		if err := medRows.Scan(&id, &m.Name, &m.Quantity, &m.Status); err != nil {
			return fmt.Errorf("scan medication: %w", err)
		}
		if i, ok := byID[id]; ok && appts[i].Outcome != nil {
			appts[i].Outcome.Medications = append(appts[i].Outcome.Medications, m)
		}
	}

	return medRows.Err()
}

func (r *PgRepository) SaveAppointments(ctx context.Context, appts []Appointment) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		return writeAppointments(ctx, tx, appts)
	})
}

// SaveState writes both tables in one transaction.
func (r *PgRepository) SaveState(ctx context.Context, table SlotTable, appts []Appointment) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		if err := writeSlots(ctx, tx, table); err != nil {
			return err
		}
		return writeAppointments(ctx, tx, appts)
	})
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	var doctorID *string
	if ev.DoctorID != "" {
		doctorID = &ev.DoctorID
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, doctor_id, payload, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, now()))
	`, ev.EventType, ev.AppointmentID, doctorID, []byte(ev.Payload), nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
