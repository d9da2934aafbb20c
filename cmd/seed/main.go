package main

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/app"
	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/logger"
)

const (
	doctorCount  = 20
	patientCount = 500
	workingDays  = 5
	bookingRatio = 0.3
	approveRatio = 0.5
)

type patient struct {
	ID   string
	Name string
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("config load error", zap.Error(err))
	}

	log := logger.Must(cfg.Env, cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	log.Info("seed starting", zap.String("store_backend", cfg.StoreBackend))

	ctx := context.Background()

	deps, err := app.Open(ctx, cfg, log)
	if err != nil {
		log.Fatal("startup failed", zap.Error(err))
	}
	defer deps.Close()

	svc := deps.NewService()
	if err := svc.Load(ctx); err != nil {
		log.Fatal("schedule load failed", zap.Error(err))
	}

	faker := gofakeit.New(0)

	doctors := seedDoctors(faker, doctorCount)
	patients := seedPatients(faker, patientCount)

	start := nextMonday(time.Now().In(cfg.Clinic.Location))
	slots, err := seedSlots(ctx, svc, log, cfg.Clinic, doctors, start)
	if err != nil {
		log.Fatal("seed slots", zap.Error(err))
	}

	booked, approved, err := seedBookings(ctx, svc, log, faker, doctors, patients)
	if err != nil {
		log.Fatal("seed bookings", zap.Error(err))
	}

	log.Info("seed complete",
		zap.Int("doctors", len(doctors)),
		zap.Int("patients", len(patients)),
		zap.Int("slots", slots),
		zap.Int("booked", booked),
		zap.Int("approved", approved),
		zap.Time("week_of", start),
	)
}

func seedDoctors(faker *gofakeit.Faker, count int) []string {
	ids := make([]string, 0, count)
	for i := 0; i < count; i++ {
		ids = append(ids, "dr-"+strings.ToLower(faker.LastName())+"-"+uuid.NewString()[:8])
	}
	return ids
}

func seedPatients(faker *gofakeit.Faker, count int) []patient {
	out := make([]patient, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, patient{ID: "pt-" + uuid.NewString()[:8], Name: faker.Name()})
	}
	return out
}

func nextMonday(now time.Time) time.Time {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	offset := (int(time.Monday) - int(day.Weekday()) + 7) % 7
	if offset == 0 {
		offset = 7
	}
	return day.AddDate(0, 0, offset)
}

func seedSlots(ctx context.Context, svc *appointment.Service, log *zap.Logger, hours config.ClinicHours, doctors []string, monday time.Time) (int, error) {
	log.Info("seeding slots", zap.Int("doctors", len(doctors)), zap.Int("days", workingDays))

	added := 0
	for _, doctorID := range doctors {
		for d := 0; d < workingDays; d++ {
			day := monday.AddDate(0, 0, d)
			for h := hours.OpenHour; h < hours.CloseHour; h++ {
				at := time.Date(day.Year(), day.Month(), day.Day(), h, 0, 0, 0, day.Location())
				err := svc.AddSlot(ctx, doctorID, at)
				if errors.Is(err, appointment.ErrInvalidSlot) {
					continue
				}
				if err != nil {
					return added, err
				}
				added++
			}
		}
		log.Debug("doctor slots seeded", zap.String("doctor_id", doctorID))
	}
	return added, nil
}

func seedBookings(ctx context.Context, svc *appointment.Service, log *zap.Logger, faker *gofakeit.Faker, doctors []string, patients []patient) (int, int, error) {
	booked, approved := 0, 0
	for _, doctorID := range doctors {
		for _, at := range svc.ListSlots(doctorID) {
			if faker.Float64Range(0, 1) >= bookingRatio {
				continue
			}
			p := patients[faker.Number(0, len(patients)-1)]

			appt, err := svc.Book(ctx, p.ID, doctorID, at)
			if err != nil {
				return booked, approved, err
			}
			booked++
			log.Debug("booked",
				zap.Int64("appointment_id", appt.ID),
				zap.String("patient", p.Name),
				zap.String("doctor_id", doctorID),
				zap.Time("at", at),
			)

			if faker.Float64Range(0, 1) < approveRatio {
				if _, err := svc.Approve(ctx, appt.ID, doctorID); err != nil {
					return booked, approved, err
				}
				approved++
			}
		}
	}
	return booked, approved, nil
}
