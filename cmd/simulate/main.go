package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/api"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/logger"
)

type SimConfig struct {
	APIBaseURL  string
	Doctors     int
	SlotsPerDoc int
	Contenders  int
	MaxRetries  int
	Clinic      config.ClinicHours
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95, max time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	avg = sum / time.Duration(len(latencies))
	p50 = latencies[len(latencies)*50/100]
	p95 = latencies[min(len(latencies)*95/100, len(latencies)-1)]
	max = latencies[len(latencies)-1]
	return avg, p50, p95, max
}

type slotKey struct {
	DoctorID string
	At       time.Time
}

// slotResult counts the outcome of every contender for one slot.
type slotResult struct {
	Winners   []int64
	Conflicts int
	Errors    int
}

type Simulator struct {
	config  SimConfig
	client  *http.Client
	log     *zap.Logger
	faker   *gofakeit.Faker
	runID   string
	booking OperationMetrics
	cancel  OperationMetrics
}

func main() {
	base, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("config load error", zap.Error(err))
	}

	log := logger.Must(base.Env, base.LogLevel)
	defer func() { _ = log.Sync() }()

	cfg := SimConfig{
		APIBaseURL:  getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Doctors:     getInt("SIM_DOCTORS", 5),
		SlotsPerDoc: getInt("SIM_SLOTS_PER_DOCTOR", 4),
		Contenders:  getInt("SIM_CONTENDERS", 20),
		MaxRetries:  getInt("SIM_MAX_RETRIES", 5),
		Clinic:      base.Clinic,
	}
	if cfg.Doctors <= 0 || cfg.SlotsPerDoc <= 0 || cfg.Contenders <= 0 {
		log.Fatal("SIM_DOCTORS, SIM_SLOTS_PER_DOCTOR and SIM_CONTENDERS must be > 0")
	}
	if cfg.SlotsPerDoc > cfg.Clinic.CloseHour-cfg.Clinic.OpenHour {
		log.Fatal("SIM_SLOTS_PER_DOCTOR exceeds the clinic's opening hours")
	}

	sim := &Simulator{
		config: cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
		faker:  gofakeit.New(0),
		runID:  uuid.NewString()[:8],
	}

	log.Info("simulator starting",
		zap.String("api", cfg.APIBaseURL),
		zap.String("run_id", sim.runID),
		zap.Int("doctors", cfg.Doctors),
		zap.Int("slots_per_doctor", cfg.SlotsPerDoc),
		zap.Int("contenders", cfg.Contenders),
	)

	ctx := context.Background()

	slots, err := sim.createSlots(ctx)
	if err != nil {
		log.Fatal("create slots", zap.Error(err))
	}

	first := sim.race(ctx, slots)
	sim.cancelWinners(ctx, first)
	second := sim.race(ctx, slots)

	violations := sim.verify(ctx, slots)
	sim.printReport(first, second, violations)

	if violations > 0 {
		_ = log.Sync()
		os.Exit(1)
	}
}

func (s *Simulator) createSlots(ctx context.Context) ([]slotKey, error) {
	day := time.Now().In(s.config.Clinic.Location).AddDate(0, 0, 1)

	var slots []slotKey
	for d := 0; d < s.config.Doctors; d++ {
		doctorID := fmt.Sprintf("sim-%s-dr-%d", s.runID, d)
		for h := 0; h < s.config.SlotsPerDoc; h++ {
			at := time.Date(day.Year(), day.Month(), day.Day(), s.config.Clinic.OpenHour+h, 0, 0, 0, day.Location())
			body := api.SlotRequest{At: at}
			status, _, err := s.call(ctx, http.MethodPost, "/doctors/"+url.PathEscape(doctorID)+"/slots", "staff", "sim-staff", body)
			if err != nil {
				return nil, err
			}
			if status != http.StatusCreated {
				return nil, fmt.Errorf("add slot %s %s: status %d", doctorID, at.Format(time.RFC3339), status)
			}
			slots = append(slots, slotKey{DoctorID: doctorID, At: at})
		}
	}
	s.log.Info("slots created", zap.Int("count", len(slots)))
	return slots, nil
}

// race releases every contender for a slot at once and records who won.
func (s *Simulator) race(ctx context.Context, slots []slotKey) map[slotKey]*slotResult {
	results := make(map[slotKey]*slotResult, len(slots))
	var mu sync.Mutex

	for _, slot := range slots {
		res := &slotResult{}
		results[slot] = res

		startGate := make(chan struct{})
		var wg sync.WaitGroup
		for i := 0; i < s.config.Contenders; i++ {
			patientID := "sim-pt-" + strings.ToLower(s.faker.Username()) + "-" + strconv.Itoa(i)
			wg.Add(1)
			go func(patientID string, seed int64) {
				defer wg.Done()
				<-startGate
				id, won, conflict := s.book(ctx, patientID, slot, rand.New(rand.NewSource(seed)))

				mu.Lock()
				defer mu.Unlock()
				switch {
				case won:
					res.Winners = append(res.Winners, id)
				case conflict:
					res.Conflicts++
				default:
					res.Errors++
				}
			}(patientID, time.Now().UnixNano()+int64(i))
		}
		close(startGate)
		wg.Wait()
	}
	return results
}

// book retries while the schedule lock is busy and gives up on any other
// rejection.
func (s *Simulator) book(ctx context.Context, patientID string, slot slotKey, rng *rand.Rand) (int64, bool, bool) {
	req := api.CreateAppointmentRequest{DoctorID: slot.DoctorID, At: slot.At}

	for attempt := 0; ; attempt++ {
		start := time.Now()
		status, body, err := s.call(ctx, http.MethodPost, "/appointments", "patient", patientID, req)
		latency := time.Since(start)

		if err != nil {
			s.booking.Record(latency, false, false)
			return 0, false, false
		}

		switch status {
		case http.StatusCreated:
			s.booking.Record(latency, true, false)
			var appt api.AppointmentResponse
			if err := json.Unmarshal(body, &appt); err != nil {
				return 0, true, false
			}
			return appt.ID, true, false
		case http.StatusConflict:
			s.booking.Record(latency, false, true)
			var apiErr api.ErrorResponse
			_ = json.Unmarshal(body, &apiErr)
			if apiErr.Error == "schedule_busy" && attempt < s.config.MaxRetries {
				time.Sleep(time.Duration(5+rng.Intn(20)) * time.Millisecond)
				continue
			}
			return 0, false, true
		default:
			s.booking.Record(latency, false, false)
			return 0, false, false
		}
	}
}

func (s *Simulator) cancelWinners(ctx context.Context, results map[slotKey]*slotResult) {
	for _, res := range results {
		for _, id := range res.Winners {
			start := time.Now()
			status, _, err := s.call(ctx, http.MethodPost, "/appointments/"+strconv.FormatInt(id, 10)+"/cancel", "staff", "sim-staff", api.CancelRequest{})
			s.cancel.Record(time.Since(start), err == nil && status == http.StatusOK, status == http.StatusConflict)
		}
	}
}

// verify reads back every doctor's appointments and counts slots held by
// more than one live appointment.
func (s *Simulator) verify(ctx context.Context, slots []slotKey) int {
	doctors := map[string]bool{}
	for _, slot := range slots {
		doctors[slot.DoctorID] = true
	}

	violations := 0
	for doctorID := range doctors {
		status, body, err := s.call(ctx, http.MethodGet, "/appointments?doctor_id="+url.QueryEscape(doctorID), "staff", "sim-staff", nil)
		if err != nil || status != http.StatusOK {
			s.log.Error("verify: list appointments failed", zap.String("doctor_id", doctorID), zap.Int("status", status), zap.Error(err))
			violations++
			continue
		}

		var list api.AppointmentListResponse
		if err := json.Unmarshal(body, &list); err != nil {
			s.log.Error("verify: decode failed", zap.Error(err))
			violations++
			continue
		}

		live := map[int64]int{}
		for _, a := range list.Appointments {
			if a.Status == "cancelled" {
				continue
			}
			live[a.ScheduledAt.Unix()]++
		}
		for at, n := range live {
			if n > 1 {
				s.log.Error("slot booked more than once",
					zap.String("doctor_id", doctorID),
					zap.Time("at", time.Unix(at, 0)),
					zap.Int("appointments", n),
				)
				violations++
			}
		}
	}
	return violations
}

func (s *Simulator) call(ctx context.Context, method, path, role, actorID string, body any) (int, []byte, error) {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-Role", role)
	req.Header.Set("X-Actor-ID", actorID)

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, buf.Bytes(), nil
}

func (s *Simulator) printReport(first, second map[slotKey]*slotResult, violations int) {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Run: %s  Slots: %d  Contenders per slot: %d\n\n", s.runID, len(first), s.config.Contenders)

	printRound("Round 1 (fresh slots)", first)
	printRound("Round 2 (after cancelling round 1 winners)", second)

	printOperationReport("Booking requests", &s.booking)
	printOperationReport("Cancellations", &s.cancel)

	if violations > 0 {
		fmt.Printf("FAILED: %d slot(s) booked more than once\n", violations)
		return
	}
	fmt.Println("OK: no slot was booked more than once")
}

func printRound(name string, results map[slotKey]*slotResult) {
	won, unclaimed, doubled, conflicts, errs := 0, 0, 0, 0, 0
	for _, r := range results {
		switch len(r.Winners) {
		case 0:
			unclaimed++
		case 1:
			won++
		default:
			doubled++
		}
		conflicts += r.Conflicts
		errs += r.Errors
	}
	fmt.Printf("%s:\n", name)
	fmt.Printf("  Slots won: %d  Unclaimed: %d  Double wins: %d\n", won, unclaimed, doubled)
	fmt.Printf("  Conflicts: %d  Errors: %d\n\n", conflicts, errs)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)
	avg, p50, p95, max := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d  Success: %d  Conflicts: %d  Errors: %d\n", total, success, conflict, failed)
	fmt.Printf("  Latency: avg=%s p50=%s p95=%s max=%s\n\n",
		avg.Round(time.Millisecond), p50.Round(time.Millisecond), p95.Round(time.Millisecond), max.Round(time.Millisecond))
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
