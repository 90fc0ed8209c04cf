package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/auth"
	"github.com/hackgods/clinic-booking/internal/clientsync"
	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/db"
	"github.com/hackgods/clinic-booking/internal/logger"
	"github.com/hackgods/clinic-booking/internal/seeddata"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	Days         int
	BookingRatio float64
	ConfirmRatio float64
	CancelRatio  float64
	ReadRatio    float64
	ActorLimit   int
}

type bookedAppointment struct {
	ID        uuid.UUID
	DoctorID  uuid.UUID
	PatientID uuid.UUID
}

type DataPool struct {
	Doctors  []uuid.UUID
	Patients []uuid.UUID
	sessions map[uuid.UUID]*clientsync.Session

	mu           sync.RWMutex
	appointments []bookedAppointment
}

func (dp *DataPool) AddAppointment(a bookedAppointment) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, a)
}

func (dp *DataPool) GetRandomAppointment(rng *rand.Rand) (bookedAppointment, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return bookedAppointment{}, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Rejected  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

// Record classifies err: lost races count as conflicts, other domain
// rejections as rejected, the rest as errors.
func (om *OperationMetrics) Record(latency time.Duration, err error) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case err == nil:
		atomic.AddInt64(&om.Success, 1)
	case errors.Is(err, appointment.ErrConflict):
		atomic.AddInt64(&om.Conflict, 1)
	case errors.Is(err, appointment.ErrSlotUnavailable), errors.Is(err, appointment.ErrInvalidTransition):
		atomic.AddInt64(&om.Rejected, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[len(latencies)*50/100]
	p95 = latencies[len(latencies)*95/100]
	return avg, min, max, p50, p95
}

type Metrics struct {
	Booking OperationMetrics
	Confirm OperationMetrics
	Cancel  OperationMetrics
	Slots   OperationMetrics
	List    OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	backend *clientsync.HTTPBackend
	hours   appointment.WorkingHours
	metrics Metrics
	log     zerolog.Logger
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		bootLog := logger.New("simulate", "dev", "info")
		bootLog.Fatal().Err(err).Msg("config load error")
	}
	log := logger.New("simulate", baseCfg.Env, baseCfg.LogLevel)

	cfg := loadConfig()
	if err := validateConfig(cfg, baseCfg); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	log.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Float64("booking", cfg.BookingRatio).
		Float64("confirm", cfg.ConfirmRatio).
		Float64("cancel", cfg.CancelRatio).
		Float64("read", cfg.ReadRatio).
		Msg("simulator starting")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, baseCfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pgPool.Close()

	dir, err := seeddata.LoadPostgres(ctx, pgPool, cfg.ActorLimit)
	if err != nil {
		log.Fatal().Err(err).Msg("load directory")
	}

	dataPool, err := buildDataPool(dir, auth.NewTokens(baseCfg.AuthSecret, baseCfg.AuthTokenTTL))
	if err != nil {
		log.Fatal().Err(err).Msg("build data pool")
	}
	log.Info().Int("doctors", len(dataPool.Doctors)).Int("patients", len(dataPool.Patients)).Msg("loaded directory")

	sim := &Simulator{
		config:  cfg,
		pool:    dataPool,
		backend: clientsync.NewHTTPBackend(cfg.APIBaseURL, &http.Client{Timeout: 10 * time.Second}),
		hours:   appointment.DefaultWorkingHours(),
		log:     log,
	}

	sim.Run()
	sim.PrintReport()
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 10),
		Days:         getInt("SIM_DAYS", 5),
		BookingRatio: getFloat("SIM_BOOKING_RATIO", 0.4),
		ConfirmRatio: getFloat("SIM_CONFIRM_RATIO", 0.2),
		CancelRatio:  getFloat("SIM_CANCEL_RATIO", 0.1),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.3),
		ActorLimit:   getInt("SIM_ACTOR_LIMIT", 500),
	}

	total := cfg.BookingRatio + cfg.ConfirmRatio + cfg.CancelRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.ConfirmRatio /= total
		cfg.CancelRatio /= total
		cfg.ReadRatio /= total
	}
	return cfg
}

func validateConfig(cfg SimConfig, base config.Config) error {
	if base.StoreDriver != config.StorePostgres || base.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required (set in .env or environment)")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.Days <= 0 {
		return fmt.Errorf("SIM_DAYS must be > 0")
	}
	return nil
}

func buildDataPool(dir seeddata.Directory, tokens *auth.Tokens) (*DataPool, error) {
	if len(dir.Doctors) == 0 || len(dir.Patients) == 0 {
		return nil, fmt.Errorf("directory is empty, run seed first")
	}

	dp := &DataPool{sessions: make(map[uuid.UUID]*clientsync.Session)}
	open := func(actor appointment.Actor) error {
		token, err := tokens.Issue(actor)
		if err != nil {
			return err
		}
		sess, err := clientsync.Open(actor, token)
		if err != nil {
			return err
		}
		dp.sessions[actor.ID] = sess
		return nil
	}

	for _, d := range dir.Doctors {
		if err := open(appointment.Actor{ID: d.ID, Role: appointment.RoleDoctor}); err != nil {
			return nil, err
		}
		dp.Doctors = append(dp.Doctors, d.ID)
	}
	for _, p := range dir.Patients {
		if err := open(appointment.Actor{ID: p.ID, Role: appointment.RolePatient}); err != nil {
			return nil, err
		}
		dp.Patients = append(dp.Patients, p.ID)
	}
	return dp, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.log.Info().Dur("duration", s.config.Duration).Int("workers", s.config.Workers).Msg("starting simulation")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.log.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for ctx.Err() == nil {
		r := rng.Float64()
		switch {
		case r < s.config.BookingRatio:
			s.doBooking(ctx, rng)
		case r < s.config.BookingRatio+s.config.ConfirmRatio:
			s.doConfirm(ctx, rng)
		case r < s.config.BookingRatio+s.config.ConfirmRatio+s.config.CancelRatio:
			s.doCancel(ctx, rng)
		default:
			if rng.Intn(2) == 0 {
				s.doSlots(ctx, rng)
			} else {
				s.doList(ctx, rng)
			}
		}
	}
}

func (s *Simulator) randomDay(rng *rand.Rand) time.Time {
	today, _ := appointment.DayBounds(time.Now())
	return today.AddDate(0, 0, 1+rng.Intn(s.config.Days))
}

// doBooking picks a template slot without checking availability first, so
// workers contend on popular slots.
func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	doctorID := s.pool.Doctors[rng.Intn(len(s.pool.Doctors))]
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
	starts := s.hours.Starts()
	at := starts[rng.Intn(len(starts))].On(s.randomDay(rng))

	start := time.Now()
	appt, err := s.backend.Book(ctx, s.pool.sessions[patientID], clientsync.BookRequest{
		DoctorID:    doctorID,
		ScheduledAt: at,
	})
	s.metrics.Booking.Record(time.Since(start), ignoreShutdown(ctx, err))

	if err == nil {
		s.pool.AddAppointment(bookedAppointment{ID: appt.ID, DoctorID: appt.DoctorID, PatientID: appt.PatientID})
	}
}

func (s *Simulator) doConfirm(ctx context.Context, rng *rand.Rand) {
	a, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}
	start := time.Now()
	_, err := s.backend.UpdateStatus(ctx, s.pool.sessions[a.DoctorID], a.ID, appointment.StatusConfirmed)
	s.metrics.Confirm.Record(time.Since(start), ignoreShutdown(ctx, err))
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	a, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}
	start := time.Now()
	_, err := s.backend.UpdateStatus(ctx, s.pool.sessions[a.PatientID], a.ID, appointment.StatusCancelled)
	s.metrics.Cancel.Record(time.Since(start), ignoreShutdown(ctx, err))
}

func (s *Simulator) doSlots(ctx context.Context, rng *rand.Rand) {
	doctorID := s.pool.Doctors[rng.Intn(len(s.pool.Doctors))]
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
	start := time.Now()
	_, err := s.backend.Slots(ctx, s.pool.sessions[patientID], doctorID, s.randomDay(rng))
	s.metrics.Slots.Record(time.Since(start), ignoreShutdown(ctx, err))
}

func (s *Simulator) doList(ctx context.Context, rng *rand.Rand) {
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
	start := time.Now()
	_, err := s.backend.List(ctx, s.pool.sessions[patientID], appointment.Filter{})
	s.metrics.List.Record(time.Since(start), ignoreShutdown(ctx, err))
}

// ignoreShutdown keeps requests cut off by the end of the run out of the error count.
func ignoreShutdown(ctx context.Context, err error) error {
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Confirm", &s.metrics.Confirm)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Slots", &s.metrics.Slots)
	printOperationReport("List", &s.metrics.List)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	pct := func(n int64) float64 { return float64(n) / float64(total) * 100 }
	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	rejected := atomic.LoadInt64(&om.Rejected)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, pct(success))
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, pct(conflict))
	}
	if rejected > 0 {
		fmt.Printf("  Rejected: %d (%.1f%%)\n", rejected, pct(rejected))
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, pct(failed))
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
