package main

import (
	"bytes"
	"context"
	"encoding/json"
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

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking-engine/internal/config"
	"github.com/hackgods/clinic-booking-engine/internal/db"
	"github.com/hackgods/clinic-booking-engine/pkg/logging"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	BookingRatio float64
	ReplayRatio  float64
	LeadRatio    float64
	ReadRatio    float64
	HotSlots     int
	UserLimit    int
	SlotLimit    int
	PostgresDSN  string
}

type DataPool struct {
	Users []string
	Slots []uuid.UUID

	mu   sync.RWMutex
	keys []string // idempotency keys that were answered
}

func (dp *DataPool) AddKey(key string) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.keys = append(dp.keys, key)
}

func (dp *DataPool) RandomKey(rng *rand.Rand) (string, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.keys) == 0 {
		return "", false
	}
	return dp.keys[rng.Intn(len(dp.keys))], true
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
	switch {
	case success:
		atomic.AddInt64(&om.Success, 1)
	case conflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95, p99 time.Duration) {
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
	pct := func(p int) time.Duration {
		idx := len(latencies) * p / 100
		if idx >= len(latencies) {
			idx = len(latencies) - 1
		}
		return latencies[idx]
	}
	return sum / time.Duration(len(latencies)), pct(50), pct(95), pct(99)
}

type Metrics struct {
	Booking OperationMetrics
	Replay  OperationMetrics
	Lead    OperationMetrics
	Slots   OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	log     zerolog.Logger
}

func main() {
	logger := logging.New(os.Getenv("LOG_LEVEL"), "dev").With().Str("service", "simulate").Logger()

	cfg := loadConfig(logger)
	if err := validateConfig(cfg); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	logger.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Int("hot_slots", cfg.HotSlots).
		Float64("booking", cfg.BookingRatio).
		Float64("replay", cfg.ReplayRatio).
		Float64("lead", cfg.LeadRatio).
		Float64("read", cfg.ReadRatio).
		Msg("simulator starting")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, 2)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("load data pool")
	}
	logger.Info().Int("users", len(dataPool.Users)).Int("slots", len(dataPool.Slots)).Msg("data loaded")

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    logger,
	}

	sim.Run()
	sim.PrintReport()

	if err := verifyNoDoubleBooking(context.Background(), pgPool); err != nil {
		logger.Fatal().Err(err).Msg("invariant violated")
	}
	fmt.Println("invariant check: no slot has more than one appointment")
}

func loadConfig(logger zerolog.Logger) SimConfig {
	baseCfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load base config")
	}

	cfg := SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 20),
		BookingRatio: getFloat("SIM_BOOKING_RATIO", 0.5),
		ReplayRatio:  getFloat("SIM_REPLAY_RATIO", 0.1),
		LeadRatio:    getFloat("SIM_LEAD_RATIO", 0.1),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.3),
		HotSlots:     getInt("SIM_HOT_SLOTS", 5),
		UserLimit:    getInt("SIM_USER_LIMIT", 500),
		SlotLimit:    getInt("SIM_SLOT_LIMIT", 500),
		PostgresDSN:  baseCfg.PostgresDSN,
	}

	total := cfg.BookingRatio + cfg.ReplayRatio + cfg.LeadRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.ReplayRatio /= total
		cfg.LeadRatio /= total
		cfg.ReadRatio /= total
	}
	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required (set in .env or environment)")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	return nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{}

	rows, err := pool.Query(ctx, `
		SELECT user_id FROM patients WHERE user_id IS NOT NULL LIMIT $1
	`, cfg.UserLimit)
	if err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		dataPool.Users = append(dataPool.Users, id)
	}
	rows.Close()

	// Hot slots first: the earliest open slots are the ones everybody wants.
	rows, err = pool.Query(ctx, `
		SELECT id FROM appointment_slots
		WHERE is_available AND slot_date >= current_date
		ORDER BY slot_date, slot_time
		LIMIT $1
	`, cfg.SlotLimit)
	if err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		dataPool.Slots = append(dataPool.Slots, id)
	}
	rows.Close()

	if len(dataPool.Users) == 0 {
		return nil, fmt.Errorf("no patients with user ids loaded; run cmd/seed first")
	}
	if len(dataPool.Slots) == 0 {
		return nil, fmt.Errorf("no open slots loaded")
	}
	return dataPool, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

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
		case r < s.config.BookingRatio+s.config.ReplayRatio:
			s.doReplay(ctx, rng)
		case r < s.config.BookingRatio+s.config.ReplayRatio+s.config.LeadRatio:
			s.doLead(ctx, rng)
		default:
			s.doListSlots(ctx)
		}
	}
}

func (s *Simulator) pickSlot(rng *rand.Rand) uuid.UUID {
	hot := s.config.HotSlots
	if hot > len(s.pool.Slots) || hot <= 0 {
		hot = len(s.pool.Slots)
	}
	// Half the traffic fights over the hot set.
	if rng.Intn(2) == 0 {
		return s.pool.Slots[rng.Intn(hot)]
	}
	return s.pool.Slots[rng.Intn(len(s.pool.Slots))]
}

func (s *Simulator) postBooking(ctx context.Context, key, userID string, slotID uuid.UUID) (int, error) {
	body, _ := json.Marshal(map[string]string{
		"slotId":      slotID.String(),
		"visitReason": "simulated visit",
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+"/bookings", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", userID)
	req.Header.Set("Idempotency-Key", key)

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	key := "sim-" + uuid.NewString()
	userID := s.pool.Users[rng.Intn(len(s.pool.Users))]

	start := time.Now()
	code, err := s.postBooking(ctx, key, userID, s.pickSlot(rng))
	latency := time.Since(start)
	if err != nil {
		if ctx.Err() == nil {
			s.metrics.Booking.Record(latency, false, false)
		}
		return
	}

	s.pool.AddKey(key + "|" + userID)
	s.metrics.Booking.Record(latency, code == http.StatusCreated, code == http.StatusConflict)
}

// doReplay resends an answered key with a random slot; the API must return
// the stored outcome regardless of the new body.
func (s *Simulator) doReplay(ctx context.Context, rng *rand.Rand) {
	entry, ok := s.pool.RandomKey(rng)
	if !ok {
		return
	}
	key, userID, _ := strings.Cut(entry, "|")

	start := time.Now()
	code, err := s.postBooking(ctx, key, userID, s.pickSlot(rng))
	latency := time.Since(start)
	if err != nil {
		return
	}
	s.metrics.Replay.Record(latency, code == http.StatusOK || code == http.StatusNotFound || code == http.StatusConflict, false)
}

var leadReasons = []string{
	"Fever and sore throat for two days",
	"Follow up on blood test results",
	"Persistent cough",
	"Skin rash on both arms",
	"Annual health screening",
}

func (s *Simulator) doLead(ctx context.Context, rng *rand.Rand) {
	body, _ := json.Marshal(map[string]string{
		"name":              gofakeit.Name(),
		"phone":             gofakeit.Numerify("9#######"),
		"reason":            leadReasons[rng.Intn(len(leadReasons))],
		"preferredTime":     gofakeit.WeekDay() + " morning",
		"contactPreference": []string{"whatsapp", "call", "either"}[rng.Intn(3)],
		"idempotencyKey":    "sim-lead-" + uuid.NewString(),
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+"/leads", bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return
	}
	defer resp.Body.Close()
	s.metrics.Lead.Record(latency, resp.StatusCode == http.StatusAccepted, false)
}

func (s *Simulator) doListSlots(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.config.APIBaseURL+"/slots", nil)
	if err != nil {
		return
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return
	}
	defer resp.Body.Close()
	s.metrics.Slots.Record(latency, resp.StatusCode == http.StatusOK, false)
}

func verifyNoDoubleBooking(ctx context.Context, pool *pgxpool.Pool) error {
	var dupes int
	err := pool.QueryRow(ctx, `
		SELECT count(*) FROM (
			SELECT slot_id FROM appointments GROUP BY slot_id HAVING count(*) > 1
		) d
	`).Scan(&dupes)
	if err != nil {
		return err
	}
	if dupes > 0 {
		return fmt.Errorf("%d slots have more than one appointment", dupes)
	}
	return nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Replay", &s.metrics.Replay)
	printOperationReport("Lead", &s.metrics.Lead)
	printOperationReport("List slots", &s.metrics.Slots)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)
	avg, p50, p95, p99 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s p50=%s p95=%s p99=%s\n",
		avg.Round(time.Millisecond), p50.Round(time.Millisecond),
		p95.Round(time.Millisecond), p99.Round(time.Millisecond))
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
