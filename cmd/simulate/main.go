package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
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
	"github.com/joho/godotenv"
)

type SimConfig struct {
	APIBaseURL    string
	Duration      time.Duration
	Workers       int
	Citizens      int
	BookingRatio  float64
	DecideRatio   float64
	ReadRatio     float64
	AdminEmail    string
	AdminPassword string
}

type openSlot struct {
	DoctorID uuid.UUID
	Datetime time.Time
}

func (s openSlot) key() string {
	return s.DoctorID.String() + "@" + s.Datetime.UTC().Format(time.RFC3339)
}

type DataPool struct {
	Citizens []string // bearer tokens
	Slots    []openSlot
	Admin    string

	mu           sync.Mutex
	appointments []uuid.UUID
	booked       map[string]int // successful bookings per slot
}

func (dp *DataPool) AddAppointment(id uuid.UUID, s openSlot) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
	dp.booked[s.key()]++
}

func (dp *DataPool) GetRandomAppointment(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.appointments) == 0 {
		return uuid.Nil, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

// DoubleBooked lists slots that more than one request claimed.
func (dp *DataPool) DoubleBooked() []string {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	var out []string
	for k, n := range dp.booked {
		if n > 1 {
			out = append(out, fmt.Sprintf("%s (%d)", k, n))
		}
	}
	sort.Strings(out)
	return out
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

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[percentileIndex(len(latencies), 50)]
	p95 = latencies[percentileIndex(len(latencies), 95)]
	return avg, min, max, p50, p95
}

func percentileIndex(n, p int) int {
	idx := n * p / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

type Metrics struct {
	Booking   OperationMetrics
	Decide    OperationMetrics
	ListMine  OperationMetrics
	Directory OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	log.Printf("config: duration=%s workers=%d citizens=%d booking=%.2f decide=%.2f read=%.2f",
		cfg.Duration, cfg.Workers, cfg.Citizens, cfg.BookingRatio, cfg.DecideRatio, cfg.ReadRatio)

	sim := &Simulator{
		config: cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := sim.prepare(ctx)
	if err != nil {
		log.Fatalf("prepare: %v", err)
	}
	sim.pool = pool
	log.Printf("prepared: %d citizens, %d open slots", len(pool.Citizens), len(pool.Slots))

	sim.Run()
	sim.PrintReport()
}

func loadConfig() SimConfig {
	_ = godotenv.Load()

	cfg := SimConfig{
		APIBaseURL:    strings.TrimRight(getEnv("SIM_API_BASE_URL", "http://localhost:8080"), "/"),
		Duration:      getDuration("SIM_DURATION", 30*time.Second),
		Workers:       getInt("SIM_WORKERS", 10),
		Citizens:      getInt("SIM_CITIZENS", 50),
		BookingRatio:  getFloat("SIM_BOOKING_RATIO", 0.5),
		DecideRatio:   getFloat("SIM_DECIDE_RATIO", 0.2),
		ReadRatio:     getFloat("SIM_READ_RATIO", 0.3),
		AdminEmail:    getEnv("ADMIN_EMAIL", "admin@localhost"),
		AdminPassword: os.Getenv("ADMIN_PASSWORD"),
	}

	// Normalize ratios
	total := cfg.BookingRatio + cfg.DecideRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.DecideRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.AdminPassword == "" {
		return fmt.Errorf("ADMIN_PASSWORD is required (set in .env or environment)")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Citizens <= 0 {
		return fmt.Errorf("SIM_CITIZENS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	return nil
}

// prepare registers throwaway citizens, logs the admin in and loads the open
// slot directory.
func (s *Simulator) prepare(ctx context.Context) (*DataPool, error) {
	pool := &DataPool{booked: make(map[string]int)}

	var login struct {
		Token string `json:"token"`
	}
	status, err := s.call(ctx, http.MethodPost, "/api/admin/login", "", map[string]string{
		"email":    s.config.AdminEmail,
		"password": s.config.AdminPassword,
	}, &login)
	if err != nil {
		return nil, fmt.Errorf("admin login: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("admin login: status %d", status)
	}
	pool.Admin = login.Token

	run := uuid.NewString()[:8]
	for i := 0; i < s.config.Citizens; i++ {
		status, err := s.call(ctx, http.MethodPost, "/api/citizen/register", "", map[string]string{
			"name":     fmt.Sprintf("Sim Citizen %d", i),
			"email":    fmt.Sprintf("sim-%s-%d@example.com", run, i),
			"password": "sim-password",
		}, &login)
		if err != nil {
			return nil, fmt.Errorf("register citizen %d: %w", i, err)
		}
		if status != http.StatusCreated {
			return nil, fmt.Errorf("register citizen %d: status %d", i, status)
		}
		pool.Citizens = append(pool.Citizens, login.Token)
	}

	var doctors []struct {
		ID    uuid.UUID `json:"id"`
		Slots []struct {
			Datetime time.Time `json:"datetime"`
		} `json:"slots"`
	}
	if _, err := s.call(ctx, http.MethodGet, "/api/doctors", "", nil, &doctors); err != nil {
		return nil, fmt.Errorf("load directory: %w", err)
	}
	for _, d := range doctors {
		for _, sl := range d.Slots {
			pool.Slots = append(pool.Slots, openSlot{DoctorID: d.ID, Datetime: sl.Datetime})
		}
	}
	if len(pool.Slots) == 0 {
		return nil, fmt.Errorf("no open slots, run the seeder first")
	}

	return pool, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	log.Printf("starting simulation for %s with %d workers", s.config.Duration, s.config.Workers)

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	log.Println("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < s.config.BookingRatio:
				s.doBooking(ctx, rng)
			case r < s.config.BookingRatio+s.config.DecideRatio:
				s.doDecide(ctx, rng)
			case rng.Intn(2) == 0:
				s.doListMine(ctx, rng)
			default:
				s.doDirectory(ctx)
			}
		}
	}
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	slot := s.pool.Slots[rng.Intn(len(s.pool.Slots))]
	token := s.pool.Citizens[rng.Intn(len(s.pool.Citizens))]

	var appt struct {
		ID uuid.UUID `json:"id"`
	}
	start := time.Now()
	status, err := s.call(ctx, http.MethodPost, "/api/citizen/appointments", token, map[string]string{
		"doctor_id": slot.DoctorID.String(),
		"datetime":  slot.Datetime.UTC().Format(time.RFC3339),
		"reason":    "load test",
	}, &appt)
	latency := time.Since(start)

	success := err == nil && status == http.StatusCreated
	if success && appt.ID != uuid.Nil {
		s.pool.AddAppointment(appt.ID, slot)
	}
	s.metrics.Booking.Record(latency, success, err == nil && status == http.StatusConflict)
}

// doDecide approves or rejects a random appointment. Most picks are already
// final, so conflicts are expected.
func (s *Simulator) doDecide(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}

	action := "approve"
	var body any
	if rng.Intn(4) == 0 {
		action = "reject"
		body = map[string]string{"reason": "simulated rejection"}
	}

	start := time.Now()
	status, err := s.call(ctx, http.MethodPost, "/api/admin/appointments/"+id.String()+"/"+action, s.pool.Admin, body, nil)
	latency := time.Since(start)

	s.metrics.Decide.Record(latency, err == nil && status == http.StatusOK, err == nil && status == http.StatusConflict)
}

func (s *Simulator) doListMine(ctx context.Context, rng *rand.Rand) {
	token := s.pool.Citizens[rng.Intn(len(s.pool.Citizens))]

	start := time.Now()
	status, err := s.call(ctx, http.MethodGet, "/api/citizen/appointments", token, nil, nil)
	s.metrics.ListMine.Record(time.Since(start), err == nil && status == http.StatusOK, false)
}

func (s *Simulator) doDirectory(ctx context.Context) {
	start := time.Now()
	status, err := s.call(ctx, http.MethodGet, "/api/doctors", "", nil, nil)
	s.metrics.Directory.Record(time.Since(start), err == nil && status == http.StatusOK, false)
}

// call sends body as JSON and decodes a 2xx response into out when set.
func (s *Simulator) call(ctx context.Context, method, path, token string, body, out any) (int, error) {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, rdr)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
		return resp.StatusCode, nil
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Open slots at start: %d\n", len(s.pool.Slots))
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Approve/Reject", &s.metrics.Decide)
	printOperationReport("List own appointments", &s.metrics.ListMine)
	printOperationReport("Doctor directory", &s.metrics.Directory)

	if dup := s.pool.DoubleBooked(); len(dup) > 0 {
		fmt.Printf("DOUBLE BOOKED SLOTS: %d\n", len(dup))
		for _, k := range dup {
			fmt.Printf("  %s\n", k)
		}
		os.Exit(1)
	}
	fmt.Println("No slot was booked twice.")
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
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
