// simulate hammers the booking API with concurrent requests aimed at a small
// set of slots, then verifies against the database that no slot ended up with
// more than one active appointment.
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
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medagenda/clinic-scheduling/internal/db"
)

type SimConfig struct {
	APIBaseURL  string
	Duration    time.Duration
	Workers     int
	PostgresDSN string
	TargetDate  string // date the workers fight over
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Rejected  int64
	Error     int64
	mu        sync.Mutex
	latencies []time.Duration
}

func (om *OperationMetrics) Record(latency time.Duration, status int) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case status == http.StatusCreated || status == http.StatusOK:
		atomic.AddInt64(&om.Success, 1)
	case status == http.StatusConflict:
		atomic.AddInt64(&om.Conflict, 1)
	case status >= 400 && status < 500:
		atomic.AddInt64(&om.Rejected, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.latencies = append(om.latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) P95() time.Duration {
	om.mu.Lock()
	defer om.mu.Unlock()
	if len(om.latencies) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(om.latencies))
	copy(sorted, om.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := len(sorted) * 95 / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	cfg := loadConfig()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := db.Connect(ctx, cfg.PostgresDSN)
	cancel()
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	patients, err := loadIDs(pool, `SELECT id FROM patients WHERE NOT blocked LIMIT 500`)
	if err != nil {
		log.Fatalf("load patients: %v", err)
	}
	providers, err := loadIDs(pool, `SELECT id FROM providers LIMIT 5`)
	if err != nil {
		log.Fatalf("load providers: %v", err)
	}
	if len(patients) == 0 || len(providers) == 0 {
		log.Fatal("no patients or providers; run the seed binary first")
	}

	log.Printf("running %d workers for %s against %d providers on %s",
		cfg.Workers, cfg.Duration, len(providers), cfg.TargetDate)

	var metrics OperationMetrics
	client := &http.Client{Timeout: 10 * time.Second}

	runCtx, stop := context.WithTimeout(context.Background(), cfg.Duration)
	defer stop()

	var wg sync.WaitGroup
	for w := 0; w < cfg.Workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for runCtx.Err() == nil {
				bookOnce(runCtx, client, cfg, rng, patients, providers, &metrics)
			}
		}(time.Now().UnixNano() + int64(w))
	}
	wg.Wait()

	log.Printf("bookings: total=%d success=%d conflict=%d rejected=%d error=%d p95=%s",
		metrics.Total, metrics.Success, metrics.Conflict, metrics.Rejected, metrics.Error, metrics.P95())

	if err := verifyNoDoubleBooking(pool); err != nil {
		log.Fatalf("VERIFICATION FAILED: %v", err)
	}
	log.Println("verification passed: no slot holds more than one active appointment")
}

func bookOnce(ctx context.Context, client *http.Client, cfg SimConfig, rng *rand.Rand, patients, providers []uuid.UUID, metrics *OperationMetrics) {
	// A deliberately narrow slot range so workers collide.
	hour := 9 + rng.Intn(3)
	minute := 30 * rng.Intn(2)

	body, _ := json.Marshal(map[string]any{
		"patient_id":  patients[rng.Intn(len(patients))].String(),
		"provider_id": providers[rng.Intn(len(providers))].String(),
		"date":        cfg.TargetDate,
		"time":        fmt.Sprintf("%02d:%02d", hour, minute),
		"reason":      "load test",
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.APIBaseURL+"/appointments", bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			metrics.Record(time.Since(start), 0)
		}
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	metrics.Record(time.Since(start), resp.StatusCode)
}

func verifyNoDoubleBooking(pool *pgxpool.Pool) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var violations int
	err := pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM (
			SELECT provider_id, date, start_minute
			FROM appointments
			WHERE status IN ('scheduled', 'confirmed')
			GROUP BY provider_id, date, start_minute
			HAVING COUNT(*) > 1
		) dupes
	`).Scan(&violations)
	if err != nil {
		return fmt.Errorf("query duplicates: %w", err)
	}
	if violations > 0 {
		return fmt.Errorf("%d slots hold more than one active appointment", violations)
	}
	return nil
}

func loadIDs(pool *pgxpool.Pool, query string) ([]uuid.UUID, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rows, err := pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:  getEnv("SIM_API_URL", "http://localhost:8080"),
		Duration:    30 * time.Second,
		Workers:     50,
		PostgresDSN: os.Getenv("POSTGRES_DSN"),
		TargetDate:  getEnv("SIM_TARGET_DATE", time.Now().AddDate(0, 0, 7).Format("2006-01-02")),
	}

	if v := os.Getenv("SIM_DURATION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Duration = d
		}
	}
	if v := os.Getenv("SIM_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Workers = n
		}
	}
	if cfg.PostgresDSN == "" {
		log.Fatal("POSTGRES_DSN is required")
	}
	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
