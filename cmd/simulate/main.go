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

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/greenloop/pickup-coordinator/internal/db"
)

// The simulator hammers the HTTP API with concurrent claims against a
// shared pool of open requests. Its purpose is to surface double-claim
// defects: for every request, at most one claim may ever succeed
// between two reopenings.

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	RequestLimit int
	PostgresDSN  string
}

type claimTarget struct {
	RequestID uuid.UUID
	OwnerID   uuid.UUID
}

type DataPool struct {
	Targets    []claimTarget
	Collectors []uuid.UUID

	mu           sync.RWMutex
	appointments []uuid.UUID
}

func (dp *DataPool) AddAppointment(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

func (dp *DataPool) GetRandomAppointment() (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return uuid.Nil, false
	}
	return dp.appointments[rand.Intn(len(dp.appointments))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success, conflict bool) {
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

func (om *OperationMetrics) Stats() (avg, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0
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
	idx95 := len(latencies) * 95 / 100
	if idx95 >= len(latencies) {
		idx95 = len(latencies) - 1
	}
	p95 = latencies[idx95]
	return avg, p50, p95
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulate starting")

	cfg := loadSimConfig()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	cancel()
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	dp, err := loadDataPool(context.Background(), pool, cfg.RequestLimit)
	if err != nil {
		log.Fatalf("load data pool: %v", err)
	}
	log.Printf("loaded %d open requests, %d collectors", len(dp.Targets), len(dp.Collectors))
	if len(dp.Targets) == 0 || len(dp.Collectors) == 0 {
		log.Fatal("run cmd/seed first")
	}

	claims := &OperationMetrics{}
	accepts := &OperationMetrics{}

	runCtx, stopRun := context.WithTimeout(context.Background(), cfg.Duration)
	defer stopRun()

	client := &http.Client{Timeout: 10 * time.Second}

	var wg sync.WaitGroup
	for w := 0; w < cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for runCtx.Err() == nil {
				target := dp.Targets[rand.Intn(len(dp.Targets))]
				collector := dp.Collectors[rand.Intn(len(dp.Collectors))]
				doClaim(runCtx, client, cfg.APIBaseURL, dp, claims, target, collector)

				if apptID, ok := dp.GetRandomAppointment(); ok && rand.Float64() < 0.3 {
					doAccept(runCtx, client, cfg.APIBaseURL, accepts, apptID, target.OwnerID)
				}
			}
		}()
	}
	wg.Wait()

	printMetrics("claim", claims)
	printMetrics("accept", accepts)
	log.Println("simulate complete")
}

func loadSimConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:   getenv("API_BASE_URL", "http://127.0.0.1:8080"),
		Duration:     30 * time.Second,
		Workers:      20,
		RequestLimit: 200,
		PostgresDSN:  os.Getenv("POSTGRES_DSN"),
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
	if v := os.Getenv("SIM_REQUEST_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RequestLimit = n
		}
	}
	if cfg.PostgresDSN == "" {
		log.Fatal("POSTGRES_DSN is required")
	}
	return cfg
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, limit int) (*DataPool, error) {
	dp := &DataPool{}

	rows, err := pool.Query(ctx, `
		SELECT id, owner_id FROM requests WHERE status = 'open' LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var t claimTarget
		if err := rows.Scan(&t.RequestID, &t.OwnerID); err != nil {
			return nil, err
		}
		dp.Targets = append(dp.Targets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	crows, err := pool.Query(ctx, `
		SELECT id FROM users WHERE role = 'collector' LIMIT 500
	`)
	if err != nil {
		return nil, err
	}
	defer crows.Close()
	for crows.Next() {
		var id uuid.UUID
		if err := crows.Scan(&id); err != nil {
			return nil, err
		}
		dp.Collectors = append(dp.Collectors, id)
	}
	return dp, crows.Err()
}

func doClaim(ctx context.Context, client *http.Client, baseURL string, dp *DataPool, m *OperationMetrics, target claimTarget, collector uuid.UUID) {
	body, _ := json.Marshal(map[string]string{
		"collector_id": collector.String(),
		"pickup_date":  time.Now().AddDate(0, 0, gofakeit.Number(1, 14)).Format("2006-01-02"),
		"pickup_time":  fmt.Sprintf("%02d:00", gofakeit.Number(8, 18)),
	})

	url := fmt.Sprintf("%s/requests/%s/claims", baseURL, target.RequestID)
	start := time.Now()
	status, respBody := post(ctx, client, url, body)
	latency := time.Since(start)

	m.Record(latency, status == http.StatusCreated, status == http.StatusConflict || status == http.StatusForbidden)

	if status == http.StatusCreated {
		var resp struct {
			ID uuid.UUID `json:"id"`
		}
		if err := json.Unmarshal(respBody, &resp); err == nil && resp.ID != uuid.Nil {
			dp.AddAppointment(resp.ID)
		}
	}
}

func doAccept(ctx context.Context, client *http.Client, baseURL string, m *OperationMetrics, apptID, ownerID uuid.UUID) {
	body, _ := json.Marshal(map[string]string{"user_id": ownerID.String()})

	url := fmt.Sprintf("%s/appointments/%s/accept", baseURL, apptID)
	start := time.Now()
	status, _ := post(ctx, client, url, body)
	m.Record(time.Since(start), status == http.StatusOK, status == http.StatusConflict || status == http.StatusForbidden)
}

func post(ctx context.Context, client *http.Client, url string, body []byte) (int, []byte) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	return resp.StatusCode, data
}

func printMetrics(name string, m *OperationMetrics) {
	avg, p50, p95 := m.Stats()
	log.Printf("%s: total=%d success=%d conflict=%d error=%d avg=%s p50=%s p95=%s",
		name,
		atomic.LoadInt64(&m.Total),
		atomic.LoadInt64(&m.Success),
		atomic.LoadInt64(&m.Conflict),
		atomic.LoadInt64(&m.Error),
		avg, p50, p95,
	)
}
