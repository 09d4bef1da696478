// main.go - Performance testing tool for the insightcore API
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"insightcore/internal/eventstore"
)

// PerfConfig holds the configuration for the performance test
type PerfConfig struct {
	BaseURL      string
	TeamID       uint
	Concurrency  int
	Duration     time.Duration
	EventsPerSec int
	BatchSize    int
	Actors       int
	Timeout      time.Duration
}

// Result captures the result of a single request
type Result struct {
	Duration   time.Duration
	StatusCode int
	Err        error
}

// PerfStats accumulates results across workers
type PerfStats struct {
	TotalRequests      int64
	SuccessfulRequests int64
	FailedRequests     int64
	StatusCodes        map[int]int64
	Latencies          []time.Duration
	StartTime          time.Time
	EndTime            time.Time
}

var eventNames = []string{"pageview", "signup", "activate", "purchase", "invite_sent"}

func main() {
	baseURL := flag.String("url", "http://localhost:3000", "Base URL of the API")
	teamID := flag.Uint("team", 1, "Team id to ingest under")
	concurrency := flag.Int("c", 10, "Number of concurrent clients")
	duration := flag.Duration("d", 30*time.Second, "Duration of the test")
	eventsPerSec := flag.Int("rate", 0, "Target ingest requests per second (0 = unlimited)")
	batchSize := flag.Int("batch", 50, "Events per ingest request")
	actors := flag.Int("actors", 1000, "Size of the synthetic actor pool")
	timeout := flag.Duration("timeout", 10*time.Second, "Request timeout")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	cfg := &PerfConfig{
		BaseURL:      *baseURL,
		TeamID:       *teamID,
		Concurrency:  *concurrency,
		Duration:     *duration,
		EventsPerSec: *eventsPerSec,
		BatchSize:    *batchSize,
		Actors:       *actors,
		Timeout:      *timeout,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()
	go func() {
		sig := <-sigChan
		fmt.Printf("Received signal %v, shutting down...\n", sig)
		cancel()
	}()

	fmt.Println("=== insightcore Performance Testing Tool ===")
	fmt.Printf("  URL (-url):         %s\n", cfg.BaseURL)
	fmt.Printf("  Concurrency (-c):   %d clients\n", cfg.Concurrency)
	fmt.Printf("  Duration (-d):      %v\n", cfg.Duration)
	fmt.Printf("  Batch (-batch):     %d events/request\n", cfg.BatchSize)
	if cfg.EventsPerSec > 0 {
		fmt.Printf("  Rate (-rate):       %d requests/second\n", cfg.EventsPerSec)
	} else {
		fmt.Println("  Rate (-rate):       unlimited")
	}
	fmt.Println("============================================")

	stats := &PerfStats{
		StatusCodes: make(map[int]int64),
		StartTime:   time.Now(),
	}
	for result := range runTest(ctx, cfg, logger) {
		stats.TotalRequests++
		if result.Err != nil || result.StatusCode >= 400 {
			stats.FailedRequests++
		} else {
			stats.SuccessfulRequests++
		}
		if result.Err == nil {
			stats.StatusCodes[result.StatusCode]++
		}
		stats.Latencies = append(stats.Latencies, result.Duration)
	}
	stats.EndTime = time.Now()

	printResults(stats)
}

// runTest fans request workers out and streams their results back.
func runTest(ctx context.Context, cfg *PerfConfig, logger *slog.Logger) <-chan Result {
	resultChan := make(chan Result, cfg.Concurrency*10)
	var wg sync.WaitGroup

	var perWorkerInterval time.Duration
	if cfg.EventsPerSec > 0 {
		perWorker := float64(cfg.EventsPerSec) / float64(cfg.Concurrency)
		perWorkerInterval = time.Duration(float64(time.Second) / perWorker)
	}

	for i := 0; i < cfg.Concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			client := &http.Client{Timeout: cfg.Timeout}
			rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

			var ticker *time.Ticker
			if perWorkerInterval > 0 {
				ticker = time.NewTicker(perWorkerInterval)
				defer ticker.Stop()
			}

			for {
				select {
				case <-ctx.Done():
					return
				default:
				}
				if ticker != nil {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
					}
				}
				resultChan <- sendIngestBatch(ctx, client, cfg, rng)
			}
		}(i)
	}

	go func() {
		wg.Wait()
		close(resultChan)
	}()
	return resultChan
}

// sendIngestBatch posts one batch of synthetic events.
func sendIngestBatch(ctx context.Context, client *http.Client, cfg *PerfConfig, rng *rand.Rand) Result {
	events := make([]eventstore.RawEvent, cfg.BatchSize)
	now := time.Now()
	for i := range events {
		events[i] = eventstore.RawEvent{
			ActorID:   fmt.Sprintf("actor-%06d", rng.Intn(cfg.Actors)),
			Name:      eventNames[rng.Intn(len(eventNames))],
			Timestamp: now.Add(-time.Duration(rng.Intn(3600)) * time.Second),
			SessionID: uuid.NewString(),
			Properties: map[string]any{
				"browser": []string{"Chrome", "Firefox", "Safari"}[rng.Intn(3)],
			},
		}
	}
	body, err := json.Marshal(map[string]any{
		"team_id": cfg.TeamID,
		"events":  events,
	})
	if err != nil {
		return Result{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.BaseURL+"/api/v1/ingest", bytes.NewReader(body))
	if err != nil {
		return Result{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		return Result{Duration: elapsed, Err: err}
	}
	defer resp.Body.Close()
	return Result{Duration: elapsed, StatusCode: resp.StatusCode}
}

func printResults(stats *PerfStats) {
	elapsed := stats.EndTime.Sub(stats.StartTime)

	fmt.Println("\n=== Results ===")
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Total requests:\t%d\n", stats.TotalRequests)
	fmt.Fprintf(w, "Successful:\t%d\n", stats.SuccessfulRequests)
	fmt.Fprintf(w, "Failed:\t%d\n", stats.FailedRequests)
	fmt.Fprintf(w, "Elapsed:\t%v\n", elapsed.Round(time.Millisecond))
	if elapsed > 0 {
		fmt.Fprintf(w, "Requests/sec:\t%.1f\n", float64(stats.TotalRequests)/elapsed.Seconds())
	}
	for code, count := range stats.StatusCodes {
		fmt.Fprintf(w, "HTTP %d:\t%d\n", code, count)
	}
	if len(stats.Latencies) > 0 {
		sorted := append([]time.Duration(nil), stats.Latencies...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		fmt.Fprintf(w, "Latency p50:\t%v\n", sorted[len(sorted)/2].Round(time.Microsecond))
		fmt.Fprintf(w, "Latency p95:\t%v\n", sorted[len(sorted)*95/100].Round(time.Microsecond))
		fmt.Fprintf(w, "Latency max:\t%v\n", sorted[len(sorted)-1].Round(time.Microsecond))
	}
	w.Flush()
}
