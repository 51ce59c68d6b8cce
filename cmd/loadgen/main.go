// Load generator for exercising Kestrel with surveillance samples.
//
// Usage:
//
//	go run ./cmd/loadgen -url http://localhost:8080 -samples 5000
//	go run ./cmd/loadgen -csv /path/to/samples.csv
//
// The tool:
//  1. Reads samples from CSV, or synthesizes them around seeded hotspots
//  2. Ingests them in concurrent batches
//  3. Runs each analysis endpoint repeatedly and reports latency and
//     whether the hotspots were found
package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Sample mirrors the API's sample record.
type Sample struct {
	ID          string    `json:"id"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	CollectedAt time.Time `json:"collectedAt"`
	Result      string    `json:"result"`
	LocationID  string    `json:"locationId"`
}

// hotspot is a synthetic area with an elevated positivity rate.
type hotspot struct {
	lat, lon float64
	rate     float64
}

// Stats tracks latency per endpoint.
type Stats struct {
	mu        sync.Mutex
	latencies map[string][]time.Duration
	errors    map[string]int
	cached    map[string]int
}

func newStats() *Stats {
	return &Stats{
		latencies: make(map[string][]time.Duration),
		errors:    make(map[string]int),
		cached:    make(map[string]int),
	}
}

func (s *Stats) record(endpoint string, d time.Duration, cached bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.errors[endpoint]++
		return
	}
	s.latencies[endpoint] = append(s.latencies[endpoint], d)
	if cached {
		s.cached[endpoint]++
	}
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	tenantID := flag.String("tenant", "loadgen", "Tenant ID for requests")
	csvPath := flag.String("csv", "", "CSV of samples (id,latitude,longitude,collected_at,result,location_id)")
	count := flag.Int("samples", 5000, "Synthetic samples to generate when no CSV is given")
	days := flag.Int("days", 60, "Days of synthetic history")
	batch := flag.Int("batch", 500, "Samples per ingest request")
	workers := flag.Int("workers", 8, "Concurrent requests")
	rounds := flag.Int("rounds", 5, "Requests per analysis endpoint")
	seed := flag.Uint64("seed", 1, "Seed for synthetic data")
	flag.Parse()

	fmt.Println("KESTREL LOAD GENERATOR")
	fmt.Printf("\nKestrel URL: %s\n", *baseURL)
	fmt.Printf("Tenant ID:   %s\n", *tenantID)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Println()

	client := &http.Client{Timeout: 60 * time.Second}
	if err := checkHealth(client, *baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		os.Exit(1)
	}
	fmt.Println("Kestrel is healthy")

	now := time.Now().UTC().Truncate(time.Hour)
	var samples []Sample
	var err error
	if *csvPath != "" {
		samples, err = readCSV(*csvPath)
	} else {
		samples = synthesize(*count, *days, now, rand.New(rand.NewPCG(*seed, *seed^0x9e3779b97f4a7c15)))
	}
	if err != nil {
		fmt.Printf("ERROR: failed to load samples: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Loaded %d samples\n", len(samples))

	ctx := context.Background()
	start := time.Now()
	if err := ingest(ctx, client, *baseURL, *tenantID, samples, *batch, *workers); err != nil {
		fmt.Printf("ERROR: ingest failed: %v\n", err)
		os.Exit(1)
	}
	ingestDur := time.Since(start)
	fmt.Printf("Ingested in %v (%.0f samples/sec)\n", ingestDur.Round(time.Millisecond), float64(len(samples))/ingestDur.Seconds())

	stats := newStats()
	clusters := runAnalyses(ctx, client, *baseURL, *tenantID, now, *rounds, *workers, stats)
	printResults(stats, clusters)
}

func checkHealth(client *http.Client, baseURL string) error {
	resp, err := client.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func readCSV(path string) ([]Sample, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	col := make(map[string]int)
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range []string{"id", "latitude", "longitude", "collected_at", "result", "location_id"} {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
	}

	var out []Sample
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		lat, err1 := strconv.ParseFloat(record[col["latitude"]], 64)
		lon, err2 := strconv.ParseFloat(record[col["longitude"]], 64)
		at, err3 := time.Parse(time.RFC3339, record[col["collected_at"]])
		if err := errors.Join(err1, err2, err3); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, Sample{
			ID:          record[col["id"]],
			Latitude:    lat,
			Longitude:   lon,
			CollectedAt: at,
			Result:      strings.ToLower(record[col["result"]]),
			LocationID:  record[col["location_id"]],
		})
	}
	return out, nil
}

// synthesize spreads samples over a grid of traps with three hotspots
// whose positivity rises over the last two weeks.
func synthesize(n, days int, now time.Time, rng *rand.Rand) []Sample {
	hotspots := []hotspot{
		{33.450, -112.070, 0.45},
		{33.520, -111.930, 0.30},
		{33.380, -112.200, 0.25},
	}
	const background = 0.03
	span := time.Duration(days) * 24 * time.Hour

	out := make([]Sample, 0, n)
	for i := range n {
		var lat, lon, rate float64
		var loc string
		if rng.Float64() < 0.4 {
			h := hotspots[rng.IntN(len(hotspots))]
			trap := rng.IntN(4)
			lat = h.lat + float64(trap%2)*0.002
			lon = h.lon + float64(trap/2)*0.002
			rate = h.rate
			loc = fmt.Sprintf("hot-%.3f-%.3f-%d", h.lat, h.lon, trap)
		} else {
			gx, gy := rng.IntN(20), rng.IntN(20)
			lat = 33.2 + float64(gx)*0.03
			lon = -112.4 + float64(gy)*0.03
			rate = background
			loc = fmt.Sprintf("grid-%02d-%02d", gx, gy)
		}
		at := now.Add(-time.Duration(rng.Int64N(int64(span))))
		if now.Sub(at) < 14*24*time.Hour {
			rate *= 1.5
		}
		result := "negative"
		switch p := rng.Float64(); {
		case p < rate:
			result = "positive"
		case p > 0.99:
			result = "inconclusive"
		}
		out = append(out, Sample{
			ID:          fmt.Sprintf("lg-%07d", i),
			Latitude:    lat,
			Longitude:   lon,
			CollectedAt: at,
			Result:      result,
			LocationID:  loc,
		})
	}
	return out
}

func post(ctx context.Context, client *http.Client, url, tenantID string, body any) (*http.Response, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", tenantID)
	return client.Do(req)
}

func ingest(ctx context.Context, client *http.Client, baseURL, tenantID string, samples []Sample, batch, workers int) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for chunk := range slices.Chunk(samples, max(batch, 1)) {
		g.Go(func() error {
			resp, err := post(ctx, client, baseURL+"/samples", tenantID, map[string]any{"samples": chunk})
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusCreated {
				msg, _ := io.ReadAll(resp.Body)
				return fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
			}
			return nil
		})
	}
	return g.Wait()
}

type analysisResponse struct {
	Cached bool            `json:"cached"`
	Result json.RawMessage `json:"result"`
}

// runAnalyses calls every analysis endpoint rounds times and returns the
// number of clusters in the last cluster report.
func runAnalyses(ctx context.Context, client *http.Client, baseURL, tenantID string, now time.Time, rounds, workers int, stats *Stats) int {
	day := 24 * time.Hour
	requests := map[string]any{
		"clusters":  map[string]any{},
		"heatmap":   map[string]any{"metric": "risk_score"},
		"forecast":  map[string]any{"forecastPeriod": 4},
		"dashboard": map[string]any{},
		"outbreak": map[string]any{
			"baselineFrom": now.Add(-42 * day),
			"baselineTo":   now.Add(-14 * day),
			"currentFrom":  now.Add(-14*day + time.Second),
			"currentTo":    now,
		},
	}

	var mu sync.Mutex
	clusters := 0

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for endpoint, body := range requests {
		for range rounds {
			g.Go(func() error {
				start := time.Now()
				resp, err := post(ctx, client, baseURL+"/analysis/"+endpoint, tenantID, body)
				if err != nil {
					stats.record(endpoint, 0, false, err)
					return nil
				}
				defer resp.Body.Close()
				if resp.StatusCode != http.StatusOK {
					stats.record(endpoint, 0, false, fmt.Errorf("status %d", resp.StatusCode))
					return nil
				}
				var out analysisResponse
				err = json.NewDecoder(resp.Body).Decode(&out)
				stats.record(endpoint, time.Since(start), out.Cached, err)

				if endpoint == "clusters" && err == nil {
					var report struct {
						Clusters []json.RawMessage `json:"clusters"`
					}
					if json.Unmarshal(out.Result, &report) == nil {
						mu.Lock()
						clusters = len(report.Clusters)
						mu.Unlock()
					}
				}
				return nil
			})
		}
	}
	_ = g.Wait()
	return clusters
}

func printResults(s *Stats, clusters int) {
	fmt.Println("\nRESULTS")
	fmt.Printf("\n%-10s %6s %6s %6s %10s %10s\n", "endpoint", "ok", "cached", "errors", "p50", "max")

	endpoints := make([]string, 0, len(s.latencies)+len(s.errors))
	for name := range s.latencies {
		endpoints = append(endpoints, name)
	}
	for name := range s.errors {
		if _, ok := s.latencies[name]; !ok {
			endpoints = append(endpoints, name)
		}
	}
	slices.Sort(endpoints)

	for _, name := range endpoints {
		lat := s.latencies[name]
		slices.Sort(lat)
		var p50, worst time.Duration
		if len(lat) > 0 {
			p50 = lat[len(lat)/2]
			worst = lat[len(lat)-1]
		}
		fmt.Printf("%-10s %6d %6d %6d %10v %10v\n", name, len(lat), s.cached[name], s.errors[name],
			p50.Round(time.Microsecond), worst.Round(time.Microsecond))
	}

	fmt.Printf("\nClusters found: %d\n", clusters)
	fmt.Println()
}
