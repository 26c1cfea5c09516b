// Load generator for exercising a running Shrike instance.
//
// Usage:
//   go run cmd/loadgen/main.go -url http://localhost:8080 -count 10000
//
// This tool:
//   1. Generates synthetic card traffic for a pool of users
//   2. Injects anomalous transactions (large amounts, far-away coordinates,
//      fresh devices) at a configurable rate
//   3. Sends everything to POST /score with concurrent workers
//   4. Reports the decision distribution, anomaly hit rate, and latency
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ScoreRequest mirrors the /score request body.
type ScoreRequest struct {
	ID            string  `json:"id"`
	UserID        string  `json:"userId"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
	Timestamp     string  `json:"timestamp"`
	PaymentMethod string  `json:"paymentMethod"`
	MerchantID    string  `json:"merchantId,omitempty"`
	DeviceID      string  `json:"deviceFingerprint,omitempty"`
	IP            string  `json:"ip,omitempty"`
	Lat           float64 `json:"lat,omitempty"`
	Lon           float64 `json:"lon,omitempty"`
}

// ScoreResponse is the subset of the verdict the generator inspects.
type ScoreResponse struct {
	TxID     string  `json:"txId"`
	Score    float64 `json:"score"`
	Decision string  `json:"decision"`
}

// Metrics tracks generator results.
type Metrics struct {
	Approved int64
	Review   int64
	Blocked  int64
	Errors   int64

	AnomaliesSent    int64
	AnomaliesFlagged int64

	TotalProcessed int64
	LatencyMs      int64
}

// cities used as plausible transaction origins. Anomalies jump between them.
var cities = []struct {
	name     string
	lat, lon float64
}{
	{"new-york", 40.7128, -74.0060},
	{"london", 51.5074, -0.1278},
	{"tokyo", 35.6762, 139.6503},
	{"sydney", -33.8688, 151.2093},
	{"sao-paulo", -23.5505, -46.6333},
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Shrike base URL")
	count := flag.Int("count", 10000, "Total transactions to send")
	users := flag.Int("users", 200, "Size of the synthetic user pool")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	anomalyRate := flag.Float64("anomaly-rate", 0.02, "Fraction of anomalous transactions (0.0-1.0)")
	verbose := flag.Bool("verbose", false, "Print each flagged transaction")
	flag.Parse()

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║              SHRIKE LOADGEN - Synthetic Traffic               ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nShrike URL:   %s\n", *baseURL)
	fmt.Printf("Count:        %d\n", *count)
	fmt.Printf("Users:        %d\n", *users)
	fmt.Printf("Workers:      %d\n", *workers)
	fmt.Printf("Anomaly Rate: %.2f\n", *anomalyRate)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Shrike not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Shrike is running:")
		fmt.Println("  go run cmd/shrike/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Shrike is healthy")

	fmt.Printf("\nSending %d transactions...\n", *count)
	start := time.Now()
	metrics := run(*baseURL, *count, *users, *workers, *anomalyRate, *verbose)
	duration := time.Since(start)

	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func run(baseURL string, count, users, numWorkers int, anomalyRate float64, verbose bool) *Metrics {
	metrics := &Metrics{}

	type item struct {
		req     ScoreRequest
		anomaly bool
	}
	work := make(chan item, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for it := range work {
				start := time.Now()
				result, err := score(client, baseURL, it.req)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.LatencyMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.Errors, 1)
					continue
				}

				switch result.Decision {
				case "approved":
					atomic.AddInt64(&metrics.Approved, 1)
				case "review":
					atomic.AddInt64(&metrics.Review, 1)
				case "blocked":
					atomic.AddInt64(&metrics.Blocked, 1)
				}

				if it.anomaly {
					atomic.AddInt64(&metrics.AnomaliesSent, 1)
					if result.Decision != "approved" {
						atomic.AddInt64(&metrics.AnomaliesFlagged, 1)
					}
					if verbose {
						fmt.Printf("anomaly %s | user %-10s | $%10.2f | %s (%.2f)\n",
							it.req.ID, it.req.UserID, it.req.Amount, result.Decision, result.Score)
					}
				}
			}
		}()
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for i := 0; i < count; i++ {
		userIdx := rng.Intn(users)
		anomaly := rng.Float64() < anomalyRate
		work <- item{req: synthesize(rng, userIdx, anomaly), anomaly: anomaly}
	}
	close(work)

	wg.Wait()
	return metrics
}

// synthesize builds one transaction. Normal traffic keeps each user in a
// stable city with a stable device and modest amounts; anomalies jump city,
// device, and amount at once.
func synthesize(rng *rand.Rand, userIdx int, anomaly bool) ScoreRequest {
	userID := fmt.Sprintf("user-%04d", userIdx)
	city := cities[userIdx%len(cities)]

	req := ScoreRequest{
		ID:            uuid.New().String(),
		UserID:        userID,
		Amount:        10 + rng.Float64()*90,
		Currency:      "USD",
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		PaymentMethod: "card",
		MerchantID:    fmt.Sprintf("merch-%03d", rng.Intn(50)),
		DeviceID:      fmt.Sprintf("%s-device-1", userID),
		IP:            fmt.Sprintf("10.0.%d.%d", userIdx%256, rng.Intn(256)),
		Lat:           city.lat + rng.Float64()*0.05,
		Lon:           city.lon + rng.Float64()*0.05,
	}

	if anomaly {
		far := cities[(userIdx+2)%len(cities)]
		req.Amount = 2000 + rng.Float64()*8000
		req.DeviceID = "burner-" + uuid.New().String()[:8]
		req.IP = fmt.Sprintf("203.0.113.%d", rng.Intn(256))
		req.Lat = far.lat
		req.Lon = far.lon
	}

	return req
}

func score(client *http.Client, baseURL string, req ScoreRequest) (*ScoreResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/score", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result ScoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                       LOADGEN RESULTS                         ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 DECISIONS\n")
	fmt.Printf("   Approved:  %d\n", m.Approved)
	fmt.Printf("   Review:    %d\n", m.Review)
	fmt.Printf("   Blocked:   %d\n", m.Blocked)
	fmt.Printf("   Errors:    %d\n", m.Errors)

	fmt.Printf("\n🔍 ANOMALY DETECTION\n")
	if m.AnomaliesSent > 0 {
		rate := float64(m.AnomaliesFlagged) / float64(m.AnomaliesSent) * 100
		fmt.Printf("   Flagged:   %d / %d (%.2f%%)\n", m.AnomaliesFlagged, m.AnomaliesSent, rate)
	} else {
		fmt.Println("   No anomalies injected")
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.LatencyMs) / float64(m.TotalProcessed)
		tps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f tx/sec\n", tps)
	}
	fmt.Println()
}
