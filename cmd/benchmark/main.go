// Benchmark tool for load-testing Kestrel's routing and execution pipeline.
//
// Usage:
//   go run cmd/benchmark/main.go -url http://localhost:8080 -count 10000
//
// This tool:
//   1. Generates synthetic payment intents across payment types and amounts
//   2. Records a compliance decision for each
//   3. Requests a routing decision and executes it
//   4. Reports rail distribution, settlement rate, fallback usage, and latency
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

// IntentRequest mirrors Kestrel's POST /intents payload.
type IntentRequest struct {
	TransactionID string  `json:"transactionId"`
	PaymentType   string  `json:"paymentType"`
	Sender        Party   `json:"sender"`
	Receiver      Party   `json:"receiver"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
}

type Party struct {
	Name          string `json:"name"`
	AccountNumber string `json:"accountNumber"`
	BankCode      string `json:"bankCode"`
}

// ComplianceRequest mirrors POST /compliance.
type ComplianceRequest struct {
	TransactionID     string  `json:"transactionId"`
	Decision          string  `json:"decision"`
	CompliancePenalty float64 `json:"compliancePenalty"`
	RiskScore         float64 `json:"riskScore"`
}

// RouteResponse is the subset of the routing decision the benchmark reads.
type RouteResponse struct {
	PrimaryRail  string  `json:"primaryRail"`
	PrimaryScore float64 `json:"primaryScore"`
	FallbackRails []struct {
		RailName string `json:"railName"`
	} `json:"fallbackRails"`
}

// ExecuteResponse is the subset of the execution result the benchmark reads.
type ExecuteResponse struct {
	FinalRail    string `json:"finalRail"`
	Status       string `json:"status"`
	AttemptCount int    `json:"attemptCount"`
}

// Metrics tracks benchmark results.
type Metrics struct {
	TotalSubmitted int64
	TotalRouted    int64
	TotalIneligible int64
	TotalSettled   int64
	TotalFailed    int64
	TotalErrors    int64

	FallbacksUsed int64 // executions settled on a non-primary rail

	RouteTimeMs   int64
	ExecuteTimeMs int64

	mu        sync.Mutex
	railCount map[string]int64
}

var paymentTypes = []string{"payroll", "vendor_payment", "loan_disbursement", "refund"}

var banks = []string{"HDFC", "ICIC", "SBIN", "AXIS", "KOTK"}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	count := flag.Int("count", 1000, "Number of intents to generate")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	maxAmount := flag.Float64("max-amount", 500000, "Maximum intent amount")
	seed := flag.Int64("seed", time.Now().UnixNano(), "RNG seed")
	verbose := flag.Bool("verbose", false, "Print each transaction result")
	flag.Parse()

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║            KESTREL BENCHMARK - Routing & Execution            ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nKestrel URL: %s\n", *baseURL)
	fmt.Printf("Intents:     %d\n", *count)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Max Amount:  %.2f\n", *maxAmount)
	fmt.Printf("Seed:        %d\n", *seed)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(*baseURL, *count, *workers, *maxAmount, *seed, *verbose)
	duration := time.Since(startTime)

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

func runBenchmark(baseURL string, count, numWorkers int, maxAmount float64, seed int64, verbose bool) *Metrics {
	metrics := &Metrics{railCount: make(map[string]int64)}

	work := make(chan int, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			client := &http.Client{Timeout: 30 * time.Second}
			rng := rand.New(rand.NewSource(seed + int64(workerID)))

			for range work {
				runOne(client, baseURL, rng, maxAmount, metrics, verbose)
			}
		}(i)
	}

	for i := 0; i < count; i++ {
		work <- i
	}
	close(work)

	wg.Wait()
	return metrics
}

func runOne(client *http.Client, baseURL string, rng *rand.Rand, maxAmount float64, m *Metrics, verbose bool) {
	txID := "bench-" + uuid.New().String()
	amount := 100 + rng.Float64()*(maxAmount-100)

	intent := IntentRequest{
		TransactionID: txID,
		PaymentType:   paymentTypes[rng.Intn(len(paymentTypes))],
		Sender: Party{
			Name:          "Benchmark Sender",
			AccountNumber: fmt.Sprintf("%012d", rng.Int63n(1e12)),
			BankCode:      banks[rng.Intn(len(banks))],
		},
		Receiver: Party{
			Name:          "Benchmark Receiver",
			AccountNumber: fmt.Sprintf("%012d", rng.Int63n(1e12)),
			BankCode:      banks[rng.Intn(len(banks))],
		},
		Amount:   amount,
		Currency: "INR",
	}

	if err := postJSON(client, baseURL+"/intents", intent, nil, http.StatusCreated); err != nil {
		atomic.AddInt64(&m.TotalErrors, 1)
		if verbose {
			fmt.Printf("ERROR: intent %s -> %v\n", txID, err)
		}
		return
	}
	atomic.AddInt64(&m.TotalSubmitted, 1)

	compliance := ComplianceRequest{
		TransactionID:     txID,
		Decision:          "PASS",
		CompliancePenalty: rng.Float64() * 20,
		RiskScore:         rng.Float64() * 40,
	}
	if err := postJSON(client, baseURL+"/compliance", compliance, nil, http.StatusCreated); err != nil {
		atomic.AddInt64(&m.TotalErrors, 1)
		return
	}

	// Route
	routeStart := time.Now()
	var decision RouteResponse
	err := postJSON(client, baseURL+"/routing-decisions", map[string]string{"transactionId": txID}, &decision, http.StatusOK)
	atomic.AddInt64(&m.RouteTimeMs, time.Since(routeStart).Milliseconds())
	if err != nil {
		if err == errUnprocessable {
			atomic.AddInt64(&m.TotalIneligible, 1)
			return
		}
		atomic.AddInt64(&m.TotalErrors, 1)
		return
	}
	atomic.AddInt64(&m.TotalRouted, 1)

	// Execute
	execStart := time.Now()
	var result ExecuteResponse
	err = postJSON(client, baseURL+"/executions", map[string]string{"transactionId": txID}, &result, http.StatusOK)
	atomic.AddInt64(&m.ExecuteTimeMs, time.Since(execStart).Milliseconds())
	if err != nil {
		atomic.AddInt64(&m.TotalErrors, 1)
		return
	}

	if result.Status == "SUCCESS" {
		atomic.AddInt64(&m.TotalSettled, 1)
		if result.FinalRail != decision.PrimaryRail {
			atomic.AddInt64(&m.FallbacksUsed, 1)
		}
		m.mu.Lock()
		m.railCount[result.FinalRail]++
		m.mu.Unlock()
	} else {
		atomic.AddInt64(&m.TotalFailed, 1)
	}

	if verbose {
		fmt.Printf("%s | %-18s | %10.2f | primary %-5s -> final %-5s | %s (%d attempts)\n",
			txID[:13], intent.PaymentType, amount,
			decision.PrimaryRail, result.FinalRail, result.Status, result.AttemptCount)
	}
}

var errUnprocessable = fmt.Errorf("no eligible rails")

func postJSON(client *http.Client, url string, body interface{}, out interface{}, wantStatus int) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	resp, err := client.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnprocessableEntity {
		return errUnprocessable
	}
	if resp.StatusCode != wantStatus {
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 PIPELINE\n")
	fmt.Printf("   Submitted:   %d\n", m.TotalSubmitted)
	fmt.Printf("   Routed:      %d\n", m.TotalRouted)
	fmt.Printf("   Ineligible:  %d\n", m.TotalIneligible)
	fmt.Printf("   Settled:     %d\n", m.TotalSettled)
	fmt.Printf("   Failed:      %d\n", m.TotalFailed)
	fmt.Printf("   Errors:      %d\n", m.TotalErrors)

	if m.TotalRouted > 0 {
		settleRate := float64(m.TotalSettled) / float64(m.TotalRouted) * 100
		fallbackRate := float64(m.FallbacksUsed) / float64(m.TotalRouted) * 100
		fmt.Printf("\n🎯 ROUTING QUALITY\n")
		fmt.Printf("   Settlement Rate:  %.2f%%\n", settleRate)
		fmt.Printf("   Fallback Usage:   %.2f%% (settled off-primary)\n", fallbackRate)
	}

	if len(m.railCount) > 0 {
		fmt.Printf("\n🛤️  RAIL DISTRIBUTION\n")
		for rail, count := range m.railCount {
			fmt.Printf("   %-8s %d\n", rail, count)
		}
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalRouted > 0 {
		fmt.Printf("   Avg Route Time:   %.2f ms\n", float64(m.RouteTimeMs)/float64(m.TotalRouted))
		fmt.Printf("   Avg Execute Time: %.2f ms\n", float64(m.ExecuteTimeMs)/float64(m.TotalRouted))
		fmt.Printf("   Throughput:       %.2f tx/sec\n", float64(m.TotalRouted)/duration.Seconds())
	}
	fmt.Println()
}
