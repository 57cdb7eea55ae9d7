//go:build integration
// +build integration

// Package integration provides end-to-end tests for the Kestrel routing engine.
//
// These tests exercise the COMPLETE pipeline against a running server:
//
//	Intent → Compliance → Routing Decision → Execution
//
// Run with: go test -tags=integration -v ./tests/integration/...
//
// The server must be running (go run cmd/kestrel/main.go) and should have
// the standard rails seeded via POST /rails before the tests run; each test
// creates the rails it needs if they are missing.
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"
)

func baseURL() string {
	if url := os.Getenv("KESTREL_TEST_URL"); url != "" {
		return url
	}
	return "http://localhost:8080"
}

// ============================================================================
// API Request/Response Types (matching Kestrel's API contract)
// ============================================================================

type Party struct {
	Name          string `json:"name"`
	AccountNumber string `json:"accountNumber"`
	BankCode      string `json:"bankCode"`
}

type IntentRequest struct {
	TransactionID string  `json:"transactionId"`
	PaymentType   string  `json:"paymentType"`
	Sender        Party   `json:"sender"`
	Receiver      Party   `json:"receiver"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
}

type ComplianceRequest struct {
	TransactionID     string  `json:"transactionId"`
	Decision          string  `json:"decision"`
	CompliancePenalty float64 `json:"compliancePenalty"`
	RiskScore         float64 `json:"riskScore"`
}

type RouteRequest struct {
	TransactionID string `json:"transactionId"`
	Force         bool   `json:"force,omitempty"`
}

type RoutingDecision struct {
	ID            string  `json:"id"`
	TransactionID string  `json:"transactionId"`
	PrimaryRail   string  `json:"primaryRail"`
	PrimaryScore  float64 `json:"primaryScore"`
	FallbackRails []struct {
		RailName string  `json:"railName"`
		Score    float64 `json:"score"`
	} `json:"fallbackRails"`
	Breakdown []struct {
		RailName   string   `json:"railName"`
		Score      float64  `json:"score"`
		TopFactors []string `json:"topFactors"`
	} `json:"breakdown"`
	ExecutionStatus string `json:"executionStatus"`
}

type ExecuteRequest struct {
	TransactionID string `json:"transactionId"`
	ForceRail     string `json:"forceRail,omitempty"`
}

type ExecutionResult struct {
	TransactionID string `json:"transactionId"`
	FinalRail     string `json:"finalRail"`
	Status        string `json:"status"`
	UTR           string `json:"utr"`
	AttemptCount  int    `json:"attemptCount"`
}

type RailConfig struct {
	Name            string `json:"name"`
	Type            string `json:"type"`
	Active          bool   `json:"active"`
	MinAmount       float64 `json:"minAmount"`
	MaxAmount       float64 `json:"maxAmount"`
	DailyLimit      float64 `json:"dailyLimit"`
	RemainingAmount float64 `json:"remainingAmount"`
	CostBps         float64 `json:"costBps"`
	AvgETA          int64   `json:"avgEta"`
}

// ============================================================================
// Test Helper Functions
// ============================================================================

func postJSON(t *testing.T, path string, body interface{}, out interface{}) int {
	t.Helper()

	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("Failed to marshal request: %v", err)
	}

	resp, err := (&http.Client{Timeout: 30 * time.Second}).Post(
		baseURL()+path, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Request to %s failed: %v", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	if out != nil && resp.StatusCode < 300 {
		if err := json.Unmarshal(respBody, out); err != nil {
			t.Fatalf("Failed to parse response from %s: %v\nbody: %s", path, err, respBody)
		}
	}
	return resp.StatusCode
}

func getJSON(t *testing.T, path string, out interface{}) int {
	t.Helper()

	resp, err := (&http.Client{Timeout: 10 * time.Second}).Get(baseURL() + path)
	if err != nil {
		t.Fatalf("Request to %s failed: %v", path, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if out != nil && resp.StatusCode < 300 {
		if err := json.Unmarshal(respBody, out); err != nil {
			t.Fatalf("Failed to parse response from %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

// seedRails ensures the standard rail set exists.
func seedRails(t *testing.T) {
	t.Helper()

	rails := []RailConfig{
		{Name: "UPI", Type: "INSTANT", Active: true, MinAmount: 1, MaxAmount: 200_000, DailyLimit: 50_000_000, CostBps: 0.5, AvgETA: int64(5 * time.Second)},
		{Name: "IMPS", Type: "INSTANT", Active: true, MinAmount: 1, MaxAmount: 500_000, DailyLimit: 100_000_000, CostBps: 2.5, AvgETA: int64(30 * time.Second)},
		{Name: "NEFT", Type: "BATCH", Active: true, MinAmount: 1, MaxAmount: 10_000_000, DailyLimit: 500_000_000, CostBps: 1.0, AvgETA: int64(2 * time.Hour)},
	}
	for _, rail := range rails {
		if code := postJSON(t, "/rails", rail, nil); code != http.StatusCreated {
			t.Fatalf("Failed to seed rail %s: status %d", rail.Name, code)
		}
	}
}

func submitIntent(t *testing.T, txID string, amount float64) {
	t.Helper()

	code := postJSON(t, "/intents", IntentRequest{
		TransactionID: txID,
		PaymentType:   "payroll",
		Sender:        Party{Name: "Acme Corp", AccountNumber: "000111222333", BankCode: "HDFC"},
		Receiver:      Party{Name: "Jane Doe", AccountNumber: "999888777666", BankCode: "ICIC"},
		Amount:        amount,
		Currency:      "INR",
	}, nil)
	if code != http.StatusCreated {
		t.Fatalf("Intent submit failed: status %d", code)
	}

	code = postJSON(t, "/compliance", ComplianceRequest{
		TransactionID: txID,
		Decision:      "PASS",
		RiskScore:     10,
	}, nil)
	if code != http.StatusCreated {
		t.Fatalf("Compliance record failed: status %d", code)
	}
}

func txID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

// ============================================================================
// Tests
// ============================================================================

func TestHealthCheck(t *testing.T) {
	var health map[string]string
	if code := getJSON(t, "/health", &health); code != http.StatusOK {
		t.Fatalf("Health check failed: status %d (is Kestrel running?)", code)
	}
	if health["status"] != "healthy" {
		t.Errorf("Expected healthy, got %s", health["status"])
	}
}

func TestFullPipeline_IntentToSettlement(t *testing.T) {
	seedRails(t)
	id := txID("itest-pipeline")

	submitIntent(t, id, 50_000)

	var decision RoutingDecision
	if code := postJSON(t, "/routing-decisions", RouteRequest{TransactionID: id}, &decision); code != http.StatusOK {
		t.Fatalf("Routing failed: status %d", code)
	}
	if decision.PrimaryRail == "" {
		t.Fatal("Expected a primary rail")
	}
	if len(decision.FallbackRails) == 0 {
		t.Error("Expected fallback rails for a 50k payroll intent")
	}
	for _, b := range decision.Breakdown {
		if len(b.TopFactors) != 3 {
			t.Errorf("Rail %s: expected 3 top factors, got %d", b.RailName, len(b.TopFactors))
		}
	}

	var result ExecutionResult
	if code := postJSON(t, "/executions", ExecuteRequest{TransactionID: id}, &result); code != http.StatusOK {
		t.Fatalf("Execution failed: status %d", code)
	}
	if result.Status != "SUCCESS" {
		t.Fatalf("Expected SUCCESS, got %s (attempts: %d)", result.Status, result.AttemptCount)
	}
	if result.UTR == "" {
		t.Error("Expected a UTR on settlement")
	}

	// The outcome is visible on the stored decision.
	var stored RoutingDecision
	if code := getJSON(t, "/routing-decisions/"+id, &stored); code != http.StatusOK {
		t.Fatalf("Decision lookup failed: status %d", code)
	}
	if stored.ExecutionStatus != "SUCCESS" {
		t.Errorf("Expected decision marked SUCCESS, got %s", stored.ExecutionStatus)
	}
}

func TestRoutingIsIdempotent(t *testing.T) {
	seedRails(t)
	id := txID("itest-idem")
	submitIntent(t, id, 25_000)

	var first, second RoutingDecision
	postJSON(t, "/routing-decisions", RouteRequest{TransactionID: id}, &first)
	postJSON(t, "/routing-decisions", RouteRequest{TransactionID: id}, &second)

	if first.ID != second.ID {
		t.Errorf("Expected the stored decision on re-post, got %s then %s", first.ID, second.ID)
	}

	var forced RoutingDecision
	postJSON(t, "/routing-decisions", RouteRequest{TransactionID: id, Force: true}, &forced)
	if forced.ID == first.ID {
		t.Error("Expected force to produce a fresh decision")
	}
}

func TestComplianceFailBlocksRouting(t *testing.T) {
	seedRails(t)
	id := txID("itest-blocked")

	postJSON(t, "/intents", IntentRequest{
		TransactionID: id,
		PaymentType:   "vendor_payment",
		Amount:        10_000,
		Currency:      "INR",
	}, nil)
	postJSON(t, "/compliance", ComplianceRequest{TransactionID: id, Decision: "FAIL", RiskScore: 90}, nil)

	code := postJSON(t, "/routing-decisions", RouteRequest{TransactionID: id}, nil)
	if code != http.StatusUnprocessableEntity {
		t.Errorf("Expected 422 for failed compliance, got %d", code)
	}
}

func TestOversizedIntentHasNoEligibleRails(t *testing.T) {
	seedRails(t)
	id := txID("itest-oversized")
	submitIntent(t, id, 50_000_000)

	code := postJSON(t, "/routing-decisions", RouteRequest{TransactionID: id}, nil)
	if code != http.StatusUnprocessableEntity {
		t.Errorf("Expected 422 for oversized intent, got %d", code)
	}
}

func TestForcedRailExecution(t *testing.T) {
	seedRails(t)
	id := txID("itest-forced")
	submitIntent(t, id, 50_000)

	postJSON(t, "/routing-decisions", RouteRequest{TransactionID: id}, nil)

	var result ExecutionResult
	if code := postJSON(t, "/executions", ExecuteRequest{TransactionID: id, ForceRail: "NEFT"}, &result); code != http.StatusOK {
		t.Fatalf("Forced execution failed: status %d", code)
	}
	if result.Status == "SUCCESS" && result.FinalRail != "NEFT" {
		t.Errorf("Expected settlement on forced rail NEFT, got %s", result.FinalRail)
	}
	if result.AttemptCount > 1 {
		t.Errorf("Forced execution must not fall back, got %d attempts", result.AttemptCount)
	}
}

func TestRailStatsAdvance(t *testing.T) {
	seedRails(t)
	id := txID("itest-stats")
	submitIntent(t, id, 50_000)

	var decision RoutingDecision
	postJSON(t, "/routing-decisions", RouteRequest{TransactionID: id}, &decision)

	var result ExecutionResult
	postJSON(t, "/executions", ExecuteRequest{TransactionID: id}, &result)
	if result.FinalRail == "" {
		t.Skip("execution did not settle; skipping stats assertion")
	}

	var stats struct {
		RailName  string `json:"railName"`
		Attempts  int64  `json:"attempts"`
		Successes int64  `json:"successes"`
	}
	if code := getJSON(t, "/rails/"+result.FinalRail+"/stats", &stats); code != http.StatusOK {
		t.Fatalf("Stats lookup failed: status %d", code)
	}
	if stats.Attempts == 0 {
		t.Error("Expected the execution attempt reflected in rail stats")
	}
}
