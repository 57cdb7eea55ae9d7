package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/executor"
	"github.com/opensource-finance/kestrel/internal/railclient"
	"github.com/opensource-finance/kestrel/internal/registry"
	"github.com/opensource-finance/kestrel/internal/routing"
	"github.com/opensource-finance/kestrel/internal/stats"
)

// apiStore is an in-memory Repository backing the API tests.
type apiStore struct {
	mu         sync.Mutex
	intents    map[string]*domain.Intent
	compliance map[string]*domain.ComplianceDecision
	rails      map[string]*domain.RailConfig
	decisions  map[string]*domain.RoutingDecision
	attempts   []*domain.RailAttempt
}

func newAPIStore() *apiStore {
	return &apiStore{
		intents:    make(map[string]*domain.Intent),
		compliance: make(map[string]*domain.ComplianceDecision),
		rails:      make(map[string]*domain.RailConfig),
		decisions:  make(map[string]*domain.RoutingDecision),
	}
}

func (s *apiStore) SaveIntent(_ context.Context, intent *domain.Intent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intents[intent.TransactionID] = intent
	return nil
}

func (s *apiStore) GetIntent(_ context.Context, txID string) (*domain.Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	intent, ok := s.intents[txID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return intent, nil
}

func (s *apiStore) UpdateIntentStatus(_ context.Context, txID string, status domain.IntentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	intent, ok := s.intents[txID]
	if !ok {
		return domain.ErrNotFound
	}
	intent.Status = status
	return nil
}

func (s *apiStore) ListPendingIntents(_ context.Context, limit int) ([]*domain.Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Intent
	for _, intent := range s.intents {
		if intent.Status == domain.IntentPending {
			out = append(out, intent)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *apiStore) SaveComplianceDecision(_ context.Context, d *domain.ComplianceDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.compliance[d.TransactionID]; ok {
		return domain.ErrComplianceExists
	}
	s.compliance[d.TransactionID] = d
	return nil
}

func (s *apiStore) DeleteComplianceDecision(_ context.Context, txID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.compliance[txID]; !ok {
		return domain.ErrNotFound
	}
	delete(s.compliance, txID)
	return nil
}

func (s *apiStore) GetComplianceDecision(_ context.Context, txID string) (*domain.ComplianceDecision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.compliance[txID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return d, nil
}

func (s *apiStore) SaveRail(_ context.Context, rail *domain.RailConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *rail
	s.rails[rail.Name] = &c
	return nil
}

func (s *apiStore) GetRail(_ context.Context, name string) (*domain.RailConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rail, ok := s.rails[name]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *rail
	return &c, nil
}

func (s *apiStore) ListRails(_ context.Context) ([]*domain.RailConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.RailConfig, 0, len(s.rails))
	for _, rail := range s.rails {
		c := *rail
		out = append(out, &c)
	}
	return out, nil
}

func (s *apiStore) UpdateRailState(_ context.Context, name string, remaining float64, perf domain.PerformanceWindow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rail, ok := s.rails[name]
	if !ok {
		return domain.ErrNotFound
	}
	rail.RemainingAmount = remaining
	rail.Performance = perf
	return nil
}

func (s *apiStore) SaveRoutingDecision(_ context.Context, d *domain.RoutingDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.decisions[d.TransactionID]; exists {
		return domain.ErrDecisionExists
	}
	s.decisions[d.TransactionID] = d
	return nil
}

func (s *apiStore) GetRoutingDecision(_ context.Context, txID string) (*domain.RoutingDecision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.decisions[txID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return d, nil
}

func (s *apiStore) UpdateExecutionOutcome(_ context.Context, txID, finalRail string, status domain.ExecutionStatus, utr string, attempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.decisions[txID]
	if !ok {
		return domain.ErrNotFound
	}
	d.FinalRail = finalRail
	d.ExecutionStatus = status
	d.FinalStatus = status
	d.UTR = utr
	d.AttemptCount = attempts
	return nil
}

func (s *apiStore) DeleteRoutingDecision(_ context.Context, txID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.decisions[txID]; !ok {
		return domain.ErrNotFound
	}
	delete(s.decisions, txID)
	return nil
}

func (s *apiStore) SaveRailAttempt(_ context.Context, attempt *domain.RailAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *attempt
	s.attempts = append(s.attempts, &c)
	return nil
}

func (s *apiStore) GetRailStats(_ context.Context, railName string, since time.Time) (*domain.RailStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := &domain.RailStats{RailName: railName}
	var total time.Duration
	for _, a := range s.attempts {
		if a.RailName != railName || a.AttemptedAt.Before(since) {
			continue
		}
		out.Attempts++
		if a.Success {
			out.Successes++
		}
		total += a.Latency
	}
	if out.Attempts > 0 {
		out.SuccessRate = float64(out.Successes) / float64(out.Attempts)
		out.AvgLatency = total / time.Duration(out.Attempts)
	}
	return out, nil
}

func (s *apiStore) Ping(_ context.Context) error { return nil }
func (s *apiStore) Close() error                 { return nil }

// okClient settles every rail call immediately.
type okClient struct{}

func (okClient) Execute(_ context.Context, req *railclient.Request) (*railclient.Response, error) {
	return &railclient.Response{UTR: req.RailName + "TESTUTR0001", ResponseCode: "00"}, nil
}

func createTestServer(t *testing.T) *Server {
	t.Helper()
	ctx := context.Background()

	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}

	repo := newAPIStore()
	reg := registry.New(repo)
	for _, rail := range []*domain.RailConfig{
		{Name: "UPI", Type: domain.RailInstant, Active: true, MinAmount: 1, MaxAmount: 200_000,
			DailyLimit: 5_000_000, RemainingAmount: 5_000_000, CostBps: 0.5, AvgETA: 5 * time.Second},
		{Name: "IMPS", Type: domain.RailInstant, Active: true, MinAmount: 1, MaxAmount: 500_000,
			DailyLimit: 10_000_000, RemainingAmount: 10_000_000, CostBps: 2.5, AvgETA: 30 * time.Second},
		{Name: "NEFT", Type: domain.RailBatch, Active: true, MinAmount: 1, MaxAmount: 10_000_000,
			DailyLimit: 50_000_000, RemainingAmount: 50_000_000, CostBps: 1.0, AvgETA: 2 * time.Hour},
	} {
		if err := reg.Register(ctx, rail); err != nil {
			t.Fatalf("failed to register rail %s: %v", rail.Name, err)
		}
	}

	filter, err := routing.NewFilter()
	if err != nil {
		t.Fatalf("NewFilter failed: %v", err)
	}

	cacheImpl := cache.NewLRUCache(100)
	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	router := routing.NewService(repo, reg, filter, routing.NewScorer(), cacheImpl, eventBus, domain.RoutingConfig{})
	statsSvc := stats.NewService(repo, reg)
	exec := executor.New(repo, reg, okClient{}, statsSvc, cacheImpl, eventBus, domain.ExecutorConfig{})

	return NewServer(cfg, repo, cacheImpl, eventBus, reg, router, exec, statsSvc, filter, "test-v1")
}

func doJSON(t *testing.T, server *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	return rr
}

func submitTestIntent(t *testing.T, server *Server, txID string, amount float64) {
	t.Helper()
	rr := doJSON(t, server, http.MethodPost, "/intents", domain.IntentRequest{
		TransactionID: txID,
		PaymentType:   "payroll",
		Sender:        domain.Party{Name: "Acme Corp", AccountNumber: "000111222333", BankCode: "HDFC"},
		Receiver:      domain.Party{Name: "Jane Doe", AccountNumber: "999888777666", BankCode: "ICIC"},
		Amount:        amount,
		Currency:      "INR",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("intent submit failed: %d: %s", rr.Code, rr.Body.String())
	}
	rr = doJSON(t, server, http.MethodPost, "/compliance", domain.ComplianceDecision{
		TransactionID: txID,
		Decision:      domain.CompliancePass,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("compliance record failed: %d: %s", rr.Code, rr.Body.String())
	}
}

func TestIntentEndpoints(t *testing.T) {
	server := createTestServer(t)

	t.Run("SubmitAndGet", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/intents", domain.IntentRequest{
			TransactionID: "tx-001",
			PaymentType:   "payroll",
			Amount:        50_000,
			Currency:      "INR",
		})
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
		}

		var intent domain.Intent
		if err := json.Unmarshal(rr.Body.Bytes(), &intent); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if intent.Status != domain.IntentPending {
			t.Errorf("expected PENDING status, got %s", intent.Status)
		}

		rr = doJSON(t, server, http.MethodGet, "/intents/tx-001", nil)
		if rr.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rr.Code)
		}
	})

	t.Run("Validation", func(t *testing.T) {
		tests := []struct {
			name string
			req  domain.IntentRequest
		}{
			{"MissingTransactionID", domain.IntentRequest{Amount: 100, Currency: "INR"}},
			{"NonPositiveAmount", domain.IntentRequest{TransactionID: "tx-v", Amount: 0, Currency: "INR"}},
			{"MissingCurrency", domain.IntentRequest{TransactionID: "tx-v", Amount: 100}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if rr := doJSON(t, server, http.MethodPost, "/intents", tt.req); rr.Code != http.StatusBadRequest {
					t.Errorf("expected 400, got %d", rr.Code)
				}
			})
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		if rr := doJSON(t, server, http.MethodGet, "/intents/tx-missing", nil); rr.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rr.Code)
		}
	})
}

func TestComplianceEndpoints(t *testing.T) {
	server := createTestServer(t)

	t.Run("RecordAndGet", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/compliance", domain.ComplianceDecision{
			TransactionID:     "tx-001",
			Decision:          domain.CompliancePass,
			CompliancePenalty: 12.5,
			RiskScore:         30,
			ReasonCodes:       []string{"SANCTIONS_CLEAR"},
		})
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
		}

		rr = doJSON(t, server, http.MethodGet, "/compliance/tx-001", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		var decision domain.ComplianceDecision
		json.Unmarshal(rr.Body.Bytes(), &decision)
		if decision.CompliancePenalty != 12.5 {
			t.Errorf("expected penalty 12.5, got %v", decision.CompliancePenalty)
		}
		if decision.CreatedAt.IsZero() {
			t.Error("expected CreatedAt defaulted")
		}
	})

	t.Run("ResubmitReturnsStoredDecision", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/compliance", domain.ComplianceDecision{
			TransactionID:     "tx-010",
			Decision:          domain.CompliancePass,
			CompliancePenalty: 5,
		})
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
		}

		rr = doJSON(t, server, http.MethodPost, "/compliance", domain.ComplianceDecision{
			TransactionID:     "tx-010",
			Decision:          domain.ComplianceFail,
			CompliancePenalty: 90,
			RiskScore:         95,
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200 for re-submission, got %d: %s", rr.Code, rr.Body.String())
		}
		var decision domain.ComplianceDecision
		json.Unmarshal(rr.Body.Bytes(), &decision)
		if decision.Decision != domain.CompliancePass || decision.CompliancePenalty != 5 {
			t.Errorf("expected stored PASS decision back, got %+v", decision)
		}
	})

	t.Run("ForceReplacesDecision", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/compliance", domain.ComplianceDecision{
			TransactionID: "tx-011",
			Decision:      domain.CompliancePass,
		})
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d", rr.Code)
		}

		rr = doJSON(t, server, http.MethodPost, "/compliance?force=true", domain.ComplianceDecision{
			TransactionID: "tx-011",
			Decision:      domain.ComplianceFail,
			RiskScore:     95,
		})
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected 201 for forced replace, got %d: %s", rr.Code, rr.Body.String())
		}

		rr = doJSON(t, server, http.MethodGet, "/compliance/tx-011", nil)
		var decision domain.ComplianceDecision
		json.Unmarshal(rr.Body.Bytes(), &decision)
		if decision.Decision != domain.ComplianceFail || decision.RiskScore != 95 {
			t.Errorf("expected forced FAIL decision, got %+v", decision)
		}
	})

	t.Run("InvalidDecision", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/compliance", domain.ComplianceDecision{
			TransactionID: "tx-002",
			Decision:      "MAYBE",
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rr.Code)
		}
	})

	t.Run("ScoreOutOfRange", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/compliance", domain.ComplianceDecision{
			TransactionID: "tx-003",
			Decision:      domain.CompliancePass,
			RiskScore:     150,
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rr.Code)
		}
	})
}

func TestRoutingEndpoint(t *testing.T) {
	server := createTestServer(t)

	t.Run("CreatesDecision", func(t *testing.T) {
		submitTestIntent(t, server, "tx-route-1", 50_000)

		rr := doJSON(t, server, http.MethodPost, "/routing-decisions", RouteRequest{TransactionID: "tx-route-1"})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var decision domain.RoutingDecision
		if err := json.Unmarshal(rr.Body.Bytes(), &decision); err != nil {
			t.Fatalf("failed to parse decision: %v", err)
		}
		if decision.PrimaryRail == "" {
			t.Error("expected a primary rail")
		}
		if len(decision.FallbackRails) != 2 {
			t.Errorf("expected 2 fallbacks, got %d", len(decision.FallbackRails))
		}
		if len(decision.Breakdown) != 3 {
			t.Errorf("expected a breakdown per scored rail, got %d", len(decision.Breakdown))
		}
		for _, b := range decision.Breakdown {
			if len(b.TopFactors) != 3 {
				t.Errorf("rail %s: expected 3 top factors, got %d", b.RailName, len(b.TopFactors))
			}
		}

		rr = doJSON(t, server, http.MethodGet, "/routing-decisions/tx-route-1", nil)
		if rr.Code != http.StatusOK {
			t.Errorf("expected 200 on get, got %d", rr.Code)
		}
	})

	t.Run("Idempotent", func(t *testing.T) {
		submitTestIntent(t, server, "tx-route-2", 50_000)

		first := doJSON(t, server, http.MethodPost, "/routing-decisions", RouteRequest{TransactionID: "tx-route-2"})
		second := doJSON(t, server, http.MethodPost, "/routing-decisions", RouteRequest{TransactionID: "tx-route-2"})

		var a, b domain.RoutingDecision
		json.Unmarshal(first.Body.Bytes(), &a)
		json.Unmarshal(second.Body.Bytes(), &b)
		if a.ID != b.ID {
			t.Errorf("expected the stored decision back, got %s then %s", a.ID, b.ID)
		}
	})

	t.Run("ForceOverride", func(t *testing.T) {
		submitTestIntent(t, server, "tx-route-3", 50_000)

		first := doJSON(t, server, http.MethodPost, "/routing-decisions", RouteRequest{TransactionID: "tx-route-3"})
		forced := doJSON(t, server, http.MethodPost, "/routing-decisions", RouteRequest{TransactionID: "tx-route-3", Force: true})

		var a, b domain.RoutingDecision
		json.Unmarshal(first.Body.Bytes(), &a)
		json.Unmarshal(forced.Body.Bytes(), &b)
		if a.ID == b.ID {
			t.Error("expected force to produce a fresh decision")
		}
	})

	t.Run("CustomWeights", func(t *testing.T) {
		submitTestIntent(t, server, "tx-route-4", 50_000)

		rr := doJSON(t, server, http.MethodPost, "/routing-decisions", RouteRequest{
			TransactionID: "tx-route-4",
			Weights:       &domain.ScoringWeights{Cost: 1},
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var decision domain.RoutingDecision
		json.Unmarshal(rr.Body.Bytes(), &decision)
		if decision.PrimaryRail != "UPI" {
			t.Errorf("cost-only weights should pick UPI, got %s", decision.PrimaryRail)
		}
	})

	t.Run("InvalidWeights", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/routing-decisions", RouteRequest{
			TransactionID: "tx-route-4",
			Weights:       &domain.ScoringWeights{ETA: -1},
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rr.Code)
		}
	})

	t.Run("NoEligibleRails", func(t *testing.T) {
		submitTestIntent(t, server, "tx-route-big", 50_000_000)

		rr := doJSON(t, server, http.MethodPost, "/routing-decisions", RouteRequest{TransactionID: "tx-route-big"})
		if rr.Code != http.StatusUnprocessableEntity {
			t.Fatalf("expected 422, got %d: %s", rr.Code, rr.Body.String())
		}
		var resp struct {
			Error         string            `json:"error"`
			FilterReasons map[string]string `json:"filter_reasons"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if len(resp.FilterReasons) != 3 {
			t.Errorf("expected a reason per rail, got %v", resp.FilterReasons)
		}
	})

	t.Run("UnknownTransaction", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/routing-decisions", RouteRequest{TransactionID: "tx-missing"})
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rr.Code)
		}
	})
}

func TestExecutionEndpoint(t *testing.T) {
	server := createTestServer(t)

	t.Run("Settles", func(t *testing.T) {
		submitTestIntent(t, server, "tx-exec-1", 50_000)
		doJSON(t, server, http.MethodPost, "/routing-decisions", RouteRequest{TransactionID: "tx-exec-1"})

		rr := doJSON(t, server, http.MethodPost, "/executions", ExecuteRequest{TransactionID: "tx-exec-1"})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var result domain.ExecutionResult
		if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
			t.Fatalf("failed to parse result: %v", err)
		}
		if result.Status != domain.ExecutionSuccess {
			t.Errorf("expected SUCCESS, got %s", result.Status)
		}
		if result.UTR == "" {
			t.Error("expected a UTR")
		}

		// Outcome visible on the stored decision.
		rr = doJSON(t, server, http.MethodGet, "/routing-decisions/tx-exec-1", nil)
		var decision domain.RoutingDecision
		json.Unmarshal(rr.Body.Bytes(), &decision)
		if decision.ExecutionStatus != domain.ExecutionSuccess {
			t.Errorf("expected decision marked SUCCESS, got %s", decision.ExecutionStatus)
		}
	})

	t.Run("ForceUnknownRail", func(t *testing.T) {
		submitTestIntent(t, server, "tx-exec-2", 50_000)
		doJSON(t, server, http.MethodPost, "/routing-decisions", RouteRequest{TransactionID: "tx-exec-2"})

		rr := doJSON(t, server, http.MethodPost, "/executions", ExecuteRequest{TransactionID: "tx-exec-2", ForceRail: "SWIFT"})
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rr.Code)
		}
	})

	t.Run("NoDecision", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/executions", ExecuteRequest{TransactionID: "tx-missing"})
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rr.Code)
		}
	})

	t.Run("MissingTransactionID", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/executions", ExecuteRequest{})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rr.Code)
		}
	})
}

func TestRailEndpoints(t *testing.T) {
	server := createTestServer(t)

	t.Run("List", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/rails", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		var resp struct {
			Rails []domain.RailConfig `json:"rails"`
			Count int                 `json:"count"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count != 3 {
			t.Errorf("expected 3 rails, got %d", resp.Count)
		}
	})

	t.Run("Create", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/rails", domain.RailConfig{
			Name:       "RTGS",
			Type:       domain.RailRealtime,
			Active:     true,
			MinAmount:  200_000,
			MaxAmount:  100_000_000,
			DailyLimit: 500_000_000,
			CostBps:    5,
			AvgETA:     10 * time.Minute,
			Guard:      `amount >= 200000.0`,
		})
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
		}

		rr = doJSON(t, server, http.MethodGet, "/rails/RTGS", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		var rail domain.RailConfig
		json.Unmarshal(rr.Body.Bytes(), &rail)
		if rail.RemainingAmount != 500_000_000 {
			t.Errorf("expected remaining defaulted to daily limit, got %v", rail.RemainingAmount)
		}
	})

	t.Run("CreateValidation", func(t *testing.T) {
		if rr := doJSON(t, server, http.MethodPost, "/rails", domain.RailConfig{}); rr.Code != http.StatusBadRequest {
			t.Errorf("missing name: expected 400, got %d", rr.Code)
		}
		if rr := doJSON(t, server, http.MethodPost, "/rails", domain.RailConfig{
			Name: "BAD", MinAmount: 100, MaxAmount: 10,
		}); rr.Code != http.StatusBadRequest {
			t.Errorf("min over max: expected 400, got %d", rr.Code)
		}
		if rr := doJSON(t, server, http.MethodPost, "/rails", domain.RailConfig{
			Name: "BAD", Guard: "amount >",
		}); rr.Code != http.StatusBadRequest {
			t.Errorf("broken guard: expected 400, got %d", rr.Code)
		}
	})

	t.Run("UpdateLimit", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPatch, "/rails/UPI/limit", UpdateRailLimitRequest{RemainingAmount: 123_456})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var rail domain.RailConfig
		json.Unmarshal(rr.Body.Bytes(), &rail)
		if rail.RemainingAmount != 123_456 {
			t.Errorf("expected remaining 123456, got %v", rail.RemainingAmount)
		}

		if rr := doJSON(t, server, http.MethodPatch, "/rails/UPI/limit", UpdateRailLimitRequest{RemainingAmount: -1}); rr.Code != http.StatusBadRequest {
			t.Errorf("negative remaining: expected 400, got %d", rr.Code)
		}
		if rr := doJSON(t, server, http.MethodPatch, "/rails/SWIFT/limit", UpdateRailLimitRequest{RemainingAmount: 1}); rr.Code != http.StatusNotFound {
			t.Errorf("unknown rail: expected 404, got %d", rr.Code)
		}
	})

	t.Run("ResetLimits", func(t *testing.T) {
		doJSON(t, server, http.MethodPatch, "/rails/UPI/limit", UpdateRailLimitRequest{RemainingAmount: 10})

		rr := doJSON(t, server, http.MethodPost, "/rails/reset-limits", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}

		rr = doJSON(t, server, http.MethodGet, "/rails/UPI", nil)
		var rail domain.RailConfig
		json.Unmarshal(rr.Body.Bytes(), &rail)
		if rail.RemainingAmount != rail.DailyLimit {
			t.Errorf("expected remaining restored to %v, got %v", rail.DailyLimit, rail.RemainingAmount)
		}
	})

	t.Run("Stats", func(t *testing.T) {
		submitTestIntent(t, server, "tx-stats-1", 50_000)
		doJSON(t, server, http.MethodPost, "/routing-decisions", RouteRequest{TransactionID: "tx-stats-1"})
		doJSON(t, server, http.MethodPost, "/executions", ExecuteRequest{TransactionID: "tx-stats-1"})

		rr := doJSON(t, server, http.MethodGet, "/rails/UPI/stats", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var railStats domain.RailStats
		json.Unmarshal(rr.Body.Bytes(), &railStats)
		if railStats.Attempts != 1 || railStats.Successes != 1 {
			t.Errorf("expected 1/1 attempts, got %d/%d", railStats.Successes, railStats.Attempts)
		}

		if rr := doJSON(t, server, http.MethodGet, "/rails/SWIFT/stats", nil); rr.Code != http.StatusNotFound {
			t.Errorf("unknown rail: expected 404, got %d", rr.Code)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		if rr := doJSON(t, server, http.MethodGet, "/rails/SWIFT", nil); rr.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rr.Code)
		}
	})
}

func TestHealthEndpoints(t *testing.T) {
	server := createTestServer(t)

	rr := doJSON(t, server, http.MethodGet, "/health", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var health map[string]string
	json.Unmarshal(rr.Body.Bytes(), &health)
	if health["status"] != "healthy" {
		t.Errorf("expected healthy, got %s", health["status"])
	}
	if health["version"] != "test-v1" {
		t.Errorf("expected version test-v1, got %s", health["version"])
	}

	if rr := doJSON(t, server, http.MethodGet, "/ready", nil); rr.Code != http.StatusOK {
		t.Errorf("expected 200 from /ready, got %d", rr.Code)
	}
}
