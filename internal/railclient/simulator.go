package railclient

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// RailProfile tunes the simulated behavior of one rail.
type RailProfile struct {
	// SuccessRate in [0, 1]; the remainder splits between retryable
	// and terminal failures.
	SuccessRate float64

	// TerminalShare is the fraction of failures that are terminal
	// rejections rather than transient errors.
	TerminalShare float64

	// Latency bounds for a simulated call.
	MinLatency time.Duration
	MaxLatency time.Duration
}

// Simulator is a bank rail API simulator issuing UTRs with configured
// success/failure behavior. Used for local deployments and testing.
type Simulator struct {
	mu       sync.Mutex
	rng      *rand.Rand
	profiles map[string]RailProfile
	calls    map[string]int64
}

// DefaultProfiles returns realistic per-rail behavior: instant rails
// are fast and mostly reliable, batch rails slower.
func DefaultProfiles() map[string]RailProfile {
	return map[string]RailProfile{
		"UPI":  {SuccessRate: 0.98, TerminalShare: 0.25, MinLatency: 100 * time.Millisecond, MaxLatency: 800 * time.Millisecond},
		"IMPS": {SuccessRate: 0.96, TerminalShare: 0.25, MinLatency: 300 * time.Millisecond, MaxLatency: 2 * time.Second},
		"NEFT": {SuccessRate: 0.94, TerminalShare: 0.20, MinLatency: 2 * time.Second, MaxLatency: 8 * time.Second},
		"RTGS": {SuccessRate: 0.99, TerminalShare: 0.30, MinLatency: 300 * time.Millisecond, MaxLatency: time.Second},
		"IFT":  {SuccessRate: 0.99, TerminalShare: 0.30, MinLatency: 50 * time.Millisecond, MaxLatency: 300 * time.Millisecond},
	}
}

// NewSimulator creates a simulator with the given profiles. Rails
// without a profile succeed instantly.
func NewSimulator(profiles map[string]RailProfile, seed int64) *Simulator {
	if profiles == nil {
		profiles = DefaultProfiles()
	}
	return &Simulator{
		rng:      rand.New(rand.NewSource(seed)),
		profiles: profiles,
		calls:    make(map[string]int64),
	}
}

// Execute simulates one rail call.
func (s *Simulator) Execute(ctx context.Context, req *Request) (*Response, error) {
	profile, latency, roll := s.plan(req.RailName)

	// Simulate processing delay, honoring cancellation and deadline.
	timer := time.NewTimer(latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}

	if roll < profile.SuccessRate {
		return &Response{
			UTR:          makeUTR(req.RailName),
			ResponseCode: "00",
		}, nil
	}

	// Failure: decide terminal vs retryable with a second roll derived
	// from the first for determinism under a fixed seed.
	failRoll := (roll - profile.SuccessRate) / (1 - profile.SuccessRate)
	if failRoll < profile.TerminalShare {
		return nil, fmt.Errorf("rail %s rejected payment (code R02): %w", req.RailName, domain.ErrTerminalFailure)
	}
	return nil, fmt.Errorf("rail %s temporarily unavailable (code T01): %w", req.RailName, domain.ErrRetryableFailure)
}

// CallCounts returns per-rail call counters, for diagnostics.
func (s *Simulator) CallCounts() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(s.calls))
	for k, v := range s.calls {
		out[k] = v
	}
	return out
}

func (s *Simulator) plan(railName string) (RailProfile, time.Duration, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls[railName]++

	profile, ok := s.profiles[railName]
	if !ok {
		profile = RailProfile{SuccessRate: 1.0}
	}

	latency := profile.MinLatency
	if profile.MaxLatency > profile.MinLatency {
		latency += time.Duration(s.rng.Int63n(int64(profile.MaxLatency - profile.MinLatency)))
	}
	return profile, latency, s.rng.Float64()
}

// makeUTR issues a rail-prefixed unique transaction reference.
func makeUTR(railName string) string {
	raw := strings.ReplaceAll(uuid.New().String(), "-", "")
	return fmt.Sprintf("%s%s", strings.ToUpper(railName), strings.ToUpper(raw[:16]))
}
