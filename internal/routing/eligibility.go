// Package routing implements rail eligibility filtering and scoring.
package routing

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Rejection reasons recorded by the eligibility filter.
const (
	ReasonInactive       = "rail inactive"
	ReasonComplianceGate = "compliance gate closed"
	ReasonBelowMin       = "amount below min"
	ReasonExceedsMax     = "amount exceeds max"
	ReasonExceedsLimit   = "amount exceeds remaining daily limit"
	ReasonCutoffPassed   = "cutoff time passed"
	ReasonGuardRejected  = "guard expression rejected"
)

// Filter applies hard eligibility constraints per rail. Each rail fails
// on its first unmet condition; the complete rejection picture is
// always returned, never a fail-fast error.
type Filter struct {
	mu     sync.RWMutex
	env    *cel.Env
	guards map[string]compiledGuard
	now    func() time.Time
}

type compiledGuard struct {
	expr    string
	program cel.Program
}

// NewFilter creates an eligibility filter with a CEL environment for
// per-rail guard expressions.
func NewFilter() (*Filter, error) {
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("currency", cel.StringType),
		cel.Variable("payment_type", cel.StringType),
		cel.Variable("sender_bank", cel.StringType),
		cel.Variable("receiver_bank", cel.StringType),
		cel.Variable("hour", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Filter{
		env:    env,
		guards: make(map[string]compiledGuard),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// ValidateGuard compiles a guard expression without caching it.
// Used by the API when a rail is created or updated.
func (f *Filter) ValidateGuard(expr string) error {
	if expr == "" {
		return nil
	}
	_, err := f.compile(expr)
	return err
}

// Filter evaluates the hard constraints for every candidate rail.
// The eligible slice preserves candidate order; rejected maps rail name
// to the first failed condition.
func (f *Filter) Filter(intent *domain.Intent, decision *domain.ComplianceDecision, candidates []*domain.RailConfig) (eligible []*domain.RailConfig, rejected map[string]string) {
	rejected = make(map[string]string)
	now := f.now()

	for _, rail := range candidates {
		if reason := f.check(intent, decision, rail, now); reason != "" {
			rejected[rail.Name] = reason
			continue
		}
		eligible = append(eligible, rail)
	}
	return eligible, rejected
}

// check returns the first failed condition's reason, or "" when the
// rail is eligible.
func (f *Filter) check(intent *domain.Intent, decision *domain.ComplianceDecision, rail *domain.RailConfig, now time.Time) string {
	if !rail.Active {
		return ReasonInactive
	}
	if !decision.Passed() {
		return ReasonComplianceGate
	}
	if intent.Amount < rail.MinAmount {
		return ReasonBelowMin
	}
	if intent.Amount > rail.MaxAmount {
		return ReasonExceedsMax
	}
	if intent.Amount > rail.RemainingAmount {
		return ReasonExceedsLimit
	}
	if rail.CutoffPassed(now) {
		return ReasonCutoffPassed
	}
	if rail.Guard != "" {
		ok, err := f.evalGuard(rail, intent, now)
		if err != nil {
			return fmt.Sprintf("guard error: %v", err)
		}
		if !ok {
			return ReasonGuardRejected
		}
	}
	return ""
}

func (f *Filter) evalGuard(rail *domain.RailConfig, intent *domain.Intent, now time.Time) (bool, error) {
	program, err := f.guardProgram(rail)
	if err != nil {
		return false, err
	}

	out, _, err := program.Eval(map[string]any{
		"amount":        intent.Amount,
		"currency":      intent.Currency,
		"payment_type":  intent.PaymentType,
		"sender_bank":   intent.Sender.BankCode,
		"receiver_bank": intent.Receiver.BankCode,
		"hour":          int64(now.Hour()),
	})
	if err != nil {
		return false, err
	}

	b, ok := out.(types.Bool)
	if !ok {
		return false, fmt.Errorf("guard for rail %s did not return bool", rail.Name)
	}
	return bool(b), nil
}

// guardProgram returns the compiled guard for a rail, recompiling only
// when the expression changed.
func (f *Filter) guardProgram(rail *domain.RailConfig) (cel.Program, error) {
	f.mu.RLock()
	cached, ok := f.guards[rail.Name]
	f.mu.RUnlock()
	if ok && cached.expr == rail.Guard {
		return cached.program, nil
	}

	program, err := f.compile(rail.Guard)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.guards[rail.Name] = compiledGuard{expr: rail.Guard, program: program}
	f.mu.Unlock()

	return program, nil
}

func (f *Filter) compile(expr string) (cel.Program, error) {
	ast, issues := f.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile guard: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("guard must return bool, got %s", ast.OutputType())
	}
	program, err := f.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create guard program: %w", err)
	}
	return program, nil
}
