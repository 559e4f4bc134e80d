package risk

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/cel-go/cel"
)

// Rule is an operator-defined scoring rule: a CEL expression over the
// transaction context that, when true, contributes a named weighted factor.
type Rule struct {
	Name   string
	Expr   string
	Weight int
}

// RuleHit is a rule that matched during evaluation.
type RuleHit struct {
	Name   string
	Weight int
}

// RuleSet compiles and caches operator rules against a fixed CEL environment.
type RuleSet struct {
	env      *cel.Env
	mu       sync.RWMutex
	programs map[string]cel.Program
	rules    []Rule
	logger   *slog.Logger
}

// NewRuleSet compiles the given rules. A rule that fails to compile is
// rejected up front rather than silently skipped at evaluation time.
func NewRuleSet(rules []Rule, logger *slog.Logger) (*RuleSet, error) {
	if logger == nil {
		logger = slog.Default()
	}
	env, err := cel.NewEnv(
		cel.Variable("user_id", cel.StringType),
		cel.Variable("class", cel.StringType),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("hour", cel.IntType),
		cel.Variable("deposits_24h", cel.IntType),
		cel.Variable("to_address", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("create rule environment: %w", err)
	}

	rs := &RuleSet{env: env, programs: make(map[string]cel.Program), rules: rules, logger: logger}
	for _, r := range rules {
		ast, issues := env.Compile(r.Expr)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("rule %q: %w", r.Name, issues.Err())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", r.Name, err)
		}
		rs.programs[r.Name] = prg
	}
	return rs, nil
}

// Len reports how many rules are loaded.
func (rs *RuleSet) Len() int {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return len(rs.rules)
}

// EvalTransaction evaluates every rule against a transaction. A rule that
// errors at runtime is logged and skipped; it never blocks scoring.
func (rs *RuleSet) EvalTransaction(ctx context.Context, tx Transaction) []RuleHit {
	amount, _ := tx.Amount.Float64()
	input := map[string]any{
		"user_id":      tx.UserID,
		"class":        string(tx.Class),
		"amount":       amount,
		"hour":         tx.Timestamp.Hour(),
		"deposits_24h": tx.DepositsLast24h,
		"to_address":   tx.ToAddress,
	}

	rs.mu.RLock()
	defer rs.mu.RUnlock()

	var hits []RuleHit
	for _, r := range rs.rules {
		prg, ok := rs.programs[r.Name]
		if !ok {
			continue
		}
		out, _, err := prg.Eval(input)
		if err != nil {
			rs.logger.WarnContext(ctx, "risk rule evaluation failed", "rule", r.Name, "error", err)
			continue
		}
		if matched, ok := out.Value().(bool); ok && matched {
			hits = append(hits, RuleHit{Name: r.Name, Weight: r.Weight})
		}
	}
	return hits
}
