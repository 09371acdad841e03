// Package rules provides the CEL-Go based analyst override engine.
// Override rules are boolean expressions over the derived feature vector
// and account trust signals; a match forces a transaction to be flagged
// regardless of the model's score. This is a pre-decision screen, not a
// replacement for the ensemble.
package rules

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Engine compiles and evaluates override rules. Rule sets are
// hot-reloadable; evaluation takes a read lock only.
type Engine struct {
	env *cel.Env

	mu       sync.RWMutex
	compiled map[string]*compiledRule
}

type compiledRule struct {
	rule    *domain.OverrideRule
	program cel.Program
}

// NewEngine creates an engine exposing the feature vector and trust
// signals as CEL variables.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("device_enc", cel.DoubleType),
		cel.Variable("hour", cel.DoubleType),
		cel.Variable("tx_count_1h", cel.DoubleType),
		cel.Variable("tx_amount_sum_24h", cel.DoubleType),
		cel.Variable("amount_ratio", cel.DoubleType),
		cel.Variable("velocity_score", cel.DoubleType),
		cel.Variable("impossible_travel", cel.BoolType),
		cel.Variable("trust_score", cel.DoubleType),
		cel.Variable("account_age_days", cel.IntType),
		cel.Variable("ip_flagged", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:      env,
		compiled: make(map[string]*compiledRule),
	}, nil
}

// Validate compiles a rule without loading it.
func (e *Engine) Validate(rule *domain.OverrideRule) error {
	if rule == nil {
		return fmt.Errorf("rule is required")
	}
	_, err := e.compile(rule)
	return err
}

// Load compiles and installs one rule.
func (e *Engine) Load(rule *domain.OverrideRule) error {
	compiled, err := e.compile(rule)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiled[rule.ID] = compiled
	return nil
}

// Reload replaces the entire rule set atomically. Disabled rules are
// skipped. Used for hot reload from the repository.
func (e *Engine) Reload(ruleset []*domain.OverrideRule) error {
	next := make(map[string]*compiledRule)
	for _, rule := range ruleset {
		if !rule.Enabled {
			continue
		}
		compiled, err := e.compile(rule)
		if err != nil {
			return err
		}
		next[rule.ID] = compiled
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiled = next
	return nil
}

// Input carries the evaluation context for one transaction.
type Input struct {
	Features       domain.FeatureVector
	TrustScore     float64
	AccountAgeDays int
	IPFlagged      bool
}

// Evaluate runs all loaded rules in rule-ID order and returns the
// matches; callers report the first match, so evaluation order must be
// stable across runs. A rule that fails to evaluate is skipped; a
// screening layer must not take down scoring.
func (e *Engine) Evaluate(input Input) []domain.OverrideMatch {
	e.mu.RLock()
	ruleset := make([]*compiledRule, 0, len(e.compiled))
	for _, r := range e.compiled {
		ruleset = append(ruleset, r)
	}
	e.mu.RUnlock()

	sort.Slice(ruleset, func(i, j int) bool {
		return ruleset[i].rule.ID < ruleset[j].rule.ID
	})

	if len(ruleset) == 0 {
		return nil
	}

	activation := map[string]any{
		"amount":            input.Features.RawAmount,
		"device_enc":        input.Features.DeviceEnc,
		"hour":              input.Features.HourOfDay,
		"tx_count_1h":       input.Features.TxCount1h,
		"tx_amount_sum_24h": input.Features.TxAmountSum24h,
		"amount_ratio":      input.Features.AmountRatio,
		"velocity_score":    input.Features.VelocityScore,
		"impossible_travel": input.Features.ImpossibleTravel,
		"trust_score":       input.TrustScore,
		"account_age_days":  int64(input.AccountAgeDays),
		"ip_flagged":        input.IPFlagged,
	}

	var matches []domain.OverrideMatch
	for _, r := range ruleset {
		out, _, err := r.program.Eval(activation)
		if err != nil {
			continue
		}
		if b, ok := out.(types.Bool); ok && bool(b) {
			matches = append(matches, domain.OverrideMatch{
				RuleID: r.rule.ID,
				Name:   r.rule.Name,
				Reason: r.rule.Reason,
			})
		}
	}
	return matches
}

// Count returns the number of loaded rules.
func (e *Engine) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiled)
}

func (e *Engine) compile(rule *domain.OverrideRule) (*compiledRule, error) {
	ast, issues := e.env.Compile(rule.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", rule.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s",
			rule.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", rule.ID, err)
	}

	return &compiledRule{rule: rule, program: program}, nil
}
