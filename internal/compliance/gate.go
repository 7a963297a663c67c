// Package compliance is the pre-flight regulatory gate. The real assessment
// engines are external collaborators; this gate evaluates the operator's
// country-keyed rules before any payment state is persisted.
package compliance

import (
	"context"
	"fmt"
	"strings"

	"github.com/Knetic/govaluate"
	"go.uber.org/zap"

	"github.com/yourorg/payment-engine/internal/apperror"
)

// Rule is a named boolean expression over check parameters. A rule that
// evaluates to false rejects the payment.
type Rule struct {
	Name       string
	Expression string
}

// CheckParams carries the facts a rule may reference.
type CheckParams struct {
	CountryCode string
	MerchantID  string
	Amount      float64
	Currency    string
}

// Gate evaluates compliance rules. A gate with no rules allows everything.
type Gate struct {
	rules  []compiledRule
	logger *zap.Logger
}

type compiledRule struct {
	name string
	expr *govaluate.EvaluableExpression
}

// NewGate compiles the rules up front so malformed expressions fail at
// startup.
func NewGate(rules []Rule, logger *zap.Logger) (*Gate, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		expr, err := govaluate.NewEvaluableExpression(r.Expression)
		if err != nil {
			return nil, fmt.Errorf("compiling compliance rule %q: %w", r.Name, err)
		}
		compiled = append(compiled, compiledRule{name: r.Name, expr: expr})
	}
	return &Gate{rules: compiled, logger: logger}, nil
}

// Check evaluates every rule against the given parameters. The first rule
// that evaluates to false rejects with a compliance error; no payment state
// may be persisted after such a rejection.
func (g *Gate) Check(_ context.Context, params CheckParams) error {
	env := map[string]any{
		"country":  strings.ToUpper(params.CountryCode),
		"merchant": params.MerchantID,
		"amount":   params.Amount,
		"currency": strings.ToUpper(params.Currency),
	}
	for _, rule := range g.rules {
		res, err := rule.expr.Evaluate(env)
		if err != nil {
			return apperror.Wrap(apperror.KindCompliance, err, "evaluating compliance rule %q", rule.name)
		}
		allowed, ok := res.(bool)
		if !ok {
			return apperror.New(apperror.KindCompliance, "compliance rule %q is not boolean", rule.name)
		}
		if !allowed {
			g.logger.Info("compliance rule rejected payment",
				zap.String("rule", rule.name),
				zap.String("country", params.CountryCode),
				zap.String("merchant", params.MerchantID),
			)
			return apperror.New(apperror.KindCompliance,
				"payment rejected by compliance rule %q for country %s", rule.name, params.CountryCode)
		}
	}
	return nil
}
