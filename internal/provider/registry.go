package provider

import (
	"fmt"

	"github.com/Knetic/govaluate"

	"github.com/yourorg/payment-engine/internal/apperror"
)

// GateRule gates a provider that is still in rollout behind a boolean
// expression. The expression is evaluated against request parameters such as
// merchant_id, amount, and currency; a false result means the provider is not
// yet enabled for that request.
type GateRule struct {
	Provider   string
	Expression string
}

// Registry holds the registered provider adapters and the feature-flag gates
// applied when resolving one by name.
type Registry struct {
	providers map[string]Provider
	gates     map[string]*govaluate.EvaluableExpression
}

// NewRegistry creates a registry. Gate expressions are compiled up front so a
// malformed rule fails at startup, not per request.
func NewRegistry(rules []GateRule) (*Registry, error) {
	gates := make(map[string]*govaluate.EvaluableExpression, len(rules))
	for _, rule := range rules {
		expr, err := govaluate.NewEvaluableExpression(rule.Expression)
		if err != nil {
			return nil, fmt.Errorf("compiling gate rule for provider %q: %w", rule.Provider, err)
		}
		gates[rule.Provider] = expr
	}
	return &Registry{
		providers: make(map[string]Provider),
		gates:     gates,
	}, nil
}

// Register adds an adapter under its own name. Registering the same name
// twice replaces the earlier adapter.
func (r *Registry) Register(p Provider) {
	if p == nil {
		panic("provider cannot be nil")
	}
	r.providers[p.Name()] = p
}

// Has reports whether an adapter is registered under name.
func (r *Registry) Has(name string) bool {
	_, ok := r.providers[name]
	return ok
}

// Resolve returns the adapter registered under name, subject to its
// feature-flag gate. Both an unknown name and a closed gate are caller
// errors: the request named a provider it cannot use.
func (r *Registry) Resolve(name string, params map[string]any) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, apperror.New(apperror.KindValidation, "unknown payment provider %q", name)
	}
	gate, gated := r.gates[name]
	if !gated {
		return p, nil
	}
	if params == nil {
		params = map[string]any{}
	}
	res, err := gate.Evaluate(params)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindValidation, err, "evaluating rollout gate for provider %q", name)
	}
	enabled, ok := res.(bool)
	if !ok {
		return nil, apperror.New(apperror.KindValidation, "rollout gate for provider %q is not boolean", name)
	}
	if !enabled {
		return nil, apperror.New(apperror.KindValidation, "provider %q is not enabled for this request", name)
	}
	return p, nil
}
