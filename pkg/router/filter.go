package router

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// filterExprParam is the reserved instance param holding an optional CEL
// predicate evaluated against the event payload and the instance params.
const filterExprParam = "filter_expr"

// FilterEvaluator compiles and caches CEL filter expressions. Cost-limited so
// a pathological user expression cannot stall ingestion.
type FilterEvaluator struct {
	env   *cel.Env
	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewFilterEvaluator builds the CEL environment for instance filters.
func NewFilterEvaluator() (*FilterEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("payload", cel.DynType),
		cel.Variable("params", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("filter env: %w", err)
	}
	return &FilterEvaluator{env: env, cache: make(map[string]cel.Program)}, nil
}

// Eval evaluates expr against the payload and params. Non-boolean results
// and evaluation errors reject the instance.
func (e *FilterEvaluator) Eval(expr string, payload, params map[string]any) (bool, error) {
	prg, err := e.program(expr)
	if err != nil {
		return false, err
	}
	out, _, err := prg.Eval(map[string]any{
		"payload": payload,
		"params":  params,
	})
	if err != nil {
		return false, fmt.Errorf("filter eval: %w", err)
	}
	v, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("filter expression did not yield a boolean")
	}
	return v, nil
}

func (e *FilterEvaluator) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, hit := e.cache[expr]
	e.mu.RUnlock()
	if hit {
		return prg, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, hit = e.cache[expr]; hit {
		return prg, nil
	}
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("filter compile: %w", issues.Err())
	}
	prg, err := e.env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("filter program: %w", err)
	}
	e.cache[expr] = prg
	return prg, nil
}
