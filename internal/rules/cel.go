// Package rules evaluates declarative constraint rules written in CEL.
// Evaluation is fail-closed: a compile error, an evaluation error, or a
// non-boolean result all count as "rule not satisfied".
package rules

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

const (
	costLimit          = 10000
	interruptFrequency = 100
)

// Evaluator compiles and caches CEL programs. Rules see two variables:
// `target`, the object under validation, and `params`, the constraint's
// registered parameters.
type Evaluator struct {
	env   *cel.Env
	mu    sync.RWMutex
	cache map[string]cel.Program
}

func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("target", cel.DynType),
		cel.Variable("params", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	return &Evaluator{
		env:   env,
		cache: make(map[string]cel.Program),
	}, nil
}

// EvalBool runs the rule against the target and params. The boolean result
// reports whether the rule passed; any error means the rule must be treated
// as violated.
func (e *Evaluator) EvalBool(rule string, target, params map[string]any) (bool, error) {
	prg, err := e.program(rule)
	if err != nil {
		return false, err
	}

	if params == nil {
		params = map[string]any{}
	}
	out, _, err := prg.Eval(map[string]any{
		"target": target,
		"params": params,
	})
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("rule result is %T, not bool", out.Value())
	}
	return val, nil
}

func (e *Evaluator) program(rule string) (cel.Program, error) {
	e.mu.RLock()
	prg, hit := e.cache[rule]
	e.mu.RUnlock()
	if hit {
		return prg, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, hit = e.cache[rule]; hit {
		return prg, nil
	}

	ast, issues := e.env.Compile(rule)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile: %w", issues.Err())
	}
	prg, err := e.env.Program(ast,
		cel.InterruptCheckFrequency(interruptFrequency),
		cel.CostLimit(costLimit),
	)
	if err != nil {
		return nil, fmt.Errorf("program: %w", err)
	}
	e.cache[rule] = prg
	return prg, nil
}
