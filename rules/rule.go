package rules

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Evaluator defines the interface for evaluating boolean filter expressions.
type Evaluator interface {
	Evaluate(expression string, env map[string]interface{}) (bool, error)
}

// OptionFunc derives an extra env entry from the env it is evaluated against.
type OptionFunc func(env map[string]interface{}) interface{}

// ExprEvaluator is an implementation of Evaluator using expr-lang/expr.
// Compiled programs are cached per expression, so every env passed for the
// same expression must have the same shape.
type ExprEvaluator struct {
	cache       map[string]*vm.Program
	mu          sync.RWMutex
	optionsFunc map[string]OptionFunc
}

// NewExprEvaluator creates a new ExprEvaluator with an initialized cache.
func NewExprEvaluator() *ExprEvaluator {
	return &ExprEvaluator{
		cache:       make(map[string]*vm.Program),
		optionsFunc: make(map[string]OptionFunc),
	}
}

// AddOptionFunc registers a derived env entry available to every expression.
func (e *ExprEvaluator) AddOptionFunc(name string, f OptionFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.optionsFunc[name] = f
	// programs compiled against the old env shape are stale
	e.cache = make(map[string]*vm.Program)
}

// Compile checks that expression is valid against env and yields a boolean.
func (e *ExprEvaluator) Compile(expression string, env map[string]interface{}) error {
	_, err := e.program(expression, e.extend(env))
	return err
}

// Evaluate evaluates the given expression against the provided env.
// The caller's map is never modified.
func (e *ExprEvaluator) Evaluate(expression string, env map[string]interface{}) (bool, error) {
	full := e.extend(env)
	program, err := e.program(expression, full)
	if err != nil {
		return false, err
	}

	result, err := expr.Run(program, full)
	if err != nil {
		return false, err
	}

	if boolResult, ok := result.(bool); ok {
		return boolResult, nil
	}
	return false, fmt.Errorf("expression '%s' did not evaluate to a boolean, got %T", expression, result)
}

// extend copies env and adds the registered option values.
func (e *ExprEvaluator) extend(env map[string]interface{}) map[string]interface{} {
	e.mu.RLock()
	defer e.mu.RUnlock()

	full := make(map[string]interface{}, len(env)+len(e.optionsFunc))
	for k, v := range env {
		full[k] = v
	}
	for k, f := range e.optionsFunc {
		full[k] = f(env)
	}
	return full
}

func (e *ExprEvaluator) program(expression string, env map[string]interface{}) (*vm.Program, error) {
	e.mu.RLock()
	program, ok := e.cache[expression]
	e.mu.RUnlock()
	if ok {
		return program, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if program, ok = e.cache[expression]; ok {
		return program, nil
	}
	program, err := expr.Compile(expression, expr.Env(env), expr.AsBool())
	if err != nil {
		return nil, err
	}
	e.cache[expression] = program
	return program, nil
}
