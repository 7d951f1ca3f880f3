// Package formula evaluates payout formula text with CEL.
package formula

import (
	"fmt"
	"math"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

// Vars are the per-year inputs of a formula. Money is in yuan.
type Vars struct {
	BasicSum      float64
	PaidPremium   float64
	AnnualPremium float64
	// N is the zero-based policy-year offset.
	N    int
	Age  int
	Year int
}

func (v Vars) activation() map[string]any {
	return map[string]any{
		VarBasicSum:      v.BasicSum,
		VarPaidPremium:   v.PaidPremium,
		VarAnnualPremium: v.AnnualPremium,
		VarN:             float64(v.N),
		VarAge:           float64(v.Age),
		VarYear:          float64(v.Year),
	}
}

// Program is a compiled formula.
type Program struct {
	Source     string
	Expression string
	program    cel.Program
}

// Evaluator compiles formula text once and evaluates it many times.
// It is safe for concurrent use.
type Evaluator struct {
	mu       sync.RWMutex
	env      *cel.Env
	compiled map[string]*Program
}

// NewEvaluator creates an evaluator with the formula variables and a pow
// function declared.
func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable(VarBasicSum, cel.DoubleType),
		cel.Variable(VarPaidPremium, cel.DoubleType),
		cel.Variable(VarAnnualPremium, cel.DoubleType),
		cel.Variable(VarN, cel.DoubleType),
		cel.Variable(VarAge, cel.DoubleType),
		cel.Variable(VarYear, cel.DoubleType),
		cel.Function("pow",
			cel.Overload("pow_double_double",
				[]*cel.Type{cel.DoubleType, cel.DoubleType},
				cel.DoubleType,
				cel.BinaryBinding(func(lhs, rhs ref.Val) ref.Val {
					base, ok1 := lhs.(types.Double)
					exp, ok2 := rhs.(types.Double)
					if !ok1 || !ok2 {
						return types.NewErr("pow: expected doubles")
					}
					return types.Double(math.Pow(float64(base), float64(exp)))
				}),
			),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{
		env:      env,
		compiled: make(map[string]*Program),
	}, nil
}

// Compile translates and compiles formula text. Results are memoized.
func (e *Evaluator) Compile(formula string) (*Program, error) {
	e.mu.RLock()
	p, ok := e.compiled[formula]
	e.mu.RUnlock()
	if ok {
		return p, nil
	}

	expr, err := Translate(formula)
	if err != nil {
		return nil, err
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile formula %q: %w", formula, issues.Err())
	}
	if ast.OutputType() != cel.DoubleType {
		return nil, fmt.Errorf("formula %q: expression must return double, got %s", formula, ast.OutputType())
	}

	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for formula %q: %w", formula, err)
	}

	p = &Program{Source: formula, Expression: expr, program: prg}

	e.mu.Lock()
	e.compiled[formula] = p
	e.mu.Unlock()
	return p, nil
}

// Eval runs a compiled program.
func (p *Program) Eval(v Vars) (float64, error) {
	out, _, err := p.program.Eval(v.activation())
	if err != nil {
		return 0, fmt.Errorf("evaluation error: %w", err)
	}
	d, ok := out.(types.Double)
	if !ok {
		return 0, fmt.Errorf("formula %q returned %s", p.Source, out.Type())
	}
	f := float64(d)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("formula %q produced a non-finite value", p.Source)
	}
	return f, nil
}

// Evaluate compiles (or reuses) and runs formula text.
func (e *Evaluator) Evaluate(formula string, v Vars) (float64, error) {
	p, err := e.Compile(formula)
	if err != nil {
		return 0, err
	}
	return p.Eval(v)
}

// Len returns the number of compiled formulas held.
func (e *Evaluator) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiled)
}
