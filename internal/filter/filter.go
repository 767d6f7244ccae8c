// Package filter selects quotes with CEL expressions.
//
// An expression sees four variables: symbol (string), timestamp (uint),
// and bid and ask, each either null or a map with price (double) and size
// (int). For example:
//
//	symbol in ["AAPL", "MSFT"] && bid != null && bid.size >= 100
package filter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/ext"
)

const defaultTimeout = 100 * time.Millisecond

// ErrNotBool is returned when an expression does not evaluate to a bool.
var ErrNotBool = errors.New("filter expression must evaluate to bool")

// Option configures a Filter.
type Option func(*Filter)

// WithTimeout sets the maximum evaluation time for a single quote.
func WithTimeout(d time.Duration) Option {
	return func(f *Filter) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// Filter is a compiled CEL predicate. It is safe for concurrent use.
type Filter struct {
	expression string
	program    cel.Program
	timeout    time.Duration
}

// New compiles expression. Expressions whose static type is neither bool nor
// dyn are rejected at compile time.
func New(expression string, opts ...Option) (*Filter, error) {
	env, err := cel.NewEnv(
		cel.Variable("symbol", cel.StringType),
		cel.Variable("timestamp", cel.UintType),
		cel.Variable("bid", cel.DynType),
		cel.Variable("ask", cel.DynType),
		ext.Strings(),
		ext.Math(),
	)
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("cel compile: %w", issues.Err())
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("%w, got %s", ErrNotBool, out)
	}

	prg, err := env.Program(ast, cel.InterruptCheckFrequency(100))
	if err != nil {
		return nil, fmt.Errorf("cel program: %w", err)
	}

	f := &Filter{
		expression: expression,
		program:    prg,
		timeout:    defaultTimeout,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Expression returns the source expression.
func (f *Filter) Expression() string {
	return f.expression
}

// Match evaluates the expression against vars.
func (f *Filter) Match(ctx context.Context, vars map[string]any) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	out, _, err := f.program.ContextEval(ctx, vars)
	if err != nil {
		return false, fmt.Errorf("cel eval: %w", err)
	}
	b, ok := out.(types.Bool)
	if !ok {
		return false, fmt.Errorf("%w, got %s", ErrNotBool, out.Type())
	}
	return bool(b), nil
}
