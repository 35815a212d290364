package scoring

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// celCostLimit bounds the evaluation cost of a single expression.
const celCostLimit = 1000000

// CELScorer evaluates expected.expression, a CEL boolean expression over
// `actual` (the extracted value) and `text` (its text form).
// Compiled programs are cached by expression and safe for concurrent use.
type CELScorer struct {
	env      *cel.Env
	envErr   error
	programs map[string]cel.Program // expression -> compiled program
	mu       sync.RWMutex
}

func NewCELScorer() *CELScorer {
	env, err := cel.NewEnv(
		cel.Variable("actual", cel.DynType),
		cel.Variable("text", cel.StringType),
	)
	return &CELScorer{
		env:      env,
		envErr:   err,
		programs: make(map[string]cel.Program),
	}
}

func (s *CELScorer) Score(expected map[string]any, actual any) (Verdict, error) {
	expr, _ := expected["expression"].(string)
	if expr == "" {
		return Fail(map[string]any{"error": "No expression provided"}), nil
	}

	prog, err := s.program(expr)
	if err != nil {
		return Verdict{}, err
	}

	out, _, err := prog.Eval(map[string]any{
		"actual": actual,
		"text":   Text(actual),
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("evaluate expression: %w", err)
	}

	// non-boolean results never pass
	if matched, ok := out.Value().(bool); ok && matched {
		return Pass(), nil
	}
	return Fail(map[string]any{
		"expression": expr,
		"result":     out.Value(),
	}), nil
}

func (s *CELScorer) program(expr string) (cel.Program, error) {
	if s.envErr != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", s.envErr)
	}

	s.mu.RLock()
	prog, ok := s.programs[expr]
	s.mu.RUnlock()
	if ok {
		return prog, nil
	}

	ast, issues := s.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}

	prog, err := s.env.Program(ast, cel.CostLimit(celCostLimit))
	if err != nil {
		return nil, fmt.Errorf("program creation error: %w", err)
	}

	s.mu.Lock()
	s.programs[expr] = prog
	s.mu.Unlock()
	return prog, nil
}
