// Package scoring holds the strategies that turn a rule's expectation and a
// target's output into a verdict.
package scoring

import (
	"fmt"
	"sync"
)

// Kind identifies a scoring strategy. The set of kinds is closed; any name
// that is not one of the constants below parses to KindUnknown.
type Kind string

const (
	KindJSONSchema Kind = "json_schema"
	KindRegex      Kind = "regex"
	KindExact      Kind = "exact"
	KindCEL        Kind = "cel"
	KindUnknown    Kind = ""
)

var knownKinds = map[Kind]bool{
	KindJSONSchema: true,
	KindRegex:      true,
	KindExact:      true,
	KindCEL:        true,
}

// ParseKind maps a rule's scoring name to its Kind.
func ParseKind(name string) Kind {
	k := Kind(name)
	if knownKinds[k] {
		return k
	}
	return KindUnknown
}

// Known reports whether k names a built-in strategy.
func (k Kind) Known() bool {
	return knownKinds[k]
}

func (k Kind) String() string {
	if k == KindUnknown {
		return "unknown"
	}
	return string(k)
}

// Verdict is the outcome of scoring one actual value.
type Verdict struct {
	Passed  bool
	Score   float64
	Details any
}

// Pass returns a clean passing verdict.
func Pass() Verdict {
	return Verdict{Passed: true, Score: 1}
}

// Fail returns a failing verdict carrying details.
func Fail(details any) Verdict {
	return Verdict{Passed: false, Score: 0, Details: details}
}

// Scorer compares an actual value with a rule's expected configuration.
// A returned error means the scorer itself could not run; a mismatch is a
// failing Verdict, not an error.
type Scorer interface {
	Score(expected map[string]any, actual any) (Verdict, error)
}

// ScorerFunc adapts a function to the Scorer interface.
type ScorerFunc func(expected map[string]any, actual any) (Verdict, error)

func (f ScorerFunc) Score(expected map[string]any, actual any) (Verdict, error) {
	return f(expected, actual)
}

// UnknownKindError is returned by Registry.Lookup for a scoring name with no
// registered strategy.
type UnknownKindError struct {
	Name string
}

func (e *UnknownKindError) Error() string {
	return fmt.Sprintf("Unknown scorer: %s", e.Name)
}

// Registry dispatches scoring names to strategies.
// Safe for concurrent use.
type Registry struct {
	scorers map[Kind]Scorer
	mu      sync.RWMutex
}

// NewRegistry returns a registry with every built-in strategy registered.
func NewRegistry() *Registry {
	r := &Registry{scorers: make(map[Kind]Scorer)}
	r.Register(KindJSONSchema, NewSchemaScorer())
	r.Register(KindRegex, NewPatternScorer())
	r.Register(KindExact, NewExactScorer())
	r.Register(KindCEL, NewCELScorer())
	return r
}

// Register installs s for kind, replacing any previous strategy.
// Registering KindUnknown is a programming error and panics.
func (r *Registry) Register(kind Kind, s Scorer) {
	if kind == KindUnknown {
		panic("scoring: cannot register a scorer for the unknown kind")
	}
	r.mu.Lock()
	r.scorers[kind] = s
	r.mu.Unlock()
}

// Lookup returns the strategy registered for name.
func (r *Registry) Lookup(name string) (Scorer, error) {
	kind := ParseKind(name)
	if kind == KindUnknown {
		return nil, &UnknownKindError{Name: name}
	}

	r.mu.RLock()
	s, ok := r.scorers[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, &UnknownKindError{Name: name}
	}
	return s, nil
}
