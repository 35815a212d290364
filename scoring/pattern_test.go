package scoring

import (
	"reflect"
	"testing"
)

const (
	maskedSSN = `\*\*\*-\*\*-\*\*\*\*`
	rawSSN    = `\b\d{3}-\d{2}-\d{4}\b`
)

func ssnExpectation() map[string]any {
	return map[string]any{
		"mustMatch":    []any{maskedSSN},
		"mustNotMatch": []any{rawSSN},
	}
}

// TestPatternScorerMaskedPasses verifies a masked SSN satisfies both pattern lists
func TestPatternScorerMaskedPasses(t *testing.T) {
	v, err := NewPatternScorer().Score(ssnExpectation(), "SSN ***-**-****")
	if err != nil {
		t.Fatalf("Score() failed: %v", err)
	}
	if !v.Passed || v.Score != 1 {
		t.Errorf("Score() = %+v, want passed with score 1", v)
	}
	want := map[string]any{"misses": []string{}, "violations": []string{}}
	if !reflect.DeepEqual(v.Details, want) {
		t.Errorf("Details = %v, want %v", v.Details, want)
	}
}

// TestPatternScorerLeakFails verifies a raw SSN is reported as both a violation and a miss
func TestPatternScorerLeakFails(t *testing.T) {
	v, err := NewPatternScorer().Score(ssnExpectation(), "SSN 123-45-6789")
	if err != nil {
		t.Fatalf("Score() failed: %v", err)
	}
	if v.Passed || v.Score != 0 {
		t.Errorf("Score() = %+v, want failed with score 0", v)
	}

	details, ok := v.Details.(map[string]any)
	if !ok {
		t.Fatalf("Details = %T, want map[string]any", v.Details)
	}
	if !reflect.DeepEqual(details["violations"], []string{rawSSN}) {
		t.Errorf("violations = %v, want [%s]", details["violations"], rawSSN)
	}
	if !reflect.DeepEqual(details["misses"], []string{maskedSSN}) {
		t.Errorf("misses = %v, want [%s]", details["misses"], maskedSSN)
	}
}

func TestPatternScorerMultiline(t *testing.T) {
	v, err := NewPatternScorer().Score(map[string]any{"mustMatch": []any{`^second$`}}, "first\nsecond\nthird")
	if err != nil {
		t.Fatalf("Score() failed: %v", err)
	}
	if !v.Passed {
		t.Error("^ and $ should match at line boundaries")
	}

	v, err = NewPatternScorer().Score(map[string]any{"mustMatch": []any{`first.second`}}, "first\nsecond")
	if err != nil {
		t.Fatalf("Score() failed: %v", err)
	}
	if v.Passed {
		t.Error(". should not match a newline")
	}
}

func TestPatternScorerStructuredActual(t *testing.T) {
	exp := map[string]any{"mustMatch": []any{`"name":"A"`}}
	v, err := NewPatternScorer().Score(exp, map[string]any{"name": "A"})
	if err != nil {
		t.Fatalf("Score() failed: %v", err)
	}
	if !v.Passed {
		t.Error("structured response should be matched as compact JSON")
	}
}

func TestPatternScorerIgnoresMalformedLists(t *testing.T) {
	exp := map[string]any{"mustMatch": "not-a-list", "mustNotMatch": []any{float64(3), "bad"}}
	v, err := NewPatternScorer().Score(exp, "all good")
	if err != nil {
		t.Fatalf("Score() failed: %v", err)
	}
	if !v.Passed {
		t.Errorf("Score() = %+v, want passed", v)
	}
}

func TestPatternScorerInvalidPattern(t *testing.T) {
	if _, err := NewPatternScorer().Score(map[string]any{"mustMatch": []any{"(unclosed"}}, "x"); err == nil {
		t.Error("Score() should fail on an invalid pattern")
	}
}
