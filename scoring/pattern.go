package scoring

import (
	"fmt"
	"regexp"
)

// PatternScorer checks the text form of the actual value against
// expected.mustMatch and expected.mustNotMatch regular expressions.
// Patterns run in multi-line mode: ^ and $ match at line boundaries and
// . does not match a newline.
type PatternScorer struct{}

func NewPatternScorer() *PatternScorer {
	return &PatternScorer{}
}

func (s *PatternScorer) Score(expected map[string]any, actual any) (Verdict, error) {
	text := Text(actual)
	mustMatch := patternList(expected["mustMatch"])
	mustNotMatch := patternList(expected["mustNotMatch"])

	misses := []string{}
	violations := []string{}

	for _, p := range mustMatch {
		re, err := compilePattern(p)
		if err != nil {
			return Verdict{}, err
		}
		if !re.MatchString(text) {
			misses = append(misses, p)
		}
	}

	for _, p := range mustNotMatch {
		re, err := compilePattern(p)
		if err != nil {
			return Verdict{}, err
		}
		if re.MatchString(text) {
			violations = append(violations, p)
		}
	}

	details := map[string]any{
		"misses":     misses,
		"violations": violations,
	}
	if len(misses) == 0 && len(violations) == 0 {
		v := Pass()
		v.Details = details
		return v, nil
	}
	return Fail(details), nil
}

func compilePattern(p string) (*regexp.Regexp, error) {
	re, err := regexp.Compile("(?m)" + p)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", p, err)
	}
	return re, nil
}

// patternList accepts []any or []string; anything else is an empty list.
// Non-string entries are skipped.
func patternList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
