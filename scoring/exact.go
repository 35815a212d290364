package scoring

// ExactScorer passes when the stringified actual value equals the
// stringified expected.exact value.
type ExactScorer struct{}

func NewExactScorer() *ExactScorer {
	return &ExactScorer{}
}

func (s *ExactScorer) Score(expected map[string]any, actual any) (Verdict, error) {
	want := Stringify(expected["exact"])
	got := Stringify(actual)
	if want == got {
		return Pass(), nil
	}
	return Fail(map[string]any{
		"want": want,
		"got":  got,
	}), nil
}
