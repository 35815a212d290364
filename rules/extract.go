package rules

import "github.com/liamcoop/rulecheck/scoring"

// Extract reduces a target's output to the value a rule scores.
//
// For "json" rules the output is returned unchanged; IO.Field is not applied.
// Every other rule sees text: strings pass through and structured output is
// serialized to compact JSON. Extract never fails.
func Extract(io IO, output any) any {
	if io.Expects == ExpectsJSON {
		return output
	}
	return scoring.Text(output)
}
