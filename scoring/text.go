package scoring

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Text coerces a value to the text a textual scorer inspects: strings pass
// through, everything else is rendered as compact JSON.
func Text(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return marshalJSON(v)
}

// Stringify renders a scalar the way it would be displayed: nil is empty,
// numbers use their shortest decimal form, and containers fall back to
// compact JSON.
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case json.Number:
		return val.String()
	case float64:
		return formatFloat(val)
	case float32:
		return formatFloat(float64(val))
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(val)
	default:
		return marshalJSON(v)
	}
}

func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func marshalJSON(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Sprint(v)
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n"))
}
