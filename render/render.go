// Package render substitutes {{name}} placeholders into strings and into
// JSON-shaped values nested arbitrarily deep.
//
// Substitution follows mustache semantics: a placeholder naming a variable
// that is not supplied renders as the empty string. String and Deep escape
// HTML in {{name}} values; Raw and DeepRaw do not, for output that is
// JSON-encoded or sent as header values.
package render

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cbroglie/mustache"
)

const openTag = "{{"

// String renders a single template string against vars.
// Strings that contain no opening tag are returned as is.
func String(tmpl string, vars map[string]string) (string, error) {
	return renderString(tmpl, vars, false)
}

// Raw is String without HTML escaping.
func Raw(tmpl string, vars map[string]string) (string, error) {
	return renderString(tmpl, vars, true)
}

func renderString(tmpl string, vars map[string]string, raw bool) (string, error) {
	if !strings.Contains(tmpl, openTag) {
		return tmpl, nil
	}

	t, err := mustache.ParseStringRaw(tmpl, raw)
	if err != nil {
		return "", fmt.Errorf("parse template %q: %w", tmpl, err)
	}

	out, err := t.Render(lookupContext(vars))
	if err != nil {
		return "", fmt.Errorf("render template %q: %w", tmpl, err)
	}
	return out, nil
}

// Deep returns a copy of v with every string leaf rendered against vars.
//
// v is a JSON value: string, bool, nil, a number (float64, json.Number or any
// Go integer/float type), []any or map[string]any. map[string]string is also
// accepted so header sets can be rendered without conversion. Map keys are
// never rendered. v itself is not modified.
func Deep(v any, vars map[string]string) (any, error) {
	return deep(v, vars, false)
}

// DeepRaw is Deep without HTML escaping.
func DeepRaw(v any, vars map[string]string) (any, error) {
	return deep(v, vars, true)
}

func deep(v any, vars map[string]string, raw bool) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string:
		return renderString(val, vars, raw)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			r, err := deep(item, vars, raw)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = r
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			r, err := deep(item, vars, raw)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = r
		}
		return out, nil
	case map[string]string:
		out := make(map[string]string, len(val))
		for k, item := range val {
			r, err := renderString(item, vars, raw)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = r
		}
		return out, nil
	case json.Number, bool, float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return val, nil
	default:
		return nil, fmt.Errorf("unsupported template value of type %T", v)
	}
}

// Headers renders a header set without HTML escaping. A nil set renders to nil.
func Headers(headers map[string]string, vars map[string]string) (map[string]string, error) {
	if headers == nil {
		return nil, nil
	}
	out, err := DeepRaw(headers, vars)
	if err != nil {
		return nil, err
	}
	return out.(map[string]string), nil
}

// lookupContext converts vars to the map type the mustache lookup understands.
// A nil map still yields a valid, empty context.
func lookupContext(vars map[string]string) map[string]any {
	ctx := make(map[string]any, len(vars))
	for k, v := range vars {
		ctx[k] = v
	}
	return ctx
}
