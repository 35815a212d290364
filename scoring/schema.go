package scoring

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// draft7Keywords is the vocabulary accepted in strict mode.
var draft7Keywords = map[string]bool{
	"$schema": true, "$id": true, "$ref": true, "$comment": true,
	"title": true, "description": true, "default": true, "examples": true,
	"readOnly": true, "writeOnly": true,
	"type": true, "enum": true, "const": true, "format": true,
	"contentMediaType": true, "contentEncoding": true,
	"multipleOf": true, "maximum": true, "exclusiveMaximum": true,
	"minimum": true, "exclusiveMinimum": true,
	"maxLength": true, "minLength": true, "pattern": true,
	"items": true, "additionalItems": true, "maxItems": true, "minItems": true,
	"uniqueItems": true, "contains": true,
	"maxProperties": true, "minProperties": true, "required": true,
	"properties": true, "patternProperties": true, "additionalProperties": true,
	"dependencies": true, "propertyNames": true, "definitions": true,
	"if": true, "then": true, "else": true,
	"allOf": true, "anyOf": true, "oneOf": true, "not": true,
}

// SchemaKeywordError reports a keyword outside the draft-07 vocabulary.
type SchemaKeywordError struct {
	Keyword string
	Path    string
}

func (e *SchemaKeywordError) Error() string {
	return fmt.Sprintf("strict mode: unknown keyword %q at %s", e.Keyword, e.Path)
}

// SchemaError is one validation failure, in the order the validator reports it.
type SchemaError struct {
	Path    string `json:"path"`
	Keyword string `json:"keyword"`
	Message string `json:"message"`
}

// SchemaScorer validates the actual value against expected.schema.
// Unknown keywords are rejected before compilation and declared formats are
// asserted.
type SchemaScorer struct{}

func NewSchemaScorer() *SchemaScorer {
	return &SchemaScorer{}
}

func (s *SchemaScorer) Score(expected map[string]any, actual any) (Verdict, error) {
	doc, ok := expected["schema"]
	if !ok || doc == nil {
		return Fail(map[string]any{"error": "No schema provided"}), nil
	}

	schema, err := compileSchema(doc)
	if err != nil {
		return Verdict{}, err
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(actual))
	if err != nil {
		return Verdict{}, fmt.Errorf("validate against schema: %w", err)
	}
	if result.Valid() {
		return Pass(), nil
	}

	errs := make([]SchemaError, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		errs = append(errs, SchemaError{
			Path:    instancePath(re),
			Keyword: re.Type(),
			Message: re.Description(),
		})
	}
	return Fail(map[string]any{"errors": errs}), nil
}

func compileSchema(doc any) (*gojsonschema.Schema, error) {
	if err := checkStrict(doc, ""); err != nil {
		return nil, err
	}

	loader := gojsonschema.NewSchemaLoader()
	loader.Validate = true
	loader.Draft = gojsonschema.Draft7
	schema, err := loader.Compile(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// instancePath turns the validator's "(root)/a/0" context into "/a/0".
func instancePath(re gojsonschema.ResultError) string {
	ctx := re.Context()
	if ctx == nil {
		return ""
	}
	return strings.TrimPrefix(ctx.String("/"), "(root)")
}

// checkStrict walks a schema document and rejects unknown keywords.
func checkStrict(node any, path string) error {
	obj, ok := node.(map[string]any)
	if !ok {
		// boolean schemas have no keywords
		return nil
	}

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if !draft7Keywords[k] {
			return &SchemaKeywordError{Keyword: k, Path: pointer(path)}
		}
		v := obj[k]
		child := path + "/" + k

		switch k {
		case "properties", "patternProperties", "definitions":
			if err := checkSchemaMap(v, child); err != nil {
				return err
			}
		case "dependencies":
			deps, _ := v.(map[string]any)
			for name, dep := range deps {
				if _, isList := dep.([]any); isList {
					continue
				}
				if err := checkStrict(dep, child+"/"+name); err != nil {
					return err
				}
			}
		case "items":
			if list, isList := v.([]any); isList {
				if err := checkSchemaList(list, child); err != nil {
					return err
				}
				continue
			}
			if err := checkStrict(v, child); err != nil {
				return err
			}
		case "allOf", "anyOf", "oneOf":
			list, _ := v.([]any)
			if err := checkSchemaList(list, child); err != nil {
				return err
			}
		case "additionalItems", "additionalProperties", "contains", "propertyNames",
			"not", "if", "then", "else":
			if err := checkStrict(v, child); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkSchemaMap(v any, path string) error {
	m, _ := v.(map[string]any)
	for name, sub := range m {
		if err := checkStrict(sub, path+"/"+name); err != nil {
			return err
		}
	}
	return nil
}

func checkSchemaList(list []any, path string) error {
	for i, sub := range list {
		if err := checkStrict(sub, fmt.Sprintf("%s/%d", path, i)); err != nil {
			return err
		}
	}
	return nil
}

func pointer(path string) string {
	if path == "" {
		return "#"
	}
	return "#" + path
}
