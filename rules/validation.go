package rules

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	maxIdentifierLength = 100
	maxRulesPerPack     = 1000
)

var (
	identifierPattern = regexp.MustCompile(`^[a-zA-Z0-9_][a-zA-Z0-9_.:-]*$`)

	allowedMethods = map[string]bool{
		http.MethodGet:     true,
		http.MethodPost:    true,
		http.MethodPut:     true,
		http.MethodPatch:   true,
		http.MethodDelete:  true,
		http.MethodHead:    true,
		http.MethodOptions: true,
	}

	validate = newValidator()
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("identifier", func(fl validator.FieldLevel) bool {
		return validateIdentifier(fl.Field().String()) == nil
	}); err != nil {
		panic(fmt.Sprintf("register identifier validation: %v", err))
	}
	return v
}

// ValidateRule checks a rule definition before it is stored.
func ValidateRule(r *Rule) error {
	if r == nil {
		return errors.New("rule cannot be nil")
	}
	if err := validateStruct(r); err != nil {
		return fmt.Errorf("invalid rule %q: %w", r.ID, err)
	}
	return nil
}

// ValidatePack checks a pack definition before it is stored.
func ValidatePack(p *Pack) error {
	if p == nil {
		return errors.New("pack cannot be nil")
	}
	if err := validateStruct(p); err != nil {
		return fmt.Errorf("invalid pack %q: %w", p.ID, err)
	}
	if len(p.Rules) > maxRulesPerPack {
		return fmt.Errorf("invalid pack %q: contains %d rules, maximum allowed is %d", p.ID, len(p.Rules), maxRulesPerPack)
	}

	seen := make(map[string]bool, len(p.Rules))
	for i, link := range p.Rules {
		if seen[link.ID] {
			return fmt.Errorf("invalid pack %q: rule %q referenced twice (position %d)", p.ID, link.ID, i+1)
		}
		seen[link.ID] = true
	}
	return nil
}

// ValidateTarget checks a target definition before it is stored.
func ValidateTarget(t *Target) error {
	if t == nil {
		return errors.New("target cannot be nil")
	}
	if err := validateStruct(t); err != nil {
		return fmt.Errorf("invalid target %q: %w", t.ID, err)
	}
	if t.Method != "" && !allowedMethods[strings.ToUpper(t.Method)] {
		return fmt.Errorf("invalid target %q: unsupported method %q", t.ID, t.Method)
	}
	return nil
}

// ValidateInput checks a run request (ExecuteRunInput or ExecuteSingleRuleInput).
func ValidateInput(in any) error {
	return validateStruct(in)
}

func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed %q (%s)", fe.Namespace(), fe.Tag(), fe.Param()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return errors.New(strings.Join(msgs, "; "))
}

// validateIdentifier checks ids of rules, packs and targets: 1-100 characters,
// starting with a letter, digit or underscore.
func validateIdentifier(name string) error {
	if len(name) == 0 {
		return errors.New("identifier cannot be empty")
	}
	if len(name) > maxIdentifierLength {
		return fmt.Errorf("identifier length %d exceeds maximum of %d characters", len(name), maxIdentifierLength)
	}
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("identifier %q must match %s", name, identifierPattern.String())
	}
	return nil
}
