// Package template declares action templates: the named specifications of
// required/optional parameters behind each intent, with typed parameter
// kinds (string, enum, number). Entities coming from the classifier are
// validated and coerced against the declared set; unknown keys are rejected
// instead of passed through.
package template

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hupe1980/dialogmesh/core"
)

// ParamKind is the declared type of an action parameter.
type ParamKind string

const (
	// ParamString accepts any non-empty string.
	ParamString ParamKind = "string"
	// ParamEnum accepts one of the declared Enum values.
	ParamEnum ParamKind = "enum"
	// ParamNumber accepts a numeric value.
	ParamNumber ParamKind = "number"
)

// ParamSpec declares one parameter of an action template. Declaration order
// matters: the first still-missing required parameter is the one prompted
// for.
type ParamSpec struct {
	Name string
	Kind ParamKind
	// Required parameters block dispatch until filled.
	Required bool
	// ContextFillable parameters may be satisfied from TurnContext defaults
	// (e.g. the last referenced product). Parameters not marked fillable are
	// never guessed.
	ContextFillable bool
	// Prompt is the follow-up question asked when the parameter is missing.
	Prompt string
	// Enum lists the accepted values for ParamEnum parameters.
	Enum []string
}

// Template is a named action specification plus its dispatch properties.
type Template struct {
	Name   string
	Params []ParamSpec
	// Mutating actions require an idempotency-capable collaborator.
	Mutating bool
}

// Spec returns the declared spec for a parameter name.
func (t *Template) Spec(name string) (ParamSpec, bool) {
	for _, p := range t.Params {
		if p.Name == name {
			return p, true
		}
	}
	return ParamSpec{}, false
}

// RequiredNames returns the required parameter names in declaration order.
func (t *Template) RequiredNames() []string {
	var names []string
	for _, p := range t.Params {
		if p.Required {
			names = append(names, p.Name)
		}
	}
	return names
}

// Coerce validates raw classifier entities against the declared parameter
// set and converts them into typed values. Unknown keys and type mismatches
// yield a *core.ValidationError; the caller recovers by re-prompting.
func (t *Template) Coerce(entities map[string]string) (map[string]core.Value, error) {
	params := make(map[string]core.Value, len(entities))
	for name, raw := range entities {
		spec, ok := t.Spec(name)
		if !ok {
			return nil, &core.ValidationError{
				Field:   name,
				Value:   raw,
				Message: fmt.Sprintf("unknown parameter for action '%s'", t.Name),
			}
		}
		val, err := spec.coerce(raw)
		if err != nil {
			return nil, err
		}
		params[name] = val
	}
	return params, nil
}

func (p ParamSpec) coerce(raw string) (core.Value, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return core.Value{}, &core.ValidationError{Field: p.Name, Value: raw, Message: "empty value"}
	}

	switch p.Kind {
	case ParamNumber:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return core.Value{}, &core.ValidationError{
				Field:   p.Name,
				Value:   raw,
				Message: "expected a number",
			}
		}
		return core.NumberValue(f), nil
	case ParamEnum:
		for _, allowed := range p.Enum {
			if strings.EqualFold(raw, allowed) {
				return core.StringValue(allowed), nil
			}
		}
		return core.Value{}, &core.ValidationError{
			Field:   p.Name,
			Value:   raw,
			Message: fmt.Sprintf("expected one of %s", strings.Join(p.Enum, ", ")),
		}
	default:
		return core.StringValue(raw), nil
	}
}

// Validate checks the template declaration itself. Registration fails on an
// invalid template rather than failing turns later.
func (t *Template) Validate() error {
	if t.Name == "" {
		return &core.ConfigurationError{Component: "template", Message: "template name must not be empty"}
	}
	seen := map[string]bool{}
	for _, p := range t.Params {
		if p.Name == "" {
			return &core.ConfigurationError{
				Component: "template",
				Message:   fmt.Sprintf("action '%s' declares an unnamed parameter", t.Name),
			}
		}
		if seen[p.Name] {
			return &core.ConfigurationError{
				Component: "template",
				Message:   fmt.Sprintf("action '%s' declares parameter '%s' twice", t.Name, p.Name),
			}
		}
		seen[p.Name] = true
		switch p.Kind {
		case ParamString, ParamNumber:
		case ParamEnum:
			if len(p.Enum) == 0 {
				return &core.ConfigurationError{
					Component: "template",
					Message:   fmt.Sprintf("enum parameter '%s.%s' declares no values", t.Name, p.Name),
				}
			}
		default:
			return &core.ConfigurationError{
				Component: "template",
				Message:   fmt.Sprintf("parameter '%s.%s' has unknown kind '%s'", t.Name, p.Name, p.Kind),
			}
		}
	}
	return nil
}
