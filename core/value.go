package core

import (
	"encoding/json"
	"strconv"
)

// ValueKind tags the concrete type carried by a Value.
type ValueKind int

const (
	// ValueString is a plain or enum-constrained string parameter value.
	ValueString ValueKind = iota
	// ValueNumber is a numeric parameter value.
	ValueNumber
)

// Value is a typed action parameter value. Entities arrive from the
// classifier as raw strings and are coerced into Values against the action
// template's declared parameter kinds; untyped pass-through of classifier
// output is deliberately not supported.
type Value struct {
	Kind ValueKind
	Str  string
	Num  float64
}

// StringValue wraps a string as a typed parameter value.
func StringValue(s string) Value { return Value{Kind: ValueString, Str: s} }

// NumberValue wraps a float64 as a typed parameter value.
func NumberValue(f float64) Value { return Value{Kind: ValueNumber, Num: f} }

// String renders the value for prompts, logs and wire payloads.
func (v Value) String() string {
	if v.Kind == ValueNumber {
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	}
	return v.Str
}

// Any returns the underlying Go value for template rendering and JSON payloads.
func (v Value) Any() any {
	if v.Kind == ValueNumber {
		return v.Num
	}
	return v.Str
}

// MarshalJSON encodes the underlying value without the kind tag.
func (v Value) MarshalJSON() ([]byte, error) { return json.Marshal(v.Any()) }

// UnmarshalJSON restores a Value from its untagged JSON form.
func (v *Value) UnmarshalJSON(data []byte) error {
	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		*v = NumberValue(num)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*v = StringValue(s)
	return nil
}

// ParamsAny converts a typed parameter map into a plain map for template
// rendering and collaborator payloads.
func ParamsAny(params map[string]Value) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v.Any()
	}
	return out
}
