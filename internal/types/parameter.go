package types

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

type ValueType string

const (
	ValueTypeBool   ValueType = "bool"
	ValueTypeInt    ValueType = "int"
	ValueTypeFloat  ValueType = "float"
	ValueTypeString ValueType = "str"
)

// ParseValueType maps the odin metadata "type" field onto a supported value type.
func ParseValueType(name string) (ValueType, error) {
	switch ValueType(name) {
	case ValueTypeBool, ValueTypeInt, ValueTypeFloat, ValueTypeString:
		return ValueType(name), nil
	default:
		return "", fmt.Errorf("unsupported parameter type: %q", name)
	}
}

// Coerce converts a decoded JSON value into the Go representation of the
// value type: bool, int64, float64 or string.
func (t ValueType) Coerce(value any) (any, error) {
	switch t {
	case ValueTypeBool:
		if v, ok := value.(bool); ok {
			return v, nil
		}
	case ValueTypeInt:
		switch v := value.(type) {
		case json.Number:
			if i, err := v.Int64(); err == nil {
				return i, nil
			}
			if f, err := v.Float64(); err == nil && f == math.Trunc(f) {
				return int64(f), nil
			}
		case float64:
			if v == math.Trunc(v) {
				return int64(v), nil
			}
		case int:
			return int64(v), nil
		case int64:
			return v, nil
		}
	case ValueTypeFloat:
		switch v := value.(type) {
		case json.Number:
			if f, err := v.Float64(); err == nil {
				return f, nil
			}
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		}
	case ValueTypeString:
		if v, ok := value.(string); ok {
			return v, nil
		}
	}
	return nil, fmt.Errorf("cannot use %v (%T) as %s", value, value, t)
}

// Zero returns the initial cached value of an attribute of this type.
func (t ValueType) Zero() any {
	switch t {
	case ValueTypeBool:
		return false
	case ValueTypeInt:
		return int64(0)
	case ValueTypeFloat:
		return float64(0)
	default:
		return ""
	}
}

// TypeNameOf returns the odin type name of a bare JSON scalar. Values
// that are not scalars get a descriptive name that ParseValueType rejects.
func TypeNameOf(value any) string {
	switch v := value.(type) {
	case bool:
		return string(ValueTypeBool)
	case string:
		return string(ValueTypeString)
	case json.Number:
		if strings.ContainsAny(v.String(), ".eE") {
			return string(ValueTypeFloat)
		}
		return string(ValueTypeInt)
	case float64:
		return string(ValueTypeFloat)
	case int, int64:
		return string(ValueTypeInt)
	case nil:
		return "null"
	case []any:
		return "list"
	case map[string]any:
		return "dict"
	default:
		return fmt.Sprintf("%T", value)
	}
}

type AccessType string

const (
	AccessTypeReadOnly  AccessType = "read_only"
	AccessTypeReadWrite AccessType = "read_write"
)

type Mode string

const (
	ModeNone   Mode = ""
	ModeStatus Mode = "status"
	ModeConfig Mode = "config"
)

// Choice is one entry of an enumerated parameter.
type Choice struct {
	Code  int    `json:"code" yaml:"code"`
	Label string `json:"label" yaml:"label"`
}

// AllowedValues is the enumeration of a parameter, ordered by code.
type AllowedValues []Choice

// ParseAllowedValues accepts either a mapping of integer code to label or
// a list of labels, where the list index is the code.
func ParseAllowedValues(raw any) (AllowedValues, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case []any:
		choices := make(AllowedValues, 0, len(v))
		for i, label := range v {
			choices = append(choices, Choice{Code: i, Label: fmt.Sprint(label)})
		}
		return choices, nil
	case map[string]any:
		choices := make(AllowedValues, 0, len(v))
		for key, label := range v {
			code, err := strconv.Atoi(key)
			if err != nil {
				return nil, fmt.Errorf("allowed_values key %q is not an integer code", key)
			}
			choices = append(choices, Choice{Code: code, Label: fmt.Sprint(label)})
		}
		sort.Slice(choices, func(i, j int) bool { return choices[i].Code < choices[j].Code })
		return choices, nil
	default:
		return nil, fmt.Errorf("unsupported allowed_values shape: %T", raw)
	}
}

// Metadata is the annotated form of one odin parameter.
type Metadata struct {
	Type          string        `json:"type"`
	Writeable     bool          `json:"writeable"`
	Value         any           `json:"value"`
	AllowedValues AllowedValues `json:"allowed_values,omitempty"`
}

// ParameterDescriptor is one leaf parameter found by walking an adapter tree.
type ParameterDescriptor struct {
	URI          []string
	Mode         Mode
	Subsystem    string
	Subsubsystem string
	Metadata     Metadata
}

// Key is the last path segment.
func (d ParameterDescriptor) Key() string {
	if len(d.URI) == 0 {
		return ""
	}
	return d.URI[len(d.URI)-1]
}

func (d ParameterDescriptor) Path() string {
	return strings.Join(d.URI, "/")
}

// Qualifier is the segment used to widen a colliding name.
func (d ParameterDescriptor) Qualifier() string {
	if d.Subsubsystem != "" {
		return d.Subsubsystem
	}
	return d.Subsystem
}

type DisambiguatedParameter struct {
	ParameterDescriptor
	Name         string
	HasUniqueKey bool
}
