package catalog

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
)

// ParamType selects the widget and coercion used for a parameter
type ParamType string

const (
	ParamInt    ParamType = "int"
	ParamFloat  ParamType = "float"
	ParamString ParamType = "string"
	ParamBool   ParamType = "bool"
	ParamEnum   ParamType = "enum"
)

// ParamSpec describes one model input
type ParamSpec struct {
	Name    string    `json:"name"`
	Label   string    `json:"label"`
	Type    ParamType `json:"type"`
	Default any       `json:"default,omitempty"`
	Min     *float64  `json:"min,omitempty"`
	Max     *float64  `json:"max,omitempty"`
	Options []string  `json:"options,omitempty"`
	Help    string    `json:"help,omitempty"`
}

// Resolve validates raw user input against the model's parameter specs.
// Missing values take the parameter default, values arriving as strings (form posts,
// CLI flags) are coerced to the declared type and unknown keys are dropped.
func (m Model) Resolve(raw map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(m.Params))
	for _, spec := range m.Params {
		value, present := raw[spec.Name]
		if !present || isBlank(value) {
			if spec.Default != nil {
				out[spec.Name] = spec.Default
			}
			continue
		}

		coerced, err := spec.coerce(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidParam, spec.Name, err)
		}
		if err := spec.check(coerced); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidParam, spec.Name, err)
		}
		out[spec.Name] = coerced
	}
	return out, nil
}

func isBlank(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

func (p ParamSpec) coerce(v any) (any, error) {
	switch p.Type {
	case ParamInt:
		f, err := toFloat(v)
		if err != nil {
			return nil, err
		}
		if f != math.Trunc(f) {
			return nil, fmt.Errorf("%v is not a whole number", v)
		}
		return int(f), nil
	case ParamFloat:
		return toFloat(v)
	case ParamBool:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			switch strings.ToLower(strings.TrimSpace(b)) {
			case "true", "on", "yes", "1":
				return true, nil
			case "false", "off", "no", "0":
				return false, nil
			}
		}
		return nil, fmt.Errorf("%v is not a boolean", v)
	case ParamString, ParamEnum:
		switch s := v.(type) {
		case string:
			return strings.TrimSpace(s), nil
		case float64:
			return strconv.FormatFloat(s, 'f', -1, 64), nil
		case int:
			return strconv.Itoa(s), nil
		}
		return nil, fmt.Errorf("%v is not a string", v)
	}
	return nil, fmt.Errorf("unsupported parameter type %q", p.Type)
}

func (p ParamSpec) check(v any) error {
	if len(p.Options) > 0 && !slices.Contains(p.Options, fmt.Sprint(v)) {
		return fmt.Errorf("%v is not one of %s", v, strings.Join(p.Options, ", "))
	}
	var f float64
	switch n := v.(type) {
	case int:
		f = float64(n)
	case float64:
		f = n
	default:
		return nil
	}
	if p.Min != nil && f < *p.Min {
		return fmt.Errorf("%v is below minimum %v", v, *p.Min)
	}
	if p.Max != nil && f > *p.Max {
		return fmt.Errorf("%v is above maximum %v", v, *p.Max)
	}
	return nil
}

// toFloat coerces a JSON or form value to a finite float
func toFloat(v any) (float64, error) {
	f, err := parseFloat(v)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%v is not a finite number", v)
	}
	return f, nil
}

func parseFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", n)
		}
		return f, nil
	}
	return 0, fmt.Errorf("%v is not a number", v)
}
