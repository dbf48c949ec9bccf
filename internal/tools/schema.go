package tools

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"

	"github.com/mattjoyce/rendergw/internal/toolerr"
)

// Property types accepted in a tool's input schema.
const (
	TypeString  = "string"
	TypeInteger = "integer"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeObject  = "object"
)

// maxSafeInteger bounds integer arguments to the range float64 holds exactly.
const maxSafeInteger = 1 << 53

// Property describes one argument.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// InputSchema is the JSON-schema subset tools declare.
type InputSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// Tool is a named operation as advertised to clients.
type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"inputSchema"`
}

func schema(required []string, props map[string]Property) InputSchema {
	return InputSchema{Type: "object", Properties: props, Required: required}
}

// Validate checks that required arguments are present and that declared
// properties carry the declared primitive type. Undeclared arguments pass.
func (s InputSchema) Validate(args map[string]any) error {
	for _, name := range s.Required {
		if v, ok := args[name]; !ok || v == nil {
			return toolerr.Validation(name, "required", fmt.Sprintf("missing required argument %q", name))
		}
	}

	names := make([]string, 0, len(args))
	for name := range args {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		prop, declared := s.Properties[name]
		v := args[name]
		if !declared || v == nil {
			continue
		}
		if !matchesType(prop.Type, v) {
			return toolerr.Validation(name, "type:"+prop.Type,
				fmt.Sprintf("argument %q must be of type %s, got %s", name, prop.Type, describeType(v)))
		}
	}
	return nil
}

func matchesType(want string, v any) bool {
	switch want {
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeInteger:
		f, ok := toFloat(v)
		return ok && f == math.Trunc(f) && math.Abs(f) <= maxSafeInteger
	case TypeNumber:
		_, ok := toFloat(v)
		return ok
	case TypeBoolean:
		_, ok := v.(bool)
		return ok
	case TypeObject:
		_, ok := v.(map[string]any)
		return ok
	default:
		return true
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n)
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func describeType(v any) string {
	switch v.(type) {
	case string:
		return TypeString
	case bool:
		return TypeBoolean
	case map[string]any:
		return TypeObject
	case []any:
		return "array"
	default:
		if _, ok := toFloat(v); ok {
			return TypeNumber
		}
		return fmt.Sprintf("%T", v)
	}
}

// Args is a validated argument bag.
type Args map[string]any

func (a Args) String(key string) string {
	s, _ := a[key].(string)
	return s
}

func (a Args) Float(key string) (float64, bool) {
	v, ok := a[key]
	if !ok || v == nil {
		return 0, false
	}
	return toFloat(v)
}

func (a Args) Int(key string) (int64, bool) {
	f, ok := a.Float(key)
	return int64(f), ok
}

func (a Args) Bool(key string) bool {
	b, _ := a[key].(bool)
	return b
}

func (a Args) Object(key string) map[string]any {
	m, _ := a[key].(map[string]any)
	return m
}
