package conversation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/joeycumines/behavioral/internal/behavior"
	"github.com/joeycumines/behavioral/internal/blackboard"
)

// Operator compares a blackboard value against an expected value.
type Operator string

const (
	Equal        Operator = "eq"
	NotEqual     Operator = "ne"
	Less         Operator = "lt"
	LessEqual    Operator = "le"
	Greater      Operator = "gt"
	GreaterEqual Operator = "ge"
	// Truthy ignores the expected value, and holds for values other than
	// nil, false, zero numbers, and empty strings, slices and maps.
	Truthy Operator = "truthy"
)

var operatorAliases = map[string]Operator{
	"==": Equal, "!=": NotEqual,
	"<": Less, "<=": LessEqual,
	">": Greater, ">=": GreaterEqual,
}

// ParseOperator accepts an operator name, or its symbol (e.g. ">=").
func ParseOperator(s string) (Operator, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if op, ok := operatorAliases[s]; ok {
		return op, nil
	}
	switch op := Operator(s); op {
	case Equal, NotEqual, Less, LessEqual, Greater, GreaterEqual, Truthy:
		return op, nil
	case "":
		return Truthy, nil
	}
	return "", fmt.Errorf("unknown operator %q", s)
}

// Expression compares the blackboard variable Variable ("key" or
// "key.attribute.path") against Value.
type Expression struct {
	Variable string
	Operator Operator
	Value    any
}

func (e Expression) String() string {
	if e.Operator == Truthy || e.Operator == "" {
		return e.Variable
	}
	return fmt.Sprintf("%s %s %v", e.Variable, e.Operator, e.Value)
}

var errMissingKey = errors.New("key does not yet exist on the blackboard")

// lookupVariable resolves a dotted variable against the blackboard of n.
func lookupVariable(n behavior.Node, variable string) (any, error) {
	t := n.Tree()
	if t == nil {
		return nil, behavior.ErrNotAttached
	}
	key, path := blackboard.SplitVariable(variable)
	v, ok := t.Blackboard().Get(key, n.Namespace())
	if !ok {
		return nil, fmt.Errorf("%w: %q", errMissingKey, key)
	}
	return blackboard.Lookup(v, path)
}

// Evaluate applies the expression to value.
func (e Expression) Evaluate(value any) (bool, error) {
	return compare(e.Operator, value, e.Value)
}

func compare(op Operator, actual, expected any) (bool, error) {
	if op == Truthy || op == "" {
		return truthy(actual), nil
	}
	if a, ok := toFloat(actual); ok {
		if b, ok := toFloat(expected); ok {
			return ordered(op, cmpFloat(a, b))
		}
	}
	if a, ok := actual.(string); ok {
		if b, ok := expected.(string); ok {
			return ordered(op, strings.Compare(a, b))
		}
	}
	switch op {
	case Equal:
		return reflect.DeepEqual(actual, expected), nil
	case NotEqual:
		return !reflect.DeepEqual(actual, expected), nil
	}
	return false, fmt.Errorf("cannot order %T and %T", actual, expected)
}

func ordered(op Operator, c int) (bool, error) {
	switch op {
	case Equal:
		return c == 0, nil
	case NotEqual:
		return c != 0, nil
	case Less:
		return c < 0, nil
	case LessEqual:
		return c <= 0, nil
	case Greater:
		return c > 0, nil
	case GreaterEqual:
		return c >= 0, nil
	}
	return false, fmt.Errorf("unknown operator %q", op)
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func toFloat(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

func truthy(v any) bool {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Invalid:
		return false
	case reflect.Bool:
		return rv.Bool()
	case reflect.String, reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() > 0
	case reflect.Pointer, reflect.Interface:
		return !rv.IsNil()
	}
	if f, ok := toFloat(v); ok {
		return f != 0
	}
	return true
}
