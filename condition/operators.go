package condition

import "sort"

// arity bounds the number of arguments an operator accepts. max < 0 means
// unbounded.
type arity struct {
	min, max int
}

// operators is the closed operator set. A single-key object whose key is not
// listed here is literal data, never an operation.
var operators = map[string]arity{
	"==":  {2, 2},
	"===": {2, 2},
	"!=":  {2, 2},
	"!==": {2, 2},
	">":   {2, 2},
	">=":  {2, 2},
	"<":   {2, 2},
	"<=":  {2, 2},

	"and": {2, -1},
	"or":  {2, -1},
	"!":   {1, 1},
	"not": {1, 1},
	"!!":  {1, 1},

	"in":  {2, 2},
	"cat": {0, -1},

	"+": {1, -1},
	"-": {1, 2},
	"*": {1, -1},
	"/": {2, 2},
	"%": {2, 2},

	"var": {1, 1},

	"all":  {2, 2},
	"some": {2, 2},
	"none": {2, 2},
}

// IsOperator reports whether key names an operator.
func IsOperator(key string) bool {
	_, ok := operators[key]
	return ok
}

// Operators returns the operator set, sorted.
func Operators() []string {
	ops := make([]string, 0, len(operators))
	for op := range operators {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

// operatorOf classifies an object node. ok is false for literal data.
func operatorOf(m map[string]any) (op string, args []any, ok bool, err error) {
	if len(m) == 1 {
		for k, v := range m {
			if !IsOperator(k) {
				return "", nil, false, nil
			}
			return k, argsOf(v), true, nil
		}
	}
	for k := range m {
		if IsOperator(k) {
			return k, nil, false, ErrUnknownOperator
		}
	}
	return "", nil, false, nil
}

// argsOf treats a non-array operand as a one-element argument list.
func argsOf(v any) []any {
	if list, ok := v.([]any); ok {
		return list
	}
	return []any{v}
}
