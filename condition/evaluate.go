package condition

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

var (
	errNotNumeric    = errors.New("operand is not numeric")
	errDivideByZero  = errors.New("division by zero")
	errNotComparable = errors.New("operands are not comparable")
	errNotSequence   = errors.New("operand is not a sequence")
)

// Outcome is the result of evaluating a condition. Err is set when the
// condition could not be evaluated; Matched is then always false.
type Outcome struct {
	Matched bool
	Err     error
}

// Failed reports whether the evaluation failed rather than evaluated false.
func (o Outcome) Failed() bool { return o.Err != nil }

// Evaluate reports whether expr holds for input. Any failure, structural or
// at runtime, yields false.
func Evaluate(expr Expression, input map[string]any) bool {
	return EvaluateDetailed(expr, input).Matched
}

// EvaluateDetailed is Evaluate with the failure kept.
func EvaluateDetailed(expr Expression, input map[string]any) Outcome {
	v, err := Apply(expr, input)
	if err != nil {
		return Outcome{Err: err}
	}
	return Outcome{Matched: truthy(v)}
}

// Apply validates expr and returns the raw value it evaluates to.
func Apply(expr Expression, data any) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, fmt.Errorf("evaluation panicked: %v", r)
		}
	}()

	if err := Validate(expr); err != nil {
		return nil, err
	}
	sc, err := newScope(data)
	if err != nil {
		return nil, err
	}
	return eval(expr, sc)
}

func eval(x any, sc scope) (any, error) {
	switch n := x.(type) {
	case []any:
		out := make([]any, len(n))
		for i, el := range n {
			v, err := eval(el, sc)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case map[string]any:
		op, args, isOp, err := operatorOf(n)
		if err != nil {
			return nil, err
		}
		if !isOp {
			return n, nil
		}
		return apply(op, args, sc)
	default:
		return normalize(x), nil
	}
}

func apply(op string, args []any, sc scope) (any, error) {
	switch op {
	case "var":
		return sc.lookup(args[0].(string)), nil

	case "and":
		var v any
		for _, a := range args {
			var err error
			if v, err = eval(a, sc); err != nil {
				return nil, err
			}
			if !truthy(v) {
				return v, nil
			}
		}
		return v, nil

	case "or":
		var v any
		for _, a := range args {
			var err error
			if v, err = eval(a, sc); err != nil {
				return nil, err
			}
			if truthy(v) {
				return v, nil
			}
		}
		return v, nil

	case "!", "not", "!!":
		v, err := eval(args[0], sc)
		if err != nil {
			return nil, err
		}
		if op == "!!" {
			return truthy(v), nil
		}
		return !truthy(v), nil

	case "all", "some", "none":
		return quantify(op, args, sc)
	}

	vals := make([]any, len(args))
	for i, a := range args {
		v, err := eval(a, sc)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}

	switch op {
	case "==":
		return looseEqual(vals[0], vals[1]), nil
	case "!=":
		return !looseEqual(vals[0], vals[1]), nil
	case "===":
		return strictEqual(vals[0], vals[1]), nil
	case "!==":
		return !strictEqual(vals[0], vals[1]), nil
	case ">", ">=", "<", "<=":
		ok, err := order(op, vals[0], vals[1])
		if err != nil {
			return nil, &EvaluationError{Operator: op, Err: err}
		}
		return ok, nil
	case "in":
		ok, err := contains(vals[0], vals[1])
		if err != nil {
			return nil, &EvaluationError{Operator: op, Err: err}
		}
		return ok, nil
	case "cat":
		var b strings.Builder
		for _, v := range vals {
			b.WriteString(toString(v))
		}
		return b.String(), nil
	default:
		f, err := arithmetic(op, vals)
		if err != nil {
			return nil, &EvaluationError{Operator: op, Err: err}
		}
		return f, nil
	}
}

func quantify(op string, args []any, sc scope) (any, error) {
	seq, err := eval(args[0], sc)
	if err != nil {
		return nil, err
	}
	var items []any
	switch s := seq.(type) {
	case nil:
	case []any:
		items = s
	default:
		return nil, &EvaluationError{Operator: op, Err: errNotSequence}
	}
	if len(items) == 0 {
		return op == "none", nil
	}

	for _, item := range items {
		inner, err := newScope(item)
		if err != nil {
			return nil, &EvaluationError{Operator: op, Err: err}
		}
		v, err := eval(args[1], inner)
		if err != nil {
			return nil, err
		}
		hit := truthy(v)
		switch {
		case op == "all" && !hit:
			return false, nil
		case op == "some" && hit:
			return true, nil
		case op == "none" && hit:
			return false, nil
		}
	}
	return op != "some", nil
}

func arithmetic(op string, vals []any) (float64, error) {
	nums := make([]float64, len(vals))
	for i, v := range vals {
		f, err := toNumber(v)
		if err != nil {
			return 0, err
		}
		nums[i] = f
	}

	switch op {
	case "+":
		var sum float64
		for _, f := range nums {
			sum += f
		}
		return sum, nil
	case "*":
		product := 1.0
		for _, f := range nums {
			product *= f
		}
		return product, nil
	case "-":
		if len(nums) == 1 {
			return -nums[0], nil
		}
		return nums[0] - nums[1], nil
	case "/":
		if nums[1] == 0 {
			return 0, errDivideByZero
		}
		return nums[0] / nums[1], nil
	case "%":
		if nums[1] == 0 {
			return 0, errDivideByZero
		}
		return math.Mod(nums[0], nums[1]), nil
	}
	return 0, fmt.Errorf("%w: %s", ErrUnknownOperator, op)
}

// order applies an ordering comparison. A nil operand never satisfies it.
func order(op string, a, b any) (bool, error) {
	if a == nil || b == nil {
		return false, nil
	}
	var c int
	as, aStr := a.(string)
	bs, bStr := b.(string)
	if aStr && bStr {
		c = strings.Compare(as, bs)
	} else {
		af, err := toNumber(a)
		if err != nil {
			return false, errNotComparable
		}
		bf, err := toNumber(b)
		if err != nil {
			return false, errNotComparable
		}
		switch {
		case af < bf:
			c = -1
		case af > bf:
			c = 1
		}
	}

	switch op {
	case ">":
		return c > 0, nil
	case ">=":
		return c >= 0, nil
	case "<":
		return c < 0, nil
	default:
		return c <= 0, nil
	}
}

func contains(needle, haystack any) (bool, error) {
	switch h := haystack.(type) {
	case nil:
		return false, nil
	case string:
		switch needle.(type) {
		case string, float64:
			return strings.Contains(h, toString(needle)), nil
		case nil:
			return false, nil
		}
		return false, errNotComparable
	case []any:
		for _, el := range h {
			if strictEqual(needle, el) {
				return true, nil
			}
		}
		return false, nil
	}
	return false, errNotSequence
}

// looseEqual compares across scalar kinds: numeric strings equal numbers and
// booleans equal 1 and 0. nil equals only nil.
func looseEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			return av == bv
		}
	case bool:
		if bv, ok := b.(bool); ok {
			return av == bv
		}
	case []any, map[string]any:
		return reflect.DeepEqual(a, b)
	}
	if _, ok := b.([]any); ok {
		return false
	}
	if _, ok := b.(map[string]any); ok {
		return false
	}
	af, err := toLooseNumber(a)
	if err != nil {
		return false
	}
	bf, err := toLooseNumber(b)
	if err != nil {
		return false
	}
	return af == bf
}

func strictEqual(a, b any) bool {
	a, b = normalize(a), normalize(b)
	if reflect.TypeOf(a) != reflect.TypeOf(b) {
		return false
	}
	return reflect.DeepEqual(a, b)
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0 && !math.IsNaN(t)
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	}
	return true
}

// normalize turns every numeric kind into float64, the only number type
// evaluation works with.
func normalize(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int8:
		return float64(n)
	case int16:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case uint:
		return float64(n)
	case uint8:
		return float64(n)
	case uint16:
		return float64(n)
	case uint32:
		return float64(n)
	case uint64:
		return float64(n)
	case float32:
		return float64(n)
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return f
		}
		return n.String()
	}
	return v
}

func toNumber(v any) (float64, error) {
	switch n := normalize(v).(type) {
	case float64:
		return n, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", errNotNumeric, n)
		}
		return f, nil
	}
	return 0, fmt.Errorf("%w: %T", errNotNumeric, v)
}

func toLooseNumber(v any) (float64, error) {
	if b, ok := v.(bool); ok {
		if b {
			return 1, nil
		}
		return 0, nil
	}
	return toNumber(v)
}

func toString(v any) string {
	switch t := normalize(v).(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case []any:
		parts := make([]string, len(t))
		for i, el := range t {
			parts[i] = toString(el)
		}
		return strings.Join(parts, ",")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
