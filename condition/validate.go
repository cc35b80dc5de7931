package condition

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
)

// Expression is a condition tree as decoded from JSON: maps, slices and
// scalars. Nested objects whose single key is not an operator are data.
type Expression = any

// nodeID identifies a container node by its backing storage.
type nodeID struct {
	kind reflect.Kind
	ptr  uintptr
	len  int
}

func identity(x any) (nodeID, bool) {
	rv := reflect.ValueOf(x)
	switch rv.Kind() {
	case reflect.Map:
		return nodeID{kind: reflect.Map, ptr: rv.Pointer()}, true
	case reflect.Slice:
		if rv.Len() == 0 {
			return nodeID{}, false
		}
		return nodeID{kind: reflect.Slice, ptr: rv.Pointer(), len: rv.Len()}, true
	}
	return nodeID{}, false
}

// Validate checks that expr is a well formed, acyclic tree and that every
// recognized operator is applied to arguments it accepts.
func Validate(expr Expression) error {
	w := &walker{path: make(map[nodeID]struct{})}
	return w.expr(expr, "$")
}

type walker struct {
	path map[nodeID]struct{}
}

func (w *walker) enter(x any, at string) (func(), error) {
	id, ok := identity(x)
	if !ok {
		return func() {}, nil
	}
	if _, seen := w.path[id]; seen {
		return nil, &StructuralError{Path: at, Err: ErrCyclicReference}
	}
	w.path[id] = struct{}{}
	return func() { delete(w.path, id) }, nil
}

func (w *walker) expr(x any, at string) error {
	switch n := x.(type) {
	case []any:
		leave, err := w.enter(n, at)
		if err != nil {
			return err
		}
		defer leave()
		for i, el := range n {
			if err := w.expr(el, at+"/"+strconv.Itoa(i)); err != nil {
				return err
			}
		}
		return nil
	case map[string]any:
		leave, err := w.enter(n, at)
		if err != nil {
			return err
		}
		defer leave()
		op, args, isOp, err := operatorOf(n)
		if err != nil {
			return &StructuralError{Path: at, Err: err, Detail: fmt.Sprintf("operator %q mixed with other keys", op)}
		}
		if !isOp {
			for k, v := range n {
				if err := w.data(v, at+"/"+k); err != nil {
					return err
				}
			}
			return nil
		}
		if err := checkArguments(op, args, at); err != nil {
			return err
		}
		// An explicit argument list is a node of its own.
		if list, ok := n[op].([]any); ok {
			leave, err := w.enter(list, at+"/"+op)
			if err != nil {
				return err
			}
			defer leave()
		}
		for i, arg := range args {
			if err := w.expr(arg, fmt.Sprintf("%s/%s/%d", at, op, i)); err != nil {
				return err
			}
		}
		return nil
	default:
		if !isScalar(x) {
			return &StructuralError{Path: at, Err: ErrNotAnObject, Detail: fmt.Sprintf("unsupported value of type %T", x)}
		}
		return nil
	}
}

// data walks literal data: no operators, but the same shape and cycle rules.
func (w *walker) data(x any, at string) error {
	switch n := x.(type) {
	case []any:
		leave, err := w.enter(n, at)
		if err != nil {
			return err
		}
		defer leave()
		for i, el := range n {
			if err := w.data(el, at+"/"+strconv.Itoa(i)); err != nil {
				return err
			}
		}
	case map[string]any:
		leave, err := w.enter(n, at)
		if err != nil {
			return err
		}
		defer leave()
		for k, v := range n {
			if err := w.data(v, at+"/"+k); err != nil {
				return err
			}
		}
	default:
		if !isScalar(x) {
			return &StructuralError{Path: at, Err: ErrNotAnObject, Detail: fmt.Sprintf("unsupported value of type %T", x)}
		}
	}
	return nil
}

func isScalar(x any) bool {
	switch x.(type) {
	case nil, bool, string, json.Number,
		float64, float32,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return true
	}
	return false
}

func checkArguments(op string, args []any, at string) error {
	a := operators[op]
	switch {
	case len(args) < a.min && a.min == a.max:
		return &InvalidArgumentsError{Operator: op, Path: at, Reason: fmt.Sprintf("expected exactly %d argument(s), got %d", a.min, len(args))}
	case len(args) < a.min:
		return &InvalidArgumentsError{Operator: op, Path: at, Reason: fmt.Sprintf("expected at least %d argument(s), got %d", a.min, len(args))}
	case a.max >= 0 && len(args) > a.max:
		if a.min == a.max {
			return &InvalidArgumentsError{Operator: op, Path: at, Reason: fmt.Sprintf("expected exactly %d argument(s), got %d", a.max, len(args))}
		}
		return &InvalidArgumentsError{Operator: op, Path: at, Reason: fmt.Sprintf("expected at most %d argument(s), got %d", a.max, len(args))}
	}

	if op == "var" {
		if _, ok := args[0].(string); !ok {
			return &InvalidArgumentsError{Operator: op, Path: at, Reason: fmt.Sprintf("path must be a string, got %T", args[0])}
		}
	}
	return nil
}
