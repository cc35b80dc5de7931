package condition

import (
	"sort"
	"strings"
)

// ExtractVariables returns every path read by a var node in expr, sorted and
// without duplicates. Paths inside all/some/none predicates are relative to
// the sequence element and are reported as written.
func ExtractVariables(expr Expression) []string {
	set := make(map[string]struct{})
	collect(expr, set, make(map[nodeID]struct{}))

	vars := make([]string, 0, len(set))
	for v := range set {
		vars = append(vars, v)
	}
	sort.Strings(vars)
	return vars
}

func collect(x any, set map[string]struct{}, path map[nodeID]struct{}) {
	if id, ok := identity(x); ok {
		if _, seen := path[id]; seen {
			return
		}
		path[id] = struct{}{}
		defer delete(path, id)
	}

	switch n := x.(type) {
	case []any:
		for _, el := range n {
			collect(el, set, path)
		}
	case map[string]any:
		op, args, isOp, err := operatorOf(n)
		if err != nil || !isOp {
			return
		}
		if op == "var" && len(args) > 0 {
			if p, ok := args[0].(string); ok && p != "" {
				set[p] = struct{}{}
			}
		}
		for _, a := range args {
			collect(a, set, path)
		}
	}
}

// Fixture builds a minimal input record with a nil leaf for every variable
// expr reads, for seeding test requests.
func Fixture(expr Expression) map[string]any {
	root := make(map[string]any)
	for _, v := range ExtractVariables(expr) {
		node := root
		parts := strings.Split(v, ".")
		for i, part := range parts {
			if i == len(parts)-1 {
				if _, exists := node[part]; !exists {
					node[part] = nil
				}
				break
			}
			next, ok := node[part].(map[string]any)
			if !ok {
				next = make(map[string]any)
				node[part] = next
			}
			node = next
		}
	}
	return root
}
