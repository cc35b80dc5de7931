package condition

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/liamcoop/automate/internal/dotpath"
)

// scope is the data a var lookup resolves against: the input record at the
// top level, or one sequence element inside all/some/none.
type scope struct {
	doc gjson.Result
}

func newScope(data any) (scope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return scope{}, fmt.Errorf("encode record: %w", err)
	}
	return scope{doc: gjson.ParseBytes(raw)}, nil
}

// lookup resolves a dot path. Segments are keys or array indices, never
// gjson query syntax. A missing path yields nil; "" is the whole scope.
func (s scope) lookup(path string) any {
	if path == "" {
		return s.doc.Value()
	}
	r := dotpath.Get(s.doc, path)
	if !r.Exists() {
		return nil
	}
	return r.Value()
}
