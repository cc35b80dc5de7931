// Package dotpath resolves plain dot-separated paths such as "order.items.0.sku"
// against JSON documents. Every segment names a key or an array index
// literally; gjson wildcards, queries and modifiers are never interpreted.
package dotpath

import (
	"strings"

	"github.com/tidwall/gjson"
)

// Escape converts a dot path into a gjson path that matches each segment
// literally.
func Escape(path string) string {
	segments := strings.Split(path, ".")
	for i, seg := range segments {
		segments[i] = gjson.Escape(seg)
	}
	return strings.Join(segments, ".")
}

// Get looks path up in doc. A path that does not exist yields a result whose
// Exists reports false.
func Get(doc gjson.Result, path string) gjson.Result {
	return doc.Get(Escape(path))
}

// GetBytes is Get over raw JSON.
func GetBytes(raw []byte, path string) gjson.Result {
	return gjson.GetBytes(raw, Escape(path))
}
