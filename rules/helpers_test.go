package rules

import (
	"encoding/json"
	"testing"

	"github.com/liamcoop/automate/actions"
	"github.com/liamcoop/automate/internal/logger"
)

func init() { logger.Discard() }

func hook() actions.List {
	return actions.List{&actions.Webhook{URL: "https://hooks.example.com/rule"}}
}

func cond(t *testing.T, src string) any {
	t.Helper()
	var v any
	if err := json.Unmarshal([]byte(src), &v); err != nil {
		t.Fatalf("bad condition %s: %v", src, err)
	}
	return v
}

func strPtr(s string) *string { return &s }
