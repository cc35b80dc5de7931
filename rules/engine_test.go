package rules

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

func newTestEngine(t *testing.T) (*Engine, *InMemoryRuleStore) {
	t.Helper()
	store := NewInMemoryRuleStore()
	engine, err := NewEngine(context.Background(), store)
	if err != nil {
		t.Fatalf("NewEngine() failed: %v", err)
	}
	return engine, store
}

func TestNewEngineCompilesExistingCELRules(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryRuleStore()

	rules := []*Rule{
		{ID: "rule-1", Name: "Adults", Dialect: DialectCEL, Condition: `data.user.age >= 18`, Actions: hook(), Active: true},
		{ID: "rule-2", Name: "Big orders", Condition: cond(t, `{">":[{"var":"amount"},1000]}`), Actions: hook(), Active: true},
		{ID: "rule-3", Name: "Broken but inactive", Dialect: DialectCEL, Condition: `data.user.age >=`, Actions: hook(), Active: false},
	}
	for _, rule := range rules {
		if err := store.Add(ctx, rule); err != nil {
			t.Fatalf("Failed to add rule: %v", err)
		}
	}

	engine, err := NewEngine(ctx, store)
	if err != nil {
		t.Fatalf("NewEngine() failed: %v", err)
	}

	engine.mu.RLock()
	_, compiled := engine.programs["rule-1"]
	_, inactiveCompiled := engine.programs["rule-3"]
	engine.mu.RUnlock()
	if !compiled {
		t.Error("active CEL rule should be compiled on construction")
	}
	if inactiveCompiled {
		t.Error("inactive rule should not be compiled")
	}
}

func TestNewEngineFailsOnBrokenActiveCELRule(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryRuleStore()
	_ = store.Add(ctx, &Rule{ID: "bad", Name: "Bad", Dialect: DialectCEL, Condition: `data.x >=`, Active: true})

	if _, err := NewEngine(ctx, store); err == nil {
		t.Fatal("NewEngine() should fail when an active rule does not compile")
	}
}

func TestCompileRuleError(t *testing.T) {
	engine, _ := newTestEngine(t)

	testCases := []struct {
		name       string
		expression string
	}{
		{"Syntax error", `data.age >=`},
		{"Invalid operator", `data.age === 18`},
		{"Undefined variable", `User.Age > 0`},
		{"Mismatched parens", `(data.age >= 18`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if err := engine.CompileRule("test-"+tc.name, tc.expression); err == nil {
				t.Errorf("CompileRule(%q) should return error", tc.expression)
			}
		})
	}
}

func TestEvaluateRuleJSONLogic(t *testing.T) {
	engine, _ := newTestEngine(t)
	rule := &Rule{ID: "r", Name: "Big orders", Condition: cond(t, `{">":[{"var":"amount"},1000]}`)}

	testCases := []struct {
		data map[string]any
		want bool
	}{
		{map[string]any{"amount": 1500}, true},
		{map[string]any{"amount": 500}, false},
		{map[string]any{}, false},
	}
	for _, tc := range testCases {
		res := engine.EvaluateRule(rule, tc.data)
		if res.Error != nil {
			t.Fatalf("EvaluateRule(%v) failed: %v", tc.data, res.Error)
		}
		if res.Matched != tc.want {
			t.Errorf("EvaluateRule(%v) = %v, want %v", tc.data, res.Matched, tc.want)
		}
		if res.RuleID != "r" || res.RuleName != "Big orders" {
			t.Errorf("result should identify the rule, got %+v", res)
		}
	}
}

func TestEvaluateRuleCEL(t *testing.T) {
	engine, _ := newTestEngine(t)
	rule := &Rule{ID: "cel-1", Name: "Adults", Dialect: DialectCEL, Condition: `data.user.age >= 18 && data.user.country == "CA"`}

	res := engine.EvaluateRule(rule, map[string]any{"user": map[string]any{"age": 20, "country": "CA"}})
	if res.Error != nil || !res.Matched {
		t.Errorf("expected match, got %+v", res)
	}

	res = engine.EvaluateRule(rule, map[string]any{"user": map[string]any{"age": 12, "country": "CA"}})
	if res.Error != nil || res.Matched {
		t.Errorf("expected no match, got %+v", res)
	}

	// A missing key is a CEL runtime error, reported rather than matched.
	res = engine.EvaluateRule(rule, map[string]any{})
	if res.Error == nil || res.Matched {
		t.Errorf("expected failure, got %+v", res)
	}
}

func TestEvaluateRuleNonBooleanCEL(t *testing.T) {
	engine, _ := newTestEngine(t)
	rule := &Rule{ID: "str", Name: "String", Dialect: DialectCEL, Condition: `"hello"`}

	res := engine.EvaluateRule(rule, nil)
	if res.Error != nil {
		t.Fatalf("unexpected error: %v", res.Error)
	}
	if res.Matched {
		t.Error("non-boolean CEL result should not match")
	}
}

func TestEvaluateManyIsolatesFailures(t *testing.T) {
	engine, _ := newTestEngine(t)

	rules := []*Rule{
		{ID: "a", Name: "A", Condition: cond(t, `{"==":[{"var":"kind"},"order"]}`)},
		{ID: "b", Name: "B", Condition: cond(t, `{">":[1]}`)},
		{ID: "c", Name: "C", Condition: cond(t, `{">":[{"+":["x",1]},0]}`)},
		{ID: "d", Name: "D", Condition: cond(t, `{"!":[{"var":"missing"}]}`)},
		{ID: "e", Name: "E", Dialect: DialectCEL, Condition: `data.kind == "order"`},
	}

	results := engine.EvaluateMany(rules, map[string]any{"kind": "order"})
	if len(results) != len(rules) {
		t.Fatalf("expected %d results, got %d", len(rules), len(results))
	}

	want := []struct {
		matched bool
		failed  bool
	}{{true, false}, {false, true}, {false, true}, {true, false}, {true, false}}

	for i, r := range results {
		if r.RuleID != rules[i].ID {
			t.Errorf("result %d is for %s, want %s", i, r.RuleID, rules[i].ID)
		}
		if r.Matched != want[i].matched || r.Failed() != want[i].failed {
			t.Errorf("rule %s: matched=%v failed=%v, want matched=%v failed=%v",
				r.RuleID, r.Matched, r.Failed(), want[i].matched, want[i].failed)
		}
	}
}

func TestEvaluateByID(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t)

	rule := &Rule{Name: "Vip", Condition: cond(t, `{"in":["vip",{"var":"tags"}]}`), Actions: hook(), Active: true}
	if err := engine.AddRule(ctx, rule); err != nil {
		t.Fatalf("AddRule() failed: %v", err)
	}
	if rule.ID == "" {
		t.Fatal("AddRule() should assign an ID")
	}

	res, err := engine.Evaluate(ctx, rule.ID, map[string]any{"tags": []any{"vip"}})
	if err != nil {
		t.Fatalf("Evaluate() failed: %v", err)
	}
	if !res.Matched {
		t.Error("expected match")
	}

	if _, err := engine.Evaluate(ctx, "nope", nil); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("expected ErrRuleNotFound, got %v", err)
	}
}

func TestEvaluateAllUsesCache(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t)

	for i, active := range []bool{true, true, false} {
		r := &Rule{ID: fmt.Sprintf("r%d", i), Name: fmt.Sprintf("Rule %d", i), Condition: true, Actions: hook(), Active: active}
		if err := engine.AddRule(ctx, r); err != nil {
			t.Fatalf("AddRule() failed: %v", err)
		}
	}

	results, err := engine.EvaluateAll(ctx, nil)
	if err != nil {
		t.Fatalf("EvaluateAll() failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 active results, got %d", len(results))
	}
	if !engine.cache.IsValid(ctx) {
		t.Error("EvaluateAll() should populate the cache")
	}

	// Writes behind the engine's back are not seen until invalidation.
	_ = store.Delete(ctx, "r0")
	results, _ = engine.EvaluateAll(ctx, nil)
	if len(results) != 2 {
		t.Errorf("expected cached 2 results, got %d", len(results))
	}

	if err := engine.DeleteRule(ctx, "r1"); err != nil {
		t.Fatalf("DeleteRule() failed: %v", err)
	}
	results, _ = engine.EvaluateAll(ctx, nil)
	if len(results) != 0 {
		t.Errorf("expected 0 results after invalidation, got %d", len(results))
	}
}

func TestEngineAddRuleValidation(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t)

	testCases := []struct {
		name string
		rule *Rule
	}{
		{"malformed condition", &Rule{Name: "x", Condition: cond(t, `{"and":[true]}`), Actions: hook()}},
		{"bad cel", &Rule{Name: "x", Dialect: DialectCEL, Condition: `data.a >`, Actions: hook()}},
		{"bad schedule", &Rule{Name: "x", Condition: true, Actions: hook(), Schedule: strPtr("every day")}},
		{"no actions", &Rule{Name: "x", Condition: true}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := engine.AddRule(ctx, tc.rule)
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
		})
	}

	all, _ := store.List(ctx)
	if len(all) != 0 {
		t.Errorf("invalid rules must not be stored, found %d", len(all))
	}
}

func TestEngineUpdateRuleSwitchesDialect(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t)

	rule := &Rule{ID: "r", Name: "Flip", Dialect: DialectCEL, Condition: `data.n > 1`, Actions: hook(), Active: true}
	if err := engine.AddRule(ctx, rule); err != nil {
		t.Fatalf("AddRule() failed: %v", err)
	}

	updated := &Rule{ID: "r", Name: "Flip", Condition: cond(t, `{"<":[{"var":"n"},1]}`), Actions: hook(), Active: true}
	if err := engine.UpdateRule(ctx, updated); err != nil {
		t.Fatalf("UpdateRule() failed: %v", err)
	}

	engine.mu.RLock()
	_, stale := engine.programs["r"]
	engine.mu.RUnlock()
	if stale {
		t.Error("compiled CEL program should be dropped after switching dialect")
	}

	res, err := engine.Evaluate(ctx, "r", map[string]any{"n": 0})
	if err != nil || !res.Matched {
		t.Errorf("expected updated condition to match, got %+v, %v", res, err)
	}
}

func TestEngineDeleteNonExistent(t *testing.T) {
	engine, _ := newTestEngine(t)
	if err := engine.DeleteRule(context.Background(), "missing"); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("expected ErrRuleNotFound, got %v", err)
	}
}

func TestEngineConcurrentReadWrite(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			r := &Rule{ID: fmt.Sprintf("c%d", i), Name: fmt.Sprintf("C%d", i), Dialect: DialectCEL, Condition: `data.n > 0`, Actions: hook(), Active: true}
			if err := engine.AddRule(ctx, r); err != nil {
				t.Errorf("AddRule() failed: %v", err)
			}
		}(i)
		go func() {
			defer wg.Done()
			if _, err := engine.EvaluateAll(ctx, map[string]any{"n": 1}); err != nil {
				t.Errorf("EvaluateAll() failed: %v", err)
			}
		}()
	}
	wg.Wait()

	results, err := engine.EvaluateAll(ctx, map[string]any{"n": 1})
	if err != nil {
		t.Fatalf("EvaluateAll() failed: %v", err)
	}
	if len(results) != 20 {
		t.Errorf("expected 20 results, got %d", len(results))
	}
	for _, r := range results {
		if !r.Matched {
			t.Errorf("rule %s should match: %v", r.RuleID, r.Error)
		}
	}
}
